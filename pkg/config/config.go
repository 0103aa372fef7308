// Package config loads process configuration from the environment.
// A .env file in the working directory is read first when present.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

// Config is the full process configuration.
type Config struct {
	App        AppConfig
	Ledger     LedgerConfig
	Posting    PostingConfig
	Enrichment EnrichmentConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Poller     PollerConfig
}

// Load reads .env (if any) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field rules envconfig cannot express.
func (c *Config) Validate() error {
	switch c.Ledger.Driver {
	case "firebirdsql", "pgx", "sqlite3":
	default:
		return fmt.Errorf("unsupported LEDGER_DRIVER %q", c.Ledger.Driver)
	}
	if c.Ledger.Driver != "sqlite3" && c.Ledger.DSN == "" && c.Ledger.Host == "" {
		return errors.New("LEDGER_HOST or LEDGER_DSN is required")
	}
	if c.Posting.MinimalValue.IsNegative() {
		return errors.New("POSTING_MINIMAL_VALUE must not be negative")
	}
	if c.Poller.Enabled && c.Redis.URL == "" {
		return errors.New("POLLER_ENABLED requires REDIS_URL")
	}
	return nil
}

type AppConfig struct {
	Env      string `envconfig:"APP_ENV" default:"development"`
	Port     string `envconfig:"APP_PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

// LedgerConfig holds the connection parameters of the ERP ledger.
type LedgerConfig struct {
	Driver   string `envconfig:"LEDGER_DRIVER" default:"firebirdsql"`
	DSN      string `envconfig:"LEDGER_DSN"`
	Host     string `envconfig:"LEDGER_HOST"`
	Port     int    `envconfig:"LEDGER_PORT" default:"3050"`
	Database string `envconfig:"LEDGER_DATABASE"`
	User     string `envconfig:"LEDGER_USER" default:"SYSDBA"`
	Password string `envconfig:"LEDGER_PASSWORD"`
	Charset  string `envconfig:"LEDGER_CHARSET" default:"UTF8"`

	ProbeTimeout     time.Duration `envconfig:"LEDGER_PROBE_TIMEOUT" default:"3s"`
	StatementTimeout time.Duration `envconfig:"LEDGER_STATEMENT_TIMEOUT" default:"15s"`

	// RecalcStatement calls the ledger's own totals routine; "?" is the header id.
	RecalcStatement string `envconfig:"LEDGER_RECALC_STATEMENT"`
}

// PostingConfig holds business rules of the posting engine.
type PostingConfig struct {
	DocumentType string `envconfig:"POSTING_DOCUMENT_TYPE" default:"FV"`
	// PrefixMap maps POS prefixes to ledger prefixes, e.g. "POS1:FV,POS2:FE".
	PrefixMap map[string]string `envconfig:"POSTING_PREFIX_MAP"`

	MaxAllocationAttempts int           `envconfig:"POSTING_MAX_ALLOCATION_ATTEMPTS" default:"3"`
	BreakerThreshold      int           `envconfig:"POSTING_BREAKER_THRESHOLD" default:"1"`
	MetadataDelay         time.Duration `envconfig:"POSTING_METADATA_DELAY" default:"150ms"`

	CostCenter    string `envconfig:"POSTING_COST_CENTER"`
	DefaultEmail  string `envconfig:"POSTING_DEFAULT_EMAIL"`
	GenericTaxID  string `envconfig:"POSTING_GENERIC_TAX_ID" default:"222222222222"`
	GenericName   string `envconfig:"POSTING_GENERIC_NAME" default:"CONSUMIDOR FINAL"`
	TipCode       string `envconfig:"POSTING_TIP_CODE" default:"PROPINA"`
	TipName       string `envconfig:"POSTING_TIP_NAME" default:"Propina"`
	CashMethod    string `envconfig:"POSTING_CASH_METHOD" default:"EF"`
	ConsumptionTx string `envconfig:"POSTING_CONSUMPTION_TAX_CODE" default:"INC"`

	ReverseEnabled bool            `envconfig:"POSTING_REVERSE_ENABLED" default:"false"`
	ReverseForce   bool            `envconfig:"POSTING_REVERSE_FORCE" default:"false"`
	MinimalValue   decimal.Decimal `envconfig:"POSTING_MINIMAL_VALUE" default:"0"`
	ReverseRule    string          `envconfig:"POSTING_REVERSE_RULE"`

	AuditTable string `envconfig:"POSTING_AUDIT_TABLE"`
}

type EnrichmentConfig struct {
	URL     string        `envconfig:"ENRICHMENT_URL"`
	Token   string        `envconfig:"ENRICHMENT_TOKEN"`
	Timeout time.Duration `envconfig:"ENRICHMENT_TIMEOUT" default:"5s"`
}

type RedisConfig struct {
	URL            string        `envconfig:"REDIS_URL"`
	QueueKey       string        `envconfig:"REDIS_QUEUE_KEY" default:"ledgerbridge:invoices"`
	IdentityLocks  bool          `envconfig:"REDIS_IDENTITY_LOCKS" default:"false"`
	LockTTL        time.Duration `envconfig:"REDIS_LOCK_TTL" default:"2m"`
	LockWait       time.Duration `envconfig:"REDIS_LOCK_WAIT" default:"0s"`
	LockKeyPrefix  string        `envconfig:"REDIS_LOCK_PREFIX" default:"ledgerbridge:lock:"`
	DialTimeout    time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	OperationLimit time.Duration `envconfig:"REDIS_OPERATION_TIMEOUT" default:"3s"`
}

type AuthConfig struct {
	JWTSecret            string        `envconfig:"JWT_SECRET" default:"change-me"`
	Issuer               string        `envconfig:"JWT_ISSUER" default:"ledgerbridge"`
	TokenTTL             time.Duration `envconfig:"JWT_TTL" default:"30m"`
	OperatorUser         string        `envconfig:"OPERATOR_USER" default:"operator"`
	OperatorPasswordHash string        `envconfig:"OPERATOR_PASSWORD_HASH"`
}

type PollerConfig struct {
	Enabled   bool          `envconfig:"POLLER_ENABLED" default:"false"`
	Interval  time.Duration `envconfig:"POLLER_INTERVAL" default:"30s"`
	BatchSize int           `envconfig:"POLLER_BATCH_SIZE" default:"20"`
}

