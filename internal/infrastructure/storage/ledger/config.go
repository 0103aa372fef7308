// Package ledger provides access to the external ERP ledger over database/sql.
// One Supervisor owns the single connection; every statement goes through it.
package ledger

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Supported database/sql driver names.
const (
	DriverFirebird = "firebirdsql"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite3"
)

// Config holds ledger connection parameters. Reconnects reuse them unchanged.
type Config struct {
	Driver   string
	DSN      string // overrides the individual fields when set
	Host     string
	Port     int
	Database string
	User     string
	Password string
	Charset  string

	ProbeTimeout     time.Duration
	StatementTimeout time.Duration
}

// DefaultConfig returns production defaults for a Firebird ledger.
func DefaultConfig() Config {
	return Config{
		Driver:           DriverFirebird,
		Port:             3050,
		User:             "SYSDBA",
		Charset:          "UTF8",
		ProbeTimeout:     3 * time.Second,
		StatementTimeout: 15 * time.Second,
	}
}

// ConnString builds the driver-specific data source name.
func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}

	switch c.Driver {
	case DriverSQLite:
		return c.Database + "?_busy_timeout=5000&_journal_mode=WAL"
	case DriverPgx:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.User, c.Password),
			Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			Path:   "/" + c.Database,
		}
		return u.String()
	default:
		// user:password@host:port/database?params
		q := url.Values{}
		if c.Charset != "" {
			q.Set("charset", c.Charset)
		}
		q.Set("column_name_to_lower", "true")
		return fmt.Sprintf("%s@%s/%s?%s",
			url.UserPassword(c.User, c.Password).String(),
			net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			c.Database,
			q.Encode(),
		)
	}
}

// Placeholder returns the bind-parameter style of the driver.
func (c Config) Placeholder() sq.PlaceholderFormat {
	if c.Driver == DriverPgx {
		return sq.Dollar
	}
	return sq.Question
}
