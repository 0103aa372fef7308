// Package ledgertest provides a throwaway SQLite ledger with the production table layout.
package ledgertest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"ledgerbridge/internal/infrastructure/storage/ledger"
	"ledgerbridge/pkg/logger"
)

// AuditTable is the audit table created by Schema.
const AuditTable = "posting_audit"

// Schema is the SQLite rendition of the ledger tables the bridge touches.
var Schema = []string{
	`CREATE TABLE third_party (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		tax_id   TEXT NOT NULL UNIQUE,
		name     TEXT NOT NULL,
		email    TEXT NOT NULL DEFAULT '',
		id_type  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE material (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		code      TEXT NOT NULL UNIQUE,
		name      TEXT NOT NULL,
		tax_code  TEXT NOT NULL DEFAULT '',
		tax_rate  NUMERIC NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE invoice_header (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		document_type   TEXT NOT NULL,
		prefix          TEXT NOT NULL,
		number          INTEGER NOT NULL,
		natural_tag     TEXT NOT NULL,
		third_party_id  INTEGER NOT NULL REFERENCES third_party(id),
		issued_at       TIMESTAMP NOT NULL,
		tax_base        NUMERIC NOT NULL DEFAULT 0,
		vat             NUMERIC NOT NULL DEFAULT 0,
		consumption_tax NUMERIC NOT NULL DEFAULT 0,
		total           NUMERIC NOT NULL DEFAULT 0,
		accounting_date DATE,
		cost_center     TEXT,
		posted_at       TIMESTAMP,
		observation     TEXT,
		UNIQUE (document_type, prefix, number)
	)`,
	`CREATE INDEX idx_invoice_header_natural_tag ON invoice_header (natural_tag)`,
	`CREATE TABLE invoice_line (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		header_id   INTEGER NOT NULL REFERENCES invoice_header(id),
		line_no     INTEGER NOT NULL,
		material_id INTEGER NOT NULL REFERENCES material(id),
		quantity    NUMERIC NOT NULL,
		unit_price  NUMERIC NOT NULL,
		discount    NUMERIC NOT NULL DEFAULT 0,
		tax_code    TEXT NOT NULL DEFAULT '',
		tax_rate    NUMERIC NOT NULL DEFAULT 0,
		base        NUMERIC NOT NULL,
		tax_amount  NUMERIC NOT NULL
	)`,
	`CREATE TABLE invoice_payment (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		header_id   INTEGER NOT NULL REFERENCES invoice_header(id),
		method_code TEXT NOT NULL,
		amount      NUMERIC NOT NULL
	)`,
	`CREATE TABLE doc_counter (
		document_type TEXT NOT NULL,
		prefix        TEXT NOT NULL,
		last_number   INTEGER NOT NULL,
		PRIMARY KEY (document_type, prefix)
	)`,
	`CREATE TABLE posting_audit (
		id          TEXT PRIMARY KEY,
		natural_tag TEXT NOT NULL,
		header_id   INTEGER NOT NULL,
		payload     BLOB NOT NULL,
		compressed  BOOLEAN NOT NULL,
		created_at  TIMESTAMP NOT NULL
	)`,
}

// Config returns a supervisor config for a fresh database file under t.TempDir().
func Config(t testing.TB) ledger.Config {
	t.Helper()
	cfg := ledger.DefaultConfig()
	cfg.Driver = ledger.DriverSQLite
	cfg.Database = filepath.Join(t.TempDir(), "ledger.db")
	cfg.ProbeTimeout = time.Second
	cfg.StatementTimeout = 5 * time.Second
	return cfg
}

// New returns a connected supervisor over a fresh, migrated database.
// The supervisor is closed when the test ends.
func New(t testing.TB) *ledger.Supervisor {
	t.Helper()
	cfg := Config(t)
	Migrate(t, cfg)
	return NewWithConfig(t, cfg)
}

// NewWithConfig returns a connected supervisor over an already migrated database.
func NewWithConfig(t testing.TB, cfg ledger.Config) *ledger.Supervisor {
	t.Helper()
	sup := ledger.NewSupervisor(cfg, logger.NewNop())
	require.True(t, sup.EnsureConnected(context.Background()))
	t.Cleanup(func() { _ = sup.Close() })
	return sup
}

// Migrate creates the schema in cfg's database.
func Migrate(t testing.TB, cfg ledger.Config) {
	t.Helper()
	db := Open(t, cfg)
	for _, stmt := range Schema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
}

// Open returns a separate handle on cfg's database, for seeding and assertions.
func Open(t testing.TB, cfg ledger.Config) *sql.DB {
	t.Helper()
	db, err := sql.Open(cfg.Driver, cfg.ConnString())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// SetCounter stores last as the counter value for docType/prefix.
func SetCounter(t testing.TB, db *sql.DB, docType, prefix string, last int64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO doc_counter (document_type, prefix, last_number) VALUES (?, ?, ?)
		ON CONFLICT (document_type, prefix) DO UPDATE SET last_number = excluded.last_number`,
		docType, prefix, last)
	require.NoError(t, err)
}

// SeedHeader inserts a bare header with number, creating a placeholder customer if needed.
func SeedHeader(t testing.TB, db *sql.DB, docType, prefix string, number int64, naturalTag string) {
	t.Helper()
	_, err := db.Exec(`INSERT OR IGNORE INTO third_party (id, tax_id, name) VALUES (1, 'seed', 'seed')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO invoice_header (document_type, prefix, number, natural_tag, third_party_id, issued_at)
		VALUES (?, ?, ?, ?, 1, ?)`, docType, prefix, number, naturalTag, time.Now().UTC())
	require.NoError(t, err)
}

// Count returns SELECT COUNT(*) for the given table and optional WHERE clause.
func Count(t testing.TB, db *sql.DB, table, where string, args ...any) int {
	t.Helper()
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	require.NoError(t, db.QueryRow(query, args...).Scan(&n))
	return n
}
