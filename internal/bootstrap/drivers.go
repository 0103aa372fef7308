package bootstrap

// database/sql drivers accepted by LEDGER_DRIVER.
import (
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/nakagami/firebirdsql"
)
