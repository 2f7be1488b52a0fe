//go:build !nocgo

package store

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// openSQLite opens dsn with the cgo-backed mattn/go-sqlite3 driver, the
// default build. WAL mode and a busy timeout let the single writer (§5)
// coexist with concurrent readers.
func openSQLite(dsn string) (*sql.DB, error) {
	return sql.Open("sqlite3", dsn+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
}
