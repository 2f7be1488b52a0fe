//go:build nocgo

package store

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// openSQLite opens dsn with the pure-Go modernc.org/sqlite driver, selected
// by building with -tags nocgo for targets without a cgo toolchain (e.g.
// cross-compiled or statically linked binaries).
func openSQLite(dsn string) (*sql.DB, error) {
	return sql.Open("sqlite", dsn+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
}
