package storeadapter

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// OpenPostgres opens a Postgres connection pool for dsn, for use with
// Open(name, db, FlavorPostgres, logger). Mirrors dex's storage/sql.go,
// which imports lib/pq as its default flavor driver.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storeadapter: open postgres: %w", err)
	}
	return db, nil
}

// OpenSQLite opens a SQLite database at path, for use with
// Open(name, db, FlavorSQLite, logger). Grounded on dex's
// storage/sql/sqlite.go: a single open connection, since go-sqlite3 serializes
// writers at the file level and concurrent *sql.DB connections only add
// lock-contention errors on top of what SQLite already serializes internally.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("storeadapter: open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, for callers that need to distinguish it from other
// ErrStorageConflict causes (e.g. retrying an insert as an update).
func IsUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code.Name() == "unique_violation"
}
