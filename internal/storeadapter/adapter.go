// Package storeadapter implements the uniform query/execute/batch/
// transaction API over a relational store. Two logical adapters always
// exist at runtime: one for the CORE partition and one per PII partition,
// selected by the PII Partition Router (internal/pii).
//
// Grounded on dexidp/dex storage/sql/sql.go: the flavor/translate indirection
// that lets one query string run against Postgres or SQLite, and
// storage/sql/crud.go's querier/scanner abstraction over *sql.Row vs
// *sql.Rows. The Postgres flavor is backed by github.com/lib/pq; the
// embedded/dev flavor by github.com/mattn/go-sqlite3.
package storeadapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"

	"github.com/nullstack-id/authd/pkg/log"
)

// Flavor distinguishes SQL dialects the Adapter can target. Only the
// parameter placeholder syntax and a handful of type translations differ
// between them, exactly as in dex's storage/sql package.
type Flavor int

const (
	FlavorPostgres Flavor = iota
	FlavorSQLite
)

var bindRegexp = regexp.MustCompile(`\$\d+`)

func translate(flavor Flavor, query string) string {
	if flavor != FlavorSQLite {
		return query
	}
	return bindRegexp.ReplaceAllString(query, "?")
}

// Result mirrors database/sql.Result as a plain struct so callers outside
// this package never import database/sql directly.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// Health reports the outcome of a liveness probe against the adapter.
type Health struct {
	Healthy   bool
	LatencyMS int64
}

// Adapter is a single logical connection (CORE or one PII partition).
type Adapter struct {
	name   string
	db     *sql.DB
	flavor Flavor
	logger log.Logger
}

// Open wraps an already-configured *sql.DB. name identifies the logical
// partition ("core", "tenant-acme", ...) for logging and health reporting.
func Open(name string, db *sql.DB, flavor Flavor, logger log.Logger) *Adapter {
	return &Adapter{name: name, db: db, flavor: flavor, logger: log.OrNop(logger)}
}

// Name returns the logical partition name this adapter serves.
func (a *Adapter) Name() string { return a.name }

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrStorageTimeout
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "serialization_failure", "unique_violation":
			return ErrStorageConflict
		}
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

// QueryAll runs query and scans every returned row with scan, implementing
// the generic query<T>(sql, params) -> []T contract.
func QueryAll[T any](ctx context.Context, a *Adapter, query string, args []any, scan func(*sql.Rows) (T, error)) ([]T, error) {
	rows, err := a.db.QueryContext(ctx, translate(a.flavor, query), args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// QueryOne runs query and scans at most one row, implementing
// queryOne<T>(sql, params) -> T?. It returns (zero, false, nil) when no row
// matched.
func QueryOne[T any](ctx context.Context, a *Adapter, query string, args []any, scan func(*sql.Row) (T, error)) (T, bool, error) {
	var zero T
	row := a.db.QueryRowContext(ctx, translate(a.flavor, query), args...)
	v, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, classify(err)
	}
	return v, true, nil
}

// Execute runs a single statement and reports rows affected / last insert
// id, implementing execute(sql, params) -> {rowsAffected, lastInsertId}.
func (a *Adapter) Execute(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := a.db.ExecContext(ctx, translate(a.flavor, query), args...)
	if err != nil {
		return Result{}, classify(err)
	}
	var r Result
	r.RowsAffected, _ = res.RowsAffected()
	r.LastInsertID, _ = res.LastInsertId()
	return r, nil
}

// Statement is one unit of a Batch call.
type Statement struct {
	Query string
	Args  []any
}

// Batch executes every statement inside one transaction, all-or-nothing, as
// so multi-statement writes land or fail together.
func (a *Adapter) Batch(ctx context.Context, stmts []Statement) ([]Result, error) {
	return Transaction(ctx, a, func(tx *sql.Tx) ([]Result, error) {
		results := make([]Result, len(stmts))
		for i, st := range stmts {
			res, err := tx.ExecContext(ctx, translate(a.flavor, st.Query), st.Args...)
			if err != nil {
				return nil, err
			}
			results[i].RowsAffected, _ = res.RowsAffected()
			results[i].LastInsertID, _ = res.LastInsertId()
		}
		return results, nil
	})
}

// Transaction serializes fn's statements within a single logical unit,
// retrying on Postgres serialization failures the way dex's
// flavorPostgres.executeTx does, and aborting on first non-retryable
// failure.
func Transaction[T any](ctx context.Context, a *Adapter, fn func(*sql.Tx) (T, error)) (T, error) {
	var zero T
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	for {
		tx, err := a.db.BeginTx(ctx, opts)
		if err != nil {
			return zero, classify(err)
		}

		v, err := fn(tx)
		if err != nil {
			tx.Rollback()
			var pqErr *pq.Error
			if a.flavor == FlavorPostgres && errors.As(err, &pqErr) && pqErr.Code.Name() == "serialization_failure" {
				continue
			}
			return zero, classify(err)
		}

		if err := tx.Commit(); err != nil {
			var pqErr *pq.Error
			if a.flavor == FlavorPostgres && errors.As(err, &pqErr) && pqErr.Code.Name() == "serialization_failure" {
				continue
			}
			return zero, classify(err)
		}
		return v, nil
	}
}

// Health pings the database and reports round-trip latency, feeding the
// AppsFlyer/go-sundheit check registered for this adapter in
// internal/storeadapter/health.go.
func (a *Adapter) Health(ctx context.Context) Health {
	start := time.Now()
	err := a.db.PingContext(ctx)
	latency := time.Since(start)
	if err != nil {
		a.logger.Errorf("storage adapter %s unhealthy: %v", a.name, err)
		return Health{Healthy: false, LatencyMS: latency.Milliseconds()}
	}
	return Health{Healthy: true, LatencyMS: latency.Milliseconds()}
}
