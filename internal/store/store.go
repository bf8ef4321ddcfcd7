// Package store is the PostgreSQL-backed persistence layer: the only
// component permitted to hit the database directly. All writes are
// transactional; idempotent inserts use natural-key ON CONFLICT DO
// NOTHING; everything else propagates on constraint violation.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Store wraps a sqlx connection pool. All exported methods are safe
// for concurrent use; multi-statement writes run inside WithTx.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres via dsn and configures the pool.
func Open(dsn string, maxOpenConns, maxIdleConns int) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open sqlx.DB, used by tests against go-sqlmock.
func New(db *sqlx.DB) *Store { return &Store{db: db} }

// DB exposes the pool for read helpers that don't need a transaction
// (e.g. the idempotency check ahead of a write).
func (s *Store) DB() *sqlx.DB { return s.db }

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// DataIntegrityError marks an invariant breach rejected at the Store
// boundary: an Item without a ProcessedMessage, an Event without a
// fingerprint, a dismissal without a reason. Callers should treat this
// as a defect, not a retryable condition.
type DataIntegrityError struct {
	Invariant string
	Detail    string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("store: data integrity violation (%s): %s", e.Invariant, e.Detail)
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on any returned error or panic. InsertAuditLog calls
// made from inside fn via tx use the same transaction object, so audit
// order reflects commit order.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(tx)
	return err
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505) — the only locally recovered error class;
// an idempotent repeat on a natural key is treated as success.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return errContainsSQLState(err, "23505")
}

// errContainsSQLState reports whether err is a *pq.Error with the
// given SQLSTATE code.
func errContainsSQLState(err error, code pq.ErrorCode) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == code
	}
	return false
}

// execer is satisfied by both *sqlx.DB and *sqlx.Tx, letting read
// helpers run against either a live transaction or the pool directly.
type execer interface {
	sqlx.ExtContext
}

var _ execer = (*sqlx.Tx)(nil)
var _ execer = (*sqlx.DB)(nil)

// errNoRows re-exports sql.ErrNoRows so callers don't need to import
// database/sql just to check for a missing row.
var errNoRows = sql.ErrNoRows
