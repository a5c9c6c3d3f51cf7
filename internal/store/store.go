// Package store provides the data access layer. All queries are plain SQL
// executed through pgx/v5. Methods live on Queries so the same code runs
// against the pool or inside a transaction (the worker claims a job, runs its
// side effects and records the outcome in a single transaction).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a row does not exist or is not visible to the
// requesting user.
var ErrNotFound = errors.New("not found")

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx. Begin on a pgx.Tx opens a
// savepoint, which lets helpers nest their own unit of work inside a caller's
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Queries is the set of data access methods bound to one DBTX.
type Queries struct {
	db DBTX
}

// NewQueries binds the data access methods to db.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

// InTx runs fn inside a transaction (or a savepoint when q is already bound to
// a transaction). The transaction is committed if fn returns nil, rolled back
// otherwise.
func (q *Queries) InTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit
	if err := fn(q.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Store is the central data access object. The embedded Queries run against
// the pool; use Tx or Begin for multi-statement units of work.
type Store struct {
	*Queries
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Queries: NewQueries(pool),
		pool:    pool,
	}
}

// Pool returns the underlying pgxpool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Begin opens a transaction on the pool. The caller owns commit/rollback.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return tx, nil
}

// Tx runs fn inside a pool transaction, committing when fn returns nil.
func (s *Store) Tx(ctx context.Context, fn func(*Queries) error) error {
	return s.Queries.InTx(ctx, fn)
}
