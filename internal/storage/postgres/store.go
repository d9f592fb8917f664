// Package postgres implements the storage contract on PostgreSQL with
// PostGIS. All metric predicates (buffers, distances, areas) run on a
// geography cast in the database; Go never does geodesic arithmetic.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/digcoord/digcoord/internal/storage"
)

// undefinedTable is the SQLSTATE raised when a relation does not exist.
// Used for the documented municipalities-table degradation.
const undefinedTable = "42P01"

// Store implements storage.Storage on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ storage.Storage = (*Store)(nil)

// Options tune the connection pool. Zero values keep pgx defaults.
type Options struct {
	MaxConns       int
	ConnectTimeout time.Duration
}

// Open connects to the database and verifies PostGIS is available.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	if opts.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	var version string
	if err := pool.QueryRow(ctx, "SELECT postgis_lib_version()").Scan(&version); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: postgis extension missing: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool (used by tests and cmd wiring).
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so query
// methods can serve both the store and its transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// storeTx implements storage.Transaction over one pgx transaction.
type storeTx struct {
	tx pgx.Tx
}

var _ storage.Transaction = (*storeTx)(nil)

// RunInTransaction executes fn inside a single transaction. Rollback on
// error or panic, commit otherwise.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(&storeTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	committed = true
	return nil
}

// mapNotFound converts pgx.ErrNoRows into the storage sentinel.
func mapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// isUndefinedTable reports whether err is a missing-relation error.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}
