package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/flamerun/flame/internal/store/dialect"
)

// Store implements Repository against either SQLite or Postgres, sharing
// one set of driver-portable SQL built with internal/store/dialect
// fragments, grounded on the teacher's internal/db dual-driver pattern.
type Store struct {
	pool   *Pool
	driver string
}

var _ Repository = (*Store)(nil)

// OpenSQLiteStore opens (creating if necessary) a SQLite-backed Store at
// dbPath, with a single writer connection and a small reader pool (§4.B
// concurrency contract: reads never block behind the writer under WAL).
func OpenSQLiteStore(ctx context.Context, dbPath string) (*Store, error) {
	writer, err := OpenSQLite(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite writer: %w", err)
	}
	reader, err := OpenSQLiteReader(dbPath)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open sqlite reader: %w", err)
	}
	return newStore(ctx, writer, reader, dialect.SQLite3)
}

// OpenPostgresStore opens a Postgres-backed Store via pgx. Writer and
// reader share the same pool since pgx manages pooling internally.
func OpenPostgresStore(ctx context.Context, dsn string, maxConns, minConns int) (*Store, error) {
	db, err := OpenPostgres(dsn, maxConns, minConns)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newStore(ctx, db, db, dialect.PGX)
}

func newStore(ctx context.Context, writer, reader *sql.DB, driver string) (*Store, error) {
	driverName := "sqlite3"
	if dialect.IsPostgres(driver) {
		driverName = "pgx"
	}
	w := sqlx.NewDb(writer, driverName)
	var r *sqlx.DB
	if reader == writer {
		r = w
	} else {
		r = sqlx.NewDb(reader, driverName)
	}

	if err := initSchema(ctx, w, driver); err != nil {
		_ = w.Close()
		if r != w {
			_ = r.Close()
		}
		return nil, err
	}

	return &Store{pool: NewPool(w, r), driver: driver}, nil
}

func (s *Store) Close() error { return s.pool.Close() }

// Ping verifies the underlying database connection(s) are reachable.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// rebind adapts a "?"-placeholder query to the active driver's bind syntax.
func (s *Store) rebind(query string) string {
	return s.pool.Writer().Rebind(query)
}
