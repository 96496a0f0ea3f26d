package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// isUniqueViolation reports whether err is a primary-key/unique constraint
// failure, across both the sqlite3 and pgx drivers, so callers can surface
// flerr.InvalidArgument instead of flerr.Storage on duplicate-id paths.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// Fallback for drivers/wrappers that don't preserve a typed error.
	return strings.Contains(strings.ToLower(err.Error()), "unique")
}
