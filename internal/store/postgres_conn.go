package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// connMaxLifetime bounds how long a pooled connection is reused before the
// driver recycles it. Flame's control plane is a long-running process, not
// a request-scoped handler, so recycling connections periodically guards
// against a Postgres instance silently rotating behind a load balancer or
// proxy outliving individual connections.
const connMaxLifetime = 30 * time.Minute

// OpenPostgres opens a PostgreSQL database connection using pgx, sized for
// the Persistence Engine's transaction-per-operation access pattern (§4.A):
// every Repository method opens its own short transaction rather than
// holding a connection across an RPC, so the pool only needs to cover
// concurrent in-flight requests, not concurrent sessions.
// If maxConns or minConns are 0, they default to 25 and 5 respectively.
func OpenPostgres(dsn string, maxConns, minConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 25
	}
	if minConns <= 0 {
		minConns = 5
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}
