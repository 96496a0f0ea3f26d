package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/flamerun/flame/internal/store/dialect"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS applications (
	name TEXT PRIMARY KEY,
	shim TEXT NOT NULL,
	image TEXT, url TEXT, command TEXT, arguments TEXT, environments TEXT,
	working_directory TEXT, description TEXT, labels TEXT, schema TEXT,
	max_instances INTEGER NOT NULL DEFAULT 0,
	delay_release_ms INTEGER NOT NULL DEFAULT 0,
	creation_time DATETIME NOT NULL,
	state TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	application TEXT NOT NULL REFERENCES applications(name),
	slots INTEGER NOT NULL DEFAULT 1,
	common_data BLOB,
	creation_time DATETIME NOT NULL,
	completion_time DATETIME,
	state TEXT NOT NULL,
	min_instances INTEGER NOT NULL DEFAULT 0,
	max_instances INTEGER,
	pending INTEGER NOT NULL DEFAULT 0,
	running INTEGER NOT NULL DEFAULT 0,
	succeed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS tasks (
	ssn_id TEXT NOT NULL REFERENCES sessions(id),
	id INTEGER NOT NULL,
	input BLOB, input_set INTEGER NOT NULL DEFAULT 0,
	output BLOB, output_set INTEGER NOT NULL DEFAULT 0,
	creation_time DATETIME NOT NULL,
	completion_time DATETIME,
	state TEXT NOT NULL,
	PRIMARY KEY (ssn_id, id)
);
CREATE TABLE IF NOT EXISTS events (
	owner TEXT NOT NULL, parent TEXT, code TEXT NOT NULL,
	message TEXT, creation_time DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_owner_code ON events(owner, code);
CREATE INDEX IF NOT EXISTS idx_events_owner_parent_code ON events(owner, parent, code);
CREATE TABLE IF NOT EXISTS session_seq (
	session_id TEXT PRIMARY KEY,
	next_id INTEGER NOT NULL DEFAULT 1
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS applications (
	name TEXT PRIMARY KEY,
	shim TEXT NOT NULL,
	image TEXT, url TEXT, command TEXT, arguments TEXT, environments TEXT,
	working_directory TEXT, description TEXT, labels TEXT, schema TEXT,
	max_instances INTEGER NOT NULL DEFAULT 0,
	delay_release_ms BIGINT NOT NULL DEFAULT 0,
	creation_time TIMESTAMPTZ NOT NULL,
	state TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	application TEXT NOT NULL REFERENCES applications(name),
	slots INTEGER NOT NULL DEFAULT 1,
	common_data BYTEA,
	creation_time TIMESTAMPTZ NOT NULL,
	completion_time TIMESTAMPTZ,
	state TEXT NOT NULL,
	min_instances INTEGER NOT NULL DEFAULT 0,
	max_instances INTEGER,
	pending INTEGER NOT NULL DEFAULT 0,
	running INTEGER NOT NULL DEFAULT 0,
	succeed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS tasks (
	ssn_id TEXT NOT NULL REFERENCES sessions(id),
	id BIGINT NOT NULL,
	input BYTEA, input_set BOOLEAN NOT NULL DEFAULT FALSE,
	output BYTEA, output_set BOOLEAN NOT NULL DEFAULT FALSE,
	creation_time TIMESTAMPTZ NOT NULL,
	completion_time TIMESTAMPTZ,
	state TEXT NOT NULL,
	PRIMARY KEY (ssn_id, id)
);
CREATE TABLE IF NOT EXISTS events (
	owner TEXT NOT NULL, parent TEXT, code TEXT NOT NULL,
	message TEXT, creation_time TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_owner_code ON events(owner, code);
CREATE INDEX IF NOT EXISTS idx_events_owner_parent_code ON events(owner, parent, code);
CREATE TABLE IF NOT EXISTS session_seq (
	session_id TEXT PRIMARY KEY,
	next_id BIGINT NOT NULL DEFAULT 1
);
`

// initSchema creates the control plane's tables if they do not already
// exist, selecting the dialect-specific DDL.
func initSchema(ctx context.Context, db *sqlx.DB, driver string) error {
	schema := sqliteSchema
	if dialect.IsPostgres(driver) {
		schema = postgresSchema
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}
