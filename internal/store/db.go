package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// Migrate applies the idempotent schema.
func (d *DB) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		id              BIGSERIAL PRIMARY KEY,
		public_id       TEXT UNIQUE NOT NULL,
		name            TEXT NOT NULL,
		email           TEXT UNIQUE NOT NULL,
		credential_hash TEXT NOT NULL,
		role            TEXT NOT NULL,
		face_vector     JSONB,
		active          BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS reset_tokens (
		id          BIGSERIAL PRIMARY KEY,
		identity_id BIGINT NOT NULL REFERENCES identities(id),
		value       TEXT UNIQUE NOT NULL,
		expires_at  TIMESTAMPTZ NOT NULL,
		used        BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attendance_events (
		id          TEXT PRIMARY KEY,
		identity_id BIGINT NOT NULL REFERENCES identities(id),
		occurred_at TIMESTAMPTZ NOT NULL,
		method      TEXT NOT NULL,
		confidence  DOUBLE PRECISION,
		status      TEXT NOT NULL,
		location    TEXT NOT NULL DEFAULT '',
		image_url   TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_events_identity ON attendance_events(identity_id);
	CREATE INDEX IF NOT EXISTS idx_events_time     ON attendance_events(occurred_at);
	`
	_, err := d.Client.ExecContext(ctx, schema)
	return err
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
