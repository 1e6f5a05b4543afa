package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the session and publication tables when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, q := range schema {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

var schema = []string{`
CREATE TABLE IF NOT EXISTS filescope_kv (
  k TEXT PRIMARY KEY,
  v BYTEA NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);`, `
CREATE TABLE IF NOT EXISTS filescope_publications (
  metadata_cid TEXT PRIMARY KEY,
  submission_id TEXT NOT NULL,
  tx_handle TEXT NOT NULL,
  block_number BIGINT NOT NULL DEFAULT 0,
  explorer_url TEXT NOT NULL DEFAULT '',
  file_name TEXT NOT NULL,
  file_size BIGINT NOT NULL,
  mime_type TEXT NOT NULL,
  visibility TEXT NOT NULL,
  quality_score DOUBLE PRECISION NOT NULL,
  anomaly_count INTEGER NOT NULL,
  bias_score DOUBLE PRECISION NOT NULL,
  synthetic BOOLEAN NOT NULL,
  confirmed_at TIMESTAMPTZ NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_publications_confirmed ON filescope_publications (confirmed_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_publications_browse ON filescope_publications (visibility, quality_score DESC);`,
}
