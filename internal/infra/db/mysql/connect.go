package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
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
  k VARCHAR(255) NOT NULL PRIMARY KEY,
  v LONGBLOB NOT NULL,
  updated_at DATETIME(6) NOT NULL
) ENGINE=InnoDB;`, `
CREATE TABLE IF NOT EXISTS filescope_publications (
  metadata_cid VARCHAR(128) NOT NULL PRIMARY KEY,
  submission_id VARCHAR(64) NOT NULL,
  tx_handle VARCHAR(80) NOT NULL,
  block_number BIGINT UNSIGNED NOT NULL DEFAULT 0,
  explorer_url VARCHAR(512) NOT NULL DEFAULT '',
  file_name VARCHAR(255) NOT NULL,
  file_size BIGINT NOT NULL,
  mime_type VARCHAR(128) NOT NULL,
  visibility VARCHAR(16) NOT NULL,
  quality_score DOUBLE NOT NULL,
  anomaly_count INT NOT NULL,
  bias_score DOUBLE NOT NULL,
  synthetic BOOLEAN NOT NULL,
  confirmed_at DATETIME(6) NOT NULL,
  KEY idx_publications_confirmed (confirmed_at),
  KEY idx_publications_browse (visibility, quality_score)
) ENGINE=InnoDB;`,
}
