package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bryanwahyu/filescope/internal/domain/submission"
)

// KVStore keeps session snapshots in the filescope_kv table.
type KVStore struct {
	db *sql.DB
}

func NewKVStore(db *sql.DB) *KVStore {
	return &KVStore{db: db}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	const q = `SELECT v FROM filescope_kv WHERE k=?;`
	var v []byte
	err := s.db.QueryRowContext(ctx, q, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, submission.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Set overwrites the whole value for key
func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	const q = `
INSERT INTO filescope_kv (k, v, updated_at)
VALUES (?,?,?)
ON DUPLICATE KEY UPDATE v=VALUES(v), updated_at=VALUES(updated_at);
`
	_, err := s.db.ExecContext(ctx, q, key, value, time.Now().UTC())
	return err
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM filescope_kv WHERE k=?;`, key)
	return err
}
