package postgres

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
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM filescope_kv WHERE k=$1;`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, submission.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	const q = `
INSERT INTO filescope_kv (k, v, updated_at)
VALUES ($1,$2,$3)
ON CONFLICT (k) DO UPDATE SET v=EXCLUDED.v, updated_at=EXCLUDED.updated_at;
`
	_, err := s.db.ExecContext(ctx, q, key, value, time.Now().UTC())
	return err
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM filescope_kv WHERE k=$1;`, key)
	return err
}
