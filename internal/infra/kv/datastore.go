package kv

import (
	"context"
	"errors"
	"fmt"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	leveldb "github.com/ipfs/go-ds-leveldb"

	"github.com/bryanwahyu/filescope/internal/domain/submission"
)

// Store adapts a go-datastore Datastore to submission.KeyValueStore.
type Store struct {
	d ds.Datastore
}

// Wrap uses d as the backing datastore
func Wrap(d ds.Datastore) *Store { return &Store{d: d} }

// NewMemory returns a thread-safe in-memory store. Contents die with the process.
func NewMemory() *Store {
	return Wrap(dssync.MutexWrap(ds.NewMapDatastore()))
}

// OpenLevelDB opens (or creates) a LevelDB store at path.
func OpenLevelDB(path string) (*Store, error) {
	d, err := leveldb.NewDatastore(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return Wrap(d), nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.d.Get(ctx, ds.NewKey(key))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, submission.ErrNotFound
	}
	return v, err
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.d.Put(ctx, ds.NewKey(key), value); err != nil {
		return err
	}
	return s.d.Sync(ctx, ds.NewKey(key))
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.d.Delete(ctx, ds.NewKey(key))
	if errors.Is(err, ds.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Store) Close() error { return s.d.Close() }
