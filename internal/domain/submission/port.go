package submission

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by KeyValueStore.Get for absent keys.
var ErrNotFound = errors.New("key not found")

// KeyValueStore is the durable store behind session persistence.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// FileOpener re-opens submitted bytes from FileInfo.Ref.
type FileOpener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Observer receives updates after they are persisted.
type Observer interface {
	OnUpdate(Update)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Update)

func (f ObserverFunc) OnUpdate(u Update) { f(u) }
