package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	domain "github.com/bryanwahyu/filescope/internal/domain/submission"
)

// DefaultNamespace prefixes the session keys.
const DefaultNamespace = "filescope/session"

// Session persists the snapshot and the handoff record in a KeyValueStore.
// Only the Machine writes through it.
type Session struct {
	Store     domain.KeyValueStore
	Namespace string
}

func (s *Session) key(name string) string {
	ns := strings.TrimSuffix(s.Namespace, "/")
	if ns == "" {
		ns = DefaultNamespace
	}
	return ns + "/" + name
}

func (s *Session) SnapshotKey() string { return s.key("snapshot") }
func (s *Session) HandoffKey() string  { return s.key("handoff") }

// Save overwrites the snapshot.
func (s *Session) Save(ctx context.Context, snap domain.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.Store.Set(ctx, s.SnapshotKey(), raw); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns nil when no snapshot exists and ErrRecoveryCorruption when it
// cannot be decoded.
func (s *Session) Load(ctx context.Context) (*domain.Snapshot, error) {
	raw, err := s.Store.Get(ctx, s.SnapshotKey())
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, &domain.Error{Kind: domain.KindRecoveryCorrupted, Err: fmt.Errorf("decode snapshot: %w", err)}
	}
	return &snap, nil
}

func (s *Session) Clear(ctx context.Context) error {
	if err := s.Store.Delete(ctx, s.SnapshotKey()); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

func (s *Session) SaveHandoff(ctx context.Context, h domain.Handoff) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode handoff: %w", err)
	}
	if err := s.Store.Set(ctx, s.HandoffKey(), raw); err != nil {
		return fmt.Errorf("save handoff: %w", err)
	}
	return nil
}

// LoadHandoff returns nil when absent.
func (s *Session) LoadHandoff(ctx context.Context) (*domain.Handoff, error) {
	raw, err := s.Store.Get(ctx, s.HandoffKey())
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load handoff: %w", err)
	}
	var h domain.Handoff
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, &domain.Error{Kind: domain.KindRecoveryCorrupted, Err: fmt.Errorf("decode handoff: %w", err)}
	}
	return &h, nil
}

func (s *Session) ClearHandoff(ctx context.Context) error {
	if err := s.Store.Delete(ctx, s.HandoffKey()); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("clear handoff: %w", err)
	}
	return nil
}
