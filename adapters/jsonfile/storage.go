// Package jsonfile persists the in-memory store to a single JSON file after
// every mutation. Suitable for demos and small single-node deployments.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"habitquest/adapters/memory"
	"habitquest/core"
)

// Store wraps a memory.Store. Reads are served from memory; writes are
// applied in memory and then flushed to disk. Quota counters are not
// persisted and restart empty.
type Store struct {
	*memory.Store
	path string
	mu   sync.Mutex
}

func New(path string, opts ...memory.Option) (*Store, error) {
	s := &Store{Store: memory.New(opts...), path: path}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var raw map[core.ActorID]memory.ActorSnapshot
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	s.Store.Restore(raw)
	return nil
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.Store.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// mutate runs fn and flushes on success.
func (s *Store) mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	if err := s.persist(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

func (s *Store) CreateQuest(ctx context.Context, q core.Quest) error {
	return s.mutate(func() error { return s.Store.CreateQuest(ctx, q) })
}

func (s *Store) CompleteQuest(ctx context.Context, actor core.ActorID, id string, at time.Time) error {
	return s.mutate(func() error { return s.Store.CompleteQuest(ctx, actor, id, at) })
}

func (s *Store) SaveProgress(ctx context.Context, actor core.ActorID, u core.ProgressUpdate) error {
	return s.mutate(func() error { return s.Store.SaveProgress(ctx, actor, u) })
}

func (s *Store) EquipItem(ctx context.Context, actor core.ActorID, item core.Item) error {
	return s.mutate(func() error { return s.Store.EquipItem(ctx, actor, item) })
}

func (s *Store) UnlockSkill(ctx context.Context, actor core.ActorID, skillID string, cost int64) error {
	return s.mutate(func() error { return s.Store.UnlockSkill(ctx, actor, skillID, cost) })
}

func (s *Store) AdjustCurrency(ctx context.Context, adj core.Adjustment) (core.AdjustResult, error) {
	var res core.AdjustResult
	err := s.mutate(func() error {
		var err error
		res, err = s.Store.AdjustCurrency(ctx, adj)
		return err
	})
	return res, err
}

func (s *Store) SetPremium(actor core.ActorID, premium bool) error {
	return s.mutate(func() error {
		s.Store.SetPremium(actor, premium)
		return nil
	})
}

func (s *Store) SetArchetype(actor core.ActorID, archetype string) error {
	return s.mutate(func() error {
		s.Store.SetArchetype(actor, archetype)
		return nil
	})
}
