package memory

import (
	"context"
	"sync"

	"github.com/swivlabs/swiv-engine/internal/domain"
)

// ProtocolStore holds the protocol config singleton in memory.
type ProtocolStore struct {
	mu    sync.Mutex
	cfg   domain.ProtocolConfig
	ready bool
}

// NewProtocolStore returns an uninitialized protocol store.
func NewProtocolStore() *ProtocolStore {
	return &ProtocolStore{}
}

// Init stores the singleton once. Repeated initialization is rejected with
// ErrAlreadyExists so callers can fall back to Mutate.
func (s *ProtocolStore) Init(_ context.Context, cfg domain.ProtocolConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return domain.ErrAlreadyExists
	}
	s.cfg = cfg
	s.ready = true
	return nil
}

func (s *ProtocolStore) Get(_ context.Context) (domain.ProtocolConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return domain.ProtocolConfig{}, domain.ErrNotFound
	}
	return s.cfg, nil
}

func (s *ProtocolStore) Mutate(_ context.Context, fn func(*domain.ProtocolConfig) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return domain.ErrNotFound
	}
	cfg := s.cfg
	if err := fn(&cfg); err != nil {
		return err
	}
	s.cfg = cfg
	return nil
}

var _ domain.ProtocolStore = (*ProtocolStore)(nil)
