// Package memory implements the domain store interfaces with in-process
// maps. One Ledger instance models one execution environment's record
// space; the engine runs with two of them (primary and delegated) in local
// and test modes, and with postgres behind the primary in production.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swivlabs/swiv-engine/internal/domain"
)

// Ledger is an in-memory record space for one execution environment.
type Ledger struct {
	mu     sync.Mutex
	pools  map[common.Hash]domain.Pool
	bets   map[common.Hash]domain.Bet
	grants map[common.Hash]domain.Grant
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		pools:  make(map[common.Hash]domain.Pool),
		bets:   make(map[common.Hash]domain.Bet),
		grants: make(map[common.Hash]domain.Grant),
	}
}

// Pools returns the pool store view of the ledger.
func (l *Ledger) Pools() domain.PoolStore { return (*poolStore)(l) }

// Bets returns the bet store view of the ledger.
func (l *Ledger) Bets() domain.BetStore { return (*betStore)(l) }

// Grants returns the grant store view of the ledger.
func (l *Ledger) Grants() domain.GrantStore { return (*grantStore)(l) }

// --------------------------------------------------------------------------
// Pool store
// --------------------------------------------------------------------------

type poolStore Ledger

func (s *poolStore) Create(_ context.Context, pool domain.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[pool.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.pools[pool.ID] = pool
	return nil
}

func (s *poolStore) Get(_ context.Context, id common.Hash) (domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[id]
	if !ok {
		return domain.Pool{}, domain.ErrNotFound
	}
	return pool, nil
}

func (s *poolStore) Mutate(_ context.Context, id common.Hash, fn func(*domain.Pool) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := fn(&pool); err != nil {
		return err
	}
	s.pools[id] = pool
	return nil
}

func (s *poolStore) List(_ context.Context) ([]domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	return out, nil
}

func (s *poolStore) Put(_ context.Context, pool domain.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[pool.ID] = pool
	return nil
}

func (s *poolStore) Delete(_ context.Context, id common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.pools, id)
	return nil
}

// --------------------------------------------------------------------------
// Bet store
// --------------------------------------------------------------------------

type betStore Ledger

func (s *betStore) Create(_ context.Context, bet domain.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bets[bet.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.bets[bet.ID] = bet
	return nil
}

func (s *betStore) Get(_ context.Context, id common.Hash) (domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bet, ok := s.bets[id]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	return bet, nil
}

func (s *betStore) Mutate(_ context.Context, id common.Hash, fn func(*domain.Bet) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bet, ok := s.bets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := fn(&bet); err != nil {
		return err
	}
	s.bets[id] = bet
	return nil
}

func (s *betStore) ListByPool(_ context.Context, poolID common.Hash) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Bet
	for _, b := range s.bets {
		if b.PoolID == poolID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *betStore) Put(_ context.Context, bet domain.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bets[bet.ID] = bet
	return nil
}

func (s *betStore) Delete(_ context.Context, id common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bets[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.bets, id)
	return nil
}

// --------------------------------------------------------------------------
// Grant store
// --------------------------------------------------------------------------

type grantStore Ledger

func (s *grantStore) Create(_ context.Context, grant domain.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[grant.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.grants[grant.ID] = grant
	return nil
}

func (s *grantStore) Get(_ context.Context, id common.Hash) (domain.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[id]
	if !ok {
		return domain.Grant{}, domain.ErrNotFound
	}
	return grant, nil
}

func (s *grantStore) Revoke(_ context.Context, id common.Hash, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[id]
	if !ok {
		return domain.ErrNotFound
	}
	grant.Revoked = true
	grant.RevokedAt = at
	s.grants[id] = grant
	return nil
}

// Compile-time interface checks.
var (
	_ domain.PoolStore  = (*poolStore)(nil)
	_ domain.BetStore   = (*betStore)(nil)
	_ domain.GrantStore = (*grantStore)(nil)
)
