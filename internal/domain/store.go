package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Every state transition in the engine is an atomic read-modify-write
// against a single record: Mutate re-reads the authoritative record, runs
// fn against it, and persists the result only if fn returns nil. A stale
// cached read is therefore never trusted for a mutation; ownership and
// status checks run inside fn against current state.

// ProtocolStore persists the protocol config singleton.
type ProtocolStore interface {
	Init(ctx context.Context, cfg ProtocolConfig) error
	Get(ctx context.Context) (ProtocolConfig, error)
	Mutate(ctx context.Context, fn func(*ProtocolConfig) error) error
}

// PoolStore persists pool records for one execution environment.
type PoolStore interface {
	Create(ctx context.Context, pool Pool) error
	Get(ctx context.Context, id common.Hash) (Pool, error)
	Mutate(ctx context.Context, id common.Hash, fn func(*Pool) error) error
	List(ctx context.Context) ([]Pool, error)
	// Put upserts a record wholesale. Used by the delegation handoff to
	// materialize a record in the receiving environment.
	Put(ctx context.Context, pool Pool) error
	Delete(ctx context.Context, id common.Hash) error
}

// BetStore persists bet records for one execution environment.
type BetStore interface {
	Create(ctx context.Context, bet Bet) error
	Get(ctx context.Context, id common.Hash) (Bet, error)
	Mutate(ctx context.Context, id common.Hash, fn func(*Bet) error) error
	ListByPool(ctx context.Context, poolID common.Hash) ([]Bet, error)
	Put(ctx context.Context, bet Bet) error
	Delete(ctx context.Context, id common.Hash) error
}

// GrantStore persists delegation access-control records.
type GrantStore interface {
	Create(ctx context.Context, grant Grant) error
	Get(ctx context.Context, id common.Hash) (Grant, error)
	Revoke(ctx context.Context, id common.Hash, at time.Time) error
}

// LockManager provides mutual exclusion across concurrent submitters. Used
// to totally order delegation handoffs per record.
type LockManager interface {
	// Acquire obtains the lock for key or returns ErrLockHeld. The
	// returned release function is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// EventBus publishes engine events to interested subscribers.
type EventBus interface {
	Publish(ctx context.Context, ev Event) error
}
