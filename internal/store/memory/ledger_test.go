package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swivlabs/swiv-engine/internal/domain"
)

func TestPoolStoreCRUD(t *testing.T) {
	ctx := context.Background()
	pools := NewLedger().Pools()
	pool := domain.Pool{ID: domain.DerivePoolID("p"), Name: "p", Env: domain.EnvPrimary}

	_, err := pools.Get(ctx, pool.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, pools.Create(ctx, pool))
	assert.ErrorIs(t, pools.Create(ctx, pool), domain.ErrAlreadyExists)

	got, err := pools.Get(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, "p", got.Name)

	list, err := pools.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, pools.Delete(ctx, pool.ID))
	assert.ErrorIs(t, pools.Delete(ctx, pool.ID), domain.ErrNotFound)
}

func TestPoolStoreMutate(t *testing.T) {
	ctx := context.Background()
	pools := NewLedger().Pools()
	pool := domain.Pool{ID: domain.DerivePoolID("p")}
	require.NoError(t, pools.Create(ctx, pool))

	require.NoError(t, pools.Mutate(ctx, pool.ID, func(p *domain.Pool) error {
		p.TotalStaked = 500
		return nil
	}))
	got, err := pools.Get(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got.TotalStaked)

	// A failing closure must not commit partial writes.
	err = pools.Mutate(ctx, pool.ID, func(p *domain.Pool) error {
		p.TotalStaked = 999
		return domain.ErrPaused
	})
	assert.ErrorIs(t, err, domain.ErrPaused)
	got, err = pools.Get(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got.TotalStaked, "rejected mutation rolls back")

	assert.ErrorIs(t, pools.Mutate(ctx, common.Hash{}, func(*domain.Pool) error {
		return nil
	}), domain.ErrNotFound)
}

func TestBetStoreListByPool(t *testing.T) {
	ctx := context.Background()
	bets := NewLedger().Bets()
	poolA := domain.DerivePoolID("a")
	poolB := domain.DerivePoolID("b")
	owner := common.HexToAddress("0x01")

	for i, poolID := range []common.Hash{poolA, poolA, poolB} {
		reqID := string(rune('x' + i))
		require.NoError(t, bets.Create(ctx, domain.Bet{
			ID:     domain.DeriveBetID(poolID, owner, reqID),
			PoolID: poolID,
		}))
	}

	inA, err := bets.ListByPool(ctx, poolA)
	require.NoError(t, err)
	assert.Len(t, inA, 2)
	inB, err := bets.ListByPool(ctx, poolB)
	require.NoError(t, err)
	assert.Len(t, inB, 1)
}

func TestBetStorePutUpserts(t *testing.T) {
	ctx := context.Background()
	bets := NewLedger().Bets()
	bet := domain.Bet{ID: common.HexToHash("0x01"), Env: domain.EnvDelegated}

	// Put succeeds with or without an existing record: it is the handoff
	// materialization path.
	require.NoError(t, bets.Put(ctx, bet))
	bet.Env = domain.EnvPrimary
	require.NoError(t, bets.Put(ctx, bet))

	got, err := bets.Get(ctx, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EnvPrimary, got.Env)
}

func TestGrantStoreRevoke(t *testing.T) {
	ctx := context.Background()
	grants := NewLedger().Grants()
	grant := domain.Grant{ID: common.HexToHash("0x01"), Member: common.HexToAddress("0x02")}
	require.NoError(t, grants.Create(ctx, grant))

	at := time.Unix(2_000, 0).UTC()
	require.NoError(t, grants.Revoke(ctx, grant.ID, at))

	got, err := grants.Get(ctx, grant.ID)
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	assert.Equal(t, at, got.RevokedAt)

	assert.ErrorIs(t, grants.Revoke(ctx, common.HexToHash("0x99"), at), domain.ErrNotFound)
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager()

	release, err := lm.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	// Release is idempotent and frees the key.
	release()
	release()
	release2, err := lm.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	release2()
}

func TestBusFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewBus()

	ch1, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	ch2, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	ev := domain.Event{ID: "1", Type: domain.EventBetPlaced}
	require.NoError(t, bus.Publish(ctx, ev))

	for _, ch := range []<-chan domain.Event{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, domain.EventBetPlaced, got.Type)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}
