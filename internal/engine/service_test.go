package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swivlabs/swiv-engine/internal/commit"
	"github.com/swivlabs/swiv-engine/internal/custody"
	"github.com/swivlabs/swiv-engine/internal/domain"
	"github.com/swivlabs/swiv-engine/internal/store/memory"
)

var (
	admin    = common.HexToAddress("0xAd00000000000000000000000000000000000001")
	treasury = common.HexToAddress("0x7e00000000000000000000000000000000000002")
	alice    = common.HexToAddress("0xA11ce00000000000000000000000000000000003")
	bob      = common.HexToAddress("0xB0b0000000000000000000000000000000000004")
)

const (
	poolStart = int64(1_000)
	poolEnd   = int64(2_000)
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	now    int64
	ledger *memory.Ledger
	proto  domain.ProtocolStore
	vault  *custody.Ledger
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		now:    poolStart,
		ledger: memory.NewLedger(),
		proto:  memory.NewProtocolStore(),
		vault:  custody.NewLedger(),
	}
	require.NoError(t, f.proto.Init(f.ctx, domain.ProtocolConfig{
		Admin:            admin,
		Treasury:         treasury,
		FeeBps:           250,
		RefundPenaltyBps: domain.DefaultRefundPenaltyBps,
		BatchSettleWait:  domain.DefaultBatchSettleWait,
		EmergencyTimeout: domain.DefaultEmergencyTimeout,
	}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(
		domain.EnvPrimary,
		f.ledger.Pools(), f.ledger.Bets(),
		f.proto, f.vault, memory.NewBus(), logger,
	).WithClock(func() time.Time { return time.Unix(f.now, 0) })

	f.vault.Mint(alice, 1_000_000_000)
	f.vault.Mint(bob, 1_000_000_000)
	return f
}

func (f *fixture) createPool(name string) domain.Pool {
	pool, err := f.svc.CreatePool(f.ctx, admin, CreatePoolParams{
		Name:           name,
		AssetMint:      common.HexToAddress("0x05"),
		StartTime:      poolStart,
		EndTime:        poolEnd,
		AccuracyBuffer: 100,
	})
	require.NoError(f.t, err)
	return pool
}

func (f *fixture) placeBet(owner common.Address, poolID common.Hash, reqID string, amount, prediction uint64) (domain.Bet, [32]byte) {
	var salt [32]byte
	copy(salt[:], reqID)
	bet, err := f.svc.PlaceBet(f.ctx, owner, poolID, reqID, amount, commit.Commit(prediction, salt))
	require.NoError(f.t, err)
	return bet, salt
}

func TestCreatePool(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool("btc-close")

	assert.Equal(t, domain.DerivePoolID("btc-close"), pool.ID)
	assert.Equal(t, domain.DeriveVaultAccount(pool.ID), pool.Vault)
	assert.Equal(t, uint64(250), pool.FeeBps, "fee snapshot from protocol config")
	assert.Equal(t, int64(domain.DefaultBatchSettleWait), pool.BatchSafetyDelay)
	assert.Equal(t, domain.EnvPrimary, pool.Env)

	cfg, err := f.proto.Get(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cfg.TotalPools)
}

func TestCreatePoolInvalidWindow(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreatePool(f.ctx, admin, CreatePoolParams{
		Name: "bad", StartTime: poolEnd, EndTime: poolStart,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)
}

func TestCreatePoolDuplicateName(t *testing.T) {
	f := newFixture(t)
	f.createPool("dup")
	_, err := f.svc.CreatePool(f.ctx, admin, CreatePoolParams{
		Name: "dup", StartTime: poolStart, EndTime: poolEnd,
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCreatePoolWhilePaused(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.proto.Mutate(f.ctx, func(cfg *domain.ProtocolConfig) error {
		cfg.Paused = true
		return nil
	}))
	_, err := f.svc.CreatePool(f.ctx, admin, CreatePoolParams{
		Name: "p", StartTime: poolStart, EndTime: poolEnd,
	})
	assert.ErrorIs(t, err, domain.ErrPaused)
}

func TestPlaceBet(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool("p")

	bet, _ := f.placeBet(alice, pool.ID, "r1", 40_000_000, 1_500)

	assert.Equal(t, domain.DeriveBetID(pool.ID, alice, "r1"), bet.ID)
	assert.Equal(t, domain.BetStatusCommitted, bet.Status)
	assert.Equal(t, poolStart, bet.EntryTime)

	got, err := f.svc.GetPool(f.ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(40_000_000), got.TotalStaked)
	assert.Equal(t, uint64(40_000_000), got.VaultBalance)

	balance, err := f.vault.Balance(f.ctx, pool.Vault)
	require.NoError(t, err)
	assert.Equal(t, uint64(40_000_000), balance, "stake held in the pool vault")
}

func TestPlaceBetCountsUniqueBettors(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool("p")

	f.placeBet(alice, pool.ID, "r1", 1_000, 42)
	f.placeBet(alice, pool.ID, "r2", 1_000, 43)
	f.placeBet(bob, pool.ID, "r1", 1_000, 44)

	cfg, err := f.proto.Get(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cfg.TotalUsers, "a second bet by the same bettor does not recount")
}

func TestPlaceBetDuplicateRequest(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool("p")
	f.placeBet(alice, pool.ID, "r1", 1_000, 42)

	var salt [32]byte
	_, err := f.svc.PlaceBet(f.ctx, alice, pool.ID, "r1", 1_000, commit.Commit(42, salt))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestPlaceBetWindowClosed(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool("p")

	f.now = poolEnd
	var salt [32]byte
	_, err := f.svc.PlaceBet(f.ctx, alice, pool.ID, "late", 1_000, commit.Commit(42, salt))
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)
}

func TestPlaceBetInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool("p")

	broke := common.HexToAddress("0x0b")
	var salt [32]byte
	_, err := f.svc.PlaceBet(f.ctx, broke, pool.ID, "r1", 1_000, commit.Commit(42, salt))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestRevealBet(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool("p")
	bet, salt := f.placeBet(alice, pool.ID, "r1", 1_000, 42)

	require.NoError(t, f.svc.RevealBet(f.ctx, alice, bet.ID, 42, salt))

	got, err := f.svc.GetBet(f.ctx, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BetStatusRevealed, got.Status)
	assert.Equal(t, uint64(42), got.Prediction)

	// A second reveal is rejected.
	assert.ErrorIs(t, f.svc.RevealBet(f.ctx, alice, bet.ID, 42, salt), domain.ErrAlreadyRevealed)
}

func TestRevealBetCommitmentMismatch(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool("p")
	bet, salt := f.placeBet(alice, pool.ID, "r1", 1_000, 42)

	assert.ErrorIs(t, f.svc.RevealBet(f.ctx, alice, bet.ID, 43, salt), domain.ErrCommitmentMismatch)

	got, err := f.svc.GetBet(f.ctx, bet.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BetStatusCommitted, got.Status, "failed reveal leaves the bet untouched")
}

func TestRevealBetWrongOwner(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool("p")
	bet, salt := f.placeBet(alice, pool.ID, "r1", 1_000, 42)

	assert.ErrorIs(t, f.svc.RevealBet(f.ctx, bob, bet.ID, 42, salt), domain.ErrUnauthorized)
}

func TestUpdateBetPrimaryRejected(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool("p")
	bet, _ := f.placeBet(alice, pool.ID, "r1", 1_000, 42)

	// The overwrite path exists only in the delegated environment.
	assert.ErrorIs(t, f.svc.UpdateBet(f.ctx, alice, bet.ID, 43), domain.ErrOwnershipConflict)
}

func TestResolvePool(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool("p")

	assert.ErrorIs(t, f.svc.ResolvePool(f.ctx, admin, pool.ID, 42), domain.ErrNotReady,
		"resolution before the close is rejected")

	f.now = poolEnd
	assert.ErrorIs(t, f.svc.ResolvePool(f.ctx, alice, pool.ID, 42), domain.ErrUnauthorized)

	require.NoError(t, f.svc.ResolvePool(f.ctx, admin, pool.ID, 42))
	got, err := f.svc.GetPool(f.ctx, pool.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	assert.Equal(t, uint64(42), got.ResolvedOutcome)
	assert.Equal(t, poolEnd, got.ResolvedAt)

	assert.ErrorIs(t, f.svc.ResolvePool(f.ctx, admin, pool.ID, 43), domain.ErrAlreadyResolved)
}

func TestPoolStatusLifecycle(t *testing.T) {
	f := newFixture(t)
	pool := f.createPool("p")

	assert.Equal(t, domain.PoolStatusCreated, pool.Status(poolStart-1))
	assert.Equal(t, domain.PoolStatusActive, pool.Status(poolStart))
	assert.Equal(t, domain.PoolStatusExpired, pool.Status(poolEnd))

	f.now = poolEnd
	require.NoError(t, f.svc.ResolvePool(f.ctx, admin, pool.ID, 42))
	got, err := f.svc.GetPool(f.ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PoolStatusResolved, got.Status(poolEnd))
}
