package settlement

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
	"github.com/swivlabs/swiv-engine/internal/engine"
	"github.com/swivlabs/swiv-engine/internal/store/memory"
)

var (
	admin    = common.HexToAddress("0xAd00000000000000000000000000000000000001")
	treasury = common.HexToAddress("0x7e00000000000000000000000000000000000002")
	alice    = common.HexToAddress("0xA11ce00000000000000000000000000000000003")
	bob      = common.HexToAddress("0xB0b0000000000000000000000000000000000004")
	carol    = common.HexToAddress("0xCa00100000000000000000000000000000000005")
	dave     = common.HexToAddress("0xDa7e000000000000000000000000000000000006")
	erin     = common.HexToAddress("0xE010000000000000000000000000000000000007")
)

const (
	poolStart = int64(1_000)
	poolEnd   = int64(2_000)
	outcome   = uint64(1_500)
	stake     = uint64(40_000_000)
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	now    int64
	ledger *memory.Ledger
	proto  domain.ProtocolStore
	vault  *custody.Ledger
	eng    *engine.Service
	svc    *Service
	pool   domain.Pool
	bets   map[common.Address]domain.Bet
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		now:    poolStart,
		ledger: memory.NewLedger(),
		proto:  memory.NewProtocolStore(),
		vault:  custody.NewLedger(),
		bets:   make(map[common.Address]domain.Bet),
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
	clock := func() time.Time { return time.Unix(f.now, 0) }
	f.eng = engine.NewService(
		domain.EnvPrimary,
		f.ledger.Pools(), f.ledger.Bets(),
		f.proto, f.vault, memory.NewBus(), logger,
	).WithClock(clock)
	f.svc = NewService(
		domain.EnvPrimary,
		f.ledger.Pools(), f.ledger.Bets(),
		f.proto, f.vault, memory.NewBus(), logger,
	).WithClock(clock)

	for _, acct := range []common.Address{alice, bob, carol, dave, erin} {
		f.vault.Mint(acct, 1_000_000_000)
	}

	pool, err := f.eng.CreatePool(f.ctx, admin, engine.CreatePoolParams{
		Name:           "settle-pool",
		StartTime:      poolStart,
		EndTime:        poolEnd,
		AccuracyBuffer: 100,
	})
	require.NoError(t, err)
	f.pool = pool
	return f
}

func (f *fixture) place(owner common.Address, reqID string, prediction uint64, entry int64) domain.Bet {
	f.now = entry
	var salt [32]byte
	copy(salt[:], reqID)
	bet, err := f.eng.PlaceBet(f.ctx, owner, f.pool.ID, reqID, stake, commit.Commit(prediction, salt))
	require.NoError(f.t, err)
	f.bets[owner] = bet
	return bet
}

func (f *fixture) reveal(owner common.Address, reqID string, prediction uint64) {
	var salt [32]byte
	copy(salt[:], reqID)
	require.NoError(f.t, f.eng.RevealBet(f.ctx, owner, f.bets[owner].ID, prediction, salt))
}

// populate places the standard five-bettor book:
//
//	alice  exact hit at pool open      -> stake x 1.0 x 2.0 x 1.5
//	bob    off by 50 at the midpoint   -> stake x 0.5 x 1.5 x 1.5
//	carol  off by a full buffer        -> zero weight
//	dave   never reveals               -> withheld, refundable
//	erin   off by 50 just before close -> stake x 0.5 x 1.001 x 1.5
func (f *fixture) populate() {
	f.place(alice, "a", outcome, poolStart)
	f.place(bob, "b", outcome+50, 1_500)
	f.place(carol, "c", outcome-100, poolStart)
	f.place(dave, "d", outcome, poolStart)
	f.place(erin, "e", outcome-50, poolEnd-1)

	f.reveal(alice, "a", outcome)
	f.reveal(bob, "b", outcome+50)
	f.reveal(carol, "c", outcome-100)
	f.reveal(erin, "e", outcome-50)
}

func (f *fixture) resolve() {
	f.now = poolEnd
	require.NoError(f.t, f.eng.ResolvePool(f.ctx, admin, f.pool.ID, outcome))
}

func (f *fixture) betIDs(owners ...common.Address) []common.Hash {
	ids := make([]common.Hash, 0, len(owners))
	for _, o := range owners {
		ids = append(ids, f.bets[o].ID)
	}
	return ids
}

func (f *fixture) totalWeight() string {
	pool, err := f.eng.GetPool(f.ctx, f.pool.ID)
	require.NoError(f.t, err)
	return pool.TotalWeight.Dec()
}

const (
	weightAlice = uint64(120_000_000)
	weightBob   = uint64(45_000_000)
	weightErin  = uint64(30_030_000)
	// weightAlice + weightBob + weightErin
	weightTotal = "195030000"
)

func TestBatchCalculateOutcome(t *testing.T) {
	f := newFixture(t)
	f.populate()
	f.resolve()
	f.now = poolEnd + domain.DefaultBatchSettleWait

	results, err := f.svc.BatchCalculateOutcome(f.ctx, f.pool.ID,
		f.betIDs(alice, bob, carol, dave, erin))
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.Equal(t, weightAlice, results[0].Weight.Uint64())
	assert.Equal(t, ClassExact, results[0].Class)
	assert.Equal(t, weightBob, results[1].Weight.Uint64())
	assert.Equal(t, ClassPartial, results[1].Class)
	assert.True(t, results[2].Weight.IsZero(), "a full-buffer miss scores nothing")
	assert.Equal(t, ClassTotalLoss, results[2].Class)
	assert.ErrorIs(t, results[3].Err, domain.ErrNotRevealed, "unrevealed bets are rejected individually")
	assert.Equal(t, weightErin, results[4].Weight.Uint64())

	assert.Equal(t, weightTotal, f.totalWeight())
}

func TestBatchSafetyDelay(t *testing.T) {
	f := newFixture(t)
	f.populate()
	f.resolve()

	// Too early for the batch form.
	_, err := f.svc.BatchCalculateOutcome(f.ctx, f.pool.ID, f.betIDs(alice))
	assert.ErrorIs(t, err, domain.ErrNotReady)

	// The owner-invoked single form is not subject to the delay.
	res, err := f.svc.CalculateOutcome(f.ctx, f.bets[alice].ID)
	require.NoError(t, err)
	assert.Equal(t, weightAlice, res.Weight.Uint64())
}

func TestCalculateBeforeResolution(t *testing.T) {
	f := newFixture(t)
	f.populate()

	_, err := f.svc.CalculateOutcome(f.ctx, f.bets[alice].ID)
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestCalculateIdempotent(t *testing.T) {
	f := newFixture(t)
	f.populate()
	f.resolve()
	f.now = poolEnd + domain.DefaultBatchSettleWait

	_, err := f.svc.BatchCalculateOutcome(f.ctx, f.pool.ID, f.betIDs(alice, bob, carol, erin))
	require.NoError(t, err)
	before := f.totalWeight()

	// A repeat run rejects every record and never double-counts.
	results, err := f.svc.BatchCalculateOutcome(f.ctx, f.pool.ID, f.betIDs(alice, bob, carol, erin))
	require.NoError(t, err)
	for _, res := range results {
		assert.ErrorIs(t, res.Err, domain.ErrAlreadyCalculated)
	}
	assert.Equal(t, before, f.totalWeight())
}

func TestBatchPartitioningEquivalence(t *testing.T) {
	// The accumulated total is independent of how the set is partitioned
	// and of whether the single or batch form was used.
	one := newFixture(t)
	one.populate()
	one.resolve()
	one.now = poolEnd + domain.DefaultBatchSettleWait
	_, err := one.svc.BatchCalculateOutcome(one.ctx, one.pool.ID, one.betIDs(alice, bob, carol, erin))
	require.NoError(t, err)

	two := newFixture(t)
	two.populate()
	two.resolve()
	two.now = poolEnd + domain.DefaultBatchSettleWait
	_, err = two.svc.BatchCalculateOutcome(two.ctx, two.pool.ID, two.betIDs(erin, carol))
	require.NoError(t, err)
	_, err = two.svc.CalculateOutcome(two.ctx, two.bets[bob].ID)
	require.NoError(t, err)
	_, err = two.svc.BatchCalculateOutcome(two.ctx, two.pool.ID, two.betIDs(alice))
	require.NoError(t, err)

	assert.Equal(t, one.totalWeight(), two.totalWeight())
}

func (f *fixture) calculateAndFinalize() {
	f.now = poolEnd + domain.DefaultBatchSettleWait
	_, err := f.svc.BatchCalculateOutcome(f.ctx, f.pool.ID, f.betIDs(alice, bob, carol, erin))
	require.NoError(f.t, err)
	require.NoError(f.t, f.svc.FinalizeWeights(f.ctx, admin, f.pool.ID))
}

func TestFinalizeWeights(t *testing.T) {
	f := newFixture(t)
	f.populate()
	f.resolve()
	f.now = poolEnd + domain.DefaultBatchSettleWait

	// Any revealed-but-uncalculated bet blocks finalization.
	_, err := f.svc.BatchCalculateOutcome(f.ctx, f.pool.ID, f.betIDs(alice, bob, carol))
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.FinalizeWeights(f.ctx, admin, f.pool.ID), domain.ErrNotReady)

	_, err = f.svc.BatchCalculateOutcome(f.ctx, f.pool.ID, f.betIDs(erin))
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.FinalizeWeights(f.ctx, alice, f.pool.ID), domain.ErrUnauthorized)
	require.NoError(t, f.svc.FinalizeWeights(f.ctx, admin, f.pool.ID))

	pool, err := f.eng.GetPool(f.ctx, f.pool.ID)
	require.NoError(t, err)
	// Vault held 5 x stake; dave's unrevealed stake is withheld, 2.5% fee
	// comes off the remainder.
	base := 4 * stake
	fee := base * 250 / domain.BpsDenominator
	assert.True(t, pool.WeightFinalized)
	assert.Equal(t, base-fee, pool.PayoutPot)
	assert.Equal(t, 5*stake-fee, pool.VaultBalance)

	treasuryBal, err := f.vault.Balance(f.ctx, treasury)
	require.NoError(t, err)
	assert.Equal(t, fee, treasuryBal)

	// One-time only, and no further calculation afterwards.
	assert.ErrorIs(t, f.svc.FinalizeWeights(f.ctx, admin, f.pool.ID), domain.ErrAlreadyResolved)
	_, err = f.svc.BatchCalculateOutcome(f.ctx, f.pool.ID, f.betIDs(alice))
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestFinalizeBlockedWhileBetDelegated(t *testing.T) {
	f := newFixture(t)
	f.populate()
	f.resolve()
	f.now = poolEnd + domain.DefaultBatchSettleWait
	_, err := f.svc.BatchCalculateOutcome(f.ctx, f.pool.ID, f.betIDs(alice, bob, carol, erin))
	require.NoError(t, err)

	// dave's bet is handed off; a reveal on the other side is invisible
	// here, so this ledger's Committed copy must not be treated as
	// never-revealed and withheld.
	require.NoError(t, f.ledger.Bets().Mutate(f.ctx, f.bets[dave].ID, func(b *domain.Bet) error {
		b.Env = domain.EnvDelegated
		return nil
	}))
	assert.ErrorIs(t, f.svc.FinalizeWeights(f.ctx, admin, f.pool.ID), domain.ErrChildrenStillDelegated)

	// Handed back revealed, the bet still has every exit open: it blocks
	// finalization until calculated, then settles normally.
	require.NoError(t, f.ledger.Bets().Mutate(f.ctx, f.bets[dave].ID, func(b *domain.Bet) error {
		b.Env = domain.EnvPrimary
		b.Status = domain.BetStatusRevealed
		b.Prediction = outcome
		return nil
	}))
	assert.ErrorIs(t, f.svc.FinalizeWeights(f.ctx, admin, f.pool.ID), domain.ErrNotReady)

	res, err := f.svc.CalculateOutcome(f.ctx, f.bets[dave].ID)
	require.NoError(t, err)
	assert.False(t, res.Weight.IsZero())
	require.NoError(t, f.svc.FinalizeWeights(f.ctx, admin, f.pool.ID))

	pool, err := f.eng.GetPool(f.ctx, f.pool.ID)
	require.NoError(t, err)
	// All five bets revealed and calculated: nothing withheld.
	fee := 5 * stake * 250 / domain.BpsDenominator
	assert.Equal(t, 5*stake-fee, pool.PayoutPot)
}

func TestClaimReward(t *testing.T) {
	f := newFixture(t)
	f.populate()
	f.resolve()
	f.calculateAndFinalize()

	pool, err := f.eng.GetPool(f.ctx, f.pool.ID)
	require.NoError(t, err)

	var paid uint64
	for _, owner := range []common.Address{alice, bob, erin} {
		before, err := f.vault.Balance(f.ctx, owner)
		require.NoError(t, err)

		bet, err := f.eng.GetBet(f.ctx, f.bets[owner].ID)
		require.NoError(t, err)
		want := Payout(pool.PayoutPot, &bet.Weight, &pool.TotalWeight)

		got, err := f.svc.ClaimReward(f.ctx, owner, bet.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		paid += got

		after, err := f.vault.Balance(f.ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, before+got, after)
	}

	// Flooring leaves at most a few units of dust; the pot is never
	// overpaid.
	assert.LessOrEqual(t, paid, pool.PayoutPot)
	assert.GreaterOrEqual(t, paid, pool.PayoutPot-3)

	// The heaviest weight takes the largest share.
	aliceBet, _ := f.eng.GetBet(f.ctx, f.bets[alice].ID)
	bobBet, _ := f.eng.GetBet(f.ctx, f.bets[bob].ID)
	assert.Greater(t, aliceBet.Payout, bobBet.Payout)
}

func TestClaimZeroWeightSettlesSilently(t *testing.T) {
	f := newFixture(t)
	f.populate()
	f.resolve()
	f.calculateAndFinalize()

	got, err := f.svc.ClaimReward(f.ctx, carol, f.bets[carol].ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got)

	bet, err := f.eng.GetBet(f.ctx, f.bets[carol].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BetStatusSettled, bet.Status)
}

func TestClaimTwice(t *testing.T) {
	f := newFixture(t)
	f.populate()
	f.resolve()
	f.calculateAndFinalize()

	_, err := f.svc.ClaimReward(f.ctx, alice, f.bets[alice].ID)
	require.NoError(t, err)
	_, err = f.svc.ClaimReward(f.ctx, alice, f.bets[alice].ID)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestClaimBeforeFinalization(t *testing.T) {
	f := newFixture(t)
	f.populate()
	f.resolve()
	f.now = poolEnd + domain.DefaultBatchSettleWait
	_, err := f.svc.BatchCalculateOutcome(f.ctx, f.pool.ID, f.betIDs(alice, bob, carol, erin))
	require.NoError(t, err)

	_, err = f.svc.ClaimReward(f.ctx, alice, f.bets[alice].ID)
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestRefundBet(t *testing.T) {
	f := newFixture(t)
	f.populate()

	// Not before the close.
	f.now = poolEnd - 1
	_, err := f.svc.RefundBet(f.ctx, dave, f.bets[dave].ID)
	assert.ErrorIs(t, err, domain.ErrRefundNotEligible)

	f.resolve()
	treasuryBefore, err := f.vault.Balance(f.ctx, treasury)
	require.NoError(t, err)

	penalty := stake * domain.DefaultRefundPenaltyBps / domain.BpsDenominator
	got, err := f.svc.RefundBet(f.ctx, dave, f.bets[dave].ID)
	require.NoError(t, err)
	assert.Equal(t, stake-penalty, got)

	treasuryAfter, err := f.vault.Balance(f.ctx, treasury)
	require.NoError(t, err)
	assert.Equal(t, treasuryBefore+penalty, treasuryAfter, "penalty routed to the treasury")

	// A refunded bet is settled for good.
	_, err = f.svc.RefundBet(f.ctx, dave, f.bets[dave].ID)
	assert.ErrorIs(t, err, domain.ErrRefundNotEligible)
}

func TestRefundRevealedBetRejected(t *testing.T) {
	f := newFixture(t)
	f.populate()
	f.resolve()

	_, err := f.svc.RefundBet(f.ctx, alice, f.bets[alice].ID)
	assert.ErrorIs(t, err, domain.ErrRefundNotEligible)
}

func TestRefundedBetCannotClaim(t *testing.T) {
	f := newFixture(t)
	f.populate()
	f.resolve()
	f.calculateAndFinalize()

	_, err := f.svc.RefundBet(f.ctx, dave, f.bets[dave].ID)
	require.NoError(t, err)
	_, err = f.svc.ClaimReward(f.ctx, dave, f.bets[dave].ID)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
}

func TestRefundBlockedWhilePoolDelegated(t *testing.T) {
	f := newFixture(t)
	f.populate()
	f.resolve()

	// The pool record lives in the other environment; decrementing this
	// stale copy's vault balance would be silently undone at handback.
	require.NoError(t, f.ledger.Pools().Mutate(f.ctx, f.pool.ID, func(p *domain.Pool) error {
		p.Env = domain.EnvDelegated
		return nil
	}))
	_, err := f.svc.RefundBet(f.ctx, dave, f.bets[dave].ID)
	assert.ErrorIs(t, err, domain.ErrOwnershipConflict)

	// The bet is untouched and refunds normally after the handback.
	bet, err := f.eng.GetBet(f.ctx, f.bets[dave].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BetStatusCommitted, bet.Status)

	require.NoError(t, f.ledger.Pools().Mutate(f.ctx, f.pool.ID, func(p *domain.Pool) error {
		p.Env = domain.EnvPrimary
		return nil
	}))
	penalty := stake * domain.DefaultRefundPenaltyBps / domain.BpsDenominator
	got, err := f.svc.RefundBet(f.ctx, dave, f.bets[dave].ID)
	require.NoError(t, err)
	assert.Equal(t, stake-penalty, got)
}

func TestEmergencyRefundBlockedWhilePoolDelegated(t *testing.T) {
	f := newFixture(t)
	f.populate()
	f.now = poolEnd + domain.DefaultEmergencyTimeout

	require.NoError(t, f.ledger.Pools().Mutate(f.ctx, f.pool.ID, func(p *domain.Pool) error {
		p.Env = domain.EnvDelegated
		return nil
	}))
	_, err := f.svc.EmergencyRefund(f.ctx, alice, f.bets[alice].ID)
	assert.ErrorIs(t, err, domain.ErrOwnershipConflict)

	pool, err := f.ledger.Pools().Get(f.ctx, f.pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 5*stake, pool.VaultBalance, "stale copy's balance untouched")
}

func TestEmergencyRefund(t *testing.T) {
	f := newFixture(t)
	f.populate()
	// Pool is never resolved.

	f.now = poolEnd + domain.DefaultEmergencyTimeout - 1
	_, err := f.svc.EmergencyRefund(f.ctx, alice, f.bets[alice].ID)
	assert.ErrorIs(t, err, domain.ErrRefundNotEligible)

	f.now = poolEnd + domain.DefaultEmergencyTimeout
	before, err := f.vault.Balance(f.ctx, alice)
	require.NoError(t, err)
	got, err := f.svc.EmergencyRefund(f.ctx, alice, f.bets[alice].ID)
	require.NoError(t, err)
	assert.Equal(t, stake, got, "emergency refund returns the full stake")

	after, err := f.vault.Balance(f.ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, before+stake, after)

	_, err = f.svc.EmergencyRefund(f.ctx, alice, f.bets[alice].ID)
	assert.ErrorIs(t, err, domain.ErrRefundNotEligible)
}

func TestEmergencyRefundResolvedPoolRejected(t *testing.T) {
	f := newFixture(t)
	f.populate()
	f.resolve()

	f.now = poolEnd + domain.DefaultEmergencyTimeout
	_, err := f.svc.EmergencyRefund(f.ctx, alice, f.bets[alice].ID)
	assert.ErrorIs(t, err, domain.ErrRefundNotEligible)
}
