// Package settlement computes bet weights from revealed predictions and the
// resolved outcome, finalizes the fee and payout pot, and settles claims
// and refunds.
//
// The single-record calculation is a batch of size one over the same core
// routine as the batched form, so both paths produce identical ledger state
// by construction. Per-record idempotence (a calculated bet is rejected,
// never re-accumulated) makes partially-applied batches safe to retry in
// any order.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/swivlabs/swiv-engine/internal/auth"
	"github.com/swivlabs/swiv-engine/internal/custody"
	"github.com/swivlabs/swiv-engine/internal/domain"
)

// Archiver persists a snapshot of a finalized pool to blob storage.
type Archiver interface {
	ArchivePool(ctx context.Context, snap PoolSnapshot) error
}

// PoolSnapshot is the JSON document archived at finalization.
type PoolSnapshot struct {
	Pool        domain.Pool  `json:"pool"`
	Bets        []domain.Bet `json:"bets"`
	FeeAmount   uint64       `json:"fee_amount"`
	FinalizedAt time.Time    `json:"finalized_at"`
}

// Service runs settlement operations against one environment's ledger.
type Service struct {
	env      domain.Environment
	pools    domain.PoolStore
	bets     domain.BetStore
	protocol domain.ProtocolStore
	vault    custody.Service
	sessions auth.Provider
	archiver Archiver
	bus      domain.EventBus
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a settlement service bound to env.
func NewService(
	env domain.Environment,
	pools domain.PoolStore,
	bets domain.BetStore,
	protocol domain.ProtocolStore,
	vault custody.Service,
	bus domain.EventBus,
	logger *slog.Logger,
) *Service {
	return &Service{
		env:      env,
		pools:    pools,
		bets:     bets,
		protocol: protocol,
		vault:    vault,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

// WithSessions attaches the delegated-environment credential provider.
func (s *Service) WithSessions(p auth.Provider) *Service {
	s.sessions = p
	return s
}

// WithArchiver attaches a finalization snapshot archiver.
func (s *Service) WithArchiver(a Archiver) *Service {
	s.archiver = a
	return s
}

// WithClock overrides the time source. Test helper.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CalcResult is the per-record outcome of a weight calculation.
type CalcResult struct {
	BetID  common.Hash
	Weight uint256.Int
	Class  Class
	Err    error
}

// CalculateOutcome computes and stores one bet's weight. Invoked directly
// by the owning bettor; not subject to the batch safety delay.
func (s *Service) CalculateOutcome(ctx context.Context, betID common.Hash) (CalcResult, error) {
	bet, err := s.bets.Get(ctx, betID)
	if err != nil {
		return CalcResult{BetID: betID, Err: err}, err
	}
	results, err := s.calculate(ctx, bet.PoolID, []common.Hash{betID}, false)
	if err != nil {
		return CalcResult{BetID: betID, Err: err}, err
	}
	res := results[0]
	return res, res.Err
}

// BatchCalculateOutcome computes weights for a set of bets in one pool.
// Requires the pool resolved and the batch safety delay elapsed, giving
// asynchronous delegated-environment state a chance to flush. Records that
// are already calculated or never revealed are rejected individually and
// do not abort the rest; the accumulator is never double-counted, and the
// final total is independent of batch order and partitioning.
func (s *Service) BatchCalculateOutcome(ctx context.Context, poolID common.Hash, betIDs []common.Hash) ([]CalcResult, error) {
	return s.calculate(ctx, poolID, betIDs, true)
}

func (s *Service) calculate(ctx context.Context, poolID common.Hash, betIDs []common.Hash, enforceDelay bool) ([]CalcResult, error) {
	if err := s.session(ctx); err != nil {
		return nil, err
	}
	pool, err := s.pools.Get(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool.Env != s.env {
		return nil, domain.ErrOwnershipConflict
	}
	if !pool.Resolved {
		return nil, domain.ErrNotReady
	}
	if pool.WeightFinalized {
		return nil, fmt.Errorf("settlement: pool finalized: %w", domain.ErrNotReady)
	}
	if enforceDelay {
		if s.now().Unix() < pool.ResolvedAt+pool.BatchSafetyDelay {
			return nil, fmt.Errorf("settlement: batch safety delay: %w", domain.ErrNotReady)
		}
	}

	results := make([]CalcResult, 0, len(betIDs))
	for _, betID := range betIDs {
		results = append(results, s.calculateOne(ctx, pool, betID))
	}
	return results, nil
}

// calculateOne computes one bet's weight and accumulates it into the pool
// total. The status flip and the weight write happen in one atomic record
// mutation, so a concurrent or repeated call sees Calculated and is
// rejected before it can touch the accumulator.
func (s *Service) calculateOne(ctx context.Context, pool domain.Pool, betID common.Hash) CalcResult {
	res := CalcResult{BetID: betID}

	err := s.bets.Mutate(ctx, betID, func(b *domain.Bet) error {
		if b.PoolID != pool.ID {
			return fmt.Errorf("settlement: bet %s not in pool %s", betID.Hex(), pool.ID.Hex())
		}
		if b.Env != s.env {
			return domain.ErrOwnershipConflict
		}
		switch b.Status {
		case domain.BetStatusRevealed:
		case domain.BetStatusCalculated, domain.BetStatusSettled:
			return domain.ErrAlreadyCalculated
		default:
			return domain.ErrNotRevealed
		}

		accuracy := AccuracyScore(b.Prediction, pool.ResolvedOutcome, pool.AccuracyBuffer)
		timeBonus := TimeBonus(pool.StartTime, pool.EndTime, b.EntryTime)
		conviction := ConvictionBonus(b.UpdateCount)

		b.Weight = Weight(b.Amount, accuracy, timeBonus, conviction)
		b.WeightAdded = true
		b.Status = domain.BetStatusCalculated

		res.Weight = b.Weight
		res.Class = Classify(b.Prediction, pool.ResolvedOutcome, pool.AccuracyBuffer)
		return nil
	})
	if err != nil {
		res.Err = err
		return res
	}

	if err := s.pools.Mutate(ctx, pool.ID, func(p *domain.Pool) error {
		p.TotalWeight.Add(&p.TotalWeight, &res.Weight)
		return nil
	}); err != nil {
		res.Err = fmt.Errorf("settlement: accumulate weight: %w", err)
		return res
	}

	s.publish(ctx, domain.Event{
		Type:   domain.EventOutcomeCalculated,
		Pool:   pool.ID,
		Bet:    betID,
		Weight: res.Weight.Dec(),
	})
	return res
}

// FinalizeWeights locks the pool's total winning weight, withholds the
// stake of never-revealed bets for refunds, transfers the protocol fee on
// the remainder to the treasury, and snapshots the payout pot every claim
// will be priced against. One-time; fails with ErrNotReady while any
// revealed bet still lacks a weight, and with ErrChildrenStillDelegated
// while any bet lives in the other environment.
func (s *Service) FinalizeWeights(ctx context.Context, actor common.Address, poolID common.Hash) error {
	if err := s.session(ctx); err != nil {
		return err
	}
	cfg, err := s.protocol.Get(ctx)
	if err != nil {
		return fmt.Errorf("settlement: read protocol config: %w", err)
	}
	if cfg.Admin != actor {
		return domain.ErrUnauthorized
	}

	bets, err := s.bets.ListByPool(ctx, poolID)
	if err != nil {
		return fmt.Errorf("settlement: list bets: %w", err)
	}
	var withheld uint64
	for _, b := range bets {
		// A bet living in the other environment may have revealed or
		// updated there; this ledger's copy is stale. Finalizing over
		// it would withhold a revealed stake with no way to ever
		// calculate or refund it, so the pool must be fully
		// undelegated first.
		if b.Env != s.env {
			return fmt.Errorf("settlement: bet %s delegated: %w", b.ID.Hex(), domain.ErrChildrenStillDelegated)
		}
		switch b.Status {
		case domain.BetStatusRevealed:
			return fmt.Errorf("settlement: bet %s uncalculated: %w", b.ID.Hex(), domain.ErrNotReady)
		case domain.BetStatusCommitted:
			// Never revealed: excluded from settlement, stake
			// withheld for refund.
			withheld += b.Amount
		}
	}

	var (
		feeAmount uint64
		treasury  = cfg.Treasury
		vaultAcct common.Address
	)
	err = s.pools.Mutate(ctx, poolID, func(p *domain.Pool) error {
		if p.Env != s.env {
			return domain.ErrOwnershipConflict
		}
		if !p.Resolved {
			return domain.ErrNotReady
		}
		if p.WeightFinalized {
			return domain.ErrAlreadyResolved
		}
		base := p.VaultBalance - withheld
		feeAmount = base * p.FeeBps / domain.BpsDenominator
		p.VaultBalance -= feeAmount
		p.PayoutPot = base - feeAmount
		p.WeightFinalized = true
		vaultAcct = p.Vault
		return nil
	})
	if err != nil {
		return err
	}

	if feeAmount > 0 {
		if err := s.vault.Transfer(ctx, vaultAcct, treasury, feeAmount); err != nil {
			return fmt.Errorf("settlement: fee transfer: %w", err)
		}
	}

	s.publish(ctx, domain.Event{Type: domain.EventWeightsFinalized, Pool: poolID, Actor: actor, Amount: feeAmount})
	s.logger.Info("weights finalized",
		slog.String("pool", poolID.Hex()),
		slog.Uint64("fee", feeAmount),
	)

	s.archive(ctx, poolID, feeAmount)
	return nil
}

// ClaimReward pays a calculated bet its share of the payout pot:
// pot x weight / totalWeight, both read from the finalize-time snapshot so
// concurrent claims never race on a moving denominator. A zero-weight claim
// settles silently with no payout; claiming twice fails with
// ErrNothingToClaim.
func (s *Service) ClaimReward(ctx context.Context, actor common.Address, betID common.Hash) (uint64, error) {
	if err := s.session(ctx); err != nil {
		return 0, err
	}
	bet, err := s.bets.Get(ctx, betID)
	if err != nil {
		return 0, err
	}
	pool, err := s.pools.Get(ctx, bet.PoolID)
	if err != nil {
		return 0, err
	}
	if pool.Env != s.env {
		return 0, domain.ErrOwnershipConflict
	}
	if !pool.WeightFinalized {
		return 0, domain.ErrNotReady
	}

	var payout uint64
	err = s.bets.Mutate(ctx, betID, func(b *domain.Bet) error {
		if b.Owner != actor {
			return domain.ErrUnauthorized
		}
		if b.Env != s.env {
			return domain.ErrOwnershipConflict
		}
		switch b.Status {
		case domain.BetStatusCalculated:
		case domain.BetStatusSettled:
			return domain.ErrNothingToClaim
		default:
			return domain.ErrNotReady
		}
		payout = Payout(pool.PayoutPot, &b.Weight, &pool.TotalWeight)
		b.Payout = payout
		b.Status = domain.BetStatusSettled
		return nil
	})
	if err != nil {
		return 0, err
	}

	if payout > 0 {
		if err := s.pools.Mutate(ctx, pool.ID, func(p *domain.Pool) error {
			if payout > p.VaultBalance {
				return domain.ErrInsufficientFunds
			}
			p.VaultBalance -= payout
			return nil
		}); err != nil {
			return 0, err
		}
		if err := s.vault.Transfer(ctx, pool.Vault, actor, payout); err != nil {
			return 0, fmt.Errorf("settlement: payout transfer: %w", err)
		}
	}

	s.publish(ctx, domain.Event{Type: domain.EventRewardClaimed, Pool: pool.ID, Bet: betID, Actor: actor, Amount: payout})
	return payout, nil
}

// RefundBet returns the stake of a bet that never revealed, minus the
// refund penalty routed to the treasury. Only valid once the pool has
// expired. A refunded bet is Settled and can never also claim.
func (s *Service) RefundBet(ctx context.Context, actor common.Address, betID common.Hash) (uint64, error) {
	if err := s.session(ctx); err != nil {
		return 0, err
	}
	cfg, err := s.protocol.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("settlement: read protocol config: %w", err)
	}

	bet, err := s.bets.Get(ctx, betID)
	if err != nil {
		return 0, err
	}
	pool, err := s.pools.Get(ctx, bet.PoolID)
	if err != nil {
		return 0, err
	}
	if pool.Env != s.env {
		return 0, domain.ErrOwnershipConflict
	}
	if s.now().Unix() < pool.EndTime {
		return 0, domain.ErrRefundNotEligible
	}

	penalty := bet.Amount * cfg.RefundPenaltyBps / domain.BpsDenominator
	refund := bet.Amount - penalty

	err = s.bets.Mutate(ctx, betID, func(b *domain.Bet) error {
		if b.Owner != actor {
			return domain.ErrUnauthorized
		}
		if b.Env != s.env {
			return domain.ErrOwnershipConflict
		}
		if b.Status != domain.BetStatusCommitted {
			return domain.ErrRefundNotEligible
		}
		b.Payout = refund
		b.Status = domain.BetStatusSettled
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := s.pools.Mutate(ctx, pool.ID, func(p *domain.Pool) error {
		if p.Env != s.env {
			return domain.ErrOwnershipConflict
		}
		if bet.Amount > p.VaultBalance {
			return domain.ErrInsufficientFunds
		}
		p.VaultBalance -= bet.Amount
		return nil
	}); err != nil {
		return 0, err
	}
	if err := s.vault.Transfer(ctx, pool.Vault, actor, refund); err != nil {
		return 0, fmt.Errorf("settlement: refund transfer: %w", err)
	}
	if penalty > 0 {
		if err := s.vault.Transfer(ctx, pool.Vault, cfg.Treasury, penalty); err != nil {
			return 0, fmt.Errorf("settlement: penalty transfer: %w", err)
		}
	}

	s.publish(ctx, domain.Event{Type: domain.EventBetRefunded, Pool: pool.ID, Bet: betID, Actor: actor, Amount: refund})
	return refund, nil
}

// EmergencyRefund returns the full stake of any unsettled bet in a pool
// that was never resolved, once the emergency timeout past the close has
// elapsed. Escape hatch for abandoned pools.
func (s *Service) EmergencyRefund(ctx context.Context, actor common.Address, betID common.Hash) (uint64, error) {
	if err := s.session(ctx); err != nil {
		return 0, err
	}
	cfg, err := s.protocol.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("settlement: read protocol config: %w", err)
	}

	bet, err := s.bets.Get(ctx, betID)
	if err != nil {
		return 0, err
	}
	pool, err := s.pools.Get(ctx, bet.PoolID)
	if err != nil {
		return 0, err
	}
	if pool.Env != s.env {
		return 0, domain.ErrOwnershipConflict
	}
	if pool.Resolved {
		return 0, domain.ErrRefundNotEligible
	}
	if s.now().Unix() < pool.EndTime+cfg.EmergencyTimeout {
		return 0, fmt.Errorf("settlement: emergency timeout not met: %w", domain.ErrRefundNotEligible)
	}

	err = s.bets.Mutate(ctx, betID, func(b *domain.Bet) error {
		if b.Owner != actor {
			return domain.ErrUnauthorized
		}
		if b.Env != s.env {
			return domain.ErrOwnershipConflict
		}
		if b.Status == domain.BetStatusSettled {
			return domain.ErrRefundNotEligible
		}
		b.Payout = bet.Amount
		b.Status = domain.BetStatusSettled
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := s.pools.Mutate(ctx, pool.ID, func(p *domain.Pool) error {
		if p.Env != s.env {
			return domain.ErrOwnershipConflict
		}
		if bet.Amount > p.VaultBalance {
			return domain.ErrInsufficientFunds
		}
		p.VaultBalance -= bet.Amount
		return nil
	}); err != nil {
		return 0, err
	}
	if err := s.vault.Transfer(ctx, pool.Vault, actor, bet.Amount); err != nil {
		return 0, fmt.Errorf("settlement: emergency refund transfer: %w", err)
	}

	s.publish(ctx, domain.Event{Type: domain.EventBetRefunded, Pool: pool.ID, Bet: betID, Actor: actor, Amount: bet.Amount})
	return bet.Amount, nil
}

func (s *Service) archive(ctx context.Context, poolID common.Hash, feeAmount uint64) {
	if s.archiver == nil {
		return
	}
	pool, err := s.pools.Get(ctx, poolID)
	if err != nil {
		s.logger.Warn("settlement: archive read pool", slog.String("error", err.Error()))
		return
	}
	bets, err := s.bets.ListByPool(ctx, poolID)
	if err != nil {
		s.logger.Warn("settlement: archive list bets", slog.String("error", err.Error()))
		return
	}
	snap := PoolSnapshot{
		Pool:        pool,
		Bets:        bets,
		FeeAmount:   feeAmount,
		FinalizedAt: s.now().UTC(),
	}
	if err := s.archiver.ArchivePool(ctx, snap); err != nil {
		s.logger.Warn("settlement: archive snapshot", slog.String("error", err.Error()))
	}
}

func (s *Service) session(ctx context.Context) error {
	if s.env != domain.EnvDelegated || s.sessions == nil {
		return nil
	}
	if _, err := s.sessions.Session(ctx); err != nil {
		return fmt.Errorf("settlement: delegated session: %w", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, ev domain.Event) {
	if s.bus == nil {
		return
	}
	ev.ID = uuid.New().String()
	ev.At = s.now().UTC()
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("settlement: publish event", slog.String("error", err.Error()))
	}
}
