// Package engine implements the pool and bet lifecycle: market creation,
// commitment-gated bet placement, reveal, the delegated update path, and
// resolution.
//
// One Service instance is bound to one execution environment. Every
// mutation re-reads the record inside the store's Mutate closure and checks
// the record's owner-environment tag against the service's own; a record
// delegated to the other side is rejected with ErrOwnershipConflict no
// matter what a stale read suggested at submission time.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/swivlabs/swiv-engine/internal/auth"
	"github.com/swivlabs/swiv-engine/internal/commit"
	"github.com/swivlabs/swiv-engine/internal/custody"
	"github.com/swivlabs/swiv-engine/internal/domain"
)

// Service runs pool/bet lifecycle operations against one environment's
// ledger.
type Service struct {
	env      domain.Environment
	pools    domain.PoolStore
	bets     domain.BetStore
	protocol domain.ProtocolStore
	vault    custody.Service
	sessions auth.Provider
	bus      domain.EventBus
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a lifecycle service bound to env.
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

// WithSessions attaches the session-credential collaborator. Required for
// delegated-environment services; ignored on the primary ledger.
func (s *Service) WithSessions(p auth.Provider) *Service {
	s.sessions = p
	return s
}

// WithClock overrides the time source. Test helper.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Env returns the environment this service operates in.
func (s *Service) Env() domain.Environment { return s.env }

// CreatePoolParams are the creation inputs a pool's identity is derived
// from.
type CreatePoolParams struct {
	Name             string
	Metadata         string
	AssetMint        common.Address
	StartTime        int64
	EndTime          int64
	AccuracyBuffer   uint64
	BatchSafetyDelay int64
}

// CreatePool allocates a pool and its zero-balance vault. The fee rate is
// snapshot from the current protocol config and immutable thereafter.
func (s *Service) CreatePool(ctx context.Context, actor common.Address, p CreatePoolParams) (domain.Pool, error) {
	if err := s.session(ctx); err != nil {
		return domain.Pool{}, err
	}
	if p.EndTime <= p.StartTime {
		return domain.Pool{}, domain.ErrInvalidWindow
	}

	cfg, err := s.protocol.Get(ctx)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("engine: read protocol config: %w", err)
	}
	if cfg.Paused {
		return domain.Pool{}, domain.ErrPaused
	}

	buffer := p.AccuracyBuffer
	if buffer == 0 {
		buffer = domain.DefaultAccuracyBuffer
	}
	delay := p.BatchSafetyDelay
	if delay == 0 {
		delay = cfg.BatchSettleWait
	}

	poolID := domain.DerivePoolID(p.Name)
	pool := domain.Pool{
		ID:               poolID,
		Name:             p.Name,
		Admin:            actor,
		Metadata:         p.Metadata,
		AssetMint:        p.AssetMint,
		Vault:            domain.DeriveVaultAccount(poolID),
		StartTime:        p.StartTime,
		EndTime:          p.EndTime,
		FeeBps:           cfg.FeeBps,
		AccuracyBuffer:   buffer,
		BatchSafetyDelay: delay,
		Env:              s.env,
		CreatedAt:        s.now().Unix(),
	}

	if err := s.pools.Create(ctx, pool); err != nil {
		return domain.Pool{}, err
	}
	_ = s.protocol.Mutate(ctx, func(cfg *domain.ProtocolConfig) error {
		cfg.TotalPools++
		return nil
	})

	s.publish(ctx, domain.Event{Type: domain.EventPoolCreated, Pool: poolID, Actor: actor})
	s.logger.Info("pool created",
		slog.String("pool", poolID.Hex()),
		slog.String("name", p.Name),
		slog.Int64("end_time", p.EndTime),
	)
	return pool, nil
}

// PlaceBet locks amount of the pool's asset against the given commitment.
// The prediction itself stays hidden until reveal.
func (s *Service) PlaceBet(ctx context.Context, actor common.Address, poolID common.Hash, requestID string, amount uint64, commitment common.Hash) (domain.Bet, error) {
	if err := s.session(ctx); err != nil {
		return domain.Bet{}, err
	}
	cfg, err := s.protocol.Get(ctx)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("engine: read protocol config: %w", err)
	}
	if cfg.Paused {
		return domain.Bet{}, domain.ErrPaused
	}

	pool, err := s.pools.Get(ctx, poolID)
	if err != nil {
		return domain.Bet{}, err
	}
	if pool.Env != s.env {
		return domain.Bet{}, domain.ErrOwnershipConflict
	}
	now := s.now().Unix()
	if !pool.AcceptsBets(now) {
		return domain.Bet{}, domain.ErrInvalidWindow
	}

	betID := domain.DeriveBetID(poolID, actor, requestID)
	if _, err := s.bets.Get(ctx, betID); err == nil {
		return domain.Bet{}, domain.ErrAlreadyExists
	}

	if err := s.vault.Transfer(ctx, actor, pool.Vault, amount); err != nil {
		return domain.Bet{}, fmt.Errorf("engine: stake transfer: %w", err)
	}

	bet := domain.Bet{
		ID:         betID,
		PoolID:     poolID,
		Owner:      actor,
		RequestID:  requestID,
		Amount:     amount,
		Commitment: commitment,
		Status:     domain.BetStatusCommitted,
		Env:        s.env,
		EntryTime:  now,
		CreatedAt:  now,
	}
	if err := s.bets.Create(ctx, bet); err != nil {
		// Unwind the stake; the record already exists.
		if terr := s.vault.Transfer(ctx, pool.Vault, actor, amount); terr != nil {
			s.logger.Error("engine: stake unwind failed",
				slog.String("bet", betID.Hex()),
				slog.String("error", terr.Error()),
			)
		}
		return domain.Bet{}, err
	}

	if err := s.pools.Mutate(ctx, poolID, func(p *domain.Pool) error {
		p.TotalStaked += amount
		p.VaultBalance += amount
		return nil
	}); err != nil {
		return domain.Bet{}, fmt.Errorf("engine: accumulate stake: %w", err)
	}

	if s.firstBetInPool(ctx, poolID, actor, betID) {
		_ = s.protocol.Mutate(ctx, func(cfg *domain.ProtocolConfig) error {
			cfg.TotalUsers++
			return nil
		})
	}

	s.publish(ctx, domain.Event{Type: domain.EventBetPlaced, Pool: poolID, Bet: betID, Actor: actor, Amount: amount})
	return bet, nil
}

// RevealBet discloses the prediction behind a commitment. The digest is
// recomputed from (prediction, salt) and must equal the stored one.
func (s *Service) RevealBet(ctx context.Context, actor common.Address, betID common.Hash, prediction uint64, salt [32]byte) error {
	if err := s.session(ctx); err != nil {
		return err
	}
	err := s.bets.Mutate(ctx, betID, func(b *domain.Bet) error {
		if b.Owner != actor {
			return domain.ErrUnauthorized
		}
		if b.Env != s.env {
			return domain.ErrOwnershipConflict
		}
		switch b.Status {
		case domain.BetStatusCommitted:
		case domain.BetStatusRevealed:
			return domain.ErrAlreadyRevealed
		default:
			return domain.ErrNotReady
		}
		if err := commit.Verify(prediction, salt, b.Commitment); err != nil {
			return err
		}
		b.Prediction = prediction
		b.Salt = salt
		b.Status = domain.BetStatusRevealed
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, domain.Event{Type: domain.EventBetRevealed, Bet: betID, Actor: actor})
	return nil
}

// UpdateBet overwrites the prediction and performs the reveal in one atomic
// step. Only available while the bet is delegated to the private
// environment, and at most once per bet; the commitment is bypassed, which
// is safe because the private environment hides the new prediction until
// undelegation.
func (s *Service) UpdateBet(ctx context.Context, actor common.Address, betID common.Hash, newPrediction uint64) error {
	if err := s.session(ctx); err != nil {
		return err
	}
	if s.env != domain.EnvDelegated {
		return domain.ErrOwnershipConflict
	}

	bet, err := s.bets.Get(ctx, betID)
	if err != nil {
		return err
	}
	pool, err := s.pools.Get(ctx, bet.PoolID)
	if err != nil {
		return err
	}
	now := s.now().Unix()
	if now >= pool.EndTime {
		return domain.ErrInvalidWindow
	}

	err = s.bets.Mutate(ctx, betID, func(b *domain.Bet) error {
		if b.Owner != actor {
			return domain.ErrUnauthorized
		}
		if b.Env != domain.EnvDelegated {
			return domain.ErrOwnershipConflict
		}
		if b.Status != domain.BetStatusCommitted && b.Status != domain.BetStatusRevealed {
			return domain.ErrNotReady
		}
		if b.UpdateCount > 0 {
			return domain.ErrAlreadyUpdated
		}
		b.Prediction = newPrediction
		b.Status = domain.BetStatusRevealed
		b.UpdateCount++
		b.EntryTime = now
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, domain.Event{Type: domain.EventBetUpdated, Bet: betID, Actor: actor})
	return nil
}

// ResolvePool records the outcome. Allowed only once the funding window has
// closed, and only once; only the protocol admin may resolve.
func (s *Service) ResolvePool(ctx context.Context, actor common.Address, poolID common.Hash, outcome uint64) error {
	if err := s.session(ctx); err != nil {
		return err
	}
	cfg, err := s.protocol.Get(ctx)
	if err != nil {
		return fmt.Errorf("engine: read protocol config: %w", err)
	}
	if cfg.Admin != actor {
		return domain.ErrUnauthorized
	}

	err = s.pools.Mutate(ctx, poolID, func(p *domain.Pool) error {
		if p.Env != s.env {
			return domain.ErrOwnershipConflict
		}
		if p.Resolved {
			return domain.ErrAlreadyResolved
		}
		now := s.now().Unix()
		if now < p.EndTime {
			return domain.ErrNotReady
		}
		p.Resolved = true
		p.ResolvedOutcome = outcome
		p.ResolvedAt = now
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, domain.Event{Type: domain.EventPoolResolved, Pool: poolID, Actor: actor, Amount: outcome})
	s.logger.Info("pool resolved",
		slog.String("pool", poolID.Hex()),
		slog.Uint64("outcome", outcome),
	)
	return nil
}

// GetPool returns a pool by ID.
func (s *Service) GetPool(ctx context.Context, id common.Hash) (domain.Pool, error) {
	return s.pools.Get(ctx, id)
}

// GetBet returns a bet by ID.
func (s *Service) GetBet(ctx context.Context, id common.Hash) (domain.Bet, error) {
	return s.bets.Get(ctx, id)
}

// ListBets returns all bets of a pool in this environment.
func (s *Service) ListBets(ctx context.Context, poolID common.Hash) ([]domain.Bet, error) {
	return s.bets.ListByPool(ctx, poolID)
}

// ListPools returns all pools in this environment.
func (s *Service) ListPools(ctx context.Context) ([]domain.Pool, error) {
	return s.pools.List(ctx)
}

// firstBetInPool reports whether betID is the owner's only bet in the pool.
// Feeds the participation counter; a stats miss here is not worth failing
// the placement over, so read errors count as not-first.
func (s *Service) firstBetInPool(ctx context.Context, poolID common.Hash, owner common.Address, betID common.Hash) bool {
	existing, err := s.bets.ListByPool(ctx, poolID)
	if err != nil {
		return false
	}
	for _, b := range existing {
		if b.Owner == owner && b.ID != betID {
			return false
		}
	}
	return true
}

// session obtains delegated-environment credentials when required. On the
// primary ledger it is a no-op.
func (s *Service) session(ctx context.Context) error {
	if s.env != domain.EnvDelegated || s.sessions == nil {
		return nil
	}
	if _, err := s.sessions.Session(ctx); err != nil {
		return fmt.Errorf("engine: delegated session: %w", err)
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
		s.logger.Warn("engine: publish event", slog.String("error", err.Error()))
	}
}
