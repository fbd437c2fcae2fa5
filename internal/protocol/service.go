// Package protocol implements the administrative lifecycle of the global
// protocol config: one-time initialization, fee and treasury updates, the
// pause circuit breaker, and admin rotation.
package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/swivlabs/swiv-engine/internal/domain"
)

// Service mutates the protocol config singleton. All operations re-read the
// authoritative record inside the store's Mutate closure.
type Service struct {
	store  domain.ProtocolStore
	bus    domain.EventBus
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a protocol admin service.
func NewService(store domain.ProtocolStore, bus domain.EventBus, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Test helper.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Initialize creates the protocol config singleton. A repeated call is
// rejected with domain.ErrAlreadyExists; admin tooling treats that as
// "already initialized" and falls back to Update.
func (s *Service) Initialize(ctx context.Context, admin, treasury common.Address, feeBps uint64) (domain.ProtocolConfig, error) {
	if feeBps > domain.BpsDenominator {
		return domain.ProtocolConfig{}, fmt.Errorf("protocol: fee %d bps out of range", feeBps)
	}

	cfg := domain.ProtocolConfig{
		Admin:            admin,
		Treasury:         treasury,
		FeeBps:           feeBps,
		RefundPenaltyBps: domain.DefaultRefundPenaltyBps,
		BatchSettleWait:  domain.DefaultBatchSettleWait,
		EmergencyTimeout: domain.DefaultEmergencyTimeout,
		UpdatedAt:        s.now().UTC(),
	}
	if err := s.store.Init(ctx, cfg); err != nil {
		return domain.ProtocolConfig{}, err
	}

	s.publish(ctx, domain.Event{Type: domain.EventProtocolInitialized, Actor: admin})
	s.logger.Info("protocol initialized",
		slog.String("admin", admin.Hex()),
		slog.Uint64("fee_bps", feeBps),
	)
	return cfg, nil
}

// Update applies the non-nil fields of upd. Only the current admin may
// call it.
func (s *Service) Update(ctx context.Context, actor common.Address, upd domain.ConfigUpdate) error {
	err := s.store.Mutate(ctx, func(cfg *domain.ProtocolConfig) error {
		if cfg.Admin != actor {
			return domain.ErrUnauthorized
		}
		if upd.FeeBps != nil {
			if *upd.FeeBps > domain.BpsDenominator {
				return fmt.Errorf("protocol: fee %d bps out of range", *upd.FeeBps)
			}
			cfg.FeeBps = *upd.FeeBps
		}
		if upd.Treasury != nil {
			cfg.Treasury = *upd.Treasury
		}
		if upd.RefundPenaltyBps != nil {
			if *upd.RefundPenaltyBps > domain.BpsDenominator {
				return fmt.Errorf("protocol: refund penalty %d bps out of range", *upd.RefundPenaltyBps)
			}
			cfg.RefundPenaltyBps = *upd.RefundPenaltyBps
		}
		if upd.BatchSettleWait != nil {
			cfg.BatchSettleWait = *upd.BatchSettleWait
		}
		cfg.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, domain.Event{Type: domain.EventConfigUpdated, Actor: actor})
	return nil
}

// SetPaused flips the circuit breaker. While paused, fund-accepting
// operations are rejected with domain.ErrPaused.
func (s *Service) SetPaused(ctx context.Context, actor common.Address, paused bool) error {
	return s.store.Mutate(ctx, func(cfg *domain.ProtocolConfig) error {
		if cfg.Admin != actor {
			return domain.ErrUnauthorized
		}
		cfg.Paused = paused
		cfg.UpdatedAt = s.now().UTC()
		return nil
	})
}

// TransferAdmin hands the admin role to a new address.
func (s *Service) TransferAdmin(ctx context.Context, actor, newAdmin common.Address) error {
	return s.store.Mutate(ctx, func(cfg *domain.ProtocolConfig) error {
		if cfg.Admin != actor {
			return domain.ErrUnauthorized
		}
		cfg.Admin = newAdmin
		cfg.UpdatedAt = s.now().UTC()
		return nil
	})
}

// Get returns the current config.
func (s *Service) Get(ctx context.Context) (domain.ProtocolConfig, error) {
	return s.store.Get(ctx)
}

func (s *Service) publish(ctx context.Context, ev domain.Event) {
	if s.bus == nil {
		return
	}
	ev.ID = uuid.New().String()
	ev.At = s.now().UTC()
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("protocol: publish event", slog.String("error", err.Error()))
	}
}
