// Package app provides the top-level application lifecycle management for
// the settlement engine. It wires together all dependencies (stores, locks,
// the event bus, blob storage, and services) and starts the appropriate
// goroutines based on the configured operating mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/swivlabs/swiv-engine/internal/config"
	"github.com/swivlabs/swiv-engine/internal/delegation"
	"github.com/swivlabs/swiv-engine/internal/domain"
	"github.com/swivlabs/swiv-engine/internal/engine"
	"github.com/swivlabs/swiv-engine/internal/protocol"
	"github.com/swivlabs/swiv-engine/internal/settlement"
)

// App is the root application object. It owns the configuration, logger,
// and a list of cleanup functions that are called in reverse order on
// shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// services bundles the domain services built on top of wired dependencies.
type services struct {
	Protocol   *protocol.Service
	Primary    *engine.Service
	Delegated  *engine.Service
	Delegation *delegation.Controller
	Settlement *settlement.Service
}

// buildServices constructs the service layer for both environments.
func (a *App) buildServices(deps *Dependencies) *services {
	protoSvc := protocol.NewService(deps.Protocol, deps.Bus, a.logger)

	primary := engine.NewService(
		domain.EnvPrimary,
		deps.PrimaryPools, deps.PrimaryBets,
		deps.Protocol, deps.Vault, deps.Bus, a.logger,
	)
	delegated := engine.NewService(
		domain.EnvDelegated,
		deps.DelegatedPools, deps.DelegatedBets,
		deps.Protocol, deps.Vault, deps.Bus, a.logger,
	).WithSessions(deps.Sessions)

	ctrl := delegation.NewController(
		delegation.Env{Pools: deps.PrimaryPools, Bets: deps.PrimaryBets},
		delegation.Env{Pools: deps.DelegatedPools, Bets: deps.DelegatedBets},
		deps.Grants, deps.Protocol, deps.Locks, deps.Sessions, deps.Bus, a.logger,
	).WithHandoffTTL(a.cfg.Delegation.HandoffTTL.Duration).
		WithPollInterval(a.cfg.Delegation.PollInterval.Duration)

	settleSvc := settlement.NewService(
		domain.EnvPrimary,
		deps.PrimaryPools, deps.PrimaryBets,
		deps.Protocol, deps.Vault, deps.Bus, a.logger,
	)
	if deps.Archiver != nil {
		settleSvc.WithArchiver(deps.Archiver)
	}

	return &services{
		Protocol:   protoSvc,
		Primary:    primary,
		Delegated:  delegated,
		Delegation: ctrl,
		Settlement: settleSvc,
	}
}

// bootstrapProtocol creates the protocol config record from the bootstrap
// section on first start. An existing record wins over the file.
func (a *App) bootstrapProtocol(ctx context.Context, svcs *services) error {
	boot := a.cfg.ProtocolDefaults()
	_, err := svcs.Protocol.Initialize(ctx, boot.Admin, boot.Treasury, boot.FeeBps)
	switch {
	case err == nil:
		upd := domain.ConfigUpdate{
			RefundPenaltyBps: &boot.RefundPenaltyBps,
			BatchSettleWait:  &boot.BatchSettleWait,
		}
		if err := svcs.Protocol.Update(ctx, boot.Admin, upd); err != nil {
			return fmt.Errorf("app: apply bootstrap config: %w", err)
		}
		a.logger.InfoContext(ctx, "protocol config initialized",
			slog.String("admin", boot.Admin.Hex()),
			slog.Uint64("fee_bps", boot.FeeBps),
		)
	case errors.Is(err, domain.ErrAlreadyExists):
		a.logger.DebugContext(ctx, "protocol config already initialized")
	default:
		return fmt.Errorf("app: initialize protocol config: %w", err)
	}
	return nil
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	svcs := a.buildServices(deps)
	if err := a.bootstrapProtocol(ctx, svcs); err != nil {
		return err
	}

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "server":
		return a.ServerMode(ctx, deps, svcs)
	case "worker":
		return a.WorkerMode(ctx, deps, svcs)
	case "full":
		return a.FullMode(ctx, deps, svcs)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
