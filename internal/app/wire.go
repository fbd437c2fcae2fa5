package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/swivlabs/swiv-engine/internal/auth"
	s3blob "github.com/swivlabs/swiv-engine/internal/blob/s3"
	"github.com/swivlabs/swiv-engine/internal/cache/redis"
	"github.com/swivlabs/swiv-engine/internal/config"
	"github.com/swivlabs/swiv-engine/internal/custody"
	"github.com/swivlabs/swiv-engine/internal/domain"
	"github.com/swivlabs/swiv-engine/internal/server/ws"
	"github.com/swivlabs/swiv-engine/internal/settlement"
	"github.com/swivlabs/swiv-engine/internal/store/memory"
	"github.com/swivlabs/swiv-engine/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Primary-environment stores. Backed by Postgres or by an in-process
	// ledger depending on store.backend.
	PrimaryPools domain.PoolStore
	PrimaryBets  domain.BetStore
	Grants       domain.GrantStore
	Protocol     domain.ProtocolStore

	// Delegated-environment stores. The delegated record space is
	// ephemeral by design, so it always lives in process.
	DelegatedPools domain.PoolStore
	DelegatedBets  domain.BetStore

	// Coordination
	Locks domain.LockManager
	Bus   domain.EventBus
	// Events is the subscription view of Bus for the WebSocket hub.
	Events ws.EventSource

	// Custody and credentials
	Vault    *custody.Ledger
	Sessions auth.Provider

	// Optional settlement snapshot archival.
	Archiver settlement.Archiver

	// Pingers are health probes for the wired backing services.
	Pingers map[string]func(context.Context) error
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Pingers: make(map[string]func(context.Context) error),
	}

	// --- Primary-environment persistence ---
	switch cfg.Store.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PrimaryPools = postgres.NewPoolStore(pool)
		deps.PrimaryBets = postgres.NewBetStore(pool)
		deps.Grants = postgres.NewGrantStore(pool)
		deps.Protocol = postgres.NewProtocolStore(pool)
		deps.Pingers["postgres"] = func(ctx context.Context) error {
			return pool.Ping(ctx)
		}
	default:
		ledger := memory.NewLedger()
		deps.PrimaryPools = ledger.Pools()
		deps.PrimaryBets = ledger.Bets()
		deps.Grants = ledger.Grants()
		deps.Protocol = memory.NewProtocolStore()
	}

	// --- Delegated environment ---
	delegated := memory.NewLedger()
	deps.DelegatedPools = delegated.Pools()
	deps.DelegatedBets = delegated.Bets()

	// --- Redis (handoff locks and cross-process event feed) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		bus := redis.NewEventBus(redisClient)
		deps.Bus = bus
		deps.Events = bus
		deps.Pingers["redis"] = redisClient.Ping
	} else {
		deps.Locks = memory.NewLockManager()
		bus := memory.NewBus()
		deps.Bus = bus
		deps.Events = bus
	}

	// --- S3 snapshot archival ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewSnapshotArchiver(s3Client)
		deps.Pingers["s3"] = s3Client.Health
	}

	// --- Custody ---
	deps.Vault = custody.NewLedger()

	// --- Delegated-environment sessions ---
	// With auth_required the token must come from the environment; the
	// static provider fails closed when it is absent.
	if cfg.Delegation.AuthRequired {
		deps.Sessions = auth.StaticProvider{Token: os.Getenv("SWIV_SESSION_TOKEN")}
	} else {
		deps.Sessions = auth.StaticProvider{Token: "ambient"}
	}

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("store_backend", cfg.Store.Backend),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("s3", cfg.S3.Enabled),
	)

	return deps, cleanup, nil
}
