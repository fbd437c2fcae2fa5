package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swivlabs/swiv-engine/internal/domain"
)

// ProtocolStore implements domain.ProtocolStore using PostgreSQL. The config
// is a single row guarded by a CHECK constraint.
type ProtocolStore struct {
	pool *pgxpool.Pool
}

// NewProtocolStore creates a new ProtocolStore backed by the given pool.
func NewProtocolStore(pool *pgxpool.Pool) *ProtocolStore {
	return &ProtocolStore{pool: pool}
}

const protocolCols = `admin, treasury, fee_bps, refund_penalty_bps,
	batch_settle_wait, emergency_timeout, paused, total_pools, total_users,
	updated_at`

// Init creates the singleton row, failing with domain.ErrAlreadyExists if
// the protocol was already initialized.
func (s *ProtocolStore) Init(ctx context.Context, cfg domain.ProtocolConfig) error {
	const query = `
		INSERT INTO protocol_config (id, ` + protocolCols + `)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		cfg.Admin.Bytes(), cfg.Treasury.Bytes(),
		int64(cfg.FeeBps), int64(cfg.RefundPenaltyBps),
		cfg.BatchSettleWait, cfg.EmergencyTimeout,
		cfg.Paused, int64(cfg.TotalPools), int64(cfg.TotalUsers),
		cfg.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: init protocol config: %w", err)
	}
	return nil
}

// Get retrieves the protocol config singleton.
func (s *ProtocolStore) Get(ctx context.Context) (domain.ProtocolConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+protocolCols+` FROM protocol_config WHERE id = 1`)
	cfg, err := scanProtocol(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ProtocolConfig{}, domain.ErrNotFound
		}
		return domain.ProtocolConfig{}, fmt.Errorf("postgres: get protocol config: %w", err)
	}
	return cfg, nil
}

// Mutate re-reads the config under a row lock, applies fn, and persists the
// result only when fn returns nil.
func (s *ProtocolStore) Mutate(ctx context.Context, fn func(*domain.ProtocolConfig) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin protocol mutate: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+protocolCols+` FROM protocol_config WHERE id = 1 FOR UPDATE`)
	cfg, err := scanProtocol(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: lock protocol config: %w", err)
	}

	if err := fn(&cfg); err != nil {
		return err
	}

	const query = `
		UPDATE protocol_config SET
			admin              = $1,
			treasury           = $2,
			fee_bps            = $3,
			refund_penalty_bps = $4,
			batch_settle_wait  = $5,
			emergency_timeout  = $6,
			paused             = $7,
			total_pools        = $8,
			total_users        = $9,
			updated_at         = $10
		WHERE id = 1`

	_, err = tx.Exec(ctx, query,
		cfg.Admin.Bytes(), cfg.Treasury.Bytes(),
		int64(cfg.FeeBps), int64(cfg.RefundPenaltyBps),
		cfg.BatchSettleWait, cfg.EmergencyTimeout,
		cfg.Paused, int64(cfg.TotalPools), int64(cfg.TotalUsers),
		cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update protocol config: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit protocol mutate: %w", err)
	}
	return nil
}

// scanProtocol scans the singleton row into a domain.ProtocolConfig.
func scanProtocol(row pgx.Row) (domain.ProtocolConfig, error) {
	var (
		cfg                    domain.ProtocolConfig
		admin, treasury        []byte
		feeBps, penaltyBps     int64
		totalPools, totalUsers int64
		updatedAt              time.Time
	)
	err := row.Scan(
		&admin, &treasury, &feeBps, &penaltyBps,
		&cfg.BatchSettleWait, &cfg.EmergencyTimeout,
		&cfg.Paused, &totalPools, &totalUsers, &updatedAt,
	)
	if err != nil {
		return domain.ProtocolConfig{}, err
	}

	cfg.Admin = common.BytesToAddress(admin)
	cfg.Treasury = common.BytesToAddress(treasury)
	cfg.FeeBps = uint64(feeBps)
	cfg.RefundPenaltyBps = uint64(penaltyBps)
	cfg.TotalPools = uint64(totalPools)
	cfg.TotalUsers = uint64(totalUsers)
	cfg.UpdatedAt = updatedAt
	return cfg, nil
}

// Compile-time interface check.
var _ domain.ProtocolStore = (*ProtocolStore)(nil)
