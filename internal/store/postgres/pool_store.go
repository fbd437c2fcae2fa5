package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swivlabs/swiv-engine/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL. Mutate runs inside
// a transaction holding a row lock, so concurrent ownership and status
// checks always observe committed state.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

const poolCols = `id, name, admin, metadata, asset_mint, vault,
	start_time, end_time, fee_bps, accuracy_buffer, batch_safety_delay,
	resolved, resolved_outcome, resolved_at, total_staked, vault_balance,
	total_weight, weight_finalized, payout_pot, env, handoffs, created_at`

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Create inserts a new pool, failing with domain.ErrAlreadyExists when the
// identity is taken.
func (s *PoolStore) Create(ctx context.Context, p domain.Pool) error {
	handoffs, err := json.Marshal(p.Handoffs)
	if err != nil {
		return fmt.Errorf("postgres: marshal pool handoffs: %w", err)
	}

	const query = `
		INSERT INTO pools (` + poolCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	_, err = s.pool.Exec(ctx, query,
		p.ID.Bytes(), p.Name, p.Admin.Bytes(), p.Metadata,
		p.AssetMint.Bytes(), p.Vault.Bytes(),
		p.StartTime, p.EndTime, int64(p.FeeBps), int64(p.AccuracyBuffer), p.BatchSafetyDelay,
		p.Resolved, int64(p.ResolvedOutcome), p.ResolvedAt,
		int64(p.TotalStaked), int64(p.VaultBalance),
		p.TotalWeight.Dec(), p.WeightFinalized, int64(p.PayoutPot),
		string(p.Env), handoffs, p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create pool %s: %w", p.ID, err)
	}
	return nil
}

// Get retrieves a pool by its identity.
func (s *PoolStore) Get(ctx context.Context, id common.Hash) (domain.Pool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+poolCols+` FROM pools WHERE id = $1`, id.Bytes())
	p, err := scanPool(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Pool{}, domain.ErrNotFound
		}
		return domain.Pool{}, fmt.Errorf("postgres: get pool %s: %w", id, err)
	}
	return p, nil
}

// Mutate re-reads the pool under a row lock, applies fn, and persists the
// result only when fn returns nil. The fn error is returned unchanged so
// sentinel comparisons at the call site keep working.
func (s *PoolStore) Mutate(ctx context.Context, id common.Hash, fn func(*domain.Pool) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin pool mutate: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+poolCols+` FROM pools WHERE id = $1 FOR UPDATE`, id.Bytes())
	p, err := scanPool(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: lock pool %s: %w", id, err)
	}

	if err := fn(&p); err != nil {
		return err
	}

	if err := updatePool(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit pool mutate %s: %w", id, err)
	}
	return nil
}

// List returns every pool ordered by creation time.
func (s *PoolStore) List(ctx context.Context) ([]domain.Pool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolCols+` FROM pools ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pools rows: %w", err)
	}
	return pools, nil
}

// Put upserts a pool wholesale. Used by the delegation handoff to
// materialize a record in the receiving environment.
func (s *PoolStore) Put(ctx context.Context, p domain.Pool) error {
	handoffs, err := json.Marshal(p.Handoffs)
	if err != nil {
		return fmt.Errorf("postgres: marshal pool handoffs: %w", err)
	}

	const query = `
		INSERT INTO pools (` + poolCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO UPDATE SET
			name               = EXCLUDED.name,
			admin              = EXCLUDED.admin,
			metadata           = EXCLUDED.metadata,
			asset_mint         = EXCLUDED.asset_mint,
			vault              = EXCLUDED.vault,
			start_time         = EXCLUDED.start_time,
			end_time           = EXCLUDED.end_time,
			fee_bps            = EXCLUDED.fee_bps,
			accuracy_buffer    = EXCLUDED.accuracy_buffer,
			batch_safety_delay = EXCLUDED.batch_safety_delay,
			resolved           = EXCLUDED.resolved,
			resolved_outcome   = EXCLUDED.resolved_outcome,
			resolved_at        = EXCLUDED.resolved_at,
			total_staked       = EXCLUDED.total_staked,
			vault_balance      = EXCLUDED.vault_balance,
			total_weight       = EXCLUDED.total_weight,
			weight_finalized   = EXCLUDED.weight_finalized,
			payout_pot         = EXCLUDED.payout_pot,
			env                = EXCLUDED.env,
			handoffs           = EXCLUDED.handoffs,
			created_at         = EXCLUDED.created_at`

	_, err = s.pool.Exec(ctx, query,
		p.ID.Bytes(), p.Name, p.Admin.Bytes(), p.Metadata,
		p.AssetMint.Bytes(), p.Vault.Bytes(),
		p.StartTime, p.EndTime, int64(p.FeeBps), int64(p.AccuracyBuffer), p.BatchSafetyDelay,
		p.Resolved, int64(p.ResolvedOutcome), p.ResolvedAt,
		int64(p.TotalStaked), int64(p.VaultBalance),
		p.TotalWeight.Dec(), p.WeightFinalized, int64(p.PayoutPot),
		string(p.Env), handoffs, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put pool %s: %w", p.ID, err)
	}
	return nil
}

// Delete removes a pool record.
func (s *PoolStore) Delete(ctx context.Context, id common.Hash) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pools WHERE id = $1`, id.Bytes())
	if err != nil {
		return fmt.Errorf("postgres: delete pool %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// updatePool writes every mutable column back inside the Mutate transaction.
func updatePool(ctx context.Context, tx pgx.Tx, p domain.Pool) error {
	handoffs, err := json.Marshal(p.Handoffs)
	if err != nil {
		return fmt.Errorf("postgres: marshal pool handoffs: %w", err)
	}

	const query = `
		UPDATE pools SET
			metadata           = $2,
			start_time         = $3,
			end_time           = $4,
			resolved           = $5,
			resolved_outcome   = $6,
			resolved_at        = $7,
			total_staked       = $8,
			vault_balance      = $9,
			total_weight       = $10,
			weight_finalized   = $11,
			payout_pot         = $12,
			env                = $13,
			handoffs           = $14
		WHERE id = $1`

	_, err = tx.Exec(ctx, query,
		p.ID.Bytes(), p.Metadata, p.StartTime, p.EndTime,
		p.Resolved, int64(p.ResolvedOutcome), p.ResolvedAt,
		int64(p.TotalStaked), int64(p.VaultBalance),
		p.TotalWeight.Dec(), p.WeightFinalized, int64(p.PayoutPot),
		string(p.Env), handoffs,
	)
	if err != nil {
		return fmt.Errorf("postgres: update pool %s: %w", p.ID, err)
	}
	return nil
}

// scanPool scans a single pool row into a domain.Pool.
func scanPool(row pgx.Row) (domain.Pool, error) {
	var (
		p                               domain.Pool
		id, admin, assetMint, vault     []byte
		feeBps, buffer, outcome         int64
		totalStaked, vaultBalance, pot  int64
		weight                          string
		env                             string
		handoffs                        []byte
	)
	err := row.Scan(
		&id, &p.Name, &admin, &p.Metadata, &assetMint, &vault,
		&p.StartTime, &p.EndTime, &feeBps, &buffer, &p.BatchSafetyDelay,
		&p.Resolved, &outcome, &p.ResolvedAt, &totalStaked, &vaultBalance,
		&weight, &p.WeightFinalized, &pot, &env, &handoffs, &p.CreatedAt,
	)
	if err != nil {
		return domain.Pool{}, err
	}

	p.ID = common.BytesToHash(id)
	p.Admin = common.BytesToAddress(admin)
	p.AssetMint = common.BytesToAddress(assetMint)
	p.Vault = common.BytesToAddress(vault)
	p.FeeBps = uint64(feeBps)
	p.AccuracyBuffer = uint64(buffer)
	p.ResolvedOutcome = uint64(outcome)
	p.TotalStaked = uint64(totalStaked)
	p.VaultBalance = uint64(vaultBalance)
	p.PayoutPot = uint64(pot)
	p.Env = domain.Environment(env)

	w, err := uint256.FromDecimal(weight)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("parse total_weight %q: %w", weight, err)
	}
	p.TotalWeight = *w

	if err := json.Unmarshal(handoffs, &p.Handoffs); err != nil {
		return domain.Pool{}, fmt.Errorf("unmarshal handoffs: %w", err)
	}
	return p, nil
}

// Compile-time interface check.
var _ domain.PoolStore = (*PoolStore)(nil)
