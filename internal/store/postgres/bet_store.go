package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swivlabs/swiv-engine/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betCols = `id, pool_id, owner, request_id, amount, commitment,
	prediction, salt, update_count, weight, weight_added, payout,
	status, env, grant_id, handoffs, entry_time, created_at`

// Create inserts a new bet, failing with domain.ErrAlreadyExists when the
// identity is taken.
func (s *BetStore) Create(ctx context.Context, b domain.Bet) error {
	handoffs, err := json.Marshal(b.Handoffs)
	if err != nil {
		return fmt.Errorf("postgres: marshal bet handoffs: %w", err)
	}

	const query = `
		INSERT INTO bets (` + betCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18)`

	_, err = s.pool.Exec(ctx, query,
		b.ID.Bytes(), b.PoolID.Bytes(), b.Owner.Bytes(), b.RequestID,
		int64(b.Amount), b.Commitment.Bytes(),
		int64(b.Prediction), b.Salt[:], int32(b.UpdateCount),
		b.Weight.Dec(), b.WeightAdded, int64(b.Payout),
		string(b.Status), string(b.Env), b.GrantID.Bytes(),
		handoffs, b.EntryTime, b.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create bet %s: %w", b.ID, err)
	}
	return nil
}

// Get retrieves a bet by its identity.
func (s *BetStore) Get(ctx context.Context, id common.Hash) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+betCols+` FROM bets WHERE id = $1`, id.Bytes())
	b, err := scanBet(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %s: %w", id, err)
	}
	return b, nil
}

// Mutate re-reads the bet under a row lock, applies fn, and persists the
// result only when fn returns nil.
func (s *BetStore) Mutate(ctx context.Context, id common.Hash, fn func(*domain.Bet) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin bet mutate: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+betCols+` FROM bets WHERE id = $1 FOR UPDATE`, id.Bytes())
	b, err := scanBet(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: lock bet %s: %w", id, err)
	}

	if err := fn(&b); err != nil {
		return err
	}

	if err := updateBet(ctx, tx, b); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit bet mutate %s: %w", id, err)
	}
	return nil
}

// ListByPool returns every bet belonging to the pool, oldest first.
func (s *BetStore) ListByPool(ctx context.Context, poolID common.Hash) ([]domain.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betCols+` FROM bets WHERE pool_id = $1 ORDER BY created_at ASC`,
		poolID.Bytes())
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for pool %s: %w", poolID, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

// Put upserts a bet wholesale. Used by the delegation handoff to materialize
// a record in the receiving environment.
func (s *BetStore) Put(ctx context.Context, b domain.Bet) error {
	handoffs, err := json.Marshal(b.Handoffs)
	if err != nil {
		return fmt.Errorf("postgres: marshal bet handoffs: %w", err)
	}

	const query = `
		INSERT INTO bets (` + betCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			amount       = EXCLUDED.amount,
			commitment   = EXCLUDED.commitment,
			prediction   = EXCLUDED.prediction,
			salt         = EXCLUDED.salt,
			update_count = EXCLUDED.update_count,
			weight       = EXCLUDED.weight,
			weight_added = EXCLUDED.weight_added,
			payout       = EXCLUDED.payout,
			status       = EXCLUDED.status,
			env          = EXCLUDED.env,
			grant_id     = EXCLUDED.grant_id,
			handoffs     = EXCLUDED.handoffs,
			entry_time   = EXCLUDED.entry_time`

	_, err = s.pool.Exec(ctx, query,
		b.ID.Bytes(), b.PoolID.Bytes(), b.Owner.Bytes(), b.RequestID,
		int64(b.Amount), b.Commitment.Bytes(),
		int64(b.Prediction), b.Salt[:], int32(b.UpdateCount),
		b.Weight.Dec(), b.WeightAdded, int64(b.Payout),
		string(b.Status), string(b.Env), b.GrantID.Bytes(),
		handoffs, b.EntryTime, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put bet %s: %w", b.ID, err)
	}
	return nil
}

// Delete removes a bet record.
func (s *BetStore) Delete(ctx context.Context, id common.Hash) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bets WHERE id = $1`, id.Bytes())
	if err != nil {
		return fmt.Errorf("postgres: delete bet %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// updateBet writes every mutable column back inside the Mutate transaction.
func updateBet(ctx context.Context, tx pgx.Tx, b domain.Bet) error {
	handoffs, err := json.Marshal(b.Handoffs)
	if err != nil {
		return fmt.Errorf("postgres: marshal bet handoffs: %w", err)
	}

	const query = `
		UPDATE bets SET
			amount       = $2,
			commitment   = $3,
			prediction   = $4,
			salt         = $5,
			update_count = $6,
			weight       = $7,
			weight_added = $8,
			payout       = $9,
			status       = $10,
			env          = $11,
			grant_id     = $12,
			handoffs     = $13,
			entry_time   = $14
		WHERE id = $1`

	_, err = tx.Exec(ctx, query,
		b.ID.Bytes(), int64(b.Amount), b.Commitment.Bytes(),
		int64(b.Prediction), b.Salt[:], int32(b.UpdateCount),
		b.Weight.Dec(), b.WeightAdded, int64(b.Payout),
		string(b.Status), string(b.Env), b.GrantID.Bytes(),
		handoffs, b.EntryTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: update bet %s: %w", b.ID, err)
	}
	return nil
}

// scanBet scans a single bet row into a domain.Bet.
func scanBet(row pgx.Row) (domain.Bet, error) {
	var (
		b                        domain.Bet
		id, poolID, owner        []byte
		commitment, salt, grant  []byte
		amount, prediction       int64
		payout                   int64
		updateCount              int32
		weight, status, env      string
		handoffs                 []byte
	)
	err := row.Scan(
		&id, &poolID, &owner, &b.RequestID, &amount, &commitment,
		&prediction, &salt, &updateCount, &weight, &b.WeightAdded, &payout,
		&status, &env, &grant, &handoffs, &b.EntryTime, &b.CreatedAt,
	)
	if err != nil {
		return domain.Bet{}, err
	}

	b.ID = common.BytesToHash(id)
	b.PoolID = common.BytesToHash(poolID)
	b.Owner = common.BytesToAddress(owner)
	b.Amount = uint64(amount)
	b.Commitment = common.BytesToHash(commitment)
	b.Prediction = uint64(prediction)
	copy(b.Salt[:], salt)
	b.UpdateCount = uint32(updateCount)
	b.Payout = uint64(payout)
	b.Status = domain.BetStatus(status)
	b.Env = domain.Environment(env)
	b.GrantID = common.BytesToHash(grant)

	w, err := uint256.FromDecimal(weight)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("parse weight %q: %w", weight, err)
	}
	b.Weight = *w

	if err := json.Unmarshal(handoffs, &b.Handoffs); err != nil {
		return domain.Bet{}, fmt.Errorf("unmarshal handoffs: %w", err)
	}
	return b, nil
}

// Compile-time interface check.
var _ domain.BetStore = (*BetStore)(nil)
