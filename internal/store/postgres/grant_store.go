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

// GrantStore implements domain.GrantStore using PostgreSQL.
type GrantStore struct {
	pool *pgxpool.Pool
}

// NewGrantStore creates a new GrantStore backed by the given pool.
func NewGrantStore(pool *pgxpool.Pool) *GrantStore {
	return &GrantStore{pool: pool}
}

// Create inserts a new delegation grant.
func (s *GrantStore) Create(ctx context.Context, g domain.Grant) error {
	const query = `
		INSERT INTO grants (id, record_id, member, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, query,
		g.ID.Bytes(), g.RecordID.Bytes(), g.Member.Bytes(),
		g.Revoked, g.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create grant %s: %w", g.ID, err)
	}
	return nil
}

// Get retrieves a grant by its identity.
func (s *GrantStore) Get(ctx context.Context, id common.Hash) (domain.Grant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, record_id, member, revoked, created_at, revoked_at
		 FROM grants WHERE id = $1`, id.Bytes())

	var (
		g                  domain.Grant
		gid, record, membr []byte
		revokedAt          *time.Time
	)
	err := row.Scan(&gid, &record, &membr, &g.Revoked, &g.CreatedAt, &revokedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Grant{}, domain.ErrNotFound
		}
		return domain.Grant{}, fmt.Errorf("postgres: get grant %s: %w", id, err)
	}

	g.ID = common.BytesToHash(gid)
	g.RecordID = common.BytesToHash(record)
	g.Member = common.BytesToAddress(membr)
	if revokedAt != nil {
		g.RevokedAt = *revokedAt
	}
	return g, nil
}

// Revoke marks a grant revoked. Revoking an already-revoked grant is a
// no-op.
func (s *GrantStore) Revoke(ctx context.Context, id common.Hash, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE grants SET revoked = TRUE, revoked_at = $2 WHERE id = $1`,
		id.Bytes(), at)
	if err != nil {
		return fmt.Errorf("postgres: revoke grant %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.GrantStore = (*GrantStore)(nil)
