package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PoolStatus is the derived lifecycle state of a pool.
type PoolStatus string

const (
	PoolStatusCreated   PoolStatus = "created"
	PoolStatusActive    PoolStatus = "active"
	PoolStatusExpired   PoolStatus = "expired"
	PoolStatusResolved  PoolStatus = "resolved"
	PoolStatusFinalized PoolStatus = "finalized"
)

// Pool is a single prediction market: a funding window, a hidden-prediction
// bet book, and a single resolved numeric outcome.
type Pool struct {
	ID    common.Hash
	Name  string
	Admin common.Address

	// Metadata is an optional free-form description.
	Metadata string

	// AssetMint identifies the fungible asset wagered in this pool.
	AssetMint common.Address

	// Vault is the custody account holding all stakes for this pool.
	Vault common.Address

	StartTime int64 // unix seconds
	EndTime   int64 // unix seconds

	// FeeBps is snapshot from ProtocolConfig at creation and immutable
	// thereafter.
	FeeBps uint64

	// AccuracyBuffer is the band, in outcome units, inside which a
	// prediction earns partial credit. Outside it the accuracy score is
	// zero.
	AccuracyBuffer uint64

	// BatchSafetyDelay is the minimum wait, in seconds, between
	// resolution and batched weight calculation.
	BatchSafetyDelay int64

	Resolved        bool
	ResolvedOutcome uint64
	ResolvedAt      int64

	// TotalStaked is the lifetime sum of all stakes placed.
	TotalStaked uint64

	// VaultBalance mirrors the custody vault; decremented by fee, claims
	// and refunds.
	VaultBalance uint64

	// TotalWeight accumulates calculated bet weights after resolution.
	// Read only once Resolved is set; locked by finalization.
	TotalWeight uint256.Int

	// WeightFinalized marks the one-time lock of TotalWeight and the fee
	// extraction.
	WeightFinalized bool

	// PayoutPot is the distributable amount snapshot at finalization.
	// Every claim is priced against this value, never against the
	// declining vault balance.
	PayoutPot uint64

	// Env is the execution environment that currently owns this record.
	Env Environment

	// Handoffs is the append-only delegation log for this record.
	Handoffs []HandoffEntry

	CreatedAt int64
}

// Status derives the lifecycle state at the given unix time.
func (p *Pool) Status(now int64) PoolStatus {
	switch {
	case p.WeightFinalized:
		return PoolStatusFinalized
	case p.Resolved:
		return PoolStatusResolved
	case now >= p.EndTime:
		return PoolStatusExpired
	case now >= p.StartTime:
		return PoolStatusActive
	default:
		return PoolStatusCreated
	}
}

// AcceptsBets reports whether the funding window is open at the given time.
func (p *Pool) AcceptsBets(now int64) bool {
	return now >= p.StartTime && now < p.EndTime
}
