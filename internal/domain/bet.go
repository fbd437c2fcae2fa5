package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BetStatus is the lifecycle state of a bet. Transitions are
// Committed -> Revealed -> Calculated -> Settled, with Committed -> Settled
// for refunds of bets that never revealed.
type BetStatus string

const (
	BetStatusCommitted  BetStatus = "committed"
	BetStatusRevealed   BetStatus = "revealed"
	BetStatusCalculated BetStatus = "calculated"
	BetStatusSettled    BetStatus = "settled"
)

// Bet is one bettor's staked, hash-committed prediction within a pool.
type Bet struct {
	ID     common.Hash
	PoolID common.Hash
	Owner  common.Address

	// RequestID is chosen by the bettor and unique per (pool, owner), so
	// one bettor can hold several concurrent bets in one pool.
	RequestID string

	Amount uint64

	// Commitment binds the hidden prediction and salt at placement.
	Commitment common.Hash

	// Prediction and Salt are zero until a successful reveal.
	Prediction uint64
	Salt       [32]byte

	// UpdateCount tracks the delegated overwrite-and-reveal path. The
	// conviction bonus applies only while it is zero.
	UpdateCount uint32

	// Weight is set by outcome calculation; WeightAdded guards the pool
	// accumulator against double counting.
	Weight      uint256.Int
	WeightAdded bool

	// Payout is recorded at settlement for reporting.
	Payout uint64

	Status BetStatus

	// Env is the execution environment that currently owns this record.
	Env Environment

	// GrantID links the access-control record created when the bet is
	// delegated to the private environment. Zero when not privacy-gated.
	GrantID common.Hash

	// Handoffs is the append-only delegation log for this record.
	Handoffs []HandoffEntry

	// EntryTime is the unix time of placement, reset by the delegated
	// update path. Feeds the time bonus.
	EntryTime int64

	CreatedAt int64
}

// Revealed reports whether the prediction has been disclosed.
func (b *Bet) Revealed() bool {
	return b.Status == BetStatusRevealed || b.Status == BetStatusCalculated ||
		(b.Status == BetStatusSettled && b.WeightAdded)
}
