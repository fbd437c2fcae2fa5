package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProtocolConfig is the global protocol singleton. It is created once by
// InitializeProtocol and mutated only through the admin surface; pools
// snapshot the fee rate from it at creation time and never read it again.
type ProtocolConfig struct {
	Admin    common.Address
	Treasury common.Address

	// FeeBps is the parimutuel protocol fee in basis points (0-10000),
	// charged against the distributable pot at finalization.
	FeeBps uint64

	// RefundPenaltyBps is withheld from unrevealed-bet refunds and routed
	// to the treasury.
	RefundPenaltyBps uint64

	// BatchSettleWait is the minimum delay, in seconds, between pool
	// resolution and batched weight calculation. Guards against a
	// resolution and a same-instant batch racing while delegated state
	// is still flushing.
	BatchSettleWait int64

	// EmergencyTimeout is the number of seconds past a pool's end time
	// after which stakes in a still-unresolved pool may be reclaimed in
	// full.
	EmergencyTimeout int64

	// Paused is the circuit breaker. Fund-accepting operations are
	// rejected while set.
	Paused bool

	// Stats. TotalUsers counts distinct bettors per pool; a bettor active
	// in several pools is counted once per pool.
	TotalPools uint64
	TotalUsers uint64

	UpdatedAt time.Time
}

// ConfigUpdate carries the optional fields of an updateConfig call. Nil
// means "leave unchanged".
type ConfigUpdate struct {
	Treasury         *common.Address
	FeeBps           *uint64
	RefundPenaltyBps *uint64
	BatchSettleWait  *int64
}

const (
	// BpsDenominator is the basis-point scale used for all fee math.
	BpsDenominator = 10_000

	// DefaultRefundPenaltyBps is the default unrevealed-refund penalty (1%).
	DefaultRefundPenaltyBps = 100

	// DefaultBatchSettleWait is the default resolution-to-batch delay.
	DefaultBatchSettleWait = 5

	// DefaultEmergencyTimeout is the default abandoned-pool timeout.
	DefaultEmergencyTimeout = 86_400

	// DefaultAccuracyBuffer is the default band, in outcome units, inside
	// which a prediction earns partial credit.
	DefaultAccuracyBuffer = 500
)
