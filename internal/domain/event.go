package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a settlement-engine event published on the event bus.
type EventType string

const (
	EventProtocolInitialized EventType = "protocol_initialized"
	EventConfigUpdated       EventType = "config_updated"
	EventPoolCreated         EventType = "pool_created"
	EventPoolResolved        EventType = "pool_resolved"
	EventWeightsFinalized    EventType = "weights_finalized"
	EventBetPlaced           EventType = "bet_placed"
	EventBetRevealed         EventType = "bet_revealed"
	EventBetUpdated          EventType = "bet_updated"
	EventBetDelegated        EventType = "bet_delegated"
	EventBetUndelegated      EventType = "bet_undelegated"
	EventOutcomeCalculated   EventType = "outcome_calculated"
	EventRewardClaimed       EventType = "reward_claimed"
	EventBetRefunded         EventType = "bet_refunded"
)

// Event is the JSON payload broadcast to subscribers after a state change
// commits.
type Event struct {
	ID     string         `json:"id"`
	Type   EventType      `json:"type"`
	Pool   common.Hash    `json:"pool,omitempty"`
	Bet    common.Hash    `json:"bet,omitempty"`
	Actor  common.Address `json:"actor,omitempty"`
	Amount uint64         `json:"amount,omitempty"`
	Weight string         `json:"weight,omitempty"`
	At     time.Time      `json:"at"`
}
