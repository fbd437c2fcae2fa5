package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Environment identifies which execution environment owns a record for
// write-access purposes. A record is writable by exactly one environment at
// any instant; the other side sees it as read-only or absent.
type Environment string

const (
	// EnvPrimary is the public permanent ledger.
	EnvPrimary Environment = "primary"

	// EnvDelegated is the restricted, faster private execution context.
	EnvDelegated Environment = "delegated"
)

// HandoffEntry records one ownership flip of a record. Entries are
// append-only and Seq is strictly increasing per record, giving the
// monotonic handoff log that ownership checks audit against.
type HandoffEntry struct {
	Seq   uint64
	From  Environment
	To    Environment
	Actor common.Address
	At    int64 // unix seconds
}

// NextHandoff appends a handoff entry to log and returns the extended log.
func NextHandoff(log []HandoffEntry, from, to Environment, actor common.Address, at int64) []HandoffEntry {
	return append(log, HandoffEntry{
		Seq:   uint64(len(log)) + 1,
		From:  from,
		To:    to,
		Actor: actor,
		At:    at,
	})
}

// Grant is the access-control record established for the delegated
// environment when a bet is handed off. It names the member allowed to
// mutate the record while it lives on the private side.
type Grant struct {
	ID       common.Hash
	RecordID common.Hash
	Member   common.Address
	Revoked  bool

	CreatedAt time.Time
	RevokedAt time.Time
}
