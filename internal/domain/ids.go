package domain

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Record identity is derived PDA-style: a keccak256 hash over a constant
// seed and the record's creation inputs, so any party can recompute an
// address without querying the ledger.
//
// Pools are name-keyed. The source protocol carried both a name-keyed and a
// counter-keyed scheme across config versions; the name-keyed form is the
// one its integration suite derives, so it is the canonical one here.
const (
	seedPool   = "pool"
	seedVault  = "pool_vault"
	seedBet    = "user_bet"
	seedGrant  = "bet_permission"
	seedConfig = "global_config_v1"
)

// ConfigID is the fixed identity of the protocol config singleton.
func ConfigID() common.Hash {
	return common.BytesToHash(crypto.Keccak256([]byte(seedConfig)))
}

// DerivePoolID returns the deterministic identity of the pool with the
// given name.
func DerivePoolID(name string) common.Hash {
	return common.BytesToHash(crypto.Keccak256([]byte(seedPool), []byte(name)))
}

// DeriveVaultAccount returns the custody account that holds a pool's
// stakes.
func DeriveVaultAccount(poolID common.Hash) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(seedVault), poolID.Bytes()))
}

// DeriveBetID returns the deterministic identity of a bet, keyed by pool,
// owner and the bettor-chosen request ID.
func DeriveBetID(poolID common.Hash, owner common.Address, requestID string) common.Hash {
	return common.BytesToHash(crypto.Keccak256(
		[]byte(seedBet),
		poolID.Bytes(),
		owner.Bytes(),
		[]byte(requestID),
	))
}

// DeriveGrantID returns the identity of the access-control record covering
// one delegation of a bet. seq is the handoff sequence number, so repeated
// delegations of the same bet get distinct grants.
func DeriveGrantID(betID common.Hash, seq uint64) common.Hash {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seq)
	return common.BytesToHash(crypto.Keccak256([]byte(seedGrant), betID.Bytes(), buf[:]))
}

// EncodePrediction returns the little-endian wire encoding of a prediction,
// the exact byte layout bound by the commitment scheme.
func EncodePrediction(prediction uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], prediction)
	return buf[:]
}
