// Package commit implements the hash commitment binding a hidden numeric
// prediction to a bet until reveal.
//
// The digest is keccak256 over the little-endian encoding of the prediction
// followed by a caller-supplied 32-byte salt. The scheme performs no
// randomness generation itself; an unpredictable salt is the caller's
// responsibility.
package commit

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/swivlabs/swiv-engine/internal/domain"
)

// SaltSize is the required salt length in bytes.
const SaltSize = 32

// Commit returns the digest binding prediction and salt.
func Commit(prediction uint64, salt [SaltSize]byte) common.Hash {
	return common.BytesToHash(crypto.Keccak256(
		domain.EncodePrediction(prediction),
		salt[:],
	))
}

// Verify recomputes the digest for (prediction, salt) and compares it with
// the stored one. It returns domain.ErrCommitmentMismatch when they differ
// and has no other observable effect.
func Verify(prediction uint64, salt [SaltSize]byte, stored common.Hash) error {
	if Commit(prediction, salt) != stored {
		return domain.ErrCommitmentMismatch
	}
	return nil
}
