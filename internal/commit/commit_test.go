package commit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swivlabs/swiv-engine/internal/domain"
)

func TestCommitRoundtrip(t *testing.T) {
	var salt [SaltSize]byte
	copy(salt[:], "an unpredictable thirty-two byte")

	digest := Commit(42_000, salt)
	require.NoError(t, Verify(42_000, salt, digest))
}

func TestVerifyWrongPrediction(t *testing.T) {
	var salt [SaltSize]byte
	salt[0] = 0xAB

	digest := Commit(42_000, salt)
	err := Verify(42_001, salt, digest)
	assert.ErrorIs(t, err, domain.ErrCommitmentMismatch)
}

func TestVerifyWrongSalt(t *testing.T) {
	var salt, other [SaltSize]byte
	salt[0] = 0x01
	other[0] = 0x02

	digest := Commit(42_000, salt)
	assert.ErrorIs(t, Verify(42_000, other, digest), domain.ErrCommitmentMismatch)
}

func TestCommitDeterministic(t *testing.T) {
	var salt [SaltSize]byte
	salt[31] = 0x7F

	assert.Equal(t, Commit(7, salt), Commit(7, salt))
	assert.NotEqual(t, Commit(7, salt), Commit(8, salt))
}
