package domain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestDerivePoolIDDeterministic(t *testing.T) {
	assert.Equal(t, DerivePoolID("btc-close-2026"), DerivePoolID("btc-close-2026"))
	assert.NotEqual(t, DerivePoolID("btc-close-2026"), DerivePoolID("eth-close-2026"))
}

func TestDeriveBetIDSeparatesInputs(t *testing.T) {
	pool := DerivePoolID("p")
	alice := common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob := common.HexToAddress("0x2222222222222222222222222222222222222222")

	assert.Equal(t, DeriveBetID(pool, alice, "r1"), DeriveBetID(pool, alice, "r1"))
	assert.NotEqual(t, DeriveBetID(pool, alice, "r1"), DeriveBetID(pool, alice, "r2"))
	assert.NotEqual(t, DeriveBetID(pool, alice, "r1"), DeriveBetID(pool, bob, "r1"))
}

func TestDeriveVaultAccountDistinctFromPool(t *testing.T) {
	pool := DerivePoolID("p")
	vault := DeriveVaultAccount(pool)
	assert.NotEqual(t, common.Address{}, vault)
	assert.NotEqual(t, vault, DeriveVaultAccount(DerivePoolID("q")))
}

func TestDeriveGrantIDPerHandoff(t *testing.T) {
	bet := DeriveBetID(DerivePoolID("p"), common.Address{}, "r1")
	assert.NotEqual(t, DeriveGrantID(bet, 1), DeriveGrantID(bet, 2),
		"repeated delegations of the same bet must get distinct grants")
	assert.Equal(t, DeriveGrantID(bet, 1), DeriveGrantID(bet, 1))
}

func TestEncodePredictionLittleEndian(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x02, 0, 0, 0, 0, 0, 0}, EncodePrediction(0x0201))
}
