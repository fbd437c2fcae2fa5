// Package custody defines the asset-transfer collaborator. The engine never
// holds raw balances; it computes amounts from its own state and authorizes
// transfers between user accounts, pool vaults and the treasury through
// this interface.
package custody

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Service moves balances of a single fungible asset between accounts.
type Service interface {
	Transfer(ctx context.Context, from, to common.Address, amount uint64) error
	Balance(ctx context.Context, account common.Address) (uint64, error)
}
