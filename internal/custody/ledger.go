package custody

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/swivlabs/swiv-engine/internal/domain"
)

// Ledger is an in-process token ledger implementing Service. It stands in
// for the external custody system in local and test modes.
type Ledger struct {
	mu       sync.Mutex
	balances map[common.Address]uint64
}

// NewLedger returns an empty token ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[common.Address]uint64)}
}

// Mint credits an account out of thin air. Test/bootstrap helper.
func (l *Ledger) Mint(account common.Address, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

// Transfer moves amount from one account to another atomically.
func (l *Ledger) Transfer(_ context.Context, from, to common.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amount {
		return domain.ErrInsufficientFunds
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

// Balance returns the current balance of an account.
func (l *Ledger) Balance(_ context.Context, account common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

var _ Service = (*Ledger)(nil)
