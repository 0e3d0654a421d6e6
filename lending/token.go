package lending

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"openlend/crypto"
)

// FungibleAsset is the balance-transfer primitive the engine depends on. The
// engine invokes it only after its own invariants are restored; a rejected
// transfer aborts the surrounding operation with ErrTransferFailed.
type FungibleAsset interface {
	// TransferFrom moves amount from one account to another, failing if
	// the source balance is insufficient.
	TransferFrom(from, to crypto.Address, amount *uint256.Int) error
	// BalanceOf reports the current balance of an account.
	BalanceOf(addr crypto.Address) (*uint256.Int, error)
}

// LedgerToken is an in-process FungibleAsset backed by a mutex-guarded
// balance map. marketd uses it for genesis-seeded underlyings and the reward
// token; tests use it as the standard asset fixture.
type LedgerToken struct {
	mu       sync.RWMutex
	symbol   string
	balances map[string]*uint256.Int
}

func NewLedgerToken(symbol string) *LedgerToken {
	return &LedgerToken{
		symbol:   symbol,
		balances: make(map[string]*uint256.Int),
	}
}

func (t *LedgerToken) Symbol() string { return t.symbol }

// Mint credits an account, used for genesis seeding and reward pool funding.
func (t *LedgerToken) Mint(addr crypto.Address, amount *uint256.Int) error {
	if isZero(amount) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := addChecked(t.balance(addr), amount)
	if err != nil {
		return err
	}
	t.balances[string(addr.Bytes())] = next
	return nil
}

func (t *LedgerToken) TransferFrom(from, to crypto.Address, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("token %s: nil amount", t.symbol)
	}
	if amount.IsZero() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	src := t.balance(from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("token %s: balance %s below transfer %s", t.symbol, src.Dec(), amount.Dec())
	}
	dst, err := addChecked(t.balance(to), amount)
	if err != nil {
		return err
	}
	remaining, err := subChecked(src, amount)
	if err != nil {
		return err
	}
	t.balances[string(from.Bytes())] = remaining
	t.balances[string(to.Bytes())] = dst
	return nil
}

func (t *LedgerToken) BalanceOf(addr crypto.Address) (*uint256.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return clone(t.balance(addr)), nil
}

func (t *LedgerToken) balance(addr crypto.Address) *uint256.Int {
	if bal, ok := t.balances[string(addr.Bytes())]; ok {
		return bal
	}
	return new(uint256.Int)
}
