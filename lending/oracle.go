package lending

import (
	"sync"

	"github.com/holiman/uint256"
)

// PriceOracle supplies the USD-scaled price of a market's underlying asset as
// an 1e18 mantissa. A zero or unset price is a hard error: treating it as
// "worthless collateral" would trigger spurious liquidations.
type PriceOracle interface {
	GetPrice(symbol string) (*uint256.Int, error)
}

// StaticOracle is an administratively fed price table. It backs marketd and
// the test suites; a production deployment would substitute a feed-driven
// implementation behind the same interface.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]*uint256.Int
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[string]*uint256.Int)}
}

// SetPrice installs the current price mantissa for a market's underlying.
func (o *StaticOracle) SetPrice(symbol string, price *uint256.Int) error {
	if isZero(price) {
		return ErrInvalidParameter
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[symbol] = clone(price)
	return nil
}

func (o *StaticOracle) GetPrice(symbol string) (*uint256.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[symbol]
	if !ok || price.IsZero() {
		return nil, ErrPriceUnavailable
	}
	return clone(price), nil
}
