package lending

import (
	"fmt"
	"sync"
)

// Registry binds each market symbol to its runtime collaborators: the
// underlying asset's transfer primitive and the interest-rate strategy.
// These references are process wiring rather than ledger state, so they live
// here instead of in the persisted Market record. The registry is passed by
// reference into every component that needs it; there are no implicit
// globals.
type Registry struct {
	mu     sync.RWMutex
	assets map[string]FungibleAsset
	models map[string]InterestRateModel
}

func NewRegistry() *Registry {
	return &Registry{
		assets: make(map[string]FungibleAsset),
		models: make(map[string]InterestRateModel),
	}
}

// Bind wires a market's asset and rate model. Called once per market at
// genesis.
func (r *Registry) Bind(symbol string, asset FungibleAsset, model InterestRateModel) error {
	if symbol == "" || asset == nil || model == nil {
		return ErrInvalidParameter
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[symbol] = asset
	r.models[symbol] = model
	return nil
}

// SetRateModel swaps a market's rate strategy. The market dispatches through
// this reference on the next accrual, so a model upgrade is an explicit
// versioned-strategy replacement rather than an in-place mutation.
func (r *Registry) SetRateModel(symbol string, model InterestRateModel) error {
	if model == nil {
		return ErrInvalidParameter
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[symbol]; !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotListed, symbol)
	}
	r.models[symbol] = model
	return nil
}

// Asset returns the transfer primitive for a market's underlying.
func (r *Registry) Asset(symbol string) (FungibleAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	asset, ok := r.assets[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotListed, symbol)
	}
	return asset, nil
}

// RateModel returns the interest-rate strategy for a market.
func (r *Registry) RateModel(symbol string) (InterestRateModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	model, ok := r.models[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotListed, symbol)
	}
	return model, nil
}
