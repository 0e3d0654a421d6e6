package lending

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/holiman/uint256"

	"openlend/crypto"
)

// RiskEngine owns the cross-market risk surface: which markets are listed,
// their collateral factors, the global close factor and liquidation
// incentive, account membership, and the liquidity computation every borrow,
// redeem and liquidation is gated on.
//
// Liquidity math runs on in-memory clones of market state with accrual
// applied, so hypothetical pre-flight checks never mutate the ledger.
type RiskEngine struct {
	mu       sync.RWMutex
	state    EngineState
	registry *Registry
	clock    *BlockClock
	oracle   PriceOracle
	log      *slog.Logger

	closeFactor          *uint256.Int
	liquidationIncentive *uint256.Int
}

// Defaults mirror the reference deployment: half of a borrow may be closed
// per liquidation, and liquidators earn an 8% bonus.
var (
	defaultCloseFactor          = MustParseExp("0.5")
	defaultLiquidationIncentive = MustParseExp("1.08")
)

func NewRiskEngine(state EngineState, registry *Registry, clock *BlockClock, oracle PriceOracle) *RiskEngine {
	return &RiskEngine{
		state:                state,
		registry:             registry,
		clock:                clock,
		oracle:               oracle,
		log:                  slog.Default(),
		closeFactor:          clone(defaultCloseFactor),
		liquidationIncentive: clone(defaultLiquidationIncentive),
	}
}

func (r *RiskEngine) SetLogger(log *slog.Logger) {
	if r == nil || log == nil {
		return
	}
	r.log = log
}

// --- parameters ---

// SetCloseFactor bounds the debt fraction repayable per liquidation,
// mantissa in (0, 1].
func (r *RiskEngine) SetCloseFactor(factor *uint256.Int) error {
	if r == nil {
		return ErrNilState
	}
	if isZero(factor) || factor.Cmp(expScale) > 0 {
		return fmt.Errorf("%w: close factor must be in (0, 1]", ErrInvalidParameter)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFactor = clone(factor)
	return nil
}

// SetLiquidationIncentive sets the seizure bonus multiplier, mantissa >= 1.
func (r *RiskEngine) SetLiquidationIncentive(incentive *uint256.Int) error {
	if r == nil {
		return ErrNilState
	}
	if incentive == nil || incentive.Cmp(expScale) < 0 {
		return fmt.Errorf("%w: liquidation incentive below one", ErrInvalidParameter)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.liquidationIncentive = clone(incentive)
	return nil
}

// SetCollateralFactor sets a listed market's collateral factor, mantissa in
// [0, 1). The change applies from the next liquidity computation, not
// retroactively.
func (r *RiskEngine) SetCollateralFactor(symbol string, factor *uint256.Int) error {
	if r == nil || r.state == nil {
		return ErrNilState
	}
	if factor == nil || factor.Cmp(expScale) >= 0 {
		return fmt.Errorf("%w: collateral factor must be in [0, 1)", ErrInvalidParameter)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	listing, err := r.state.GetListing(symbol)
	if err != nil {
		return err
	}
	if listing == nil || !listing.Listed {
		return fmt.Errorf("%w: %s", ErrMarketNotListed, symbol)
	}
	listing.CollateralFactor = clone(factor)
	return r.state.PutListing(symbol, listing)
}

func (r *RiskEngine) CloseFactor() *uint256.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.closeFactor)
}

func (r *RiskEngine) LiquidationIncentive() *uint256.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.liquidationIncentive)
}

// --- listing ---

// SupportMarket marks a created market as listed. Listing an already listed
// market fails; listing is otherwise idempotent through delist/relist.
func (r *RiskEngine) SupportMarket(symbol string) error {
	if r == nil || r.state == nil {
		return ErrNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	market, err := r.state.GetMarket(symbol)
	if err != nil {
		return err
	}
	if market == nil {
		return fmt.Errorf("%w: %s not created", ErrMarketNotListed, symbol)
	}
	listing, err := r.state.GetListing(symbol)
	if err != nil {
		return err
	}
	if listing != nil && listing.Listed {
		return fmt.Errorf("%w: %s", ErrAlreadyListed, symbol)
	}
	if listing == nil {
		listing = normalizeListing(&MarketListing{})
	}
	listing.Listed = true
	if err := r.state.PutListing(symbol, listing); err != nil {
		return err
	}
	r.log.Info("market listed", "market", symbol)
	return nil
}

// DelistMarket deactivates a market. Its ledger survives, but no further
// operations are accepted and its collateral no longer counts.
func (r *RiskEngine) DelistMarket(symbol string) error {
	if r == nil || r.state == nil {
		return ErrNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	listing, err := r.state.GetListing(symbol)
	if err != nil {
		return err
	}
	if listing == nil || !listing.Listed {
		return fmt.Errorf("%w: %s", ErrMarketNotListed, symbol)
	}
	listing.Listed = false
	if err := r.state.PutListing(symbol, listing); err != nil {
		return err
	}
	r.log.Info("market delisted", "market", symbol)
	return nil
}

// IsListed reports the market's listing status.
func (r *RiskEngine) IsListed(symbol string) (bool, error) {
	if r == nil || r.state == nil {
		return false, ErrNilState
	}
	listing, err := r.state.GetListing(symbol)
	if err != nil {
		return false, err
	}
	return listing != nil && listing.Listed, nil
}

// --- membership ---

// EnterMarkets adds listed markets to the account's collateral set. Entering
// an already entered market is a no-op.
func (r *RiskEngine) EnterMarkets(addr crypto.Address, symbols []string) error {
	if r == nil || r.state == nil {
		return ErrNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, symbol := range symbols {
		if err := r.enterMarketLocked(addr, symbol); err != nil {
			return err
		}
	}
	return nil
}

func (r *RiskEngine) enterMarket(addr crypto.Address, symbol string) error {
	if r == nil || r.state == nil {
		return ErrNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enterMarketLocked(addr, symbol)
}

func (r *RiskEngine) enterMarketLocked(addr crypto.Address, symbol string) error {
	listing, err := r.state.GetListing(symbol)
	if err != nil {
		return err
	}
	if listing == nil || !listing.Listed {
		return fmt.Errorf("%w: %s", ErrMarketNotListed, symbol)
	}
	members, err := r.state.GetMembership(addr)
	if err != nil {
		return err
	}
	for _, existing := range members {
		if existing == symbol {
			return nil
		}
	}
	return r.state.PutMembership(addr, append(members, symbol))
}

// Membership lists the markets counting toward the account's liquidity.
func (r *RiskEngine) Membership(addr crypto.Address) ([]string, error) {
	if r == nil || r.state == nil {
		return nil, ErrNilState
	}
	return r.state.GetMembership(addr)
}

// --- liquidity ---

// AccountLiquidity sums the account's collateral and borrow values across
// its member markets. Exactly one of the returned values is nonzero, or both
// are zero.
func (r *RiskEngine) AccountLiquidity(addr crypto.Address) (liquidity, shortfall *uint256.Int, err error) {
	return r.HypotheticalAccountLiquidity(addr, "", nil, nil)
}

// HypotheticalAccountLiquidity computes liquidity as if the account had
// already redeemed redeemReceipts and borrowed borrowAmount in the target
// market. No state is mutated; markets are accrued on clones. Effects in a
// market the account has not entered do not change the outcome, matching the
// rule that only member markets count.
func (r *RiskEngine) HypotheticalAccountLiquidity(addr crypto.Address, target string, redeemReceipts, borrowAmount *uint256.Int) (liquidity, shortfall *uint256.Int, err error) {
	if r == nil || r.state == nil {
		return nil, nil, ErrNilState
	}
	members, err := r.state.GetMembership(addr)
	if err != nil {
		return nil, nil, err
	}

	sumCollateral := new(uint256.Int)
	sumBorrow := new(uint256.Int)
	height := r.clock.Height()

	for _, symbol := range members {
		listing, err := r.state.GetListing(symbol)
		if err != nil {
			return nil, nil, err
		}
		if listing == nil || !listing.Listed {
			continue
		}
		stored, err := r.state.GetMarket(symbol)
		if err != nil {
			return nil, nil, err
		}
		if stored == nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrMarketNotListed, symbol)
		}
		model, err := r.registry.RateModel(symbol)
		if err != nil {
			return nil, nil, err
		}
		market := stored.Clone()
		if _, err := market.accrue(model, height); err != nil {
			return nil, nil, err
		}
		pos, err := r.state.GetPosition(symbol, addr)
		if err != nil {
			return nil, nil, err
		}
		if pos == nil {
			pos = normalizePosition(&AccountPosition{Address: addr, Market: symbol})
		}
		rate, err := market.exchangeRate()
		if err != nil {
			return nil, nil, err
		}
		price, err := r.oracle.GetPrice(symbol)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
		}
		if price.IsZero() {
			return nil, nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
		}

		// receiptValue = collateralFactor * exchangeRate * price, the
		// USD value one receipt contributes to borrowing power.
		cfRate, err := mulExp(listing.CollateralFactor, rate)
		if err != nil {
			return nil, nil, err
		}
		receiptValue, err := mulExp(cfRate, price)
		if err != nil {
			return nil, nil, err
		}
		collateral, err := mulExp(receiptValue, pos.Receipts)
		if err != nil {
			return nil, nil, err
		}
		if sumCollateral, err = addChecked(sumCollateral, collateral); err != nil {
			return nil, nil, err
		}

		debt, err := market.borrowBalance(pos)
		if err != nil {
			return nil, nil, err
		}
		debtValue, err := mulExp(price, debt)
		if err != nil {
			return nil, nil, err
		}
		if sumBorrow, err = addChecked(sumBorrow, debtValue); err != nil {
			return nil, nil, err
		}

		if symbol != target {
			continue
		}
		if !isZero(redeemReceipts) {
			redeemValue, err := mulExp(receiptValue, redeemReceipts)
			if err != nil {
				return nil, nil, err
			}
			if sumBorrow, err = addChecked(sumBorrow, redeemValue); err != nil {
				return nil, nil, err
			}
		}
		if !isZero(borrowAmount) {
			borrowValue, err := mulExp(price, borrowAmount)
			if err != nil {
				return nil, nil, err
			}
			if sumBorrow, err = addChecked(sumBorrow, borrowValue); err != nil {
				return nil, nil, err
			}
		}
	}

	if sumCollateral.Cmp(sumBorrow) >= 0 {
		excess, err := subChecked(sumCollateral, sumBorrow)
		if err != nil {
			return nil, nil, err
		}
		return excess, new(uint256.Int), nil
	}
	deficit, err := subChecked(sumBorrow, sumCollateral)
	if err != nil {
		return nil, nil, err
	}
	return new(uint256.Int), deficit, nil
}
