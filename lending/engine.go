package lending

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"openlend/crypto"
	"openlend/observability"
)

// Engine executes the market-level state transitions: mint, redeem, borrow
// and repay, plus interest accrual and the administrative reserve and market
// setters. Operations are serialized under one mutex and each is atomic: it
// either commits all of its ledger writes and transfers, or none of them
// (interest accrual, which is idempotent per block, commits on its own).
//
// Ordering within an operation follows check-effects-interact: validation
// first, then internal ledger mutation, with outbound asset transfers last.
// An outbound transfer that fails rolls the just-written records back to
// their post-accrual snapshots before the error is surfaced.
type Engine struct {
	mu       sync.Mutex
	state    EngineState
	registry *Registry
	clock    *BlockClock
	vault    crypto.Address
	risk     *RiskEngine
	rewards  *RewardEngine
	pauses   PauseView
	log      *slog.Logger
	metrics  *observability.EngineMetrics
}

// NewEngine constructs an engine bound to its ledger state, the market
// registry, the shared block clock and the vault address that custodies
// pooled underlying.
func NewEngine(state EngineState, registry *Registry, clock *BlockClock, vault crypto.Address) *Engine {
	return &Engine{
		state:    state,
		registry: registry,
		clock:    clock,
		vault:    vault,
		log:      slog.Default(),
	}
}

// SetRiskEngine wires the pre-flight solvency checker used by borrow and
// redeem.
func (e *Engine) SetRiskEngine(risk *RiskEngine) {
	if e == nil {
		return
	}
	e.risk = risk
}

// SetRewardEngine wires the reward distributor notified by every operation.
func (e *Engine) SetRewardEngine(rewards *RewardEngine) {
	if e == nil {
		return
	}
	e.rewards = rewards
}

func (e *Engine) SetPauses(p PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) SetLogger(log *slog.Logger) {
	if e == nil || log == nil {
		return
	}
	e.log = log
}

func (e *Engine) SetMetrics(m *observability.EngineMetrics) {
	if e == nil {
		return
	}
	e.metrics = m
}

// Vault returns the custody address holding pooled underlying.
func (e *Engine) Vault() crypto.Address { return e.vault }

func (e *Engine) finish(op, symbol string, start time.Time, err error) {
	if e == nil || e.log == nil {
		return
	}
	e.metrics.ObserveOperation(op, symbol, start, err)
	if err != nil {
		e.log.Warn("operation rejected", "op", op, "market", symbol, "err", err)
		return
	}
	e.log.Debug("operation applied", "op", op, "market", symbol)
}

// MarketParams configures a new market at listing time.
type MarketParams struct {
	Symbol             string
	UnderlyingDecimals uint8
	// InitialExchangeRate is the bootstrap underlying-per-receipt mantissa.
	// It must be fixed here; an implicit default would make the first
	// mint's receipt amount depend on deployment accidents.
	InitialExchangeRate *uint256.Int
	// ReserveFactor is the interest fraction retained as reserves.
	ReserveFactor *uint256.Int
	Asset         FungibleAsset
	RateModel     InterestRateModel
}

// CreateMarket records a new market ledger and binds its runtime
// collaborators. The market is not usable until the risk engine lists it.
func (e *Engine) CreateMarket(params MarketParams) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if params.Symbol == "" || params.Asset == nil || params.RateModel == nil {
		return ErrInvalidParameter
	}
	if isZero(params.InitialExchangeRate) {
		return fmt.Errorf("%w: initial exchange rate required", ErrInvalidParameter)
	}
	if params.ReserveFactor != nil && params.ReserveFactor.Cmp(expScale) > 0 {
		return fmt.Errorf("%w: reserve factor above one", ErrInvalidParameter)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	existing, err := e.state.GetMarket(params.Symbol)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyListed, params.Symbol)
	}
	market := normalizeMarket(&Market{
		Symbol:              params.Symbol,
		UnderlyingDecimals:  params.UnderlyingDecimals,
		InitialExchangeRate: clone(params.InitialExchangeRate),
		ReserveFactor:       clone(params.ReserveFactor),
		AccrualBlock:        e.clock.Height(),
	})
	if err := e.registry.Bind(params.Symbol, params.Asset, params.RateModel); err != nil {
		return err
	}
	if err := e.state.PutMarket(market); err != nil {
		return err
	}
	e.log.Info("market created", "market", params.Symbol, "decimals", params.UnderlyingDecimals)
	return nil
}

// EnsureMarket creates the market when absent, or rebinds its runtime
// collaborators when the ledger already holds it. Daemons replay genesis on
// every boot, so a market surviving in persistent state still needs its asset
// and rate model wired into the fresh registry.
func (e *Engine) EnsureMarket(params MarketParams) error {
	err := e.CreateMarket(params)
	if errors.Is(err, ErrAlreadyListed) {
		return e.registry.Bind(params.Symbol, params.Asset, params.RateModel)
	}
	return err
}

// SetReserveFactor updates a market's reserve factor. Interest already
// accrued is settled at the old factor first; the new factor applies from the
// next accrual.
func (e *Engine) SetReserveFactor(symbol string, factor *uint256.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if factor == nil || factor.Cmp(expScale) > 0 {
		return fmt.Errorf("%w: reserve factor above one", ErrInvalidParameter)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	market, model, _, err := e.loadMarketBundle(symbol)
	if err != nil {
		return err
	}
	if _, err := market.accrue(model, e.clock.Height()); err != nil {
		return err
	}
	market.ReserveFactor = clone(factor)
	return e.state.PutMarket(market)
}

// AccrueInterest applies pending interest for a market and persists it.
// Within one block the second call is a no-op.
func (e *Engine) AccrueInterest(symbol string) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	market, model, _, err := e.loadMarketBundle(symbol)
	if err != nil {
		return err
	}
	changed, err := market.accrue(model, e.clock.Height())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return e.state.PutMarket(market)
}

// Mint deposits underlying and issues receipt tokens at the current exchange
// rate.
func (e *Engine) Mint(minter crypto.Address, symbol string, amount *uint256.Int) (receipts *uint256.Int, err error) {
	defer func(start time.Time) { e.finish("mint", symbol, start, err) }(time.Now())
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := guard(e.pauses); err != nil {
		return nil, err
	}
	if isZero(amount) {
		return nil, ErrZeroAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	market, _, asset, err := e.loadListedBundle(symbol)
	if err != nil {
		return nil, err
	}
	if err := e.accrueAndCommit(market, symbol); err != nil {
		return nil, err
	}
	rate, err := market.exchangeRate()
	if err != nil {
		return nil, err
	}
	receipts, err = divExp(amount, rate)
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(symbol, minter)
	if err != nil {
		return nil, err
	}
	rs, ra, err := e.rewards.touchSupplier(market, pos)
	if err != nil {
		return nil, err
	}

	if err := asset.TransferFrom(minter, e.vault, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if market.TotalCash, err = addChecked(market.TotalCash, amount); err != nil {
		return nil, err
	}
	if market.TotalSupply, err = addChecked(market.TotalSupply, receipts); err != nil {
		return nil, err
	}
	if pos.Receipts, err = addChecked(pos.Receipts, receipts); err != nil {
		return nil, err
	}
	if err := e.persist(market, []*AccountPosition{pos}, rs, ra); err != nil {
		return nil, err
	}
	return receipts, nil
}

// Redeem burns receipt tokens and returns the corresponding underlying.
func (e *Engine) Redeem(redeemer crypto.Address, symbol string, receipts *uint256.Int) (underlying *uint256.Int, err error) {
	defer func(start time.Time) { e.finish("redeem", symbol, start, err) }(time.Now())
	if isZero(receipts) {
		return nil, ErrZeroAmount
	}
	return e.redeemInternal(redeemer, symbol, receipts, nil)
}

// RedeemUnderlying burns however many receipt tokens are needed to release
// the requested underlying amount.
func (e *Engine) RedeemUnderlying(redeemer crypto.Address, symbol string, amount *uint256.Int) (receipts *uint256.Int, err error) {
	defer func(start time.Time) { e.finish("redeem_underlying", symbol, start, err) }(time.Now())
	if isZero(amount) {
		return nil, ErrZeroAmount
	}
	return e.redeemInternal(redeemer, symbol, nil, amount)
}

// redeemInternal handles both redeem flavors; exactly one of receipts or
// underlying is set and the counterpart is derived from the exchange rate.
// Returns the derived counterpart.
func (e *Engine) redeemInternal(redeemer crypto.Address, symbol string, receipts, underlying *uint256.Int) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := guard(e.pauses); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	market, _, asset, err := e.loadListedBundle(symbol)
	if err != nil {
		return nil, err
	}
	if err := e.accrueAndCommit(market, symbol); err != nil {
		return nil, err
	}
	rate, err := market.exchangeRate()
	if err != nil {
		return nil, err
	}
	var derived *uint256.Int
	if receipts != nil {
		if underlying, err = mulExp(receipts, rate); err != nil {
			return nil, err
		}
		derived = underlying
	} else {
		if receipts, err = divExp(underlying, rate); err != nil {
			return nil, err
		}
		derived = receipts
	}

	pos, err := e.loadPosition(symbol, redeemer)
	if err != nil {
		return nil, err
	}
	if pos.Receipts.Cmp(receipts) < 0 {
		return nil, ErrInsufficientBalance
	}
	if market.TotalCash.Cmp(underlying) < 0 {
		return nil, ErrInsufficientCash
	}
	if err := e.checkLiquidity(redeemer, symbol, receipts, nil); err != nil {
		return nil, err
	}
	rs, ra, err := e.rewards.touchSupplier(market, pos)
	if err != nil {
		return nil, err
	}

	snapMarket, snapPos := market.Clone(), pos.clonePosition()
	if market.TotalSupply, err = subChecked(market.TotalSupply, receipts); err != nil {
		return nil, err
	}
	if market.TotalCash, err = subChecked(market.TotalCash, underlying); err != nil {
		return nil, err
	}
	if pos.Receipts, err = subChecked(pos.Receipts, receipts); err != nil {
		return nil, err
	}
	if err := e.persist(market, []*AccountPosition{pos}, rs, ra); err != nil {
		return nil, err
	}
	if err := asset.TransferFrom(e.vault, redeemer, underlying); err != nil {
		e.restore(snapMarket, snapPos)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return derived, nil
}

// Borrow draws underlying against the account's collateral.
func (e *Engine) Borrow(borrower crypto.Address, symbol string, amount *uint256.Int) (err error) {
	defer func(start time.Time) { e.finish("borrow", symbol, start, err) }(time.Now())
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := guard(e.pauses); err != nil {
		return err
	}
	if isZero(amount) {
		return ErrZeroAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	market, _, asset, err := e.loadListedBundle(symbol)
	if err != nil {
		return err
	}
	if err := e.accrueAndCommit(market, symbol); err != nil {
		return err
	}
	if market.TotalCash.Cmp(amount) < 0 {
		return ErrInsufficientCash
	}
	// Borrowing implies membership: the borrowed value must count against
	// the account's liquidity from now on.
	if e.risk != nil {
		if err := e.risk.enterMarket(borrower, symbol); err != nil {
			return err
		}
	}
	if err := e.checkLiquidity(borrower, symbol, nil, amount); err != nil {
		return err
	}

	pos, err := e.loadPosition(symbol, borrower)
	if err != nil {
		return err
	}
	rs, ra, err := e.rewards.touchBorrower(market, pos)
	if err != nil {
		return err
	}

	debt, err := market.borrowBalance(pos)
	if err != nil {
		return err
	}
	snapMarket, snapPos := market.Clone(), pos.clonePosition()
	if pos.BorrowPrincipal, err = addChecked(debt, amount); err != nil {
		return err
	}
	pos.InterestIndex = clone(market.BorrowIndex)
	if market.TotalBorrows, err = addChecked(market.TotalBorrows, amount); err != nil {
		return err
	}
	if market.TotalCash, err = subChecked(market.TotalCash, amount); err != nil {
		return err
	}
	if err := e.persist(market, []*AccountPosition{pos}, rs, ra); err != nil {
		return err
	}
	if err := asset.TransferFrom(e.vault, borrower, amount); err != nil {
		e.restore(snapMarket, snapPos)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// RepayBorrow settles the caller's own debt. Passing RepayMax settles the
// full effective balance; any amount above the debt is clamped to it, so the
// payer is never charged more than what is owed.
func (e *Engine) RepayBorrow(borrower crypto.Address, symbol string, amount *uint256.Int) (repaid *uint256.Int, err error) {
	defer func(start time.Time) { e.finish("repay", symbol, start, err) }(time.Now())
	return e.repayInternal(borrower, borrower, symbol, amount)
}

// RepayBorrowBehalf settles someone else's debt. There is no permission gate
// beyond the payer's transfer succeeding; anyone may repay for anyone.
func (e *Engine) RepayBorrowBehalf(payer, borrower crypto.Address, symbol string, amount *uint256.Int) (repaid *uint256.Int, err error) {
	defer func(start time.Time) { e.finish("repay_behalf", symbol, start, err) }(time.Now())
	return e.repayInternal(payer, borrower, symbol, amount)
}

func (e *Engine) repayInternal(payer, borrower crypto.Address, symbol string, amount *uint256.Int) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := guard(e.pauses); err != nil {
		return nil, err
	}
	if isZero(amount) {
		return nil, ErrZeroAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	market, _, asset, err := e.loadListedBundle(symbol)
	if err != nil {
		return nil, err
	}
	if err := e.accrueAndCommit(market, symbol); err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(symbol, borrower)
	if err != nil {
		return nil, err
	}
	debt, err := market.borrowBalance(pos)
	if err != nil {
		return nil, err
	}
	if debt.IsZero() {
		return nil, ErrNoDebtToRepay
	}
	repay := clone(amount)
	if amount.Eq(RepayMax) || repay.Cmp(debt) > 0 {
		repay = clone(debt)
	}
	rs, ra, err := e.rewards.touchBorrower(market, pos)
	if err != nil {
		return nil, err
	}

	if err := asset.TransferFrom(payer, e.vault, repay); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if pos.BorrowPrincipal, err = subChecked(debt, repay); err != nil {
		return nil, err
	}
	pos.InterestIndex = clone(market.BorrowIndex)
	// Per-account truncation can leave the aggregate a unit short of the
	// sum of positions; saturate rather than fault.
	if market.TotalBorrows.Cmp(repay) < 0 {
		market.TotalBorrows = new(uint256.Int)
	} else if market.TotalBorrows, err = subChecked(market.TotalBorrows, repay); err != nil {
		return nil, err
	}
	if market.TotalCash, err = addChecked(market.TotalCash, repay); err != nil {
		return nil, err
	}
	if err := e.persist(market, []*AccountPosition{pos}, rs, ra); err != nil {
		return nil, err
	}
	return repay, nil
}

// ReduceReserves moves accumulated reserves out of a market to a governance
// recipient, bounded by available cash.
func (e *Engine) ReduceReserves(symbol string, amount *uint256.Int, recipient crypto.Address) (err error) {
	defer func(start time.Time) { e.finish("reduce_reserves", symbol, start, err) }(time.Now())
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := guard(e.pauses); err != nil {
		return err
	}
	if isZero(amount) {
		return ErrZeroAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	market, _, asset, err := e.loadListedBundle(symbol)
	if err != nil {
		return err
	}
	if err := e.accrueAndCommit(market, symbol); err != nil {
		return err
	}
	if market.TotalReserves.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if market.TotalCash.Cmp(amount) < 0 {
		return ErrInsufficientCash
	}
	snapMarket := market.Clone()
	if market.TotalReserves, err = subChecked(market.TotalReserves, amount); err != nil {
		return err
	}
	if market.TotalCash, err = subChecked(market.TotalCash, amount); err != nil {
		return err
	}
	if err := e.state.PutMarket(market); err != nil {
		return err
	}
	if err := asset.TransferFrom(e.vault, recipient, amount); err != nil {
		e.restore(snapMarket)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// --- queries ---

// MarketSnapshot returns a copy of the market ledger with interest applied to
// the current block, without persisting the accrual.
func (e *Engine) MarketSnapshot(symbol string) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	market, model, _, err := e.loadMarketBundle(symbol)
	if err != nil {
		return nil, err
	}
	if _, err := market.accrue(model, e.clock.Height()); err != nil {
		return nil, err
	}
	return market, nil
}

// ListMarkets enumerates created market symbols.
func (e *Engine) ListMarkets() ([]string, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.ListMarkets()
}

// Position returns the stored position for an account, lazily zeroed.
func (e *Engine) Position(symbol string, addr crypto.Address) (*AccountPosition, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if _, err := e.loadMarket(symbol); err != nil {
		return nil, err
	}
	return e.loadPosition(symbol, addr)
}

// ExchangeRate returns the current underlying-per-receipt mantissa.
func (e *Engine) ExchangeRate(symbol string) (*uint256.Int, error) {
	market, err := e.MarketSnapshot(symbol)
	if err != nil {
		return nil, err
	}
	return market.exchangeRate()
}

// BalanceOfUnderlying values an account's receipts at the current exchange
// rate.
func (e *Engine) BalanceOfUnderlying(symbol string, addr crypto.Address) (*uint256.Int, error) {
	market, err := e.MarketSnapshot(symbol)
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(symbol, addr)
	if err != nil {
		return nil, err
	}
	rate, err := market.exchangeRate()
	if err != nil {
		return nil, err
	}
	return mulExp(pos.Receipts, rate)
}

// BorrowBalance returns the account's effective debt at the current block.
func (e *Engine) BorrowBalance(symbol string, addr crypto.Address) (*uint256.Int, error) {
	market, err := e.MarketSnapshot(symbol)
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(symbol, addr)
	if err != nil {
		return nil, err
	}
	return market.borrowBalance(pos)
}

// Rates reports the market's per-block borrow and supply rates and its
// utilization as of the current block, all as mantissas. Interest is accrued
// on an in-memory copy first so the rates agree with MarketSnapshot taken at
// the same height.
func (e *Engine) Rates(symbol string) (borrowRate, supplyRate, utilization *uint256.Int, err error) {
	if e == nil || e.state == nil {
		return nil, nil, nil, ErrNilState
	}
	market, model, _, err := e.loadMarketBundle(symbol)
	if err != nil {
		return nil, nil, nil, err
	}
	if _, err = market.accrue(model, e.clock.Height()); err != nil {
		return nil, nil, nil, err
	}
	if borrowRate, err = model.BorrowRate(market.TotalCash, market.TotalBorrows, market.TotalReserves); err != nil {
		return nil, nil, nil, err
	}
	if supplyRate, err = model.SupplyRate(market.TotalCash, market.TotalBorrows, market.TotalReserves, market.ReserveFactor); err != nil {
		return nil, nil, nil, err
	}
	if utilization, err = Utilization(market.TotalCash, market.TotalBorrows); err != nil {
		return nil, nil, nil, err
	}
	return borrowRate, supplyRate, utilization, nil
}

// --- internal plumbing ---

func (e *Engine) loadMarket(symbol string) (*Market, error) {
	market, err := e.state.GetMarket(symbol)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotListed, symbol)
	}
	return market, nil
}

func (e *Engine) loadMarketBundle(symbol string) (*Market, InterestRateModel, FungibleAsset, error) {
	market, err := e.loadMarket(symbol)
	if err != nil {
		return nil, nil, nil, err
	}
	model, err := e.registry.RateModel(symbol)
	if err != nil {
		return nil, nil, nil, err
	}
	asset, err := e.registry.Asset(symbol)
	if err != nil {
		return nil, nil, nil, err
	}
	return market, model, asset, nil
}

// loadListedBundle additionally requires the risk engine to have listed the
// market.
func (e *Engine) loadListedBundle(symbol string) (*Market, InterestRateModel, FungibleAsset, error) {
	listing, err := e.state.GetListing(symbol)
	if err != nil {
		return nil, nil, nil, err
	}
	if listing == nil || !listing.Listed {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrMarketNotListed, symbol)
	}
	return e.loadMarketBundle(symbol)
}

func (e *Engine) loadPosition(symbol string, addr crypto.Address) (*AccountPosition, error) {
	pos, err := e.state.GetPosition(symbol, addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = normalizePosition(&AccountPosition{Address: addr, Market: symbol})
	}
	return pos, nil
}

// accrueAndCommit applies pending interest and persists it immediately;
// accrual stands even when the surrounding operation is later rejected.
func (e *Engine) accrueAndCommit(market *Market, symbol string) error {
	model, err := e.registry.RateModel(symbol)
	if err != nil {
		return err
	}
	changed, err := market.accrue(model, e.clock.Height())
	if err != nil {
		return err
	}
	if changed {
		return e.state.PutMarket(market)
	}
	return nil
}

// checkLiquidity runs the hypothetical post-operation solvency check.
func (e *Engine) checkLiquidity(addr crypto.Address, symbol string, redeemReceipts, borrowAmount *uint256.Int) error {
	if e.risk == nil {
		return nil
	}
	_, shortfall, err := e.risk.HypotheticalAccountLiquidity(addr, symbol, redeemReceipts, borrowAmount)
	if err != nil {
		return err
	}
	if !shortfall.IsZero() {
		return ErrInsufficientLiquidity
	}
	return nil
}

func (e *Engine) persist(market *Market, positions []*AccountPosition, rs *RewardState, ra *RewardAccount) error {
	if err := e.state.PutMarket(market); err != nil {
		return err
	}
	for _, pos := range positions {
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
	}
	if rs != nil {
		if err := e.state.PutRewardState(rs); err != nil {
			return err
		}
	}
	if ra != nil {
		if err := e.state.PutRewardAccount(ra); err != nil {
			return err
		}
	}
	return nil
}

// restore re-persists post-accrual snapshots after a failed outbound
// transfer, keeping the operation all-or-nothing.
func (e *Engine) restore(market *Market, positions ...*AccountPosition) {
	if err := e.state.PutMarket(market); err != nil {
		e.log.Error("rollback failed", "market", market.Symbol, "err", err)
	}
	for _, pos := range positions {
		if err := e.state.PutPosition(pos); err != nil {
			e.log.Error("rollback failed", "market", pos.Market, "account", pos.Address.String(), "err", err)
		}
	}
}

func (p *AccountPosition) clonePosition() *AccountPosition {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Receipts = clone(p.Receipts)
	cp.BorrowPrincipal = clone(p.BorrowPrincipal)
	cp.InterestIndex = clone(p.InterestIndex)
	return &cp
}
