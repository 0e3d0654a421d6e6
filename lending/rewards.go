package lending

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/holiman/uint256"

	"openlend/crypto"
)

// RewardEngine streams a reward token to suppliers and borrowers of
// configured markets. Each side of a market carries a cumulative per-unit
// index scaled by 1e36; accounts snapshot the index at every touch and
// accrue the delta times their share. Distribution state is updated whenever
// the market engine moves a position, so balances are exact at claim time.
type RewardEngine struct {
	mu    sync.Mutex
	state EngineState
	clock *BlockClock
	token FungibleAsset
	pool  crypto.Address
	log   *slog.Logger
}

func NewRewardEngine(state EngineState, clock *BlockClock, token FungibleAsset, pool crypto.Address) *RewardEngine {
	return &RewardEngine{state: state, clock: clock, token: token, pool: pool, log: slog.Default()}
}

func (r *RewardEngine) SetLogger(log *slog.Logger) {
	if r == nil || log == nil {
		return
	}
	r.log = log
}

// SetSpeeds configures the per-block emission for both sides of a market.
// Indexes are brought current under the old speeds before the switch so no
// account gains or loses retroactively.
func (r *RewardEngine) SetSpeeds(symbol string, supplySpeed, borrowSpeed *uint256.Int) error {
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
		return fmt.Errorf("%w: %s", ErrMarketNotListed, symbol)
	}
	rs, err := r.state.GetRewardState(symbol)
	if err != nil {
		return err
	}
	if rs == nil {
		height := r.clock.Height()
		rs = normalizeRewardState(&RewardState{Market: symbol, SupplyBlock: height, BorrowBlock: height})
	} else if err := r.refresh(rs, market); err != nil {
		return err
	}
	rs.SupplySpeed = clone(supplySpeed)
	rs.BorrowSpeed = clone(borrowSpeed)
	if err := r.state.PutRewardState(rs); err != nil {
		return err
	}
	r.log.Info("reward speeds set",
		"market", symbol,
		"supplySpeed", rs.SupplySpeed.Dec(),
		"borrowSpeed", rs.BorrowSpeed.Dec(),
	)
	return nil
}

// UpdateIndexes brings both distribution indexes of a market current without
// touching any account.
func (r *RewardEngine) UpdateIndexes(symbol string) error {
	if r == nil || r.state == nil {
		return ErrNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	market, rs, err := r.loadPair(symbol)
	if err != nil || rs == nil {
		return err
	}
	if err := r.refresh(rs, market); err != nil {
		return err
	}
	return r.state.PutRewardState(rs)
}

// Claim brings the caller's distributions current across every market and
// pays out the accrued balance from the reward pool. A short pool fails the
// payout but keeps the accrued balance claimable later.
func (r *RewardEngine) Claim(addr crypto.Address) (*uint256.Int, error) {
	if r == nil || r.state == nil {
		return nil, ErrNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ra, err := r.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	symbols, err := r.state.ListMarkets()
	if err != nil {
		return nil, err
	}
	for _, symbol := range symbols {
		market, rs, err := r.loadPair(symbol)
		if err != nil {
			return nil, err
		}
		if rs == nil {
			continue
		}
		if err := r.refresh(rs, market); err != nil {
			return nil, err
		}
		pos, err := r.state.GetPosition(symbol, addr)
		if err != nil {
			return nil, err
		}
		if pos != nil {
			if err := r.distributeSupplier(rs, pos, ra); err != nil {
				return nil, err
			}
			if err := r.distributeBorrower(rs, market, pos, ra); err != nil {
				return nil, err
			}
		}
		if err := r.state.PutRewardState(rs); err != nil {
			return nil, err
		}
	}

	amount := clone(ra.Accrued)
	if amount.IsZero() {
		return amount, r.state.PutRewardAccount(ra)
	}
	balance, err := r.token.BalanceOf(r.pool)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		// The distribution itself stands; only the payout waits for the
		// pool to be topped up.
		if err := r.state.PutRewardAccount(ra); err != nil {
			return nil, err
		}
		return nil, ErrInsufficientRewardPool
	}
	if err := r.token.TransferFrom(r.pool, addr, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	ra.Accrued = new(uint256.Int)
	if err := r.state.PutRewardAccount(ra); err != nil {
		return nil, err
	}
	r.log.Info("rewards claimed", "account", addr.String(), "amount", amount.Dec())
	return amount, nil
}

// Accrued reports the balance the account would receive from Claim right
// now, including distribution deltas not yet checkpointed. State is not
// modified.
func (r *RewardEngine) Accrued(addr crypto.Address) (*uint256.Int, error) {
	if r == nil || r.state == nil {
		return nil, ErrNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ra, err := r.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	symbols, err := r.state.ListMarkets()
	if err != nil {
		return nil, err
	}
	for _, symbol := range symbols {
		market, rs, err := r.loadPair(symbol)
		if err != nil {
			return nil, err
		}
		if rs == nil {
			continue
		}
		if err := r.refresh(rs, market); err != nil {
			return nil, err
		}
		pos, err := r.state.GetPosition(symbol, addr)
		if err != nil {
			return nil, err
		}
		if pos == nil {
			continue
		}
		if err := r.distributeSupplier(rs, pos, ra); err != nil {
			return nil, err
		}
		if err := r.distributeBorrower(rs, market, pos, ra); err != nil {
			return nil, err
		}
	}
	return clone(ra.Accrued), nil
}

// touchSupplier refreshes the supply index and settles the position's
// supplier distribution. A nil receiver or an unconfigured market returns
// (nil, nil, nil) so callers can run without a reward engine wired in.
func (r *RewardEngine) touchSupplier(m *Market, pos *AccountPosition) (*RewardState, *RewardAccount, error) {
	if r == nil || m == nil || pos == nil {
		return nil, nil, nil
	}
	rs, err := r.state.GetRewardState(m.Symbol)
	if err != nil {
		return nil, nil, err
	}
	if rs == nil {
		return nil, nil, nil
	}
	if err := r.updateSupplyIndex(rs, m); err != nil {
		return nil, nil, err
	}
	ra, err := r.loadAccount(pos.Address)
	if err != nil {
		return nil, nil, err
	}
	if err := r.distributeSupplier(rs, pos, ra); err != nil {
		return nil, nil, err
	}
	return rs, ra, nil
}

// touchBorrower refreshes the borrow index and settles the position's
// borrower distribution, with the same nil semantics as touchSupplier.
func (r *RewardEngine) touchBorrower(m *Market, pos *AccountPosition) (*RewardState, *RewardAccount, error) {
	if r == nil || m == nil || pos == nil {
		return nil, nil, nil
	}
	rs, err := r.state.GetRewardState(m.Symbol)
	if err != nil {
		return nil, nil, err
	}
	if rs == nil {
		return nil, nil, nil
	}
	if err := r.updateBorrowIndex(rs, m); err != nil {
		return nil, nil, err
	}
	ra, err := r.loadAccount(pos.Address)
	if err != nil {
		return nil, nil, err
	}
	if err := r.distributeBorrower(rs, m, pos, ra); err != nil {
		return nil, nil, err
	}
	return rs, ra, nil
}

// touchLiquidation settles every distribution a liquidation moves in one
// pass with shared objects, so the borrower's account and a shared market
// are never loaded twice and persisted against each other. collRS aliases
// debtRS when the two markets coincide. All results are nil when neither
// market has rewards configured.
func (r *RewardEngine) touchLiquidation(borrowed, collateral *Market, debtPos, collPos, liqPos *AccountPosition) (debtRS, collRS *RewardState, borrowerRA, liquidatorRA *RewardAccount, err error) {
	if r == nil {
		return nil, nil, nil, nil, nil
	}
	if debtRS, err = r.state.GetRewardState(borrowed.Symbol); err != nil {
		return nil, nil, nil, nil, err
	}
	if borrowed.Symbol == collateral.Symbol {
		collRS = debtRS
	} else if collRS, err = r.state.GetRewardState(collateral.Symbol); err != nil {
		return nil, nil, nil, nil, err
	}
	if debtRS == nil && collRS == nil {
		return nil, nil, nil, nil, nil
	}
	if borrowerRA, err = r.loadAccount(debtPos.Address); err != nil {
		return nil, nil, nil, nil, err
	}
	if liquidatorRA, err = r.loadAccount(liqPos.Address); err != nil {
		return nil, nil, nil, nil, err
	}
	if debtRS != nil {
		if err = r.updateBorrowIndex(debtRS, borrowed); err != nil {
			return nil, nil, nil, nil, err
		}
		if err = r.distributeBorrower(debtRS, borrowed, debtPos, borrowerRA); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	if collRS != nil {
		if err = r.updateSupplyIndex(collRS, collateral); err != nil {
			return nil, nil, nil, nil, err
		}
		if err = r.distributeSupplier(collRS, collPos, borrowerRA); err != nil {
			return nil, nil, nil, nil, err
		}
		if err = r.distributeSupplier(collRS, liqPos, liquidatorRA); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	return debtRS, collRS, borrowerRA, liquidatorRA, nil
}

func (r *RewardEngine) loadPair(symbol string) (*Market, *RewardState, error) {
	rs, err := r.state.GetRewardState(symbol)
	if err != nil || rs == nil {
		return nil, nil, err
	}
	market, err := r.state.GetMarket(symbol)
	if err != nil {
		return nil, nil, err
	}
	if market == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrMarketNotListed, symbol)
	}
	return market, rs, nil
}

func (r *RewardEngine) loadAccount(addr crypto.Address) (*RewardAccount, error) {
	ra, err := r.state.GetRewardAccount(addr)
	if err != nil {
		return nil, err
	}
	if ra == nil {
		ra = normalizeRewardAccount(&RewardAccount{Address: addr})
	}
	return ra, nil
}

func (r *RewardEngine) refresh(rs *RewardState, m *Market) error {
	if err := r.updateSupplyIndex(rs, m); err != nil {
		return err
	}
	return r.updateBorrowIndex(rs, m)
}

// updateSupplyIndex folds the emission since the last checkpoint into the
// supply index: index += speed*elapsed / totalSupply, double-scaled. The
// checkpoint advances even when the market is empty so an empty interval
// never retroactively pays the first supplier.
func (r *RewardEngine) updateSupplyIndex(rs *RewardState, m *Market) error {
	height := r.clock.Height()
	if height <= rs.SupplyBlock {
		return nil
	}
	elapsed := height - rs.SupplyBlock
	rs.SupplyBlock = height
	if isZero(rs.SupplySpeed) || isZero(m.TotalSupply) {
		return nil
	}
	accrued, err := mulChecked(rs.SupplySpeed, uint256.NewInt(elapsed))
	if err != nil {
		return err
	}
	ratio, err := divDouble(accrued, m.TotalSupply)
	if err != nil {
		return err
	}
	rs.SupplyIndex, err = addChecked(rs.SupplyIndex, ratio)
	return err
}

// updateBorrowIndex is the borrow-side analog. The denominator is total
// borrows deflated by the market's interest index, so a borrower's share of
// emissions does not grow just because interest compounds.
func (r *RewardEngine) updateBorrowIndex(rs *RewardState, m *Market) error {
	height := r.clock.Height()
	if height <= rs.BorrowBlock {
		return nil
	}
	elapsed := height - rs.BorrowBlock
	rs.BorrowBlock = height
	if isZero(rs.BorrowSpeed) || isZero(m.TotalBorrows) {
		return nil
	}
	denom, err := divExp(m.TotalBorrows, m.BorrowIndex)
	if err != nil {
		return err
	}
	if denom.IsZero() {
		return nil
	}
	accrued, err := mulChecked(rs.BorrowSpeed, uint256.NewInt(elapsed))
	if err != nil {
		return err
	}
	ratio, err := divDouble(accrued, denom)
	if err != nil {
		return err
	}
	rs.BorrowIndex, err = addChecked(rs.BorrowIndex, ratio)
	return err
}

func (r *RewardEngine) distributeSupplier(rs *RewardState, pos *AccountPosition, ra *RewardAccount) error {
	snapshot := ra.SupplierIndex[rs.Market]
	if isZero(snapshot) {
		snapshot = clone(doubleScale)
	}
	delta, err := subChecked(rs.SupplyIndex, snapshot)
	if err != nil {
		return err
	}
	amount, err := mulDouble(pos.Receipts, delta)
	if err != nil {
		return err
	}
	if ra.Accrued, err = addChecked(ra.Accrued, amount); err != nil {
		return err
	}
	ra.SupplierIndex[rs.Market] = clone(rs.SupplyIndex)
	return nil
}

func (r *RewardEngine) distributeBorrower(rs *RewardState, m *Market, pos *AccountPosition, ra *RewardAccount) error {
	snapshot := ra.BorrowerIndex[rs.Market]
	if isZero(snapshot) {
		snapshot = clone(doubleScale)
	}
	delta, err := subChecked(rs.BorrowIndex, snapshot)
	if err != nil {
		return err
	}
	debt, err := m.borrowBalance(pos)
	if err != nil {
		return err
	}
	share, err := divExp(debt, m.BorrowIndex)
	if err != nil {
		return err
	}
	amount, err := mulDouble(share, delta)
	if err != nil {
		return err
	}
	if ra.Accrued, err = addChecked(ra.Accrued, amount); err != nil {
		return err
	}
	ra.BorrowerIndex[rs.Market] = clone(rs.BorrowIndex)
	return nil
}
