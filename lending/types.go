package lending

import (
	"github.com/holiman/uint256"

	"openlend/crypto"
)

// Market captures the accounting state for one underlying asset. Amounts are
// base token units; mantissa fields are scaled by 1e18. The quiescent-state
// invariant is TotalSupply * exchangeRate == TotalCash + TotalBorrows -
// TotalReserves, within one unit of rounding.
type Market struct {
	// Symbol is the market identifier, e.g. "DAI".
	Symbol string `json:"symbol"`
	// UnderlyingDecimals records the underlying token's decimal places.
	UnderlyingDecimals uint8 `json:"underlyingDecimals"`
	// TotalSupply is the number of receipt tokens outstanding.
	TotalSupply *uint256.Int `json:"totalSupply"`
	// TotalCash is the underlying currently held by the market.
	TotalCash *uint256.Int `json:"totalCash"`
	// TotalBorrows is the outstanding debt including accrued interest.
	TotalBorrows *uint256.Int `json:"totalBorrows"`
	// TotalReserves is the interest retained by the protocol.
	TotalReserves *uint256.Int `json:"totalReserves"`
	// BorrowIndex is the cumulative interest multiplier, 1e18 at genesis.
	BorrowIndex *uint256.Int `json:"borrowIndex"`
	// AccrualBlock is the height interest was last applied at.
	AccrualBlock uint64 `json:"accrualBlock"`
	// ReserveFactor is the interest fraction routed to reserves, mantissa.
	ReserveFactor *uint256.Int `json:"reserveFactor"`
	// InitialExchangeRate is the bootstrap underlying-per-receipt rate,
	// fixed at market creation and used only while TotalSupply is zero.
	InitialExchangeRate *uint256.Int `json:"initialExchangeRate"`
}

// AccountPosition is one account's ledger within a single market. Created
// lazily on first interaction and never destroyed; balances may decay to
// zero.
type AccountPosition struct {
	Address crypto.Address `json:"address"`
	Market  string         `json:"market"`
	// Receipts is the account's receipt-token balance.
	Receipts *uint256.Int `json:"receipts"`
	// BorrowPrincipal is the debt recorded at the last interaction.
	BorrowPrincipal *uint256.Int `json:"borrowPrincipal"`
	// InterestIndex snapshots the market borrow index at that interaction.
	// Effective debt is BorrowPrincipal * BorrowIndex / InterestIndex.
	InterestIndex *uint256.Int `json:"interestIndex"`
}

// MarketListing holds the risk-engine-owned flags for a market.
type MarketListing struct {
	Listed bool `json:"listed"`
	// CollateralFactor is the fraction of collateral value counted toward
	// borrowing power, mantissa in [0, 1e18).
	CollateralFactor *uint256.Int `json:"collateralFactor"`
}

// RewardState tracks a market's reward-distribution indexes. The indexes are
// double-scaled (1e36) so per-receipt deltas survive integer truncation.
type RewardState struct {
	Market string `json:"market"`
	// SupplySpeed and BorrowSpeed are reward token units emitted per block
	// to each side of the market.
	SupplySpeed *uint256.Int `json:"supplySpeed"`
	BorrowSpeed *uint256.Int `json:"borrowSpeed"`
	SupplyIndex *uint256.Int `json:"supplyIndex"`
	BorrowIndex *uint256.Int `json:"borrowIndex"`
	// SupplyBlock and BorrowBlock record when each side's index was last
	// refreshed; the sides advance independently.
	SupplyBlock uint64 `json:"supplyBlock"`
	BorrowBlock uint64 `json:"borrowBlock"`
}

// RewardAccount carries an account's claimable reward balance along with its
// per-market index snapshots.
type RewardAccount struct {
	Address crypto.Address `json:"address"`
	Accrued *uint256.Int   `json:"accrued"`
	// SupplierIndex and BorrowerIndex snapshot, per market symbol, the
	// distribution index at the account's last touch.
	SupplierIndex map[string]*uint256.Int `json:"supplierIndex"`
	BorrowerIndex map[string]*uint256.Int `json:"borrowerIndex"`
}

func normalizeMarket(m *Market) *Market {
	if m == nil {
		return nil
	}
	if m.TotalSupply == nil {
		m.TotalSupply = new(uint256.Int)
	}
	if m.TotalCash == nil {
		m.TotalCash = new(uint256.Int)
	}
	if m.TotalBorrows == nil {
		m.TotalBorrows = new(uint256.Int)
	}
	if m.TotalReserves == nil {
		m.TotalReserves = new(uint256.Int)
	}
	if isZero(m.BorrowIndex) {
		m.BorrowIndex = clone(expScale)
	}
	if m.ReserveFactor == nil {
		m.ReserveFactor = new(uint256.Int)
	}
	if isZero(m.InitialExchangeRate) {
		m.InitialExchangeRate = clone(expScale)
	}
	return m
}

// Clone returns a deep copy, used for hypothetical computations that must not
// leak mutations into persisted state.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	cp := *m
	cp.TotalSupply = clone(m.TotalSupply)
	cp.TotalCash = clone(m.TotalCash)
	cp.TotalBorrows = clone(m.TotalBorrows)
	cp.TotalReserves = clone(m.TotalReserves)
	cp.BorrowIndex = clone(m.BorrowIndex)
	cp.ReserveFactor = clone(m.ReserveFactor)
	cp.InitialExchangeRate = clone(m.InitialExchangeRate)
	return &cp
}

func normalizePosition(p *AccountPosition) *AccountPosition {
	if p == nil {
		return nil
	}
	if p.Receipts == nil {
		p.Receipts = new(uint256.Int)
	}
	if p.BorrowPrincipal == nil {
		p.BorrowPrincipal = new(uint256.Int)
	}
	if isZero(p.InterestIndex) {
		p.InterestIndex = clone(expScale)
	}
	return p
}

func normalizeListing(l *MarketListing) *MarketListing {
	if l == nil {
		return nil
	}
	if l.CollateralFactor == nil {
		l.CollateralFactor = new(uint256.Int)
	}
	return l
}

func normalizeRewardState(rs *RewardState) *RewardState {
	if rs == nil {
		return nil
	}
	if rs.SupplySpeed == nil {
		rs.SupplySpeed = new(uint256.Int)
	}
	if rs.BorrowSpeed == nil {
		rs.BorrowSpeed = new(uint256.Int)
	}
	if isZero(rs.SupplyIndex) {
		rs.SupplyIndex = clone(doubleScale)
	}
	if isZero(rs.BorrowIndex) {
		rs.BorrowIndex = clone(doubleScale)
	}
	return rs
}

func normalizeRewardAccount(ra *RewardAccount) *RewardAccount {
	if ra == nil {
		return nil
	}
	if ra.Accrued == nil {
		ra.Accrued = new(uint256.Int)
	}
	if ra.SupplierIndex == nil {
		ra.SupplierIndex = make(map[string]*uint256.Int)
	}
	if ra.BorrowerIndex == nil {
		ra.BorrowerIndex = make(map[string]*uint256.Int)
	}
	return ra
}
