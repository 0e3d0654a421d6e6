package lending

import (
	"github.com/holiman/uint256"
)

// BlocksPerYear converts per-year rate parameters into per-block rates.
const BlocksPerYear = 31_536_000

var blocksPerYearInt = uint256.NewInt(BlocksPerYear)

// InterestRateModel derives per-block borrow and supply rates from market
// utilization. Implementations are pure and deterministic; both rates must be
// monotonic non-decreasing in utilization (a violation is a configuration
// error in the model parameters, not a runtime fault).
type InterestRateModel interface {
	// BorrowRate returns the per-block borrow rate mantissa.
	BorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error)
	// SupplyRate returns the per-block supply rate mantissa given the
	// market's reserve factor.
	SupplyRate(cash, borrows, reserves, reserveFactor *uint256.Int) (*uint256.Int, error)
}

// Utilization computes borrows / (cash + borrows) as a mantissa, defined as
// zero for an empty market.
func Utilization(cash, borrows *uint256.Int) (*uint256.Int, error) {
	if isZero(borrows) {
		return new(uint256.Int), nil
	}
	pool, err := addChecked(cash, borrows)
	if err != nil {
		return nil, err
	}
	if pool.IsZero() {
		return new(uint256.Int), nil
	}
	return divExp(borrows, pool)
}

func supplyRateFromBorrowRate(borrowRate, cash, borrows, reserveFactor *uint256.Int) (*uint256.Int, error) {
	util, err := Utilization(cash, borrows)
	if err != nil {
		return nil, err
	}
	oneMinusReserve, err := subChecked(expScale, reserveFactor)
	if err != nil {
		return nil, err
	}
	rateToPool, err := mulExp(borrowRate, oneMinusReserve)
	if err != nil {
		return nil, err
	}
	return mulExp(util, rateToPool)
}

// --- Linear ("white paper") model ---

// WhitePaperModel is the linear rate curve: borrowRate = base + multiplier*u.
type WhitePaperModel struct {
	baseRatePerBlock   *uint256.Int
	multiplierPerBlock *uint256.Int
}

// NewWhitePaperModel takes per-year mantissa parameters and stores per-block
// rates, matching how deployments configure the curve.
func NewWhitePaperModel(baseRatePerYear, multiplierPerYear *uint256.Int) *WhitePaperModel {
	return &WhitePaperModel{
		baseRatePerBlock:   new(uint256.Int).Div(clone(baseRatePerYear), blocksPerYearInt),
		multiplierPerBlock: new(uint256.Int).Div(clone(multiplierPerYear), blocksPerYearInt),
	}
}

func (m *WhitePaperModel) BorrowRate(cash, borrows, _ *uint256.Int) (*uint256.Int, error) {
	util, err := Utilization(cash, borrows)
	if err != nil {
		return nil, err
	}
	scaled, err := mulExp(util, m.multiplierPerBlock)
	if err != nil {
		return nil, err
	}
	return addChecked(scaled, m.baseRatePerBlock)
}

func (m *WhitePaperModel) SupplyRate(cash, borrows, reserves, reserveFactor *uint256.Int) (*uint256.Int, error) {
	borrowRate, err := m.BorrowRate(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	return supplyRateFromBorrowRate(borrowRate, cash, borrows, reserveFactor)
}

// --- Kinked ("jump rate") model ---

// JumpRateModel applies the linear curve below the kink utilization and a
// steeper jump multiplier above it, pricing a sharp incentive to repay once
// liquidity runs short.
type JumpRateModel struct {
	baseRatePerBlock       *uint256.Int
	multiplierPerBlock     *uint256.Int
	jumpMultiplierPerBlock *uint256.Int
	kink                   *uint256.Int
}

// NewJumpRateModel takes per-year mantissa parameters plus the kink
// utilization mantissa.
func NewJumpRateModel(baseRatePerYear, multiplierPerYear, jumpMultiplierPerYear, kink *uint256.Int) *JumpRateModel {
	return &JumpRateModel{
		baseRatePerBlock:       new(uint256.Int).Div(clone(baseRatePerYear), blocksPerYearInt),
		multiplierPerBlock:     new(uint256.Int).Div(clone(multiplierPerYear), blocksPerYearInt),
		jumpMultiplierPerBlock: new(uint256.Int).Div(clone(jumpMultiplierPerYear), blocksPerYearInt),
		kink:                   clone(kink),
	}
}

func (m *JumpRateModel) BorrowRate(cash, borrows, _ *uint256.Int) (*uint256.Int, error) {
	util, err := Utilization(cash, borrows)
	if err != nil {
		return nil, err
	}
	if m.kink.IsZero() || util.Cmp(m.kink) <= 0 {
		scaled, err := mulExp(util, m.multiplierPerBlock)
		if err != nil {
			return nil, err
		}
		return addChecked(scaled, m.baseRatePerBlock)
	}
	atKink, err := mulExp(m.kink, m.multiplierPerBlock)
	if err != nil {
		return nil, err
	}
	normalRate, err := addChecked(atKink, m.baseRatePerBlock)
	if err != nil {
		return nil, err
	}
	excess, err := subChecked(util, m.kink)
	if err != nil {
		return nil, err
	}
	jump, err := mulExp(excess, m.jumpMultiplierPerBlock)
	if err != nil {
		return nil, err
	}
	return addChecked(normalRate, jump)
}

func (m *JumpRateModel) SupplyRate(cash, borrows, reserves, reserveFactor *uint256.Int) (*uint256.Int, error) {
	borrowRate, err := m.BorrowRate(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	return supplyRateFromBorrowRate(borrowRate, cash, borrows, reserveFactor)
}
