package lending

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"openlend/crypto"
)

// LiquidationEngine settles undercollateralized positions: a third party
// repays part of the borrower's debt and seizes receipt tokens from one of
// the borrower's collateral markets at a bonus. It orchestrates through the
// market engine's ledger and the risk engine's bounds; a failed attempt is
// surfaced to the caller and never retried internally.
type LiquidationEngine struct {
	engine *Engine
	risk   *RiskEngine
	log    *slog.Logger
}

func NewLiquidationEngine(engine *Engine, risk *RiskEngine) *LiquidationEngine {
	return &LiquidationEngine{engine: engine, risk: risk, log: slog.Default()}
}

func (l *LiquidationEngine) SetLogger(log *slog.Logger) {
	if l == nil || log == nil {
		return
	}
	l.log = log
}

// LiquidateBorrow repays repayAmount of the borrower's debt in the borrowed
// market and transfers the seized receipts in collateralSymbol to the
// liquidator. The steps are atomic as a unit: any rejection leaves only the
// interest accrual committed.
func (l *LiquidationEngine) LiquidateBorrow(liquidator, borrower crypto.Address, borrowedSymbol string, repayAmount *uint256.Int, collateralSymbol string) (seized *uint256.Int, err error) {
	e := l.engine
	defer func(start time.Time) { e.finish("liquidate", borrowedSymbol, start, err) }(time.Now())
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := guard(e.pauses); err != nil {
		return nil, err
	}
	if isZero(repayAmount) {
		return nil, ErrZeroAmount
	}
	if repayAmount.Eq(RepayMax) {
		return nil, fmt.Errorf("%w: repay-all sentinel not allowed in liquidation", ErrInvalidParameter)
	}
	if liquidator.Equal(borrower) {
		return nil, fmt.Errorf("%w: liquidator is borrower", ErrInvalidParameter)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	borrowed, _, borrowedAsset, err := e.loadListedBundle(borrowedSymbol)
	if err != nil {
		return nil, err
	}
	if err := e.accrueAndCommit(borrowed, borrowedSymbol); err != nil {
		return nil, err
	}
	sameMarket := collateralSymbol == borrowedSymbol
	collateral := borrowed
	if !sameMarket {
		if collateral, _, _, err = e.loadListedBundle(collateralSymbol); err != nil {
			return nil, err
		}
		if err := e.accrueAndCommit(collateral, collateralSymbol); err != nil {
			return nil, err
		}
	}

	// A liquidation is only permitted while the borrower is in shortfall.
	_, shortfall, err := l.risk.AccountLiquidity(borrower)
	if err != nil {
		return nil, err
	}
	if shortfall.IsZero() {
		return nil, ErrBorrowerHealthy
	}

	borrowerDebtPos, err := e.loadPosition(borrowedSymbol, borrower)
	if err != nil {
		return nil, err
	}
	debt, err := borrowed.borrowBalance(borrowerDebtPos)
	if err != nil {
		return nil, err
	}
	if debt.IsZero() {
		return nil, ErrNoDebtToRepay
	}
	maxClose, err := mulExp(l.risk.CloseFactor(), debt)
	if err != nil {
		return nil, err
	}
	if repayAmount.Cmp(maxClose) > 0 {
		return nil, ErrTooMuchRepay
	}

	seized, err = l.seizeAmount(borrowedSymbol, collateralSymbol, collateral, repayAmount)
	if err != nil {
		return nil, err
	}

	borrowerCollPos := borrowerDebtPos
	if !sameMarket {
		if borrowerCollPos, err = e.loadPosition(collateralSymbol, borrower); err != nil {
			return nil, err
		}
	}
	// A seize larger than the borrower's holdings signals inconsistent
	// price or parameter configuration; reject rather than clamp.
	if borrowerCollPos.Receipts.Cmp(seized) < 0 {
		return nil, ErrSeizeTooMuch
	}
	liquidatorCollPos, err := e.loadPosition(collateralSymbol, liquidator)
	if err != nil {
		return nil, err
	}

	debtRS, collRS, borrowerRA, liquidatorRA, err := e.rewards.touchLiquidation(
		borrowed, collateral, borrowerDebtPos, borrowerCollPos, liquidatorCollPos)
	if err != nil {
		return nil, err
	}

	if err := borrowedAsset.TransferFrom(liquidator, e.vault, repayAmount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	// Settle the debt side.
	if borrowerDebtPos.BorrowPrincipal, err = subChecked(debt, repayAmount); err != nil {
		return nil, err
	}
	borrowerDebtPos.InterestIndex = clone(borrowed.BorrowIndex)
	if borrowed.TotalBorrows.Cmp(repayAmount) < 0 {
		borrowed.TotalBorrows = new(uint256.Int)
	} else if borrowed.TotalBorrows, err = subChecked(borrowed.TotalBorrows, repayAmount); err != nil {
		return nil, err
	}
	if borrowed.TotalCash, err = addChecked(borrowed.TotalCash, repayAmount); err != nil {
		return nil, err
	}

	// Move the seized receipts; total supply is unchanged.
	if borrowerCollPos.Receipts, err = subChecked(borrowerCollPos.Receipts, seized); err != nil {
		return nil, err
	}
	if liquidatorCollPos.Receipts, err = addChecked(liquidatorCollPos.Receipts, seized); err != nil {
		return nil, err
	}

	positions := []*AccountPosition{borrowerDebtPos, liquidatorCollPos}
	if !sameMarket {
		positions = append(positions, borrowerCollPos)
	}
	if err := e.persist(borrowed, positions, debtRS, borrowerRA); err != nil {
		return nil, err
	}
	if !sameMarket {
		if err := e.state.PutMarket(collateral); err != nil {
			return nil, err
		}
		if collRS != nil {
			if err := e.state.PutRewardState(collRS); err != nil {
				return nil, err
			}
		}
	}
	if liquidatorRA != nil {
		if err := e.state.PutRewardAccount(liquidatorRA); err != nil {
			return nil, err
		}
	}

	l.log.Info("liquidation settled",
		"borrower", borrower.String(),
		"liquidator", liquidator.String(),
		"borrowed", borrowedSymbol,
		"collateral", collateralSymbol,
		"repaid", repayAmount.Dec(),
		"seized", seized.Dec(),
	)
	return seized, nil
}

// seizeAmount prices the seized receipts:
//
//	seize = repay * incentive * priceBorrowed / (priceCollateral * exchangeRate)
//
// denominated in the collateral market's receipt units.
func (l *LiquidationEngine) seizeAmount(borrowedSymbol, collateralSymbol string, collateral *Market, repayAmount *uint256.Int) (*uint256.Int, error) {
	priceBorrowed, err := l.risk.oracle.GetPrice(borrowedSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, borrowedSymbol)
	}
	priceCollateral, err := l.risk.oracle.GetPrice(collateralSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, collateralSymbol)
	}
	if priceBorrowed.IsZero() || priceCollateral.IsZero() {
		return nil, ErrPriceUnavailable
	}
	rate, err := collateral.exchangeRate()
	if err != nil {
		return nil, err
	}
	numerator, err := mulExp(l.risk.LiquidationIncentive(), priceBorrowed)
	if err != nil {
		return nil, err
	}
	denominator, err := mulExp(priceCollateral, rate)
	if err != nil {
		return nil, err
	}
	ratio, err := divExp(numerator, denominator)
	if err != nil {
		return nil, err
	}
	return mulExp(ratio, repayAmount)
}
