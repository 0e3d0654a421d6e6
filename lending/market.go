package lending

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Data-level market accounting. These methods mutate only the in-memory
// Market value; callers decide when the result is persisted, which is what
// lets the risk engine run the same accrual on throwaway clones for
// hypothetical checks.

// accrue applies interest for the blocks elapsed since the last checkpoint.
// Calling it twice at the same height is a no-op, so multiple operations in
// one block never double-compound. Reports whether state changed.
func (m *Market) accrue(model InterestRateModel, height uint64) (bool, error) {
	if height <= m.AccrualBlock {
		return false, nil
	}
	elapsed := uint256.NewInt(height - m.AccrualBlock)

	rate, err := model.BorrowRate(m.TotalCash, m.TotalBorrows, m.TotalReserves)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrAccrualOverflow, err)
	}

	// simpleInterestFactor = rate * elapsed
	// interestAccumulated  = simpleInterestFactor * totalBorrows
	// totalBorrows        += interestAccumulated
	// totalReserves       += interestAccumulated * reserveFactor
	// borrowIndex         *= 1 + simpleInterestFactor
	factor, err := mulChecked(rate, elapsed)
	if err != nil {
		return false, fmt.Errorf("%w: interest factor", ErrAccrualOverflow)
	}
	interest, err := mulExp(factor, m.TotalBorrows)
	if err != nil {
		return false, fmt.Errorf("%w: accumulated interest", ErrAccrualOverflow)
	}
	newBorrows, err := addChecked(m.TotalBorrows, interest)
	if err != nil {
		return false, fmt.Errorf("%w: total borrows", ErrAccrualOverflow)
	}
	reserveCut, err := mulExp(m.ReserveFactor, interest)
	if err != nil {
		return false, fmt.Errorf("%w: reserve share", ErrAccrualOverflow)
	}
	newReserves, err := addChecked(m.TotalReserves, reserveCut)
	if err != nil {
		return false, fmt.Errorf("%w: total reserves", ErrAccrualOverflow)
	}
	indexDelta, err := mulExp(factor, m.BorrowIndex)
	if err != nil {
		return false, fmt.Errorf("%w: borrow index", ErrAccrualOverflow)
	}
	newIndex, err := addChecked(m.BorrowIndex, indexDelta)
	if err != nil {
		return false, fmt.Errorf("%w: borrow index", ErrAccrualOverflow)
	}

	m.TotalBorrows = newBorrows
	m.TotalReserves = newReserves
	m.BorrowIndex = newIndex
	m.AccrualBlock = height
	return true, nil
}

// exchangeRate returns the underlying-per-receipt mantissa. While no receipts
// exist the configured bootstrap rate applies; afterwards the rate is
// (cash + borrows - reserves) / totalSupply and increases monotonically as
// interest accrues.
func (m *Market) exchangeRate() (*uint256.Int, error) {
	if m.TotalSupply.IsZero() {
		return clone(m.InitialExchangeRate), nil
	}
	pooled, err := addChecked(m.TotalCash, m.TotalBorrows)
	if err != nil {
		return nil, err
	}
	net, err := subChecked(pooled, m.TotalReserves)
	if err != nil {
		return nil, err
	}
	return divExp(net, m.TotalSupply)
}

// borrowBalance is the position's effective debt: principal scaled by the
// interest accrued since its index snapshot. Monotonically non-decreasing
// between checkpoints absent a repay.
func (m *Market) borrowBalance(pos *AccountPosition) (*uint256.Int, error) {
	if isZero(pos.BorrowPrincipal) {
		return new(uint256.Int), nil
	}
	scaled, err := mulChecked(pos.BorrowPrincipal, m.BorrowIndex)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(scaled, pos.InterestIndex), nil
}
