package lending

import "errors"

// Sentinel errors returned by the engine. Callers branch with errors.Is; the
// marketd service layer translates them to HTTP status codes.
var (
	// Validation failures, rejected before any mutation.
	ErrNilState         = errors.New("lending: state not configured")
	ErrZeroAmount       = errors.New("lending: amount must be positive")
	ErrInvalidParameter = errors.New("lending: parameter out of range")
	ErrMarketNotListed  = errors.New("lending: market not listed")
	ErrAlreadyListed    = errors.New("lending: market already listed")

	// Business-rule rejections, safe to retry after state changes.
	ErrInsufficientCash      = errors.New("lending: insufficient market cash")
	ErrInsufficientLiquidity = errors.New("lending: account liquidity below requirement")
	ErrInsufficientBalance   = errors.New("lending: insufficient balance")
	ErrBorrowerHealthy       = errors.New("lending: borrower has no shortfall")
	ErrTooMuchRepay          = errors.New("lending: repay exceeds close factor bound")
	ErrSeizeTooMuch          = errors.New("lending: seize exceeds borrower collateral")
	ErrNoDebtToRepay         = errors.New("lending: no outstanding debt to repay")

	// Arithmetic faults, indicating a parameter or scale misconfiguration.
	ErrArithmeticOverflow = errors.New("lending: arithmetic overflow")
	ErrAccrualOverflow    = errors.New("lending: interest accrual overflow")

	// External-dependency failures, operation aborts with no state change.
	ErrTransferFailed         = errors.New("lending: asset transfer rejected")
	ErrPriceUnavailable       = errors.New("lending: oracle price unavailable")
	ErrInsufficientRewardPool = errors.New("lending: reward pool balance too low")

	// Module gate.
	ErrModulePaused = errors.New("lending: module paused")
)
