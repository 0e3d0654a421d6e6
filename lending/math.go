package lending

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// All monetary quantities are unsigned integers; fractional values are
// mantissas scaled by 1e18. Products and quotients truncate toward zero, so
// rounding always favors the protocol (dust accrues to reserves, never to
// users). Every operation goes through a 512-bit intermediate and reports
// overflow instead of wrapping.

const expDecimals = 18

var (
	expScale    = uint256.NewInt(1_000_000_000_000_000_000)
	doubleScale = new(uint256.Int).Mul(expScale, expScale)
	maxUint256  = new(uint256.Int).SetAllOne()
)

// RepayMax is the sentinel "repay everything" amount.
var RepayMax = new(uint256.Int).SetAllOne()

func clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

func isZero(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}

// mulExp computes trunc(a*b / 1e18).
func mulExp(a, b *uint256.Int) (*uint256.Int, error) {
	if isZero(a) || isZero(b) {
		return new(uint256.Int), nil
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, expScale)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

// mulDouble computes trunc(a*b / 1e36), used by the reward indexes.
func mulDouble(a, b *uint256.Int) (*uint256.Int, error) {
	if isZero(a) || isZero(b) {
		return new(uint256.Int), nil
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, doubleScale)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

// divExp computes trunc(a*1e18 / b).
func divExp(a, b *uint256.Int) (*uint256.Int, error) {
	if isZero(b) {
		return nil, ErrArithmeticOverflow
	}
	if isZero(a) {
		return new(uint256.Int), nil
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, expScale, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

// divDouble computes trunc(a*1e36 / b).
func divDouble(a, b *uint256.Int) (*uint256.Int, error) {
	if isZero(b) {
		return nil, ErrArithmeticOverflow
	}
	if isZero(a) {
		return new(uint256.Int), nil
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, doubleScale, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

func addChecked(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(clone(a), clone(b))
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

func subChecked(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(clone(a), clone(b))
	if underflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

func mulChecked(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(clone(a), clone(b))
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

// ParseExp parses a decimal string such as "1.08" or "0.75" into an 1e18
// mantissa. At most 18 fractional digits are accepted; excess precision is a
// configuration error rather than silent truncation.
func ParseExp(s string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty mantissa", ErrInvalidParameter)
	}
	whole, frac := trimmed, ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		whole, frac = trimmed[:idx], trimmed[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > expDecimals {
		return nil, fmt.Errorf("%w: more than %d fractional digits in %q", ErrInvalidParameter, expDecimals, s)
	}
	padded := frac + strings.Repeat("0", expDecimals-len(frac))
	out := new(uint256.Int)
	if err := out.SetFromDecimal(whole + padded); err != nil {
		return nil, fmt.Errorf("%w: %q is not a decimal value", ErrInvalidParameter, s)
	}
	return out, nil
}

// MustParseExp is ParseExp for fixtures and defaults with known-good input.
func MustParseExp(s string) *uint256.Int {
	v, err := ParseExp(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseAmount parses a plain decimal integer amount of token base units.
func ParseAmount(s string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidParameter)
	}
	out := new(uint256.Int)
	if err := out.SetFromDecimal(trimmed); err != nil {
		return nil, fmt.Errorf("%w: %q is not an integer amount", ErrInvalidParameter, s)
	}
	return out, nil
}
