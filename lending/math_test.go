package lending

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestParseExp(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1", "1000000000000000000"},
		{"1.08", "1080000000000000000"},
		{"0.75", "750000000000000000"},
		{".5", "500000000000000000"},
		{"2.000000000000000001", "2000000000000000001"},
		{" 0.5 ", "500000000000000000"},
	}
	for _, tc := range cases {
		got, err := ParseExp(tc.in)
		if err != nil {
			t.Fatalf("ParseExp(%q): %v", tc.in, err)
		}
		if got.Dec() != tc.want {
			t.Fatalf("ParseExp(%q) = %s, want %s", tc.in, got.Dec(), tc.want)
		}
	}
}

func TestParseExpRejectsBadInput(t *testing.T) {
	for _, in := range []string{
		"",
		"abc",
		"1.2.3",
		"-1",
		"0.0000000000000000001", // 19 fractional digits
	} {
		if _, err := ParseExp(in); !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("ParseExp(%q): expected ErrInvalidParameter, got %v", in, err)
		}
	}
}

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount("1000000000000000000000000")
	if err != nil {
		t.Fatalf("ParseAmount: %v", err)
	}
	if got.Dec() != "1000000000000000000000000" {
		t.Fatalf("ParseAmount = %s", got.Dec())
	}
	for _, in := range []string{"", "1.5", "x"} {
		if _, err := ParseAmount(in); !errors.Is(err, ErrInvalidParameter) {
			t.Fatalf("ParseAmount(%q): expected ErrInvalidParameter, got %v", in, err)
		}
	}
}

func TestMulExpTruncates(t *testing.T) {
	// 3 * 0.5 truncates to 1, never rounds up.
	got, err := mulExp(uint256.NewInt(3), MustParseExp("0.5"))
	if err != nil {
		t.Fatalf("mulExp: %v", err)
	}
	expectAmount(t, got, 1, "mulExp")

	got, err = mulExp(uint256.NewInt(1000), MustParseExp("1.08"))
	if err != nil {
		t.Fatalf("mulExp: %v", err)
	}
	expectAmount(t, got, 1080, "mulExp")
}

func TestDivExp(t *testing.T) {
	got, err := divExp(uint256.NewInt(1), uint256.NewInt(3))
	if err != nil {
		t.Fatalf("divExp: %v", err)
	}
	if got.Dec() != "333333333333333333" {
		t.Fatalf("divExp = %s", got.Dec())
	}
	if _, err := divExp(uint256.NewInt(1), new(uint256.Int)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected ErrArithmeticOverflow on zero denominator, got %v", err)
	}
}

func TestDoubleScaleRoundTrip(t *testing.T) {
	// divDouble then mulDouble reproduces a per-share distribution exactly
	// when the amounts divide evenly.
	ratio, err := divDouble(uint256.NewInt(50), uint256.NewInt(1000))
	if err != nil {
		t.Fatalf("divDouble: %v", err)
	}
	back, err := mulDouble(uint256.NewInt(1000), ratio)
	if err != nil {
		t.Fatalf("mulDouble: %v", err)
	}
	expectAmount(t, back, 50, "double round trip")
}

func TestCheckedArithmeticOverflow(t *testing.T) {
	if _, err := addChecked(maxUint256, uint256.NewInt(1)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("addChecked: expected overflow, got %v", err)
	}
	if _, err := subChecked(uint256.NewInt(1), uint256.NewInt(2)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("subChecked: expected underflow, got %v", err)
	}
	if _, err := mulChecked(maxUint256, uint256.NewInt(2)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("mulChecked: expected overflow, got %v", err)
	}
	if _, err := mulExp(maxUint256, expScale.Clone().Add(expScale, expScale)); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("mulExp: expected overflow, got %v", err)
	}
}

func TestCheckedArithmeticNilOperands(t *testing.T) {
	got, err := addChecked(nil, uint256.NewInt(7))
	if err != nil {
		t.Fatalf("addChecked: %v", err)
	}
	expectAmount(t, got, 7, "addChecked nil")
	got, err = mulExp(nil, expScale)
	if err != nil {
		t.Fatalf("mulExp: %v", err)
	}
	expectAmount(t, got, 0, "mulExp nil")
}
