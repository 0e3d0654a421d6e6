package lending

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"openlend/storage"
)

func TestKVStateMarketRoundTrip(t *testing.T) {
	state := NewKVState(storage.NewMemDB())

	got, err := state.GetMarket("USDH")
	if err != nil {
		t.Fatalf("get absent market: %v", err)
	}
	if got != nil {
		t.Fatalf("absent market = %+v, want nil", got)
	}

	market := &Market{
		Symbol:              "USDH",
		UnderlyingDecimals:  18,
		TotalSupply:         uint256.NewInt(1000),
		TotalCash:           uint256.NewInt(400),
		TotalBorrows:        uint256.NewInt(600),
		TotalReserves:       uint256.NewInt(10),
		BorrowIndex:         MustParseExp("1.05"),
		AccrualBlock:        42,
		ReserveFactor:       MustParseExp("0.2"),
		InitialExchangeRate: MustParseExp("2.0"),
	}
	if err := state.PutMarket(market); err != nil {
		t.Fatalf("put market: %v", err)
	}
	got, err = state.GetMarket("USDH")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if got.AccrualBlock != 42 || got.TotalBorrows.Cmp(market.TotalBorrows) != 0 {
		t.Fatalf("market round trip mismatch: %+v", got)
	}
	if got.BorrowIndex.Cmp(market.BorrowIndex) != 0 {
		t.Fatalf("borrow index = %s", got.BorrowIndex.Dec())
	}
}

func TestKVStateNormalizesMissingFields(t *testing.T) {
	state := NewKVState(storage.NewMemDB())
	if err := state.PutMarket(&Market{Symbol: "WETH"}); err != nil {
		t.Fatalf("put market: %v", err)
	}
	got, err := state.GetMarket("WETH")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if got.TotalSupply == nil || got.BorrowIndex == nil {
		t.Fatalf("normalization left nil fields: %+v", got)
	}
	if got.BorrowIndex.Cmp(expScale) != 0 {
		t.Fatalf("default borrow index = %s, want 1e18", got.BorrowIndex.Dec())
	}
}

func TestKVStateListMarkets(t *testing.T) {
	state := NewKVState(storage.NewMemDB())
	for _, symbol := range []string{"WETH", "USDH", "WBTC"} {
		if err := state.PutMarket(&Market{Symbol: symbol}); err != nil {
			t.Fatalf("put %s: %v", symbol, err)
		}
	}
	symbols, err := state.ListMarkets()
	if err != nil {
		t.Fatalf("list markets: %v", err)
	}
	want := []string{"USDH", "WBTC", "WETH"}
	if len(symbols) != len(want) {
		t.Fatalf("markets = %v, want %v", symbols, want)
	}
	for i := range want {
		if symbols[i] != want[i] {
			t.Fatalf("markets = %v, want %v", symbols, want)
		}
	}
}

func TestKVStatePositionKeyedByMarketAndAccount(t *testing.T) {
	state := NewKVState(storage.NewMemDB())
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)

	if err := state.PutPosition(&AccountPosition{
		Address:  alice,
		Market:   "USDH",
		Receipts: uint256.NewInt(500),
	}); err != nil {
		t.Fatalf("put position: %v", err)
	}

	got, err := state.GetPosition("USDH", alice)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	expectAmount(t, got.Receipts, 500, "receipts")

	// The same account in another market, and another account in the same
	// market, are both distinct records.
	if got, err := state.GetPosition("WETH", alice); err != nil || got != nil {
		t.Fatalf("cross-market position = %+v, %v", got, err)
	}
	if got, err := state.GetPosition("USDH", bob); err != nil || got != nil {
		t.Fatalf("cross-account position = %+v, %v", got, err)
	}
}

func TestKVStateMembershipAndListings(t *testing.T) {
	state := NewKVState(storage.NewMemDB())
	alice := makeAddress(0x01)

	markets, err := state.GetMembership(alice)
	if err != nil {
		t.Fatalf("get absent membership: %v", err)
	}
	if markets != nil {
		t.Fatalf("absent membership = %v", markets)
	}
	if err := state.PutMembership(alice, []string{"USDH", "WETH"}); err != nil {
		t.Fatalf("put membership: %v", err)
	}
	markets, err = state.GetMembership(alice)
	if err != nil {
		t.Fatalf("get membership: %v", err)
	}
	if len(markets) != 2 || markets[0] != "USDH" {
		t.Fatalf("membership = %v", markets)
	}

	if err := state.PutListing("USDH", &MarketListing{Listed: true, CollateralFactor: MustParseExp("0.85")}); err != nil {
		t.Fatalf("put listing: %v", err)
	}
	listing, err := state.GetListing("USDH")
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if !listing.Listed || listing.CollateralFactor.Cmp(MustParseExp("0.85")) != 0 {
		t.Fatalf("listing = %+v", listing)
	}
}

func TestKVStateRewardRecords(t *testing.T) {
	state := NewKVState(storage.NewMemDB())
	alice := makeAddress(0x01)

	if err := state.PutRewardState(&RewardState{
		Market:      "USDH",
		SupplySpeed: uint256.NewInt(10),
		SupplyBlock: 7,
		BorrowBlock: 7,
	}); err != nil {
		t.Fatalf("put reward state: %v", err)
	}
	rs, err := state.GetRewardState("USDH")
	if err != nil {
		t.Fatalf("get reward state: %v", err)
	}
	if rs.SupplyIndex.Cmp(doubleScale) != 0 || rs.BorrowIndex.Cmp(doubleScale) != 0 {
		t.Fatalf("default reward indexes: %+v", rs)
	}

	if err := state.PutRewardAccount(&RewardAccount{
		Address: alice,
		Accrued: uint256.NewInt(50),
		SupplierIndex: map[string]*uint256.Int{
			"USDH": doubleScale.Clone(),
		},
	}); err != nil {
		t.Fatalf("put reward account: %v", err)
	}
	ra, err := state.GetRewardAccount(alice)
	if err != nil {
		t.Fatalf("get reward account: %v", err)
	}
	expectAmount(t, ra.Accrued, 50, "accrued")
	if ra.SupplierIndex["USDH"].Cmp(doubleScale) != 0 {
		t.Fatalf("supplier index = %v", ra.SupplierIndex)
	}
}

func TestKVStateRejectsInvalidRecords(t *testing.T) {
	state := NewKVState(storage.NewMemDB())
	if err := state.PutMarket(nil); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("put nil market: %v", err)
	}
	if err := state.PutMarket(&Market{}); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("put unnamed market: %v", err)
	}
	if err := state.PutListing("", &MarketListing{Listed: true}); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("put unnamed listing: %v", err)
	}
}
