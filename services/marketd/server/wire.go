package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"openlend/crypto"
	"openlend/lending"
)

// Wire types for the JSON API. Amounts travel as decimal strings in token
// base units; mantissa-scaled values keep their 1e18 scale and are marked as
// such. Addresses are bech32 strings handled by crypto.Address.

const repayAllKeyword = "max"

type marketPayload struct {
	Symbol              string `json:"symbol"`
	UnderlyingDecimals  uint8  `json:"underlyingDecimals"`
	TotalSupply         string `json:"totalSupply"`
	TotalCash           string `json:"totalCash"`
	TotalBorrows        string `json:"totalBorrows"`
	TotalReserves       string `json:"totalReserves"`
	BorrowIndex         string `json:"borrowIndex"`
	AccrualBlock        uint64 `json:"accrualBlock"`
	ReserveFactor       string `json:"reserveFactor"`
	ExchangeRate        string `json:"exchangeRate"`
	BorrowRatePerBlock  string `json:"borrowRatePerBlock"`
	SupplyRatePerBlock  string `json:"supplyRatePerBlock"`
	UtilizationMantissa string `json:"utilization"`
}

type positionPayload struct {
	Account         string `json:"account"`
	Market          string `json:"market"`
	Receipts        string `json:"receipts"`
	Underlying      string `json:"underlying"`
	BorrowBalance   string `json:"borrowBalance"`
	BorrowPrincipal string `json:"borrowPrincipal"`
	InterestIndex   string `json:"interestIndex"`
}

type liquidityPayload struct {
	Account   string   `json:"account"`
	Liquidity string   `json:"liquidity"`
	Shortfall string   `json:"shortfall"`
	Markets   []string `json:"markets"`
}

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

type accountRequest struct {
	Account crypto.Address `json:"account"`
}

type enterMarketsRequest struct {
	Account crypto.Address `json:"account"`
	Symbols []string       `json:"symbols"`
}

type positionRequest struct {
	Account crypto.Address `json:"account"`
	Symbol  string         `json:"symbol"`
}

type amountRequest struct {
	Account crypto.Address `json:"account"`
	Symbol  string         `json:"symbol"`
	Amount  string         `json:"amount"`
}

type withdrawRequest struct {
	Account crypto.Address `json:"account"`
	Symbol  string         `json:"symbol"`
	// Exactly one of Receipts and Underlying must be set; the other leg is
	// derived from the exchange rate.
	Receipts   string `json:"receipts,omitempty"`
	Underlying string `json:"underlying,omitempty"`
}

type repayRequest struct {
	Account crypto.Address `json:"account"`
	// OnBehalfOf repays another account's debt when set.
	OnBehalfOf *crypto.Address `json:"onBehalfOf,omitempty"`
	Symbol     string          `json:"symbol"`
	// Amount is a decimal string, or "max" to clear the full debt.
	Amount string `json:"amount"`
}

type liquidateRequest struct {
	Liquidator       crypto.Address `json:"liquidator"`
	Borrower         crypto.Address `json:"borrower"`
	BorrowedSymbol   string         `json:"borrowedSymbol"`
	CollateralSymbol string         `json:"collateralSymbol"`
	RepayAmount      string         `json:"repayAmount"`
}

type amountResponse struct {
	Amount string `json:"amount"`
}

type mintResponse struct {
	Receipts string `json:"receipts"`
}

type withdrawResponse struct {
	Receipts   string `json:"receipts"`
	Underlying string `json:"underlying"`
}

type repayResponse struct {
	Repaid string `json:"repaid"`
}

type liquidateResponse struct {
	Seized string `json:"seized"`
}

func parseAmountString(field, value string) (*uint256.Int, error) {
	amount, err := lending.ParseAmount(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return amount, nil
}

func parseRepayAmount(value string) (*uint256.Int, error) {
	if strings.EqualFold(strings.TrimSpace(value), repayAllKeyword) {
		return lending.RepayMax.Clone(), nil
	}
	return parseAmountString("amount", value)
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func encodeMarket(m *lending.Market, rate, borrowRate, supplyRate, utilization *uint256.Int) marketPayload {
	return marketPayload{
		Symbol:              m.Symbol,
		UnderlyingDecimals:  m.UnderlyingDecimals,
		TotalSupply:         dec(m.TotalSupply),
		TotalCash:           dec(m.TotalCash),
		TotalBorrows:        dec(m.TotalBorrows),
		TotalReserves:       dec(m.TotalReserves),
		BorrowIndex:         dec(m.BorrowIndex),
		AccrualBlock:        m.AccrualBlock,
		ReserveFactor:       dec(m.ReserveFactor),
		ExchangeRate:        dec(rate),
		BorrowRatePerBlock:  dec(borrowRate),
		SupplyRatePerBlock:  dec(supplyRate),
		UtilizationMantissa: dec(utilization),
	}
}

func requireSymbol(symbol string) (string, error) {
	trimmed := strings.TrimSpace(symbol)
	if trimmed == "" {
		return "", errors.New("symbol is required")
	}
	return trimmed, nil
}
