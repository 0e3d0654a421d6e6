package lending

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"
)

// GenesisConfig is the TOML bootstrap document for a fresh deployment:
// global risk parameters plus one [[market]] block per listed market.
// Mantissa fields are decimal strings ("0.75"), amounts are integer strings
// in token base units.
type GenesisConfig struct {
	CloseFactor          string         `toml:"closeFactor"`
	LiquidationIncentive string         `toml:"liquidationIncentive"`
	Rewards              RewardsConfig  `toml:"rewards"`
	Markets              []MarketConfig `toml:"market"`
}

// RewardsConfig names the reward token and the balance seeded into the
// payout pool at genesis.
type RewardsConfig struct {
	TokenSymbol string `toml:"tokenSymbol"`
	PoolBalance string `toml:"poolBalance"`
}

type MarketConfig struct {
	Symbol              string          `toml:"symbol"`
	UnderlyingDecimals  uint8           `toml:"underlyingDecimals"`
	InitialExchangeRate string          `toml:"initialExchangeRate"`
	ReserveFactor       string          `toml:"reserveFactor"`
	CollateralFactor    string          `toml:"collateralFactor"`
	Price               string          `toml:"price"`
	RateModel           RateModelConfig `toml:"rateModel"`
	SupplySpeed         string          `toml:"supplySpeed"`
	BorrowSpeed         string          `toml:"borrowSpeed"`
}

// RateModelConfig selects and parameterizes an interest rate model. Type is
// "whitepaper" (linear) or "jumprate" (kinked); rates are per-year mantissas.
type RateModelConfig struct {
	Type       string `toml:"type"`
	Base       string `toml:"base"`
	Multiplier string `toml:"multiplier"`
	Jump       string `toml:"jump"`
	Kink       string `toml:"kink"`
}

func LoadGenesis(path string) (*GenesisConfig, error) {
	var cfg GenesisConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("load genesis %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *GenesisConfig) validate() error {
	seen := make(map[string]struct{}, len(c.Markets))
	for i, m := range c.Markets {
		symbol := strings.TrimSpace(m.Symbol)
		if symbol == "" {
			return fmt.Errorf("%w: market %d missing symbol", ErrInvalidParameter, i)
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("%w: duplicate market %s", ErrInvalidParameter, symbol)
		}
		seen[symbol] = struct{}{}
		switch m.RateModel.Type {
		case "whitepaper", "jumprate":
		default:
			return fmt.Errorf("%w: market %s has unknown rate model %q", ErrInvalidParameter, symbol, m.RateModel.Type)
		}
	}
	return nil
}

// BuildRateModel constructs the configured interest rate model.
func (c RateModelConfig) BuildRateModel() (InterestRateModel, error) {
	base, err := parseExpField("rateModel.base", c.Base)
	if err != nil {
		return nil, err
	}
	multiplier, err := parseExpField("rateModel.multiplier", c.Multiplier)
	if err != nil {
		return nil, err
	}
	switch c.Type {
	case "whitepaper":
		return NewWhitePaperModel(base, multiplier), nil
	case "jumprate":
		jump, err := parseExpField("rateModel.jump", c.Jump)
		if err != nil {
			return nil, err
		}
		kink, err := parseExpField("rateModel.kink", c.Kink)
		if err != nil {
			return nil, err
		}
		return NewJumpRateModel(base, multiplier, jump, kink), nil
	default:
		return nil, fmt.Errorf("%w: unknown rate model %q", ErrInvalidParameter, c.Type)
	}
}

// ApplyGenesis wires the genesis document into a freshly constructed engine
// set: creates and lists every market, sets risk parameters, seeds oracle
// prices and reward speeds. assets maps market symbols to their underlying
// token ledgers. Reapplying over persisted state is safe: existing markets
// keep their ledgers and only have their runtime bindings refreshed, so a
// daemon restart replays the same document on boot.
func ApplyGenesis(cfg *GenesisConfig, engine *Engine, risk *RiskEngine, rewards *RewardEngine, oracle *StaticOracle, assets map[string]FungibleAsset) error {
	if cfg == nil || engine == nil || risk == nil || oracle == nil {
		return ErrInvalidParameter
	}
	if cfg.CloseFactor != "" {
		factor, err := parseExpField("closeFactor", cfg.CloseFactor)
		if err != nil {
			return err
		}
		if err := risk.SetCloseFactor(factor); err != nil {
			return err
		}
	}
	if cfg.LiquidationIncentive != "" {
		incentive, err := parseExpField("liquidationIncentive", cfg.LiquidationIncentive)
		if err != nil {
			return err
		}
		if err := risk.SetLiquidationIncentive(incentive); err != nil {
			return err
		}
	}
	for _, mc := range cfg.Markets {
		asset, ok := assets[mc.Symbol]
		if !ok {
			return fmt.Errorf("%w: no underlying asset for market %s", ErrInvalidParameter, mc.Symbol)
		}
		model, err := mc.RateModel.BuildRateModel()
		if err != nil {
			return fmt.Errorf("market %s: %w", mc.Symbol, err)
		}
		initialRate, err := parseExpField("initialExchangeRate", mc.InitialExchangeRate)
		if err != nil {
			return fmt.Errorf("market %s: %w", mc.Symbol, err)
		}
		reserveFactor, err := parseExpField("reserveFactor", orZero(mc.ReserveFactor))
		if err != nil {
			return fmt.Errorf("market %s: %w", mc.Symbol, err)
		}
		if err := engine.EnsureMarket(MarketParams{
			Symbol:              mc.Symbol,
			UnderlyingDecimals:  mc.UnderlyingDecimals,
			InitialExchangeRate: initialRate,
			ReserveFactor:       reserveFactor,
			Asset:               asset,
			RateModel:           model,
		}); err != nil {
			return err
		}
		if err := risk.SupportMarket(mc.Symbol); err != nil && !errors.Is(err, ErrAlreadyListed) {
			return err
		}
		if mc.CollateralFactor != "" {
			factor, err := parseExpField("collateralFactor", mc.CollateralFactor)
			if err != nil {
				return fmt.Errorf("market %s: %w", mc.Symbol, err)
			}
			if err := risk.SetCollateralFactor(mc.Symbol, factor); err != nil {
				return err
			}
		}
		if mc.Price != "" {
			price, err := parseExpField("price", mc.Price)
			if err != nil {
				return fmt.Errorf("market %s: %w", mc.Symbol, err)
			}
			if err := oracle.SetPrice(mc.Symbol, price); err != nil {
				return err
			}
		}
		if rewards != nil && (mc.SupplySpeed != "" || mc.BorrowSpeed != "") {
			supplySpeed, err := parseAmountField("supplySpeed", orZero(mc.SupplySpeed))
			if err != nil {
				return fmt.Errorf("market %s: %w", mc.Symbol, err)
			}
			borrowSpeed, err := parseAmountField("borrowSpeed", orZero(mc.BorrowSpeed))
			if err != nil {
				return fmt.Errorf("market %s: %w", mc.Symbol, err)
			}
			if err := rewards.SetSpeeds(mc.Symbol, supplySpeed, borrowSpeed); err != nil {
				return err
			}
		}
	}
	return nil
}

func orZero(s string) string {
	if strings.TrimSpace(s) == "" {
		return "0"
	}
	return s
}

func parseExpField(field, value string) (*uint256.Int, error) {
	v, err := ParseExp(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

func parseAmountField(field, value string) (*uint256.Int, error) {
	v, err := ParseAmount(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}
