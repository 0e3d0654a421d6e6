package lending

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"openlend/crypto"
)

func rewardEnv(t *testing.T, poolBalance uint64) (*testEnv, *RewardEngine, *LedgerToken, crypto.Address) {
	t.Helper()
	env := newTestEnv(t)
	env.createMarket(t, marketFixture{
		symbol:              "USDH",
		initialExchangeRate: "1.0",
		collateralFactor:    "0.75",
	})
	pool := makeAddress(0xfe)
	token := NewLedgerToken("LEND")
	if poolBalance > 0 {
		if err := token.Mint(pool, uint256.NewInt(poolBalance)); err != nil {
			t.Fatalf("seed pool: %v", err)
		}
	}
	rewards := NewRewardEngine(env.state, env.clock, token, pool)
	env.engine.SetRewardEngine(rewards)
	return env, rewards, token, pool
}

func TestSupplierRewardsAccruePerBlock(t *testing.T) {
	env, rewards, token, _ := rewardEnv(t, 1000)
	if err := rewards.SetSpeeds("USDH", uint256.NewInt(10), new(uint256.Int)); err != nil {
		t.Fatalf("set speeds: %v", err)
	}

	supplier := makeAddress(0x01)
	env.fund(t, "USDH", supplier, 1000)
	if _, err := env.engine.Mint(supplier, "USDH", uint256.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	env.clock.Advance(5)
	accrued, err := rewards.Accrued(supplier)
	if err != nil {
		t.Fatalf("accrued: %v", err)
	}
	// Sole supplier earns the full 10 per block for 5 blocks.
	expectAmount(t, accrued, 50, "accrued")

	claimed, err := rewards.Claim(supplier)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectAmount(t, claimed, 50, "claimed")
	balance, err := token.BalanceOf(supplier)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	expectAmount(t, balance, 50, "reward balance")

	// Nothing further accrues within the same block.
	claimed, err = rewards.Claim(supplier)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	expectAmount(t, claimed, 0, "second claim")
}

func TestSupplierRewardsSplitByShare(t *testing.T) {
	env, rewards, _, _ := rewardEnv(t, 1000)
	if err := rewards.SetSpeeds("USDH", uint256.NewInt(10), new(uint256.Int)); err != nil {
		t.Fatalf("set speeds: %v", err)
	}

	big := makeAddress(0x01)
	small := makeAddress(0x02)
	env.fund(t, "USDH", big, 750)
	env.fund(t, "USDH", small, 250)
	if _, err := env.engine.Mint(big, "USDH", uint256.NewInt(750)); err != nil {
		t.Fatalf("mint big: %v", err)
	}
	if _, err := env.engine.Mint(small, "USDH", uint256.NewInt(250)); err != nil {
		t.Fatalf("mint small: %v", err)
	}

	env.clock.Advance(4)
	bigAccrued, err := rewards.Accrued(big)
	if err != nil {
		t.Fatalf("accrued big: %v", err)
	}
	smallAccrued, err := rewards.Accrued(small)
	if err != nil {
		t.Fatalf("accrued small: %v", err)
	}
	expectAmount(t, bigAccrued, 30, "big accrued")
	expectAmount(t, smallAccrued, 10, "small accrued")
}

func TestBorrowerRewardsAccrue(t *testing.T) {
	env, rewards, _, _ := rewardEnv(t, 1000)
	if err := rewards.SetSpeeds("USDH", new(uint256.Int), uint256.NewInt(10)); err != nil {
		t.Fatalf("set speeds: %v", err)
	}

	borrower := makeAddress(0x01)
	env.fund(t, "USDH", borrower, 1000)
	if _, err := env.engine.Mint(borrower, "USDH", uint256.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.engine.Borrow(borrower, "USDH", uint256.NewInt(500)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	env.clock.Advance(5)
	accrued, err := rewards.Accrued(borrower)
	if err != nil {
		t.Fatalf("accrued: %v", err)
	}
	expectAmount(t, accrued, 50, "borrower accrued")
}

func TestClaimKeepsBalanceWhenPoolShort(t *testing.T) {
	env, rewards, token, pool := rewardEnv(t, 30)
	if err := rewards.SetSpeeds("USDH", uint256.NewInt(10), new(uint256.Int)); err != nil {
		t.Fatalf("set speeds: %v", err)
	}
	supplier := makeAddress(0x01)
	env.fund(t, "USDH", supplier, 1000)
	if _, err := env.engine.Mint(supplier, "USDH", uint256.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	env.clock.Advance(5)

	if _, err := rewards.Claim(supplier); !errors.Is(err, ErrInsufficientRewardPool) {
		t.Fatalf("expected ErrInsufficientRewardPool, got %v", err)
	}
	// The accrued balance survives the failed payout.
	accrued, err := rewards.Accrued(supplier)
	if err != nil {
		t.Fatalf("accrued: %v", err)
	}
	expectAmount(t, accrued, 50, "accrued after failed claim")

	// Topping the pool up makes the claim succeed.
	if err := token.Mint(pool, uint256.NewInt(100)); err != nil {
		t.Fatalf("top up pool: %v", err)
	}
	claimed, err := rewards.Claim(supplier)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectAmount(t, claimed, 50, "claimed after top up")
}

func TestSetSpeedsSettlesOldRateFirst(t *testing.T) {
	env, rewards, _, _ := rewardEnv(t, 1000)
	if err := rewards.SetSpeeds("USDH", uint256.NewInt(10), new(uint256.Int)); err != nil {
		t.Fatalf("set speeds: %v", err)
	}
	supplier := makeAddress(0x01)
	env.fund(t, "USDH", supplier, 1000)
	if _, err := env.engine.Mint(supplier, "USDH", uint256.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	env.clock.Advance(5)
	if err := rewards.SetSpeeds("USDH", uint256.NewInt(20), new(uint256.Int)); err != nil {
		t.Fatalf("change speeds: %v", err)
	}
	env.clock.Advance(5)

	accrued, err := rewards.Accrued(supplier)
	if err != nil {
		t.Fatalf("accrued: %v", err)
	}
	// 5 blocks at 10 plus 5 blocks at 20.
	expectAmount(t, accrued, 150, "accrued across speed change")
}

func TestRewardsUnconfiguredMarketIsInert(t *testing.T) {
	env, rewards, _, _ := rewardEnv(t, 1000)
	supplier := makeAddress(0x01)
	env.fund(t, "USDH", supplier, 1000)
	// No SetSpeeds: operations run, no distribution state appears.
	if _, err := env.engine.Mint(supplier, "USDH", uint256.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	env.clock.Advance(5)
	accrued, err := rewards.Accrued(supplier)
	if err != nil {
		t.Fatalf("accrued: %v", err)
	}
	expectAmount(t, accrued, 0, "accrued without speeds")
	if len(env.state.rewardStates) != 0 {
		t.Fatalf("unexpected reward state: %v", env.state.rewardStates)
	}
}
