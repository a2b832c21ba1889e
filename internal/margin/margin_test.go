package margin_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atmx/perp-engine/internal/collateral"
	"github.com/atmx/perp-engine/internal/enginetest"
	"github.com/atmx/perp-engine/internal/fee"
	"github.com/atmx/perp-engine/internal/fixed"
	"github.com/atmx/perp-engine/internal/margin"
	"github.com/atmx/perp-engine/internal/model"
	"github.com/atmx/perp-engine/internal/oracle"
	"github.com/atmx/perp-engine/internal/store"
)

var alice = enginetest.Alice

func newCalculator(env *enginetest.Env) *margin.Calculator {
	valuer := collateral.NewValuer(env.Config, env.Prices)
	fees := fee.NewEngine(env.Config, valuer, collateral.NewWaterfall(env.Config, valuer))
	calc := margin.NewCalculator(env.Config, env.Prices, valuer, fees)
	calc.SetClock(env.Now)
	return calc
}

func noTradingFee(mc *model.MarketConfig) { mc.DecreasePositionFeeRateBPS = 0 }

func TestAccount_UnderwaterScenario(t *testing.T) {
	env := enginetest.New(t)
	env.UpdateMarket(t, enginetest.ETHMarket, noTradingFee)
	calc := newCalculator(env)

	env.Deposit(t, alice, enginetest.WBTC, enginetest.Units(t, "0.3", 8))
	env.Deposit(t, alice, enginetest.USDT, enginetest.Units(t, "10000", 6))
	env.PutPosition(t, alice, enginetest.ETHMarket, fixed.USD(1_500_000), fixed.USD(1500), fixed.USD(135_000))
	env.SetPrice(t, "ETH", "1480")

	env.View(t, func(tx *store.Tx) {
		acc, err := calc.GetAccount(tx, alice, oracle.NoOverride)
		require.NoError(t, err)

		require.Equal(t, fixed.USD(15_760).String(), acc.Collateral.String())
		require.Equal(t, fixed.USD(-20_000).String(), acc.UnrealizedPnl.String())
		require.Equal(t, fixed.USD(-4_240).String(), acc.Equity.String())
		require.Equal(t, fixed.USD(7_500).String(), acc.MMR.String())
		require.Equal(t, fixed.USD(15_000).String(), acc.IMR.String())
		require.Equal(t, fixed.USD(-19_240).String(), acc.FreeCollateral.String())
		require.False(t, acc.Healthy())

		healthy, _, err := calc.IsHealthy(tx, alice, oracle.NoOverride)
		require.NoError(t, err)
		require.False(t, healthy)
	})
}

func TestAccount_Healthy(t *testing.T) {
	env := enginetest.New(t)
	env.UpdateMarket(t, enginetest.ETHMarket, noTradingFee)
	calc := newCalculator(env)

	env.Deposit(t, alice, enginetest.USDT, enginetest.Units(t, "1000", 6))
	env.PutPosition(t, alice, enginetest.ETHMarket, fixed.USD(-30_000), fixed.USD(1500), fixed.USD(2_700))

	env.View(t, func(tx *store.Tx) {
		equity, err := calc.GetEquity(tx, alice, oracle.NoOverride)
		require.NoError(t, err)
		require.Equal(t, fixed.USD(1000).String(), equity.String())

		mmr, err := calc.GetMMR(tx, alice)
		require.NoError(t, err)
		require.Equal(t, fixed.USD(150).String(), mmr.String())

		imr, err := calc.GetIMR(tx, alice)
		require.NoError(t, err)
		require.Equal(t, fixed.USD(300).String(), imr.String())

		free, err := calc.GetFreeCollateral(tx, alice, oracle.NoOverride)
		require.NoError(t, err)
		require.Equal(t, fixed.USD(700).String(), free.String())

		healthy, _, err := calc.IsHealthy(tx, alice, oracle.NoOverride)
		require.NoError(t, err)
		require.True(t, healthy)
	})
}

func TestUnrealizedPnl_ProfitCappedAtReserve(t *testing.T) {
	env := enginetest.New(t)
	env.UpdateMarket(t, enginetest.ETHMarket, noTradingFee)
	calc := newCalculator(env)

	env.PutPosition(t, alice, enginetest.ETHMarket, fixed.USD(10_000), fixed.USD(1500), fixed.USD(100))
	env.SetPrice(t, "ETH", "1800")

	env.View(t, func(tx *store.Tx) {
		pnl, fees, err := calc.GetUnrealizedPnlAndFee(tx, alice, oracle.NoOverride)
		require.NoError(t, err)
		require.Equal(t, fixed.USD(100).String(), pnl.String())
		require.True(t, fees.IsZero())
	})
}

func TestUnrealizedPnl_MinProfitDuration(t *testing.T) {
	env := enginetest.New(t)
	env.UpdateMarket(t, enginetest.ETHMarket, noTradingFee)
	env.UpdateTrading(func(tc *model.TradingConfig) { tc.MinProfitDuration = time.Hour })
	calc := newCalculator(env)

	env.PutPosition(t, alice, enginetest.ETHMarket, fixed.USD(15_000), fixed.USD(1500), fixed.USD(10_000))
	env.SetPrice(t, "ETH", "1600")

	env.View(t, func(tx *store.Tx) {
		pnl, _, err := calc.GetUnrealizedPnlAndFee(tx, alice, oracle.NoOverride)
		require.NoError(t, err)
		require.True(t, pnl.IsZero())
	})

	env.Advance(time.Hour)
	env.SetPrice(t, "ETH", "1600")
	env.View(t, func(tx *store.Tx) {
		pnl, _, err := calc.GetUnrealizedPnlAndFee(tx, alice, oracle.NoOverride)
		require.NoError(t, err)
		require.Equal(t, fixed.USD(1000).String(), pnl.String())
	})
}

func TestUnrealizedPnl_OverridePrice(t *testing.T) {
	env := enginetest.New(t)
	env.UpdateMarket(t, enginetest.ETHMarket, noTradingFee)
	calc := newCalculator(env)

	env.PutPosition(t, alice, enginetest.ETHMarket, fixed.USD(15_000), fixed.USD(1500), fixed.USD(10_000))

	env.View(t, func(tx *store.Tx) {
		ov := oracle.Override{AssetID: "ETH", PriceE30: fixed.USD(1400)}
		pnl, _, err := calc.GetUnrealizedPnlAndFee(tx, alice, ov)
		require.NoError(t, err)
		require.Equal(t, fixed.USD(-1000).String(), pnl.String())

		// An override for another asset leaves the oracle price in place.
		pnl, _, err = calc.GetUnrealizedPnlAndFee(tx, alice, oracle.Override{AssetID: "BTC", PriceE30: fixed.USD(1)})
		require.NoError(t, err)
		require.True(t, pnl.IsZero())
	})
}

func TestEquity_FeesAndBadDebt(t *testing.T) {
	env := enginetest.New(t)
	calc := newCalculator(env)

	env.Deposit(t, alice, enginetest.USDT, enginetest.Units(t, "500", 6))
	env.PutPosition(t, alice, enginetest.ETHMarket, fixed.USD(10_000), fixed.USD(1500), fixed.USD(900))
	err := env.Ledger.Update(context.Background(), func(tx *store.Tx) error {
		tx.AddBadDebt(alice, fixed.USD(40))
		return nil
	})
	require.NoError(t, err)

	env.View(t, func(tx *store.Tx) {
		acc, err := calc.GetAccount(tx, alice, oracle.NoOverride)
		require.NoError(t, err)
		// Closing fee of 10 bps on 10,000.
		require.Equal(t, fixed.USD(10).String(), acc.UnrealizedFee.String())
		require.Equal(t, fixed.USD(40).String(), acc.BadDebt.String())
		require.Equal(t, fixed.USD(450).String(), acc.Equity.String())
	})
}

func TestPLPHealth(t *testing.T) {
	env := enginetest.New(t)
	calc := newCalculator(env)

	env.SeedPLP(t, enginetest.USDT, enginetest.Units(t, "100000", 6))
	env.PutPosition(t, alice, enginetest.ETHMarket, fixed.USD(100_000), fixed.USD(1500), fixed.USD(90_000))

	env.View(t, func(tx *store.Tx) {
		aum, err := calc.GetAUM(tx)
		require.NoError(t, err)
		require.Equal(t, fixed.USD(100_000).String(), aum.String())

		unhealthy, err := calc.PLPUnhealthy(tx)
		require.NoError(t, err)
		require.False(t, unhealthy)
	})

	env.SetPrice(t, "ETH", "2850")
	env.View(t, func(tx *store.Tx) {
		aum, err := calc.GetAUM(tx)
		require.NoError(t, err)
		require.Equal(t, fixed.USD(10_000).String(), aum.String())

		unhealthy, err := calc.PLPUnhealthy(tx)
		require.NoError(t, err)
		require.True(t, unhealthy)

		tvl, err := calc.PLPTVL(tx)
		require.NoError(t, err)
		require.Equal(t, fixed.USD(100_000).String(), tvl.String())
	})
}
