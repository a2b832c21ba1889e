// Package enginetest builds a small, fully wired protocol for engine tests:
// an ETH and a BTC market, three collateral tokens, an in-memory ledger and
// a price book with a controllable clock.
package enginetest

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/atmx/perp-engine/internal/config"
	"github.com/atmx/perp-engine/internal/fixed"
	"github.com/atmx/perp-engine/internal/identity"
	"github.com/atmx/perp-engine/internal/model"
	"github.com/atmx/perp-engine/internal/oracle"
	"github.com/atmx/perp-engine/internal/store"
)

const (
	ETHMarket uint64 = 0
	BTCMarket uint64 = 1

	CryptoClass uint8 = 0
)

var (
	Executor = common.HexToAddress("0x00000000000000000000000000000000000e0ec0")
	Alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	Bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	WETH = common.HexToAddress("0x0000000000000000000000000000000000000e7e")
	WBTC = common.HexToAddress("0x0000000000000000000000000000000000000b7c")
	USDT = common.HexToAddress("0x0000000000000000000000000000000000000d07")

	// T0 is the starting clock, aligned to the hour.
	T0 = time.Unix(1_699_999_200, 0)
)

// Env is a wired test protocol.
type Env struct {
	Config *config.Registry
	Prices *oracle.PriceBook
	Store  *store.MemoryStore
	Ledger *store.Ledger

	now time.Time
}

// USD parses a decimal dollar amount into E30.
func USD(tb testing.TB, s string) sdkmath.Int {
	tb.Helper()
	v, err := fixed.ParseE30(s)
	require.NoError(tb, err)
	return v
}

// Units parses a decimal token amount into base units.
func Units(tb testing.TB, s string, decimals uint8) sdkmath.Int {
	tb.Helper()
	v, err := fixed.ParseE30(s)
	require.NoError(tb, err)
	return fixed.E30ToToken(v, decimals, fixed.E30)
}

// ETHMarketConfig is the default ETH market.
func ETHMarketConfig() model.MarketConfig {
	return model.MarketConfig{
		AssetID:                      "ETH",
		AssetClass:                   CryptoClass,
		Active:                       true,
		AllowIncreasePosition:        true,
		MaxLongPositionSize:          fixed.USD(10_000_000),
		MaxShortPositionSize:         fixed.USD(10_000_000),
		InitialMarginFractionBPS:     100,
		MaintenanceMarginFractionBPS: 50,
		MaxProfitRateBPS:             90_000,
		IncreasePositionFeeRateBPS:   10,
		DecreasePositionFeeRateBPS:   10,
		MaxSkewScaleUSD:              fixed.Zero(),
		MaxFundingRate:               fixed.Zero(),
	}
}

// New builds the default environment. Fees other than trading fees are
// disabled; tests switch them on through Config.
func New(tb testing.TB) *Env {
	tb.Helper()

	reg := config.NewRegistry()
	reg.AddExecutor(Executor)
	reg.SetTradingConfig(model.TradingConfig{
		MaxPosition:        10,
		DevFeeRateBPS:      0,
		FundingInterval:    time.Hour,
		MinProfitDuration:  0,
		MinPositionSizeE30: fixed.USD(1),
	})
	reg.SetLiquidityConfig(model.LiquidityConfig{
		MaxPLPUtilizationBPS: 8000,
		PLPSafetyBufferBPS:   2000,
	})
	reg.SetLiquidationConfig(model.LiquidationConfig{LiquidationFeeUSDE30: fixed.USD(5)})
	reg.SetAssetClass(CryptoClass, model.AssetClassConfig{Name: "crypto", BaseBorrowingRate: fixed.Zero()})

	reg.SetMarket(ETHMarket, ETHMarketConfig())
	btc := ETHMarketConfig()
	btc.AssetID = "BTC"
	reg.SetMarket(BTCMarket, btc)

	reg.AddCollateralToken(model.CollateralTokenConfig{Token: WETH, AssetID: "ETH", Decimals: 18, CollateralFactorBPS: 8000, Accepted: true})
	reg.AddCollateralToken(model.CollateralTokenConfig{Token: WBTC, AssetID: "BTC", Decimals: 8, CollateralFactorBPS: 8000, Accepted: true})
	reg.AddCollateralToken(model.CollateralTokenConfig{Token: USDT, AssetID: "USDT", Decimals: 6, CollateralFactorBPS: 10000, Accepted: true})
	reg.SetPLPTokens([]common.Address{WETH, WBTC, USDT})

	mem := store.NewMemoryStore()
	env := &Env{
		Config: reg,
		Prices: oracle.NewPriceBook(time.Hour),
		Store:  mem,
		Ledger: store.NewLedger(mem),
		now:    T0,
	}
	env.Prices.SetClock(env.Now)

	env.SetPrice(tb, "ETH", "1500")
	env.SetPrice(tb, "BTC", "24000")
	env.SetPrice(tb, "USDT", "1")
	return env
}

// Now is the environment clock.
func (e *Env) Now() time.Time { return e.now }

// Advance moves the clock forward.
func (e *Env) Advance(d time.Duration) { e.now = e.now.Add(d) }

// SetPrice records an open-market price with no confidence spread.
func (e *Env) SetPrice(tb testing.TB, assetID, usd string) {
	tb.Helper()
	require.NoError(tb, e.Prices.SetPrice(assetID, USD(tb, usd), 0, model.MarketStatusOpen, e.now))
}

// UpdateMarket edits one market configuration.
func (e *Env) UpdateMarket(tb testing.TB, index uint64, fn func(*model.MarketConfig)) {
	tb.Helper()
	mc, err := e.Config.MarketConfig(index)
	require.NoError(tb, err)
	fn(&mc)
	e.Config.SetMarket(index, mc)
}

// UpdateTrading edits the trading configuration.
func (e *Env) UpdateTrading(fn func(*model.TradingConfig)) {
	tc := e.Config.TradingConfig()
	fn(&tc)
	e.Config.SetTradingConfig(tc)
}

// Deposit credits collateral to a sub-account.
func (e *Env) Deposit(tb testing.TB, sub, token common.Address, amount sdkmath.Int) {
	tb.Helper()
	err := e.Ledger.Update(context.Background(), func(tx *store.Tx) error {
		return tx.IncreaseTraderBalance(sub, token, amount)
	})
	require.NoError(tb, err)
}

// SeedPLP adds liquidity to the pool.
func (e *Env) SeedPLP(tb testing.TB, token common.Address, amount sdkmath.Int) {
	tb.Helper()
	err := e.Ledger.Update(context.Background(), func(tx *store.Tx) error {
		return tx.AddPool(model.PoolPLP, token, amount)
	})
	require.NoError(tb, err)
}

// View runs fn against the committed state.
func (e *Env) View(tb testing.TB, fn func(tx *store.Tx)) {
	tb.Helper()
	err := e.Ledger.View(context.Background(), func(tx *store.Tx) error {
		fn(tx)
		return nil
	})
	require.NoError(tb, err)
}

// Balance returns a committed trader balance.
func (e *Env) Balance(tb testing.TB, sub, token common.Address) sdkmath.Int {
	tb.Helper()
	var out sdkmath.Int
	e.View(tb, func(tx *store.Tx) { out = tx.TraderBalance(sub, token) })
	return out
}

// Pool returns a committed pool balance.
func (e *Env) Pool(tb testing.TB, kind model.PoolKind, token common.Address) sdkmath.Int {
	tb.Helper()
	var out sdkmath.Int
	e.View(tb, func(tx *store.Tx) { out = tx.PoolBalance(kind, token) })
	return out
}

// PutPosition stores a position directly, bypassing the trade engine, and
// adds its size to the market side at avgPrice.
func (e *Env) PutPosition(tb testing.TB, sub common.Address, market uint64, size, avgPrice, reserve sdkmath.Int) model.Position {
	tb.Helper()
	pos := model.ZeroPosition()
	pos.PrimaryAccount = sub
	pos.MarketIndex = market
	pos.SizeE30 = size
	pos.AvgEntryPriceE30 = avgPrice
	pos.ReserveValueE30 = reserve
	pos.LastIncreaseTimestamp = e.now.Unix()

	err := e.Ledger.Update(context.Background(), func(tx *store.Tx) error {
		tx.SavePosition(sub, identity.PositionID(sub, market), pos)
		m := tx.Market(market)
		if size.IsPositive() {
			tx.UpdateLongMarket(market, m.LongPositionSize.Add(size), avgPrice)
		} else {
			tx.UpdateShortMarket(market, m.ShortPositionSize.Add(size.Abs()), avgPrice)
		}
		return nil
	})
	require.NoError(tb, err)
	return pos
}
