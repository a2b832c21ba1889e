package trade_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/perp-engine/internal/collateral"
	"github.com/atmx/perp-engine/internal/config"
	"github.com/atmx/perp-engine/internal/enginetest"
	"github.com/atmx/perp-engine/internal/fee"
	"github.com/atmx/perp-engine/internal/fixed"
	"github.com/atmx/perp-engine/internal/identity"
	"github.com/atmx/perp-engine/internal/margin"
	"github.com/atmx/perp-engine/internal/model"
	"github.com/atmx/perp-engine/internal/store"
	"github.com/atmx/perp-engine/internal/trade"
)

var (
	alice    = enginetest.Alice
	executor = enginetest.Executor
	ctx      = context.Background()
)

func newEngine(env *enginetest.Env) *trade.Engine {
	valuer := collateral.NewValuer(env.Config, env.Prices)
	fees := fee.NewEngine(env.Config, valuer, collateral.NewWaterfall(env.Config, valuer))
	calc := margin.NewCalculator(env.Config, env.Prices, valuer, fees)
	calc.SetClock(env.Now)
	eng := trade.NewEngine(env.Ledger, env.Config, env.Prices, fees, calc)
	eng.SetClock(env.Now)
	return eng
}

func increase(market uint64, size sdkmath.Int) trade.IncreaseRequest {
	return trade.IncreaseRequest{
		Executor:     executor,
		Primary:      alice,
		MarketIndex:  market,
		SizeDeltaE30: size,
	}
}

func decrease(market uint64, size sdkmath.Int) trade.DecreaseRequest {
	return trade.DecreaseRequest{
		Executor:    executor,
		Primary:     alice,
		MarketIndex: market,
		SizeE30:     size,
	}
}

func closeReq(market uint64) trade.CloseRequest {
	return trade.CloseRequest{Executor: executor, Primary: alice, MarketIndex: market}
}

func usdt(t *testing.T, s string) sdkmath.Int { return enginetest.Units(t, s, 6) }

// fundedEnv gives alice 10,000 USDT against a 100,000 USDT pool.
func fundedEnv(t *testing.T) (*enginetest.Env, *trade.Engine) {
	env := enginetest.New(t)
	env.SeedPLP(t, enginetest.USDT, usdt(t, "100000"))
	env.Deposit(t, alice, enginetest.USDT, usdt(t, "10000"))
	return env, newEngine(env)
}

func position(t *testing.T, env *enginetest.Env, sub common.Address, market uint64) model.Position {
	var pos model.Position
	env.View(t, func(tx *store.Tx) { pos = tx.Position(identity.PositionID(sub, market)) })
	return pos
}

// --- Increase ---

func TestIncrease_TradingFeeFromETHCollateral(t *testing.T) {
	env := enginetest.New(t)
	env.UpdateMarket(t, enginetest.ETHMarket, func(mc *model.MarketConfig) {
		mc.IncreasePositionFeeRateBPS = 1
		mc.DecreasePositionFeeRateBPS = 1
		mc.InitialMarginFractionBPS = 10
	})
	env.SeedPLP(t, enginetest.USDT, usdt(t, "100000"))
	tenETH := enginetest.Units(t, "10", 18)
	env.Deposit(t, alice, enginetest.WETH, tenETH)
	env.Deposit(t, alice, enginetest.USDT, usdt(t, "100"))
	eng := newEngine(env)

	r, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(1_000_000)))
	require.NoError(t, err)
	require.Equal(t, fixed.USD(100).String(), r.Fees.Trading.String())
	require.Equal(t, fixed.USD(1500).String(), r.PriceE30.String())

	firstFee := sdkmath.NewInt(66666666666666666)
	require.Equal(t, tenETH.Sub(firstFee).String(), env.Balance(t, alice, enginetest.WETH).String())
	require.Equal(t, usdt(t, "100").String(), env.Balance(t, alice, enginetest.USDT).String())

	r, err = eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(600_000)))
	require.NoError(t, err)
	require.Equal(t, fixed.USD(60).String(), r.Fees.Trading.String())

	secondFee := sdkmath.NewInt(40000000000000000)
	require.Equal(t, firstFee.Add(secondFee).String(), env.Pool(t, model.PoolProtocolFee, enginetest.WETH).String())
	require.Equal(t, tenETH.Sub(firstFee).Sub(secondFee).String(), env.Balance(t, alice, enginetest.WETH).String())

	pos := position(t, env, alice, enginetest.ETHMarket)
	require.Equal(t, fixed.USD(1_600_000).String(), pos.SizeE30.String())
	require.Equal(t, fixed.USD(1500).String(), pos.AvgEntryPriceE30.String())
	require.Equal(t, fixed.USD(14_400).String(), pos.ReserveValueE30.String())
	require.Equal(t, enginetest.T0.Unix(), pos.LastIncreaseTimestamp)

	env.View(t, func(tx *store.Tx) {
		require.Equal(t, fixed.USD(14_400).String(), tx.GlobalState().ReserveValueE30.String())
		require.Equal(t, fixed.USD(14_400).String(), tx.AssetClass(enginetest.CryptoClass).ReserveValueE30.String())
		m := tx.Market(enginetest.ETHMarket)
		require.Equal(t, fixed.USD(1_600_000).String(), m.LongPositionSize.String())
		require.Equal(t, fixed.USD(1500).String(), m.LongAvgPrice.String())
	})
}

func TestIncrease_ShortKeepsNegativeSize(t *testing.T) {
	env, eng := fundedEnv(t)

	_, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(-10_000)))
	require.NoError(t, err)

	pos := position(t, env, alice, enginetest.ETHMarket)
	require.Equal(t, fixed.USD(-10_000).String(), pos.SizeE30.String())
	require.False(t, pos.IsLong())

	env.View(t, func(tx *store.Tx) {
		m := tx.Market(enginetest.ETHMarket)
		require.Equal(t, fixed.USD(10_000).String(), m.ShortPositionSize.String())
		require.True(t, m.LongPositionSize.IsZero())
	})
}

func TestIncrease_SubAccountsAreIsolated(t *testing.T) {
	env, eng := fundedEnv(t)
	sub1 := identity.SubAccount(alice, 1)
	env.Deposit(t, sub1, enginetest.USDT, usdt(t, "500"))

	req := increase(enginetest.ETHMarket, fixed.USD(10_000))
	req.SubAccountID = 1
	r, err := eng.IncreasePosition(ctx, req)
	require.NoError(t, err)
	require.Equal(t, sub1, r.SubAccount)
	require.Equal(t, uint8(1), r.Position.SubAccountID)

	require.True(t, position(t, env, sub1, enginetest.ETHMarket).IsOpen())
	require.False(t, position(t, env, alice, enginetest.ETHMarket).IsOpen())
	require.Equal(t, usdt(t, "490").String(), env.Balance(t, sub1, enginetest.USDT).String())
	require.Equal(t, usdt(t, "10000").String(), env.Balance(t, alice, enginetest.USDT).String())
}

func TestIncrease_ConcurrentCallsSerialise(t *testing.T) {
	env, eng := fundedEnv(t)

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(1000)))
			return err
		})
	}
	require.NoError(t, g.Wait())

	pos := position(t, env, alice, enginetest.ETHMarket)
	require.Equal(t, fixed.USD(10_000).String(), pos.SizeE30.String())
	require.Equal(t, usdt(t, "9990").String(), env.Balance(t, alice, enginetest.USDT).String())
	require.Equal(t, usdt(t, "10").String(), env.Pool(t, model.PoolProtocolFee, enginetest.USDT).String())
}

func TestIncrease_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, env *enginetest.Env, eng *trade.Engine)
		req     func(t *testing.T) trade.IncreaseRequest
		wantErr error
		kind    string
	}{
		{
			name: "unauthorized executor",
			req: func(t *testing.T) trade.IncreaseRequest {
				r := increase(enginetest.ETHMarket, fixed.USD(10_000))
				r.Executor = enginetest.Bob
				return r
			},
			wantErr: config.ErrUnauthorizedExecutor,
			kind:    "Unauthorized",
		},
		{
			name:    "zero size",
			req:     func(t *testing.T) trade.IncreaseRequest { return increase(enginetest.ETHMarket, sdkmath.ZeroInt()) },
			wantErr: trade.ErrBadSizeDelta,
			kind:    "BadSizeDelta",
		},
		{
			name: "size out of range",
			req: func(t *testing.T) trade.IncreaseRequest {
				return increase(enginetest.ETHMarket, fixed.MaxMagnitude.AddRaw(1))
			},
			wantErr: trade.ErrSizeOutOfRange,
			kind:    "SizeOutOfRange",
		},
		{
			name:    "unknown market",
			req:     func(t *testing.T) trade.IncreaseRequest { return increase(9, fixed.USD(10_000)) },
			wantErr: config.ErrUnknownMarket,
			kind:    "UnknownMarket",
		},
		{
			name: "delisted market",
			setup: func(t *testing.T, env *enginetest.Env, _ *trade.Engine) {
				env.UpdateMarket(t, enginetest.ETHMarket, func(mc *model.MarketConfig) { mc.Active = false })
			},
			req:     func(t *testing.T) trade.IncreaseRequest { return increase(enginetest.ETHMarket, fixed.USD(10_000)) },
			wantErr: trade.ErrMarketIsDelisted,
			kind:    "MarketIsDelisted",
		},
		{
			name: "increase disabled",
			setup: func(t *testing.T, env *enginetest.Env, _ *trade.Engine) {
				env.UpdateMarket(t, enginetest.ETHMarket, func(mc *model.MarketConfig) { mc.AllowIncreasePosition = false })
			},
			req:     func(t *testing.T) trade.IncreaseRequest { return increase(enginetest.ETHMarket, fixed.USD(10_000)) },
			wantErr: trade.ErrNotAllowIncrease,
			kind:    "NotAllowIncrease",
		},
		{
			name: "oracle reports closed",
			setup: func(t *testing.T, env *enginetest.Env, _ *trade.Engine) {
				require.NoError(t, env.Prices.SetStatus("ETH", model.MarketStatusClosed))
			},
			req:     func(t *testing.T) trade.IncreaseRequest { return increase(enginetest.ETHMarket, fixed.USD(10_000)) },
			wantErr: trade.ErrMarketIsClosed,
			kind:    "MarketIsClosed",
		},
		{
			name: "side limit",
			setup: func(t *testing.T, env *enginetest.Env, _ *trade.Engine) {
				env.UpdateMarket(t, enginetest.ETHMarket, func(mc *model.MarketConfig) { mc.MaxLongPositionSize = fixed.USD(5000) })
			},
			req:     func(t *testing.T) trade.IncreaseRequest { return increase(enginetest.ETHMarket, fixed.USD(10_000)) },
			wantErr: trade.ErrPositionSizeExceed,
			kind:    "PositionSizeExceed",
		},
		{
			name: "opposite direction",
			setup: func(t *testing.T, _ *enginetest.Env, eng *trade.Engine) {
				_, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(1000)))
				require.NoError(t, err)
			},
			req:     func(t *testing.T) trade.IncreaseRequest { return increase(enginetest.ETHMarket, fixed.USD(-1000)) },
			wantErr: trade.ErrBadExposure,
			kind:    "BadExposure",
		},
		{
			name: "too many positions",
			setup: func(t *testing.T, env *enginetest.Env, eng *trade.Engine) {
				env.UpdateTrading(func(tc *model.TradingConfig) { tc.MaxPosition = 1 })
				_, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(1000)))
				require.NoError(t, err)
			},
			req:     func(t *testing.T) trade.IncreaseRequest { return increase(enginetest.BTCMarket, fixed.USD(1000)) },
			wantErr: trade.ErrBadNumberOfPosition,
			kind:    "BadNumberOfPosition",
		},
		{
			name: "reserve above utilisation cap",
			req: func(t *testing.T) trade.IncreaseRequest {
				// Reserve 9% of 1,000,000 against an 80,000 cap.
				return increase(enginetest.ETHMarket, fixed.USD(1_000_000))
			},
			wantErr: trade.ErrInsufficientLiquidity,
			kind:    "InsufficientLiquidity",
		},
		{
			name: "not enough collateral",
			req: func(t *testing.T) trade.IncreaseRequest {
				// IMR of 8,800 plus 880 of fees each way against 10,000 USDT.
				return increase(enginetest.BTCMarket, fixed.USD(880_000))
			},
			wantErr: trade.ErrInsufficientFreeCollateral,
			kind:    "InsufficientFreeCollateral",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, eng := fundedEnv(t)
			if tt.setup != nil {
				tt.setup(t, env, eng)
			}
			before := env.Balance(t, alice, enginetest.USDT)
			posBefore := position(t, env, alice, enginetest.BTCMarket)

			_, err := eng.IncreasePosition(ctx, tt.req(t))
			require.ErrorIs(t, err, tt.wantErr)
			require.Equal(t, tt.kind, trade.Kind(err))
			require.True(t, trade.IsRejection(err))

			require.Equal(t, before.String(), env.Balance(t, alice, enginetest.USDT).String())
			require.Equal(t, posBefore.SizeE30.String(), position(t, env, alice, enginetest.BTCMarket).SizeE30.String())
		})
	}
}

func TestIncrease_FreeCollateralRejectionRollsBack(t *testing.T) {
	env := enginetest.New(t)
	env.SeedPLP(t, enginetest.USDT, usdt(t, "100000"))
	env.Deposit(t, alice, enginetest.USDT, usdt(t, "50"))
	eng := newEngine(env)

	_, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(10_000)))
	require.ErrorIs(t, err, trade.ErrInsufficientFreeCollateral)

	require.Equal(t, usdt(t, "50").String(), env.Balance(t, alice, enginetest.USDT).String())
	require.True(t, env.Pool(t, model.PoolProtocolFee, enginetest.USDT).IsZero())
	require.False(t, position(t, env, alice, enginetest.ETHMarket).IsOpen())
	env.View(t, func(tx *store.Tx) {
		require.True(t, tx.GlobalState().ReserveValueE30.IsZero())
		require.True(t, tx.Market(enginetest.ETHMarket).LongPositionSize.IsZero())
	})
}

// --- Decrease ---

func TestDecrease_FullCloseConservesValue(t *testing.T) {
	env, eng := fundedEnv(t)

	_, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(10_000)))
	require.NoError(t, err)
	env.SetPrice(t, "ETH", "1560")

	r, err := eng.DecreasePosition(ctx, decrease(enginetest.ETHMarket, fixed.USD(10_000)))
	require.NoError(t, err)
	require.Equal(t, trade.OpDecrease, r.Op)
	require.Equal(t, fixed.USD(400).String(), r.RealizedPnlE30.String())
	require.Equal(t, fixed.USD(-10_000).String(), r.SizeDeltaE30.String())
	require.False(t, r.IsMaxProfit)

	trader := env.Balance(t, alice, enginetest.USDT)
	plp := env.Pool(t, model.PoolPLP, enginetest.USDT)
	protocol := env.Pool(t, model.PoolProtocolFee, enginetest.USDT)
	require.Equal(t, usdt(t, "10380").String(), trader.String())
	require.Equal(t, usdt(t, "99600").String(), plp.String())
	require.Equal(t, usdt(t, "20").String(), protocol.String())
	require.Equal(t, usdt(t, "110000").String(), trader.Add(plp).Add(protocol).String())

	env.View(t, func(tx *store.Tx) {
		require.Empty(t, tx.PositionIDs(alice))
		require.True(t, tx.GlobalState().ReserveValueE30.IsZero())
		require.True(t, tx.AssetClass(enginetest.CryptoClass).ReserveValueE30.IsZero())
		m := tx.Market(enginetest.ETHMarket)
		require.True(t, m.LongPositionSize.IsZero())
		require.True(t, m.LongOpenInterest.IsZero())
	})
}

func TestDecrease_PartialKeepsUnrealizedPnl(t *testing.T) {
	env, eng := fundedEnv(t)

	_, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(10_000)))
	require.NoError(t, err)
	env.SetPrice(t, "ETH", "1560")

	r, err := eng.DecreasePosition(ctx, decrease(enginetest.ETHMarket, fixed.USD(4000)))
	require.NoError(t, err)
	require.Equal(t, fixed.USD(160).String(), r.RealizedPnlE30.String())

	pos := position(t, env, alice, enginetest.ETHMarket)
	require.Equal(t, fixed.USD(6000).String(), pos.SizeE30.String())
	require.Equal(t, fixed.USD(1500).String(), pos.AvgEntryPriceE30.String())
	require.Equal(t, fixed.USD(540).String(), pos.ReserveValueE30.String())
	require.Equal(t, fixed.USD(160).String(), pos.RealizedPnlE30.String())

	require.Equal(t, usdt(t, "10146").String(), env.Balance(t, alice, enginetest.USDT).String())
	env.View(t, func(tx *store.Tx) {
		require.Equal(t, fixed.USD(540).String(), tx.GlobalState().ReserveValueE30.String())
		require.Equal(t, fixed.USD(6000).String(), tx.Market(enginetest.ETHMarket).LongPositionSize.String())
	})
}

func TestDecrease_ProfitCappedAtReserve(t *testing.T) {
	env, eng := fundedEnv(t)

	_, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(10_000)))
	require.NoError(t, err)
	env.SetPrice(t, "ETH", "1800")

	r, err := eng.DecreasePosition(ctx, decrease(enginetest.ETHMarket, fixed.USD(10_000)))
	require.NoError(t, err)
	require.True(t, r.IsMaxProfit)
	require.Equal(t, fixed.USD(900).String(), r.RealizedPnlE30.String())
	require.Equal(t, usdt(t, "10880").String(), env.Balance(t, alice, enginetest.USDT).String())
}

func TestDecrease_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		size    sdkmath.Int
		wantErr error
	}{
		{"more than held", fixed.USD(10_001), trade.ErrDecreaseTooHighPositionSize},
		{"dust remainder", fixed.USD(10_000).Sub(fixed.E30.QuoRaw(2)), trade.ErrTooTinyPosition},
		{"zero size", sdkmath.ZeroInt(), trade.ErrBadSizeDelta},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, eng := fundedEnv(t)
			_, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(10_000)))
			require.NoError(t, err)

			_, err = eng.DecreasePosition(ctx, decrease(enginetest.ETHMarket, tt.size))
			require.ErrorIs(t, err, tt.wantErr)
			require.Equal(t, fixed.USD(10_000).String(), position(t, env, alice, enginetest.ETHMarket).SizeE30.String())
		})
	}
}

func TestDecrease_NoPosition(t *testing.T) {
	_, eng := fundedEnv(t)

	_, err := eng.DecreasePosition(ctx, decrease(enginetest.ETHMarket, fixed.USD(1000)))
	require.ErrorIs(t, err, trade.ErrPositionAlreadyClosed)
	require.Equal(t, "PositionAlreadyClosed", trade.Kind(err))
}

func TestDecrease_UnderMMRRollsBack(t *testing.T) {
	env := enginetest.New(t)
	env.SeedPLP(t, enginetest.USDT, usdt(t, "100000"))
	env.Deposit(t, alice, enginetest.USDT, usdt(t, "200"))
	eng := newEngine(env)

	_, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(10_000)))
	require.NoError(t, err)
	env.SetPrice(t, "ETH", "1200")

	_, err = eng.DecreasePosition(ctx, decrease(enginetest.ETHMarket, fixed.USD(1000)))
	require.ErrorIs(t, err, trade.ErrSubAccountEquityIsUnderMMR)
	require.Equal(t, "SubAccountEquityIsUnderMMR", trade.Kind(err))

	require.Equal(t, usdt(t, "190").String(), env.Balance(t, alice, enginetest.USDT).String())
	require.Equal(t, fixed.USD(10_000).String(), position(t, env, alice, enginetest.ETHMarket).SizeE30.String())
	env.View(t, func(tx *store.Tx) {
		require.True(t, tx.BadDebt(alice).IsZero())
	})
}

func TestDecrease_LimitPriceCannotHideUnderMMR(t *testing.T) {
	env := enginetest.New(t)
	env.SeedPLP(t, enginetest.USDT, usdt(t, "100000"))
	env.Deposit(t, alice, enginetest.USDT, usdt(t, "200"))
	eng := newEngine(env)

	_, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(10_000)))
	require.NoError(t, err)
	env.SetPrice(t, "ETH", "1200")

	// At the 1500 limit the remaining 9,000 is flat, at the 1200 oracle
	// price it is 1,800 under water.
	req := decrease(enginetest.ETHMarket, fixed.USD(1000))
	req.LimitPriceE30 = fixed.USD(1500)
	_, err = eng.DecreasePosition(ctx, req)
	require.ErrorIs(t, err, trade.ErrSubAccountEquityIsUnderMMR)

	require.Equal(t, usdt(t, "190").String(), env.Balance(t, alice, enginetest.USDT).String())
	require.Equal(t, fixed.USD(10_000).String(), position(t, env, alice, enginetest.ETHMarket).SizeE30.String())
}

func TestDecrease_DelistedMarket(t *testing.T) {
	env, eng := fundedEnv(t)
	_, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(10_000)))
	require.NoError(t, err)
	env.UpdateMarket(t, enginetest.ETHMarket, func(mc *model.MarketConfig) { mc.Active = false })

	_, err = eng.DecreasePosition(ctx, decrease(enginetest.ETHMarket, fixed.USD(10_000)))
	require.ErrorIs(t, err, trade.ErrMarketIsDelisted)
}

// --- Force close and deleverage ---

func TestForceClose(t *testing.T) {
	env, eng := fundedEnv(t)
	_, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(10_000)))
	require.NoError(t, err)

	env.SetPrice(t, "ETH", "1560")
	_, err = eng.ForceClosePosition(ctx, closeReq(enginetest.ETHMarket))
	require.ErrorIs(t, err, trade.ErrReservedValueStillEnough)

	// Delisting does not block a forced exit.
	env.UpdateMarket(t, enginetest.ETHMarket, func(mc *model.MarketConfig) { mc.Active = false })
	env.SetPrice(t, "ETH", "1800")
	r, err := eng.ForceClosePosition(ctx, closeReq(enginetest.ETHMarket))
	require.NoError(t, err)
	require.Equal(t, trade.OpForceClose, r.Op)
	require.True(t, r.IsMaxProfit)
	require.Equal(t, fixed.USD(900).String(), r.RealizedPnlE30.String())
	require.False(t, position(t, env, alice, enginetest.ETHMarket).IsOpen())
	require.Equal(t, usdt(t, "10880").String(), env.Balance(t, alice, enginetest.USDT).String())
}

func TestDeleverage(t *testing.T) {
	env := enginetest.New(t)
	env.SeedPLP(t, enginetest.USDT, usdt(t, "10000"))
	env.Deposit(t, alice, enginetest.USDT, usdt(t, "10000"))
	eng := newEngine(env)

	_, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(10_000)))
	require.NoError(t, err)

	_, err = eng.Deleverage(ctx, closeReq(enginetest.ETHMarket))
	require.ErrorIs(t, err, trade.ErrPLPHealthy)

	// Trader PnL of 10,000 wipes out the pool's assets under management.
	env.SetPrice(t, "ETH", "3000")
	r, err := eng.Deleverage(ctx, closeReq(enginetest.ETHMarket))
	require.NoError(t, err)
	require.Equal(t, trade.OpDeleverage, r.Op)
	require.Equal(t, fixed.USD(900).String(), r.RealizedPnlE30.String())
	require.Equal(t, usdt(t, "10880").String(), env.Balance(t, alice, enginetest.USDT).String())
	require.Equal(t, usdt(t, "9100").String(), env.Pool(t, model.PoolPLP, enginetest.USDT).String())
}

func TestCloseRequiresExecutor(t *testing.T) {
	_, eng := fundedEnv(t)
	req := closeReq(enginetest.ETHMarket)
	req.Executor = enginetest.Bob

	_, err := eng.ForceClosePosition(ctx, req)
	require.ErrorIs(t, err, config.ErrUnauthorizedExecutor)
	_, err = eng.Deleverage(ctx, req)
	require.ErrorIs(t, err, config.ErrUnauthorizedExecutor)
}

// --- Hooks ---

func TestHooks_FailuresAreIsolated(t *testing.T) {
	env, eng := fundedEnv(t)

	var (
		mu   sync.Mutex
		seen []trade.Op
	)
	eng.AddHook(trade.HookFunc{HookName: "panics", Fn: func(context.Context, trade.Receipt) error {
		panic("boom")
	}})
	eng.AddHook(trade.HookFunc{HookName: "fails", Fn: func(context.Context, trade.Receipt) error {
		return errors.New("unavailable")
	}})
	eng.AddHook(trade.HookFunc{HookName: "records", Fn: func(_ context.Context, r trade.Receipt) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.Op)
		return nil
	}})

	_, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, fixed.USD(10_000)))
	require.NoError(t, err)
	_, err = eng.DecreasePosition(ctx, decrease(enginetest.ETHMarket, fixed.USD(10_000)))
	require.NoError(t, err)

	require.Equal(t, []trade.Op{trade.OpIncrease, trade.OpDecrease}, seen)
	require.False(t, position(t, env, alice, enginetest.ETHMarket).IsOpen())
}

func TestHooks_NotCalledOnRejection(t *testing.T) {
	_, eng := fundedEnv(t)
	called := false
	eng.AddHook(trade.HookFunc{HookName: "records", Fn: func(context.Context, trade.Receipt) error {
		called = true
		return nil
	}})

	_, err := eng.IncreasePosition(ctx, increase(enginetest.ETHMarket, sdkmath.ZeroInt()))
	require.Error(t, err)
	require.False(t, called)
}
