// Package liquidation closes every position of an unhealthy sub-account
// and settles its debt against collateral.
package liquidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/atmx/perp-engine/internal/collateral"
	"github.com/atmx/perp-engine/internal/config"
	"github.com/atmx/perp-engine/internal/fee"
	"github.com/atmx/perp-engine/internal/fixed"
	"github.com/atmx/perp-engine/internal/margin"
	"github.com/atmx/perp-engine/internal/metrics"
	"github.com/atmx/perp-engine/internal/model"
	"github.com/atmx/perp-engine/internal/oracle"
	"github.com/atmx/perp-engine/internal/pricing"
	"github.com/atmx/perp-engine/internal/store"
)

// ErrAccountHealthy is returned for accounts whose equity covers MMR.
var ErrAccountHealthy = errors.New("liquidation: account is healthy")

// Result describes one committed liquidation.
type Result struct {
	ID               uuid.UUID      `json:"id"`
	SubAccount       common.Address `json:"sub_account"`
	Positions        []common.Hash  `json:"positions"`
	EquityE30        sdkmath.Int    `json:"equity_e30"`
	MMRE30           sdkmath.Int    `json:"mmr_e30"`
	UnrealizedPnlE30 sdkmath.Int    `json:"unrealized_pnl_e30"`
	DebtE30          sdkmath.Int    `json:"debt_e30"`
	PaidOutE30       sdkmath.Int    `json:"paid_out_e30"`
	BadDebtE30       sdkmath.Int    `json:"bad_debt_e30"`
	Timestamp        time.Time      `json:"timestamp"`
}

// Engine liquidates sub-accounts.
type Engine struct {
	ledger    *store.Ledger
	cfg       config.Provider
	fees      *fee.Engine
	calc      *margin.Calculator
	waterfall *collateral.Waterfall
	now       func() time.Time
}

// NewEngine creates a liquidation engine.
func NewEngine(ledger *store.Ledger, cfg config.Provider, fees *fee.Engine, calc *margin.Calculator, waterfall *collateral.Waterfall) *Engine {
	return &Engine{
		ledger:    ledger,
		cfg:       cfg,
		fees:      fees,
		calc:      calc,
		waterfall: waterfall,
		now:       time.Now,
	}
}

// SetClock overrides the clock used for fee accrual.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Liquidate wipes every position of sub when its equity is negative or
// below MMR. The net of unrealized PnL, unrealized fees, the liquidation
// fee and standing bad debt is settled against the collateral whitelist in
// configured order, each token at its full oracle value. What collateral
// cannot cover becomes the sub-account's bad debt; a net profit is paid
// out of PLP liquidity.
func (e *Engine) Liquidate(ctx context.Context, executor, sub common.Address) (Result, error) {
	start := time.Now()
	if err := e.cfg.ValidateServiceExecutor(executor); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.ledger.Update(ctx, func(tx *store.Tx) error {
		var err error
		res, err = e.liquidate(tx, sub)
		return err
	})
	metrics.Since("liquidate", start)
	if err != nil {
		reason := "internal"
		if errors.Is(err, ErrAccountHealthy) {
			reason = "AccountHealthy"
		}
		metrics.Rejections.WithLabelValues("liquidate", reason).Inc()
		return Result{}, err
	}

	metrics.LiquidationsTotal.Inc()
	if res.BadDebtE30.IsPositive() {
		metrics.BadDebtRecorded.WithLabelValues("liquidation").Add(fixed.ToDecimal(res.BadDebtE30, fixed.USDDecimals).InexactFloat64())
	}
	slog.Warn("sub-account liquidated",
		"liquidation", res.ID.String(),
		"sub_account", sub.Hex(),
		"positions", len(res.Positions),
		"equity", res.EquityE30.String(),
		"mmr", res.MMRE30.String(),
		"debt", res.DebtE30.String(),
		"bad_debt", res.BadDebtE30.String(),
	)
	return res, nil
}

func (e *Engine) liquidate(tx *store.Tx, sub common.Address) (Result, error) {
	now := e.now()
	ids := tx.PositionIDs(sub)

	for _, id := range ids {
		if err := e.fees.Accrue(tx, tx.Position(id).MarketIndex, now); err != nil {
			return Result{}, err
		}
	}

	healthy, acc, err := e.calc.IsHealthy(tx, sub, oracle.NoOverride)
	if err != nil {
		return Result{}, err
	}
	if healthy {
		return Result{}, fmt.Errorf("%w: equity %s, mmr %s", ErrAccountHealthy, acc.Equity, acc.MMR)
	}

	liqFee := e.cfg.LiquidationConfig().LiquidationFeeUSDE30
	if liqFee.IsNil() {
		liqFee = sdkmath.ZeroInt()
	}
	// Positive net is owed by the trader.
	net := acc.UnrealizedPnl.Neg().Add(acc.UnrealizedFee).Add(liqFee).Add(acc.BadDebt)

	debt, paidOut, badDebt := sdkmath.ZeroInt(), sdkmath.ZeroInt(), sdkmath.ZeroInt()
	switch {
	case net.IsPositive():
		debt = net
		badDebt, err = e.waterfall.Collect(tx, sub, e.cfg.CollateralTokens(), debt, collateral.ToPool(model.PoolPLP))
		if err != nil {
			return Result{}, err
		}
	case net.IsNegative():
		unpaid, err := e.waterfall.Pay(tx, sub, net.Neg(), common.Address{}, model.PoolPLP)
		if err != nil {
			return Result{}, err
		}
		paidOut = net.Neg().Sub(unpaid)
	}
	tx.SetBadDebt(sub, badDebt)

	for _, id := range ids {
		pos := tx.Position(id)
		mc, err := e.cfg.MarketConfig(pos.MarketIndex)
		if err != nil {
			return Result{}, err
		}
		price, err := e.calc.MarkPrice(mc.AssetID)
		if err != nil {
			return Result{}, err
		}
		isLong, absSize := pos.IsLong(), pos.AbsSize()
		m := tx.Market(pos.MarketIndex)
		sideSize, sideAvg := m.ShortPositionSize, m.ShortAvgPrice
		if isLong {
			sideSize, sideAvg = m.LongPositionSize, m.LongAvgPrice
		}
		isProfit, delta := pricing.Delta(absSize, pos.AvgEntryPriceE30, price, isLong)
		sideAvg = pricing.ReducedMarketAveragePrice(sideSize, sideAvg, price, absSize, pricing.Signed(isProfit, delta), isLong)

		tx.ReleaseReserve(mc.AssetClass, pos.ReserveValueE30)
		tx.ReduceMarketSide(pos.MarketIndex, isLong, absSize, pos.OpenInterest, sideAvg)
		tx.RemovePosition(sub, id)
	}

	return Result{
		ID:               uuid.New(),
		SubAccount:       sub,
		Positions:        ids,
		EquityE30:        acc.Equity,
		MMRE30:           acc.MMR,
		UnrealizedPnlE30: acc.UnrealizedPnl,
		DebtE30:          debt,
		PaidOutE30:       paidOut,
		BadDebtE30:       badDebt,
		Timestamp:        now,
	}, nil
}
