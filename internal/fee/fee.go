// Package fee accrues borrowing and funding rates and settles trading,
// borrowing and funding fees against trader collateral.
//
// Rates are cumulative 1e18 fixed-point sums. A position snapshots the
// sums when it is touched; the fee owed is the growth of the sum since the
// snapshot. Borrowing is charged on reserved value, funding on signed size.
//
// Settlement never fails for lack of collateral: whatever cannot be
// collected is recorded as bad debt against the sub-account.
package fee

import (
	"log/slog"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/perp-engine/internal/collateral"
	"github.com/atmx/perp-engine/internal/config"
	"github.com/atmx/perp-engine/internal/fixed"
	"github.com/atmx/perp-engine/internal/metrics"
	"github.com/atmx/perp-engine/internal/model"
	"github.com/atmx/perp-engine/internal/store"
)

// Fees are the three fee legs of one position update, in USD E30.
// Trading and Borrowing are owed by the trader. Funding is signed:
// positive means the trader receives it, negative means the trader pays.
type Fees struct {
	Trading   sdkmath.Int `json:"trading"`
	Borrowing sdkmath.Int `json:"borrowing"`
	Funding   sdkmath.Int `json:"funding"`
}

// NoFees returns an all-zero Fees.
func NoFees() Fees {
	return Fees{Trading: sdkmath.ZeroInt(), Borrowing: sdkmath.ZeroInt(), Funding: sdkmath.ZeroInt()}
}

// Owed returns the total the trader owes, with funding received netted off.
func (f Fees) Owed() sdkmath.Int {
	return f.Trading.Add(f.Borrowing).Sub(f.Funding)
}

// --- Pure fee math ---

// TradingFee returns absSize * feeRateBPS / BPS.
func TradingFee(absSize sdkmath.Int, feeRateBPS uint32) sdkmath.Int {
	return fixed.ApplyBPS(absSize.Abs(), feeRateBPS)
}

// BorrowingFee returns reserve * (sumRate - entryRate) / 1e18.
func BorrowingFee(reserveE30, sumRate, entryRate sdkmath.Int) sdkmath.Int {
	growth := sumRate.Sub(entryRate)
	if reserveE30.IsZero() || !growth.IsPositive() {
		return sdkmath.ZeroInt()
	}
	return fixed.MulDiv(reserveE30, growth, fixed.RatePrecision)
}

// FundingFee returns size * (currentRate - entryRate) / 1e18. Positive
// means the trader receives funding.
func FundingFee(sizeE30, currentRate, entryRate sdkmath.Int) sdkmath.Int {
	return fixed.MulDiv(sizeE30, currentRate.Sub(entryRate), fixed.RatePrecision)
}

// NextBorrowingRate returns the borrowing rate accrued over intervals at
// the given utilisation: baseRate * reserve * intervals / tvl.
func NextBorrowingRate(baseRate, reserveE30, tvlE30 sdkmath.Int, intervals int64) sdkmath.Int {
	if baseRate.IsNil() || !tvlE30.IsPositive() || intervals <= 0 {
		return sdkmath.ZeroInt()
	}
	return baseRate.Mul(reserveE30).MulRaw(intervals).Quo(tvlE30)
}

// NextFundingRate returns the funding rate change over intervals. The
// skew ratio -skew/maxSkewScale is clamped to [-1, 1] and scaled by the
// per-interval cap, so a long-heavy market drives the rate down and longs
// pay.
func NextFundingRate(skewE30, maxSkewScaleUSD, maxFundingRate sdkmath.Int, intervals int64) sdkmath.Int {
	if maxSkewScaleUSD.IsNil() || maxSkewScaleUSD.IsZero() || maxFundingRate.IsNil() || intervals <= 0 {
		return sdkmath.ZeroInt()
	}
	ratio := fixed.MulDiv(skewE30.Neg(), fixed.RatePrecision, maxSkewScaleUSD)
	ratio = fixed.Max(ratio, fixed.RatePrecision.Neg())
	ratio = fixed.Min(ratio, fixed.RatePrecision)
	return fixed.MulDiv(ratio, maxFundingRate, fixed.RatePrecision).MulRaw(intervals)
}

// Engine applies the fee math to ledger state.
type Engine struct {
	cfg       config.Provider
	valuer    *collateral.Valuer
	waterfall *collateral.Waterfall
}

// NewEngine creates a fee engine.
func NewEngine(cfg config.Provider, valuer *collateral.Valuer, waterfall *collateral.Waterfall) *Engine {
	return &Engine{cfg: cfg, valuer: valuer, waterfall: waterfall}
}

func (e *Engine) interval() int64 {
	s := int64(e.cfg.TradingConfig().FundingInterval / time.Second)
	if s <= 0 {
		return 1
	}
	return s
}

// UpdateBorrowingRate folds the borrowing accrued since the last update
// into the asset class's cumulative sum. Accrual happens in whole
// intervals; the first call only seeds the timestamp.
func (e *Engine) UpdateBorrowingRate(tx *store.Tx, assetClass uint8, now time.Time) error {
	acCfg, err := e.cfg.AssetClassConfig(assetClass)
	if err != nil {
		return err
	}
	interval := e.interval()
	ts := now.Unix()
	aligned := ts / interval * interval

	ac := tx.AssetClass(assetClass)
	if ac.LastBorrowingTime == 0 {
		ac.LastBorrowingTime = aligned
		tx.UpdateAssetClass(assetClass, ac)
		return nil
	}
	if ts < ac.LastBorrowingTime+interval {
		return nil
	}

	tvl, err := e.valuer.PLPTVL(tx)
	if err != nil {
		return err
	}
	intervals := (ts - ac.LastBorrowingTime) / interval
	rate := NextBorrowingRate(acCfg.BaseBorrowingRate, ac.ReserveValueE30, tvl, intervals)

	ac.SumBorrowingRate = ac.SumBorrowingRate.Add(rate)
	ac.LastBorrowingTime = aligned
	tx.UpdateAssetClass(assetClass, ac)
	return nil
}

// UpdateFundingRate moves the market's current funding rate by the
// funding accrued since the last update, in whole intervals.
func (e *Engine) UpdateFundingRate(tx *store.Tx, marketIndex uint64, now time.Time) error {
	mc, err := e.cfg.MarketConfig(marketIndex)
	if err != nil {
		return err
	}
	interval := e.interval()
	ts := now.Unix()
	aligned := ts / interval * interval

	m := tx.Market(marketIndex)
	if m.LastFundingTime == 0 {
		m.LastFundingTime = aligned
		tx.SaveMarket(marketIndex, m)
		return nil
	}
	if ts < m.LastFundingTime+interval {
		return nil
	}

	intervals := (ts - m.LastFundingTime) / interval
	rate := NextFundingRate(m.Skew(), mc.MaxSkewScaleUSD, mc.MaxFundingRate, intervals)

	m.CurrentFundingRate = m.CurrentFundingRate.Add(rate)
	m.LastFundingTime = aligned
	tx.SaveMarket(marketIndex, m)
	return nil
}

// Accrue brings both the borrowing and funding state of a market up to now.
func (e *Engine) Accrue(tx *store.Tx, marketIndex uint64, now time.Time) error {
	mc, err := e.cfg.MarketConfig(marketIndex)
	if err != nil {
		return err
	}
	if err := e.UpdateBorrowingRate(tx, mc.AssetClass, now); err != nil {
		return err
	}
	return e.UpdateFundingRate(tx, marketIndex, now)
}

// UpdateFeeStates computes the fees owed by pos for a trade of
// absSizeDelta and returns pos with its rate snapshots moved to the
// current sums. Borrowing and funding cover the whole position since its
// last snapshot; the trading fee covers the traded size only.
func (e *Engine) UpdateFeeStates(tx *store.Tx, marketIndex uint64, pos model.Position, absSizeDelta sdkmath.Int, feeRateBPS uint32) (Fees, model.Position, error) {
	mc, err := e.cfg.MarketConfig(marketIndex)
	if err != nil {
		return Fees{}, pos, err
	}
	ac := tx.AssetClass(mc.AssetClass)
	m := tx.Market(marketIndex)

	fees := NoFees()
	fees.Trading = TradingFee(absSizeDelta, feeRateBPS)
	if pos.IsOpen() {
		fees.Borrowing = BorrowingFee(pos.ReserveValueE30, ac.SumBorrowingRate, pos.EntryBorrowingRate)
		fees.Funding = FundingFee(pos.SizeE30, m.CurrentFundingRate, pos.EntryFundingRate)
	}

	pos.EntryBorrowingRate = ac.SumBorrowingRate
	pos.EntryFundingRate = m.CurrentFundingRate
	return fees, pos, nil
}

// Pending returns the fees pos would owe if closed in full now, without
// touching any state. The rate sums are read as last accrued.
func (e *Engine) Pending(tx *store.Tx, pos model.Position) (Fees, error) {
	mc, err := e.cfg.MarketConfig(pos.MarketIndex)
	if err != nil {
		return Fees{}, err
	}
	ac := tx.AssetClass(mc.AssetClass)
	m := tx.Market(pos.MarketIndex)
	return Fees{
		Trading:   TradingFee(pos.AbsSize(), mc.DecreasePositionFeeRateBPS),
		Borrowing: BorrowingFee(pos.ReserveValueE30, ac.SumBorrowingRate, pos.EntryBorrowingRate),
		Funding:   FundingFee(pos.SizeE30, m.CurrentFundingRate, pos.EntryFundingRate),
	}, nil
}

// --- Settlement ---

// SettleAllFees settles fees on the increase path: funding received is
// paid in first, then funding paid, trading and borrowing are collected.
// It returns the amount recorded as bad debt.
func (e *Engine) SettleAllFees(tx *store.Tx, sub common.Address, fees Fees) (sdkmath.Int, error) {
	if _, err := e.IncreaseCollateral(tx, sub, sdkmath.ZeroInt(), fees.Funding, common.Address{}); err != nil {
		return sdkmath.Int{}, err
	}
	return e.DecreaseCollateral(tx, sub, sdkmath.ZeroInt(), fees)
}

// IncreaseCollateral pays a trader realized profit and funding received.
// Funding comes from the funding reserve first, then PLP liquidity.
// Profit comes from PLP liquidity, into tpToken when set. It returns the
// part the pools could not cover.
func (e *Engine) IncreaseCollateral(tx *store.Tx, sub common.Address, realizedPnl, fundingFee sdkmath.Int, tpToken common.Address) (sdkmath.Int, error) {
	unpaid := sdkmath.ZeroInt()

	if fundingFee.IsPositive() {
		rem, err := e.waterfall.Pay(tx, sub, fundingFee, tpToken, model.PoolFundingFee, model.PoolPLP)
		if err != nil {
			return sdkmath.Int{}, err
		}
		unpaid = unpaid.Add(rem)
	}
	if realizedPnl.IsPositive() {
		rem, err := e.waterfall.Pay(tx, sub, realizedPnl, tpToken, model.PoolPLP)
		if err != nil {
			return sdkmath.Int{}, err
		}
		unpaid = unpaid.Add(rem)
	}

	if unpaid.IsPositive() {
		slog.Warn("payout exceeds pool liquidity",
			"sub_account", sub.Hex(),
			"unpaid_e30", unpaid.String(),
		)
	}
	return unpaid, nil
}

// DecreaseCollateral collects a realized loss and owed fees from a
// trader's held collateral in registration order. Losses go to PLP
// liquidity, funding paid to the funding reserve, the trading fee to the
// protocol fee pool and the borrowing fee to PLP liquidity, the last two
// after the dev share is split off. Whatever cannot be collected is added
// to the sub-account's bad debt and returned.
func (e *Engine) DecreaseCollateral(tx *store.Tx, sub common.Address, realizedPnl sdkmath.Int, fees Fees) (sdkmath.Int, error) {
	devBPS := e.cfg.TradingConfig().DevFeeRateBPS
	shortfall := sdkmath.ZeroInt()

	collect := func(amount sdkmath.Int, sink collateral.Sink) error {
		if amount.IsNil() || !amount.IsPositive() {
			return nil
		}
		rem, err := e.waterfall.CollectFromHeld(tx, sub, amount, sink)
		if err != nil {
			return err
		}
		shortfall = shortfall.Add(rem)
		return nil
	}

	if realizedPnl.IsNegative() {
		if err := collect(realizedPnl.Neg(), collateral.ToPool(model.PoolPLP)); err != nil {
			return sdkmath.Int{}, err
		}
	}
	if fees.Funding.IsNegative() {
		if err := collect(fees.Funding.Neg(), collateral.ToPool(model.PoolFundingFee)); err != nil {
			return sdkmath.Int{}, err
		}
	}
	if err := collect(fees.Trading, withDevFee(devBPS, model.PoolProtocolFee)); err != nil {
		return sdkmath.Int{}, err
	}
	if err := collect(fees.Borrowing, withDevFee(devBPS, model.PoolPLP)); err != nil {
		return sdkmath.Int{}, err
	}

	if shortfall.IsPositive() {
		tx.AddBadDebt(sub, shortfall)
		metrics.BadDebtRecorded.WithLabelValues("settlement").Add(fixed.ToDecimal(shortfall, fixed.USDDecimals).InexactFloat64())
		slog.Warn("settlement shortfall recorded as bad debt",
			"sub_account", sub.Hex(),
			"amount_e30", shortfall.String(),
		)
	}
	return shortfall, nil
}

// withDevFee splits devBPS of every collected amount into the dev fee
// pool and credits the rest to dest.
func withDevFee(devBPS uint32, dest model.PoolKind) collateral.Sink {
	return func(tx *store.Tx, token common.Address, amount sdkmath.Int) error {
		dev := fixed.ApplyBPS(amount, devBPS)
		if dev.IsPositive() {
			if err := tx.AddPool(model.PoolDevFee, token, dev); err != nil {
				return err
			}
		}
		return tx.AddPool(dest, token, amount.Sub(dev))
	}
}
