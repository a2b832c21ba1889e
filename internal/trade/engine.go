// Package trade opens, resizes and closes perpetual positions.
//
// Every operation runs inside one Ledger.Update: all checks, fee
// settlement, reserve accounting and position writes either commit
// together or not at all. Hooks run after the commit.
package trade

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/atmx/perp-engine/internal/config"
	"github.com/atmx/perp-engine/internal/fee"
	"github.com/atmx/perp-engine/internal/fixed"
	"github.com/atmx/perp-engine/internal/identity"
	"github.com/atmx/perp-engine/internal/margin"
	"github.com/atmx/perp-engine/internal/metrics"
	"github.com/atmx/perp-engine/internal/model"
	"github.com/atmx/perp-engine/internal/oracle"
	"github.com/atmx/perp-engine/internal/pricing"
	"github.com/atmx/perp-engine/internal/store"
)

// Op names a position operation.
type Op string

const (
	OpIncrease   Op = "increase"
	OpDecrease   Op = "decrease"
	OpForceClose Op = "force_close"
	OpDeleverage Op = "deleverage"
)

// IncreaseRequest opens or grows a position. SizeDeltaE30 is signed:
// positive buys, negative sells. A zero LimitPriceE30 trades at the oracle
// price.
type IncreaseRequest struct {
	Executor      common.Address `json:"executor"`
	Primary       common.Address `json:"primary_account"`
	SubAccountID  uint8          `json:"sub_account_id"`
	MarketIndex   uint64         `json:"market_index"`
	SizeDeltaE30  sdkmath.Int    `json:"size_delta_e30"`
	LimitPriceE30 sdkmath.Int    `json:"limit_price_e30"`
}

// DecreaseRequest shrinks or closes a position by SizeE30 (unsigned).
// Profit is paid into TPToken when it is set.
type DecreaseRequest struct {
	Executor      common.Address `json:"executor"`
	Primary       common.Address `json:"primary_account"`
	SubAccountID  uint8          `json:"sub_account_id"`
	MarketIndex   uint64         `json:"market_index"`
	SizeE30       sdkmath.Int    `json:"size_e30"`
	TPToken       common.Address `json:"tp_token"`
	LimitPriceE30 sdkmath.Int    `json:"limit_price_e30"`
}

// CloseRequest closes a whole position on the protocol's initiative.
type CloseRequest struct {
	Executor     common.Address `json:"executor"`
	Primary      common.Address `json:"primary_account"`
	SubAccountID uint8          `json:"sub_account_id"`
	MarketIndex  uint64         `json:"market_index"`
	TPToken      common.Address `json:"tp_token"`
}

// Receipt describes one committed operation.
type Receipt struct {
	ID             uuid.UUID      `json:"id"`
	Op             Op             `json:"op"`
	PrimaryAccount common.Address `json:"primary_account"`
	SubAccount     common.Address `json:"sub_account"`
	MarketIndex    uint64         `json:"market_index"`
	AssetID        string         `json:"asset_id"`
	PositionID     common.Hash    `json:"position_id"`
	SizeDeltaE30   sdkmath.Int    `json:"size_delta_e30"`
	PriceE30       sdkmath.Int    `json:"price_e30"`
	Fees           fee.Fees       `json:"fees"`
	RealizedPnlE30 sdkmath.Int    `json:"realized_pnl_e30"`
	BadDebtE30     sdkmath.Int    `json:"bad_debt_e30"`
	IsMaxProfit    bool           `json:"is_max_profit"`
	Position       model.Position `json:"position"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Engine executes position operations against a Ledger.
type Engine struct {
	ledger *store.Ledger
	cfg    config.Provider
	oracle oracle.Oracle
	fees   *fee.Engine
	calc   *margin.Calculator
	ids    identity.Deriver
	now    func() time.Time

	hookMu sync.RWMutex
	hooks  []Hook
}

// NewEngine creates a trade engine.
func NewEngine(ledger *store.Ledger, cfg config.Provider, o oracle.Oracle, fees *fee.Engine, calc *margin.Calculator) *Engine {
	return &Engine{
		ledger: ledger,
		cfg:    cfg,
		oracle: o,
		fees:   fees,
		calc:   calc,
		ids:    identity.Default,
		now:    time.Now,
	}
}

// SetClock overrides the clock used for fee accrual and timestamps.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SetDeriver overrides sub-account and position id derivation.
func (e *Engine) SetDeriver(d identity.Deriver) { e.ids = d }

// AddHook registers a post-commit observer.
func (e *Engine) AddHook(h Hook) {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.hooks = append(e.hooks, h)
}

func validLimit(limit sdkmath.Int) bool {
	return limit.IsNil() || (!limit.IsNegative() && fixed.InRange(limit))
}

func observe(op Op, market uint64, start time.Time, err error) {
	metrics.Since(string(op), start)
	if err != nil {
		reason := Kind(err)
		if reason == "" {
			reason = "internal"
		}
		metrics.Rejections.WithLabelValues(string(op), reason).Inc()
		return
	}
	metrics.PositionOpsTotal.WithLabelValues(string(op), strconv.FormatUint(market, 10)).Inc()
}

// --- Increase ---

// IncreasePosition opens a position or adds to it in its own direction.
func (e *Engine) IncreasePosition(ctx context.Context, req IncreaseRequest) (_ Receipt, err error) {
	start := time.Now()
	defer func() { observe(OpIncrease, req.MarketIndex, start, err) }()

	if err := e.cfg.ValidateServiceExecutor(req.Executor); err != nil {
		return Receipt{}, err
	}
	if req.SizeDeltaE30.IsNil() || req.SizeDeltaE30.IsZero() {
		return Receipt{}, ErrBadSizeDelta
	}
	if !fixed.InRange(req.SizeDeltaE30) || !validLimit(req.LimitPriceE30) {
		return Receipt{}, ErrSizeOutOfRange
	}
	mc, err := e.cfg.MarketConfig(req.MarketIndex)
	if err != nil {
		return Receipt{}, err
	}
	if !mc.Active {
		return Receipt{}, ErrMarketIsDelisted
	}
	if !mc.AllowIncreasePosition {
		return Receipt{}, ErrNotAllowIncrease
	}

	sub := e.ids.SubAccount(req.Primary, req.SubAccountID)
	now := e.now()

	var r Receipt
	err = e.ledger.Update(ctx, func(tx *store.Tx) error {
		var err error
		r, err = e.increase(tx, mc, req, sub, now)
		return err
	})
	if err != nil {
		return Receipt{}, err
	}

	slog.Info("position increased",
		"receipt", r.ID.String(),
		"sub_account", sub.Hex(),
		"market", req.MarketIndex,
		"size_delta", r.SizeDeltaE30.String(),
		"price", r.PriceE30.String(),
		"trading_fee", r.Fees.Trading.String(),
	)
	e.runHooks(ctx, r)
	return r, nil
}

func (e *Engine) increase(tx *store.Tx, mc model.MarketConfig, req IncreaseRequest, sub common.Address, now time.Time) (Receipt, error) {
	idx := req.MarketIndex
	delta := req.SizeDeltaE30
	absDelta := delta.Abs()
	isLong := delta.IsPositive()
	tc := e.cfg.TradingConfig()

	posID := e.ids.PositionID(sub, idx)
	pos := tx.Position(posID)
	isNew := !pos.IsOpen()
	if !isNew && pos.IsLong() != isLong {
		return Receipt{}, ErrBadExposure
	}
	if isNew && len(tx.PositionIDs(sub)) >= tc.MaxPosition {
		return Receipt{}, fmt.Errorf("%w: limit %d", ErrBadNumberOfPosition, tc.MaxPosition)
	}

	if err := e.fees.Accrue(tx, idx, now); err != nil {
		return Receipt{}, err
	}
	m := tx.Market(idx)

	if isLong && m.LongPositionSize.Add(absDelta).GT(mc.MaxLongPositionSize) {
		return Receipt{}, ErrPositionSizeExceed
	}
	if !isLong && m.ShortPositionSize.Add(absDelta).GT(mc.MaxShortPositionSize) {
		return Receipt{}, ErrPositionSizeExceed
	}

	quote, err := e.oracle.LatestAdaptivePriceWithMarketStatus(mc.AssetID, isLong, m.Skew(), delta, mc.MaxSkewScaleUSD, req.LimitPriceE30)
	if err != nil {
		return Receipt{}, err
	}
	if quote.Status != model.MarketStatusOpen {
		return Receipt{}, fmt.Errorf("%w: %s is %s", ErrMarketIsClosed, mc.AssetID, quote.Status)
	}
	adaptive := quote.PriceE30

	// PnL already accrued on the existing size, at its full-close price.
	unrealized := sdkmath.ZeroInt()
	if !isNew {
		closeQuote, err := e.oracle.LatestAdaptivePriceWithMarketStatus(mc.AssetID, !isLong, m.Skew(), pos.SizeE30.Neg(), mc.MaxSkewScaleUSD, req.LimitPriceE30)
		if err != nil {
			return Receipt{}, err
		}
		unrealized = pricing.Signed(pricing.Delta(pos.AbsSize(), pos.AvgEntryPriceE30, closeQuote.PriceE30, isLong))
	}

	fees, pos, err := e.fees.UpdateFeeStates(tx, idx, pos, absDelta, mc.IncreasePositionFeeRateBPS)
	if err != nil {
		return Receipt{}, err
	}
	badDebt, err := e.fees.SettleAllFees(tx, sub, fees)
	if err != nil {
		return Receipt{}, err
	}

	if isNew {
		pos.AvgEntryPriceE30 = adaptive
	} else {
		base, err := e.basePrice(mc.AssetID, isLong, req.LimitPriceE30)
		if err != nil {
			return Receipt{}, err
		}
		sm, err := pricing.NewSkewModel(mc.MaxSkewScaleUSD)
		if err != nil {
			return Receipt{}, err
		}
		nextClose, err := sm.NextClosePrice(base, m.LongPositionSize, m.ShortPositionSize, pos.SizeE30, delta)
		if err != nil {
			return Receipt{}, err
		}
		avg, err := pricing.EntryAveragePrice(pos.SizeE30, delta, nextClose, unrealized)
		if err != nil {
			return Receipt{}, err
		}
		pos.AvgEntryPriceE30 = avg
	}

	newSize := pos.SizeE30.Add(delta)
	if newSize.IsZero() {
		return Receipt{}, ErrBadPositionSize
	}
	if !fixed.InRange(newSize) {
		return Receipt{}, ErrSizeOutOfRange
	}

	imr := fixed.ApplyBPS(absDelta, mc.InitialMarginFractionBPS)
	reserveDelta := fixed.ApplyBPS(imr, mc.MaxProfitRateBPS)
	if err := e.reserve(tx, mc.AssetClass, reserveDelta); err != nil {
		return Receipt{}, err
	}
	oiDelta := fixed.MulDiv(absDelta, fixed.E30, adaptive)

	pos.PrimaryAccount = req.Primary
	pos.SubAccountID = req.SubAccountID
	pos.MarketIndex = idx
	pos.SizeE30 = newSize
	pos.ReserveValueE30 = pos.ReserveValueE30.Add(reserveDelta)
	pos.OpenInterest = pos.OpenInterest.Add(oiDelta)
	pos.LastIncreaseTimestamp = now.Unix()

	m = tx.Market(idx)
	if isLong {
		m.LongAvgPrice = pricing.MarketAveragePrice(m.LongPositionSize, m.LongAvgPrice, adaptive, absDelta, true)
		m.LongPositionSize = m.LongPositionSize.Add(absDelta)
		m.LongOpenInterest = m.LongOpenInterest.Add(oiDelta)
	} else {
		m.ShortAvgPrice = pricing.MarketAveragePrice(m.ShortPositionSize, m.ShortAvgPrice, adaptive, absDelta, false)
		m.ShortPositionSize = m.ShortPositionSize.Add(absDelta)
		m.ShortOpenInterest = m.ShortOpenInterest.Add(oiDelta)
	}
	tx.SaveMarket(idx, m)
	tx.SavePosition(sub, posID, pos)

	free, err := e.calc.GetFreeCollateral(tx, sub, oracle.Override{AssetID: mc.AssetID, PriceE30: adaptive})
	if err != nil {
		return Receipt{}, err
	}
	if free.IsNegative() {
		return Receipt{}, fmt.Errorf("%w: free collateral %s", ErrInsufficientFreeCollateral, free)
	}

	return Receipt{
		ID:             uuid.New(),
		Op:             OpIncrease,
		PrimaryAccount: req.Primary,
		SubAccount:     sub,
		MarketIndex:    idx,
		AssetID:        mc.AssetID,
		PositionID:     posID,
		SizeDeltaE30:   delta,
		PriceE30:       adaptive,
		Fees:           fees,
		RealizedPnlE30: sdkmath.ZeroInt(),
		BadDebtE30:     badDebt,
		Position:       pos,
		Timestamp:      now,
	}, nil
}

// basePrice is the price the skew premium is applied to: the limit price
// when set, otherwise the oracle edge.
func (e *Engine) basePrice(assetID string, useMax bool, limit sdkmath.Int) (sdkmath.Int, error) {
	if !limit.IsNil() && limit.IsPositive() {
		return limit, nil
	}
	q, err := e.oracle.LatestPrice(assetID, useMax)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return q.PriceE30, nil
}

// reserve adds reserved value, rejecting it when the global reserve would
// exceed the utilisation cap of PLP liquidity.
func (e *Engine) reserve(tx *store.Tx, assetClass uint8, amount sdkmath.Int) error {
	tvl, err := e.calc.PLPTVL(tx)
	if err != nil {
		return err
	}
	next := tx.GlobalState().ReserveValueE30.Add(amount)
	maxUtil := e.cfg.LiquidityConfig().MaxPLPUtilizationBPS
	if next.Mul(fixed.BPS).GT(tvl.Mul(sdkmath.NewIntFromUint64(uint64(maxUtil)))) {
		return fmt.Errorf("%w: reserve %s, tvl %s", ErrInsufficientLiquidity, next, tvl)
	}
	tx.AddReserve(assetClass, amount)
	return nil
}

// --- Decrease, force close, deleverage ---

type closeMode int

const (
	modeDecrease closeMode = iota
	modeForceClose
	modeDeleverage
)

func (m closeMode) op() Op {
	switch m {
	case modeForceClose:
		return OpForceClose
	case modeDeleverage:
		return OpDeleverage
	default:
		return OpDecrease
	}
}

type closeParams struct {
	mode         closeMode
	primary      common.Address
	subAccountID uint8
	sub          common.Address
	marketIndex  uint64
	size         sdkmath.Int
	tpToken      common.Address
	limit        sdkmath.Int
}

// DecreasePosition shrinks a position and settles the realized PnL. The
// account must be healthy afterwards.
func (e *Engine) DecreasePosition(ctx context.Context, req DecreaseRequest) (_ Receipt, err error) {
	start := time.Now()
	defer func() { observe(OpDecrease, req.MarketIndex, start, err) }()

	if err := e.cfg.ValidateServiceExecutor(req.Executor); err != nil {
		return Receipt{}, err
	}
	if req.SizeE30.IsNil() || !req.SizeE30.IsPositive() {
		return Receipt{}, ErrBadSizeDelta
	}
	if !fixed.InRange(req.SizeE30) || !validLimit(req.LimitPriceE30) {
		return Receipt{}, ErrSizeOutOfRange
	}
	return e.close(ctx, closeParams{
		mode:         modeDecrease,
		primary:      req.Primary,
		subAccountID: req.SubAccountID,
		sub:          e.ids.SubAccount(req.Primary, req.SubAccountID),
		marketIndex:  req.MarketIndex,
		size:         req.SizeE30,
		tpToken:      req.TPToken,
		limit:        req.LimitPriceE30,
	})
}

// ForceClosePosition closes a position whose profit has reached its
// reserve. It also works on delisted markets and skips the health check.
func (e *Engine) ForceClosePosition(ctx context.Context, req CloseRequest) (_ Receipt, err error) {
	start := time.Now()
	defer func() { observe(OpForceClose, req.MarketIndex, start, err) }()

	if err := e.cfg.ValidateServiceExecutor(req.Executor); err != nil {
		return Receipt{}, err
	}
	return e.close(ctx, e.fullClose(modeForceClose, req))
}

// Deleverage closes a position while PLP liquidity is unhealthy, whatever
// its profit.
func (e *Engine) Deleverage(ctx context.Context, req CloseRequest) (_ Receipt, err error) {
	start := time.Now()
	defer func() { observe(OpDeleverage, req.MarketIndex, start, err) }()

	if err := e.cfg.ValidateServiceExecutor(req.Executor); err != nil {
		return Receipt{}, err
	}
	return e.close(ctx, e.fullClose(modeDeleverage, req))
}

func (e *Engine) fullClose(mode closeMode, req CloseRequest) closeParams {
	return closeParams{
		mode:         mode,
		primary:      req.Primary,
		subAccountID: req.SubAccountID,
		sub:          e.ids.SubAccount(req.Primary, req.SubAccountID),
		marketIndex:  req.MarketIndex,
		tpToken:      req.TPToken,
		limit:        sdkmath.ZeroInt(),
	}
}

func (e *Engine) close(ctx context.Context, p closeParams) (Receipt, error) {
	mc, err := e.cfg.MarketConfig(p.marketIndex)
	if err != nil {
		return Receipt{}, err
	}
	if !mc.Active && p.mode == modeDecrease {
		return Receipt{}, ErrMarketIsDelisted
	}
	now := e.now()

	var r Receipt
	err = e.ledger.Update(ctx, func(tx *store.Tx) error {
		var err error
		r, err = e.decrease(tx, mc, p, now)
		return err
	})
	if err != nil {
		return Receipt{}, err
	}

	slog.Info("position decreased",
		"op", string(r.Op),
		"receipt", r.ID.String(),
		"sub_account", p.sub.Hex(),
		"market", p.marketIndex,
		"size_delta", r.SizeDeltaE30.String(),
		"price", r.PriceE30.String(),
		"realized_pnl", r.RealizedPnlE30.String(),
		"max_profit", r.IsMaxProfit,
	)
	e.runHooks(ctx, r)
	return r, nil
}

func (e *Engine) decrease(tx *store.Tx, mc model.MarketConfig, p closeParams, now time.Time) (Receipt, error) {
	idx := p.marketIndex
	tc := e.cfg.TradingConfig()

	posID := e.ids.PositionID(p.sub, idx)
	pos := tx.Position(posID)
	if !pos.IsOpen() {
		return Receipt{}, ErrPositionAlreadyClosed
	}
	absSize := pos.AbsSize()
	isLong := pos.IsLong()

	size := absSize
	if p.mode == modeDecrease {
		size = p.size
	}
	if size.GT(absSize) {
		return Receipt{}, fmt.Errorf("%w: %s > %s", ErrDecreaseTooHighPositionSize, size, absSize)
	}

	if p.mode == modeDeleverage {
		unhealthy, err := e.calc.PLPUnhealthy(tx)
		if err != nil {
			return Receipt{}, err
		}
		if !unhealthy {
			return Receipt{}, ErrPLPHealthy
		}
	}

	if err := e.fees.Accrue(tx, idx, now); err != nil {
		return Receipt{}, err
	}
	m := tx.Market(idx)

	quote, err := e.oracle.LatestAdaptivePriceWithMarketStatus(mc.AssetID, !isLong, m.Skew(), pos.SizeE30.Neg(), mc.MaxSkewScaleUSD, p.limit)
	if err != nil {
		return Receipt{}, err
	}
	if quote.Status != model.MarketStatusOpen {
		return Receipt{}, fmt.Errorf("%w: %s is %s", ErrMarketIsClosed, mc.AssetID, quote.Status)
	}
	closePrice := quote.PriceE30

	fees, pos, err := e.fees.UpdateFeeStates(tx, idx, pos, size, mc.DecreasePositionFeeRateBPS)
	if err != nil {
		return Receipt{}, err
	}

	remaining := absSize.Sub(size)
	if remaining.IsPositive() && remaining.LT(tc.MinPositionSizeE30) {
		return Receipt{}, fmt.Errorf("%w: %s left", ErrTooTinyPosition, remaining)
	}

	isProfit, delta := pricing.PositionDelta(pos, absSize, closePrice, now, tc.MinProfitDuration)
	isMaxProfit := false
	if isProfit && delta.GTE(pos.ReserveValueE30) {
		delta = pos.ReserveValueE30
		isMaxProfit = true
	}
	if p.mode == modeForceClose && !isMaxProfit {
		return Receipt{}, ErrReservedValueStillEnough
	}

	realized := pricing.Signed(isProfit, fixed.MulDiv(delta, size, absSize))
	released := fixed.MulDiv(pos.ReserveValueE30, size, absSize)
	oiReleased := fixed.MulDiv(pos.OpenInterest, size, absSize)

	sizeDelta := size
	if isLong {
		sizeDelta = size.Neg()
	}

	// Uncapped PnL of the whole position at the close price. The market
	// side gives up the closed slice of it, the position keeps the rest.
	rawProfit, rawDelta := pricing.Delta(absSize, pos.AvgEntryPriceE30, closePrice, isLong)
	rawPnl := pricing.Signed(rawProfit, rawDelta)

	if remaining.IsZero() {
		tx.RemovePosition(p.sub, posID)
		pos = model.ZeroPosition()
	} else {
		// Re-blend so the remaining size carries the same PnL at the
		// post-trade close price as it had at the pre-trade one.
		carried := fixed.MulDiv(rawPnl, remaining, absSize)

		base, err := e.basePrice(mc.AssetID, !isLong, p.limit)
		if err != nil {
			return Receipt{}, err
		}
		sm, err := pricing.NewSkewModel(mc.MaxSkewScaleUSD)
		if err != nil {
			return Receipt{}, err
		}
		nextClose, err := sm.NextClosePrice(base, m.LongPositionSize, m.ShortPositionSize, pos.SizeE30, sizeDelta)
		if err != nil {
			return Receipt{}, err
		}
		avg, err := pricing.EntryAveragePrice(pos.SizeE30, sizeDelta, nextClose, carried)
		if err != nil {
			return Receipt{}, err
		}

		pos.SizeE30 = pos.SizeE30.Add(sizeDelta)
		pos.AvgEntryPriceE30 = avg
		pos.ReserveValueE30 = pos.ReserveValueE30.Sub(released)
		pos.OpenInterest = pos.OpenInterest.Sub(oiReleased)
		pos.RealizedPnlE30 = pos.RealizedPnlE30.Add(realized)
		tx.SavePosition(p.sub, posID, pos)
	}

	sideSize, sideAvg := m.ShortPositionSize, m.ShortAvgPrice
	if isLong {
		sideSize, sideAvg = m.LongPositionSize, m.LongAvgPrice
	}
	closedPnl := fixed.MulDiv(rawPnl, size, absSize)
	sideAvg = pricing.ReducedMarketAveragePrice(sideSize, sideAvg, closePrice, size, closedPnl, isLong)

	tx.ReleaseReserve(mc.AssetClass, released)
	tx.ReduceMarketSide(idx, isLong, size, oiReleased, sideAvg)

	if _, err := e.fees.IncreaseCollateral(tx, p.sub, realized, fees.Funding, p.tpToken); err != nil {
		return Receipt{}, err
	}
	badDebt, err := e.fees.DecreaseCollateral(tx, p.sub, realized, fees)
	if err != nil {
		return Receipt{}, err
	}

	if p.mode == modeDecrease {
		// Checked at the execution price and again at the oracle's own
		// quote; a limit price must not hide an unhealthy account.
		for _, ov := range []oracle.Override{{AssetID: mc.AssetID, PriceE30: closePrice}, oracle.NoOverride} {
			healthy, acc, err := e.calc.IsHealthy(tx, p.sub, ov)
			if err != nil {
				return Receipt{}, err
			}
			if !healthy {
				return Receipt{}, fmt.Errorf("%w: equity %s, mmr %s", ErrSubAccountEquityIsUnderMMR, acc.Equity, acc.MMR)
			}
		}
	}

	return Receipt{
		ID:             uuid.New(),
		Op:             p.mode.op(),
		PrimaryAccount: p.primary,
		SubAccount:     p.sub,
		MarketIndex:    idx,
		AssetID:        mc.AssetID,
		PositionID:     posID,
		SizeDeltaE30:   sizeDelta,
		PriceE30:       closePrice,
		Fees:           fees,
		RealizedPnlE30: realized,
		BadDebtE30:     badDebt,
		IsMaxProfit:    isMaxProfit,
		Position:       pos,
		Timestamp:      now,
	}, nil
}
