// Package margin evaluates sub-account solvency and pool health.
package margin

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/perp-engine/internal/collateral"
	"github.com/atmx/perp-engine/internal/config"
	"github.com/atmx/perp-engine/internal/fee"
	"github.com/atmx/perp-engine/internal/fixed"
	"github.com/atmx/perp-engine/internal/oracle"
	"github.com/atmx/perp-engine/internal/pricing"
	"github.com/atmx/perp-engine/internal/store"
)

// Calculator computes equity and margin requirements. It holds no state;
// every figure is derived from the Tx it is given.
type Calculator struct {
	cfg    config.Provider
	oracle oracle.Oracle
	valuer *collateral.Valuer
	fees   *fee.Engine
	now    func() time.Time
}

// NewCalculator creates a Calculator.
func NewCalculator(cfg config.Provider, o oracle.Oracle, valuer *collateral.Valuer, fees *fee.Engine) *Calculator {
	return &Calculator{cfg: cfg, oracle: o, valuer: valuer, fees: fees, now: time.Now}
}

// SetClock overrides the clock used for the minimum profit duration.
func (c *Calculator) SetClock(now func() time.Time) { c.now = now }

// Account is a full margin breakdown of one sub-account. All values are
// USD E30.
type Account struct {
	Collateral     sdkmath.Int `json:"collateral"`
	UnrealizedPnl  sdkmath.Int `json:"unrealized_pnl"`
	UnrealizedFee  sdkmath.Int `json:"unrealized_fee"`
	BadDebt        sdkmath.Int `json:"bad_debt"`
	Equity         sdkmath.Int `json:"equity"`
	IMR            sdkmath.Int `json:"imr"`
	MMR            sdkmath.Int `json:"mmr"`
	FreeCollateral sdkmath.Int `json:"free_collateral"`
}

// Healthy reports equity >= 0 && equity >= MMR.
func (a Account) Healthy() bool {
	return !a.Equity.IsNegative() && a.Equity.GTE(a.MMR)
}

// GetAccount evaluates every margin figure of sub in one pass.
func (c *Calculator) GetAccount(tx *store.Tx, sub common.Address, ov oracle.Override) (Account, error) {
	coll, err := c.valuer.CollateralValue(tx, sub, ov)
	if err != nil {
		return Account{}, err
	}
	pnl, unrealizedFee, err := c.GetUnrealizedPnlAndFee(tx, sub, ov)
	if err != nil {
		return Account{}, err
	}
	imr, mmr, err := c.requirements(tx, sub)
	if err != nil {
		return Account{}, err
	}
	badDebt := tx.BadDebt(sub)

	acc := Account{
		Collateral:    coll,
		UnrealizedPnl: pnl,
		UnrealizedFee: unrealizedFee,
		BadDebt:       badDebt,
		IMR:           imr,
		MMR:           mmr,
	}
	acc.Equity = coll.Add(pnl).Sub(unrealizedFee).Sub(badDebt)
	acc.FreeCollateral = coll.Sub(imr).Add(fixed.Min(pnl, sdkmath.ZeroInt())).Sub(unrealizedFee).Sub(badDebt)
	return acc, nil
}

// GetEquity returns collateral value plus unrealized PnL minus unrealized
// fees and standing bad debt. The override replaces the oracle price of
// one asset.
func (c *Calculator) GetEquity(tx *store.Tx, sub common.Address, ov oracle.Override) (sdkmath.Int, error) {
	acc, err := c.GetAccount(tx, sub, ov)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return acc.Equity, nil
}

// GetFreeCollateral returns collateral value minus the initial margin of
// every position, open losses, unrealized fees and bad debt. Unrealized
// profit does not count.
func (c *Calculator) GetFreeCollateral(tx *store.Tx, sub common.Address, ov oracle.Override) (sdkmath.Int, error) {
	acc, err := c.GetAccount(tx, sub, ov)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return acc.FreeCollateral, nil
}

// GetMMR returns the maintenance margin requirement of sub.
func (c *Calculator) GetMMR(tx *store.Tx, sub common.Address) (sdkmath.Int, error) {
	_, mmr, err := c.requirements(tx, sub)
	return mmr, err
}

// GetIMR returns the initial margin requirement of sub.
func (c *Calculator) GetIMR(tx *store.Tx, sub common.Address) (sdkmath.Int, error) {
	imr, _, err := c.requirements(tx, sub)
	return imr, err
}

// IsHealthy evaluates the health rule and returns the account it was
// evaluated on.
func (c *Calculator) IsHealthy(tx *store.Tx, sub common.Address, ov oracle.Override) (bool, Account, error) {
	acc, err := c.GetAccount(tx, sub, ov)
	if err != nil {
		return false, Account{}, err
	}
	return acc.Healthy(), acc, nil
}

func (c *Calculator) requirements(tx *store.Tx, sub common.Address) (imr, mmr sdkmath.Int, err error) {
	imr, mmr = sdkmath.ZeroInt(), sdkmath.ZeroInt()
	for _, id := range tx.PositionIDs(sub) {
		pos := tx.Position(id)
		if !pos.IsOpen() {
			continue
		}
		mc, err := c.cfg.MarketConfig(pos.MarketIndex)
		if err != nil {
			return sdkmath.Int{}, sdkmath.Int{}, err
		}
		size := pos.AbsSize()
		imr = imr.Add(fixed.ApplyBPS(size, mc.InitialMarginFractionBPS))
		mmr = mmr.Add(fixed.ApplyBPS(size, mc.MaintenanceMarginFractionBPS))
	}
	return imr, mmr, nil
}

// GetUnrealizedPnlAndFee marks every open position of sub at its
// skew-adjusted close price. Profit per position is capped at its reserve.
// The fee total nets funding receivable against fees owed.
func (c *Calculator) GetUnrealizedPnlAndFee(tx *store.Tx, sub common.Address, ov oracle.Override) (pnl, unrealizedFee sdkmath.Int, err error) {
	pnl, unrealizedFee = sdkmath.ZeroInt(), sdkmath.ZeroInt()
	minProfit := c.cfg.TradingConfig().MinProfitDuration
	now := c.now()

	for _, id := range tx.PositionIDs(sub) {
		pos := tx.Position(id)
		if !pos.IsOpen() {
			continue
		}
		mc, err := c.cfg.MarketConfig(pos.MarketIndex)
		if err != nil {
			return sdkmath.Int{}, sdkmath.Int{}, err
		}

		price, ok := ov.Price(mc.AssetID)
		if !ok {
			m := tx.Market(pos.MarketIndex)
			q, err := c.oracle.LatestAdaptivePriceWithMarketStatus(
				mc.AssetID, !pos.IsLong(), m.Skew(), pos.SizeE30.Neg(), mc.MaxSkewScaleUSD, sdkmath.ZeroInt(),
			)
			if err != nil {
				return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("mark position %s: %w", id.Hex(), err)
			}
			price = q.PriceE30
		}

		isProfit, delta := pricing.PositionDelta(pos, pos.AbsSize(), price, now, minProfit)
		if isProfit && delta.GT(pos.ReserveValueE30) {
			delta = pos.ReserveValueE30
		}
		pnl = pnl.Add(pricing.Signed(isProfit, delta))

		fees, err := c.fees.Pending(tx, pos)
		if err != nil {
			return sdkmath.Int{}, sdkmath.Int{}, err
		}
		unrealizedFee = unrealizedFee.Add(fees.Owed())
	}
	return pnl, unrealizedFee, nil
}

// --- Pool health ---

// GetAUM returns PLP TVL minus the aggregate PnL traders hold against it,
// marked at the min oracle price from each market's running averages.
// Markets with no open size are skipped.
func (c *Calculator) GetAUM(tx *store.Tx) (sdkmath.Int, error) {
	tvl, err := c.valuer.PLPTVL(tx)
	if err != nil {
		return sdkmath.Int{}, err
	}
	traderPnl, err := c.aggregatePnl(tx)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return tvl.Sub(traderPnl), nil
}

// PLPTVL returns the USD value of PLP liquidity.
func (c *Calculator) PLPTVL(tx *store.Tx) (sdkmath.Int, error) {
	return c.valuer.PLPTVL(tx)
}

func (c *Calculator) aggregatePnl(tx *store.Tx) (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for _, idx := range c.cfg.Markets() {
		m := tx.Market(idx)
		if m.LongPositionSize.IsZero() && m.ShortPositionSize.IsZero() {
			continue
		}
		mc, err := c.cfg.MarketConfig(idx)
		if err != nil {
			return sdkmath.Int{}, err
		}
		price, err := c.MarkPrice(mc.AssetID)
		if err != nil {
			return sdkmath.Int{}, fmt.Errorf("mark market %d: %w", idx, err)
		}
		total = total.Add(pricing.MarketPnL(m, price))
	}
	return total, nil
}

// MarkPrice is the min oracle price markets are marked at for AUM.
func (c *Calculator) MarkPrice(assetID string) (sdkmath.Int, error) {
	q, err := c.oracle.LatestPrice(assetID, false)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return q.PriceE30, nil
}

// PLPUnhealthy reports whether trader profit has eaten into the pool past
// its safety buffer: (tvl - aum) * BPS > (BPS - buffer) * tvl.
func (c *Calculator) PLPUnhealthy(tx *store.Tx) (bool, error) {
	tvl, err := c.valuer.PLPTVL(tx)
	if err != nil {
		return false, err
	}
	aum, err := c.GetAUM(tx)
	if err != nil {
		return false, err
	}
	buffer := c.cfg.LiquidityConfig().PLPSafetyBufferBPS
	if buffer > fixed.BPSDenom {
		buffer = fixed.BPSDenom
	}
	lhs := tvl.Sub(aum).Mul(fixed.BPS)
	rhs := tvl.MulRaw(int64(fixed.BPSDenom - buffer))
	return lhs.GT(rhs), nil
}
