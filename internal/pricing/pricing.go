// Package pricing implements the skew-based price impact model used for
// perpetual markets, plus the average-price and PnL arithmetic that goes
// with it.
//
// Every value is an E30 fixed-point integer (cosmossdk.io/math Int); there
// is no floating point anywhere. Division truncates toward zero.
//
// The premium of a market is skew / maxSkewScale. A trade is priced at the
// oracle price shifted by the average of the premium before and after the
// trade, so price impact grows with both the existing skew and the trade
// size and is symmetric around the mid-skew.
package pricing

import (
	"errors"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/atmx/perp-engine/internal/fixed"
	"github.com/atmx/perp-engine/internal/model"
)

var (
	// ErrInvalidSkewScale is returned for a negative max skew scale.
	ErrInvalidSkewScale = errors.New("pricing: max skew scale must not be negative")

	// ErrPriceBoundExceeded is returned when a premium would push a price
	// to zero or below.
	ErrPriceBoundExceeded = errors.New("pricing: price impact pushes price to zero or below")

	// ErrDegenerateAverage is returned when unrealized PnL cancels out the
	// position size and no average price exists.
	ErrDegenerateAverage = errors.New("pricing: average price divisor is not positive")
)

// SkewModel prices trades against market skew. It is stateless: market
// sizes are passed as arguments, only the scale is stored. A zero scale
// disables the premium.
type SkewModel struct {
	scale sdkmath.Int
}

// NewSkewModel creates a model for the given max skew scale (USD E30).
func NewSkewModel(maxSkewScaleUSD sdkmath.Int) (*SkewModel, error) {
	if maxSkewScaleUSD.IsNil() {
		maxSkewScaleUSD = sdkmath.ZeroInt()
	}
	if maxSkewScaleUSD.IsNegative() {
		return nil, ErrInvalidSkewScale
	}
	return &SkewModel{scale: maxSkewScaleUSD}, nil
}

// Scale returns the max skew scale.
func (m *SkewModel) Scale() sdkmath.Int {
	return m.scale
}

// Premium returns skew / scale in E30. Zero when the premium is disabled.
func (m *SkewModel) Premium(skew sdkmath.Int) sdkmath.Int {
	if m.scale.IsZero() {
		return sdkmath.ZeroInt()
	}
	return fixed.MulDiv(skew, fixed.E30, m.scale)
}

// applyPremium returns price * (1 + premium).
func applyPremium(price, premium sdkmath.Int) sdkmath.Int {
	return price.Add(fixed.MulDiv(price, premium, fixed.E30))
}

// AdaptivePrice returns the execution price of a trade of sizeDelta against
// a market with the given skew:
//
//	before = P + P * skew / S
//	after  = P + P * (skew + sizeDelta) / S
//	price  = (before + after) / 2
func (m *SkewModel) AdaptivePrice(price, skew, sizeDelta sdkmath.Int) (sdkmath.Int, error) {
	if m.scale.IsZero() {
		return price, nil
	}
	before := applyPremium(price, m.Premium(skew))
	after := applyPremium(price, m.Premium(skew.Add(sizeDelta)))
	out := before.Add(after).QuoRaw(2)
	if !out.IsPositive() {
		return sdkmath.Int{}, ErrPriceBoundExceeded
	}
	return out, nil
}

// NextClosePrice returns the price at which a position of positionSize,
// after a trade of sizeDelta, would be closed in full:
//
//	k'     = long - short + sizeDelta
//	before = k' / S
//	after  = (k' - (positionSize + sizeDelta)) / S
//	price  = P * (1 + (before + after) / 2)
func (m *SkewModel) NextClosePrice(price, longSize, shortSize, positionSize, sizeDelta sdkmath.Int) (sdkmath.Int, error) {
	if m.scale.IsZero() {
		return price, nil
	}
	skew := longSize.Sub(shortSize).Add(sizeDelta)
	before := m.Premium(skew)
	after := m.Premium(skew.Sub(positionSize.Add(sizeDelta)))
	premium := before.Add(after).QuoRaw(2)

	out := applyPremium(price, premium)
	if !out.IsPositive() {
		return sdkmath.Int{}, ErrPriceBoundExceeded
	}
	return out, nil
}

// EntryAveragePrice re-blends a position's average entry price after a
// trade so that the unrealized PnL accrued on the old size is preserved:
//
//	long:  C * |q+Δ| / (|q+Δ| + u)
//	short: C * |q+Δ| / (|q+Δ| - u)
//
// q is the signed size before the trade, u the signed unrealized PnL of
// that size at the next close price C.
func EntryAveragePrice(size, sizeDelta, nextClosePrice, unrealizedPnl sdkmath.Int) (sdkmath.Int, error) {
	newSize := size.Add(sizeDelta).Abs()

	var divisor sdkmath.Int
	if size.IsPositive() {
		divisor = newSize.Add(unrealizedPnl)
	} else {
		divisor = newSize.Sub(unrealizedPnl)
	}
	if !divisor.IsPositive() {
		return sdkmath.Int{}, ErrDegenerateAverage
	}
	return fixed.MulDiv(nextClosePrice, newSize, divisor), nil
}

// MarketAveragePrice updates the running average price of one side of a
// market after sizeDelta (positive, same side) is added at price. The
// first fill seeds the average. The aggregate PnL of the side is kept
// constant, mirroring EntryAveragePrice.
func MarketAveragePrice(sideSize, sideAvgPrice, price, sizeDelta sdkmath.Int, isLong bool) sdkmath.Int {
	if sideSize.IsZero() || sideAvgPrice.IsZero() {
		return price
	}
	pnl := SidePnL(sideSize, sideAvgPrice, price, isLong)
	newSize := sideSize.Add(sizeDelta)

	var divisor sdkmath.Int
	if isLong {
		divisor = newSize.Add(pnl)
	} else {
		divisor = newSize.Sub(pnl)
	}
	if !divisor.IsPositive() {
		return price
	}
	return fixed.MulDiv(price, newSize, divisor)
}

// ReducedMarketAveragePrice is MarketAveragePrice for a fill that removes
// sizeDelta from a side. closedPnl is the signed PnL at price of the slice
// being removed; the new average leaves the remaining size carrying the
// side's PnL at price minus closedPnl. An emptied side has no average.
func ReducedMarketAveragePrice(sideSize, sideAvgPrice, price, sizeDelta, closedPnl sdkmath.Int, isLong bool) sdkmath.Int {
	newSize := sideSize.Sub(sizeDelta)
	if !newSize.IsPositive() {
		return sdkmath.ZeroInt()
	}
	if sideAvgPrice.IsZero() {
		return price
	}
	pnl := SidePnL(sideSize, sideAvgPrice, price, isLong).Sub(closedPnl)

	var divisor sdkmath.Int
	if isLong {
		divisor = newSize.Add(pnl)
	} else {
		divisor = newSize.Sub(pnl)
	}
	if !divisor.IsPositive() {
		return price
	}
	return fixed.MulDiv(price, newSize, divisor)
}

// SidePnL returns the signed PnL of size held at avgPrice and marked at
// price. Profit is positive.
func SidePnL(size, avgPrice, price sdkmath.Int, isLong bool) sdkmath.Int {
	if size.IsZero() || avgPrice.IsZero() {
		return sdkmath.ZeroInt()
	}
	diff := price.Sub(avgPrice)
	if !isLong {
		diff = diff.Neg()
	}
	return fixed.MulDiv(size, diff, avgPrice)
}

// MarketPnL returns the aggregate signed trader PnL of a market marked at
// price. Profit for traders is positive.
func MarketPnL(m model.Market, price sdkmath.Int) sdkmath.Int {
	long := SidePnL(m.LongPositionSize, m.LongAvgPrice, price, true)
	short := SidePnL(m.ShortPositionSize, m.ShortAvgPrice, price, false)
	return long.Add(short)
}

// Delta returns the PnL of a position of absSize bought at avgPrice and
// marked at markPrice as a (isProfit, magnitude) pair.
func Delta(absSize, avgPrice, markPrice sdkmath.Int, isLong bool) (bool, sdkmath.Int) {
	if avgPrice.IsZero() {
		return false, sdkmath.ZeroInt()
	}
	diff := markPrice.Sub(avgPrice).Abs()
	delta := fixed.MulDiv(absSize, diff, avgPrice)

	isProfit := markPrice.GT(avgPrice)
	if !isLong {
		isProfit = avgPrice.GT(markPrice)
	}
	if delta.IsZero() {
		isProfit = false
	}
	return isProfit, delta
}

// PositionDelta is Delta for a stored position with the minimum holding
// rule applied: profit is ignored until minProfitDuration has passed since
// the last increase.
func PositionDelta(pos model.Position, absSize, markPrice sdkmath.Int, now time.Time, minProfitDuration time.Duration) (bool, sdkmath.Int) {
	isProfit, delta := Delta(absSize, pos.AvgEntryPriceE30, markPrice, pos.IsLong())
	if isProfit && minProfitDuration > 0 {
		mature := time.Unix(pos.LastIncreaseTimestamp, 0).Add(minProfitDuration)
		if now.Before(mature) {
			return false, sdkmath.ZeroInt()
		}
	}
	return isProfit, delta
}

// Signed turns a (isProfit, delta) pair into a signed PnL.
func Signed(isProfit bool, delta sdkmath.Int) sdkmath.Int {
	if isProfit {
		return delta
	}
	return delta.Neg()
}
