package pricing

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/atmx/perp-engine/internal/fixed"
	"github.com/atmx/perp-engine/internal/model"
)

// usd is a test helper for whole-dollar E30 values.
func usd(v int64) sdkmath.Int {
	return fixed.USD(v)
}

func mustInt(t *testing.T, s string) sdkmath.Int {
	t.Helper()
	v, ok := sdkmath.NewIntFromString(s)
	require.True(t, ok, s)
	return v
}

func newModel(t *testing.T, scale int64) *SkewModel {
	t.Helper()
	m, err := NewSkewModel(usd(scale))
	require.NoError(t, err)
	return m
}

// --- Constructor tests ---

func TestNewSkewModel_Negative(t *testing.T) {
	_, err := NewSkewModel(usd(-1))
	require.ErrorIs(t, err, ErrInvalidSkewScale)
}

func TestNewSkewModel_NilIsDisabled(t *testing.T) {
	m, err := NewSkewModel(sdkmath.Int{})
	require.NoError(t, err)
	require.True(t, m.Premium(usd(1_000_000)).IsZero())
}

// --- Adaptive price ---

func TestAdaptivePrice_ZeroScaleIsOraclePrice(t *testing.T) {
	m := newModel(t, 0)
	got, err := m.AdaptivePrice(usd(1500), usd(5_000_000), usd(1_000_000))
	require.NoError(t, err)
	require.Equal(t, usd(1500).String(), got.String())
}

func TestAdaptivePrice(t *testing.T) {
	m := newModel(t, 300_000_000)

	tests := []struct {
		name            string
		skew, sizeDelta int64
		want            string
	}{
		{"long from flat", 0, 1_000_000, "1502499999999999999999999999999750"},
		{"short into short skew", -2_000_000, -500_000, "1488750000000000000000000000000750"},
		{"no trade no skew", 0, 0, "1500000000000000000000000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.AdaptivePrice(usd(1500), usd(tt.skew), usd(tt.sizeDelta))
			require.NoError(t, err)
			require.Equal(t, tt.want, got.String())
		})
	}
}

func TestAdaptivePrice_BuyingRaisesSellingLowers(t *testing.T) {
	m := newModel(t, 300_000_000)
	buy, err := m.AdaptivePrice(usd(1500), usd(0), usd(10_000))
	require.NoError(t, err)
	sell, err := m.AdaptivePrice(usd(1500), usd(0), usd(-10_000))
	require.NoError(t, err)

	require.True(t, buy.GT(usd(1500)))
	require.True(t, sell.LT(usd(1500)))
}

func TestAdaptivePrice_BoundExceeded(t *testing.T) {
	m := newModel(t, 1_000)
	_, err := m.AdaptivePrice(usd(1500), usd(-5_000), usd(-5_000))
	require.ErrorIs(t, err, ErrPriceBoundExceeded)
}

// --- Next close price ---

func TestNextClosePrice(t *testing.T) {
	m := newModel(t, 300_000_000)

	// Opening a 1M long on a flat market: the long becomes the whole skew and
	// its own close removes it again.
	got, err := m.NextClosePrice(usd(1500), usd(0), usd(0), usd(0), usd(1_000_000))
	require.NoError(t, err)
	require.Equal(t, "1502499999999999999999999999999000", got.String())

	// Closing a 1M short that is the whole market skew.
	got, err = m.NextClosePrice(usd(1500), usd(0), usd(1_000_000), usd(-1_000_000), usd(0))
	require.NoError(t, err)
	require.Equal(t, "1497500000000000000000000000001000", got.String())
}

func TestNextClosePrice_ZeroScale(t *testing.T) {
	m := newModel(t, 0)
	got, err := m.NextClosePrice(usd(1500), usd(10), usd(0), usd(10), usd(10))
	require.NoError(t, err)
	require.True(t, got.Equal(usd(1500)))
}

// --- Entry average price ---

func TestEntryAveragePrice_PreservesPnL(t *testing.T) {
	tests := []struct {
		name                 string
		size, delta, closeAt int64
		avg                  int64
		want                 string
	}{
		{"long in profit", 1000, 1000, 110, 100, "104761904761904761904761904761904"},
		{"short in profit", -1000, -1000, 90, 100, "94736842105263157894736842105263"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := usd(tt.size)
			isProfit, delta := Delta(size.Abs(), usd(tt.avg), usd(tt.closeAt), size.IsPositive())
			u := Signed(isProfit, delta)
			require.Equal(t, usd(100).String(), u.String())

			got, err := EntryAveragePrice(size, usd(tt.delta), usd(tt.closeAt), u)
			require.NoError(t, err)
			require.Equal(t, tt.want, got.String())

			newSize := size.Add(usd(tt.delta))
			p, d := Delta(newSize.Abs(), got, usd(tt.closeAt), newSize.IsPositive())
			require.True(t, p)
			// Truncation may lose a few wei of E30.
			require.True(t, usd(100).Sub(d).Abs().LT(sdkmath.NewInt(1_000_000)), d.String())
		})
	}
}

func TestEntryAveragePrice_NoPnLIsClosePrice(t *testing.T) {
	got, err := EntryAveragePrice(usd(500), usd(250), usd(1500), sdkmath.ZeroInt())
	require.NoError(t, err)
	require.Equal(t, usd(1500).String(), got.String())
}

func TestEntryAveragePrice_Degenerate(t *testing.T) {
	_, err := EntryAveragePrice(usd(100), usd(100), usd(10), usd(-200))
	require.ErrorIs(t, err, ErrDegenerateAverage)
}

// --- Market average price ---

func TestMarketAveragePrice_FirstFillSeeds(t *testing.T) {
	got := MarketAveragePrice(sdkmath.ZeroInt(), sdkmath.ZeroInt(), usd(1500), usd(100), true)
	require.True(t, got.Equal(usd(1500)))
}

func TestMarketAveragePrice_SamePriceUnchanged(t *testing.T) {
	got := MarketAveragePrice(usd(1000), usd(1500), usd(1500), usd(500), false)
	require.True(t, got.Equal(usd(1500)))
}

func TestMarketAveragePrice_KeepsSidePnL(t *testing.T) {
	before := SidePnL(usd(1000), usd(100), usd(110), true)
	avg := MarketAveragePrice(usd(1000), usd(100), usd(110), usd(1000), true)
	after := SidePnL(usd(2000), avg, usd(110), true)
	require.True(t, before.Sub(after).Abs().LT(sdkmath.NewInt(1_000_000)))
}

func TestReducedMarketAveragePrice_RemainderKeepsItsPnL(t *testing.T) {
	tests := []struct {
		name           string
		isLong         bool
		first, second  int64
		mark           int64
		wantAvgAfterUS int64
	}{
		{"long, higher entry closes", true, 1500, 3000, 2000, 1500},
		{"long, lower entry closes", true, 3000, 1500, 2000, 3000},
		{"short, higher entry closes", false, 1000, 1500, 1200, 1000},
		{"short, lower entry closes", false, 1500, 1000, 1200, 1500},
	}
	tol := sdkmath.NewIntWithDecimal(1, 24)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := usd(100_000)
			avg := MarketAveragePrice(size, usd(tt.first), usd(tt.second), size, tt.isLong)

			closedProfit, closedDelta := Delta(size, usd(tt.second), usd(tt.mark), tt.isLong)
			got := ReducedMarketAveragePrice(size.MulRaw(2), avg, usd(tt.mark), size, Signed(closedProfit, closedDelta), tt.isLong)

			keptProfit, keptDelta := Delta(size, usd(tt.first), usd(tt.mark), tt.isLong)
			want := Signed(keptProfit, keptDelta)
			side := SidePnL(size, got, usd(tt.mark), tt.isLong)
			require.True(t, side.Sub(want).Abs().LT(tol), "side %s, position %s", side, want)
			require.True(t, got.Sub(usd(tt.wantAvgAfterUS)).Abs().LT(tol), "avg %s", got)
		})
	}
}

func TestReducedMarketAveragePrice_EmptiedSide(t *testing.T) {
	got := ReducedMarketAveragePrice(usd(100), usd(1500), usd(1600), usd(100), usd(0), true)
	require.True(t, got.IsZero())
}

func TestMarketPnL(t *testing.T) {
	m := model.ZeroMarket()
	m.LongPositionSize = usd(1000)
	m.LongAvgPrice = usd(100)
	m.ShortPositionSize = usd(500)
	m.ShortAvgPrice = usd(120)

	// long +100, short +500*(120-110)/120 = 41.666...
	got := MarketPnL(m, usd(110))
	require.Equal(t, "141666666666666666666666666666666", got.String())
}

// --- Delta ---

func TestDelta(t *testing.T) {
	tests := []struct {
		name       string
		avg, mark  int64
		isLong     bool
		wantProfit bool
		wantDelta  int64
	}{
		{"long up", 100, 120, true, true, 200},
		{"long down", 100, 80, true, false, 200},
		{"short down", 100, 80, false, true, 200},
		{"short up", 100, 120, false, false, 200},
		{"flat", 100, 100, true, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isProfit, delta := Delta(usd(1000), usd(tt.avg), usd(tt.mark), tt.isLong)
			require.Equal(t, tt.wantProfit, isProfit)
			require.Equal(t, usd(tt.wantDelta).String(), delta.String())
		})
	}
}

func TestDelta_ZeroAverage(t *testing.T) {
	isProfit, delta := Delta(usd(1000), sdkmath.ZeroInt(), usd(100), true)
	require.False(t, isProfit)
	require.True(t, delta.IsZero())
}

func TestPositionDelta_MinProfitDuration(t *testing.T) {
	opened := time.Unix(1_700_000_000, 0)
	pos := model.ZeroPosition()
	pos.SizeE30 = usd(1000)
	pos.AvgEntryPriceE30 = usd(100)
	pos.LastIncreaseTimestamp = opened.Unix()

	isProfit, delta := PositionDelta(pos, pos.AbsSize(), usd(120), opened.Add(10*time.Second), time.Minute)
	require.False(t, isProfit)
	require.True(t, delta.IsZero())

	isProfit, delta = PositionDelta(pos, pos.AbsSize(), usd(120), opened.Add(time.Minute), time.Minute)
	require.True(t, isProfit)
	require.Equal(t, usd(200).String(), delta.String())

	// Losses are never deferred.
	isProfit, delta = PositionDelta(pos, pos.AbsSize(), usd(80), opened, time.Minute)
	require.False(t, isProfit)
	require.Equal(t, usd(200).String(), delta.String())
}
