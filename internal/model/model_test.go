package model

import (
	"encoding/json"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func TestZeroPositionIsAbsent(t *testing.T) {
	p := ZeroPosition()
	require.False(t, p.IsOpen())
	require.False(t, p.IsLong())
	require.True(t, p.AbsSize().IsZero())
}

func TestPositionDirection(t *testing.T) {
	p := ZeroPosition()
	p.SizeE30 = sdkmath.NewInt(-5)
	require.True(t, p.IsOpen())
	require.False(t, p.IsLong())
	require.Equal(t, "5", p.AbsSize().String())
}

func TestMarketSkew(t *testing.T) {
	m := ZeroMarket()
	m.LongPositionSize = sdkmath.NewInt(100)
	m.ShortPositionSize = sdkmath.NewInt(250)
	require.Equal(t, "-150", m.Skew().String())
}

// Positions are cached as JSON, so the Int fields must survive encoding.
func TestPositionJSON(t *testing.T) {
	p := ZeroPosition()
	p.SizeE30 = sdkmath.NewIntWithDecimal(-12, 30)
	p.MarketIndex = 7

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var got Position
	require.NoError(t, json.Unmarshal(data, &got))
	require.True(t, got.SizeE30.Equal(p.SizeE30))
	require.Equal(t, uint64(7), got.MarketIndex)
}

func TestMarketStatusString(t *testing.T) {
	require.Equal(t, "open", MarketStatusOpen.String())
	require.Equal(t, "closed", MarketStatusClosed.String())
	require.Equal(t, "undefined", MarketStatus(9).String())
}
