// Package model defines the core domain types shared across the engine.
// All monetary values are cosmossdk.io/math Ints in fixed point, never
// float64. USD values are E30, rates are 1e18.
package model

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Position is one trader's exposure on one market. Size is signed:
// positive is long, negative is short. A zero size means the position is
// absent from the active set.
type Position struct {
	PrimaryAccount        common.Address `json:"primary_account"`
	SubAccountID          uint8          `json:"sub_account_id"`
	MarketIndex           uint64         `json:"market_index"`
	SizeE30               sdkmath.Int    `json:"size_e30"`
	AvgEntryPriceE30      sdkmath.Int    `json:"avg_entry_price_e30"`
	EntryBorrowingRate    sdkmath.Int    `json:"entry_borrowing_rate"`
	EntryFundingRate      sdkmath.Int    `json:"entry_funding_rate"`
	ReserveValueE30       sdkmath.Int    `json:"reserve_value_e30"`
	LastIncreaseTimestamp int64          `json:"last_increase_timestamp"`
	RealizedPnlE30        sdkmath.Int    `json:"realized_pnl_e30"`
	OpenInterest          sdkmath.Int    `json:"open_interest"`
}

// ZeroPosition is the sentinel returned for absent positions.
func ZeroPosition() Position {
	return Position{
		SizeE30:            sdkmath.ZeroInt(),
		AvgEntryPriceE30:   sdkmath.ZeroInt(),
		EntryBorrowingRate: sdkmath.ZeroInt(),
		EntryFundingRate:   sdkmath.ZeroInt(),
		ReserveValueE30:    sdkmath.ZeroInt(),
		RealizedPnlE30:     sdkmath.ZeroInt(),
		OpenInterest:       sdkmath.ZeroInt(),
	}
}

// IsOpen reports whether the position has a nonzero size.
func (p Position) IsOpen() bool { return !p.SizeE30.IsZero() }

// IsLong reports whether the position is long. Absent positions are not long.
func (p Position) IsLong() bool { return p.SizeE30.IsPositive() }

// AbsSize returns |size|.
func (p Position) AbsSize() sdkmath.Int { return p.SizeE30.Abs() }

// Market is the aggregate state of one tradable asset.
type Market struct {
	LongPositionSize   sdkmath.Int `json:"long_position_size"`
	LongAvgPrice       sdkmath.Int `json:"long_avg_price"`
	ShortPositionSize  sdkmath.Int `json:"short_position_size"`
	ShortAvgPrice      sdkmath.Int `json:"short_avg_price"`
	CurrentFundingRate sdkmath.Int `json:"current_funding_rate"`
	LastFundingTime    int64       `json:"last_funding_time"`
	LongOpenInterest   sdkmath.Int `json:"long_open_interest"`
	ShortOpenInterest  sdkmath.Int `json:"short_open_interest"`
}

// ZeroMarket returns an initialised empty market.
func ZeroMarket() Market {
	return Market{
		LongPositionSize:   sdkmath.ZeroInt(),
		LongAvgPrice:       sdkmath.ZeroInt(),
		ShortPositionSize:  sdkmath.ZeroInt(),
		ShortAvgPrice:      sdkmath.ZeroInt(),
		CurrentFundingRate: sdkmath.ZeroInt(),
		LongOpenInterest:   sdkmath.ZeroInt(),
		ShortOpenInterest:  sdkmath.ZeroInt(),
	}
}

// Skew is long size minus short size.
func (m Market) Skew() sdkmath.Int {
	return m.LongPositionSize.Sub(m.ShortPositionSize)
}

// AssetClass is the aggregate state of one risk bucket.
type AssetClass struct {
	ReserveValueE30   sdkmath.Int `json:"reserve_value_e30"`
	SumBorrowingRate  sdkmath.Int `json:"sum_borrowing_rate"`
	LastBorrowingTime int64       `json:"last_borrowing_time"`
}

// ZeroAssetClass returns an initialised empty asset class.
func ZeroAssetClass() AssetClass {
	return AssetClass{
		ReserveValueE30:  sdkmath.ZeroInt(),
		SumBorrowingRate: sdkmath.ZeroInt(),
	}
}

// GlobalState is the protocol-wide aggregate.
type GlobalState struct {
	ReserveValueE30 sdkmath.Int `json:"reserve_value_e30"`
}

// ZeroGlobalState returns an initialised global state.
func ZeroGlobalState() GlobalState {
	return GlobalState{ReserveValueE30: sdkmath.ZeroInt()}
}

// MarketStatus is the oracle-reported trading status of an asset.
type MarketStatus uint8

const (
	MarketStatusUndefined MarketStatus = 0
	MarketStatusClosed    MarketStatus = 1
	MarketStatusOpen      MarketStatus = 2
)

func (s MarketStatus) String() string {
	switch s {
	case MarketStatusClosed:
		return "closed"
	case MarketStatusOpen:
		return "open"
	default:
		return "undefined"
	}
}

// PoolKind names a protocol-side token accumulator.
type PoolKind string

const (
	// PoolPLP is the liquidity backing trader payouts.
	PoolPLP PoolKind = "plp"
	// PoolProtocolFee receives the trading fee after the dev split.
	PoolProtocolFee PoolKind = "protocol_fee"
	// PoolDevFee receives the dev share of trading and borrowing fees.
	PoolDevFee PoolKind = "dev_fee"
	// PoolFundingFee holds funding paid by one side until the other receives it.
	PoolFundingFee PoolKind = "funding_fee"
)

// PriceQuote is one oracle reading.
type PriceQuote struct {
	PriceE30  sdkmath.Int  `json:"price_e30"`
	UpdatedAt time.Time    `json:"updated_at"`
	Status    MarketStatus `json:"status"`
}
