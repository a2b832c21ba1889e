package model

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// MarketConfig holds the risk parameters of one market.
type MarketConfig struct {
	AssetID                      string      `json:"asset_id"`
	AssetClass                   uint8       `json:"asset_class"`
	Active                       bool        `json:"active"`
	AllowIncreasePosition        bool        `json:"allow_increase_position"`
	MaxLongPositionSize          sdkmath.Int `json:"max_long_position_size"`
	MaxShortPositionSize         sdkmath.Int `json:"max_short_position_size"`
	InitialMarginFractionBPS     uint32      `json:"initial_margin_fraction_bps"`
	MaintenanceMarginFractionBPS uint32      `json:"maintenance_margin_fraction_bps"`
	MaxProfitRateBPS             uint32      `json:"max_profit_rate_bps"`
	IncreasePositionFeeRateBPS   uint32      `json:"increase_position_fee_rate_bps"`
	DecreasePositionFeeRateBPS   uint32      `json:"decrease_position_fee_rate_bps"`
	MaxSkewScaleUSD              sdkmath.Int `json:"max_skew_scale_usd"`
	// MaxFundingRate is the funding rate cap per funding interval (1e18).
	MaxFundingRate sdkmath.Int `json:"max_funding_rate"`
}

// AssetClassConfig holds the parameters of one risk bucket.
type AssetClassConfig struct {
	Name string `json:"name"`
	// BaseBorrowingRate is charged per funding interval at full utilisation (1e18).
	BaseBorrowingRate sdkmath.Int `json:"base_borrowing_rate"`
}

// CollateralTokenConfig describes one accepted collateral token.
type CollateralTokenConfig struct {
	Token               common.Address `json:"token"`
	AssetID             string         `json:"asset_id"`
	Decimals            uint8          `json:"decimals"`
	CollateralFactorBPS uint32         `json:"collateral_factor_bps"`
	Accepted            bool           `json:"accepted"`
}

// TradingConfig holds global trading parameters.
type TradingConfig struct {
	MaxPosition       int           `json:"max_position"`
	DevFeeRateBPS     uint32        `json:"dev_fee_rate_bps"`
	FundingInterval   time.Duration `json:"funding_interval"`
	MinProfitDuration time.Duration `json:"min_profit_duration"`
	// MinPositionSizeE30 is the smallest nonzero remainder a decrease may leave.
	MinPositionSizeE30 sdkmath.Int `json:"min_position_size_e30"`
}

// LiquidityConfig holds PLP utilisation parameters.
type LiquidityConfig struct {
	MaxPLPUtilizationBPS uint32 `json:"max_plp_utilization_bps"`
	PLPSafetyBufferBPS   uint32 `json:"plp_safety_buffer_bps"`
}

// LiquidationConfig holds liquidation parameters.
type LiquidationConfig struct {
	LiquidationFeeUSDE30 sdkmath.Int `json:"liquidation_fee_usd_e30"`
}
