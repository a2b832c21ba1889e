package config

import (
	"fmt"
	"io"
	"os"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/perp-engine/internal/fixed"
	"github.com/atmx/perp-engine/internal/model"
)

// protocolFile mirrors the YAML layout of the protocol configuration.
// USD amounts and rates are human decimals ("1500.5", "0.0001").
type protocolFile struct {
	Executors []string `yaml:"executors"`

	Trading struct {
		MaxPosition       int           `yaml:"max_position"`
		DevFeeRateBPS     uint32        `yaml:"dev_fee_rate_bps"`
		FundingInterval   time.Duration `yaml:"funding_interval"`
		MinProfitDuration time.Duration `yaml:"min_profit_duration"`
		MinPositionSize   string        `yaml:"min_position_size_usd"`
	} `yaml:"trading"`

	Liquidity struct {
		MaxPLPUtilizationBPS uint32 `yaml:"max_plp_utilization_bps"`
		PLPSafetyBufferBPS   uint32 `yaml:"plp_safety_buffer_bps"`
	} `yaml:"liquidity"`

	Liquidation struct {
		LiquidationFee string `yaml:"liquidation_fee_usd"`
	} `yaml:"liquidation"`

	AssetClasses []struct {
		Index             uint8  `yaml:"index"`
		Name              string `yaml:"name"`
		BaseBorrowingRate string `yaml:"base_borrowing_rate"`
	} `yaml:"asset_classes"`

	Markets []struct {
		Index                        uint64 `yaml:"index"`
		AssetID                      string `yaml:"asset_id"`
		AssetClass                   uint8  `yaml:"asset_class"`
		Active                       bool   `yaml:"active"`
		AllowIncreasePosition        bool   `yaml:"allow_increase_position"`
		MaxLongPositionSize          string `yaml:"max_long_size_usd"`
		MaxShortPositionSize         string `yaml:"max_short_size_usd"`
		InitialMarginFractionBPS     uint32 `yaml:"initial_margin_fraction_bps"`
		MaintenanceMarginFractionBPS uint32 `yaml:"maintenance_margin_fraction_bps"`
		MaxProfitRateBPS             uint32 `yaml:"max_profit_rate_bps"`
		IncreasePositionFeeRateBPS   uint32 `yaml:"increase_position_fee_rate_bps"`
		DecreasePositionFeeRateBPS   uint32 `yaml:"decrease_position_fee_rate_bps"`
		MaxSkewScaleUSD              string `yaml:"max_skew_scale_usd"`
		MaxFundingRate               string `yaml:"max_funding_rate"`
	} `yaml:"markets"`

	CollateralTokens []struct {
		Token               string `yaml:"token"`
		AssetID             string `yaml:"asset_id"`
		Decimals            uint8  `yaml:"decimals"`
		CollateralFactorBPS uint32 `yaml:"collateral_factor_bps"`
		Accepted            bool   `yaml:"accepted"`
	} `yaml:"collateral_tokens"`

	PLPTokens []string `yaml:"plp_tokens"`
}

// LoadRegistryFile reads a YAML protocol configuration from path.
func LoadRegistryFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open protocol config: %w", err)
	}
	defer f.Close()
	return LoadRegistry(f)
}

// LoadRegistry decodes a YAML protocol configuration.
func LoadRegistry(r io.Reader) (*Registry, error) {
	var pf protocolFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("decode protocol config: %w", err)
	}

	reg := NewRegistry()

	for _, e := range pf.Executors {
		addr, err := parseAddress(e)
		if err != nil {
			return nil, fmt.Errorf("executor: %w", err)
		}
		reg.AddExecutor(addr)
	}

	minSize, err := parseUSD(pf.Trading.MinPositionSize, "1")
	if err != nil {
		return nil, fmt.Errorf("trading.min_position_size_usd: %w", err)
	}
	reg.SetTradingConfig(model.TradingConfig{
		MaxPosition:        pf.Trading.MaxPosition,
		DevFeeRateBPS:      pf.Trading.DevFeeRateBPS,
		FundingInterval:    pf.Trading.FundingInterval,
		MinProfitDuration:  pf.Trading.MinProfitDuration,
		MinPositionSizeE30: minSize,
	})

	reg.SetLiquidityConfig(model.LiquidityConfig{
		MaxPLPUtilizationBPS: pf.Liquidity.MaxPLPUtilizationBPS,
		PLPSafetyBufferBPS:   pf.Liquidity.PLPSafetyBufferBPS,
	})

	liqFee, err := parseUSD(pf.Liquidation.LiquidationFee, "0")
	if err != nil {
		return nil, fmt.Errorf("liquidation.liquidation_fee_usd: %w", err)
	}
	reg.SetLiquidationConfig(model.LiquidationConfig{LiquidationFeeUSDE30: liqFee})

	for _, ac := range pf.AssetClasses {
		rate, err := parseRate(ac.BaseBorrowingRate)
		if err != nil {
			return nil, fmt.Errorf("asset class %d: base_borrowing_rate: %w", ac.Index, err)
		}
		reg.SetAssetClass(ac.Index, model.AssetClassConfig{Name: ac.Name, BaseBorrowingRate: rate})
	}

	for _, m := range pf.Markets {
		maxLong, err := parseUSD(m.MaxLongPositionSize, "0")
		if err != nil {
			return nil, fmt.Errorf("market %d: max_long_size_usd: %w", m.Index, err)
		}
		maxShort, err := parseUSD(m.MaxShortPositionSize, "0")
		if err != nil {
			return nil, fmt.Errorf("market %d: max_short_size_usd: %w", m.Index, err)
		}
		skewScale, err := parseUSD(m.MaxSkewScaleUSD, "0")
		if err != nil {
			return nil, fmt.Errorf("market %d: max_skew_scale_usd: %w", m.Index, err)
		}
		maxFunding, err := parseRate(m.MaxFundingRate)
		if err != nil {
			return nil, fmt.Errorf("market %d: max_funding_rate: %w", m.Index, err)
		}
		if _, ok := reg.assetClasses[m.AssetClass]; !ok {
			return nil, fmt.Errorf("market %d: %w: %d", m.Index, ErrUnknownAssetClass, m.AssetClass)
		}
		reg.SetMarket(m.Index, model.MarketConfig{
			AssetID:                      m.AssetID,
			AssetClass:                   m.AssetClass,
			Active:                       m.Active,
			AllowIncreasePosition:        m.AllowIncreasePosition,
			MaxLongPositionSize:          maxLong,
			MaxShortPositionSize:         maxShort,
			InitialMarginFractionBPS:     m.InitialMarginFractionBPS,
			MaintenanceMarginFractionBPS: m.MaintenanceMarginFractionBPS,
			MaxProfitRateBPS:             m.MaxProfitRateBPS,
			IncreasePositionFeeRateBPS:   m.IncreasePositionFeeRateBPS,
			DecreasePositionFeeRateBPS:   m.DecreasePositionFeeRateBPS,
			MaxSkewScaleUSD:              skewScale,
			MaxFundingRate:               maxFunding,
		})
	}

	for _, t := range pf.CollateralTokens {
		addr, err := parseAddress(t.Token)
		if err != nil {
			return nil, fmt.Errorf("collateral token %s: %w", t.AssetID, err)
		}
		if t.CollateralFactorBPS > fixed.BPSDenom {
			return nil, fmt.Errorf("collateral token %s: collateral factor %d above %d", t.AssetID, t.CollateralFactorBPS, fixed.BPSDenom)
		}
		reg.AddCollateralToken(model.CollateralTokenConfig{
			Token:               addr,
			AssetID:             t.AssetID,
			Decimals:            t.Decimals,
			CollateralFactorBPS: t.CollateralFactorBPS,
			Accepted:            t.Accepted,
		})
	}

	plp := make([]common.Address, 0, len(pf.PLPTokens))
	for _, t := range pf.PLPTokens {
		addr, err := parseAddress(t)
		if err != nil {
			return nil, fmt.Errorf("plp token: %w", err)
		}
		if _, ok := reg.tokens[addr]; !ok {
			return nil, fmt.Errorf("plp token: %w: %s", ErrUnknownToken, addr.Hex())
		}
		plp = append(plp, addr)
	}
	reg.SetPLPTokens(plp)

	return reg, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseUSD(s, fallback string) (sdkmath.Int, error) {
	if s == "" {
		s = fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if d.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("negative amount %s", s)
	}
	return fixed.FromDecimal(d, fixed.USDDecimals), nil
}

func parseRate(s string) (sdkmath.Int, error) {
	if s == "" {
		return sdkmath.ZeroInt(), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return fixed.FromDecimal(d, fixed.RateDecimals), nil
}
