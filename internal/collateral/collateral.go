// Package collateral values trader collateral and moves it between trader
// balances and protocol pools.
//
// Values cross between token units and USD E30 at the oracle min price.
// Every transfer walks an ordered token list; the order is load-bearing
// because it decides which token is drained first and which absorbs
// rounding.
package collateral

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/perp-engine/internal/config"
	"github.com/atmx/perp-engine/internal/fixed"
	"github.com/atmx/perp-engine/internal/model"
	"github.com/atmx/perp-engine/internal/oracle"
	"github.com/atmx/perp-engine/internal/store"
)

// Valuer converts between token amounts and USD.
type Valuer struct {
	cfg    config.Provider
	oracle oracle.Oracle
}

// NewValuer creates a Valuer.
func NewValuer(cfg config.Provider, o oracle.Oracle) *Valuer {
	return &Valuer{cfg: cfg, oracle: o}
}

// Price returns the token's configuration and its USD min price, honouring
// the override.
func (v *Valuer) Price(token common.Address, ov oracle.Override) (model.CollateralTokenConfig, sdkmath.Int, error) {
	tc, err := v.cfg.CollateralToken(token)
	if err != nil {
		return model.CollateralTokenConfig{}, sdkmath.Int{}, err
	}
	if p, ok := ov.Price(tc.AssetID); ok {
		return tc, p, nil
	}
	q, err := v.oracle.LatestPrice(tc.AssetID, false)
	if err != nil {
		return model.CollateralTokenConfig{}, sdkmath.Int{}, fmt.Errorf("price %s: %w", tc.AssetID, err)
	}
	return tc, q.PriceE30, nil
}

// ValueE30 returns the USD value of amount units of token.
func (v *Valuer) ValueE30(token common.Address, amount sdkmath.Int) (sdkmath.Int, error) {
	tc, price, err := v.Price(token, oracle.NoOverride)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return fixed.TokenToE30(amount, tc.Decimals, price), nil
}

// Amount returns the number of token units worth valueE30.
func (v *Valuer) Amount(token common.Address, valueE30 sdkmath.Int) (sdkmath.Int, error) {
	tc, price, err := v.Price(token, oracle.NoOverride)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return fixed.E30ToToken(valueE30, tc.Decimals, price), nil
}

// CollateralValue returns the margin value of a sub-account's collateral:
// each token's USD value scaled by its collateral factor.
func (v *Valuer) CollateralValue(tx *store.Tx, sub common.Address, ov oracle.Override) (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for _, tb := range tx.TraderBalances(sub) {
		tc, price, err := v.Price(tb.Token, ov)
		if err != nil {
			return sdkmath.Int{}, err
		}
		value := fixed.TokenToE30(tb.Amount, tc.Decimals, price)
		total = total.Add(fixed.ApplyBPS(value, tc.CollateralFactorBPS))
	}
	return total, nil
}

// PLPTVL returns the USD value of the liquidity pool.
func (v *Valuer) PLPTVL(tx *store.Tx) (sdkmath.Int, error) {
	total := sdkmath.ZeroInt()
	for _, token := range v.cfg.PLPTokens() {
		bal := tx.PoolBalance(model.PoolPLP, token)
		if bal.IsZero() {
			continue
		}
		value, err := v.ValueE30(token, bal)
		if err != nil {
			return sdkmath.Int{}, err
		}
		total = total.Add(value)
	}
	return total, nil
}
