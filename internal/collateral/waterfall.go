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

// Sink receives token amounts taken from a trader.
type Sink func(tx *store.Tx, token common.Address, amount sdkmath.Int) error

// ToPool returns a Sink crediting one pool.
func ToPool(kind model.PoolKind) Sink {
	return func(tx *store.Tx, token common.Address, amount sdkmath.Int) error {
		return tx.AddPool(kind, token, amount)
	}
}

// Waterfall settles USD amounts against ordered token lists.
type Waterfall struct {
	valuer *Valuer
	cfg    config.Provider
}

// NewWaterfall creates a Waterfall.
func NewWaterfall(cfg config.Provider, valuer *Valuer) *Waterfall {
	return &Waterfall{valuer: valuer, cfg: cfg}
}

// Collect takes amountE30 worth of collateral from sub, walking tokens in
// order. For each token it repays min(remaining, tokenValue); a token
// whose whole value is needed is drained completely. Collected amounts go
// to sink. The uncollected remainder is returned.
func (w *Waterfall) Collect(tx *store.Tx, sub common.Address, tokens []common.Address, amountE30 sdkmath.Int, sink Sink) (sdkmath.Int, error) {
	remaining := amountE30
	for _, token := range tokens {
		if !remaining.IsPositive() {
			break
		}
		bal := tx.TraderBalance(sub, token)
		if bal.IsZero() {
			continue
		}
		tc, price, err := w.valuer.Price(token, oracle.NoOverride)
		if err != nil {
			return sdkmath.Int{}, err
		}
		value := fixed.TokenToE30(bal, tc.Decimals, price)
		if value.IsZero() {
			continue
		}

		repay := fixed.Min(remaining, value)
		amount := bal
		if repay.LT(value) {
			amount = fixed.E30ToToken(repay, tc.Decimals, price)
		}
		if amount.IsPositive() {
			if err := tx.DecreaseTraderBalance(sub, token, amount); err != nil {
				return sdkmath.Int{}, err
			}
			if err := sink(tx, token, amount); err != nil {
				return sdkmath.Int{}, err
			}
		}
		remaining = remaining.Sub(repay)
	}
	if remaining.IsNegative() {
		remaining = sdkmath.ZeroInt()
	}
	return remaining, nil
}

// CollectFromHeld runs Collect over the sub-account's own tokens in
// registration order.
func (w *Waterfall) CollectFromHeld(tx *store.Tx, sub common.Address, amountE30 sdkmath.Int, sink Sink) (sdkmath.Int, error) {
	return w.Collect(tx, sub, tx.TraderTokens(sub), amountE30, sink)
}

// Pay credits amountE30 to sub out of the given pools. The take-profit
// token is tried first when set, then the liquidity tokens in settlement
// order. Pools are drained in the order given. The unpaid remainder is
// returned.
func (w *Waterfall) Pay(tx *store.Tx, sub common.Address, amountE30 sdkmath.Int, tpToken common.Address, pools ...model.PoolKind) (sdkmath.Int, error) {
	tokens := w.payoutTokens(tpToken)
	remaining := amountE30

	for _, pool := range pools {
		for _, token := range tokens {
			if !remaining.IsPositive() {
				return sdkmath.ZeroInt(), nil
			}
			avail := tx.PoolBalance(pool, token)
			if avail.IsZero() {
				continue
			}
			tc, price, err := w.valuer.Price(token, oracle.NoOverride)
			if err != nil {
				return sdkmath.Int{}, err
			}
			value := fixed.TokenToE30(avail, tc.Decimals, price)
			if value.IsZero() {
				continue
			}

			pay := fixed.Min(remaining, value)
			amount := avail
			if pay.LT(value) {
				amount = fixed.E30ToToken(pay, tc.Decimals, price)
			}
			if amount.IsPositive() {
				if err := tx.SubPool(pool, token, amount); err != nil {
					return sdkmath.Int{}, err
				}
				if err := tx.IncreaseTraderBalance(sub, token, amount); err != nil {
					return sdkmath.Int{}, err
				}
			}
			remaining = remaining.Sub(pay)
		}
	}
	if remaining.IsNegative() {
		remaining = sdkmath.ZeroInt()
	}
	return remaining, nil
}

func (w *Waterfall) payoutTokens(tpToken common.Address) []common.Address {
	plp := w.cfg.PLPTokens()
	if tpToken == (common.Address{}) {
		return plp
	}
	if _, err := w.cfg.CollateralToken(tpToken); err != nil {
		return plp
	}
	out := make([]common.Address, 0, len(plp)+1)
	out = append(out, tpToken)
	for _, t := range plp {
		if t != tpToken {
			out = append(out, t)
		}
	}
	return out
}

// Deposit credits a trader balance after checking the token is accepted.
func (w *Waterfall) Deposit(tx *store.Tx, sub, token common.Address, amount sdkmath.Int) error {
	tc, err := w.cfg.CollateralToken(token)
	if err != nil {
		return err
	}
	if !tc.Accepted {
		return fmt.Errorf("%w: %s not accepted", config.ErrUnknownToken, token.Hex())
	}
	return tx.IncreaseTraderBalance(sub, token, amount)
}
