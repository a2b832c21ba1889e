package liquidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/perp-engine/internal/store"
)

// Keeper periodically scans sub-accounts with open positions and
// liquidates the unhealthy ones.
type Keeper struct {
	engine   *Engine
	ledger   *store.Ledger
	executor common.Address
	interval time.Duration
}

// NewKeeper creates a keeper acting as executor.
func NewKeeper(engine *Engine, ledger *store.Ledger, executor common.Address, interval time.Duration) *Keeper {
	return &Keeper{engine: engine, ledger: ledger, executor: executor, interval: interval}
}

// Run sweeps every interval until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	if k.interval <= 0 {
		return fmt.Errorf("liquidation keeper: interval must be positive, got %s", k.interval)
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	slog.Info("liquidation keeper started", "interval", k.interval.String(), "executor", k.executor.Hex())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := k.Sweep(ctx); err != nil {
				slog.Error("liquidation sweep failed", "err", err)
			}
		}
	}
}

// Sweep makes one pass over all sub-accounts and returns the liquidations
// it committed. A failure on one account is logged and does not stop the
// pass.
func (k *Keeper) Sweep(ctx context.Context) ([]Result, error) {
	subs, err := k.ledger.SubAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var out []Result
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := k.engine.Liquidate(ctx, k.executor, sub)
		switch {
		case err == nil:
			out = append(out, res)
		case errors.Is(err, ErrAccountHealthy):
		default:
			slog.Error("liquidation failed", "sub_account", sub.Hex(), "err", err)
		}
	}
	return out, nil
}
