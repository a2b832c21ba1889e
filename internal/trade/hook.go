package trade

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atmx/perp-engine/internal/metrics"
)

// Hook observes committed trades. Hooks run after the ledger commit, one
// after another, on the caller's goroutine. A failing or panicking hook is
// logged and skipped; it never affects the trade or the other hooks.
type Hook interface {
	Name() string
	OnTrade(ctx context.Context, r Receipt) error
}

// HookFunc adapts a function to Hook.
type HookFunc struct {
	HookName string
	Fn       func(ctx context.Context, r Receipt) error
}

func (h HookFunc) Name() string { return h.HookName }

func (h HookFunc) OnTrade(ctx context.Context, r Receipt) error { return h.Fn(ctx, r) }

func (e *Engine) runHooks(ctx context.Context, r Receipt) {
	e.hookMu.RLock()
	hooks := append([]Hook(nil), e.hooks...)
	e.hookMu.RUnlock()

	for _, h := range hooks {
		if err := callHook(ctx, h, r); err != nil {
			metrics.HookFailures.WithLabelValues(h.Name()).Inc()
			slog.Error("trade hook failed",
				"hook", h.Name(),
				"receipt", r.ID.String(),
				"op", string(r.Op),
				"err", err,
			)
		}
	}
}

func callHook(ctx context.Context, h Hook, r Receipt) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h.OnTrade(ctx, r)
}
