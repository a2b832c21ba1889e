package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/perp-engine/internal/api"
	"github.com/atmx/perp-engine/internal/collateral"
	"github.com/atmx/perp-engine/internal/config"
	"github.com/atmx/perp-engine/internal/fee"
	"github.com/atmx/perp-engine/internal/liquidation"
	"github.com/atmx/perp-engine/internal/margin"
	"github.com/atmx/perp-engine/internal/oracle"
	"github.com/atmx/perp-engine/internal/store"
	"github.com/atmx/perp-engine/internal/trade"
)

func main() {
	if err := run(); err != nil {
		slog.Error("perp-engine failed", "err", err)
		os.Exit(1)
	}
}

// run owns every resource it opens, so its deferred cleanup always runs
// before main exits.
func run() error {
	cfg, err := config.LoadService()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("database migration: %w", err)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("invalid REDIS_URL: %w", err)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.RedisTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.RedisTTL.String())
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Protocol configuration ---
	registry, err := config.LoadRegistryFile(cfg.ProtocolConfig)
	if err != nil {
		return fmt.Errorf("load protocol config %s: %w", cfg.ProtocolConfig, err)
	}
	slog.Info("protocol config loaded", "path", cfg.ProtocolConfig, "markets", len(registry.Markets()))

	// --- Engines ---
	ledger := store.NewLedger(st)
	prices := oracle.NewPriceBook(cfg.MaxPriceAge)
	valuer := collateral.NewValuer(registry, prices)
	waterfall := collateral.NewWaterfall(registry, valuer)
	fees := fee.NewEngine(registry, valuer, waterfall)
	calc := margin.NewCalculator(registry, prices, valuer, fees)
	tradeEngine := trade.NewEngine(ledger, registry, prices, fees, calc)
	liqEngine := liquidation.NewEngine(ledger, registry, fees, calc, waterfall)

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	tradeEngine.AddHook(wsHub)
	prices.OnUpdate(wsHub.OnPrice)

	svc := &api.Service{
		Ledger:      ledger,
		Config:      registry,
		Prices:      prices,
		Trade:       tradeEngine,
		Liquidation: liqEngine,
		Calculator:  calc,
		Waterfall:   waterfall,
		Hub:         wsHub,
	}

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(svc),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})

	if cfg.KeeperExecutor != "" {
		if !common.IsHexAddress(cfg.KeeperExecutor) {
			return fmt.Errorf("invalid KEEPER_EXECUTOR %q", cfg.KeeperExecutor)
		}
		keeper := liquidation.NewKeeper(liqEngine, ledger, common.HexToAddress(cfg.KeeperExecutor), cfg.KeeperInterval)
		g.Go(func() error { return keeper.Run(gctx) })
	}

	g.Go(func() error {
		slog.Info("perp-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		slog.Info("shutting down perp-engine...")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("perp-engine stopped")
	return nil
}

func logLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
