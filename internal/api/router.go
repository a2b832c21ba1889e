package api

import (
	"net/http"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/perp-engine/internal/metrics"
	"github.com/atmx/perp-engine/internal/store"
)

// NewRouter mounts the service routes, /health and /metrics.
func NewRouter(s *Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"perp-engine"}`))
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.Hub != nil {
			r.Get("/ws", s.Hub.HandleWS)
		}

		r.Post("/positions/increase", s.IncreasePosition)
		r.Post("/positions/decrease", s.DecreasePosition)
		r.Post("/positions/force-close", s.ForceClosePosition)
		r.Post("/positions/deleverage", s.Deleverage)
		r.Post("/liquidate", s.Liquidate)

		r.Post("/deposits", s.Deposit)
		r.Post("/liquidity", s.AddLiquidity)

		r.Post("/prices", s.SetPrice)
		r.Get("/prices/{asset}", s.GetPrice)

		r.Route("/accounts/{sub}", func(r chi.Router) {
			r.Get("/", s.GetAccount)
			r.Get("/equity", s.GetEquity)
			r.Get("/mmr", s.GetMMR)
			r.Get("/free-collateral", s.GetFreeCollateral)
			r.Get("/positions", s.GetPositions)
		})

		r.Get("/markets/{index}", s.GetMarket)
		r.Get("/asset-classes/{index}", s.GetAssetClass)
		r.Get("/global", s.GetGlobal)
	})
	return r
}

type accountFigure struct {
	sub   common.Address
	value sdkmath.Int
}

// accountFigure serves one margin figure of the {sub} sub-account as
// {"sub_account": ..., name: ...}.
func (s *Service) accountFigure(w http.ResponseWriter, r *http.Request, name string, fn func(tx *store.Tx, v *accountFigure) error) {
	sub, ok := subAccountParam(w, r)
	if !ok {
		return
	}
	v := &accountFigure{sub: sub}
	if err := s.Ledger.View(r.Context(), func(tx *store.Tx) error { return fn(tx, v) }); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sub_account": sub.Hex(),
		name:          usd(v.value),
	})
}
