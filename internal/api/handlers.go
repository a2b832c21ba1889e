package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/perp-engine/internal/fixed"
	"github.com/atmx/perp-engine/internal/model"
	"github.com/atmx/perp-engine/internal/oracle"
	"github.com/atmx/perp-engine/internal/store"
	"github.com/atmx/perp-engine/internal/trade"
)

// --- Positions ---

// IncreasePosition handles POST /api/v1/positions/increase
func (s *Service) IncreasePosition(w http.ResponseWriter, r *http.Request) {
	var req IncreaseRequest
	if !decode(w, r, &req) {
		return
	}
	receipt, err := s.Trade.IncreasePosition(r.Context(), trade.IncreaseRequest{
		Executor:      req.Executor,
		Primary:       req.Primary,
		SubAccountID:  req.SubAccountID,
		MarketIndex:   req.MarketIndex,
		SizeDeltaE30:  e30(req.SizeDelta),
		LimitPriceE30: e30(req.LimitPrice),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse(receipt))
}

// DecreasePosition handles POST /api/v1/positions/decrease
func (s *Service) DecreasePosition(w http.ResponseWriter, r *http.Request) {
	var req DecreaseRequest
	if !decode(w, r, &req) {
		return
	}
	receipt, err := s.Trade.DecreasePosition(r.Context(), trade.DecreaseRequest{
		Executor:      req.Executor,
		Primary:       req.Primary,
		SubAccountID:  req.SubAccountID,
		MarketIndex:   req.MarketIndex,
		SizeE30:       e30(req.Size),
		TPToken:       req.TPToken,
		LimitPriceE30: e30(req.LimitPrice),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse(receipt))
}

// ForceClosePosition handles POST /api/v1/positions/force-close
func (s *Service) ForceClosePosition(w http.ResponseWriter, r *http.Request) {
	var req trade.CloseRequest
	if !decode(w, r, &req) {
		return
	}
	receipt, err := s.Trade.ForceClosePosition(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse(receipt))
}

// Deleverage handles POST /api/v1/positions/deleverage
func (s *Service) Deleverage(w http.ResponseWriter, r *http.Request) {
	var req trade.CloseRequest
	if !decode(w, r, &req) {
		return
	}
	receipt, err := s.Trade.Deleverage(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse(receipt))
}

// Liquidate handles POST /api/v1/liquidate
func (s *Service) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.Liquidation.Liquidate(r.Context(), req.Executor, req.SubAccount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	ids := make([]string, 0, len(res.Positions))
	for _, id := range res.Positions {
		ids = append(ids, id.Hex())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":             res.ID.String(),
		"sub_account":    res.SubAccount.Hex(),
		"positions":      ids,
		"equity":         usd(res.EquityE30),
		"mmr":            usd(res.MMRE30),
		"unrealized_pnl": usd(res.UnrealizedPnlE30),
		"debt":           usd(res.DebtE30),
		"paid_out":       usd(res.PaidOutE30),
		"bad_debt":       usd(res.BadDebtE30),
	})
}

// --- Collateral and liquidity ---

// Deposit handles POST /api/v1/deposits
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	s.transfer(w, r, false)
}

// AddLiquidity handles POST /api/v1/liquidity
func (s *Service) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	s.transfer(w, r, true)
}

func (s *Service) transfer(w http.ResponseWriter, r *http.Request, toPLP bool) {
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	if err := s.Config.ValidateServiceExecutor(req.Executor); err != nil {
		writeEngineError(w, err)
		return
	}
	tc, err := s.Config.CollateralToken(req.Token)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	amount := fixed.FromDecimal(req.Amount, int32(tc.Decimals))

	err = s.Ledger.Update(r.Context(), func(tx *store.Tx) error {
		if toPLP {
			return tx.AddPool(model.PoolPLP, req.Token, amount)
		}
		return s.Waterfall.Deposit(tx, req.SubAccount, req.Token, amount)
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":  req.Token.Hex(),
		"amount": req.Amount,
	})
}

// --- Prices ---

// SetPrice handles POST /api/v1/prices
func (s *Service) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Config.ValidateServiceExecutor(req.Executor); err != nil {
		writeEngineError(w, err)
		return
	}
	status := model.MarketStatusOpen
	switch strings.ToLower(req.Status) {
	case "", "open":
	case "closed":
		status = model.MarketStatusClosed
	default:
		writeError(w, "status must be open or closed", http.StatusBadRequest)
		return
	}
	if err := s.Prices.SetPrice(req.AssetID, e30(req.Price), req.ConfidenceBPS, status, s.now()); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset_id": req.AssetID, "price": req.Price})
}

// GetPrice handles GET /api/v1/prices/{asset}
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	q, err := s.Prices.LatestPrice(asset, false)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset_id":   asset,
		"price":      usd(q.PriceE30),
		"status":     q.Status.String(),
		"updated_at": q.UpdatedAt,
	})
}

// --- Views ---

// GetAccount handles GET /api/v1/accounts/{sub}
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	sub, ok := subAccountParam(w, r)
	if !ok {
		return
	}
	var view AccountView
	err := s.Ledger.View(r.Context(), func(tx *store.Tx) error {
		acc, err := s.Calculator.GetAccount(tx, sub, oracle.NoOverride)
		if err != nil {
			return err
		}
		view = AccountView{
			SubAccount:     sub.Hex(),
			Collateral:     usd(acc.Collateral),
			UnrealizedPnL:  usd(acc.UnrealizedPnl),
			UnrealizedFee:  usd(acc.UnrealizedFee),
			BadDebt:        usd(acc.BadDebt),
			Equity:         usd(acc.Equity),
			IMR:            usd(acc.IMR),
			MMR:            usd(acc.MMR),
			FreeCollateral: usd(acc.FreeCollateral),
			Healthy:        acc.Healthy(),
		}
		return nil
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetEquity handles GET /api/v1/accounts/{sub}/equity
func (s *Service) GetEquity(w http.ResponseWriter, r *http.Request) {
	s.accountFigure(w, r, "equity", func(tx *store.Tx, v *accountFigure) error {
		eq, err := s.Calculator.GetEquity(tx, v.sub, oracle.NoOverride)
		v.value = eq
		return err
	})
}

// GetMMR handles GET /api/v1/accounts/{sub}/mmr
func (s *Service) GetMMR(w http.ResponseWriter, r *http.Request) {
	s.accountFigure(w, r, "mmr", func(tx *store.Tx, v *accountFigure) error {
		mmr, err := s.Calculator.GetMMR(tx, v.sub)
		v.value = mmr
		return err
	})
}

// GetFreeCollateral handles GET /api/v1/accounts/{sub}/free-collateral
func (s *Service) GetFreeCollateral(w http.ResponseWriter, r *http.Request) {
	s.accountFigure(w, r, "free_collateral", func(tx *store.Tx, v *accountFigure) error {
		free, err := s.Calculator.GetFreeCollateral(tx, v.sub, oracle.NoOverride)
		v.value = free
		return err
	})
}

// GetPositions handles GET /api/v1/accounts/{sub}/positions
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	sub, ok := subAccountParam(w, r)
	if !ok {
		return
	}
	positions := []PositionView{}
	err := s.Ledger.View(r.Context(), func(tx *store.Tx) error {
		for _, id := range tx.PositionIDs(sub) {
			positions = append(positions, positionView(id, tx.Position(id)))
		}
		return nil
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetMarket handles GET /api/v1/markets/{index}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	idx, ok := indexParam(w, r, 64)
	if !ok {
		return
	}
	mc, err := s.Config.MarketConfig(idx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	var m model.Market
	if err := s.Ledger.View(r.Context(), func(tx *store.Tx) error {
		m = tx.Market(idx)
		return nil
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"index":                idx,
		"asset_id":             mc.AssetID,
		"active":               mc.Active,
		"long_size":            usd(m.LongPositionSize),
		"long_avg_price":       usd(m.LongAvgPrice),
		"short_size":           usd(m.ShortPositionSize),
		"short_avg_price":      usd(m.ShortAvgPrice),
		"long_open_interest":   usd(m.LongOpenInterest),
		"short_open_interest":  usd(m.ShortOpenInterest),
		"current_funding_rate": rate(m.CurrentFundingRate),
		"last_funding_time":    m.LastFundingTime,
	})
}

// GetAssetClass handles GET /api/v1/asset-classes/{index}
func (s *Service) GetAssetClass(w http.ResponseWriter, r *http.Request) {
	idx, ok := indexParam(w, r, 8)
	if !ok {
		return
	}
	var ac model.AssetClass
	if err := s.Ledger.View(r.Context(), func(tx *store.Tx) error {
		ac = tx.AssetClass(uint8(idx))
		return nil
	}); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"index":               idx,
		"reserve_value":       usd(ac.ReserveValueE30),
		"sum_borrowing_rate":  rate(ac.SumBorrowingRate),
		"last_borrowing_time": ac.LastBorrowingTime,
	})
}

// GetGlobal handles GET /api/v1/global
func (s *Service) GetGlobal(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	err := s.Ledger.View(r.Context(), func(tx *store.Tx) error {
		tvl, err := s.Calculator.PLPTVL(tx)
		if err != nil {
			return err
		}
		aum, err := s.Calculator.GetAUM(tx)
		if err != nil {
			return err
		}
		unhealthy, err := s.Calculator.PLPUnhealthy(tx)
		if err != nil {
			return err
		}
		out["reserve_value"] = usd(tx.GlobalState().ReserveValueE30)
		out["plp_tvl"] = usd(tvl)
		out["plp_aum"] = usd(aum)
		out["plp_healthy"] = !unhealthy
		return nil
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
