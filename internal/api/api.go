// Package api exposes the engines over HTTP.
//
// Amounts cross the wire as human decimals (shopspring/decimal): USD
// values in dollars, token amounts in whole tokens. They are scaled to the
// engine's fixed-point integers at the edge.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/perp-engine/internal/collateral"
	"github.com/atmx/perp-engine/internal/config"
	"github.com/atmx/perp-engine/internal/fixed"
	"github.com/atmx/perp-engine/internal/liquidation"
	"github.com/atmx/perp-engine/internal/margin"
	"github.com/atmx/perp-engine/internal/model"
	"github.com/atmx/perp-engine/internal/oracle"
	"github.com/atmx/perp-engine/internal/store"
	"github.com/atmx/perp-engine/internal/trade"
)

// Service bundles what the handlers need.
type Service struct {
	Ledger      *store.Ledger
	Config      config.Provider
	Prices      *oracle.PriceBook
	Trade       *trade.Engine
	Liquidation *liquidation.Engine
	Calculator  *margin.Calculator
	Waterfall   *collateral.Waterfall
	Hub         *trade.WSHub

	// Now stamps pushed prices. Defaults to time.Now.
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// --- Request/Response types ---

// IncreaseRequest is the JSON body for POST /positions/increase.
type IncreaseRequest struct {
	Executor     common.Address  `json:"executor"`
	Primary      common.Address  `json:"primary_account"`
	SubAccountID uint8           `json:"sub_account_id"`
	MarketIndex  uint64          `json:"market_index"`
	SizeDelta    decimal.Decimal `json:"size_delta"`  // USD, negative sells
	LimitPrice   decimal.Decimal `json:"limit_price"` // 0 trades at the oracle price
}

// DecreaseRequest is the JSON body for POST /positions/decrease.
type DecreaseRequest struct {
	Executor     common.Address  `json:"executor"`
	Primary      common.Address  `json:"primary_account"`
	SubAccountID uint8           `json:"sub_account_id"`
	MarketIndex  uint64          `json:"market_index"`
	Size         decimal.Decimal `json:"size"`
	TPToken      common.Address  `json:"tp_token"`
	LimitPrice   decimal.Decimal `json:"limit_price"`
}

// LiquidateRequest is the JSON body for POST /liquidate.
type LiquidateRequest struct {
	Executor   common.Address `json:"executor"`
	SubAccount common.Address `json:"sub_account"`
}

// TransferRequest is the JSON body for deposits and liquidity seeding.
type TransferRequest struct {
	Executor   common.Address  `json:"executor"`
	SubAccount common.Address  `json:"sub_account,omitempty"`
	Token      common.Address  `json:"token"`
	Amount     decimal.Decimal `json:"amount"`
}

// PriceRequest is the JSON body for POST /prices.
type PriceRequest struct {
	Executor      common.Address  `json:"executor"`
	AssetID       string          `json:"asset_id"`
	Price         decimal.Decimal `json:"price"`
	ConfidenceBPS uint32          `json:"confidence_bps"`
	Status        string          `json:"status"` // "open" (default) or "closed"
}

// ReceiptResponse is returned by every position operation.
type ReceiptResponse struct {
	ID          string          `json:"id"`
	Op          trade.Op        `json:"op"`
	SubAccount  string          `json:"sub_account"`
	MarketIndex uint64          `json:"market_index"`
	PositionID  string          `json:"position_id"`
	SizeDelta   decimal.Decimal `json:"size_delta"`
	Price       decimal.Decimal `json:"price"`
	TradingFee  decimal.Decimal `json:"trading_fee"`
	BorrowFee   decimal.Decimal `json:"borrowing_fee"`
	FundingFee  decimal.Decimal `json:"funding_fee"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	BadDebt     decimal.Decimal `json:"bad_debt"`
	IsMaxProfit bool            `json:"is_max_profit"`
	Position    PositionView    `json:"position"`
}

// PositionView is a position in USD decimals.
type PositionView struct {
	ID                    string          `json:"id,omitempty"`
	MarketIndex           uint64          `json:"market_index"`
	Size                  decimal.Decimal `json:"size"`
	AvgEntryPrice         decimal.Decimal `json:"avg_entry_price"`
	ReserveValue          decimal.Decimal `json:"reserve_value"`
	RealizedPnL           decimal.Decimal `json:"realized_pnl"`
	OpenInterest          decimal.Decimal `json:"open_interest"`
	LastIncreaseTimestamp int64           `json:"last_increase_timestamp"`
}

// AccountView is the margin summary of a sub-account.
type AccountView struct {
	SubAccount     string          `json:"sub_account"`
	Collateral     decimal.Decimal `json:"collateral"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedFee  decimal.Decimal `json:"unrealized_fee"`
	BadDebt        decimal.Decimal `json:"bad_debt"`
	Equity         decimal.Decimal `json:"equity"`
	IMR            decimal.Decimal `json:"imr"`
	MMR            decimal.Decimal `json:"mmr"`
	FreeCollateral decimal.Decimal `json:"free_collateral"`
	Healthy        bool            `json:"healthy"`
}

func usd(v sdkmath.Int) decimal.Decimal {
	if v.IsNil() {
		return decimal.Zero
	}
	return fixed.ToDecimal(v, fixed.USDDecimals)
}

func rate(v sdkmath.Int) decimal.Decimal {
	if v.IsNil() {
		return decimal.Zero
	}
	return fixed.ToDecimal(v, fixed.RateDecimals)
}

func e30(d decimal.Decimal) sdkmath.Int { return fixed.FromDecimal(d, fixed.USDDecimals) }

func positionView(id common.Hash, p model.Position) PositionView {
	v := PositionView{
		MarketIndex:           p.MarketIndex,
		Size:                  usd(p.SizeE30),
		AvgEntryPrice:         usd(p.AvgEntryPriceE30),
		ReserveValue:          usd(p.ReserveValueE30),
		RealizedPnL:           usd(p.RealizedPnlE30),
		OpenInterest:          usd(p.OpenInterest),
		LastIncreaseTimestamp: p.LastIncreaseTimestamp,
	}
	if id != (common.Hash{}) {
		v.ID = id.Hex()
	}
	return v
}

func receiptResponse(r trade.Receipt) ReceiptResponse {
	return ReceiptResponse{
		ID:          r.ID.String(),
		Op:          r.Op,
		SubAccount:  r.SubAccount.Hex(),
		MarketIndex: r.MarketIndex,
		PositionID:  r.PositionID.Hex(),
		SizeDelta:   usd(r.SizeDeltaE30),
		Price:       usd(r.PriceE30),
		TradingFee:  usd(r.Fees.Trading),
		BorrowFee:   usd(r.Fees.Borrowing),
		FundingFee:  usd(r.Fees.Funding),
		RealizedPnL: usd(r.RealizedPnlE30),
		BadDebt:     usd(r.BadDebtE30),
		IsMaxProfit: r.IsMaxProfit,
		Position:    positionView(common.Hash{}, r.Position),
	}
}

// --- Errors ---

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeEngineError maps an engine error to an HTTP status. Rejections
// carry their kind so clients can branch on it.
func writeEngineError(w http.ResponseWriter, err error) {
	kind := trade.Kind(err)
	if errors.Is(err, liquidation.ErrAccountHealthy) {
		kind = "AccountHealthy"
	}
	if errors.Is(err, config.ErrUnknownToken) {
		kind = "UnknownToken"
	}

	status := http.StatusConflict
	switch kind {
	case "":
		slog.Error("engine error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	case "Unauthorized":
		status = http.StatusForbidden
	case "UnknownMarket", "UnknownToken":
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func subAccountParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "sub")
	if !common.IsHexAddress(raw) {
		writeError(w, "invalid sub-account address", http.StatusBadRequest)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func indexParam(w http.ResponseWriter, r *http.Request, bits int) (uint64, bool) {
	idx, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, bits)
	if err != nil {
		writeError(w, "invalid index", http.StatusBadRequest)
		return 0, false
	}
	return idx, true
}
