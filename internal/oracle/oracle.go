// Package oracle supplies spot and skew-adjusted prices per asset.
package oracle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/atmx/perp-engine/internal/fixed"
	"github.com/atmx/perp-engine/internal/model"
	"github.com/atmx/perp-engine/internal/pricing"
)

var (
	ErrPriceNotFound = errors.New("oracle: price not found")
	ErrPriceStale    = errors.New("oracle: price is stale")
	ErrInvalidPrice  = errors.New("oracle: price must be positive")
)

// Oracle is the price source consumed by the engines.
type Oracle interface {
	// LatestPrice returns the spot price. useMax selects the upper edge of
	// the confidence band, otherwise the lower edge.
	LatestPrice(assetID string, useMax bool) (model.PriceQuote, error)

	// LatestAdaptivePriceWithMarketStatus returns the price of a trade of
	// sizeDelta against marketSkew. A nonzero limitPrice replaces the
	// oracle price as the base of the premium.
	LatestAdaptivePriceWithMarketStatus(
		assetID string,
		useMax bool,
		marketSkew, sizeDelta, maxSkewScaleUSD, limitPrice sdkmath.Int,
	) (model.PriceQuote, error)
}

type entry struct {
	price         sdkmath.Int
	confidenceBPS uint32
	status        model.MarketStatus
	updatedAt     time.Time
}

// Listener is notified after every price update.
type Listener func(assetID string, quote model.PriceQuote)

// PriceBook is an in-memory Oracle fed by pushed prices.
type PriceBook struct {
	mu        sync.RWMutex
	entries   map[string]entry
	maxAge    time.Duration
	now       func() time.Time
	listeners []Listener
}

// NewPriceBook creates a price book. A zero maxAge disables staleness checks.
func NewPriceBook(maxAge time.Duration) *PriceBook {
	return &PriceBook{
		entries: make(map[string]entry),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// SetClock overrides the clock used for staleness checks.
func (b *PriceBook) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// OnUpdate registers a listener. Listeners run synchronously after the
// book is updated and must not block.
func (b *PriceBook) OnUpdate(fn Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// SetPrice records a mid price with a symmetric confidence band of
// confidenceBPS around it.
func (b *PriceBook) SetPrice(assetID string, priceE30 sdkmath.Int, confidenceBPS uint32, status model.MarketStatus, at time.Time) error {
	if priceE30.IsNil() || !priceE30.IsPositive() || !fixed.InRange(priceE30) {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, assetID)
	}
	if confidenceBPS >= fixed.BPSDenom {
		return fmt.Errorf("%w: confidence %d bps for %s", ErrInvalidPrice, confidenceBPS, assetID)
	}

	b.mu.Lock()
	b.entries[assetID] = entry{
		price:         priceE30,
		confidenceBPS: confidenceBPS,
		status:        status,
		updatedAt:     at,
	}
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.Unlock()

	q := model.PriceQuote{PriceE30: priceE30, UpdatedAt: at, Status: status}
	for _, fn := range listeners {
		fn(assetID, q)
	}
	return nil
}

// SetStatus changes the market status of an asset without touching its price.
func (b *PriceBook) SetStatus(assetID string, status model.MarketStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[assetID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPriceNotFound, assetID)
	}
	e.status = status
	b.entries[assetID] = e
	return nil
}

// Assets returns every asset with a recorded price.
func (b *PriceBook) Assets() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.entries))
	for id := range b.entries {
		out = append(out, id)
	}
	return out
}

func (b *PriceBook) lookup(assetID string) (entry, error) {
	b.mu.RLock()
	e, ok := b.entries[assetID]
	maxAge, now := b.maxAge, b.now
	b.mu.RUnlock()

	if !ok {
		return entry{}, fmt.Errorf("%w: %s", ErrPriceNotFound, assetID)
	}
	if maxAge > 0 && now().Sub(e.updatedAt) > maxAge {
		return entry{}, fmt.Errorf("%w: %s updated at %s", ErrPriceStale, assetID, e.updatedAt.Format(time.RFC3339))
	}
	return e, nil
}

func (e entry) edge(useMax bool) sdkmath.Int {
	spread := fixed.ApplyBPS(e.price, e.confidenceBPS)
	if useMax {
		return e.price.Add(spread)
	}
	return e.price.Sub(spread)
}

func (b *PriceBook) LatestPrice(assetID string, useMax bool) (model.PriceQuote, error) {
	e, err := b.lookup(assetID)
	if err != nil {
		return model.PriceQuote{}, err
	}
	return model.PriceQuote{PriceE30: e.edge(useMax), UpdatedAt: e.updatedAt, Status: e.status}, nil
}

func (b *PriceBook) LatestAdaptivePriceWithMarketStatus(
	assetID string,
	useMax bool,
	marketSkew, sizeDelta, maxSkewScaleUSD, limitPrice sdkmath.Int,
) (model.PriceQuote, error) {
	e, err := b.lookup(assetID)
	if err != nil {
		return model.PriceQuote{}, err
	}

	base := e.edge(useMax)
	if !limitPrice.IsNil() && !limitPrice.IsZero() {
		base = limitPrice
	}

	sm, err := pricing.NewSkewModel(maxSkewScaleUSD)
	if err != nil {
		return model.PriceQuote{}, err
	}
	price, err := sm.AdaptivePrice(base, marketSkew, sizeDelta)
	if err != nil {
		return model.PriceQuote{}, fmt.Errorf("adaptive price %s: %w", assetID, err)
	}
	return model.PriceQuote{PriceE30: price, UpdatedAt: e.updatedAt, Status: e.status}, nil
}

// Override substitutes a caller-supplied price for one asset, letting a
// trade evaluate margin at the price it is about to execute at.
type Override struct {
	AssetID  string
	PriceE30 sdkmath.Int
}

// NoOverride leaves every oracle price in place.
var NoOverride = Override{}

// Price returns the override price for assetID, if any.
func (o Override) Price(assetID string) (sdkmath.Int, bool) {
	if o.AssetID == "" || o.AssetID != assetID || o.PriceE30.IsNil() || o.PriceE30.IsZero() {
		return sdkmath.Int{}, false
	}
	return o.PriceE30, true
}
