package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/perp-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Only the hot aggregate records are cached: positions, markets, asset
// classes and the global state. Balances and pools always hit the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (invalidate cache, write to primary) ---

// Apply drops the cached copies of every record in cs and then writes cs
// to the primary. A failed invalidation aborts the write, so a committed
// change never sits behind a stale cache entry. Ledger holds its write
// lock across Apply, so no reader can refill the cache in between.
func (s *CachedStore) Apply(ctx context.Context, cs *ChangeSet) error {
	if keys := cacheKeys(cs); len(keys) > 0 {
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			slog.Error("cache invalidation failed", "keys", len(keys), "err", err)
			return fmt.Errorf("invalidate cache: %w", err)
		}
	}
	return s.primary.Apply(ctx, cs)
}

func cacheKeys(cs *ChangeSet) []string {
	keys := make([]string, 0, len(cs.Positions)+len(cs.Markets)+len(cs.AssetClasses)+1)
	for _, pc := range cs.Positions {
		keys = append(keys, positionKey(pc.ID))
	}
	for idx := range cs.Markets {
		keys = append(keys, marketKey(idx))
	}
	for idx := range cs.AssetClasses {
		keys = append(keys, assetClassKey(idx))
	}
	if cs.Global != nil {
		keys = append(keys, globalKey)
	}
	return keys
}

// --- Read-through (check cache first) ---

func (s *CachedStore) Position(ctx context.Context, id common.Hash) (model.Position, error) {
	var p model.Position
	if s.get(ctx, positionKey(id), &p) {
		return p, nil
	}

	p, err := s.primary.Position(ctx, id)
	if err != nil {
		return model.Position{}, err
	}
	s.set(ctx, positionKey(id), p)
	return p, nil
}

func (s *CachedStore) Market(ctx context.Context, index uint64) (model.Market, error) {
	var m model.Market
	if s.get(ctx, marketKey(index), &m) {
		return m, nil
	}

	m, err := s.primary.Market(ctx, index)
	if err != nil {
		return model.Market{}, err
	}
	s.set(ctx, marketKey(index), m)
	return m, nil
}

func (s *CachedStore) AssetClass(ctx context.Context, index uint8) (model.AssetClass, error) {
	var ac model.AssetClass
	if s.get(ctx, assetClassKey(index), &ac) {
		return ac, nil
	}

	ac, err := s.primary.AssetClass(ctx, index)
	if err != nil {
		return model.AssetClass{}, err
	}
	s.set(ctx, assetClassKey(index), ac)
	return ac, nil
}

func (s *CachedStore) GlobalState(ctx context.Context) (model.GlobalState, error) {
	var gs model.GlobalState
	if s.get(ctx, globalKey, &gs) {
		return gs, nil
	}

	gs, err := s.primary.GlobalState(ctx)
	if err != nil {
		return model.GlobalState{}, err
	}
	s.set(ctx, globalKey, gs)
	return gs, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) PositionIDs(ctx context.Context, sub common.Address) ([]common.Hash, error) {
	return s.primary.PositionIDs(ctx, sub)
}

func (s *CachedStore) TraderBalances(ctx context.Context, sub common.Address) ([]TokenBalance, error) {
	return s.primary.TraderBalances(ctx, sub)
}

func (s *CachedStore) PoolBalance(ctx context.Context, kind model.PoolKind, token common.Address) (sdkmath.Int, error) {
	return s.primary.PoolBalance(ctx, kind, token)
}

func (s *CachedStore) BadDebt(ctx context.Context, sub common.Address) (sdkmath.Int, error) {
	return s.primary.BadDebt(ctx, sub)
}

func (s *CachedStore) SubAccounts(ctx context.Context) ([]common.Address, error) {
	return s.primary.SubAccounts(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const globalKey = "perp:global"

func positionKey(id common.Hash) string { return fmt.Sprintf("perp:position:%s", id.Hex()) }
func marketKey(idx uint64) string       { return fmt.Sprintf("perp:market:%d", idx) }
func assetClassKey(idx uint8) string    { return fmt.Sprintf("perp:asset_class:%d", idx) }
