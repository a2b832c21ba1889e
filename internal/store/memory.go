package store

import (
	"bytes"
	"context"
	"sort"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/perp-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	positions    map[common.Hash]model.Position
	posIndex     map[common.Address][]common.Hash
	markets      map[uint64]model.Market
	assetClasses map[uint8]model.AssetClass
	global       model.GlobalState
	balances     map[common.Address][]TokenBalance
	pools        map[PoolKey]sdkmath.Int
	badDebt      map[common.Address]sdkmath.Int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions:    make(map[common.Hash]model.Position),
		posIndex:     make(map[common.Address][]common.Hash),
		markets:      make(map[uint64]model.Market),
		assetClasses: make(map[uint8]model.AssetClass),
		global:       model.ZeroGlobalState(),
		balances:     make(map[common.Address][]TokenBalance),
		pools:        make(map[PoolKey]sdkmath.Int),
		badDebt:      make(map[common.Address]sdkmath.Int),
	}
}

func (s *MemoryStore) Position(_ context.Context, id common.Hash) (model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return model.ZeroPosition(), nil
	}
	return p, nil
}

func (s *MemoryStore) PositionIDs(_ context.Context, sub common.Address) ([]common.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]common.Hash(nil), s.posIndex[sub]...), nil
}

func (s *MemoryStore) Market(_ context.Context, index uint64) (model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[index]
	if !ok {
		return model.ZeroMarket(), nil
	}
	return m, nil
}

func (s *MemoryStore) AssetClass(_ context.Context, index uint8) (model.AssetClass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ac, ok := s.assetClasses[index]
	if !ok {
		return model.ZeroAssetClass(), nil
	}
	return ac, nil
}

func (s *MemoryStore) GlobalState(_ context.Context) (model.GlobalState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global, nil
}

func (s *MemoryStore) TraderBalances(_ context.Context, sub common.Address) ([]TokenBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TokenBalance(nil), s.balances[sub]...), nil
}

func (s *MemoryStore) PoolBalance(_ context.Context, kind model.PoolKind, token common.Address) (sdkmath.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.pools[PoolKey{Kind: kind, Token: token}]
	if !ok {
		return sdkmath.ZeroInt(), nil
	}
	return v, nil
}

func (s *MemoryStore) BadDebt(_ context.Context, sub common.Address) (sdkmath.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.badDebt[sub]
	if !ok {
		return sdkmath.ZeroInt(), nil
	}
	return v, nil
}

func (s *MemoryStore) SubAccounts(_ context.Context) ([]common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Address, 0, len(s.posIndex))
	for sub, ids := range s.posIndex {
		if len(ids) > 0 {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out, nil
}

// Apply writes a change set under a single lock.
func (s *MemoryStore) Apply(_ context.Context, cs *ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pc := range cs.Positions {
		if pc.Removed {
			delete(s.positions, pc.ID)
			continue
		}
		s.positions[pc.ID] = pc.Position
	}
	for sub, ids := range cs.PositionIndex {
		if len(ids) == 0 {
			delete(s.posIndex, sub)
			continue
		}
		s.posIndex[sub] = append([]common.Hash(nil), ids...)
	}
	for idx, m := range cs.Markets {
		s.markets[idx] = m
	}
	for idx, ac := range cs.AssetClasses {
		s.assetClasses[idx] = ac
	}
	if cs.Global != nil {
		s.global = *cs.Global
	}
	for sub, list := range cs.Balances {
		if len(list) == 0 {
			delete(s.balances, sub)
			continue
		}
		s.balances[sub] = append([]TokenBalance(nil), list...)
	}
	for key, v := range cs.Pools {
		s.pools[key] = v
	}
	for sub, v := range cs.BadDebt {
		s.badDebt[sub] = v
	}
	return nil
}
