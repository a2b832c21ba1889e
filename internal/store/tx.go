package store

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/perp-engine/internal/model"
)

// Tx is a copy-on-write view over a Reader. Reads fall through to the
// underlying store the first time a record is touched; writes stay in the
// overlay until the owning Ledger applies them.
//
// Getters never return errors. The first read failure is kept and
// reported by Err, and the Ledger refuses to commit a Tx with a read
// failure, so decisions made on zero values after a failure are discarded.
type Tx struct {
	ctx  context.Context
	base Reader
	err  error

	positions    map[common.Hash]PositionChange
	posOrder     []common.Hash
	posIndex     map[common.Address][]common.Hash
	markets      map[uint64]model.Market
	assetClasses map[uint8]model.AssetClass
	global       *model.GlobalState
	balances     map[common.Address][]TokenBalance
	pools        map[PoolKey]sdkmath.Int
	badDebt      map[common.Address]sdkmath.Int

	dirtyIndex    map[common.Address]bool
	dirtyMarkets  map[uint64]bool
	dirtyClasses  map[uint8]bool
	dirtyGlobal   bool
	dirtyBalances map[common.Address]bool
	dirtyPools    map[PoolKey]bool
	dirtyBadDebt  map[common.Address]bool
}

// NewTx creates an overlay over base.
func NewTx(ctx context.Context, base Reader) *Tx {
	return &Tx{
		ctx:           ctx,
		base:          base,
		positions:     make(map[common.Hash]PositionChange),
		posIndex:      make(map[common.Address][]common.Hash),
		markets:       make(map[uint64]model.Market),
		assetClasses:  make(map[uint8]model.AssetClass),
		balances:      make(map[common.Address][]TokenBalance),
		pools:         make(map[PoolKey]sdkmath.Int),
		badDebt:       make(map[common.Address]sdkmath.Int),
		dirtyIndex:    make(map[common.Address]bool),
		dirtyMarkets:  make(map[uint64]bool),
		dirtyClasses:  make(map[uint8]bool),
		dirtyBalances: make(map[common.Address]bool),
		dirtyPools:    make(map[PoolKey]bool),
		dirtyBadDebt:  make(map[common.Address]bool),
	}
}

// Context returns the context the Tx was opened with.
func (t *Tx) Context() context.Context { return t.ctx }

// Err returns the first read failure, if any.
func (t *Tx) Err() error { return t.err }

func (t *Tx) fail(err error) {
	if t.err == nil {
		t.err = err
	}
}

// --- Positions ---

// Position returns the position or model.ZeroPosition when absent.
func (t *Tx) Position(id common.Hash) model.Position {
	if pc, ok := t.positions[id]; ok {
		if pc.Removed {
			return model.ZeroPosition()
		}
		return pc.Position
	}
	pos, err := t.base.Position(t.ctx, id)
	if err != nil {
		t.fail(fmt.Errorf("read position %s: %w", id.Hex(), err))
		return model.ZeroPosition()
	}
	return pos
}

// PositionIDs returns the open position ids of a sub-account.
func (t *Tx) PositionIDs(sub common.Address) []common.Hash {
	return append([]common.Hash(nil), t.index(sub)...)
}

func (t *Tx) index(sub common.Address) []common.Hash {
	if ids, ok := t.posIndex[sub]; ok {
		return ids
	}
	ids, err := t.base.PositionIDs(t.ctx, sub)
	if err != nil {
		t.fail(fmt.Errorf("read position index %s: %w", sub.Hex(), err))
		return nil
	}
	ids = append([]common.Hash(nil), ids...)
	t.posIndex[sub] = ids
	return ids
}

// SavePosition replaces a position. Saving a zero-size position removes it.
func (t *Tx) SavePosition(sub common.Address, id common.Hash, pos model.Position) {
	if pos.SizeE30.IsNil() || pos.SizeE30.IsZero() {
		t.RemovePosition(sub, id)
		return
	}

	ids := t.index(sub)
	found := false
	for _, existing := range ids {
		if existing == id {
			found = true
			break
		}
	}
	if !found {
		t.posIndex[sub] = append(ids, id)
		t.dirtyIndex[sub] = true
	}

	t.touchPosition(id)
	t.positions[id] = PositionChange{ID: id, SubAccount: sub, Position: pos}
}

// RemovePosition deletes a position and drops it from the sub-account index.
func (t *Tx) RemovePosition(sub common.Address, id common.Hash) {
	ids := t.index(sub)
	for i, existing := range ids {
		if existing == id {
			next := make([]common.Hash, 0, len(ids)-1)
			next = append(next, ids[:i]...)
			next = append(next, ids[i+1:]...)
			t.posIndex[sub] = next
			t.dirtyIndex[sub] = true
			break
		}
	}

	t.touchPosition(id)
	t.positions[id] = PositionChange{ID: id, SubAccount: sub, Position: model.ZeroPosition(), Removed: true}
}

func (t *Tx) touchPosition(id common.Hash) {
	if _, ok := t.positions[id]; !ok {
		t.posOrder = append(t.posOrder, id)
	}
}

// --- Markets ---

func (t *Tx) Market(index uint64) model.Market {
	if m, ok := t.markets[index]; ok {
		return m
	}
	m, err := t.base.Market(t.ctx, index)
	if err != nil {
		t.fail(fmt.Errorf("read market %d: %w", index, err))
		return model.ZeroMarket()
	}
	t.markets[index] = m
	return m
}

func (t *Tx) SaveMarket(index uint64, m model.Market) {
	t.markets[index] = m
	t.dirtyMarkets[index] = true
}

// UpdateLongMarket replaces the long side size and average price.
func (t *Tx) UpdateLongMarket(index uint64, size, avgPrice sdkmath.Int) {
	m := t.Market(index)
	m.LongPositionSize = size
	m.LongAvgPrice = avgPrice
	t.SaveMarket(index, m)
}

// UpdateShortMarket replaces the short side size and average price.
func (t *Tx) UpdateShortMarket(index uint64, size, avgPrice sdkmath.Int) {
	m := t.Market(index)
	m.ShortPositionSize = size
	m.ShortAvgPrice = avgPrice
	t.SaveMarket(index, m)
}

// ReduceMarketSide removes size and open interest from one side of a
// market and sets the side's average price to avgPrice. The average is
// cleared when the side empties.
func (t *Tx) ReduceMarketSide(index uint64, isLong bool, size, openInterest, avgPrice sdkmath.Int) {
	m := t.Market(index)
	if isLong {
		m.LongPositionSize = floorZero(m.LongPositionSize.Sub(size))
		m.LongOpenInterest = floorZero(m.LongOpenInterest.Sub(openInterest))
		m.LongAvgPrice = avgPrice
		if m.LongPositionSize.IsZero() {
			m.LongAvgPrice = sdkmath.ZeroInt()
		}
	} else {
		m.ShortPositionSize = floorZero(m.ShortPositionSize.Sub(size))
		m.ShortOpenInterest = floorZero(m.ShortOpenInterest.Sub(openInterest))
		m.ShortAvgPrice = avgPrice
		if m.ShortPositionSize.IsZero() {
			m.ShortAvgPrice = sdkmath.ZeroInt()
		}
	}
	t.SaveMarket(index, m)
}

func floorZero(v sdkmath.Int) sdkmath.Int {
	if v.IsNegative() {
		return sdkmath.ZeroInt()
	}
	return v
}

// --- Asset classes and global state ---

func (t *Tx) AssetClass(index uint8) model.AssetClass {
	if ac, ok := t.assetClasses[index]; ok {
		return ac
	}
	ac, err := t.base.AssetClass(t.ctx, index)
	if err != nil {
		t.fail(fmt.Errorf("read asset class %d: %w", index, err))
		return model.ZeroAssetClass()
	}
	t.assetClasses[index] = ac
	return ac
}

func (t *Tx) UpdateAssetClass(index uint8, ac model.AssetClass) {
	t.assetClasses[index] = ac
	t.dirtyClasses[index] = true
}

func (t *Tx) GlobalState() model.GlobalState {
	if t.global != nil {
		return *t.global
	}
	gs, err := t.base.GlobalState(t.ctx)
	if err != nil {
		t.fail(fmt.Errorf("read global state: %w", err))
		return model.ZeroGlobalState()
	}
	t.global = &gs
	return gs
}

func (t *Tx) UpdateGlobalState(gs model.GlobalState) {
	t.global = &gs
	t.dirtyGlobal = true
}

// AddReserve adds reserved value to an asset class and the global total.
// Callers check the utilisation cap first.
func (t *Tx) AddReserve(assetClass uint8, amount sdkmath.Int) {
	ac := t.AssetClass(assetClass)
	ac.ReserveValueE30 = ac.ReserveValueE30.Add(amount)
	t.UpdateAssetClass(assetClass, ac)

	gs := t.GlobalState()
	gs.ReserveValueE30 = gs.ReserveValueE30.Add(amount)
	t.UpdateGlobalState(gs)
}

// ReleaseReserve is the inverse of AddReserve. Totals never go below zero.
func (t *Tx) ReleaseReserve(assetClass uint8, amount sdkmath.Int) {
	ac := t.AssetClass(assetClass)
	ac.ReserveValueE30 = floorZero(ac.ReserveValueE30.Sub(amount))
	t.UpdateAssetClass(assetClass, ac)

	gs := t.GlobalState()
	gs.ReserveValueE30 = floorZero(gs.ReserveValueE30.Sub(amount))
	t.UpdateGlobalState(gs)
}

// --- Collateral ---

func (t *Tx) balanceList(sub common.Address) []TokenBalance {
	if list, ok := t.balances[sub]; ok {
		return list
	}
	list, err := t.base.TraderBalances(t.ctx, sub)
	if err != nil {
		t.fail(fmt.Errorf("read balances %s: %w", sub.Hex(), err))
		return nil
	}
	list = append([]TokenBalance(nil), list...)
	t.balances[sub] = list
	return list
}

// TraderBalance returns the sub-account's balance of token.
func (t *Tx) TraderBalance(sub, token common.Address) sdkmath.Int {
	for _, tb := range t.balanceList(sub) {
		if tb.Token == token {
			return tb.Amount
		}
	}
	return sdkmath.ZeroInt()
}

// TraderTokens returns the tokens held by a sub-account in registration order.
func (t *Tx) TraderTokens(sub common.Address) []common.Address {
	list := t.balanceList(sub)
	out := make([]common.Address, 0, len(list))
	for _, tb := range list {
		out = append(out, tb.Token)
	}
	return out
}

// TraderBalances returns a copy of the sub-account's balance list.
func (t *Tx) TraderBalances(sub common.Address) []TokenBalance {
	return append([]TokenBalance(nil), t.balanceList(sub)...)
}

// SetTraderBalance replaces a balance. A token is registered when its
// balance becomes nonzero and unregistered when it returns to zero.
func (t *Tx) SetTraderBalance(sub, token common.Address, amount sdkmath.Int) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	list := t.balanceList(sub)
	next := make([]TokenBalance, 0, len(list)+1)
	found := false
	for _, tb := range list {
		if tb.Token == token {
			found = true
			if amount.IsZero() {
				continue
			}
			tb.Amount = amount
		}
		next = append(next, tb)
	}
	if !found && !amount.IsZero() {
		next = append(next, TokenBalance{Token: token, Amount: amount})
	}
	t.balances[sub] = next
	t.dirtyBalances[sub] = true
	return nil
}

func (t *Tx) IncreaseTraderBalance(sub, token common.Address, amount sdkmath.Int) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	if amount.IsZero() {
		return nil
	}
	return t.SetTraderBalance(sub, token, t.TraderBalance(sub, token).Add(amount))
}

func (t *Tx) DecreaseTraderBalance(sub, token common.Address, amount sdkmath.Int) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	if amount.IsZero() {
		return nil
	}
	bal := t.TraderBalance(sub, token)
	if bal.LT(amount) {
		return fmt.Errorf("%w: %s has %s of %s, need %s", ErrInsufficientBalance, sub.Hex(), bal, token.Hex(), amount)
	}
	return t.SetTraderBalance(sub, token, bal.Sub(amount))
}

// --- Pools ---

func (t *Tx) PoolBalance(kind model.PoolKind, token common.Address) sdkmath.Int {
	key := PoolKey{Kind: kind, Token: token}
	if v, ok := t.pools[key]; ok {
		return v
	}
	v, err := t.base.PoolBalance(t.ctx, kind, token)
	if err != nil {
		t.fail(fmt.Errorf("read pool %s/%s: %w", kind, token.Hex(), err))
		return sdkmath.ZeroInt()
	}
	t.pools[key] = v
	return v
}

// AddPool credits a pool.
func (t *Tx) AddPool(kind model.PoolKind, token common.Address, amount sdkmath.Int) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	key := PoolKey{Kind: kind, Token: token}
	t.pools[key] = t.PoolBalance(kind, token).Add(amount)
	t.dirtyPools[key] = true
	return nil
}

// SubPool debits a pool.
func (t *Tx) SubPool(kind model.PoolKind, token common.Address, amount sdkmath.Int) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	bal := t.PoolBalance(kind, token)
	if bal.LT(amount) {
		return fmt.Errorf("%w: pool %s has %s of %s, need %s", ErrInsufficientBalance, kind, bal, token.Hex(), amount)
	}
	key := PoolKey{Kind: kind, Token: token}
	t.pools[key] = bal.Sub(amount)
	t.dirtyPools[key] = true
	return nil
}

// --- Bad debt ---

func (t *Tx) BadDebt(sub common.Address) sdkmath.Int {
	if v, ok := t.badDebt[sub]; ok {
		return v
	}
	v, err := t.base.BadDebt(t.ctx, sub)
	if err != nil {
		t.fail(fmt.Errorf("read bad debt %s: %w", sub.Hex(), err))
		return sdkmath.ZeroInt()
	}
	t.badDebt[sub] = v
	return v
}

// AddBadDebt adds to the sub-account's standing bad debt (USD E30).
func (t *Tx) AddBadDebt(sub common.Address, amountE30 sdkmath.Int) {
	if !amountE30.IsPositive() {
		return
	}
	t.SetBadDebt(sub, t.BadDebt(sub).Add(amountE30))
}

func (t *Tx) SetBadDebt(sub common.Address, amountE30 sdkmath.Int) {
	t.badDebt[sub] = amountE30
	t.dirtyBadDebt[sub] = true
}

// Changes returns the buffered writes.
func (t *Tx) Changes() *ChangeSet {
	cs := &ChangeSet{
		PositionIndex: make(map[common.Address][]common.Hash),
		Markets:       make(map[uint64]model.Market),
		AssetClasses:  make(map[uint8]model.AssetClass),
		Balances:      make(map[common.Address][]TokenBalance),
		Pools:         make(map[PoolKey]sdkmath.Int),
		BadDebt:       make(map[common.Address]sdkmath.Int),
	}
	for _, id := range t.posOrder {
		cs.Positions = append(cs.Positions, t.positions[id])
	}
	for sub := range t.dirtyIndex {
		cs.PositionIndex[sub] = append([]common.Hash(nil), t.posIndex[sub]...)
	}
	for idx := range t.dirtyMarkets {
		cs.Markets[idx] = t.markets[idx]
	}
	for idx := range t.dirtyClasses {
		cs.AssetClasses[idx] = t.assetClasses[idx]
	}
	if t.dirtyGlobal {
		gs := *t.global
		cs.Global = &gs
	}
	for sub := range t.dirtyBalances {
		cs.Balances[sub] = append([]TokenBalance(nil), t.balances[sub]...)
	}
	for key := range t.dirtyPools {
		cs.Pools[key] = t.pools[key]
	}
	for sub := range t.dirtyBadDebt {
		cs.BadDebt[sub] = t.badDebt[sub]
	}
	return cs
}
