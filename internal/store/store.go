// Package store holds the position ledger and collateral ledger.
//
// Engines never talk to a Store directly. They run inside Ledger.Update,
// which hands them a Tx: a copy-on-write overlay that buffers every write
// and is applied to the Store in one step when the operation succeeds.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/perp-engine/internal/model"
)

var (
	ErrInsufficientBalance = errors.New("store: insufficient balance")
	ErrNegativeAmount      = errors.New("store: amount must not be negative")
)

// Reader is the read side of the ledger. Absent records are returned as
// their zero value, never as an error; errors are reserved for I/O.
type Reader interface {
	// Position returns the position with the given id or model.ZeroPosition.
	Position(ctx context.Context, id common.Hash) (model.Position, error)

	// PositionIDs returns the open position ids of a sub-account in the
	// order they were opened.
	PositionIDs(ctx context.Context, subAccount common.Address) ([]common.Hash, error)

	Market(ctx context.Context, index uint64) (model.Market, error)
	AssetClass(ctx context.Context, index uint8) (model.AssetClass, error)
	GlobalState(ctx context.Context) (model.GlobalState, error)

	// TraderBalances returns the nonzero collateral balances of a
	// sub-account in registration order.
	TraderBalances(ctx context.Context, subAccount common.Address) ([]TokenBalance, error)

	PoolBalance(ctx context.Context, kind model.PoolKind, token common.Address) (sdkmath.Int, error)
	BadDebt(ctx context.Context, subAccount common.Address) (sdkmath.Int, error)

	// SubAccounts lists every sub-account holding at least one position.
	SubAccounts(ctx context.Context) ([]common.Address, error)
}

// Store is a Reader that can apply a ChangeSet atomically.
type Store interface {
	Reader
	Apply(ctx context.Context, cs *ChangeSet) error
}

// TokenBalance is one entry of a sub-account's collateral list.
type TokenBalance struct {
	Token  common.Address `json:"token"`
	Amount sdkmath.Int    `json:"amount"`
}

// PositionChange is a saved or removed position.
type PositionChange struct {
	ID         common.Hash
	SubAccount common.Address
	Position   model.Position
	Removed    bool
}

// PoolKey identifies one protocol-side token accumulator.
type PoolKey struct {
	Kind  model.PoolKind
	Token common.Address
}

// ChangeSet is the buffered result of one successful operation. Every
// entry holds the final value, so applying it is idempotent.
type ChangeSet struct {
	Positions     []PositionChange
	PositionIndex map[common.Address][]common.Hash
	Markets       map[uint64]model.Market
	AssetClasses  map[uint8]model.AssetClass
	Global        *model.GlobalState
	// Balances holds the complete, ordered balance list of every touched
	// sub-account.
	Balances map[common.Address][]TokenBalance
	Pools    map[PoolKey]sdkmath.Int
	BadDebt  map[common.Address]sdkmath.Int
}

// Empty reports whether the change set carries no writes.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Positions) == 0 &&
		len(cs.PositionIndex) == 0 &&
		len(cs.Markets) == 0 &&
		len(cs.AssetClasses) == 0 &&
		cs.Global == nil &&
		len(cs.Balances) == 0 &&
		len(cs.Pools) == 0 &&
		len(cs.BadDebt) == 0
}
