// Package identity derives sub-account addresses and position ids.
//
// Both derivations are pure and must be reproduced bit-for-bit: a
// sub-account is the primary address with its low byte XORed by the
// sub-account index, and a position id is keccak256(subAccount ‖
// uint256(marketIndex)).
package identity

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MaxSubAccountID is the highest sub-account index.
const MaxSubAccountID = 255

// Deriver produces sub-account addresses and position ids.
type Deriver interface {
	SubAccount(primary common.Address, id uint8) common.Address
	PositionID(subAccount common.Address, marketIndex uint64) common.Hash
}

// Default is the canonical derivation.
var Default Deriver = keccakDeriver{}

type keccakDeriver struct{}

func (keccakDeriver) SubAccount(primary common.Address, id uint8) common.Address {
	return SubAccount(primary, id)
}

func (keccakDeriver) PositionID(subAccount common.Address, marketIndex uint64) common.Hash {
	return PositionID(subAccount, marketIndex)
}

// SubAccount returns primary with its lowest byte XORed by id.
// SubAccount(p, 0) == p.
func SubAccount(primary common.Address, id uint8) common.Address {
	sub := primary
	sub[common.AddressLength-1] ^= id
	return sub
}

// SubAccountID recovers the index that maps primary to sub. The second
// result is false when sub is not one of primary's sub-accounts.
func SubAccountID(primary, sub common.Address) (uint8, bool) {
	for i := 0; i < common.AddressLength-1; i++ {
		if primary[i] != sub[i] {
			return 0, false
		}
	}
	return primary[common.AddressLength-1] ^ sub[common.AddressLength-1], true
}

// PositionID hashes the packed encoding of (subAccount, uint256 marketIndex).
func PositionID(subAccount common.Address, marketIndex uint64) common.Hash {
	var idx [32]byte
	binary.BigEndian.PutUint64(idx[24:], marketIndex)
	return crypto.Keccak256Hash(subAccount.Bytes(), idx[:])
}
