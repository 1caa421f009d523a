// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package contract

import (
	"encoding/binary"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// StorageKey derives a slot key from a prefix and any number of id parts.
func StorageKey(prefix []byte, parts ...[]byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	for _, part := range parts {
		h.Write(part)
	}
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

// Uint32Bytes encodes v big-endian for use as a key part.
func Uint32Bytes(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

// Slots reads and writes typed values in the storage of one account.
type Slots struct {
	state StateDB
	addr  common.Address
}

func NewSlots(state StateDB, addr common.Address) Slots {
	return Slots{state: state, addr: addr}
}

func (s Slots) Big(key common.Hash) *big.Int {
	return s.state.GetState(s.addr, key).Big()
}

// SetBig stores a non-negative value of at most 256 bits.
func (s Slots) SetBig(key common.Hash, v *big.Int) {
	s.state.SetState(s.addr, key, common.BigToHash(v))
}

func (s Slots) Uint64(key common.Hash) uint64 {
	return s.Big(key).Uint64()
}

func (s Slots) SetUint64(key common.Hash, v uint64) {
	s.SetBig(key, new(big.Int).SetUint64(v))
}

func (s Slots) Address(key common.Hash) common.Address {
	return common.BytesToAddress(s.state.GetState(s.addr, key).Bytes())
}

func (s Slots) SetAddress(key common.Hash, v common.Address) {
	s.state.SetState(s.addr, key, common.BytesToHash(v.Bytes()))
}
