// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package contract provides the execution substrate shared by the restaking
// components: a journaled world state with native balances, 32-byte storage
// slots, event logs and a block clock, plus helpers to run a call atomically.
package contract

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
)

var (
	ErrInsufficientBalance = errors.New("insufficient native balance")
	ErrInvalidSnapshot     = errors.New("invalid snapshot id")
)

var (
	storageDBPrefix = []byte("slot")
	balanceDBPrefix = []byte("bal")
)

// StateDB is the world state a component executes against.
type StateDB interface {
	GetState(addr common.Address, key common.Hash) common.Hash
	SetState(addr common.Address, key common.Hash, value common.Hash)

	GetBalance(addr common.Address) *uint256.Int
	AddBalance(addr common.Address, amount *uint256.Int)
	SubBalance(addr common.Address, amount *uint256.Int)

	AddLog(log *types.Log)

	// Time returns the current block timestamp in seconds.
	Time() uint64

	Snapshot() int
	RevertToSnapshot(id int)
}

var _ StateDB = (*State)(nil)

// State is an in-memory StateDB. Reads that miss the cache fall through to
// the backing database; Commit flushes every dirty slot and balance back.
//
// Snapshots are positions in one journal shared by every component bound to
// the state, so a revert also undoes writes made by other callers since the
// snapshot. Top-level calls from concurrent goroutines go through Exec.
type State struct {
	// exec serializes top-level calls; mu guards the fields below.
	exec sync.Mutex
	mu   sync.Mutex

	storage  map[common.Address]map[common.Hash]common.Hash
	balances map[common.Address]*uint256.Int
	logs     []*types.Log
	time     uint64

	journal []func()

	dirtySlots    map[common.Address]map[common.Hash]struct{}
	dirtyBalances map[common.Address]struct{}

	slotDB    database.Database
	balanceDB database.Database
}

// NewState returns a state backed by db. A nil db keeps everything in memory.
func NewState(db database.Database) *State {
	s := &State{
		storage:       make(map[common.Address]map[common.Hash]common.Hash),
		balances:      make(map[common.Address]*uint256.Int),
		dirtySlots:    make(map[common.Address]map[common.Hash]struct{}),
		dirtyBalances: make(map[common.Address]struct{}),
	}
	if db != nil {
		s.slotDB = prefixdb.New(storageDBPrefix, db)
		s.balanceDB = prefixdb.New(balanceDBPrefix, db)
	}
	return s
}

func (s *State) GetState(addr common.Address, key common.Hash) common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getState(addr, key)
}

func (s *State) SetState(addr common.Address, key common.Hash, value common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.getState(addr, key)
	s.journal = append(s.journal, func() { s.setState(addr, key, prev) })
	s.setState(addr, key, value)
}

func (s *State) GetBalance(addr common.Address) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getBalance(addr).Clone()
}

func (s *State) AddBalance(addr common.Address, amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.getBalance(addr).Clone()
	s.journal = append(s.journal, func() { s.setBalance(addr, prev) })
	s.setBalance(addr, new(uint256.Int).Add(prev, amount))
}

// SubBalance panics on underflow. Callers check the balance first; see
// Transfer.
func (s *State) SubBalance(addr common.Address, amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.getBalance(addr).Clone()
	if prev.Lt(amount) {
		panic(fmt.Sprintf("balance underflow for %s", addr.Hex()))
	}
	s.journal = append(s.journal, func() { s.setBalance(addr, prev) })
	s.setBalance(addr, new(uint256.Int).Sub(prev, amount))
}

func (s *State) AddLog(log *types.Log) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.logs)
	log.Index = uint(n)
	s.logs = append(s.logs, log)
	s.journal = append(s.journal, func() { s.logs = s.logs[:n] })
}

// Logs returns every log emitted and not reverted.
func (s *State) Logs() []*types.Log {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.Log, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *State) Time() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.time
}

// SetTime moves the block clock. It is not journaled.
func (s *State) SetTime(t uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.time = t
}

func (s *State) Snapshot() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.journal)
}

func (s *State) RevertToSnapshot(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id < 0 || id > len(s.journal) {
		panic(ErrInvalidSnapshot)
	}
	for i := len(s.journal) - 1; i >= id; i-- {
		s.journal[i]()
	}
	s.journal = s.journal[:id]
}

// Commit writes dirty slots and balances to the backing database and clears
// the journal. Snapshots taken before Commit are no longer valid.
func (s *State) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.slotDB == nil {
		s.resetDirty()
		return nil
	}

	slots := s.slotDB.NewBatch()
	for addr, keys := range s.dirtySlots {
		for key := range keys {
			value := s.storage[addr][key]
			if err := slots.Put(slotDBKey(addr, key), value.Bytes()); err != nil {
				return fmt.Errorf("failed to stage slot %s/%s: %w", addr.Hex(), key.Hex(), err)
			}
		}
	}
	if err := slots.Write(); err != nil {
		return fmt.Errorf("failed to write slots: %w", err)
	}

	balances := s.balanceDB.NewBatch()
	for addr := range s.dirtyBalances {
		value := s.balances[addr].Bytes32()
		if err := balances.Put(addr.Bytes(), value[:]); err != nil {
			return fmt.Errorf("failed to stage balance %s: %w", addr.Hex(), err)
		}
	}
	if err := balances.Write(); err != nil {
		return fmt.Errorf("failed to write balances: %w", err)
	}

	s.resetDirty()
	return nil
}

func (s *State) resetDirty() {
	s.journal = nil
	s.dirtySlots = make(map[common.Address]map[common.Hash]struct{})
	s.dirtyBalances = make(map[common.Address]struct{})
}

func (s *State) getState(addr common.Address, key common.Hash) common.Hash {
	if slots, ok := s.storage[addr]; ok {
		if value, ok := slots[key]; ok {
			return value
		}
	}
	if s.slotDB == nil {
		return common.Hash{}
	}
	data, err := s.slotDB.Get(slotDBKey(addr, key))
	if err != nil {
		// database.ErrNotFound and read failures both read as an empty slot
		return common.Hash{}
	}
	value := common.BytesToHash(data)
	s.cacheState(addr, key, value)
	return value
}

func (s *State) cacheState(addr common.Address, key common.Hash, value common.Hash) {
	slots, ok := s.storage[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		s.storage[addr] = slots
	}
	slots[key] = value
}

func (s *State) setState(addr common.Address, key common.Hash, value common.Hash) {
	s.cacheState(addr, key, value)

	dirty, ok := s.dirtySlots[addr]
	if !ok {
		dirty = make(map[common.Hash]struct{})
		s.dirtySlots[addr] = dirty
	}
	dirty[key] = struct{}{}
}

func (s *State) getBalance(addr common.Address) *uint256.Int {
	if bal, ok := s.balances[addr]; ok {
		return bal
	}
	bal := uint256.NewInt(0)
	if s.balanceDB != nil {
		if data, err := s.balanceDB.Get(addr.Bytes()); err == nil {
			bal.SetBytes(data)
		}
	}
	s.balances[addr] = bal
	return bal
}

func (s *State) setBalance(addr common.Address, bal *uint256.Int) {
	s.balances[addr] = bal
	s.dirtyBalances[addr] = struct{}{}
}

func slotDBKey(addr common.Address, key common.Hash) []byte {
	out := make([]byte, 0, common.AddressLength+common.HashLength)
	out = append(out, addr.Bytes()...)
	return append(out, key.Bytes()...)
}

// Exec runs fn as one top-level call: no other Exec on s runs until fn has
// returned and, on failure, its writes have been reverted. fn must not call
// Exec on s again; nested component calls use Call.
func (s *State) Exec(fn func() error) error {
	s.exec.Lock()
	defer s.exec.Unlock()

	return Call(s, fn)
}

// Executor is a state that serializes top-level calls.
type Executor interface {
	Exec(fn func() error) error
}

// Exec runs fn as a top-level call on state. States that are not an
// Executor fall back to Call.
func Exec(state StateDB, fn func() error) error {
	if e, ok := state.(Executor); ok {
		return e.Exec(fn)
	}
	return Call(state, fn)
}

// Call runs fn inside a state snapshot. When fn fails every write made since
// the snapshot, logs included, is reverted and the error is returned
// unchanged. Call does not serialize callers; see Exec.
func Call(state StateDB, fn func() error) error {
	snap := state.Snapshot()
	if err := fn(); err != nil {
		state.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// Transfer moves a native amount between two accounts.
func Transfer(state StateDB, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative amount %s", ErrInsufficientBalance, amount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return fmt.Errorf("%w: amount %s overflows uint256", ErrInsufficientBalance, amount)
	}
	if state.GetBalance(from).Lt(value) {
		return fmt.Errorf("%w: %s has %s, needs %s",
			ErrInsufficientBalance, from.Hex(), state.GetBalance(from).Dec(), value.Dec())
	}
	state.SubBalance(from, value)
	state.AddBalance(to, value)
	return nil
}

// BalanceOf returns the native balance of addr as a big.Int.
func BalanceOf(state StateDB, addr common.Address) *big.Int {
	return state.GetBalance(addr).ToBig()
}

// Mint credits a native amount out of thin air. Transports use it to settle
// value arriving from another chain.
func Mint(state StateDB, to common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return nil
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return fmt.Errorf("amount %s overflows uint256", amount)
	}
	state.AddBalance(to, value)
	return nil
}
