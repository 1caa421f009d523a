// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry maps protocol chain ids to transport endpoint ids and to
// the adapter serving each chain.
//
// Chains live in a fixed-capacity arena. Each registered chain owns a small
// integer slot, so "every chain has reported" is a bounded scan over the
// arena in registration order rather than an iteration over a map.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/geth/common"
)

// DefaultCapacity is the arena size used when none is given.
const DefaultCapacity = 16

var (
	ErrZeroChainID           = errors.New("chain id cannot be zero")
	ErrZeroEndpointID        = errors.New("endpoint id cannot be zero")
	ErrZeroAddress           = errors.New("address cannot be zero")
	ErrChainIDAlreadyExists  = errors.New("chain id already exists")
	ErrAdapterAlreadyExists  = errors.New("adapter already exists")
	ErrEndpointAlreadyMapped = errors.New("endpoint id already mapped")
	ErrChainNotFound         = errors.New("chain id not registered")
	ErrRegistryFull          = errors.New("chain registry is full")
)

type entry struct {
	chainID uint32
	eid     uint32
	adapter common.Address
}

// Registry is safe for concurrent use. Entries are write-once: there is no
// replace or remove operation.
type Registry struct {
	mu sync.RWMutex

	slots   []entry
	byChain map[uint32]int
	byEid   map[uint32]int
}

// New returns a registry holding at most capacity chains.
func New(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		slots:   make([]entry, 0, capacity),
		byChain: make(map[uint32]int, capacity),
		byEid:   make(map[uint32]int, capacity),
	}
}

// AddChain registers chainID and returns its slot.
func (r *Registry) AddChain(chainID uint32) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.addChain(chainID)
}

func (r *Registry) addChain(chainID uint32) (int, error) {
	if chainID == 0 {
		return 0, ErrZeroChainID
	}
	if _, exists := r.byChain[chainID]; exists {
		return 0, fmt.Errorf("%w: %d", ErrChainIDAlreadyExists, chainID)
	}
	if len(r.slots) == cap(r.slots) {
		return 0, fmt.Errorf("%w: capacity %d", ErrRegistryFull, cap(r.slots))
	}
	slot := len(r.slots)
	r.slots = append(r.slots, entry{chainID: chainID})
	r.byChain[chainID] = slot
	return slot, nil
}

// SetAdapter binds the adapter serving a registered chain.
func (r *Registry) SetAdapter(chainID uint32, adapter common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if adapter == (common.Address{}) {
		return ErrZeroAddress
	}
	slot, ok := r.byChain[chainID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrChainNotFound, chainID)
	}
	if r.slots[slot].adapter != (common.Address{}) {
		return fmt.Errorf("%w: chain %d", ErrAdapterAlreadyExists, chainID)
	}
	r.slots[slot].adapter = adapter
	return nil
}

// SetEndpointID maps chainID to a transport endpoint id in both directions.
// The chain is registered on first use. Either side may be bound only once.
func (r *Registry) SetEndpointID(chainID uint32, eid uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if eid == 0 {
		return ErrZeroEndpointID
	}
	if chainID == 0 {
		return ErrZeroChainID
	}
	if _, exists := r.byEid[eid]; exists {
		return fmt.Errorf("%w: eid %d", ErrEndpointAlreadyMapped, eid)
	}
	slot, ok := r.byChain[chainID]
	if ok && r.slots[slot].eid != 0 {
		return fmt.Errorf("%w: chain %d already has eid %d", ErrEndpointAlreadyMapped, chainID, r.slots[slot].eid)
	}
	if !ok {
		var err error
		if slot, err = r.addChain(chainID); err != nil {
			return err
		}
	}
	r.slots[slot].eid = eid
	r.byEid[eid] = slot
	return nil
}

// Slot returns the arena slot of chainID.
func (r *Registry) Slot(chainID uint32) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slot, ok := r.byChain[chainID]
	return slot, ok
}

// Has reports whether chainID is registered.
func (r *Registry) Has(chainID uint32) bool {
	_, ok := r.Slot(chainID)
	return ok
}

// Adapter returns the adapter bound to chainID.
func (r *Registry) Adapter(chainID uint32) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slot, ok := r.byChain[chainID]
	if !ok || r.slots[slot].adapter == (common.Address{}) {
		return common.Address{}, false
	}
	return r.slots[slot].adapter, true
}

// ChainIDFromEid returns the chain bound to eid.
func (r *Registry) ChainIDFromEid(eid uint32) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slot, ok := r.byEid[eid]
	if !ok {
		return 0, false
	}
	return r.slots[slot].chainID, true
}

// EidFromChainID returns the endpoint id bound to chainID.
func (r *Registry) EidFromChainID(chainID uint32) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slot, ok := r.byChain[chainID]
	if !ok || r.slots[slot].eid == 0 {
		return 0, false
	}
	return r.slots[slot].eid, true
}

// ChainIDs returns the registered chains in registration (slot) order.
func (r *Registry) ChainIDs() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uint32, len(r.slots))
	for i, e := range r.slots {
		ids[i] = e.chainID
	}
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.slots)
}

func (r *Registry) Cap() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return cap(r.slots)
}
