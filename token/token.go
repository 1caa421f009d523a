// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package token implements the canonical liquid token: a fungible balance
// table held in the slots of the token account, mintable and burnable by an
// owner-managed set of minters.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/restake/contract"
)

var (
	ErrNotOwner            = errors.New("caller is not the owner")
	ErrNotMinter           = errors.New("caller is not a minter")
	ErrZeroAddress         = errors.New("address cannot be zero")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient token balance")
)

var (
	balancePrefix = []byte("token/balance")
	minterPrefix  = []byte("token/minter")
	supplyKey     = contract.StorageKey([]byte("token/supply"))
	ownerKey      = contract.StorageKey([]byte("token/owner"))
)

const eventsABI = `[
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"MinterAdded","anonymous":false,"inputs":[
		{"name":"minter","type":"address","indexed":true}
	]}
]`

// Events is the token's event ABI.
var Events = contract.ParseABI(eventsABI)

// Token guards its own fields. Writers sharing its state are serialized with
// contract.Exec.
type Token struct {
	mu sync.Mutex

	state  contract.StateDB
	addr   common.Address
	slots  contract.Slots
	symbol string
}

// New binds a token to addr in state. The owner is written on first use and
// kept when the state already holds one.
func New(state contract.StateDB, addr, owner common.Address, symbol string) *Token {
	t := &Token{
		state:  state,
		addr:   addr,
		slots:  contract.NewSlots(state, addr),
		symbol: symbol,
	}
	if t.slots.Address(ownerKey) == (common.Address{}) {
		t.slots.SetAddress(ownerKey, owner)
	}
	return t
}

func (t *Token) Address() common.Address { return t.addr }

func (t *Token) Symbol() string { return t.symbol }

func (t *Token) Owner() common.Address {
	return t.slots.Address(ownerKey)
}

// AddMinter grants minting and burning rights.
func (t *Token) AddMinter(caller, minter common.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if caller != t.slots.Address(ownerKey) {
		return ErrNotOwner
	}
	if minter == (common.Address{}) {
		return ErrZeroAddress
	}
	t.slots.SetUint64(minterKey(minter), 1)
	return Events.Emit(t.state, t.addr, "MinterAdded", minter)
}

func (t *Token) IsMinter(addr common.Address) bool {
	return t.slots.Uint64(minterKey(addr)) == 1
}

func (t *Token) BalanceOf(addr common.Address) *big.Int {
	return t.slots.Big(balanceKey(addr))
}

func (t *Token) TotalSupply() *big.Int {
	return t.slots.Big(supplyKey)
}

// Mint creates amount tokens for to.
func (t *Token) Mint(caller, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.IsMinter(caller) {
		return fmt.Errorf("%w: %s", ErrNotMinter, caller.Hex())
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	t.slots.SetBig(supplyKey, new(big.Int).Add(t.TotalSupply(), amount))
	t.slots.SetBig(balanceKey(to), new(big.Int).Add(t.BalanceOf(to), amount))
	return Events.Emit(t.state, t.addr, "Transfer", common.Address{}, to, amount)
}

// Burn destroys amount tokens held by from. Minters may burn from any holder.
func (t *Token) Burn(caller, from common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.IsMinter(caller) {
		return fmt.Errorf("%w: %s", ErrNotMinter, caller.Hex())
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	bal := t.BalanceOf(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	t.slots.SetBig(balanceKey(from), bal.Sub(bal, amount))
	t.slots.SetBig(supplyKey, new(big.Int).Sub(t.TotalSupply(), amount))
	return Events.Emit(t.state, t.addr, "Transfer", from, common.Address{}, amount)
}

// Transfer moves amount from caller to to.
func (t *Token) Transfer(caller, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	bal := t.BalanceOf(caller)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, sending %s", ErrInsufficientBalance, caller.Hex(), bal, amount)
	}
	t.slots.SetBig(balanceKey(caller), bal.Sub(bal, amount))
	t.slots.SetBig(balanceKey(to), new(big.Int).Add(t.BalanceOf(to), amount))
	return Events.Emit(t.state, t.addr, "Transfer", caller, to, amount)
}

func balanceKey(addr common.Address) common.Hash {
	return contract.StorageKey(balancePrefix, addr.Bytes())
}

func minterKey(addr common.Address) common.Hash {
	return contract.StorageKey(minterPrefix, addr.Bytes())
}
