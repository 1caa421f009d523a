// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package token

import (
	"math/big"
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/restake/contract"
)

var (
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000070c1")
	owner     = common.HexToAddress("0x000000000000000000000000000000000000000a")
	minter    = common.HexToAddress("0x000000000000000000000000000000000000000b")
	alice     = common.HexToAddress("0x000000000000000000000000000000000000000c")
	bob       = common.HexToAddress("0x000000000000000000000000000000000000000d")
)

func newTestToken(t *testing.T) (*Token, *contract.State) {
	state := contract.NewState(nil)
	tok := New(state, tokenAddr, owner, "inETH")
	require.NoError(t, tok.AddMinter(owner, minter))
	return tok, state
}

func TestAddMinter(t *testing.T) {
	require := require.New(t)
	tok, _ := newTestToken(t)

	require.ErrorIs(tok.AddMinter(alice, bob), ErrNotOwner)
	require.ErrorIs(tok.AddMinter(owner, common.Address{}), ErrZeroAddress)
	require.True(tok.IsMinter(minter))
	require.False(tok.IsMinter(alice))
	require.Equal("inETH", tok.Symbol())
	require.Equal(owner, tok.Owner())
}

func TestMintBurn(t *testing.T) {
	require := require.New(t)
	tok, state := newTestToken(t)

	require.ErrorIs(tok.Mint(alice, alice, big.NewInt(1)), ErrNotMinter)
	require.ErrorIs(tok.Mint(minter, common.Address{}, big.NewInt(1)), ErrZeroAddress)
	require.ErrorIs(tok.Mint(minter, alice, big.NewInt(0)), ErrInvalidAmount)

	require.NoError(tok.Mint(minter, alice, big.NewInt(100)))
	require.Equal(big.NewInt(100), tok.BalanceOf(alice))
	require.Equal(big.NewInt(100), tok.TotalSupply())

	require.ErrorIs(tok.Burn(minter, alice, big.NewInt(101)), ErrInsufficientBalance)
	require.ErrorIs(tok.Burn(alice, alice, big.NewInt(1)), ErrNotMinter)
	require.NoError(tok.Burn(minter, alice, big.NewInt(40)))
	require.Equal(big.NewInt(60), tok.BalanceOf(alice))
	require.Equal(big.NewInt(60), tok.TotalSupply())

	transfers := contract.FilterLogs(state.Logs(), tokenAddr, Events, "Transfer")
	require.Len(transfers, 2)
	require.Equal(common.Hash{}, transfers[0].Topics[1])
	require.Equal(common.BytesToHash(alice.Bytes()), transfers[0].Topics[2])
}

func TestTransfer(t *testing.T) {
	require := require.New(t)
	tok, _ := newTestToken(t)
	require.NoError(tok.Mint(minter, alice, big.NewInt(10)))

	require.ErrorIs(tok.Transfer(alice, bob, big.NewInt(11)), ErrInsufficientBalance)
	require.ErrorIs(tok.Transfer(alice, common.Address{}, big.NewInt(1)), ErrZeroAddress)

	require.NoError(tok.Transfer(alice, bob, big.NewInt(4)))
	require.NoError(tok.Transfer(alice, alice, big.NewInt(6)))
	require.Equal(big.NewInt(6), tok.BalanceOf(alice))
	require.Equal(big.NewInt(4), tok.BalanceOf(bob))
	require.Equal(big.NewInt(10), tok.TotalSupply())
}

func TestReopenKeepsOwnerAndBalances(t *testing.T) {
	require := require.New(t)
	db := memdb.New()
	defer db.Close()

	state := contract.NewState(db)
	tok := New(state, tokenAddr, owner, "inETH")
	require.NoError(tok.AddMinter(owner, minter))
	require.NoError(tok.Mint(minter, alice, big.NewInt(7)))
	require.NoError(state.Commit())

	reopened := New(contract.NewState(db), tokenAddr, alice, "inETH")
	require.Equal(owner, reopened.Owner())
	require.True(reopened.IsMinter(minter))
	require.Equal(big.NewInt(7), reopened.BalanceOf(alice))
}
