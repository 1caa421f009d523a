// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/restake/contract"
	"github.com/luxfi/restake/curve"
	"github.com/luxfi/restake/rebalancer"
	"github.com/luxfi/restake/registry"
	"github.com/luxfi/restake/token"
	"github.com/luxfi/restake/warp"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000dd")

	vaultAddr    = registry.ComponentAddress(registry.ComponentVault, registry.ChainArbitrum)
	tokenAddr    = registry.ComponentAddress(registry.ComponentToken, registry.ChainArbitrum)
	treasuryAddr = registry.ComponentAddress(registry.ComponentTreasury, registry.ChainArbitrum)
	adapterAddr  = registry.ComponentAddress(registry.ComponentAdapter, registry.ChainArbitrum)

	// 2% at empty, 1% from half capacity up
	testParams = curve.MustParams(2e8, 1e8, 50e8)
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// milli returns n * 1e15.
func milli(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e15))
}

type fixture struct {
	state *contract.State
	token *token.Token
	feed  *StaticRatioFeed
	vault *Vault
}

func newFixture(t *testing.T, protocolFee uint64) *fixture {
	require := require.New(t)

	state := contract.NewState(nil)
	state.SetTime(1_700_000_000)
	tok := token.New(state, tokenAddr, owner, "inETH")
	require.NoError(tok.AddMinter(owner, vaultAddr))

	feed := NewStaticRatioFeed()
	require.NoError(feed.SetRatio(tokenAddr, big.NewInt(1e18)))

	v, err := New(Config{
		Address:        vaultAddr,
		Owner:          owner,
		Operator:       operator,
		Treasury:       treasuryAddr,
		State:          state,
		Token:          tok,
		RatioFeed:      feed,
		TargetCapacity: e18(100),
		BonusParams:    testParams,
		FeeParams:      testParams,
		ProtocolFee:    protocolFee,
		MinAmount:      big.NewInt(100),
		MaxTVL:         e18(1000),
	})
	require.NoError(err)

	require.NoError(contract.Mint(state, alice, e18(1000)))
	require.NoError(contract.Mint(state, bob, e18(1000)))
	require.NoError(contract.Mint(state, operator, e18(1)))
	return &fixture{state: state, token: tok, feed: feed, vault: v}
}

func (f *fixture) balance(addr common.Address) *big.Int {
	return contract.BalanceOf(f.state, addr)
}

func (f *fixture) count(name string) int {
	return len(contract.FilterLogs(f.state.Logs(), vaultAddr, Events, name))
}

func TestDeposit(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 50e8)

	shares, err := f.vault.Deposit(alice, e18(100), alice)
	require.NoError(err)
	require.Equal(e18(100).String(), shares.String())
	require.Equal(e18(100).String(), f.token.BalanceOf(alice).String())
	require.Equal(e18(900).String(), f.balance(alice).String())
	require.Equal(e18(100).String(), f.vault.TotalAssets().String())
	require.Equal(f.vault.TotalAssets().String(), f.vault.FlashCapacity().String())
	require.Equal(1, f.count("Deposit"))
	require.Zero(f.count("DepositBonus"))

	// a lower ratio means fewer shares per asset
	require.NoError(f.feed.SetRatio(tokenAddr, big.NewInt(5e17)))
	shares, err = f.vault.Deposit(bob, e18(10), alice)
	require.NoError(err)
	require.Equal(e18(5).String(), shares.String())

	assets, err := f.vault.ConvertToAssets(e18(5))
	require.NoError(err)
	require.Equal(e18(10).String(), assets.String())
	shares, err = f.vault.ConvertToShares(e18(10))
	require.NoError(err)
	require.Equal(e18(5).String(), shares.String())
}

func TestDepositErrors(t *testing.T) {
	f := newFixture(t, 0)

	tests := []struct {
		name     string
		value    *big.Int
		receiver common.Address
		err      error
	}{
		{"zero receiver", e18(1), common.Address{}, ErrNullParams},
		{"nil value", nil, alice, ErrNullParams},
		{"zero value", new(big.Int), alice, ErrNullParams},
		{"below min", big.NewInt(99), alice, ErrLowerMinAmount},
		{"more than balance", e18(1001), alice, contract.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.vault.Deposit(alice, tt.value, tt.receiver)
			require.ErrorIs(t, err, tt.err)
		})
	}

	// shares round to zero: the pulled value is returned
	require.NoError(t, f.feed.SetRatio(tokenAddr, big.NewInt(1)))
	_, err := f.vault.Deposit(alice, big.NewInt(1000), alice)
	require.ErrorIs(t, err, ErrResultISharesZero)
	require.Equal(t, e18(1000).String(), f.balance(alice).String())
	require.Zero(t, f.count("Deposit"))
}

func TestRatioFeedNotSet(t *testing.T) {
	require := require.New(t)
	state := contract.NewState(nil)
	v, err := New(Config{
		Address:  vaultAddr,
		Owner:    owner,
		Treasury: treasuryAddr,
		State:    state,
		Token:    token.New(state, tokenAddr, owner, "inETH"),
	})
	require.NoError(err)

	_, err = v.Deposit(alice, e18(1), alice)
	require.ErrorIs(err, ErrRatioFeedNotSet)
	_, err = v.FlashWithdraw(alice, e18(1), alice)
	require.ErrorIs(err, ErrRatioFeedNotSet)

	feed := NewStaticRatioFeed()
	require.ErrorIs(v.SetRatioFeed(stranger, feed), ErrOnlyOwner)
	require.NoError(v.SetRatioFeed(owner, feed))
	_, err = v.Ratio()
	require.ErrorIs(err, ErrInvalidRatio)
	require.ErrorIs(feed.SetRatio(tokenAddr, new(big.Int)), ErrInvalidRatio)
}

func TestFlashWithdraw(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 50e8)

	_, err := f.vault.Deposit(alice, e18(100), alice)
	require.NoError(err)

	w, err := f.vault.FlashWithdraw(alice, e18(50), bob)
	require.NoError(err)
	// flat 1% segment from 100 down to 50
	require.Equal(e18(50).String(), w.Amount.String())
	require.Equal(milli(500).String(), w.Fee.String())
	require.Equal(milli(250).String(), w.ProtocolFee.String())
	require.Equal(milli(250).String(), w.Bonus.String())

	require.Equal(e18(50).String(), f.token.BalanceOf(alice).String())
	require.Equal(new(big.Int).Add(e18(1000), milli(49_500)).String(), f.balance(bob).String())
	require.Equal(milli(250).String(), f.balance(treasuryAddr).String())
	require.Equal(milli(250).String(), f.vault.DepositBonusAmount().String())
	require.Equal(e18(50).String(), f.vault.TotalAssets().String())
	require.Equal(1, f.count("FlashWithdraw"))
	require.Equal(1, f.count("WithdrawalFee"))

	_, err = f.vault.FlashWithdraw(alice, new(big.Int), bob)
	require.ErrorIs(err, ErrNullParams)
	_, err = f.vault.FlashWithdraw(alice, e18(1), common.Address{})
	require.ErrorIs(err, ErrNullParams)
	_, err = f.vault.FlashWithdraw(alice, big.NewInt(99), bob)
	require.ErrorIs(err, ErrLowerMinAmount)

	// bob holds no shares
	_, err = f.vault.FlashWithdraw(bob, e18(1), bob)
	require.ErrorIs(err, token.ErrInsufficientBalance)
	require.Equal(milli(250).String(), f.vault.DepositBonusAmount().String())
}

func TestFlashWithdrawFeeSplit(t *testing.T) {
	amounts := []*big.Int{
		big.NewInt(100),
		e18(1),
		e18(10),
		e18(37),
		new(big.Int).Add(e18(60), big.NewInt(1)),
		e18(100),
	}
	for _, protocolFee := range []uint64{0, 1, 25e8, 50e8, 333333333, curve.MaxPercent} {
		for _, amount := range amounts {
			t.Run(fmt.Sprintf("fee %d amount %s", protocolFee, amount), func(t *testing.T) {
				require := require.New(t)
				f := newFixture(t, protocolFee)
				_, err := f.vault.Deposit(alice, e18(100), alice)
				require.NoError(err)

				treasuryBefore := f.balance(treasuryAddr)
				poolBefore := f.vault.DepositBonusAmount()

				w, err := f.vault.FlashWithdraw(alice, amount, bob)
				require.NoError(err)

				treasuryDelta := new(big.Int).Sub(f.balance(treasuryAddr), treasuryBefore)
				poolDelta := new(big.Int).Sub(f.vault.DepositBonusAmount(), poolBefore)
				require.Equal(w.Fee.String(), new(big.Int).Add(treasuryDelta, poolDelta).String())

				want := new(big.Int).Mul(w.Fee, new(big.Int).SetUint64(protocolFee))
				want.Div(want, new(big.Int).SetUint64(curve.MaxPercent))
				require.Equal(want.String(), treasuryDelta.String())
			})
		}
	}
}

func TestFlashWithdrawInsufficientCapacity(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 50e8)

	_, err := f.vault.Deposit(alice, e18(10), alice)
	require.NoError(err)

	// the ratio halves, so alice's shares are worth twice the capacity
	require.NoError(f.feed.SetRatio(tokenAddr, big.NewInt(5e17)))

	vaultBefore := f.balance(vaultAddr)
	bobBefore := f.balance(bob)
	for _, shares := range []*big.Int{e18(10), new(big.Int).Add(e18(5), big.NewInt(1))} {
		_, err = f.vault.FlashWithdraw(alice, shares, bob)
		require.ErrorIs(err, curve.ErrInsufficientCapacity)

		var capErr *curve.InsufficientCapacityError
		require.True(errors.As(err, &capErr))
		require.Equal(e18(10).String(), capErr.Capacity.String())
	}

	require.Equal(e18(10).String(), f.token.BalanceOf(alice).String())
	require.Equal(vaultBefore.String(), f.balance(vaultAddr).String())
	require.Equal(bobBefore.String(), f.balance(bob).String())
	require.Zero(f.count("FlashWithdraw"))

	// exactly the capacity is allowed
	w, err := f.vault.FlashWithdraw(alice, e18(5), bob)
	require.NoError(err)
	require.Equal(e18(10).String(), w.Amount.String())
	require.Equal(new(big.Int).Add(bobBefore, new(big.Int).Sub(e18(10), w.Fee)).String(), f.balance(bob).String())
}

func TestDepositBonusFromPool(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 50e8)

	// no pool, no bonus
	_, err := f.vault.Deposit(alice, e18(100), alice)
	require.NoError(err)
	require.Zero(f.vault.CalculateDepositBonus(e18(10)).Sign())

	_, err = f.vault.FlashWithdraw(alice, e18(50), alice)
	require.NoError(err)
	require.Equal(milli(250).String(), f.vault.DepositBonusAmount().String())

	// flat 1% from 50 up
	require.Equal(milli(100).String(), f.vault.CalculateDepositBonus(e18(10)).String())
	shares, err := f.vault.Deposit(bob, e18(10), bob)
	require.NoError(err)
	require.Equal(milli(10_100).String(), shares.String())
	require.Equal(milli(150).String(), f.vault.DepositBonusAmount().String())
	require.Equal(milli(60_100).String(), f.vault.TotalAssets().String())

	// the curve would pay 0.399; the pool only holds 0.15
	shares, err = f.vault.Deposit(bob, e18(40), bob)
	require.NoError(err)
	require.Equal(milli(40_150).String(), shares.String())
	require.Zero(f.vault.DepositBonusAmount().Sign())
	require.Equal(2, f.count("DepositBonus"))

	shares, err = f.vault.Deposit(bob, e18(1), bob)
	require.NoError(err)
	require.Equal(e18(1).String(), shares.String())
	require.Equal(2, f.count("DepositBonus"))
}

func TestOwnerConfiguration(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 0)
	v := f.vault

	require.ErrorIs(v.SetProtocolFee(stranger, 1), ErrOnlyOwner)
	require.ErrorIs(v.SetProtocolFee(owner, curve.MaxPercent+1), curve.ErrParameterExceedsLimits)
	require.NoError(v.SetProtocolFee(owner, curve.MaxPercent))
	require.Equal(curve.MaxPercent, v.ProtocolFee())

	require.ErrorIs(v.SetDepositBonusParams(owner, curve.MaxPercent+1, 0, 0), curve.ErrParameterExceedsLimits)
	require.ErrorIs(v.SetFlashWithdrawFeeParams(owner, 0, 0, curve.MaxPercent+1), curve.ErrParameterExceedsLimits)
	require.ErrorIs(v.SetFlashWithdrawFeeParams(stranger, 0, 0, 0), ErrOnlyOwner)
	// inverted parameters are accepted as configured
	require.NoError(v.SetDepositBonusParams(owner, 1e8, 2e8, 50e8))
	require.NoError(v.SetFlashWithdrawFeeParams(owner, 3e8, 3e8, 25e8))
	require.Equal(1, f.count("DepositBonusParamsChanged"))
	require.Equal(1, f.count("WithdrawFeeParamsChanged"))

	require.ErrorIs(v.SetTargetFlashCapacity(owner, new(big.Int)), ErrNullParams)
	require.NoError(v.SetTargetFlashCapacity(owner, e18(500)))
	require.Equal(e18(500).String(), v.TargetCapacity().String())

	require.ErrorIs(v.SetTreasury(owner, common.Address{}), ErrZeroAddress)
	require.NoError(v.SetTreasury(owner, bob))

	require.ErrorIs(v.SetMinAmount(owner, big.NewInt(-1)), ErrNullParams)
	require.NoError(v.SetMinAmount(owner, e18(1)))
	require.Equal(e18(1).String(), v.MinStake().String())
	_, err := v.Deposit(alice, milli(999), alice)
	require.ErrorIs(err, ErrLowerMinAmount)

	require.NoError(v.TransferOwnership(owner, alice))
	require.ErrorIs(v.SetMaxTVL(owner, e18(1)), ErrOnlyOwner)
	require.NoError(v.SetMaxTVL(alice, e18(1)))

	_, err = New(Config{Address: vaultAddr, Owner: owner, Treasury: treasuryAddr, State: f.state, Token: f.token, ProtocolFee: curve.MaxPercent + 1})
	require.ErrorIs(err, curve.ErrParameterExceedsLimits)
}

func TestStakeAsRestakingPool(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 0)
	var pool rebalancer.RestakingPool = f.vault

	_, err := f.vault.Deposit(alice, e18(400), alice)
	require.NoError(err)
	require.Equal(e18(600).String(), pool.AvailableToStake().String())

	_, err = pool.Stake(bob, e18(601), bob)
	require.ErrorIs(err, rebalancer.ErrStakeAmountExceedsMaxTVL)
	_, err = pool.Stake(bob, big.NewInt(1), bob)
	require.ErrorIs(err, ErrLowerMinAmount)

	shares, err := pool.Stake(bob, e18(600), bob)
	require.NoError(err)
	require.Equal(e18(600).String(), shares.String())
	require.Zero(pool.AvailableToStake().Sign())

	require.NoError(f.vault.SetMaxTVL(owner, e18(10)))
	require.Zero(pool.AvailableToStake().Sign())
}

// mockAdapter pulls what it is sent and refunds value less a flat fee.
type mockAdapter struct {
	state   contract.StateDB
	fee     *big.Int
	reports []warp.Report
	sent    []*big.Int
}

func (m *mockAdapter) Address() common.Address { return adapterAddr }

func (m *mockAdapter) SendReport(_ context.Context, caller common.Address, value *big.Int, report warp.Report, _ []byte) (warp.Receipt, error) {
	if value.Cmp(m.fee) < 0 {
		return warp.Receipt{}, errors.New("fee too low")
	}
	if err := contract.Transfer(m.state, caller, adapterAddr, value); err != nil {
		return warp.Receipt{}, err
	}
	if err := contract.Transfer(m.state, adapterAddr, caller, new(big.Int).Sub(value, m.fee)); err != nil {
		return warp.Receipt{}, err
	}
	m.reports = append(m.reports, report)
	return warp.Receipt{GUID: ids.GenerateTestID(), Fee: new(big.Int).Set(m.fee)}, nil
}

func (m *mockAdapter) SendEthToL1(_ context.Context, caller common.Address, value *big.Int, _ []byte) (warp.Receipt, error) {
	if err := contract.Transfer(m.state, caller, adapterAddr, value); err != nil {
		return warp.Receipt{}, err
	}
	m.sent = append(m.sent, value)
	return warp.Receipt{GUID: ids.GenerateTestID(), Fee: new(big.Int).Set(m.fee)}, nil
}

func TestReportToL1(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 0)
	ctx := context.Background()
	a := &mockAdapter{state: f.state, fee: big.NewInt(1000)}

	_, err := f.vault.SendAssetsInfoToL1(ctx, operator, big.NewInt(5000), nil)
	require.ErrorIs(err, ErrCrossChainAdapterNotSet)
	require.ErrorIs(f.vault.SetCrossChainAdapter(stranger, a), ErrOnlyOwner)
	require.NoError(f.vault.SetCrossChainAdapter(owner, a))

	_, err = f.vault.Deposit(alice, e18(30), alice)
	require.NoError(err)

	_, err = f.vault.SendAssetsInfoToL1(ctx, stranger, big.NewInt(5000), nil)
	require.ErrorIs(err, ErrOnlyOperator)

	operatorBefore := f.balance(operator)
	receipt, err := f.vault.SendAssetsInfoToL1(ctx, operator, big.NewInt(5000), nil)
	require.NoError(err)
	require.Equal(big.NewInt(1000).String(), receipt.Fee.String())
	require.Equal(new(big.Int).Sub(operatorBefore, big.NewInt(1000)).String(), f.balance(operator).String())
	require.Equal(e18(30).String(), f.vault.TotalAssets().String())

	require.Len(a.reports, 1)
	require.Equal(f.state.Time(), a.reports[0].Timestamp)
	require.Equal(e18(30).String(), a.reports[0].EthBalance.String())
	require.Equal(e18(30).String(), a.reports[0].Supply.String())
	require.Equal(1, f.count("AssetsInfoSentToL1"))

	// a failing send leaves the operator's value untouched
	_, err = f.vault.SendAssetsInfoToL1(ctx, operator, big.NewInt(999), nil)
	require.Error(err)
	require.Equal(new(big.Int).Sub(operatorBefore, big.NewInt(1000)).String(), f.balance(operator).String())

	_, err = f.vault.SendEthToL1(ctx, operator, e18(31), nil)
	require.ErrorIs(err, curve.ErrInsufficientCapacity)
	_, err = f.vault.SendEthToL1(ctx, operator, e18(20), nil)
	require.NoError(err)
	require.Len(a.sent, 1)
	require.Equal(e18(10).String(), f.vault.TotalAssets().String())
}

func TestReceive(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.vault.Receive(adapterAddr, e18(1)))
	require.Equal(t, 1, f.count("ETHReceived"))
}

func TestDepositsSharingStateKeepTheirWrites(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, 0)

	// a second vault on the same chain whose deposits always revert after
	// moving value
	otherAddr := registry.ComponentAddress(registry.ComponentVault, registry.ChainOptimism)
	otherToken := token.New(f.state, registry.ComponentAddress(registry.ComponentToken, registry.ChainOptimism), owner, "inETH")
	require.NoError(otherToken.AddMinter(owner, otherAddr))
	feed := NewStaticRatioFeed()
	require.NoError(feed.SetRatio(otherToken.Address(), big.NewInt(1)))
	other, err := New(Config{
		Address:        otherAddr,
		Owner:          owner,
		Operator:       operator,
		Treasury:       treasuryAddr,
		State:          f.state,
		Token:          otherToken,
		RatioFeed:      feed,
		TargetCapacity: e18(100),
		BonusParams:    testParams,
		FeeParams:      testParams,
		MinAmount:      big.NewInt(100),
		MaxTVL:         e18(1000),
	})
	require.NoError(err)

	const (
		calls  = 2000
		amount = 1000
	)
	var (
		wg        sync.WaitGroup
		succeeded int64
		failures  []error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < calls; i++ {
			err := f.state.Exec(func() error {
				_, err := f.vault.Deposit(alice, big.NewInt(amount), alice)
				return err
			})
			if err == nil {
				succeeded++
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < calls; i++ {
			err := f.state.Exec(func() error {
				_, err := other.Deposit(bob, big.NewInt(amount), bob)
				return err
			})
			if !errors.Is(err, ErrResultISharesZero) {
				failures = append(failures, err)
			}
		}
	}()
	wg.Wait()

	require.Empty(failures)
	require.Equal(int64(calls), succeeded)
	want := big.NewInt(calls * amount)
	require.Equal(want.String(), f.token.BalanceOf(alice).String())
	require.Equal(want.String(), f.balance(vaultAddr).String())
	require.Zero(f.balance(otherAddr).Sign())
	require.Equal(e18(1000).String(), f.balance(bob).String())
}
