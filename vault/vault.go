// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vault implements the restaking vault: native deposits minted into
// shares at the oracle ratio, flash withdrawals priced by the utilization
// curve, and the bonus pool that recycles withdrawal fees into deposit
// bonuses.
package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/restake/contract"
	"github.com/luxfi/restake/curve"
	"github.com/luxfi/restake/rebalancer"
	"github.com/luxfi/restake/warp"
)

var (
	ErrZeroAddress             = errors.New("address cannot be zero")
	ErrNullParams              = errors.New("null params")
	ErrLowerMinAmount          = errors.New("amount is lower than the minimum")
	ErrResultISharesZero       = errors.New("resulting shares are zero")
	ErrRatioFeedNotSet         = errors.New("ratio feed not set")
	ErrCrossChainAdapterNotSet = errors.New("crosschain adapter not set")
	ErrOnlyOwner               = errors.New("caller is not the owner")
	ErrOnlyOperator            = errors.New("caller is not the operator")
)

// Token is the share token. The vault must be a minter.
type Token interface {
	Address() common.Address
	BalanceOf(addr common.Address) *big.Int
	TotalSupply() *big.Int
	Mint(caller, to common.Address, amount *big.Int) error
	Burn(caller, from common.Address, amount *big.Int) error
}

// CrossChainAdapter is the L2 adapter an L2 vault reports through.
type CrossChainAdapter interface {
	Address() common.Address
	SendReport(ctx context.Context, caller common.Address, value *big.Int, report warp.Report, options []byte) (warp.Receipt, error)
	SendEthToL1(ctx context.Context, caller common.Address, value *big.Int, options []byte) (warp.Receipt, error)
}

var _ rebalancer.RestakingPool = (*Vault)(nil)

const eventsABI = `[
	{"type":"event","name":"Deposit","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"receiver","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"iShares","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"DepositBonus","anonymous":false,"inputs":[
		{"name":"amount","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"FlashWithdraw","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"receiver","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"iShares","type":"uint256","indexed":false},
		{"name":"fee","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"WithdrawalFee","anonymous":false,"inputs":[
		{"name":"fee","type":"uint256","indexed":false},
		{"name":"protocolFee","type":"uint256","indexed":false},
		{"name":"bonus","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"ETHReceived","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"AssetsInfoSentToL1","anonymous":false,"inputs":[
		{"name":"timestamp","type":"uint256","indexed":false},
		{"name":"ethBalance","type":"uint256","indexed":false},
		{"name":"supply","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"TargetCapacityChanged","anonymous":false,"inputs":[
		{"name":"previous","type":"uint256","indexed":false},
		{"name":"target","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"DepositBonusParamsChanged","anonymous":false,"inputs":[
		{"name":"maxRate","type":"uint256","indexed":false},
		{"name":"optimalRate","type":"uint256","indexed":false},
		{"name":"kink","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"WithdrawFeeParamsChanged","anonymous":false,"inputs":[
		{"name":"maxRate","type":"uint256","indexed":false},
		{"name":"optimalRate","type":"uint256","indexed":false},
		{"name":"kink","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"ProtocolFeeChanged","anonymous":false,"inputs":[
		{"name":"previous","type":"uint256","indexed":false},
		{"name":"fee","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"TreasuryChanged","anonymous":false,"inputs":[
		{"name":"previous","type":"address","indexed":true},
		{"name":"treasury","type":"address","indexed":true}
	]},
	{"type":"event","name":"OwnershipTransferred","anonymous":false,"inputs":[
		{"name":"previousOwner","type":"address","indexed":true},
		{"name":"newOwner","type":"address","indexed":true}
	]}
]`

// Events is the vault's event ABI.
var Events = contract.ParseABI(eventsABI)

var bonusPoolKey = contract.StorageKey([]byte("vault/bonus"))

type Config struct {
	Address   common.Address
	Owner     common.Address
	Operator  common.Address
	Treasury  common.Address
	State     contract.StateDB
	Token     Token
	RatioFeed RatioFeed

	TargetCapacity *big.Int
	BonusParams    curve.Params
	FeeParams      curve.Params
	// ProtocolFee is the treasury's share of a withdrawal fee, in
	// curve.MaxPercent parts.
	ProtocolFee uint64
	MinAmount   *big.Int
	MaxTVL      *big.Int

	Registerer prometheus.Registerer
	Log        log.Logger
}

// Withdrawal is the outcome of a flash withdrawal.
type Withdrawal struct {
	Amount      *big.Int
	Fee         *big.Int
	ProtocolFee *big.Int
	Bonus       *big.Int
}

// Vault guards its own fields and may be shared between goroutines. Every
// entry point is all-or-nothing as long as writers to the same state are
// serialized with contract.Exec.
type Vault struct {
	mu sync.Mutex

	log     log.Logger
	metrics *metrics

	addr     common.Address
	state    contract.StateDB
	slots    contract.Slots
	token    Token
	feed     RatioFeed
	adapter  CrossChainAdapter
	owner    common.Address
	operator common.Address
	treasury common.Address

	target      *big.Int
	bonusParams curve.Params
	feeParams   curve.Params
	protocolFee uint64
	minAmount   *big.Int
	maxTVL      *big.Int
}

func New(cfg Config) (*Vault, error) {
	if cfg.Address == (common.Address{}) || cfg.Owner == (common.Address{}) || cfg.Treasury == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if cfg.State == nil || cfg.Token == nil {
		return nil, errors.New("vault requires a state and a token")
	}
	if cfg.ProtocolFee > curve.MaxPercent {
		return nil, fmt.Errorf("%w: protocol fee %d", curve.ErrParameterExceedsLimits, cfg.ProtocolFee)
	}
	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	v := &Vault{
		log:         logger,
		metrics:     m,
		addr:        cfg.Address,
		state:       cfg.State,
		slots:       contract.NewSlots(cfg.State, cfg.Address),
		token:       cfg.Token,
		feed:        cfg.RatioFeed,
		owner:       cfg.Owner,
		operator:    cfg.Operator,
		treasury:    cfg.Treasury,
		target:      orZero(cfg.TargetCapacity),
		bonusParams: cfg.BonusParams,
		feeParams:   cfg.FeeParams,
		protocolFee: cfg.ProtocolFee,
		minAmount:   orZero(cfg.MinAmount),
		maxTVL:      orZero(cfg.MaxTVL),
	}
	v.warnInverted("deposit bonus", v.bonusParams)
	v.warnInverted("withdraw fee", v.feeParams)
	return v, nil
}

func (v *Vault) Address() common.Address { return v.addr }

// TotalAssets is the vault's native balance less the bonus pool.
func (v *Vault) TotalAssets() *big.Int {
	assets := contract.BalanceOf(v.state, v.addr)
	assets.Sub(assets, v.DepositBonusAmount())
	if assets.Sign() < 0 {
		return new(big.Int)
	}
	return assets
}

// FlashCapacity is the amount available for instant withdrawal.
func (v *Vault) FlashCapacity() *big.Int {
	return v.TotalAssets()
}

// DepositBonusAmount is the fee pool deposit bonuses are paid from.
func (v *Vault) DepositBonusAmount() *big.Int {
	return v.slots.Big(bonusPoolKey)
}

func (v *Vault) TargetCapacity() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return new(big.Int).Set(v.target)
}

func (v *Vault) ProtocolFee() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.protocolFee
}

// Ratio returns the current shares-per-asset ratio.
func (v *Vault) Ratio() (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.ratio()
}

func (v *Vault) ratio() (*big.Int, error) {
	if v.feed == nil {
		return nil, ErrRatioFeedNotSet
	}
	r := v.feed.Ratio(v.token.Address())
	if r == nil || r.Sign() <= 0 {
		return nil, fmt.Errorf("%w: no ratio for %s", ErrInvalidRatio, v.token.Address().Hex())
	}
	return r, nil
}

func (v *Vault) ConvertToShares(assets *big.Int) (*big.Int, error) {
	r, err := v.Ratio()
	if err != nil {
		return nil, err
	}
	return toShares(assets, r), nil
}

func (v *Vault) ConvertToAssets(shares *big.Int) (*big.Int, error) {
	r, err := v.Ratio()
	if err != nil {
		return nil, err
	}
	return toAssets(shares, r), nil
}

// CalculateDepositBonus is the bonus a deposit of amount would receive now.
func (v *Vault) CalculateDepositBonus(amount *big.Int) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.depositBonus(amount, v.FlashCapacity())
}

// CalculateFlashWithdrawFee is the fee a flash withdrawal of amount would
// pay now.
func (v *Vault) CalculateFlashWithdrawFee(amount *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	return curve.FlashFee(amount, v.FlashCapacity(), v.target, v.feeParams)
}

// Deposit takes value from caller and mints shares to receiver. A bonus
// drawn from the accumulated fee pool is added before conversion.
func (v *Vault) Deposit(caller common.Address, value *big.Int, receiver common.Address) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	shares, err := v.deposit(caller, value, receiver)
	if err != nil {
		return nil, err
	}
	v.metrics.deposit("deposit")
	return shares, nil
}

func (v *Vault) deposit(caller common.Address, value *big.Int, receiver common.Address) (*big.Int, error) {
	if receiver == (common.Address{}) || value == nil || value.Sign() <= 0 {
		return nil, ErrNullParams
	}
	if value.Cmp(v.minAmount) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrLowerMinAmount, value, v.minAmount)
	}
	ratio, err := v.ratio()
	if err != nil {
		return nil, err
	}
	capacity := v.FlashCapacity()

	var shares, bonus *big.Int
	err = contract.Call(v.state, func() error {
		if err := contract.Transfer(v.state, caller, v.addr, value); err != nil {
			return err
		}
		bonus = v.depositBonus(value, capacity)
		if bonus.Sign() > 0 {
			v.slots.SetBig(bonusPoolKey, new(big.Int).Sub(v.DepositBonusAmount(), bonus))
			if err := Events.Emit(v.state, v.addr, "DepositBonus", bonus); err != nil {
				return err
			}
		}
		shares = toShares(new(big.Int).Add(value, bonus), ratio)
		if shares.Sign() == 0 {
			return ErrResultISharesZero
		}
		if err := v.token.Mint(v.addr, receiver, shares); err != nil {
			return err
		}
		return Events.Emit(v.state, v.addr, "Deposit", caller, receiver, value, shares)
	})
	if err != nil {
		return nil, err
	}
	if bonus.Sign() > 0 {
		v.metrics.bonusesPaid.Inc()
	}
	v.log.Debug("deposit",
		log.Stringer("sender", caller),
		log.Stringer("receiver", receiver),
		log.Stringer("amount", value),
		log.Stringer("bonus", bonus),
		log.Stringer("shares", shares),
	)
	return shares, nil
}

// depositBonus is the curve bonus for amount, capped by the pool.
func (v *Vault) depositBonus(amount, capacity *big.Int) *big.Int {
	pool := v.DepositBonusAmount()
	if pool.Sign() == 0 || amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	bonus := curve.DepositBonus(amount, capacity, v.target, v.bonusParams)
	if bonus.Cmp(pool) > 0 {
		return pool
	}
	return bonus
}

// FlashWithdraw burns shares held by caller and pays their asset value,
// less the curve fee, to receiver. The fee is split between the treasury
// and the bonus pool.
func (v *Vault) FlashWithdraw(caller common.Address, shares *big.Int, receiver common.Address) (Withdrawal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if receiver == (common.Address{}) || shares == nil || shares.Sign() <= 0 {
		return Withdrawal{}, ErrNullParams
	}
	ratio, err := v.ratio()
	if err != nil {
		return Withdrawal{}, err
	}
	amount := toAssets(shares, ratio)
	if amount.Cmp(v.minAmount) < 0 || amount.Sign() == 0 {
		return Withdrawal{}, fmt.Errorf("%w: %s < %s", ErrLowerMinAmount, amount, v.minAmount)
	}
	fee, err := curve.FlashFee(amount, v.FlashCapacity(), v.target, v.feeParams)
	if err != nil {
		return Withdrawal{}, err
	}

	w := Withdrawal{
		Amount:      amount,
		Fee:         fee,
		ProtocolFee: splitFee(fee, v.protocolFee),
	}
	w.Bonus = new(big.Int).Sub(fee, w.ProtocolFee)

	err = contract.Call(v.state, func() error {
		if err := v.token.Burn(v.addr, caller, shares); err != nil {
			return err
		}
		v.slots.SetBig(bonusPoolKey, new(big.Int).Add(v.DepositBonusAmount(), w.Bonus))
		if err := contract.Transfer(v.state, v.addr, receiver, new(big.Int).Sub(amount, fee)); err != nil {
			return err
		}
		if err := contract.Transfer(v.state, v.addr, v.treasury, w.ProtocolFee); err != nil {
			return err
		}
		if err := Events.Emit(v.state, v.addr, "FlashWithdraw", caller, receiver, amount, shares, fee); err != nil {
			return err
		}
		return Events.Emit(v.state, v.addr, "WithdrawalFee", fee, w.ProtocolFee, w.Bonus)
	})
	if err != nil {
		return Withdrawal{}, err
	}
	v.metrics.withdrawals.Inc()
	if fee.Sign() > 0 {
		v.metrics.feesCollected.Inc()
	}
	v.log.Debug("flash withdraw",
		log.Stringer("sender", caller),
		log.Stringer("receiver", receiver),
		log.Stringer("amount", amount),
		log.Stringer("fee", fee),
	)
	return w, nil
}

// splitFee is the treasury's part of fee.
func splitFee(fee *big.Int, protocolFee uint64) *big.Int {
	out := new(big.Int).Mul(fee, new(big.Int).SetUint64(protocolFee))
	return out.Div(out, new(big.Int).SetUint64(curve.MaxPercent))
}

// AvailableToStake is the room left under the TVL cap.
func (v *Vault) AvailableToStake() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.availableToStake()
}

func (v *Vault) availableToStake() *big.Int {
	available := new(big.Int).Sub(v.maxTVL, v.TotalAssets())
	if available.Sign() < 0 {
		return new(big.Int)
	}
	return available
}

func (v *Vault) MinStake() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return new(big.Int).Set(v.minAmount)
}

// Stake is a deposit bounded by the TVL cap.
func (v *Vault) Stake(caller common.Address, value *big.Int, receiver common.Address) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if value != nil && value.Cmp(v.availableToStake()) > 0 {
		return nil, fmt.Errorf("%w: staking %s, available %s", rebalancer.ErrStakeAmountExceedsMaxTVL, value, v.availableToStake())
	}
	shares, err := v.deposit(caller, value, receiver)
	if err != nil {
		return nil, err
	}
	v.metrics.deposit("stake")
	return shares, nil
}

// Receive accepts native value forwarded by an adapter.
func (v *Vault) Receive(caller common.Address, amount *big.Int) error {
	return Events.Emit(v.state, v.addr, "ETHReceived", caller, amount)
}

// SetCrossChainAdapter wires the L2 adapter used to reach L1.
func (v *Vault) SetCrossChainAdapter(caller common.Address, a CrossChainAdapter) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	if a == nil || a.Address() == (common.Address{}) {
		return ErrZeroAddress
	}
	v.adapter = a
	return nil
}

// SendAssetsInfoToL1 reports the vault's assets and share supply to the L1
// ledger. value pays the transport fee; the excess is refunded to caller.
func (v *Vault) SendAssetsInfoToL1(ctx context.Context, caller common.Address, value *big.Int, options []byte) (warp.Receipt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.operator {
		return warp.Receipt{}, ErrOnlyOperator
	}
	if v.adapter == nil {
		return warp.Receipt{}, ErrCrossChainAdapterNotSet
	}
	if value == nil {
		value = new(big.Int)
	}
	report := warp.Report{
		Timestamp:  v.state.Time(),
		EthBalance: v.TotalAssets(),
		Supply:     v.token.TotalSupply(),
	}

	var receipt warp.Receipt
	err := contract.Call(v.state, func() error {
		if err := contract.Transfer(v.state, caller, v.addr, value); err != nil {
			return err
		}
		var err error
		receipt, err = v.adapter.SendReport(ctx, v.addr, value, report, options)
		if err != nil {
			return err
		}
		if err := contract.Transfer(v.state, v.addr, caller, new(big.Int).Sub(value, receipt.Fee)); err != nil {
			return err
		}
		return Events.Emit(v.state, v.addr, "AssetsInfoSentToL1",
			new(big.Int).SetUint64(report.Timestamp), report.EthBalance, report.Supply)
	})
	if err != nil {
		return warp.Receipt{}, err
	}
	v.log.Info("assets info sent to l1",
		log.Uint64("timestamp", report.Timestamp),
		log.Stringer("ethBalance", report.EthBalance),
		log.Stringer("supply", report.Supply),
	)
	return receipt, nil
}

// SendEthToL1 moves amount of the vault's flash capacity to the L1 ledger.
// The transport fee is taken out of amount.
func (v *Vault) SendEthToL1(ctx context.Context, caller common.Address, amount *big.Int, options []byte) (warp.Receipt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.operator {
		return warp.Receipt{}, ErrOnlyOperator
	}
	if v.adapter == nil {
		return warp.Receipt{}, ErrCrossChainAdapterNotSet
	}
	if amount == nil || amount.Sign() <= 0 {
		return warp.Receipt{}, ErrNullParams
	}
	if capacity := v.FlashCapacity(); amount.Cmp(capacity) > 0 {
		return warp.Receipt{}, &curve.InsufficientCapacityError{Capacity: capacity}
	}
	receipt, err := v.adapter.SendEthToL1(ctx, v.addr, amount, options)
	if err != nil {
		return warp.Receipt{}, err
	}
	v.log.Info("eth sent to l1",
		log.Stringer("amount", amount),
		log.Stringer("fee", receipt.Fee),
	)
	return receipt, nil
}

func (v *Vault) SetTargetFlashCapacity(caller common.Address, target *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	if target == nil || target.Sign() <= 0 {
		return ErrNullParams
	}
	if err := Events.Emit(v.state, v.addr, "TargetCapacityChanged", v.target, target); err != nil {
		return err
	}
	v.target = new(big.Int).Set(target)
	return nil
}

func (v *Vault) SetDepositBonusParams(caller common.Address, maxRate, optimalRate, kink uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	p, err := curve.NewParams(maxRate, optimalRate, kink)
	if err != nil {
		return err
	}
	if err := emitParams(v.state, v.addr, "DepositBonusParamsChanged", p); err != nil {
		return err
	}
	v.bonusParams = p
	v.warnInverted("deposit bonus", p)
	return nil
}

func (v *Vault) SetFlashWithdrawFeeParams(caller common.Address, maxRate, optimalRate, kink uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	p, err := curve.NewParams(maxRate, optimalRate, kink)
	if err != nil {
		return err
	}
	if err := emitParams(v.state, v.addr, "WithdrawFeeParamsChanged", p); err != nil {
		return err
	}
	v.feeParams = p
	v.warnInverted("withdraw fee", p)
	return nil
}

func emitParams(state contract.StateDB, addr common.Address, name string, p curve.Params) error {
	return Events.Emit(state, addr, name,
		new(big.Int).SetUint64(p.MaxRate()),
		new(big.Int).SetUint64(p.OptimalRate()),
		new(big.Int).SetUint64(p.Kink()),
	)
}

// warnInverted flags an optimal rate above the max rate. Such a curve rises
// with utilization instead of falling; it is accepted as configured.
func (v *Vault) warnInverted(name string, p curve.Params) {
	if p.Inverted() {
		v.log.Warn("inverted curve parameters",
			log.String("curve", name),
			log.Stringer("params", p),
		)
	}
}

func (v *Vault) SetProtocolFee(caller common.Address, fee uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	if fee > curve.MaxPercent {
		return fmt.Errorf("%w: protocol fee %d", curve.ErrParameterExceedsLimits, fee)
	}
	if err := Events.Emit(v.state, v.addr, "ProtocolFeeChanged",
		new(big.Int).SetUint64(v.protocolFee), new(big.Int).SetUint64(fee)); err != nil {
		return err
	}
	v.protocolFee = fee
	return nil
}

func (v *Vault) SetRatioFeed(caller common.Address, feed RatioFeed) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	if feed == nil {
		return ErrNullParams
	}
	v.feed = feed
	return nil
}

func (v *Vault) SetTreasury(caller, treasury common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	if treasury == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := Events.Emit(v.state, v.addr, "TreasuryChanged", v.treasury, treasury); err != nil {
		return err
	}
	v.treasury = treasury
	return nil
}

func (v *Vault) SetMinAmount(caller common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrNullParams
	}
	v.minAmount = new(big.Int).Set(amount)
	return nil
}

func (v *Vault) SetMaxTVL(caller common.Address, maxTVL *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	if maxTVL == nil || maxTVL.Sign() < 0 {
		return ErrNullParams
	}
	v.maxTVL = new(big.Int).Set(maxTVL)
	return nil
}

func (v *Vault) TransferOwnership(caller, newOwner common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	if newOwner == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := Events.Emit(v.state, v.addr, "OwnershipTransferred", v.owner, newOwner); err != nil {
		return err
	}
	v.owner = newOwner
	return nil
}

func toShares(assets, ratio *big.Int) *big.Int {
	out := new(big.Int).Mul(assets, ratio)
	return out.Div(out, RatioScale)
}

func toAssets(shares, ratio *big.Int) *big.Int {
	out := new(big.Int).Mul(shares, RatioScale)
	return out.Div(out, ratio)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
