// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rebalancer implements the L1 ledger. It keeps one snapshot per
// registered L2, reconciles the lockbox against the sum of reported L2
// supplies, and moves native value into the restaking pool or out to L2.
package rebalancer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/restake/adapter"
	"github.com/luxfi/restake/contract"
	"github.com/luxfi/restake/registry"
	"github.com/luxfi/restake/warp"
)

// Configuration errors
var (
	ErrZeroAddress                    = errors.New("address cannot be zero")
	ErrChainIDAlreadyExists           = registry.ErrChainIDAlreadyExists
	ErrAdapterAlreadyExists           = registry.ErrAdapterAlreadyExists
	ErrCrosschainAdapterNotSet        = errors.New("crosschain adapter not set")
	ErrRestakingPoolNotSet            = errors.New("restaking pool not set")
	ErrMissingOneOrMoreL2Transactions = errors.New("missing one or more l2 transactions")
	ErrNoRebalancingRequired          = errors.New("no rebalancing required")
)

// Ordering errors
var (
	ErrTimeBeforePrevRecord = errors.New("timestamp is not after the previous record")
	ErrTimeCannotBeInFuture = errors.New("timestamp cannot be in the future")
)

// Capacity errors
var (
	ErrInvalidAmount                = errors.New("amount must be positive")
	ErrStakeAmountExceedsMaxTVL     = errors.New("stake amount exceeds max tvl")
	ErrStakeAmountExceedsEthBalance = errors.New("stake amount exceeds eth balance")
	ErrSendAmountExceedsEthBalance  = errors.New("send amount exceeds eth balance")
)

// Authorization errors
var (
	ErrOnlyOwner         = errors.New("caller is not the owner")
	ErrOnlyOperator      = errors.New("caller is not the operator")
	ErrMsgNotFromAdapter = errors.New("message not from the chain's adapter")
)

// MissingL2TransactionsError names the first registered chain without a
// snapshot.
type MissingL2TransactionsError struct {
	ChainID uint32
}

func (e *MissingL2TransactionsError) Error() string {
	return fmt.Sprintf("%s: chain %d", ErrMissingOneOrMoreL2Transactions, e.ChainID)
}

func (e *MissingL2TransactionsError) Unwrap() error { return ErrMissingOneOrMoreL2Transactions }

// StakeExceedsBalanceError reports a stake larger than the ledger's native
// balance.
type StakeExceedsBalanceError struct {
	Amount  *big.Int
	Balance *big.Int
}

func (e *StakeExceedsBalanceError) Error() string {
	return fmt.Sprintf("%s: staking %s, balance %s", ErrStakeAmountExceedsEthBalance, e.Amount, e.Balance)
}

func (e *StakeExceedsBalanceError) Unwrap() error { return ErrStakeAmountExceedsEthBalance }

// Token is the canonical token the ledger mints into and burns from the
// lockbox. The ledger must be a minter.
type Token interface {
	Address() common.Address
	BalanceOf(addr common.Address) *big.Int
	TotalSupply() *big.Int
	Mint(caller, to common.Address, amount *big.Int) error
	Burn(caller, from common.Address, amount *big.Int) error
	Transfer(caller, to common.Address, amount *big.Int) error
}

// RestakingPool takes native value and mints canonical tokens for it.
type RestakingPool interface {
	Address() common.Address
	AvailableToStake() *big.Int
	// Stake pulls value from caller and returns the shares minted to
	// receiver. It fails when value is below the pool's minimum stake.
	Stake(caller common.Address, value *big.Int, receiver common.Address) (*big.Int, error)
}

// CrossChainAdapter carries native value from the ledger to an L2.
type CrossChainAdapter interface {
	Address() common.Address
	SendEthToL2(ctx context.Context, caller common.Address, chainID uint32, value *big.Int, options []byte) (warp.Receipt, error)
}

var _ adapter.Ledger = (*Ledger)(nil)

// ChainSnapshot is one chain's latest accepted self-report.
type ChainSnapshot struct {
	ChainID        uint32
	Timestamp      uint64
	EthBalance     *big.Int
	ReportedSupply *big.Int
}

// TreasuryState summarizes the ledger's view of the canonical supply.
type TreasuryState struct {
	TotalMintedSupply     *big.Int
	LockboxBalance        *big.Int
	RebalancerIdleBalance *big.Int
}

// Reconciliation is the outcome of a successful UpdateTreasuryData.
type Reconciliation struct {
	Swept  *big.Int
	Minted *big.Int
	Burned *big.Int
	Supply *big.Int
}

const eventsABI = `[
	{"type":"event","name":"ChainIdAdded","anonymous":false,"inputs":[
		{"name":"chainId","type":"uint32","indexed":true}
	]},
	{"type":"event","name":"AdapterAdded","anonymous":false,"inputs":[
		{"name":"chainId","type":"uint32","indexed":true},
		{"name":"adapter","type":"address","indexed":true}
	]},
	{"type":"event","name":"L2InfoReceived","anonymous":false,"inputs":[
		{"name":"chainId","type":"uint32","indexed":true},
		{"name":"timestamp","type":"uint256","indexed":false},
		{"name":"ethBalance","type":"uint256","indexed":false},
		{"name":"supply","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"TreasuryUpdateMint","anonymous":false,"inputs":[
		{"name":"amount","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"TreasuryUpdateBurn","anonymous":false,"inputs":[
		{"name":"amount","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"InETHDepositedToLockbox","anonymous":false,"inputs":[
		{"name":"amount","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"ETHReceived","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"ETHStaked","anonymous":false,"inputs":[
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"shares","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"OwnershipTransferred","anonymous":false,"inputs":[
		{"name":"previousOwner","type":"address","indexed":true},
		{"name":"newOwner","type":"address","indexed":true}
	]},
	{"type":"event","name":"OperatorChanged","anonymous":false,"inputs":[
		{"name":"previousOperator","type":"address","indexed":true},
		{"name":"newOperator","type":"address","indexed":true}
	]}
]`

// Events is the ledger's event ABI.
var Events = contract.ParseABI(eventsABI)

var (
	snapshotTimePrefix    = []byte("rebalancer/snapshot/time")
	snapshotBalancePrefix = []byte("rebalancer/snapshot/balance")
	snapshotSupplyPrefix  = []byte("rebalancer/snapshot/supply")
)

type Config struct {
	Address  common.Address
	Owner    common.Address
	Operator common.Address
	State    contract.StateDB
	Token    Token
	Lockbox  common.Address
	Pool     RestakingPool

	// ChainCapacity bounds the number of L2s; zero means
	// registry.DefaultCapacity.
	ChainCapacity int
	Registerer    prometheus.Registerer
	Log           log.Logger
}

// Ledger guards its own fields and may be shared between goroutines. Every
// entry point is all-or-nothing as long as writers to the same state are
// serialized with contract.Exec.
type Ledger struct {
	mu sync.Mutex

	log     log.Logger
	metrics *metrics

	addr     common.Address
	state    contract.StateDB
	slots    contract.Slots
	token    Token
	lockbox  common.Address
	pool     RestakingPool
	owner    common.Address
	operator common.Address

	chains   *registry.Registry
	adapters map[uint32]CrossChainAdapter
}

func New(cfg Config) (*Ledger, error) {
	if cfg.Address == (common.Address{}) || cfg.Owner == (common.Address{}) || cfg.Lockbox == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if cfg.State == nil || cfg.Token == nil {
		return nil, errors.New("ledger requires a state and a token")
	}
	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Ledger{
		log:      logger,
		metrics:  m,
		addr:     cfg.Address,
		state:    cfg.State,
		slots:    contract.NewSlots(cfg.State, cfg.Address),
		token:    cfg.Token,
		lockbox:  cfg.Lockbox,
		pool:     cfg.Pool,
		owner:    cfg.Owner,
		operator: cfg.Operator,
		chains:   registry.New(cfg.ChainCapacity),
		adapters: make(map[uint32]CrossChainAdapter),
	}, nil
}

func (l *Ledger) Address() common.Address { return l.addr }

func (l *Ledger) Lockbox() common.Address { return l.lockbox }

func (l *Ledger) Owner() common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.owner
}

func (l *Ledger) Operator() common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.operator
}

// AddChainID registers an L2 whose reports take part in reconciliation.
func (l *Ledger) AddChainID(caller common.Address, chainID uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrOnlyOwner
	}
	if _, err := l.chains.AddChain(chainID); err != nil {
		return err
	}
	if err := Events.Emit(l.state, l.addr, "ChainIdAdded", chainID); err != nil {
		return err
	}
	l.log.Info("chain added", log.Uint64("chainID", uint64(chainID)))
	return nil
}

// AddAdapter binds the only caller allowed to report for chainID. The chain
// must already be registered.
func (l *Ledger) AddAdapter(caller common.Address, chainID uint32, a CrossChainAdapter) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrOnlyOwner
	}
	if a == nil || a.Address() == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := l.chains.SetAdapter(chainID, a.Address()); err != nil {
		return err
	}
	if err := Events.Emit(l.state, l.addr, "AdapterAdded", chainID, a.Address()); err != nil {
		return err
	}
	l.adapters[chainID] = a
	l.log.Info("adapter added",
		log.Uint64("chainID", uint64(chainID)),
		log.Stringer("adapter", a.Address()),
	)
	return nil
}

// HandleL2Info overwrites the snapshot of chainID. Only the adapter bound
// to chainID may call it, and timestamp must be strictly after the stored
// one and not after the current block time.
func (l *Ledger) HandleL2Info(caller common.Address, chainID uint32, timestamp uint64, ethBalance, supply *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if a, ok := l.chains.Adapter(chainID); !ok || caller != a {
		l.metrics.report(resultRejected)
		return fmt.Errorf("%w: chain %d caller %s", ErrMsgNotFromAdapter, chainID, caller.Hex())
	}
	if ethBalance == nil || supply == nil || ethBalance.Sign() < 0 || supply.Sign() < 0 {
		l.metrics.report(resultRejected)
		return ErrInvalidAmount
	}
	if prev := l.slots.Uint64(snapshotKey(snapshotTimePrefix, chainID)); timestamp <= prev {
		l.metrics.report(resultStale)
		return fmt.Errorf("%w: chain %d timestamp %d, stored %d", ErrTimeBeforePrevRecord, chainID, timestamp, prev)
	}
	if now := l.state.Time(); timestamp > now {
		l.metrics.report(resultFuture)
		return fmt.Errorf("%w: chain %d timestamp %d, now %d", ErrTimeCannotBeInFuture, chainID, timestamp, now)
	}

	err := contract.Call(l.state, func() error {
		l.slots.SetUint64(snapshotKey(snapshotTimePrefix, chainID), timestamp)
		l.slots.SetBig(snapshotKey(snapshotBalancePrefix, chainID), ethBalance)
		l.slots.SetBig(snapshotKey(snapshotSupplyPrefix, chainID), supply)
		return Events.Emit(l.state, l.addr, "L2InfoReceived",
			chainID, new(big.Int).SetUint64(timestamp), ethBalance, supply)
	})
	if err != nil {
		l.metrics.report(resultRejected)
		return err
	}
	l.metrics.report(resultAccepted)
	l.log.Debug("l2 info received",
		log.Uint64("chainID", uint64(chainID)),
		log.Uint64("timestamp", timestamp),
		log.Stringer("ethBalance", ethBalance),
		log.Stringer("supply", supply),
	)
	return nil
}

// UpdateTreasuryData reconciles the lockbox with the sum of the reported L2
// supplies. Idle canonical tokens held by the ledger are swept into the
// lockbox first; the whole call reverts when nothing needs to change.
func (l *Ledger) UpdateTreasuryData(caller common.Address) (Reconciliation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.operator {
		return Reconciliation{}, ErrOnlyOperator
	}
	target := new(big.Int)
	for _, chainID := range l.chains.ChainIDs() {
		snap, ok := l.snapshot(chainID)
		if !ok {
			return Reconciliation{}, &MissingL2TransactionsError{ChainID: chainID}
		}
		target.Add(target, snap.ReportedSupply)
	}

	rec := Reconciliation{
		Swept:  new(big.Int),
		Minted: new(big.Int),
		Burned: new(big.Int),
		Supply: target,
	}
	err := contract.Call(l.state, func() error {
		if idle := l.token.BalanceOf(l.addr); idle.Sign() > 0 {
			if err := l.token.Transfer(l.addr, l.lockbox, idle); err != nil {
				return err
			}
			if err := Events.Emit(l.state, l.addr, "InETHDepositedToLockbox", idle); err != nil {
				return err
			}
			rec.Swept = idle
		}

		current := l.token.BalanceOf(l.lockbox)
		switch current.Cmp(target) {
		case -1:
			delta := new(big.Int).Sub(target, current)
			if err := l.token.Mint(l.addr, l.lockbox, delta); err != nil {
				return err
			}
			rec.Minted = delta
			return Events.Emit(l.state, l.addr, "TreasuryUpdateMint", delta)
		case 1:
			delta := new(big.Int).Sub(current, target)
			if delta.Cmp(current) > 0 {
				delta.Set(current)
			}
			if err := l.token.Burn(l.addr, l.lockbox, delta); err != nil {
				return err
			}
			rec.Burned = delta
			return Events.Emit(l.state, l.addr, "TreasuryUpdateBurn", delta)
		default:
			return ErrNoRebalancingRequired
		}
	})
	if err != nil {
		return Reconciliation{}, err
	}

	switch {
	case rec.Minted.Sign() > 0:
		l.metrics.mints.Inc()
	case rec.Burned.Sign() > 0:
		l.metrics.burns.Inc()
	}
	l.metrics.setReconciled(target)
	l.log.Info("treasury updated",
		log.Stringer("supply", target),
		log.Stringer("minted", rec.Minted),
		log.Stringer("burned", rec.Burned),
		log.Stringer("swept", rec.Swept),
	)
	return rec, nil
}

// Stake moves amount of the ledger's native balance into the restaking
// pool. The shares the pool mints are passed on to the lockbox.
func (l *Ledger) Stake(caller common.Address, amount *big.Int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.operator {
		return nil, ErrOnlyOperator
	}
	if l.pool == nil {
		return nil, ErrRestakingPoolNotSet
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if available := l.pool.AvailableToStake(); amount.Cmp(available) > 0 {
		return nil, fmt.Errorf("%w: staking %s, available %s", ErrStakeAmountExceedsMaxTVL, amount, available)
	}
	if balance := contract.BalanceOf(l.state, l.addr); amount.Cmp(balance) > 0 {
		return nil, &StakeExceedsBalanceError{Amount: new(big.Int).Set(amount), Balance: balance}
	}

	var shares *big.Int
	err := contract.Call(l.state, func() error {
		before := l.token.BalanceOf(l.addr)
		if _, err := l.pool.Stake(l.addr, amount, l.addr); err != nil {
			return err
		}
		shares = new(big.Int).Sub(l.token.BalanceOf(l.addr), before)
		if shares.Sign() > 0 {
			if err := l.token.Transfer(l.addr, l.lockbox, shares); err != nil {
				return err
			}
		}
		return Events.Emit(l.state, l.addr, "ETHStaked", amount, shares)
	})
	if err != nil {
		return nil, err
	}
	l.metrics.stakes.Inc()
	l.log.Info("staked",
		log.Stringer("amount", amount),
		log.Stringer("shares", shares),
	)
	return shares, nil
}

// SendEthToL2 hands amount of the ledger's native balance to the adapter
// of chainID, which carries it to the L2 less the transport fee.
func (l *Ledger) SendEthToL2(ctx context.Context, caller common.Address, chainID uint32, amount *big.Int, options []byte) (warp.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.operator {
		return warp.Receipt{}, ErrOnlyOperator
	}
	a, ok := l.adapters[chainID]
	if !ok {
		return warp.Receipt{}, fmt.Errorf("%w: %d", ErrCrosschainAdapterNotSet, chainID)
	}
	if amount == nil || amount.Sign() <= 0 {
		return warp.Receipt{}, ErrInvalidAmount
	}
	if balance := contract.BalanceOf(l.state, l.addr); amount.Cmp(balance) > 0 {
		return warp.Receipt{}, fmt.Errorf("%w: sending %s, balance %s", ErrSendAmountExceedsEthBalance, amount, balance)
	}
	receipt, err := a.SendEthToL2(ctx, l.addr, chainID, amount, options)
	if err != nil {
		return warp.Receipt{}, err
	}
	l.log.Info("eth sent to l2",
		log.Uint64("chainID", uint64(chainID)),
		log.Stringer("amount", amount),
		log.Stringer("guid", receipt.GUID),
	)
	return receipt, nil
}

// Receive is the native deposit hook. The value is already on the ledger.
func (l *Ledger) Receive(caller common.Address, amount *big.Int) error {
	return Events.Emit(l.state, l.addr, "ETHReceived", caller, amount)
}

func (l *Ledger) TransferOwnership(caller, newOwner common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrOnlyOwner
	}
	if newOwner == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := Events.Emit(l.state, l.addr, "OwnershipTransferred", l.owner, newOwner); err != nil {
		return err
	}
	l.owner = newOwner
	return nil
}

func (l *Ledger) SetOperator(caller, operator common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrOnlyOwner
	}
	if operator == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := Events.Emit(l.state, l.addr, "OperatorChanged", l.operator, operator); err != nil {
		return err
	}
	l.operator = operator
	return nil
}

// Snapshot returns the latest accepted report of chainID.
func (l *Ledger) Snapshot(chainID uint32) (ChainSnapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.snapshot(chainID)
}

func (l *Ledger) snapshot(chainID uint32) (ChainSnapshot, bool) {
	ts := l.slots.Uint64(snapshotKey(snapshotTimePrefix, chainID))
	if ts == 0 {
		return ChainSnapshot{}, false
	}
	return ChainSnapshot{
		ChainID:        chainID,
		Timestamp:      ts,
		EthBalance:     l.slots.Big(snapshotKey(snapshotBalancePrefix, chainID)),
		ReportedSupply: l.slots.Big(snapshotKey(snapshotSupplyPrefix, chainID)),
	}, true
}

func (l *Ledger) Treasury() TreasuryState {
	return TreasuryState{
		TotalMintedSupply:     l.token.TotalSupply(),
		LockboxBalance:        l.token.BalanceOf(l.lockbox),
		RebalancerIdleBalance: contract.BalanceOf(l.state, l.addr),
	}
}

// ChainIDs returns the registered chains in registration order.
func (l *Ledger) ChainIDs() []uint32 {
	return l.chains.ChainIDs()
}

func (l *Ledger) Adapter(chainID uint32) (common.Address, bool) {
	return l.chains.Adapter(chainID)
}

// TotalL2Supply sums the reported supply over every chain with a snapshot.
func (l *Ledger) TotalL2Supply() *big.Int {
	return l.sum(func(s ChainSnapshot) *big.Int { return s.ReportedSupply })
}

// TotalL2EthBalance sums the reported native balance over every chain with
// a snapshot.
func (l *Ledger) TotalL2EthBalance() *big.Int {
	return l.sum(func(s ChainSnapshot) *big.Int { return s.EthBalance })
}

func (l *Ledger) sum(field func(ChainSnapshot) *big.Int) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := new(big.Int)
	for _, chainID := range l.chains.ChainIDs() {
		if snap, ok := l.snapshot(chainID); ok {
			total.Add(total, field(snap))
		}
	}
	return total
}

func snapshotKey(prefix []byte, chainID uint32) common.Hash {
	return contract.StorageKey(prefix, contract.Uint32Bytes(chainID))
}
