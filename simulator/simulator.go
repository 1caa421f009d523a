// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package simulator wires a complete restaking deployment, one L1 and a set
// of L2s, over an in-memory transport and drives it step by step.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/luxfi/crypto"
	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/restake/adapter"
	"github.com/luxfi/restake/config"
	"github.com/luxfi/restake/contract"
	"github.com/luxfi/restake/rebalancer"
	"github.com/luxfi/restake/registry"
	"github.com/luxfi/restake/token"
	"github.com/luxfi/restake/vault"
	"github.com/luxfi/restake/warp"
)

var (
	ErrUnknownChain = errors.New("unknown l2 chain")
	ErrNothingToDo  = errors.New("nothing to do")
)

// BlockTime is the number of seconds Step advances the clocks by.
const BlockTime = 12

// Account derives a deterministic address for a named actor.
func Account(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("restake/account/" + name)))
}

var (
	Owner    = Account("owner")
	Operator = Account("operator")
)

// L1 is the chain holding the ledger, the lockbox and the restaking pool.
type L1 struct {
	Name     string
	ChainID  uint32
	Eid      uint32
	State    *contract.State
	Endpoint *warp.Endpoint
	Token    *token.Token
	Lockbox  common.Address
	Pool     *vault.Vault
	Adapter  *adapter.L1Adapter
	Ledger   *rebalancer.Ledger
}

// L2 is one chain accepting deposits.
type L2 struct {
	Name     string
	ChainID  uint32
	Eid      uint32
	State    *contract.State
	Endpoint *warp.Endpoint
	Token    *token.Token
	Vault    *vault.Vault
	Adapter  *adapter.L2Adapter
}

// Simulator is not safe for concurrent use. Every operation runs as one
// top-level call on the state of the chain it writes to.
type Simulator struct {
	log log.Logger
	cfg *config.Config

	Network *warp.Network
	L1      *L1
	L2s     []*L2

	byChain map[uint32]*L2
	time    uint64
}

// New builds and wires every component described by cfg. Each chain's state
// is kept under its own prefix of db; a nil db keeps everything in memory.
func New(cfg *config.Config, db database.Database, registerer prometheus.Registerer, logger log.Logger) (*Simulator, error) {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	if err := cfg.Verify(); err != nil {
		return nil, err
	}

	s := &Simulator{
		log:     logger,
		cfg:     cfg,
		Network: warp.NewNetwork(logger),
		byChain: make(map[uint32]*L2, len(cfg.L2s)),
	}
	switch cfg.Transport.Order {
	case config.OrderReverse:
		s.Network.SetShuffle(warp.ReverseShuffle)
	case config.OrderRandom:
		s.Network.SetShuffle(warp.RandomShuffle(cfg.Transport.Seed))
	}

	var err error
	s.L1, err = s.newL1(cfg.L1, db, registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to build l1 %s: %w", cfg.L1.Name, err)
	}
	for _, chain := range cfg.L2s {
		l2, err := s.newL2(chain, db, registerer)
		if err != nil {
			return nil, fmt.Errorf("failed to build l2 %s: %w", chain.Name, err)
		}
		if err := s.connect(l2); err != nil {
			return nil, fmt.Errorf("failed to connect l2 %s: %w", chain.Name, err)
		}
		s.L2s = append(s.L2s, l2)
		s.byChain[l2.ChainID] = l2
	}
	s.log.Info("deployment wired",
		log.String("l1", s.L1.Name),
		log.Int("l2s", len(s.L2s)),
	)
	return s, nil
}

func (s *Simulator) newState(name string, db database.Database) *contract.State {
	if db == nil {
		return contract.NewState(nil)
	}
	return contract.NewState(prefixdb.New([]byte(name), db))
}

func (s *Simulator) newEndpoint(chain config.ChainConfig, state contract.StateDB) (*warp.Endpoint, error) {
	return s.Network.NewEndpoint(
		chain.Eid,
		registry.ComponentAddress(registry.ComponentEndpoint, chain.ChainID),
		state,
		warp.FeeSchedule{BaseFee: s.cfg.Transport.BaseFee, PerByteFee: s.cfg.Transport.PerByteFee},
	)
}

func (s *Simulator) newVault(
	chain config.ChainConfig,
	state contract.StateDB,
	tok *token.Token,
	registerer prometheus.Registerer,
) (*vault.Vault, error) {
	vc := s.cfg.Vault
	bonus, err := vc.DepositBonus.Params()
	if err != nil {
		return nil, err
	}
	fee, err := vc.FlashFee.Params()
	if err != nil {
		return nil, err
	}
	feed := vault.NewStaticRatioFeed()
	if err := feed.SetRatio(tok.Address(), vc.Ratio); err != nil {
		return nil, err
	}
	addr := registry.ComponentAddress(registry.ComponentVault, chain.ChainID)
	v, err := vault.New(vault.Config{
		Address:        addr,
		Owner:          Owner,
		Operator:       Operator,
		Treasury:       registry.ComponentAddress(registry.ComponentTreasury, chain.ChainID),
		State:          state,
		Token:          tok,
		RatioFeed:      feed,
		TargetCapacity: vc.TargetCapacity,
		BonusParams:    bonus,
		FeeParams:      fee,
		ProtocolFee:    vc.ProtocolFee,
		MinAmount:      vc.MinAmount,
		MaxTVL:         vc.MaxTVL,
		Registerer:     prometheus.WrapRegistererWith(prometheus.Labels{"chain": chain.Name}, registerer),
		Log:            s.log,
	})
	if err != nil {
		return nil, err
	}
	if err := tok.AddMinter(Owner, addr); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Simulator) newL1(chain config.ChainConfig, db database.Database, registerer prometheus.Registerer) (*L1, error) {
	state := s.newState(chain.Name, db)
	state.SetTime(s.time)
	endpoint, err := s.newEndpoint(chain, state)
	if err != nil {
		return nil, err
	}
	tok := token.New(state, registry.ComponentAddress(registry.ComponentToken, chain.ChainID), Owner, "inETH")
	pool, err := s.newVault(chain, state, tok, registerer)
	if err != nil {
		return nil, err
	}
	a, err := adapter.NewL1Adapter(adapter.Config{
		Address:   registry.ComponentAddress(registry.ComponentAdapter, chain.ChainID),
		Owner:     Owner,
		Operator:  Operator,
		State:     state,
		Transport: endpoint,
		Log:       s.log,
	})
	if err != nil {
		return nil, err
	}
	lockbox := registry.ComponentAddress(registry.ComponentLockbox, chain.ChainID)
	ledger, err := rebalancer.New(rebalancer.Config{
		Address:    registry.ComponentAddress(registry.ComponentLedger, chain.ChainID),
		Owner:      Owner,
		Operator:   Operator,
		State:      state,
		Token:      tok,
		Lockbox:    lockbox,
		Pool:       pool,
		Registerer: prometheus.WrapRegistererWith(prometheus.Labels{"chain": chain.Name}, registerer),
		Log:        s.log,
	})
	if err != nil {
		return nil, err
	}
	if err := tok.AddMinter(Owner, ledger.Address()); err != nil {
		return nil, err
	}
	if err := a.SetRebalancer(Owner, ledger); err != nil {
		return nil, err
	}
	return &L1{
		Name:     chain.Name,
		ChainID:  chain.ChainID,
		Eid:      chain.Eid,
		State:    state,
		Endpoint: endpoint,
		Token:    tok,
		Lockbox:  lockbox,
		Pool:     pool,
		Adapter:  a,
		Ledger:   ledger,
	}, nil
}

func (s *Simulator) newL2(chain config.ChainConfig, db database.Database, registerer prometheus.Registerer) (*L2, error) {
	state := s.newState(chain.Name, db)
	state.SetTime(s.time)
	endpoint, err := s.newEndpoint(chain, state)
	if err != nil {
		return nil, err
	}
	tok := token.New(state, registry.ComponentAddress(registry.ComponentToken, chain.ChainID), Owner, "inETH")
	v, err := s.newVault(chain, state, tok, registerer)
	if err != nil {
		return nil, err
	}
	a, err := adapter.NewL2Adapter(adapter.Config{
		Address:   registry.ComponentAddress(registry.ComponentAdapter, chain.ChainID),
		Owner:     Owner,
		Operator:  Operator,
		State:     state,
		Transport: endpoint,
		Log:       s.log,
	}, s.L1.ChainID)
	if err != nil {
		return nil, err
	}
	return &L2{
		Name:     chain.Name,
		ChainID:  chain.ChainID,
		Eid:      chain.Eid,
		State:    state,
		Endpoint: endpoint,
		Token:    tok,
		Vault:    v,
		Adapter:  a,
	}, nil
}

// connect binds the L2's adapter and the L1 adapter as peers and registers
// the chain with the ledger.
func (s *Simulator) connect(l2 *L2) error {
	l1 := s.L1
	steps := []func() error{
		func() error { return l1.Adapter.SetPeer(Owner, l2.Eid, warp.AddressToPeer(l2.Adapter.Address())) },
		func() error { return l1.Adapter.SetChainIDFromEid(Owner, l2.Eid, l2.ChainID) },
		func() error { return l2.Adapter.SetPeer(Owner, l1.Eid, warp.AddressToPeer(l1.Adapter.Address())) },
		func() error { return l2.Adapter.SetChainIDFromEid(Owner, l1.Eid, l1.ChainID) },
		func() error { return l2.Adapter.SetL2Receiver(Owner, l2.Vault) },
		func() error { return l2.Adapter.SetL2Sender(Owner, l2.Vault.Address()) },
		func() error { return l2.Vault.SetCrossChainAdapter(Owner, l2.Adapter) },
		func() error { return l1.Ledger.AddChainID(Owner, l2.ChainID) },
		func() error { return l1.Ledger.AddAdapter(Owner, l2.ChainID, l1.Adapter) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// L2 returns the chain with chainID.
func (s *Simulator) L2(chainID uint32) (*L2, error) {
	l2, ok := s.byChain[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	return l2, nil
}

func (s *Simulator) states() []*contract.State {
	out := []*contract.State{s.L1.State}
	for _, l2 := range s.L2s {
		out = append(out, l2.State)
	}
	return out
}

// Time is the shared block time of every chain.
func (s *Simulator) Time() uint64 { return s.time }

// Advance moves every chain's clock forward by seconds.
func (s *Simulator) Advance(seconds uint64) {
	s.time += seconds
	for _, state := range s.states() {
		state.SetTime(s.time)
	}
}

// Fund credits native value to addr on chainID, which may be the L1.
func (s *Simulator) Fund(chainID uint32, addr common.Address, amount *big.Int) error {
	state := s.L1.State
	if chainID != s.L1.ChainID {
		l2, err := s.L2(chainID)
		if err != nil {
			return err
		}
		state = l2.State
	}
	return state.Exec(func() error {
		return contract.Mint(state, addr, amount)
	})
}

// Deposit funds user on the L2 and deposits amount into its vault.
func (s *Simulator) Deposit(chainID uint32, user common.Address, amount *big.Int) (*big.Int, error) {
	l2, err := s.L2(chainID)
	if err != nil {
		return nil, err
	}
	var shares *big.Int
	err = l2.State.Exec(func() error {
		if err := contract.Mint(l2.State, user, amount); err != nil {
			return err
		}
		shares, err = l2.Vault.Deposit(user, amount, user)
		return err
	})
	return shares, err
}

// FlashWithdraw redeems shares of user on the L2.
func (s *Simulator) FlashWithdraw(chainID uint32, user common.Address, shares *big.Int) (vault.Withdrawal, error) {
	l2, err := s.L2(chainID)
	if err != nil {
		return vault.Withdrawal{}, err
	}
	var w vault.Withdrawal
	err = l2.State.Exec(func() error {
		w, err = l2.Vault.FlashWithdraw(user, shares, user)
		return err
	})
	return w, err
}

// Report sends the L2 vault's state to the ledger. The operator is funded
// with exactly the quoted fee.
func (s *Simulator) Report(ctx context.Context, chainID uint32) (warp.Receipt, error) {
	l2, err := s.L2(chainID)
	if err != nil {
		return warp.Receipt{}, err
	}
	fee, err := l2.Adapter.QuoteReport(warp.Report{
		Timestamp:  l2.State.Time(),
		EthBalance: l2.Vault.TotalAssets(),
		Supply:     l2.Token.TotalSupply(),
	}, nil)
	if err != nil {
		return warp.Receipt{}, err
	}
	var receipt warp.Receipt
	err = l2.State.Exec(func() error {
		if err := contract.Mint(l2.State, Operator, fee); err != nil {
			return err
		}
		receipt, err = l2.Vault.SendAssetsInfoToL1(ctx, Operator, fee, nil)
		return err
	})
	return receipt, err
}

// ReportAll sends a report from every L2.
func (s *Simulator) ReportAll(ctx context.Context) error {
	for _, l2 := range s.L2s {
		if _, err := s.Report(ctx, l2.ChainID); err != nil {
			return fmt.Errorf("failed to report %s: %w", l2.Name, err)
		}
	}
	return nil
}

// Deliver runs delivery rounds until nothing is left in flight. Packets
// whose delivery reverts are parked on the network.
func (s *Simulator) Deliver(ctx context.Context) (int, error) {
	total := 0
	for len(s.Network.Pending()) > 0 {
		n, err := s.Network.Deliver(ctx)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Reconcile runs the ledger's treasury update.
func (s *Simulator) Reconcile() (rebalancer.Reconciliation, error) {
	var rec rebalancer.Reconciliation
	err := s.L1.State.Exec(func() error {
		var err error
		rec, err = s.L1.Ledger.UpdateTreasuryData(Operator)
		return err
	})
	return rec, err
}

// BridgeToL1 moves amount of the L2 vault's flash capacity to the ledger.
func (s *Simulator) BridgeToL1(ctx context.Context, chainID uint32, amount *big.Int) (warp.Receipt, error) {
	l2, err := s.L2(chainID)
	if err != nil {
		return warp.Receipt{}, err
	}
	var receipt warp.Receipt
	err = l2.State.Exec(func() error {
		receipt, err = l2.Vault.SendEthToL1(ctx, Operator, amount, nil)
		return err
	})
	return receipt, err
}

// BridgeToL2 moves amount of the ledger's native balance to the L2 vault.
func (s *Simulator) BridgeToL2(ctx context.Context, chainID uint32, amount *big.Int) (warp.Receipt, error) {
	if _, err := s.L2(chainID); err != nil {
		return warp.Receipt{}, err
	}
	var receipt warp.Receipt
	err := s.L1.State.Exec(func() error {
		var err error
		receipt, err = s.L1.Ledger.SendEthToL2(ctx, Operator, chainID, amount, nil)
		return err
	})
	return receipt, err
}

// Stake moves amount of the ledger's native balance into the restaking pool.
func (s *Simulator) Stake(amount *big.Int) (*big.Int, error) {
	var shares *big.Int
	err := s.L1.State.Exec(func() error {
		var err error
		shares, err = s.L1.Ledger.Stake(Operator, amount)
		return err
	})
	return shares, err
}

// StakeIdle stakes as much of the ledger's native balance as the pool
// accepts.
func (s *Simulator) StakeIdle() (*big.Int, error) {
	amount := contract.BalanceOf(s.L1.State, s.L1.Ledger.Address())
	if available := s.L1.Pool.AvailableToStake(); amount.Cmp(available) > 0 {
		amount = available
	}
	if amount.Sign() == 0 || amount.Cmp(s.L1.Pool.MinStake()) < 0 {
		return nil, ErrNothingToDo
	}
	return s.Stake(amount)
}

// Commit persists every chain's state.
func (s *Simulator) Commit() error {
	for _, state := range s.states() {
		if err := state.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// ChainSummary describes one L2 as seen locally and by the ledger.
type ChainSummary struct {
	Name           string
	ChainID        uint32
	TotalAssets    *big.Int
	Supply         *big.Int
	BonusPool      *big.Int
	ReportedAt     uint64
	ReportedSupply *big.Int
	ReportedEth    *big.Int
}

// Summary is the deployment's state at one point in time.
type Summary struct {
	Time           uint64
	Treasury       rebalancer.TreasuryState
	LedgerBalance  *big.Int
	PoolAssets     *big.Int
	ReportedSupply *big.Int
	Pending        int
	Failed         int
	L2s            []ChainSummary
}

// Consistent reports whether the lockbox matches the supply reported by
// every L2.
func (s Summary) Consistent() bool {
	return s.Treasury.LockboxBalance.Cmp(s.ReportedSupply) == 0
}

func (s *Simulator) Summary() Summary {
	ledger := s.L1.Ledger
	out := Summary{
		Time:           s.time,
		Treasury:       ledger.Treasury(),
		LedgerBalance:  contract.BalanceOf(s.L1.State, ledger.Address()),
		PoolAssets:     s.L1.Pool.TotalAssets(),
		ReportedSupply: ledger.TotalL2Supply(),
		Pending:        len(s.Network.Pending()),
		Failed:         len(s.Network.Failed()),
	}
	for _, l2 := range s.L2s {
		cs := ChainSummary{
			Name:           l2.Name,
			ChainID:        l2.ChainID,
			TotalAssets:    l2.Vault.TotalAssets(),
			Supply:         l2.Token.TotalSupply(),
			BonusPool:      l2.Vault.DepositBonusAmount(),
			ReportedSupply: new(big.Int),
			ReportedEth:    new(big.Int),
		}
		if snap, ok := ledger.Snapshot(l2.ChainID); ok {
			cs.ReportedAt = snap.Timestamp
			cs.ReportedSupply = snap.ReportedSupply
			cs.ReportedEth = snap.EthBalance
		}
		out.L2s = append(out.L2s, cs)
	}
	sort.Slice(out.L2s, func(i, j int) bool { return out.L2s[i].ChainID < out.L2s[j].ChainID })
	return out
}
