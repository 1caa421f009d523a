// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package adapter connects the L1 ledger with its L2 deployments over a
// warp transport. Each adapter authenticates inbound packets against a
// write-once peer table and forwards reports and native value to the
// component it serves.
package adapter

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/restake/contract"
	"github.com/luxfi/restake/registry"
	"github.com/luxfi/restake/warp"
)

// Configuration errors
var (
	ErrZeroAddress        = errors.New("address cannot be zero")
	ErrPeerAlreadySet     = errors.New("peer already set for eid")
	ErrNoPeer             = errors.New("no peer for eid")
	ErrUnknownEid         = errors.New("eid is not mapped to a chain")
	ErrUnknownChainID     = errors.New("chain id is not mapped to an eid")
	ErrRebalancerNotSet   = errors.New("rebalancer not set")
	ErrL2ReceiverNotSet   = errors.New("l2 receiver not set")
	ErrNotEnoughNative    = errors.New("not enough native value for fee")
	ErrUnexpectedPayload  = errors.New("unexpected payload")
	ErrNothingToRecover   = errors.New("no funds to recover")
	ErrInvalidNativeValue = errors.New("native value cannot be negative")
)

// Authorization errors
var (
	ErrOnlyOwner      = errors.New("caller is not the owner")
	ErrOnlyOperator   = errors.New("caller is not the operator")
	ErrOnlyEndpoint   = errors.New("caller is not the endpoint")
	ErrOnlyPeer       = errors.New("sender is not the peer")
	ErrOnlyRebalancer = errors.New("caller is not the rebalancer")
	ErrOnlyL2Sender   = errors.New("caller is not the l2 sender")
)

// ConfigState is the lifecycle of an adapter.
type ConfigState uint8

const (
	Unconfigured ConfigState = iota
	PeerConfigured
	Operational
)

func (s ConfigState) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case PeerConfigured:
		return "peer-configured"
	case Operational:
		return "operational"
	default:
		return "unknown"
	}
}

// NativeReceiver accepts native value forwarded by an adapter. The value has
// already been transferred to Address when Receive is called.
type NativeReceiver interface {
	Address() common.Address
	Receive(caller common.Address, amount *big.Int) error
}

const eventsABI = `[
	{"type":"event","name":"PeerSet","anonymous":false,"inputs":[
		{"name":"eid","type":"uint32","indexed":true},
		{"name":"peer","type":"bytes32","indexed":false}
	]},
	{"type":"event","name":"ChainIdAdded","anonymous":false,"inputs":[
		{"name":"eid","type":"uint32","indexed":true},
		{"name":"chainId","type":"uint32","indexed":true}
	]},
	{"type":"event","name":"OwnershipTransferred","anonymous":false,"inputs":[
		{"name":"previousOwner","type":"address","indexed":true},
		{"name":"newOwner","type":"address","indexed":true}
	]},
	{"type":"event","name":"OperatorChanged","anonymous":false,"inputs":[
		{"name":"previousOperator","type":"address","indexed":true},
		{"name":"newOperator","type":"address","indexed":true}
	]},
	{"type":"event","name":"RebalancerChanged","anonymous":false,"inputs":[
		{"name":"rebalancer","type":"address","indexed":true}
	]},
	{"type":"event","name":"L2ReceiverChanged","anonymous":false,"inputs":[
		{"name":"receiver","type":"address","indexed":true}
	]},
	{"type":"event","name":"L2SenderChanged","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true}
	]},
	{"type":"event","name":"CrossChainEthDeposit","anonymous":false,"inputs":[
		{"name":"chainId","type":"uint32","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"fee","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"CrossChainInfoReceived","anonymous":false,"inputs":[
		{"name":"chainId","type":"uint32","indexed":true},
		{"name":"timestamp","type":"uint256","indexed":false},
		{"name":"ethBalance","type":"uint256","indexed":false},
		{"name":"supply","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"ReportSent","anonymous":false,"inputs":[
		{"name":"guid","type":"bytes32","indexed":true},
		{"name":"timestamp","type":"uint256","indexed":false},
		{"name":"ethBalance","type":"uint256","indexed":false},
		{"name":"supply","type":"uint256","indexed":false},
		{"name":"fee","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"EthForwarded","anonymous":false,"inputs":[
		{"name":"to","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"FundsRecovered","anonymous":false,"inputs":[
		{"name":"to","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}
	]}
]`

// Events is the adapters' event ABI.
var Events = contract.ParseABI(eventsABI)

// Config is shared by both adapter kinds.
type Config struct {
	Address   common.Address
	Owner     common.Address
	Operator  common.Address
	State     contract.StateDB
	Transport warp.Transport
	Log       log.Logger
}

// peers holds the owner/operator pair, the peer table and the eid to chain
// id mapping common to both adapters.
type peers struct {
	mu sync.RWMutex

	log       log.Logger
	addr      common.Address
	state     contract.StateDB
	transport warp.Transport
	owner     common.Address
	operator  common.Address
	peer      map[uint32]common.Hash
	chains    *registry.Registry
}

func newPeers(cfg Config) (*peers, error) {
	if cfg.Address == (common.Address{}) || cfg.Owner == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if cfg.State == nil || cfg.Transport == nil {
		return nil, errors.New("adapter requires a state and a transport")
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &peers{
		log:       logger,
		addr:      cfg.Address,
		state:     cfg.State,
		transport: cfg.Transport,
		owner:     cfg.Owner,
		operator:  cfg.Operator,
		peer:      make(map[uint32]common.Hash),
		chains:    registry.New(registry.DefaultCapacity),
	}, nil
}

func (p *peers) Address() common.Address { return p.addr }

func (p *peers) Owner() common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.owner
}

func (p *peers) Operator() common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.operator
}

// SetPeer binds the expected sender identity for a remote endpoint. A peer
// is bound once.
func (p *peers) SetPeer(caller common.Address, eid uint32, peer common.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if caller != p.owner {
		return ErrOnlyOwner
	}
	if peer == (common.Hash{}) {
		return ErrZeroAddress
	}
	if _, exists := p.peer[eid]; exists {
		return fmt.Errorf("%w: %d", ErrPeerAlreadySet, eid)
	}
	if err := Events.Emit(p.state, p.addr, "PeerSet", eid, [32]byte(peer)); err != nil {
		return err
	}
	p.peer[eid] = peer
	p.log.Info("peer set",
		log.Uint64("eid", uint64(eid)),
		log.String("peer", peer.Hex()),
	)
	return nil
}

// Peer returns the identity bound to eid.
func (p *peers) Peer(eid uint32) (common.Hash, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	peer, ok := p.peer[eid]
	return peer, ok
}

// SetChainIDFromEid maps a transport endpoint id to a protocol chain id in
// both directions. Each side is bound once.
func (p *peers) SetChainIDFromEid(caller common.Address, eid uint32, chainID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if caller != p.owner {
		return ErrOnlyOwner
	}
	if err := p.chains.SetEndpointID(chainID, eid); err != nil {
		return err
	}
	return Events.Emit(p.state, p.addr, "ChainIdAdded", eid, chainID)
}

func (p *peers) ChainIDFromEid(eid uint32) (uint32, bool) {
	return p.chains.ChainIDFromEid(eid)
}

func (p *peers) EidFromChainID(chainID uint32) (uint32, bool) {
	return p.chains.EidFromChainID(chainID)
}

func (p *peers) TransferOwnership(caller, newOwner common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if caller != p.owner {
		return ErrOnlyOwner
	}
	if newOwner == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := Events.Emit(p.state, p.addr, "OwnershipTransferred", p.owner, newOwner); err != nil {
		return err
	}
	p.owner = newOwner
	return nil
}

func (p *peers) SetOperator(caller, operator common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if caller != p.owner {
		return ErrOnlyOwner
	}
	if operator == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := Events.Emit(p.state, p.addr, "OperatorChanged", p.operator, operator); err != nil {
		return err
	}
	p.operator = operator
	return nil
}

func (p *peers) hasPeers() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.peer) > 0 && p.chains.Len() > 0
}

// authenticate applies the endpoint and peer checks every inbound packet
// must pass and resolves the source chain.
func (p *peers) authenticate(caller common.Address, pkt warp.Packet) (uint32, error) {
	if caller != p.transport.Address() {
		return 0, fmt.Errorf("%w: %s", ErrOnlyEndpoint, caller.Hex())
	}
	peer, ok := p.Peer(pkt.SrcEid)
	if !ok || peer != pkt.Sender {
		return 0, fmt.Errorf("%w: eid %d sender %s", ErrOnlyPeer, pkt.SrcEid, pkt.Sender.Hex())
	}
	chainID, ok := p.chains.ChainIDFromEid(pkt.SrcEid)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownEid, pkt.SrcEid)
	}
	return chainID, nil
}

// route resolves the eid and peer for a destination chain.
func (p *peers) route(chainID uint32) (uint32, common.Hash, error) {
	eid, ok := p.chains.EidFromChainID(chainID)
	if !ok {
		return 0, common.Hash{}, fmt.Errorf("%w: %d", ErrUnknownChainID, chainID)
	}
	peer, ok := p.Peer(eid)
	if !ok {
		return 0, common.Hash{}, fmt.Errorf("%w: %d", ErrNoPeer, eid)
	}
	return eid, peer, nil
}

// pull moves the native value attached to a call from caller to the adapter.
func (p *peers) pull(caller common.Address, value *big.Int) error {
	if value == nil {
		return nil
	}
	if value.Sign() < 0 {
		return ErrInvalidNativeValue
	}
	return contract.Transfer(p.state, caller, p.addr, value)
}

// forward transfers amount to r and runs its receive hook.
func (p *peers) forward(r NativeReceiver, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := contract.Transfer(p.state, p.addr, r.Address(), amount); err != nil {
		return err
	}
	if err := r.Receive(p.addr, amount); err != nil {
		return err
	}
	return Events.Emit(p.state, p.addr, "EthForwarded", r.Address(), amount)
}

// sweep moves the adapter's whole native balance into r.
func (p *peers) sweep(caller common.Address, r NativeReceiver) (*big.Int, error) {
	if caller != p.Operator() {
		return nil, ErrOnlyOperator
	}
	amount := contract.BalanceOf(p.state, p.addr)
	if amount.Sign() == 0 {
		return nil, ErrNothingToRecover
	}
	err := contract.Call(p.state, func() error {
		if err := p.forward(r, amount); err != nil {
			return err
		}
		return Events.Emit(p.state, p.addr, "FundsRecovered", r.Address(), amount)
	})
	if err != nil {
		return nil, err
	}
	p.log.Info("recovered funds",
		log.Stringer("to", r.Address()),
		log.Stringer("amount", amount),
	)
	return amount, nil
}
