// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package adapter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/restake/contract"
	"github.com/luxfi/restake/warp"
)

// Ledger is the L1 component reports and native value are forwarded to.
type Ledger interface {
	NativeReceiver
	HandleL2Info(caller common.Address, chainID uint32, timestamp uint64, ethBalance, supply *big.Int) error
}

var (
	_ warp.Receiver = (*L1Adapter)(nil)
	_ warp.Receiver = (*L2Adapter)(nil)
)

// L1Adapter lives on L1 next to the ledger. It accepts reports and native
// value from its L2 peers and carries native value from the ledger to L2.
type L1Adapter struct {
	*peers

	rebalancer Ledger
}

func NewL1Adapter(cfg Config) (*L1Adapter, error) {
	p, err := newPeers(cfg)
	if err != nil {
		return nil, err
	}
	a := &L1Adapter{peers: p}
	if err := cfg.Transport.RegisterReceiver(cfg.Address, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SetRebalancer wires the ledger.
func (a *L1Adapter) SetRebalancer(caller common.Address, ledger Ledger) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owner {
		return ErrOnlyOwner
	}
	if ledger == nil || ledger.Address() == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := Events.Emit(a.state, a.addr, "RebalancerChanged", ledger.Address()); err != nil {
		return err
	}
	a.rebalancer = ledger
	return nil
}

func (a *L1Adapter) Rebalancer() (Ledger, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.rebalancer, a.rebalancer != nil
}

func (a *L1Adapter) State() ConfigState {
	if !a.hasPeers() {
		return Unconfigured
	}
	if _, ok := a.Rebalancer(); !ok {
		return PeerConfigured
	}
	return Operational
}

// Receive handles a packet from an L2 adapter. Attached value goes to the
// ledger; a non-empty payload is a report.
func (a *L1Adapter) Receive(ctx context.Context, caller common.Address, pkt warp.Packet) error {
	chainID, err := a.authenticate(caller, pkt)
	if err != nil {
		return err
	}
	ledger, ok := a.Rebalancer()
	if !ok {
		return ErrRebalancerNotSet
	}

	err = contract.Call(a.state, func() error {
		if pkt.Value != nil && pkt.Value.Sign() > 0 {
			if err := a.forward(ledger, pkt.Value); err != nil {
				return err
			}
		}
		if len(pkt.Payload) == 0 {
			return nil
		}
		report, err := warp.DecodeReport(pkt.Payload)
		if err != nil {
			return err
		}
		if err := Events.Emit(a.state, a.addr, "CrossChainInfoReceived",
			chainID, new(big.Int).SetUint64(report.Timestamp), report.EthBalance, report.Supply); err != nil {
			return err
		}
		return ledger.HandleL2Info(a.addr, chainID, report.Timestamp, report.EthBalance, report.Supply)
	})
	if err != nil {
		a.log.Debug("rejected inbound packet",
			log.Stringer("guid", warp.MessageID(ctx)),
			log.Uint64("chainID", uint64(chainID)),
			log.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// QuoteSendEth returns the fee SendEthToL2 deducts for chainID.
func (a *L1Adapter) QuoteSendEth(chainID uint32, options []byte) (*big.Int, error) {
	eid, _, err := a.route(chainID)
	if err != nil {
		return nil, err
	}
	return a.transport.Quote(eid, nil, options)
}

// SendEthToL2 carries value from the ledger to the peer on chainID. The
// transport fee is taken out of value.
func (a *L1Adapter) SendEthToL2(ctx context.Context, caller common.Address, chainID uint32, value *big.Int, options []byte) (warp.Receipt, error) {
	ledger, ok := a.Rebalancer()
	if !ok {
		return warp.Receipt{}, ErrRebalancerNotSet
	}
	if caller != ledger.Address() {
		return warp.Receipt{}, ErrOnlyRebalancer
	}
	if value == nil {
		return warp.Receipt{}, ErrNotEnoughNative
	}
	eid, peer, err := a.route(chainID)
	if err != nil {
		return warp.Receipt{}, err
	}

	var receipt warp.Receipt
	err = contract.Call(a.state, func() error {
		if err := a.pull(caller, value); err != nil {
			return err
		}
		fee, err := a.transport.Quote(eid, nil, options)
		if err != nil {
			return err
		}
		if value.Cmp(fee) <= 0 {
			return fmt.Errorf("%w: value %s, fee %s", ErrNotEnoughNative, value, fee)
		}
		amount := new(big.Int).Sub(value, fee)
		receipt, err = a.transport.Send(ctx, a.addr, eid, peer, nil, options, fee, amount)
		if err != nil {
			return err
		}
		return Events.Emit(a.state, a.addr, "CrossChainEthDeposit", chainID, amount, fee)
	})
	if err != nil {
		return warp.Receipt{}, err
	}
	a.log.Info("sent eth to l2",
		log.Uint64("chainID", uint64(chainID)),
		log.Stringer("value", value),
		log.Stringer("fee", receipt.Fee),
		log.Stringer("guid", receipt.GUID),
	)
	return receipt, nil
}

// OnEthReceived accepts a plain native transfer and passes it to the ledger.
func (a *L1Adapter) OnEthReceived(caller common.Address, value *big.Int) error {
	ledger, ok := a.Rebalancer()
	if !ok {
		return ErrRebalancerNotSet
	}
	return contract.Call(a.state, func() error {
		if err := a.pull(caller, value); err != nil {
			return err
		}
		return a.forward(ledger, value)
	})
}

// RecoverFunds sweeps any native balance stuck on the adapter to the ledger.
func (a *L1Adapter) RecoverFunds(caller common.Address) (*big.Int, error) {
	ledger, ok := a.Rebalancer()
	if !ok {
		return nil, ErrRebalancerNotSet
	}
	return a.sweep(caller, ledger)
}
