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

// L2Adapter lives on an L2 next to the vault. It reports the chain's state
// to L1, carries native value to L1 and hands value arriving from L1 to the
// L2 receiver.
type L2Adapter struct {
	*peers

	l1ChainID uint32
	receiver  NativeReceiver
	sender    common.Address
}

// NewL2Adapter returns an adapter that reports to l1ChainID. The chain must
// still be mapped to its eid with SetChainIDFromEid.
func NewL2Adapter(cfg Config, l1ChainID uint32) (*L2Adapter, error) {
	p, err := newPeers(cfg)
	if err != nil {
		return nil, err
	}
	a := &L2Adapter{peers: p, l1ChainID: l1ChainID}
	if err := cfg.Transport.RegisterReceiver(cfg.Address, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *L2Adapter) L1ChainID() uint32 { return a.l1ChainID }

// SetL2Receiver wires the component value from L1 is forwarded to.
func (a *L2Adapter) SetL2Receiver(caller common.Address, r NativeReceiver) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owner {
		return ErrOnlyOwner
	}
	if r == nil || r.Address() == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := Events.Emit(a.state, a.addr, "L2ReceiverChanged", r.Address()); err != nil {
		return err
	}
	a.receiver = r
	return nil
}

// SetL2Sender sets the account, besides the operator, allowed to send
// reports and value to L1.
func (a *L2Adapter) SetL2Sender(caller, sender common.Address) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.owner {
		return ErrOnlyOwner
	}
	if sender == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := Events.Emit(a.state, a.addr, "L2SenderChanged", sender); err != nil {
		return err
	}
	a.sender = sender
	return nil
}

func (a *L2Adapter) L2Receiver() (NativeReceiver, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.receiver, a.receiver != nil
}

func (a *L2Adapter) State() ConfigState {
	if !a.hasPeers() {
		return Unconfigured
	}
	if _, ok := a.L2Receiver(); !ok {
		return PeerConfigured
	}
	return Operational
}

func (a *L2Adapter) checkSender(caller common.Address) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if caller == (common.Address{}) || (caller != a.sender && caller != a.operator) {
		return fmt.Errorf("%w: %s", ErrOnlyL2Sender, caller.Hex())
	}
	return nil
}

// QuoteReport returns the fee for sending a report to L1.
func (a *L2Adapter) QuoteReport(report warp.Report, options []byte) (*big.Int, error) {
	payload, err := warp.EncodeReport(report)
	if err != nil {
		return nil, err
	}
	eid, _, err := a.route(a.l1ChainID)
	if err != nil {
		return nil, err
	}
	return a.transport.Quote(eid, payload, options)
}

// SendReport sends the chain's (timestamp, ethBalance, supply) to the L1
// peer. value pays the fee; any excess is refunded to caller.
func (a *L2Adapter) SendReport(ctx context.Context, caller common.Address, value *big.Int, report warp.Report, options []byte) (warp.Receipt, error) {
	if err := a.checkSender(caller); err != nil {
		return warp.Receipt{}, err
	}
	payload, err := warp.EncodeReport(report)
	if err != nil {
		return warp.Receipt{}, err
	}
	eid, peer, err := a.route(a.l1ChainID)
	if err != nil {
		return warp.Receipt{}, err
	}
	if value == nil {
		value = new(big.Int)
	}

	var receipt warp.Receipt
	err = contract.Call(a.state, func() error {
		if err := a.pull(caller, value); err != nil {
			return err
		}
		fee, err := a.transport.Quote(eid, payload, options)
		if err != nil {
			return err
		}
		if value.Cmp(fee) < 0 {
			return fmt.Errorf("%w: value %s, fee %s", ErrNotEnoughNative, value, fee)
		}
		receipt, err = a.transport.Send(ctx, a.addr, eid, peer, payload, options, fee, nil)
		if err != nil {
			return err
		}
		if err := contract.Transfer(a.state, a.addr, caller, new(big.Int).Sub(value, fee)); err != nil {
			return err
		}
		return Events.Emit(a.state, a.addr, "ReportSent",
			common.Hash(receipt.GUID), new(big.Int).SetUint64(report.Timestamp), report.EthBalance, report.Supply, fee)
	})
	if err != nil {
		return warp.Receipt{}, err
	}
	a.log.Info("sent report",
		log.Stringer("guid", receipt.GUID),
		log.Uint64("timestamp", report.Timestamp),
		log.Stringer("ethBalance", report.EthBalance),
		log.Stringer("supply", report.Supply),
	)
	return receipt, nil
}

// SendEthToL1 carries value to the L1 peer, which hands it to the ledger.
// The transport fee is taken out of value.
func (a *L2Adapter) SendEthToL1(ctx context.Context, caller common.Address, value *big.Int, options []byte) (warp.Receipt, error) {
	if err := a.checkSender(caller); err != nil {
		return warp.Receipt{}, err
	}
	eid, peer, err := a.route(a.l1ChainID)
	if err != nil {
		return warp.Receipt{}, err
	}
	if value == nil {
		return warp.Receipt{}, ErrNotEnoughNative
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
		return Events.Emit(a.state, a.addr, "CrossChainEthDeposit", a.l1ChainID, amount, fee)
	})
	if err != nil {
		return warp.Receipt{}, err
	}
	return receipt, nil
}

// Receive handles value arriving from the L1 adapter.
func (a *L2Adapter) Receive(ctx context.Context, caller common.Address, pkt warp.Packet) error {
	if _, err := a.authenticate(caller, pkt); err != nil {
		return err
	}
	r, ok := a.L2Receiver()
	if !ok {
		return ErrL2ReceiverNotSet
	}
	if len(pkt.Payload) != 0 {
		return fmt.Errorf("%w: %d bytes", ErrUnexpectedPayload, len(pkt.Payload))
	}
	return contract.Call(a.state, func() error {
		return a.forward(r, pkt.Value)
	})
}

// OnEthReceived accepts a plain native transfer and passes it to the L2
// receiver.
func (a *L2Adapter) OnEthReceived(caller common.Address, value *big.Int) error {
	r, ok := a.L2Receiver()
	if !ok {
		return ErrL2ReceiverNotSet
	}
	return contract.Call(a.state, func() error {
		if err := a.pull(caller, value); err != nil {
			return err
		}
		return a.forward(r, value)
	})
}

// RecoverFunds sweeps any native balance stuck on the adapter to the L2
// receiver.
func (a *L2Adapter) RecoverFunds(caller common.Address) (*big.Int, error) {
	r, ok := a.L2Receiver()
	if !ok {
		return nil, ErrL2ReceiverNotSet
	}
	return a.sweep(caller, r)
}
