// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package warp

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"math/rand"
	"sync"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/restake/contract"
)

var (
	nonceSlotPrefix  = []byte("warp/nonce")
	commitSlotPrefix = []byte("warp/commit")
	creditSlotPrefix = []byte("warp/credit")
)

// FeeSchedule prices a message as BaseFee + PerByteFee*len(payload).
type FeeSchedule struct {
	BaseFee    *big.Int
	PerByteFee *big.Int
}

// Shuffle reorders the in-flight packets before a delivery round.
type Shuffle func(pkts []Packet)

// RandomShuffle returns a Shuffle driven by a seeded source.
func RandomShuffle(seed int64) Shuffle {
	rng := rand.New(rand.NewSource(seed)) // #nosec G404
	return func(pkts []Packet) {
		rng.Shuffle(len(pkts), func(i, j int) { pkts[i], pkts[j] = pkts[j], pkts[i] })
	}
}

// ReverseShuffle delivers the newest packet first.
func ReverseShuffle(pkts []Packet) {
	for i, j := 0, len(pkts)-1; i < j; i, j = i+1, j-1 {
		pkts[i], pkts[j] = pkts[j], pkts[i]
	}
}

// Failure is a packet whose delivery reverted.
type Failure struct {
	Packet Packet
	Err    error
}

// Network is an in-memory hub connecting endpoints on several chains.
//
// A packet is committed in the source chain's state when it is sent, so a
// send whose enclosing call reverts leaves no commitment and the packet is
// discarded at delivery time. Failed deliveries are reverted on the
// destination and parked until Retry.
type Network struct {
	mu sync.Mutex

	log       log.Logger
	endpoints map[uint32]*Endpoint
	inflight  []Packet
	delivered map[ids.ID]Packet
	failed    map[ids.ID]Failure
	shuffle   Shuffle
}

func NewNetwork(logger log.Logger) *Network {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Network{
		log:       logger,
		endpoints: make(map[uint32]*Endpoint),
		delivered: make(map[ids.ID]Packet),
		failed:    make(map[ids.ID]Failure),
	}
}

// NewEndpoint attaches a chain to the network. state is the chain's world
// state; addr is the endpoint's own account on it.
func (n *Network) NewEndpoint(eid uint32, addr common.Address, state contract.StateDB, fees FeeSchedule) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.endpoints[eid]; exists {
		return nil, fmt.Errorf("%w: %d", ErrEndpointExists, eid)
	}
	if fees.BaseFee == nil {
		fees.BaseFee = new(big.Int)
	}
	if fees.PerByteFee == nil {
		fees.PerByteFee = new(big.Int)
	}
	e := &Endpoint{
		net:       n,
		eid:       eid,
		addr:      addr,
		state:     state,
		fees:      fees,
		receivers: make(map[common.Address]Receiver),
	}
	n.endpoints[eid] = e
	return e, nil
}

// SetShuffle sets the delivery order for later rounds. nil means FIFO.
func (n *Network) SetShuffle(s Shuffle) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.shuffle = s
}

// Pending returns the packets in flight.
func (n *Network) Pending() []Packet {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Packet, len(n.inflight))
	copy(out, n.inflight)
	return out
}

// Failed returns the parked failures.
func (n *Network) Failed() []Failure {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Failure, 0, len(n.failed))
	for _, f := range n.failed {
		out = append(out, f)
	}
	return out
}

// Drop loses an in-flight packet.
func (n *Network) Drop(guid ids.ID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, pkt := range n.inflight {
		if pkt.GUID == guid {
			n.inflight = append(n.inflight[:i], n.inflight[i+1:]...)
			return true
		}
	}
	return false
}

// Duplicate puts an already delivered packet back in flight.
func (n *Network) Duplicate(guid ids.ID) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	pkt, ok := n.delivered[guid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotDelivered, guid)
	}
	n.inflight = append(n.inflight, pkt)
	return nil
}

// Deliver runs one delivery round over every packet in flight at the time of
// the call and returns how many were delivered successfully.
func (n *Network) Deliver(ctx context.Context) (int, error) {
	n.mu.Lock()
	batch := n.inflight
	n.inflight = nil
	shuffle := n.shuffle
	n.mu.Unlock()

	if shuffle != nil {
		shuffle(batch)
	}

	delivered := 0
	for i, pkt := range batch {
		if err := ctx.Err(); err != nil {
			n.mu.Lock()
			n.inflight = append(batch[i:], n.inflight...)
			n.mu.Unlock()
			return delivered, err
		}
		if n.deliver(ctx, pkt) == nil {
			delivered++
		}
	}
	return delivered, nil
}

// Retry redelivers a parked failure.
func (n *Network) Retry(ctx context.Context, guid ids.ID) error {
	n.mu.Lock()
	f, ok := n.failed[guid]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrMessageNotFailed, guid)
	}
	return n.deliver(ctx, f.Packet)
}

func (n *Network) deliver(ctx context.Context, pkt Packet) error {
	n.mu.Lock()
	src := n.endpoints[pkt.SrcEid]
	dst := n.endpoints[pkt.DstEid]
	n.mu.Unlock()

	if src == nil || !src.committed(pkt) {
		n.log.Debug("discarding uncommitted packet",
			log.Stringer("guid", pkt.GUID),
			log.Uint64("nonce", pkt.Nonce),
		)
		return nil
	}
	if dst == nil {
		return n.park(pkt, fmt.Errorf("%w: %d", ErrUnknownEndpoint, pkt.DstEid))
	}

	ctx = withSourceEid(WithMessageID(ctx, pkt.GUID), pkt.SrcEid)
	if err := dst.receive(ctx, pkt); err != nil {
		return n.park(pkt, err)
	}

	n.mu.Lock()
	delete(n.failed, pkt.GUID)
	n.delivered[pkt.GUID] = pkt
	n.mu.Unlock()

	n.log.Debug("delivered packet",
		log.Stringer("guid", pkt.GUID),
		log.Uint64("srcEid", uint64(pkt.SrcEid)),
		log.Uint64("dstEid", uint64(pkt.DstEid)),
	)
	return nil
}

func (n *Network) park(pkt Packet, err error) error {
	n.mu.Lock()
	n.failed[pkt.GUID] = Failure{Packet: pkt, Err: err}
	n.mu.Unlock()

	n.log.Warn("packet delivery failed",
		log.Stringer("guid", pkt.GUID),
		log.Uint64("srcEid", uint64(pkt.SrcEid)),
		log.Uint64("dstEid", uint64(pkt.DstEid)),
		log.String("error", err.Error()),
	)
	return err
}

func (n *Network) enqueue(pkt Packet) {
	n.mu.Lock()
	defer n.mu.Unlock()

	// a reverted send may have left a packet with the same GUID behind
	for i := range n.inflight {
		if n.inflight[i].GUID == pkt.GUID {
			n.inflight[i] = pkt
			return
		}
	}
	n.inflight = append(n.inflight, pkt)
}

func (n *Network) endpoint(eid uint32) (*Endpoint, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.endpoints[eid]
	return e, ok
}

var _ Transport = (*Endpoint)(nil)

// Endpoint is one chain's attachment to a Network.
type Endpoint struct {
	net   *Network
	eid   uint32
	addr  common.Address
	state contract.StateDB
	fees  FeeSchedule

	mu        sync.RWMutex
	receivers map[common.Address]Receiver
}

func (e *Endpoint) Eid() uint32 { return e.eid }

func (e *Endpoint) Address() common.Address { return e.addr }

func (e *Endpoint) Quote(dstEid uint32, payload []byte, options []byte) (*big.Int, error) {
	if _, ok := e.net.endpoint(dstEid); !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEndpoint, dstEid)
	}
	opts, err := ParseOptions(options)
	if err != nil {
		return nil, err
	}
	return e.quote(payload, opts), nil
}

func (e *Endpoint) quote(payload []byte, opts Options) *big.Int {
	fee := new(big.Int).Mul(e.fees.PerByteFee, big.NewInt(int64(len(payload))))
	fee.Add(fee, e.fees.BaseFee)
	return fee.Add(fee, opts.NativeDrop)
}

func (e *Endpoint) Send(
	ctx context.Context,
	sender common.Address,
	dstEid uint32,
	receiver common.Hash,
	payload []byte,
	options []byte,
	fee *big.Int,
	value *big.Int,
) (Receipt, error) {
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 || fee.Sign() < 0 {
		return Receipt{}, ErrNegativeValue
	}
	if dstEid == e.eid {
		return Receipt{}, ErrSendToSelf
	}
	if _, ok := PeerToAddress(receiver); !ok || receiver == (common.Hash{}) {
		return Receipt{}, fmt.Errorf("%w: %s", ErrInvalidReceiver, receiver.Hex())
	}
	opts, err := ParseOptions(options)
	if err != nil {
		return Receipt{}, err
	}
	quoted, err := e.Quote(dstEid, payload, options)
	if err != nil {
		return Receipt{}, err
	}
	if fee.Cmp(quoted) < 0 {
		return Receipt{}, fmt.Errorf("%w: paid %s, quoted %s", ErrInsufficientFee, fee, quoted)
	}

	total := new(big.Int).Add(fee, value)
	if err := contract.Transfer(e.state, sender, e.addr, total); err != nil {
		return Receipt{}, err
	}

	senderID := AddressToPeer(sender)
	slots := contract.NewSlots(e.state, e.addr)
	nonceKey := contract.StorageKey(nonceSlotPrefix, senderID.Bytes(), contract.Uint32Bytes(dstEid), receiver.Bytes())
	nonce := slots.Uint64(nonceKey) + 1
	slots.SetUint64(nonceKey, nonce)

	pkt := Packet{
		Nonce:    nonce,
		SrcEid:   e.eid,
		DstEid:   dstEid,
		Sender:   senderID,
		Receiver: receiver,
		Payload:  append([]byte(nil), payload...),
		Value:    new(big.Int).Add(value, opts.NativeDrop),
	}
	pkt.GUID = packetGUID(pkt)
	e.state.SetState(e.addr, contract.StorageKey(commitSlotPrefix, pkt.GUID[:]), commitment(pkt))
	e.net.enqueue(pkt)

	e.net.log.Debug("sent packet",
		log.Stringer("guid", pkt.GUID),
		log.Uint64("nonce", nonce),
		log.Uint64("dstEid", uint64(dstEid)),
		log.Int("payloadSize", len(payload)),
	)
	return Receipt{GUID: pkt.GUID, Nonce: nonce, Fee: new(big.Int).Set(fee)}, nil
}

func (e *Endpoint) RegisterReceiver(addr common.Address, r Receiver) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.receivers[addr]; exists {
		return fmt.Errorf("%w: %s", ErrReceiverExists, addr.Hex())
	}
	e.receivers[addr] = r
	return nil
}

func (e *Endpoint) committed(pkt Packet) bool {
	stored := e.state.GetState(e.addr, contract.StorageKey(commitSlotPrefix, pkt.GUID[:]))
	return stored == commitment(pkt)
}

// receive credits the packet value and calls the receiver as one top-level
// call on the destination state.
func (e *Endpoint) receive(ctx context.Context, pkt Packet) error {
	addr, _ := PeerToAddress(pkt.Receiver)

	e.mu.RLock()
	r, ok := e.receivers[addr]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s on eid %d", ErrNoReceiver, addr.Hex(), e.eid)
	}

	return contract.Exec(e.state, func() error {
		// value is credited once per GUID; redeliveries carry none
		slots := contract.NewSlots(e.state, e.addr)
		creditKey := contract.StorageKey(creditSlotPrefix, pkt.GUID[:])
		if slots.Uint64(creditKey) != 0 {
			pkt.Value = new(big.Int)
		} else {
			if err := contract.Mint(e.state, addr, pkt.Value); err != nil {
				return err
			}
			slots.SetUint64(creditKey, 1)
		}
		return r.Receive(ctx, e.addr, pkt)
	})
}

func packetGUID(pkt Packet) ids.ID {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], pkt.Nonce)
	var guid ids.ID
	copy(guid[:], crypto.Keccak256(
		nonce[:],
		contract.Uint32Bytes(pkt.SrcEid),
		pkt.Sender.Bytes(),
		contract.Uint32Bytes(pkt.DstEid),
		pkt.Receiver.Bytes(),
	))
	return guid
}

func commitment(pkt Packet) common.Hash {
	return common.BytesToHash(crypto.Keccak256(
		pkt.GUID[:],
		common.BigToHash(pkt.Value).Bytes(),
		pkt.Payload,
	))
}
