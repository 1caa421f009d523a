// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package warp

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/restake/contract"
)

const (
	testL1Eid uint32 = 30101
	testL2Eid uint32 = 30110
)

var (
	testL1Endpoint = common.HexToAddress("0x00000000000000000000000000000000000e0001")
	testL2Endpoint = common.HexToAddress("0x00000000000000000000000000000000000e0002")
	testSender     = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	testReceiver   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type recordingReceiver struct {
	state   contract.StateDB
	packets []Packet
	ids     []ids.ID
	fail    error
}

func (r *recordingReceiver) Receive(ctx context.Context, caller common.Address, pkt Packet) error {
	if caller != testL1Endpoint {
		return errors.New("unexpected caller")
	}
	// a write that must vanish when the call fails
	r.state.SetState(testReceiver, common.Hash{1}, common.Hash{2})
	if r.fail != nil {
		return r.fail
	}
	r.packets = append(r.packets, pkt)
	r.ids = append(r.ids, MessageID(ctx))
	return nil
}

type testNet struct {
	net     *Network
	l1, l2  *contract.State
	l1e     *Endpoint
	l2e     *Endpoint
	receive *recordingReceiver
}

func newTestNet(t *testing.T) *testNet {
	require := require.New(t)
	n := NewNetwork(nil)
	l1 := contract.NewState(nil)
	l2 := contract.NewState(nil)

	fees := FeeSchedule{BaseFee: big.NewInt(1000), PerByteFee: big.NewInt(10)}
	l1e, err := n.NewEndpoint(testL1Eid, testL1Endpoint, l1, fees)
	require.NoError(err)
	l2e, err := n.NewEndpoint(testL2Eid, testL2Endpoint, l2, fees)
	require.NoError(err)

	_, err = n.NewEndpoint(testL1Eid, testL1Endpoint, l1, fees)
	require.ErrorIs(err, ErrEndpointExists)

	r := &recordingReceiver{state: l1}
	require.NoError(l1e.RegisterReceiver(testReceiver, r))
	require.ErrorIs(l1e.RegisterReceiver(testReceiver, r), ErrReceiverExists)

	l2.AddBalance(testSender, uint256.NewInt(1_000_000))
	return &testNet{net: n, l1: l1, l2: l2, l1e: l1e, l2e: l2e, receive: r}
}

func (tn *testNet) send(t *testing.T, payload []byte, value int64) Receipt {
	fee, err := tn.l2e.Quote(testL1Eid, payload, nil)
	require.NoError(t, err)
	receipt, err := tn.l2e.Send(context.Background(), testSender, testL1Eid, AddressToPeer(testReceiver), payload, nil, fee, big.NewInt(value))
	require.NoError(t, err)
	return receipt
}

func TestOptionsPackUnpack(t *testing.T) {
	require := require.New(t)
	opts := Options{GasLimit: 250_000, NativeDrop: big.NewInt(1e15)}

	packed, err := opts.Pack()
	require.NoError(err)
	require.Len(packed, 64)

	got, err := UnpackOptions(packed)
	require.NoError(err)
	require.Equal(opts.GasLimit, got.GasLimit)
	require.Zero(opts.NativeDrop.Cmp(got.NativeDrop))

	// zero values still round trip because the delimiter follows the body
	got, err = UnpackOptions(Options{}.MustPack())
	require.NoError(err)
	require.Zero(got.GasLimit)
	require.Zero(got.NativeDrop.Sign())

	def, err := ParseOptions(nil)
	require.NoError(err)
	require.Equal(DefaultGasLimit, def.GasLimit)

	_, err = Options{NativeDrop: big.NewInt(-1)}.Pack()
	require.ErrorIs(err, ErrNegativeNativeDrop)
}

func TestUnpackOptionsErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		err   error
	}{
		{"all zero", make([]byte, 32), ErrInvalidAllZeroBytes},
		{"bad padding", append(Options{}.MustPack(), make([]byte, 32)...), ErrInvalidPadding},
		{"missing delimiter", append([]byte{1}, make([]byte, 31)...), ErrInvalidEndDelimiter},
		{"short body", pad([]byte{1, 2, 3}), ErrInvalidOptionsSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnpackOptions(tt.input)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestReportCodec(t *testing.T) {
	require := require.New(t)
	supply, _ := new(big.Int).SetString("120000000000000000000", 10)
	r := Report{Timestamp: 1_700_000_000, EthBalance: big.NewInt(42), Supply: supply}

	payload, err := EncodeReport(r)
	require.NoError(err)
	require.Len(payload, ReportSize)
	require.Equal(common.BigToHash(big.NewInt(1_700_000_000)).Bytes(), payload[:32])

	got, err := DecodeReport(payload)
	require.NoError(err)
	require.Equal(r.Timestamp, got.Timestamp)
	require.Zero(r.EthBalance.Cmp(got.EthBalance))
	require.Zero(r.Supply.Cmp(got.Supply))

	_, err = DecodeReport(payload[:64])
	require.ErrorIs(err, ErrInvalidReport)

	huge := append([]byte(nil), payload...)
	huge[0] = 1
	_, err = DecodeReport(huge)
	require.ErrorIs(err, ErrInvalidReport)

	_, err = EncodeReport(Report{Timestamp: 1})
	require.ErrorIs(err, ErrInvalidReport)
}

func TestPeerIdentity(t *testing.T) {
	require := require.New(t)
	peer := AddressToPeer(testSender)
	require.Equal(make([]byte, 12), peer[:12])

	addr, ok := PeerToAddress(peer)
	require.True(ok)
	require.Equal(testSender, addr)

	_, ok = PeerToAddress(common.HexToHash("0x0100000000000000000000000000000000000000000000000000000000000001"))
	require.False(ok)
}

func TestQuote(t *testing.T) {
	require := require.New(t)
	tn := newTestNet(t)

	fee, err := tn.l2e.Quote(testL1Eid, make([]byte, 96), nil)
	require.NoError(err)
	require.Equal(int64(1000+960), fee.Int64())

	opts := Options{GasLimit: 1, NativeDrop: big.NewInt(5)}.MustPack()
	fee, err = tn.l2e.Quote(testL1Eid, nil, opts)
	require.NoError(err)
	require.Equal(int64(1005), fee.Int64())

	_, err = tn.l2e.Quote(99, nil, nil)
	require.ErrorIs(err, ErrUnknownEndpoint)
}

func TestSendAndDeliver(t *testing.T) {
	require := require.New(t)
	tn := newTestNet(t)

	receipt := tn.send(t, []byte("hello"), 300)
	require.Equal(uint64(1), receipt.Nonce)
	require.Equal(int64(1050), receipt.Fee.Int64())
	require.Equal(uint64(1_000_000-1050-300), tn.l2.GetBalance(testSender).Uint64())
	require.Len(tn.net.Pending(), 1)

	n, err := tn.net.Deliver(context.Background())
	require.NoError(err)
	require.Equal(1, n)
	require.Empty(tn.net.Pending())

	require.Len(tn.receive.packets, 1)
	pkt := tn.receive.packets[0]
	require.Equal(receipt.GUID, pkt.GUID)
	require.Equal(receipt.GUID, tn.receive.ids[0])
	require.Equal(AddressToPeer(testSender), pkt.Sender)
	require.Equal(testL2Eid, pkt.SrcEid)
	require.Equal([]byte("hello"), pkt.Payload)
	require.Equal(uint64(300), tn.l1.GetBalance(testReceiver).Uint64())

	second := tn.send(t, nil, 0)
	require.Equal(uint64(2), second.Nonce)
	require.NotEqual(receipt.GUID, second.GUID)
}

func TestSendValidation(t *testing.T) {
	require := require.New(t)
	tn := newTestNet(t)
	ctx := context.Background()
	peer := AddressToPeer(testReceiver)

	_, err := tn.l2e.Send(ctx, testSender, testL1Eid, peer, nil, nil, big.NewInt(999), nil)
	require.ErrorIs(err, ErrInsufficientFee)

	_, err = tn.l2e.Send(ctx, testSender, testL2Eid, peer, nil, nil, big.NewInt(1000), nil)
	require.ErrorIs(err, ErrSendToSelf)

	_, err = tn.l2e.Send(ctx, testSender, testL1Eid, common.Hash{}, nil, nil, big.NewInt(1000), nil)
	require.ErrorIs(err, ErrInvalidReceiver)

	_, err = tn.l2e.Send(ctx, testSender, testL1Eid, peer, nil, nil, big.NewInt(1000), big.NewInt(2_000_000))
	require.ErrorIs(err, contract.ErrInsufficientBalance)

	require.Empty(tn.net.Pending())
}

func TestRevertedSendIsDiscarded(t *testing.T) {
	require := require.New(t)
	tn := newTestNet(t)

	errAbort := errors.New("abort")
	err := contract.Call(tn.l2, func() error {
		tn.send(t, []byte("ghost"), 0)
		return errAbort
	})
	require.ErrorIs(err, errAbort)
	require.Len(tn.net.Pending(), 1)

	n, err := tn.net.Deliver(context.Background())
	require.NoError(err)
	require.Zero(n)
	require.Empty(tn.receive.packets)
	require.Empty(tn.net.Failed())

	// the nonce was reverted with the send
	receipt := tn.send(t, []byte("real"), 0)
	require.Equal(uint64(1), receipt.Nonce)
}

func TestFailedDeliveryParksAndRetries(t *testing.T) {
	require := require.New(t)
	tn := newTestNet(t)
	ctx := context.Background()

	tn.receive.fail = errors.New("not ready")
	receipt := tn.send(t, []byte("x"), 100)

	n, err := tn.net.Deliver(ctx)
	require.NoError(err)
	require.Zero(n)

	failed := tn.net.Failed()
	require.Len(failed, 1)
	require.Equal(receipt.GUID, failed[0].Packet.GUID)
	require.ErrorIs(failed[0].Err, tn.receive.fail)

	// the destination call was reverted, value included
	require.Zero(tn.l1.GetBalance(testReceiver).Uint64())
	require.Equal(common.Hash{}, tn.l1.GetState(testReceiver, common.Hash{1}))

	require.Error(tn.net.Retry(ctx, receipt.GUID))
	require.Len(tn.net.Failed(), 1)

	tn.receive.fail = nil
	require.NoError(tn.net.Retry(ctx, receipt.GUID))
	require.Empty(tn.net.Failed())
	require.Len(tn.receive.packets, 1)
	require.Equal(uint64(100), tn.l1.GetBalance(testReceiver).Uint64())

	require.ErrorIs(tn.net.Retry(ctx, receipt.GUID), ErrMessageNotFailed)
}

func TestDuplicateAndDrop(t *testing.T) {
	require := require.New(t)
	tn := newTestNet(t)
	ctx := context.Background()

	first := tn.send(t, []byte("a"), 50)
	second := tn.send(t, []byte("b"), 0)

	require.ErrorIs(tn.net.Duplicate(first.GUID), ErrNotDelivered)
	require.True(tn.net.Drop(second.GUID))
	require.False(tn.net.Drop(second.GUID))

	n, err := tn.net.Deliver(ctx)
	require.NoError(err)
	require.Equal(1, n)

	require.NoError(tn.net.Duplicate(first.GUID))
	n, err = tn.net.Deliver(ctx)
	require.NoError(err)
	require.Equal(1, n)

	require.Len(tn.receive.packets, 2)
	require.Equal(first.GUID, tn.receive.packets[1].GUID)

	// the duplicate carried no value
	require.Zero(tn.receive.packets[1].Value.Sign())
	require.Equal(uint64(50), tn.l1.GetBalance(testReceiver).Uint64())
}

func TestShuffle(t *testing.T) {
	require := require.New(t)
	tn := newTestNet(t)
	tn.net.SetShuffle(ReverseShuffle)

	first := tn.send(t, []byte("1"), 0)
	second := tn.send(t, []byte("2"), 0)

	_, err := tn.net.Deliver(context.Background())
	require.NoError(err)
	require.Equal(second.GUID, tn.receive.packets[0].GUID)
	require.Equal(first.GUID, tn.receive.packets[1].GUID)

	pkts := []Packet{{Nonce: 1}, {Nonce: 2}, {Nonce: 3}, {Nonce: 4}}
	RandomShuffle(7)(pkts)
	require.Len(pkts, 4)
}

func TestDeliverCancelled(t *testing.T) {
	require := require.New(t)
	tn := newTestNet(t)
	tn.send(t, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := tn.net.Deliver(ctx)
	require.ErrorIs(err, context.Canceled)
	require.Zero(n)
	require.Len(tn.net.Pending(), 1)
}

func TestContextHelpers(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	require.Equal(ids.Empty, MessageID(ctx))
	_, ok := SourceEid(ctx)
	require.False(ok)

	id := ids.GenerateTestID()
	ctx = withSourceEid(WithMessageID(ctx, id), testL2Eid)
	require.Equal(id, MessageID(ctx))
	eid, ok := SourceEid(ctx)
	require.True(ok)
	require.Equal(testL2Eid, eid)
}
