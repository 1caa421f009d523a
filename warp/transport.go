// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package warp is the cross-chain message transport consumed by the
// adapters. Delivery is at-least-once and unordered; the endpoint always
// hands the receiver the verified sender identity of a packet.
package warp

import (
	"context"
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
)

var (
	ErrUnknownEndpoint  = errors.New("unknown destination endpoint")
	ErrEndpointExists   = errors.New("endpoint already registered")
	ErrInsufficientFee  = errors.New("fee below quote")
	ErrNoReceiver       = errors.New("no receiver registered")
	ErrReceiverExists   = errors.New("receiver already registered")
	ErrInvalidReceiver  = errors.New("invalid receiver identity")
	ErrNegativeValue    = errors.New("value cannot be negative")
	ErrNotDelivered     = errors.New("message has not been delivered")
	ErrMessageNotFailed = errors.New("message is not parked as failed")
	ErrSendToSelf       = errors.New("destination is the source endpoint")
)

// Packet is one message in flight between two endpoints.
type Packet struct {
	GUID     ids.ID
	Nonce    uint64
	SrcEid   uint32
	DstEid   uint32
	Sender   common.Hash
	Receiver common.Hash
	Payload  []byte
	// Value is the native amount credited to the receiver on delivery.
	Value *big.Int
}

// Receipt is returned to the sender of a packet.
type Receipt struct {
	GUID  ids.ID
	Nonce uint64
	Fee   *big.Int
}

// Receiver handles packets delivered by an endpoint. caller is the address
// of the delivering endpoint.
type Receiver interface {
	Receive(ctx context.Context, caller common.Address, pkt Packet) error
}

// Transport is the per-chain view of the messaging layer.
type Transport interface {
	// Eid is the endpoint id of the local chain.
	Eid() uint32
	// Address is the identity the endpoint uses when it calls receivers.
	Address() common.Address
	// Quote returns the native fee for sending payload to dstEid.
	Quote(dstEid uint32, payload []byte, options []byte) (*big.Int, error)
	// Send debits fee plus value from sender and puts a packet in flight.
	Send(ctx context.Context, sender common.Address, dstEid uint32, receiver common.Hash, payload []byte, options []byte, fee *big.Int, value *big.Int) (Receipt, error)
	// RegisterReceiver routes packets addressed to addr to r.
	RegisterReceiver(addr common.Address, r Receiver) error
}
