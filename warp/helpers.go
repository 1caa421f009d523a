// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package warp

import (
	"context"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
)

type contextKey string

const (
	messageIDKey contextKey = "messageID"
	srcEidKey    contextKey = "srcEid"
)

// MessageID retrieves the GUID of the message being delivered.
func MessageID(ctx context.Context) ids.ID {
	if v := ctx.Value(messageIDKey); v != nil {
		if id, ok := v.(ids.ID); ok {
			return id
		}
	}
	return ids.Empty
}

// WithMessageID tags ctx with the GUID of the message being delivered.
func WithMessageID(ctx context.Context, id ids.ID) context.Context {
	return context.WithValue(ctx, messageIDKey, id)
}

// SourceEid retrieves the source endpoint id of the message being delivered.
func SourceEid(ctx context.Context) (uint32, bool) {
	eid, ok := ctx.Value(srcEidKey).(uint32)
	return eid, ok
}

func withSourceEid(ctx context.Context, eid uint32) context.Context {
	return context.WithValue(ctx, srcEidKey, eid)
}

// AddressToPeer left-pads addr into a 32-byte peer identity.
func AddressToPeer(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// PeerToAddress returns the address held in a peer identity. It reports false
// when the high 12 bytes are not zero.
func PeerToAddress(peer common.Hash) (common.Address, bool) {
	for _, b := range peer[:common.HashLength-common.AddressLength] {
		if b != 0 {
			return common.Address{}, false
		}
	}
	return common.BytesToAddress(peer.Bytes()), true
}
