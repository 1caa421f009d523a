// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"fmt"
	"strings"

	"github.com/luxfi/geth/common"
)

// Known chain ids.
const (
	ChainEthereum  uint32 = 1      // Ethereum mainnet
	ChainOptimism  uint32 = 10     // Optimism
	ChainBSC       uint32 = 56     // BNB Smart Chain
	ChainPolygon   uint32 = 137    // Polygon PoS
	ChainBase      uint32 = 8453   // Base
	ChainArbitrum  uint32 = 42161  // Arbitrum One
	ChainAvalanche uint32 = 43114  // Avalanche C-Chain
	ChainLux       uint32 = 96369  // Lux mainnet C-Chain
	ChainZoo       uint32 = 200200 // Zoo mainnet
)

var chainNames = map[uint32]string{
	ChainEthereum:  "ethereum",
	ChainOptimism:  "optimism",
	ChainBSC:       "bsc",
	ChainPolygon:   "polygon",
	ChainBase:      "base",
	ChainArbitrum:  "arbitrum",
	ChainAvalanche: "avalanche",
	ChainLux:       "lux",
	ChainZoo:       "zoo",
}

// ChainName returns the short name of a known chain, or its decimal id.
func ChainName(chainID uint32) string {
	if name, ok := chainNames[chainID]; ok {
		return name
	}
	return fmt.Sprintf("%d", chainID)
}

// ChainByName resolves a known chain name, case-insensitively.
func ChainByName(name string) (uint32, bool) {
	name = strings.ToLower(name)
	for id, n := range chainNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// Component kinds occupy the high nibble of a component selector.
type Component uint8

const (
	ComponentLedger Component = iota + 1
	ComponentAdapter
	ComponentVault
	ComponentToken
	ComponentLockbox
	ComponentTreasury
	ComponentReceiver
	ComponentEndpoint
)

func (c Component) String() string {
	switch c {
	case ComponentLedger:
		return "ledger"
	case ComponentAdapter:
		return "adapter"
	case ComponentVault:
		return "vault"
	case ComponentToken:
		return "token"
	case ComponentLockbox:
		return "lockbox"
	case ComponentTreasury:
		return "treasury"
	case ComponentReceiver:
		return "receiver"
	case ComponentEndpoint:
		return "endpoint"
	default:
		return "unknown"
	}
}

// ComponentAddress derives the deterministic address of a protocol component
// deployed on chainID.
// Format: 0x5e57 || kind (1 byte) || 0-padding || chainID (4 bytes, big-endian)
func ComponentAddress(kind Component, chainID uint32) common.Address {
	var addr common.Address
	addr[0] = 0x5e
	addr[1] = 0x57
	addr[2] = byte(kind)
	addr[16] = byte(chainID >> 24)
	addr[17] = byte(chainID >> 16)
	addr[18] = byte(chainID >> 8)
	addr[19] = byte(chainID)
	return addr
}

// ParseComponentAddress reverses ComponentAddress.
func ParseComponentAddress(addr common.Address) (Component, uint32, bool) {
	if addr[0] != 0x5e || addr[1] != 0x57 {
		return 0, 0, false
	}
	for _, b := range addr[3:16] {
		if b != 0 {
			return 0, 0, false
		}
	}
	chainID := uint32(addr[16])<<24 | uint32(addr[17])<<16 | uint32(addr[18])<<8 | uint32(addr[19])
	return Component(addr[2]), chainID, true
}
