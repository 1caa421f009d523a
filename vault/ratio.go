// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
)

var ErrInvalidRatio = errors.New("ratio must be positive")

// RatioScale is the fixed point of a ratio: shares per unit of asset.
var RatioScale = big.NewInt(1e18)

// RatioFeed reports how many shares one unit of asset is worth, scaled by
// RatioScale. A zero ratio means the token is unknown.
type RatioFeed interface {
	Ratio(token common.Address) *big.Int
}

var _ RatioFeed = (*StaticRatioFeed)(nil)

// StaticRatioFeed is a RatioFeed set by hand. It is safe for concurrent use.
type StaticRatioFeed struct {
	mu     sync.RWMutex
	ratios map[common.Address]*big.Int
}

func NewStaticRatioFeed() *StaticRatioFeed {
	return &StaticRatioFeed{ratios: make(map[common.Address]*big.Int)}
}

func (f *StaticRatioFeed) SetRatio(token common.Address, ratio *big.Int) error {
	if ratio == nil || ratio.Sign() <= 0 {
		return ErrInvalidRatio
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ratios[token] = new(big.Int).Set(ratio)
	return nil
}

func (f *StaticRatioFeed) Ratio(token common.Address) *big.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	r, ok := f.ratios[token]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(r)
}
