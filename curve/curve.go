// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package curve implements the utilization curve that prices flash liquidity.
//
// Utilization is the current flash capacity over a target capacity. The rate
// is piecewise linear in utilization:
//
//	[0, kink)       falls linearly from MaxRate to OptimalRate
//	[kink, 100%]    constant OptimalRate
//	(100%, inf)     zero
//
// Deposits earn a bonus integrated over the capacity they add; flash
// withdrawals pay a fee integrated over the capacity they remove. Rates and
// the kink are expressed in MaxPercent parts.
package curve

import (
	"errors"
	"fmt"
	"math/big"
)

// MaxPercent is 100% in rate units.
const MaxPercent uint64 = 100 * 1e8

var (
	ErrParameterExceedsLimits = errors.New("parameter exceeds limits")
	ErrInsufficientCapacity   = errors.New("insufficient capacity")
)

// InsufficientCapacityError reports a withdrawal larger than the capacity
// available at the time of the call.
type InsufficientCapacityError struct {
	Capacity *big.Int
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity: %s", e.Capacity)
}

func (e *InsufficientCapacityError) Unwrap() error { return ErrInsufficientCapacity }

var (
	wad        = big.NewInt(1e18)
	maxPercent = new(big.Int).SetUint64(MaxPercent)
	two        = big.NewInt(2)
)

// Params is a validated set of curve parameters. The zero value is a flat
// zero-rate curve.
type Params struct {
	maxRate     uint64
	optimalRate uint64
	kink        uint64
}

// NewParams validates that every parameter is at most MaxPercent.
// OptimalRate above MaxRate is accepted; see Inverted.
func NewParams(maxRate, optimalRate, kink uint64) (Params, error) {
	for _, v := range []struct {
		name  string
		value uint64
	}{
		{"maxRate", maxRate},
		{"optimalRate", optimalRate},
		{"utilizationKink", kink},
	} {
		if v.value > MaxPercent {
			return Params{}, fmt.Errorf("%w: %s %d > %d", ErrParameterExceedsLimits, v.name, v.value, MaxPercent)
		}
	}
	return Params{maxRate: maxRate, optimalRate: optimalRate, kink: kink}, nil
}

// MustParams is NewParams for constant parameters.
func MustParams(maxRate, optimalRate, kink uint64) Params {
	p, err := NewParams(maxRate, optimalRate, kink)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Params) MaxRate() uint64     { return p.maxRate }
func (p Params) OptimalRate() uint64 { return p.optimalRate }
func (p Params) Kink() uint64        { return p.kink }

// Inverted reports an optimal rate above the max rate. Such a curve rises
// toward the kink instead of falling. It is a legal configuration that
// callers are expected to surface.
func (p Params) Inverted() bool {
	return p.optimalRate > p.maxRate
}

func (p Params) String() string {
	return fmt.Sprintf("max=%d optimal=%d kink=%d", p.maxRate, p.optimalRate, p.kink)
}

// OptimalCapacity is the capacity at the kink: target * kink / MaxPercent.
func OptimalCapacity(target *big.Int, p Params) *big.Int {
	out := new(big.Int).Mul(target, new(big.Int).SetUint64(p.kink))
	return out.Div(out, maxPercent)
}

// Rate returns the pointwise rate at capacity.
func Rate(capacity, target *big.Int, p Params) *big.Int {
	if capacity.Cmp(target) > 0 {
		return new(big.Int)
	}
	optimal := OptimalCapacity(target, p)
	if capacity.Cmp(optimal) >= 0 {
		return new(big.Int).SetUint64(p.optimalRate)
	}
	// max - (max - optimal) * capacity / optimalCapacity
	span := new(big.Int).Sub(new(big.Int).SetUint64(p.maxRate), new(big.Int).SetUint64(p.optimalRate))
	drop := span.Mul(span, capacity)
	drop.Quo(drop, optimal)
	return drop.Sub(new(big.Int).SetUint64(p.maxRate), drop)
}

// slopeRate returns the interpolated rate at point on the [0, kink) segment
// using the wad-scaled slope, so rounding follows a fixed order.
func slopeRate(point, target, optimal *big.Int, p Params) *big.Int {
	// slope = (max - optimal) * 1e18 / (optimalCapacity * 1e18 / target)
	slope := new(big.Int).Sub(new(big.Int).SetUint64(p.maxRate), new(big.Int).SetUint64(p.optimalRate))
	slope.Mul(slope, wad)
	utilization := new(big.Int).Mul(optimal, wad)
	utilization.Quo(utilization, target)
	if utilization.Sign() == 0 {
		return new(big.Int).SetUint64(p.optimalRate)
	}
	slope.Quo(slope, utilization)

	// rate = max - slope * point / target
	rate := slope.Mul(slope, point)
	rate.Quo(rate, target)
	return rate.Sub(new(big.Int).SetUint64(p.maxRate), rate)
}

// DepositBonus integrates the curve over [capacity, capacity+amount]. Each
// segment is charged at the rate of its midpoint. The result is not capped;
// the caller limits it to the bonus pool.
func DepositBonus(amount, capacity, target *big.Int, p Params) *big.Int {
	if amount.Sign() <= 0 || target.Sign() <= 0 {
		return new(big.Int)
	}
	amount = new(big.Int).Set(amount)
	capacity = new(big.Int).Set(capacity)
	optimal := OptimalCapacity(target, p)
	acc := new(big.Int)

	if capacity.Cmp(optimal) < 0 {
		replenished := new(big.Int).Set(amount)
		if end := new(big.Int).Add(capacity, amount); end.Cmp(optimal) > 0 {
			replenished.Sub(optimal, capacity)
		}
		mid := new(big.Int).Quo(replenished, two)
		mid.Add(mid, capacity)
		rate := slopeRate(mid, target, optimal, p)

		acc.Add(acc, rate.Mul(rate, replenished))
		capacity.Add(capacity, replenished)
		amount.Sub(amount, replenished)
	}

	if amount.Sign() > 0 && capacity.Cmp(target) <= 0 {
		replenished := new(big.Int).Sub(target, capacity)
		if replenished.Cmp(amount) > 0 {
			replenished.Set(amount)
		}
		acc.Add(acc, replenished.Mul(replenished, new(big.Int).SetUint64(p.optimalRate)))
	}

	return acc.Quo(acc, maxPercent)
}

// FlashFee integrates the mirrored curve over [capacity-amount, capacity].
// Any withdrawal charged at a positive rate pays at least 1 wei.
func FlashFee(amount, capacity, target *big.Int, p Params) (*big.Int, error) {
	if amount.Cmp(capacity) > 0 {
		return nil, &InsufficientCapacityError{Capacity: new(big.Int).Set(capacity)}
	}
	if amount.Sign() <= 0 {
		return new(big.Int), nil
	}
	amount = new(big.Int).Set(amount)
	capacity = new(big.Int).Set(capacity)
	optimal := OptimalCapacity(target, p)
	acc := new(big.Int)

	// above target is free
	if capacity.Cmp(target) > 0 {
		replenished := new(big.Int).Sub(capacity, target)
		if replenished.Cmp(amount) > 0 {
			replenished.Set(amount)
		}
		amount.Sub(amount, replenished)
		capacity.Sub(capacity, replenished)
	}

	if amount.Sign() > 0 && capacity.Cmp(optimal) > 0 {
		replenished := new(big.Int).Sub(capacity, optimal)
		if replenished.Cmp(amount) > 0 {
			replenished.Set(amount)
		}
		acc.Add(acc, new(big.Int).Mul(replenished, new(big.Int).SetUint64(p.optimalRate)))
		amount.Sub(amount, replenished)
		capacity.Sub(capacity, replenished)
	}

	if amount.Sign() > 0 {
		mid := new(big.Int).Quo(amount, two)
		mid.Sub(capacity, mid)
		rate := slopeRate(mid, target, optimal, p)
		acc.Add(acc, rate.Mul(rate, amount))
	}

	charged := acc.Sign() > 0
	fee := acc.Quo(acc, maxPercent)
	if fee.Sign() < 0 {
		fee.SetInt64(0)
	}
	if charged && fee.Sign() == 0 {
		fee.SetInt64(1)
	}
	return fee, nil
}
