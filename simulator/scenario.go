// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/log"

	"github.com/luxfi/restake/rebalancer"
)

// Scenario is a scripted run. Every round, on every L2, a fresh user
// deposits Deposit and flash-withdraws Withdraw shares, then the vault
// bridges Bridge to L1. Bridged value is staked when Stake is set, the L2s
// report and the ledger reconciles.
type Scenario struct {
	Rounds   int
	Deposit  *big.Int
	Withdraw *big.Int
	Bridge   *big.Int
	Stake    bool
}

// RoundResult is what happened in one round.
type RoundResult struct {
	Round          int
	Delivered      int
	Staked         *big.Int
	Reconciliation rebalancer.Reconciliation
	Summary        Summary
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// Run plays sc and returns one result per round. It stops at the first
// error.
func (s *Simulator) Run(ctx context.Context, sc Scenario) ([]RoundResult, error) {
	results := make([]RoundResult, 0, sc.Rounds)
	for round := 1; round <= sc.Rounds; round++ {
		res, err := s.round(ctx, round, sc)
		if err != nil {
			return results, fmt.Errorf("round %d: %w", round, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Simulator) round(ctx context.Context, round int, sc Scenario) (RoundResult, error) {
	s.Advance(BlockTime)
	res := RoundResult{
		Round:  round,
		Staked: new(big.Int),
	}

	for _, l2 := range s.L2s {
		user := Account(fmt.Sprintf("%s/%d", l2.Name, round))
		if positive(sc.Deposit) {
			if _, err := s.Deposit(l2.ChainID, user, sc.Deposit); err != nil {
				return res, fmt.Errorf("deposit on %s: %w", l2.Name, err)
			}
		}
		if positive(sc.Withdraw) {
			if _, err := s.FlashWithdraw(l2.ChainID, user, sc.Withdraw); err != nil {
				return res, fmt.Errorf("withdraw on %s: %w", l2.Name, err)
			}
		}
		if positive(sc.Bridge) {
			if _, err := s.BridgeToL1(ctx, l2.ChainID, sc.Bridge); err != nil {
				return res, fmt.Errorf("bridge from %s: %w", l2.Name, err)
			}
		}
	}
	n, err := s.Deliver(ctx)
	if err != nil {
		return res, err
	}
	res.Delivered += n

	if sc.Stake {
		shares, err := s.StakeIdle()
		switch {
		case err == nil:
			res.Staked = shares
		case !errors.Is(err, ErrNothingToDo):
			return res, fmt.Errorf("stake: %w", err)
		}
	}

	if err := s.ReportAll(ctx); err != nil {
		return res, err
	}
	n, err = s.Deliver(ctx)
	if err != nil {
		return res, err
	}
	res.Delivered += n

	rec, err := s.Reconcile()
	switch {
	case err == nil:
		res.Reconciliation = rec
	case errors.Is(err, rebalancer.ErrNoRebalancingRequired):
		res.Reconciliation = rebalancer.Reconciliation{
			Swept:  new(big.Int),
			Minted: new(big.Int),
			Burned: new(big.Int),
			Supply: s.L1.Ledger.TotalL2Supply(),
		}
	default:
		return res, fmt.Errorf("reconcile: %w", err)
	}

	res.Summary = s.Summary()
	s.log.Info("round complete",
		log.Int("round", round),
		log.Int("delivered", res.Delivered),
		log.Stringer("supply", res.Reconciliation.Supply),
		log.Stringer("minted", res.Reconciliation.Minted),
		log.Stringer("burned", res.Reconciliation.Burned),
		log.Stringer("staked", res.Staked),
	)
	return res, nil
}
