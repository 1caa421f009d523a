// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/luxfi/restake/config"
	"github.com/luxfi/restake/curve"
)

type curveFlags struct {
	amount string
	steps  int
}

func newCurveCmd(root *rootFlags) *cobra.Command {
	flags := &curveFlags{}
	cmd := &cobra.Command{
		Use:   "curve",
		Short: "Print the deposit bonus and flash fee across capacities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}
			if flags.steps <= 0 {
				return fmt.Errorf("steps must be positive, got %d", flags.steps)
			}
			amount, err := config.ParseWei(flags.amount)
			if err != nil {
				return fmt.Errorf("--amount: %w", err)
			}
			return printCurve(cmd.OutOrStdout(), cfg.Vault, amount, flags.steps)
		},
	}
	cmd.Flags().StringVar(&flags.amount, "amount", "1e18", "wei deposited or withdrawn at each point")
	cmd.Flags().IntVar(&flags.steps, "steps", 10, "number of points up to the target capacity")
	return cmd
}

// printCurve samples capacities from zero to 1.5x the target.
func printCurve(w io.Writer, vc config.VaultConfig, amount *big.Int, steps int) error {
	bonus, err := vc.DepositBonus.Params()
	if err != nil {
		return err
	}
	fee, err := vc.FlashFee.Params()
	if err != nil {
		return err
	}
	target := vc.TargetCapacity

	if _, err := fmt.Fprintf(w, "target %s, bonus %s, fee %s, protocol fee %s, amount %s\n",
		formatEther(target), bonus, fee, formatRate(new(big.Int).SetUint64(vc.ProtocolFee)), formatEther(amount)); err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Capacity", "Utilization", "Bonus Rate", "Fee Rate", "Bonus", "Fee")
	last := steps + steps/2
	for i := 0; i <= last; i++ {
		capacity := new(big.Int).Mul(target, big.NewInt(int64(i)))
		capacity.Div(capacity, big.NewInt(int64(steps)))

		feeCell := "-"
		switch f, err := curve.FlashFee(amount, capacity, target, fee); {
		case err == nil:
			feeCell = formatEther(f)
		case !errors.Is(err, curve.ErrInsufficientCapacity):
			return err
		}
		utilization := new(big.Int).Mul(big.NewInt(int64(i)), new(big.Int).SetUint64(curve.MaxPercent))
		utilization.Div(utilization, big.NewInt(int64(steps)))

		if err := table.Append([]string{
			formatEther(capacity),
			formatRate(utilization),
			formatRate(curve.Rate(capacity, target, bonus)),
			formatRate(curve.Rate(capacity, target, fee)),
			formatEther(curve.DepositBonus(amount, capacity, target, bonus)),
			feeCell,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

var ratePerPercent = new(big.Float).SetUint64(curve.MaxPercent / 100)

// formatRate renders a rate in curve.MaxPercent parts as a percentage.
func formatRate(rate *big.Int) string {
	f := new(big.Float).SetInt(rate)
	return f.Quo(f, ratePerPercent).Text('f', 4) + "%"
}
