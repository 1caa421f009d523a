// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"io"
	"math/big"
	"strconv"

	"github.com/luxfi/database/memdb"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/luxfi/restake/config"
	"github.com/luxfi/restake/simulator"
)

type simulateFlags struct {
	rounds   int
	deposit  string
	withdraw string
	bridge   string
	stake    bool
}

func newSimulateCmd(root *rootFlags) *cobra.Command {
	flags := &simulateFlags{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scripted deployment round by round",
		Long: `Every round a new user deposits and flash-withdraws on each L2, each
vault bridges part of its capacity to L1, the ledger stakes what arrived,
every L2 reports and the ledger reconciles the lockbox.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			sc, err := flags.scenario()
			if err != nil {
				return err
			}
			sim, err := simulator.New(cfg, memdb.New(), prometheus.NewRegistry(), logger)
			if err != nil {
				return err
			}
			results, err := sim.Run(cmd.Context(), sc)
			if err != nil {
				return err
			}
			if err := sim.Commit(); err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), results, sim.Summary())
		},
	}
	cmd.Flags().IntVar(&flags.rounds, "rounds", 3, "number of rounds")
	cmd.Flags().StringVar(&flags.deposit, "deposit", "10e18", "wei deposited per L2 per round")
	cmd.Flags().StringVar(&flags.withdraw, "withdraw", "1e18", "shares flash-withdrawn per L2 per round")
	cmd.Flags().StringVar(&flags.bridge, "bridge", "4e18", "wei bridged to L1 per L2 per round")
	cmd.Flags().BoolVar(&flags.stake, "stake", true, "stake bridged value into the L1 pool")
	return cmd
}

func (f *simulateFlags) scenario() (simulator.Scenario, error) {
	if f.rounds <= 0 {
		return simulator.Scenario{}, fmt.Errorf("rounds must be positive, got %d", f.rounds)
	}
	sc := simulator.Scenario{Rounds: f.rounds, Stake: f.stake}
	for _, v := range []struct {
		flag string
		in   string
		out  **big.Int
	}{
		{"deposit", f.deposit, &sc.Deposit},
		{"withdraw", f.withdraw, &sc.Withdraw},
		{"bridge", f.bridge, &sc.Bridge},
	} {
		amount, err := config.ParseWei(v.in)
		if err != nil {
			return simulator.Scenario{}, fmt.Errorf("--%s: %w", v.flag, err)
		}
		*v.out = amount
	}
	return sc, nil
}

func printResults(w io.Writer, results []simulator.RoundResult, final simulator.Summary) error {
	rounds := tablewriter.NewWriter(w)
	rounds.Header("Round", "Delivered", "Supply", "Minted", "Burned", "Staked", "Lockbox", "Consistent")
	for _, res := range results {
		if err := rounds.Append([]string{
			strconv.Itoa(res.Round),
			strconv.Itoa(res.Delivered),
			formatEther(res.Reconciliation.Supply),
			formatEther(res.Reconciliation.Minted),
			formatEther(res.Reconciliation.Burned),
			formatEther(res.Staked),
			formatEther(res.Summary.Treasury.LockboxBalance),
			strconv.FormatBool(res.Summary.Consistent()),
		}); err != nil {
			return err
		}
	}
	if err := rounds.Render(); err != nil {
		return err
	}

	chains := tablewriter.NewWriter(w)
	chains.Header("Chain", "Chain ID", "Assets", "Supply", "Bonus Pool", "Reported At", "Reported Supply")
	for _, l2 := range final.L2s {
		if err := chains.Append([]string{
			l2.Name,
			strconv.FormatUint(uint64(l2.ChainID), 10),
			formatEther(l2.TotalAssets),
			formatEther(l2.Supply),
			formatEther(l2.BonusPool),
			strconv.FormatUint(l2.ReportedAt, 10),
			formatEther(l2.ReportedSupply),
		}); err != nil {
			return err
		}
	}
	if err := chains.Render(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "ledger balance %s, pool assets %s, minted supply %s\n",
		formatEther(final.LedgerBalance),
		formatEther(final.PoolAssets),
		formatEther(final.Treasury.TotalMintedSupply),
	)
	return err
}

var weiPerEther = new(big.Float).SetInt(big.NewInt(1e18))

func formatEther(v *big.Int) string {
	if v == nil {
		return "0"
	}
	f := new(big.Float).SetPrec(256).SetInt(v)
	return f.Quo(f, weiPerEther).Text('f', 6)
}
