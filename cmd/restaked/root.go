// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"

	luxlog "github.com/luxfi/log"
	"github.com/spf13/cobra"

	"github.com/luxfi/restake/config"
)

type rootFlags struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "restaked",
		Short: "Cross-chain restaking rebalancer",
		Long: `restaked wires a ledger on L1 to vaults on a set of L2s over an
in-memory transport. Use subcommands to run a simulated deployment or to
inspect the deposit bonus and flash withdrawal fee curves.

Every configuration key can be set in the file passed with --config or in
the environment, e.g. RESTAKE_VAULT_PROTOCOL_FEE.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level, overrides log_level in the config")

	cmd.AddCommand(
		newSimulateCmd(flags),
		newCurveCmd(flags),
	)
	return cmd
}

// load reads the configuration and builds the logger it asks for.
func (f *rootFlags) load() (*config.Config, luxlog.Logger, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, nil, err
	}
	name := cfg.LogLevel
	if f.logLevel != "" {
		name = f.logLevel
	}
	level, err := luxlog.ToLevel(name)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return cfg, luxlog.NewTestLogger(level), nil
}
