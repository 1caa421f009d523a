// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/restake/curve"
	"github.com/luxfi/restake/registry"
)

func TestParseWei(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  error
	}{
		{"0", "0", nil},
		{"1000", "1000", nil},
		{" 42 ", "42", nil},
		{"1e18", "1000000000000000000", nil},
		{"1.5e18", "1500000000000000000", nil},
		{"100e18", "100000000000000000000", nil},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935", "115792089237316195423570985008687907853269984665640564039457584007913129639935", nil},
		{"-1", "", ErrInvalidAmount},
		{"-1e18", "", ErrInvalidAmount},
		{"1.5", "", ErrInvalidAmount},
		{"eth", "", ErrInvalidAmount},
		{"", "", ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseWei(tt.in)
			require.ErrorIs(t, err, tt.err)
			if tt.err == nil {
				require.Equal(t, tt.want, v.String())
			}
		})
	}
}

func TestDefault(t *testing.T) {
	require := require.New(t)
	cfg := Default()

	require.Equal("info", cfg.LogLevel)
	require.Equal(registry.ChainEthereum, cfg.L1.ChainID)
	require.Equal("ethereum", cfg.L1.Name)
	require.Equal(uint32(30101), cfg.L1.Eid)
	require.Len(cfg.L2s, 3)
	require.Equal(OrderFIFO, cfg.Transport.Order)
	require.Equal("100000000000000", cfg.Transport.BaseFee.String())
	require.Equal("100000000000000000000", cfg.Vault.TargetCapacity.String())
	require.Equal(uint64(50e8), cfg.Vault.ProtocolFee)
	require.Equal(CurveConfig{MaxRate: 1.5e8, OptimalRate: 0.25e8, Kink: 25e8}, cfg.Vault.DepositBonus)
	require.NoError(cfg.Verify())

	// callers get their own l2 slice
	cfg.L2s[0].Eid = 1
	require.Equal(uint32(30110), DefaultL2s[0].Eid)
}

func TestLoadFile(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "restake.yaml")
	require.NoError(os.WriteFile(path, []byte(`
log_level: debug
l1:
  name: lux
  eid: 40000
l2s:
  - name: zoo
    eid: 40001
  - chain_id: 56
    eid: 40002
transport:
  base_fee: "2e15"
  order: random
  seed: 7
vault:
  target_capacity: "250e18"
  protocol_fee: 2500000000
  flash_fee:
    max_rate: 300000000
    optimal_rate: 100000000
    kink: 5000000000
`), 0o600))

	cfg, err := Load(path)
	require.NoError(err)
	require.Equal("debug", cfg.LogLevel)
	require.Equal(registry.ChainLux, cfg.L1.ChainID)
	require.Equal([]ChainConfig{
		{Name: "zoo", ChainID: registry.ChainZoo, Eid: 40001},
		{Name: "bsc", ChainID: registry.ChainBSC, Eid: 40002},
	}, cfg.L2s)
	require.Equal("2000000000000000", cfg.Transport.BaseFee.String())
	// unset keys keep their defaults
	require.Equal("1000000000", cfg.Transport.PerByteFee.String())
	require.Equal(OrderRandom, cfg.Transport.Order)
	require.Equal(int64(7), cfg.Transport.Seed)
	require.Equal(new(big.Int).Mul(big.NewInt(250), big.NewInt(1e18)).String(), cfg.Vault.TargetCapacity.String())
	require.Equal(uint64(25e8), cfg.Vault.ProtocolFee)

	p, err := cfg.Vault.FlashFee.Params()
	require.NoError(err)
	require.Equal(uint64(3e8), p.MaxRate())
}

func TestLoadEnv(t *testing.T) {
	require := require.New(t)
	t.Setenv("RESTAKE_VAULT_PROTOCOL_FEE", "1000")
	t.Setenv("RESTAKE_VAULT_MIN_AMOUNT", "5e15")

	cfg, err := Load("")
	require.NoError(err)
	require.Equal(uint64(1000), cfg.Vault.ProtocolFee)
	require.Equal("5000000000000000", cfg.Vault.MinAmount.String())
	require.Len(cfg.L2s, 3)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	t.Setenv("RESTAKE_VAULT_RATIO", "half")
	_, err = Load("")
	require.ErrorContains(t, err, ErrInvalidAmount.Error())
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		err    error
	}{
		{"valid", func(*Config) {}, nil},
		{"no l2", func(c *Config) { c.L2s = nil }, ErrNoL2},
		{"unknown name", func(c *Config) { c.L2s[0] = ChainConfig{Name: "nowhere", Eid: 9} }, ErrInvalidChain},
		{"missing eid", func(c *Config) { c.L2s[0].Eid = 0 }, ErrInvalidChain},
		{"l1 as l2", func(c *Config) { c.L2s[0].ChainID = c.L1.ChainID }, ErrDuplicateChain},
		{"shared eid", func(c *Config) { c.L2s[1].Eid = c.L2s[0].Eid }, ErrDuplicateEid},
		{"bad order", func(c *Config) { c.Transport.Order = "lifo" }, ErrInvalidOrder},
		{"no fee", func(c *Config) { c.Transport.BaseFee = nil }, ErrInvalidTransport},
		{"zero target", func(c *Config) { c.Vault.TargetCapacity = new(big.Int) }, ErrInvalidVault},
		{"zero ratio", func(c *Config) { c.Vault.Ratio = nil }, ErrInvalidVault},
		{"protocol fee", func(c *Config) { c.Vault.ProtocolFee = curve.MaxPercent + 1 }, curve.ErrParameterExceedsLimits},
		{"bonus kink", func(c *Config) { c.Vault.DepositBonus.Kink = curve.MaxPercent + 1 }, curve.ErrParameterExceedsLimits},
		{"fee rate", func(c *Config) { c.Vault.FlashFee.MaxRate = curve.MaxPercent + 1 }, curve.ErrParameterExceedsLimits},
		{"too many l2s", func(c *Config) {
			c.L2s = nil
			for i := uint32(0); i <= uint32(registry.DefaultCapacity); i++ {
				c.L2s = append(c.L2s, ChainConfig{ChainID: 1000 + i, Eid: 2000 + i})
			}
		}, ErrInvalidChain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			require.ErrorIs(t, cfg.Verify(), tt.err)
		})
	}
}
