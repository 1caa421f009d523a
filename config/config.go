// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads the deployment description of a restaking network:
// the L1 and L2 chains, the transport fee schedule and the vault economics.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/luxfi/restake/curve"
	"github.com/luxfi/restake/registry"
)

const EnvPrefix = "RESTAKE"

var (
	ErrInvalidAmount    = errors.New("invalid wei amount")
	ErrNoL2             = errors.New("at least one l2 is required")
	ErrInvalidChain     = errors.New("invalid chain")
	ErrDuplicateChain   = errors.New("duplicate chain")
	ErrDuplicateEid     = errors.New("duplicate endpoint id")
	ErrInvalidOrder     = errors.New("invalid delivery order")
	ErrInvalidVault     = errors.New("invalid vault configuration")
	ErrInvalidTransport = errors.New("invalid transport configuration")
)

// Delivery orders of the in-memory transport.
const (
	OrderFIFO    = "fifo"
	OrderReverse = "reverse"
	OrderRandom  = "random"
)

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	L1        ChainConfig     `mapstructure:"l1"`
	L2s       []ChainConfig   `mapstructure:"l2s"`
	Transport TransportConfig `mapstructure:"transport"`
	Vault     VaultConfig     `mapstructure:"vault"`
}

// ChainConfig names a chain either by ChainID or by Name.
type ChainConfig struct {
	Name    string `mapstructure:"name"`
	ChainID uint32 `mapstructure:"chain_id"`
	Eid     uint32 `mapstructure:"eid"`
}

type TransportConfig struct {
	BaseFee    *big.Int `mapstructure:"base_fee"`
	PerByteFee *big.Int `mapstructure:"per_byte_fee"`
	GasLimit   uint64   `mapstructure:"gas_limit"`
	Order      string   `mapstructure:"order"`
	Seed       int64    `mapstructure:"seed"`
}

type CurveConfig struct {
	MaxRate     uint64 `mapstructure:"max_rate"`
	OptimalRate uint64 `mapstructure:"optimal_rate"`
	Kink        uint64 `mapstructure:"kink"`
}

func (c CurveConfig) Params() (curve.Params, error) {
	return curve.NewParams(c.MaxRate, c.OptimalRate, c.Kink)
}

type VaultConfig struct {
	TargetCapacity *big.Int    `mapstructure:"target_capacity"`
	DepositBonus   CurveConfig `mapstructure:"deposit_bonus"`
	FlashFee       CurveConfig `mapstructure:"flash_fee"`
	ProtocolFee    uint64      `mapstructure:"protocol_fee"`
	MinAmount      *big.Int    `mapstructure:"min_amount"`
	MaxTVL         *big.Int    `mapstructure:"max_tvl"`
	Ratio          *big.Int    `mapstructure:"ratio"`
}

// DefaultL2s are the L2 deployments of Default.
var DefaultL2s = []ChainConfig{
	{Name: "arbitrum", ChainID: registry.ChainArbitrum, Eid: 30110},
	{Name: "optimism", ChainID: registry.ChainOptimism, Eid: 30111},
	{Name: "base", ChainID: registry.ChainBase, Eid: 30184},
}

// Default returns a three-L2 deployment anchored on Ethereum.
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v)
	if err := unmarshal(v, cfg); err != nil {
		panic(err)
	}
	if err := cfg.Verify(); err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("l1.eid", 30101)

	v.SetDefault("transport.base_fee", "1e14")
	v.SetDefault("transport.per_byte_fee", "1e9")
	v.SetDefault("transport.gas_limit", 200_000)
	v.SetDefault("transport.order", OrderFIFO)
	v.SetDefault("transport.seed", 1)

	v.SetDefault("vault.target_capacity", "100e18")
	v.SetDefault("vault.deposit_bonus.max_rate", uint64(1.5e8))
	v.SetDefault("vault.deposit_bonus.optimal_rate", uint64(0.25e8))
	v.SetDefault("vault.deposit_bonus.kink", uint64(25e8))
	v.SetDefault("vault.flash_fee.max_rate", uint64(1.5e8))
	v.SetDefault("vault.flash_fee.optimal_rate", uint64(0.5e8))
	v.SetDefault("vault.flash_fee.kink", uint64(25e8))
	v.SetDefault("vault.protocol_fee", uint64(50e8))
	v.SetDefault("vault.min_amount", "1e14")
	v.SetDefault("vault.max_tvl", "10000e18")
	v.SetDefault("vault.ratio", "1e18")
}

// Load reads path, when set, over the defaults. Every key can be overridden
// from the environment, e.g. RESTAKE_VAULT_PROTOCOL_FEE.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := unmarshal(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// unmarshal decodes v into cfg. An L1 named neither by id nor by name is
// Ethereum, and no L2s means DefaultL2s.
func unmarshal(v *viper.Viper, cfg *Config) error {
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		WeiHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return err
	}
	if cfg.L1.ChainID == 0 && cfg.L1.Name == "" {
		cfg.L1.ChainID = registry.ChainEthereum
	}
	if len(cfg.L2s) == 0 {
		cfg.L2s = append([]ChainConfig(nil), DefaultL2s...)
	}
	return nil
}

var (
	bigIntType    = reflect.TypeOf(big.Int{})
	bigIntPtrType = reflect.TypeOf(&big.Int{})
)

// WeiHookFunc decodes strings and numbers into big.Int fields. Strings may
// use exponent notation such as "1.5e18" as long as the value is integral.
func WeiHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != bigIntPtrType && t != bigIntType {
			return data, nil
		}
		var (
			v   *big.Int
			err error
		)
		switch d := data.(type) {
		case string:
			v, err = ParseWei(d)
		case int:
			v = big.NewInt(int64(d))
		case int64:
			v = big.NewInt(d)
		case uint64:
			v = new(big.Int).SetUint64(d)
		case float64:
			v, err = floatWei(new(big.Float).SetFloat64(d))
		default:
			return data, nil
		}
		if err != nil {
			return nil, err
		}
		if t == bigIntType {
			return *v, nil
		}
		return v, nil
	}
}

// ParseWei parses a non-negative integral amount written in decimal or
// exponent notation.
func ParseWei(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if v, ok := new(big.Int).SetString(s, 10); ok {
		if v.Sign() < 0 {
			return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
		}
		return v, nil
	}
	f, ok := new(big.Float).SetPrec(512).SetString(s)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	v, err := floatWei(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, s)
	}
	return v, nil
}

func floatWei(f *big.Float) (*big.Int, error) {
	if f.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	if !f.IsInt() {
		return nil, fmt.Errorf("%w: not integral", ErrInvalidAmount)
	}
	v, _ := f.Int(nil)
	return v, nil
}

// Resolve fills ChainID from Name when only the name is given.
func (c *ChainConfig) Resolve() error {
	if c.ChainID == 0 {
		id, ok := registry.ChainByName(c.Name)
		if !ok {
			return fmt.Errorf("%w: unknown name %q", ErrInvalidChain, c.Name)
		}
		c.ChainID = id
	}
	if c.Name == "" {
		c.Name = registry.ChainName(c.ChainID)
	}
	if c.Eid == 0 {
		return fmt.Errorf("%w: chain %d has no eid", ErrInvalidChain, c.ChainID)
	}
	return nil
}

// Verify resolves chain names and checks the configuration is consistent.
func (c *Config) Verify() error {
	if len(c.L2s) == 0 {
		return ErrNoL2
	}
	chains := make(map[uint32]struct{}, len(c.L2s)+1)
	eids := make(map[uint32]struct{}, len(c.L2s)+1)
	all := []*ChainConfig{&c.L1}
	for i := range c.L2s {
		all = append(all, &c.L2s[i])
	}
	for _, chain := range all {
		if err := chain.Resolve(); err != nil {
			return err
		}
		if _, ok := chains[chain.ChainID]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateChain, chain.ChainID)
		}
		if _, ok := eids[chain.Eid]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateEid, chain.Eid)
		}
		chains[chain.ChainID] = struct{}{}
		eids[chain.Eid] = struct{}{}
	}
	if len(c.L2s) > registry.DefaultCapacity {
		return fmt.Errorf("%w: %d l2s exceed capacity %d", ErrInvalidChain, len(c.L2s), registry.DefaultCapacity)
	}

	switch c.Transport.Order {
	case OrderFIFO, OrderReverse, OrderRandom:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOrder, c.Transport.Order)
	}
	if c.Transport.BaseFee == nil || c.Transport.PerByteFee == nil {
		return fmt.Errorf("%w: fees must be set", ErrInvalidTransport)
	}

	return c.Vault.Verify()
}

func (c *VaultConfig) Verify() error {
	if c.TargetCapacity == nil || c.TargetCapacity.Sign() <= 0 {
		return fmt.Errorf("%w: target capacity must be positive", ErrInvalidVault)
	}
	if c.Ratio == nil || c.Ratio.Sign() <= 0 {
		return fmt.Errorf("%w: ratio must be positive", ErrInvalidVault)
	}
	if c.MinAmount == nil || c.MaxTVL == nil {
		return fmt.Errorf("%w: min amount and max tvl must be set", ErrInvalidVault)
	}
	if c.ProtocolFee > curve.MaxPercent {
		return fmt.Errorf("%w: protocol fee %d", curve.ErrParameterExceedsLimits, c.ProtocolFee)
	}
	if _, err := c.DepositBonus.Params(); err != nil {
		return fmt.Errorf("deposit bonus: %w", err)
	}
	if _, err := c.FlashFee.Params(); err != nil {
		return fmt.Errorf("flash fee: %w", err)
	}
	return nil
}
