// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package warp

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/accounts/abi"
)

var ErrInvalidReport = errors.New("invalid report payload")

// ReportSize is the length of an encoded report: three 32-byte words.
const ReportSize = 3 * 32

var reportArgs abi.Arguments

func init() {
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	reportArgs = abi.Arguments{
		{Name: "timestamp", Type: uint256Type},
		{Name: "ethBalance", Type: uint256Type},
		{Name: "supply", Type: uint256Type},
	}
}

// Report is one chain's self-reported state, sent from L2 to L1.
type Report struct {
	Timestamp  uint64
	EthBalance *big.Int
	Supply     *big.Int
}

// EncodeReport packs r as the ABI tuple (uint256, uint256, uint256).
func EncodeReport(r Report) ([]byte, error) {
	if r.EthBalance == nil || r.Supply == nil {
		return nil, fmt.Errorf("%w: nil amount", ErrInvalidReport)
	}
	return reportArgs.Pack(new(big.Int).SetUint64(r.Timestamp), r.EthBalance, r.Supply)
}

// DecodeReport unpacks a payload produced by EncodeReport.
func DecodeReport(payload []byte) (Report, error) {
	if len(payload) != ReportSize {
		return Report{}, fmt.Errorf("%w: length %d", ErrInvalidReport, len(payload))
	}
	values, err := reportArgs.Unpack(payload)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}
	ts := values[0].(*big.Int)
	if !ts.IsUint64() {
		return Report{}, fmt.Errorf("%w: timestamp %s overflows uint64", ErrInvalidReport, ts)
	}
	return Report{
		Timestamp:  ts.Uint64(),
		EthBalance: values[1].(*big.Int),
		Supply:     values[2].(*big.Int),
	}, nil
}
