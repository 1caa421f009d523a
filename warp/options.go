// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package warp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

var (
	ErrInvalidAllZeroBytes = errors.New("options specified invalid all zero bytes")
	ErrInvalidPadding      = errors.New("options specified invalid padding")
	ErrInvalidEndDelimiter = errors.New("options invalid end delimiter byte")
	ErrInvalidOptionsSize  = errors.New("options invalid body size")
	ErrNegativeNativeDrop  = errors.New("options native drop cannot be negative")
)

const (
	// EndByte is the delimiter byte used to signal the end of the options
	EndByte = byte(0xff)

	// DefaultGasLimit is the execution gas requested when no options are given.
	DefaultGasLimit uint64 = 200_000

	optionsBodySize = 8 + common.HashLength
)

// Options are the executor settings a sender attaches to a message.
// NativeDrop is extra native value the destination endpoint credits to the
// receiver; it is paid as part of the fee.
type Options struct {
	GasLimit   uint64
	NativeDrop *big.Int
}

// DefaultOptions returns the options used for an empty options blob.
func DefaultOptions() Options {
	return Options{GasLimit: DefaultGasLimit, NativeDrop: new(big.Int)}
}

// Pack encodes o as gasLimit (8 bytes) || nativeDrop (32 bytes), appends the
// end delimiter and pads to a 32-byte boundary.
func (o Options) Pack() ([]byte, error) {
	drop := o.NativeDrop
	if drop == nil {
		drop = new(big.Int)
	}
	if drop.Sign() < 0 {
		return nil, ErrNegativeNativeDrop
	}
	if drop.BitLen() > 256 {
		return nil, fmt.Errorf("native drop %s overflows uint256", drop)
	}
	body := make([]byte, optionsBodySize, optionsBodySize+1)
	binary.BigEndian.PutUint64(body[:8], o.GasLimit)
	drop.FillBytes(body[8:])
	return pad(body), nil
}

// MustPack is Pack for options known to be valid.
func (o Options) MustPack() []byte {
	b, err := o.Pack()
	if err != nil {
		panic(err)
	}
	return b
}

// UnpackOptions strips the right-padded zeros and the end delimiter and
// decodes the body.
func UnpackOptions(padded []byte) (Options, error) {
	trimmed := common.TrimRightZeroes(padded)
	if len(trimmed) == 0 {
		return Options{}, fmt.Errorf("%w: 0x%x", ErrInvalidAllZeroBytes, padded)
	}

	if expectedPaddedLength := (len(trimmed) + 31) / 32 * 32; expectedPaddedLength != len(padded) {
		return Options{}, fmt.Errorf("%w: got length (%d), expected length (%d)", ErrInvalidPadding, len(padded), expectedPaddedLength)
	}

	if trimmed[len(trimmed)-1] != EndByte {
		return Options{}, ErrInvalidEndDelimiter
	}
	body := trimmed[:len(trimmed)-1]
	if len(body) != optionsBodySize {
		return Options{}, fmt.Errorf("%w: %d", ErrInvalidOptionsSize, len(body))
	}
	return Options{
		GasLimit:   binary.BigEndian.Uint64(body[:8]),
		NativeDrop: new(big.Int).SetBytes(body[8:]),
	}, nil
}

// ParseOptions is UnpackOptions with an empty blob meaning DefaultOptions.
func ParseOptions(b []byte) (Options, error) {
	if len(b) == 0 {
		return DefaultOptions(), nil
	}
	return UnpackOptions(b)
}

func pad(body []byte) []byte {
	withDelimiter := append(body, EndByte)
	paddedLength := (len(withDelimiter) + 31) / 32 * 32
	padded := make([]byte, paddedLength)
	copy(padded, withDelimiter)
	return padded
}
