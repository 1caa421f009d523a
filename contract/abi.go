// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package contract

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
)

// ExtendedABI wraps the standard ABI and adds event packing and emission.
type ExtendedABI struct {
	abi.ABI
}

// ParseABI parses the raw ABI JSON and returns an ExtendedABI
func ParseABI(rawABI string) ExtendedABI {
	parsed, err := abi.JSON(strings.NewReader(rawABI))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ABI: %v", err))
	}
	return ExtendedABI{ABI: parsed}
}

// PackEvent packs the given event name and arguments to conform the ABI.
// Returns the topics for the event and the packed data of non-indexed args.
func (e ExtendedABI) PackEvent(name string, args ...interface{}) ([]common.Hash, []byte, error) {
	event, exist := e.Events[name]
	if !exist {
		return nil, nil, fmt.Errorf("event '%s' not found", name)
	}
	if len(args) != len(event.Inputs) {
		return nil, nil, fmt.Errorf("event '%s' unexpected number of inputs %d", name, len(args))
	}

	var (
		nonIndexedInputs = make([]interface{}, 0)
		indexedInputs    = make([]interface{}, 0)
		nonIndexedArgs   abi.Arguments
	)

	for i, arg := range event.Inputs {
		if arg.Indexed {
			indexedInputs = append(indexedInputs, args[i])
		} else {
			nonIndexedArgs = append(nonIndexedArgs, arg)
			nonIndexedInputs = append(nonIndexedInputs, args[i])
		}
	}

	packedArguments, err := nonIndexedArgs.Pack(nonIndexedInputs...)
	if err != nil {
		return nil, nil, err
	}

	topics := make([]common.Hash, 0, len(indexedInputs)+1)
	if !event.Anonymous {
		topics = append(topics, event.ID)
	}
	for _, input := range indexedInputs {
		topic, err := packTopic(input)
		if err != nil {
			return nil, nil, err
		}
		topics = append(topics, topic)
	}

	return topics, packedArguments, nil
}

// UnpackEventData decodes the non-indexed fields of a log emitted for name.
func (e ExtendedABI) UnpackEventData(name string, data []byte) ([]interface{}, error) {
	event, exist := e.Events[name]
	if !exist {
		return nil, fmt.Errorf("event '%s' not found", name)
	}
	var nonIndexed abi.Arguments
	for _, arg := range event.Inputs {
		if !arg.Indexed {
			nonIndexed = append(nonIndexed, arg)
		}
	}
	return nonIndexed.Unpack(data)
}

// EventID returns the topic0 of the named event.
func (e ExtendedABI) EventID(name string) common.Hash {
	return e.Events[name].ID
}

// Emit packs the event and appends it to the state's logs.
func (e ExtendedABI) Emit(state StateDB, addr common.Address, name string, args ...interface{}) error {
	topics, data, err := e.PackEvent(name, args...)
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", name, err)
	}
	state.AddLog(&types.Log{
		Address: addr,
		Topics:  topics,
		Data:    data,
	})
	return nil
}

// packTopic packs a single indexed argument into a topic hash
func packTopic(value interface{}) (common.Hash, error) {
	switch v := value.(type) {
	case common.Address:
		return common.BytesToHash(v.Bytes()), nil
	case common.Hash:
		return v, nil
	case *big.Int:
		return common.BigToHash(v), nil
	case uint32:
		return common.BigToHash(new(big.Int).SetUint64(uint64(v))), nil
	case uint64:
		return common.BigToHash(new(big.Int).SetUint64(v)), nil
	case []byte:
		return common.BytesToHash(crypto.Keccak256(v)), nil
	case string:
		return common.BytesToHash(crypto.Keccak256([]byte(v))), nil
	default:
		return common.Hash{}, fmt.Errorf("unsupported indexed type: %T", value)
	}
}

// FilterLogs returns the logs emitted by addr whose topic0 matches the named event.
func FilterLogs(logs []*types.Log, addr common.Address, e ExtendedABI, name string) []*types.Log {
	id := e.EventID(name)
	var out []*types.Log
	for _, l := range logs {
		if l.Address == addr && len(l.Topics) > 0 && l.Topics[0] == id {
			out = append(out, l)
		}
	}
	return out
}
