// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package executor

import (
	"errors"
	"fmt"

	safemath "github.com/luxfi/math"

	"github.com/luxfi/abciapp/state"
	"github.com/luxfi/abciapp/txs"
	"github.com/luxfi/ids"
)

const (
	storeBaseGas    = 5_000
	storeGasPerByte = 10
	// MaxStoreKeyLen bounds keys in the sender's storage space.
	MaxStoreKeyLen = 256
	// MaxStoreValueLen bounds stored values.
	MaxStoreValueLen = 4096
)

var (
	errUnknownPayload = errors.New("no executor registered for payload tag")
	errStoreKeyEmpty  = errors.New("store payload key is empty")
	errStoreTooLarge  = errors.New("store payload exceeds size bounds")

	_ PayloadExecutor = (*transferExecutor)(nil)
	_ PayloadExecutor = (*storeExecutor)(nil)
)

// StateView is the window a payload executor gets onto pending block state:
// account reads plus storage reads and writes, all scoped to a child overlay
// that is discarded if execution fails.
type StateView interface {
	GetAccount(addr ids.ShortID) (state.Account, bool, error)
	GetStorage(addr ids.ShortID, key []byte) ([]byte, error)
	SetStorage(addr ids.ShortID, key []byte, value []byte)
}

// PayloadResult reports the effects of a payload run. State effects are
// already recorded in the view.
type PayloadResult struct {
	GasUsed uint64
	Logs    []Log
}

// PayloadExecutor runs one payload kind deterministically: identical
// (sender, payload, view state) must yield identical results and identical
// view writes on every replica.
type PayloadExecutor interface {
	Execute(sender ids.ShortID, payload txs.Payload, view StateView) (PayloadResult, error)
}

// Registry maps payload tags to their executors.
type Registry struct {
	executors map[string]PayloadExecutor
}

// NewRegistry returns a registry with the built-in payload executors.
func NewRegistry() *Registry {
	return &Registry{
		executors: map[string]PayloadExecutor{
			txs.TagTransfer: &transferExecutor{},
			txs.TagStore:    &storeExecutor{},
		},
	}
}

// RegisterPayloadExecutor adds an external deterministic executor for [tag].
func (r *Registry) RegisterPayloadExecutor(tag string, executor PayloadExecutor) error {
	if _, ok := r.executors[tag]; ok {
		return fmt.Errorf("payload tag %q already registered", tag)
	}
	r.executors[tag] = executor
	return nil
}

func (r *Registry) executorFor(tag string) (PayloadExecutor, error) {
	executor, ok := r.executors[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownPayload, tag)
	}
	return executor, nil
}

// transferExecutor has no effects beyond the value transfer the block
// executor already performed.
type transferExecutor struct{}

func (*transferExecutor) Execute(ids.ShortID, txs.Payload, StateView) (PayloadResult, error) {
	return PayloadResult{}, nil
}

// storeExecutor writes one key/value pair into the sender's storage space.
type storeExecutor struct{}

func (*storeExecutor) Execute(sender ids.ShortID, payload txs.Payload, view StateView) (PayloadResult, error) {
	store, ok := payload.(*txs.StorePayload)
	if !ok {
		return PayloadResult{}, fmt.Errorf("store executor got %T", payload)
	}
	if len(store.Key) == 0 {
		return PayloadResult{}, errStoreKeyEmpty
	}
	if len(store.Key) > MaxStoreKeyLen || len(store.Value) > MaxStoreValueLen {
		return PayloadResult{}, errStoreTooLarge
	}

	view.SetStorage(sender, store.Key, store.Value)

	size, err := safemath.Add64(uint64(len(store.Key)), uint64(len(store.Value)))
	if err != nil {
		return PayloadResult{}, err
	}
	gas, err := safemath.Mul64(size, storeGasPerByte)
	if err != nil {
		return PayloadResult{}, err
	}
	gas, err = safemath.Add64(gas, storeBaseGas)
	if err != nil {
		return PayloadResult{}, err
	}
	return PayloadResult{
		GasUsed: gas,
		Logs: []Log{{
			Address: sender,
			Data:    append([]byte(nil), store.Key...),
		}},
	}, nil
}
