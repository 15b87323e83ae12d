// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package app implements the consensus-application adapter: the state
// machine that maps the consensus engine's lifecycle calls onto transaction
// validation, block execution, and the commit pipeline.
package app

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/version"

	"github.com/luxfi/abciapp/abci"
	"github.com/luxfi/abciapp/config"
	"github.com/luxfi/abciapp/executor"
	"github.com/luxfi/abciapp/genesis"
	"github.com/luxfi/abciapp/metrics"
	"github.com/luxfi/abciapp/state"
	"github.com/luxfi/abciapp/txs"
)

const (
	Name = "abciapp"

	addressLen = 20
)

var (
	_ abci.Application = (*App)(nil)

	// ErrProtocolSequence reports a lifecycle call that arrived out of
	// order. The consensus engine guarantees sequential delivery within a
	// block; the adapter still defends the invariant and rejects anything
	// unexpected rather than corrupting state.
	ErrProtocolSequence = errors.New("lifecycle call out of order")

	errNotInitialized     = errors.New("chain not initialized")
	errAlreadyInitialized = errors.New("chain already initialized")
	errWrongChain         = errors.New("transaction is for a different chain")
)

// phase tracks where the adapter is in a block's lifecycle.
type phase uint8

const (
	phaseReady phase = iota
	phaseBlockOpen
	phaseBlockFinalized
)

func (p phase) String() string {
	switch p {
	case phaseReady:
		return "ready"
	case phaseBlockOpen:
		return "block open"
	case phaseBlockFinalized:
		return "block finalized"
	default:
		return "unknown"
	}
}

// App drives the execution layer block by block. Lifecycle calls for one
// block arrive strictly sequentially; [mu] defends that invariant and
// serializes the block-scoped fields below it.
//
// CheckTx deliberately does not take [mu]: it only reads last-committed
// state, which is immutable outside the commit swap, so mempool admission
// may run concurrently with block execution.
type App struct {
	cfg       config.Config
	log       log.Logger
	metrics   metrics.Metrics
	state     *state.State
	committer *state.Committer
	executor  *executor.Executor

	mu    sync.Mutex
	phase phase
	// Block-scoped: valid only between begin-block and commit.
	header       abci.Header
	overlay      *state.Overlay
	receipts     [][]byte
	txCount      uint32
	blockGasUsed uint64
	// nextFeeParameter is computed at end-block and persisted at commit.
	nextFeeParameter uint64
}

func New(
	cfg config.Config,
	st *state.State,
	committer *state.Committer,
	registry *executor.Registry,
	logger log.Logger,
	m metrics.Metrics,
) *App {
	return &App{
		cfg:       cfg,
		log:       logger,
		metrics:   m,
		state:     st,
		committer: committer,
		executor:  executor.New(logger, registry),
		phase:     phaseReady,
	}
}

// Initialize loads last-committed state from durable storage. It fails
// fatally on corrupt storage: a replica must not participate with state it
// cannot trust.
func (a *App) Initialize(context.Context) error {
	if err := a.state.Initialize(); err != nil {
		return err
	}
	a.log.Info("adapter initialized",
		log.Uint64("height", a.state.Height()),
		log.Stringer("appHash", a.state.AppHash()),
		log.Bool("awaitingGenesis", !a.state.IsInitialized()),
	)
	return nil
}

// Info reports the last committed height and app hash so the consensus
// engine can decide where replay must start after a restart.
func (a *App) Info(context.Context, *abci.RequestInfo) (*abci.ResponseInfo, error) {
	return &abci.ResponseInfo{
		Data:        Name,
		Version:     version.Current.String(),
		LastHeight:  a.state.Height(),
		LastAppHash: a.state.AppHash(),
	}, nil
}

// InitChain seeds a fresh chain from the genesis document and commits the
// result through the regular pipeline, so genesis state is exactly as
// durable and verifiable as any block. Replaying InitChain for an already
// initialized chain returns the existing genesis commitment instead of
// committing twice.
func (a *App) InitChain(ctx context.Context, req *abci.RequestInitChain) (*abci.ResponseInitChain, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.phase != phaseReady {
		return nil, fmt.Errorf("%w: init-chain during %s", ErrProtocolSequence, a.phase)
	}
	if a.state.IsInitialized() {
		if req.ChainID != a.state.ChainID() {
			return nil, fmt.Errorf("%w: as chain %q", errAlreadyInitialized, a.state.ChainID())
		}
		if a.state.Height() != 0 {
			return nil, fmt.Errorf("%w: at height %d", errAlreadyInitialized, a.state.Height())
		}
		return &abci.ResponseInitChain{AppHash: a.state.AppHash()}, nil
	}

	g, err := genesis.Parse(req.GenesisBytes)
	if err != nil {
		return nil, err
	}
	if req.ChainID != "" && req.ChainID != g.ChainID {
		return nil, fmt.Errorf("genesis is for chain %q, consensus engine expects %q", g.ChainID, req.ChainID)
	}

	overlay := state.NewOverlay(a.state)
	for _, alloc := range g.Allocations {
		overlay.SetAccount(alloc.Address, state.Account{Balance: alloc.Balance})
	}

	result, err := a.committer.Finalize(ctx, overlay, state.BlockCommit{
		ChainID:      g.ChainID,
		Height:       0,
		FeeParameter: g.FeeParameter(),
	})
	if err != nil {
		return nil, fmt.Errorf("committing genesis: %w", err)
	}

	a.log.Info("chain initialized",
		log.String("chainID", g.ChainID),
		log.Int("allocations", len(g.Allocations)),
		log.Stringer("appHash", result.AppHash),
	)
	return &abci.ResponseInitChain{AppHash: result.AppHash}, nil
}

// CheckTx is the advisory mempool admission check. It validates against
// last-committed state only, never the in-progress overlay, and has no side
// effects on state.
func (a *App) CheckTx(_ context.Context, req *abci.RequestCheckTx) (*abci.ResponseCheckTx, error) {
	if !a.state.IsInitialized() {
		return nil, fmt.Errorf("%w: check-tx before init-chain", errNotInitialized)
	}

	tx, err := a.decodeTx(req.Tx)
	if err != nil {
		a.metrics.IncCheckTx(false)
		return &abci.ResponseCheckTx{
			Code: abci.CodeDecodeFailed,
			Log:  err.Error(),
		}, nil
	}

	if err := txs.Validate(a.state, tx, a.state.FeeParameter()); err != nil {
		a.metrics.IncCheckTx(false)
		return &abci.ResponseCheckTx{
			Code: rejectCode(err),
			Log:  err.Error(),
		}, nil
	}

	a.metrics.IncCheckTx(true)
	return &abci.ResponseCheckTx{Code: abci.CodeOK}, nil
}

// Query serves read-only lookups against last-committed state only; an
// in-progress overlay is never visible here.
func (a *App) Query(_ context.Context, req *abci.RequestQuery) (*abci.ResponseQuery, error) {
	if !a.state.IsInitialized() {
		return &abci.ResponseQuery{
			Code: abci.CodeQueryFailed,
			Log:  errNotInitialized.Error(),
		}, nil
	}

	switch req.Path {
	case "height":
		return queryUint64(a.state.Height()), nil
	case "feeParameter":
		return queryUint64(a.state.FeeParameter()), nil
	case "appHash":
		appHash := a.state.AppHash()
		return &abci.ResponseQuery{Code: abci.CodeOK, Value: appHash[:]}, nil
	case "account":
		addr, err := ids.ToShortID(req.Data)
		if err != nil {
			return &abci.ResponseQuery{Code: abci.CodeQueryFailed, Log: err.Error()}, nil
		}
		acct, exists, err := a.state.GetAccount(addr)
		if err != nil {
			return nil, err
		}
		if !exists {
			return &abci.ResponseQuery{Code: abci.CodeQueryFailed, Log: "account not found"}, nil
		}
		bytes, err := acct.Bytes()
		if err != nil {
			return nil, err
		}
		return &abci.ResponseQuery{Code: abci.CodeOK, Value: bytes}, nil
	case "storage":
		if len(req.Data) <= addressLen {
			return &abci.ResponseQuery{Code: abci.CodeQueryFailed, Log: "storage query needs address and key"}, nil
		}
		addr, err := ids.ToShortID(req.Data[:addressLen])
		if err != nil {
			return &abci.ResponseQuery{Code: abci.CodeQueryFailed, Log: err.Error()}, nil
		}
		value, err := a.state.GetStorage(addr, req.Data[addressLen:])
		if err != nil {
			return nil, err
		}
		if value == nil {
			return &abci.ResponseQuery{Code: abci.CodeQueryFailed, Log: "storage key not found"}, nil
		}
		return &abci.ResponseQuery{Code: abci.CodeOK, Value: value}, nil
	default:
		return &abci.ResponseQuery{
			Code: abci.CodeQueryFailed,
			Log:  fmt.Sprintf("unknown query path %q", req.Path),
		}, nil
	}
}

func queryUint64(v uint64) *abci.ResponseQuery {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, v)
	return &abci.ResponseQuery{Code: abci.CodeOK, Value: value}
}

// decodeTx parses raw transaction bytes and binds them to this chain.
func (a *App) decodeTx(txBytes []byte) (*txs.Tx, error) {
	tx, err := txs.Parse(txBytes)
	if err != nil {
		return nil, err
	}
	if tx.Unsigned.ChainID != a.state.ChainID() {
		return nil, fmt.Errorf("%w: %q", errWrongChain, tx.Unsigned.ChainID)
	}
	return tx, nil
}

// rejectCode maps a validation failure onto its protocol response code.
func rejectCode(err error) abci.Code {
	switch {
	case errors.Is(err, txs.ErrInvalidSignature):
		return abci.CodeInvalidSignature
	case errors.Is(err, txs.ErrNonceMismatch):
		return abci.CodeNonceMismatch
	case errors.Is(err, txs.ErrInsufficientBalance):
		return abci.CodeInsufficientBalance
	default:
		return abci.CodeDecodeFailed
	}
}
