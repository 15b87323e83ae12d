// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	safemath "github.com/luxfi/math"

	"github.com/luxfi/abciapp/abci"
	"github.com/luxfi/abciapp/executor"
	"github.com/luxfi/abciapp/state"
	"github.com/luxfi/abciapp/txs"
)

// BeginBlock opens the block at exactly the next height and snapshots a
// fresh overlay over last-committed state. Replaying an already-committed
// height is rejected here, which makes the whole lifecycle idempotent up to
// the commit point.
func (a *App) BeginBlock(_ context.Context, req *abci.RequestBeginBlock) (*abci.ResponseBeginBlock, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.phase != phaseReady {
		return nil, fmt.Errorf("%w: begin-block during %s", ErrProtocolSequence, a.phase)
	}
	if !a.state.IsInitialized() {
		return nil, fmt.Errorf("%w: begin-block before init-chain", errNotInitialized)
	}
	if req.Header.ChainID != a.state.ChainID() {
		return nil, fmt.Errorf("%w: block header names chain %q", errWrongChain, req.Header.ChainID)
	}
	if expected := a.state.Height() + 1; req.Header.Height != expected {
		return nil, fmt.Errorf("%w: begin-block at height %d, expected %d",
			ErrProtocolSequence, req.Header.Height, expected)
	}

	a.header = req.Header
	a.overlay = state.NewOverlay(a.state)
	a.receipts = nil
	a.txCount = 0
	a.blockGasUsed = 0
	a.nextFeeParameter = a.state.FeeParameter()
	a.phase = phaseBlockOpen

	a.log.Debug("block opened",
		log.Uint64("height", req.Header.Height),
		log.Stringer("proposer", req.Header.Proposer),
	)
	return &abci.ResponseBeginBlock{}, nil
}

// DeliverTx executes one ordered transaction against the block overlay.
// Every delivered transaction produces a receipt, including ones that fail
// to decode or validate, so replicas agree on the receipts root regardless
// of how a transaction died.
func (a *App) DeliverTx(_ context.Context, req *abci.RequestDeliverTx) (*abci.ResponseDeliverTx, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.phase != phaseBlockOpen {
		return nil, fmt.Errorf("%w: deliver-tx during %s", ErrProtocolSequence, a.phase)
	}
	pos := executor.Position{
		Index:         a.txCount,
		CumulativeGas: a.blockGasUsed,
	}

	tx, err := a.decodeTx(req.Tx)
	if err != nil {
		// The raw bytes are the only identity an undecodable tx has.
		return a.rejectTx(hash.ComputeHash256Array(req.Tx), pos, abci.CodeDecodeFailed, err)
	}

	feeParameter := a.state.FeeParameter()
	if err := txs.Validate(a.overlay, tx, feeParameter); err != nil {
		return a.rejectTx(tx.ID(), pos, rejectCode(err), err)
	}
	if gas, err := safemath.Add64(a.blockGasUsed, tx.Unsigned.GasLimit); err != nil || gas > a.cfg.BlockGasLimit {
		return a.rejectTx(tx.ID(), pos, abci.CodeExecutorFailure,
			fmt.Errorf("block gas limit %d exceeded", a.cfg.BlockGasLimit))
	}

	receipt, err := a.executor.Apply(a.overlay, tx, feeParameter, pos)
	if err != nil {
		// Fatal: the block cannot make progress, the engine must retry or halt.
		return nil, fmt.Errorf("executing tx %s: %w", tx.ID(), err)
	}

	a.receipts = append(a.receipts, receipt.Bytes())
	a.txCount++
	a.blockGasUsed = receipt.CumulativeGasUsed
	a.metrics.IncTxDelivered(receipt.Success)

	resp := &abci.ResponseDeliverTx{
		GasUsed: receipt.GasUsed,
		Events:  receiptEvents(receipt),
	}
	if !receipt.Success {
		resp.Code = abci.CodeExecutorFailure
		resp.Log = "execution failed"
	}
	return resp, nil
}

// rejectTx records a pre-execution rejection. The block overlay is untouched
// but the receipt still takes its slot in the block.
func (a *App) rejectTx(txID ids.ID, pos executor.Position, code abci.Code, cause error) (*abci.ResponseDeliverTx, error) {
	receipt, err := executor.NewRejectionReceipt(txID, pos)
	if err != nil {
		return nil, err
	}
	a.receipts = append(a.receipts, receipt.Bytes())
	a.txCount++
	a.metrics.IncTxDelivered(false)

	a.log.Debug("transaction rejected",
		log.Stringer("txID", txID),
		log.Stringer("code", code),
		log.Err(cause),
	)
	return &abci.ResponseDeliverTx{
		Code:   code,
		Log:    cause.Error(),
		Events: receiptEvents(receipt),
	}, nil
}

// EndBlock closes the block to further transactions and derives the next
// fee parameter from the block's gas fullness.
func (a *App) EndBlock(_ context.Context, req *abci.RequestEndBlock) (*abci.ResponseEndBlock, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.phase != phaseBlockOpen {
		return nil, fmt.Errorf("%w: end-block during %s", ErrProtocolSequence, a.phase)
	}
	if req.Height != a.header.Height {
		return nil, fmt.Errorf("%w: end-block at height %d, block open at %d",
			ErrProtocolSequence, req.Height, a.header.Height)
	}

	a.nextFeeParameter = executor.NextFeeParameter(
		a.state.FeeParameter(),
		a.blockGasUsed,
		a.cfg.BlockGasLimit,
	)
	a.phase = phaseBlockFinalized

	return &abci.ResponseEndBlock{FeeParameter: a.nextFeeParameter}, nil
}

// Commit atomically persists the finalized block. On failure the adapter
// stays in the finalized phase with the overlay intact, so the engine can
// retry Commit and get the same roots.
func (a *App) Commit(ctx context.Context, _ *abci.RequestCommit) (*abci.ResponseCommit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.phase != phaseBlockFinalized {
		return nil, fmt.Errorf("%w: commit during %s", ErrProtocolSequence, a.phase)
	}

	start := time.Now()
	result, err := a.committer.Finalize(ctx, a.overlay, state.BlockCommit{
		ChainID:      a.state.ChainID(),
		Height:       a.header.Height,
		FeeParameter: a.nextFeeParameter,
		Receipts:     a.receipts,
	})
	if err != nil {
		return nil, fmt.Errorf("committing height %d: %w", a.header.Height, err)
	}

	a.metrics.MarkBlockCommitted(result.Height, a.blockGasUsed, a.nextFeeParameter, time.Since(start))
	a.phase = phaseReady
	a.overlay = nil
	a.receipts = nil

	return &abci.ResponseCommit{
		AppHash:      result.AppHash,
		RetainHeight: a.retainHeight(result.Height),
	}, nil
}

// retainHeight translates the retention config into a prune hint for the
// consensus engine. Zero disables pruning.
func (a *App) retainHeight(height uint64) uint64 {
	if a.cfg.RetainBlocks == 0 || height <= a.cfg.RetainBlocks {
		return 0
	}
	return height - a.cfg.RetainBlocks
}

// receiptEvents flattens a receipt into protocol events.
func receiptEvents(r *executor.Receipt) []abci.Event {
	events := []abci.Event{{
		Type: "tx",
		Attributes: []abci.EventAttribute{
			{Key: "success", Value: strconv.FormatBool(r.Success)},
			{Key: "gasUsed", Value: strconv.FormatUint(r.GasUsed, 10)},
			{Key: "fee", Value: strconv.FormatUint(r.Fee, 10)},
		},
	}}
	for _, l := range r.Logs {
		events = append(events, abci.Event{
			Type: "log",
			Attributes: []abci.EventAttribute{
				{Key: "address", Value: l.Address.String()},
				{Key: "data", Value: hex.EncodeToString(l.Data)},
			},
		})
	}
	return events
}
