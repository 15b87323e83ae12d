// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package executor applies ordered, validated transactions to a block's
// state overlay and produces their receipts.
package executor

import (
	"fmt"

	"github.com/luxfi/log"
	safemath "github.com/luxfi/math"

	"github.com/luxfi/abciapp/state"
	"github.com/luxfi/abciapp/txs"
)

// BaseTxGas is consumed by every transaction before payload effects.
const BaseTxGas = 21_000

// Position locates a transaction within its block.
type Position struct {
	Index         uint32
	CumulativeGas uint64
}

// Executor applies transactions to a block overlay. It holds no per-block
// state: the adapter owns the overlay and the block position.
type Executor struct {
	log      log.Logger
	registry *Registry
}

func New(log log.Logger, registry *Registry) *Executor {
	return &Executor{
		log:      log,
		registry: registry,
	}
}

// Apply executes one already-validated transaction against [overlay].
//
// The fee for the declared gas limit is charged and the nonce advanced up
// front; payload effects and the value transfer run in a child overlay that
// is merged only on success. A failed payload therefore still consumes the
// whole gas limit and the nonce, so failed transactions are not replayable,
// but leaves no other trace in state. A successful transaction is refunded
// the unused portion of its gas.
//
// A non-nil error means state could not be read or written, which is fatal
// to the block; payload failures are reported through the receipt.
func (e *Executor) Apply(overlay *state.Overlay, tx *txs.Tx, feeParameter uint64, pos Position) (*Receipt, error) {
	sender := tx.Unsigned.Sender
	gasLimit := tx.Unsigned.GasLimit

	// Validation guaranteed this does not underflow.
	worstCaseFee, err := safemath.Mul64(gasLimit, feeParameter)
	if err != nil {
		return nil, fmt.Errorf("fee overflow for tx %s", tx.ID())
	}
	acct, _, err := overlay.GetAccount(sender)
	if err != nil {
		return nil, err
	}
	acct.Balance, err = safemath.Sub(acct.Balance, worstCaseFee)
	if err != nil {
		return nil, fmt.Errorf("charging fee for tx %s: %w", tx.ID(), err)
	}
	acct.Nonce++
	overlay.SetAccount(sender, acct)

	child, result, execErr := e.run(overlay, tx)

	var gasUsed uint64
	if execErr == nil {
		gasUsed, err = safemath.Add64(BaseTxGas, result.GasUsed)
		if err != nil || gasUsed > gasLimit {
			execErr = fmt.Errorf("out of gas: limit %d", gasLimit)
		}
	}

	if execErr != nil {
		// Failure consumes the whole gas limit; the child overlay and its
		// value transfer are dropped.
		e.log.Debug("tx failed",
			log.Stringer("txID", tx.ID()),
			log.Err(execErr),
		)
		return newReceipt(Receipt{
			TxID:              tx.ID(),
			Success:           false,
			GasUsed:           gasLimit,
			Fee:               worstCaseFee,
			Index:             pos.Index,
			CumulativeGasUsed: pos.CumulativeGas + gasLimit,
		})
	}

	child.MergeInto(overlay)

	refund, err := safemath.Mul64(gasLimit-gasUsed, feeParameter)
	if err != nil {
		return nil, fmt.Errorf("refund overflow for tx %s", tx.ID())
	}
	acct, _, err = overlay.GetAccount(sender)
	if err != nil {
		return nil, err
	}
	acct.Balance, err = safemath.Add64(acct.Balance, refund)
	if err != nil {
		return nil, fmt.Errorf("refunding tx %s: %w", tx.ID(), err)
	}
	overlay.SetAccount(sender, acct)

	return newReceipt(Receipt{
		TxID:              tx.ID(),
		Success:           true,
		GasUsed:           gasUsed,
		Fee:               worstCaseFee - refund,
		Logs:              result.Logs,
		Index:             pos.Index,
		CumulativeGasUsed: pos.CumulativeGas + gasUsed,
	})
}

// run performs the value transfer and payload effects in a child overlay.
// The caller merges the child into the block overlay only once the gas
// accounting has also passed.
func (e *Executor) run(overlay *state.Overlay, tx *txs.Tx) (*state.Overlay, PayloadResult, error) {
	child := state.NewOverlay(overlay)
	sender := tx.Unsigned.Sender

	if value := tx.Unsigned.Value; value > 0 {
		from, _, err := child.GetAccount(sender)
		if err != nil {
			return nil, PayloadResult{}, err
		}
		from.Balance, err = safemath.Sub(from.Balance, value)
		if err != nil {
			return nil, PayloadResult{}, err
		}
		child.SetAccount(sender, from)

		to, _, err := child.GetAccount(tx.Unsigned.To)
		if err != nil {
			return nil, PayloadResult{}, err
		}
		to.Balance, err = safemath.Add64(to.Balance, value)
		if err != nil {
			return nil, PayloadResult{}, err
		}
		child.SetAccount(tx.Unsigned.To, to)
	}

	payloadExecutor, err := e.registry.executorFor(tx.Unsigned.Payload.Tag())
	if err != nil {
		return nil, PayloadResult{}, err
	}
	result, err := payloadExecutor.Execute(sender, tx.Unsigned.Payload, child)
	if err != nil {
		return nil, PayloadResult{}, err
	}
	return child, result, nil
}
