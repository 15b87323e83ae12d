// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package executor

import (
	"fmt"

	"github.com/luxfi/ids"
)

// Log is an opaque record emitted during payload execution, ordered within
// its receipt.
type Log struct {
	Address ids.ShortID `serialize:"true" json:"address"`
	Data    []byte      `serialize:"true" json:"data"`
}

// Receipt is the outcome of one executed transaction. Receipts are created
// in execution order, encoded once, and immutable afterwards: their encoded
// bytes feed the receipts root.
type Receipt struct {
	TxID    ids.ID `serialize:"true" json:"txID"`
	Success bool   `serialize:"true" json:"success"`
	GasUsed uint64 `serialize:"true" json:"gasUsed"`
	// Fee is the fee actually consumed, in balance units.
	Fee  uint64 `serialize:"true" json:"fee"`
	Logs []Log  `serialize:"true" json:"logs"`
	// Index is the transaction's position within its block.
	Index uint32 `serialize:"true" json:"index"`
	// CumulativeGasUsed is the block's gas consumption up to and including
	// this transaction.
	CumulativeGasUsed uint64 `serialize:"true" json:"cumulativeGasUsed"`

	bytes []byte
}

func newReceipt(r Receipt) (*Receipt, error) {
	bytes, err := Codec.Marshal(CodecVersion, &r)
	if err != nil {
		return nil, fmt.Errorf("encoding receipt: %w", err)
	}
	r.bytes = bytes
	return &r, nil
}

// NewRejectionReceipt records a transaction that was rejected before
// execution started. It consumes no gas and charges no fee, but still
// occupies its position in the block so the receipts root covers it.
func NewRejectionReceipt(txID ids.ID, pos Position) (*Receipt, error) {
	return newReceipt(Receipt{
		TxID:              txID,
		Success:           false,
		Index:             pos.Index,
		CumulativeGasUsed: pos.CumulativeGas,
	})
}

// Bytes returns the canonical encoding of the receipt.
func (r *Receipt) Bytes() []byte {
	return r.bytes
}
