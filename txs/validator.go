// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txs

import (
	"errors"

	safemath "github.com/luxfi/math"

	"github.com/luxfi/abciapp/state"
)

// Validation reject kinds. The adapter maps these onto response codes;
// they are never fatal to a block.
var (
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrNonceMismatch       = errors.New("nonce mismatch")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Validate runs the admission checks against [view] in their fixed protocol
// order, short-circuiting on the first failure:
//
//  1. the signature must recover to the declared sender
//  2. the nonce must equal the sender's current nonce exactly
//  3. the balance must cover the worst-case fee plus the transferred value
//
// The order is a protocol constant: every replica must reject an invalid
// transaction for the same reason. Validation never mutates state.
func Validate(view state.View, tx *Tx, feeParameter uint64) error {
	if err := tx.VerifySignature(); err != nil {
		return errors.Join(ErrInvalidSignature, err)
	}

	acct, _, err := view.GetAccount(tx.Unsigned.Sender)
	if err != nil {
		return err
	}
	if tx.Unsigned.Nonce != acct.Nonce {
		return ErrNonceMismatch
	}

	worstCaseFee, err := safemath.Mul64(tx.Unsigned.GasLimit, feeParameter)
	if err != nil {
		return ErrInsufficientBalance
	}
	needed, err := safemath.Add64(worstCaseFee, tx.Unsigned.Value)
	if err != nil {
		return ErrInsufficientBalance
	}
	if acct.Balance < needed {
		return ErrInsufficientBalance
	}
	return nil
}
