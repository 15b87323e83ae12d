// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"

	"github.com/luxfi/abciapp/state"
)

func testView(t *testing.T) *state.Overlay {
	t.Helper()

	s := state.New(memdb.New(), log.NewNoOpLogger())
	require.NoError(t, s.Initialize())
	return state.NewOverlay(s)
}

func TestValidateAccepts(t *testing.T) {
	require := require.New(t)

	key, err := secp256k1.NewPrivateKey()
	require.NoError(err)

	view := testView(t)
	view.SetAccount(key.Address(), state.Account{Nonce: 0, Balance: 31_000})

	tx := testTx(t, key, 0)
	// Worst case cost is gasLimit*feeParameter + value = 30_000 + 100.
	require.NoError(Validate(view, tx, 1))
}

func TestValidateSignatureCheckedFirst(t *testing.T) {
	require := require.New(t)

	key, err := secp256k1.NewPrivateKey()
	require.NoError(err)

	// Sender has a wrong nonce AND no balance, but the mangled signature must
	// be the reported failure.
	view := testView(t)
	tx := testTx(t, key, 5)
	forged := &Tx{
		Unsigned:  tx.Unsigned,
		Signature: tx.Signature,
	}
	forged.Unsigned.Value = 999

	err = Validate(view, forged, 1)
	require.ErrorIs(err, ErrInvalidSignature)
}

func TestValidateNonceExact(t *testing.T) {
	require := require.New(t)

	key, err := secp256k1.NewPrivateKey()
	require.NoError(err)

	view := testView(t)
	view.SetAccount(key.Address(), state.Account{Nonce: 3, Balance: math.MaxUint64})

	// Stale nonce.
	err = Validate(view, testTx(t, key, 2), 1)
	require.ErrorIs(err, ErrNonceMismatch)

	// Future nonce is rejected just the same: no gaps.
	err = Validate(view, testTx(t, key, 4), 1)
	require.ErrorIs(err, ErrNonceMismatch)

	require.NoError(Validate(view, testTx(t, key, 3), 1))
}

func TestValidateInsufficientBalance(t *testing.T) {
	require := require.New(t)

	key, err := secp256k1.NewPrivateKey()
	require.NoError(err)

	view := testView(t)
	// One unit short of gasLimit*feeParameter + value.
	view.SetAccount(key.Address(), state.Account{Nonce: 0, Balance: 30_099})

	err = Validate(view, testTx(t, key, 0), 1)
	require.ErrorIs(err, ErrInsufficientBalance)
}

func TestValidateWorstCaseFeeOverflow(t *testing.T) {
	require := require.New(t)

	key, err := secp256k1.NewPrivateKey()
	require.NoError(err)

	view := testView(t)
	view.SetAccount(key.Address(), state.Account{Nonce: 0, Balance: math.MaxUint64})

	// gasLimit*feeParameter overflows uint64; no balance can cover it.
	err = Validate(view, testTx(t, key, 0), math.MaxUint64)
	require.ErrorIs(err, ErrInsufficientBalance)
}

func TestValidateUnknownSender(t *testing.T) {
	require := require.New(t)

	key, err := secp256k1.NewPrivateKey()
	require.NoError(err)

	// Absent accounts read as zero valued: nonce 0 matches, balance 0 does not.
	err = Validate(testView(t), testTx(t, key, 0), 1)
	require.ErrorIs(err, ErrInsufficientBalance)
}
