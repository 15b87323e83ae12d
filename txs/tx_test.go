// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/ids"
)

const testChainID = "testchain-1"

func testTx(t *testing.T, key *secp256k1.PrivateKey, nonce uint64) *Tx {
	t.Helper()

	tx, err := New(UnsignedTx{
		ChainID:  testChainID,
		Nonce:    nonce,
		GasLimit: 30_000,
		To:       ids.ShortID{0xaa},
		Value:    100,
		Payload:  &TransferPayload{},
	}, key)
	require.NoError(t, err)
	return tx
}

func TestTxSignAndParseRoundTrip(t *testing.T) {
	require := require.New(t)

	key, err := secp256k1.NewPrivateKey()
	require.NoError(err)

	tx := testTx(t, key, 0)
	require.Equal(key.Address(), tx.Unsigned.Sender)
	require.NoError(tx.VerifySignature())

	parsed, err := Parse(tx.Bytes())
	require.NoError(err)
	require.Equal(tx.ID(), parsed.ID())
	require.Equal(tx.Unsigned, parsed.Unsigned)
	require.NoError(parsed.VerifySignature())
}

func TestTxParseGarbage(t *testing.T) {
	require := require.New(t)

	_, err := Parse([]byte("not a transaction"))
	require.Error(err)
}

func TestTxSignatureCoversChainID(t *testing.T) {
	require := require.New(t)

	key, err := secp256k1.NewPrivateKey()
	require.NoError(err)

	tx := testTx(t, key, 0)

	// Rebinding the signed payload to another chain must break the signature.
	forged := &Tx{
		Unsigned:  tx.Unsigned,
		Signature: tx.Signature,
	}
	forged.Unsigned.ChainID = "otherchain-9"
	require.Error(forged.VerifySignature())
}

func TestTxWrongSignerRejected(t *testing.T) {
	require := require.New(t)

	key, err := secp256k1.NewPrivateKey()
	require.NoError(err)

	tx := testTx(t, key, 0)

	// Claiming a different sender must not verify.
	forged := &Tx{
		Unsigned:  tx.Unsigned,
		Signature: tx.Signature,
	}
	forged.Unsigned.Sender = ids.ShortID{0xde, 0xad}
	require.Error(forged.VerifySignature())
}

func TestTxIDUniquePerContent(t *testing.T) {
	require := require.New(t)

	key, err := secp256k1.NewPrivateKey()
	require.NoError(err)

	require.NotEqual(testTx(t, key, 0).ID(), testTx(t, key, 1).ID())
}
