// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package txs defines the transaction format, its signing scheme, and the
// admission checks run before a transaction enters a block or the pending
// pool.
package txs

import (
	"errors"
	"fmt"

	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/ids"
)

// SignatureLen is the length of a recoverable secp256k1 signature.
const SignatureLen = 65

var errWrongSigner = errors.New("signature does not recover to sender")

// UnsignedTx is the signed-over portion of a transaction. The chain ID is
// part of the signed bytes, so a signature is only ever valid for one chain.
type UnsignedTx struct {
	ChainID  string      `serialize:"true" json:"chainID"`
	Sender   ids.ShortID `serialize:"true" json:"sender"`
	Nonce    uint64      `serialize:"true" json:"nonce"`
	GasLimit uint64      `serialize:"true" json:"gasLimit"`
	To       ids.ShortID `serialize:"true" json:"to"`
	Value    uint64      `serialize:"true" json:"value"`
	Payload  Payload     `serialize:"true" json:"payload"`
}

// Tx is an immutable decoded transaction.
type Tx struct {
	Unsigned  UnsignedTx         `serialize:"true" json:"unsigned"`
	Signature [SignatureLen]byte `serialize:"true" json:"signature"`

	bytes []byte
	id    ids.ID
}

// New signs [unsigned] with [key], stamping the key's address as sender.
func New(unsigned UnsignedTx, key *secp256k1.PrivateKey) (*Tx, error) {
	unsigned.Sender = key.Address()
	unsignedBytes, err := Codec.Marshal(CodecVersion, &unsigned)
	if err != nil {
		return nil, fmt.Errorf("encoding unsigned tx: %w", err)
	}
	sig, err := key.SignHash(hash.ComputeHash256(unsignedBytes))
	if err != nil {
		return nil, fmt.Errorf("signing tx: %w", err)
	}

	tx := &Tx{Unsigned: unsigned}
	copy(tx.Signature[:], sig)
	return tx, tx.initialize()
}

// Parse decodes raw transaction bytes. The returned transaction is immutable.
func Parse(bytes []byte) (*Tx, error) {
	tx := &Tx{}
	if _, err := Codec.Unmarshal(bytes, tx); err != nil {
		return nil, err
	}
	tx.bytes = append([]byte(nil), bytes...)
	tx.id = hash.ComputeHash256Array(tx.bytes)
	return tx, nil
}

func (tx *Tx) initialize() error {
	bytes, err := Codec.Marshal(CodecVersion, tx)
	if err != nil {
		return fmt.Errorf("encoding tx: %w", err)
	}
	tx.bytes = bytes
	tx.id = hash.ComputeHash256Array(bytes)
	return nil
}

// ID uniquely identifies this transaction by its bytes.
func (tx *Tx) ID() ids.ID {
	return tx.id
}

func (tx *Tx) Bytes() []byte {
	return tx.bytes
}

// SigHash returns the digest the sender signed.
func (tx *Tx) SigHash() ([]byte, error) {
	unsignedBytes, err := Codec.Marshal(CodecVersion, &tx.Unsigned)
	if err != nil {
		return nil, err
	}
	return hash.ComputeHash256(unsignedBytes), nil
}

// VerifySignature checks that the signature recovers to the declared sender.
func (tx *Tx) VerifySignature() error {
	sigHash, err := tx.SigHash()
	if err != nil {
		return err
	}
	pub, err := secp256k1.RecoverPublicKeyFromHash(sigHash, tx.Signature[:])
	if err != nil {
		return err
	}
	if pub.Address() != tx.Unsigned.Sender {
		return errWrongSigner
	}
	return nil
}
