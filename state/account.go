// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"github.com/luxfi/ids"
)

// Account is the value stored per address. The address itself is the storage
// key and is not repeated inside the record.
//
// Nonce increases by exactly one per successfully applied transaction from
// the address. Balance arithmetic is overflow-checked everywhere it is
// mutated.
type Account struct {
	Nonce   uint64 `serialize:"true" json:"nonce"`
	Balance uint64 `serialize:"true" json:"balance"`
	// CodeRef is an opaque handle to contract state owned by an external
	// executor. Empty for plain accounts.
	CodeRef ids.ID `serialize:"true" json:"codeRef"`
}

func (a Account) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, &a)
}

func ParseAccount(bytes []byte) (Account, error) {
	var a Account
	_, err := Codec.Unmarshal(bytes, &a)
	return a, err
}
