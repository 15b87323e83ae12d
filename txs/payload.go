// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package txs

// Payload is the opaque effect a transaction requests beyond its value
// transfer. The tag selects which payload executor runs it; dispatch is by
// tag, never by type hierarchy.
type Payload interface {
	Tag() string
}

// TagTransfer is a plain value transfer with no additional effects.
const TagTransfer = "transfer"

// TagStore writes one key/value pair into the sender's storage space.
const TagStore = "store"

type TransferPayload struct{}

func (*TransferPayload) Tag() string {
	return TagTransfer
}

type StorePayload struct {
	Key   []byte `serialize:"true" json:"key"`
	Value []byte `serialize:"true" json:"value"`
}

func (*StorePayload) Tag() string {
	return TagStore
}
