// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"github.com/luxfi/ids"
)

// View is a read-only window onto account and storage state. Both the
// committed State and an in-progress Overlay satisfy it.
type View interface {
	// GetAccount returns the account for [addr] and whether it exists.
	GetAccount(addr ids.ShortID) (Account, bool, error)
	// GetStorage returns the value stored under [key] for [addr], or nil if
	// absent.
	GetStorage(addr ids.ShortID, key []byte) ([]byte, error)
}

// Overlay accumulates the tentative writes of one block (or one transaction,
// when layered on another Overlay) on top of a parent view. Reads fall
// through to the parent for anything not written locally.
//
// An Overlay is owned by a single block's lifecycle and is never shared
// across goroutines, so it takes no locks. It is either merged into its
// parent (MergeInto) or into durable storage (Committer.Finalize), or simply
// dropped.
type Overlay struct {
	parent View

	accounts map[ids.ShortID]Account
	// storage values keyed by address||key. A nil value is a tombstone.
	storage map[string][]byte
}

func NewOverlay(parent View) *Overlay {
	return &Overlay{
		parent:   parent,
		accounts: make(map[ids.ShortID]Account),
		storage:  make(map[string][]byte),
	}
}

func (o *Overlay) GetAccount(addr ids.ShortID) (Account, bool, error) {
	if acct, ok := o.accounts[addr]; ok {
		return acct, true, nil
	}
	return o.parent.GetAccount(addr)
}

// SetAccount records [acct] as the pending value for [addr].
func (o *Overlay) SetAccount(addr ids.ShortID, acct Account) {
	o.accounts[addr] = acct
}

func (o *Overlay) GetStorage(addr ids.ShortID, key []byte) ([]byte, error) {
	if value, ok := o.storage[storageKey(addr, key)]; ok {
		if value == nil {
			return nil, nil
		}
		// Hand out a copy so callers can't mutate pending state.
		return append([]byte(nil), value...), nil
	}
	return o.parent.GetStorage(addr, key)
}

// SetStorage records a pending storage write. A nil or empty [value] deletes
// the entry.
func (o *Overlay) SetStorage(addr ids.ShortID, key []byte, value []byte) {
	if len(value) == 0 {
		o.storage[storageKey(addr, key)] = nil
		return
	}
	o.storage[storageKey(addr, key)] = append([]byte(nil), value...)
}

// MergeInto folds this overlay's writes into [parent]. Used to land the
// effects of a successfully executed payload into the block overlay; on
// failure the child overlay is dropped instead.
func (o *Overlay) MergeInto(parent *Overlay) {
	for addr, acct := range o.accounts {
		parent.accounts[addr] = acct
	}
	for key, value := range o.storage {
		parent.storage[key] = value
	}
}

func storageKey(addr ids.ShortID, key []byte) string {
	return string(addr[:]) + string(key)
}
