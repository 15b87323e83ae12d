// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state manages the adapter's durable state: accounts and contract
// storage under stable key prefixes, the last-committed block record, and the
// copy-on-write overlay mutated during block execution.
package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/cache"
	"github.com/luxfi/cache/lru"
	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

// accountCacheSize bounds the committed-account read cache. Check-transaction
// traffic hits the same hot senders repeatedly, so even a small cache absorbs
// most reads.
const accountCacheSize = 2048

var (
	ErrCorruptState   = errors.New("corrupt state")
	ErrNotInitialized = errors.New("state not initialized")

	// Key prefixes are protocol constants. Changing them changes every
	// replica's database layout, so they must never be reordered.
	accountPrefix  = []byte{0x00}
	storagePrefix  = []byte{0x01}
	metadataPrefix = []byte{0x02}

	lastCommittedKey         = []byte("lastCommitted")
	lastCommittedChecksumKey = []byte("lastCommittedChecksum")
)

// State is the last-committed application state. The Committer stages each
// block in a versioned layer of its own and lands it here as one atomic
// batch; readers therefore only ever observe committed state, even while a
// commit is staged or in flight.
//
// Reads (GetAccount, GetStorage, the last-committed getters) may run
// concurrently with block execution: execution writes to an Overlay, not
// here. The read lock only excludes the short window in which the Committer
// swaps in a newly committed block.
type State struct {
	mu  sync.RWMutex
	log log.Logger

	baseDB     database.Database
	accountDB  database.Database
	storageDB  database.Database
	metadataDB database.Database

	// accountCache holds committed accounts; nil marks a known-absent
	// address. Entries for addresses touched by a block are evicted when the
	// block commits.
	accountCache cache.Cacher[ids.ShortID, *Account]

	initialized  bool
	chainID      string
	height       uint64
	stateRoot    ids.ID
	receiptsRoot ids.ID
	appHash      ids.ID
	feeParameter uint64
}

func New(db database.Database, log log.Logger) *State {
	return &State{
		log:          log,
		baseDB:       db,
		accountDB:    prefixdb.New(accountPrefix, db),
		storageDB:    prefixdb.New(storagePrefix, db),
		metadataDB:   prefixdb.New(metadataPrefix, db),
		accountCache: lru.NewCache[ids.ShortID, *Account](accountCacheSize),
	}
}

// Initialize loads the last-committed record from durable storage. A missing
// record means a fresh database waiting for genesis. A record that fails its
// checksum fails fatally: this node must not participate with state it
// cannot trust.
func (s *State) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordBytes, err := s.metadataDB.Get(lastCommittedKey)
	if errors.Is(err, database.ErrNotFound) {
		s.initialized = false
		s.log.Info("no committed state found, awaiting genesis")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading last committed record: %w", err)
	}

	checksum, err := s.metadataDB.Get(lastCommittedChecksumKey)
	if err != nil {
		return fmt.Errorf("%w: committed record has no checksum: %w", ErrCorruptState, err)
	}
	if expected := hash.ComputeHash256(recordBytes); string(expected) != string(checksum) {
		return fmt.Errorf("%w: committed record checksum mismatch", ErrCorruptState)
	}

	var record commitRecord
	if _, err := Codec.Unmarshal(recordBytes, &record); err != nil {
		return fmt.Errorf("%w: parsing committed record: %w", ErrCorruptState, err)
	}

	s.initialized = true
	s.chainID = record.ChainID
	s.height = record.Height
	s.stateRoot = record.StateRoot
	s.receiptsRoot = record.ReceiptsRoot
	s.appHash = record.AppHash
	s.feeParameter = record.FeeParameter

	s.log.Info("loaded committed state",
		log.String("chainID", record.ChainID),
		log.Uint64("height", record.Height),
		log.Stringer("appHash", record.AppHash),
	)
	return nil
}

// IsInitialized reports whether genesis has been committed.
func (s *State) IsInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

func (s *State) ChainID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainID
}

// Height returns the last committed height.
func (s *State) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

func (s *State) AppHash() ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appHash
}

func (s *State) StateRoot() ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateRoot
}

func (s *State) ReceiptsRoot() ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.receiptsRoot
}

func (s *State) FeeParameter() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feeParameter
}

// GetAccount returns the committed account for [addr].
func (s *State) GetAccount(addr ids.ShortID) (Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if acct, ok := s.accountCache.Get(addr); ok {
		if acct == nil {
			return Account{}, false, nil
		}
		return *acct, true, nil
	}

	bytes, err := s.accountDB.Get(addr[:])
	if errors.Is(err, database.ErrNotFound) {
		s.accountCache.Put(addr, nil)
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	acct, err := ParseAccount(bytes)
	if err != nil {
		return Account{}, false, fmt.Errorf("%w: account %s: %w", ErrCorruptState, addr, err)
	}
	s.accountCache.Put(addr, &acct)
	return acct, true, nil
}

// GetStorage returns the committed storage value for [addr]/[key], or nil.
func (s *State) GetStorage(addr ids.ShortID, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, err := s.storageDB.Get(append(addr[:], key...))
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

// Close releases the underlying store.
func (s *State) Close() error {
	return s.baseDB.Close()
}
