// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

// ErrCommitTimeout reports that the durable write did not confirm in time.
// The commit is NOT known to have failed: the caller must retry the commit
// for the same height and must not report the height as committed until a
// retry succeeds.
var ErrCommitTimeout = errors.New("commit timed out awaiting durable write")

// commitRecord is the durable last-committed pointer. It travels in the same
// atomic batch as the block's state deltas, so either the whole block is on
// disk or none of it is.
type commitRecord struct {
	ChainID      string `serialize:"true"`
	Height       uint64 `serialize:"true"`
	StateRoot    ids.ID `serialize:"true"`
	ReceiptsRoot ids.ID `serialize:"true"`
	AppHash      ids.ID `serialize:"true"`
	FeeParameter uint64 `serialize:"true"`
}

// CommitResult is returned to the consensus adapter once a block is durable.
type CommitResult struct {
	Height       uint64
	StateRoot    ids.ID
	ReceiptsRoot ids.ID
	AppHash      ids.ID
}

// BlockCommit describes the block being finalized.
type BlockCommit struct {
	ChainID      string
	Height       uint64
	FeeParameter uint64
	// Receipts are the encoded receipts in execution order.
	Receipts [][]byte
}

// Committer owns the transition from "block executed" to "block committed".
// It is the only writer of durable state.
type Committer struct {
	state   *State
	log     log.Logger
	timeout time.Duration
}

// NewCommitter wires a committer to [state]. [timeout] bounds the blocking
// durable write; zero means wait indefinitely.
func NewCommitter(state *State, log log.Logger, timeout time.Duration) *Committer {
	return &Committer{
		state:   state,
		log:     log,
		timeout: timeout,
	}
}

// Finalize computes the block's roots, persists the overlay's deltas together
// with the new last-committed record in one atomic write, and advances the
// in-memory committed pointers only after durability is confirmed. The
// overlay is consumed: the caller must drop every reference to it afterwards.
//
// On ErrCommitTimeout the staged layer is discarded, so readers keep seeing
// the last committed block; the in-flight write may still land in the
// background. Retrying Finalize with the same overlay and commit description
// re-stages identical bytes, and since every attempt writes the whole block
// as one batch, any interleaving converges on the identical durable result.
func (c *Committer) Finalize(ctx context.Context, overlay *Overlay, commit BlockCommit) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}

	s := c.state
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stage into a fresh versioned layer over the durable store. The state's
	// own readers bypass this layer, so nothing staged is visible to them
	// until the whole block lands.
	staged := versiondb.New(s.baseDB)
	accountDB := prefixdb.New(accountPrefix, staged)
	storageDB := prefixdb.New(storagePrefix, staged)
	metadataDB := prefixdb.New(metadataPrefix, staged)

	// Staging order is irrelevant: the root is computed from the database's
	// canonical key order below.
	for addr, acct := range overlay.accounts {
		bytes, err := acct.Bytes()
		if err != nil {
			return CommitResult{}, fmt.Errorf("encoding account %s: %w", addr, err)
		}
		if err := accountDB.Put(addr[:], bytes); err != nil {
			return CommitResult{}, fmt.Errorf("staging account %s: %w", addr, err)
		}
	}
	for key, value := range overlay.storage {
		var err error
		if value == nil {
			err = storageDB.Delete([]byte(key))
		} else {
			err = storageDB.Put([]byte(key), value)
		}
		if err != nil {
			return CommitResult{}, fmt.Errorf("staging storage delta: %w", err)
		}
	}

	stateRoot, err := stateRootOf(accountDB, storageDB)
	if err != nil {
		return CommitResult{}, fmt.Errorf("computing state root: %w", err)
	}
	receiptsRoot := ReceiptsRoot(commit.Receipts)
	appHash := AppHash(stateRoot, receiptsRoot)

	record := commitRecord{
		ChainID:      commit.ChainID,
		Height:       commit.Height,
		StateRoot:    stateRoot,
		ReceiptsRoot: receiptsRoot,
		AppHash:      appHash,
		FeeParameter: commit.FeeParameter,
	}
	recordBytes, err := Codec.Marshal(CodecVersion, &record)
	if err != nil {
		return CommitResult{}, fmt.Errorf("encoding commit record: %w", err)
	}
	if err := errors.Join(
		metadataDB.Put(lastCommittedKey, recordBytes),
		metadataDB.Put(lastCommittedChecksumKey, hash.ComputeHash256(recordBytes)),
	); err != nil {
		return CommitResult{}, fmt.Errorf("staging commit record: %w", err)
	}

	if err := c.write(ctx, staged); err != nil {
		return CommitResult{}, err
	}

	for addr := range overlay.accounts {
		s.accountCache.Evict(addr)
	}

	s.initialized = true
	s.chainID = record.ChainID
	s.height = record.Height
	s.stateRoot = record.StateRoot
	s.receiptsRoot = record.ReceiptsRoot
	s.appHash = record.AppHash
	s.feeParameter = record.FeeParameter

	c.log.Info("committed block",
		log.Uint64("height", record.Height),
		log.Stringer("appHash", record.AppHash),
		log.Int("receipts", len(commit.Receipts)),
	)
	return CommitResult{
		Height:       record.Height,
		StateRoot:    record.StateRoot,
		ReceiptsRoot: record.ReceiptsRoot,
		AppHash:      record.AppHash,
	}, nil
}

// write flushes the staged layer to the underlying store as one batch,
// bounded by the configured timeout. A write that outlives its deadline keeps
// running against its own layer; a retry stages the same block again, so the
// store ends up with the same bytes either way.
func (c *Committer) write(ctx context.Context, staged *versiondb.Database) error {
	if c.timeout == 0 {
		return staged.Commit()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- staged.Commit()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCommitTimeout, ctx.Err())
	}
}
