// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines configuration for the consensus-application
// adapter.
package config

import (
	"time"
)

type Config struct {
	// BlockGasLimit caps the gas a single block may consume. It also anchors
	// the fee parameter's fullness target, so it must be identical across
	// replicas.
	BlockGasLimit uint64 `json:"blockGasLimit"`

	// CommitTimeout bounds the blocking durable write during commit. A
	// timeout surfaces as a retryable failure; zero waits indefinitely.
	CommitTimeout time.Duration `json:"commitTimeout"`

	// RetainBlocks is the block-retention hint returned from commit. Zero
	// asks the consensus engine to retain everything.
	RetainBlocks uint64 `json:"retainBlocks"`
}

func DefaultConfig() Config {
	return Config{
		BlockGasLimit: 30_000_000,
		CommitTimeout: 30 * time.Second,
		RetainBlocks:  0,
	}
}
