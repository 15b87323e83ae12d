// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package genesis defines the document that seeds a fresh chain: the chain
// identifier, the initial fee parameter, and the initial account balances.
package genesis

import (
	"encoding/json"
	"errors"
	"fmt"

	safemath "github.com/luxfi/math"

	"github.com/luxfi/ids"
)

var (
	errEmptyChainID     = errors.New("genesis chain ID is empty")
	errDuplicateAddress = errors.New("duplicate genesis allocation")
	errEmptyAddress     = errors.New("genesis allocation to the empty address")
)

type Allocation struct {
	Address ids.ShortID `json:"address"`
	Balance uint64      `json:"balance"`
}

type Genesis struct {
	ChainID             string       `json:"chainID"`
	InitialFeeParameter uint64       `json:"initialFeeParameter"`
	Allocations         []Allocation `json:"allocations"`
}

// Parse decodes and validates a genesis document.
func Parse(bytes []byte) (*Genesis, error) {
	g := &Genesis{}
	if err := json.Unmarshal(bytes, g); err != nil {
		return nil, fmt.Errorf("parsing genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return errEmptyChainID
	}

	seen := make(map[ids.ShortID]struct{}, len(g.Allocations))
	var total uint64
	for _, alloc := range g.Allocations {
		if alloc.Address == ids.ShortEmpty {
			return errEmptyAddress
		}
		if _, ok := seen[alloc.Address]; ok {
			return fmt.Errorf("%w: %s", errDuplicateAddress, alloc.Address)
		}
		seen[alloc.Address] = struct{}{}

		var err error
		total, err = safemath.Add64(total, alloc.Balance)
		if err != nil {
			return fmt.Errorf("genesis supply overflows: %w", err)
		}
	}
	return nil
}

// FeeParameter returns the initial fee parameter, defaulting to one when the
// document omits it.
func (g *Genesis) FeeParameter() uint64 {
	if g.InitialFeeParameter == 0 {
		return 1
	}
	return g.InitialFeeParameter
}
