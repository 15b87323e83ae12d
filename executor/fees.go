// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package executor

import (
	safemath "github.com/luxfi/math"
)

// The fee parameter update is the one scheduling-adjacent policy in the
// core, so the formula is pinned explicitly; any divergence between replicas
// is a consensus failure.
//
// Empty blocks leave the parameter untouched. Otherwise it moves toward
// demand: above-target fullness raises it, below-target lowers it, by
// prev * |used - target| / target / 8, so the per-block change is bounded by
// prev/8. The parameter never drops below MinFeeParameter. Integer
// arithmetic only.
const (
	MinFeeParameter      = 1
	feeChangeDenominator = 8
)

// NextFeeParameter computes the fee parameter for the next block from the
// previous value and this block's fullness.
func NextFeeParameter(prev, blockGasUsed, blockGasLimit uint64) uint64 {
	if blockGasUsed == 0 || blockGasLimit == 0 {
		return prev
	}
	if blockGasUsed > blockGasLimit {
		blockGasUsed = blockGasLimit
	}

	target := blockGasLimit / 2
	if target == 0 || blockGasUsed == target {
		return prev
	}

	if blockGasUsed > target {
		excess := blockGasUsed - target
		var delta uint64
		if product, err := safemath.Mul64(prev, excess); err == nil {
			delta = product / target / feeChangeDenominator
		} else {
			// excess <= target, so this lower-precision form stays <= prev/8.
			delta = prev / target / feeChangeDenominator * excess
		}
		if delta == 0 {
			delta = 1
		}
		next, err := safemath.Add64(prev, delta)
		if err != nil {
			return safemath.MaxUint[uint64]()
		}
		return next
	}

	shortfall := target - blockGasUsed
	var delta uint64
	if product, err := safemath.Mul64(prev, shortfall); err == nil {
		delta = product / target / feeChangeDenominator
	} else {
		delta = prev / target / feeChangeDenominator * shortfall
	}
	if delta >= prev || prev-delta < MinFeeParameter {
		return MinFeeParameter
	}
	return prev - delta
}
