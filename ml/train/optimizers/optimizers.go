// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers implements per-weight optimiser state for training
// graphs built with github.com/cairnml/cairn/graph.
//
// Each weight tensor gets its own State value owning the auxiliary
// buffers of the algorithm (for Adam: momentum and velocity), allocated
// on the same device as the weight. A training loop calls Update once per
// weight per step; the numeric kernel runs on the device, this layer only
// does buffer lifecycle and parameter bookkeeping.
//
// A named collection of states can be checkpointed to a directory and
// restored later, see SaveCheckpoint and LoadCheckpoint.
package optimizers

import (
	"github.com/cairnml/cairn/graph"
)

// AuxBuffer is one named auxiliary buffer of an optimiser state. The kind
// names an algorithm-specific role ("momentum", "velocity") and doubles
// as the checkpoint file stem.
type AuxBuffer struct {
	Kind   string
	Values *graph.Dense
}

// State is the per-weight optimiser interface, parameterized by the
// algorithm's hyperparameter type.
//
// Update preconditions are authorship errors and panic: both buffers must
// be unbatched and sized exactly like the state. Device kernel failures
// are returned as errors.
type State[P any] interface {
	// Update applies one optimisation step to weight in place, consuming
	// grad. The raw gradient is scaled by gradientFactor (typically
	// 1/batch_size) before accumulation.
	Update(weight, grad *graph.Dense, gradientFactor, learningRate float32) error

	// Reset zeroes the auxiliary buffers; weight values are untouched.
	Reset() error

	// SetParams hot-swaps hyperparameters without disturbing accumulated
	// auxiliary state.
	SetParams(params P)

	// Aux returns the auxiliary buffers in the algorithm's fixed order.
	Aux() []AuxBuffer
}
