// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/cairnml/cairn/backends"
	"github.com/cairnml/cairn/graph"
)

// AdamParams are the Adam hyperparameters that can be hot-swapped
// mid-run via SetParams.
type AdamParams struct {
	Beta1, Beta2 float32
	Epsilon      float32
}

// Adam returns a configuration for the Adam optimizer [Kingma et al.,
// 2014] with the usual defaults (beta1=0.9, beta2=0.999, epsilon=1e-8).
// Configure it and then call New once per weight tensor.
func Adam() *AdamConfig {
	return &AdamConfig{
		params: AdamParams{Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8},
	}
}

// AdamConfig holds the configuration for Adam states, created with
// Adam().
type AdamConfig struct {
	params AdamParams
}

// Betas sets the exponential decay of the two moment estimates.
func (c *AdamConfig) Betas(beta1, beta2 float32) *AdamConfig {
	c.params.Beta1, c.params.Beta2 = beta1, beta2
	return c
}

// Epsilon sets the denominator stabilizer.
func (c *AdamConfig) Epsilon(epsilon float32) *AdamConfig {
	c.params.Epsilon = epsilon
	return c
}

// New allocates zeroed momentum and velocity buffers for one weight of
// the given element count.
func (c *AdamConfig) New(device backends.Device, size int) (*AdamState, error) {
	momentum, err := graph.NewDense(device, size)
	if err != nil {
		return nil, errors.WithMessage(err, "allocating Adam momentum")
	}
	velocity, err := graph.NewDense(device, size)
	if err != nil {
		return nil, errors.WithMessage(err, "allocating Adam velocity")
	}
	return &AdamState{
		device:   device,
		params:   c.params,
		size:     size,
		momentum: momentum,
		velocity: velocity,
	}, nil
}

// AdamState is the per-weight Adam optimiser state: exponential moving
// averages of the gradient (momentum) and of its square (velocity), plus
// the step counter driving bias correction.
type AdamState struct {
	device   backends.Device
	params   AdamParams
	size     int
	step     int
	momentum *graph.Dense
	velocity *graph.Dense
}

var _ State[AdamParams] = (*AdamState)(nil)

// Update implements State.
func (s *AdamState) Update(weight, grad *graph.Dense, gradientFactor, learningRate float32) error {
	if weight.BatchSize() != 0 || grad.BatchSize() != 0 {
		exceptions.Panicf("optimizers: Adam.Update requires unbatched buffers, got weight batch %d, grad batch %d",
			weight.BatchSize(), grad.BatchSize())
	}
	if weight.Size() != s.size || grad.Size() != s.size {
		exceptions.Panicf("optimizers: Adam.Update buffer sizes disagree: weight %d, grad %d, state %d",
			weight.Size(), grad.Size(), s.size)
	}
	s.step++
	cfg := backends.AdamConfig{
		Beta1:          s.params.Beta1,
		Beta2:          s.params.Beta2,
		Epsilon:        s.params.Epsilon,
		GradientFactor: gradientFactor,
		LearningRate:   learningRate,
		Step:           s.step,
	}
	err := s.device.AdamStep(s.size, weight.Buffer(), grad.Buffer(),
		s.momentum.Buffer(), s.velocity.Buffer(), cfg)
	return errors.WithMessage(err, "Adam device step")
}

// Reset implements State: it zeroes both moments and restarts the bias
// correction.
func (s *AdamState) Reset() error {
	if err := s.momentum.SetZero(); err != nil {
		return errors.WithMessage(err, "zeroing Adam momentum")
	}
	if err := s.velocity.SetZero(); err != nil {
		return errors.WithMessage(err, "zeroing Adam velocity")
	}
	s.step = 0
	return nil
}

// SetParams implements State.
func (s *AdamState) SetParams(params AdamParams) {
	s.params = params
}

// Aux implements State. The order is fixed: momentum, then velocity.
func (s *AdamState) Aux() []AuxBuffer {
	return []AuxBuffer{
		{Kind: "momentum", Values: s.momentum},
		{Kind: "velocity", Values: s.velocity},
	}
}
