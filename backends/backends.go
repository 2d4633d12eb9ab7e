// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the Device interface a compute backend must
// implement to host graphs built with github.com/cairnml/cairn/graph.
//
// A Device owns opaque buffers and the numeric kernels that operate on
// them. The graph and optimizer layers only do buffer lifecycle and
// bookkeeping; all arithmetic happens behind this interface, so a CUDA or
// SIMD device can replace the pure-Go reference device (see simplego)
// without touching the rest of the system.
//
// A device that doesn't implement every kernel can return
// ErrNotImplemented for the missing ones -- see the notimplemented
// package for an embeddable stub.
package backends

import (
	"github.com/cairnml/cairn/types/shapes"
	"github.com/pkg/errors"
)

// ErrNotImplemented is returned by kernels a device does not support.
//
// It doesn't carry a stack; wrap it with errors.Wrapf when returning it.
var ErrNotImplemented = errors.New("operation not implemented by this device")

// Activation selects the elementwise non-linearity applied by the
// Activate kernel (and fused into SparseAffineDualActivate).
type Activation int

const (
	ActivationIdentity Activation = iota
	ActivationReLU
	ActivationCReLU
	ActivationSCReLU
	ActivationSqrReLU
	ActivationSigmoid
)

// String implements fmt.Stringer.
func (a Activation) String() string {
	switch a {
	case ActivationIdentity:
		return "Identity"
	case ActivationReLU:
		return "ReLU"
	case ActivationCReLU:
		return "CReLU"
	case ActivationSCReLU:
		return "SCReLU"
	case ActivationSqrReLU:
		return "SqrReLU"
	case ActivationSigmoid:
		return "Sigmoid"
	}
	return "InvalidActivation"
}

// Buffer is an opaque device-resident array of float32 values or int32
// indices. Buffers are created by a Device and must only be passed back
// to the device that created them.
type Buffer interface {
	// Size returns the number of elements in the buffer.
	Size() int
}

// AdamConfig carries the scalar hyperparameters for one AdamStep call.
//
// Step is the 1-based count of updates applied so far, used for the bias
// correction of both moment estimates. GradientFactor is an external
// scale applied to the raw gradient before accumulation (typically
// 1/batch_size).
type AdamConfig struct {
	Beta1, Beta2, Epsilon        float32
	GradientFactor, LearningRate float32
	Step                         int
}

// Device is the capability interface of a compute backend.
//
// All methods return resource-tier errors: allocation failures, transfer
// failures, or ErrNotImplemented. Argument validation (shape
// compatibility, buffer sizes) is the caller's job and happens at graph
// construction time, before any kernel runs.
type Device interface {
	// Name returns the short registered name of the device, e.g. "simplego".
	Name() string

	// Description is a longer human-readable description.
	Description() string

	// AllocateFloats returns a zero-filled buffer of size float32 elements.
	AllocateFloats(size int) (Buffer, error)

	// AllocateInts returns a buffer of size int32 elements, filled with -1
	// (the terminator value for sparse index lists).
	AllocateInts(size int) (Buffer, error)

	// FillZero zeroes the buffer in place.
	FillZero(buf Buffer) error

	// FillRandomNormal fills the buffer with N(mean, stddev) samples.
	FillRandomNormal(buf Buffer, mean, stddev float32) error

	// FillRandomUniform fills the buffer with U(mean-width, mean+width) samples.
	FillRandomUniform(buf Buffer, mean, width float32) error

	// LoadFloats copies host values into the buffer. len(src) must not
	// exceed the buffer size.
	LoadFloats(buf Buffer, src []float32) error

	// ReadFloats copies the buffer back to the host. len(dst) must not
	// exceed the buffer size.
	ReadFloats(buf Buffer, dst []float32) error

	// LoadInts copies host indices into an int buffer.
	LoadInts(buf Buffer, src []int32) error

	Kernels
}

// Kernels is the numeric sub-interface of Device: one forward and (where
// meaningful) one backward entry point per graph operation, plus the
// optimiser step.
//
// Shapes are the already-batched logical shapes (the column count carries
// the batch). Sparse operands are int32 index buffers with maxActive
// entries per column, -1 terminated; every listed index contributes an
// implicit value of 1. Nil bias buffers mean "no bias"; nil gradient
// buffers in backward calls mean that operand does not require gradients.
type Kernels interface {
	// Matmul computes out = op(a) * op(b), where op optionally transposes.
	Matmul(aShape shapes.Shape, transA bool, a Buffer, bShape shapes.Shape, transB bool, b Buffer, out Buffer) error

	// Affine computes out = w*x + bias, the bias broadcast across column
	// groups (xShape.Cols must be a multiple of biasShape.Cols).
	Affine(wShape shapes.Shape, w Buffer, xShape shapes.Shape, x Buffer, biasShape shapes.Shape, bias Buffer, out Buffer) error

	// SparseAffine computes out = w*x + bias for a sparse one-hot x.
	SparseAffine(wShape shapes.Shape, w Buffer, xShape shapes.Shape, maxActive int, x Buffer, biasShape shapes.Shape, bias Buffer, out Buffer) error

	// SparseAffineDualActivate computes the two-perspective feature
	// transform: out stacks act(w*stm+bias) on top of act(w*ntm+bias).
	SparseAffineDualActivate(wShape shapes.Shape, w Buffer, xShape shapes.Shape, maxActive int, stm, ntm Buffer, biasShape shapes.Shape, bias Buffer, act Activation, out Buffer) error

	// Activate applies the non-linearity elementwise.
	Activate(act Activation, size int, x Buffer, out Buffer) error

	// Concat stacks a on top of b, column by column.
	Concat(aShape shapes.Shape, a Buffer, bShape shapes.Shape, b Buffer, out Buffer) error

	// SliceRows copies rows [start, end) of every column.
	SliceRows(xShape shapes.Shape, x Buffer, start, end int, out Buffer) error

	// LinearCombination computes out = alpha*a + beta*b.
	LinearCombination(size int, alpha float32, a Buffer, beta float32, b Buffer, out Buffer) error

	// PairwiseMul multiplies the top half of each column with its bottom
	// half. With postConcat set, it does so independently for the two
	// concatenated halves of the column.
	PairwiseMul(xShape shapes.Shape, x Buffer, postConcat bool, out Buffer) error

	// Select copies, per column, the chunk of x selected by the bucket
	// index (buckets is sparse with one active index per column).
	Select(xShape shapes.Shape, x Buffer, bucketsShape shapes.Shape, buckets Buffer, out Buffer) error

	// PowerError reduces sum(|x - targets|^power) into the scalar out.
	PowerError(power float32, size int, x, targets Buffer, out Buffer) error

	// SoftmaxCrossEntropy reduces the summed cross-entropy between
	// softmax(logits), per column, and targets into the scalar out.
	SoftmaxCrossEntropy(shape shapes.Shape, logits, targets Buffer, out Buffer) error

	// ReduceAcrossBatch sums every element of x into the scalar out.
	ReduceAcrossBatch(size int, x Buffer, out Buffer) error

	// ToDense expands a sparse index buffer into a dense 0/1 buffer.
	ToDense(xShape shapes.Shape, maxActive int, x Buffer, out Buffer) error

	MatmulBackward(aShape shapes.Shape, transA bool, a, aGrad Buffer, bShape shapes.Shape, transB bool, b, bGrad Buffer, outGrad Buffer) error
	AffineBackward(wShape shapes.Shape, w, wGrad Buffer, xShape shapes.Shape, x, xGrad Buffer, biasShape shapes.Shape, biasGrad Buffer, outGrad Buffer) error
	SparseAffineBackward(wShape shapes.Shape, wGrad Buffer, xShape shapes.Shape, maxActive int, x Buffer, biasShape shapes.Shape, biasGrad Buffer, outGrad Buffer) error
	SparseAffineDualActivateBackward(wShape shapes.Shape, wGrad Buffer, xShape shapes.Shape, maxActive int, stm, ntm Buffer, biasShape shapes.Shape, biasGrad Buffer, act Activation, out, outGrad Buffer) error
	ActivateBackward(act Activation, size int, x, xGrad, outGrad Buffer) error
	ConcatBackward(aShape shapes.Shape, aGrad Buffer, bShape shapes.Shape, bGrad Buffer, outGrad Buffer) error
	SliceRowsBackward(xShape shapes.Shape, xGrad Buffer, start, end int, outGrad Buffer) error
	LinearCombinationBackward(size int, alpha float32, aGrad Buffer, beta float32, bGrad Buffer, outGrad Buffer) error
	PairwiseMulBackward(xShape shapes.Shape, x, xGrad Buffer, postConcat bool, outGrad Buffer) error
	SelectBackward(xShape shapes.Shape, xGrad Buffer, bucketsShape shapes.Shape, buckets Buffer, outGrad Buffer) error
	PowerErrorBackward(power float32, size int, x, targets, xGrad, outGrad Buffer) error
	SoftmaxCrossEntropyBackward(shape shapes.Shape, logits, targets, logitsGrad, outGrad Buffer) error
	ReduceAcrossBatchBackward(size int, xGrad, outGrad Buffer) error

	// AdamStep applies one in-place Adam update to weights and both
	// moment buffers. All four buffers have exactly size elements.
	AdamStep(size int, weights, grads, momentum, velocity Buffer, cfg AdamConfig) error
}

// Constructor builds a Device from an optional device-specific
// configuration string.
type Constructor func(config string) (Device, error)

var registeredConstructors = make(map[string]Constructor)

// Register a device constructor under the given name. Call it during
// package initialization; later registrations with the same name
// overwrite earlier ones.
func Register(name string, constructor Constructor) {
	registeredConstructors[name] = constructor
}

// New builds the device registered under name, passing it config.
func New(name, config string) (Device, error) {
	constructor, found := registeredConstructors[name]
	if !found {
		return nil, errors.Errorf("no device registered under %q", name)
	}
	return constructor(config)
}
