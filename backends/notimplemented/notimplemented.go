// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

// Package notimplemented implements a backends.Device whose every method
// returns backends.ErrNotImplemented.
//
// Embed Device in a partial implementation to bootstrap a new backend, or
// use it directly in tests that only exercise construction-time paths.
package notimplemented

import (
	"github.com/cairnml/cairn/backends"
	"github.com/cairnml/cairn/types/shapes"
	"github.com/pkg/errors"
)

// Device is a stub backends.Device. The zero value is ready to use.
type Device struct{}

var _ backends.Device = Device{}

func notImplemented(what string) error {
	return errors.Wrap(backends.ErrNotImplemented, what)
}

// Name implements backends.Device.
func (Device) Name() string { return "notimplemented" }

// Description implements backends.Device.
func (Device) Description() string { return "stub device, every method fails" }

func (Device) AllocateFloats(size int) (backends.Buffer, error) {
	return nil, notImplemented("AllocateFloats")
}

func (Device) AllocateInts(size int) (backends.Buffer, error) {
	return nil, notImplemented("AllocateInts")
}

func (Device) FillZero(buf backends.Buffer) error { return notImplemented("FillZero") }

func (Device) FillRandomNormal(buf backends.Buffer, mean, stddev float32) error {
	return notImplemented("FillRandomNormal")
}

func (Device) FillRandomUniform(buf backends.Buffer, mean, width float32) error {
	return notImplemented("FillRandomUniform")
}

func (Device) LoadFloats(buf backends.Buffer, src []float32) error {
	return notImplemented("LoadFloats")
}

func (Device) ReadFloats(buf backends.Buffer, dst []float32) error {
	return notImplemented("ReadFloats")
}

func (Device) LoadInts(buf backends.Buffer, src []int32) error { return notImplemented("LoadInts") }

func (Device) Matmul(aShape shapes.Shape, transA bool, a backends.Buffer, bShape shapes.Shape, transB bool, b, out backends.Buffer) error {
	return notImplemented("Matmul")
}

func (Device) Affine(wShape shapes.Shape, w backends.Buffer, xShape shapes.Shape, x backends.Buffer, biasShape shapes.Shape, bias, out backends.Buffer) error {
	return notImplemented("Affine")
}

func (Device) SparseAffine(wShape shapes.Shape, w backends.Buffer, xShape shapes.Shape, maxActive int, x backends.Buffer, biasShape shapes.Shape, bias, out backends.Buffer) error {
	return notImplemented("SparseAffine")
}

func (Device) SparseAffineDualActivate(wShape shapes.Shape, w backends.Buffer, xShape shapes.Shape, maxActive int, stm, ntm backends.Buffer, biasShape shapes.Shape, bias backends.Buffer, act backends.Activation, out backends.Buffer) error {
	return notImplemented("SparseAffineDualActivate")
}

func (Device) Activate(act backends.Activation, size int, x, out backends.Buffer) error {
	return notImplemented("Activate")
}

func (Device) Concat(aShape shapes.Shape, a backends.Buffer, bShape shapes.Shape, b, out backends.Buffer) error {
	return notImplemented("Concat")
}

func (Device) SliceRows(xShape shapes.Shape, x backends.Buffer, start, end int, out backends.Buffer) error {
	return notImplemented("SliceRows")
}

func (Device) LinearCombination(size int, alpha float32, a backends.Buffer, beta float32, b, out backends.Buffer) error {
	return notImplemented("LinearCombination")
}

func (Device) PairwiseMul(xShape shapes.Shape, x backends.Buffer, postConcat bool, out backends.Buffer) error {
	return notImplemented("PairwiseMul")
}

func (Device) Select(xShape shapes.Shape, x backends.Buffer, bucketsShape shapes.Shape, buckets, out backends.Buffer) error {
	return notImplemented("Select")
}

func (Device) PowerError(power float32, size int, x, targets, out backends.Buffer) error {
	return notImplemented("PowerError")
}

func (Device) SoftmaxCrossEntropy(shape shapes.Shape, logits, targets, out backends.Buffer) error {
	return notImplemented("SoftmaxCrossEntropy")
}

func (Device) ReduceAcrossBatch(size int, x, out backends.Buffer) error {
	return notImplemented("ReduceAcrossBatch")
}

func (Device) ToDense(xShape shapes.Shape, maxActive int, x, out backends.Buffer) error {
	return notImplemented("ToDense")
}

func (Device) MatmulBackward(aShape shapes.Shape, transA bool, a, aGrad backends.Buffer, bShape shapes.Shape, transB bool, b, bGrad, outGrad backends.Buffer) error {
	return notImplemented("MatmulBackward")
}

func (Device) AffineBackward(wShape shapes.Shape, w, wGrad backends.Buffer, xShape shapes.Shape, x, xGrad backends.Buffer, biasShape shapes.Shape, biasGrad, outGrad backends.Buffer) error {
	return notImplemented("AffineBackward")
}

func (Device) SparseAffineBackward(wShape shapes.Shape, wGrad backends.Buffer, xShape shapes.Shape, maxActive int, x backends.Buffer, biasShape shapes.Shape, biasGrad, outGrad backends.Buffer) error {
	return notImplemented("SparseAffineBackward")
}

func (Device) SparseAffineDualActivateBackward(wShape shapes.Shape, wGrad backends.Buffer, xShape shapes.Shape, maxActive int, stm, ntm backends.Buffer, biasShape shapes.Shape, biasGrad backends.Buffer, act backends.Activation, out, outGrad backends.Buffer) error {
	return notImplemented("SparseAffineDualActivateBackward")
}

func (Device) ActivateBackward(act backends.Activation, size int, x, xGrad, outGrad backends.Buffer) error {
	return notImplemented("ActivateBackward")
}

func (Device) ConcatBackward(aShape shapes.Shape, aGrad backends.Buffer, bShape shapes.Shape, bGrad, outGrad backends.Buffer) error {
	return notImplemented("ConcatBackward")
}

func (Device) SliceRowsBackward(xShape shapes.Shape, xGrad backends.Buffer, start, end int, outGrad backends.Buffer) error {
	return notImplemented("SliceRowsBackward")
}

func (Device) LinearCombinationBackward(size int, alpha float32, aGrad backends.Buffer, beta float32, bGrad, outGrad backends.Buffer) error {
	return notImplemented("LinearCombinationBackward")
}

func (Device) PairwiseMulBackward(xShape shapes.Shape, x, xGrad backends.Buffer, postConcat bool, outGrad backends.Buffer) error {
	return notImplemented("PairwiseMulBackward")
}

func (Device) SelectBackward(xShape shapes.Shape, xGrad backends.Buffer, bucketsShape shapes.Shape, buckets, outGrad backends.Buffer) error {
	return notImplemented("SelectBackward")
}

func (Device) PowerErrorBackward(power float32, size int, x, targets, xGrad, outGrad backends.Buffer) error {
	return notImplemented("PowerErrorBackward")
}

func (Device) SoftmaxCrossEntropyBackward(shape shapes.Shape, logits, targets, logitsGrad, outGrad backends.Buffer) error {
	return notImplemented("SoftmaxCrossEntropyBackward")
}

func (Device) ReduceAcrossBatchBackward(size int, xGrad, outGrad backends.Buffer) error {
	return notImplemented("ReduceAcrossBatchBackward")
}

func (Device) AdamStep(size int, weights, grads, momentum, velocity backends.Buffer, cfg backends.AdamConfig) error {
	return notImplemented("AdamStep")
}
