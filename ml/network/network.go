// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

// Package network is the ergonomic authoring layer over the graph
// package: value-style node handles with chainable operation methods,
// named affine layers, and declarative weight initialization.
//
// A Builder wraps one graph.Builder. Handles returned by its methods are
// plain values tied to that builder; combining handles from different
// builders is undefined. Construction is single-threaded and fail-fast,
// like the graph layer underneath.
package network

import (
	"math"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/cairnml/cairn/backends"
	"github.com/cairnml/cairn/graph"
	"github.com/cairnml/cairn/types/shapes"
)

// InitSettings selects how a weight tensor is filled right after build.
type InitSettings struct {
	kind        initKind
	mean, width float32
}

type initKind int

const (
	initZeroed initKind = iota
	initNormal
	initUniform
)

// Zeroed leaves the weight at zero.
func Zeroed() InitSettings { return InitSettings{kind: initZeroed} }

// Normal draws weights from N(mean, stddev).
func Normal(mean, stddev float32) InitSettings {
	return InitSettings{kind: initNormal, mean: mean, width: stddev}
}

// Uniform draws weights from U(mean-width, mean+width).
func Uniform(mean, width float32) InitSettings {
	return InitSettings{kind: initUniform, mean: mean, width: width}
}

func (s InitSettings) apply(t *graph.Tensor) error {
	switch s.kind {
	case initNormal:
		return t.SeedRandom(s.mean, s.width, true)
	case initUniform:
		return t.SeedRandom(s.mean, s.width, false)
	default:
		// Buffers are allocated zeroed.
		return nil
	}
}

// Builder authors a network. Create it with NewBuilder, add inputs,
// weights and operations, then call Build exactly once.
type Builder struct {
	mu    sync.Mutex
	gb    *graph.Builder
	inits map[string]InitSettings
	built bool
}

// NewBuilder returns an empty network builder.
func NewBuilder() *Builder {
	return &Builder{
		gb:    graph.NewBuilder(),
		inits: make(map[string]InitSettings),
	}
}

func (b *Builder) lock() func() {
	if !b.mu.TryLock() {
		exceptions.Panicf("network.Builder: overlapping method calls on one builder; serialize access externally")
	}
	if b.built {
		exceptions.Panicf("network.Builder: builder already consumed by Build")
	}
	return b.mu.Unlock
}

// V is a value handle on a node under construction. It is a plain value;
// chain its methods to grow the network.
type V struct {
	b    *Builder
	node graph.Node
}

// NewDenseInput declares a named dense input.
func (b *Builder) NewDenseInput(id string, shape shapes.Shape) V {
	defer b.lock()()
	return V{b: b, node: b.gb.DenseInput(id, shape)}
}

// NewSparseInput declares a named sparse input with at most nnz active
// features per column.
func (b *Builder) NewSparseInput(id string, shape shapes.Shape, nnz int) V {
	defer b.lock()()
	return V{b: b, node: b.gb.SparseInput(id, shape, nnz)}
}

// NewWeights declares a named trainable weight with its initialization.
func (b *Builder) NewWeights(id string, shape shapes.Shape, init InitSettings) V {
	defer b.lock()()
	node := b.gb.Weights(id, shape)
	b.inits[id] = init
	return V{b: b, node: node}
}

// NewAffine declares a weight/bias pair for a layer mapping inputSize to
// outputSize: "<id>w" drawn from N(0, 1/sqrt(inputSize)) and a zeroed
// "<id>b".
func (b *Builder) NewAffine(id string, inputSize, outputSize int) Affine {
	return b.NewAffineCustom(id, inputSize, outputSize, 1)
}

// NewAffineCustom is NewAffine with biasCols bias columns, for layers
// whose bias varies across column groups of the batch.
func (b *Builder) NewAffineCustom(id string, inputSize, outputSize, biasCols int) Affine {
	stddev := 1.0 / float32(math.Sqrt(float64(inputSize*biasCols)))
	weights := b.NewWeights(id+"w", shapes.Make(outputSize, inputSize), Normal(0, stddev))
	bias := b.NewWeights(id+"b", shapes.Make(outputSize, biasCols), Zeroed())
	return Affine{Weights: weights, Bias: bias}
}

func (b *Builder) apply(op graph.Operation) V {
	return V{b: b, node: b.gb.Apply(op, true)}
}

// Build appends a ReduceAcrossBatch over the current root, validates and
// materializes the graph on the device, and applies the declared weight
// initializations. The builder must not be used afterwards.
func (b *Builder) Build(device backends.Device) (*graph.Graph, error) {
	defer b.lock()()
	b.gb.Apply(graph.ReduceAcrossBatch{X: b.gb.Root()}, true)
	g, err := b.gb.Build(device)
	if err != nil {
		return nil, err
	}
	for id, init := range b.inits {
		t, err := g.Weights(id)
		if err != nil {
			return nil, err
		}
		if err := init.apply(t); err != nil {
			return nil, errors.WithMessagef(err, "initializing weights %q", id)
		}
	}
	b.built = true
	return g, nil
}

// Node returns the underlying graph node.
func (v V) Node() graph.Node { return v.node }

// Reshape views the handle under a different shape of the same size.
func (v V) Reshape(shape shapes.Shape) V {
	node, err := v.node.Reshape(shape)
	if err != nil {
		panic(err)
	}
	v.node = node
	return v
}

// Activate applies an elementwise non-linearity.
func (v V) Activate(act backends.Activation) V {
	return v.b.apply(graph.Activate{X: v.node, Activation: act})
}

// ReLU applies max(x, 0).
func (v V) ReLU() V { return v.Activate(backends.ActivationReLU) }

// CReLU applies min(max(x, 0), 1).
func (v V) CReLU() V { return v.Activate(backends.ActivationCReLU) }

// SCReLU applies min(max(x, 0), 1) squared.
func (v V) SCReLU() V { return v.Activate(backends.ActivationSCReLU) }

// Sigmoid applies 1/(1+exp(-x)).
func (v V) Sigmoid() V { return v.Activate(backends.ActivationSigmoid) }

// Select keeps, per column, the chunk picked by the bucket index.
func (v V) Select(buckets V) V {
	return v.b.apply(graph.Select{X: v.node, Buckets: buckets.node})
}

// Concat stacks v on top of rhs.
func (v V) Concat(rhs V) V {
	return v.b.apply(graph.Concat{A: v.node, B: rhs.node})
}

// LinearComb computes alpha*v + beta*rhs.
func (v V) LinearComb(alpha float32, rhs V, beta float32) V {
	return v.b.apply(graph.LinearCombination{Alpha: alpha, A: v.node, Beta: beta, B: rhs.node})
}

// Add computes v + rhs.
func (v V) Add(rhs V) V { return v.LinearComb(1, rhs, 1) }

// Sub computes v - rhs.
func (v V) Sub(rhs V) V { return v.LinearComb(1, rhs, -1) }

// Matmul computes v * rhs.
func (v V) Matmul(rhs V) V {
	return v.b.apply(graph.Matmul{A: v.node, B: rhs.node})
}

// GEMM computes op(v) * op(rhs) with optional transposes.
func (v V) GEMM(transA bool, rhs V, transB bool) V {
	return v.b.apply(graph.Matmul{A: v.node, TransA: transA, B: rhs.node, TransB: transB})
}

// MPE reduces sum(|v - targets|^power) to a scalar.
func (v V) MPE(targets V, power float32) V {
	return v.b.apply(graph.PowerError{X: v.node, Targets: targets.node, Power: power})
}

// MSE is MPE with power 2.
func (v V) MSE(targets V) V { return v.MPE(targets, 2) }

// PairwiseMul multiplies the top half of each column with its bottom
// half.
func (v V) PairwiseMul() V {
	return v.b.apply(graph.PairwiseMul{X: v.node})
}

// PairwiseMulPostConcat pairs the two concatenated perspective halves
// independently; use it after a dual feature transform.
func (v V) PairwiseMulPostConcat() V {
	return v.b.apply(graph.PairwiseMul{X: v.node, PostConcat: true})
}

// SoftmaxCrossEntropyLoss reduces the cross-entropy between softmax(v)
// and targets to a scalar.
func (v V) SoftmaxCrossEntropyLoss(targets V) V {
	return v.b.apply(graph.SoftmaxCrossEntropyLoss{Logits: v.node, Targets: targets.node})
}

// SliceRows keeps rows [start, end) of every column.
func (v V) SliceRows(start, end int) V {
	return v.b.apply(graph.Slice{X: v.node, Start: start, End: end})
}

// ToDense expands a sparse handle into dense 0/1 values.
func (v V) ToDense() V {
	return v.b.apply(graph.ToDense{X: v.node})
}

// Affine is a named weight/bias pair declared with NewAffine.
type Affine struct {
	Weights, Bias V
}

// Forward applies the layer to a dense or sparse input.
func (a Affine) Forward(input V) V {
	if input.node.IsSparse() {
		bias := a.Bias.node
		return input.b.apply(graph.SparseAffine{W: a.Weights.node, X: input.node, Bias: &bias})
	}
	return input.b.apply(graph.Affine{W: a.Weights.node, X: input.node, Bias: a.Bias.node})
}

// ForwardSparseDualActivate applies the layer to both perspectives of a
// sparse feature pair and stacks the activated halves (stm on top).
func (a Affine) ForwardSparseDualActivate(stm, ntm V, act backends.Activation) V {
	return stm.b.apply(graph.SparseAffineDualActivate{
		W:          a.Weights.node,
		STM:        stm.node,
		NTM:        ntm.node,
		Bias:       a.Bias.node,
		Activation: act,
	})
}
