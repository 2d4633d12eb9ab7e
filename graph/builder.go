// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/cairnml/cairn/backends"
	"github.com/cairnml/cairn/types/shapes"
)

// DuplicateIDError is thrown (panicked) when an input or weight
// identifier is registered twice on the same builder.
type DuplicateIDError struct {
	ID string
}

// Error implements the error interface.
func (e *DuplicateIDError) Error() string {
	return "identifier " + e.ID + " already registered with this builder"
}

// Builder is the mutable construction-time authority over a graph: it
// owns the node arena, tracks which nodes still have no consumer (the
// root set) and which identifiers are taken, and performs the build-time
// validation that turns it into an executable Graph.
//
// A Builder is not safe for concurrent use. Every method grabs the
// builder's single mutex with TryLock and panics if it is already held:
// overlapping calls are a usage error and fail fast instead of
// deadlocking. Callers that share a builder must serialize access
// externally.
type Builder struct {
	mu      sync.Mutex
	nodes   []*nodeData
	roots   map[NodeId]Node
	inputs  map[string]Node
	weights map[string]Node
	ids     map[string]struct{}
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		roots:   make(map[NodeId]Node),
		inputs:  make(map[string]Node),
		weights: make(map[string]Node),
		ids:     make(map[string]struct{}),
	}
}

func (b *Builder) lock() func() {
	if !b.mu.TryLock() {
		exceptions.Panicf("graph.Builder: overlapping method calls on one builder; serialize access externally")
	}
	return b.mu.Unlock
}

// newNode validates the identifier, inserts the arena record and updates
// the root set. All checks happen before any state changes: a failed
// insertion leaves the builder exactly as it was.
func (b *Builder) newNode(id string, op Operation, shape shapes.Shape, requiresGrad, weight bool, maxActive int) Node {
	if id != "" {
		if _, taken := b.ids[id]; taken {
			panic(&DuplicateIDError{ID: id})
		}
	}
	node := Node{id: NodeId(len(b.nodes)), shape: shape, maxActive: maxActive}
	if op != nil {
		// The operands now have a consumer; they can never become roots again.
		for _, operand := range op.Operands() {
			delete(b.roots, operand.id)
		}
	}
	if id != "" {
		b.ids[id] = struct{}{}
	}
	b.nodes = append(b.nodes, &nodeData{
		id:           id,
		size:         shape.Size(),
		requiresGrad: requiresGrad,
		weight:       weight,
		op:           op,
		own:          node,
	})
	b.roots[node.id] = node
	return node
}

// DenseInput allocates a named leaf node fed fresh dense data each batch.
// It panics on a duplicate identifier.
func (b *Builder) DenseInput(id string, shape shapes.Shape) Node {
	defer b.lock()()
	if id == "" {
		exceptions.Panicf("graph.Builder.DenseInput: identifier must not be empty")
	}
	node := b.newNode(id, nil, shape, false, false, 0)
	b.inputs[id] = node
	return node
}

// SparseInput allocates a named leaf node fed sparse one-hot indices,
// at most nnz per column. It panics on nnz < 1 or a duplicate identifier.
func (b *Builder) SparseInput(id string, shape shapes.Shape, nnz int) Node {
	defer b.lock()()
	if id == "" {
		exceptions.Panicf("graph.Builder.SparseInput: identifier must not be empty")
	}
	if nnz <= 0 {
		exceptions.Panicf("graph.Builder.SparseInput(%q): nnz must be positive, got %d", id, nnz)
	}
	node := b.newNode(id, nil, shape, false, false, nnz)
	b.inputs[id] = node
	return node
}

// Weights allocates a named trainable leaf node. It panics on a
// duplicate identifier.
func (b *Builder) Weights(id string, shape shapes.Shape) Node {
	defer b.lock()()
	if id == "" {
		exceptions.Panicf("graph.Builder.Weights: identifier must not be empty")
	}
	node := b.newNode(id, nil, shape, true, true, 0)
	b.weights[id] = node
	return node
}

// Apply validates the operation's shape rule and, on success, inserts the
// derived node: every operand leaves the root set, the new node joins it.
// A shape-rule failure panics with the *ShapeError and inserts nothing.
func (b *Builder) Apply(op Operation, requiresGrad bool) Node {
	defer b.lock()()
	shape, err := op.OutputShape()
	if err != nil {
		panic(errors.WithMessagef(err, "graph.Builder.Apply(%s)", op))
	}
	return b.newNode("", op, shape, requiresGrad, false, 0)
}

// NumNodes returns the number of nodes inserted so far.
func (b *Builder) NumNodes() int {
	defer b.lock()()
	return len(b.nodes)
}

// Roots returns the current root set: every node without a consumer, in
// arena order.
func (b *Builder) Roots() []Node {
	defer b.lock()()
	roots := make([]Node, 0, len(b.roots))
	for _, nd := range b.nodes {
		if _, isRoot := b.roots[nd.own.id]; isRoot {
			roots = append(roots, nd.own)
		}
	}
	return roots
}

// Root returns the unique node without a consumer. A graph must reduce to
// a single terminal node before it can be queried or built; calling Root
// with zero or several roots remaining is a programming error and panics.
func (b *Builder) Root() Node {
	defer b.lock()()
	return b.singleRoot()
}

func (b *Builder) singleRoot() Node {
	if len(b.roots) != 1 {
		exceptions.Panicf("graph must have a single output, found %d roots", len(b.roots))
	}
	for _, node := range b.roots {
		return node
	}
	panic("unreachable")
}

// Build is the final validation gate. The graph must have exactly one
// root; that root must require gradients, must not itself be a registered
// weight, and must be scalar (1x1). Violations are authorship bugs and
// panic. On success it allocates one device tensor per arena slot --
// allocation failures are returned, not panicked -- and bundles the
// result into an immutable Graph.
//
// The builder must not be used after a successful Build.
func (b *Builder) Build(device backends.Device) (*Graph, error) {
	defer b.lock()()
	root := b.singleRoot()
	data := b.nodes[root.id]
	if !data.requiresGrad {
		exceptions.Panicf("graph output cannot be an input (node %s does not require gradients)", root)
	}
	if data.weight {
		exceptions.Panicf("graph output cannot be a trainable weight (%q)", data.id)
	}
	if !root.shape.IsScalar() || data.size != 1 {
		exceptions.Panicf("graph output must be a 1x1 scalar, got %s", root.shape)
	}

	tensors := make([]*Tensor, len(b.nodes))
	ops := make([]Operation, len(b.nodes))
	var bytes uint64
	for i, nd := range b.nodes {
		t, err := newTensor(device, nd)
		if err != nil {
			return nil, errors.WithMessagef(err, "allocating tensor for %s", nd.own)
		}
		tensors[i] = t
		ops[i] = nd.op
		bytes += uint64(4 * nd.size)
	}

	inputs := make(map[string]Node, len(b.inputs))
	for id, node := range b.inputs {
		inputs[id] = node
	}
	weights := make(map[string]Node, len(b.weights))
	for id, node := range b.weights {
		weights[id] = node
	}
	klog.V(1).Infof("built graph: %d nodes (%d weights, %d inputs), %s on %s",
		len(tensors), len(weights), len(inputs), humanize.IBytes(bytes), device.Name())
	return &Graph{
		device:  device,
		tensors: tensors,
		ops:     ops,
		root:    root,
		inputs:  inputs,
		weights: weights,
	}, nil
}
