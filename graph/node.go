// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

// Package graph builds and validates the computation graph used to train
// a scalar-output network.
//
// A Builder owns an arena of node records; user code allocates named
// inputs and weights, applies Operations to produce derived nodes, and
// finally calls Builder.Build to validate the whole graph and materialize
// it on a device. All structural checking -- shape compatibility,
// identifier uniqueness, the single scalar root -- happens here, before
// any numeric kernel ever runs.
//
// Errors come in two tiers. Malformed graphs (duplicate identifier,
// incompatible shapes, multiple roots, non-scalar output) are authorship
// bugs: those panic via github.com/gomlx/exceptions with a typed error
// value, and no partial state is left behind. Resource failures (device
// allocation) are returned as ordinary errors.
package graph

import (
	"fmt"

	"github.com/cairnml/cairn/types/shapes"
)

// NodeId is the index of a node in its builder's arena. Arena slots are
// never reused, so a NodeId is stable for the lifetime of the builder and
// of any graph built from it.
type NodeId int

// InvalidNodeId marks a node handle that doesn't refer to any arena slot.
const InvalidNodeId = NodeId(-1)

// Node is a lightweight handle into a builder's arena: an index plus the
// cached shape and sparsity. It is a plain value -- copy and compare it
// freely -- and never owns data; it is meaningless once its originating
// builder or graph is gone.
type Node struct {
	id        NodeId
	shape     shapes.Shape
	maxActive int
}

// Id returns the arena index of the node.
func (n Node) Id() NodeId { return n.id }

// Shape returns the node's shape.
func (n Node) Shape() shapes.Shape { return n.shape }

// IsSparse reports whether the node holds sparse one-hot indices rather
// than dense values.
func (n Node) IsSparse() bool { return n.maxActive > 0 }

// MaxActive returns the maximum number of nonzero entries per column for
// a sparse node, or 0 for dense nodes.
func (n Node) MaxActive() int { return n.maxActive }

// Reshape returns a handle viewing the same arena slot under a different
// shape of identical size. The arena record is unchanged; only the
// returned handle carries the new shape.
func (n Node) Reshape(shape shapes.Shape) (Node, error) {
	if n.shape.Size() != shape.Size() {
		return Node{id: InvalidNodeId}, mismatchf([]shapes.Shape{n.shape, shape},
			"Reshape: cannot view %s as %s, sizes differ", n.shape, shape)
	}
	n.shape = shape
	return n, nil
}

// String implements fmt.Stringer.
func (n Node) String() string {
	if n.IsSparse() {
		return fmt.Sprintf("node #%d %s (sparse, nnz=%d)", n.id, n.shape, n.maxActive)
	}
	return fmt.Sprintf("node #%d %s", n.id, n.shape)
}

// nodeData is the arena-resident record for one node. It is owned
// exclusively by the Builder; user code only ever sees Node handles.
type nodeData struct {
	id           string // "" for derived nodes
	size         int
	requiresGrad bool
	weight       bool
	op           Operation // nil for leaf inputs and weights
	own          Node
}
