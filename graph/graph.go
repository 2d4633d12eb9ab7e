// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	"github.com/cairnml/cairn/backends"
)

// Graph is the immutable result of Builder.Build: one device tensor per
// arena slot, the single scalar root, and the name->Node maps for inputs
// and weights. The topology never changes after build; only the tensor
// contents do, driven by Forward, Backward and the optimiser.
type Graph struct {
	device  backends.Device
	tensors []*Tensor
	ops     []Operation // nil entries for leaf inputs and weights
	root    Node
	inputs  map[string]Node
	weights map[string]Node
}

// Device returns the shared device handle every tensor of the graph
// lives on.
func (g *Graph) Device() backends.Device { return g.device }

// Root returns the graph's single scalar output node.
func (g *Graph) Root() Node { return g.root }

// Tensor returns the storage of the given node. The node must come from
// the builder this graph was built from.
func (g *Graph) Tensor(node Node) *Tensor {
	return g.tensors[node.id]
}

// Weights returns the tensor of the named weight, or an error for an
// unknown identifier.
func (g *Graph) Weights(id string) (*Tensor, error) {
	node, found := g.weights[id]
	if !found {
		return nil, errors.Errorf("graph has no weights named %q", id)
	}
	return g.tensors[node.id], nil
}

// Input returns the tensor of the named input, or an error for an
// unknown identifier.
func (g *Graph) Input(id string) (*Tensor, error) {
	node, found := g.inputs[id]
	if !found {
		return nil, errors.Errorf("graph has no input named %q", id)
	}
	return g.tensors[node.id], nil
}

// WeightIDs returns the registered weight identifiers, sorted.
func (g *Graph) WeightIDs() []string {
	ids := maps.Keys(g.weights)
	sort.Strings(ids)
	return ids
}

// InputIDs returns the registered input identifiers, sorted.
func (g *Graph) InputIDs() []string {
	ids := maps.Keys(g.inputs)
	sort.Strings(ids)
	return ids
}

// Loss reads the scalar value of the root node, after a Forward pass.
func (g *Graph) Loss() (float32, error) {
	out := make([]float32, 1)
	if err := g.device.ReadFloats(g.tensors[g.root.id].values.buf, out); err != nil {
		return 0, errors.WithMessage(err, "reading graph root")
	}
	return out[0], nil
}
