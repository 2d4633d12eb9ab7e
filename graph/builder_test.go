package graph_test

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/require"

	"github.com/cairnml/cairn/backends"
	_ "github.com/cairnml/cairn/backends/simplego"
	"github.com/cairnml/cairn/graph"
	"github.com/cairnml/cairn/types/shapes"
)

func newDevice(t *testing.T) backends.Device {
	device, err := backends.New("simplego", "")
	require.NoError(t, err)
	return device
}

func TestRootSetEvolution(t *testing.T) {
	b := graph.NewBuilder()
	w := b.Weights("w", shapes.Make(2, 4))
	x := b.DenseInput("x", shapes.Make(4, 1))
	require.Equal(t, []graph.Node{w, x}, b.Roots())

	// Consuming w and x removes both from the root set; neither can
	// return to it.
	y := b.Apply(graph.Matmul{A: w, B: x}, true)
	require.Equal(t, []graph.Node{y}, b.Roots())
	require.Equal(t, shapes.Make(2, 1), y.Shape())

	target := b.DenseInput("target", shapes.Make(2, 1))
	require.Equal(t, []graph.Node{y, target}, b.Roots())

	loss := b.Apply(graph.PowerError{X: y, Targets: target, Power: 2}, true)
	require.Equal(t, []graph.Node{loss}, b.Roots())
	require.Equal(t, loss, b.Root())
}

func TestDuplicateIdentifier(t *testing.T) {
	b := graph.NewBuilder()
	b.Weights("w", shapes.Make(1, 4))
	before := b.NumNodes()

	err := exceptions.TryCatch[error](func() { b.Weights("w", shapes.Make(2, 2)) })
	require.Error(t, err)
	var dup *graph.DuplicateIDError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "w", dup.ID)
	require.Equal(t, before, b.NumNodes())

	// Identifiers are unique across inputs and weights alike.
	err = exceptions.TryCatch[error](func() { b.DenseInput("w", shapes.Make(2, 2)) })
	require.Error(t, err)
	require.Equal(t, before, b.NumNodes())
}

func TestShapeMismatchInsertsNothing(t *testing.T) {
	b := graph.NewBuilder()
	w := b.Weights("w", shapes.Make(1, 4))
	x := b.DenseInput("x", shapes.Make(3, 1))
	before := b.NumNodes()

	err := exceptions.TryCatch[error](func() { b.Apply(graph.Matmul{A: w, B: x}, true) })
	require.Error(t, err)
	var se *graph.ShapeError
	require.ErrorAs(t, err, &se)
	require.Equal(t, before, b.NumNodes())
	require.Equal(t, []graph.Node{w, x}, b.Roots())
}

func TestSparseInputValidation(t *testing.T) {
	b := graph.NewBuilder()
	require.Error(t, exceptions.TryCatch[error](func() { b.SparseInput("x", shapes.Make(8, 1), 0) }))
	require.Error(t, exceptions.TryCatch[error](func() { b.SparseInput("", shapes.Make(8, 1), 2) }))
	require.Equal(t, 0, b.NumNodes())

	x := b.SparseInput("x", shapes.Make(8, 1), 2)
	require.True(t, x.IsSparse())
	require.Equal(t, 2, x.MaxActive())
}

func TestRootRequiresSingleTerminal(t *testing.T) {
	b := graph.NewBuilder()
	b.Weights("a", shapes.Make(1, 1))
	b.Weights("b", shapes.Make(1, 1))
	require.Error(t, exceptions.TryCatch[error](func() { b.Root() }))
	require.Error(t, exceptions.TryCatch[error](func() { _, _ = b.Build(newDevice(t)) }))
}

func TestBuildRejectsBadRoots(t *testing.T) {
	device := newDevice(t)

	// Root is a plain input: no gradients to drive training with.
	b := graph.NewBuilder()
	b.DenseInput("x", shapes.Make(1, 1))
	require.Error(t, exceptions.TryCatch[error](func() { _, _ = b.Build(device) }))

	// Root is a registered weight.
	b = graph.NewBuilder()
	b.Weights("w", shapes.Make(1, 1))
	require.Error(t, exceptions.TryCatch[error](func() { _, _ = b.Build(device) }))

	// Root is not scalar.
	b = graph.NewBuilder()
	w := b.Weights("w", shapes.Make(2, 4))
	x := b.DenseInput("x", shapes.Make(4, 1))
	b.Apply(graph.Matmul{A: w, B: x}, true)
	require.Error(t, exceptions.TryCatch[error](func() { _, _ = b.Build(device) }))
}

func TestBuildScalarChain(t *testing.T) {
	b := graph.NewBuilder()
	w := b.Weights("w", shapes.Make(1, 4))
	x := b.DenseInput("x", shapes.Make(4, 1))
	y := b.Apply(graph.Matmul{A: w, B: x}, true)
	require.Equal(t, shapes.Make(1, 1), y.Shape())

	target := b.DenseInput("target", shapes.Make(1, 1))
	pe := b.Apply(graph.PowerError{X: y, Targets: target, Power: 2}, true)
	root := b.Apply(graph.ReduceAcrossBatch{X: pe}, true)

	g, err := b.Build(newDevice(t))
	require.NoError(t, err)
	require.Equal(t, root, g.Root())
	require.Equal(t, shapes.Scalar(), g.Root().Shape())
	require.Equal(t, []string{"w"}, g.WeightIDs())
	require.Equal(t, []string{"target", "x"}, g.InputIDs())

	wt, err := g.Weights("w")
	require.NoError(t, err)
	require.NotNil(t, wt.Grad())
	require.Equal(t, 0, wt.Values().BatchSize())

	_, err = g.Weights("nope")
	require.Error(t, err)
	_, err = g.Input("nope")
	require.Error(t, err)
}

func TestReshape(t *testing.T) {
	b := graph.NewBuilder()
	x := b.DenseInput("x", shapes.Make(4, 2))

	v, err := x.Reshape(shapes.Make(8, 1))
	require.NoError(t, err)
	require.Equal(t, x.Id(), v.Id())
	require.Equal(t, shapes.Make(8, 1), v.Shape())

	_, err = x.Reshape(shapes.Make(3, 3))
	require.Error(t, err)
	var se *graph.ShapeError
	require.ErrorAs(t, err, &se)
}
