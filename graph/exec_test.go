package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairnml/cairn/backends"
	_ "github.com/cairnml/cairn/backends/simplego"
	"github.com/cairnml/cairn/graph"
	"github.com/cairnml/cairn/types/shapes"
)

func TestForwardBackwardMatmulChain(t *testing.T) {
	b := graph.NewBuilder()
	w := b.Weights("w", shapes.Make(1, 4))
	x := b.DenseInput("x", shapes.Make(4, 1))
	y := b.Apply(graph.Matmul{A: w, B: x}, true)
	target := b.DenseInput("target", shapes.Make(1, 1))
	pe := b.Apply(graph.PowerError{X: y, Targets: target, Power: 2}, true)
	b.Apply(graph.ReduceAcrossBatch{X: pe}, true)

	g, err := b.Build(newDevice(t))
	require.NoError(t, err)

	wt, err := g.Weights("w")
	require.NoError(t, err)
	require.NoError(t, wt.Values().Load([]float32{1, 2, 3, 4}))
	xt, err := g.Input("x")
	require.NoError(t, err)
	require.NoError(t, xt.Values().Load([]float32{1, 1, 1, 1}))
	tt, err := g.Input("target")
	require.NoError(t, err)
	require.NoError(t, tt.Values().Load([]float32{6}))

	require.NoError(t, g.Forward())
	loss, err := g.Loss()
	require.NoError(t, err)
	// y = 1+2+3+4 = 10, loss = (10-6)^2.
	assert.InDelta(t, 16.0, loss, 1e-6)

	require.NoError(t, g.Backward())
	// dLoss/dy = 2*(10-6) = 8, dW = dy * x^T.
	grad, err := wt.Grad().Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{8, 8, 8, 8}, grad)

	// Inputs never carry gradients.
	require.Nil(t, xt.Grad())
}

func TestForwardSparseAffine(t *testing.T) {
	b := graph.NewBuilder()
	w := b.Weights("w", shapes.Make(2, 4))
	bias := b.Weights("b", shapes.Make(2, 1))
	x := b.SparseInput("x", shapes.Make(4, 2), 2)
	sa := b.Apply(graph.SparseAffine{W: w, X: x, Bias: &bias}, true)
	b.Apply(graph.ReduceAcrossBatch{X: sa}, true)

	g, err := b.Build(newDevice(t))
	require.NoError(t, err)

	wt, err := g.Weights("w")
	require.NoError(t, err)
	require.NoError(t, wt.Values().Load([]float32{1, 2, 3, 4, 5, 6, 7, 8}))
	bt, err := g.Weights("b")
	require.NoError(t, err)
	require.NoError(t, bt.Values().Load([]float32{0.5, -0.5}))
	xt, err := g.Input("x")
	require.NoError(t, err)
	// Column 0 activates features 0 and 2, column 1 only feature 1.
	require.NoError(t, xt.LoadIndices([]int32{0, 2, 1, -1}))

	require.NoError(t, g.Forward())
	out, err := g.Tensor(sa).Values().Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{6.5, 7.5, 3.5, 3.5}, out)

	loss, err := g.Loss()
	require.NoError(t, err)
	assert.InDelta(t, 21.0, loss, 1e-6)

	require.NoError(t, g.Backward())
	wGrad, err := wt.Grad().Read()
	require.NoError(t, err)
	// dOut is all ones, so each active feature column collects [1, 1].
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1, 0, 0}, wGrad)
	bGrad, err := bt.Grad().Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 2}, bGrad)
}

func TestForwardActivationAndConcat(t *testing.T) {
	b := graph.NewBuilder()
	x := b.DenseInput("x", shapes.Make(2, 1))
	w := b.Weights("w", shapes.Make(2, 2))
	bias := b.Weights("bias", shapes.Make(2, 1))
	h := b.Apply(graph.Affine{W: w, X: x, Bias: bias}, true)
	relu := b.Apply(graph.Activate{X: h, Activation: backends.ActivationReLU}, true)
	cat := b.Apply(graph.Concat{A: relu, B: h}, true)
	b.Apply(graph.ReduceAcrossBatch{X: cat}, true)

	g, err := b.Build(newDevice(t))
	require.NoError(t, err)

	wt, _ := g.Weights("w")
	require.NoError(t, wt.Values().Load([]float32{1, 0, 0, 1})) // identity
	bt, _ := g.Weights("bias")
	require.NoError(t, bt.Values().Load([]float32{0, 0}))
	xt, _ := g.Input("x")
	require.NoError(t, xt.Values().Load([]float32{2, -3}))

	require.NoError(t, g.Forward())
	out, err := g.Tensor(cat).Values().Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 0, 2, -3}, out)

	loss, err := g.Loss()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, loss, 1e-6)

	require.NoError(t, g.Backward())
	// The ReLU branch only passes gradient where its output is positive,
	// the raw branch passes everywhere: dW = dH * x^T with dH = [2, 1].
	wGrad, err := wt.Grad().Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 2, -6, -3}, wGrad)
	bGrad, err := bt.Grad().Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 1}, bGrad)
}
