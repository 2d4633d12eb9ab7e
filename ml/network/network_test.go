package network_test

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairnml/cairn/backends"
	_ "github.com/cairnml/cairn/backends/simplego"
	"github.com/cairnml/cairn/ml/network"
	"github.com/cairnml/cairn/types/shapes"
)

func newDevice(t *testing.T) backends.Device {
	device, err := backends.New("simplego", "")
	require.NoError(t, err)
	return device
}

func TestBuildPerspectiveNetwork(t *testing.T) {
	const (
		features = 16
		hidden   = 8
		batch    = 4
	)
	b := network.NewBuilder()
	stm := b.NewSparseInput("stm", shapes.Make(features, batch), 2)
	ntm := b.NewSparseInput("ntm", shapes.Make(features, batch), 2)
	targets := b.NewDenseInput("targets", shapes.Make(1, batch))

	l0 := b.NewAffine("l0", features, hidden)
	l1 := b.NewAffine("l1", hidden, 1)

	hiddenOut := l0.ForwardSparseDualActivate(stm, ntm, backends.ActivationSCReLU)
	require.Equal(t, shapes.Make(2*hidden, batch), hiddenOut.Node().Shape())

	reduced := hiddenOut.PairwiseMulPostConcat()
	require.Equal(t, shapes.Make(hidden, batch), reduced.Node().Shape())

	out := l1.Forward(reduced).Sigmoid()
	out.MSE(targets)

	g, err := b.Build(newDevice(t))
	require.NoError(t, err)
	require.Equal(t, shapes.Scalar(), g.Root().Shape())
	require.Equal(t, []string{"l0b", "l0w", "l1b", "l1w"}, g.WeightIDs())

	// Normal-initialized weights are seeded, zeroed biases stay zero.
	wt, err := g.Weights("l0w")
	require.NoError(t, err)
	values, err := wt.Values().Read()
	require.NoError(t, err)
	nonzero := 0
	for _, v := range values {
		if v != 0 {
			nonzero++
		}
	}
	assert.Greater(t, nonzero, 0)

	bt, err := g.Weights("l0b")
	require.NoError(t, err)
	values, err = bt.Values().Read()
	require.NoError(t, err)
	for _, v := range values {
		assert.Zero(t, v)
	}
}

func TestValueHandleChaining(t *testing.T) {
	b := network.NewBuilder()
	x := b.NewDenseInput("x", shapes.Make(4, 2))
	y := b.NewDenseInput("y", shapes.Make(4, 2))
	w := b.NewWeights("w", shapes.Make(2, 4), network.Uniform(0, 0.5))

	sum := x.Add(y)
	require.Equal(t, shapes.Make(4, 2), sum.Node().Shape())
	diff := x.Sub(y)
	out := w.Matmul(sum.Concat(diff).SliceRows(0, 4))
	require.Equal(t, shapes.Make(2, 2), out.Node().Shape())

	targets := b.NewDenseInput("t", shapes.Make(2, 2))
	out.ReLU().MPE(targets, 2.5)

	g, err := b.Build(newDevice(t))
	require.NoError(t, err)
	require.Equal(t, []string{"t", "x", "y"}, g.InputIDs())
}

func TestAffineForwardSparse(t *testing.T) {
	b := network.NewBuilder()
	x := b.NewSparseInput("x", shapes.Make(8, 1), 3)
	l0 := b.NewAffine("l0", 8, 4)
	out := l0.Forward(x)
	require.Equal(t, shapes.Make(4, 1), out.Node().Shape())

	targets := b.NewDenseInput("t", shapes.Make(4, 1))
	out.MSE(targets)
	_, err := b.Build(newDevice(t))
	require.NoError(t, err)
}

func TestBuilderConsumedByBuild(t *testing.T) {
	b := network.NewBuilder()
	x := b.NewDenseInput("x", shapes.Make(1, 1))
	w := b.NewWeights("w", shapes.Make(1, 1), network.Zeroed())
	w.Matmul(x).MSE(x)

	// "x" is consumed twice above, leaving a single root, so Build
	// succeeds; afterwards the builder is spent.
	_, err := b.Build(newDevice(t))
	require.NoError(t, err)
	require.Error(t, exceptions.TryCatch[error](func() {
		b.NewDenseInput("y", shapes.Make(1, 1))
	}))
}
