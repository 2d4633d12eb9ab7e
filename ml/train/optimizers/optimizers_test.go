package optimizers_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairnml/cairn/backends"
	_ "github.com/cairnml/cairn/backends/simplego"
	"github.com/cairnml/cairn/graph"
	"github.com/cairnml/cairn/ml/train/optimizers"
	"github.com/cairnml/cairn/types/shapes"
)

func newDevice(t *testing.T) backends.Device {
	device, err := backends.New("simplego", "")
	require.NoError(t, err)
	return device
}

func newDense(t *testing.T, device backends.Device, values []float32) *graph.Dense {
	d, err := graph.NewDense(device, len(values))
	require.NoError(t, err)
	require.NoError(t, d.Load(values))
	return d
}

func TestAdamFirstStep(t *testing.T) {
	device := newDevice(t)
	weight := newDense(t, device, []float32{1, 1})
	grad := newDense(t, device, []float32{1, -2})

	st, err := optimizers.Adam().New(device, 2)
	require.NoError(t, err)
	require.NoError(t, st.Update(weight, grad, 1.0, 0.1))

	// After one bias-corrected step the update direction is sign(grad)
	// and its magnitude the full learning rate.
	got, err := weight.Read()
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got[0], 1e-5)
	assert.InDelta(t, 1.1, got[1], 1e-5)
}

func TestAdamSizeMismatch(t *testing.T) {
	device := newDevice(t)
	weight := newDense(t, device, []float32{1, 2, 3})
	grad := newDense(t, device, []float32{1, 2, 3})

	st, err := optimizers.Adam().New(device, 2)
	require.NoError(t, err)
	err = exceptions.TryCatch[error](func() {
		_ = st.Update(weight, grad, 1.0, 0.1)
	})
	require.Error(t, err)

	// The failed precondition must not have touched the moments.
	for _, aux := range st.Aux() {
		values, err := aux.Values.Read()
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 0}, values)
	}
}

func TestAdamRejectsBatchedBuffers(t *testing.T) {
	device := newDevice(t)

	// Input tensors carry their column count as batch; weights don't.
	b := graph.NewBuilder()
	w := b.Weights("w", shapes.Make(1, 2))
	x := b.DenseInput("x", shapes.Make(2, 1))
	b.Apply(graph.Matmul{A: w, B: x}, true)
	g, err := b.Build(device)
	require.NoError(t, err)

	wt, err := g.Weights("w")
	require.NoError(t, err)
	xt, err := g.Input("x")
	require.NoError(t, err)

	st, err := optimizers.Adam().New(device, 2)
	require.NoError(t, err)
	err = exceptions.TryCatch[error](func() {
		_ = st.Update(wt.Values(), xt.Values(), 1.0, 0.1)
	})
	require.Error(t, err)
}

func TestAdamReset(t *testing.T) {
	device := newDevice(t)
	weight := newDense(t, device, []float32{1})
	grad := newDense(t, device, []float32{5})

	st, err := optimizers.Adam().Betas(0.5, 0.5).New(device, 1)
	require.NoError(t, err)
	require.NoError(t, st.Update(weight, grad, 1.0, 0.1))

	momentum, err := st.Aux()[0].Values.Read()
	require.NoError(t, err)
	require.NotEqual(t, float32(0), momentum[0])

	require.NoError(t, st.Reset())
	for _, aux := range st.Aux() {
		values, err := aux.Values.Read()
		require.NoError(t, err)
		assert.Equal(t, []float32{0}, values)
	}
}

func newCollection(t *testing.T, device backends.Device, sizes map[string]int) map[string]optimizers.State[optimizers.AdamParams] {
	states := make(map[string]optimizers.State[optimizers.AdamParams])
	for name, size := range sizes {
		st, err := optimizers.Adam().New(device, size)
		require.NoError(t, err)
		states[name] = st
	}
	return states
}

func TestCheckpointRoundTrip(t *testing.T) {
	device := newDevice(t)
	states := newCollection(t, device, map[string]int{"l0w": 3, "l0b": 2})
	require.NoError(t, states["l0w"].Aux()[0].Values.Load([]float32{1, 2, 3}))
	require.NoError(t, states["l0w"].Aux()[1].Values.Load([]float32{4, 5, 6}))
	require.NoError(t, states["l0b"].Aux()[0].Values.Load([]float32{-1, -2}))
	require.NoError(t, states["l0b"].Aux()[1].Values.Load([]float32{0.25, 0.125}))

	dir := t.TempDir()
	require.NoError(t, optimizers.SaveCheckpoint(states, dir))
	for _, file := range []string{"momentum.bin", "velocity.bin", "manifest.json"} {
		_, err := os.Stat(filepath.Join(dir, file))
		require.NoError(t, err)
	}

	restored := newCollection(t, device, map[string]int{"l0w": 3, "l0b": 2})
	require.NoError(t, optimizers.LoadCheckpoint(restored, dir, false))

	for name, st := range states {
		for i, aux := range st.Aux() {
			want, err := aux.Values.Read()
			require.NoError(t, err)
			got, err := restored[name].Aux()[i].Values.Read()
			require.NoError(t, err)
			assert.Equal(t, want, got, "state %q kind %q", name, aux.Kind)
		}
	}
}

func TestCheckpointNameMismatch(t *testing.T) {
	device := newDevice(t)
	states := newCollection(t, device, map[string]int{"a": 2, "b": 2})
	dir := t.TempDir()
	require.NoError(t, optimizers.SaveCheckpoint(states, dir))

	renamed := newCollection(t, device, map[string]int{"a": 2, "c": 2})
	require.Error(t, optimizers.LoadCheckpoint(renamed, dir, false))

	missing := newCollection(t, device, map[string]int{"a": 2})
	require.Error(t, optimizers.LoadCheckpoint(missing, dir, false))
}

func TestLegacyCheckpoint(t *testing.T) {
	device := newDevice(t)
	dir := t.TempDir()

	// Headerless layout: raw float32 buffers concatenated in sorted-name
	// order ("a" then "b").
	write := func(file string, values []float32) {
		f, err := os.Create(filepath.Join(dir, file))
		require.NoError(t, err)
		require.NoError(t, binary.Write(f, binary.LittleEndian, values))
		require.NoError(t, f.Close())
	}
	write("momentum.bin", []float32{1, 2, 10, 20, 30})
	write("velocity.bin", []float32{3, 4, 40, 50, 60})

	states := newCollection(t, device, map[string]int{"a": 2, "b": 3})
	require.NoError(t, optimizers.LoadCheckpoint(states, dir, true))

	momentum, err := states["b"].Aux()[0].Values.Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{10, 20, 30}, momentum)
	velocity, err := states["a"].Aux()[1].Values.Read()
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, velocity)
}

func TestSchedules(t *testing.T) {
	lr := optimizers.StepLR{Start: 1, Gamma: 0.5, Step: 10}
	assert.InDelta(t, 1.0, lr.At(0), 1e-6)
	assert.InDelta(t, 1.0, lr.At(9), 1e-6)
	assert.InDelta(t, 0.5, lr.At(10), 1e-6)
	assert.InDelta(t, 0.25, lr.At(25), 1e-6)

	cos := optimizers.CosineDecayLR{Start: 1, Final: 0.1, FinalSuperbatch: 100}
	assert.InDelta(t, 1.0, cos.At(0), 1e-6)
	assert.InDelta(t, 0.55, cos.At(50), 1e-6)
	assert.InDelta(t, 0.1, cos.At(100), 1e-6)
	assert.InDelta(t, 0.1, cos.At(1000), 1e-6)

	wdl := optimizers.LinearWDL{Start: 0.2, Final: 0.6, FinalSuperbatch: 4}
	assert.InDelta(t, 0.2, wdl.At(0), 1e-6)
	assert.InDelta(t, 0.4, wdl.At(2), 1e-6)
	assert.InDelta(t, 0.6, wdl.At(4), 1e-6)

	assert.InDelta(t, 0.3, optimizers.ConstantLR{Value: 0.3}.At(123), 1e-6)
	assert.InDelta(t, 0.5, optimizers.ConstantWDL{Value: 0.5}.At(7), 1e-6)
}
