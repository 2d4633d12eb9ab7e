package export_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/cairnml/cairn/backends"
	_ "github.com/cairnml/cairn/backends/simplego"
	"github.com/cairnml/cairn/graph"
	"github.com/cairnml/cairn/ml/export"
	"github.com/cairnml/cairn/types/shapes"
)

func TestQuantiseInt16RoundTrip(t *testing.T) {
	const q = 255
	values := []float32{0, 1, -1, 0.5, -0.25, 100, -128.4}

	encoded, err := export.Int16(q).Quantise(nil, values)
	require.NoError(t, err)
	require.Len(t, encoded, 2*len(values))

	for i, v := range values {
		raw := int16(binary.LittleEndian.Uint16(encoded[2*i:]))
		// Truncation toward zero, then exact division recovers the
		// value within the quantisation resolution.
		assert.Equal(t, int16(math.Trunc(float64(v)*q)), raw, "value %g", v)
		assert.InDelta(t, v, float64(raw)/q, 1.0/q)
	}
}

func TestQuantiseOverflowFails(t *testing.T) {
	// 300*128 overflows int16; must error, not wrap or saturate.
	_, err := export.Int16(300).Quantise(nil, []float32{128})
	require.Error(t, err)
	var qe *export.QuantError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 0, qe.Index)

	_, err = export.Int8(128).Quantise(nil, []float32{1.5})
	require.Error(t, err)

	// The same value fits the wider target.
	_, err = export.Int32(128).Quantise(nil, []float32{1.5})
	require.NoError(t, err)
}

func TestQuantiseInt8Boundaries(t *testing.T) {
	encoded, err := export.Int8(64).Quantise(nil, []float32{1.984375, -2})
	require.NoError(t, err)
	assert.Equal(t, []byte{127, 0x80}, encoded)

	_, err = export.Int8(64).Quantise(nil, []float32{2.01})
	require.Error(t, err)
}

func TestQuantiseFloats(t *testing.T) {
	values := []float32{1.5, -0.125, 3.25}

	encoded, err := export.Float32().Quantise(nil, values)
	require.NoError(t, err)
	for i, v := range values {
		bits := binary.LittleEndian.Uint32(encoded[4*i:])
		assert.Equal(t, v, math.Float32frombits(bits))
	}

	encoded, err = export.Float16().Quantise(nil, values)
	require.NoError(t, err)
	for i, v := range values {
		bits := binary.LittleEndian.Uint16(encoded[2*i:])
		assert.Equal(t, v, float16.Frombits(bits).Float32())
	}
}

func TestExportLayout(t *testing.T) {
	device, err := backends.New("simplego", "")
	require.NoError(t, err)

	b := graph.NewBuilder()
	w := b.Weights("w", shapes.Make(1, 2))
	bias := b.Weights("bias", shapes.Make(1, 1))
	x := b.DenseInput("x", shapes.Make(2, 1))
	affine := b.Apply(graph.Affine{W: w, X: x, Bias: bias}, true)
	target := b.DenseInput("t", shapes.Make(1, 1))
	b.Apply(graph.PowerError{X: affine, Targets: target, Power: 2}, true)

	g, err := b.Build(device)
	require.NoError(t, err)
	wt, err := g.Weights("w")
	require.NoError(t, err)
	require.NoError(t, wt.Values().Load([]float32{0.5, -1}))
	bt, err := g.Weights("bias")
	require.NoError(t, err)
	require.NoError(t, bt.Values().Load([]float32{0.25}))

	var buf bytes.Buffer
	layout := export.Layout{
		{ID: "w", Target: export.Int16(64)},
		{ID: "bias", Target: export.Float32()},
	}
	require.NoError(t, export.Export(g, layout, &buf))

	encoded := buf.Bytes()
	require.Len(t, encoded, 2*2+4)
	assert.Equal(t, int16(32), int16(binary.LittleEndian.Uint16(encoded[0:])))
	assert.Equal(t, int16(-64), int16(binary.LittleEndian.Uint16(encoded[2:])))
	assert.Equal(t, float32(0.25), math.Float32frombits(binary.LittleEndian.Uint32(encoded[4:])))

	// Unknown ids fail.
	require.Error(t, export.Export(g, export.Layout{{ID: "nope", Target: export.Float32()}}, &buf))
}
