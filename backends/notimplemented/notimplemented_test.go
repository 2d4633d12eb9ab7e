package notimplemented_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cairnml/cairn/backends"
	"github.com/cairnml/cairn/backends/notimplemented"
	"github.com/cairnml/cairn/types/shapes"
)

func TestEveryCallFails(t *testing.T) {
	var d notimplemented.Device

	_, err := d.AllocateFloats(4)
	require.ErrorIs(t, err, backends.ErrNotImplemented)
	require.ErrorIs(t, d.FillZero(nil), backends.ErrNotImplemented)
	require.ErrorIs(t, d.Matmul(shapes.Make(1, 1), false, nil, shapes.Make(1, 1), false, nil, nil),
		backends.ErrNotImplemented)
	require.ErrorIs(t, d.AdamStep(1, nil, nil, nil, nil, backends.AdamConfig{}),
		backends.ErrNotImplemented)

	// Errors carry the kernel name for diagnostics.
	require.ErrorContains(t, d.FillZero(nil), "FillZero")
}
