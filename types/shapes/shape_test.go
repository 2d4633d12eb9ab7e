package shapes

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMake(t *testing.T) {
	s := Make(5, 32)
	assert.Equal(t, 5, s.Rows)
	assert.Equal(t, 32, s.Cols)
	assert.Equal(t, 160, s.Size())
	assert.Equal(t, "5x32", s.String())
	assert.False(t, s.IsScalar())

	require.NotNil(t, exceptions.Try(func() { Make(0, 3) }))
	require.NotNil(t, exceptions.Try(func() { Make(3, -1) }))
}

func TestScalar(t *testing.T) {
	s := Scalar()
	assert.True(t, s.IsScalar())
	assert.Equal(t, 1, s.Size())
}

func TestTransposed(t *testing.T) {
	s := Make(2, 7)
	assert.Equal(t, Make(7, 2), s.Transposed())
	assert.Equal(t, s, s.Maybe(false))
	assert.Equal(t, s.Transposed(), s.Maybe(true))
	assert.True(t, s.Eq(Make(2, 7)))
	assert.False(t, s.Eq(s.Transposed()))
}
