// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the (rows, cols) descriptor used by every
// node of a computation graph and by the device buffers backing them.
//
// Values are stored column-major on the device: element (r, c) of a buffer
// with shape (R, C) lives at offset c*R + r. The column count doubles as
// the batch dimension for inputs and activations; weights keep their
// natural column count and are never batched.
package shapes

import (
	"fmt"

	"github.com/gomlx/exceptions"
)

// Shape describes a dense or sparse 2-dimensional quantity.
//
// Use Make to create one: the zero Shape is invalid, and a materialized
// node never has size zero.
type Shape struct {
	Rows, Cols int
}

// Make returns the Shape for the given dimensions.
// It panics if either dimension is not positive.
func Make(rows, cols int) Shape {
	if rows <= 0 || cols <= 0 {
		exceptions.Panicf("shapes.Make(%d, %d): dimensions must be positive", rows, cols)
	}
	return Shape{Rows: rows, Cols: cols}
}

// Scalar returns the 1x1 shape, the shape of every loss output.
func Scalar() Shape { return Shape{Rows: 1, Cols: 1} }

// Size returns the number of elements, rows*cols.
func (s Shape) Size() int { return s.Rows * s.Cols }

// IsScalar reports whether the shape is exactly 1x1.
func (s Shape) IsScalar() bool { return s.Rows == 1 && s.Cols == 1 }

// Eq reports whether both dimensions match.
func (s Shape) Eq(o Shape) bool { return s == o }

// Transposed returns the shape with rows and cols swapped.
func (s Shape) Transposed() Shape { return Shape{Rows: s.Cols, Cols: s.Rows} }

// Maybe returns s or its transpose, depending on the flag. It is a
// convenience for operations taking transposition flags, like Matmul.
func (s Shape) Maybe(transposed bool) Shape {
	if transposed {
		return s.Transposed()
	}
	return s
}

// String implements fmt.Stringer, printing "RxC".
func (s Shape) String() string { return fmt.Sprintf("%dx%d", s.Rows, s.Cols) }
