// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

// Package export serializes trained weights for inference engines:
// per-weight quantisation targets, little-endian layout.
package export

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// QuantTarget selects the on-disk representation of one weight buffer.
// The integer targets scale by a quantisation factor and truncate toward
// zero; a value that doesn't fit the target width is an error, never a
// saturated or wrapped write.
type QuantTarget struct {
	kind   quantKind
	factor int32
}

type quantKind int

const (
	quantF32 quantKind = iota
	quantF16
	quantI8
	quantI16
	quantI32
)

// Float32 stores raw float32 values.
func Float32() QuantTarget { return QuantTarget{kind: quantF32} }

// Float16 stores IEEE half-precision values (nearest-even rounding).
func Float16() QuantTarget { return QuantTarget{kind: quantF16} }

// Int8 stores round-toward-zero q*value as int8. q is commonly larger
// than 127 with weights clipped well inside [-1, 1].
func Int8(q int16) QuantTarget { return QuantTarget{kind: quantI8, factor: int32(q)} }

// Int16 stores round-toward-zero q*value as int16.
func Int16(q int16) QuantTarget { return QuantTarget{kind: quantI16, factor: int32(q)} }

// Int32 stores round-toward-zero q*value as int32.
func Int32(q int32) QuantTarget { return QuantTarget{kind: quantI32, factor: q} }

// String implements fmt.Stringer.
func (t QuantTarget) String() string {
	switch t.kind {
	case quantF32:
		return "float32"
	case quantF16:
		return "float16"
	case quantI8:
		return fmt.Sprintf("int8(q=%d)", t.factor)
	case quantI16:
		return fmt.Sprintf("int16(q=%d)", t.factor)
	case quantI32:
		return fmt.Sprintf("int32(q=%d)", t.factor)
	}
	return "invalid"
}

// QuantError reports a value the target cannot represent exactly after
// scaling and truncation.
type QuantError struct {
	Target QuantTarget
	Index  int
	Value  float32
}

// Error implements the error interface.
func (e *QuantError) Error() string {
	return fmt.Sprintf("value %g at index %d does not fit quantisation target %s", e.Value, e.Index, e.Target)
}

// Quantise appends the encoded buffer to dst and returns it.
func (t QuantTarget) Quantise(dst []byte, buf []float32) ([]byte, error) {
	for i, v := range buf {
		switch t.kind {
		case quantF32:
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
		case quantF16:
			dst = binary.LittleEndian.AppendUint16(dst, float16.Fromfloat32(v).Bits())
		default:
			qf := math.Trunc(float64(t.factor) * float64(v))
			var lo, hi float64
			switch t.kind {
			case quantI8:
				lo, hi = math.MinInt8, math.MaxInt8
			case quantI16:
				lo, hi = math.MinInt16, math.MaxInt16
			case quantI32:
				lo, hi = math.MinInt32, math.MaxInt32
			}
			// The bounds check also rejects NaN.
			if !(qf >= lo && qf <= hi) {
				return nil, &QuantError{Target: t, Index: i, Value: v}
			}
			x := int64(qf)
			switch t.kind {
			case quantI8:
				dst = append(dst, byte(int8(x)))
			case quantI16:
				dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(x)))
			case quantI32:
				dst = binary.LittleEndian.AppendUint32(dst, uint32(int32(x)))
			}
		}
	}
	return dst, nil
}
