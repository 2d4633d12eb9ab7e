// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"

	"github.com/cairnml/cairn/backends"
	"github.com/cairnml/cairn/types/shapes"
)

// Backward kernels accumulate into the operand gradient buffers: a node
// consumed by several operations collects contributions from each. The
// graph layer zeroes gradients before a backward pass.

// MatmulBackward implements backends.Kernels.
func (d *Device) MatmulBackward(aShape shapes.Shape, transA bool, a, aGrad backends.Buffer, bShape shapes.Shape, transB bool, b, bGrad, outGrad backends.Buffer) error {
	av, err := d.floats(a, "MatmulBackward a")
	if err != nil {
		return err
	}
	bv, err := d.floats(b, "MatmulBackward b")
	if err != nil {
		return err
	}
	agv, err := d.floats(aGrad, "MatmulBackward aGrad")
	if err != nil {
		return err
	}
	bgv, err := d.floats(bGrad, "MatmulBackward bGrad")
	if err != nil {
		return err
	}
	ogv, err := d.floats(outGrad, "MatmulBackward outGrad")
	if err != nil {
		return err
	}
	outShape := shapes.Shape{Rows: aShape.Maybe(transA).Rows, Cols: bShape.Maybe(transB).Cols}
	if agv != nil {
		if !transA {
			// dA = dOut * op(B)^T
			gemm(outShape, false, ogv, bShape, !transB, bv, agv, true)
		} else {
			// dA (as stored) = op(B) * dOut^T
			gemm(bShape, transB, bv, outShape, true, ogv, agv, true)
		}
	}
	if bgv != nil {
		if !transB {
			// dB = op(A)^T * dOut
			gemm(aShape, !transA, av, outShape, false, ogv, bgv, true)
		} else {
			// dB (as stored) = dOut^T * op(A)
			gemm(outShape, true, ogv, aShape, transA, av, bgv, true)
		}
	}
	return nil
}

// accumulateBiasGrad folds the output gradient columns into the bias
// gradient, reversing the broadcast done by addBias.
func accumulateBiasGrad(biasGrad []float32, rows, cols, biasCols int, outGrad []float32) {
	for c := 0; c < cols; c++ {
		bcol := biasGrad[(c%biasCols)*rows : (c%biasCols+1)*rows]
		col := outGrad[c*rows : (c+1)*rows]
		for r := range bcol {
			bcol[r] += col[r]
		}
	}
}

// AffineBackward implements backends.Kernels.
func (d *Device) AffineBackward(wShape shapes.Shape, w, wGrad backends.Buffer, xShape shapes.Shape, x, xGrad backends.Buffer, biasShape shapes.Shape, biasGrad, outGrad backends.Buffer) error {
	wv, err := d.floats(w, "AffineBackward w")
	if err != nil {
		return err
	}
	xv, err := d.floats(x, "AffineBackward x")
	if err != nil {
		return err
	}
	wgv, err := d.floats(wGrad, "AffineBackward wGrad")
	if err != nil {
		return err
	}
	xgv, err := d.floats(xGrad, "AffineBackward xGrad")
	if err != nil {
		return err
	}
	bgv, err := d.floats(biasGrad, "AffineBackward biasGrad")
	if err != nil {
		return err
	}
	ogv, err := d.floats(outGrad, "AffineBackward outGrad")
	if err != nil {
		return err
	}
	outShape := shapes.Shape{Rows: wShape.Rows, Cols: xShape.Cols}
	if wgv != nil {
		gemm(outShape, false, ogv, xShape, true, xv, wgv, true)
	}
	if xgv != nil {
		gemm(wShape, true, wv, outShape, false, ogv, xgv, true)
	}
	if bgv != nil {
		accumulateBiasGrad(bgv, wShape.Rows, xShape.Cols, biasShape.Cols, ogv)
	}
	return nil
}

// scatterSparseGrad adds src into the wGrad columns listed in idx.
func scatterSparseGrad(wGrad []float32, rows int, idx []int32, src []float32) {
	for _, active := range idx {
		if active < 0 {
			break
		}
		wcol := wGrad[int(active)*rows : (int(active)+1)*rows]
		for r := range wcol {
			wcol[r] += src[r]
		}
	}
}

// SparseAffineBackward implements backends.Kernels.
func (d *Device) SparseAffineBackward(wShape shapes.Shape, wGrad backends.Buffer, xShape shapes.Shape, maxActive int, x backends.Buffer, biasShape shapes.Shape, biasGrad, outGrad backends.Buffer) error {
	wgv, err := d.floats(wGrad, "SparseAffineBackward wGrad")
	if err != nil {
		return err
	}
	xv, err := d.ints(x, "SparseAffineBackward x")
	if err != nil {
		return err
	}
	bgv, err := d.floats(biasGrad, "SparseAffineBackward biasGrad")
	if err != nil {
		return err
	}
	ogv, err := d.floats(outGrad, "SparseAffineBackward outGrad")
	if err != nil {
		return err
	}
	rows := wShape.Rows
	for c := 0; c < xShape.Cols; c++ {
		col := ogv[c*rows : (c+1)*rows]
		if wgv != nil {
			scatterSparseGrad(wgv, rows, xv[c*maxActive:(c+1)*maxActive], col)
		}
	}
	if bgv != nil {
		accumulateBiasGrad(bgv, rows, xShape.Cols, biasShape.Cols, ogv)
	}
	return nil
}

// SparseAffineDualActivateBackward implements backends.Kernels.
func (d *Device) SparseAffineDualActivateBackward(wShape shapes.Shape, wGrad backends.Buffer, xShape shapes.Shape, maxActive int, stm, ntm backends.Buffer, biasShape shapes.Shape, biasGrad backends.Buffer, act backends.Activation, out, outGrad backends.Buffer) error {
	wgv, err := d.floats(wGrad, "SparseAffineDualActivateBackward wGrad")
	if err != nil {
		return err
	}
	stmv, err := d.ints(stm, "SparseAffineDualActivateBackward stm")
	if err != nil {
		return err
	}
	ntmv, err := d.ints(ntm, "SparseAffineDualActivateBackward ntm")
	if err != nil {
		return err
	}
	bgv, err := d.floats(biasGrad, "SparseAffineDualActivateBackward biasGrad")
	if err != nil {
		return err
	}
	ov, err := d.floats(out, "SparseAffineDualActivateBackward out")
	if err != nil {
		return err
	}
	ogv, err := d.floats(outGrad, "SparseAffineDualActivateBackward outGrad")
	if err != nil {
		return err
	}
	rows := wShape.Rows
	outRows := 2 * rows
	pre := make([]float32, rows)
	for c := 0; c < xShape.Cols; c++ {
		for half, idx := range [][]int32{stmv[c*maxActive : (c+1)*maxActive], ntmv[c*maxActive : (c+1)*maxActive]} {
			base := c*outRows + half*rows
			for r := 0; r < rows; r++ {
				pre[r] = ogv[base+r] * activateBackward(act, ov[base+r])
			}
			if wgv != nil {
				scatterSparseGrad(wgv, rows, idx, pre)
			}
			if bgv != nil {
				bcol := bgv[(c%biasShape.Cols)*rows : (c%biasShape.Cols+1)*rows]
				for r := range bcol {
					bcol[r] += pre[r]
				}
			}
		}
	}
	return nil
}

// ActivateBackward implements backends.Kernels.
func (d *Device) ActivateBackward(act backends.Activation, size int, x, xGrad, outGrad backends.Buffer) error {
	xv, err := d.floats(x, "ActivateBackward x")
	if err != nil {
		return err
	}
	xgv, err := d.floats(xGrad, "ActivateBackward xGrad")
	if err != nil {
		return err
	}
	ogv, err := d.floats(outGrad, "ActivateBackward outGrad")
	if err != nil {
		return err
	}
	for i := 0; i < size; i++ {
		xgv[i] += ogv[i] * activateBackward(act, activate(act, xv[i]))
	}
	return nil
}

// ConcatBackward implements backends.Kernels.
func (d *Device) ConcatBackward(aShape shapes.Shape, aGrad backends.Buffer, bShape shapes.Shape, bGrad, outGrad backends.Buffer) error {
	agv, err := d.floats(aGrad, "ConcatBackward aGrad")
	if err != nil {
		return err
	}
	bgv, err := d.floats(bGrad, "ConcatBackward bGrad")
	if err != nil {
		return err
	}
	ogv, err := d.floats(outGrad, "ConcatBackward outGrad")
	if err != nil {
		return err
	}
	outRows := aShape.Rows + bShape.Rows
	for c := 0; c < aShape.Cols; c++ {
		if agv != nil {
			for r := 0; r < aShape.Rows; r++ {
				agv[c*aShape.Rows+r] += ogv[c*outRows+r]
			}
		}
		if bgv != nil {
			for r := 0; r < bShape.Rows; r++ {
				bgv[c*bShape.Rows+r] += ogv[c*outRows+aShape.Rows+r]
			}
		}
	}
	return nil
}

// SliceRowsBackward implements backends.Kernels.
func (d *Device) SliceRowsBackward(xShape shapes.Shape, xGrad backends.Buffer, start, end int, outGrad backends.Buffer) error {
	xgv, err := d.floats(xGrad, "SliceRowsBackward xGrad")
	if err != nil {
		return err
	}
	ogv, err := d.floats(outGrad, "SliceRowsBackward outGrad")
	if err != nil {
		return err
	}
	outRows := end - start
	for c := 0; c < xShape.Cols; c++ {
		for r := 0; r < outRows; r++ {
			xgv[c*xShape.Rows+start+r] += ogv[c*outRows+r]
		}
	}
	return nil
}

// LinearCombinationBackward implements backends.Kernels.
func (d *Device) LinearCombinationBackward(size int, alpha float32, aGrad backends.Buffer, beta float32, bGrad, outGrad backends.Buffer) error {
	agv, err := d.floats(aGrad, "LinearCombinationBackward aGrad")
	if err != nil {
		return err
	}
	bgv, err := d.floats(bGrad, "LinearCombinationBackward bGrad")
	if err != nil {
		return err
	}
	ogv, err := d.floats(outGrad, "LinearCombinationBackward outGrad")
	if err != nil {
		return err
	}
	for i := 0; i < size; i++ {
		if agv != nil {
			agv[i] += alpha * ogv[i]
		}
		if bgv != nil {
			bgv[i] += beta * ogv[i]
		}
	}
	return nil
}

// PairwiseMulBackward implements backends.Kernels.
func (d *Device) PairwiseMulBackward(xShape shapes.Shape, x, xGrad backends.Buffer, postConcat bool, outGrad backends.Buffer) error {
	xv, err := d.floats(x, "PairwiseMulBackward x")
	if err != nil {
		return err
	}
	xgv, err := d.floats(xGrad, "PairwiseMulBackward xGrad")
	if err != nil {
		return err
	}
	ogv, err := d.floats(outGrad, "PairwiseMulBackward outGrad")
	if err != nil {
		return err
	}
	rows := xShape.Rows
	parts := 1
	if postConcat {
		parts = 2
	}
	partRows := rows / parts
	outRows := rows / 2
	for c := 0; c < xShape.Cols; c++ {
		for p := 0; p < parts; p++ {
			src := xv[c*rows+p*partRows:]
			grad := xgv[c*rows+p*partRows:]
			og := ogv[c*outRows+p*partRows/2:]
			for r := 0; r < partRows/2; r++ {
				grad[r] += og[r] * src[r+partRows/2]
				grad[r+partRows/2] += og[r] * src[r]
			}
		}
	}
	return nil
}

// SelectBackward implements backends.Kernels.
func (d *Device) SelectBackward(xShape shapes.Shape, xGrad backends.Buffer, bucketsShape shapes.Shape, buckets, outGrad backends.Buffer) error {
	xgv, err := d.floats(xGrad, "SelectBackward xGrad")
	if err != nil {
		return err
	}
	bv, err := d.ints(buckets, "SelectBackward buckets")
	if err != nil {
		return err
	}
	ogv, err := d.floats(outGrad, "SelectBackward outGrad")
	if err != nil {
		return err
	}
	chunk := xShape.Rows / bucketsShape.Rows
	for c := 0; c < xShape.Cols; c++ {
		bucket := int(bv[c])
		for r := 0; r < chunk; r++ {
			xgv[c*xShape.Rows+bucket*chunk+r] += ogv[c*chunk+r]
		}
	}
	return nil
}

// PowerErrorBackward implements backends.Kernels.
func (d *Device) PowerErrorBackward(power float32, size int, x, targets, xGrad, outGrad backends.Buffer) error {
	xv, err := d.floats(x, "PowerErrorBackward x")
	if err != nil {
		return err
	}
	tv, err := d.floats(targets, "PowerErrorBackward targets")
	if err != nil {
		return err
	}
	xgv, err := d.floats(xGrad, "PowerErrorBackward xGrad")
	if err != nil {
		return err
	}
	ogv, err := d.floats(outGrad, "PowerErrorBackward outGrad")
	if err != nil {
		return err
	}
	g := float64(ogv[0]) * float64(power)
	for i := 0; i < size; i++ {
		diff := float64(xv[i]) - float64(tv[i])
		if diff == 0 {
			continue
		}
		step := g * math.Pow(math.Abs(diff), float64(power)-1)
		if diff < 0 {
			step = -step
		}
		xgv[i] += float32(step)
	}
	return nil
}

// SoftmaxCrossEntropyBackward implements backends.Kernels.
func (d *Device) SoftmaxCrossEntropyBackward(shape shapes.Shape, logits, targets, logitsGrad, outGrad backends.Buffer) error {
	lv, err := d.floats(logits, "SoftmaxCrossEntropyBackward logits")
	if err != nil {
		return err
	}
	tv, err := d.floats(targets, "SoftmaxCrossEntropyBackward targets")
	if err != nil {
		return err
	}
	lgv, err := d.floats(logitsGrad, "SoftmaxCrossEntropyBackward logitsGrad")
	if err != nil {
		return err
	}
	ogv, err := d.floats(outGrad, "SoftmaxCrossEntropyBackward outGrad")
	if err != nil {
		return err
	}
	probs := make([]float32, shape.Rows)
	g := ogv[0]
	for c := 0; c < shape.Cols; c++ {
		col := lv[c*shape.Rows : (c+1)*shape.Rows]
		tcol := tv[c*shape.Rows : (c+1)*shape.Rows]
		softmaxColumn(probs, col)
		for r := range probs {
			lgv[c*shape.Rows+r] += g * (probs[r] - tcol[r])
		}
	}
	return nil
}

// ReduceAcrossBatchBackward implements backends.Kernels.
func (d *Device) ReduceAcrossBatchBackward(size int, xGrad, outGrad backends.Buffer) error {
	xgv, err := d.floats(xGrad, "ReduceAcrossBatchBackward xGrad")
	if err != nil {
		return err
	}
	ogv, err := d.floats(outGrad, "ReduceAcrossBatchBackward outGrad")
	if err != nil {
		return err
	}
	g := ogv[0]
	for i := 0; i < size; i++ {
		xgv[i] += g
	}
	return nil
}
