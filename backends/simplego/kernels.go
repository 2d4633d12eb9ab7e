// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"math"

	"github.com/cairnml/cairn/backends"
	"github.com/cairnml/cairn/types/shapes"
)

// at reads element (r, c) of a column-major buffer, transposing on the fly.
func at(buf []float32, s shapes.Shape, trans bool, r, c int) float32 {
	if trans {
		r, c = c, r
	}
	return buf[c*s.Rows+r]
}

// gemm computes out (+)= op(a) * op(b) over column-major storage.
func gemm(aShape shapes.Shape, transA bool, a []float32, bShape shapes.Shape, transB bool, b []float32, out []float32, accumulate bool) {
	m := aShape.Maybe(transA).Rows
	k := aShape.Maybe(transA).Cols
	n := bShape.Maybe(transB).Cols
	if !accumulate {
		clear(out[:m*n])
	}
	for c := 0; c < n; c++ {
		col := out[c*m : (c+1)*m]
		for i := 0; i < k; i++ {
			bv := at(b, bShape, transB, i, c)
			if bv == 0 {
				continue
			}
			for r := 0; r < m; r++ {
				col[r] += at(a, aShape, transA, r, i) * bv
			}
		}
	}
}

func activate(act backends.Activation, x float32) float32 {
	switch act {
	case backends.ActivationReLU:
		return max(x, 0)
	case backends.ActivationCReLU:
		return min(max(x, 0), 1)
	case backends.ActivationSCReLU:
		c := min(max(x, 0), 1)
		return c * c
	case backends.ActivationSqrReLU:
		r := max(x, 0)
		return r * r
	case backends.ActivationSigmoid:
		return float32(1.0 / (1.0 + math.Exp(-float64(x))))
	default:
		return x
	}
}

// activateBackward returns d(act)/d(input) expressed in terms of the
// activation output. Every supported activation is invertible enough for
// this on the range where its derivative is nonzero.
func activateBackward(act backends.Activation, out float32) float32 {
	switch act {
	case backends.ActivationReLU:
		if out > 0 {
			return 1
		}
		return 0
	case backends.ActivationCReLU:
		if out > 0 && out < 1 {
			return 1
		}
		return 0
	case backends.ActivationSCReLU:
		if out > 0 && out < 1 {
			return 2 * float32(math.Sqrt(float64(out)))
		}
		return 0
	case backends.ActivationSqrReLU:
		if out > 0 {
			return 2 * float32(math.Sqrt(float64(out)))
		}
		return 0
	case backends.ActivationSigmoid:
		return out * (1 - out)
	default:
		return 1
	}
}

// Matmul implements backends.Kernels.
func (d *Device) Matmul(aShape shapes.Shape, transA bool, a backends.Buffer, bShape shapes.Shape, transB bool, b, out backends.Buffer) error {
	av, err := d.floats(a, "Matmul a")
	if err != nil {
		return err
	}
	bv, err := d.floats(b, "Matmul b")
	if err != nil {
		return err
	}
	ov, err := d.floats(out, "Matmul out")
	if err != nil {
		return err
	}
	gemm(aShape, transA, av, bShape, transB, bv, ov, false)
	return nil
}

// addBias adds bias columns to out, broadcasting over column groups.
func addBias(out []float32, rows, cols int, bias []float32, biasCols int) {
	for c := 0; c < cols; c++ {
		bcol := bias[(c%biasCols)*rows : (c%biasCols+1)*rows]
		col := out[c*rows : (c+1)*rows]
		for r := range col {
			col[r] += bcol[r]
		}
	}
}

// Affine implements backends.Kernels.
func (d *Device) Affine(wShape shapes.Shape, w backends.Buffer, xShape shapes.Shape, x backends.Buffer, biasShape shapes.Shape, bias, out backends.Buffer) error {
	wv, err := d.floats(w, "Affine w")
	if err != nil {
		return err
	}
	xv, err := d.floats(x, "Affine x")
	if err != nil {
		return err
	}
	bv, err := d.floats(bias, "Affine bias")
	if err != nil {
		return err
	}
	ov, err := d.floats(out, "Affine out")
	if err != nil {
		return err
	}
	gemm(wShape, false, wv, xShape, false, xv, ov, false)
	if bv != nil {
		addBias(ov, wShape.Rows, xShape.Cols, bv, biasShape.Cols)
	}
	return nil
}

// sparseAffineColumn accumulates W columns listed in idx into dst.
func sparseAffineColumn(dst []float32, w []float32, rows int, idx []int32) {
	for _, active := range idx {
		if active < 0 {
			break
		}
		wcol := w[int(active)*rows : (int(active)+1)*rows]
		for r := range dst {
			dst[r] += wcol[r]
		}
	}
}

// SparseAffine implements backends.Kernels.
func (d *Device) SparseAffine(wShape shapes.Shape, w backends.Buffer, xShape shapes.Shape, maxActive int, x backends.Buffer, biasShape shapes.Shape, bias, out backends.Buffer) error {
	wv, err := d.floats(w, "SparseAffine w")
	if err != nil {
		return err
	}
	xv, err := d.ints(x, "SparseAffine x")
	if err != nil {
		return err
	}
	bv, err := d.floats(bias, "SparseAffine bias")
	if err != nil {
		return err
	}
	ov, err := d.floats(out, "SparseAffine out")
	if err != nil {
		return err
	}
	rows := wShape.Rows
	clear(ov[:rows*xShape.Cols])
	for c := 0; c < xShape.Cols; c++ {
		sparseAffineColumn(ov[c*rows:(c+1)*rows], wv, rows, xv[c*maxActive:(c+1)*maxActive])
	}
	if bv != nil {
		addBias(ov, rows, xShape.Cols, bv, biasShape.Cols)
	}
	return nil
}

// SparseAffineDualActivate implements backends.Kernels.
func (d *Device) SparseAffineDualActivate(wShape shapes.Shape, w backends.Buffer, xShape shapes.Shape, maxActive int, stm, ntm backends.Buffer, biasShape shapes.Shape, bias backends.Buffer, act backends.Activation, out backends.Buffer) error {
	wv, err := d.floats(w, "SparseAffineDualActivate w")
	if err != nil {
		return err
	}
	stmv, err := d.ints(stm, "SparseAffineDualActivate stm")
	if err != nil {
		return err
	}
	ntmv, err := d.ints(ntm, "SparseAffineDualActivate ntm")
	if err != nil {
		return err
	}
	bv, err := d.floats(bias, "SparseAffineDualActivate bias")
	if err != nil {
		return err
	}
	ov, err := d.floats(out, "SparseAffineDualActivate out")
	if err != nil {
		return err
	}
	rows := wShape.Rows
	outRows := 2 * rows
	clear(ov[:outRows*xShape.Cols])
	for c := 0; c < xShape.Cols; c++ {
		for half, idx := range [][]int32{stmv[c*maxActive : (c+1)*maxActive], ntmv[c*maxActive : (c+1)*maxActive]} {
			dst := ov[c*outRows+half*rows : c*outRows+(half+1)*rows]
			if bv != nil {
				copy(dst, bv[(c%biasShape.Cols)*rows:(c%biasShape.Cols+1)*rows])
			}
			sparseAffineColumn(dst, wv, rows, idx)
			for r := range dst {
				dst[r] = activate(act, dst[r])
			}
		}
	}
	return nil
}

// Activate implements backends.Kernels.
func (d *Device) Activate(act backends.Activation, size int, x, out backends.Buffer) error {
	xv, err := d.floats(x, "Activate x")
	if err != nil {
		return err
	}
	ov, err := d.floats(out, "Activate out")
	if err != nil {
		return err
	}
	for i := 0; i < size; i++ {
		ov[i] = activate(act, xv[i])
	}
	return nil
}

// Concat implements backends.Kernels.
func (d *Device) Concat(aShape shapes.Shape, a backends.Buffer, bShape shapes.Shape, b, out backends.Buffer) error {
	av, err := d.floats(a, "Concat a")
	if err != nil {
		return err
	}
	bv, err := d.floats(b, "Concat b")
	if err != nil {
		return err
	}
	ov, err := d.floats(out, "Concat out")
	if err != nil {
		return err
	}
	outRows := aShape.Rows + bShape.Rows
	for c := 0; c < aShape.Cols; c++ {
		copy(ov[c*outRows:], av[c*aShape.Rows:(c+1)*aShape.Rows])
		copy(ov[c*outRows+aShape.Rows:], bv[c*bShape.Rows:(c+1)*bShape.Rows])
	}
	return nil
}

// SliceRows implements backends.Kernels.
func (d *Device) SliceRows(xShape shapes.Shape, x backends.Buffer, start, end int, out backends.Buffer) error {
	xv, err := d.floats(x, "SliceRows x")
	if err != nil {
		return err
	}
	ov, err := d.floats(out, "SliceRows out")
	if err != nil {
		return err
	}
	outRows := end - start
	for c := 0; c < xShape.Cols; c++ {
		copy(ov[c*outRows:(c+1)*outRows], xv[c*xShape.Rows+start:c*xShape.Rows+end])
	}
	return nil
}

// LinearCombination implements backends.Kernels.
func (d *Device) LinearCombination(size int, alpha float32, a backends.Buffer, beta float32, b, out backends.Buffer) error {
	av, err := d.floats(a, "LinearCombination a")
	if err != nil {
		return err
	}
	bv, err := d.floats(b, "LinearCombination b")
	if err != nil {
		return err
	}
	ov, err := d.floats(out, "LinearCombination out")
	if err != nil {
		return err
	}
	for i := 0; i < size; i++ {
		ov[i] = alpha*av[i] + beta*bv[i]
	}
	return nil
}

// PairwiseMul implements backends.Kernels.
func (d *Device) PairwiseMul(xShape shapes.Shape, x backends.Buffer, postConcat bool, out backends.Buffer) error {
	xv, err := d.floats(x, "PairwiseMul x")
	if err != nil {
		return err
	}
	ov, err := d.floats(out, "PairwiseMul out")
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
			dst := ov[c*outRows+p*partRows/2:]
			for r := 0; r < partRows/2; r++ {
				dst[r] = src[r] * src[r+partRows/2]
			}
		}
	}
	return nil
}

// Select implements backends.Kernels.
func (d *Device) Select(xShape shapes.Shape, x backends.Buffer, bucketsShape shapes.Shape, buckets, out backends.Buffer) error {
	xv, err := d.floats(x, "Select x")
	if err != nil {
		return err
	}
	bv, err := d.ints(buckets, "Select buckets")
	if err != nil {
		return err
	}
	ov, err := d.floats(out, "Select out")
	if err != nil {
		return err
	}
	chunk := xShape.Rows / bucketsShape.Rows
	for c := 0; c < xShape.Cols; c++ {
		bucket := int(bv[c])
		copy(ov[c*chunk:(c+1)*chunk], xv[c*xShape.Rows+bucket*chunk:c*xShape.Rows+(bucket+1)*chunk])
	}
	return nil
}

// PowerError implements backends.Kernels.
func (d *Device) PowerError(power float32, size int, x, targets, out backends.Buffer) error {
	xv, err := d.floats(x, "PowerError x")
	if err != nil {
		return err
	}
	tv, err := d.floats(targets, "PowerError targets")
	if err != nil {
		return err
	}
	ov, err := d.floats(out, "PowerError out")
	if err != nil {
		return err
	}
	var sum float64
	for i := 0; i < size; i++ {
		sum += math.Pow(math.Abs(float64(xv[i])-float64(tv[i])), float64(power))
	}
	ov[0] = float32(sum)
	return nil
}

// softmaxColumn writes softmax(src) into dst, numerically stabilized.
func softmaxColumn(dst, src []float32) {
	maxv := src[0]
	for _, v := range src[1:] {
		maxv = max(maxv, v)
	}
	var sum float64
	for i, v := range src {
		e := math.Exp(float64(v - maxv))
		dst[i] = float32(e)
		sum += e
	}
	for i := range dst {
		dst[i] = float32(float64(dst[i]) / sum)
	}
}

// SoftmaxCrossEntropy implements backends.Kernels.
func (d *Device) SoftmaxCrossEntropy(shape shapes.Shape, logits, targets, out backends.Buffer) error {
	lv, err := d.floats(logits, "SoftmaxCrossEntropy logits")
	if err != nil {
		return err
	}
	tv, err := d.floats(targets, "SoftmaxCrossEntropy targets")
	if err != nil {
		return err
	}
	ov, err := d.floats(out, "SoftmaxCrossEntropy out")
	if err != nil {
		return err
	}
	probs := make([]float32, shape.Rows)
	var loss float64
	for c := 0; c < shape.Cols; c++ {
		col := lv[c*shape.Rows : (c+1)*shape.Rows]
		tcol := tv[c*shape.Rows : (c+1)*shape.Rows]
		softmaxColumn(probs, col)
		for r := range probs {
			if tcol[r] != 0 {
				loss -= float64(tcol[r]) * math.Log(math.Max(float64(probs[r]), 1e-30))
			}
		}
	}
	ov[0] = float32(loss)
	return nil
}

// ReduceAcrossBatch implements backends.Kernels.
func (d *Device) ReduceAcrossBatch(size int, x, out backends.Buffer) error {
	xv, err := d.floats(x, "ReduceAcrossBatch x")
	if err != nil {
		return err
	}
	ov, err := d.floats(out, "ReduceAcrossBatch out")
	if err != nil {
		return err
	}
	var sum float64
	for i := 0; i < size; i++ {
		sum += float64(xv[i])
	}
	ov[0] = float32(sum)
	return nil
}

// ToDense implements backends.Kernels.
func (d *Device) ToDense(xShape shapes.Shape, maxActive int, x, out backends.Buffer) error {
	xv, err := d.ints(x, "ToDense x")
	if err != nil {
		return err
	}
	ov, err := d.floats(out, "ToDense out")
	if err != nil {
		return err
	}
	clear(ov[:xShape.Size()])
	for c := 0; c < xShape.Cols; c++ {
		for _, active := range xv[c*maxActive : (c+1)*maxActive] {
			if active < 0 {
				break
			}
			ov[c*xShape.Rows+int(active)] = 1
		}
	}
	return nil
}
