// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"strings"

	"github.com/cairnml/cairn/backends"
	"github.com/cairnml/cairn/types/shapes"
)

// Operation is one transformation of the closed operation set. Each
// variant declares the operand nodes it reads -- the builder uses that to
// maintain the root set -- and knows how to infer its output shape,
// failing with a *ShapeError when the operands are incompatible.
//
// Operations are plain structs with exported fields; apply them with
// Builder.Apply.
type Operation interface {
	fmt.Stringer

	// Operands returns exactly the nodes this operation reads.
	Operands() []Node

	// OutputShape infers the output shape from the operand shapes, or
	// returns a *ShapeError naming the offending shapes.
	OutputShape() (shapes.Shape, error)
}

// ShapeError is the construction-time error reported when an operation's
// operand shapes are incompatible. It names every involved shape so a
// graph-definition bug can be diagnosed without inspecting internals.
type ShapeError struct {
	Shapes []shapes.Shape
	Detail string
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	parts := make([]string, len(e.Shapes))
	for i, s := range e.Shapes {
		parts[i] = s.String()
	}
	return fmt.Sprintf("%s (operand shapes: %s)", e.Detail, strings.Join(parts, ", "))
}

func mismatchf(involved []shapes.Shape, format string, args ...any) *ShapeError {
	return &ShapeError{Shapes: involved, Detail: fmt.Sprintf(format, args...)}
}

func requireDense(op string, nodes ...Node) error {
	for _, n := range nodes {
		if n.IsSparse() {
			return mismatchf([]shapes.Shape{n.Shape()}, "%s: operand %s must be dense", op, n)
		}
	}
	return nil
}

// Affine computes W*X + Bias for dense X. The bias column count must
// divide the batch column count; a (rows, 1) bias broadcasts over the
// whole batch.
type Affine struct {
	W, X, Bias Node
}

func (op Affine) String() string   { return "Affine" }
func (op Affine) Operands() []Node { return []Node{op.W, op.X, op.Bias} }

func (op Affine) OutputShape() (shapes.Shape, error) {
	w, x, b := op.W.Shape(), op.X.Shape(), op.Bias.Shape()
	if err := requireDense("Affine", op.W, op.X, op.Bias); err != nil {
		return shapes.Shape{}, err
	}
	if w.Cols != x.Rows {
		return shapes.Shape{}, mismatchf([]shapes.Shape{w, x}, "Affine: W cols (%d) != X rows (%d)", w.Cols, x.Rows)
	}
	if b.Rows != w.Rows || x.Cols%b.Cols != 0 {
		return shapes.Shape{}, mismatchf([]shapes.Shape{w, x, b}, "Affine: bias %s incompatible with output %dx%d", b, w.Rows, x.Cols)
	}
	return shapes.Shape{Rows: w.Rows, Cols: x.Cols}, nil
}

// SparseAffine computes W*X + Bias for a sparse one-hot X. Bias is
// optional (nil pointer means no bias).
type SparseAffine struct {
	W, X Node
	Bias *Node
}

func (op SparseAffine) String() string { return "SparseAffine" }

func (op SparseAffine) Operands() []Node {
	nodes := []Node{op.W, op.X}
	if op.Bias != nil {
		nodes = append(nodes, *op.Bias)
	}
	return nodes
}

func (op SparseAffine) OutputShape() (shapes.Shape, error) {
	w, x := op.W.Shape(), op.X.Shape()
	if !op.X.IsSparse() {
		return shapes.Shape{}, mismatchf([]shapes.Shape{x}, "SparseAffine: X must be sparse")
	}
	if err := requireDense("SparseAffine", op.W); err != nil {
		return shapes.Shape{}, err
	}
	if w.Cols != x.Rows {
		return shapes.Shape{}, mismatchf([]shapes.Shape{w, x}, "SparseAffine: W cols (%d) != X rows (%d)", w.Cols, x.Rows)
	}
	if op.Bias != nil {
		b := op.Bias.Shape()
		if b.Rows != w.Rows || x.Cols%b.Cols != 0 {
			return shapes.Shape{}, mismatchf([]shapes.Shape{w, x, b}, "SparseAffine: bias %s incompatible with output %dx%d", b, w.Rows, x.Cols)
		}
	}
	return shapes.Shape{Rows: w.Rows, Cols: x.Cols}, nil
}

// SparseAffineDualActivate computes the two-perspective feature
// transform: the same weights and bias applied to both sparse inputs, the
// activated results stacked (STM on top).
type SparseAffineDualActivate struct {
	W, STM, NTM, Bias Node
	Activation        backends.Activation
}

func (op SparseAffineDualActivate) String() string { return "SparseAffineDualActivate" }

func (op SparseAffineDualActivate) Operands() []Node {
	return []Node{op.W, op.STM, op.NTM, op.Bias}
}

func (op SparseAffineDualActivate) OutputShape() (shapes.Shape, error) {
	w, stm, ntm, b := op.W.Shape(), op.STM.Shape(), op.NTM.Shape(), op.Bias.Shape()
	if !op.STM.IsSparse() || !op.NTM.IsSparse() {
		return shapes.Shape{}, mismatchf([]shapes.Shape{stm, ntm}, "SparseAffineDualActivate: both inputs must be sparse")
	}
	if stm != ntm || op.STM.MaxActive() != op.NTM.MaxActive() {
		return shapes.Shape{}, mismatchf([]shapes.Shape{stm, ntm}, "SparseAffineDualActivate: perspectives disagree")
	}
	if w.Cols != stm.Rows {
		return shapes.Shape{}, mismatchf([]shapes.Shape{w, stm}, "SparseAffineDualActivate: W cols (%d) != input rows (%d)", w.Cols, stm.Rows)
	}
	if b.Rows != w.Rows || stm.Cols%b.Cols != 0 {
		return shapes.Shape{}, mismatchf([]shapes.Shape{w, stm, b}, "SparseAffineDualActivate: bias %s incompatible with output %dx%d", b, w.Rows, stm.Cols)
	}
	return shapes.Shape{Rows: 2 * w.Rows, Cols: stm.Cols}, nil
}

// Matmul computes op(A) * op(B), where op optionally transposes.
type Matmul struct {
	A      Node
	TransA bool
	B      Node
	TransB bool
}

func (op Matmul) String() string   { return "Matmul" }
func (op Matmul) Operands() []Node { return []Node{op.A, op.B} }

func (op Matmul) OutputShape() (shapes.Shape, error) {
	if err := requireDense("Matmul", op.A, op.B); err != nil {
		return shapes.Shape{}, err
	}
	a := op.A.Shape().Maybe(op.TransA)
	b := op.B.Shape().Maybe(op.TransB)
	if a.Cols != b.Rows {
		return shapes.Shape{}, mismatchf([]shapes.Shape{op.A.Shape(), op.B.Shape()},
			"Matmul: inner dimensions disagree, %s x %s after transposition", a, b)
	}
	return shapes.Shape{Rows: a.Rows, Cols: b.Cols}, nil
}

// Activate applies an elementwise non-linearity.
type Activate struct {
	X          Node
	Activation backends.Activation
}

func (op Activate) String() string   { return fmt.Sprintf("Activate[%s]", op.Activation) }
func (op Activate) Operands() []Node { return []Node{op.X} }

func (op Activate) OutputShape() (shapes.Shape, error) {
	if err := requireDense(op.String(), op.X); err != nil {
		return shapes.Shape{}, err
	}
	return op.X.Shape(), nil
}

// Concat stacks A on top of B.
type Concat struct {
	A, B Node
}

func (op Concat) String() string   { return "Concat" }
func (op Concat) Operands() []Node { return []Node{op.A, op.B} }

func (op Concat) OutputShape() (shapes.Shape, error) {
	if err := requireDense("Concat", op.A, op.B); err != nil {
		return shapes.Shape{}, err
	}
	a, b := op.A.Shape(), op.B.Shape()
	if a.Cols != b.Cols {
		return shapes.Shape{}, mismatchf([]shapes.Shape{a, b}, "Concat: column counts disagree (%d vs %d)", a.Cols, b.Cols)
	}
	return shapes.Shape{Rows: a.Rows + b.Rows, Cols: a.Cols}, nil
}

// Slice keeps rows [Start, End) of every column.
type Slice struct {
	X          Node
	Start, End int
}

func (op Slice) String() string   { return fmt.Sprintf("Slice[%d:%d]", op.Start, op.End) }
func (op Slice) Operands() []Node { return []Node{op.X} }

func (op Slice) OutputShape() (shapes.Shape, error) {
	if err := requireDense(op.String(), op.X); err != nil {
		return shapes.Shape{}, err
	}
	x := op.X.Shape()
	if op.Start < 0 || op.Start >= op.End || op.End > x.Rows {
		return shapes.Shape{}, mismatchf([]shapes.Shape{x}, "Slice: bounds [%d:%d) invalid for %d rows", op.Start, op.End, x.Rows)
	}
	return shapes.Shape{Rows: op.End - op.Start, Cols: x.Cols}, nil
}

// LinearCombination computes Alpha*A + Beta*B over identical shapes.
type LinearCombination struct {
	Alpha float32
	A     Node
	Beta  float32
	B     Node
}

func (op LinearCombination) String() string   { return "LinearCombination" }
func (op LinearCombination) Operands() []Node { return []Node{op.A, op.B} }

func (op LinearCombination) OutputShape() (shapes.Shape, error) {
	if err := requireDense("LinearCombination", op.A, op.B); err != nil {
		return shapes.Shape{}, err
	}
	a, b := op.A.Shape(), op.B.Shape()
	if a != b {
		return shapes.Shape{}, mismatchf([]shapes.Shape{a, b}, "LinearCombination: shapes must be identical")
	}
	return a, nil
}

// PairwiseMul multiplies the top half of each column with its bottom
// half, halving the row count. With PostConcat set, the two concatenated
// halves of the column are paired independently, for use after a
// perspective-concatenating feature transform.
type PairwiseMul struct {
	X          Node
	PostConcat bool
}

func (op PairwiseMul) String() string   { return "PairwiseMul" }
func (op PairwiseMul) Operands() []Node { return []Node{op.X} }

func (op PairwiseMul) OutputShape() (shapes.Shape, error) {
	if err := requireDense("PairwiseMul", op.X); err != nil {
		return shapes.Shape{}, err
	}
	x := op.X.Shape()
	parts := 2
	if op.PostConcat {
		parts = 4
	}
	if x.Rows%parts != 0 {
		return shapes.Shape{}, mismatchf([]shapes.Shape{x}, "PairwiseMul: rows (%d) not divisible by %d", x.Rows, parts)
	}
	return shapes.Shape{Rows: x.Rows / 2, Cols: x.Cols}, nil
}

// Select keeps, per column, the chunk of X picked by the bucket index.
// Buckets is a sparse node with exactly one active index per column.
type Select struct {
	X, Buckets Node
}

func (op Select) String() string   { return "Select" }
func (op Select) Operands() []Node { return []Node{op.X, op.Buckets} }

func (op Select) OutputShape() (shapes.Shape, error) {
	if err := requireDense("Select", op.X); err != nil {
		return shapes.Shape{}, err
	}
	x, b := op.X.Shape(), op.Buckets.Shape()
	if !op.Buckets.IsSparse() || op.Buckets.MaxActive() != 1 {
		return shapes.Shape{}, mismatchf([]shapes.Shape{b}, "Select: buckets must be sparse with one active index per column")
	}
	if x.Cols != b.Cols || x.Rows%b.Rows != 0 {
		return shapes.Shape{}, mismatchf([]shapes.Shape{x, b}, "Select: cannot split %s into %d buckets", x, b.Rows)
	}
	return shapes.Shape{Rows: x.Rows / b.Rows, Cols: x.Cols}, nil
}

// PowerError reduces sum(|X - Targets|^Power) to a scalar, whatever the
// input sizes.
type PowerError struct {
	X, Targets Node
	Power      float32
}

func (op PowerError) String() string   { return fmt.Sprintf("PowerError[%g]", op.Power) }
func (op PowerError) Operands() []Node { return []Node{op.X, op.Targets} }

func (op PowerError) OutputShape() (shapes.Shape, error) {
	if err := requireDense(op.String(), op.X, op.Targets); err != nil {
		return shapes.Shape{}, err
	}
	x, t := op.X.Shape(), op.Targets.Shape()
	if x != t {
		return shapes.Shape{}, mismatchf([]shapes.Shape{x, t}, "PowerError: prediction and target shapes must be identical")
	}
	return shapes.Scalar(), nil
}

// SoftmaxCrossEntropyLoss reduces the per-column cross-entropy between
// softmax(Logits) and Targets to a scalar.
type SoftmaxCrossEntropyLoss struct {
	Logits, Targets Node
}

func (op SoftmaxCrossEntropyLoss) String() string   { return "SoftmaxCrossEntropyLoss" }
func (op SoftmaxCrossEntropyLoss) Operands() []Node { return []Node{op.Logits, op.Targets} }

func (op SoftmaxCrossEntropyLoss) OutputShape() (shapes.Shape, error) {
	if err := requireDense("SoftmaxCrossEntropyLoss", op.Logits, op.Targets); err != nil {
		return shapes.Shape{}, err
	}
	l, t := op.Logits.Shape(), op.Targets.Shape()
	if l != t {
		return shapes.Shape{}, mismatchf([]shapes.Shape{l, t}, "SoftmaxCrossEntropyLoss: logits and target shapes must be identical")
	}
	return shapes.Scalar(), nil
}

// ReduceAcrossBatch sums every element of X into a scalar.
type ReduceAcrossBatch struct {
	X Node
}

func (op ReduceAcrossBatch) String() string   { return "ReduceAcrossBatch" }
func (op ReduceAcrossBatch) Operands() []Node { return []Node{op.X} }

func (op ReduceAcrossBatch) OutputShape() (shapes.Shape, error) {
	if err := requireDense("ReduceAcrossBatch", op.X); err != nil {
		return shapes.Shape{}, err
	}
	return shapes.Scalar(), nil
}

// ToDense expands a sparse node into a dense 0/1 node of the same shape.
type ToDense struct {
	X Node
}

func (op ToDense) String() string   { return "ToDense" }
func (op ToDense) Operands() []Node { return []Node{op.X} }

func (op ToDense) OutputShape() (shapes.Shape, error) {
	if !op.X.IsSparse() {
		return shapes.Shape{}, mismatchf([]shapes.Shape{op.X.Shape()}, "ToDense: operand is already dense")
	}
	return op.X.Shape(), nil
}
