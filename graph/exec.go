// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/pkg/errors"

	"github.com/cairnml/cairn/backends"
	"github.com/cairnml/cairn/types/shapes"
)

func (g *Graph) vals(n Node) backends.Buffer { return g.tensors[n.id].values.buf }
func (g *Graph) grad(n Node) backends.Buffer { return g.tensors[n.id].gradBuffer() }
func (g *Graph) sparse(n Node) backends.Buffer {
	return g.tensors[n.id].idx
}

// Forward evaluates every derived node in arena order. Arena order is a
// topological order by construction (an operation can only read nodes
// that already existed), so a single ascending sweep suffices. After it
// returns the root tensor holds the loss; read it with Loss.
func (g *Graph) Forward() error {
	for i, op := range g.ops {
		if op == nil {
			continue
		}
		out := g.tensors[i].values.buf
		var err error
		switch op := op.(type) {
		case Affine:
			err = g.device.Affine(op.W.Shape(), g.vals(op.W), op.X.Shape(), g.vals(op.X),
				op.Bias.Shape(), g.vals(op.Bias), out)
		case SparseAffine:
			var biasShape shapes.Shape
			var bias backends.Buffer
			if op.Bias != nil {
				biasShape, bias = op.Bias.Shape(), g.vals(*op.Bias)
			}
			err = g.device.SparseAffine(op.W.Shape(), g.vals(op.W),
				op.X.Shape(), op.X.MaxActive(), g.sparse(op.X), biasShape, bias, out)
		case SparseAffineDualActivate:
			err = g.device.SparseAffineDualActivate(op.W.Shape(), g.vals(op.W),
				op.STM.Shape(), op.STM.MaxActive(), g.sparse(op.STM), g.sparse(op.NTM),
				op.Bias.Shape(), g.vals(op.Bias), op.Activation, out)
		case Matmul:
			err = g.device.Matmul(op.A.Shape(), op.TransA, g.vals(op.A),
				op.B.Shape(), op.TransB, g.vals(op.B), out)
		case Activate:
			err = g.device.Activate(op.Activation, op.X.Shape().Size(), g.vals(op.X), out)
		case Concat:
			err = g.device.Concat(op.A.Shape(), g.vals(op.A), op.B.Shape(), g.vals(op.B), out)
		case Slice:
			err = g.device.SliceRows(op.X.Shape(), g.vals(op.X), op.Start, op.End, out)
		case LinearCombination:
			err = g.device.LinearCombination(op.A.Shape().Size(),
				op.Alpha, g.vals(op.A), op.Beta, g.vals(op.B), out)
		case PairwiseMul:
			err = g.device.PairwiseMul(op.X.Shape(), g.vals(op.X), op.PostConcat, out)
		case Select:
			err = g.device.Select(op.X.Shape(), g.vals(op.X),
				op.Buckets.Shape(), g.sparse(op.Buckets), out)
		case PowerError:
			err = g.device.PowerError(op.Power, op.X.Shape().Size(),
				g.vals(op.X), g.vals(op.Targets), out)
		case SoftmaxCrossEntropyLoss:
			err = g.device.SoftmaxCrossEntropy(op.Logits.Shape(),
				g.vals(op.Logits), g.vals(op.Targets), out)
		case ReduceAcrossBatch:
			err = g.device.ReduceAcrossBatch(op.X.Shape().Size(), g.vals(op.X), out)
		case ToDense:
			err = g.device.ToDense(op.X.Shape(), op.X.MaxActive(), g.sparse(op.X), out)
		default:
			err = errors.Errorf("unknown operation %T", op)
		}
		if err != nil {
			return errors.WithMessagef(err, "forward pass, node #%d (%s)", i, op)
		}
	}
	return nil
}

// ZeroGrads zeroes every gradient buffer of the graph.
func (g *Graph) ZeroGrads() error {
	for _, t := range g.tensors {
		if t.grad == nil {
			continue
		}
		if err := t.grad.SetZero(); err != nil {
			return errors.WithMessagef(err, "zeroing gradient of %s", t.node)
		}
	}
	return nil
}

// Backward runs reverse-mode differentiation of the root with respect to
// every gradient-requiring node. It zeroes all gradient buffers, seeds
// the root gradient with 1 and sweeps the arena in descending order,
// each backward kernel accumulating into its operand gradients. Call it
// after Forward; the value buffers of the forward pass are read back.
func (g *Graph) Backward() error {
	if err := g.ZeroGrads(); err != nil {
		return err
	}
	if err := g.device.LoadFloats(g.grad(g.root), []float32{1}); err != nil {
		return errors.WithMessage(err, "seeding root gradient")
	}
	for i := len(g.ops) - 1; i >= 0; i-- {
		op := g.ops[i]
		if op == nil {
			continue
		}
		outGrad := g.tensors[i].gradBuffer()
		if outGrad == nil {
			// Nothing downstream of this node requires gradients.
			continue
		}
		var err error
		switch op := op.(type) {
		case Affine:
			err = g.device.AffineBackward(op.W.Shape(), g.vals(op.W), g.grad(op.W),
				op.X.Shape(), g.vals(op.X), g.grad(op.X),
				op.Bias.Shape(), g.grad(op.Bias), outGrad)
		case SparseAffine:
			var biasShape shapes.Shape
			var biasGrad backends.Buffer
			if op.Bias != nil {
				biasShape, biasGrad = op.Bias.Shape(), g.grad(*op.Bias)
			}
			err = g.device.SparseAffineBackward(op.W.Shape(), g.grad(op.W),
				op.X.Shape(), op.X.MaxActive(), g.sparse(op.X), biasShape, biasGrad, outGrad)
		case SparseAffineDualActivate:
			err = g.device.SparseAffineDualActivateBackward(op.W.Shape(), g.grad(op.W),
				op.STM.Shape(), op.STM.MaxActive(), g.sparse(op.STM), g.sparse(op.NTM),
				op.Bias.Shape(), g.grad(op.Bias), op.Activation, g.tensors[i].values.buf, outGrad)
		case Matmul:
			err = g.device.MatmulBackward(op.A.Shape(), op.TransA, g.vals(op.A), g.grad(op.A),
				op.B.Shape(), op.TransB, g.vals(op.B), g.grad(op.B), outGrad)
		case Activate:
			if g.grad(op.X) != nil {
				err = g.device.ActivateBackward(op.Activation, op.X.Shape().Size(),
					g.vals(op.X), g.grad(op.X), outGrad)
			}
		case Concat:
			err = g.device.ConcatBackward(op.A.Shape(), g.grad(op.A),
				op.B.Shape(), g.grad(op.B), outGrad)
		case Slice:
			if g.grad(op.X) != nil {
				err = g.device.SliceRowsBackward(op.X.Shape(), g.grad(op.X), op.Start, op.End, outGrad)
			}
		case LinearCombination:
			err = g.device.LinearCombinationBackward(op.A.Shape().Size(),
				op.Alpha, g.grad(op.A), op.Beta, g.grad(op.B), outGrad)
		case PairwiseMul:
			if g.grad(op.X) != nil {
				err = g.device.PairwiseMulBackward(op.X.Shape(), g.vals(op.X), g.grad(op.X),
					op.PostConcat, outGrad)
			}
		case Select:
			if g.grad(op.X) != nil {
				err = g.device.SelectBackward(op.X.Shape(), g.grad(op.X),
					op.Buckets.Shape(), g.sparse(op.Buckets), outGrad)
			}
		case PowerError:
			if g.grad(op.X) != nil {
				err = g.device.PowerErrorBackward(op.Power, op.X.Shape().Size(),
					g.vals(op.X), g.vals(op.Targets), g.grad(op.X), outGrad)
			}
		case SoftmaxCrossEntropyLoss:
			if g.grad(op.Logits) != nil {
				err = g.device.SoftmaxCrossEntropyBackward(op.Logits.Shape(),
					g.vals(op.Logits), g.vals(op.Targets), g.grad(op.Logits), outGrad)
			}
		case ReduceAcrossBatch:
			if g.grad(op.X) != nil {
				err = g.device.ReduceAcrossBatchBackward(op.X.Shape().Size(), g.grad(op.X), outGrad)
			}
		case ToDense:
			// Sparse indices carry no gradient.
		default:
			err = errors.Errorf("unknown operation %T", op)
		}
		if err != nil {
			return errors.WithMessagef(err, "backward pass, node #%d (%s)", i, op)
		}
	}
	return nil
}
