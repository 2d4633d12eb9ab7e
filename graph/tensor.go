// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/pkg/errors"

	"github.com/cairnml/cairn/backends"
)

// Dense is a device-resident flat float32 buffer with an optional batch
// dimension. Weight buffers are per-parameter and carry no batch; input
// and activation buffers carry the batch in their column count.
type Dense struct {
	device backends.Device
	buf    backends.Buffer
	size   int
	batch  int // 0 for per-parameter buffers
}

// NewDense allocates an unbatched zero-filled buffer on the device.
// Optimiser auxiliary state uses it for buffers that shadow a weight.
func NewDense(device backends.Device, size int) (*Dense, error) {
	return newDense(device, size, 0)
}

func newDense(device backends.Device, size, batch int) (*Dense, error) {
	buf, err := device.AllocateFloats(size)
	if err != nil {
		return nil, err
	}
	return &Dense{device: device, buf: buf, size: size, batch: batch}, nil
}

// Size returns the total element count.
func (m *Dense) Size() int { return m.size }

// BatchSize returns the batch column count, or 0 for a per-parameter
// buffer such as a weight or an optimiser moment.
func (m *Dense) BatchSize() int { return m.batch }

// Buffer returns the underlying device buffer.
func (m *Dense) Buffer() backends.Buffer { return m.buf }

// Device returns the device owning the buffer.
func (m *Dense) Device() backends.Device { return m.device }

// SetZero zeroes the buffer in place.
func (m *Dense) SetZero() error { return m.device.FillZero(m.buf) }

// Load copies host values into the buffer.
func (m *Dense) Load(values []float32) error {
	if len(values) != m.size {
		return errors.Errorf("Dense.Load: got %d values for a buffer of size %d", len(values), m.size)
	}
	return m.device.LoadFloats(m.buf, values)
}

// Read copies the buffer back to the host.
func (m *Dense) Read() ([]float32, error) {
	values := make([]float32, m.size)
	if err := m.device.ReadFloats(m.buf, values); err != nil {
		return nil, err
	}
	return values, nil
}

// Tensor is the device-resident storage of one graph node: a value
// buffer, a gradient buffer iff the node requires gradients, and an index
// buffer iff the node is sparse. Tensors are created by Builder.Build and
// live exactly as long as their Graph.
type Tensor struct {
	node   Node
	device backends.Device
	values *Dense
	grad   *Dense
	idx    backends.Buffer
}

func newTensor(device backends.Device, nd *nodeData) (*Tensor, error) {
	t := &Tensor{node: nd.own, device: device}
	batch := nd.own.shape.Cols
	if nd.weight {
		batch = 0
	}
	if nd.own.IsSparse() {
		idx, err := device.AllocateInts(nd.own.maxActive * nd.own.shape.Cols)
		if err != nil {
			return nil, err
		}
		t.idx = idx
		return t, nil
	}
	values, err := newDense(device, nd.size, batch)
	if err != nil {
		return nil, err
	}
	t.values = values
	if nd.requiresGrad {
		grad, err := newDense(device, nd.size, batch)
		if err != nil {
			return nil, err
		}
		t.grad = grad
	}
	return t, nil
}

// Node returns the handle this tensor backs.
func (t *Tensor) Node() Node { return t.node }

// Values returns the value buffer, nil for sparse tensors.
func (t *Tensor) Values() *Dense { return t.values }

// Grad returns the gradient buffer, nil unless the node requires
// gradients.
func (t *Tensor) Grad() *Dense { return t.grad }

// LoadIndices fills a sparse tensor's index buffer: maxActive indices per
// column, -1 terminated.
func (t *Tensor) LoadIndices(indices []int32) error {
	if t.idx == nil {
		return errors.Errorf("LoadIndices on dense %s", t.node)
	}
	if len(indices) != t.idx.Size() {
		return errors.Errorf("LoadIndices: got %d indices for %s, want %d", len(indices), t.node, t.idx.Size())
	}
	return t.device.LoadInts(t.idx, indices)
}

// Indices returns the sparse index buffer, nil for dense tensors.
func (t *Tensor) Indices() backends.Buffer { return t.idx }

// SeedRandom fills the value buffer from a normal (or, with normal=false,
// uniform) distribution. Used once for weight initialization right after
// build.
func (t *Tensor) SeedRandom(mean, stddev float32, normal bool) error {
	if t.values == nil {
		return errors.Errorf("SeedRandom on sparse %s", t.node)
	}
	if normal {
		return t.values.device.FillRandomNormal(t.values.buf, mean, stddev)
	}
	return t.values.device.FillRandomUniform(t.values.buf, mean, stddev)
}

func (t *Tensor) gradBuffer() backends.Buffer {
	if t.grad == nil {
		return nil
	}
	return t.grad.buf
}
