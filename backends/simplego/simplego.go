// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a pure-Go backends.Device.
//
// It is the reference implementation: a correctness baseline for other
// devices and the default device for tests and small training runs. Its
// kernels are straightforward loops over column-major float32 slices; no
// attempt is made at vectorization.
//
// It registers itself under the name "simplego".
package simplego

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cairnml/cairn/backends"
)

// Name of the device, as registered with the backends registry.
const Name = "simplego"

func init() {
	backends.Register(Name, func(config string) (backends.Device, error) {
		if config != "" {
			return nil, errors.Errorf("simplego device takes no configuration, got %q", config)
		}
		return New(), nil
	})
}

// Device is a pure-Go backends.Device. It is stateless except for the
// buffers it hands out; the zero value is not usable, create it with New.
type Device struct{}

var _ backends.Device = &Device{}

// New returns a ready-to-use simplego device.
func New() *Device { return &Device{} }

// Name implements backends.Device.
func (d *Device) Name() string { return Name }

// Description implements backends.Device.
func (d *Device) Description() string { return "pure-Go reference device (column-major float32)" }

// floatBuffer is a host-resident float32 buffer.
type floatBuffer struct {
	data []float32
}

// Size implements backends.Buffer.
func (b *floatBuffer) Size() int { return len(b.data) }

// intBuffer is a host-resident int32 index buffer for sparse tensors.
type intBuffer struct {
	data []int32
}

// Size implements backends.Buffer.
func (b *intBuffer) Size() int { return len(b.data) }

// floats unwraps a buffer created by this device, or returns an error for
// foreign or index buffers. A nil buffer unwraps to nil, for the optional
// bias and gradient arguments of kernels.
func (d *Device) floats(buf backends.Buffer, what string) ([]float32, error) {
	if buf == nil {
		return nil, nil
	}
	fb, ok := buf.(*floatBuffer)
	if !ok {
		return nil, errors.Errorf("%s: buffer was not allocated by the simplego device (%T)", what, buf)
	}
	return fb.data, nil
}

func (d *Device) ints(buf backends.Buffer, what string) ([]int32, error) {
	if buf == nil {
		return nil, nil
	}
	ib, ok := buf.(*intBuffer)
	if !ok {
		return nil, errors.Errorf("%s: buffer is not a simplego index buffer (%T)", what, buf)
	}
	return ib.data, nil
}

// AllocateFloats implements backends.Device.
func (d *Device) AllocateFloats(size int) (backends.Buffer, error) {
	if size <= 0 {
		return nil, errors.Errorf("AllocateFloats: size must be positive, got %d", size)
	}
	return &floatBuffer{data: make([]float32, size)}, nil
}

// AllocateInts implements backends.Device. The buffer comes back filled
// with -1, the terminator value for sparse index lists.
func (d *Device) AllocateInts(size int) (backends.Buffer, error) {
	if size <= 0 {
		return nil, errors.Errorf("AllocateInts: size must be positive, got %d", size)
	}
	data := make([]int32, size)
	for i := range data {
		data[i] = -1
	}
	return &intBuffer{data: data}, nil
}

// FillZero implements backends.Device.
func (d *Device) FillZero(buf backends.Buffer) error {
	switch b := buf.(type) {
	case *floatBuffer:
		clear(b.data)
	case *intBuffer:
		for i := range b.data {
			b.data[i] = -1
		}
	default:
		return errors.Errorf("FillZero: buffer was not allocated by the simplego device (%T)", buf)
	}
	return nil
}

// FillRandomNormal implements backends.Device.
func (d *Device) FillRandomNormal(buf backends.Buffer, mean, stddev float32) error {
	data, err := d.floats(buf, "FillRandomNormal")
	if err != nil {
		return err
	}
	dist := distuv.Normal{Mu: float64(mean), Sigma: float64(stddev)}
	for i := range data {
		data[i] = float32(dist.Rand())
	}
	return nil
}

// FillRandomUniform implements backends.Device.
func (d *Device) FillRandomUniform(buf backends.Buffer, mean, width float32) error {
	data, err := d.floats(buf, "FillRandomUniform")
	if err != nil {
		return err
	}
	dist := distuv.Uniform{Min: float64(mean - width), Max: float64(mean + width)}
	for i := range data {
		data[i] = float32(dist.Rand())
	}
	return nil
}

// LoadFloats implements backends.Device.
func (d *Device) LoadFloats(buf backends.Buffer, src []float32) error {
	data, err := d.floats(buf, "LoadFloats")
	if err != nil {
		return err
	}
	if len(src) > len(data) {
		return errors.Errorf("LoadFloats: %d values don't fit a buffer of size %d", len(src), len(data))
	}
	copy(data, src)
	return nil
}

// ReadFloats implements backends.Device.
func (d *Device) ReadFloats(buf backends.Buffer, dst []float32) error {
	data, err := d.floats(buf, "ReadFloats")
	if err != nil {
		return err
	}
	if len(dst) > len(data) {
		return errors.Errorf("ReadFloats: requested %d values from a buffer of size %d", len(dst), len(data))
	}
	copy(dst, data)
	return nil
}

// LoadInts implements backends.Device.
func (d *Device) LoadInts(buf backends.Buffer, src []int32) error {
	data, err := d.ints(buf, "LoadInts")
	if err != nil {
		return err
	}
	if len(src) > len(data) {
		return errors.Errorf("LoadInts: %d indices don't fit a buffer of size %d", len(src), len(data))
	}
	copy(data, src)
	return nil
}

// AdamStep implements backends.Device.
//
// Both moment estimates are bias-corrected with cfg.Step before the
// update, and the raw gradient is scaled by cfg.GradientFactor first.
func (d *Device) AdamStep(size int, weights, grads, momentum, velocity backends.Buffer, cfg backends.AdamConfig) error {
	w, err := d.floats(weights, "AdamStep weights")
	if err != nil {
		return err
	}
	g, err := d.floats(grads, "AdamStep grads")
	if err != nil {
		return err
	}
	m, err := d.floats(momentum, "AdamStep momentum")
	if err != nil {
		return err
	}
	v, err := d.floats(velocity, "AdamStep velocity")
	if err != nil {
		return err
	}
	beta1, beta2 := float64(cfg.Beta1), float64(cfg.Beta2)
	debias1 := 1.0 / (1.0 - math.Pow(beta1, float64(cfg.Step)))
	debias2 := 1.0 / (1.0 - math.Pow(beta2, float64(cfg.Step)))
	for i := 0; i < size; i++ {
		grad := float64(g[i]) * float64(cfg.GradientFactor)
		mi := beta1*float64(m[i]) + (1.0-beta1)*grad
		vi := beta2*float64(v[i]) + (1.0-beta2)*grad*grad
		m[i], v[i] = float32(mi), float32(vi)
		step := float64(cfg.LearningRate) * (mi * debias1) / (math.Sqrt(vi*debias2) + float64(cfg.Epsilon))
		w[i] -= float32(step)
	}
	return nil
}
