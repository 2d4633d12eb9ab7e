// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import "math"

// Schedule yields a training-loop scalar (learning rate, WDL blend
// weight) as a function of the superbatch counter, starting at 0.
type Schedule interface {
	At(superbatch int) float32
}

// ConstantLR keeps the learning rate fixed.
type ConstantLR struct {
	Value float32
}

// At implements Schedule.
func (s ConstantLR) At(int) float32 { return s.Value }

// StepLR multiplies the learning rate by Gamma every Step superbatches.
type StepLR struct {
	Start float32
	Gamma float32
	Step  int
}

// At implements Schedule.
func (s StepLR) At(superbatch int) float32 {
	return s.Start * float32(math.Pow(float64(s.Gamma), float64(superbatch/s.Step)))
}

// CosineDecayLR anneals the learning rate from Start to Final over
// FinalSuperbatch superbatches along a half cosine, then holds Final.
type CosineDecayLR struct {
	Start, Final    float32
	FinalSuperbatch int
}

// At implements Schedule.
func (s CosineDecayLR) At(superbatch int) float32 {
	if superbatch >= s.FinalSuperbatch {
		return s.Final
	}
	t := float64(superbatch) / float64(s.FinalSuperbatch)
	return s.Final + 0.5*(s.Start-s.Final)*float32(1+math.Cos(math.Pi*t))
}

// ConstantWDL keeps the game-result blend weight fixed.
type ConstantWDL struct {
	Value float32
}

// At implements Schedule.
func (s ConstantWDL) At(int) float32 { return s.Value }

// LinearWDL interpolates the blend weight from Start to Final over
// FinalSuperbatch superbatches, then holds Final.
type LinearWDL struct {
	Start, Final    float32
	FinalSuperbatch int
}

// At implements Schedule.
func (s LinearWDL) At(superbatch int) float32 {
	if superbatch >= s.FinalSuperbatch {
		return s.Final
	}
	t := float32(superbatch) / float32(s.FinalSuperbatch)
	return s.Start + (s.Final-s.Start)*t
}
