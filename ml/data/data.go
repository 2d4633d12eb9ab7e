// Copyright 2025-2026 The Cairn Authors. SPDX-License-Identifier: Apache-2.0

// Package data turns decoded training examples into device-loadable
// batches: sparse perspective feature indices, output bucket indices and
// blended scalar targets.
package data

import (
	"math"
	"runtime"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// GameResult is the discrete outcome label of a training example, from
// the side-to-move perspective.
type GameResult uint8

const (
	ResultLoss GameResult = iota
	ResultDraw
	ResultWin
)

// String implements fmt.Stringer.
func (r GameResult) String() string {
	switch r {
	case ResultLoss:
		return "loss"
	case ResultDraw:
		return "draw"
	case ResultWin:
		return "win"
	}
	return "invalid"
}

// Example is one decoded training position: an evaluation score in
// internal units and a game outcome.
type Example interface {
	Score() int16
	Result() GameResult
}

// FeatureSet maps an example to paired sparse feature indices, one list
// per perspective. MapFeatures calls emit once per active feature with
// the side-to-move index and the opponent index; it must emit at most
// MaxActive times and every index must be in [0, NumInputs).
type FeatureSet[T Example] interface {
	NumInputs() int
	MaxActive() int
	MapFeatures(example T, emit func(our, opp int))
}

// OutputBuckets assigns each example to one of NumBuckets output heads.
type OutputBuckets[T Example] interface {
	NumBuckets() int
	Bucket(example T) int
}

// SingleBucket is the trivial bucket scheme: every example shares one
// output head.
type SingleBucket[T Example] struct{}

// NumBuckets implements OutputBuckets.
func (SingleBucket[T]) NumBuckets() int { return 1 }

// Bucket implements OutputBuckets.
func (SingleBucket[T]) Bucket(T) int { return 0 }

// Batch is a prepared batch in device layout: ready to feed to
// Tensor.LoadIndices and Dense.Load.
type Batch struct {
	BatchSize int

	// STM and NTM hold MaxActive indices per example, -1 terminated.
	MaxActive int
	STM, NTM  []int32

	// Buckets holds one output head index per example.
	Buckets []int32

	// Targets holds OutputSize values per example: the blended scalar
	// target, or a 3-wide one-hot outcome in WDL mode.
	OutputSize int
	Targets    []float32
}

// PrepareBatch fans the examples out over contiguous per-worker chunks
// (ceil division, one goroutine each, disjoint output slices) and joins
// before returning. threads <= 0 means one worker per CPU.
//
// The scalar target blends the outcome with a squashed score:
// blend*result + (1-blend)*sigmoid(score/scale). With wdl set, targets
// are 3-wide one-hot outcome rows instead and blend/scale are unused.
//
// An example emitting more than MaxActive features is an authorship bug
// in the feature set and panics after all workers have joined.
func PrepareBatch[T Example](features FeatureSet[T], buckets OutputBuckets[T], examples []T, threads int, blend, scale float32, wdl bool) *Batch {
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	batchSize := len(examples)
	maxActive := features.MaxActive()
	outputSize := 1
	if wdl {
		outputSize = 3
	}
	batch := &Batch{
		BatchSize:  batchSize,
		MaxActive:  maxActive,
		STM:        make([]int32, maxActive*batchSize),
		NTM:        make([]int32, maxActive*batchSize),
		Buckets:    make([]int32, batchSize),
		OutputSize: outputSize,
		Targets:    make([]float32, outputSize*batchSize),
	}
	if batchSize == 0 {
		return batch
	}

	chunkSize := (batchSize + threads - 1) / threads
	rscale := 1.0 / scale

	var wg sync.WaitGroup
	workerErrs := make([]error, (batchSize+chunkSize-1)/chunkSize)
	for w, start := 0, 0; start < batchSize; w, start = w+1, start+chunkSize {
		end := min(start+chunkSize, batchSize)
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				example := examples[i]
				j := 0
				sparseOffset := maxActive * i
				features.MapFeatures(example, func(our, opp int) {
					if j < maxActive {
						batch.STM[sparseOffset+j] = int32(our)
						batch.NTM[sparseOffset+j] = int32(opp)
					}
					j++
				})
				if j > maxActive {
					workerErrs[w] = errors.Errorf("example #%d emitted %d features, feature set promises at most %d", i, j, maxActive)
					return
				}
				if j < maxActive {
					batch.STM[sparseOffset+j] = -1
					batch.NTM[sparseOffset+j] = -1
				}

				batch.Buckets[i] = int32(buckets.Bucket(example))

				if wdl {
					batch.Targets[outputSize*i+int(example.Result())] = 1
				} else {
					score := float32(1.0 / (1.0 + math.Exp(float64(-rscale*float32(example.Score())))))
					result := float32(example.Result()) / 2
					batch.Targets[i] = blend*result + (1-blend)*score
				}
			}
		}(w, start, end)
	}
	wg.Wait()
	for _, err := range workerErrs {
		if err != nil {
			exceptions.Panicf("data.PrepareBatch: %v", err)
		}
	}
	return batch
}
