// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"cmp"
	"io"
	"math"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/graph"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Priority orders the hooks of a Loop: lower values run first, and hooks with equal priority run in
// registration order. Negative values are fine.
type Priority int

// StepMetrics are the results of one training step.
type StepMetrics struct {
	// Loss and Evaluation averages per sample. Evaluation is NaN if the trainer has no evaluation function.
	Loss, Evaluation float64

	// SampleCount of the minibatch.
	SampleCount int

	// Updated is whether any learner updated its parameters.
	Updated bool
}

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(loop *Loop, ds Dataset) error

// OnStepFn is the type of OnStep hooks.
type OnStepFn func(loop *Loop, metrics StepMetrics) error

// OnEndFn is the type of OnEnd hooks.
type OnEndFn func(loop *Loop, metrics StepMetrics) error

// Loop drives a Trainer over a Dataset, calling Trainer.TrainMinibatch once per step and the registered
// OnStart, OnStep and OnEnd hooks around it. Panics raised during a step are returned as errors.
//
// Progress bars, checkpointing or early stopping are all implemented as hooks.
//
// The exported fields are read-only for hooks.
type Loop struct {
	Trainer *Trainer
	Device  tensors.Device

	// LoopStep is the step currently executing. It is preserved across runs, so a second RunSteps or
	// RunEpochs continues the count.
	LoopStep int

	// StartStep is LoopStep at the start of the current run.
	StartStep int

	// EndStep is one past the last step of the current run, or -1 if unknown. RunEpochs starts with -1
	// and extrapolates it at the end of each epoch.
	EndStep int

	// Epoch being run by RunEpochs, starting from 0.
	Epoch int

	// SharedData is a free-form space for hooks to exchange information.
	SharedData map[string]any

	// TrainStepDurations of the current run.
	TrainStepDurations []time.Duration

	onStart hooks[OnStartFn]
	onStep  hooks[OnStepFn]
	onEnd   hooks[OnEndFn]
}

// NewLoop creates a training loop for trainer that executes on device.
func NewLoop(trainer *Trainer, device tensors.Device) *Loop {
	return &Loop{
		Trainer:    trainer,
		Device:     device,
		SharedData: make(map[string]any),
	}
}

func (loop *Loop) start(ds Dataset) error {
	for _, h := range loop.onStart.sorted() {
		if err := h.fn(loop, ds); err != nil {
			return errors.WithMessagef(err, "OnStart(hook %q)", h.name)
		}
	}
	return nil
}

// step trains on the next minibatch of ds and calls the OnStep hooks. It returns io.EOF unchanged at the
// end of the dataset.
func (loop *Loop) step(ds Dataset) (metrics StepMetrics, err error) {
	arguments, err := ds.Yield()
	if err != nil {
		return metrics, err
	}
	began := time.Now()
	if panicErr := exceptions.TryCatch[error](func() { metrics, err = loop.trainStep(arguments) }); panicErr != nil {
		err = panicErr
	}
	loop.TrainStepDurations = append(loop.TrainStepDurations, time.Since(began))
	if err != nil {
		return metrics, err
	}
	for _, h := range loop.onStep.sorted() {
		if err = h.fn(loop, metrics); err != nil {
			return metrics, errors.WithMessagef(err, "OnStep(hook %q)", h.name)
		}
	}
	switch {
	case math.IsNaN(metrics.Loss):
		return metrics, errors.New("batch loss is NaN, training interrupted")
	case math.IsInf(metrics.Loss, 0):
		return metrics, errors.Errorf("batch loss is %g, training interrupted", metrics.Loss)
	}
	return metrics, nil
}

func (loop *Loop) trainStep(arguments map[*graph.Variable]*tensors.Value) (metrics StepMetrics, err error) {
	metrics.Evaluation = math.NaN()
	if metrics.Updated, err = loop.Trainer.TrainMinibatch(arguments, loop.Device); err != nil {
		return
	}
	metrics.SampleCount = loop.Trainer.PreviousMinibatchSampleCount()
	if metrics.Loss, err = loop.Trainer.PreviousMinibatchLossAverage(); err != nil {
		return
	}
	if loop.Trainer.EvaluationFunction() != nil {
		metrics.Evaluation, err = loop.Trainer.PreviousMinibatchEvaluationAverage()
	}
	return
}

func (loop *Loop) end(metrics StepMetrics) error {
	for _, h := range loop.onEnd.sorted() {
		if err := h.fn(loop, metrics); err != nil {
			return errors.WithMessagef(err, "OnEnd(hook %q)", h.name)
		}
	}
	klog.V(1).Infof("train.Loop: %s steps done, median step duration %s",
		humanize.Comma(int64(loop.LoopStep-loop.StartStep)), loop.MedianTrainStepDuration())
	return nil
}

// RunSteps trains for the given number of steps, continuing from the current LoopStep. The dataset must
// not run out before that, use RunEpochs for finite datasets.
//
// It returns the metrics of the last step.
func (loop *Loop) RunSteps(ds Dataset, steps int) (metrics StepMetrics, err error) {
	if steps <= 0 {
		return metrics, nil
	}
	loop.StartStep, loop.EndStep = loop.LoopStep, loop.LoopStep+steps
	if err = loop.start(ds); err != nil {
		return metrics, err
	}
	loop.TrainStepDurations = make([]time.Duration, 0, steps)
	for ; loop.LoopStep < loop.EndStep; loop.LoopStep++ {
		metrics, err = loop.step(ds)
		if err == io.EOF {
			return metrics, errors.Errorf("Dataset %q ended after %d of the %d steps requested: use a looping "+
				"Dataset, or Loop.RunEpochs instead", ds.Name(), loop.LoopStep-loop.StartStep, steps)
		}
		if err != nil {
			return metrics, errors.WithMessagef(err, "Loop.RunSteps(%d) at LoopStep=%d", steps, loop.LoopStep)
		}
	}
	if err = loop.end(metrics); err != nil {
		return metrics, errors.WithMessagef(err, "Loop.RunSteps(%d) end at LoopStep=%d", steps, loop.LoopStep)
	}
	return metrics, nil
}

// RunEpochs trains over ds the given number of times, continuing from the current LoopStep. Dataset.Reset
// is called after every epoch, including the last.
//
// EndStep is -1 during the first epoch, after that it is extrapolated from the number of steps of the
// previous epoch.
//
// It returns the metrics of the last step.
func (loop *Loop) RunEpochs(ds Dataset, epochs int) (metrics StepMetrics, err error) {
	loop.StartStep, loop.EndStep, loop.Epoch = loop.LoopStep, -1, 0
	if err = loop.start(ds); err != nil {
		return metrics, err
	}
	loop.TrainStepDurations = nil
	for ; loop.Epoch < epochs; loop.Epoch++ {
		epochSteps := 0
		for {
			stepMetrics, stepErr := loop.step(ds)
			if stepErr == io.EOF {
				break
			}
			if stepErr != nil {
				return metrics, errors.WithMessagef(stepErr, "Loop.RunEpochs(%d) at LoopStep=%d", epochs, loop.LoopStep)
			}
			metrics = stepMetrics
			epochSteps++
			loop.LoopStep++
		}
		if epochSteps == 0 {
			return metrics, errors.Errorf("Loop.RunEpochs(%d): Dataset %q is empty", epochs, ds.Name())
		}
		loop.EndStep = loop.LoopStep + epochSteps*(epochs-loop.Epoch-1)
		ds.Reset()
	}
	if err = loop.end(metrics); err != nil {
		return metrics, errors.WithMessagef(err, "Loop.RunEpochs(%d) end at LoopStep=%d", epochs, loop.LoopStep)
	}
	return metrics, nil
}

// MedianTrainStepDuration of the current run. It is 1 millisecond before any step, so callers can divide
// by it.
func (loop *Loop) MedianTrainStepDuration() time.Duration {
	if len(loop.TrainStepDurations) == 0 {
		return time.Millisecond
	}
	durations := slices.Clone(loop.TrainStepDurations)
	slices.Sort(durations)
	return durations[len(durations)/2]
}

// OnStart registers fn to be called at the start of every run. name is used in error messages.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.add(name, priority, fn)
}

// OnStep registers fn to be called after every Trainer.TrainMinibatch.
func (loop *Loop) OnStep(name string, priority Priority, fn OnStepFn) {
	loop.onStep.add(name, priority, fn)
}

// OnEnd registers fn to be called after the last step of every run.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.add(name, priority, fn)
}

type hook[F any] struct {
	name     string
	priority Priority
	fn       F
}

// hooks is kept sorted by priority, stable with respect to registration order.
type hooks[F any] []hook[F]

func (hs *hooks[F]) add(name string, priority Priority, fn F) {
	*hs = append(*hs, hook[F]{name: name, priority: priority, fn: fn})
	slices.SortStableFunc(*hs, func(a, b hook[F]) int { return cmp.Compare(a.priority, b.priority) })
}

// sorted returns a snapshot, so hooks can register more hooks while running.
func (hs hooks[F]) sorted() []hook[F] { return slices.Clone(hs) }
