// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"fmt"
	"math"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// unknownEndFirstCall is the number of steps before the first call of NTimesDuringLoop when the loop
// doesn't know its EndStep. Later calls happen at doubling intervals.
const unknownEndFirstCall = 128

// NTimesDuringLoop registers an OnStep hook that calls fn at most n times, evenly spread over the steps
// of the loop. The last step of the loop is always included.
//
// With Loop.RunEpochs the EndStep is only known after the first epoch, until then fn is called at
// steps 128, 256, 512, ..., so the total may exceed n.
func NTimesDuringLoop(loop *Loop, n int, name string, priority Priority, fn OnStepFn) {
	if n <= 0 {
		exceptions.Panicf("NTimesDuringLoop(n=%d): n must be > 0", n)
	}
	calls := 0
	loop.OnStep(fmt.Sprintf("NTimesDuringLoop(%d): %s", n, name), priority, func(loop *Loop, metrics StepMetrics) error {
		done := loop.LoopStep - loop.StartStep + 1
		switch {
		case loop.EndStep < 0:
			if done < unknownEndFirstCall<<calls {
				return nil
			}
		case loop.LoopStep < loop.EndStep-1:
			total := loop.EndStep - loop.StartStep
			if total > n && calls*total > done*n {
				return nil
			}
		}
		calls++
		return fn(loop, metrics)
	})
}

// EveryNSteps registers an OnStep hook that calls fn once every n steps. The last step is not
// specially handled.
func EveryNSteps(loop *Loop, n int, name string, priority Priority, fn OnStepFn) {
	if n <= 0 {
		exceptions.Panicf("EveryNSteps(n=%d): n must be > 0", n)
	}
	seen := 0
	loop.OnStep(fmt.Sprintf("EveryNSteps(%d): %s", n, name), priority, func(loop *Loop, metrics StepMetrics) error {
		seen++
		if seen%n != 0 {
			return nil
		}
		return fn(loop, metrics)
	})
}

// PeriodicCallback registers an OnStep hook that calls fn every period of wall time. The clock starts at
// the first step and restarts after each fn returns, so time spent in fn (or paused) doesn't count.
//
// If callOnEnd is set, fn is also called at the end of the loop.
func PeriodicCallback(loop *Loop, period time.Duration, callOnEnd bool, name string, priority Priority, fn OnStepFn) {
	var last time.Time
	fullName := fmt.Sprintf("PeriodicCallback(%s): %s", period, name)
	loop.OnStep(fullName, priority, func(loop *Loop, metrics StepMetrics) error {
		if last.IsZero() {
			last = time.Now()
			return nil
		}
		if time.Since(last) < period {
			return nil
		}
		err := fn(loop, metrics)
		last = time.Now()
		return err
	})
	if callOnEnd {
		loop.OnEnd(fullName, priority, OnEndFn(fn))
	}
}

// ExponentialCallback registers an OnStep hook called with exponentially growing intervals: the first
// interval is startStep steps, and each following one is exponentialFactor times longer.
//
// For instance, with startStep=100 and exponentialFactor=1.2, fn is called at steps 100, 220, 364, ...
//
// If callOnEnd is set, fn is also called at the end of the loop.
func ExponentialCallback(loop *Loop, startStep int, exponentialFactor float64, callOnEnd bool,
	name string, priority Priority, fn OnStepFn) {
	if startStep <= 0 || exponentialFactor <= 1 {
		exceptions.Panicf("ExponentialCallback(startStep=%d, exponentialFactor=%g): startStep must be > 0 "+
			"and exponentialFactor must be > 1", startStep, exponentialFactor)
	}
	var next, interval int
	advance := func() {
		next += interval
		interval = int(math.Round(float64(interval) * exponentialFactor))
	}
	fullName := fmt.Sprintf("ExponentialCallback(%d, %g): %s", startStep, exponentialFactor, name)
	loop.OnStep(fullName, priority, func(loop *Loop, metrics StepMetrics) error {
		if interval == 0 {
			// First call: skip the schedule forward to the loop's start.
			interval = startStep
			for next <= loop.StartStep {
				advance()
			}
		}
		if loop.LoopStep < next {
			return nil
		}
		advance()
		return fn(loop, metrics)
	})
	if callOnEnd {
		loop.OnEnd(fullName, priority, OnEndFn(fn))
	}
}

// SaveCheckpointEveryNSteps registers hooks that save the loop's trainer to path every n steps and at
// the end of the loop. See Trainer.SaveCheckpoint.
func SaveCheckpointEveryNSteps(loop *Loop, n int, path string, legacyFormat bool) {
	save := func(loop *Loop, _ StepMetrics) error {
		if err := loop.Trainer.SaveCheckpoint(path, legacyFormat); err != nil {
			return errors.WithMessagef(err, "checkpoint at step %d", loop.LoopStep)
		}
		klog.V(1).Infof("saved checkpoint %s at step %d", path, loop.LoopStep)
		return nil
	}
	EveryNSteps(loop, n, "SaveCheckpoint", Priority(100), save)
	loop.OnEnd("SaveCheckpoint", Priority(100), save)
}
