// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package learners

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Schedule of per-sample learning rates, indexed by the number of samples seen so far.
//
// Rates[i] is used while the number of samples seen is in [i*SamplesPerRate, (i+1)*SamplesPerRate),
// and the last rate is used from then on.
type Schedule struct {
	Rates          []float64
	SamplesPerRate int
}

// ConstantSchedule always returns rate.
func ConstantSchedule(rate float64) Schedule {
	return Schedule{Rates: []float64{rate}, SamplesPerRate: 1}
}

// PiecewiseSchedule uses each rate for samplesPerRate samples, and the last one after that.
func PiecewiseSchedule(samplesPerRate int, rates ...float64) Schedule {
	return Schedule{Rates: rates, SamplesPerRate: samplesPerRate}
}

// At returns the learning rate after samplesSeen samples.
func (s Schedule) At(samplesSeen int) float64 {
	idx := samplesSeen / s.SamplesPerRate
	if idx >= len(s.Rates) {
		idx = len(s.Rates) - 1
	}
	return s.Rates[idx]
}

func (s Schedule) validate() error {
	if len(s.Rates) == 0 {
		return errors.New("learning rate schedule has no rates")
	}
	if s.SamplesPerRate <= 0 {
		return errors.Errorf("learning rate schedule with %d samples per rate, it must be positive", s.SamplesPerRate)
	}
	for _, rate := range s.Rates {
		if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			return errors.Errorf("invalid learning rate %g in schedule", rate)
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (s Schedule) String() string {
	if len(s.Rates) == 1 {
		return fmt.Sprintf("%g", s.Rates[0])
	}
	return fmt.Sprintf("%v every %d samples", s.Rates, s.SamplesPerRate)
}
