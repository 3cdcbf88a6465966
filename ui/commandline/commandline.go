// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line.
package commandline

import (
	"fmt"
	"io"
	"os"

	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/gomlx/symtrain/pkg/ml/train"
	"github.com/pkg/errors"
)

// Environment variables set by the Jupyter kernels (bash_kernel and GoNB), in which case the
// progress bar is printed in one line.
var notebookEnvVars = []string{"NOTEBOOK_BASH_KERNEL_CAPABILITIES", "GONB_PIPE"}

func isNotebook() bool {
	for _, name := range notebookEnvVars {
		if _, found := os.LookupEnv(name); found {
			return true
		}
	}
	return false
}

// EvaluateDataset returns the evaluation average per sample over all minibatches of ds, until io.EOF.
//
// The average of each minibatch is weighted by its number of samples, taken as the largest sample count
// among its arguments.
func EvaluateDataset(trainer *train.Trainer, device tensors.Device, ds train.Dataset) (float64, error) {
	var total float64
	var count int
	for {
		arguments, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.WithMessagef(err, "dataset %q", ds.Name())
		}
		average, err := trainer.TestMinibatch(arguments, device)
		if err != nil {
			return 0, errors.WithMessagef(err, "dataset %q", ds.Name())
		}
		samples := 0
		for v, value := range arguments {
			samples = max(samples, train.SampleCount(v, value))
		}
		total += average * float64(samples)
		count += samples
	}
	if count == 0 {
		return 0, errors.Errorf("dataset %q has no samples", ds.Name())
	}
	return total / float64(count), nil
}

// ReportEval reports on the command line the evaluation average of the trainer on each of the datasets.
// Each dataset is reset before it is evaluated, so it is evaluated in full, and again afterwards.
func ReportEval(trainer *train.Trainer, device tensors.Device, datasets ...train.Dataset) error {
	for _, ds := range datasets {
		ds.Reset()
		average, err := EvaluateDataset(trainer, device, ds)
		if err != nil {
			return err
		}
		fmt.Printf("Results on %s:\n\tevaluation: %s\n", ds.Name(), FormatMetric(average))
		ds.Reset()
	}
	return nil
}
