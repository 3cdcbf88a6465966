// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"github.com/gomlx/symtrain/pkg/core/graph"
	"github.com/gomlx/symtrain/pkg/core/tensors"
)

// Dataset for a train.Loop provides the data, one minibatch at a time.
//
// Each minibatch maps the inputs of the model, loss and evaluation functions to their values.
// Values of sequences of different lengths are padded, with a tensors.Mask marking the padding.
type Dataset interface {
	// Name identifies the dataset. Used for logging.
	Name() string

	// Reset restarts the dataset from the beginning. Can be called after io.EOF is reached,
	// for instance when running another epoch.
	Reset()

	// Yield returns the next minibatch, or io.EOF at the end of the dataset (or of the epoch).
	//
	// Using Loop.RunSteps with a dataset that loops indefinitely is ok, but not with Loop.RunEpochs.
	Yield() (arguments map[*graph.Variable]*tensors.Value, err error)
}
