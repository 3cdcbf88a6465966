// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"bufio"
	"os"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/dictionary"
	"github.com/gomlx/symtrain/pkg/core/graph"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/gomlx/symtrain/pkg/support/fsutil"
	"github.com/gomlx/symtrain/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CheckpointStateSuffix is appended to the model path to get the path of the learners' state file.
const CheckpointStateSuffix = ".ckp"

// Keys of the learners' state record.
const (
	learnersKey          = "learners"
	checkpointVersionKey = "version"
	checkpointTypeKey    = "type"

	checkpointVersion   = 1
	checkpointTypeValue = "TrainerCheckpoint"
)

// CheckpointStatePath returns the path of the file with the learners' state, for a checkpoint of
// the model saved in path.
func CheckpointStatePath(path string) string { return path + CheckpointStateSuffix }

// writeRecord truncates (or creates) the file at path and writes the encoded record.
func writeRecord(path string, d dictionary.Dictionary) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	writer := bufio.NewWriter(f)
	if err = dictionary.Encode(writer, d); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "failed to write %s", path)
	}
	if err = writer.Flush(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return errors.Wrapf(f.Close(), "failed to close %s", path)
}

// readRecord reads the encoded record in path.
func readRecord(path string) (dictionary.Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer func() { _ = f.Close() }()
	d, err := dictionary.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to read %s", path)
	}
	return d, nil
}

// SaveCheckpoint saves the combined training function to path, and the state of the learners, in
// order, to CheckpointStatePath(path). Existing files are truncated.
//
// If legacyFormat is set, only the values of the parameters and constants are saved, in the legacy
// model format (see graph.SaveAsLegacyModel).
//
// The files are not written atomically: a failure may leave them partially written or inconsistent.
func (t *Trainer) SaveCheckpoint(path string, legacyFormat bool) error {
	if legacyFormat {
		if err := graph.SaveAsLegacyModel(t.combined, path); err != nil {
			return errors.WithMessage(err, "SaveCheckpoint")
		}
	} else if err := writeRecord(path, graph.Save(t.combined)); err != nil {
		return errors.WithMessage(err, "SaveCheckpoint")
	}

	states := make([]dictionary.Value, len(t.learners))
	for ii, learner := range t.learners {
		states[ii] = dictionary.Dict(learner.Serialize())
	}
	statePath := CheckpointStatePath(path)
	err := writeRecord(statePath, dictionary.Dictionary{
		checkpointVersionKey: dictionary.SizeT(checkpointVersion),
		checkpointTypeKey:    dictionary.String(checkpointTypeValue),
		learnersKey:          dictionary.Vector(states...),
	})
	if err != nil {
		return errors.WithMessage(err, "SaveCheckpoint")
	}
	klog.V(1).Infof("SaveCheckpoint: saved model to %s and %d learner states to %s", path, len(states), statePath)
	return nil
}

// ReadLearnerStates reads the learners' state records, in order, saved with the checkpoint of the
// model saved in path. See CheckpointStatePath.
func ReadLearnerStates(path string) ([]dictionary.Dictionary, error) {
	statePath := CheckpointStatePath(path)
	if exists, err := fsutil.FileExists(statePath); err != nil {
		return nil, err
	} else if !exists {
		return nil, errors.Errorf("learners' state file %s not found", statePath)
	}
	d, err := readRecord(statePath)
	if err != nil {
		return nil, err
	}
	var states []dictionary.Dictionary
	err = exceptions.TryCatch[error](func() {
		d.FromTypes("learners' state", map[string]dictionary.Type{
			checkpointVersionKey: dictionary.SizeTType,
			checkpointTypeKey:    dictionary.StringType,
			learnersKey:          dictionary.VectorType,
		})
		if version := d.Get(checkpointVersionKey).AsSizeT(); version == 0 || version > checkpointVersion {
			exceptions.Panicf("version %d not supported", version)
		}
		if gotType := d.Get(checkpointTypeKey).AsString(); gotType != checkpointTypeValue {
			exceptions.Panicf("record of type %q is not a trainer checkpoint", gotType)
		}
		for _, state := range d.Get(learnersKey).AsVector() {
			states = append(states, state.AsDictionary())
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid learners' state file %s", statePath)
	}
	return states, nil
}

// RestoreFromCheckpoint restores the model and the learners' state saved by SaveCheckpoint.
//
// The learners' state file is read first: if it is missing or invalid, or if the model file is in
// the wrong format, it fails without changing anything. A model file that can't be loaded, or whose
// parameters differ from the learners' parameters, is also an error, and the parameters are left
// as they were.
//
// Without legacyFormat, the saved combined function replaces the current one: its inputs are
// rewired to the inputs of the current function with the same uid, and its parameters are the
// current parameters (matched by uid), with their values overwritten. With legacyFormat, only the
// values of the current parameters are overwritten.
//
// Learners are restored in order, from the state saved by the learner in the same position.
// Panics if the number of learner states saved doesn't match.
func (t *Trainer) RestoreFromCheckpoint(path string, legacyFormat bool) error {
	statePath := CheckpointStatePath(path)
	states, err := ReadLearnerStates(path)
	if err != nil {
		return errors.WithMessage(err, "RestoreFromCheckpoint")
	}
	if len(states) != len(t.learners) {
		exceptions.Panicf("RestoreFromCheckpoint: %s has %d learner states, but the trainer has %d learners",
			statePath, len(states), len(t.learners))
	}

	if legacyFormat {
		if err = t.combined.RestoreFromLegacyModel(path); err != nil {
			return errors.WithMessage(err, "RestoreFromCheckpoint")
		}
	} else {
		record, err := readRecord(path)
		if err != nil {
			return errors.WithMessage(err, "RestoreFromCheckpoint")
		}
		if err = t.restoreCombined(record); err != nil {
			return errors.WithMessage(err, "RestoreFromCheckpoint")
		}
	}

	for ii, learner := range t.learners {
		learner.RestoreFromCheckpoint(states[ii])
	}
	klog.V(1).Infof("RestoreFromCheckpoint: restored model from %s and %d learner states from %s",
		path, len(states), statePath)
	return nil
}

// restoreCombined loads the saved combined function into the graph of the current one, rewires its
// inputs and swaps it in. If the saved function is invalid or doesn't match the learners' parameters,
// the parameters and constants of the graph are rolled back and an error is returned.
func (t *Trainer) restoreCombined(record dictionary.Dictionary) (err error) {
	current := t.combined.Graph()
	snapshot := current.SnapshotLeaves()
	defer func() {
		if err != nil {
			snapshot.Restore()
		}
	}()

	var restored *graph.Function
	err = exceptions.TryCatch[error](func() {
		restored = graph.Load(current, record, tensors.DefaultDevice())
		inputs := make(map[string]*graph.Variable)
		for _, input := range t.combined.Arguments() {
			if input.IsInput() {
				inputs[input.UID()] = input
			}
		}
		replacements := make(map[*graph.Variable]*graph.Variable)
		for _, placeholder := range restored.Placeholders() {
			input, found := inputs[placeholder.UID()]
			if !found {
				exceptions.Panicf("saved input %s has no matching input in the current model", placeholder)
			}
			replacements[placeholder] = input
		}
		restored.ReplacePlaceholders(replacements)
	})
	if err != nil {
		return err
	}

	owned := sets.Make[string]()
	for _, learner := range t.learners {
		learnerParams := sets.Make[string]()
		for _, param := range learner.Parameters() {
			learnerParams.Insert(param.UID())
		}
		owned = owned.Union(learnerParams)
	}
	params := sets.Make[string]()
	for _, param := range restored.Parameters() {
		params.Insert(param.UID())
	}
	if !params.Equal(owned) {
		return errors.Errorf("restored model parameters differ from the learners' parameters: "+
			"not owned by any learner %q, missing from the restored model %q",
			sets.Sorted(params.Sub(owned)), sets.Sorted(owned.Sub(params)))
	}
	t.combined = restored
	return nil
}
