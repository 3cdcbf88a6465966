// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package learners

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/dictionary"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Keys of the learner state record.
const (
	versionKey        = "version"
	typeKey           = "type"
	algorithmKey      = "learner"
	sampleCountKey    = "sample_count"
	minibatchCountKey = "minibatch_count"
	buffersKey        = "buffers"

	stateVersion   = 1
	stateTypeValue = "Learner"
)

var requiredStateKeys = map[string]dictionary.Type{
	versionKey:        dictionary.SizeTType,
	typeKey:           dictionary.StringType,
	algorithmKey:      dictionary.StringType,
	sampleCountKey:    dictionary.SizeTType,
	minibatchCountKey: dictionary.SizeTType,
	buffersKey:        dictionary.DictionaryType,
}

// Serialize implements Learner. The buffers are copied to the host.
func (l *learner) Serialize() dictionary.Dictionary {
	buffers := make(dictionary.Dictionary, len(l.buffers))
	for uid, buffer := range l.buffers {
		buffers[uid] = dictionary.TensorValue(buffer.DeepClone(tensors.HostDevice(), false))
	}
	return dictionary.Dictionary{
		versionKey:        dictionary.SizeT(stateVersion),
		typeKey:           dictionary.String(stateTypeValue),
		algorithmKey:      dictionary.String(l.config.algorithm.String()),
		sampleCountKey:    dictionary.SizeT(uint64(l.samplesSeen)),
		minibatchCountKey: dictionary.SizeT(uint64(l.minibatchesSeen)),
		buffersKey:        dictionary.Dict(buffers),
	}
}

// validateState panics if the record is not a learner state of a supported version.
func validateState(state dictionary.Dictionary) {
	state.FromTypes("learner state", requiredStateKeys)
	if version := state.Get(versionKey).AsSizeT(); version == 0 || version > stateVersion {
		exceptions.Panicf("learner state version %d not supported, current version is %d", version, stateVersion)
	}
	if gotType := state.Get(typeKey).AsString(); gotType != stateTypeValue {
		exceptions.Panicf("record of type %q is not a learner state", gotType)
	}
}

// RestoreFromCheckpoint implements Learner.
// Every buffer is validated before the state of the learner is changed.
func (l *learner) RestoreFromCheckpoint(state dictionary.Dictionary) {
	validateState(state)
	if algorithm := state.Get(algorithmKey).AsString(); algorithm != l.config.algorithm.String() {
		exceptions.Panicf("%s: cannot restore state of a %s learner", l, algorithm)
	}
	buffers := state.Get(buffersKey).AsDictionary()
	if len(buffers) != len(l.buffers) {
		exceptions.Panicf("%s: state has %d buffers, expected %d", l, len(buffers), len(l.buffers))
	}
	for uid, buffer := range l.buffers {
		if !buffers.Has(uid) {
			exceptions.Panicf("%s: state has no buffer for parameter %q", l, uid)
		}
		saved := buffers.Get(uid).AsTensor()
		if saved.DType() != buffer.DType() || !saved.Shape().Equal(buffer.Shape()) {
			exceptions.Panicf("%s: buffer shaped (%s)%s for parameter %q, expected (%s)%s",
				l, saved.DType(), saved.Shape(), uid, buffer.DType(), buffer.Shape())
		}
	}
	for uid, buffer := range l.buffers {
		buffer.CopyFrom(buffers.Get(uid).AsTensor().CopyTo(buffer.Device()))
	}
	l.samplesSeen = state.Get(sampleCountKey).AsInt()
	l.minibatchesSeen = state.Get(minibatchCountKey).AsInt()
	klog.V(1).Infof("%s: restored state after %d samples in %d minibatches", l, l.samplesSeen, l.minibatchesSeen)
}

// StateSummary describes a learner state record.
type StateSummary struct {
	Algorithm                   string
	SampleCount, MinibatchCount int

	// NumBuffers is the number of parameters with optimizer buffers, and BufferBytes their total size.
	NumBuffers  int
	BufferBytes int
}

// DescribeState summarizes a learner state record created by Learner.Serialize, without the learner.
func DescribeState(state dictionary.Dictionary) (summary StateSummary, err error) {
	err = exceptions.TryCatch[error](func() {
		validateState(state)
		summary.Algorithm = state.Get(algorithmKey).AsString()
		summary.SampleCount = state.Get(sampleCountKey).AsInt()
		summary.MinibatchCount = state.Get(minibatchCountKey).AsInt()
		for _, value := range state.Get(buffersKey).AsDictionary() {
			buffer := value.AsTensor()
			summary.NumBuffers++
			summary.BufferBytes += buffer.Size() * buffer.DType().Size()
		}
	})
	if err != nil {
		return StateSummary{}, errors.WithMessage(err, "invalid learner state")
	}
	return summary, nil
}
