// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"os"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/dictionary"
	"github.com/gomlx/symtrain/pkg/core/graph"
	"github.com/gomlx/symtrain/pkg/core/shapes"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/gomlx/symtrain/pkg/ml/learners"
	"github.com/gomlx/symtrain/pkg/ml/train"
	"github.com/gomlx/symtrain/pkg/support/xslices"
	"github.com/pkg/errors"
)

var (
	variablesHeader = []string{"Kind", "Name", "UID", "DType", "Shape", "Dynamic Axes", "Size", "Bytes"}
	learnersHeader  = []string{"#", "Algorithm", "Samples", "Minibatches", "Buffers", "Bytes"}
)

// loadModel reads the model saved in path into a new graph.
// Legacy format models hold only the values of the variables, and are not supported.
func loadModel(path string) (*graph.Function, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open model file %s", path)
	}
	defer func() { _ = f.Close() }()
	reader := bufio.NewReader(f)
	header, err := reader.Peek(len(dictionary.Magic))
	if err != nil || !dictionary.HasMagic(header) {
		return nil, errors.Errorf("%s is not a structured-record model: legacy format models are not supported", path)
	}
	record, err := dictionary.Decode(reader)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to read model file %s", path)
	}
	var model *graph.Function
	err = exceptions.TryCatch[error](func() {
		model = graph.Load(graph.NewGraph(path), record, tensors.HostDevice())
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid model file %s", path)
	}
	return model, nil
}

// describeLearners summarizes the learners' state saved along the model in path.
func describeLearners(path string) ([]learners.StateSummary, error) {
	states, err := train.ReadLearnerStates(path)
	if err != nil {
		return nil, err
	}
	summaries := make([]learners.StateSummary, len(states))
	for ii, state := range states {
		summaries[ii], err = learners.DescribeState(state)
		if err != nil {
			return nil, errors.WithMessagef(err, "learner #%d", ii)
		}
	}
	return summaries, nil
}

func variableBytes(v *graph.Variable) int {
	return v.Shape().Size() * v.DType().Size()
}

// summaryRows returns the rows of the summary table.
func summaryRows(path string, model *graph.Function, states []learners.StateSummary) [][]string {
	params := model.Parameters()
	constants := model.Constants()
	paramElements := xslices.Sum(xslices.Map(params, func(v *graph.Variable) int { return v.Shape().Size() }))
	valuesBytes := xslices.Sum(xslices.Map(slices.Concat(params, constants), variableBytes))
	bufferBytes := xslices.Sum(xslices.Map(states, func(s learners.StateSummary) int { return s.BufferBytes }))
	samples := 0
	if len(states) > 0 {
		samples = slices.MaxFunc(states, func(a, b learners.StateSummary) int { return a.SampleCount - b.SampleCount }).SampleCount
	}
	return [][]string{
		{"checkpoint", path},
		{"function", model.String()},
		{"# functions", humanize.Comma(int64(model.Graph().NumFunctions()))},
		{"# arguments", humanize.Comma(int64(len(model.Arguments())))},
		{"# parameters", humanize.Comma(int64(len(params)))},
		{"# parameter elements", humanize.Comma(int64(paramElements))},
		{"# constants", humanize.Comma(int64(len(constants)))},
		{"values size", humanize.Bytes(uint64(valuesBytes))},
		{"# learners", humanize.Comma(int64(len(states)))},
		{"learners buffers size", humanize.Bytes(uint64(bufferBytes))},
		{"samples seen", humanize.Comma(int64(samples))},
	}
}

// variableRows returns one row per leaf variable of the model with one of the given kinds.
func variableRows(model *graph.Function, kinds []graph.Kind) [][]string {
	var rows [][]string
	for _, v := range model.Inputs() {
		if !slices.Contains(kinds, v.Kind()) {
			continue
		}
		axes := xslices.Map(v.DynamicAxes(), func(axis shapes.Axis) string { return axis.String() })
		rows = append(rows, []string{
			v.Kind().String(), v.Name(), v.UID(), v.DType().String(), v.Shape().String(),
			strings.Join(axes, ","),
			humanize.Comma(int64(v.Shape().Size())),
			humanize.Bytes(uint64(variableBytes(v))),
		})
	}
	return rows
}

// learnerRows returns one row per learner state.
func learnerRows(states []learners.StateSummary) [][]string {
	rows := make([][]string, len(states))
	for ii, s := range states {
		rows[ii] = []string{
			humanize.Comma(int64(ii)), s.Algorithm,
			humanize.Comma(int64(s.SampleCount)), humanize.Comma(int64(s.MinibatchCount)),
			humanize.Comma(int64(s.NumBuffers)), humanize.Bytes(uint64(s.BufferBytes)),
		}
	}
	return rows
}
