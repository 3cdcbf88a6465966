// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package train implements the Trainer, that trains a model one minibatch at a time with a set of
// learners and checkpoints it, and a Loop to run it over a Dataset with hooks.
package train

import (
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/graph"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/gomlx/symtrain/pkg/ml/learners"
	"github.com/gomlx/symtrain/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrInvalidArgument is wrapped by the errors caused by arguments the caller can correct.
// Test for it with errors.Is.
var ErrInvalidArgument = errors.New("invalid argument")

// Trainer trains a model with a loss function, and optionally evaluates it with an evaluation
// function, one minibatch at a time. The parameters of the model are updated by a fixed set of
// learners, each owning a disjoint subset of them.
//
// A Trainer is not safe for concurrent use.
type Trainer struct {
	model, loss, evaluation *graph.Function

	// aggregatedLoss and aggregatedEvaluation are the sum of the loss and evaluation over all samples.
	aggregatedLoss, aggregatedEvaluation *graph.Variable

	// combined computes the model, aggregatedLoss, loss, aggregatedEvaluation and evaluation.
	// It is replaced when restoring from a checkpoint.
	combined *graph.Function

	learners []learners.Learner

	// Statistics of the last minibatch trained.
	prevAggregatedLoss, prevAggregatedEvaluation *tensors.Value
	prevSampleCount                              int
}

// NewTrainer creates a Trainer for model, with the given loss and (optional, it can be nil)
// evaluation functions. Loss and evaluation must produce one value per sample, that is, their
// outputs must have dynamic axes.
//
// The parameters of the combined computation must be exactly the union of the parameters of the
// learners, and no parameter can be owned by more than one learner.
//
// Errors caused by invalid arguments wrap ErrInvalidArgument.
func NewTrainer(model, loss, evaluation *graph.Function, parameterLearners []learners.Learner) (
	trainer *Trainer, err error) {
	if model == nil || loss == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "NewTrainer: model and loss functions are required")
	}
	if err = checkPerSampleOutput("loss", loss); err != nil {
		return nil, err
	}
	if evaluation != nil {
		if err = checkPerSampleOutput("evaluation", evaluation); err != nil {
			return nil, err
		}
	}

	trainer = &Trainer{model: model, loss: loss, evaluation: evaluation, learners: parameterLearners}
	panicErr := exceptions.TryCatch[error](func() {
		trainer.aggregatedLoss = graph.ReduceSum(loss.Output(), "aggregateLoss")
		outputs := append(model.Outputs(), trainer.aggregatedLoss, loss.Output())
		if evaluation != nil {
			trainer.aggregatedEvaluation = graph.ReduceSum(evaluation.Output(), "aggregateEvalMetric")
			outputs = append(outputs, trainer.aggregatedEvaluation, evaluation.Output())
		}
		trainer.combined = graph.Combine("combinedTraining", outputs...)
	})
	if panicErr != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "NewTrainer: failed to combine model, loss and evaluation: %v", panicErr)
	}
	if err = trainer.checkLearners(); err != nil {
		return nil, err
	}
	klog.V(1).Infof("NewTrainer: %d parameters, %d learners", len(trainer.combined.Parameters()), len(parameterLearners))
	return trainer, nil
}

func checkPerSampleOutput(what string, f *graph.Function) error {
	outputs := f.Outputs()
	if len(outputs) != 1 {
		return errors.Wrapf(ErrInvalidArgument, "NewTrainer: %s function %s must have exactly one output, it has %d",
			what, f, len(outputs))
	}
	if outputs[0].NumDynamicAxes() == 0 {
		return errors.Wrapf(ErrInvalidArgument,
			"NewTrainer: %s function output %s has no dynamic axes, it must produce one value per sample", what, outputs[0])
	}
	return nil
}

// checkLearners verifies that the parameters of the combined function are exactly those owned
// by the learners, and that no parameter has more than one learner.
func (t *Trainer) checkLearners() error {
	owned := sets.Make[string]()
	for ii, learner := range t.learners {
		for _, param := range learner.Parameters() {
			if owned.Has(param.UID()) {
				return errors.Wrapf(ErrInvalidArgument, "NewTrainer: parameter %s is owned by more than one learner (learner #%d)",
					param, ii)
			}
			owned.Insert(param.UID())
		}
	}
	params := sets.Make[string]()
	byUID := make(map[string]*graph.Variable)
	for _, param := range t.combined.Parameters() {
		params.Insert(param.UID())
		byUID[param.UID()] = param
	}
	if params.Equal(owned) {
		return nil
	}
	var missing []string
	for uid := range params.Sub(owned) {
		missing = append(missing, byUID[uid].String())
	}
	extra := sets.Sorted(owned.Sub(params))
	return errors.Wrapf(ErrInvalidArgument,
		"NewTrainer: parameters of the model must be exactly the parameters of the learners: "+
			"not owned by any learner [%s], not in the model %q",
		strings.Join(missing, ", "), extra)
}

// Model function being trained.
func (t *Trainer) Model() *graph.Function { return t.model }

// LossFunction with one loss value per sample.
func (t *Trainer) LossFunction() *graph.Function { return t.loss }

// EvaluationFunction with one value per sample, or nil if none was configured.
func (t *Trainer) EvaluationFunction() *graph.Function { return t.evaluation }

// CombinedTrainingFunction is the function executed for training: it computes the model outputs,
// the aggregated loss, the loss, and if configured, the aggregated evaluation and the evaluation.
func (t *Trainer) CombinedTrainingFunction() *graph.Function { return t.combined }

// ParameterLearners in the order given to NewTrainer.
func (t *Trainer) ParameterLearners() []learners.Learner { return t.learners }

// TrainMinibatch trains one step with the given arguments, executed on device.
// See TrainMinibatchWithOutputs.
func (t *Trainer) TrainMinibatch(arguments map[*graph.Variable]*tensors.Value, device tensors.Device) (bool, error) {
	return t.TrainMinibatchWithOutputs(arguments, nil, device)
}

// TrainMinibatchWithOutputs trains one step: it computes the loss for the arguments, back-propagates
// its gradients, and gives them to the learners to update the parameters.
//
// Entries of outputs without a value (any variable of the combined function) are set with their
// values computed during the step. outputs can be nil.
//
// It returns whether any of the learners updated its parameters.
//
// If it fails after some learners updated their parameters, the trainer state is left partially
// updated: recover by restoring a checkpoint.
func (t *Trainer) TrainMinibatchWithOutputs(arguments, outputs map[*graph.Variable]*tensors.Value,
	device tensors.Device) (bool, error) {
	lossOutput := t.loss.Output()
	fetch := map[*graph.Variable]*tensors.Value{t.aggregatedLoss: nil, lossOutput: nil}
	if t.evaluation != nil {
		fetch[t.aggregatedEvaluation] = nil
	}
	for v, value := range outputs {
		if value == nil {
			fetch[v] = nil
		}
	}
	state, err := t.combined.Forward(arguments, fetch, device, t.aggregatedLoss)
	if err != nil {
		return false, errors.WithMessage(err, "TrainMinibatch")
	}
	t.prevAggregatedLoss = fetch[t.aggregatedLoss]
	if t.evaluation != nil {
		t.prevAggregatedEvaluation = fetch[t.aggregatedEvaluation]
	}
	for v, value := range outputs {
		if value == nil {
			outputs[v] = fetch[v]
		}
	}

	aggregated := t.prevAggregatedLoss
	seed := tensors.NewValue(tensors.Full(aggregated.DType(), aggregated.Shape(), 1, device), aggregated.Mask())
	params := t.combined.Parameters()
	gradients := make(map[*graph.Variable]*tensors.Value, len(params))
	for _, param := range params {
		gradients[param] = nil
	}
	err = t.combined.Backward(state, map[*graph.Variable]*tensors.Value{t.aggregatedLoss: seed}, gradients)
	if err != nil {
		return false, errors.WithMessage(err, "TrainMinibatch")
	}
	gradientsByUID := make(map[string]*tensors.Value, len(gradients))
	for param, grad := range gradients {
		gradientsByUID[param.UID()] = grad
	}

	t.prevSampleCount = SampleCount(lossOutput, fetch[lossOutput])
	anyUpdated := false
	for ii, learner := range t.learners {
		learnerGradients := make(map[*graph.Variable]*tensors.Tensor)
		for _, param := range learner.Parameters() {
			grad := gradientsByUID[param.UID()]
			if grad.Mask() != nil {
				exceptions.Panicf("TrainMinibatch: gradient of parameter %s has a mask", param)
			}
			learnerGradients[param] = grad.Data()
		}
		if learner.Update(learnerGradients, t.prevSampleCount) {
			anyUpdated = true
		} else {
			klog.V(2).Infof("TrainMinibatch: learner #%d performed no update", ii)
		}
	}
	klog.V(1).Infof("TrainMinibatch: %d samples, aggregated loss %s, updated=%v",
		t.prevSampleCount, t.prevAggregatedLoss.Data(), anyUpdated)
	return anyUpdated, nil
}

// TestMinibatch returns the average evaluation per sample for the given arguments, executed on
// device. It requires an evaluation function.
func (t *Trainer) TestMinibatch(arguments map[*graph.Variable]*tensors.Value, device tensors.Device) (float64, error) {
	if t.evaluation == nil {
		return 0, errors.Wrap(ErrInvalidArgument, "TestMinibatch: trainer has no evaluation function")
	}
	evaluationOutput := t.evaluation.Output()
	fetch := map[*graph.Variable]*tensors.Value{t.aggregatedEvaluation: nil, evaluationOutput: nil}
	if _, err := t.combined.Forward(arguments, fetch, device); err != nil {
		return 0, errors.WithMessage(err, "TestMinibatch")
	}
	return ScalarValue(fetch[t.aggregatedEvaluation]) / float64(SampleCount(evaluationOutput, fetch[evaluationOutput])), nil
}

// PreviousMinibatchLossAverage returns the average loss per sample of the last minibatch trained.
func (t *Trainer) PreviousMinibatchLossAverage() (float64, error) {
	if t.prevAggregatedLoss == nil {
		return 0, errors.Wrap(ErrInvalidArgument, "PreviousMinibatchLossAverage: no minibatch trained yet")
	}
	return ScalarValue(t.prevAggregatedLoss) / float64(t.prevSampleCount), nil
}

// PreviousMinibatchEvaluationAverage returns the average evaluation per sample of the last minibatch
// trained. It requires an evaluation function.
func (t *Trainer) PreviousMinibatchEvaluationAverage() (float64, error) {
	if t.evaluation == nil {
		return 0, errors.Wrap(ErrInvalidArgument, "PreviousMinibatchEvaluationAverage: trainer has no evaluation function")
	}
	if t.prevAggregatedEvaluation == nil {
		return 0, errors.Wrap(ErrInvalidArgument, "PreviousMinibatchEvaluationAverage: no minibatch trained yet")
	}
	return ScalarValue(t.prevAggregatedEvaluation) / float64(t.prevSampleCount), nil
}

// PreviousMinibatchSampleCount returns the number of samples of the last minibatch trained.
func (t *Trainer) PreviousMinibatchSampleCount() int { return t.prevSampleCount }
