// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package learners implements the optimizers that update the parameters of a model, given the
// gradients of a minibatch. They all implement learners.Learner, and are configured with a builder:
//
//	learner := learners.MomentumSGD(model.Parameters()).LearningRate(0.01).Momentum(0.9).MustDone()
//
// Learning rates are per sample: gradients given to Learner.Update are the sum over the samples of
// the minibatch, and are not divided by the number of samples.
package learners

import (
	"maps"
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/dictionary"
	"github.com/gomlx/symtrain/pkg/core/graph"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/gomlx/symtrain/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Learner updates in place a fixed set of parameters.
type Learner interface {
	// Parameters owned by the learner.
	Parameters() []*graph.Variable

	// Update applies one optimization step, given the gradients of every parameter owned by the
	// learner (summed over the samples of the minibatch) and the number of samples in the minibatch.
	//
	// It returns false, and changes nothing, if the update was skipped: when sampleCount is 0 or the
	// learning rate is 0.
	Update(gradients map[*graph.Variable]*tensors.Tensor, sampleCount int) bool

	// LearningRate returns the per-sample learning rate used by the next update.
	LearningRate() float64

	// TotalNumberOfSamplesSeen by the updates performed so far.
	TotalNumberOfSamplesSeen() int

	// Serialize returns a snapshot of the state of the learner.
	Serialize() dictionary.Dictionary

	// RestoreFromCheckpoint overwrites the state of the learner with one created by Serialize.
	// It panics if the state doesn't match the learner.
	RestoreFromCheckpoint(state dictionary.Dictionary)
}

// Algorithm of a learner.
//
// The integer values are written to checkpoints: they are append-only.
type Algorithm int32

//go:generate go tool enumer -type=Algorithm -trimprefix=Algorithm -output=gen_algorithm_enumer.go learners.go

const (
	AlgorithmSGD         Algorithm = 0
	AlgorithmMomentumSGD Algorithm = 1
	AlgorithmNesterov    Algorithm = 2
	AlgorithmAdaGrad     Algorithm = 3
)

var (
	// KnownLearners maps learner names to their default builders, a quick start point for tools and flags.
	KnownLearners = map[string]func(params []*graph.Variable) *Config{
		"sgd":          SGD,
		"momentum_sgd": MomentumSGD,
		"nesterov":     Nesterov,
		"adagrad":      AdaGrad,
	}

	// DefaultLearningRate used if none is configured.
	DefaultLearningRate = 0.01

	// DefaultMomentum used by MomentumSGD and Nesterov if none is configured.
	DefaultMomentum = 0.9

	// DefaultEpsilon used by AdaGrad if none is configured.
	DefaultEpsilon = 1e-8
)

// ByName returns the builder of the learner with the given name, or panics if one does not exist.
// It uses KnownLearners.
func ByName(name string, params []*graph.Variable) *Config {
	builder, found := KnownLearners[name]
	if !found {
		exceptions.Panicf("unknown learner %q, valid values are %q", name, slices.Sorted(maps.Keys(KnownLearners)))
	}
	return builder(params)
}

// Config holds the configuration of a learner. Create it with one of SGD, MomentumSGD, Nesterov
// or AdaGrad, and once configured call Done.
type Config struct {
	algorithm Algorithm
	params    []*graph.Variable
	schedule  Schedule
	momentum  float64
	epsilon   float64
	l2Weight  float64
	clipping  float64
}

func newConfig(algorithm Algorithm, params []*graph.Variable) *Config {
	return &Config{
		algorithm: algorithm,
		params:    slices.Clone(params),
		schedule:  ConstantSchedule(DefaultLearningRate),
		momentum:  DefaultMomentum,
		epsilon:   DefaultEpsilon,
		clipping:  math.Inf(1),
	}
}

// SGD configures a plain stochastic gradient descent learner: param -= lr * gradient.
func SGD(params []*graph.Variable) *Config { return newConfig(AlgorithmSGD, params) }

// MomentumSGD configures a stochastic gradient descent learner with momentum:
//
//	velocity = momentum * velocity + gradient
//	param -= lr * velocity
func MomentumSGD(params []*graph.Variable) *Config { return newConfig(AlgorithmMomentumSGD, params) }

// Nesterov configures a stochastic gradient descent learner with Nesterov accelerated momentum:
//
//	velocity = momentum * velocity + gradient
//	param -= lr * (gradient + momentum * velocity)
func Nesterov(params []*graph.Variable) *Config { return newConfig(AlgorithmNesterov, params) }

// AdaGrad configures a learner with per-element rates scaled by the accumulated squared gradients:
//
//	accumulator += gradient^2
//	param -= lr * gradient / (sqrt(accumulator) + epsilon)
func AdaGrad(params []*graph.Variable) *Config { return newConfig(AlgorithmAdaGrad, params) }

// LearningRate sets a constant per-sample learning rate. Default is DefaultLearningRate.
func (c *Config) LearningRate(value float64) *Config {
	c.schedule = ConstantSchedule(value)
	return c
}

// Schedule sets the per-sample learning rate schedule.
func (c *Config) Schedule(schedule Schedule) *Config {
	c.schedule = schedule
	return c
}

// Momentum sets the momentum used by MomentumSGD and Nesterov. It must be in [0, 1).
func (c *Config) Momentum(momentum float64) *Config {
	c.momentum = momentum
	return c
}

// Epsilon used by AdaGrad on the denominator for stability.
func (c *Config) Epsilon(epsilon float64) *Config {
	c.epsilon = epsilon
	return c
}

// L2RegularizationWeight adds weight * sampleCount * param to the gradients. Default is 0.
func (c *Config) L2RegularizationWeight(weight float64) *Config {
	c.l2Weight = weight
	return c
}

// GradientClippingThresholdPerSample clips each element of the gradient to
// [-threshold * sampleCount, threshold * sampleCount]. Default is no clipping.
func (c *Config) GradientClippingThresholdPerSample(threshold float64) *Config {
	c.clipping = threshold
	return c
}

// Done validates the configuration and creates the learner.
func (c *Config) Done() (Learner, error) {
	if len(c.params) == 0 {
		return nil, errors.Errorf("%s learner: no parameters given", c.algorithm)
	}
	seen := sets.Make[string](len(c.params))
	for _, param := range c.params {
		if param == nil || !param.IsParameter() {
			return nil, errors.Errorf("%s learner: %s is not a parameter", c.algorithm, param)
		}
		if param.Graph() != c.params[0].Graph() {
			return nil, errors.Errorf("%s learner: parameters %s and %s belong to different graphs",
				c.algorithm, c.params[0], param)
		}
		if seen.Has(param.UID()) {
			return nil, errors.Errorf("%s learner: parameter %s given more than once", c.algorithm, param)
		}
		seen.Insert(param.UID())
	}
	if err := c.schedule.validate(); err != nil {
		return nil, errors.WithMessagef(err, "%s learner", c.algorithm)
	}
	if c.momentum < 0 || c.momentum >= 1 {
		return nil, errors.Errorf("%s learner: momentum must be in [0, 1), got %g", c.algorithm, c.momentum)
	}
	if c.algorithm == AlgorithmAdaGrad && c.epsilon <= 0 {
		return nil, errors.Errorf("%s learner: epsilon must be positive, got %g", c.algorithm, c.epsilon)
	}
	if c.l2Weight < 0 {
		return nil, errors.Errorf("%s learner: L2 regularization weight must be >= 0, got %g", c.algorithm, c.l2Weight)
	}
	if !(c.clipping > 0) {
		return nil, errors.Errorf("%s learner: gradient clipping threshold must be positive, got %g",
			c.algorithm, c.clipping)
	}
	l := &learner{config: *c, buffers: make(map[string]*tensors.Tensor)}
	if c.algorithm != AlgorithmSGD {
		for _, param := range c.params {
			value := param.Value()
			l.buffers[param.UID()] = tensors.New(value.DType(), value.Shape(), value.Device())
		}
	}
	return l, nil
}

// MustDone is like Done, but panics on error.
func (c *Config) MustDone() Learner {
	l, err := c.Done()
	if err != nil {
		panic(err)
	}
	return l
}

// learner implements Learner for all algorithms.
type learner struct {
	config Config

	// buffers hold the optimizer state per element of each parameter, keyed by parameter uid:
	// the velocity for MomentumSGD and Nesterov, the accumulated squared gradients for AdaGrad.
	buffers map[string]*tensors.Tensor

	samplesSeen, minibatchesSeen int
}

// Parameters implements Learner.
func (l *learner) Parameters() []*graph.Variable { return slices.Clone(l.config.params) }

// LearningRate implements Learner.
func (l *learner) LearningRate() float64 { return l.config.schedule.At(l.samplesSeen) }

// TotalNumberOfSamplesSeen implements Learner.
func (l *learner) TotalNumberOfSamplesSeen() int { return l.samplesSeen }

// Update implements Learner.
func (l *learner) Update(gradients map[*graph.Variable]*tensors.Tensor, sampleCount int) bool {
	if sampleCount < 0 {
		exceptions.Panicf("%s learner: negative sample count %d", l.config.algorithm, sampleCount)
	}
	if sampleCount == 0 {
		klog.V(2).Infof("%s learner: update skipped, minibatch has no samples", l.config.algorithm)
		return false
	}
	lr := l.LearningRate()
	if lr == 0 {
		klog.V(2).Infof("%s learner: update skipped, learning rate is 0 after %d samples",
			l.config.algorithm, l.samplesSeen)
		return false
	}

	byUID := make(map[string]*tensors.Tensor, len(gradients))
	for v, grad := range gradients {
		byUID[v.UID()] = grad
	}
	grads := make([]*tensors.Tensor, len(l.config.params))
	for ii, param := range l.config.params {
		grad := byUID[param.UID()]
		if grad == nil {
			exceptions.Panicf("%s learner: missing gradient for parameter %s", l.config.algorithm, param)
		}
		if grad.DType() != param.DType() || !grad.Shape().Equal(param.Shape()) {
			exceptions.Panicf("%s learner: gradient shaped (%s)%s given for parameter %s",
				l.config.algorithm, grad.DType(), grad.Shape(), param)
		}
		grads[ii] = grad
	}
	step := stepConfig{
		lr:       lr,
		momentum: l.config.momentum,
		epsilon:  l.config.epsilon,
		l2:       l.config.l2Weight * float64(sampleCount),
		clip:     l.config.clipping * float64(sampleCount),
	}
	for ii, param := range l.config.params {
		applyStep(l.config.algorithm, step, param.Value(), grads[ii], l.buffers[param.UID()])
	}
	l.samplesSeen += sampleCount
	l.minibatchesSeen++
	return true
}

// String implements fmt.Stringer.
func (l *learner) String() string {
	return l.config.algorithm.String() + "Learner"
}
