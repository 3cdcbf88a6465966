// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph implements a symbolic computation graph: Variable's (inputs, parameters, constants,
// placeholders and the outputs of operations) connected by Function's.
//
// The main elements in the package are:
//
//   - Graph is the owner of everything else: it holds the storage of the values of parameters and
//     constants (keyed by their unique ids), and the table of all Function's created in it. Nodes
//     refer to each other by ids into these tables, so there are no reference cycles.
//
//   - Variable is a symbolic node. Only parameters and constants hold values (in the Graph's
//     storage), all other variables are bound to values at execution time.
//
//   - Function is either a primitive operation (Plus, Times, Sigmoid, ReduceSum, ...) or a
//     Combine of several outputs. A Function is also the root of the whole computation needed to
//     produce its outputs, and can be executed with Function.Forward and differentiated with
//     Function.Backward.
//
// # Error Handling
//
// Graph building functions panic (with github.com/gomlx/exceptions) on misuse, like adding
// variables of incompatible shapes. This keeps model building code readable, and such errors are
// caught the first time the model is built. Execution (Forward, Backward) and I/O return errors.
//
// # Dynamic Axes
//
// Variables have a static shape, plus an optional list of dynamic axes (e.g.: sequence, batch)
// whose extents are only known from the data at execution time. The data bound to a variable is
// laid out with the static dimensions first, followed by the extents of the dynamic axes.
// A tensors.Mask over the dynamic extents marks padded samples.
package graph

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"unicode"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// FunctionID identifies a Function in its Graph's table of functions.
type FunctionID int

// InvalidFunctionID is the owner of variables that are not the output of a Function.
const InvalidFunctionID FunctionID = -1

// Graph owns the storage of parameters and constants, and the table of functions.
//
// It is not safe for concurrent use.
type Graph struct {
	id   uuid.UUID
	name string

	// uidCounter is used to generate unique ids.
	uidCounter int

	// storage holds the values of parameters and constants, indexed by their uid.
	storage map[string]*tensors.Tensor

	// leaves are the parameters and constants created in the graph, indexed by their uid.
	leaves map[string]*Variable

	// functions indexed by FunctionID.
	functions []*Function
}

// NewGraph creates an empty Graph with the given name, used for logging.
func NewGraph(name string) *Graph {
	g := &Graph{
		id:      uuid.New(),
		name:    name,
		storage: make(map[string]*tensors.Tensor),
		leaves:  make(map[string]*Variable),
	}
	klog.V(2).Infof("created graph %s", g)
	return g
}

// ID returns a unique identifier of the graph instance.
func (g *Graph) ID() uuid.UUID { return g.id }

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// String implements fmt.Stringer.
func (g *Graph) String() string {
	return fmt.Sprintf("Graph(%q, %s)", g.name, g.id)
}

// NumFunctions returns the number of functions created in the graph.
func (g *Graph) NumFunctions() int { return len(g.functions) }

// Function returns the function with the given id.
func (g *Graph) Function(id FunctionID) *Function {
	if id < 0 || int(id) >= len(g.functions) {
		exceptions.Panicf("%s: invalid FunctionID %d", g, id)
	}
	return g.functions[id]
}

// Leaf returns the parameter or constant with the given uid, or nil if there isn't one.
func (g *Graph) Leaf(uid string) *Variable {
	return g.leaves[uid]
}

// newUID returns a new unique id with the given prefix.
func (g *Graph) newUID(prefix string) string {
	g.uidCounter++
	return prefix + strconv.Itoa(g.uidCounter)
}

// observeUID makes sure uids generated in the future won't collide with a uid loaded from a file.
func (g *Graph) observeUID(uid string) {
	digits := strings.TrimLeftFunc(uid, func(r rune) bool { return !unicode.IsDigit(r) })
	end := strings.IndexFunc(digits, func(r rune) bool { return !unicode.IsDigit(r) })
	if end >= 0 {
		digits = digits[:end]
	}
	if counter, err := strconv.Atoi(digits); err == nil && counter > g.uidCounter {
		g.uidCounter = counter
	}
}

func (g *Graph) registerFunction(f *Function) {
	f.id = FunctionID(len(g.functions))
	g.functions = append(g.functions, f)
}

// value returns the stored value of a parameter or constant.
func (g *Graph) value(uid string) *tensors.Tensor {
	t, found := g.storage[uid]
	if !found {
		exceptions.Panicf("%s: no value stored for variable %q", g, uid)
	}
	return t
}

func (g *Graph) setValue(uid string, t *tensors.Tensor) {
	g.storage[uid] = t
}

// LeavesSnapshot holds the parameters and constants of a Graph, and copies of their values, as of the
// time it was taken with Graph.SnapshotLeaves.
type LeavesSnapshot struct {
	g       *Graph
	leaves  map[string]*Variable
	storage map[string]*tensors.Tensor
	params  map[string]*tensors.Tensor // Copies of the parameter values, which are overwritten in place.
}

// SnapshotLeaves records the current parameters and constants, and their values, so that changes by a
// Load that turns out to be unwanted can be undone with LeavesSnapshot.Restore.
func (g *Graph) SnapshotLeaves() *LeavesSnapshot {
	s := &LeavesSnapshot{
		g:       g,
		leaves:  maps.Clone(g.leaves),
		storage: maps.Clone(g.storage),
		params:  make(map[string]*tensors.Tensor),
	}
	for uid, leaf := range g.leaves {
		if leaf.kind == KindParameter {
			value := g.storage[uid]
			s.params[uid] = value.DeepClone(value.Device(), false)
		}
	}
	return s
}

// Restore brings back the parameters and constants of the graph, with their values, to the time of the
// snapshot. Leaves created since are dropped from the graph. The uid counter is not rewound, so uids
// are never reused.
func (s *LeavesSnapshot) Restore() {
	g := s.g
	g.leaves = maps.Clone(s.leaves)
	g.storage = maps.Clone(s.storage)
	for uid, saved := range s.params {
		g.storage[uid].CopyFrom(saved)
	}
	klog.V(2).Infof("%s: restored %d leaves from snapshot", g, len(g.leaves))
}

func (g *Graph) assertSameGraph(v *Variable) {
	if v.graph != g {
		exceptions.Panicf("variable %s belongs to %s, it cannot be used in %s", v, v.graph, g)
	}
}
