// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import "fmt"

const (
	// DefaultBatchAxisName is the name of the default batch dynamic axis.
	DefaultBatchAxisName = "defaultBatchAxis"

	// DefaultDynamicAxisName is the name of the default ordered dynamic axis (sequences).
	DefaultDynamicAxisName = "defaultDynamicAxis"

	// allStaticAxesIndex is a sentinel static index meaning "all static axes".
	allStaticAxesIndex = -2

	// dynamicAxisIndex marks a dynamic axis.
	dynamicAxisIndex = -1
)

// Axis describes either a static axis of a Shape (identified by its index), or a dynamic axis,
// identified by name, whose extent is only known at execution time from the actual data.
//
// Axis is comparable, and can be used as a map key.
type Axis struct {
	staticIndex int
	name        string
	ordered     bool
}

// StaticAxis returns the static axis at the given index.
func StaticAxis(index int) Axis {
	return Axis{staticIndex: index, name: fmt.Sprintf("staticAxis_%d", index)}
}

// AllStaticAxes returns the pseudo-axis that refers to all static axes at once.
func AllStaticAxes() Axis {
	return Axis{staticIndex: allStaticAxesIndex, name: "allStaticAxes"}
}

// DynamicAxis returns an unordered dynamic axis with the given name.
func DynamicAxis(name string) Axis {
	return Axis{staticIndex: dynamicAxisIndex, name: name}
}

// OrderedDynamicAxis returns an ordered dynamic axis (e.g.: a sequence axis) with the given name.
func OrderedDynamicAxis(name string) Axis {
	return Axis{staticIndex: dynamicAxisIndex, name: name, ordered: true}
}

// DefaultBatchAxis is the dynamic axis used for minibatches.
func DefaultBatchAxis() Axis { return DynamicAxis(DefaultBatchAxisName) }

// DefaultDynamicAxis is the ordered dynamic axis used for sequences.
func DefaultDynamicAxis() Axis { return OrderedDynamicAxis(DefaultDynamicAxisName) }

// DefaultInputDynamicAxes are the dynamic axes of input variables if none are given: a sequence
// axis followed by the batch axis.
func DefaultInputDynamicAxes() []Axis {
	return []Axis{DefaultDynamicAxis(), DefaultBatchAxis()}
}

// NewAxis reconstructs an Axis from its serialized attributes.
func NewAxis(staticIndex int, name string, ordered bool) Axis {
	return Axis{staticIndex: staticIndex, name: name, ordered: ordered}
}

// IsStatic returns whether this is a static axis (including AllStaticAxes).
func (a Axis) IsStatic() bool { return a.staticIndex != dynamicAxisIndex }

// IsDynamic returns whether this is a dynamic axis.
func (a Axis) IsDynamic() bool { return a.staticIndex == dynamicAxisIndex }

// IsOrdered returns whether this is an ordered dynamic axis.
func (a Axis) IsOrdered() bool { return a.IsDynamic() && a.ordered }

// StaticIndex returns the index of a static axis. It is negative for dynamic axes.
func (a Axis) StaticIndex() int { return a.staticIndex }

// Name of the axis.
func (a Axis) Name() string { return a.name }

// String implements fmt.Stringer.
func (a Axis) String() string {
	if a.IsDynamic() {
		if a.ordered {
			return fmt.Sprintf("Axis(%q, ordered)", a.name)
		}
		return fmt.Sprintf("Axis(%q)", a.name)
	}
	return fmt.Sprintf("Axis(%d)", a.staticIndex)
}
