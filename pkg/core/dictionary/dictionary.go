// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dictionary

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
)

// Dictionary is a structured record mapping keys to values.
type Dictionary map[string]Value

// Has returns whether the key is present.
func (d Dictionary) Has(key string) bool {
	_, found := d[key]
	return found
}

// Get returns the value for the given key. It panics if the key is missing.
func (d Dictionary) Get(key string) Value {
	value, found := d[key]
	if !found {
		keys := d.Keys()
		exceptions.Panicf("dictionary: required key %q missing, available keys: %v", key, keys)
	}
	return value
}

// Keys returns the keys of the dictionary, sorted.
func (d Dictionary) Keys() []string {
	return slices.Sorted(maps.Keys(d))
}

// Equal returns whether both dictionaries have the same keys with equal values.
func (d Dictionary) Equal(other Dictionary) bool {
	if len(d) != len(other) {
		return false
	}
	for key, value := range d {
		otherValue, found := other[key]
		if !found || !value.Equal(otherValue) {
			return false
		}
	}
	return true
}

// DeepClone returns a copy of the dictionary that shares no tensors or containers with the original.
func (d Dictionary) DeepClone() Dictionary {
	clone := make(Dictionary, len(d))
	for key, value := range d {
		clone[key] = value.DeepClone()
	}
	return clone
}

// String implements fmt.Stringer, with keys sorted.
func (d Dictionary) String() string {
	parts := make([]string, 0, len(d))
	for _, key := range d.Keys() {
		parts = append(parts, fmt.Sprintf("%s: %s", key, d[key]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// FromTypes validates that the dictionary holds all the given required keys, with the given types.
// It panics with a description of the first missing key or mismatched type.
func (d Dictionary) FromTypes(what string, required map[string]Type) {
	for _, key := range slices.Sorted(maps.Keys(required)) {
		value, found := d[key]
		if !found {
			exceptions.Panicf("%s: required key %q not found in record with keys %v", what, key, d.Keys())
		}
		if value.typ != required[key] {
			exceptions.Panicf("%s: key %q holds %s, expected %s", what, key, value.typ, required[key])
		}
	}
}
