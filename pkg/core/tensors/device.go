// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import "fmt"

// DeviceKind enumerates the kinds of devices tensors can be placed on.
type DeviceKind int

const (
	// HostKind is the host CPU: tensors on the host can be read and written directly.
	HostKind DeviceKind = iota

	// AcceleratorKind is an accelerator (GPU/TPU-like) device: tensors on it can only be used by
	// computation kernels, and must be copied to the host to be inspected.
	AcceleratorKind
)

// Device identifies where a tensor's buffer lives. The zero value is the host.
type Device struct {
	Kind DeviceKind
	ID   int
}

// HostDevice returns the host CPU device.
func HostDevice() Device { return Device{Kind: HostKind} }

// AcceleratorDevice returns the accelerator device with the given id.
func AcceleratorDevice(id int) Device { return Device{Kind: AcceleratorKind, ID: id} }

// IsHost returns whether this is the host device.
func (d Device) IsHost() bool { return d.Kind == HostKind }

// String implements fmt.Stringer.
func (d Device) String() string {
	if d.IsHost() {
		return "cpu"
	}
	return fmt.Sprintf("accelerator:%d", d.ID)
}

var defaultDevice = HostDevice()

// DefaultDevice returns the device used when none is specified. It starts as the host.
func DefaultDevice() Device { return defaultDevice }

// SetDefaultDevice changes the device returned by DefaultDevice.
// It is not safe to call concurrently with anything that creates tensors.
func SetDefaultDevice(device Device) { defaultDevice = device }
