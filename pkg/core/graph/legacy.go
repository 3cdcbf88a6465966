// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"

	"github.com/gomlx/symtrain/pkg/core/dictionary"
	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/shapes"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LegacyMetadataSuffix is appended to the path of a legacy model file to get its metadata file.
const LegacyMetadataSuffix = ".json"

// legacyMetadata is the JSON metadata of a legacy model file.
type legacyMetadata struct {
	// Variables in the order they are stored in the data file.
	Variables []legacyVar

	// BinFormat describes the format used by the data file. It is informative.
	BinFormat string
}

// legacyVar describes one parameter or constant stored in the data file.
type legacyVar struct {
	// UID of the variable, used to match variables when restoring.
	UID string

	// Name of the variable, used to match variables when the uid is not found.
	Name string

	Kind       Kind
	Dimensions []int
	DType      dtypes.DType

	// Pos, Length in bytes in the data file.
	Pos, Length int
}

// SaveAsLegacyModel writes the values of the parameters and constants used by f in the legacy model
// format: the raw little-endian values go to path, and the JSON metadata to path + LegacyMetadataSuffix.
//
// The graph structure is not saved: the legacy format can only restore values into an existing function.
func SaveAsLegacyModel(f *Function, path string) error {
	dataFile, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create legacy model data file %s", path)
	}
	writer := bufio.NewWriter(dataFile)
	metadata := legacyMetadata{BinFormat: "uncompressed"}
	pos := 0
	for _, v := range f.Inputs() {
		if v.kind != KindParameter && v.kind != KindConstant {
			continue
		}
		raw := legacyBytes(v.Value())
		if _, err = writer.Write(raw); err != nil {
			_ = dataFile.Close()
			return errors.Wrapf(err, "failed to write variable %s to %s", v, path)
		}
		metadata.Variables = append(metadata.Variables, legacyVar{
			UID:        v.uid,
			Name:       v.name,
			Kind:       v.kind,
			Dimensions: v.shape.Dimensions,
			DType:      v.dtype,
			Pos:        pos,
			Length:     len(raw),
		})
		pos += len(raw)
	}
	if err = writer.Flush(); err != nil {
		_ = dataFile.Close()
		return errors.Wrapf(err, "failed to flush legacy model data file %s", path)
	}
	if err = dataFile.Close(); err != nil {
		return errors.Wrapf(err, "failed to close legacy model data file %s", path)
	}

	jsonPath := path + LegacyMetadataSuffix
	jsonFile, err := os.Create(jsonPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create legacy model metadata file %s", jsonPath)
	}
	enc := json.NewEncoder(jsonFile)
	enc.SetIndent("", "\t")
	if err = enc.Encode(&metadata); err != nil {
		_ = jsonFile.Close()
		return errors.Wrapf(err, "failed to write legacy model metadata file %s", jsonPath)
	}
	if err = jsonFile.Close(); err != nil {
		return errors.Wrapf(err, "failed to close legacy model metadata file %s", jsonPath)
	}
	klog.V(1).Infof("saved %d variables (%d bytes) in legacy format to %s", len(metadata.Variables), pos, path)
	return nil
}

// legacyBytes returns the raw little-endian values of a tensor, regardless of its device.
func legacyBytes(t *tensors.Tensor) []byte {
	raw := make([]byte, 0, t.Size()*t.DType().Size())
	switch t.DType() {
	case dtypes.Float:
		for _, v := range tensors.DeviceFlatData[float32](t) {
			raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(v))
		}
	case dtypes.Double:
		for _, v := range tensors.DeviceFlatData[float64](t) {
			raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(v))
		}
	}
	return raw
}

// RestoreFromLegacyModel overwrites, in place, the values of the parameters of f with the values
// stored in a legacy model file (see SaveAsLegacyModel). Variables are matched by uid, or by name
// if the uid is not found.
//
// Every parameter is validated before any is modified: on error f is left unchanged. It fails if the
// metadata file is missing, or if path holds a structured-record (non-legacy) model.
func (f *Function) RestoreFromLegacyModel(path string) error {
	jsonPath := path + LegacyMetadataSuffix
	jsonContents, err := os.ReadFile(jsonPath)
	if err != nil {
		return errors.Wrapf(err, "failed to read legacy model metadata file %s", jsonPath)
	}
	var metadata legacyMetadata
	if err = json.Unmarshal(jsonContents, &metadata); err != nil {
		return errors.Wrapf(err, "failed to parse legacy model metadata file %s", jsonPath)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read legacy model data file %s", path)
	}
	if dictionary.HasMagic(raw) {
		return errors.Errorf("%s is a structured-record model, not a legacy model", path)
	}

	byUID := make(map[string]*legacyVar, len(metadata.Variables))
	byName := make(map[string]*legacyVar, len(metadata.Variables))
	for ii := range metadata.Variables {
		entry := &metadata.Variables[ii]
		if entry.Pos < 0 || entry.Length < 0 || entry.Pos+entry.Length > len(raw) {
			return errors.Errorf("legacy model %s: variable %q at [%d, %d) is out of the data file bounds (%d bytes)",
				path, entry.UID, entry.Pos, entry.Pos+entry.Length, len(raw))
		}
		byUID[entry.UID] = entry
		if entry.Name != "" {
			byName[entry.Name] = entry
		}
	}

	type restore struct {
		param *Variable
		value *tensors.Tensor
	}
	var restores []restore
	for _, param := range f.Parameters() {
		entry, found := byUID[param.uid]
		if !found {
			entry, found = byName[param.name]
		}
		if !found {
			return errors.Errorf("legacy model %s has no value for parameter %s", path, param)
		}
		value, err := legacyTensor(entry, raw[entry.Pos:entry.Pos+entry.Length])
		if err != nil {
			return errors.WithMessagef(err, "legacy model %s, parameter %s", path, param)
		}
		if value.DType() != param.dtype || !value.Shape().Equal(param.shape) {
			return errors.Errorf("legacy model %s holds (%s)%v for parameter %s",
				path, entry.DType, entry.Dimensions, param)
		}
		restores = append(restores, restore{param: param, value: value})
	}
	for _, r := range restores {
		r.param.Value().CopyFrom(r.value)
	}
	klog.V(1).Infof("restored %d parameters from legacy model %s", len(restores), path)
	return nil
}

func legacyTensor(entry *legacyVar, raw []byte) (*tensors.Tensor, error) {
	if !entry.DType.IsSupported() {
		return nil, errors.Errorf("unsupported dtype %s", entry.DType)
	}
	for _, dim := range entry.Dimensions {
		if dim < 0 {
			return nil, errors.Errorf("invalid dimensions %v", entry.Dimensions)
		}
	}
	t := tensors.New(entry.DType, shapes.Make(entry.Dimensions...), tensors.HostDevice())
	if len(raw) != t.Size()*entry.DType.Size() {
		return nil, errors.Errorf("(%s)%v requires %d bytes, found %d",
			entry.DType, entry.Dimensions, t.Size()*entry.DType.Size(), len(raw))
	}
	switch entry.DType {
	case dtypes.Float:
		flat := tensors.DeviceMutableFlatData[float32](t)
		for ii := range flat {
			flat[ii] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*ii:]))
		}
	case dtypes.Double:
		flat := tensors.DeviceMutableFlatData[float64](t)
		for ii := range flat {
			flat[ii] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*ii:]))
		}
	}
	return t, nil
}
