// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dictionary

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/gomlx/symtrain/pkg/core/dtypes"
	"github.com/gomlx/symtrain/pkg/core/shapes"
	"github.com/gomlx/symtrain/pkg/core/tensors"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Magic prefixes every encoded stream.
var Magic = []byte("SYMTDICT")

const (
	// MaxDepth is the maximum nesting of vectors and dictionaries accepted by the decoder.
	MaxDepth = 64

	// maxMessageSize bounds the size of an encoded record accepted by the decoder.
	maxMessageSize = 1 << 34
)

// Field numbers of a Value message.
const (
	fieldType       protowire.Number = 1
	fieldBool       protowire.Number = 2
	fieldSizeT      protowire.Number = 3
	fieldFloat      protowire.Number = 4
	fieldDouble     protowire.Number = 5
	fieldString     protowire.Number = 6
	fieldShape      protowire.Number = 7
	fieldAxis       protowire.Number = 8
	fieldVectorElem protowire.Number = 9
	fieldDictEntry  protowire.Number = 10
	fieldTensor     protowire.Number = 11
)

// Field numbers of the nested messages: axis, dictionary entry and tensor.
const (
	fieldAxisStaticIndex protowire.Number = 1
	fieldAxisName        protowire.Number = 2
	fieldAxisOrdered     protowire.Number = 3

	fieldEntryKey   protowire.Number = 1
	fieldEntryValue protowire.Number = 2

	fieldTensorDType protowire.Number = 1
	fieldTensorShape protowire.Number = 2
	fieldTensorData  protowire.Number = 3
)

// HasMagic returns whether the contents start with the header of an encoded stream.
func HasMagic(contents []byte) bool {
	return bytes.HasPrefix(contents, Magic)
}

// Encode writes the dictionary to w: the magic header, the length of the record, and the record.
func Encode(w io.Writer, d Dictionary) error {
	buf, err := Marshal(d)
	if err != nil {
		return err
	}
	if _, err = w.Write(buf); err != nil {
		return errors.Wrap(err, "failed to write encoded dictionary")
	}
	return nil
}

// Marshal returns the encoded dictionary, as written by Encode.
func Marshal(d Dictionary) ([]byte, error) {
	msg, err := appendValue(nil, Dict(d))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(Magic)+binary.MaxVarintLen64+len(msg))
	buf = append(buf, Magic...)
	buf = protowire.AppendVarint(buf, uint64(len(msg)))
	return append(buf, msg...), nil
}

// Decode reads a dictionary written by Encode.
func Decode(r io.Reader) (Dictionary, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		buffered := bufio.NewReader(r)
		br, r = buffered, buffered
	}
	header := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.Wrap(err, "failed to read dictionary header")
	}
	if !HasMagic(header) {
		return nil, errors.Errorf("invalid dictionary header %q", header)
	}
	size, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read dictionary record size")
	}
	if size > maxMessageSize {
		return nil, errors.Errorf("dictionary record size %d exceeds the maximum of %d", size, uint64(maxMessageSize))
	}
	// The buffer grows with the bytes actually read, so a corrupt size can't force a huge allocation.
	var msg bytes.Buffer
	n, err := io.Copy(&msg, io.LimitReader(r, int64(size)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dictionary record of %d bytes", size)
	}
	if uint64(n) != size {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "dictionary record has %d bytes, %d were expected", n, size)
	}
	return unmarshalRecord(msg.Bytes())
}

// Unmarshal decodes a dictionary encoded by Marshal. Trailing bytes are an error.
func Unmarshal(buf []byte) (Dictionary, error) {
	if !HasMagic(buf) {
		return nil, errors.New("invalid dictionary header")
	}
	buf = buf[len(Magic):]
	size, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return nil, errors.Wrap(protowire.ParseError(n), "invalid dictionary record size")
	}
	buf = buf[n:]
	if uint64(len(buf)) != size {
		return nil, errors.Errorf("dictionary record size is %d, but %d bytes are available", size, len(buf))
	}
	return unmarshalRecord(buf)
}

func unmarshalRecord(msg []byte) (Dictionary, error) {
	value, err := consumeValue(msg, 0)
	if err != nil {
		return nil, err
	}
	if value.typ != DictionaryType {
		return nil, errors.Errorf("encoded record holds a %s, expected a Dictionary", value.typ)
	}
	return value.AsDictionary(), nil
}

// appendValue appends the message encoding of the value.
func appendValue(b []byte, v Value) ([]byte, error) {
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.typ))
	var err error
	switch v.typ {
	case NoneType:
	case BoolType:
		b = protowire.AppendTag(b, fieldBool, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(v.AsBool()))
	case SizeTType:
		b = protowire.AppendTag(b, fieldSizeT, protowire.VarintType)
		b = protowire.AppendVarint(b, v.AsSizeT())
	case FloatType:
		b = protowire.AppendTag(b, fieldFloat, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(v.AsFloat()))
	case DoubleType:
		b = protowire.AppendTag(b, fieldDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v.AsDouble()))
	case StringType:
		b = protowire.AppendTag(b, fieldString, protowire.BytesType)
		b = protowire.AppendString(b, v.AsString())
	case ShapeType:
		b = protowire.AppendTag(b, fieldShape, protowire.BytesType)
		b = protowire.AppendBytes(b, appendDimensions(nil, v.AsShape()))
	case AxisType:
		b = protowire.AppendTag(b, fieldAxis, protowire.BytesType)
		b = protowire.AppendBytes(b, appendAxis(nil, v.AsAxis()))
	case VectorType:
		for _, elem := range v.AsVector() {
			var elemMsg []byte
			if elemMsg, err = appendValue(nil, elem); err != nil {
				return nil, err
			}
			b = protowire.AppendTag(b, fieldVectorElem, protowire.BytesType)
			b = protowire.AppendBytes(b, elemMsg)
		}
	case DictionaryType:
		d := v.AsDictionary()
		for _, key := range d.Keys() {
			var valueMsg []byte
			if valueMsg, err = appendValue(nil, d[key]); err != nil {
				return nil, errors.WithMessagef(err, "key %q", key)
			}
			entry := protowire.AppendTag(nil, fieldEntryKey, protowire.BytesType)
			entry = protowire.AppendString(entry, key)
			entry = protowire.AppendTag(entry, fieldEntryValue, protowire.BytesType)
			entry = protowire.AppendBytes(entry, valueMsg)
			b = protowire.AppendTag(b, fieldDictEntry, protowire.BytesType)
			b = protowire.AppendBytes(b, entry)
		}
	case TensorType:
		var tensorMsg []byte
		if tensorMsg, err = appendTensor(nil, v.AsTensor()); err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, fieldTensor, protowire.BytesType)
		b = protowire.AppendBytes(b, tensorMsg)
	default:
		return nil, errors.Errorf("cannot encode value of unknown type %s", v.typ)
	}
	return b, nil
}

func appendDimensions(b []byte, shape shapes.Shape) []byte {
	for _, dim := range shape.Dimensions {
		b = protowire.AppendVarint(b, uint64(dim))
	}
	return b
}

func appendAxis(b []byte, axis shapes.Axis) []byte {
	b = protowire.AppendTag(b, fieldAxisStaticIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(axis.StaticIndex())))
	b = protowire.AppendTag(b, fieldAxisName, protowire.BytesType)
	b = protowire.AppendString(b, axis.Name())
	b = protowire.AppendTag(b, fieldAxisOrdered, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(axis.IsOrdered()))
}

// appendTensor encodes dtype, dimensions and the raw little-endian values.
// Tensors on accelerators are copied to the host first.
func appendTensor(b []byte, t *tensors.Tensor) ([]byte, error) {
	if !t.Device().IsHost() {
		t = t.CopyTo(tensors.HostDevice())
	}
	b = protowire.AppendTag(b, fieldTensorDType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.DType()))
	b = protowire.AppendTag(b, fieldTensorShape, protowire.BytesType)
	b = protowire.AppendBytes(b, appendDimensions(nil, t.Shape()))
	data := make([]byte, 0, t.Size()*t.DType().Size())
	var err error
	switch t.DType() {
	case dtypes.Float:
		err = tensors.ConstFlatData(t, func(flat []float32) {
			for _, v := range flat {
				data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
			}
		})
	case dtypes.Double:
		err = tensors.ConstFlatData(t, func(flat []float64) {
			for _, v := range flat {
				data = binary.LittleEndian.AppendUint64(data, math.Float64bits(v))
			}
		})
	default:
		err = errors.Errorf("cannot encode tensor of dtype %s", t.DType())
	}
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, fieldTensorData, protowire.BytesType)
	return protowire.AppendBytes(b, data), nil
}

// consumeValue decodes a whole Value message.
func consumeValue(msg []byte, depth int) (Value, error) {
	if depth > MaxDepth {
		return Value{}, errors.Errorf("dictionary nesting exceeds the maximum depth of %d", MaxDepth)
	}
	var (
		v       Value
		typeSet bool
		vector  []Value
		dict    Dictionary
	)
	for len(msg) > 0 {
		num, wireType, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return Value{}, errors.Wrap(protowire.ParseError(n), "invalid field tag")
		}
		msg = msg[n:]
		switch {
		case num == fieldType && wireType == protowire.VarintType:
			var t uint64
			t, n = protowire.ConsumeVarint(msg)
			v.typ = Type(t)
			typeSet = true
		case num == fieldBool && wireType == protowire.VarintType:
			var x uint64
			x, n = protowire.ConsumeVarint(msg)
			v.data = protowire.DecodeBool(x)
		case num == fieldSizeT && wireType == protowire.VarintType:
			var x uint64
			x, n = protowire.ConsumeVarint(msg)
			v.data = x
		case num == fieldFloat && wireType == protowire.Fixed32Type:
			var x uint32
			x, n = protowire.ConsumeFixed32(msg)
			v.data = math.Float32frombits(x)
		case num == fieldDouble && wireType == protowire.Fixed64Type:
			var x uint64
			x, n = protowire.ConsumeFixed64(msg)
			v.data = math.Float64frombits(x)
		case num == fieldString && wireType == protowire.BytesType:
			var s string
			s, n = protowire.ConsumeString(msg)
			v.data = s
		case num == fieldShape && wireType == protowire.BytesType:
			var buf []byte
			if buf, n = protowire.ConsumeBytes(msg); n >= 0 {
				shape, m := consumeDimensions(buf)
				if m < 0 {
					n = m
				}
				v.data = shape
			}
		case num == fieldAxis && wireType == protowire.BytesType:
			var buf []byte
			if buf, n = protowire.ConsumeBytes(msg); n >= 0 {
				axis, err := consumeAxis(buf)
				if err != nil {
					return Value{}, err
				}
				v.data = axis
			}
		case num == fieldVectorElem && wireType == protowire.BytesType:
			var buf []byte
			if buf, n = protowire.ConsumeBytes(msg); n >= 0 {
				elem, err := consumeValue(buf, depth+1)
				if err != nil {
					return Value{}, errors.WithMessagef(err, "vector element #%d", len(vector))
				}
				vector = append(vector, elem)
			}
		case num == fieldDictEntry && wireType == protowire.BytesType:
			var buf []byte
			if buf, n = protowire.ConsumeBytes(msg); n >= 0 {
				if dict == nil {
					dict = make(Dictionary)
				}
				if err := consumeEntry(buf, dict, depth+1); err != nil {
					return Value{}, err
				}
			}
		case num == fieldTensor && wireType == protowire.BytesType:
			var buf []byte
			if buf, n = protowire.ConsumeBytes(msg); n >= 0 {
				t, err := consumeTensor(buf)
				if err != nil {
					return Value{}, err
				}
				v.data = t
			}
		default:
			n = protowire.ConsumeFieldValue(num, wireType, msg)
		}
		if n < 0 {
			return Value{}, errors.Wrapf(protowire.ParseError(n), "invalid field %d", num)
		}
		msg = msg[n:]
	}
	if !typeSet {
		return Value{}, errors.New("value message without a type")
	}
	return finishValue(v, vector, dict)
}

// finishValue checks that the decoded payload matches the declared type.
func finishValue(v Value, vector []Value, dict Dictionary) (Value, error) {
	var ok bool
	switch v.typ {
	case NoneType:
		ok = v.data == nil
	case BoolType:
		_, ok = v.data.(bool)
	case SizeTType:
		_, ok = v.data.(uint64)
	case FloatType:
		_, ok = v.data.(float32)
	case DoubleType:
		_, ok = v.data.(float64)
	case StringType:
		if v.data == nil {
			v.data = ""
		}
		_, ok = v.data.(string)
	case ShapeType:
		if v.data == nil {
			v.data = shapes.Scalar()
		}
		_, ok = v.data.(shapes.Shape)
	case AxisType:
		_, ok = v.data.(shapes.Axis)
	case VectorType:
		if vector == nil {
			vector = []Value{}
		}
		v.data, ok = vector, true
	case DictionaryType:
		if dict == nil {
			dict = Dictionary{}
		}
		v.data, ok = dict, true
	case TensorType:
		_, ok = v.data.(*tensors.Tensor)
	default:
		return Value{}, errors.Errorf("unknown value type %s", v.typ)
	}
	if !ok {
		return Value{}, errors.Errorf("value of type %s has a missing or mismatched payload", v.typ)
	}
	return v, nil
}

func consumeDimensions(buf []byte) (shapes.Shape, int) {
	var dims []int
	for len(buf) > 0 {
		dim, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return shapes.Shape{}, n
		}
		if dim > math.MaxInt32 {
			return shapes.Shape{}, -1
		}
		dims = append(dims, int(dim))
		buf = buf[n:]
	}
	return shapes.Shape{Dimensions: dims}, 0
}

func consumeAxis(buf []byte) (shapes.Axis, error) {
	var (
		staticIndex int
		name        string
		ordered     bool
	)
	for len(buf) > 0 {
		num, wireType, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return shapes.Axis{}, errors.Wrap(protowire.ParseError(n), "invalid axis field tag")
		}
		buf = buf[n:]
		switch {
		case num == fieldAxisStaticIndex && wireType == protowire.VarintType:
			var x uint64
			x, n = protowire.ConsumeVarint(buf)
			staticIndex = int(protowire.DecodeZigZag(x))
		case num == fieldAxisName && wireType == protowire.BytesType:
			name, n = protowire.ConsumeString(buf)
		case num == fieldAxisOrdered && wireType == protowire.VarintType:
			var x uint64
			x, n = protowire.ConsumeVarint(buf)
			ordered = protowire.DecodeBool(x)
		default:
			n = protowire.ConsumeFieldValue(num, wireType, buf)
		}
		if n < 0 {
			return shapes.Axis{}, errors.Wrapf(protowire.ParseError(n), "invalid axis field %d", num)
		}
		buf = buf[n:]
	}
	return shapes.NewAxis(staticIndex, name, ordered), nil
}

func consumeEntry(buf []byte, dict Dictionary, depth int) error {
	var (
		key      string
		hasKey   bool
		valueMsg []byte
		hasValue bool
	)
	for len(buf) > 0 {
		num, wireType, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "invalid dictionary entry tag")
		}
		buf = buf[n:]
		switch {
		case num == fieldEntryKey && wireType == protowire.BytesType:
			key, n = protowire.ConsumeString(buf)
			hasKey = true
		case num == fieldEntryValue && wireType == protowire.BytesType:
			valueMsg, n = protowire.ConsumeBytes(buf)
			hasValue = true
		default:
			n = protowire.ConsumeFieldValue(num, wireType, buf)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "invalid dictionary entry field %d", num)
		}
		buf = buf[n:]
	}
	if !hasKey || !hasValue {
		return errors.New("dictionary entry without key or value")
	}
	if dict.Has(key) {
		return errors.Errorf("duplicate dictionary key %q", key)
	}
	value, err := consumeValue(valueMsg, depth)
	if err != nil {
		return errors.WithMessagef(err, "key %q", key)
	}
	dict[key] = value
	return nil
}

func consumeTensor(buf []byte) (*tensors.Tensor, error) {
	var (
		dtype    dtypes.DType
		shape    shapes.Shape
		data     []byte
		hasShape bool
	)
	for len(buf) > 0 {
		num, wireType, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "invalid tensor field tag")
		}
		buf = buf[n:]
		switch {
		case num == fieldTensorDType && wireType == protowire.VarintType:
			var x uint64
			x, n = protowire.ConsumeVarint(buf)
			dtype = dtypes.DType(x)
		case num == fieldTensorShape && wireType == protowire.BytesType:
			var dimsBuf []byte
			if dimsBuf, n = protowire.ConsumeBytes(buf); n >= 0 {
				var m int
				if shape, m = consumeDimensions(dimsBuf); m < 0 {
					n = m
				}
				hasShape = true
			}
		case num == fieldTensorData && wireType == protowire.BytesType:
			data, n = protowire.ConsumeBytes(buf)
		default:
			n = protowire.ConsumeFieldValue(num, wireType, buf)
		}
		if n < 0 {
			return nil, errors.Wrapf(protowire.ParseError(n), "invalid tensor field %d", num)
		}
		buf = buf[n:]
	}
	if !hasShape || !dtype.IsSupported() {
		return nil, errors.Errorf("invalid tensor record: dtype=%s, shape present=%v", dtype, hasShape)
	}
	if len(data) != shape.Size()*dtype.Size() {
		return nil, errors.Errorf("tensor (%s)%s requires %d bytes of data, got %d",
			dtype, shape, shape.Size()*dtype.Size(), len(data))
	}
	t := tensors.New(dtype, shape, tensors.HostDevice())
	switch dtype {
	case dtypes.Float:
		flat := tensors.DeviceMutableFlatData[float32](t)
		for ii := range flat {
			flat[ii] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*ii:]))
		}
	case dtypes.Double:
		flat := tensors.DeviceMutableFlatData[float64](t)
		for ii := range flat {
			flat[ii] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*ii:]))
		}
	}
	return t, nil
}
