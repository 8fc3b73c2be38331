// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package varray

import (
	"bytes"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigmesh/meshio"
)

// Encode appends the array's type tag, length, and elements to the
// stream. Decode reverses it exactly: round-tripping preserves the
// element type and values bit for bit.
func Encode(a Array, b *meshio.Buffer) {
	b.WriteUint8(uint8(a.Type()))
	n := a.Len()
	b.WriteUint64(uint64(n))
	switch t := a.(type) {
	case *Of[int8]:
		for _, v := range t.Values {
			b.WriteUint8(uint8(v))
		}
	case *Of[int16]:
		for _, v := range t.Values {
			b.WriteUint16(uint16(v))
		}
	case *Of[int32]:
		for _, v := range t.Values {
			b.WriteUint32(uint32(v))
		}
	case *Of[int64]:
		for _, v := range t.Values {
			b.WriteUint64(uint64(v))
		}
	case *Of[uint8]:
		for _, v := range t.Values {
			b.WriteUint8(v)
		}
	case *Of[uint16]:
		for _, v := range t.Values {
			b.WriteUint16(v)
		}
	case *Of[uint32]:
		for _, v := range t.Values {
			b.WriteUint32(v)
		}
	case *Of[uint64]:
		for _, v := range t.Values {
			b.WriteUint64(v)
		}
	case *Of[float32]:
		for _, v := range t.Values {
			b.WriteUint32(math.Float32bits(v))
		}
	case *Of[float64]:
		for _, v := range t.Values {
			b.WriteUint64(math.Float64bits(v))
		}
	case *Of[string]:
		for _, v := range t.Values {
			b.WriteString(v)
		}
	}
}

// Decode reads an array previously written by Encode.
func Decode(b *meshio.Buffer) (Array, error) {
	tag, err := b.ReadUint8()
	if err != nil {
		return nil, err
	}
	t := Type(tag)
	n64, err := b.ReadUint64()
	if err != nil {
		return nil, err
	}
	n := int(n64)
	switch t {
	case Int8:
		return decodeWith(n, func() (int8, error) { v, err := b.ReadUint8(); return int8(v), err })
	case Int16:
		return decodeWith(n, func() (int16, error) { v, err := b.ReadUint16(); return int16(v), err })
	case Int32:
		return decodeWith(n, func() (int32, error) { v, err := b.ReadUint32(); return int32(v), err })
	case Int64:
		return decodeWith(n, func() (int64, error) { v, err := b.ReadUint64(); return int64(v), err })
	case Uint8:
		return decodeWith(n, b.ReadUint8)
	case Uint16:
		return decodeWith(n, b.ReadUint16)
	case Uint32:
		return decodeWith(n, b.ReadUint32)
	case Uint64:
		return decodeWith(n, b.ReadUint64)
	case Float32:
		return decodeWith(n, b.ReadFloat32)
	case Float64:
		return decodeWith(n, b.ReadFloat64)
	case String:
		return decodeWith(n, b.ReadString)
	}
	return nil, errors.E(errors.Invalid, "varray: invalid type tag in stream")
}

// Equal tells whether a and b hold the same element type, length,
// and bitwise-identical elements. It compares encodings, so NaNs
// with equal payloads compare equal.
func Equal(a, b Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type() != b.Type() || a.Len() != b.Len() {
		return false
	}
	var ab, bb meshio.Buffer
	Encode(a, &ab)
	Encode(b, &bb)
	return bytes.Equal(ab.Bytes(), bb.Bytes())
}

func decodeWith[T Elem](n int, read func() (T, error)) (Array, error) {
	a := &Of[T]{Values: make([]T, n)}
	for i := 0; i < n; i++ {
		v, err := read()
		if err != nil {
			return nil, err
		}
		a.Values[i] = v
	}
	return a, nil
}
