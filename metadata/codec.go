// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package metadata

import (
	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigmesh/meshio"
	"github.com/grailbio/bigmesh/varray"
)

const (
	entryArray    = 0
	entryMetadata = 1
)

// Encode appends the metadata, including nested metadata and key
// order, to the stream. Decode(Encode(m)) == m.
func Encode(m Metadata, b *meshio.Buffer) {
	b.WriteUint64(uint64(m.Len()))
	if m.s == nil {
		return
	}
	for _, key := range m.s.keys {
		b.WriteString(key)
		switch v := m.s.vals[key].(type) {
		case varray.Array:
			b.WriteUint8(entryArray)
			varray.Encode(v, b)
		case Metadata:
			b.WriteUint8(entryMetadata)
			Encode(v, b)
		}
	}
}

// Decode reads a metadata previously written by Encode.
func Decode(b *meshio.Buffer) (Metadata, error) {
	n, err := b.ReadUint64()
	if err != nil {
		return Metadata{}, err
	}
	m := New()
	for i := uint64(0); i < n; i++ {
		key, err := b.ReadString()
		if err != nil {
			return Metadata{}, err
		}
		kind, err := b.ReadUint8()
		if err != nil {
			return Metadata{}, err
		}
		switch kind {
		case entryArray:
			a, err := varray.Decode(b)
			if err != nil {
				return Metadata{}, err
			}
			m.Set(key, a)
		case entryMetadata:
			md, err := Decode(b)
			if err != nil {
				return Metadata{}, err
			}
			m.SetMetadata(key, md)
		default:
			return Metadata{}, errors.E(errors.Invalid, "metadata: invalid entry kind in stream")
		}
	}
	return m, nil
}

// Marshal returns the metadata's binary encoding.
func Marshal(m Metadata) []byte {
	var b meshio.Buffer
	Encode(m, &b)
	return append([]byte(nil), b.Bytes()...)
}

// Unmarshal decodes a metadata from its binary encoding.
func Unmarshal(p []byte) (Metadata, error) {
	return Decode(meshio.NewBuffer(p))
}
