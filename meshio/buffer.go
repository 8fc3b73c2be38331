// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package meshio provides the binary stream used to serialize
// metadata and datasets for caching, broadcast over ranks, and
// on-disk dumps.
package meshio

import (
	"encoding/binary"
	"math"

	"github.com/grailbio/base/errors"
)

// ErrShortBuffer is returned by the consume methods when the
// buffer does not hold enough bytes to satisfy a read.
var ErrShortBuffer = errors.New("meshio: short buffer")

// A Buffer is an append/consume byte stream. The append methods
// write fixed-width little-endian scalars and length-prefixed
// strings; the consume methods read them back in the same order.
// The zero Buffer is an empty stream ready for use.
type Buffer struct {
	buf []byte
	off int
}

// NewBuffer returns a Buffer that consumes from the provided bytes.
func NewBuffer(p []byte) *Buffer {
	return &Buffer{buf: p}
}

// Bytes returns the unconsumed contents of the buffer.
func (b *Buffer) Bytes() []byte { return b.buf[b.off:] }

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int { return len(b.buf) - b.off }

// Reset empties the buffer and rewinds the consume offset.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.off = 0
}

func (b *Buffer) WriteUint8(v uint8) {
	b.buf = append(b.buf, v)
}

func (b *Buffer) WriteUint16(v uint16) {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
}

func (b *Buffer) WriteUint32(v uint32) {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
}

func (b *Buffer) WriteUint64(v uint64) {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, v)
}

func (b *Buffer) WriteInt64(v int64) {
	b.WriteUint64(uint64(v))
}

func (b *Buffer) WriteFloat32(v float32) {
	b.WriteUint32(math.Float32bits(v))
}

func (b *Buffer) WriteFloat64(v float64) {
	b.WriteUint64(math.Float64bits(v))
}

func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteUint8(1)
	} else {
		b.WriteUint8(0)
	}
}

// WriteBytes writes a length-prefixed byte slice.
func (b *Buffer) WriteBytes(p []byte) {
	b.WriteUint64(uint64(len(p)))
	b.buf = append(b.buf, p...)
}

// WriteString writes a length-prefixed string.
func (b *Buffer) WriteString(s string) {
	b.WriteUint64(uint64(len(s)))
	b.buf = append(b.buf, s...)
}

func (b *Buffer) take(n int) ([]byte, error) {
	if b.Len() < n {
		return nil, ErrShortBuffer
	}
	p := b.buf[b.off : b.off+n]
	b.off += n
	return p, nil
}

func (b *Buffer) ReadUint8() (uint8, error) {
	p, err := b.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) ReadUint16() (uint16, error) {
	p, err := b.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (b *Buffer) ReadUint32() (uint32, error) {
	p, err := b.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (b *Buffer) ReadUint64() (uint64, error) {
	p, err := b.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

func (b *Buffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

func (b *Buffer) ReadFloat32() (float32, error) {
	v, err := b.ReadUint32()
	return math.Float32frombits(v), err
}

func (b *Buffer) ReadFloat64() (float64, error) {
	v, err := b.ReadUint64()
	return math.Float64frombits(v), err
}

func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadUint8()
	return v != 0, err
}

// ReadBytes reads a length-prefixed byte slice. The returned slice
// aliases the buffer's storage.
func (b *Buffer) ReadBytes() ([]byte, error) {
	n, err := b.ReadUint64()
	if err != nil {
		return nil, err
	}
	return b.take(int(n))
}

// ReadString reads a length-prefixed string.
func (b *Buffer) ReadString() (string, error) {
	p, err := b.ReadBytes()
	return string(p), err
}
