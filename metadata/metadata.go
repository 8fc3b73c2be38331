// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package metadata implements the recursive, ordered metadata map
// carried by datasets, published by stages, and exchanged as
// pipeline requests. Values are variant arrays or nested metadata;
// scalars and fixed-size tuples are stored as short arrays.
//
// Metadata is copy-on-write cheap: Clone shares storage, and the
// first mutation of a shared instance copies it. Mutation is
// single-threaded by contract; concurrent readers of shared
// instances are safe as long as no alias mutates.
package metadata

import (
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigmesh/varray"
)

// A Metadata is an ordered mapping from unique string keys to
// variant arrays or nested metadata. The zero value is an empty,
// usable metadata.
type Metadata struct {
	s *state
}

type state struct {
	// refs counts aliases beyond the first holder. A write to a
	// state with refs > 0 copies first.
	refs int32
	keys []string
	vals map[string]any // varray.Array or Metadata
}

func newState() *state {
	return &state{vals: make(map[string]any)}
}

// New returns a new empty metadata.
func New() Metadata { return Metadata{s: newState()} }

// Clone returns a metadata sharing m's storage. Either alias may be
// mutated afterwards; the mutating side pays for the copy.
func (m Metadata) Clone() Metadata {
	if m.s == nil {
		return Metadata{}
	}
	atomic.AddInt32(&m.s.refs, 1)
	return m
}

func (m *Metadata) writable() *state {
	if m.s == nil {
		m.s = newState()
		return m.s
	}
	if atomic.LoadInt32(&m.s.refs) == 0 {
		return m.s
	}
	// Shared: copy keys and entries. Nested metadata is cloned so
	// that its own copy-on-write protects the original; arrays are
	// shared, per the convention that array contents are immutable
	// once attached.
	s := newState()
	s.keys = append([]string(nil), m.s.keys...)
	for k, v := range m.s.vals {
		if md, ok := v.(Metadata); ok {
			v = md.Clone()
		}
		s.vals[k] = v
	}
	atomic.AddInt32(&m.s.refs, -1)
	m.s = s
	return s
}

// Len returns the number of keys.
func (m Metadata) Len() int {
	if m.s == nil {
		return 0
	}
	return len(m.s.keys)
}

// Empty tells whether the metadata holds no keys.
func (m Metadata) Empty() bool { return m.Len() == 0 }

// Keys returns the keys in insertion order.
func (m Metadata) Keys() []string {
	if m.s == nil {
		return nil
	}
	return append([]string(nil), m.s.keys...)
}

// Has tells whether the key is present.
func (m Metadata) Has(key string) bool {
	if m.s == nil {
		return false
	}
	_, ok := m.s.vals[key]
	return ok
}

// Get returns the raw value stored under key: a varray.Array or a
// Metadata.
func (m Metadata) Get(key string) (any, bool) {
	if m.s == nil {
		return nil, false
	}
	v, ok := m.s.vals[key]
	return v, ok
}

// Del removes the key if present.
func (m *Metadata) Del(key string) {
	if m.s == nil || !m.Has(key) {
		return
	}
	s := m.writable()
	delete(s.vals, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
}

func (m *Metadata) put(key string, v any) {
	s := m.writable()
	if _, ok := s.vals[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.vals[key] = v
}

// Set stores a variant array under key, replacing any previous
// value and preserving first-insertion order.
func (m *Metadata) Set(key string, a varray.Array) { m.put(key, a) }

// SetMetadata stores a nested metadata under key.
func (m *Metadata) SetMetadata(key string, md Metadata) { m.put(key, md.Clone()) }

func (m *Metadata) SetInt64(key string, v int64)     { m.put(key, varray.New(v)) }
func (m *Metadata) SetUint64(key string, v uint64)   { m.put(key, varray.New(v)) }
func (m *Metadata) SetFloat64(key string, v float64) { m.put(key, varray.New(v)) }
func (m *Metadata) SetString(key string, v string)   { m.put(key, varray.New(v)) }

func (m *Metadata) SetUint64s(key string, v ...uint64)   { m.put(key, varray.New(v...)) }
func (m *Metadata) SetFloat64s(key string, v ...float64) { m.put(key, varray.New(v...)) }
func (m *Metadata) SetStrings(key string, v ...string)   { m.put(key, varray.New(v...)) }

// Append appends values to the array stored under key, creating the
// key if absent.
func (m *Metadata) Append(key string, a varray.Array) error {
	cur, ok := m.Get(key)
	if !ok {
		m.Set(key, a.Clone())
		return nil
	}
	arr, ok := cur.(varray.Array)
	if !ok {
		return errors.E(errors.Invalid, "metadata: cannot append to nested metadata at "+key)
	}
	grown := arr.Clone()
	if err := grown.AppendArray(a); err != nil {
		return err
	}
	m.put(key, grown)
	return nil
}

// AppendString appends a single string to the string array at key.
func (m *Metadata) AppendString(key, v string) error {
	return m.Append(key, varray.New(v))
}

// Array returns the array stored under key.
func (m Metadata) Array(key string) (varray.Array, error) {
	v, ok := m.Get(key)
	if !ok {
		return nil, errors.E(errors.NotExist, "metadata: missing key "+key)
	}
	a, ok := v.(varray.Array)
	if !ok {
		return nil, errors.E(errors.Invalid, "metadata: key "+key+" holds nested metadata")
	}
	return a, nil
}

// Child returns the nested metadata stored under key. The returned
// value shares storage; mutating it does not affect m.
func (m Metadata) Child(key string) (Metadata, error) {
	v, ok := m.Get(key)
	if !ok {
		return Metadata{}, errors.E(errors.NotExist, "metadata: missing key "+key)
	}
	md, ok := v.(Metadata)
	if !ok {
		return Metadata{}, errors.E(errors.Invalid, "metadata: key "+key+" holds an array")
	}
	return md.Clone(), nil
}

func (m Metadata) scalar(key string) (varray.Array, error) {
	a, err := m.Array(key)
	if err != nil {
		return nil, err
	}
	if a.Len() < 1 {
		return nil, errors.E(errors.Invalid, "metadata: key "+key+" is empty")
	}
	return a, nil
}

// Int64 returns the scalar stored under key as an int64.
func (m Metadata) Int64(key string) (int64, error) {
	a, err := m.scalar(key)
	if err != nil {
		return 0, err
	}
	return a.Int64(0), nil
}

// Uint64 returns the scalar stored under key as a uint64.
func (m Metadata) Uint64(key string) (uint64, error) {
	a, err := m.scalar(key)
	if err != nil {
		return 0, err
	}
	return a.Uint64(0), nil
}

// Float64 returns the scalar stored under key as a float64.
func (m Metadata) Float64(key string) (float64, error) {
	a, err := m.scalar(key)
	if err != nil {
		return 0, err
	}
	return a.Float64(0), nil
}

// String returns the scalar stored under key as a string.
func (m Metadata) String(key string) (string, error) {
	a, err := m.scalar(key)
	if err != nil {
		return "", err
	}
	return a.String(0), nil
}

// Uint64s returns the array stored under key converted to uint64s.
func (m Metadata) Uint64s(key string) ([]uint64, error) {
	a, err := m.Array(key)
	if err != nil {
		return nil, err
	}
	return varray.Uint64s(a), nil
}

// Float64s returns the array stored under key converted to float64s.
func (m Metadata) Float64s(key string) ([]float64, error) {
	a, err := m.Array(key)
	if err != nil {
		return nil, err
	}
	return varray.Float64s(a), nil
}

// Strings returns the array stored under key converted to strings.
func (m Metadata) Strings(key string) ([]string, error) {
	a, err := m.Array(key)
	if err != nil {
		return nil, err
	}
	return varray.Strings(a), nil
}

// Equal tells whether a and b hold the same keys in the same order
// with equal values.
func Equal(a, b Metadata) bool {
	if a.Len() != b.Len() {
		return false
	}
	if a.s == nil {
		return true
	}
	for i, key := range a.s.keys {
		if b.s.keys[i] != key {
			return false
		}
		av, bv := a.s.vals[key], b.s.vals[key]
		switch avv := av.(type) {
		case varray.Array:
			bvv, ok := bv.(varray.Array)
			if !ok || !varray.Equal(avv, bvv) {
				return false
			}
		case Metadata:
			bvv, ok := bv.(Metadata)
			if !ok || !Equal(avv, bvv) {
				return false
			}
		}
	}
	return true
}
