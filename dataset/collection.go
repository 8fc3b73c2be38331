// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dataset

import (
	"github.com/grailbio/bigmesh/meshio"
	"github.com/grailbio/bigmesh/varray"
)

// A Collection is an ordered mapping from array names to variant
// arrays.
type Collection struct {
	keys []string
	m    map[string]varray.Array
}

// NewCollection returns a new empty collection.
func NewCollection() *Collection {
	return &Collection{m: make(map[string]varray.Array)}
}

// Len returns the number of arrays.
func (c *Collection) Len() int { return len(c.keys) }

// Keys returns the array names in insertion order.
func (c *Collection) Keys() []string { return append([]string(nil), c.keys...) }

// Name returns the i'th array name.
func (c *Collection) Name(i int) string { return c.keys[i] }

// At returns the i'th array.
func (c *Collection) At(i int) varray.Array { return c.m[c.keys[i]] }

// Has tells whether an array with the given name is present.
func (c *Collection) Has(name string) bool {
	_, ok := c.m[name]
	return ok
}

// Get returns the named array, or nil if absent.
func (c *Collection) Get(name string) varray.Array { return c.m[name] }

// Set stores the array under name, replacing any previous array and
// preserving first-insertion order.
func (c *Collection) Set(name string, a varray.Array) {
	if _, ok := c.m[name]; !ok {
		c.keys = append(c.keys, name)
	}
	c.m[name] = a
}

// Del removes the named array if present.
func (c *Collection) Del(name string) {
	if _, ok := c.m[name]; !ok {
		return
	}
	delete(c.m, name)
	for i, k := range c.keys {
		if k == name {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

// Clone returns a collection with the same names sharing the same
// arrays.
func (c *Collection) Clone() *Collection {
	out := NewCollection()
	for _, k := range c.keys {
		out.Set(k, c.m[k])
	}
	return out
}

// Equal tells whether c and o hold the same names in the same order
// with element-wise equal arrays.
func (c *Collection) Equal(o *Collection) bool {
	if c.Len() != o.Len() {
		return false
	}
	for i, k := range c.keys {
		if o.keys[i] != k || !varray.Equal(c.m[k], o.m[k]) {
			return false
		}
	}
	return true
}

func (c *Collection) encode(b *meshio.Buffer) {
	b.WriteUint64(uint64(len(c.keys)))
	for _, k := range c.keys {
		b.WriteString(k)
		varray.Encode(c.m[k], b)
	}
}

func decodeCollection(b *meshio.Buffer) (*Collection, error) {
	n, err := b.ReadUint64()
	if err != nil {
		return nil, err
	}
	c := NewCollection()
	for i := uint64(0); i < n; i++ {
		name, err := b.ReadString()
		if err != nil {
			return nil, err
		}
		a, err := varray.Decode(b)
		if err != nil {
			return nil, err
		}
		c.Set(name, a)
	}
	return c, nil
}
