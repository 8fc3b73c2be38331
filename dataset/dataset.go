// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dataset implements the data bundles passed between
// pipeline stages: an abstract Dataset carrying metadata and named
// array collections, with table and cartesian mesh shapes.
//
// Datasets are reference types. Once a stage has produced a dataset
// it is immutable by convention; a downstream stage that needs to
// modify one makes a shallow copy and replaces the arrays it
// changes.
package dataset

import (
	"os"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigmesh/meshio"
	"github.com/grailbio/bigmesh/metadata"
)

// Dataset is the abstract bundle of arrays and attached metadata
// produced and consumed by stage execute calls.
type Dataset interface {
	// TypeName returns the registered name of the concrete shape,
	// used by the binary codec.
	TypeName() string
	// Metadata returns the dataset's metadata. The returned value
	// shares storage copy-on-write.
	Metadata() metadata.Metadata
	// SetMetadata replaces the dataset's metadata.
	SetMetadata(md metadata.Metadata)
	// ShallowCopy returns a new dataset of the same shape sharing
	// this dataset's arrays.
	ShallowCopy() Dataset
	// Encode appends the dataset to the stream.
	Encode(b *meshio.Buffer)
	// Decode reads the dataset from the stream, replacing contents.
	Decode(b *meshio.Buffer) error
}

var registry = make(map[string]func() Dataset)

// Register associates a type name with a factory for the codec.
// Concrete shapes register themselves at init time.
func Register(name string, factory func() Dataset) {
	must.True(registry[name] == nil, "dataset: duplicate registration of ", name)
	registry[name] = factory
}

// Encode appends the dataset, prefixed with its type name, to the
// stream. A nil dataset encodes as an empty type name.
func Encode(d Dataset, b *meshio.Buffer) {
	if d == nil {
		b.WriteString("")
		return
	}
	b.WriteString(d.TypeName())
	d.Encode(b)
}

// Decode reads a dataset written by Encode, dispatching on the
// recorded type name.
func Decode(b *meshio.Buffer) (Dataset, error) {
	name, err := b.ReadString()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, nil
	}
	factory := registry[name]
	if factory == nil {
		return nil, errors.E(errors.Invalid, "dataset: unknown dataset type "+name)
	}
	d := factory()
	if err := d.Decode(b); err != nil {
		return nil, err
	}
	return d, nil
}

// WriteFile writes the dataset as a stream file (magic, version,
// checksum).
func WriteFile(path string, d Dataset) error {
	var b meshio.Buffer
	Encode(d, &b)
	return meshio.WriteFile(path, 0o644, false, b.Bytes())
}

// ReadFile reads a dataset written by WriteFile.
func ReadFile(path string) (Dataset, error) {
	payload, err := meshio.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E(errors.NotExist, "dataset: ", path)
		}
		return nil, err
	}
	return Decode(meshio.NewBuffer(payload))
}
