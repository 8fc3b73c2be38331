// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigmesh

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/metadata"
	"github.com/grailbio/bigmesh/varray"
)

// DatasetDiff compares a test dataset (input 1) against a reference
// (input 0) within a relative tolerance. The first difference found
// fails the request; on success the test dataset passes through.
// Regression suites connect a known-good reader to port 0 and the
// pipeline under test to port 1.
type DatasetDiff struct {
	Base
}

// NewDatasetDiff returns a diff stage with default properties.
func NewDatasetDiff() *DatasetDiff {
	props := NewProperties(
		Spec{"tolerance", KindFloat, 1e-6, "relative tolerance of element comparisons"},
	)
	s := &DatasetDiff{}
	s.Base = NewBase("dataset_diff", 2, 1, props)
	return s
}

func (s *DatasetDiff) ReportMetadata(ctx context.Context, port int, inputs []metadata.Metadata) (metadata.Metadata, error) {
	return inputs[0].Clone(), nil
}

func (s *DatasetDiff) TranslateRequest(ctx context.Context, port int, inputs []metadata.Metadata, req Request) ([]Request, error) {
	return []Request{req.Clone(), req.Clone()}, nil
}

func (s *DatasetDiff) Execute(ctx context.Context, port int, inputs []dataset.Dataset, req Request) (dataset.Dataset, error) {
	ref, test := inputs[0], inputs[1]
	if err := s.diff(ref, test); err != nil {
		log.Error.Printf("dataset_diff: %v", err)
		return nil, err
	}
	return test, nil
}

func (s *DatasetDiff) diff(ref, test dataset.Dataset) error {
	switch r := ref.(type) {
	case *dataset.Table:
		t, ok := test.(*dataset.Table)
		if !ok {
			return errors.E(errors.Invalid, fmt.Sprintf("dataset_diff: reference is a table, test is %T", test))
		}
		return s.diffCollection("column", r.Columns, t.Columns)
	case *dataset.CartesianMesh:
		t, ok := test.(*dataset.CartesianMesh)
		if !ok {
			return errors.E(errors.Invalid, fmt.Sprintf("dataset_diff: reference is a mesh, test is %T", test))
		}
		if r.Extent != t.Extent {
			return errors.E(errors.Invalid, fmt.Sprintf(
				"dataset_diff: extent %v differs from reference %v", t.Extent, r.Extent))
		}
		for _, c := range []struct {
			name     string
			ref, tst varray.Array
		}{{"x", r.X, t.X}, {"y", r.Y, t.Y}, {"z", r.Z, t.Z}} {
			if err := s.diffArray("coordinate "+c.name, c.ref, c.tst); err != nil {
				return err
			}
		}
		if err := s.diffCollection("point array", r.Points, t.Points); err != nil {
			return err
		}
		return s.diffCollection("information array", r.Info, t.Info)
	default:
		return errors.E(errors.NotSupported, fmt.Sprintf("dataset_diff: unsupported dataset type %T", ref))
	}
}

func (s *DatasetDiff) diffCollection(what string, ref, test *dataset.Collection) error {
	if ref.Len() != test.Len() {
		return errors.E(errors.Invalid, fmt.Sprintf(
			"dataset_diff: %s count %d differs from reference %d", what, test.Len(), ref.Len()))
	}
	for i := 0; i < ref.Len(); i++ {
		name := ref.Name(i)
		if !test.Has(name) {
			return errors.E(errors.Invalid, "dataset_diff: missing "+what+" "+name)
		}
		if err := s.diffArray(what+" "+name, ref.Get(name), test.Get(name)); err != nil {
			return err
		}
	}
	return nil
}

func (s *DatasetDiff) diffArray(what string, ref, test varray.Array) error {
	if ref == nil && test == nil {
		return nil
	}
	if ref == nil || test == nil {
		return errors.E(errors.Invalid, "dataset_diff: "+what+" present on one side only")
	}
	if ref.Len() != test.Len() {
		return errors.E(errors.Invalid, fmt.Sprintf(
			"dataset_diff: %s length %d differs from reference %d", what, test.Len(), ref.Len()))
	}
	tol := s.Properties().Float("tolerance")
	for i := 0; i < ref.Len(); i++ {
		if ref.Type() == varray.String {
			if ref.String(i) != test.String(i) {
				return errors.E(errors.Invalid, fmt.Sprintf(
					"dataset_diff: %s[%d] = %q differs from reference %q", what, i, test.String(i), ref.String(i)))
			}
			continue
		}
		rv, tv := ref.Float64(i), test.Float64(i)
		scale := math.Max(math.Abs(rv), math.Abs(tv))
		if diff := math.Abs(rv - tv); diff > tol*math.Max(scale, 1) {
			return errors.E(errors.Invalid, fmt.Sprintf(
				"dataset_diff: %s[%d] = %g differs from reference %g by %g", what, i, tv, rv, diff))
		}
	}
	return nil
}

var _ Algorithm = (*DatasetDiff)(nil)
