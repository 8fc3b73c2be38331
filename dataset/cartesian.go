// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dataset

import (
	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigmesh/meshio"
	"github.com/grailbio/bigmesh/metadata"
	"github.com/grailbio/bigmesh/varray"
)

func init() {
	Register("cartesian_mesh", func() Dataset { return NewCartesianMesh() })
}

// An Extent is an inclusive 6-integer index box (i0,i1,j0,j1,k0,k1)
// into a structured mesh.
type Extent [6]uint64

// Span returns the number of points along axis d (0=x, 1=y, 2=z).
func (e Extent) Span(d int) uint64 { return e[2*d+1] - e[2*d] + 1 }

// NumPoints returns the number of mesh points in the extent.
func (e Extent) NumPoints() uint64 { return e.Span(0) * e.Span(1) * e.Span(2) }

// Bounds is a 6-double coordinate box (x0,x1,y0,y1,z0,z1).
type Bounds [6]float64

// A CartesianMesh is a dataset on a structured mesh with axis-
// aligned coordinate arrays. Point arrays have one element per mesh
// point in the extent; information arrays have independent sizes.
type CartesianMesh struct {
	md metadata.Metadata

	XVariable, YVariable, ZVariable string
	X, Y, Z                         varray.Array

	Time      float64
	TimeStep  uint64
	Calendar  string
	TimeUnits string

	Extent      Extent
	WholeExtent Extent
	Bounds      Bounds

	PeriodicX, PeriodicY, PeriodicZ bool

	Points *Collection
	Cells  *Collection
	Info   *Collection
}

// NewCartesianMesh returns a new empty mesh.
func NewCartesianMesh() *CartesianMesh {
	return &CartesianMesh{
		Points: NewCollection(),
		Cells:  NewCollection(),
		Info:   NewCollection(),
	}
}

func (m *CartesianMesh) TypeName() string { return "cartesian_mesh" }

func (m *CartesianMesh) Metadata() metadata.Metadata { return m.md.Clone() }

func (m *CartesianMesh) SetMetadata(md metadata.Metadata) { m.md = md.Clone() }

// ShallowCopy returns a mesh sharing this mesh's coordinate and
// data arrays. The collections are copied so the new mesh can
// replace arrays without touching the original.
func (m *CartesianMesh) ShallowCopy() Dataset {
	out := *m
	out.md = m.md.Clone()
	out.Points = m.Points.Clone()
	out.Cells = m.Cells.Clone()
	out.Info = m.Info.Clone()
	return &out
}

// Validate checks the coordinate/extent invariants: each coordinate
// array spans its extent axis and every point array has one element
// per mesh point.
func (m *CartesianMesh) Validate() error {
	spans := [3]uint64{m.Extent.Span(0), m.Extent.Span(1), m.Extent.Span(2)}
	coords := [3]varray.Array{m.X, m.Y, m.Z}
	names := [3]string{"x", "y", "z"}
	for d := 0; d < 3; d++ {
		if coords[d] == nil {
			continue
		}
		if uint64(coords[d].Len()) != spans[d] {
			return errors.E(errors.Invalid, "dataset: "+names[d]+" coordinate length does not span the extent")
		}
	}
	npts := m.Extent.NumPoints()
	for i := 0; i < m.Points.Len(); i++ {
		if uint64(m.Points.At(i).Len()) != npts {
			return errors.E(errors.Invalid, "dataset: point array "+m.Points.Name(i)+" does not cover the extent")
		}
	}
	return nil
}

func encodeExtent(e Extent, b *meshio.Buffer) {
	for _, v := range e {
		b.WriteUint64(v)
	}
}

func decodeExtent(b *meshio.Buffer) (e Extent, err error) {
	for i := range e {
		if e[i], err = b.ReadUint64(); err != nil {
			return e, err
		}
	}
	return e, nil
}

func (m *CartesianMesh) Encode(b *meshio.Buffer) {
	metadata.Encode(m.md, b)
	b.WriteString(m.XVariable)
	b.WriteString(m.YVariable)
	b.WriteString(m.ZVariable)
	for _, c := range []varray.Array{m.X, m.Y, m.Z} {
		if c == nil {
			b.WriteBool(false)
			continue
		}
		b.WriteBool(true)
		varray.Encode(c, b)
	}
	b.WriteFloat64(m.Time)
	b.WriteUint64(m.TimeStep)
	b.WriteString(m.Calendar)
	b.WriteString(m.TimeUnits)
	encodeExtent(m.Extent, b)
	encodeExtent(m.WholeExtent, b)
	for _, v := range m.Bounds {
		b.WriteFloat64(v)
	}
	b.WriteBool(m.PeriodicX)
	b.WriteBool(m.PeriodicY)
	b.WriteBool(m.PeriodicZ)
	m.Points.encode(b)
	m.Cells.encode(b)
	m.Info.encode(b)
}

func (m *CartesianMesh) Decode(b *meshio.Buffer) error {
	var err error
	if m.md, err = metadata.Decode(b); err != nil {
		return err
	}
	if m.XVariable, err = b.ReadString(); err != nil {
		return err
	}
	if m.YVariable, err = b.ReadString(); err != nil {
		return err
	}
	if m.ZVariable, err = b.ReadString(); err != nil {
		return err
	}
	for _, c := range []*varray.Array{&m.X, &m.Y, &m.Z} {
		present, err := b.ReadBool()
		if err != nil {
			return err
		}
		if !present {
			*c = nil
			continue
		}
		if *c, err = varray.Decode(b); err != nil {
			return err
		}
	}
	if m.Time, err = b.ReadFloat64(); err != nil {
		return err
	}
	if m.TimeStep, err = b.ReadUint64(); err != nil {
		return err
	}
	if m.Calendar, err = b.ReadString(); err != nil {
		return err
	}
	if m.TimeUnits, err = b.ReadString(); err != nil {
		return err
	}
	if m.Extent, err = decodeExtent(b); err != nil {
		return err
	}
	if m.WholeExtent, err = decodeExtent(b); err != nil {
		return err
	}
	for i := range m.Bounds {
		if m.Bounds[i], err = b.ReadFloat64(); err != nil {
			return err
		}
	}
	if m.PeriodicX, err = b.ReadBool(); err != nil {
		return err
	}
	if m.PeriodicY, err = b.ReadBool(); err != nil {
		return err
	}
	if m.PeriodicZ, err = b.ReadBool(); err != nil {
		return err
	}
	if m.Points, err = decodeCollection(b); err != nil {
		return err
	}
	if m.Cells, err = decodeCollection(b); err != nil {
		return err
	}
	if m.Info, err = decodeCollection(b); err != nil {
		return err
	}
	return nil
}

var _ Dataset = (*CartesianMesh)(nil)
