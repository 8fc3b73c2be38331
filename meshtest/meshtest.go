// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package meshtest provides utilities for testing pipeline stages:
// synthetic sources with literal meshes, dataset sinks, and local
// pipeline runs.
package meshtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/grailbio/bigmesh"
	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/exec"
	"github.com/grailbio/bigmesh/metadata"
	"github.com/grailbio/bigmesh/varray"
)

// Source is a pipeline source serving a literal sequence of meshes,
// one per time step.
type Source struct {
	bigmesh.Base
	Meshes []*dataset.CartesianMesh
	// Times optionally carries the reported time axis; when nil the
	// meshes' times are used.
	Times []float64
	// TimeUnits and Calendar annotate the reported time axis.
	TimeUnits, Calendar string
}

// NewSource returns a source serving the given meshes.
func NewSource(meshes ...*dataset.CartesianMesh) *Source {
	s := &Source{Meshes: meshes}
	s.Base = bigmesh.NewBase("test_source", 0, 1, bigmesh.NewProperties())
	return s
}

func (s *Source) times() []float64 {
	if s.Times != nil {
		return s.Times
	}
	times := make([]float64, len(s.Meshes))
	for i, m := range s.Meshes {
		times[i] = m.Time
	}
	return times
}

func (s *Source) ReportMetadata(ctx context.Context, port int, inputs []metadata.Metadata) (metadata.Metadata, error) {
	md := metadata.New()
	var vars []string
	if len(s.Meshes) > 0 {
		vars = s.Meshes[0].Points.Keys()
		md.SetUint64s(bigmesh.KeyWholeExtent, s.Meshes[0].WholeExtent[:]...)
	}
	md.SetStrings(bigmesh.KeyVariables, vars...)

	coords := metadata.New()
	coords.SetString("x_variable", "lon")
	coords.SetString("y_variable", "lat")
	coords.SetString("z_variable", "z")
	coords.SetString("t_variable", "time")
	if len(s.Meshes) > 0 {
		coords.Set("x", s.Meshes[0].X)
		coords.Set("y", s.Meshes[0].Y)
		coords.Set("z", s.Meshes[0].Z)
	}
	coords.Set("t", varray.New(s.times()...))
	md.SetMetadata(bigmesh.KeyCoordinates, coords)

	attrs := metadata.New()
	timeAtts := metadata.New()
	if s.TimeUnits != "" {
		timeAtts.SetString("units", s.TimeUnits)
	}
	if s.Calendar != "" {
		timeAtts.SetString("calendar", s.Calendar)
	}
	attrs.SetMetadata("time", timeAtts)
	md.SetMetadata(bigmesh.KeyAttributes, attrs)

	md.SetInt64("number_of_time_steps", int64(len(s.Meshes)))
	md.SetString(bigmesh.KeyIndexInitializer, "number_of_time_steps")
	md.SetString(bigmesh.KeyIndexRequest, "time_step")
	return md, nil
}

func (s *Source) TranslateRequest(ctx context.Context, port int, inputs []metadata.Metadata, req bigmesh.Request) ([]bigmesh.Request, error) {
	return nil, nil
}

func (s *Source) Execute(ctx context.Context, port int, inputs []dataset.Dataset, req bigmesh.Request) (dataset.Dataset, error) {
	step, err := req.Int64("time_step")
	if err != nil {
		return nil, err
	}
	if step < 0 || step >= int64(len(s.Meshes)) {
		return nil, fmt.Errorf("test_source: invalid time step %d", step)
	}
	mesh := s.Meshes[step].ShallowCopy().(*dataset.CartesianMesh)
	mesh.TimeStep = uint64(step)
	return mesh, nil
}

// UniformMesh builds an nx by ny by nz mesh with the given
// coordinate axes and one point array per name, filled by fill.
func UniformMesh(lon, lat, lev []float64, fill func(name string, i, j, k int) float64, names ...string) *dataset.CartesianMesh {
	m := dataset.NewCartesianMesh()
	m.XVariable, m.YVariable, m.ZVariable = "lon", "lat", "z"
	m.X = varray.New(lon...)
	m.Y = varray.New(lat...)
	if len(lev) == 0 {
		lev = []float64{0}
	}
	m.Z = varray.New(lev...)
	nx, ny, nz := len(lon), len(lat), len(lev)
	m.Extent = dataset.Extent{0, uint64(nx - 1), 0, uint64(ny - 1), 0, uint64(nz - 1)}
	m.WholeExtent = m.Extent
	m.Bounds = dataset.Bounds{lon[0], lon[nx-1], lat[0], lat[ny-1], lev[0], lev[nz-1]}
	for _, name := range names {
		a := make([]float64, nx*ny*nz)
		for k := 0; k < nz; k++ {
			for j := 0; j < ny; j++ {
				for i := 0; i < nx; i++ {
					a[k*nx*ny+j*nx+i] = fill(name, i, j, k)
				}
			}
		}
		m.Points.Set(name, varray.New(a...))
	}
	return m
}

// Run evaluates the pipeline ending at terminal and returns the
// produced datasets in request order.
func Run(t *testing.T, d *exec.Driver, terminal *exec.Stage, e *exec.Executive) []dataset.Dataset {
	t.Helper()
	var out []dataset.Dataset
	err := d.Update(context.Background(), terminal, e,
		func(ctx context.Context, req bigmesh.Request, ds dataset.Dataset) error {
			out = append(out, ds)
			return nil
		})
	if err != nil {
		t.Fatalf("pipeline update: %v", err)
	}
	return out
}
