// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigmesh

import (
	"context"
	"testing"

	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/metadata"
	"github.com/grailbio/bigmesh/varray"
)

func arMesh(nx, ny int, fill func(i, j int) float64) *dataset.CartesianMesh {
	m := dataset.NewCartesianMesh()
	lon := make([]float64, nx)
	lat := make([]float64, ny)
	for i := range lon {
		lon[i] = float64(i)
	}
	for j := range lat {
		lat[j] = float64(j)
	}
	m.X = varray.New(lon...)
	m.Y = varray.New(lat...)
	m.Z = varray.New(0.0)
	m.Extent = dataset.Extent{0, uint64(nx - 1), 0, uint64(ny - 1), 0, 0}
	m.WholeExtent = m.Extent
	vals := make([]float64, nx*ny)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			vals[j*nx+i] = fill(i, j)
		}
	}
	m.Points.Set("ivt", varray.New(vals...))
	return m
}

func TestARDetectProbability(t *testing.T) {
	ctx := context.Background()
	stage := NewARDetect()
	stage.Properties().Set("min_component_area", 1)

	// Left half far above every threshold, right half zero.
	mesh := arMesh(8, 4, func(i, j int) float64 {
		if i < 4 {
			return 10000
		}
		return 0
	})
	out, err := stage.Execute(ctx, 0, []dataset.Dataset{mesh}, metadata.New())
	if err != nil {
		t.Fatal(err)
	}
	prob := out.(*dataset.CartesianMesh).Points.Get("ar_probability")
	if prob == nil {
		t.Fatal("no probability array produced")
	}
	if got := prob.Float64(0); got != 1 {
		t.Errorf("saturated point probability %g, want 1", got)
	}
	if got := prob.Float64(7); got != 0 {
		t.Errorf("dry point probability %g, want 0", got)
	}
}

func TestARDetectAreaFilter(t *testing.T) {
	ctx := context.Background()
	stage := NewARDetect()
	stage.Properties().Set("min_component_area", 4)
	// A single hot point cannot satisfy the area floor.
	mesh := arMesh(5, 5, func(i, j int) float64 {
		if i == 2 && j == 2 {
			return 10000
		}
		return 0
	})
	out, err := stage.Execute(ctx, 0, []dataset.Dataset{mesh}, metadata.New())
	if err != nil {
		t.Fatal(err)
	}
	prob := out.(*dataset.CartesianMesh).Points.Get("ar_probability")
	for i := 0; i < prob.Len(); i++ {
		if prob.Float64(i) != 0 {
			t.Fatalf("point %d has probability %g after the area filter", i, prob.Float64(i))
		}
	}
}

func TestDetectMaskConnectivity(t *testing.T) {
	// Two diagonal points are not 4-connected, so with an area
	// floor of 2 both are dropped.
	field := []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 0,
	}
	mask := detectMask(field, 3, 3, 0.5, 2)
	for i, v := range mask {
		if v != 0 {
			t.Errorf("mask[%d] = %d, want 0", i, v)
		}
	}
	// A 4-connected pair survives; a point in the far corner is
	// isolated and dropped.
	field[1] = 1
	field[4], field[8] = 0, 1
	mask = detectMask(field, 3, 3, 0.5, 2)
	if mask[0] != 1 || mask[1] != 1 {
		t.Errorf("connected pair was dropped: %v", mask)
	}
	if mask[8] != 0 {
		t.Errorf("isolated point survived: %v", mask)
	}
}
