// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigmesh

import (
	"context"
	"math"
	"testing"

	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/metadata"
	"github.com/grailbio/bigmesh/varray"
)

func TestIVTUniformColumn(t *testing.T) {
	ctx := context.Background()
	stage := NewIVT()

	m := dataset.NewCartesianMesh()
	m.X = varray.New(0.0)
	m.Y = varray.New(0.0)
	// Pressure decreases with height; two levels 100 hPa apart.
	m.Z = varray.New(100000.0, 90000)
	m.Extent = dataset.Extent{0, 0, 0, 0, 0, 1}
	m.WholeExtent = m.Extent
	m.Points.Set("ua", varray.New(10.0, 10))
	m.Points.Set("va", varray.New(0.0, 0))
	m.Points.Set("hus", varray.New(0.01, 0.01))

	out, err := stage.Execute(ctx, 0, []dataset.Dataset{m}, metadata.New())
	if err != nil {
		t.Fatal(err)
	}
	mesh := out.(*dataset.CartesianMesh)
	// ivt_u = -(1/g) * q*u * dp = -(1/9.81) * 0.1 * -10000.
	want := -1.0 / 9.81 * 0.01 * 10 * (90000 - 100000)
	got := mesh.Points.Get("ivt_u").Float64(0)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("ivt_u = %g, want %g", got, want)
	}
	if gotV := mesh.Points.Get("ivt_v").Float64(0); math.Abs(gotV) > 1e-12 {
		t.Errorf("ivt_v = %g, want 0", gotV)
	}
	mag := mesh.Points.Get("ivt").Float64(0)
	if math.Abs(mag-math.Abs(want)) > 1e-9 {
		t.Errorf("ivt magnitude = %g, want %g", mag, math.Abs(want))
	}
	if mesh.Extent.Span(2) != 1 {
		t.Errorf("the output mesh still has a vertical extent: %v", mesh.Extent)
	}
}

func TestIVTTranslateRequest(t *testing.T) {
	ctx := context.Background()
	stage := NewIVT()
	req := metadata.New()
	req.SetStrings(KeyArrays, "ivt")
	ups, err := stage.TranslateRequest(ctx, 0, []metadata.Metadata{metadata.New()}, req)
	if err != nil {
		t.Fatal(err)
	}
	arrays := RequestedArrays(ups[0])
	found := map[string]bool{}
	for _, a := range arrays {
		found[a] = true
	}
	for _, want := range []string{"ua", "va", "hus"} {
		if !found[want] {
			t.Errorf("upstream request %v is missing %s", arrays, want)
		}
	}
	for _, produced := range []string{"ivt", "ivt_u", "ivt_v"} {
		if found[produced] {
			t.Errorf("produced variable %s leaked into the upstream request", produced)
		}
	}
}
