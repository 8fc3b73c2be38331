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

func TestVerticalIntegralHybrid(t *testing.T) {
	ctx := context.Background()
	stage := NewVerticalIntegral()
	stage.Properties().Set("integration_variable", "q")
	stage.Properties().Set("output_variable_name", "q_int")
	stage.Properties().Set("p_top_override_value", 100.0)

	m := dataset.NewCartesianMesh()
	m.X = varray.New(0.0)
	m.Y = varray.New(0.0)
	m.Z = varray.New(0.0, 1, 2, 3)
	m.Extent = dataset.Extent{0, 0, 0, 0, 0, 3}
	m.WholeExtent = m.Extent
	m.Points.Set("q", varray.New(1.0, 1, 1, 1))
	m.Info.Set("a_bnds", varray.New(0.0, 0.25, 0.5, 0.75, 1))
	m.Info.Set("b_bnds", varray.New(0.0, 0, 0, 0, 0))
	m.Info.Set("ps", varray.New(100000.0))

	out, err := stage.Execute(ctx, 0, []dataset.Dataset{m}, metadata.New())
	if err != nil {
		t.Fatal(err)
	}
	mesh := out.(*dataset.CartesianMesh)
	got := mesh.Points.Get("q_int")
	if got == nil {
		t.Fatal("no integrated array produced")
	}
	// With b = 0 the pressure differential is p_top*da per level;
	// the four levels sum to p_top, so the integral is
	// -(1/9.81)*1*100.
	want := -1.0 / 9.81 * 100
	if math.Abs(got.Float64(0)-want) > 1e-6 {
		t.Errorf("got %g, want %g within 1e-6", got.Float64(0), want)
	}
	if mesh.Extent.Span(2) != 1 {
		t.Errorf("the output mesh still has a vertical extent: %v", mesh.Extent)
	}
}

func TestVerticalIntegralSigma(t *testing.T) {
	ctx := context.Background()
	stage := NewVerticalIntegral()
	stage.Properties().Set("integration_variable", "q")
	stage.Properties().Set("output_variable_name", "q_int")
	stage.Properties().Set("using_hybrid", false)
	stage.Properties().Set("p_top_override_value", 0.0)

	m := dataset.NewCartesianMesh()
	m.X = varray.New(0.0)
	m.Y = varray.New(0.0)
	m.Z = varray.New(0.0, 1)
	m.Extent = dataset.Extent{0, 0, 0, 0, 0, 1}
	m.WholeExtent = m.Extent
	m.Points.Set("q", varray.New(2.0, 2))
	m.Info.Set("sigma_bnds", varray.New(0.0, 0.5, 1))
	m.Info.Set("ps", varray.New(1000.0))

	out, err := stage.Execute(ctx, 0, []dataset.Dataset{m}, metadata.New())
	if err != nil {
		t.Fatal(err)
	}
	got := out.(*dataset.CartesianMesh).Points.Get("q_int").Float64(0)
	// dp = ps*dsigma = 500 per level; -(1/9.81)*2*1000.
	want := -1.0 / 9.81 * 2 * 1000
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("got %g, want %g", got, want)
	}
}

func TestVerticalIntegralReport(t *testing.T) {
	ctx := context.Background()
	stage := NewVerticalIntegral()
	stage.Properties().Set("integration_variable", "q")
	in := metadata.New()
	in.SetStrings(KeyVariables, "q", "ps")
	in.SetUint64s(KeyWholeExtent, 0, 9, 0, 4, 0, 3)
	out, err := stage.ReportMetadata(ctx, 0, []metadata.Metadata{in})
	if err != nil {
		t.Fatal(err)
	}
	ext, err := out.Uint64s(KeyWholeExtent)
	if err != nil {
		t.Fatal(err)
	}
	if ext[4] != 0 || ext[5] != 0 {
		t.Errorf("the reported whole extent keeps a vertical range: %v", ext)
	}
}

func TestVerticalIntegralTranslateRequest(t *testing.T) {
	ctx := context.Background()
	stage := NewVerticalIntegral()
	stage.Properties().Set("integration_variable", "q")
	in := metadata.New()
	in.SetUint64s(KeyWholeExtent, 0, 9, 0, 4, 0, 3)
	req := metadata.New()
	req.SetStrings(KeyArrays, "integrated_var")
	req.SetUint64s(KeyExtent, 0, 4, 0, 2, 0, 0)
	ups, err := stage.TranslateRequest(ctx, 0, []metadata.Metadata{in}, req)
	if err != nil {
		t.Fatal(err)
	}
	arrays := RequestedArrays(ups[0])
	found := map[string]bool{}
	for _, a := range arrays {
		found[a] = true
	}
	for _, want := range []string{"q", "ps", "a_bnds", "b_bnds", "ptop"} {
		if !found[want] {
			t.Errorf("upstream request %v is missing %s", arrays, want)
		}
	}
	if found["integrated_var"] {
		t.Error("the produced variable leaked into the upstream request")
	}
	ext, err := ups[0].Uint64s(KeyExtent)
	if err != nil {
		t.Fatal(err)
	}
	if ext[4] != 0 || ext[5] != 3 {
		t.Errorf("the upstream request does not cover the whole column: %v", ext)
	}
}
