// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigmesh_test

import (
	"context"
	"math"
	"testing"

	"github.com/grailbio/bigmesh"
	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/exec"
	"github.com/grailbio/bigmesh/meshtest"
	"github.com/grailbio/bigmesh/metadata"
)

// scalarMeshes returns n single-point meshes where the field value
// at step i is value(i).
func scalarMeshes(n int, name string, value func(i int) float64) []*dataset.CartesianMesh {
	meshes := make([]*dataset.CartesianMesh, n)
	for i := 0; i < n; i++ {
		i := i
		meshes[i] = meshtest.UniformMesh(
			[]float64{0}, []float64{0}, nil,
			func(string, int, int, int) float64 { return value(i) },
			name)
		meshes[i].Time = float64(i)
	}
	return meshes
}

func TestMonthlyAverage(t *testing.T) {
	source := meshtest.NewSource(scalarMeshes(60, "T", func(i int) float64 { return float64(i) })...)
	source.TimeUnits = "days since 2000-01-01"
	source.Calendar = "360_day"

	reduce := bigmesh.NewTemporalReduction()
	reduce.Properties().Set("point_arrays", []string{"T"})

	d := exec.NewDriver()
	ss := d.Add(source)
	ts := d.Add(reduce)
	if err := d.Connect(ts, 0, ss, 0); err != nil {
		t.Fatal(err)
	}

	e := exec.NewExecutive()
	e.Arrays = []string{"T"}
	out := meshtest.Run(t, d, ts, e)
	if len(out) != 2 {
		t.Fatalf("got %d intervals, want 2", len(out))
	}
	for i, want := range []float64{14.5, 44.5} {
		mesh := out[i].(*dataset.CartesianMesh)
		got := mesh.Points.Get("T").Float64(0)
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("month %d mean = %g, want %g", i, got, want)
		}
	}
}

func TestMonthlyMinimumMaximum(t *testing.T) {
	for _, tc := range []struct {
		op   string
		want [2]float64
	}{
		{"minimum", [2]float64{0, 30}},
		{"maximum", [2]float64{29, 59}},
	} {
		source := meshtest.NewSource(scalarMeshes(60, "T", func(i int) float64 { return float64(i) })...)
		source.TimeUnits = "days since 2000-01-01"
		source.Calendar = "360_day"
		reduce := bigmesh.NewTemporalReduction()
		reduce.Properties().Set("point_arrays", []string{"T"})
		reduce.Properties().Set("operator", tc.op)

		d := exec.NewDriver()
		ss := d.Add(source)
		ts := d.Add(reduce)
		if err := d.Connect(ts, 0, ss, 0); err != nil {
			t.Fatal(err)
		}
		e := exec.NewExecutive()
		e.Arrays = []string{"T"}
		out := meshtest.Run(t, d, ts, e)
		for i, want := range tc.want {
			got := out[i].(*dataset.CartesianMesh).Points.Get("T").Float64(0)
			if got != want {
				t.Errorf("%s month %d = %g, want %g", tc.op, i, got, want)
			}
		}
	}
}

// The reduce operator must be associative so the pool may combine
// partial results in any grouping.
func TestReduceAssociativity(t *testing.T) {
	ctx := context.Background()
	reduce := bigmesh.NewTemporalReduction()
	reduce.Properties().Set("point_arrays", []string{"T"})

	mesh := func(v float64) dataset.Dataset {
		m := meshtest.UniformMesh([]float64{0}, []float64{0}, nil,
			func(string, int, int, int) float64 { return v }, "T")
		return m
	}
	a, b, c := mesh(1), mesh(2), mesh(4)

	ab, err := reduce.Reduce(ctx, a, b)
	if err != nil {
		t.Fatal(err)
	}
	left, err := reduce.Reduce(ctx, ab, c)
	if err != nil {
		t.Fatal(err)
	}
	bc, err := reduce.Reduce(ctx, b, c)
	if err != nil {
		t.Fatal(err)
	}
	right, err := reduce.Reduce(ctx, a, bc)
	if err != nil {
		t.Fatal(err)
	}
	lv := left.(*dataset.CartesianMesh).Points.Get("T").Float64(0)
	rv := right.(*dataset.CartesianMesh).Points.Get("T").Float64(0)
	if math.Abs(lv-rv) > 1e-12 {
		t.Errorf("reduce is not associative: %g vs %g", lv, rv)
	}
	lc := left.(*dataset.CartesianMesh).Info.Get("reduction_step_count").Uint64(0)
	rc := right.(*dataset.CartesianMesh).Info.Get("reduction_step_count").Uint64(0)
	if lc != 3 || rc != 3 {
		t.Errorf("fold counts %d, %d, want 3, 3", lc, rc)
	}
}

func TestReduceRewritesIndexKeys(t *testing.T) {
	ctx := context.Background()
	source := meshtest.NewSource(scalarMeshes(60, "T", func(i int) float64 { return float64(i) })...)
	source.TimeUnits = "days since 2000-01-01"
	source.Calendar = "360_day"
	upstream, err := source.ReportMetadata(ctx, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	reduce := bigmesh.NewTemporalReduction()
	md, err := reduce.ReportMetadata(ctx, 0, []metadata.Metadata{upstream})
	if err != nil {
		t.Fatal(err)
	}
	initKey, err := md.String(bigmesh.KeyIndexInitializer)
	if err != nil || initKey != "number_of_intervals" {
		t.Fatalf("initializer key %q, %v", initKey, err)
	}
	n, err := md.Int64(initKey)
	if err != nil || n != 2 {
		t.Errorf("got %d intervals, want 2", n)
	}
	reqKey, err := md.String(bigmesh.KeyIndexRequest)
	if err != nil || reqKey != "interval" {
		t.Errorf("request key %q, %v", reqKey, err)
	}

	// Each downstream interval translates to one upstream request
	// per contained step, tagged with a stable sequence id.
	req := metadata.New()
	req.SetInt64("interval", 1)
	ups, err := reduce.TranslateRequest(ctx, 0, []metadata.Metadata{upstream}, req)
	if err != nil {
		t.Fatal(err)
	}
	if len(ups) != 30 {
		t.Fatalf("got %d upstream requests, want 30", len(ups))
	}
	step, err := ups[0].Int64("time_step")
	if err != nil || step != 30 {
		t.Errorf("first upstream step %d, %v, want 30", step, err)
	}
	seq, err := ups[29].Int64(bigmesh.KeySequence)
	if err != nil || seq != 29 {
		t.Errorf("last sequence id %d, %v, want 29", seq, err)
	}
}
