// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec_test

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/grailbio/bigmesh"
	"github.com/grailbio/bigmesh/comm"
	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/exec"
	"github.com/grailbio/bigmesh/meshio"
	"github.com/grailbio/bigmesh/meshtest"
	"github.com/grailbio/bigmesh/metadata"
	"golang.org/x/sync/errgroup"
)

// countingSource wraps a test source, counting report calls and
// carrying a property so caches can be invalidated.
type countingSource struct {
	*meshtest.Source
	props   *bigmesh.Properties
	reports int64
}

func newCountingSource(n int) *countingSource {
	meshes := make([]*dataset.CartesianMesh, n)
	for i := range meshes {
		i := i
		meshes[i] = meshtest.UniformMesh([]float64{0, 1}, []float64{0, 1}, nil,
			func(string, int, int, int) float64 { return float64(i) }, "T")
		meshes[i].Time = float64(i)
	}
	s := &countingSource{Source: meshtest.NewSource(meshes...)}
	s.Source.TimeUnits = "days since 2000-01-01"
	s.Source.Calendar = "noleap"
	s.props = bigmesh.NewProperties(
		bigmesh.Spec{Name: "tag", Kind: bigmesh.KindString, Default: "", Help: "cache-busting tag"},
	)
	return s
}

func (s *countingSource) Properties() *bigmesh.Properties { return s.props }

func (s *countingSource) ReportMetadata(ctx context.Context, port int, inputs []metadata.Metadata) (metadata.Metadata, error) {
	atomic.AddInt64(&s.reports, 1)
	return s.Source.ReportMetadata(ctx, port, inputs)
}

func TestReportCaching(t *testing.T) {
	ctx := context.Background()
	source := newCountingSource(3)
	d := exec.NewDriver()
	ss := d.Add(source)
	vort := bigmesh.NewVorticity()
	vort.Properties().Set("component_0_variable", "T")
	vort.Properties().Set("component_1_variable", "T")
	vs := d.Add(vort)
	if err := d.Connect(vs, 0, ss, 0); err != nil {
		t.Fatal(err)
	}

	if _, err := d.Report(ctx, vs, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Report(ctx, vs, 0); err != nil {
		t.Fatal(err)
	}
	if got, want := atomic.LoadInt64(&source.reports), int64(1); got != want {
		t.Errorf("source reported %d times, want %d", got, want)
	}

	// A property change on the source invalidates downstream.
	source.props.Set("tag", "changed")
	if _, err := d.Report(ctx, vs, 0); err != nil {
		t.Fatal(err)
	}
	if got, want := atomic.LoadInt64(&source.reports), int64(2); got != want {
		t.Errorf("source reported %d times after invalidation, want %d", got, want)
	}

	// Explicit modification does too.
	d.SetModified(ss)
	if _, err := d.Report(ctx, vs, 0); err != nil {
		t.Fatal(err)
	}
	if got, want := atomic.LoadInt64(&source.reports), int64(3); got != want {
		t.Errorf("source reported %d times after SetModified, want %d", got, want)
	}
}

func TestExecutiveStepRange(t *testing.T) {
	ctx := context.Background()
	source := newCountingSource(10)
	d := exec.NewDriver()
	ss := d.Add(source)
	md, err := d.Report(ctx, ss, 0)
	if err != nil {
		t.Fatal(err)
	}

	e := exec.NewExecutive()
	e.FirstStep, e.LastStep = 2, 5
	if err := e.Initialize(md, comm.Self()); err != nil {
		t.Fatal(err)
	}
	var steps []int64
	for {
		req, ok := e.Next()
		if !ok {
			break
		}
		step, err := req.Int64("time_step")
		if err != nil {
			t.Fatal(err)
		}
		steps = append(steps, step)
	}
	want := []int64{2, 3, 4, 5}
	if len(steps) != len(want) {
		t.Fatalf("got %v, want %v", steps, want)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("got %v, want %v", steps, want)
		}
	}
}

func TestExecutiveDateRange(t *testing.T) {
	ctx := context.Background()
	source := newCountingSource(60)
	d := exec.NewDriver()
	ss := d.Add(source)
	md, err := d.Report(ctx, ss, 0)
	if err != nil {
		t.Fatal(err)
	}

	e := exec.NewExecutive()
	e.StartDate = "2000-02-01"
	if err := e.Initialize(md, comm.Self()); err != nil {
		t.Fatal(err)
	}
	req, ok := e.Next()
	if !ok {
		t.Fatal("no requests")
	}
	step, err := req.Int64("time_step")
	if err != nil {
		t.Fatal(err)
	}
	// January has 31 days in the noleap calendar.
	if got, want := step, int64(31); got != want {
		t.Errorf("first step %d, want %d", got, want)
	}

	// An end date that does not exist in the calendar is an error.
	e = exec.NewExecutive()
	e.EndDate = "2000-02-29"
	err = e.Initialize(md, comm.Self())
	if err == nil || !strings.Contains(err.Error(), "date out of range") {
		t.Errorf("got %v, want a date out of range error", err)
	}
}

func TestExecutiveCancel(t *testing.T) {
	ctx := context.Background()
	source := newCountingSource(10)
	d := exec.NewDriver()
	ss := d.Add(source)
	md, err := d.Report(ctx, ss, 0)
	if err != nil {
		t.Fatal(err)
	}
	e := exec.NewExecutive()
	if err := e.Initialize(md, comm.Self()); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.Next(); !ok {
		t.Fatal("no requests")
	}
	e.Cancel()
	if _, ok := e.Next(); ok {
		t.Error("Next returned a request after Cancel")
	}
}

// Running the same pipeline on one rank and on several must produce
// byte-identical per-index outputs under the block partition.
func TestDistributedEquivalence(t *testing.T) {
	const steps = 7
	const ranks = 3

	run := func(c comm.Comm) (map[int64][]byte, error) {
		source := newCountingSource(steps)
		vort := bigmesh.NewVorticity()
		vort.Properties().Set("component_0_variable", "T")
		vort.Properties().Set("component_1_variable", "T")
		d := exec.NewDriver()
		d.SetComm(c)
		ss := d.Add(source)
		vs := d.Add(vort)
		if err := d.Connect(vs, 0, ss, 0); err != nil {
			return nil, err
		}
		e := exec.NewExecutive()
		e.Arrays = []string{"vorticity"}
		out := make(map[int64][]byte)
		err := d.Update(context.Background(), vs, e,
			func(ctx context.Context, req bigmesh.Request, ds dataset.Dataset) error {
				step, err := req.Int64("time_step")
				if err != nil {
					return err
				}
				var b meshio.Buffer
				dataset.Encode(ds, &b)
				out[step] = append([]byte(nil), b.Bytes()...)
				return nil
			})
		return out, err
	}

	single, err := run(comm.Self())
	if err != nil {
		t.Fatal(err)
	}
	if len(single) != steps {
		t.Fatalf("single rank produced %d outputs, want %d", len(single), steps)
	}

	comms := comm.NewGroup(ranks)
	parts := make([]map[int64][]byte, ranks)
	var g errgroup.Group
	for r := 0; r < ranks; r++ {
		r := r
		g.Go(func() error {
			out, err := run(comms[r])
			parts[r] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	merged := make(map[int64][]byte)
	for _, part := range parts {
		for step, payload := range part {
			if _, ok := merged[step]; ok {
				t.Errorf("step %d produced on two ranks", step)
			}
			merged[step] = payload
		}
	}
	if len(merged) != steps {
		t.Fatalf("ranks produced %d outputs, want %d", len(merged), steps)
	}
	for step, payload := range merged {
		if !bytes.Equal(payload, single[step]) {
			t.Errorf("step %d differs between 1 and %d ranks", step, ranks)
		}
	}
}

func TestUpdateSkipsFailedRequests(t *testing.T) {
	source := newCountingSource(4)
	// Asking for an array the vorticity stage cannot find makes
	// every request fail; Update reports the first error but keeps
	// going.
	vort := bigmesh.NewVorticity()
	vort.Properties().Set("component_0_variable", "missing")
	vort.Properties().Set("component_1_variable", "missing")
	d := exec.NewDriver()
	ss := d.Add(source)
	vs := d.Add(vort)
	if err := d.Connect(vs, 0, ss, 0); err != nil {
		t.Fatal(err)
	}
	var delivered int
	err := d.Update(context.Background(), vs, exec.NewExecutive(),
		func(ctx context.Context, req bigmesh.Request, ds dataset.Dataset) error {
			delivered++
			return nil
		})
	if err == nil {
		t.Error("expected an error from failing requests")
	}
	if delivered != 0 {
		t.Errorf("delivered %d datasets from failing requests", delivered)
	}
}
