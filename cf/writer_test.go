// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cf

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/bigmesh"
	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/metadata"
	"github.com/grailbio/bigmesh/varray"
)

func writerRequest(step int64) bigmesh.Request {
	req := metadata.New()
	req.SetString(bigmesh.KeyIndexRequest, "time_step")
	req.SetInt64("time_step", step)
	return req
}

func TestWriterStream(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	w := NewWriter()
	w.Properties().Set("file_name", filepath.Join(dir, "out_%t%.bms"))
	w.Properties().Set("mode", "stream")

	mesh := dataset.NewCartesianMesh()
	mesh.X = varray.New(0.0, 1)
	mesh.Y = varray.New(0.0)
	mesh.Z = varray.New(0.0)
	mesh.Extent = dataset.Extent{0, 1, 0, 0, 0, 0}
	mesh.WholeExtent = mesh.Extent
	mesh.Points.Set("T", varray.New(1.0, 2))

	out, err := w.Execute(ctx, 0, []dataset.Dataset{mesh}, writerRequest(7))
	if err != nil {
		t.Fatal(err)
	}
	if out != dataset.Dataset(mesh) {
		t.Error("the dataset should pass through")
	}
	// The filename pattern interpolates the request index.
	path := filepath.Join(dir, "out_7.bms")
	got, err := dataset.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !got.(*dataset.CartesianMesh).Points.Equal(mesh.Points) {
		t.Error("the written dataset did not round trip")
	}
}

func TestWriterCSV(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	w := NewWriter()
	w.Properties().Set("file_name", filepath.Join(dir, "table_%t%.csv"))
	w.Properties().Set("mode", "csv")

	table := dataset.NewTable()
	table.Columns.Set("step", varray.New[int64](1, 2))
	if _, err := w.Execute(ctx, 0, []dataset.Dataset{table}, writerRequest(0)); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "table_0.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if want := "step\n1\n2\n"; string(raw) != want {
		t.Errorf("got %q, want %q", raw, want)
	}
}

func TestWriterErrors(t *testing.T) {
	ctx := context.Background()
	w := NewWriter()
	if _, err := w.Execute(ctx, 0, []dataset.Dataset{dataset.NewTable()}, writerRequest(0)); err == nil {
		t.Error("expected an error without file_name")
	}
	w.Properties().Set("file_name", "x")
	w.Properties().Set("mode", "sideways")
	if _, err := w.Execute(ctx, 0, []dataset.Dataset{dataset.NewTable()}, writerRequest(0)); err == nil {
		t.Error("expected an unknown mode error")
	}
}
