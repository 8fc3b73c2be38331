// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cf

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmesh"
	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/metadata"
	"github.com/grailbio/bigmesh/varray"
)

// A Writer writes each dataset it receives to its own file and
// passes the dataset through. The filename pattern interpolates
// %t% with the request index, so ranks write distinct files.
// Cartesian meshes and tables are written as NetCDF, binary stream
// dumps, or CSV according to the mode.
type Writer struct {
	bigmesh.Base
}

// NewWriter returns a writer stage with default properties.
func NewWriter() *Writer {
	props := bigmesh.NewProperties(
		bigmesh.Spec{Name: "file_name", Kind: bigmesh.KindString, Default: "", Help: "output path; %t% interpolates the request index"},
		bigmesh.Spec{Name: "mode", Kind: bigmesh.KindString, Default: "netcdf", Help: "output mode: netcdf, stream, or csv"},
	)
	w := &Writer{}
	w.Base = bigmesh.NewBase("cf_writer", 1, 1, props)
	return w
}

func (w *Writer) ReportMetadata(ctx context.Context, port int, inputs []metadata.Metadata) (metadata.Metadata, error) {
	return inputs[0].Clone(), nil
}

func (w *Writer) TranslateRequest(ctx context.Context, port int, inputs []metadata.Metadata, req bigmesh.Request) ([]bigmesh.Request, error) {
	return []bigmesh.Request{req.Clone()}, nil
}

func (w *Writer) Execute(ctx context.Context, port int, inputs []dataset.Dataset, req bigmesh.Request) (dataset.Dataset, error) {
	pattern := w.Properties().String("file_name")
	if pattern == "" {
		return nil, errors.E(errors.Invalid, "cf_writer: file_name was not specified")
	}
	var index int64
	if key, err := req.String(bigmesh.KeyIndexRequest); err == nil {
		index, _ = req.Int64(key)
	}
	path := strings.ReplaceAll(pattern, "%t%", strconv.FormatInt(index, 10))

	ds := inputs[0]
	mode := w.Properties().String("mode")
	var err error
	switch mode {
	case "stream":
		err = dataset.WriteFile(path, ds)
	case "csv":
		err = w.writeCSV(path, ds)
	case "netcdf":
		err = w.writeNetCDF(path, ds)
	default:
		return nil, errors.E(errors.Invalid, "cf_writer: unknown mode "+mode)
	}
	if err != nil {
		log.Error.Printf("cf_writer: failed to write %q: %v", path, err)
		return nil, err
	}
	return ds, nil
}

func (w *Writer) writeCSV(path string, ds dataset.Dataset) error {
	table, ok := ds.(*dataset.Table)
	if !ok {
		return errors.E(errors.Invalid, fmt.Sprintf("cf_writer: csv mode wants a table, got %T", ds))
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := table.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (w *Writer) writeNetCDF(path string, ds dataset.Dataset) error {
	mesh, ok := ds.(*dataset.CartesianMesh)
	if !ok {
		return errors.E(errors.Invalid, fmt.Sprintf("cf_writer: netcdf mode wants a cartesian mesh, got %T", ds))
	}
	netcdfMu.Lock()
	defer netcdfMu.Unlock()
	cw, err := cdf.NewCDFWriter(path)
	if err != nil {
		return err
	}

	atrs, _ := mesh.Metadata().Child(bigmesh.KeyAttributes)
	addArray := func(name string, a varray.Array, dims []string, shape []int) error {
		attrs, err := attributeMap(atrs, name)
		if err != nil {
			return err
		}
		return cw.AddVar(name, api.Variable{
			Values:     nestedValues(a, shape),
			Dimensions: dims,
			Attributes: attrs,
		})
	}

	type axis struct {
		name string
		a    varray.Array
	}
	axes := []axis{
		{orDefault(mesh.XVariable, "x"), mesh.X},
		{orDefault(mesh.YVariable, "y"), mesh.Y},
		{orDefault(mesh.ZVariable, "z"), mesh.Z},
	}
	for _, ax := range axes {
		if ax.a == nil || ax.a.Len() <= 1 {
			continue
		}
		if err := addArray(ax.name, ax.a, []string{ax.name}, []int{ax.a.Len()}); err != nil {
			cw.Close()
			return err
		}
	}
	// The time axis holds this dataset's single step.
	timeAttrs, err := timeAttributeMap(mesh)
	if err == nil {
		err = cw.AddVar("time", api.Variable{
			Values:     []float64{mesh.Time},
			Dimensions: []string{"time"},
			Attributes: timeAttrs,
		})
	}
	if err != nil {
		cw.Close()
		return err
	}

	nx := int(mesh.Extent.Span(0))
	ny := int(mesh.Extent.Span(1))
	nz := int(mesh.Extent.Span(2))
	for _, name := range mesh.Points.Keys() {
		a := mesh.Points.Get(name)
		dims := []string{orDefault(mesh.YVariable, "y"), orDefault(mesh.XVariable, "x")}
		shape := []int{ny, nx}
		if nz > 1 {
			dims = append([]string{orDefault(mesh.ZVariable, "z")}, dims...)
			shape = append([]int{nz}, shape...)
		}
		if err := addArray(name, a, dims, shape); err != nil {
			cw.Close()
			return err
		}
	}
	for _, name := range mesh.Info.Keys() {
		a := mesh.Info.Get(name)
		if err := addArray(name, a, []string{name + "_dim"}, []int{a.Len()}); err != nil {
			cw.Close()
			return err
		}
	}
	return cw.Close()
}

// attributeMap converts a variable's metadata attributes to the
// NetCDF form.
func attributeMap(atrs metadata.Metadata, name string) (api.AttributeMap, error) {
	atts, err := atrs.Child(name)
	if err != nil {
		return util.NewOrderedMap(nil, nil)
	}
	keys := make([]string, 0, atts.Len())
	values := make(map[string]any)
	for _, key := range atts.Keys() {
		if strings.HasPrefix(key, "cf_") {
			continue
		}
		a, err := atts.Array(key)
		if err != nil {
			continue
		}
		keys = append(keys, key)
		if a.Len() == 1 {
			values[key] = nestedValues(a, nil)
		} else {
			values[key] = nestedValues(a, []int{a.Len()})
		}
	}
	return util.NewOrderedMap(keys, values)
}

func timeAttributeMap(mesh *dataset.CartesianMesh) (api.AttributeMap, error) {
	var keys []string
	values := make(map[string]any)
	if mesh.TimeUnits != "" {
		keys = append(keys, "units")
		values["units"] = mesh.TimeUnits
	}
	if mesh.Calendar != "" {
		keys = append(keys, "calendar")
		values["calendar"] = mesh.Calendar
	}
	return util.NewOrderedMap(keys, values)
}

var _ bigmesh.Algorithm = (*Writer)(nil)
