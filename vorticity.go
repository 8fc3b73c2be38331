// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigmesh

import (
	"context"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/metadata"
	"github.com/grailbio/bigmesh/varray"
)

const (
	degToRad    = math.Pi / 180
	earthRadius = 6371.0e3
)

// Vorticity computes the vertical component of relative vorticity
// from the horizontal components of a vector field on a lat/lon
// mesh. The stencil is a centered difference on the sphere;
// boundary points are left zero.
type Vorticity struct {
	Base
}

// NewVorticity returns a vorticity stage with default properties.
func NewVorticity() *Vorticity {
	props := NewProperties(
		Spec{"component_0_variable", KindString, "", "array containing the lon component of the vector"},
		Spec{"component_1_variable", KindString, "", "array containing the lat component of the vector"},
		Spec{"vorticity_variable", KindString, "vorticity", "array to store the computed vorticity in"},
	)
	v := &Vorticity{}
	v.Base = NewBase("vorticity", 1, 1, props)
	return v
}

func (v *Vorticity) ReportMetadata(ctx context.Context, port int, inputs []metadata.Metadata) (metadata.Metadata, error) {
	out := inputs[0].Clone()
	if err := out.AppendString(KeyVariables, v.Properties().String("vorticity_variable")); err != nil {
		return metadata.Metadata{}, err
	}
	return out, nil
}

func (v *Vorticity) TranslateRequest(ctx context.Context, port int, inputs []metadata.Metadata, req Request) ([]Request, error) {
	comp0 := v.Properties().String("component_0_variable")
	comp1 := v.Properties().String("component_1_variable")
	if comp0 == "" || comp1 == "" {
		err := errors.E(errors.Invalid, "vorticity: component variables were not specified")
		log.Error.Printf("vorticity: %v", err)
		return nil, err
	}
	up := req.Clone()
	RequestArrays(&up, comp0, comp1)
	StripArrays(&up, v.Properties().String("vorticity_variable"))
	return []Request{up}, nil
}

func (v *Vorticity) Execute(ctx context.Context, port int, inputs []dataset.Dataset, req Request) (dataset.Dataset, error) {
	mesh, ok := inputs[0].(*dataset.CartesianMesh)
	if !ok {
		return nil, errors.E(errors.Invalid, "vorticity: a cartesian mesh is required")
	}
	comp0Var := v.Properties().String("component_0_variable")
	comp1Var := v.Properties().String("component_1_variable")
	comp0 := mesh.Points.Get(comp0Var)
	comp1 := mesh.Points.Get(comp1Var)
	if comp0 == nil || comp1 == nil {
		err := errors.E(errors.NotExist, "vorticity: requested arrays "+comp0Var+", "+comp1Var+" not present")
		log.Error.Printf("vorticity: %v", err)
		return nil, err
	}
	if mesh.X == nil || mesh.Y == nil {
		return nil, errors.E(errors.Invalid, "vorticity: lat lon mesh coordinates not present")
	}

	lon := varray.Float64s(mesh.X)
	lat := varray.Float64s(mesh.Y)
	u := varray.Float64s(comp0)
	vv := varray.Float64s(comp1)
	nx, ny := len(lon), len(lat)
	w := make([]float64, nx*ny)
	vorticity(w, lat, lon, u, vv, nx, ny)

	out := comp0.NewInstance()
	out.Resize(nx * ny)
	for i, val := range w {
		out.SetFloat64(i, val)
	}
	result := mesh.ShallowCopy().(*dataset.CartesianMesh)
	result.Points.Set(v.Properties().String("vorticity_variable"), out)
	return result, nil
}

// vorticity fills w with the relative vorticity of the vector field
// (u, v) at interior points. dx varies with latitude; dy uses the
// centered latitude spacing with one-sided copies at the poles.
func vorticity(w, lat, lon, u, v []float64, nx, ny int) {
	dlon := (lon[1] - lon[0]) * degToRad
	dx := make([]float64, ny)
	for j := 0; j < ny; j++ {
		dx[j] = earthRadius * math.Cos(lat[j]*degToRad) * dlon
	}
	dy := make([]float64, ny)
	for j := 1; j < ny-1; j++ {
		dy[j] = 0.5 * earthRadius * degToRad * (lat[j-1] - lat[j+1])
	}
	dy[0] = dy[1]
	dy[ny-1] = dy[ny-2]

	for j := 1; j < ny-1; j++ {
		jj := j * nx
		jj0 := jj - nx
		jj1 := jj + nx
		for i := 1; i < nx-1; i++ {
			w[jj+i] = 0.5 * ((v[jj+i+1]-v[jj+i-1])/dx[j] -
				(u[jj0+i]-u[jj1+i])/dy[j])
		}
	}
}

var _ Algorithm = (*Vorticity)(nil)
