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

// IVT computes integrated vapor transport from the wind vector and
// specific humidity on pressure levels:
//
//	ivt = -(1/g) integral(q * v dp)
//
// using trapezoidal integration over the z (pressure, Pa) axis. The
// output mesh is collapsed in z. When compute_ivt_magnitude is set
// the vector magnitude is produced as well.
type IVT struct {
	Base
}

// NewIVT returns an IVT stage with default properties.
func NewIVT() *IVT {
	props := NewProperties(
		Spec{"wind_u_variable", KindString, "ua", "name of the lon component of the wind vector"},
		Spec{"wind_v_variable", KindString, "va", "name of the lat component of the wind vector"},
		Spec{"specific_humidity_variable", KindString, "hus", "name of the specific humidity variable"},
		Spec{"ivt_u_variable", KindString, "ivt_u", "name for the lon component of the ivt vector"},
		Spec{"ivt_v_variable", KindString, "ivt_v", "name for the lat component of the ivt vector"},
		Spec{"ivt_magnitude_variable", KindString, "ivt", "name for the ivt magnitude"},
		Spec{"compute_ivt_magnitude", KindBool, true, "whether to compute the magnitude of the ivt vector"},
	)
	s := &IVT{}
	s.Base = NewBase("integrated_vapor_transport", 1, 1, props)
	return s
}

func (s *IVT) outputVariables() []string {
	props := s.Properties()
	out := []string{props.String("ivt_u_variable"), props.String("ivt_v_variable")}
	if props.Bool("compute_ivt_magnitude") {
		out = append(out, props.String("ivt_magnitude_variable"))
	}
	return out
}

func (s *IVT) ReportMetadata(ctx context.Context, port int, inputs []metadata.Metadata) (metadata.Metadata, error) {
	out := inputs[0].Clone()
	for _, name := range s.outputVariables() {
		if err := out.AppendString(KeyVariables, name); err != nil {
			return metadata.Metadata{}, err
		}
	}
	if ext, err := out.Uint64s(KeyWholeExtent); err == nil && len(ext) == 6 {
		ext[4], ext[5] = 0, 0
		out.SetUint64s(KeyWholeExtent, ext...)
	}
	if coords, err := out.Child(KeyCoordinates); err == nil {
		coords.Set("z", varray.New(0.0))
		out.SetMetadata(KeyCoordinates, coords)
	}
	return out, nil
}

func (s *IVT) TranslateRequest(ctx context.Context, port int, inputs []metadata.Metadata, req Request) ([]Request, error) {
	props := s.Properties()
	up := req.Clone()
	RequestArrays(&up,
		props.String("wind_u_variable"),
		props.String("wind_v_variable"),
		props.String("specific_humidity_variable"))
	StripArrays(&up, s.outputVariables()...)
	// The transport integral consumes the whole column.
	if ext, err := up.Uint64s(KeyExtent); err == nil && len(ext) == 6 {
		if whole, err := inputs[0].Uint64s(KeyWholeExtent); err == nil && len(whole) == 6 {
			ext[4], ext[5] = whole[4], whole[5]
			up.SetUint64s(KeyExtent, ext...)
		}
	}
	return []Request{up}, nil
}

func (s *IVT) Execute(ctx context.Context, port int, inputs []dataset.Dataset, req Request) (dataset.Dataset, error) {
	mesh, ok := inputs[0].(*dataset.CartesianMesh)
	if !ok {
		return nil, errors.E(errors.Invalid, "integrated_vapor_transport: a cartesian mesh is required")
	}
	props := s.Properties()
	wu := mesh.Points.Get(props.String("wind_u_variable"))
	wv := mesh.Points.Get(props.String("wind_v_variable"))
	q := mesh.Points.Get(props.String("specific_humidity_variable"))
	if wu == nil || wv == nil || q == nil {
		err := errors.E(errors.NotExist, "integrated_vapor_transport: wind or specific humidity arrays not present")
		log.Error.Printf("integrated_vapor_transport: %v", err)
		return nil, err
	}
	if mesh.Z == nil || mesh.Z.Len() < 2 {
		return nil, errors.E(errors.Invalid, "integrated_vapor_transport: a pressure level axis is required")
	}

	nx := int(mesh.Extent.Span(0))
	ny := int(mesh.Extent.Span(1))
	nz := int(mesh.Extent.Span(2))
	if q.Len() != nx*ny*nz {
		return nil, errors.E(errors.Invalid, "integrated_vapor_transport: dimension mismatch in reduction")
	}
	p := varray.Float64s(mesh.Z)
	uf := varray.Float64s(wu)
	vf := varray.Float64s(wv)
	qf := varray.Float64s(q)

	ivtU := make([]float64, nx*ny)
	ivtV := make([]float64, nx*ny)
	n2 := nx * ny
	for k := 0; k < nz-1; k++ {
		dp := p[k+1] - p[k]
		for n := 0; n < n2; n++ {
			lo, hi := k*n2+n, (k+1)*n2+n
			ivtU[n] += negOneOverG * 0.5 * (qf[lo]*uf[lo] + qf[hi]*uf[hi]) * dp
			ivtV[n] += negOneOverG * 0.5 * (qf[lo]*vf[lo] + qf[hi]*vf[hi]) * dp
		}
	}

	result := mesh.ShallowCopy().(*dataset.CartesianMesh)
	result.Extent[4], result.Extent[5] = 0, 0
	result.WholeExtent[4], result.WholeExtent[5] = 0, 0
	result.Z = varray.New(0.0)
	for _, name := range result.Points.Keys() {
		if result.Points.Get(name).Len() != n2 {
			result.Points.Del(name)
		}
	}
	result.Points.Set(props.String("ivt_u_variable"), varray.New(ivtU...))
	result.Points.Set(props.String("ivt_v_variable"), varray.New(ivtV...))
	if props.Bool("compute_ivt_magnitude") {
		mag := make([]float64, n2)
		for n := range mag {
			mag[n] = math.Hypot(ivtU[n], ivtV[n])
		}
		result.Points.Set(props.String("ivt_magnitude_variable"), varray.New(mag...))
	}
	return result, nil
}

var _ Algorithm = (*IVT)(nil)
