// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigmesh

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/metadata"
	"github.com/grailbio/bigmesh/varray"
)

// negOneOverG scales pressure-thickness-weighted sums into mass
// integrals, in s^2/m.
const negOneOverG = -1.0 / 9.81

// VerticalIntegral integrates a 3-D field over the vertical
// coordinate, producing a 2-D field. The vertical coordinate system
// is either hybrid (p = a*p_top + b*ps) or sigma
// (p = (ps - p_top)*sigma + p_top); the a/b/sigma coordinates are
// given on level interfaces while the integrand is on level
// centers, so the pressure differential lands on level centers.
type VerticalIntegral struct {
	Base
}

// NewVerticalIntegral returns a vertical integral stage with
// default properties.
func NewVerticalIntegral() *VerticalIntegral {
	props := NewProperties(
		Spec{"integration_variable", KindString, "", "name of the 3-D array to integrate"},
		Spec{"output_variable_name", KindString, "integrated_var", "name for the integrated output variable"},
		Spec{"long_name", KindString, "integrated_var", "long name attribute of the output variable"},
		Spec{"units", KindString, "unknown", "units attribute of the output variable"},
		Spec{"hybrid_a_variable", KindString, "a_bnds", "name of the a coordinate of the hybrid coordinate system"},
		Spec{"hybrid_b_variable", KindString, "b_bnds", "name of the b coordinate of the hybrid coordinate system"},
		Spec{"sigma_variable", KindString, "sigma_bnds", "name of the sigma coordinate"},
		Spec{"surface_p_variable", KindString, "ps", "name of the surface pressure variable"},
		Spec{"p_top_variable", KindString, "ptop", "name of the model top pressure variable"},
		Spec{"using_hybrid", KindBool, true, "whether the vertical coordinate is hybrid rather than sigma"},
		Spec{"p_top_override_value", KindFloat, -1.0, "model top pressure override, in Pa"},
	)
	v := &VerticalIntegral{}
	v.Base = NewBase("vertical_integral", 1, 1, props)
	return v
}

func (v *VerticalIntegral) ReportMetadata(ctx context.Context, port int, inputs []metadata.Metadata) (metadata.Metadata, error) {
	out := inputs[0].Clone()
	if err := out.AppendString(KeyVariables, v.Properties().String("output_variable_name")); err != nil {
		return metadata.Metadata{}, err
	}
	// The integral collapses the vertical axis.
	ext, err := out.Uint64s(KeyWholeExtent)
	if err != nil {
		log.Error.Printf("vertical_integral: input reports no whole_extent: %v", err)
		return metadata.Metadata{}, err
	}
	ext[4], ext[5] = 0, 0
	out.SetUint64s(KeyWholeExtent, ext...)
	if coords, err := out.Child(KeyCoordinates); err == nil {
		coords.Set("z", varray.New(0.0))
		out.SetMetadata(KeyCoordinates, coords)
	}
	if bounds, err := out.Float64s("bounds"); err == nil && len(bounds) == 6 {
		bounds[4], bounds[5] = 0, 0
		out.SetFloat64s("bounds", bounds...)
	}
	attrs := metadata.New()
	attrs.SetString("long_name", v.Properties().String("long_name"))
	attrs.SetString("units", v.Properties().String("units"))
	if all, err := out.Child(KeyAttributes); err == nil {
		all.SetMetadata(v.Properties().String("output_variable_name"), attrs)
		out.SetMetadata(KeyAttributes, all)
	}
	return out, nil
}

func (v *VerticalIntegral) TranslateRequest(ctx context.Context, port int, inputs []metadata.Metadata, req Request) ([]Request, error) {
	props := v.Properties()
	integrand := props.String("integration_variable")
	if integrand == "" {
		err := errors.E(errors.Invalid, "vertical_integral: integration_variable was not specified")
		log.Error.Printf("vertical_integral: %v", err)
		return nil, err
	}
	up := req.Clone()
	wanted := []string{integrand, props.String("surface_p_variable")}
	if props.Bool("using_hybrid") {
		wanted = append(wanted, props.String("hybrid_a_variable"), props.String("hybrid_b_variable"))
	} else {
		wanted = append(wanted, props.String("sigma_variable"))
	}
	if props.Float("p_top_override_value") < 0 {
		wanted = append(wanted, props.String("p_top_variable"))
	}
	RequestArrays(&up, wanted...)
	StripArrays(&up, props.String("output_variable_name"))
	// The integral needs the whole vertical column regardless of
	// the downstream extent.
	if ext, err := up.Uint64s(KeyExtent); err == nil && len(ext) == 6 {
		if whole, err := inputs[0].Uint64s(KeyWholeExtent); err == nil && len(whole) == 6 {
			ext[4], ext[5] = whole[4], whole[5]
			up.SetUint64s(KeyExtent, ext...)
		}
	}
	return []Request{up}, nil
}

func (v *VerticalIntegral) Execute(ctx context.Context, port int, inputs []dataset.Dataset, req Request) (dataset.Dataset, error) {
	mesh, ok := inputs[0].(*dataset.CartesianMesh)
	if !ok {
		return nil, errors.E(errors.Invalid, "vertical_integral: a cartesian mesh is required")
	}
	props := v.Properties()

	integrand := mesh.Points.Get(props.String("integration_variable"))
	if integrand == nil {
		return nil, errors.E(errors.NotExist,
			"vertical_integral: variable "+props.String("integration_variable")+" is not in the input")
	}
	ps := meshOrInfoArray(mesh, props.String("surface_p_variable"))
	if ps == nil {
		return nil, errors.E(errors.NotExist,
			"vertical_integral: variable "+props.String("surface_p_variable")+" is not in the input")
	}

	nx := int(mesh.Extent.Span(0))
	ny := int(mesh.Extent.Span(1))
	nz := int(mesh.Extent.Span(2))
	if integrand.Len() != nx*ny*nz {
		return nil, errors.E(errors.Invalid, "vertical_integral: dimension mismatch in reduction")
	}

	var aOrSigma, b []float64
	if props.Bool("using_hybrid") {
		av := meshOrInfoArray(mesh, props.String("hybrid_a_variable"))
		bv := meshOrInfoArray(mesh, props.String("hybrid_b_variable"))
		if av == nil || bv == nil {
			return nil, errors.E(errors.NotExist, "vertical_integral: hybrid coordinates are not in the input")
		}
		aOrSigma, b = varray.Float64s(av), varray.Float64s(bv)
	} else {
		sv := meshOrInfoArray(mesh, props.String("sigma_variable"))
		if sv == nil {
			return nil, errors.E(errors.NotExist, "vertical_integral: sigma coordinate is not in the input")
		}
		aOrSigma = varray.Float64s(sv)
	}
	if len(aOrSigma) != nz+1 {
		return nil, errors.E(errors.Invalid, "vertical_integral: interface coordinate does not have nz+1 levels")
	}

	pTop := props.Float("p_top_override_value")
	if pTop < 0 {
		pt := meshOrInfoArray(mesh, props.String("p_top_variable"))
		if pt == nil || pt.Len() == 0 {
			return nil, errors.E(errors.NotExist, "vertical_integral: model top pressure is not in the input")
		}
		pTop = pt.Float64(0)
	}

	field := varray.Float64s(integrand)
	surfp := varray.Float64s(ps)
	out := make([]float64, nx*ny)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			n2d := j*nx + i
			var sum float64
			for k := 0; k < nz; k++ {
				var dp float64
				if b != nil {
					da := aOrSigma[k+1] - aOrSigma[k]
					db := b[k+1] - b[k]
					dp = pTop*da + surfp[n2d]*db
				} else {
					dsigma := aOrSigma[k+1] - aOrSigma[k]
					dp = (surfp[n2d] - pTop) * dsigma
				}
				sum += negOneOverG * field[k*nx*ny+n2d] * dp
			}
			out[n2d] = sum
		}
	}

	result := mesh.ShallowCopy().(*dataset.CartesianMesh)
	result.Extent[4], result.Extent[5] = 0, 0
	result.WholeExtent[4], result.WholeExtent[5] = 0, 0
	result.Z = varray.New(0.0)
	// Arrays on the collapsed mesh no longer span the input extent.
	for _, name := range result.Points.Keys() {
		if result.Points.Get(name).Len() != nx*ny {
			result.Points.Del(name)
		}
	}
	integrated := integrand.NewInstance()
	integrated.Resize(nx * ny)
	for i, val := range out {
		integrated.SetFloat64(i, val)
	}
	result.Points.Set(props.String("output_variable_name"), integrated)
	return result, nil
}

// meshOrInfoArray looks an array up in the point collection first
// and the information collection second.
func meshOrInfoArray(m *dataset.CartesianMesh, name string) varray.Array {
	if a := m.Points.Get(name); a != nil {
		return a
	}
	return m.Info.Get(name)
}

var _ Algorithm = (*VerticalIntegral)(nil)
