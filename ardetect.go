// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigmesh

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/metadata"
	"github.com/grailbio/bigmesh/pool"
	"github.com/grailbio/bigmesh/varray"
)

// ARDetect estimates the probability that each mesh point lies in
// an atmospheric river. An ensemble of IVT thresholds is evaluated
// on the stage's pool; each member thresholds the IVT magnitude,
// labels connected components, and drops components smaller than
// the area floor. The member masks are summed and normalized into a
// probability field, an associative and commutative reduction.
type ARDetect struct {
	Base
}

// NewARDetect returns an AR detection stage with default
// properties.
func NewARDetect() *ARDetect {
	props := NewProperties(
		Spec{"ivt_variable", KindString, "ivt", "name of the IVT magnitude array"},
		Spec{"probability_variable", KindString, "ar_probability", "name for the detection probability array"},
		Spec{"min_threshold", KindFloat, 250.0, "lowest IVT threshold of the ensemble, in kg/m/s"},
		Spec{"max_threshold", KindFloat, 750.0, "highest IVT threshold of the ensemble, in kg/m/s"},
		Spec{"num_thresholds", KindInt, 11, "number of ensemble members"},
		Spec{"min_component_area", KindInt, 4, "components smaller than this point count are discarded"},
		Spec{"thread_pool_size", KindInt, -1, "ensemble evaluation concurrency, -1 for hardware concurrency"},
	)
	s := &ARDetect{}
	s.Base = NewBase("ar_detect", 1, 1, props)
	return s
}

func (s *ARDetect) ReportMetadata(ctx context.Context, port int, inputs []metadata.Metadata) (metadata.Metadata, error) {
	out := inputs[0].Clone()
	if err := out.AppendString(KeyVariables, s.Properties().String("probability_variable")); err != nil {
		return metadata.Metadata{}, err
	}
	return out, nil
}

func (s *ARDetect) TranslateRequest(ctx context.Context, port int, inputs []metadata.Metadata, req Request) ([]Request, error) {
	up := req.Clone()
	RequestArrays(&up, s.Properties().String("ivt_variable"))
	StripArrays(&up, s.Properties().String("probability_variable"))
	return []Request{up}, nil
}

func (s *ARDetect) Execute(ctx context.Context, port int, inputs []dataset.Dataset, req Request) (dataset.Dataset, error) {
	mesh, ok := inputs[0].(*dataset.CartesianMesh)
	if !ok {
		return nil, errors.E(errors.Invalid, "ar_detect: a cartesian mesh is required")
	}
	props := s.Properties()
	ivt := mesh.Points.Get(props.String("ivt_variable"))
	if ivt == nil {
		err := errors.E(errors.NotExist, "ar_detect: requested array "+props.String("ivt_variable")+" not present")
		log.Error.Printf("ar_detect: %v", err)
		return nil, err
	}
	nx := int(mesh.Extent.Span(0))
	ny := int(mesh.Extent.Span(1))
	if ivt.Len() != nx*ny {
		return nil, errors.E(errors.Invalid, "ar_detect: the IVT magnitude must be a 2-D field")
	}
	field := varray.Float64s(ivt)

	n := props.Int("num_thresholds")
	if n < 1 {
		return nil, errors.E(errors.Invalid, "ar_detect: num_thresholds must be positive")
	}
	lo, hi := props.Float("min_threshold"), props.Float("max_threshold")
	if hi < lo {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("ar_detect: threshold range [%g, %g] is inverted", lo, hi))
	}
	minArea := props.Int("min_component_area")

	p := pool.New(props.Int("thread_pool_size"))
	defer p.Shutdown()
	futures := make([]*pool.Future[[]uint8], n)
	for i := 0; i < n; i++ {
		threshold := lo
		if n > 1 {
			threshold = lo + float64(i)*(hi-lo)/float64(n-1)
		}
		futures[i] = pool.Submit(ctx, p, func(ctx context.Context) ([]uint8, error) {
			return detectMask(field, nx, ny, threshold, minArea), nil
		})
	}
	masks, err := pool.WaitAll(ctx, futures)
	if err != nil {
		return nil, err
	}

	prob := make([]float64, nx*ny)
	for _, mask := range masks {
		for i, v := range mask {
			prob[i] += float64(v)
		}
	}
	for i := range prob {
		prob[i] /= float64(n)
	}

	result := mesh.ShallowCopy().(*dataset.CartesianMesh)
	result.Points.Set(props.String("probability_variable"), varray.New(prob...))
	return result, nil
}

// detectMask thresholds the field and keeps 4-connected components
// of at least minArea points.
func detectMask(field []float64, nx, ny int, threshold float64, minArea int) []uint8 {
	mask := make([]uint8, nx*ny)
	for i, v := range field {
		if v >= threshold {
			mask[i] = 1
		}
	}
	labels := make([]int, nx*ny)
	areas := []int{0} // label 0 is background
	var stack []int
	for start := range mask {
		if mask[start] == 0 || labels[start] != 0 {
			continue
		}
		label := len(areas)
		areas = append(areas, 0)
		stack = append(stack[:0], start)
		labels[start] = label
		for len(stack) > 0 {
			at := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			areas[label]++
			i, j := at%nx, at/nx
			for _, next := range [4]int{at - 1, at + 1, at - nx, at + nx} {
				switch {
				case next == at-1 && i == 0, next == at+1 && i == nx-1:
					continue
				case next == at-nx && j == 0, next == at+nx && j == ny-1:
					continue
				}
				if mask[next] != 0 && labels[next] == 0 {
					labels[next] = label
					stack = append(stack, next)
				}
			}
		}
	}
	for i := range mask {
		if mask[i] != 0 && areas[labels[i]] < minArea {
			mask[i] = 0
		}
	}
	return mask
}

var _ Algorithm = (*ARDetect)(nil)
