// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigmesh

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmesh/calendar"
	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/metadata"
	"github.com/grailbio/bigmesh/varray"
)

// countArray is the information array carrying the number of steps
// folded into a partial result; the finalize pass consumes it.
const countArray = "reduction_step_count"

// TemporalReduction reduces the upstream time axis into intervals
// (days, months, seasons, years), producing one output index per
// interval from all the upstream steps it contains. It is a
// map-reduce stage: the driver schedules the upstream requests on
// the stage's pool and folds results through Reduce.
type TemporalReduction struct {
	Base
}

// NewTemporalReduction returns a temporal reduction stage with
// default properties.
func NewTemporalReduction() *TemporalReduction {
	props := NewProperties(
		Spec{"point_arrays", KindStrings, []string(nil), "names of the point arrays to reduce"},
		Spec{"operator", KindString, "average", "reduction operator: average, minimum, or maximum"},
		Spec{"interval", KindString, "monthly", "reduction interval: daily, monthly, seasonal, or yearly"},
		Spec{"thread_pool_size", KindInt, -1, "upstream request concurrency, -1 for hardware concurrency"},
		Spec{"tolerate_missing", KindBool, false, "continue the reduction when an upstream step fails"},
	)
	s := &TemporalReduction{}
	s.Base = NewBase("temporal_reduction", 1, 1, props)
	return s
}

// An interval is a run of upstream steps reduced into one output
// index.
type interval struct {
	steps []int64
	time  float64
}

// timeAxis extracts the upstream time axis and its calendaring
// attributes from reported metadata.
func timeAxis(md metadata.Metadata) (t varray.Array, units, cal string, err error) {
	coords, err := md.Child(KeyCoordinates)
	if err != nil {
		return nil, "", "", err
	}
	t, err = coords.Array("t")
	if err != nil {
		return nil, "", "", err
	}
	tvar, err := coords.String("t_variable")
	if err != nil {
		return nil, "", "", err
	}
	attrs, err := md.Child(KeyAttributes)
	if err != nil {
		return nil, "", "", err
	}
	tatts, err := attrs.Child(tvar)
	if err != nil {
		return nil, "", "", err
	}
	units, err = tatts.String("units")
	if err != nil {
		return nil, "", "", err
	}
	cal, err = tatts.String("calendar")
	if err != nil {
		cal = "standard"
	}
	return t, units, cal, nil
}

func (s *TemporalReduction) intervals(md metadata.Metadata) ([]interval, error) {
	t, units, cal, err := timeAxis(md)
	if err != nil {
		return nil, errors.E(errors.Invalid, "temporal_reduction: the input has no calendared time axis", err)
	}
	which := s.Properties().String("interval")
	var out []interval
	lastKey := ""
	for i := 0; i < t.Len(); i++ {
		tv := t.Float64(i)
		d, err := calendar.Time(tv, units, cal)
		if err != nil {
			return nil, err
		}
		var key string
		switch which {
		case "daily":
			key = fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
		case "monthly":
			key = fmt.Sprintf("%04d-%02d", d.Year, d.Month)
		case "seasonal":
			// DJF, MAM, JJA, SON; December belongs to the following
			// year's DJF.
			year, season := d.Year, (d.Month%12)/3
			if d.Month == 12 {
				year++
			}
			key = fmt.Sprintf("%04d-s%d", year, season)
		case "yearly":
			key = fmt.Sprintf("%04d", d.Year)
		default:
			return nil, errors.E(errors.Invalid, "temporal_reduction: unknown interval "+which)
		}
		if key != lastKey {
			out = append(out, interval{time: tv})
			lastKey = key
		}
		out[len(out)-1].steps = append(out[len(out)-1].steps, int64(i))
	}
	return out, nil
}

func (s *TemporalReduction) ReportMetadata(ctx context.Context, port int, inputs []metadata.Metadata) (metadata.Metadata, error) {
	op := s.Properties().String("operator")
	switch op {
	case "average", "minimum", "maximum":
	default:
		return metadata.Metadata{}, errors.E(errors.Invalid, "temporal_reduction: unknown operator "+op)
	}
	ivals, err := s.intervals(inputs[0])
	if err != nil {
		log.Error.Printf("temporal_reduction: %v", err)
		return metadata.Metadata{}, err
	}
	out := inputs[0].Clone()
	out.SetString(KeyIndexInitializer, "number_of_intervals")
	out.SetString(KeyIndexRequest, "interval")
	out.SetInt64("number_of_intervals", int64(len(ivals)))
	// Replace the time axis with one representative time per
	// interval.
	times := make([]float64, len(ivals))
	for i, ival := range ivals {
		times[i] = ival.time
	}
	if coords, err := out.Child(KeyCoordinates); err == nil {
		coords.Set("t", varray.New(times...))
		out.SetMetadata(KeyCoordinates, coords)
	}
	return out, nil
}

func (s *TemporalReduction) TranslateRequest(ctx context.Context, port int, inputs []metadata.Metadata, req Request) ([]Request, error) {
	idx, err := req.Int64("interval")
	if err != nil {
		return nil, errors.E(errors.Invalid, "temporal_reduction: request is missing the interval key", err)
	}
	ivals, err := s.intervals(inputs[0])
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= int64(len(ivals)) {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("temporal_reduction: interval %d out of %d requested", idx, len(ivals)))
	}
	upKey, err := inputs[0].String(KeyIndexRequest)
	if err != nil {
		return nil, errors.E(errors.Invalid, "temporal_reduction: the input reports no index request key", err)
	}
	ups := make([]Request, len(ivals[idx].steps))
	for seq, step := range ivals[idx].steps {
		up := req.Clone()
		up.Del("interval")
		up.SetInt64(upKey, step)
		up.SetInt64(KeySequence, int64(seq))
		RequestArrays(&up, s.Properties().Strings("point_arrays")...)
		ups[seq] = up
	}
	return ups, nil
}

// Reduce folds two partial results. Sums accumulate for the average
// operator; minimum and maximum combine element-wise. Fold counts
// ride along in an information array.
func (s *TemporalReduction) Reduce(ctx context.Context, a, b dataset.Dataset) (dataset.Dataset, error) {
	am, ok := a.(*dataset.CartesianMesh)
	if !ok {
		return nil, errors.E(errors.Invalid, "temporal_reduction: a cartesian mesh is required")
	}
	bm, ok := b.(*dataset.CartesianMesh)
	if !ok {
		return nil, errors.E(errors.Invalid, "temporal_reduction: a cartesian mesh is required")
	}
	op := s.Properties().String("operator")
	out := am.ShallowCopy().(*dataset.CartesianMesh)
	for _, name := range s.reducedArrays(am) {
		av, bv := am.Points.Get(name), bm.Points.Get(name)
		if av == nil || bv == nil {
			return nil, errors.E(errors.NotExist, "temporal_reduction: array "+name+" missing from a partial result")
		}
		if av.Len() != bv.Len() {
			return nil, errors.E(errors.Invalid, "temporal_reduction: dimension mismatch in reduction of "+name)
		}
		folded := av.Clone()
		for i := 0; i < folded.Len(); i++ {
			x, y := av.Float64(i), bv.Float64(i)
			switch op {
			case "minimum":
				folded.SetFloat64(i, math.Min(x, y))
			case "maximum":
				folded.SetFloat64(i, math.Max(x, y))
			default:
				folded.SetFloat64(i, x+y)
			}
		}
		out.Points.Set(name, folded)
	}
	out.Info.Set(countArray, varray.New(foldCount(am)+foldCount(bm)))
	return out, nil
}

func foldCount(m *dataset.CartesianMesh) uint64 {
	if c := m.Info.Get(countArray); c != nil && c.Len() > 0 {
		return c.Uint64(0)
	}
	return 1
}

// reducedArrays returns the arrays the reduction operates on: the
// configured set, or every point array when unconfigured.
func (s *TemporalReduction) reducedArrays(m *dataset.CartesianMesh) []string {
	if names := s.Properties().Strings("point_arrays"); len(names) > 0 {
		return names
	}
	return m.Points.Keys()
}

func (s *TemporalReduction) Execute(ctx context.Context, port int, inputs []dataset.Dataset, req Request) (dataset.Dataset, error) {
	mesh, ok := inputs[0].(*dataset.CartesianMesh)
	if !ok {
		return nil, errors.E(errors.Invalid, "temporal_reduction: a cartesian mesh is required")
	}
	out := mesh.ShallowCopy().(*dataset.CartesianMesh)
	count := foldCount(mesh)
	if s.Properties().String("operator") == "average" && count > 1 {
		for _, name := range s.reducedArrays(out) {
			a := out.Points.Get(name)
			if a == nil {
				continue
			}
			scaled := a.Clone()
			for i := 0; i < scaled.Len(); i++ {
				scaled.SetFloat64(i, a.Float64(i)/float64(count))
			}
			out.Points.Set(name, scaled)
		}
	}
	out.Info.Del(countArray)
	if idx, err := req.Int64("interval"); err == nil {
		md := out.Metadata()
		md.SetString(KeyIndexRequest, "interval")
		md.SetInt64("interval", idx)
		out.SetMetadata(md)
	}
	return out, nil
}

func (s *TemporalReduction) ReductionThreads() int { return s.Properties().Int("thread_pool_size") }

func (s *TemporalReduction) Ordered() bool { return false }

func (s *TemporalReduction) TolerateMissing() bool { return s.Properties().Bool("tolerate_missing") }

var (
	_ Algorithm = (*TemporalReduction)(nil)
	_ Reduction = (*TemporalReduction)(nil)
)
