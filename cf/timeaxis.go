// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cf

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmesh/calendar"
	"github.com/grailbio/bigmesh/metadata"
	"github.com/grailbio/bigmesh/pool"
	"github.com/grailbio/bigmesh/varray"
)

// fileTime is one file's contribution to the time axis.
type fileTime struct {
	values   []float64
	units    string
	calendar string
}

// timeAxis builds the dataset's time axis by one of four
// strategies: reading the time variable from every file (in
// parallel on the reader's pool, converting units to the base
// file's units where they differ), user-supplied values, dates
// inferred from file names, or a synthetic one-step-per-file axis.
// It returns the axis, the time variable's name, and the per-file
// step counts, updating the time attributes in atrs.
func (r *Reader) timeAxis(ctx context.Context, root string, files []string, atrs metadata.Metadata) (varray.Array, string, []uint64, error) {
	props := r.Properties()
	tAxisVar := props.String("t_axis_variable")
	tValues := props.Floats("t_values")

	switch {
	case tAxisVar != "":
		return r.timeAxisFromFiles(ctx, root, files, atrs)
	case len(tValues) > 0:
		return r.timeAxisFromValues(files, atrs)
	case props.String("filename_time_template") != "":
		return r.timeAxisFromFilenames(files, atrs)
	}
	// No time dimension: a synthetic monotonic axis, one step per
	// file. There is no calendaring information, so time-aware
	// stages will not work.
	log.Printf("cf: the time axis will be generated, with 1 step per file")
	values := make([]float64, len(files))
	stepCount := make([]uint64, len(files))
	for i := range files {
		values[i] = float64(i)
		stepCount[i] = 1
	}
	return varray.New(values...), "time", stepCount, nil
}

func (r *Reader) timeAxisFromFiles(ctx context.Context, root string, files []string, atrs metadata.Metadata) (varray.Array, string, []uint64, error) {
	props := r.Properties()
	tAxisVar := props.String("t_axis_variable")

	timeAtts, err := atrs.Child(tAxisVar)
	if err != nil {
		log.Printf("cf: attribute metadata for time axis variable %q is missing, temporal analysis is likely to fail", tAxisVar)
		timeAtts = metadata.New()
	}
	if override := props.String("t_calendar"); override != "" {
		log.Printf("cf: overriding the calendar with the runtime provided value %q", override)
		timeAtts.SetString("calendar", override)
	}
	if override := props.String("t_units"); override != "" {
		log.Printf("cf: overriding the time units with the runtime provided value %q", override)
		timeAtts.SetString("units", override)
	}
	hasUnits := timeAtts.Has("units")
	if !hasUnits {
		log.Printf("cf: the units attribute for the time axis variable %q is missing, temporal analysis is likely to fail", tAxisVar)
	}
	hasCalendar := timeAtts.Has("calendar")
	if !hasCalendar {
		log.Printf("cf: the calendar attribute for the time axis variable %q is missing, using the standard calendar", tAxisVar)
		timeAtts.SetString("calendar", "standard")
	}
	baseCalendar, _ := timeAtts.String("calendar")
	baseUnits, _ := timeAtts.String("units")
	atrs.SetMetadata(tAxisVar, timeAtts)

	// Opening every file and reading an unlimited-dimension
	// variable is slow on parallel file systems, so the per-file
	// reads run on the reader's pool.
	p := pool.New(props.Int("thread_pool_size"))
	defer p.Shutdown()
	futures := make([]*pool.Future[fileTime], len(files))
	for i, file := range files {
		path := filepath.Join(root, file)
		futures[i] = pool.Submit(ctx, p, func(ctx context.Context) (fileTime, error) {
			return r.readFileTime(path, tAxisVar)
		})
	}
	reads, err := pool.WaitAll(ctx, futures)
	if err != nil {
		return nil, "", nil, errors.E(errors.Invalid, "cf: failed to read the time axis", err)
	}

	var values []float64
	stepCount := make([]uint64, 0, len(files))
	for i, read := range reads {
		if len(read.values) == 0 {
			return nil, "", nil, errors.E(errors.Invalid, fmt.Sprintf(
				"cf: file %d %q had no time values", i, files[i]))
		}
		// All files must share the base calendar.
		if (!hasCalendar && read.calendar != "") ||
			(hasCalendar && props.String("t_calendar") == "" && read.calendar != baseCalendar) {
			return nil, "", nil, errors.E(errors.Invalid, fmt.Sprintf(
				"cf: the base calendar is %q but file %d %q has the %q calendar",
				baseCalendar, i, files[i], read.calendar))
		}
		stepCount = append(stepCount, uint64(len(read.values)))
		if read.units == baseUnits || props.String("t_units") != "" {
			values = append(values, read.values...)
			continue
		}
		if !hasUnits {
			return nil, "", nil, errors.E(errors.Invalid, "cf: calendaring conversion requires time units")
		}
		log.Printf("cf: file %d %q units %q differs from base units %q, a conversion will be made",
			i, files[i], read.units, baseUnits)
		for _, v := range read.values {
			converted, err := calendar.Convert(v, read.units, baseUnits, baseCalendar)
			if err != nil {
				return nil, "", nil, errors.E(errors.Invalid, fmt.Sprintf(
					"cf: failed to convert offset %g from %q to %q in calendar %q",
					v, read.units, baseUnits, baseCalendar), err)
			}
			values = append(values, converted)
		}
	}

	// A user-provided value set overrides the axis read from disk.
	if tValues := r.Properties().Floats("t_values"); len(tValues) > 0 {
		log.Printf("cf: overriding the time coordinates stored on disk with runtime provided values")
		if len(tValues) != len(values) {
			return nil, "", nil, errors.E(errors.Invalid, fmt.Sprintf(
				"cf: number of time steps detected doesn't match the number of time values provided; %d given, %d are necessary",
				len(tValues), len(values)))
		}
		values = tValues
	}
	return varray.New(values...), tAxisVar, stepCount, nil
}

// readFileTime reads one file's time values and calendaring
// attributes.
func (r *Reader) readFileTime(path, tAxisVar string) (fileTime, error) {
	g, err := r.open(path)
	if err != nil {
		return fileTime{}, err
	}
	defer closeGroup(g)
	vg, err := varGetter(g, tAxisVar)
	if err != nil {
		return fileTime{}, err
	}
	v, err := getValues(vg)
	if err != nil {
		return fileTime{}, err
	}
	a, err := wholeArray(v)
	if err != nil {
		return fileTime{}, err
	}
	atts := attrsToMetadata(vg.Attributes())
	units, _ := atts.String("units")
	cal, _ := atts.String("calendar")
	return fileTime{values: varray.Float64s(a), units: units, calendar: cal}, nil
}

func (r *Reader) timeAxisFromValues(files []string, atrs metadata.Metadata) (varray.Array, string, []uint64, error) {
	props := r.Properties()
	tValues := props.Floats("t_values")
	log.Printf("cf: the t_axis_variable was unspecified, using the provided time values")
	if props.String("t_calendar") == "" || props.String("t_units") == "" {
		return nil, "", nil, errors.E(errors.Invalid,
			"cf: the calendar and units must be specified when providing time values")
	}
	if len(tValues) != len(files) {
		return nil, "", nil, errors.E(errors.Invalid, fmt.Sprintf(
			"cf: number of files chosen doesn't match the number of time values provided; %d given, %d detected",
			len(tValues), len(files)))
	}
	timeAtts := metadata.New()
	timeAtts.SetString("calendar", props.String("t_calendar"))
	timeAtts.SetString("units", props.String("t_units"))
	atrs.SetMetadata("time", timeAtts)
	stepCount := make([]uint64, len(files))
	for i := range stepCount {
		stepCount[i] = 1
	}
	return varray.New(tValues...), "time", stepCount, nil
}

func (r *Reader) timeAxisFromFilenames(files []string, atrs metadata.Metadata) (varray.Array, string, []uint64, error) {
	props := r.Properties()
	template := props.String("filename_time_template")
	tCalendar := orDefault(props.String("t_calendar"), "standard")
	tUnits := props.String("t_units")

	values := make([]float64, len(files))
	for i, file := range files {
		d, err := calendar.ParseFilename(file, template)
		if err != nil {
			return nil, "", nil, errors.E(errors.Invalid, fmt.Sprintf(
				"cf: failed to infer time from filename %q using format %q", file, template), err)
		}
		if i == 0 && tUnits == "" {
			tUnits = fmt.Sprintf("days since %04d-%02d-%02d 00:00:00", d.Year, d.Month, d.Day)
		}
		if values[i], err = calendar.Offset(d, tUnits, tCalendar); err != nil {
			return nil, "", nil, errors.E(errors.Invalid,
				"cf: conversion of the date inferred from filename "+file+" failed", err)
		}
	}
	log.Printf("cf: the time axis will be inferred from file names using the template %q with the %q calendar in units %q",
		template, tCalendar, tUnits)
	timeAtts := metadata.New()
	timeAtts.SetString("calendar", tCalendar)
	timeAtts.SetString("units", tUnits)
	atrs.SetMetadata("time", timeAtts)
	stepCount := make([]uint64, len(files))
	for i := range stepCount {
		stepCount[i] = 1
	}
	return varray.New(values...), "time", stepCount, nil
}
