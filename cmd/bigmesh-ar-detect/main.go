// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command bigmesh-ar-detect detects atmospheric rivers in CF
// NetCDF datasets. The pipeline reads the inputs, optionally
// computes IVT from wind and specific humidity, estimates AR
// probability per step, and writes one file per step.
//
// Basic flags configure the run; advanced stage.property flags (see
// -help) map directly onto stage properties.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmesh"
	"github.com/grailbio/bigmesh/cf"
	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/exec"
	"github.com/grailbio/bigmesh/meshflags"
)

func main() {
	log.AddFlags()
	var (
		inputRegex = flag.String("input_regex", "", "regular expression matching the files to process")
		inputFile  = flag.String("input_file", "", "a single file to process")
		outputFile = flag.String("output_file", "ar_detect_%t%.nc", "output path; %t% interpolates the step")
		firstStep  = flag.Int64("first_step", 0, "first time step to process")
		lastStep   = flag.Int64("last_step", -1, "last time step to process")
		startDate  = flag.String("start_date", "", "first date to process, YYYY-MM-DD")
		endDate    = flag.String("end_date", "", "last date to process, YYYY-MM-DD")
		computeIVT = flag.Bool("compute_ivt", false, "compute IVT from wind and specific humidity")
		ivtMagOnly = flag.Bool("compute_ivt_magnitude", false, "compute IVT and its magnitude from wind and specific humidity; precomputed vector components are not read")
	)

	reader := cf.NewReader()
	ivt := bigmesh.NewIVT()
	ar := bigmesh.NewARDetect()
	writer := cf.NewWriter()
	meshflags.Register(flag.CommandLine, reader, ivt, ar, writer)
	flag.Parse()

	if err := run(reader, ivt, ar, writer, *inputRegex, *inputFile, *outputFile,
		*firstStep, *lastStep, *startDate, *endDate, *computeIVT, *ivtMagOnly); err != nil {
		fmt.Fprintf(os.Stderr, "bigmesh-ar-detect: %v\n", err)
		os.Exit(1)
	}
}

func run(reader *cf.Reader, ivt *bigmesh.IVT, ar *bigmesh.ARDetect, writer *cf.Writer,
	inputRegex, inputFile, outputFile string, firstStep, lastStep int64,
	startDate, endDate string, computeIVT, ivtMagOnly bool) error {
	switch {
	case inputRegex != "" && inputFile != "":
		return fmt.Errorf("--input_regex and --input_file are mutually exclusive")
	case inputRegex == "" && inputFile == "":
		return fmt.Errorf("one of --input_regex or --input_file is required")
	case computeIVT && ivtMagOnly:
		// Computing IVT already produces the magnitude.
		return fmt.Errorf("--compute_ivt and --compute_ivt_magnitude are mutually exclusive")
	}
	if inputRegex != "" {
		reader.Properties().Set("files_regex", inputRegex)
	} else {
		reader.Properties().Set("file_names", []string{inputFile})
	}
	writer.Properties().Set("file_name", outputFile)

	d := exec.NewDriver()
	rs := d.Add(reader)
	last := rs
	if computeIVT || ivtMagOnly {
		if ivtMagOnly {
			ivt.Properties().Set("compute_ivt_magnitude", true)
		}
		is := d.Add(ivt)
		if err := d.Connect(is, 0, last, 0); err != nil {
			return err
		}
		last = is
	}
	as := d.Add(ar)
	if err := d.Connect(as, 0, last, 0); err != nil {
		return err
	}
	ws := d.Add(writer)
	if err := d.Connect(ws, 0, as, 0); err != nil {
		return err
	}

	e := exec.NewExecutive()
	e.FirstStep, e.LastStep = firstStep, lastStep
	e.StartDate, e.EndDate = startDate, endDate
	e.Arrays = []string{ar.Properties().String("probability_variable")}

	return d.Update(context.Background(), ws, e,
		func(ctx context.Context, req bigmesh.Request, ds dataset.Dataset) error {
			return nil
		})
}
