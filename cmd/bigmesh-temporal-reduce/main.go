// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command bigmesh-temporal-reduce reduces CF NetCDF datasets over
// time intervals (daily, monthly, seasonal, yearly averages,
// minima, or maxima), writing one file per interval.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

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
		outputFile = flag.String("output_file", "reduced_%t%.nc", "output path; %t% interpolates the interval")
		arrays     = flag.String("arrays", "", "comma-separated arrays to reduce")
		interval   = flag.String("interval", "monthly", "reduction interval: daily, monthly, seasonal, or yearly")
		operator   = flag.String("operator", "average", "reduction operator: average, minimum, or maximum")
		firstStep  = flag.Int64("first_step", 0, "first time step to process")
		lastStep   = flag.Int64("last_step", -1, "last time step to process")
		startDate  = flag.String("start_date", "", "first date to process, YYYY-MM-DD")
		endDate    = flag.String("end_date", "", "last date to process, YYYY-MM-DD")
		nThreads   = flag.Int("n_threads", -1, "reduction concurrency, -1 for hardware concurrency")
	)

	reader := cf.NewReader()
	reduce := bigmesh.NewTemporalReduction()
	writer := cf.NewWriter()
	meshflags.Register(flag.CommandLine, reader, reduce, writer)
	flag.Parse()

	if err := run(reader, reduce, writer, *inputRegex, *inputFile, *outputFile, *arrays,
		*interval, *operator, *firstStep, *lastStep, *startDate, *endDate, *nThreads); err != nil {
		fmt.Fprintf(os.Stderr, "bigmesh-temporal-reduce: %v\n", err)
		os.Exit(1)
	}
}

func run(reader *cf.Reader, reduce *bigmesh.TemporalReduction, writer *cf.Writer,
	inputRegex, inputFile, outputFile, arrays, interval, operator string,
	firstStep, lastStep int64, startDate, endDate string, nThreads int) error {
	switch {
	case inputRegex != "" && inputFile != "":
		return fmt.Errorf("--input_regex and --input_file are mutually exclusive")
	case inputRegex == "" && inputFile == "":
		return fmt.Errorf("one of --input_regex or --input_file is required")
	case arrays == "":
		return fmt.Errorf("--arrays is required")
	}
	if inputRegex != "" {
		reader.Properties().Set("files_regex", inputRegex)
	} else {
		reader.Properties().Set("file_names", []string{inputFile})
	}
	names := strings.Split(arrays, ",")
	reduce.Properties().Set("point_arrays", names)
	reduce.Properties().Set("interval", interval)
	reduce.Properties().Set("operator", operator)
	reduce.Properties().Set("thread_pool_size", nThreads)
	writer.Properties().Set("file_name", outputFile)

	d := exec.NewDriver()
	rs := d.Add(reader)
	ts := d.Add(reduce)
	if err := d.Connect(ts, 0, rs, 0); err != nil {
		return err
	}
	ws := d.Add(writer)
	if err := d.Connect(ws, 0, ts, 0); err != nil {
		return err
	}

	e := exec.NewExecutive()
	e.FirstStep, e.LastStep = firstStep, lastStep
	e.StartDate, e.EndDate = startDate, endDate
	e.Arrays = names

	return d.Update(context.Background(), ws, e,
		func(ctx context.Context, req bigmesh.Request, ds dataset.Dataset) error {
			return nil
		})
}
