// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
Package bigmesh implements a demand-driven, map-reduce-capable
dataflow runtime for analyzing large gridded climate and weather
datasets, together with the stage contract every pipeline node
implements and a set of concrete analysis stages.

A pipeline is a DAG of stages connected port to port. Evaluation
happens in three passes: stages report metadata bottom-up
(advertising variables, coordinates, extents, and the pipeline
index keys), a downstream request is translated upstream node by
node, and execute calls flow back down carrying datasets. The
executive enumerates work indices from the terminal stage's
metadata and partitions them across distributed ranks; within a
rank, stages use bounded thread pools for parallel I/O and
map-reduce fan-in.

Data moves between stages as datasets: tables and cartesian meshes
built from variant arrays (package varray) with attached metadata
(package metadata), all binary-serializable for caching and
broadcast over ranks (packages meshio and comm).

The concrete stages in this package (vorticity, vertical integral,
integrated vapor transport, atmospheric river detection, temporal
reduction, subsetting, dataset diff) double as worked examples of
the contract; the CF NetCDF reader and writer live in package cf,
and the pipeline driver and executive in package exec.
*/
package bigmesh
