// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec drives pipeline evaluation: it owns the stage graph,
// caches reported metadata, and pulls per-index requests from the
// executive through the graph.
package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bigmesh"
	"github.com/grailbio/bigmesh/comm"
	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/metadata"
	"github.com/grailbio/bigmesh/pool"
	"github.com/spaolacci/murmur3"
)

// A Stage is one node of the pipeline graph: an algorithm plus its
// input connections and cached reported metadata.
type Stage struct {
	alg    bigmesh.Algorithm
	id     int
	inputs []connection

	// cached holds reported metadata per output port; gen is the
	// property generation it was computed under. Cache state is
	// mutated only from the rank-local driver, which is
	// single-threaded across Update.
	cached []metadata.Metadata
	valid  []bool
	gen    int64

	// mu serializes Execute calls for this stage within the rank.
	mu sync.Mutex
}

// Algorithm returns the stage's algorithm.
func (s *Stage) Algorithm() bigmesh.Algorithm { return s.alg }

// A connection is a back-reference to an upstream output held as a
// (stage, port) pair; stages never hold owning references to one
// another.
type connection struct {
	stage *Stage
	port  int
}

// A Driver owns a DAG of connected stages, the cache of their
// reported metadata, and the evaluation of requests through the
// graph.
type Driver struct {
	stages []*Stage
	comm   comm.Comm
	group  *status.Group

	memoMu sync.Mutex
	memo   map[uint64]dataset.Dataset
}

// NewDriver returns an empty driver on the single-rank
// communicator.
func NewDriver() *Driver {
	return &Driver{comm: comm.Self()}
}

// SetComm sets the communicator the pipeline runs over.
func (d *Driver) SetComm(c comm.Comm) { d.comm = c }

// Comm returns the driver's communicator.
func (d *Driver) Comm() comm.Comm { return d.comm }

// SetStatus directs per-request progress to the provided status
// group.
func (d *Driver) SetStatus(group *status.Group) { d.group = group }

// Add registers an algorithm as a stage of this pipeline.
func (d *Driver) Add(alg bigmesh.Algorithm) *Stage {
	s := &Stage{
		alg:    alg,
		id:     len(d.stages),
		inputs: make([]connection, alg.NumInputs()),
		cached: make([]metadata.Metadata, alg.NumOutputs()),
		valid:  make([]bool, alg.NumOutputs()),
		gen:    alg.Properties().Generation(),
	}
	d.stages = append(d.stages, s)
	return s
}

// Connect wires src's output port to dst's input port. Sources must
// be added before their consumers; the driver's stage order is the
// topological order.
func (d *Driver) Connect(dst *Stage, dstPort int, src *Stage, srcPort int) error {
	if dstPort < 0 || dstPort >= len(dst.inputs) {
		return errors.E(errors.Invalid, fmt.Sprintf(
			"exec: stage %s has no input %d", dst.alg.Name(), dstPort))
	}
	if srcPort < 0 || srcPort >= src.alg.NumOutputs() {
		return errors.E(errors.Invalid, fmt.Sprintf(
			"exec: stage %s has no output %d", src.alg.Name(), srcPort))
	}
	if src.id >= dst.id {
		return errors.E(errors.Invalid, fmt.Sprintf(
			"exec: connection from %s to %s would break the topological order",
			src.alg.Name(), dst.alg.Name()))
	}
	dst.inputs[dstPort] = connection{stage: src, port: srcPort}
	return nil
}

// SetModified invalidates the stage's cached reported metadata and,
// transitively, every downstream cache.
func (d *Driver) SetModified(s *Stage) {
	for i := range s.valid {
		s.valid[i] = false
	}
	for _, t := range d.stages {
		if t.id <= s.id {
			continue
		}
		for _, c := range t.inputs {
			if c.stage != nil && !allValid(c.stage) {
				for i := range t.valid {
					t.valid[i] = false
				}
				break
			}
		}
	}
}

func allValid(s *Stage) bool {
	for _, v := range s.valid {
		if !v {
			return false
		}
	}
	return true
}

// refresh invalidates stages whose properties changed since their
// metadata was cached, walking in topological order so downstream
// invalidation is transitive.
func (d *Driver) refresh() {
	for _, s := range d.stages {
		if gen := s.alg.Properties().Generation(); gen != s.gen {
			s.gen = gen
			d.SetModified(s)
		}
	}
}

// Report returns the stage's reported metadata for the given output
// port, computing and caching it (and its upstream closure) as
// needed. A second Report with no property changes returns the
// cache without re-running any stage.
func (d *Driver) Report(ctx context.Context, s *Stage, port int) (metadata.Metadata, error) {
	d.refresh()
	return d.report(ctx, s, port)
}

func (d *Driver) report(ctx context.Context, s *Stage, port int) (metadata.Metadata, error) {
	if port < 0 || port >= len(s.cached) {
		return metadata.Metadata{}, errors.E(errors.Invalid, fmt.Sprintf(
			"exec: stage %s has no output %d", s.alg.Name(), port))
	}
	if s.valid[port] {
		return s.cached[port].Clone(), nil
	}
	inputs, err := d.inputMetadata(ctx, s)
	if err != nil {
		return metadata.Metadata{}, err
	}
	md, err := s.alg.ReportMetadata(ctx, port, inputs)
	if err != nil {
		// Report failure is fatal for the whole pipeline update.
		log.Error.Printf("exec: %s: report metadata: %v", s.alg.Name(), err)
		return metadata.Metadata{}, err
	}
	s.cached[port] = md.Clone()
	s.valid[port] = true
	return md, nil
}

func (d *Driver) inputMetadata(ctx context.Context, s *Stage) ([]metadata.Metadata, error) {
	inputs := make([]metadata.Metadata, len(s.inputs))
	for i, c := range s.inputs {
		if c.stage == nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf(
				"exec: stage %s input %d is not connected", s.alg.Name(), i))
		}
		md, err := d.report(ctx, c.stage, c.port)
		if err != nil {
			return nil, err
		}
		inputs[i] = md
	}
	return inputs, nil
}

// request evaluates one request against a stage output, recursively
// pulling the stage's translated requests through its inputs.
// Identical sibling requests inside one Update are de-duplicated
// through a memo keyed by a murmur3 hash of the request.
func (d *Driver) request(ctx context.Context, s *Stage, port int, req bigmesh.Request) (dataset.Dataset, error) {
	key := memoKey(s.id, port, req)
	d.memoMu.Lock()
	if ds, ok := d.memo[key]; ok {
		d.memoMu.Unlock()
		return ds, nil
	}
	d.memoMu.Unlock()

	inputs, err := d.inputMetadata(ctx, s)
	if err != nil {
		return nil, err
	}
	upreqs, err := s.alg.TranslateRequest(ctx, port, inputs, req)
	if err != nil {
		log.Error.Printf("exec: %s: translate request: %v", s.alg.Name(), err)
		return nil, err
	}

	var datasets []dataset.Dataset
	if red, ok := s.alg.(bigmesh.Reduction); ok && len(s.inputs) == 1 {
		folded, err := d.reduce(ctx, s, red, upreqs)
		if err != nil {
			return nil, err
		}
		datasets = []dataset.Dataset{folded}
	} else {
		if len(upreqs) != len(s.inputs) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf(
				"exec: %s translated %d requests for %d inputs",
				s.alg.Name(), len(upreqs), len(s.inputs)))
		}
		datasets = make([]dataset.Dataset, len(upreqs))
		err := traverse.Each(len(upreqs), func(i int) error {
			c := s.inputs[i]
			ds, err := d.request(ctx, c.stage, c.port, upreqs[i])
			datasets[i] = ds
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	ds, err := s.alg.Execute(ctx, port, datasets, req)
	s.mu.Unlock()
	if err != nil {
		log.Error.Printf("exec: %s: execute: %v", s.alg.Name(), err)
		return nil, err
	}
	d.memoMu.Lock()
	d.memo[key] = ds
	d.memoMu.Unlock()
	return ds, nil
}

// reduce evaluates a map-reduce fanout on the stage's pool, folding
// results pairwise through the stage's reducer. Folding follows the
// sequence order, which satisfies both ordered reductions and
// associative-commutative ones; the pool still evaluates the
// upstream requests concurrently.
func (d *Driver) reduce(ctx context.Context, s *Stage, red bigmesh.Reduction, upreqs []bigmesh.Request) (dataset.Dataset, error) {
	if len(upreqs) == 0 {
		return nil, errors.E(errors.Invalid, "exec: "+s.alg.Name()+" translated an empty request sequence")
	}
	c := s.inputs[0]
	p := pool.New(red.ReductionThreads())
	defer p.Shutdown()
	futures := make([]*pool.Future[dataset.Dataset], len(upreqs))
	for i, up := range upreqs {
		up := up
		futures[i] = pool.Submit(ctx, p, func(ctx context.Context) (dataset.Dataset, error) {
			return d.request(ctx, c.stage, c.port, up)
		})
	}
	var folded dataset.Dataset
	for i, fut := range futures {
		ds, err := fut.Wait(ctx)
		if err != nil {
			if red.TolerateMissing() {
				log.Printf("exec: %s: dropping missing datum %d: %v", s.alg.Name(), i, err)
				continue
			}
			return nil, err
		}
		if folded == nil {
			folded = ds
			continue
		}
		if folded, err = red.Reduce(ctx, folded, ds); err != nil {
			return nil, err
		}
	}
	if folded == nil {
		return nil, errors.E(errors.NotExist, "exec: "+s.alg.Name()+" reduced no data")
	}
	return folded, nil
}

// Update runs the pipeline: it reports metadata bottom-up, asks the
// executive for the request iteration over the terminal stage's
// metadata, pulls each request through the graph, and hands the
// terminal datasets to sink. A failed request is logged and skipped;
// a failed report aborts the update.
func (d *Driver) Update(ctx context.Context, terminal *Stage, exec *Executive, sink func(ctx context.Context, req bigmesh.Request, ds dataset.Dataset) error) error {
	md, err := d.Report(ctx, terminal, 0)
	if err != nil {
		return err
	}
	if exec == nil {
		exec = NewExecutive()
	}
	if err := exec.Initialize(md, d.comm); err != nil {
		return err
	}
	d.memoMu.Lock()
	d.memo = make(map[uint64]dataset.Dataset)
	d.memoMu.Unlock()
	var firstErr error
	for {
		req, ok := exec.Next()
		if !ok {
			break
		}
		var task *status.Task
		if d.group != nil {
			task = d.group.Startf("%s %s", terminal.alg.Name(), requestLabel(req))
		}
		ds, err := d.request(ctx, terminal, 0, req)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if task != nil {
				task.Printf("error: %v", err)
				task.Done()
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if err := sink(ctx, req, ds); err != nil {
			if task != nil {
				task.Done()
			}
			return err
		}
		if task != nil {
			task.Done()
		}
	}
	return firstErr
}

func requestLabel(req bigmesh.Request) string {
	key, err := req.String(bigmesh.KeyIndexRequest)
	if err != nil {
		return "request"
	}
	idx, err := req.Int64(key)
	if err != nil {
		return key
	}
	return fmt.Sprintf("%s=%d", key, idx)
}

func memoKey(stage, port int, req bigmesh.Request) uint64 {
	h := murmur3.New64()
	fmt.Fprintf(h, "%d/%d/", stage, port)
	h.Write(metadata.Marshal(req))
	return h.Sum64()
}
