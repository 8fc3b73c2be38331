// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigmesh

import (
	"context"
	"sort"

	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/metadata"
)

// Version tags the framework's serialized formats; it participates
// in the reader's metadata cache hash so caches do not survive
// releases that change reported metadata.
const Version = "bigmesh-0.1"

// A Request is the metadata a downstream consumer sends upstream to
// ask for one unit of work. Requests carry the index key advertised
// by the source, the set of arrays wanted, and optional bounds or
// an extent.
type Request = metadata.Metadata

// Well-known metadata and request keys of the pipeline contract.
const (
	// KeyIndexInitializer names the metadata key under which a
	// source publishes the key holding its total work index count.
	KeyIndexInitializer = "index_initializer_key"
	// KeyIndexRequest names the metadata key under which a source
	// publishes the request key addressing one work index.
	KeyIndexRequest = "index_request_key"

	KeyArrays      = "arrays"
	KeyBounds      = "bounds"
	KeyExtent      = "extent"
	KeyVariables   = "variables"
	KeyAttributes  = "attributes"
	KeyCoordinates = "coordinates"
	KeyWholeExtent = "whole_extent"

	// KeySequence tags each upstream request of a map-reduce fanout
	// with its stable position so non-commutative reductions can
	// combine in order.
	KeySequence = "sequence_id"
)

// An Algorithm is a pipeline stage: a node with N inputs, M
// outputs, a property bag, and the three pipeline operations. All
// three operations must be pure with respect to the stage's
// properties and their metadata arguments.
//
// An operation signals failure by returning an error after logging
// a structured record; errors never cross goroutine boundaries
// except through futures.
type Algorithm interface {
	// Name returns the stage's name, used in logs and flag
	// prefixes.
	Name() string
	// Properties returns the stage's property bag.
	Properties() *Properties
	// NumInputs returns the number of input connections the stage
	// requires.
	NumInputs() int
	// NumOutputs returns the number of output ports.
	NumOutputs() int

	// ReportMetadata produces the metadata describing output port
	// given the reported metadata of each connected input.
	ReportMetadata(ctx context.Context, port int, inputs []metadata.Metadata) (metadata.Metadata, error)

	// TranslateRequest maps a request for the stage's output to one
	// request per input. Map-reduce stages return a sequence of
	// requests for their single input instead.
	TranslateRequest(ctx context.Context, port int, inputs []metadata.Metadata, req Request) ([]Request, error)

	// Execute produces the requested dataset from the datasets the
	// inputs produced for the translated requests.
	Execute(ctx context.Context, port int, inputs []dataset.Dataset, req Request) (dataset.Dataset, error)
}

// A Reduction is implemented by map-reduce stages, whose
// TranslateRequest returns a sequence of upstream requests for each
// downstream index. The driver evaluates the sequence on a pool of
// ReductionThreads workers and folds results pairwise through
// Reduce before handing the folded dataset to Execute to finalize.
type Reduction interface {
	// Reduce combines two partial results. It must be associative,
	// and commutative unless Ordered.
	Reduce(ctx context.Context, a, b dataset.Dataset) (dataset.Dataset, error)
	// ReductionThreads returns the stage's pool size; -1 selects
	// the hardware concurrency.
	ReductionThreads() int
	// Ordered tells whether partial results must be combined in
	// sequence-id order.
	Ordered() bool
	// TolerateMissing tells whether a failed upstream datum is
	// dropped from the reduction rather than failing the index.
	TolerateMissing() bool
}

// Base carries the identity shared by every stage; concrete stages
// embed it.
type Base struct {
	name      string
	props     *Properties
	nin, nout int
}

// NewBase returns a Base with the given name, connection counts,
// and property bag.
func NewBase(name string, nin, nout int, props *Properties) Base {
	return Base{name: name, props: props, nin: nin, nout: nout}
}

func (b *Base) Name() string            { return b.name }
func (b *Base) Properties() *Properties { return b.props }
func (b *Base) NumInputs() int          { return b.nin }
func (b *Base) NumOutputs() int         { return b.nout }

// RequestedArrays returns the arrays named by the request, in the
// order they are stored.
func RequestedArrays(req Request) []string {
	arrays, err := req.Strings(KeyArrays)
	if err != nil {
		return nil
	}
	return arrays
}

// RequestArrays adds names to the request's array set, keeping it
// sorted and unique.
func RequestArrays(req *Request, names ...string) {
	set := make(map[string]bool)
	for _, name := range RequestedArrays(*req) {
		set[name] = true
	}
	for _, name := range names {
		set[name] = true
	}
	merged := make([]string, 0, len(set))
	for name := range set {
		merged = append(merged, name)
	}
	sort.Strings(merged)
	req.SetStrings(KeyArrays, merged...)
}

// StripArrays removes names from the request's array set. Stages
// strip the arrays they produce before passing a request upstream.
func StripArrays(req *Request, names ...string) {
	drop := make(map[string]bool, len(names))
	for _, name := range names {
		drop[name] = true
	}
	var kept []string
	for _, name := range RequestedArrays(*req) {
		if !drop[name] {
			kept = append(kept, name)
		}
	}
	req.SetStrings(KeyArrays, kept...)
}
