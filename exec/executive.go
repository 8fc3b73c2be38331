// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmesh"
	"github.com/grailbio/bigmesh/calendar"
	"github.com/grailbio/bigmesh/comm"
	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/metadata"
)

// An Executive enumerates the work of a pipeline update: it reads
// the index initializer key from the terminal stage's metadata,
// restricts to the configured step and date range, partitions the
// indices across the communicator's ranks in contiguous blocks, and
// emits one base request per local index.
type Executive struct {
	// FirstStep and LastStep restrict the index range, inclusive.
	// LastStep -1 means the last available index.
	FirstStep, LastStep int64
	// StartDate and EndDate further restrict the range by resolving
	// dates against the reported time axis and its calendar.
	StartDate, EndDate string
	// Arrays names the arrays every request asks for.
	Arrays []string
	// Bounds optionally restricts requests to a coordinate box.
	Bounds []float64

	cancelled int32

	mu      sync.Mutex
	reqKey  string
	indices []int64
	next    int
}

// NewExecutive returns an executive covering all available indices.
func NewExecutive() *Executive {
	return &Executive{LastStep: -1}
}

// Cancel stops the iteration. The flag is polled between requests;
// requests already emitted run to completion.
func (e *Executive) Cancel() { atomic.StoreInt32(&e.cancelled, 1) }

// Initialize prepares the iteration from the terminal stage's
// reported metadata for this rank of the communicator.
func (e *Executive) Initialize(md metadata.Metadata, c comm.Comm) error {
	initKey, err := md.String(bigmesh.KeyIndexInitializer)
	if err != nil {
		return errors.E(errors.Invalid, "exec: metadata is missing the index initializer key", err)
	}
	n, err := md.Int64(initKey)
	if err != nil {
		return errors.E(errors.Invalid, "exec: metadata is missing "+initKey, err)
	}
	reqKey, err := md.String(bigmesh.KeyIndexRequest)
	if err != nil {
		return errors.E(errors.Invalid, "exec: metadata is missing the index request key", err)
	}

	first, last := e.FirstStep, e.LastStep
	if first < 0 {
		first = 0
	}
	if last < 0 || last > n-1 {
		last = n - 1
	}
	if e.StartDate != "" || e.EndDate != "" {
		dfirst, dlast, err := e.dateRange(md, n)
		if err != nil {
			return err
		}
		if dfirst > first {
			first = dfirst
		}
		if dlast < last {
			last = dlast
		}
	}

	count := last - first + 1
	if count < 0 {
		count = 0
	}
	lo, hi := comm.Partition(count, c.Size(), c.Rank())
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reqKey = reqKey
	e.indices = e.indices[:0]
	for i := lo; i < hi; i++ {
		e.indices = append(e.indices, first+i)
	}
	e.next = 0
	log.Debug.Printf("exec: rank %d/%d owns %d of %d indices",
		c.Rank(), c.Size(), len(e.indices), n)
	return nil
}

// dateRange resolves the configured start and end dates against the
// reported time axis. A date that is invalid in the calendar or
// outside the axis is an error.
func (e *Executive) dateRange(md metadata.Metadata, n int64) (first, last int64, err error) {
	coords, err := md.Child(bigmesh.KeyCoordinates)
	if err != nil {
		return 0, 0, errors.E(errors.Invalid, "exec: a date range needs a reported time axis", err)
	}
	t, err := coords.Array("t")
	if err != nil {
		return 0, 0, errors.E(errors.Invalid, "exec: a date range needs a reported time axis", err)
	}
	tvar, err := coords.String("t_variable")
	if err != nil {
		return 0, 0, err
	}
	attrs, err := md.Child(bigmesh.KeyAttributes)
	if err != nil {
		return 0, 0, err
	}
	tatts, err := attrs.Child(tvar)
	if err != nil {
		return 0, 0, errors.E(errors.Invalid, "exec: the time axis has no attributes", err)
	}
	units, err := tatts.String("units")
	if err != nil {
		return 0, 0, errors.E(errors.Invalid, "exec: the time axis has no units", err)
	}
	cal, err := tatts.String("calendar")
	if err != nil {
		cal = "standard"
	}

	first, last = 0, n-1
	if e.StartDate != "" {
		d, err := calendar.ParseDate(e.StartDate)
		if err != nil {
			return 0, 0, err
		}
		off, err := calendar.Offset(d, units, cal)
		if err != nil {
			return 0, 0, err
		}
		i, err := dataset.FirstAtLeast(t, off)
		if err != nil {
			return 0, 0, errors.E(errors.Invalid,
				fmt.Sprintf("exec: start date %s is out of the time axis range", e.StartDate), err)
		}
		first = int64(i)
	}
	if e.EndDate != "" {
		d, err := calendar.ParseDate(e.EndDate)
		if err != nil {
			return 0, 0, err
		}
		off, err := calendar.Offset(d, units, cal)
		if err != nil {
			return 0, 0, err
		}
		i, err := dataset.LastAtMost(t, off)
		if err != nil {
			return 0, 0, errors.E(errors.Invalid,
				fmt.Sprintf("exec: end date %s is out of the time axis range", e.EndDate), err)
		}
		last = int64(i)
	}
	return first, last, nil
}

// Next returns the next base request of this rank's iteration.
func (e *Executive) Next() (bigmesh.Request, bool) {
	if atomic.LoadInt32(&e.cancelled) != 0 {
		return metadata.Metadata{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.next >= len(e.indices) {
		return metadata.Metadata{}, false
	}
	idx := e.indices[e.next]
	e.next++
	req := metadata.New()
	req.SetString(bigmesh.KeyIndexRequest, e.reqKey)
	req.SetInt64(e.reqKey, idx)
	if len(e.Arrays) > 0 {
		req.SetStrings(bigmesh.KeyArrays, e.Arrays...)
	}
	if len(e.Bounds) == 6 {
		req.SetFloat64s(bigmesh.KeyBounds, e.Bounds...)
	}
	return req, true
}
