// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package comm abstracts the communicator the pipeline runs over: a
// set of P ranks sharing no memory and coordinating only through
// the collective operations broadcast and gather. Self is the
// single-rank communicator; NewGroup connects in-process ranks over
// channels for tests and multi-rank runs inside one process.
package comm

import (
	"context"

	"github.com/grailbio/base/errors"
)

// A Comm is one rank's endpoint into a communicator. Collectives
// must be called by every rank of the communicator.
type Comm interface {
	// Rank returns this rank's index in [0, Size).
	Rank() int
	// Size returns the number of ranks.
	Size() int
	// Broadcast distributes root's payload to all ranks. Every rank
	// receives the payload, including the root.
	Broadcast(ctx context.Context, root int, data []byte) ([]byte, error)
	// Gather collects every rank's payload on the root, ordered by
	// rank. Non-root ranks receive nil.
	Gather(ctx context.Context, root int, data []byte) ([][]byte, error)
}

type self struct{}

// Self returns the single-rank communicator.
func Self() Comm { return self{} }

func (self) Rank() int { return 0 }
func (self) Size() int { return 1 }

func (self) Broadcast(ctx context.Context, root int, data []byte) ([]byte, error) {
	if root != 0 {
		return nil, errors.E(errors.Invalid, "comm: invalid root rank")
	}
	return data, nil
}

func (self) Gather(ctx context.Context, root int, data []byte) ([][]byte, error) {
	if root != 0 {
		return nil, errors.E(errors.Invalid, "comm: invalid root rank")
	}
	return [][]byte{data}, nil
}

// Partition computes the contiguous block partition of n work
// indices across size ranks: rank r receives [r*n/size,
// (r+1)*n/size).
func Partition(n int64, size, rank int) (lo, hi int64) {
	p := int64(size)
	r := int64(rank)
	return r * n / p, (r + 1) * n / p
}
