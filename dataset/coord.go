// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dataset

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigmesh/varray"
)

// Coordinate search helpers. Coordinate arrays are monotonic;
// descending axes (latitude is often stored north to south) are
// handled by mirroring.

func ascending(a varray.Array) bool {
	n := a.Len()
	return n < 2 || a.Float64(0) <= a.Float64(n-1)
}

// LastAtMost returns the largest index i with a[i] <= v on an
// ascending axis (a[i] >= v descending). It returns an error when v
// precedes the axis.
func LastAtMost(a varray.Array, v float64) (int, error) {
	n := a.Len()
	if n == 0 {
		return 0, errors.E(errors.Invalid, "dataset: empty coordinate axis")
	}
	asc := ascending(a)
	lo, hi := 0, n-1
	if at := a.Float64(0); (asc && v < at) || (!asc && v > at) {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("dataset: coordinate %g precedes the axis", v))
	}
	for lo < hi {
		mid := (lo + hi + 1) / 2
		at := a.Float64(mid)
		if (asc && at <= v) || (!asc && at >= v) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

// FirstAtLeast returns the smallest index i with a[i] >= v on an
// ascending axis (a[i] <= v descending). It returns an error when v
// exceeds the axis.
func FirstAtLeast(a varray.Array, v float64) (int, error) {
	n := a.Len()
	if n == 0 {
		return 0, errors.E(errors.Invalid, "dataset: empty coordinate axis")
	}
	asc := ascending(a)
	lo, hi := 0, n-1
	if at := a.Float64(n - 1); (asc && v > at) || (!asc && v < at) {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("dataset: coordinate %g exceeds the axis", v))
	}
	for lo < hi {
		mid := (lo + hi) / 2
		at := a.Float64(mid)
		if (asc && at >= v) || (!asc && at <= v) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

// BoundsToExtent returns the smallest extent covering the requested
// bounds on the given coordinate axes: the low index is the last
// coordinate at or below the low bound and the high index the first
// at or above the high bound. A bound outside the axis is an error.
func BoundsToExtent(b Bounds, x, y, z varray.Array) (Extent, error) {
	var e Extent
	axes := [3]varray.Array{x, y, z}
	for d, a := range axes {
		if a == nil || a.Len() == 0 {
			e[2*d], e[2*d+1] = 0, 0
			continue
		}
		blo, bhi := b[2*d], b[2*d+1]
		if !ascending(a) {
			// On a descending axis the low index covers the high
			// coordinate bound.
			blo, bhi = bhi, blo
		}
		lo, err := LastAtMost(a, blo)
		if err != nil {
			return e, errors.E(errors.Invalid, fmt.Sprintf("dataset: requested bounds [%g, %g] outside axis %d", b[2*d], b[2*d+1], d), err)
		}
		hi, err := FirstAtLeast(a, bhi)
		if err != nil {
			return e, errors.E(errors.Invalid, fmt.Sprintf("dataset: requested bounds [%g, %g] outside axis %d", b[2*d], b[2*d+1], d), err)
		}
		if hi < lo {
			lo, hi = hi, lo
		}
		e[2*d], e[2*d+1] = uint64(lo), uint64(hi)
	}
	return e, nil
}

// ExtentToBounds returns the coordinate box of the extent on the
// given axes.
func ExtentToBounds(e Extent, x, y, z varray.Array) Bounds {
	var b Bounds
	axes := [3]varray.Array{x, y, z}
	for d, a := range axes {
		if a == nil || a.Len() == 0 {
			continue
		}
		b[2*d] = a.Float64(int(e[2*d]))
		b[2*d+1] = a.Float64(int(e[2*d+1]))
		if b[2*d] > b[2*d+1] {
			b[2*d], b[2*d+1] = b[2*d+1], b[2*d]
		}
	}
	return b
}
