// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dataset

import (
	"testing"

	"github.com/grailbio/bigmesh/varray"
)

func TestSearchAscending(t *testing.T) {
	a := varray.New(0.0, 1, 2, 3)
	for _, tc := range []struct {
		v    float64
		lo   int
		hi   int
	}{
		{0, 0, 0},
		{0.5, 0, 1},
		{2, 2, 2},
		{2.9, 2, 3},
	} {
		lo, err := LastAtMost(a, tc.v)
		if err != nil || lo != tc.lo {
			t.Errorf("LastAtMost(%g) = %v, %v, want %v", tc.v, lo, err, tc.lo)
		}
		hi, err := FirstAtLeast(a, tc.v)
		if err != nil || hi != tc.hi {
			t.Errorf("FirstAtLeast(%g) = %v, %v, want %v", tc.v, hi, err, tc.hi)
		}
	}
	if _, err := LastAtMost(a, -1); err == nil {
		t.Error("expected an error below the axis")
	}
	if _, err := FirstAtLeast(a, 4); err == nil {
		t.Error("expected an error above the axis")
	}
}

func TestBoundsToExtent(t *testing.T) {
	x := varray.New(0.0, 10, 20, 30)
	y := varray.New(10.0, 0, -10) // descending latitude
	z := varray.New(0.0)
	ext, err := BoundsToExtent(Bounds{5, 25, -5, 5, 0, 0}, x, y, z)
	if err != nil {
		t.Fatal(err)
	}
	want := Extent{0, 3, 0, 2, 0, 0}
	if ext != want {
		t.Errorf("got %v, want %v", ext, want)
	}
	if _, err := BoundsToExtent(Bounds{-5, 25, -5, 5, 0, 0}, x, y, z); err == nil {
		t.Error("expected an error for bounds outside the domain")
	}
}

func TestExtentBoundsEquivalence(t *testing.T) {
	x := varray.New(0.0, 10, 20, 30)
	y := varray.New(-10.0, 0, 10)
	z := varray.New(0.0)
	ext := Extent{1, 2, 0, 1, 0, 0}
	b := ExtentToBounds(ext, x, y, z)
	back, err := BoundsToExtent(b, x, y, z)
	if err != nil {
		t.Fatal(err)
	}
	if back != ext {
		t.Errorf("got %v, want %v", back, ext)
	}
}
