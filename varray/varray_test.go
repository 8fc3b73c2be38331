// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package varray

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/bigmesh/meshio"
)

func TestMake(t *testing.T) {
	for _, typ := range []Type{Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64, Float32, Float64, String} {
		a := Make(typ, 10)
		if got, want := a.Type(), typ; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := a.Len(), 10; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		b := a.NewInstance()
		if got, want := b.Type(), typ; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := b.Len(), 0; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestSlice(t *testing.T) {
	a := New(1.0, 2.0, 3.0, 4.0, 5.0)
	b := a.Slice(1, 4)
	if got, want := b.Len(), 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, want := range []float64{2, 3, 4} {
		if got := b.Float64(i); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	// The copy is independent of the original.
	b.SetFloat64(0, 100)
	if got, want := a.Float64(1), 2.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResize(t *testing.T) {
	a := New[int64](1, 2, 3)
	a.Resize(5)
	if got, want := a.Len(), 5; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := a.Int64(3), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	a.Resize(2)
	if got, want := a.Len(), 2; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	a.Resize(4)
	if got, want := a.Int64(2), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAppendArray(t *testing.T) {
	a := New[int32](1, 2)
	if err := a.AppendArray(New[int32](3, 4)); err != nil {
		t.Fatal(err)
	}
	if !Equal(a, New[int32](1, 2, 3, 4)) {
		t.Errorf("got %v, want 1 2 3 4", a.Values)
	}
	if err := a.AppendArray(New("no")); err == nil {
		t.Error("expected a type mismatch error")
	}
}

func TestUniformAccess(t *testing.T) {
	a := Make(Uint16, 2)
	a.SetFloat64(0, 41)
	a.SetInt64(1, 42)
	if got, want := a.Uint64(0), uint64(41); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := a.String(1), "42"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	s := Make(String, 1)
	s.SetString(0, "3.5")
	if got, want := s.Float64(0), 3.5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func roundTrip(t *testing.T, a Array) {
	t.Helper()
	var b meshio.Buffer
	Encode(a, &b)
	got, err := Decode(&b)
	if err != nil {
		t.Fatalf("decode %v: %v", a.Type(), err)
	}
	if !Equal(got, a) {
		t.Errorf("%v round trip: got %v, want %v", a.Type(), got, a)
	}
}

func TestCodecFuzz(t *testing.T) {
	const N = 1000
	fz := fuzz.New()
	fz.NilChance(0)
	fz.NumElements(N, N)
	var (
		i8  []int8
		i64 []int64
		u32 []uint32
		f32 []float32
		f64 []float64
		str []string
	)
	fz.Fuzz(&i8)
	fz.Fuzz(&i64)
	fz.Fuzz(&u32)
	fz.Fuzz(&f32)
	fz.Fuzz(&f64)
	fz.Fuzz(&str)
	roundTrip(t, New(i8...))
	roundTrip(t, New(i64...))
	roundTrip(t, New(u32...))
	roundTrip(t, New(f32...))
	roundTrip(t, New(f64...))
	roundTrip(t, New(str...))
	roundTrip(t, New[uint64]())
}

func TestDecodeShortBuffer(t *testing.T) {
	var b meshio.Buffer
	Encode(New(1.0, 2.0, 3.0), &b)
	short := meshio.NewBuffer(b.Bytes()[:b.Len()-4])
	if _, err := Decode(short); err == nil {
		t.Error("expected an error decoding a truncated stream")
	}
}
