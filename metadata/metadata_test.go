// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package metadata

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/bigmesh/varray"
)

func testMetadata() Metadata {
	md := New()
	md.SetString("name", "test")
	md.SetInt64("steps", 42)
	md.SetFloat64s("bounds", 0, 360, -90, 90, 0, 0)
	md.SetStrings("files", "a.nc", "b.nc")
	nested := New()
	nested.SetString("units", "days since 2000-01-01")
	nested.SetString("calendar", "noleap")
	md.SetMetadata("time", nested)
	return md
}

func TestRoundTrip(t *testing.T) {
	md := testMetadata()
	got, err := Unmarshal(Marshal(md))
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(got, md) {
		t.Errorf("round trip: got %v keys, want %v keys", got.Keys(), md.Keys())
	}
}

func TestRoundTripFuzz(t *testing.T) {
	fz := fuzz.New()
	fz.NilChance(0)
	fz.NumElements(1, 50)
	for i := 0; i < 100; i++ {
		var (
			keys []string
			vals []float64
			strs []string
		)
		fz.Fuzz(&keys)
		fz.Fuzz(&vals)
		fz.Fuzz(&strs)
		md := New()
		for j, key := range keys {
			switch j % 3 {
			case 0:
				md.SetFloat64s(key, vals...)
			case 1:
				md.SetStrings(key, strs...)
			default:
				nested := New()
				nested.SetFloat64s("v", vals...)
				md.SetMetadata(key, nested)
			}
		}
		got, err := Unmarshal(Marshal(md))
		if err != nil {
			t.Fatal(err)
		}
		if !Equal(got, md) {
			t.Fatalf("round trip mismatch for %d keys", md.Len())
		}
	}
}

func TestKeyOrder(t *testing.T) {
	md := New()
	md.SetInt64("z", 1)
	md.SetInt64("a", 2)
	md.SetInt64("m", 3)
	md.SetInt64("a", 4) // replacement keeps first-insertion order
	want := []string{"z", "a", "m"}
	got := md.Keys()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	decoded, err := Unmarshal(Marshal(md))
	if err != nil {
		t.Fatal(err)
	}
	for i, key := range decoded.Keys() {
		if key != want[i] {
			t.Errorf("decoded keys %v, want %v", decoded.Keys(), want)
		}
	}
}

func TestCopyOnWrite(t *testing.T) {
	md := testMetadata()
	alias := md.Clone()
	alias.SetString("name", "changed")
	if got, want := mustString(t, md, "name"), "test"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := mustString(t, alias, "name"), "changed"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Nested metadata obtained from a shared instance is itself
	// protected.
	child, err := md.Child("time")
	if err != nil {
		t.Fatal(err)
	}
	child.SetString("calendar", "360_day")
	orig, err := md.Child("time")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := mustString(t, orig, "calendar"), "noleap"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDel(t *testing.T) {
	md := testMetadata()
	alias := md.Clone()
	alias.Del("steps")
	if alias.Has("steps") {
		t.Error("key still present after delete")
	}
	if !md.Has("steps") {
		t.Error("delete mutated an alias")
	}
}

func TestAppend(t *testing.T) {
	md := New()
	md.SetStrings("variables", "ua", "va")
	if err := md.AppendString("variables", "vorticity"); err != nil {
		t.Fatal(err)
	}
	got, err := md.Strings("variables")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"ua", "va", "vorticity"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestTypedGetters(t *testing.T) {
	md := testMetadata()
	if _, err := md.Int64("missing"); err == nil {
		t.Error("expected an error for a missing key")
	}
	if _, err := md.Array("time"); err == nil {
		t.Error("expected an error reading nested metadata as an array")
	}
	n, err := md.Int64("steps")
	if err != nil || n != 42 {
		t.Errorf("got %v, %v, want 42", n, err)
	}
	md.Set("typed", varray.New[uint64](7))
	u, err := md.Uint64("typed")
	if err != nil || u != 7 {
		t.Errorf("got %v, %v, want 7", u, err)
	}
}

func mustString(t *testing.T, md Metadata, key string) string {
	t.Helper()
	v, err := md.String(key)
	if err != nil {
		t.Fatal(err)
	}
	return v
}
