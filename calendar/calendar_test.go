// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package calendar

import (
	"math"
	"strings"
	"testing"
)

func TestOffset(t *testing.T) {
	for _, tc := range []struct {
		date     string
		units    string
		calendar string
		want     float64
	}{
		{"2000-01-01", "days since 2000-01-01", "standard", 0},
		{"2000-01-02", "days since 2000-01-01", "standard", 1},
		{"2000-01-01 12:00:00", "days since 2000-01-01", "standard", 0.5},
		{"2000-01-02", "hours since 2000-01-01", "standard", 24},
		{"2000-03-01", "days since 2000-01-01", "standard", 60}, // 2000 is a leap year
		{"2000-03-01", "days since 2000-01-01", "noleap", 59},
		{"2000-03-01", "days since 2000-01-01", "360_day", 60},
		{"2001-01-01", "days since 2000-01-01", "noleap", 365},
		{"2001-01-01", "days since 2000-01-01", "all_leap", 366},
		{"2001-01-01", "days since 2000-01-01", "360_day", 360},
		{"2000-02-01", "days since 2000-01-01", "noleap", 31},
		{"1900-03-01", "days since 1900-02-28", "julian", 2}, // 1900 is a julian leap year
		{"1900-03-01", "days since 1900-02-28", "standard", 1},
	} {
		d, err := ParseDate(tc.date)
		if err != nil {
			t.Fatalf("%s: %v", tc.date, err)
		}
		got, err := Offset(d, tc.units, tc.calendar)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.date, tc.calendar, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s in %q (%s): got %g, want %g", tc.date, tc.units, tc.calendar, got, tc.want)
		}
	}
}

func TestOutOfRange(t *testing.T) {
	for _, tc := range []struct {
		date     string
		calendar string
	}{
		{"2000-02-29", "noleap"},
		{"2001-02-29", "standard"},
		{"2000-01-31", "360_day"},
		{"2000-13-01", "standard"},
		{"1582-10-10", "standard"}, // dropped by the Gregorian reform
	} {
		d, err := ParseDate(tc.date)
		if err != nil {
			t.Fatalf("%s: %v", tc.date, err)
		}
		_, err = Offset(d, "days since 1990-01-01", tc.calendar)
		if err == nil || !strings.Contains(err.Error(), "date out of range") {
			t.Errorf("%s (%s): got %v, want a date out of range error", tc.date, tc.calendar, err)
		}
	}
}

func TestTimeInverse(t *testing.T) {
	for _, cal := range []string{"standard", "proleptic_gregorian", "julian", "noleap", "all_leap", "360_day"} {
		units := "hours since 1979-06-15 06:30:00"
		for _, off := range []float64{0, 1, 17.5, 1000, 24 * 365 * 3} {
			d, err := Time(off, units, cal)
			if err != nil {
				t.Fatalf("%s: %v", cal, err)
			}
			back, err := Offset(d, units, cal)
			if err != nil {
				t.Fatalf("%s: %v", cal, err)
			}
			if math.Abs(back-off) > 1e-6 {
				t.Errorf("%s: offset %g came back as %g (%v)", cal, off, back, d)
			}
		}
	}
}

func TestConvert(t *testing.T) {
	// 48 hours after the epoch is 2 days after the epoch.
	got, err := Convert(48, "hours since 2000-01-01", "days since 2000-01-01", "standard")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-2) > 1e-9 {
		t.Errorf("got %g, want 2", got)
	}
	// Different origins.
	got, err = Convert(0, "days since 2000-02-01", "days since 2000-01-01", "noleap")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-31) > 1e-9 {
		t.Errorf("got %g, want 31", got)
	}
}

func TestParseUnits(t *testing.T) {
	scale, origin, err := ParseUnits("days since 2000-01-01 00:00:00")
	if err != nil {
		t.Fatal(err)
	}
	if scale != 86400 || origin.Year != 2000 || origin.Month != 1 || origin.Day != 1 {
		t.Errorf("got %v, %v", scale, origin)
	}
	if _, _, err := ParseUnits("fortnights since 2000-01-01"); err == nil {
		t.Error("expected an error for unknown units")
	}
	if _, _, err := ParseUnits("days after 2000-01-01"); err == nil {
		t.Error("expected an error for a malformed units string")
	}
}

func TestParseFilename(t *testing.T) {
	d, err := ParseFilename("CAM5_1.ne120_era_run2.cam2.h2.1979-06-15-00000.nc", "%Y-%m-%d")
	if err != nil {
		t.Fatal(err)
	}
	if d.Year != 1979 || d.Month != 6 || d.Day != 15 {
		t.Errorf("got %v", d)
	}
	if _, err := ParseFilename("nodate.nc", "%Y-%m-%d"); err == nil {
		t.Error("expected an error when the template does not match")
	}
	if _, err := ParseFilename("x", "%q"); err == nil {
		t.Error("expected an error for an unsupported directive")
	}
}
