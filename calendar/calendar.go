// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package calendar converts between dates and time offsets in the
// CF calendars: standard/gregorian (mixed Julian/Gregorian with the
// 1582 transition), proleptic_gregorian, julian, noleap/365_day,
// all_leap/366_day, and 360_day. Units follow the CF grammar
// "<period> since <date>".
package calendar

import (
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
)

// A Date is a calendar date with a time of day.
type Date struct {
	Year, Month, Day, Hour, Minute int
	Second                         float64
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02g",
		d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second)
}

type calKind int

const (
	calStandard calKind = iota // mixed Julian/Gregorian
	calProlepticGregorian
	calJulian
	calNoLeap
	calAllLeap
	cal360Day
)

func kindOf(calendar string) (calKind, error) {
	switch calendar {
	case "", "standard", "gregorian":
		return calStandard, nil
	case "proleptic_gregorian":
		return calProlepticGregorian, nil
	case "julian":
		return calJulian, nil
	case "noleap", "365_day":
		return calNoLeap, nil
	case "all_leap", "366_day":
		return calAllLeap, nil
	case "360_day":
		return cal360Day, nil
	}
	return 0, errors.E(errors.NotSupported, "calendar: unknown calendar "+calendar)
}

var (
	monthDays    = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
	cumDays      [12]int
	cumDaysLeap  [12]int
	monthDaysLpd = [12]int{31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
)

func init() {
	sum, sumLeap := 0, 0
	for i := 0; i < 12; i++ {
		cumDays[i], cumDaysLeap[i] = sum, sumLeap
		sum += monthDays[i]
		sumLeap += monthDaysLpd[i]
	}
}

func leapGregorian(y int) bool { return y%4 == 0 && (y%100 != 0 || y%400 == 0) }
func leapJulian(y int) bool    { return y%4 == 0 }

func daysInMonth(k calKind, y, m int) int {
	switch k {
	case cal360Day:
		return 30
	case calNoLeap:
		return monthDays[m-1]
	case calAllLeap:
		return monthDaysLpd[m-1]
	case calJulian:
		if m == 2 && leapJulian(y) {
			return 29
		}
		return monthDays[m-1]
	default:
		if m == 2 && leapGregorian(y) {
			return 29
		}
		return monthDays[m-1]
	}
}

func validate(k calKind, d Date) error {
	outOfRange := func() error {
		return errors.E(errors.Invalid, fmt.Sprintf(
			"calendar: date out of range: %04d-%02d-%02d", d.Year, d.Month, d.Day))
	}
	if d.Month < 1 || d.Month > 12 {
		return outOfRange()
	}
	if d.Day < 1 || d.Day > daysInMonth(k, d.Year, d.Month) {
		return outOfRange()
	}
	if k == calStandard && d.Year == 1582 && d.Month == 10 && d.Day > 4 && d.Day < 15 {
		// The ten dropped days of the Gregorian reform.
		return outOfRange()
	}
	if d.Hour < 0 || d.Hour > 23 || d.Minute < 0 || d.Minute > 59 || d.Second < 0 || d.Second >= 61 {
		return outOfRange()
	}
	return nil
}

// gregorianJDN and julianJDN follow Fliegel & Van Flandern.
func gregorianJDN(y, m, d int) int64 {
	a := int64((14 - m) / 12)
	yy := int64(y) + 4800 - a
	mm := int64(m) + 12*a - 3
	return int64(d) + (153*mm+2)/5 + 365*yy + yy/4 - yy/100 + yy/400 - 32045
}

func julianJDN(y, m, d int) int64 {
	a := int64((14 - m) / 12)
	yy := int64(y) + 4800 - a
	mm := int64(m) + 12*a - 3
	return int64(d) + (153*mm+2)/5 + 365*yy + yy/4 - 32083
}

// gregorianReformJDN is the JDN of 1582-10-15, the first Gregorian
// day of the mixed calendar.
const gregorianReformJDN = 2299161

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// dayNumber returns the calendar-specific absolute day number of
// the date. Day numbers from different calendars are not
// comparable.
func dayNumber(k calKind, d Date) int64 {
	switch k {
	case cal360Day:
		return int64(d.Year)*360 + int64(d.Month-1)*30 + int64(d.Day-1)
	case calNoLeap:
		return int64(d.Year)*365 + int64(cumDays[d.Month-1]) + int64(d.Day-1)
	case calAllLeap:
		return int64(d.Year)*366 + int64(cumDaysLeap[d.Month-1]) + int64(d.Day-1)
	case calJulian:
		return julianJDN(d.Year, d.Month, d.Day)
	case calProlepticGregorian:
		return gregorianJDN(d.Year, d.Month, d.Day)
	default:
		jdn := gregorianJDN(d.Year, d.Month, d.Day)
		if jdn < gregorianReformJDN {
			return julianJDN(d.Year, d.Month, d.Day)
		}
		return jdn
	}
}

func fromDayNumber(k calKind, dn int64) (y, m, d int) {
	switch k {
	case cal360Day:
		y = int(floorDiv(dn, 360))
		rem := int(dn - int64(y)*360)
		return y, rem/30 + 1, rem%30 + 1
	case calNoLeap:
		y = int(floorDiv(dn, 365))
		rem := int(dn - int64(y)*365)
		for m = 12; m >= 1; m-- {
			if cumDays[m-1] <= rem {
				return y, m, rem - cumDays[m-1] + 1
			}
		}
	case calAllLeap:
		y = int(floorDiv(dn, 366))
		rem := int(dn - int64(y)*366)
		for m = 12; m >= 1; m-- {
			if cumDaysLeap[m-1] <= rem {
				return y, m, rem - cumDaysLeap[m-1] + 1
			}
		}
	case calJulian:
		return fromJulianJDN(dn)
	case calProlepticGregorian:
		return fromGregorianJDN(dn)
	default:
		if dn < gregorianReformJDN {
			return fromJulianJDN(dn)
		}
		return fromGregorianJDN(dn)
	}
	return y, 1, 1
}

func fromGregorianJDN(jdn int64) (int, int, int) {
	a := jdn + 32044
	b := (4*a + 3) / 146097
	c := a - 146097*b/4
	dd := (4*c + 3) / 1461
	e := c - 1461*dd/4
	mm := (5*e + 2) / 153
	day := int(e - (153*mm+2)/5 + 1)
	month := int(mm + 3 - 12*(mm/10))
	year := int(100*b + dd - 4800 + mm/10)
	return year, month, day
}

func fromJulianJDN(jdn int64) (int, int, int) {
	c := jdn + 32082
	dd := (4*c + 3) / 1461
	e := c - 1461*dd/4
	mm := (5*e + 2) / 153
	day := int(e - (153*mm+2)/5 + 1)
	month := int(mm + 3 - 12*(mm/10))
	year := int(dd - 4800 + mm/10)
	return year, month, day
}

func timeOfDay(d Date) float64 {
	return float64(d.Hour)*3600 + float64(d.Minute)*60 + d.Second
}

// Offset converts a date to an offset in the given units and
// calendar. An invalid date for the calendar is an error.
func Offset(d Date, units, calendar string) (float64, error) {
	k, err := kindOf(calendar)
	if err != nil {
		return 0, err
	}
	if err := validate(k, d); err != nil {
		return 0, err
	}
	scale, origin, err := ParseUnits(units)
	if err != nil {
		return 0, err
	}
	if err := validate(k, origin); err != nil {
		return 0, err
	}
	secs := float64(dayNumber(k, d)-dayNumber(k, origin))*86400 +
		timeOfDay(d) - timeOfDay(origin)
	return secs / scale, nil
}

// Time converts an offset in the given units and calendar back to a
// date.
func Time(offset float64, units, calendar string) (Date, error) {
	k, err := kindOf(calendar)
	if err != nil {
		return Date{}, err
	}
	scale, origin, err := ParseUnits(units)
	if err != nil {
		return Date{}, err
	}
	if err := validate(k, origin); err != nil {
		return Date{}, err
	}
	abs := float64(dayNumber(k, origin))*86400 + timeOfDay(origin) + offset*scale
	day := math.Floor(abs / 86400)
	sod := abs - day*86400
	y, m, d := fromDayNumber(k, int64(day))
	hour := int(sod / 3600)
	sod -= float64(hour) * 3600
	minute := int(sod / 60)
	sod -= float64(minute) * 60
	return Date{Year: y, Month: m, Day: d, Hour: hour, Minute: minute, Second: sod}, nil
}

// Convert re-expresses an offset in fromUnits as an offset in
// toUnits under the same calendar.
func Convert(offset float64, fromUnits, toUnits, calendar string) (float64, error) {
	d, err := Time(offset, fromUnits, calendar)
	if err != nil {
		return 0, err
	}
	return Offset(d, toUnits, calendar)
}
