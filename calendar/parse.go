// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package calendar

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
)

var (
	unitsRe = regexp.MustCompile(`^\s*(second|seconds|sec|secs|s|minute|minutes|min|mins|hour|hours|hr|hrs|h|day|days|d)\s+since\s+(.+?)\s*$`)
	dateRe  = regexp.MustCompile(`^(-?\d{1,5})-(\d{1,2})-(\d{1,2})(?:[ tT](\d{1,2}):(\d{1,2})(?::(\d{1,2}(?:\.\d+)?))?)?(?:\s*(?:Z|UTC|[+-]0+:?0*))?$`)
)

var unitScale = map[string]float64{
	"second": 1, "seconds": 1, "sec": 1, "secs": 1, "s": 1,
	"minute": 60, "minutes": 60, "min": 60, "mins": 60,
	"hour": 3600, "hours": 3600, "hr": 3600, "hrs": 3600, "h": 3600,
	"day": 86400, "days": 86400, "d": 86400,
}

// ParseUnits parses a CF time units string such as
// "days since 2000-01-01 00:00:00", returning the period length in
// seconds and the origin date.
func ParseUnits(units string) (float64, Date, error) {
	m := unitsRe.FindStringSubmatch(strings.ToLower(units))
	if m == nil {
		return 0, Date{}, errors.E(errors.Invalid, "calendar: malformed units "+units)
	}
	origin, err := ParseDate(m[2])
	if err != nil {
		return 0, Date{}, errors.E(errors.Invalid, "calendar: malformed units origin in "+units, err)
	}
	return unitScale[m[1]], origin, nil
}

// ParseDate parses "YYYY-MM-DD[ hh:mm[:ss[.fff]]]".
func ParseDate(s string) (Date, error) {
	m := dateRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Date{}, errors.E(errors.Invalid, "calendar: malformed date "+s)
	}
	atoi := func(v string) int {
		n, _ := strconv.Atoi(v)
		return n
	}
	d := Date{Year: atoi(m[1]), Month: atoi(m[2]), Day: atoi(m[3])}
	if m[4] != "" {
		d.Hour, d.Minute = atoi(m[4]), atoi(m[5])
		if m[6] != "" {
			d.Second, _ = strconv.ParseFloat(m[6], 64)
		}
	}
	return d, nil
}

// ParseFilename extracts a date from a filename using a template of
// literal text and the placeholders %Y, %m, %d, %H, %M, %S. The
// template is matched anywhere in the name.
func ParseFilename(name, template string) (Date, error) {
	var pattern strings.Builder
	var order []byte
	for i := 0; i < len(template); i++ {
		if template[i] == '%' && i+1 < len(template) {
			c := template[i+1]
			switch c {
			case 'Y':
				pattern.WriteString(`(\d{1,4})`)
			case 'm', 'd', 'H', 'M', 'S':
				pattern.WriteString(`(\d{1,2})`)
			case '%':
				pattern.WriteString("%")
				i++
				continue
			default:
				return Date{}, errors.E(errors.Invalid,
					fmt.Sprintf("calendar: unsupported template directive %%%c", c))
			}
			order = append(order, c)
			i++
			continue
		}
		pattern.WriteString(regexp.QuoteMeta(template[i : i+1]))
	}
	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return Date{}, err
	}
	m := re.FindStringSubmatch(name)
	if m == nil {
		return Date{}, errors.E(errors.Invalid,
			"calendar: filename "+name+" does not match template "+template)
	}
	d := Date{Month: 1, Day: 1}
	for i, c := range order {
		v, _ := strconv.Atoi(m[i+1])
		switch c {
		case 'Y':
			d.Year = v
		case 'm':
			d.Month = v
		case 'd':
			d.Day = v
		case 'H':
			d.Hour = v
		case 'M':
			d.Minute = v
		case 'S':
			d.Second = float64(v)
		}
	}
	return d, nil
}
