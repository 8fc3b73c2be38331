// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigmesh

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigmesh/meshio"
)

// Kind enumerates property value types.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindString
	KindStrings
	KindFloats
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindStrings:
		return "strings"
	case KindFloats:
		return "floats"
	}
	return "invalid"
}

// A Spec describes one property: its name, type, default, and
// help text. Applications build command-line parsers from stage
// spec tables.
type Spec struct {
	Name    string
	Kind    Kind
	Default any
	Help    string
}

// Properties is a stage's bag of named typed configuration values.
// Mutating any property bumps the bag's generation, which the
// driver uses to invalidate cached reported metadata transitively
// downstream.
type Properties struct {
	specs  []Spec
	index  map[string]int
	values map[string]any
	gen    int64
}

// NewProperties returns a bag holding the given specs, each set to
// its default.
func NewProperties(specs ...Spec) *Properties {
	p := &Properties{
		specs:  specs,
		index:  make(map[string]int, len(specs)),
		values: make(map[string]any, len(specs)),
	}
	for i, s := range specs {
		_, dup := p.index[s.Name]
		must.True(!dup, "bigmesh: duplicate property ", s.Name)
		p.index[s.Name] = i
		p.values[s.Name] = s.Default
	}
	return p
}

// Specs returns the property table in declaration order.
func (p *Properties) Specs() []Spec { return p.specs }

// Generation returns a counter incremented by every mutation.
func (p *Properties) Generation() int64 { return atomic.LoadInt64(&p.gen) }

func (p *Properties) spec(name string) Spec {
	i, ok := p.index[name]
	must.True(ok, "bigmesh: unknown property ", name)
	return p.specs[i]
}

// Set assigns a property value. The value's type must match the
// property's kind.
func (p *Properties) Set(name string, v any) error {
	i, ok := p.index[name]
	if !ok {
		return errors.E(errors.Invalid, "bigmesh: unknown property "+name)
	}
	s := p.specs[i]
	okType := false
	switch s.Kind {
	case KindBool:
		_, okType = v.(bool)
	case KindInt:
		_, okType = v.(int)
	case KindFloat:
		_, okType = v.(float64)
	case KindString:
		_, okType = v.(string)
	case KindStrings:
		_, okType = v.([]string)
	case KindFloats:
		_, okType = v.([]float64)
	}
	if !okType {
		return errors.E(errors.Invalid, fmt.Sprintf(
			"bigmesh: property %s wants %s, got %T", name, s.Kind, v))
	}
	p.values[name] = v
	atomic.AddInt64(&p.gen, 1)
	return nil
}

// SetFromString parses and assigns a property value from its flag
// representation. List kinds split on commas.
func (p *Properties) SetFromString(name, s string) error {
	i, ok := p.index[name]
	if !ok {
		return errors.E(errors.Invalid, "bigmesh: unknown property "+name)
	}
	switch p.specs[i].Kind {
	case KindBool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return errors.E(errors.Invalid, "bigmesh: property "+name, err)
		}
		return p.Set(name, v)
	case KindInt:
		v, err := strconv.Atoi(s)
		if err != nil {
			return errors.E(errors.Invalid, "bigmesh: property "+name, err)
		}
		return p.Set(name, v)
	case KindFloat:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return errors.E(errors.Invalid, "bigmesh: property "+name, err)
		}
		return p.Set(name, v)
	case KindString:
		return p.Set(name, s)
	case KindStrings:
		if s == "" {
			return p.Set(name, []string(nil))
		}
		return p.Set(name, strings.Split(s, ","))
	case KindFloats:
		if s == "" {
			return p.Set(name, []float64(nil))
		}
		parts := strings.Split(s, ",")
		vals := make([]float64, len(parts))
		for j, part := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return errors.E(errors.Invalid, "bigmesh: property "+name, err)
			}
			vals[j] = v
		}
		return p.Set(name, vals)
	}
	return errors.E(errors.Invalid, "bigmesh: property "+name+" has an invalid kind")
}

func (p *Properties) Bool(name string) bool {
	p.spec(name)
	v, _ := p.values[name].(bool)
	return v
}

func (p *Properties) Int(name string) int {
	p.spec(name)
	v, _ := p.values[name].(int)
	return v
}

func (p *Properties) Float(name string) float64 {
	p.spec(name)
	v, _ := p.values[name].(float64)
	return v
}

func (p *Properties) String(name string) string {
	p.spec(name)
	v, _ := p.values[name].(string)
	return v
}

func (p *Properties) Strings(name string) []string {
	p.spec(name)
	v, _ := p.values[name].([]string)
	return v
}

func (p *Properties) Floats(name string) []float64 {
	p.spec(name)
	v, _ := p.values[name].([]float64)
	return v
}

// Encode appends every property name and value to the stream in
// declaration order. The encoding feeds content hashes, so it must
// be deterministic.
func (p *Properties) Encode(b *meshio.Buffer) {
	b.WriteUint64(uint64(len(p.specs)))
	for _, s := range p.specs {
		b.WriteString(s.Name)
		switch s.Kind {
		case KindBool:
			b.WriteBool(p.Bool(s.Name))
		case KindInt:
			b.WriteInt64(int64(p.Int(s.Name)))
		case KindFloat:
			b.WriteFloat64(p.Float(s.Name))
		case KindString:
			b.WriteString(p.String(s.Name))
		case KindStrings:
			vals := p.Strings(s.Name)
			b.WriteUint64(uint64(len(vals)))
			for _, v := range vals {
				b.WriteString(v)
			}
		case KindFloats:
			vals := p.Floats(s.Name)
			b.WriteUint64(uint64(len(vals)))
			for _, v := range vals {
				b.WriteFloat64(v)
			}
		}
	}
}
