// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package varray implements the variant array: a type-erased, typed
// 1-D array of numeric or string elements with uniform access,
// slicing, and binary serialization. A variant array's element type
// is fixed at construction and carried by a Type tag; operations
// dispatch on the tag and re-enter a generic body.
package varray

import (
	"fmt"
	"strconv"

	"github.com/grailbio/base/must"
)

// Type enumerates the element types a variant array can hold.
type Type int8

const (
	Invalid Type = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	String
)

var typeNames = [...]string{
	Invalid: "invalid",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Float32: "float32",
	Float64: "float64",
	String:  "string",
}

// String returns the lower-case name of the type.
func (t Type) String() string {
	if t < Invalid || int(t) >= len(typeNames) {
		return "invalid"
	}
	return typeNames[t]
}

// IsFloat tells whether the type is a floating point type.
func (t Type) IsFloat() bool { return t == Float32 || t == Float64 }

// IsNumeric tells whether the type is a numeric (non-string) type.
func (t Type) IsNumeric() bool { return t >= Int8 && t <= Float64 }

// Elem constrains the element types storable in a variant array.
type Elem interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64 | ~string
}

// Array is the type-erased interface to a variant array. Random
// access is O(1); the uniform accessors convert between the stored
// element type and the accessor's type.
type Array interface {
	// Type returns the element type tag.
	Type() Type
	// Len returns the element count.
	Len() int
	// Resize grows or shrinks the array to n elements. Grown
	// elements are zero values.
	Resize(n int)
	// NewInstance returns a new empty array of the same element type.
	NewInstance() Array
	// Slice returns a new array holding a copy of elements [i, j).
	Slice(i, j int) Array
	// Clone returns a deep copy.
	Clone() Array
	// AppendArray appends the elements of other, which must have the
	// same element type.
	AppendArray(other Array) error

	Float64(i int) float64
	SetFloat64(i int, v float64)
	Int64(i int) int64
	SetInt64(i int, v int64)
	Uint64(i int) uint64
	SetUint64(i int, v uint64)
	String(i int) string
	SetString(i int, v string)
}

// Of is the concrete variant array storage for element type T.
type Of[T Elem] struct {
	Values []T
}

// New returns a variant array holding the provided values.
func New[T Elem](values ...T) *Of[T] {
	return &Of[T]{Values: values}
}

// Make returns an empty variant array of n zero elements with the
// given element type tag.
func Make(t Type, n int) Array {
	switch t {
	case Int8:
		return &Of[int8]{make([]int8, n)}
	case Int16:
		return &Of[int16]{make([]int16, n)}
	case Int32:
		return &Of[int32]{make([]int32, n)}
	case Int64:
		return &Of[int64]{make([]int64, n)}
	case Uint8:
		return &Of[uint8]{make([]uint8, n)}
	case Uint16:
		return &Of[uint16]{make([]uint16, n)}
	case Uint32:
		return &Of[uint32]{make([]uint32, n)}
	case Uint64:
		return &Of[uint64]{make([]uint64, n)}
	case Float32:
		return &Of[float32]{make([]float32, n)}
	case Float64:
		return &Of[float64]{make([]float64, n)}
	case String:
		return &Of[string]{make([]string, n)}
	}
	must.Never("varray: invalid type ", t)
	return nil
}

// TypeOf returns the type tag for element type T.
func TypeOf[T Elem]() Type {
	var v T
	switch any(v).(type) {
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case float32:
		return Float32
	case float64:
		return Float64
	case string:
		return String
	}
	return Invalid
}

func (a *Of[T]) Type() Type { return TypeOf[T]() }

func (a *Of[T]) Len() int { return len(a.Values) }

func (a *Of[T]) Resize(n int) {
	if n <= cap(a.Values) {
		old := len(a.Values)
		a.Values = a.Values[:n]
		var zero T
		for i := old; i < n; i++ {
			a.Values[i] = zero
		}
		return
	}
	values := make([]T, n)
	copy(values, a.Values)
	a.Values = values
}

func (a *Of[T]) NewInstance() Array { return &Of[T]{} }

func (a *Of[T]) Slice(i, j int) Array {
	values := make([]T, j-i)
	copy(values, a.Values[i:j])
	return &Of[T]{values}
}

func (a *Of[T]) Clone() Array { return a.Slice(0, a.Len()) }

func (a *Of[T]) AppendArray(other Array) error {
	o, ok := other.(*Of[T])
	if !ok {
		return fmt.Errorf("varray: cannot append %s to %s", other.Type(), a.Type())
	}
	a.Values = append(a.Values, o.Values...)
	return nil
}

func (a *Of[T]) Float64(i int) float64 {
	switch v := any(a.Values[i]).(type) {
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func (a *Of[T]) SetFloat64(i int, v float64) {
	a.Values[i] = fromFloat64[T](v)
}

func (a *Of[T]) Int64(i int) int64 {
	if _, ok := any(a.Values[i]).(string); ok {
		n, _ := strconv.ParseInt(any(a.Values[i]).(string), 10, 64)
		return n
	}
	return int64(a.Float64(i))
}

func (a *Of[T]) SetInt64(i int, v int64) {
	if _, ok := any(a.Values[i]).(string); ok {
		a.Values[i] = any(strconv.FormatInt(v, 10)).(T)
		return
	}
	a.SetFloat64(i, float64(v))
}

func (a *Of[T]) Uint64(i int) uint64 {
	return uint64(a.Int64(i))
}

func (a *Of[T]) SetUint64(i int, v uint64) {
	a.SetInt64(i, int64(v))
}

func (a *Of[T]) String(i int) string {
	switch v := any(a.Values[i]).(type) {
	case string:
		return v
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func (a *Of[T]) SetString(i int, v string) {
	switch any(a.Values[i]).(type) {
	case string:
		a.Values[i] = any(v).(T)
	default:
		f, _ := strconv.ParseFloat(v, 64)
		a.SetFloat64(i, f)
	}
}

func fromFloat64[T Elem](v float64) T {
	var zero T
	switch any(zero).(type) {
	case int8:
		return any(int8(v)).(T)
	case int16:
		return any(int16(v)).(T)
	case int32:
		return any(int32(v)).(T)
	case int64:
		return any(int64(v)).(T)
	case uint8:
		return any(uint8(v)).(T)
	case uint16:
		return any(uint16(v)).(T)
	case uint32:
		return any(uint32(v)).(T)
	case uint64:
		return any(uint64(v)).(T)
	case float32:
		return any(float32(v)).(T)
	case float64:
		return any(v).(T)
	case string:
		return any(strconv.FormatFloat(v, 'g', -1, 64)).(T)
	}
	return zero
}

// Float64s returns the array converted to a []float64.
func Float64s(a Array) []float64 {
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = a.Float64(i)
	}
	return out
}

// Uint64s returns the array converted to a []uint64.
func Uint64s(a Array) []uint64 {
	out := make([]uint64, a.Len())
	for i := range out {
		out[i] = a.Uint64(i)
	}
	return out
}

// Strings returns the array converted to a []string.
func Strings(a Array) []string {
	out := make([]string, a.Len())
	for i := range out {
		out[i] = a.String(i)
	}
	return out
}
