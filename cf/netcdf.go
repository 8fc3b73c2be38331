// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cf implements the NetCDF CF-conventions reader and writer
// stages on github.com/batchatco/go-native-netcdf.
package cf

import (
	"reflect"
	"sync"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigmesh/metadata"
	"github.com/grailbio/bigmesh/varray"
)

// netcdfMu is the process-wide mutex guarding the NetCDF layer.
// Every handle operation from any goroutine must hold it.
var netcdfMu sync.Mutex

func openGroup(path string) (api.Group, error) {
	netcdfMu.Lock()
	defer netcdfMu.Unlock()
	return netcdf.Open(path)
}

func closeGroup(g api.Group) {
	netcdfMu.Lock()
	defer netcdfMu.Unlock()
	g.Close()
}

func listVariables(g api.Group) []string {
	netcdfMu.Lock()
	defer netcdfMu.Unlock()
	return g.ListVariables()
}

func varGetter(g api.Group, name string) (api.VarGetter, error) {
	netcdfMu.Lock()
	defer netcdfMu.Unlock()
	return g.GetVarGetter(name)
}

func getValues(vg api.VarGetter) (any, error) {
	netcdfMu.Lock()
	defer netcdfMu.Unlock()
	return vg.Values()
}

func getSlice(vg api.VarGetter, begin, end int64) (any, error) {
	netcdfMu.Lock()
	defer netcdfMu.Unlock()
	return vg.GetSlice(begin, end)
}

var kindTypes = map[reflect.Kind]varray.Type{
	reflect.Int8:    varray.Int8,
	reflect.Int16:   varray.Int16,
	reflect.Int32:   varray.Int32,
	reflect.Int64:   varray.Int64,
	reflect.Uint8:   varray.Uint8,
	reflect.Uint16:  varray.Uint16,
	reflect.Uint32:  varray.Uint32,
	reflect.Uint64:  varray.Uint64,
	reflect.Float32: varray.Float32,
	reflect.Float64: varray.Float64,
	reflect.String:  varray.String,
}

// leafType returns the variant array type of the innermost element
// of a nested slice type.
func leafType(t reflect.Type) (varray.Type, error) {
	for t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	vt, ok := kindTypes[t.Kind()]
	if !ok {
		return varray.Invalid, errors.E(errors.NotSupported, "cf: unsupported element kind "+t.Kind().String())
	}
	return vt, nil
}

func setFromReflect(a varray.Array, i int, v reflect.Value) {
	switch v.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		a.SetInt64(i, v.Int())
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		a.SetUint64(i, v.Uint())
	case reflect.Float32, reflect.Float64:
		a.SetFloat64(i, v.Float())
	case reflect.String:
		a.SetString(i, v.String())
	}
}

func reflectTypeOf(v any) reflect.Type { return reflect.TypeOf(v) }

// shapeOf returns the lengths of each slice dimension of v. A
// scalar has no dimensions.
func shapeOf(v any) []int {
	var shape []int
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Slice {
		shape = append(shape, rv.Len())
		if rv.Len() == 0 {
			break
		}
		rv = rv.Index(0)
	}
	return shape
}

// hyperslab extracts the box starts/counts from the nested slices v
// into a new variant array in row-major order. The rank of v must
// equal len(starts).
func hyperslab(v any, starts, counts []int) (varray.Array, error) {
	rv := reflect.ValueOf(v)
	vt, err := leafType(rv.Type())
	if err != nil {
		return nil, err
	}
	n := 1
	for _, c := range counts {
		n *= c
	}
	out := varray.Make(vt, n)
	at := 0
	var walk func(v reflect.Value, dim int) error
	walk = func(v reflect.Value, dim int) error {
		if dim == len(starts) {
			setFromReflect(out, at, v)
			at++
			return nil
		}
		if v.Kind() != reflect.Slice {
			return errors.E(errors.Invalid, "cf: variable rank does not match its dimensions")
		}
		if starts[dim]+counts[dim] > v.Len() {
			return errors.E(errors.Invalid, "cf: hyperslab exceeds the variable's shape")
		}
		for i := starts[dim]; i < starts[dim]+counts[dim]; i++ {
			if err := walk(v.Index(i), dim+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rv, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// wholeArray flattens all of v into a variant array.
func wholeArray(v any) (varray.Array, error) {
	shape := shapeOf(v)
	starts := make([]int, len(shape))
	return hyperslab(v, starts, shape)
}

// attrsToMetadata converts a NetCDF attribute map into metadata,
// preserving key order.
func attrsToMetadata(am api.AttributeMap) metadata.Metadata {
	md := metadata.New()
	if am == nil {
		return md
	}
	for _, key := range am.Keys() {
		v, has := am.Get(key)
		if !has {
			continue
		}
		a, err := attrToArray(v)
		if err != nil {
			continue
		}
		md.Set(key, a)
	}
	return md
}

func attrToArray(v any) (varray.Array, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		return wholeArray(v)
	}
	vt, ok := kindTypes[rv.Kind()]
	if !ok {
		return nil, errors.E(errors.NotSupported, "cf: unsupported attribute kind "+rv.Kind().String())
	}
	a := varray.Make(vt, 1)
	setFromReflect(a, 0, rv)
	return a, nil
}

// nestedValues reshapes a flat variant array into nested Go slices
// of the given shape, the form the NetCDF writer wants.
func nestedValues(a varray.Array, shape []int) any {
	elem := reflectTypes[a.Type()]
	t := elem
	for range shape {
		t = reflect.SliceOf(t)
	}
	at := 0
	var build func(t reflect.Type, dims []int) reflect.Value
	build = func(t reflect.Type, dims []int) reflect.Value {
		if len(dims) == 0 {
			v := reflect.New(t).Elem()
			readToReflect(a, at, v)
			at++
			return v
		}
		out := reflect.MakeSlice(t, dims[0], dims[0])
		for i := 0; i < dims[0]; i++ {
			out.Index(i).Set(build(t.Elem(), dims[1:]))
		}
		return out
	}
	return build(t, shape).Interface()
}

var reflectTypes = map[varray.Type]reflect.Type{
	varray.Int8:    reflect.TypeOf(int8(0)),
	varray.Int16:   reflect.TypeOf(int16(0)),
	varray.Int32:   reflect.TypeOf(int32(0)),
	varray.Int64:   reflect.TypeOf(int64(0)),
	varray.Uint8:   reflect.TypeOf(uint8(0)),
	varray.Uint16:  reflect.TypeOf(uint16(0)),
	varray.Uint32:  reflect.TypeOf(uint32(0)),
	varray.Uint64:  reflect.TypeOf(uint64(0)),
	varray.Float32: reflect.TypeOf(float32(0)),
	varray.Float64: reflect.TypeOf(float64(0)),
	varray.String:  reflect.TypeOf(""),
}

func readToReflect(a varray.Array, i int, v reflect.Value) {
	switch v.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.SetInt(a.Int64(i))
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v.SetUint(a.Uint64(i))
	case reflect.Float32, reflect.Float64:
		v.SetFloat(a.Float64(i))
	case reflect.String:
		v.SetString(a.String(i))
	}
}
