// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmesh"
	"github.com/grailbio/bigmesh/comm"
	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/metadata"
	"github.com/grailbio/bigmesh/varray"
)

// cacheEnvVar disables the on-disk metadata cache when set to a
// false value.
const cacheEnvVar = "BIGMESH_CF_CACHE_METADATA"

// A Reader is the pipeline source for CF-conventions NetCDF
// datasets. It enumerates input files from a literal list or a
// regular expression, discovers variables and coordinates from the
// first file, assembles the time axis across files, and serves
// per-time-step cartesian meshes.
//
// Scanning happens on the highest rank only; the reported metadata
// is broadcast to the other ranks. A content-addressed cache of the
// reported metadata avoids rescanning large file sets.
type Reader struct {
	bigmesh.Base
	comm comm.Comm

	// open is the NetCDF entry point; tests substitute in-memory
	// groups.
	open func(path string) (api.Group, error)

	mu    sync.Mutex
	md    metadata.Metadata
	mdGen int64
	mdOK  bool
}

// NewReader returns a CF reader with default properties.
func NewReader() *Reader {
	cache := true
	if v, ok := os.LookupEnv(cacheEnvVar); ok {
		cache = v != "0" && v != "false" && v != "FALSE"
		log.Printf("cf: %s=%s, metadata cache %s", cacheEnvVar, v, enabled(cache))
	}
	props := bigmesh.NewProperties(
		bigmesh.Spec{Name: "file_names", Kind: bigmesh.KindStrings, Default: []string(nil), Help: "paths of the files to read"},
		bigmesh.Spec{Name: "files_regex", Kind: bigmesh.KindString, Default: "", Help: "a regular expression matching the set of files comprising the dataset"},
		bigmesh.Spec{Name: "metadata_cache_dir", Kind: bigmesh.KindString, Default: "", Help: "a directory where metadata caches can be stored"},
		bigmesh.Spec{Name: "x_axis_variable", Kind: bigmesh.KindString, Default: "lon", Help: "name of the variable holding x axis coordinates"},
		bigmesh.Spec{Name: "y_axis_variable", Kind: bigmesh.KindString, Default: "lat", Help: "name of the variable holding y axis coordinates"},
		bigmesh.Spec{Name: "z_axis_variable", Kind: bigmesh.KindString, Default: "", Help: "name of the variable holding z axis coordinates"},
		bigmesh.Spec{Name: "t_axis_variable", Kind: bigmesh.KindString, Default: "time", Help: "name of the variable holding t axis coordinates"},
		bigmesh.Spec{Name: "t_calendar", Kind: bigmesh.KindString, Default: "", Help: "override for the time calendar"},
		bigmesh.Spec{Name: "t_units", Kind: bigmesh.KindString, Default: "", Help: "override for the time units"},
		bigmesh.Spec{Name: "filename_time_template", Kind: bigmesh.KindString, Default: "", Help: "a date template decoding time from the input file names"},
		bigmesh.Spec{Name: "t_values", Kind: bigmesh.KindFloats, Default: []float64(nil), Help: "user-provided time values, one per file"},
		bigmesh.Spec{Name: "periodic_in_x", Kind: bigmesh.KindBool, Default: false, Help: "the dataset has a periodic boundary in the x direction"},
		bigmesh.Spec{Name: "periodic_in_y", Kind: bigmesh.KindBool, Default: false, Help: "the dataset has a periodic boundary in the y direction"},
		bigmesh.Spec{Name: "periodic_in_z", Kind: bigmesh.KindBool, Default: false, Help: "the dataset has a periodic boundary in the z direction"},
		bigmesh.Spec{Name: "thread_pool_size", Kind: bigmesh.KindInt, Default: -1, Help: "number of I/O threads, -1 for hardware concurrency"},
		bigmesh.Spec{Name: "cache_metadata", Kind: bigmesh.KindBool, Default: cache, Help: "whether to use the on-disk metadata cache"},
	)
	r := &Reader{comm: comm.Self(), open: openGroup}
	r.Base = bigmesh.NewBase("cf_reader", 0, 1, props)
	return r
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// SetComm sets the communicator metadata is scanned and broadcast
// over.
func (r *Reader) SetComm(c comm.Comm) { r.comm = c }

// enumerate resolves the configured inputs to a root path and an
// ordered file list.
func (r *Reader) enumerate() (root string, files []string, err error) {
	props := r.Properties()
	if names := props.Strings("file_names"); len(names) > 0 {
		root = filepath.Dir(names[0])
		for _, name := range names {
			files = append(files, filepath.Base(name))
		}
		return root, files, nil
	}
	pattern := props.String("files_regex")
	if pattern == "" {
		return "", nil, errors.E(errors.Invalid, "cf: neither file_names nor files_regex is set")
	}
	root = filepath.Dir(pattern)
	re, err := regexp.Compile(filepath.Base(pattern))
	if err != nil {
		return "", nil, errors.E(errors.Invalid, "cf: invalid files_regex", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", nil, errors.E(errors.NotExist, "cf: cannot list "+root, err)
	}
	for _, e := range entries {
		if !e.IsDir() && re.MatchString(e.Name()) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return "", nil, errors.E(errors.NotExist, "cf: failed to locate any files matching "+pattern)
	}
	return root, files, nil
}

func (r *Reader) ReportMetadata(ctx context.Context, port int, inputs []metadata.Metadata) (metadata.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mdOK && r.mdGen == r.Properties().Generation() {
		return r.md.Clone(), nil
	}

	root := r.comm.Size() - 1
	var payload []byte
	if r.comm.Rank() == root {
		md, err := r.scanOrLoad(ctx)
		if err != nil {
			if r.comm.Size() > 1 {
				// Unblock the other ranks with an empty payload.
				r.comm.Broadcast(ctx, root, nil)
			}
			return metadata.Metadata{}, err
		}
		payload = metadata.Marshal(md)
		if _, err := r.comm.Broadcast(ctx, root, payload); err != nil {
			return metadata.Metadata{}, err
		}
		r.md, r.mdGen, r.mdOK = md, r.Properties().Generation(), true
		return md.Clone(), nil
	}
	payload, err := r.comm.Broadcast(ctx, root, nil)
	if err != nil {
		return metadata.Metadata{}, err
	}
	if len(payload) == 0 {
		return metadata.Metadata{}, errors.E(errors.Unavailable, "cf: the scanning rank failed to report metadata")
	}
	md, err := metadata.Unmarshal(payload)
	if err != nil {
		return metadata.Metadata{}, err
	}
	r.md, r.mdGen, r.mdOK = md, r.Properties().Generation(), true
	return md.Clone(), nil
}

// scanOrLoad consults the metadata cache before scanning the
// dataset; a scan writes the cache back.
func (r *Reader) scanOrLoad(ctx context.Context) (metadata.Metadata, error) {
	root, files, err := r.enumerate()
	if err != nil {
		log.Error.Printf("cf: %v", err)
		return metadata.Metadata{}, err
	}
	caching := r.Properties().Bool("cache_metadata")
	var key string
	if caching {
		key = r.cacheKey(root, files)
		if md, ok := r.loadCache(key, root); ok {
			return md, nil
		}
	}
	md, err := r.scan(ctx, root, files)
	if err != nil {
		return metadata.Metadata{}, err
	}
	if caching {
		r.storeCache(key, root, md)
	}
	return md, nil
}

// scan opens the first file to discover variables, attributes, and
// spatial coordinates, then builds the time axis across all files.
func (r *Reader) scan(ctx context.Context, root string, files []string) (metadata.Metadata, error) {
	props := r.Properties()
	g, err := r.open(filepath.Join(root, files[0]))
	if err != nil {
		return metadata.Metadata{}, errors.E(errors.NotExist, "cf: failed to open "+files[0], err)
	}
	defer closeGroup(g)

	atrs := metadata.New()
	var vars []string
	for _, name := range listVariables(g) {
		vg, err := varGetter(g, name)
		if err != nil {
			return metadata.Metadata{}, errors.E(errors.Invalid,
				"cf: failed to read attributes of variable "+name, err)
		}
		atts := attrsToMetadata(vg.Attributes())
		dimNames := vg.Dimensions()
		dims, vt, err := variableShape(vg, len(dimNames))
		if err != nil {
			return metadata.Metadata{}, errors.E(errors.Invalid, "cf: variable "+name, err)
		}
		atts.SetStrings("cf_dim_names", dimNames...)
		atts.SetUint64s("cf_dims", dims...)
		atts.SetInt64("cf_type", int64(vt))
		atrs.SetMetadata(name, atts)
		vars = append(vars, name)
	}

	var wholeExtent [6]uint64
	var bounds [6]float64
	readAxis := func(name string, d int) (varray.Array, error) {
		if name == "" {
			return varray.New(0.0), nil
		}
		vg, err := varGetter(g, name)
		if err != nil {
			return nil, errors.E(errors.NotExist, "cf: failed to read the "+name+" axis", err)
		}
		v, err := getValues(vg)
		if err != nil {
			return nil, errors.E(errors.Invalid, "cf: failed to read the "+name+" axis", err)
		}
		a, err := wholeArray(v)
		if err != nil {
			return nil, err
		}
		if a.Len() == 0 {
			return nil, errors.E(errors.Invalid, "cf: the "+name+" axis is empty")
		}
		wholeExtent[2*d+1] = uint64(a.Len() - 1)
		bounds[2*d] = a.Float64(0)
		bounds[2*d+1] = a.Float64(a.Len() - 1)
		return a, nil
	}
	x, err := readAxis(props.String("x_axis_variable"), 0)
	if err != nil {
		return metadata.Metadata{}, err
	}
	y, err := readAxis(props.String("y_axis_variable"), 1)
	if err != nil {
		return metadata.Metadata{}, err
	}
	z, err := readAxis(props.String("z_axis_variable"), 2)
	if err != nil {
		return metadata.Metadata{}, err
	}

	tAxis, tVar, stepCount, err := r.timeAxis(ctx, root, files, atrs)
	if err != nil {
		return metadata.Metadata{}, err
	}

	coords := metadata.New()
	coords.SetString("x_variable", props.String("x_axis_variable"))
	coords.SetString("y_variable", orDefault(props.String("y_axis_variable"), "y"))
	coords.SetString("z_variable", orDefault(props.String("z_axis_variable"), "z"))
	coords.SetString("t_variable", tVar)
	coords.Set("x", x)
	coords.Set("y", y)
	coords.Set("z", z)
	coords.Set("t", tAxis)

	md := metadata.New()
	md.SetStrings("variables", vars...)
	md.SetMetadata(bigmesh.KeyAttributes, atrs)
	md.SetMetadata(bigmesh.KeyCoordinates, coords)
	md.SetUint64s(bigmesh.KeyWholeExtent, wholeExtent[:]...)
	md.SetFloat64s("bounds", bounds[:]...)
	md.SetStrings("files", files...)
	md.SetString("root", root)
	md.SetUint64s("step_count", stepCount...)
	md.SetInt64("number_of_time_steps", int64(tAxis.Len()))
	md.SetString(bigmesh.KeyIndexInitializer, "number_of_time_steps")
	md.SetString(bigmesh.KeyIndexRequest, "time_step")
	return md, nil
}

// variableShape derives a variable's per-dimension lengths and
// element type. The trailing dimensions come from the shape of a
// single leading slice; the leading length is the total length over
// the trailing volume.
func variableShape(vg api.VarGetter, rank int) ([]uint64, varray.Type, error) {
	if rank == 0 {
		v, err := getValues(vg)
		if err != nil {
			return nil, varray.Invalid, err
		}
		vt, err := leafType(reflectTypeOf(v))
		return nil, vt, err
	}
	head, err := getSlice(vg, 0, 1)
	if err != nil {
		return nil, varray.Invalid, err
	}
	vt, err := leafType(reflectTypeOf(head))
	if err != nil {
		return nil, varray.Invalid, err
	}
	shape := shapeOf(head)
	if len(shape) != rank {
		return nil, varray.Invalid, errors.E(errors.Invalid, "cf: variable rank does not match its dimensions")
	}
	trailing := uint64(1)
	dims := make([]uint64, rank)
	for i := 1; i < rank; i++ {
		dims[i] = uint64(shape[i])
		trailing *= dims[i]
	}
	if trailing == 0 {
		return nil, varray.Invalid, errors.E(errors.Invalid, "cf: variable has a zero-length dimension")
	}
	dims[0] = uint64(vg.Len()) / trailing
	return dims, vt, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// TranslateRequest is trivial for a source: there is nothing
// upstream.
func (r *Reader) TranslateRequest(ctx context.Context, port int, inputs []metadata.Metadata, req bigmesh.Request) ([]bigmesh.Request, error) {
	return nil, nil
}

func (r *Reader) Execute(ctx context.Context, port int, inputs []dataset.Dataset, req bigmesh.Request) (dataset.Dataset, error) {
	r.mu.Lock()
	md := r.md.Clone()
	ok := r.mdOK
	r.mu.Unlock()
	if !ok {
		return nil, errors.E(errors.Invalid, "cf: execute called before report metadata")
	}
	props := r.Properties()

	coords, err := md.Child(bigmesh.KeyCoordinates)
	if err != nil {
		return nil, errors.E(errors.Invalid, "cf: metadata is missing coordinates", err)
	}
	x, errX := coords.Array("x")
	y, errY := coords.Array("y")
	z, errZ := coords.Array("z")
	t, errT := coords.Array("t")
	if errX != nil || errY != nil || errZ != nil || errT != nil {
		return nil, errors.E(errors.Invalid, "cf: metadata is missing coordinate arrays")
	}

	step, err := req.Int64("time_step")
	if err != nil {
		return nil, errors.E(errors.Invalid, "cf: request is missing the time_step key", err)
	}
	if step < 0 || step >= int64(t.Len()) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf(
			"cf: invalid time step %d requested from a dataset with %d steps", step, t.Len()))
	}

	whole, err := md.Uint64s(bigmesh.KeyWholeExtent)
	if err != nil {
		return nil, errors.E(errors.Invalid, "cf: metadata is missing whole_extent", err)
	}
	var wholeExt dataset.Extent
	copy(wholeExt[:], whole)

	var ext dataset.Extent
	var bounds dataset.Bounds
	if b, err := req.Float64s(bigmesh.KeyBounds); err == nil && len(b) == 6 {
		copy(bounds[:], b)
		if ext, err = dataset.BoundsToExtent(bounds, x, y, z); err != nil {
			log.Error.Printf("cf: invalid bounds requested: %v", err)
			return nil, err
		}
	} else if e, err := req.Uint64s(bigmesh.KeyExtent); err == nil && len(e) == 6 {
		copy(ext[:], e)
		bounds = dataset.ExtentToBounds(ext, x, y, z)
	} else {
		ext = wholeExt
		bounds = dataset.ExtentToBounds(ext, x, y, z)
	}

	// Locate the file contributing this step.
	stepCount, err := md.Uint64s("step_count")
	if err != nil {
		return nil, errors.E(errors.Invalid, "cf: metadata is missing step_count", err)
	}
	fileIdx, offs := 0, uint64(step)
	for fileIdx < len(stepCount)-1 && offs >= stepCount[fileIdx] {
		offs -= stepCount[fileIdx]
		fileIdx++
	}
	files, err := md.Strings("files")
	if err != nil {
		return nil, err
	}
	rootPath, err := md.String("root")
	if err != nil {
		return nil, err
	}

	mesh := dataset.NewCartesianMesh()
	mesh.XVariable, _ = coords.String("x_variable")
	mesh.YVariable, _ = coords.String("y_variable")
	mesh.ZVariable, _ = coords.String("z_variable")
	mesh.X = x.Slice(int(ext[0]), int(ext[1])+1)
	mesh.Y = y.Slice(int(ext[2]), int(ext[3])+1)
	mesh.Z = z.Slice(int(ext[4]), int(ext[5])+1)
	mesh.Time = t.Float64(int(step))
	mesh.TimeStep = uint64(step)
	mesh.Extent = ext
	mesh.WholeExtent = wholeExt
	mesh.Bounds = bounds
	mesh.PeriodicX = props.Bool("periodic_in_x")
	mesh.PeriodicY = props.Bool("periodic_in_y")
	mesh.PeriodicZ = props.Bool("periodic_in_z")

	atrs, err := md.Child(bigmesh.KeyAttributes)
	if err != nil {
		return nil, errors.E(errors.Invalid, "cf: metadata is missing attributes", err)
	}
	tVar, _ := coords.String("t_variable")
	if tatts, err := atrs.Child(tVar); err == nil {
		mesh.Calendar, _ = tatts.String("calendar")
		mesh.TimeUnits, _ = tatts.String("units")
	}

	arrays := bigmesh.RequestedArrays(req)
	var g api.Group
	if len(arrays) > 0 {
		if g, err = r.open(filepath.Join(rootPath, files[fileIdx])); err != nil {
			return nil, errors.E(errors.NotExist, fmt.Sprintf(
				"cf: time_step=%d failed to open %s", step, files[fileIdx]), err)
		}
		defer closeGroup(g)
	}

	tAxisVar := props.String("t_axis_variable")
	meshDims := r.meshDimNames()
	for _, name := range arrays {
		atts, err := atrs.Child(name)
		if err != nil {
			return nil, errors.E(errors.NotExist, "cf: requested variable "+name+" is absent", err)
		}
		dimNames, err := atts.Strings("cf_dim_names")
		if err != nil {
			return nil, errors.E(errors.Invalid, "cf: metadata issue, can't read "+name, err)
		}
		a, meshVar, err := r.readVariable(g, name, dimNames, tAxisVar, meshDims, int(offs), ext)
		if err != nil {
			log.Error.Printf("cf: time_step=%d failed to read variable %s: %v", step, name, err)
			return nil, err
		}
		if meshVar {
			mesh.Points.Set(name, a)
		} else {
			mesh.Info.Set(name, a)
		}
	}

	outMD := metadata.New()
	outMD.SetString(bigmesh.KeyIndexRequest, "time_step")
	outMD.SetInt64("time_step", step)
	outAtrs := metadata.New()
	for _, name := range arrays {
		if atts, err := atrs.Child(name); err == nil {
			outAtrs.SetMetadata(name, atts)
		}
	}
	for _, axis := range []string{props.String("x_axis_variable"), props.String("y_axis_variable"), props.String("z_axis_variable"), tVar} {
		if axis == "" {
			continue
		}
		if atts, err := atrs.Child(axis); err == nil {
			outAtrs.SetMetadata(axis, atts)
		}
	}
	outMD.SetMetadata(bigmesh.KeyAttributes, outAtrs)
	outMD.SetMetadata(bigmesh.KeyCoordinates, coords)
	mesh.SetMetadata(outMD)
	return mesh, nil
}

// meshDimNames returns the dimension tuple of a mesh variable,
// slowest first: time, then z, y, x as configured.
func (r *Reader) meshDimNames() []string {
	props := r.Properties()
	var names []string
	for _, name := range []string{
		props.String("t_axis_variable"),
		props.String("z_axis_variable"),
		props.String("y_axis_variable"),
		props.String("x_axis_variable"),
	} {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// readVariable reads one requested array: mesh variables as a
// hyperslab of the extent, information variables whole with the
// time dimension sliced when it leads.
func (r *Reader) readVariable(g api.Group, name string, dimNames []string, tAxisVar string, meshDims []string, offs int, ext dataset.Extent) (varray.Array, bool, error) {
	if g == nil {
		return nil, false, errors.E(errors.Invalid, "cf: no file handle for variable "+name)
	}
	vg, err := varGetter(g, name)
	if err != nil {
		return nil, false, err
	}

	meshVar := len(dimNames) == len(meshDims)
	if meshVar {
		for i := range dimNames {
			if dimNames[i] != meshDims[i] {
				meshVar = false
				break
			}
		}
	}

	if meshVar {
		hasTime := tAxisVar != "" && len(dimNames) > 0 && dimNames[0] == tAxisVar
		spatial := dimNames
		var v any
		if hasTime {
			if v, err = getSlice(vg, int64(offs), int64(offs)+1); err != nil {
				return nil, false, err
			}
			spatial = dimNames[1:]
		} else if v, err = getValues(vg); err != nil {
			return nil, false, err
		}
		starts := make([]int, 0, len(dimNames))
		counts := make([]int, 0, len(dimNames))
		if hasTime {
			starts = append(starts, 0)
			counts = append(counts, 1)
		}
		// Spatial dimensions run slowest to fastest: z, y, x.
		for _, dim := range spatial {
			switch dim {
			case r.Properties().String("z_axis_variable"):
				starts = append(starts, int(ext[4]))
				counts = append(counts, int(ext.Span(2)))
			case r.Properties().String("y_axis_variable"):
				starts = append(starts, int(ext[2]))
				counts = append(counts, int(ext.Span(1)))
			case r.Properties().String("x_axis_variable"):
				starts = append(starts, int(ext[0]))
				counts = append(counts, int(ext.Span(0)))
			}
		}
		a, err := hyperslab(v, starts, counts)
		if err != nil {
			return nil, false, err
		}
		return a, true, nil
	}

	// Information variable: read whole, slicing a leading time
	// dimension to the requested step.
	if tAxisVar != "" && len(dimNames) > 0 && dimNames[0] == tAxisVar {
		v, err := getSlice(vg, int64(offs), int64(offs)+1)
		if err != nil {
			return nil, false, err
		}
		a, err := wholeArray(v)
		return a, false, err
	}
	v, err := getValues(vg)
	if err != nil {
		return nil, false, err
	}
	a, err := wholeArray(v)
	return a, false, err
}

var _ bigmesh.Algorithm = (*Reader)(nil)
