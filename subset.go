// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigmesh

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmesh/dataset"
	"github.com/grailbio/bigmesh/metadata"
)

// MeshSubset restricts the pipeline to a coordinate-bounds subset
// of the mesh. The bounds are resolved to an extent against the
// reported coordinates; the extent is injected into every upstream
// request and becomes the reported whole extent downstream.
type MeshSubset struct {
	Base
}

// NewMeshSubset returns a subset stage with default properties.
func NewMeshSubset() *MeshSubset {
	props := NewProperties(
		Spec{"bounds", KindFloats, []float64(nil), "coordinate bounds x0,x1,y0,y1,z0,z1 of the subset"},
	)
	s := &MeshSubset{}
	s.Base = NewBase("mesh_subset", 1, 1, props)
	return s
}

func (s *MeshSubset) extent(inputs []metadata.Metadata) (dataset.Extent, error) {
	b := s.Properties().Floats("bounds")
	if len(b) != 6 {
		return dataset.Extent{}, errors.E(errors.Invalid, "mesh_subset: bounds must hold 6 values")
	}
	coords, err := inputs[0].Child(KeyCoordinates)
	if err != nil {
		return dataset.Extent{}, errors.E(errors.Invalid, "mesh_subset: metadata has invalid coordinates", err)
	}
	x, errX := coords.Array("x")
	y, errY := coords.Array("y")
	z, errZ := coords.Array("z")
	if errX != nil || errY != nil || errZ != nil {
		return dataset.Extent{}, errors.E(errors.Invalid, "mesh_subset: metadata has invalid coordinates")
	}
	var bounds dataset.Bounds
	copy(bounds[:], b)
	ext, err := dataset.BoundsToExtent(bounds, x, y, z)
	if err != nil {
		log.Error.Printf("mesh_subset: requested bounds %v do not fall in the valid range: %v", b, err)
		return dataset.Extent{}, err
	}
	return ext, nil
}

func (s *MeshSubset) ReportMetadata(ctx context.Context, port int, inputs []metadata.Metadata) (metadata.Metadata, error) {
	ext, err := s.extent(inputs)
	if err != nil {
		return metadata.Metadata{}, err
	}
	out := inputs[0].Clone()
	out.SetUint64s(KeyWholeExtent, ext[:]...)
	return out, nil
}

func (s *MeshSubset) TranslateRequest(ctx context.Context, port int, inputs []metadata.Metadata, req Request) ([]Request, error) {
	ext, err := s.extent(inputs)
	if err != nil {
		return nil, err
	}
	up := req.Clone()
	up.Del(KeyBounds)
	up.SetUint64s(KeyExtent, ext[:]...)
	return []Request{up}, nil
}

func (s *MeshSubset) Execute(ctx context.Context, port int, inputs []dataset.Dataset, req Request) (dataset.Dataset, error) {
	mesh, ok := inputs[0].(*dataset.CartesianMesh)
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("mesh_subset: invalid input dataset %T", inputs[0]))
	}
	return mesh.ShallowCopy(), nil
}

var _ Algorithm = (*MeshSubset)(nil)
