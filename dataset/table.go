// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dataset

import (
	"encoding/csv"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigmesh/meshio"
	"github.com/grailbio/bigmesh/metadata"
)

func init() {
	Register("table", func() Dataset { return NewTable() })
}

// A Table is a dataset holding a single collection of equal-length
// columns.
type Table struct {
	md      metadata.Metadata
	Columns *Collection
}

// NewTable returns a new empty table.
func NewTable() *Table {
	return &Table{Columns: NewCollection()}
}

func (t *Table) TypeName() string { return "table" }

func (t *Table) Metadata() metadata.Metadata { return t.md.Clone() }

func (t *Table) SetMetadata(md metadata.Metadata) { t.md = md.Clone() }

// NumRows returns the common column length, or 0 for an empty
// table.
func (t *Table) NumRows() int {
	if t.Columns.Len() == 0 {
		return 0
	}
	return t.Columns.At(0).Len()
}

func (t *Table) ShallowCopy() Dataset {
	return &Table{md: t.md.Clone(), Columns: t.Columns.Clone()}
}

func (t *Table) Encode(b *meshio.Buffer) {
	metadata.Encode(t.md, b)
	t.Columns.encode(b)
}

func (t *Table) Decode(b *meshio.Buffer) error {
	md, err := metadata.Decode(b)
	if err != nil {
		return err
	}
	cols, err := decodeCollection(b)
	if err != nil {
		return err
	}
	t.md, t.Columns = md, cols
	return nil
}

// WriteCSV writes the table as CSV with a header row of column
// names.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns.Keys()); err != nil {
		return err
	}
	nrow := t.NumRows()
	ncol := t.Columns.Len()
	record := make([]string, ncol)
	for i := 0; i < nrow; i++ {
		for j := 0; j < ncol; j++ {
			col := t.Columns.At(j)
			if col.Len() != nrow {
				return errors.E(errors.Invalid, "dataset: ragged table column "+t.Columns.Name(j))
			}
			record[j] = col.String(i)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Concat appends the rows of o to t. Column sets must match.
func (t *Table) Concat(o *Table) error {
	if t.Columns.Len() == 0 {
		t.Columns = o.Columns.Clone()
		return nil
	}
	if t.Columns.Len() != o.Columns.Len() {
		return errors.E(errors.Invalid, "dataset: column count mismatch in table concat")
	}
	for i := 0; i < t.Columns.Len(); i++ {
		name := t.Columns.Name(i)
		other := o.Columns.Get(name)
		if other == nil {
			return errors.E(errors.Invalid, "dataset: missing column "+name+" in table concat")
		}
		grown := t.Columns.At(i).Clone()
		if err := grown.AppendArray(other); err != nil {
			return err
		}
		t.Columns.Set(name, grown)
	}
	return nil
}

var _ Dataset = (*Table)(nil)
