// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package meshio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil/assert"
)

func TestBufferRoundTrip(t *testing.T) {
	var b Buffer
	b.WriteUint8(1)
	b.WriteUint16(2)
	b.WriteUint32(3)
	b.WriteUint64(4)
	b.WriteInt64(-5)
	b.WriteFloat32(6.5)
	b.WriteFloat64(-7.25)
	b.WriteBool(true)
	b.WriteString("hello")
	b.WriteBytes([]byte{9, 9})

	if v, err := b.ReadUint8(); err != nil || v != 1 {
		t.Errorf("got %v, %v", v, err)
	}
	if v, err := b.ReadUint16(); err != nil || v != 2 {
		t.Errorf("got %v, %v", v, err)
	}
	if v, err := b.ReadUint32(); err != nil || v != 3 {
		t.Errorf("got %v, %v", v, err)
	}
	if v, err := b.ReadUint64(); err != nil || v != 4 {
		t.Errorf("got %v, %v", v, err)
	}
	if v, err := b.ReadInt64(); err != nil || v != -5 {
		t.Errorf("got %v, %v", v, err)
	}
	if v, err := b.ReadFloat32(); err != nil || v != 6.5 {
		t.Errorf("got %v, %v", v, err)
	}
	if v, err := b.ReadFloat64(); err != nil || v != -7.25 {
		t.Errorf("got %v, %v", v, err)
	}
	if v, err := b.ReadBool(); err != nil || !v {
		t.Errorf("got %v, %v", v, err)
	}
	if v, err := b.ReadString(); err != nil || v != "hello" {
		t.Errorf("got %q, %v", v, err)
	}
	if v, err := b.ReadBytes(); err != nil || len(v) != 2 {
		t.Errorf("got %v, %v", v, err)
	}
	if b.Len() != 0 {
		t.Errorf("buffer not drained: %d bytes left", b.Len())
	}
	if _, err := b.ReadUint8(); err != ErrShortBuffer {
		t.Errorf("got %v, want ErrShortBuffer", err)
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.tmd")
	payload := []byte("the payload")
	assert.NoError(t, WriteFile(path, 0o664, false, payload))
	got, err := ReadFile(path)
	assert.NoError(t, err)
	assert.EQ(t, string(got), string(payload))
}

func TestFileExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "excl.tmd")
	if err := WriteFile(path, 0o664, true, []byte("one")); err != nil {
		t.Fatal(err)
	}
	err := WriteFile(path, 0o664, true, []byte("two"))
	if !os.IsExist(err) {
		t.Errorf("got %v, want an exists error", err)
	}
}

func TestFileCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.tmd")
	if err := WriteFile(path, 0o664, false, []byte("precious data")); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-6] ^= 0xff
	assert.NoError(t, os.WriteFile(path, raw, 0o664))
	_, err = ReadFile(path)
	assert.NotNil(t, err)
}
