// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package meshio

import (
	"hash/crc32"
	"os"

	"github.com/grailbio/base/errors"
)

// Stream files carry a magic string, a format version, the payload,
// and a trailing CRC32 of the payload. They are used for metadata
// cache files and dataset dumps.
const (
	fileMagic   = "bigmesh1"
	fileVersion = 1
)

// WriteFile writes a stream file holding the provided payload. When
// excl is set the file is created with create-exclusive semantics so
// that concurrent writers of the same path do not interleave.
func WriteFile(path string, mode os.FileMode, excl bool, payload []byte) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if excl {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, mode)
	if err != nil {
		return err
	}
	var b Buffer
	b.WriteString(fileMagic)
	b.WriteUint32(fileVersion)
	b.WriteBytes(payload)
	b.WriteUint32(crc32.ChecksumIEEE(payload))
	if _, err = f.Write(b.Bytes()); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// ReadFile reads a stream file written by WriteFile, verifying the
// magic, version, and payload checksum.
func ReadFile(path string) ([]byte, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b := NewBuffer(p)
	magic, err := b.ReadString()
	if err != nil || magic != fileMagic {
		return nil, errors.E(errors.Invalid, "meshio: bad magic in", path)
	}
	version, err := b.ReadUint32()
	if err != nil {
		return nil, err
	}
	if version != fileVersion {
		return nil, errors.E(errors.Invalid, "meshio: unsupported stream version in", path)
	}
	payload, err := b.ReadBytes()
	if err != nil {
		return nil, err
	}
	sum, err := b.ReadUint32()
	if err != nil {
		return nil, err
	}
	if sum != crc32.ChecksumIEEE(payload) {
		return nil, errors.E(errors.Integrity, "meshio: checksum mismatch in", path)
	}
	// The payload aliases the file's bytes, which are not shared.
	return payload, nil
}
