// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cf

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmesh"
	"github.com/grailbio/bigmesh/meshio"
	"github.com/grailbio/bigmesh/metadata"
)

// The metadata cache stores the reported metadata of a scanned
// dataset under a content hash of everything that could change it:
// the framework version, the data path, the ordered file list, and
// every reader property. Scanning the time dimension of a large
// file set is costly because CF keeps time unlimited and therefore
// non-contiguous, so on parallel file systems the cache pays for
// itself on the second run.

const cacheExt = ".tmd"

// cacheKey returns the 40-hex content hash naming the cache file.
func (r *Reader) cacheKey(root string, files []string) string {
	var b meshio.Buffer
	b.WriteString(bigmesh.Version)
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	b.WriteString(abs)
	b.WriteUint64(uint64(len(files)))
	for _, f := range files {
		b.WriteString(f)
	}
	r.Properties().Encode(&b)
	sum := sha1.Sum(b.Bytes())
	return hex.EncodeToString(sum[:])
}

// cachePaths returns the cache search directories in priority
// order: the user-provided directory, the data root, the working
// directory, then HOME.
func (r *Reader) cachePaths(root string) []string {
	paths := []string{}
	if dir := r.Properties().String("metadata_cache_dir"); dir != "" {
		paths = append(paths, dir)
	}
	paths = append(paths, root, ".")
	if home := os.Getenv("HOME"); home != "" {
		paths = append(paths, home)
	}
	return paths
}

// loadCache returns the cached reported metadata for key, if any
// readable copy exists on the search path. A damaged cache file is
// recoverable: the reader falls through to the next path and
// finally to a scan.
func (r *Reader) loadCache(key, root string) (metadata.Metadata, bool) {
	for _, dir := range r.cachePaths(root) {
		path := filepath.Join(dir, "."+key+cacheExt)
		payload, err := meshio.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Printf("cf: failed to read metadata cache %q: %v", path, err)
			}
			continue
		}
		md, err := metadata.Unmarshal(payload)
		if err != nil {
			log.Printf("cf: failed to decode metadata cache %q: %v", path, err)
			continue
		}
		log.Printf("cf: found metadata cache %q", path)
		return md, true
	}
	return metadata.Metadata{}, false
}

// storeCache writes the reported metadata back to the first
// writable directory of the search path. Files are world-readable
// and group-writable, and created exclusively so concurrent
// writers of the same key do not interleave; losing the race counts
// as success.
func (r *Reader) storeCache(key, root string, md metadata.Metadata) {
	payload := metadata.Marshal(md)
	for _, dir := range r.cachePaths(root) {
		path := filepath.Join(dir, "."+key+cacheExt)
		err := meshio.WriteFile(path, 0o664, true, payload)
		if err == nil || os.IsExist(err) {
			log.Printf("cf: wrote metadata cache %q", path)
			return
		}
		log.Printf("cf: failed to write metadata cache %q: %v", path, err)
	}
	log.Error.Printf("cf: failed to create a metadata cache for %q", root)
}
