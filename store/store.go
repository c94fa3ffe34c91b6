// Copyright 2024 The go-club Authors
// This file is part of go-club.
//
// go-club is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-club is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-club. If not, see <http://www.gnu.org/licenses/>.

// Package store implements the filesystem-backed content-addressed object
// store: tmp/ (staging), new/ (external ingress, untouched by this package)
// and cur/ (committed, immutable, serve-able).
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/probechain/go-club/digest"
)

const (
	tmpDir = "tmp"
	newDir = "new"
	curDir = "cur"
)

// ErrExists is returned by StagingCreate when a staging file for the digest
// already exists, preventing two concurrent downloads from clobbering one
// another.
var ErrExists = os.ErrExist

// Store is the on-disk content-addressed object store rooted at a directory.
type Store struct {
	root string

	// index is a secondary cache of committed digests, backed by goleveldb.
	// It is rebuilt from a directory scan of cur/ at startup and kept in
	// sync on every Commit; cur/ itself remains the single source of
	// truth — Contains falls back to the filesystem on a miss, and List
	// always scans cur/ without consulting the index.
	index *leveldb.DB
}

// Open opens (creating if necessary) the store rooted at path.
func Open(path string) (*Store, error) {
	for _, d := range []string{tmpDir, newDir, curDir} {
		if err := os.MkdirAll(filepath.Join(path, d), 0o755); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}

	idx, err := leveldb.OpenFile(filepath.Join(path, ".index"), nil)
	if err != nil {
		return nil, fmt.Errorf("store: opening index: %w", err)
	}

	s := &Store{root: path, index: idx}
	if err := s.rebuildIndex(); err != nil {
		idx.Close()
		return nil, err
	}
	return s, nil
}

// openMem builds a Store whose secondary index lives in memory; used by
// tests that don't want leveldb writing to the real filesystem.
func openMem(path string) (*Store, error) {
	for _, d := range []string{tmpDir, newDir, curDir} {
		if err := os.MkdirAll(filepath.Join(path, d), 0o755); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}
	idx, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	s := &Store{root: path, index: idx}
	if err := s.rebuildIndex(); err != nil {
		idx.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) rebuildIndex() error {
	entries, err := os.ReadDir(filepath.Join(s.root, curDir))
	if err != nil {
		return fmt.Errorf("store: scanning cur: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := digest.FromHex(e.Name()); err != nil {
			continue // not a digest-named file, ignore
		}
		if err := s.index.Put([]byte(e.Name()), []byte{1}, nil); err != nil {
			return fmt.Errorf("store: indexing %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Close releases the secondary index handle.
func (s *Store) Close() error {
	return s.index.Close()
}

func (s *Store) curPath(d digest.Digest) string {
	return filepath.Join(s.root, curDir, d.Hex())
}

func (s *Store) tmpPath(d digest.Digest) string {
	return filepath.Join(s.root, tmpDir, d.Hex())
}

// StagingCreate opens a new, empty staging file for d. It fails with
// ErrExists if a staging file for this digest already exists, preventing
// two concurrent downloads of the same object from corrupting each other.
func (s *Store) StagingCreate(d digest.Digest) (*os.File, error) {
	f, err := os.OpenFile(s.tmpPath(d), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("store: staging %s: %w", d, ErrExists)
		}
		return nil, fmt.Errorf("store: staging %s: %w", d, err)
	}
	return f, nil
}

// DiscardStaging removes a staging file, used when a download fails before
// it can be committed.
func (s *Store) DiscardStaging(d digest.Digest) error {
	if err := os.Remove(s.tmpPath(d)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: discarding staging %s: %w", d, err)
	}
	return nil
}

// Open returns a reader over the committed object bytes for d. ok is false
// (with a nil reader and nil error) if no such object is committed — the
// not-found sentinel spec.md §4.4 calls for, not an error.
func (s *Store) Open(d digest.Digest) (r io.ReadCloser, ok bool, err error) {
	f, err := os.Open(s.curPath(d))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: opening %s: %w", d, err)
	}

	mr, err := newMmapReader(f)
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("store: mapping %s: %w", d, err)
	}
	return mr, true, nil
}

// VerifyStaging hashes the staging file for d and reports whether it matches
// d. It does not consume or remove the staging file either way; the caller
// decides whether to Commit or DiscardStaging based on the result.
func (s *Store) VerifyStaging(d digest.Digest) (bool, error) {
	f, err := os.Open(s.tmpPath(d))
	if err != nil {
		return false, fmt.Errorf("store: verifying %s: %w", d, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return false, fmt.Errorf("store: verifying %s: %w", d, err)
	}
	return digest.Of(data) == d, nil
}

// Commit atomically renames the staging file for d into cur/ and marks it
// in the secondary index. Once committed, an object is immutable and is
// never deleted by this package.
func (s *Store) Commit(d digest.Digest) error {
	if err := os.Rename(s.tmpPath(d), s.curPath(d)); err != nil {
		return fmt.Errorf("store: committing %s: %w", d, err)
	}
	if err := s.index.Put([]byte(d.Hex()), []byte{1}, nil); err != nil {
		return fmt.Errorf("store: indexing %s: %w", d, err)
	}
	return nil
}

// Contains reports whether d is committed. The secondary index answers the
// common case; a miss falls back to stat'ing cur/ directly so the index is
// never the sole source of truth, and backfills the index on a surprise hit.
func (s *Store) Contains(d digest.Digest) bool {
	if ok, err := s.index.Has([]byte(d.Hex()), nil); err == nil && ok {
		return true
	}
	if _, err := os.Stat(s.curPath(d)); err == nil {
		_ = s.index.Put([]byte(d.Hex()), []byte{1}, nil)
		return true
	}
	return false
}

// List enumerates every committed digest.
func (s *Store) List() ([]digest.Digest, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, curDir))
	if err != nil {
		return nil, fmt.Errorf("store: listing cur: %w", err)
	}
	out := make([]digest.Digest, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		d, err := digest.FromHex(e.Name())
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
