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

package store

import (
	"bytes"
	"os"

	"github.com/edsrzf/mmap-go"
)

// mmapReader serves committed object bytes from a read-only memory mapping
// rather than buffered reads, matching the teacher's mmap-go usage elsewhere
// in the ecosystem for read-only, serve-many-times files. Empty files can't
// be mapped, so a zero-length object falls back to an empty in-memory
// reader instead.
type mmapReader struct {
	f *os.File
	m mmap.MMap
	*bytes.Reader
}

func newMmapReader(f *os.File) (*mmapReader, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return &mmapReader{f: f, Reader: bytes.NewReader(nil)}, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return &mmapReader{f: f, m: m, Reader: bytes.NewReader(m)}, nil
}

// Close unmaps the file, if mapped, and closes the underlying descriptor.
func (r *mmapReader) Close() error {
	var err error
	if r.m != nil {
		err = r.m.Unmap()
	}
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
