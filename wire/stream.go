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

package wire

import "io"

// StreamObject reads r in ChunkSize chunks and calls emit once per chunk,
// using a Data frame for every chunk but the last and a DataFinal frame for
// the last. Because the final chunk isn't known to be final until the next
// read returns zero bytes, one chunk is always held back — this is what
// makes a zero-length object produce exactly one empty DataFinal frame, and
// an object whose size is an exact multiple of ChunkSize produce a full
// ChunkSize DataFinal frame with no empty trailer.
func StreamObject(r io.Reader, emit func(Frame) error) error {
	buf := make([]byte, ChunkSize)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return err
	}
	pending := append([]byte(nil), buf[:n]...)

	for {
		next := make([]byte, ChunkSize)
		m, err := io.ReadFull(r, next)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return err
		}
		if m == 0 {
			return emit(Frame{Type: DataFinal, Chunk: pending})
		}
		if err := emit(Frame{Type: Data, Chunk: pending}); err != nil {
			return err
		}
		pending = append([]byte(nil), next[:m]...)
	}
}
