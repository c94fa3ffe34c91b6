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

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, data []byte) []Frame {
	t.Helper()
	var got []Frame
	err := StreamObject(bytes.NewReader(data), func(f Frame) error {
		got = append(got, f)
		return nil
	})
	require.NoError(t, err)
	return got
}

func TestStreamObjectEmpty(t *testing.T) {
	frames := collect(t, nil)
	require.Len(t, frames, 1)
	assert.Equal(t, DataFinal, frames[0].Type)
	assert.Empty(t, frames[0].Chunk)
}

func TestStreamObjectSmallerThanChunk(t *testing.T) {
	frames := collect(t, []byte("hello"))
	require.Len(t, frames, 1)
	assert.Equal(t, DataFinal, frames[0].Type)
	assert.Equal(t, []byte("hello"), frames[0].Chunk)
}

func TestStreamObjectExactMultipleOfChunkSize(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, ChunkSize*2)
	frames := collect(t, data)

	require.Len(t, frames, 2)
	assert.Equal(t, Data, frames[0].Type)
	assert.Len(t, frames[0].Chunk, ChunkSize)
	assert.Equal(t, DataFinal, frames[1].Type)
	assert.Len(t, frames[1].Chunk, ChunkSize)
	assert.NotEmpty(t, frames[1].Chunk, "exact-multiple objects must not emit an empty trailer")
}

func TestStreamObjectOneByteOverChunkSize(t *testing.T) {
	data := bytes.Repeat([]byte{0x7}, ChunkSize+1)
	frames := collect(t, data)

	require.Len(t, frames, 2)
	assert.Len(t, frames[0].Chunk, ChunkSize)
	assert.Len(t, frames[1].Chunk, 1)
	assert.Equal(t, DataFinal, frames[1].Type)
}
