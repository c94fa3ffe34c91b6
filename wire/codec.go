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
	"encoding/binary"
	"fmt"
	"io"

	"github.com/probechain/go-club/digest"
)

// maxFrameLen is the largest payload (type tag included) the u16 length
// prefix can carry.
const maxFrameLen = 1<<16 - 1

// Encode renders a frame as length-prefixed wire bytes.
func Encode(f Frame) ([]byte, error) {
	switch f.Type {
	case Advertise, Request:
		return encodeDigestFrame(f.Type, f.Digest), nil
	case Peer:
		return encodePeerFrame(f.Peer), nil
	case Data, DataFinal:
		if len(f.Chunk) > ChunkSize {
			return nil, fmt.Errorf("wire: chunk of %d bytes exceeds %d", len(f.Chunk), ChunkSize)
		}
		return encodeChunkFrame(f.Type, f.Chunk), nil
	case Fail:
		return encodeFailFrame(f.Reason), nil
	default:
		return nil, fmt.Errorf("wire: unknown message type %d", f.Type)
	}
}

func frame(typ Type, body []byte) []byte {
	payload := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(payload, uint16(typ))
	copy(payload[2:], body)

	out := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(out, uint16(len(payload)))
	copy(out[2:], payload)
	return out
}

func encodeDigestFrame(typ Type, d digest.Digest) []byte {
	return frame(typ, d.Bytes())
}

func encodePeerFrame(p digest.PeerAddr) []byte {
	return frame(Peer, p[:])
}

func encodeChunkFrame(typ Type, chunk []byte) []byte {
	return frame(typ, chunk)
}

func encodeFailFrame(reason FailReason) []byte {
	var body [2]byte
	binary.BigEndian.PutUint16(body[:], uint16(reason))
	return frame(Fail, body[:])
}

// EncodeAdvertise, EncodeRequest, EncodePeer, EncodeData, EncodeDataFinal and
// EncodeFail are convenience wrappers used by the Connection so call sites
// don't need to build a Frame value for the common case.

func EncodeAdvertise(d digest.Digest) []byte { return encodeDigestFrame(Advertise, d) }
func EncodeRequest(d digest.Digest) []byte   { return encodeDigestFrame(Request, d) }
func EncodePeer(p digest.PeerAddr) []byte    { return encodePeerFrame(p) }
func EncodeData(chunk []byte) []byte         { return encodeChunkFrame(Data, chunk) }
func EncodeDataFinal(chunk []byte) []byte    { return encodeChunkFrame(DataFinal, chunk) }
func EncodeFail(reason FailReason) []byte    { return encodeFailFrame(reason) }

// Reader decodes frames from a byte stream. It tolerates arbitrary TCP
// fragmentation: each stage (length, then body) blocks via io.ReadFull until
// its full byte count has arrived, which is the blocking-I/O equivalent of
// the two-stage length/body state machine the protocol specifies.
type Reader struct {
	r   io.Reader
	buf [2]byte
}

// NewReader wraps r for frame decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame reads and decodes the next frame, blocking until it is fully
// available or the underlying reader errors (including io.EOF on a clean
// peer close).
func (d *Reader) ReadFrame() (Frame, error) {
	if _, err := io.ReadFull(d.r, d.buf[:]); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint16(d.buf[:])
	if length < 2 {
		return Frame{}, fmt.Errorf("wire: frame too short (%d bytes)", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return Frame{}, err
	}

	typ := Type(binary.BigEndian.Uint16(body[:2]))
	rest := body[2:]

	switch typ {
	case Advertise, Request:
		d, err := digest.FromBytes(rest)
		if err != nil {
			return Frame{}, fmt.Errorf("wire: %s: %w", typ, err)
		}
		return Frame{Type: typ, Digest: d}, nil
	case Peer:
		p, err := digest.PeerAddrFromBytes(rest)
		if err != nil {
			return Frame{}, fmt.Errorf("wire: peer: %w", err)
		}
		return Frame{Type: typ, Peer: p}, nil
	case Data, DataFinal:
		if len(rest) > ChunkSize {
			return Frame{}, fmt.Errorf("wire: %s: chunk of %d bytes exceeds %d", typ, len(rest), ChunkSize)
		}
		return Frame{Type: typ, Chunk: rest}, nil
	case Fail:
		if len(rest) != 2 {
			return Frame{}, fmt.Errorf("wire: fail: invalid reason length %d", len(rest))
		}
		return Frame{Type: typ, Reason: FailReason(binary.BigEndian.Uint16(rest))}, nil
	default:
		return Frame{}, fmt.Errorf("wire: unknown message type %d", typ)
	}
}

// MaxFrameLen reports maxFrameLen, the largest payload (type tag included)
// the u16 length prefix can carry.
func MaxFrameLen() int { return maxFrameLen }
