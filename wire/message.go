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

// Package wire implements the peer wire protocol: a length-prefixed,
// type-tagged binary frame format carrying advertisements, requests and
// chunked object responses.
package wire

import "github.com/probechain/go-club/digest"

// Type identifies the kind of payload a frame carries.
type Type uint16

// Message types, per the wire format. Values are fixed by the protocol and
// must never be renumbered.
const (
	Advertise Type = 1 // digest                 — either direction
	Peer      Type = 2 // 6-byte peer address     — either direction, reserved
	Request   Type = 3 // digest                  — requester -> holder
	Data      Type = 4 // up to 1024 bytes        — holder -> requester, non-final chunk
	DataFinal Type = 5 // up to 1024 bytes        — holder -> requester, final chunk
	Fail      Type = 6 // 2-byte reason code      — holder -> requester
)

func (t Type) String() string {
	switch t {
	case Advertise:
		return "advertise"
	case Peer:
		return "peer"
	case Request:
		return "request"
	case Data:
		return "data"
	case DataFinal:
		return "data-final"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// ChunkSize is the maximum number of object bytes carried by one Data or
// DataFinal frame.
const ChunkSize = 1024

// FailReason is the 2-byte code carried by a Fail frame.
type FailReason uint16

// NotFound is returned when the holder has no object for the requested
// digest. It mirrors the reason code used by the original implementation.
const NotFound FailReason = 0x0194

// Frame is a single decoded wire message. Only the fields relevant to Type
// are meaningful; see the per-type comments on the Type constants above.
type Frame struct {
	Type    Type
	Digest  digest.Digest   // Advertise, Request
	Peer    digest.PeerAddr // Peer
	Chunk   []byte          // Data, DataFinal
	Reason  FailReason      // Fail
}
