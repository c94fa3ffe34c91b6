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

// Package digest defines the fixed-width content identifier shared by the
// wire protocol, the object store and the exchange engine.
package digest

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net"

	"golang.org/x/crypto/sha3"
)

// Length is the width, in bytes, of a Digest.
const Length = 32

// Digest names one immutable object by its content hash.
type Digest [Length]byte

// ErrLength is returned when a byte slice of the wrong size is used to build
// a Digest.
var ErrLength = errors.New("digest: invalid length")

// FromBytes builds a Digest from an exactly Length-byte slice.
func FromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != Length {
		return d, ErrLength
	}
	copy(d[:], b)
	return d, nil
}

// Of computes the Digest of a byte slice (Keccak-256, matching the teacher's
// common.Hash convention).
func Of(data []byte) Digest {
	var d Digest
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	h.Sum(d[:0])
	return d
}

// FromHex parses a lowercase hex digest, the on-disk and wire canonical form.
func FromHex(s string) (Digest, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("digest: %w", err)
	}
	return FromBytes(b)
}

// Hex returns the lowercase hex canonical form (no "0x" prefix — this is a
// filesystem-safe identifier, not a display hash).
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String implements fmt.Stringer.
func (d Digest) String() string {
	return d.Hex()
}

// Bytes returns the raw bytes of the digest.
func (d Digest) Bytes() []byte {
	return d[:]
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// PeerAddr is the 6-byte wire form of a peer address: 4-byte IPv4
// big-endian followed by a 2-byte big-endian port.
type PeerAddr [6]byte

// NewPeerAddr encodes an IPv4 address and port into wire form.
func NewPeerAddr(ip net.IP, port uint16) (PeerAddr, error) {
	var a PeerAddr
	v4 := ip.To4()
	if v4 == nil {
		return a, fmt.Errorf("peeraddr: %v is not an IPv4 address", ip)
	}
	copy(a[:4], v4)
	binary.BigEndian.PutUint16(a[4:], port)
	return a, nil
}

// PeerAddrFromBytes builds a PeerAddr from an exactly 6-byte slice.
func PeerAddrFromBytes(b []byte) (PeerAddr, error) {
	var a PeerAddr
	if len(b) != 6 {
		return a, fmt.Errorf("peeraddr: invalid length %d", len(b))
	}
	copy(a[:], b)
	return a, nil
}

// IP returns the IPv4 address component.
func (a PeerAddr) IP() net.IP {
	return net.IPv4(a[0], a[1], a[2], a[3])
}

// Port returns the port component.
func (a PeerAddr) Port() uint16 {
	return binary.BigEndian.Uint16(a[4:])
}

// String renders the address as host:port.
func (a PeerAddr) String() string {
	return fmt.Sprintf("%s:%d", a.IP(), a.Port())
}

// TCPAddr converts the wire address to a *net.TCPAddr.
func (a PeerAddr) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: a.IP(), Port: int(a.Port())}
}
