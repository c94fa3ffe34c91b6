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

// Command clubtracker is the rendezvous service spec.md §6 describes: peers
// announce their own listening addresses and get back the addresses most
// recently announced by others. It is ancillary test/ops infrastructure,
// not part of the exchange engine's core budget, and is modeled directly on
// original_source/tracker.py — including its single-connection-at-a-time
// handling and its "reply with the list as it stood before this announce"
// ordering.
package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/probechain/go-club/clublog"
	"github.com/probechain/go-club/digest"
)

const maxRetained = 10

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: clubtracker <port>")
		os.Exit(1)
	}
	port, err := strconv.Atoi(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, "clubtracker: invalid port:", os.Args[1])
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		clublog.Error("listen failed", "err", err)
		os.Exit(1)
	}
	clublog.Info("tracker listening", "port", port)

	run(ln)
}

// run serves connections one at a time, exactly as original_source/tracker.py
// does: the tracker has no concurrency of its own, since its whole job is a
// tiny synchronous accept/read/write cycle.
func run(ln net.Listener) {
	var peers []digest.PeerAddr

	for {
		conn, err := ln.Accept()
		if err != nil {
			clublog.Error("accept failed", "err", err)
			return
		}

		announced, err := handleAnnounce(conn, peers)
		conn.Close()
		if err != nil {
			clublog.Warn("announce handling failed", "err", err)
			continue
		}

		peers = mergeRetained(peers, announced)
	}
}

// handleAnnounce reads the announcing peer's addresses, replies with the
// list as it stood before this announce, and returns what was announced so
// the caller can fold it into the retained set.
func handleAnnounce(conn net.Conn, known []digest.PeerAddr) ([]digest.PeerAddr, error) {
	var nBuf [2]byte
	if _, err := io.ReadFull(conn, nBuf[:]); err != nil {
		return nil, fmt.Errorf("reading peer count: %w", err)
	}
	n := binary.BigEndian.Uint16(nBuf[:])

	announced := make([]digest.PeerAddr, 0, n)
	for i := 0; i < int(n); i++ {
		var raw [6]byte
		if _, err := io.ReadFull(conn, raw[:]); err != nil {
			return nil, fmt.Errorf("reading announced address %d: %w", i, err)
		}
		addr, err := digest.PeerAddrFromBytes(raw[:])
		if err != nil {
			return nil, fmt.Errorf("decoding announced address %d: %w", i, err)
		}
		announced = append(announced, addr)
	}

	out := make([]byte, 2+6*len(known))
	binary.BigEndian.PutUint16(out, uint16(len(known)))
	for i, addr := range known {
		copy(out[2+6*i:], addr[:])
	}
	if _, err := conn.Write(out); err != nil {
		return nil, fmt.Errorf("writing known peers: %w", err)
	}
	return announced, nil
}

// mergeRetained puts the newly announced addresses first, followed by the
// previously known ones not announced again, and keeps the first
// maxRetained, so the most recently announced addresses are retained —
// tracker.py's "new_peers[:10]" truncation.
func mergeRetained(known, announced []digest.PeerAddr) []digest.PeerAddr {
	seen := make(map[digest.PeerAddr]struct{}, len(known)+len(announced))
	merged := make([]digest.PeerAddr, 0, len(known)+len(announced))
	for _, list := range [][]digest.PeerAddr{announced, known} {
		for _, a := range list {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			merged = append(merged, a)
		}
	}
	if len(merged) > maxRetained {
		merged = merged[:maxRetained]
	}
	return merged
}
