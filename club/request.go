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

package club

import (
	"bytes"

	mapset "github.com/deckarep/golang-set"

	"github.com/probechain/go-club/digest"
)

// Conn is the engine's view of a connection: the one operation it needs in
// order to schedule a download. p2p.Connection satisfies this interface;
// tests use lightweight fakes.
type Conn interface {
	// TryRequest asks the connection to issue a type-3 request for d. It
	// returns false if the connection's request slot is already occupied.
	TryRequest(d digest.Digest) bool
}

// pickCandidate returns the lexicographically-lowest-hex digest in
// candidates that is not already downloading, for a deterministic choice
// among multiple eligible objects on the same connection (spec.md §4.5
// permits any deterministic-per-run tie-break).
func pickCandidate(candidates, downloading mapset.Set) (digest.Digest, bool) {
	var (
		best  digest.Digest
		found bool
	)
	for _, item := range candidates.ToSlice() {
		d := item.(digest.Digest)
		if downloading.Contains(d) {
			continue
		}
		if !found || bytes.Compare(d[:], best[:]) < 0 {
			best = d
			found = true
		}
	}
	return best, found
}
