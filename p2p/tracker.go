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

package p2p

import (
	"sync"
	"time"

	"github.com/probechain/go-club/digest"
)

// requestTracker records when an object request started, so its round-trip
// latency can be logged once it completes; a failed request's entry is
// cleared without being logged. It mirrors the usage
// pattern of the teacher's protocol-level request tracker (one singleton
// per connection here, rather than per protocol).
type requestTracker struct {
	mu      sync.Mutex
	started map[digest.Digest]time.Time
}

func newRequestTracker() *requestTracker {
	return &requestTracker{started: make(map[digest.Digest]time.Time)}
}

// start records that a request for d was just issued.
func (t *requestTracker) start(d digest.Digest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started[d] = time.Now()
}

// stop returns the elapsed time since start(d) and clears the entry. ok is
// false if d was never started (or was already stopped).
func (t *requestTracker) stop(d digest.Digest) (elapsed time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	begin, found := t.started[d]
	if !found {
		return 0, false
	}
	delete(t.started, d)
	return time.Since(begin), true
}
