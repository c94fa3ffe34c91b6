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
	"fmt"

	"github.com/probechain/go-club/digest"
)

// EventKind names one observable engine transition. Events are purely
// additive: nothing in the engine ever blocks on, or branches on, whether a
// subscriber exists.
type EventKind string

const (
	EventAdvertised     EventKind = "advertised"
	EventDownloadStart  EventKind = "download_start"
	EventDownloadDone   EventKind = "download_done"
	EventDownloadFail   EventKind = "download_fail"
	EventConnectionLost EventKind = "connection_lost"
)

// Event is one point-in-time engine transition, fed to the status surface.
type Event struct {
	Kind   EventKind
	Digest digest.Digest
	Conn   string
}

// connLabel renders conn for an Event without requiring every Conn
// implementation to carry display logic; p2p.Connection and the test fakes
// in club_test.go implement fmt.Stringer, and any Conn that doesn't falls
// back to a pointer address.
func connLabel(conn Conn) string {
	if s, ok := conn.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%p", conn)
}

// Subscribe registers a new event feed. The returned channel is buffered
// and best-effort: a subscriber that falls behind has events silently
// dropped rather than stalling the engine. Call the returned func to
// unsubscribe and release the channel.
func (c *Club) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	c.exec(func() { c.subscribers = append(c.subscribers, ch) })

	cancel := func() {
		c.exec(func() {
			for i, s := range c.subscribers {
				if s == ch {
					c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
					break
				}
			}
		})
		close(ch)
	}
	return ch, cancel
}

// emit fans e out to every current subscriber. Always called from the actor
// goroutine, so subscribers needs no lock of its own.
func (c *Club) emit(e Event) {
	for _, ch := range c.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}
