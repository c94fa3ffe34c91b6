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

// Package club implements the object exchange engine: the process-wide
// indices tracking which connections advertise which digests, and the
// scheduling of at-most-one-outstanding-download-per-connection.
package club

import (
	mapset "github.com/deckarep/golang-set"
	lru "github.com/hashicorp/golang-lru"

	"github.com/probechain/go-club/clublog"
	"github.com/probechain/go-club/digest"
	"github.com/probechain/go-club/store"
)

// failCacheSize bounds the "recently failed" per-connection cache so a
// flapping neighbor accumulates no unbounded retry bookkeeping.
const failCacheSize = 4096

// Club is the exchange engine: one instance per peer process, constructed
// explicitly by the entry point and handed to every Endpoint and
// Connection it owns (spec.md §9 — treated as a value, not ambient state).
//
// All index mutation happens on a single actor goroutine reading cmds, so
// the indices themselves need no locks; exported methods submit a closure
// and block until it has run, giving callers synchronous semantics without
// any mutex.
type Club struct {
	store *store.Store
	log   *clublog.Logger

	cmds chan func()
	done chan struct{}

	advertisers map[digest.Digest]mapset.Set // digest -> set<Conn>
	advertised  map[Conn]mapset.Set          // conn -> set<digest.Digest>
	downloading mapset.Set                   // set<digest.Digest>
	endpoints   mapset.Set                   // set<digest.PeerAddr>, this peer's own listen addresses

	recentFails *lru.Cache // conn -> mapset.Set of recently-failed digests, eviction bookkeeping only

	subscribers []chan Event // status surface event feeds, see events.go
}

// New constructs a Club backed by st. Call Close when the process is
// shutting down to stop the actor goroutine.
func New(st *store.Store) *Club {
	fails, err := lru.New(failCacheSize)
	if err != nil {
		panic(err) // only fails for a non-positive size, which failCacheSize never is
	}
	c := &Club{
		store:       st,
		log:         clublog.With("component", "club"),
		cmds:        make(chan func(), 64),
		done:        make(chan struct{}),
		advertisers: make(map[digest.Digest]mapset.Set),
		advertised:  make(map[Conn]mapset.Set),
		downloading: mapset.NewSet(),
		endpoints:   mapset.NewSet(),
		recentFails: fails,
	}
	go c.run()
	return c
}

func (c *Club) run() {
	for cmd := range c.cmds {
		cmd()
	}
	close(c.done)
}

// Close stops the engine's actor goroutine. No further calls to its methods
// may be made afterwards.
func (c *Club) Close() {
	close(c.cmds)
	<-c.done
}

func (c *Club) exec(f func()) {
	wait := make(chan struct{})
	c.cmds <- func() { f(); close(wait) }
	<-wait
}

// RegisterEndpoint records addr as one of this peer's own listening
// addresses, used to filter self-addresses out of tracker responses.
func (c *Club) RegisterEndpoint(addr digest.PeerAddr) {
	c.exec(func() { c.endpoints.Add(addr) })
}

// IsSelf reports whether addr is one of this peer's own listening
// addresses.
func (c *Club) IsSelf(addr digest.PeerAddr) bool {
	var is bool
	c.exec(func() { is = c.endpoints.Contains(addr) })
	return is
}

// SelfAddresses returns every address this peer listens on.
func (c *Club) SelfAddresses() []digest.PeerAddr {
	var out []digest.PeerAddr
	c.exec(func() {
		for _, a := range c.endpoints.ToSlice() {
			out = append(out, a.(digest.PeerAddr))
		}
	})
	return out
}

func advertisersFor(c *Club, d digest.Digest) mapset.Set {
	s, ok := c.advertisers[d]
	if !ok {
		s = mapset.NewSet()
		c.advertisers[d] = s
	}
	return s
}

func advertisedBy(c *Club, conn Conn) mapset.Set {
	s, ok := c.advertised[conn]
	if !ok {
		s = mapset.NewSet()
		c.advertised[conn] = s
	}
	return s
}

// OnAdvertise handles receipt of a type-1 Advertise frame from conn. A
// digest already present in cur is ignored outright (spec.md §3: no digest
// already committed ever appears in advertisers). Otherwise the index is
// updated and, if nothing is already downloading this digest, conn is
// asked to start a request.
func (c *Club) OnAdvertise(d digest.Digest, conn Conn) {
	c.exec(func() { c.onAdvertise(d, conn) })
}

func (c *Club) onAdvertise(d digest.Digest, conn Conn) {
	if c.store.Contains(d) {
		return
	}

	advertisersFor(c, d).Add(conn)
	advertisedBy(c, conn).Add(d)
	c.emit(Event{Kind: EventAdvertised, Digest: d, Conn: connLabel(conn)})

	if c.downloading.Contains(d) {
		return
	}
	if conn.TryRequest(d) {
		c.downloading.Add(d)
		c.emit(Event{Kind: EventDownloadStart, Digest: d, Conn: connLabel(conn)})
	}
}

// OnComplete handles a finished, digest-verified download of d from conn:
// it commits the object and reassigns every other connection that was also
// advertising d to some other digest it still needs, if any.
func (c *Club) OnComplete(d digest.Digest, conn Conn) {
	c.exec(func() { c.onComplete(d, conn) })
}

func (c *Club) onComplete(d digest.Digest, conn Conn) {
	if err := c.store.Commit(d); err != nil {
		c.log.Error("commit failed", "digest", d, "err", err)
		return
	}
	c.downloading.Remove(d)
	c.emit(Event{Kind: EventDownloadDone, Digest: d, Conn: connLabel(conn)})

	others, ok := c.advertisers[d]
	if !ok {
		return
	}
	delete(c.advertisers, d)

	for _, item := range others.ToSlice() {
		other := item.(Conn)
		adv, ok := c.advertised[other]
		if !ok {
			continue
		}
		adv.Remove(d)

		choice, found := pickCandidate(adv, c.downloading)
		if !found {
			continue
		}
		if other.TryRequest(choice) {
			c.downloading.Add(choice)
			c.emit(Event{Kind: EventDownloadStart, Digest: choice, Conn: connLabel(other)})
		}
	}
}

// OnFail handles a failed in-flight download of d on conn — either an
// explicit type-6 Fail frame or a digest-verification mismatch. Per
// spec.md §4.5 (correcting the §9 "known irregularity" in the original
// source), it iterates the *remaining* advertisers of d, not conn, and
// offers the request to each until one accepts.
func (c *Club) OnFail(d digest.Digest, conn Conn) {
	c.exec(func() { c.onFail(d, conn) })
}

func (c *Club) onFail(d digest.Digest, conn Conn) {
	if adv, ok := c.advertised[conn]; ok {
		adv.Remove(d)
	}
	c.markRecentFail(conn, d)
	c.emit(Event{Kind: EventDownloadFail, Digest: d, Conn: connLabel(conn)})

	remaining, ok := c.advertisers[d]
	if ok {
		remaining.Remove(conn)
	}

	if ok {
		for _, item := range remaining.ToSlice() {
			other := item.(Conn)
			if other.TryRequest(d) {
				c.emit(Event{Kind: EventDownloadStart, Digest: d, Conn: connLabel(other)})
				return
			}
		}
	}
	c.downloading.Remove(d)
}

func (c *Club) markRecentFail(conn Conn, d digest.Digest) {
	v, ok := c.recentFails.Get(conn)
	var seen mapset.Set
	if ok {
		seen = v.(mapset.Set)
	} else {
		seen = mapset.NewSet()
		c.recentFails.Add(conn, seen)
	}
	seen.Add(d)
}

// OnConnectionLost purges conn from every index. Any in-flight download on
// conn must already have been failed by the caller (the Connection itself,
// per spec.md §4.3) before this is invoked.
func (c *Club) OnConnectionLost(conn Conn) {
	c.exec(func() { c.onConnectionLost(conn) })
}

func (c *Club) onConnectionLost(conn Conn) {
	digests, ok := c.advertised[conn]
	if ok {
		for _, item := range digests.ToSlice() {
			d := item.(digest.Digest)
			if advs, ok := c.advertisers[d]; ok {
				advs.Remove(conn)
				if advs.Cardinality() == 0 {
					delete(c.advertisers, d)
				}
			}
		}
	}
	delete(c.advertised, conn)
	c.recentFails.Remove(conn)
	c.emit(Event{Kind: EventConnectionLost, Conn: connLabel(conn)})
}

// Stats is a point-in-time snapshot of the engine's indices, used by the
// status package's introspection surface and by invariant-checking tests.
type Stats struct {
	AdvertisedDigests int
	TrackedConns      int
	Downloading       int
}

// Snapshot returns a consistent point-in-time view of the engine's size,
// taken on the actor goroutine like every other access.
func (c *Club) Snapshot() Stats {
	var s Stats
	c.exec(func() {
		s = Stats{
			AdvertisedDigests: len(c.advertisers),
			TrackedConns:      len(c.advertised),
			Downloading:       c.downloading.Cardinality(),
		}
	})
	return s
}
