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

// Package p2p implements one peer link: the symmetric TLS upgrade, the
// duplex framed-message Connection built on top of it, and the Endpoint
// that accepts and dials connections.
package p2p

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/probechain/go-club/club"
	"github.com/probechain/go-club/clublog"
	"github.com/probechain/go-club/digest"
	"github.com/probechain/go-club/store"
	"github.com/probechain/go-club/wire"
)

// writeQueueDepth bounds the Connection's outbound write queue. A sender
// blocked on a full queue is the channel-based backpressure spec.md §9
// calls for: no message is ever dropped or reordered, it simply waits its
// turn in FIFO order.
const writeQueueDepth = 64

// Connection is one live link to a remote peer: duplex framed message I/O
// over an already-upgraded TLS stream, a single-writer goroutine enforcing
// FIFO outbound order, a request slot (one outstanding download) and a
// response slot plus queue (one outstanding response producer at a time).
type Connection struct {
	endpoint *Endpoint
	remote   digest.PeerAddr
	conn     net.Conn
	club     *club.Club
	store    *store.Store
	log      *clublog.Logger

	writeCh chan []byte

	reqMu     sync.Mutex
	reqActive bool
	reqDigest digest.Digest
	reqFile   *os.File
	tracker   *requestTracker

	respMu     sync.Mutex
	respActive bool
	respQueue  []digest.Digest

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(ep *Endpoint, remote digest.PeerAddr, conn net.Conn) *Connection {
	c := &Connection{
		endpoint: ep,
		remote:   remote,
		conn:     conn,
		club:     ep.club,
		store:    ep.store,
		log:      clublog.With("peer", remote.String()),
		writeCh:  make(chan []byte, writeQueueDepth),
		closed:   make(chan struct{}),
		tracker:  newRequestTracker(),
	}
	go c.writeLoop()
	go c.readLoop()
	go c.announceObjects()
	return c
}

// RemoteAddr reports the wire-form address of the remote peer.
func (c *Connection) RemoteAddr() digest.PeerAddr { return c.remote }

// String implements fmt.Stringer, used by club.Event to label which
// connection a status-surface event belongs to.
func (c *Connection) String() string { return c.remote.String() }

// ConnSnapshot is a point-in-time view of one connection's slot occupancy,
// reported through the status surface.
type ConnSnapshot struct {
	Remote             string
	RequestActive      bool
	RequestDigest      string
	ResponseActive     bool
	ResponseQueueDepth int
}

// Snapshot reports this connection's current request/response slot state.
func (c *Connection) Snapshot() ConnSnapshot {
	c.reqMu.Lock()
	reqActive := c.reqActive
	var reqDigest string
	if reqActive {
		reqDigest = c.reqDigest.Hex()
	}
	c.reqMu.Unlock()

	c.respMu.Lock()
	respActive := c.respActive
	queued := len(c.respQueue)
	c.respMu.Unlock()

	return ConnSnapshot{
		Remote:             c.remote.String(),
		RequestActive:      reqActive,
		RequestDigest:      reqDigest,
		ResponseActive:     respActive,
		ResponseQueueDepth: queued,
	}
}

func (c *Connection) write(b []byte) error {
	select {
	case c.writeCh <- b:
		return nil
	case <-c.closed:
		return net.ErrClosed
	}
}

// writeLoop is the single writer: it drains writeCh strictly in order, so
// two response chunks (or a response and an advertisement) never interleave
// on the wire.
func (c *Connection) writeLoop() {
	for {
		select {
		case b := <-c.writeCh:
			if _, err := c.conn.Write(b); err != nil {
				c.loseConnection(err)
				return
			}
		case <-c.closed:
			return
		}
	}
}

// announceObjects sends one Advertise frame per object already in cur/,
// per spec.md §4.3's connection_made contract. Order is unspecified.
func (c *Connection) announceObjects() {
	objs, err := c.store.List()
	if err != nil {
		c.log.Error("listing objects to advertise", "err", err)
		return
	}
	for _, d := range objs {
		if err := c.write(wire.EncodeAdvertise(d)); err != nil {
			return
		}
	}
}

func (c *Connection) readLoop() {
	r := wire.NewReader(c.conn)
	for {
		f, err := r.ReadFrame()
		if err != nil {
			c.loseConnection(err)
			return
		}
		switch f.Type {
		case wire.Advertise:
			c.club.OnAdvertise(f.Digest, c)
		case wire.Peer:
			// reserved message type; accept and ignore, per spec.md §9.
		case wire.Request:
			c.handleRequest(f.Digest)
		case wire.Data:
			c.handleData(f.Chunk, false)
		case wire.DataFinal:
			c.handleData(f.Chunk, true)
		case wire.Fail:
			c.handleFail()
		default:
			c.loseConnection(fmt.Errorf("p2p: unexpected frame type %d", f.Type))
			return
		}
	}
}

// TryRequest implements club.Conn. It fills the request slot and starts an
// asynchronous staging file plus an outbound type-3 Request; it returns
// false without side effects if a download is already in flight.
func (c *Connection) TryRequest(d digest.Digest) bool {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if c.reqActive {
		return false
	}
	f, err := c.store.StagingCreate(d)
	if err != nil {
		c.log.Error("staging create failed", "digest", d, "err", err)
		return false
	}
	c.reqActive = true
	c.reqDigest = d
	c.reqFile = f
	c.tracker.start(d)

	go func() {
		if err := c.write(wire.EncodeRequest(d)); err != nil {
			c.log.Debug("request send failed", "digest", d, "err", err)
		}
	}()
	return true
}

func (c *Connection) handleData(chunk []byte, final bool) {
	c.reqMu.Lock()
	if !c.reqActive {
		c.reqMu.Unlock()
		c.loseConnection(fmt.Errorf("p2p: data frame with no outstanding request"))
		return
	}
	f := c.reqFile
	d := c.reqDigest

	if _, err := f.Write(chunk); err != nil {
		c.reqActive = false
		c.reqFile = nil
		c.reqMu.Unlock()
		c.tracker.stop(d)
		f.Close()
		c.store.DiscardStaging(d)
		c.club.OnFail(d, c)
		return
	}
	if !final {
		c.reqMu.Unlock()
		return
	}

	c.reqActive = false
	c.reqFile = nil
	c.reqMu.Unlock()

	f.Close()
	c.finishDownload(d)
}

// finishDownload verifies the completed staging file against d (spec.md §9
// treats this as required despite the original source's TODO) before
// handing it to the engine; a mismatch is handled exactly like a type-6
// Fail frame.
func (c *Connection) finishDownload(d digest.Digest) {
	if elapsed, ok := c.tracker.stop(d); ok {
		c.log.Debug("download finished", "digest", d, "elapsed", elapsed)
	}

	ok, err := c.store.VerifyStaging(d)
	if err != nil {
		c.log.Error("verifying download failed", "digest", d, "err", err)
		c.store.DiscardStaging(d)
		c.club.OnFail(d, c)
		return
	}
	if !ok {
		c.log.Warn("digest mismatch on completed download", "digest", d)
		c.store.DiscardStaging(d)
		c.club.OnFail(d, c)
		return
	}
	c.club.OnComplete(d, c)
}

func (c *Connection) handleFail() {
	c.reqMu.Lock()
	if !c.reqActive {
		c.reqMu.Unlock()
		return
	}
	d := c.reqDigest
	f := c.reqFile
	c.reqActive = false
	c.reqFile = nil
	c.reqMu.Unlock()

	c.tracker.stop(d)
	f.Close()
	c.store.DiscardStaging(d)
	c.club.OnFail(d, c)
}

func (c *Connection) handleRequest(d digest.Digest) {
	c.respMu.Lock()
	if c.respActive {
		c.respQueue = append(c.respQueue, d)
		c.respMu.Unlock()
		return
	}
	c.respActive = true
	c.respMu.Unlock()

	go c.respondLoop(d)
}

// respondLoop serves d, then keeps dequeuing the response queue until it's
// empty — at most one response producer runs at a time, per spec.md §4.3.
func (c *Connection) respondLoop(d digest.Digest) {
	for {
		c.serveOne(d)

		c.respMu.Lock()
		if len(c.respQueue) == 0 {
			c.respActive = false
			c.respMu.Unlock()
			return
		}
		d = c.respQueue[0]
		c.respQueue = c.respQueue[1:]
		c.respMu.Unlock()
	}
}

func (c *Connection) serveOne(d digest.Digest) {
	r, ok, err := c.store.Open(d)
	if err != nil {
		c.log.Error("opening object for response", "digest", d, "err", err)
		c.write(wire.EncodeFail(wire.NotFound))
		return
	}
	if !ok {
		c.write(wire.EncodeFail(wire.NotFound))
		return
	}
	defer r.Close()

	err = wire.StreamObject(r, func(f wire.Frame) error {
		if f.Type == wire.Data {
			return c.write(wire.EncodeData(f.Chunk))
		}
		return c.write(wire.EncodeDataFinal(f.Chunk))
	})
	if err != nil {
		c.log.Debug("sending response failed", "digest", d, "err", err)
	}
}

// loseConnection tears the connection down exactly once: it fails any
// in-flight download, lets the writer loop abandon any in-progress
// response by exiting, purges the engine's indices and removes itself
// from the Endpoint's table.
func (c *Connection) loseConnection(err error) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()

		c.reqMu.Lock()
		active, d, f := c.reqActive, c.reqDigest, c.reqFile
		c.reqActive = false
		c.reqFile = nil
		c.reqMu.Unlock()

		if active {
			f.Close()
			c.store.DiscardStaging(d)
			c.club.OnFail(d, c)
		}

		c.club.OnConnectionLost(c)
		c.endpoint.forget(c.remote)
		c.log.Info("connection lost", "err", err)
	})
}
