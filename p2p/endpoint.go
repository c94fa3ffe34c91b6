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
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/probechain/go-club/club"
	"github.com/probechain/go-club/clublog"
	"github.com/probechain/go-club/digest"
	"github.com/probechain/go-club/store"
)

// Endpoint owns one listening socket and the table of live Connections
// reached through it, indexed by remote address. It accepts inbound
// sockets forever and dials outbound addresses on request, both paths
// converging on the same symmetric TLS upgrade.
type Endpoint struct {
	club      *club.Club
	store     *store.Store
	tlsConfig *tls.Config
	self      digest.PeerAddr
	listener  net.Listener
	log       *clublog.Logger

	mu    sync.Mutex
	conns map[digest.PeerAddr]*Connection
}

// reusePortControl sets SO_REUSEADDR and SO_REUSEPORT on the socket before
// bind/connect, per spec.md §4.6 and §6 — both the listen socket and every
// outbound dial share the same local address, which is what lets two
// peers' simultaneous connect attempts resolve onto one connection.
func reusePortControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = err
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// New binds a listening socket at laddr and starts accepting connections.
// tlsConfig must carry this peer's certificate and the shared CA bundle
// used to verify remote peers (see cmd/clubpeer for how it's built); c is
// notified of laddr via club.RegisterEndpoint so announce tasks can filter
// it out of tracker responses.
func New(c *club.Club, st *store.Store, tlsConfig *tls.Config, laddr *net.TCPAddr) (*Endpoint, error) {
	lc := net.ListenConfig{Control: reusePortControl}
	ln, err := lc.Listen(context.Background(), "tcp4", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("p2p: listen %s: %w", laddr, err)
	}

	self, err := digest.NewPeerAddr(laddr.IP, uint16(laddr.Port))
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("p2p: endpoint address: %w", err)
	}

	e := &Endpoint{
		club:      c,
		store:     st,
		tlsConfig: tlsConfig,
		self:      self,
		listener:  ln,
		log:       clublog.With("component", "endpoint", "addr", self.String()),
		conns:     make(map[digest.PeerAddr]*Connection),
	}
	c.RegisterEndpoint(self)
	go e.acceptLoop()
	return e, nil
}

// Address returns this endpoint's wire-form listening address.
func (e *Endpoint) Address() digest.PeerAddr { return e.self }

// Close stops accepting and tears down every live connection.
func (e *Endpoint) Close() error {
	err := e.listener.Close()

	e.mu.Lock()
	conns := make([]*Connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	for _, c := range conns {
		c.loseConnection(net.ErrClosed)
	}
	return err
}

func (e *Endpoint) acceptLoop() {
	for {
		raw, err := e.listener.Accept()
		if err != nil {
			e.log.Info("endpoint stopped accepting", "err", err)
			return
		}
		go e.upgradeAndRegister(raw)
	}
}

// Connect dials peer if it isn't already connected, per spec.md §4.6: a
// pre-existing entry is a silent no-op, not an error.
func (e *Endpoint) Connect(peer digest.PeerAddr) error {
	e.mu.Lock()
	_, exists := e.conns[peer]
	e.mu.Unlock()
	if exists {
		return nil
	}

	dialer := &net.Dialer{
		LocalAddr: e.listener.Addr().(*net.TCPAddr),
		Control:   reusePortControl,
	}
	raw, err := dialer.Dial("tcp4", peer.String())
	if err != nil {
		return fmt.Errorf("p2p: dial %s: %w", peer, err)
	}
	go e.upgradeAndRegister(raw)
	return nil
}

func (e *Endpoint) upgradeAndRegister(raw net.Conn) {
	remote, err := peerAddrOf(raw.RemoteAddr())
	if err != nil {
		e.log.Warn("unsupported remote address", "addr", raw.RemoteAddr(), "err", err)
		raw.Close()
		return
	}

	tlsConn, isServer, err := Upgrade(raw, e.tlsConfig)
	if err != nil {
		e.log.Warn("tls upgrade failed", "remote", remote.String(), "err", err)
		raw.Close()
		return
	}
	e.log.Debug("tls upgrade resolved", "remote", remote.String(), "server", isServer)

	conn := newConnection(e, remote, tlsConn)

	e.mu.Lock()
	e.conns[remote] = conn
	e.mu.Unlock()
}

// Snapshot reports every live connection's slot occupancy, for the status
// surface.
func (e *Endpoint) Snapshot() []ConnSnapshot {
	e.mu.Lock()
	conns := make([]*Connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	out := make([]ConnSnapshot, len(conns))
	for i, c := range conns {
		out[i] = c.Snapshot()
	}
	return out
}

// forget removes addr from the connection table; called by Connection once
// it has torn itself down.
func (e *Endpoint) forget(addr digest.PeerAddr) {
	e.mu.Lock()
	delete(e.conns, addr)
	e.mu.Unlock()
}

func peerAddrOf(a net.Addr) (digest.PeerAddr, error) {
	tcp, ok := a.(*net.TCPAddr)
	if !ok {
		return digest.PeerAddr{}, fmt.Errorf("p2p: %v is not a TCP address", a)
	}
	return digest.NewPeerAddr(tcp.IP, uint16(tcp.Port))
}
