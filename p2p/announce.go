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
	"encoding/binary"
	"io"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/probechain/go-club/club"
	"github.com/probechain/go-club/clublog"
	"github.com/probechain/go-club/digest"
)

// Announcer periodically reports this peer's listen addresses to the
// tracker and dials back whatever addresses it returns, per spec.md §6's
// tracker protocol and §9's periodic-task design note. The only timeouts
// in the core exist here; everything else relies on TCP/TLS for liveness.
type Announcer struct {
	club        *club.Club
	endpoint    *Endpoint
	trackerAddr string
	delay       time.Duration
	interval    time.Duration

	// limiter caps reconnect fan-out per tick — an addition beyond the
	// original source, so one tracker response with many peers can't
	// open a burst of outbound dials all at once.
	limiter *rate.Limiter
	log     *clublog.Logger
}

// NewAnnouncer builds an Announcer that will contact trackerAddr (host:port)
// after delay, then every interval thereafter.
func NewAnnouncer(c *club.Club, ep *Endpoint, trackerAddr string, delay, interval time.Duration) *Announcer {
	return &Announcer{
		club:        c,
		endpoint:    ep,
		trackerAddr: trackerAddr,
		delay:       delay,
		interval:    interval,
		limiter:     rate.NewLimiter(rate.Limit(10), 10),
		log:         clublog.With("component", "announcer", "tracker", trackerAddr),
	}
}

// Run blocks, announcing on every tick until ctx is cancelled.
func (a *Announcer) Run(ctx context.Context) {
	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		a.announceOnce(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (a *Announcer) announceOnce(ctx context.Context) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", a.trackerAddr)
	if err != nil {
		a.log.Debug("tracker unreachable, will retry", "err", err)
		return
	}
	defer conn.Close()

	self := a.club.SelfAddresses()
	out := make([]byte, 2+6*len(self))
	binary.BigEndian.PutUint16(out, uint16(len(self)))
	for i, addr := range self {
		copy(out[2+6*i:], addr[:])
	}
	if _, err := conn.Write(out); err != nil {
		a.log.Debug("tracker announce write failed", "err", err)
		return
	}

	var nBuf [2]byte
	if _, err := io.ReadFull(conn, nBuf[:]); err != nil {
		a.log.Debug("tracker peer count read failed", "err", err)
		return
	}
	n := binary.BigEndian.Uint16(nBuf[:])

	for i := 0; i < int(n); i++ {
		var raw [6]byte
		if _, err := io.ReadFull(conn, raw[:]); err != nil {
			a.log.Debug("tracker peer list truncated", "err", err)
			return
		}
		peer, err := digest.PeerAddrFromBytes(raw[:])
		if err != nil {
			continue
		}
		if a.club.IsSelf(peer) {
			continue
		}
		if !a.limiter.Allow() {
			a.log.Debug("reconnect fan-out capped, skipping peer this tick", "peer", peer)
			continue
		}
		if err := a.endpoint.Connect(peer); err != nil {
			a.log.Debug("connect to announced peer failed", "peer", peer, "err", err)
		}
	}
}
