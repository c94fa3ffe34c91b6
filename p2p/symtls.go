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
	"bufio"
	"bytes"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/probechain/go-club/clublog"
)

// randomOffset and randomLen locate the 28-byte "random bytes" field inside
// a captured ClientHello (or a received TLS record carrying one): 5 bytes
// of record header, 4 bytes of handshake header, 2 bytes of client_version
// and 4 bytes of gmt_unix_time land us at offset 15; see spec §4.2 step 2-3.
const (
	randomOffset = 15
	randomLen    = 28
	recordHeaderLen = 5
)

// ErrReflectedHello is returned when both sides' ClientHello randoms are
// identical — a reflection or replay, not a legitimate symmetric race.
var ErrReflectedHello = errors.New("p2p: identical ClientHello randoms, aborting")

// switchConn is the net.Conn handed to the speculative TLS client engine.
// Its first Write is captured instead of transmitted; its Read blocks until
// armed with the real read source. Every later Write (which can only occur
// if this engine survives the tie-break) is forwarded straight to raw.
//
// This is the Go equivalent of the Python source's CaptureClientHello
// transport plus the ProxyProtocol.switch() reattachment: Go's crypto/tls
// can't rebind a live *tls.Conn to a different net.Conn, so instead we keep
// the net.Conn identity stable and redirect what it reads from and writes
// to underneath the already-constructed *tls.Conn.
type switchConn struct {
	raw net.Conn

	helloCh  chan []byte
	wroteOne bool

	readSource chan io.Reader
	reader     io.Reader
}

func newSwitchConn(raw net.Conn) *switchConn {
	return &switchConn{
		raw:        raw,
		helloCh:    make(chan []byte, 1),
		readSource: make(chan io.Reader, 1),
	}
}

func (c *switchConn) Write(p []byte) (int, error) {
	if !c.wroteOne {
		c.wroteOne = true
		cp := make([]byte, len(p))
		copy(cp, p)
		c.helloCh <- cp
		return len(p), nil
	}
	return c.raw.Write(p)
}

func (c *switchConn) Read(p []byte) (int, error) {
	if c.reader == nil {
		r, ok := <-c.readSource
		if !ok {
			return 0, io.ErrClosedPipe
		}
		c.reader = r
	}
	return c.reader.Read(p)
}

// arm unblocks a pending Read with r, promoting this engine to read from
// the real transport (the client-continuation path of the tie-break).
func (c *switchConn) arm(r io.Reader) { c.readSource <- r }

// abandon unblocks a pending Read with an error, discarding this engine
// (the become-server path of the tie-break).
func (c *switchConn) abandon() { close(c.readSource) }

func (c *switchConn) Close() error                    { return nil } // raw owns the real lifetime
func (c *switchConn) LocalAddr() net.Addr             { return c.raw.LocalAddr() }
func (c *switchConn) RemoteAddr() net.Addr            { return c.raw.RemoteAddr() }
func (c *switchConn) SetDeadline(t time.Time) error   { return c.raw.SetDeadline(t) }
func (c *switchConn) SetReadDeadline(t time.Time) error  { return c.raw.SetReadDeadline(t) }
func (c *switchConn) SetWriteDeadline(t time.Time) error { return c.raw.SetWriteDeadline(t) }

// replayConn is handed to the promoted tls.Server; Reads first drain the
// already-consumed peer ClientHello record, then fall through to whatever
// is left buffered (and subsequently arrives) on the real socket.
type replayConn struct {
	net.Conn
	r io.Reader
}

func (c *replayConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// Upgrade resolves the symmetric TLS race on raw and returns the
// authenticated stream. cfg must carry this peer's certificate, the CA used
// to verify the remote peer's certificate (RootCAs for the client role,
// ClientCAs for the server role; Upgrade itself sets ClientAuth to require
// and verify the client certificate) — see cmd/clubpeer for how it is built.
//
// The returned bool reports whether this side was promoted to TLS server,
// for callers that want to log or test the tie-break outcome; it carries
// no semantic weight beyond that (the returned net.Conn behaves the same
// either way).
func Upgrade(raw net.Conn, cfg *tls.Config) (net.Conn, bool, error) {
	sc := newSwitchConn(raw)
	clientTLS := tls.Client(sc, cfg.Clone())

	handshakeErr := make(chan error, 1)
	go func() { handshakeErr <- clientTLS.Handshake() }()

	outHello := <-sc.helloCh
	if len(outHello) < randomOffset+randomLen {
		return nil, false, fmt.Errorf("p2p: captured ClientHello too short (%d bytes)", len(outHello))
	}
	ourRandom := outHello[randomOffset : randomOffset+randomLen]

	if _, err := raw.Write(outHello); err != nil {
		return nil, false, fmt.Errorf("p2p: sending ClientHello: %w", err)
	}

	br := bufio.NewReader(raw)
	peerRecord, err := readTLSRecord(br)
	if err != nil {
		return nil, false, fmt.Errorf("p2p: reading peer ClientHello: %w", err)
	}
	if len(peerRecord) < randomOffset+randomLen {
		return nil, false, fmt.Errorf("p2p: peer ClientHello too short (%d bytes)", len(peerRecord))
	}
	peerRandom := peerRecord[randomOffset : randomOffset+randomLen]

	switch bytes.Compare(ourRandom, peerRandom) {
	case 0:
		raw.Close()
		return nil, false, ErrReflectedHello

	case 1: // ours > peer's: we become the TLS server
		sc.abandon()
		go func() {
			if err := <-handshakeErr; err != nil {
				clublog.Debug("discarded speculative client handshake", "err", err)
			}
		}()

		serverCfg := cfg.Clone()
		serverCfg.ClientAuth = tls.RequireAndVerifyClientCert
		conn := &replayConn{
			Conn: raw,
			r:    io.MultiReader(bytes.NewReader(peerRecord), br),
		}
		serverTLS := tls.Server(conn, serverCfg)
		if err := serverTLS.Handshake(); err != nil {
			return nil, false, fmt.Errorf("p2p: server-side handshake: %w", err)
		}
		return serverTLS, true, nil

	default: // ours < peer's: we stay the TLS client, reusing the started engine
		sc.arm(br)
		if err := <-handshakeErr; err != nil {
			return nil, false, fmt.Errorf("p2p: client-side handshake: %w", err)
		}
		return clientTLS, false, nil
	}
}

// readTLSRecord reads one TLS record (5-byte header plus its body) from br
// and returns the header and body concatenated, matching the byte range
// the random-comparison offsets are computed against.
func readTLSRecord(br *bufio.Reader) ([]byte, error) {
	header := make([]byte, recordHeaderLen)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(header[3:5])

	body := make([]byte, length)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, err
	}
	return append(header, body...), nil
}
