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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testCA mints leaf certificates for the two ends of a test handshake, all
// signed by one shared CA — the shared-CA mutual authentication model
// spec.md §6 describes.
type testCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	pool *x509.CertPool
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "club-test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &testCA{cert: cert, key: key, pool: pool}
}

func (ca *testCA) issue(t *testing.T, commonName string) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func (ca *testCA) config(t *testing.T, commonName string) *tls.Config {
	t.Helper()
	return &tls.Config{
		Certificates: []tls.Certificate{ca.issue(t, commonName)},
		RootCAs:      ca.pool,
		ClientCAs:    ca.pool,
		MinVersion:   tls.VersionTLS12,
		ServerName:   "127.0.0.1",
	}
}

// TestSymmetricUpgradeResolvesExactlyOneServer is scenario S5: both sides
// race ClientHellos over one raw socket; exactly one becomes the TLS
// server, application bytes flow cleanly afterward.
func TestSymmetricUpgradeResolvesExactlyOneServer(t *testing.T) {
	ca := newTestCA(t)
	cfgA := ca.config(t, "peer-a")
	cfgB := ca.config(t, "peer-b")

	rawA, rawB := net.Pipe()

	type result struct {
		conn   net.Conn
		err    error
		server bool
	}
	results := make(chan result, 2)

	upgrade := func(raw net.Conn, cfg *tls.Config) {
		conn, isServer, err := Upgrade(raw, cfg)
		results <- result{conn: conn, err: err, server: isServer}
	}

	go upgrade(rawA, cfgA)
	go upgrade(rawB, cfgB)

	r1 := <-results
	r2 := <-results
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	require.NotEqual(t, r1.server, r2.server, "exactly one side must become the TLS server")

	var serverConn, clientConn net.Conn
	if r1.server {
		serverConn, clientConn = r1.conn, r2.conn
	} else {
		serverConn, clientConn = r2.conn, r1.conn
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, len("hello over tls"))
		_, err := io.ReadFull(serverConn, buf)
		require.NoError(t, err)
		require.Equal(t, "hello over tls", string(buf))
	}()

	_, err := clientConn.Write([]byte("hello over tls"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for application data round trip")
	}
}

