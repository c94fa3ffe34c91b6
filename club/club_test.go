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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/probechain/go-club/digest"
	"github.com/probechain/go-club/store"
)

// fakeConn is a test double satisfying Conn; each instance models one
// connection's request slot.
type fakeConn struct {
	name string

	mu       sync.Mutex
	busy     bool
	requests []digest.Digest
}

func newFakeConn(name string) *fakeConn { return &fakeConn{name: name} }

func (c *fakeConn) TryRequest(d digest.Digest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return false
	}
	c.busy = true
	c.requests = append(c.requests, d)
	return true
}

// String implements fmt.Stringer, exercising the same labeling path
// club.Event uses for the real p2p.Connection.
func (c *fakeConn) String() string { return c.name }

func (c *fakeConn) lastRequest() (digest.Digest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return digest.Digest{}, false
	}
	return c.requests[len(c.requests)-1], true
}

func (c *fakeConn) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *fakeConn) freeSlot() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
}

func newTestClub(t *testing.T) *Club {
	t.Helper()
	// openMem is unexported; tests in this package build a real on-disk
	// store rooted at a throwaway directory instead.
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	c := New(st)
	t.Cleanup(func() {
		c.Close()
		st.Close()
	})
	return c
}

func TestOnAdvertiseStartsDownload(t *testing.T) {
	c := newTestClub(t)
	conn := newFakeConn("a")
	d := digest.Of([]byte("object one"))

	c.OnAdvertise(d, conn)

	got, ok := conn.lastRequest()
	require.True(t, ok)
	require.Equal(t, d, got)
	require.Equal(t, 1, c.Snapshot().Downloading)
}

func TestOnAdvertiseAlreadyCommittedIsNoop(t *testing.T) {
	c := newTestClub(t)
	conn := newFakeConn("a")
	payload := []byte("already have this")
	d := digest.Of(payload)

	f, err := c.store.StagingCreate(d)
	require.NoError(t, err)
	_, err = f.Write(payload)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, c.store.Commit(d))

	c.OnAdvertise(d, conn)

	require.Equal(t, 0, conn.requestCount())
	require.Equal(t, 0, c.Snapshot().Downloading)
}

func TestDuplicateAdvertiseDoesNotTriggerSecondDownload(t *testing.T) {
	c := newTestClub(t)
	a, b := newFakeConn("a"), newFakeConn("b")
	d := digest.Of([]byte("s2"))

	c.OnAdvertise(d, a)
	c.OnAdvertise(d, b)

	require.Equal(t, 1, a.requestCount())
	require.Equal(t, 0, b.requestCount())
	require.Equal(t, 1, c.Snapshot().Downloading)
}

func TestOnCompleteReassignsOtherAdvertisers(t *testing.T) {
	c := newTestClub(t)
	a, b := newFakeConn("a"), newFakeConn("b")
	d1 := digest.Of([]byte("d1"))
	d2 := digest.Of([]byte("d2"))

	// a advertises d1 first and downloads it. b's request slot is already
	// occupied when it advertises d1 and d2, so neither starts a download
	// on b; once d1 completes and b's slot is free again, b should be asked
	// for d2 next.
	c.OnAdvertise(d1, a)
	require.True(t, b.TryRequest(digest.Of([]byte("unrelated"))))
	c.OnAdvertise(d1, b)
	c.OnAdvertise(d2, b)
	require.Equal(t, 1, b.requestCount())

	f, err := c.store.StagingCreate(d1)
	require.NoError(t, err)
	_, err = f.Write([]byte("d1"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	b.freeSlot()
	c.OnComplete(d1, a)

	got, ok := b.lastRequest()
	require.True(t, ok)
	require.Equal(t, d2, got)
}

func TestOnFailOffersToOtherAdvertiser(t *testing.T) {
	c := newTestClub(t)
	a, b := newFakeConn("a"), newFakeConn("b")
	d := digest.Of([]byte("s3"))

	c.OnAdvertise(d, a)
	c.OnAdvertise(d, b)
	require.Equal(t, 1, a.requestCount())
	require.Equal(t, 0, b.requestCount())

	a.freeSlot() // simulate the failed slot being cleared by the Connection
	c.OnFail(d, a)

	got, ok := b.lastRequest()
	require.True(t, ok)
	require.Equal(t, d, got)
	require.Equal(t, 1, c.Snapshot().Downloading)
}

func TestOnFailWithNoOtherAdvertiserDropsDownloadMark(t *testing.T) {
	c := newTestClub(t)
	a := newFakeConn("a")
	d := digest.Of([]byte("solo"))

	c.OnAdvertise(d, a)
	a.freeSlot()
	c.OnFail(d, a)

	require.Equal(t, 0, c.Snapshot().Downloading)
}

func TestOnConnectionLostPrunesBothIndices(t *testing.T) {
	c := newTestClub(t)
	a, b := newFakeConn("a"), newFakeConn("b")
	d := digest.Of([]byte("lost"))

	c.OnAdvertise(d, a)
	c.OnAdvertise(d, b)

	c.OnConnectionLost(b)

	stats := c.Snapshot()
	require.Equal(t, 1, stats.TrackedConns)

	// b's loss must not affect a's in-flight download or a's index entry.
	c.OnFail(d, a)
	require.Equal(t, 0, c.Snapshot().Downloading)
}

func TestSubscribeReceivesLifecycleEvents(t *testing.T) {
	c := newTestClub(t)
	events, cancel := c.Subscribe()
	defer cancel()

	a := newFakeConn("a")
	d := digest.Of([]byte("observed"))
	c.OnAdvertise(d, a)

	var kinds []EventKind
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			kinds = append(kinds, ev.Kind)
			require.Equal(t, "a", ev.Conn)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	require.Equal(t, []EventKind{EventAdvertised, EventDownloadStart}, kinds)
}
