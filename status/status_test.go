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

package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probechain/go-club/club"
	"github.com/probechain/go-club/digest"
	"github.com/probechain/go-club/p2p"
	"github.com/probechain/go-club/store"
)

func TestStatusEndpointReportsStoreAndEngineCounts(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	c := club.New(st)
	defer c.Close()

	// A zero-value Endpoint has no live connections but satisfies
	// Snapshot() without opening a real socket, which is all this test
	// needs from it.
	srv := New(c, st, &p2p.Endpoint{})

	payload := []byte("status test object")
	d := digest.Of(payload)
	f, err := st.StagingCreate(d)
	require.NoError(t, err)
	_, err = f.Write(payload)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, st.Commit(d))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 1, got.StoredObjects)
	require.Equal(t, club.Stats{}, got.Stats) // no advertisements seen, nothing downloading
}
