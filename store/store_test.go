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

package store

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/cp"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/probechain/go-club/digest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := openMem(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStageCommitRoundTrip(t *testing.T) {
	s := openTestStore(t)
	payload := []byte("hello, club")
	d := digest.Of(payload)

	require.False(t, s.Contains(d))

	f, err := s.StagingCreate(d)
	require.NoError(t, err)
	_, err = f.Write(payload)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ok, err := s.VerifyStaging(d)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Commit(d))
	require.True(t, s.Contains(d))

	r, found, err := s.Open(d)
	require.NoError(t, err)
	require.True(t, found)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestStagingCreateRejectsDuplicate(t *testing.T) {
	s := openTestStore(t)
	d := digest.Of([]byte("dup"))

	f, err := s.StagingCreate(d)
	require.NoError(t, err)
	defer f.Close()

	_, err = s.StagingCreate(d)
	require.ErrorIs(t, err, ErrExists)
}

func TestOpenMissingReturnsNotFoundSentinel(t *testing.T) {
	s := openTestStore(t)
	r, found, err := s.Open(digest.Of([]byte("absent")))
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, r)
}

func TestVerifyStagingDetectsMismatch(t *testing.T) {
	s := openTestStore(t)
	wrong := digest.Of([]byte("not this"))

	f, err := s.StagingCreate(wrong)
	require.NoError(t, err)
	_, err = f.Write([]byte("something else entirely"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ok, err := s.VerifyStaging(wrong)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListEnumeratesCommittedDigestsOnly(t *testing.T) {
	s := openTestStore(t)
	var want []digest.Digest
	for _, payload := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		d := digest.Of(payload)
		f, err := s.StagingCreate(d)
		require.NoError(t, err)
		_, err = f.Write(payload)
		require.NoError(t, err)
		require.NoError(t, f.Close())
		require.NoError(t, s.Commit(d))
		want = append(want, d)
	}

	// A staged but uncommitted object must not be listed.
	staged, err := s.StagingCreate(digest.Of([]byte("staged only")))
	require.NoError(t, err)
	require.NoError(t, staged.Close())

	got, err := s.List()
	require.NoError(t, err)

	// cmp.Diff sorts neither side, so compare as sets via a digest->bool map;
	// a mismatch here prints a readable diff instead of testify's two dumps.
	toSet := func(ds []digest.Digest) map[digest.Digest]bool {
		m := make(map[digest.Digest]bool, len(ds))
		for _, d := range ds {
			m[d] = true
		}
		return m
	}
	if diff := cmp.Diff(toSet(want), toSet(got)); diff != "" {
		t.Fatalf("List() mismatch (-want +got):\n%s\nfull want: %s", diff, spew.Sdump(want))
	}
}

// TestRebuildIndexPicksUpPreExistingFiles covers the case where cur/ is
// seeded out-of-band, by a process other than this one, before the store
// is ever opened by this process.
func TestRebuildIndexPicksUpPreExistingFiles(t *testing.T) {
	golden := t.TempDir()
	for _, d := range []string{"tmp", "new", "cur"} {
		require.NoError(t, os.MkdirAll(filepath.Join(golden, d), 0o755))
	}
	payload := []byte("seeded out of band")
	digestName := digest.Of(payload).Hex()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "cur", digestName), payload, 0o644))

	dir := t.TempDir()
	require.NoError(t, cp.CopyAll(dir, golden))

	s, err := openMem(dir)
	require.NoError(t, err)
	defer s.Close()

	require.True(t, s.Contains(digest.Of(payload)))
}

func TestContainsFallsBackToFilesystemOnIndexMiss(t *testing.T) {
	s := openTestStore(t)
	payload := []byte("reindex me")
	d := digest.Of(payload)

	require.NoError(t, os.WriteFile(s.curPath(d), payload, 0o644))
	require.True(t, s.Contains(d))
}

func TestDiscardStagingRemovesPartialFile(t *testing.T) {
	s := openTestStore(t)
	d := digest.Of([]byte("partial"))

	f, err := s.StagingCreate(d)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, s.DiscardStaging(d))
	_, err = s.StagingCreate(d)
	require.NoError(t, err, "staging slot should be free again after discard")
}

func TestRebuildIndexIgnoresNonDigestFilenames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir+"/cur", 0o755))
	require.NoError(t, os.MkdirAll(dir+"/tmp", 0o755))
	require.NoError(t, os.MkdirAll(dir+"/new", 0o755))
	require.NoError(t, os.WriteFile(dir+"/cur/not-a-digest", []byte("x"), 0o644))

	s, err := openMem(dir)
	require.NoError(t, err)
	defer s.Close()

	indexed, err := s.index.Has([]byte("not-a-digest"), nil)
	require.NoError(t, err)
	require.False(t, indexed)

	list, err := s.List()
	require.NoError(t, err)
	require.Empty(t, list)
}
