// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package repostore

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gittuf/tuf-on-git/internal/tuf"
)

func TestOpenRoleMissingNonOnline(t *testing.T) {
	s := Open(t.TempDir(), "")
	_, err := s.OpenRole(tuf.RoleTargets)
	assert.ErrorIs(t, err, ErrRoleMissing)
}

func TestOpenRoleDefaultsOnlineRoles(t *testing.T) {
	s := Open(t.TempDir(), "")

	snap, err := s.OpenRole(tuf.RoleSnapshot)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Version())

	ts, err := s.OpenRole(tuf.RoleTimestamp)
	require.NoError(t, err)
	assert.Equal(t, 0, ts.Version())
}

func TestWriteAndReopenRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, "")

	md := tuf.NewAny(tuf.KindTargets)
	md.SetVersion(1)
	md.SetExpires(time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC))
	md.SetExpiryPeriodDays(7)

	require.NoError(t, s.Write(tuf.RoleTargets, md))

	reopened, err := s.OpenRole(tuf.RoleTargets)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Version())
}

func TestWriteRootAppendsHistory(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, "")

	for v := 1; v <= 3; v++ {
		md := tuf.NewAny(tuf.KindRoot)
		md.SetVersion(v)
		require.NoError(t, s.Write(tuf.RoleRoot, md))
	}

	versions, err := s.RootHistoryVersions()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, versions)

	for v := 1; v <= 3; v++ {
		assert.FileExists(t, filepath.Join(dir, "root_history", fmt.Sprintf("%d.root.json", v)))
	}
}

func TestEventStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, "")

	empty, err := s.LoadEventState()
	require.NoError(t, err)
	assert.True(t, empty.Empty())

	state := &EventState{Invites: map[string][]string{"@alice": {"targets"}}}
	require.NoError(t, s.SaveEventState(state))
	assert.FileExists(t, filepath.Join(dir, eventStateFilename))

	loaded, err := s.LoadEventState()
	require.NoError(t, err)
	assert.Equal(t, []string{"targets"}, loaded.Invites["@alice"])

	require.NoError(t, s.SaveEventState(&EventState{}))
	assert.NoFileExists(t, filepath.Join(dir, eventStateFilename))
}

func TestBaselineVersion(t *testing.T) {
	baseline := t.TempDir()
	baselineStore := Open(baseline, "")
	md := tuf.NewAny(tuf.KindTargets)
	md.SetVersion(4)
	require.NoError(t, baselineStore.Write(tuf.RoleTargets, md))

	s := Open(t.TempDir(), baseline)
	v, ok, err := s.BaselineVersion(tuf.RoleTargets)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, v)

	_, ok, err = s.BaselineVersion(tuf.RoleSnapshot)
	require.NoError(t, err)
	assert.False(t, ok)
}
