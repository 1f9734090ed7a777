// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package onlineupdater

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gittuf/tuf-on-git/internal/clock"
	"github.com/gittuf/tuf-on-git/internal/offlineeditor"
	"github.com/gittuf/tuf-on-git/internal/repostore"
	"github.com/gittuf/tuf-on-git/internal/signer"
	"github.com/gittuf/tuf-on-git/internal/signingevent"
	"github.com/gittuf/tuf-on-git/internal/tuf"
)

func newTestKey(t *testing.T, envName string) (*tuf.Key, string) {
	t.Helper()
	_, private, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	t.Setenv(envName, hex.EncodeToString(private))

	uri := "envvar:" + envName
	sv, err := signer.DefaultRegistry().Get(context.Background(), uri, nil, nil)
	require.NoError(t, err)
	return sv.Public(), uri
}

// bootstrap initializes a repository with one offline signer and one
// envvar online key (timestamp expires in 1 day, snapshot in 7), and
// returns an Updater over it.
func bootstrap(t *testing.T) (*repostore.Store, *Updater, *clockwork.FakeClock, *offlineeditor.Editor) {
	t.Helper()
	clk := clock.Fake(time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC))
	registry := signer.DefaultRegistry()
	store := repostore.Open(filepath.Join(t.TempDir(), "metadata"), "")

	aliceKey, aliceURI := newTestKey(t, "ALICE_KEY")
	editor := offlineeditor.New(store, registry, clk, "@alice", aliceURI, nil)

	config := &offlineeditor.OfflineConfig{Signers: []string{"@alice"}, Threshold: 1, ExpiryPeriodDays: 365, SigningPeriodDays: 60}
	require.NoError(t, editor.SetRoleConfig(context.Background(), tuf.RoleRoot, config, aliceKey))
	require.NoError(t, editor.SetRoleConfig(context.Background(), tuf.RoleTargets, config, aliceKey))

	onlineKey, onlineURI := newTestKey(t, "ONLINE_KEY")
	onlineKey.XOnlineURI = onlineURI
	require.NoError(t, editor.SetOnlineConfig(context.Background(), &offlineeditor.OnlineConfig{
		Keys:                []*tuf.Key{onlineKey},
		TimestampExpiryDays: 1,
		SnapshotExpiryDays:  7,
	}))

	return store, New(store, registry, clk, nil), clk, editor
}

func TestSnapshotAndTimestampCreation(t *testing.T) {
	store, updater, _, _ := bootstrap(t)

	changed, meta, err := updater.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, meta["targets.json"].Version)
	assert.NotContains(t, meta, "root.json")

	snapshot, err := store.OpenRole(tuf.RoleSnapshot)
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.Version())
	require.Len(t, snapshot.Signatures(), 1)
	assert.NotEmpty(t, snapshot.Signatures()[0].Sig)

	version, err := updater.Timestamp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	timestamp, err := store.OpenRole(tuf.RoleTimestamp)
	require.NoError(t, err)
	assert.Equal(t, 1, timestamp.Timestamp.Signed.Meta[tuf.TimestampMetaFilename].Version)

	// Unchanged targets: no new snapshot.
	changed, _, err = updater.Snapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSnapshotTracksTargetsBump(t *testing.T) {
	store, updater, clk, _ := bootstrap(t)

	_, _, err := updater.Snapshot(context.Background())
	require.NoError(t, err)
	_, err = updater.Timestamp(context.Background())
	require.NoError(t, err)

	// A signing event starts: the merged state is the baseline, and a
	// target change bumps targets past it.
	baselineDir := filepath.Join(t.TempDir(), "metadata")
	baseline := repostore.Open(baselineDir, "")
	roles, err := store.ListRoles()
	require.NoError(t, err)
	for _, role := range roles {
		md, err := store.OpenRole(role)
		require.NoError(t, err)
		require.NoError(t, baseline.Write(role, md))
	}
	store = repostore.Open(store.MetadataDir(), baselineDir)
	editor := offlineeditor.New(store, signer.DefaultRegistry(), clk, "@alice", "envvar:ALICE_KEY", nil)

	_, err = editor.Edit(context.Background(), tuf.RoleTargets, func(md *tuf.Any) error {
		md.Targets.Signed.Targets["file.txt"] = tuf.TargetFileInfo{Length: 5, Hashes: map[string]string{"sha256": "aa"}}
		return nil
	})
	require.NoError(t, err)

	targets, err := store.OpenRole(tuf.RoleTargets)
	require.NoError(t, err)

	changed, meta, err := updater.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, targets.Version(), meta["targets.json"].Version)

	snapshot, err := store.OpenRole(tuf.RoleSnapshot)
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.Version())
}

func TestBumpIfExpiringTimestamp(t *testing.T) {
	store, updater, clk, _ := bootstrap(t)

	_, _, err := updater.Snapshot(context.Background())
	require.NoError(t, err)
	_, err = updater.Timestamp(context.Background())
	require.NoError(t, err)

	// Freshly written: expires in 24h, default signing window is 13h.
	version, err := updater.BumpIfExpiring(context.Background(), tuf.RoleTimestamp)
	require.NoError(t, err)
	assert.Zero(t, version, "still fresh, no bump")

	// 18h later the timestamp has 6h left, inside the window.
	clk.Advance(18 * time.Hour)
	version, err = updater.BumpIfExpiring(context.Background(), tuf.RoleTimestamp)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	timestamp, err := store.OpenRole(tuf.RoleTimestamp)
	require.NoError(t, err)
	assert.Equal(t, 2, timestamp.Version())
	require.Len(t, timestamp.Signatures(), 1)
	assert.NotEmpty(t, timestamp.Signatures()[0].Sig)

	// Immediately after the resign there is nothing to do.
	version, err = updater.BumpIfExpiring(context.Background(), tuf.RoleTimestamp)
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestBumpIfExpiringNothingWrittenYet(t *testing.T) {
	_, updater, _, _ := bootstrap(t)

	version, err := updater.BumpIfExpiring(context.Background(), tuf.RoleSnapshot)
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestBumpIfExpiringRejectsOfflineRoles(t *testing.T) {
	_, updater, _, _ := bootstrap(t)

	_, err := updater.BumpIfExpiring(context.Background(), tuf.RoleTargets)
	assert.ErrorIs(t, err, signingevent.ErrOnlineRole)
}

func TestOnlineWriteBelowThresholdIsFatal(t *testing.T) {
	store, updater, _, _ := bootstrap(t)

	// The online key's backing material disappears: signing must fail
	// closed, leaving no snapshot behind.
	t.Setenv("ONLINE_KEY", "")

	_, _, err := updater.Snapshot(context.Background())
	assert.ErrorIs(t, err, signingevent.ErrThresholdNotMet)

	snapshot, err := store.OpenRole(tuf.RoleSnapshot)
	require.NoError(t, err)
	assert.Equal(t, 0, snapshot.Version(), "nothing may be written")
}

func TestTimestampRequiresSnapshot(t *testing.T) {
	_, updater, _, _ := bootstrap(t)

	_, err := updater.Timestamp(context.Background())
	assert.Error(t, err)
}
