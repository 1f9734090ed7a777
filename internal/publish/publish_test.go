// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package publish

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gittuf/tuf-on-git/internal/clock"
	"github.com/gittuf/tuf-on-git/internal/offlineeditor"
	"github.com/gittuf/tuf-on-git/internal/onlineupdater"
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

// bootstrap builds a full publishable repository: offline roles, one
// delegated role with a target file on disk, snapshot and timestamp.
func bootstrap(t *testing.T) (*repostore.Store, *clockwork.FakeClock) {
	t.Helper()
	clk := clock.Fake(time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC))
	registry := signer.DefaultRegistry()
	store := repostore.Open(filepath.Join(t.TempDir(), "metadata"), "")

	aliceKey, aliceURI := newTestKey(t, "ALICE_KEY")
	engine := signingevent.New(store, registry, clk, "@alice", aliceURI, nil)

	config := &offlineeditor.OfflineConfig{Signers: []string{"@alice"}, Threshold: 1, ExpiryPeriodDays: 365, SigningPeriodDays: 60}
	require.NoError(t, engine.Editor().SetRoleConfig(context.Background(), tuf.RoleRoot, config, aliceKey))
	require.NoError(t, engine.Editor().SetRoleConfig(context.Background(), tuf.RoleTargets, config, aliceKey))
	require.NoError(t, engine.Editor().SetRoleConfig(context.Background(), "npm", config, aliceKey))

	onlineKey, onlineURI := newTestKey(t, "ONLINE_KEY")
	onlineKey.XOnlineURI = onlineURI
	require.NoError(t, engine.Editor().SetOnlineConfig(context.Background(), &offlineeditor.OnlineConfig{
		Keys:                []*tuf.Key{onlineKey},
		TimestampExpiryDays: 1,
		SnapshotExpiryDays:  7,
	}))

	require.NoError(t, os.MkdirAll(filepath.Join(store.TargetsDir(), "npm"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(store.TargetsDir(), "npm", "pkg.tgz"), []byte("package-bytes"), 0o644))
	_, err := engine.UpdateTargets(context.Background())
	require.NoError(t, err)

	updater := onlineupdater.New(store, registry, clk, nil)
	_, _, err = updater.Snapshot(context.Background())
	require.NoError(t, err)
	_, err = updater.Timestamp(context.Background())
	require.NoError(t, err)

	return store, clk
}

func TestPublishEmitsConsistentSnapshotTree(t *testing.T) {
	store, clk := bootstrap(t)
	outDir := t.TempDir()

	require.NoError(t, New(store, clk).Publish(outDir))

	snapshot, err := store.OpenRole(tuf.RoleSnapshot)
	require.NoError(t, err)
	historyVersions, err := store.RootHistoryVersions()
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(outDir, "metadata"))
	require.NoError(t, err)

	// |root_history| + snapshot + timestamp + one per snapshot meta entry.
	expected := len(historyVersions) + 1 + 1 + len(snapshot.Snapshot.Signed.Meta)
	assert.Len(t, entries, expected)

	for _, version := range historyVersions {
		assert.FileExists(t, filepath.Join(outDir, "metadata", fmt.Sprintf("%d.root.json", version)))
	}
	assert.FileExists(t, filepath.Join(outDir, "metadata", fmt.Sprintf("%d.snapshot.json", snapshot.Version())))
	assert.FileExists(t, filepath.Join(outDir, "metadata", "timestamp.json"))

	// The versioned copy is byte-identical to the committed file.
	targetsVersion := snapshot.Snapshot.Signed.Meta["targets.json"].Version
	published, err := os.ReadFile(filepath.Join(outDir, "metadata", fmt.Sprintf("%d.targets.json", targetsVersion)))
	require.NoError(t, err)
	committed, err := store.ReadRoleBytes(tuf.RoleTargets)
	require.NoError(t, err)
	assert.Equal(t, committed, published)

	// One target copy per declared hash.
	sum := sha256.Sum256([]byte("package-bytes"))
	assert.FileExists(t, filepath.Join(outDir, "targets", "npm", hex.EncodeToString(sum[:])+".pkg.tgz"))
}

func TestPublishRefusesExpiredMetadata(t *testing.T) {
	store, clk := bootstrap(t)

	// The timestamp lapses after a day with no resign.
	clk.Advance(36 * time.Hour)
	err := New(store, clk).Publish(t.TempDir())
	assert.ErrorIs(t, err, ErrMetadataExpired)
}

func TestPublishRefusesExpiryBeyondPeriod(t *testing.T) {
	store, clk := bootstrap(t)

	targets, err := store.OpenRole(tuf.RoleTargets)
	require.NoError(t, err)
	targets.SetExpires(clk.Now().Add(2 * 365 * 24 * time.Hour))
	require.NoError(t, store.Write(tuf.RoleTargets, targets))

	err = New(store, clk).Publish(t.TempDir())
	assert.ErrorIs(t, err, tuf.ErrExpiryTooFar)
}
