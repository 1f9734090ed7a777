// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package signingevent

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"os"
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
	"github.com/gittuf/tuf-on-git/internal/tuf"
)

func testClock() *clockwork.FakeClock {
	return clock.Fake(time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC))
}

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

type fixture struct {
	repoDir  string
	store    *repostore.Store
	engine   *Engine
	clk      *clockwork.FakeClock
	aliceKey *tuf.Key
	aliceURI string
}

// bootstrap initializes a repository with @alice as sole signer of root
// and targets and an envvar online key, the end state of a bootstrap
// signing event.
func bootstrap(t *testing.T) *fixture {
	t.Helper()
	clk := testClock()
	registry := signer.DefaultRegistry()
	repoDir := t.TempDir()
	store := repostore.Open(filepath.Join(repoDir, "metadata"), "")

	aliceKey, aliceURI := newTestKey(t, "ALICE_KEY")
	engine := New(store, registry, clk, "@alice", aliceURI, nil)

	config := &offlineeditor.OfflineConfig{Signers: []string{"@alice"}, Threshold: 1, ExpiryPeriodDays: 365, SigningPeriodDays: 60}
	require.NoError(t, engine.Editor().SetRoleConfig(context.Background(), tuf.RoleRoot, config, aliceKey))
	require.NoError(t, engine.Editor().SetRoleConfig(context.Background(), tuf.RoleTargets, config, aliceKey))

	onlineKey, onlineURI := newTestKey(t, "ONLINE_KEY")
	onlineKey.XOnlineURI = onlineURI
	require.NoError(t, engine.Editor().SetOnlineConfig(context.Background(), &offlineeditor.OnlineConfig{
		Keys:                []*tuf.Key{onlineKey},
		TimestampExpiryDays: 1,
		SnapshotExpiryDays:  7,
	}))

	return &fixture{repoDir: repoDir, store: store, engine: engine, clk: clk, aliceKey: aliceKey, aliceURI: aliceURI}
}

// merge snapshots the current metadata as the known-good baseline and
// rebinds the fixture's store and engine to it, like starting a fresh
// signing event after the previous one merged.
func (f *fixture) merge(t *testing.T) {
	t.Helper()
	baselineDir := filepath.Join(t.TempDir(), "metadata")
	baseline := repostore.Open(baselineDir, "")

	roles, err := f.store.ListRoles()
	require.NoError(t, err)
	for _, role := range roles {
		md, err := f.store.OpenRole(role)
		require.NoError(t, err)
		require.NoError(t, baseline.Write(role, md))
	}

	f.store = repostore.Open(f.store.MetadataDir(), baselineDir)
	f.engine = New(f.store, signer.DefaultRegistry(), f.clk, "@alice", f.aliceURI, nil)
}

// as returns an engine over the same store acting as another user.
func (f *fixture) as(user, signingKeyURI string) *Engine {
	return New(f.store, signer.DefaultRegistry(), f.clk, user, signingKeyURI, nil)
}

func TestStatusAfterBootstrap(t *testing.T) {
	f := bootstrap(t)

	status, err := f.engine.Status(context.Background(), tuf.RoleRoot)
	require.NoError(t, err)
	assert.True(t, status.Valid, status.Message)
	assert.True(t, status.Signed.Has("@alice"))
	assert.Equal(t, 0, status.Missing.Len())
	assert.Equal(t, 1, status.Threshold)

	status, err = f.engine.Status(context.Background(), tuf.RoleTargets)
	require.NoError(t, err)
	assert.True(t, status.Valid, status.Message)
}

func TestStatusRejectsOnlineRoles(t *testing.T) {
	f := bootstrap(t)
	_, err := f.engine.Status(context.Background(), tuf.RoleSnapshot)
	assert.ErrorIs(t, err, ErrOnlineRole)
}

func TestStatusUnchangedRoleFailsVersionCheck(t *testing.T) {
	f := bootstrap(t)
	f.merge(t)

	status, err := f.engine.Status(context.Background(), tuf.RoleRoot)
	require.NoError(t, err)
	assert.False(t, status.Valid)
	assert.Contains(t, status.Message, "version")
}

func TestInviteAcceptSignFlow(t *testing.T) {
	f := bootstrap(t)
	f.merge(t)

	// @alice proposes @bob as a second root signer.
	config := &offlineeditor.OfflineConfig{Signers: []string{"@alice", "@bob"}, Threshold: 2, ExpiryPeriodDays: 365, SigningPeriodDays: 60}
	require.NoError(t, f.engine.Editor().SetRoleConfig(context.Background(), tuf.RoleRoot, config, nil))

	status, err := f.engine.Status(context.Background(), tuf.RoleRoot)
	require.NoError(t, err)
	assert.True(t, status.Invites.Has("@bob"))
	assert.Equal(t, 2, status.Threshold)
	assert.False(t, status.Valid)

	root, err := f.store.OpenRole(tuf.RoleRoot)
	require.NoError(t, err)
	assert.Equal(t, 1, root.Version(), "invitation alone must not bump")

	// @bob provides a key; the roster completes and root closes at
	// baseline+1, signed by @alice whose key is local here.
	bobKey, bobURI := newTestKey(t, "BOB_KEY")
	queued, err := f.engine.AcceptInvitation(context.Background(), tuf.RoleRoot, "@bob", bobKey)
	require.NoError(t, err)
	assert.Contains(t, queued, tuf.RoleRoot)

	state, err := f.store.LoadEventState()
	require.NoError(t, err)
	assert.True(t, state.Empty())

	root, err = f.store.OpenRole(tuf.RoleRoot)
	require.NoError(t, err)
	assert.Equal(t, 2, root.Version())
	roleInfo, keys, err := root.DelegationFor(tuf.RoleRoot)
	require.NoError(t, err)
	assert.Len(t, roleInfo.KeyIDs, 2)
	found := false
	for _, keyID := range roleInfo.KeyIDs {
		if keys[keyID].XKeyOwner == "@bob" {
			found = true
		}
	}
	assert.True(t, found, "@bob's key must be bound to @bob")

	status, err = f.engine.Status(context.Background(), tuf.RoleRoot)
	require.NoError(t, err)
	assert.True(t, status.Signed.Has("@alice"))
	assert.True(t, status.Missing.Has("@bob"))
	assert.False(t, status.Valid)

	// @bob signs; the threshold closes.
	require.NoError(t, f.as("@bob", bobURI).Sign(context.Background(), tuf.RoleRoot))

	status, err = f.engine.Status(context.Background(), tuf.RoleRoot)
	require.NoError(t, err)
	assert.True(t, status.Signed.Has("@alice"))
	assert.True(t, status.Signed.Has("@bob"))
	assert.True(t, status.Valid, status.Message)
}

func TestRootHandoverNeedsPreviousSigners(t *testing.T) {
	// Rotating root entirely to @bob still requires @alice's
	// countersignature: the previous root must accept the new one.
	f := bootstrap(t)
	f.merge(t)

	bobKey, bobURI := newTestKey(t, "BOB_KEY")
	bobEngine := f.as("@bob", bobURI)
	config := &offlineeditor.OfflineConfig{Signers: []string{"@bob"}, Threshold: 1, ExpiryPeriodDays: 365, SigningPeriodDays: 60}
	require.NoError(t, bobEngine.Editor().SetRoleConfig(context.Background(), tuf.RoleRoot, config, bobKey))

	status, err := bobEngine.Status(context.Background(), tuf.RoleRoot)
	require.NoError(t, err)
	assert.False(t, status.Valid, "previous root's threshold is unmet")
	assert.True(t, status.Missing.Has("@alice"))

	// @alice countersigns with her removed-but-still-authoritative key.
	require.NoError(t, f.engine.Sign(context.Background(), tuf.RoleRoot))

	status, err = bobEngine.Status(context.Background(), tuf.RoleRoot)
	require.NoError(t, err)
	assert.True(t, status.Valid, status.Message)
}

func TestStatusExpiryTooFar(t *testing.T) {
	f := bootstrap(t)

	targets, err := f.store.OpenRole(tuf.RoleTargets)
	require.NoError(t, err)
	targets.SetExpires(f.clk.Now().Add(2 * 365 * 24 * time.Hour))
	require.NoError(t, f.store.Write(tuf.RoleTargets, targets))

	status, err := f.engine.Status(context.Background(), tuf.RoleTargets)
	require.NoError(t, err)
	assert.False(t, status.Valid)
	assert.Contains(t, status.Message, "xpiry")
}

func TestSignNotASigner(t *testing.T) {
	f := bootstrap(t)

	err := f.as("@mallory", "").Sign(context.Background(), tuf.RoleTargets)
	assert.ErrorIs(t, err, ErrNotASigner)
}

func TestChangedRolesOrdering(t *testing.T) {
	f := bootstrap(t)

	config := &offlineeditor.OfflineConfig{Signers: []string{"@alice"}, Threshold: 1, ExpiryPeriodDays: 90, SigningPeriodDays: 30}
	require.NoError(t, f.engine.Editor().SetRoleConfig(context.Background(), "npm", config, f.aliceKey))

	changed, err := f.engine.ChangedRoles()
	require.NoError(t, err)
	assert.Equal(t, []tuf.RoleName{tuf.RoleRoot, tuf.RoleTargets, "npm"}, changed)
}

func TestUpdateTargets(t *testing.T) {
	f := bootstrap(t)

	config := &offlineeditor.OfflineConfig{Signers: []string{"@alice"}, Threshold: 1, ExpiryPeriodDays: 90, SigningPeriodDays: 30}
	require.NoError(t, f.engine.Editor().SetRoleConfig(context.Background(), "npm", config, f.aliceKey))

	targetsDir := f.store.TargetsDir()
	require.NoError(t, os.MkdirAll(filepath.Join(targetsDir, "npm"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(targetsDir, "npm", "pkg.tgz"), []byte("package-bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(targetsDir, "notes.txt"), []byte("hello"), 0o644))

	changes, err := f.engine.UpdateTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, TargetChange{Role: "npm", Path: "npm/pkg.tgz", Kind: TargetAdded}, changes[0])
	assert.Equal(t, TargetChange{Role: tuf.RoleTargets, Path: "notes.txt", Kind: TargetAdded}, changes[1])

	npm, err := f.store.OpenRole("npm")
	require.NoError(t, err)
	info := npm.Targets.Signed.Targets["npm/pkg.tgz"]
	assert.Equal(t, int64(len("package-bytes")), info.Length)
	assert.NotEmpty(t, info.Hashes["sha256"])

	// Reconciled: nothing further to do.
	changes, err = f.engine.ComputeTargetChanges()
	require.NoError(t, err)
	assert.Empty(t, changes)

	// Modify and remove.
	require.NoError(t, os.WriteFile(filepath.Join(targetsDir, "npm", "pkg.tgz"), []byte("new-package-bytes"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(targetsDir, "notes.txt")))

	changes, err = f.engine.UpdateTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, TargetModified, changes[0].Kind)
	assert.Equal(t, TargetRemoved, changes[1].Kind)

	targets, err := f.store.OpenRole(tuf.RoleTargets)
	require.NoError(t, err)
	assert.Empty(t, targets.Targets.Signed.Targets)
}

func TestStateSummaries(t *testing.T) {
	clk := testClock()
	emptyStore := repostore.Open(filepath.Join(t.TempDir(), "metadata"), "")
	engine := New(emptyStore, signer.DefaultRegistry(), clk, "@alice", "", nil)

	state, err := engine.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, state)

	f := bootstrap(t)
	state, err = f.engine.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateNoAction, state)

	// A pending invitation for the user dominates.
	config := &offlineeditor.OfflineConfig{Signers: []string{"@alice", "@bob"}, Threshold: 2, ExpiryPeriodDays: 365, SigningPeriodDays: 60}
	require.NoError(t, f.engine.Editor().SetRoleConfig(context.Background(), tuf.RoleRoot, config, nil))

	bobEngine := f.as("@bob", "")
	state, err = bobEngine.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateInvited, state)

	// Target changes on disk surface next.
	require.NoError(t, os.MkdirAll(f.store.TargetsDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.store.TargetsDir(), "new.txt"), []byte("x"), 0o644))
	state, err = f.engine.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateTargetsChanged, state)
}

func TestUnsignedRolesAfterTargetsChange(t *testing.T) {
	f := bootstrap(t)
	f.merge(t)

	require.NoError(t, os.MkdirAll(f.store.TargetsDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.store.TargetsDir(), "new.txt"), []byte("x"), 0o644))

	_, err := f.engine.UpdateTargets(context.Background())
	require.NoError(t, err)

	// The close already carried @alice's signature, so nothing is left
	// unsigned for her.
	unsigned, err := f.engine.UnsignedRoles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, unsigned)

	status, err := f.engine.Status(context.Background(), tuf.RoleTargets)
	require.NoError(t, err)
	assert.True(t, status.Valid, status.Message)
}
