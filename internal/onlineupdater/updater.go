// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

// Package onlineupdater maintains the short-lived online roles: snapshot
// regeneration after merges and expiry-driven resigning of snapshot and
// timestamp, run unattended by scheduled automation. Every write is signed
// at write time with every configured online key; a write that cannot meet
// the declared threshold is fatal and nothing is emitted.
package onlineupdater

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/gittuf/tuf-on-git/internal/clock"
	"github.com/gittuf/tuf-on-git/internal/repostore"
	"github.com/gittuf/tuf-on-git/internal/signer"
	"github.com/gittuf/tuf-on-git/internal/signingevent"
	"github.com/gittuf/tuf-on-git/internal/tuf"
)

// defaultSigningWindow is how far before expiry an online role is resigned
// when root carries no x-signing-period for it. Thirteen hours leaves a
// role with a one-day expiry several scheduler runs to succeed before it
// lapses.
const defaultSigningWindow = 13 * time.Hour

// Default expiry periods used when root's role entry carries no
// x-expiry-period.
const (
	defaultTimestampExpiryDays = 1
	defaultSnapshotExpiryDays  = 7
)

// Updater writes the online roles.
type Updater struct {
	store    *repostore.Store
	registry *signer.Registry
	clock    clock.Clock
	secrets  signer.SecretProvider
}

// New returns an Updater over store, resolving online keys through
// registry.
func New(store *repostore.Store, registry *signer.Registry, clk clock.Clock, secrets signer.SecretProvider) *Updater {
	return &Updater{store: store, registry: registry, clock: clk, secrets: secrets}
}

// BumpIfExpiring resigns role with a fresh version and expiry if its
// signing period has begun. It returns the new version, or 0 when no bump
// was needed (role still fresh, or never written yet — snapshot creation
// is Snapshot's job).
func (u *Updater) BumpIfExpiring(ctx context.Context, role tuf.RoleName) (int, error) {
	if !tuf.IsOnlineRole(role) {
		return 0, fmt.Errorf("%w: %s", signingevent.ErrOnlineRole, role)
	}

	md, err := u.store.OpenRole(role)
	if err != nil {
		return 0, err
	}
	if md.Version() == 0 {
		slog.Debug(fmt.Sprintf("%s does not exist yet, nothing to bump", role))
		return 0, nil
	}

	expires, err := md.Expires()
	if err != nil {
		return 0, err
	}

	window, err := u.signingWindow(role)
	if err != nil {
		return 0, err
	}
	if u.clock.Now().Add(window).Before(expires) {
		slog.Debug(fmt.Sprintf("%s expires %s, signing period has not started", role, expires.Format(time.RFC3339)))
		return 0, nil
	}

	if err := u.closeOnline(ctx, role, md); err != nil {
		return 0, err
	}
	return md.Version(), nil
}

// Snapshot materializes the current versions of all targets metadata into
// the snapshot payload. It reports whether anything changed; an unchanged
// snapshot is not rewritten.
func (u *Updater) Snapshot(ctx context.Context) (bool, map[string]tuf.SnapshotMetaEntry, error) {
	meta, err := u.targetsMeta()
	if err != nil {
		return false, nil, err
	}

	md, err := u.store.OpenRole(tuf.RoleSnapshot)
	if err != nil {
		return false, nil, err
	}

	if md.Version() > 0 && sameMeta(md.Snapshot.Signed.Meta, meta) {
		slog.Debug("Snapshot is up to date")
		return false, nil, nil
	}

	md.Snapshot.Signed.Meta = meta
	if err := u.closeOnline(ctx, tuf.RoleSnapshot, md); err != nil {
		return false, nil, err
	}
	return true, meta, nil
}

// Timestamp writes a fresh timestamp pointing at the current snapshot
// version. It must follow any Snapshot call that reported a change.
func (u *Updater) Timestamp(ctx context.Context) (int, error) {
	snapshot, err := u.store.OpenRole(tuf.RoleSnapshot)
	if err != nil {
		return 0, err
	}
	if snapshot.Version() == 0 {
		return 0, fmt.Errorf("%w: snapshot has not been created", repostore.ErrRoleMissing)
	}

	md, err := u.store.OpenRole(tuf.RoleTimestamp)
	if err != nil {
		return 0, err
	}
	md.Timestamp.Signed.Meta = map[string]tuf.SnapshotMetaEntry{
		tuf.TimestampMetaFilename: {Version: snapshot.Version()},
	}

	if err := u.closeOnline(ctx, tuf.RoleTimestamp, md); err != nil {
		return 0, err
	}
	return md.Version(), nil
}

// closeOnline bumps, restamps and signs an online role with every
// configured online key, then persists it — or persists nothing when the
// signatures collected fall short of root's threshold.
func (u *Updater) closeOnline(ctx context.Context, role tuf.RoleName, md *tuf.Any) error {
	root, err := u.store.OpenRole(tuf.RoleRoot)
	if err != nil {
		return err
	}
	roleInfo, keys, err := root.DelegationFor(role)
	if err != nil {
		return err
	}

	expiryDays := u.expiryDays(role, roleInfo)
	md.SetVersion(md.Version() + 1)
	md.SetExpires(u.clock.Now().Add(time.Duration(expiryDays) * 24 * time.Hour))
	md.SetExpiryPeriodDays(expiryDays)
	if roleInfo.XSigningPeriod != nil && *roleInfo.XSigningPeriod > 0 {
		md.SetSigningPeriodDays(*roleInfo.XSigningPeriod)
	}

	payload, err := md.SignedCanonical()
	if err != nil {
		return err
	}

	var sigs []tuf.Signature
	for _, keyID := range roleInfo.KeyIDs {
		key, ok := keys[keyID]
		if !ok || key.XOnlineURI == "" {
			continue
		}
		sv, err := u.registry.Get(ctx, key.XOnlineURI, key, u.secrets)
		if err != nil {
			slog.Debug(fmt.Sprintf("Online signer %s unavailable: %v", key.XOnlineURI, err))
			continue
		}
		raw, err := sv.Sign(ctx, payload)
		if err != nil {
			slog.Debug(fmt.Sprintf("Online signer %s failed: %v", key.XOnlineURI, err))
			continue
		}
		sigs = append(sigs, tuf.Signature{KeyID: keyID, Sig: hex.EncodeToString(raw)})
	}

	if len(sigs) < roleInfo.Threshold {
		return fmt.Errorf("%w: %s signed by %d of %d online keys", signingevent.ErrThresholdNotMet, role, len(sigs), roleInfo.Threshold)
	}
	md.SetSignatures(sigs)

	slog.Debug(fmt.Sprintf("Writing %s version %d", role, md.Version()))
	return u.store.Write(role, md)
}

// targetsMeta collects the current version of every targets metadata file
// (top-level and delegated). Root is excluded: clients fetch root by
// version from the root history, not through snapshot.
func (u *Updater) targetsMeta() (map[string]tuf.SnapshotMetaEntry, error) {
	roles, err := u.store.ListRoles()
	if err != nil {
		return nil, err
	}

	meta := map[string]tuf.SnapshotMetaEntry{}
	for _, role := range roles {
		if role == tuf.RoleRoot || tuf.IsOnlineRole(role) {
			continue
		}
		md, err := u.store.OpenRole(role)
		if err != nil {
			return nil, err
		}
		meta[role+".json"] = tuf.SnapshotMetaEntry{Version: md.Version()}
	}
	return meta, nil
}

// signingWindow returns how close to expiry role may drift before a
// resign is forced, from root's x-signing-period (days) or the built-in
// default. An explicit zero means "use the default", same as absent.
func (u *Updater) signingWindow(role tuf.RoleName) (time.Duration, error) {
	root, err := u.store.OpenRole(tuf.RoleRoot)
	if err != nil {
		return 0, err
	}
	roleInfo, _, err := root.DelegationFor(role)
	if err != nil {
		return 0, err
	}
	if roleInfo.XSigningPeriod != nil && *roleInfo.XSigningPeriod > 0 {
		return time.Duration(*roleInfo.XSigningPeriod) * 24 * time.Hour, nil
	}
	return defaultSigningWindow, nil
}

func (u *Updater) expiryDays(role tuf.RoleName, roleInfo tuf.Role) int {
	if roleInfo.XExpiryPeriod != nil && *roleInfo.XExpiryPeriod > 0 {
		return *roleInfo.XExpiryPeriod
	}
	if role == tuf.RoleTimestamp {
		return defaultTimestampExpiryDays
	}
	return defaultSnapshotExpiryDays
}

func sameMeta(a, b map[string]tuf.SnapshotMetaEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for name, entry := range a {
		if b[name] != entry {
			return false
		}
	}
	return true
}
