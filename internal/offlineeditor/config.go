// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package offlineeditor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/gittuf/tuf-on-git/internal/tuf"
)

// OfflineConfig is the editable configuration of an offline role: who
// signs it, how many signatures are required, and its expiry/signing
// cadence in days.
type OfflineConfig struct {
	Signers           []string
	Threshold         int
	ExpiryPeriodDays  int
	SigningPeriodDays int
}

// OnlineConfig is the single configuration of the online roles, recorded
// on root: the keys that sign both timestamp and snapshot, and each role's
// expiry/signing cadence in days. Every listed key signs both roles, and
// the threshold is the full key count.
type OnlineConfig struct {
	Keys                 []*tuf.Key
	TimestampExpiryDays  int
	TimestampSigningDays int
	SnapshotExpiryDays   int
	SnapshotSigningDays  int
}

// GetRoleConfig reads role's current OfflineConfig: signers are the
// owners of the keys its delegator lists plus any identities still holding
// open invitations.
func (e *Editor) GetRoleConfig(role tuf.RoleName) (*OfflineConfig, error) {
	if tuf.IsOnlineRole(role) {
		return nil, fmt.Errorf("%w: %s", ErrOnlineRole, role)
	}

	delegator, err := e.openOrSkeleton(tuf.DelegatorOf(role))
	if err != nil {
		return nil, err
	}
	roleInfo, keys, err := delegator.DelegationFor(role)
	if err != nil {
		return nil, err
	}

	state, err := e.store.LoadEventState()
	if err != nil {
		return nil, err
	}

	signers := state.InviteesFor(role)
	for _, keyID := range roleInfo.KeyIDs {
		if key, ok := keys[keyID]; ok && key.XKeyOwner != "" {
			signers = append(signers, key.XKeyOwner)
		}
	}
	sort.Strings(signers)
	signers = slices.Compact(signers)

	md, err := e.openOrSkeleton(role)
	if err != nil {
		return nil, err
	}

	return &OfflineConfig{
		Signers:           signers,
		Threshold:         roleInfo.Threshold,
		ExpiryPeriodDays:  md.ExpiryPeriodDays(),
		SigningPeriodDays: md.SigningPeriodDays(),
	}, nil
}

// SetRoleConfig applies config to role. Signers without keys become
// invitations in the event state; the delegator's key list, threshold and
// the role's expiry periods are brought in line under edit scopes. If the
// current user is among the invited signers and mySigningKey is supplied,
// the key is bound to them and their invitation resolves immediately.
func (e *Editor) SetRoleConfig(ctx context.Context, role tuf.RoleName, config *OfflineConfig, mySigningKey *tuf.Key) error {
	if tuf.IsOnlineRole(role) {
		return fmt.Errorf("%w: %s", ErrOnlineRole, role)
	}

	state, err := e.store.LoadEventState()
	if err != nil {
		return err
	}
	state.RemoveInvite(e.user, role)

	delegatorName := tuf.DelegatorOf(role)
	delegator, err := e.openOrSkeleton(delegatorName)
	if err != nil {
		return err
	}

	for _, signerID := range config.Signers {
		if signerID == e.user && mySigningKey != nil {
			continue
		}
		if !holdsKeyFor(delegator, role, signerID) {
			slog.Debug(fmt.Sprintf("Inviting %s to sign %s", signerID, role))
			state.AddInvite(signerID, role)
		}
	}

	// The pending set must be on disk before the delegator edit closes:
	// open invitations are what defer the version bump and the user's own
	// signature.
	if err := e.store.SaveEventState(state); err != nil {
		return err
	}

	if _, err := e.Edit(ctx, delegatorName, func(md *tuf.Any) error {
		return e.applyDelegationConfig(md, role, config, mySigningKey)
	}); err != nil {
		return err
	}

	if role != tuf.RoleRoot {
		if _, err := e.Edit(ctx, role, func(md *tuf.Any) error {
			md.SetExpiryPeriodDays(config.ExpiryPeriodDays)
			md.SetSigningPeriodDays(config.SigningPeriodDays)
			return nil
		}); err != nil {
			return err
		}
	}

	return nil
}

// applyDelegationConfig reshapes the delegator payload for role: existing
// keys whose owners left the signer list are revoked, the user's own key is
// added when their invitation resolves, and the threshold is set. For root
// the role's own expiry periods land on the same payload in the same edit.
func (e *Editor) applyDelegationConfig(md *tuf.Any, role tuf.RoleName, config *OfflineConfig, mySigningKey *tuf.Key) error {
	if md.Kind == tuf.KindTargets && md.GetDelegatedRole(role) == nil {
		if md.Targets.Signed.Delegations == nil {
			md.Targets.Signed.Delegations = &tuf.Delegations{Keys: map[string]*tuf.Key{}}
		}
		md.Targets.Signed.Delegations.Roles = append(md.Targets.Signed.Delegations.Roles, tuf.Delegation{
			Name:      role,
			KeyIDs:    []string{},
			Threshold: config.Threshold,
			Paths:     []string{role + "/*"},
		})
	}

	roleInfo, keys, err := md.DelegationFor(role)
	if err != nil {
		return err
	}

	for _, keyID := range slices.Clone(roleInfo.KeyIDs) {
		key, ok := keys[keyID]
		if !ok {
			continue
		}
		if !slices.Contains(config.Signers, key.XKeyOwner) {
			slog.Debug(fmt.Sprintf("Revoking %s's key %s from %s", key.XKeyOwner, keyID, role))
			if err := md.RevokeKey(role, keyID); err != nil {
				return err
			}
		}
	}

	if slices.Contains(config.Signers, e.user) && mySigningKey != nil {
		key := *mySigningKey
		key.XKeyOwner = e.user
		if key.KeyID == "" {
			keyID, err := tuf.ComputeKeyID(key)
			if err != nil {
				return err
			}
			key.KeyID = keyID
		}
		if err := md.AddKey(role, &key); err != nil {
			return err
		}
	}

	if err := setThreshold(md, role, config.Threshold); err != nil {
		return err
	}

	if role == tuf.RoleRoot {
		md.SetExpiryPeriodDays(config.ExpiryPeriodDays)
		md.SetSigningPeriodDays(config.SigningPeriodDays)
	}

	return nil
}

func holdsKeyFor(delegator *tuf.Any, role tuf.RoleName, identity string) bool {
	roleInfo, keys, err := delegator.DelegationFor(role)
	if err != nil {
		return false
	}
	for _, keyID := range roleInfo.KeyIDs {
		if key, ok := keys[keyID]; ok && key.XKeyOwner == identity {
			return true
		}
	}
	return false
}

func setThreshold(md *tuf.Any, role tuf.RoleName, threshold int) error {
	switch md.Kind {
	case tuf.KindRoot:
		r, ok := md.Root.Signed.Roles[role]
		if !ok {
			return fmt.Errorf("%w: root does not delegate %q", tuf.ErrInvalidDelegation, role)
		}
		r.Threshold = threshold
		md.Root.Signed.Roles[role] = r
		return nil
	case tuf.KindTargets:
		d := md.GetDelegatedRole(role)
		if d == nil {
			return fmt.Errorf("%w: targets does not delegate %q", tuf.ErrInvalidDelegation, role)
		}
		d.Threshold = threshold
		return nil
	default:
		return fmt.Errorf("%w: %q cannot delegate", tuf.ErrInvalidDelegation, role)
	}
}

// GetOnlineConfig reads the online-role configuration back off root.
func (e *Editor) GetOnlineConfig() (*OnlineConfig, error) {
	root, err := e.store.OpenRole(tuf.RoleRoot)
	if err != nil {
		return nil, err
	}

	timestampRole, keys, err := root.DelegationFor(tuf.RoleTimestamp)
	if err != nil {
		return nil, err
	}
	snapshotRole, _, err := root.DelegationFor(tuf.RoleSnapshot)
	if err != nil {
		return nil, err
	}

	config := &OnlineConfig{}
	for _, keyID := range timestampRole.KeyIDs {
		if key, ok := keys[keyID]; ok {
			config.Keys = append(config.Keys, key)
		}
	}
	if timestampRole.XExpiryPeriod != nil {
		config.TimestampExpiryDays = *timestampRole.XExpiryPeriod
	}
	if timestampRole.XSigningPeriod != nil {
		config.TimestampSigningDays = *timestampRole.XSigningPeriod
	}
	if snapshotRole.XExpiryPeriod != nil {
		config.SnapshotExpiryDays = *snapshotRole.XExpiryPeriod
	}
	if snapshotRole.XSigningPeriod != nil {
		config.SnapshotSigningDays = *snapshotRole.XSigningPeriod
	}
	return config, nil
}

// SetOnlineConfig records config on root: every listed key is authorized
// for both timestamp and snapshot, the threshold is the key count, and the
// role entries carry the expiry/signing periods the online updater reads.
// Each key must name its signer through x-online-uri.
func (e *Editor) SetOnlineConfig(ctx context.Context, config *OnlineConfig) error {
	for _, key := range config.Keys {
		if key.XOnlineURI == "" {
			return fmt.Errorf("%w: online key %s has no x-online-uri", tuf.ErrInvalidDelegation, key.KeyID)
		}
	}

	_, err := e.Edit(ctx, tuf.RoleRoot, func(md *tuf.Any) error {
		for _, role := range []tuf.RoleName{tuf.RoleTimestamp, tuf.RoleSnapshot} {
			roleInfo, keys, err := md.DelegationFor(role)
			if err != nil {
				return err
			}

			keep := map[string]bool{}
			for _, key := range config.Keys {
				keep[key.KeyID] = true
			}
			for _, keyID := range slices.Clone(roleInfo.KeyIDs) {
				if _, ok := keys[keyID]; ok && !keep[keyID] {
					if err := md.RevokeKey(role, keyID); err != nil {
						return err
					}
				}
			}

			for _, key := range config.Keys {
				if err := md.AddKey(role, key); err != nil {
					return err
				}
			}
		}

		timestampEntry := md.Root.Signed.Roles[tuf.RoleTimestamp]
		timestampEntry.Threshold = len(config.Keys)
		timestampEntry.XExpiryPeriod = intPtr(config.TimestampExpiryDays)
		timestampEntry.XSigningPeriod = intPtr(config.TimestampSigningDays)
		md.Root.Signed.Roles[tuf.RoleTimestamp] = timestampEntry

		snapshotEntry := md.Root.Signed.Roles[tuf.RoleSnapshot]
		snapshotEntry.Threshold = len(config.Keys)
		snapshotEntry.XExpiryPeriod = intPtr(config.SnapshotExpiryDays)
		snapshotEntry.XSigningPeriod = intPtr(config.SnapshotSigningDays)
		md.Root.Signed.Roles[tuf.RoleSnapshot] = snapshotEntry

		return nil
	})
	return err
}

func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
