// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

// Package signingevent is the engine behind a signing event: it computes
// per-role signing status against the known-good baseline, walks the
// invite/accept/sign transitions, and reconciles metadata with the
// targets-on-disk tree. It never renders anything; drivers turn the
// structured results into whatever UI they have.
package signingevent

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/gittuf/tuf-on-git/internal/clock"
	"github.com/gittuf/tuf-on-git/internal/offlineeditor"
	"github.com/gittuf/tuf-on-git/internal/repostore"
	"github.com/gittuf/tuf-on-git/internal/signer"
	"github.com/gittuf/tuf-on-git/internal/tuf"
)

// State summarizes what, if anything, a signing event currently wants from
// the current user. It is recomputed every time it is asked for — a
// convenience for UX branching, not a persisted machine.
type State int

const (
	StateUninitialized State = iota
	StateInvited
	StateTargetsChanged
	StateSignatureNeeded
	StateNoAction
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInvited:
		return "invited"
	case StateTargetsChanged:
		return "targets-changed"
	case StateSignatureNeeded:
		return "signature-needed"
	default:
		return "no-action"
	}
}

// Engine drives one signing event for one user against one repository
// store.
type Engine struct {
	store         *repostore.Store
	registry      *signer.Registry
	clock         clock.Clock
	editor        *offlineeditor.Editor
	user          string
	signingKeyURI string
	secrets       signer.SecretProvider
}

// New returns an Engine for store acting as user. signingKeyURI resolves
// the user's own signing key ("" when they hold none locally); secrets
// supplies PINs or passphrases the key's backend may ask for.
func New(store *repostore.Store, registry *signer.Registry, clk clock.Clock, user, signingKeyURI string, secrets signer.SecretProvider) *Engine {
	return &Engine{
		store:         store,
		registry:      registry,
		clock:         clk,
		editor:        offlineeditor.New(store, registry, clk, user, signingKeyURI, secrets),
		user:          user,
		signingKeyURI: signingKeyURI,
		secrets:       secrets,
	}
}

// Editor returns the offline editor bound to the same store and user, for
// drivers that also reconfigure roles during the event.
func (e *Engine) Editor() *offlineeditor.Editor {
	return e.editor
}

// ChangedRoles returns every offline role whose metadata file differs from
// the baseline (or is new), top-level roles first so drivers validate root
// before targets before delegated roles.
func (e *Engine) ChangedRoles() ([]tuf.RoleName, error) {
	roles, err := e.store.ListRoles()
	if err != nil {
		return nil, err
	}

	var changed []tuf.RoleName
	for _, role := range roles {
		if tuf.IsOnlineRole(role) {
			continue
		}
		current, err := e.store.ReadRoleBytes(role)
		if err != nil {
			return nil, err
		}
		baseline, ok, err := e.store.ReadBaselineBytes(role)
		if err != nil {
			return nil, err
		}
		if !ok || !bytes.Equal(current, baseline) {
			changed = append(changed, role)
		}
	}

	// root first, then targets, then delegated roles.
	slices.SortStableFunc(changed, func(a, b tuf.RoleName) int {
		return rolePriority(a) - rolePriority(b)
	})
	return changed, nil
}

func rolePriority(role tuf.RoleName) int {
	switch role {
	case tuf.RoleRoot:
		return 0
	case tuf.RoleTargets:
		return 1
	default:
		return 2
	}
}

// State reports what the event wants from the current user right now.
func (e *Engine) State(ctx context.Context) (State, error) {
	if _, err := e.store.OpenRole(tuf.RoleRoot); err != nil {
		if errors.Is(err, repostore.ErrRoleMissing) {
			return StateUninitialized, nil
		}
		return StateNoAction, err
	}

	state, err := e.store.LoadEventState()
	if err != nil {
		return StateNoAction, err
	}
	if len(state.InvitedRoles(e.user)) > 0 {
		return StateInvited, nil
	}

	changes, err := e.ComputeTargetChanges()
	if err != nil {
		return StateNoAction, err
	}
	if len(changes) > 0 {
		return StateTargetsChanged, nil
	}

	unsigned, err := e.UnsignedRoles(ctx)
	if err != nil {
		return StateNoAction, err
	}
	if len(unsigned) > 0 {
		return StateSignatureNeeded, nil
	}

	return StateNoAction, nil
}

// UnsignedRoles returns the changed roles for which the current user holds
// a key but has not produced a verifying signature yet.
func (e *Engine) UnsignedRoles(ctx context.Context) ([]tuf.RoleName, error) {
	changed, err := e.ChangedRoles()
	if err != nil {
		return nil, err
	}

	var unsigned []tuf.RoleName
	for _, role := range changed {
		if _, _, err := e.userKeyFor(role); err != nil {
			if errors.Is(err, ErrNotASigner) {
				continue
			}
			return nil, err
		}
		status, err := e.Status(ctx, role)
		if err != nil {
			return nil, err
		}
		if !status.Signed.Has(e.user) {
			unsigned = append(unsigned, role)
		}
	}
	return unsigned, nil
}

// AcceptInvitation resolves identity's invitation to role: the invitation
// leaves the event state, newKey joins role's delegator bound to identity,
// and the delegator closes (bumping, now that the roster is complete,
// unless other invitations are still open). It returns the changed roles
// identity can now sign, so drivers can queue them.
func (e *Engine) AcceptInvitation(ctx context.Context, role tuf.RoleName, identity string, newKey *tuf.Key) ([]tuf.RoleName, error) {
	state, err := e.store.LoadEventState()
	if err != nil {
		return nil, err
	}
	if !slices.Contains(state.InvitedRoles(identity), role) {
		return nil, fmt.Errorf("%s has no invitation to %s", identity, role)
	}
	state.RemoveInvite(identity, role)
	if err := e.store.SaveEventState(state); err != nil {
		return nil, err
	}

	key := *newKey
	key.XKeyOwner = identity
	if key.KeyID == "" {
		keyID, err := tuf.ComputeKeyID(key)
		if err != nil {
			return nil, err
		}
		key.KeyID = keyID
	}

	slog.Debug(fmt.Sprintf("Accepting %s's invitation to %s with key %s", identity, role, key.KeyID))
	if _, err := e.editor.Edit(ctx, tuf.DelegatorOf(role), func(md *tuf.Any) error {
		return md.AddKey(role, &key)
	}); err != nil {
		return nil, err
	}

	// The new signer may now be expected on other roles changed in this
	// event; surface them so the driver queues signing.
	changed, err := e.ChangedRoles()
	if err != nil {
		return nil, err
	}
	var queued []tuf.RoleName
	for _, changedRole := range changed {
		if e.identityHoldsKeyFor(changedRole, identity) {
			queued = append(queued, changedRole)
		}
	}
	return queued, nil
}

// Sign produces the current user's signature over role's canonical payload
// and persists it in place of their placeholder. ErrNotASigner when the
// delegator lists no key owned by the user.
func (e *Engine) Sign(ctx context.Context, role tuf.RoleName) error {
	md, err := e.store.OpenRole(role)
	if err != nil {
		return err
	}

	keyID, key, err := e.userKeyFor(role)
	if err != nil {
		return err
	}
	if e.signingKeyURI == "" {
		return fmt.Errorf("%w: no signing key configured for %s", ErrNotASigner, e.user)
	}

	payload, err := md.SignedCanonical()
	if err != nil {
		return err
	}

	slog.Debug(fmt.Sprintf("Signing %s as %s with key %s", role, e.user, keyID))
	sv, err := e.registry.Get(ctx, e.signingKeyURI, key, e.secrets)
	if err != nil {
		return err
	}
	raw, err := sv.Sign(ctx, payload)
	if err != nil {
		return err
	}

	sigs := md.Signatures()
	entry := tuf.Signature{KeyID: keyID, Sig: hex.EncodeToString(raw)}
	replaced := false
	for i := range sigs {
		if sigs[i].KeyID == keyID {
			sigs[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		sigs = append(sigs, entry)
	}
	md.SetSignatures(sigs)

	return e.store.Write(role, md)
}

// userKeyFor finds the key the current user owns among those role's
// delegator authorizes. For root the baseline root's keys count too: a
// signer removed in this event must still be able to countersign the
// handover.
func (e *Engine) userKeyFor(role tuf.RoleName) (string, *tuf.Key, error) {
	keyID, key := e.findOwnedKey(role, e.user, false)
	if key == nil && role == tuf.RoleRoot {
		keyID, key = e.findOwnedKey(role, e.user, true)
	}
	if key == nil {
		return "", nil, fmt.Errorf("%w: %s on %s", ErrNotASigner, e.user, role)
	}
	return keyID, key, nil
}

func (e *Engine) identityHoldsKeyFor(role tuf.RoleName, identity string) bool {
	_, key := e.findOwnedKey(role, identity, false)
	return key != nil
}

func (e *Engine) findOwnedKey(role tuf.RoleName, identity string, baseline bool) (string, *tuf.Key) {
	var delegator *tuf.Any
	var err error
	if baseline {
		var ok bool
		delegator, ok, err = e.store.OpenBaseline(tuf.DelegatorOf(role))
		if err != nil || !ok {
			return "", nil
		}
	} else {
		delegator, err = e.store.OpenRole(tuf.DelegatorOf(role))
		if err != nil {
			return "", nil
		}
	}

	roleInfo, keys, err := delegator.DelegationFor(role)
	if err != nil {
		return "", nil
	}
	for _, keyID := range roleInfo.KeyIDs {
		if key, ok := keys[keyID]; ok && key.XKeyOwner == identity {
			return keyID, key
		}
	}
	return "", nil
}
