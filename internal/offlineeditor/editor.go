// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

// Package offlineeditor applies delegation and role-configuration changes
// to offline roles (root, targets, delegated targets) inside a signing
// event. Every mutation goes through a Scope, the explicit
// begin/apply/commit/abort transaction that owns the version-bump, expiry
// and signature-placeholder bookkeeping.
package offlineeditor

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gittuf/tuf-on-git/internal/clock"
	"github.com/gittuf/tuf-on-git/internal/common/set"
	"github.com/gittuf/tuf-on-git/internal/repostore"
	"github.com/gittuf/tuf-on-git/internal/signer"
	"github.com/gittuf/tuf-on-git/internal/tuf"
)

// defaultExpiryDays is used when a role has no x-expiry-period configured
// yet, e.g. the first close of a freshly created role.
const defaultExpiryDays = 365

// Editor mutates offline-role metadata on behalf of one user. The user's
// identity is matched against x-keyowner fields; signingKeyURI resolves the
// user's own signing key through the registry when a close can be signed
// locally ("" when the user holds no key on this machine).
type Editor struct {
	store         *repostore.Store
	registry      *signer.Registry
	clock         clock.Clock
	user          string
	signingKeyURI string
	secrets       signer.SecretProvider
}

// New returns an Editor operating on store as user.
func New(store *repostore.Store, registry *signer.Registry, clk clock.Clock, user, signingKeyURI string, secrets signer.SecretProvider) *Editor {
	return &Editor{
		store:         store,
		registry:      registry,
		clock:         clk,
		user:          user,
		signingKeyURI: signingKeyURI,
		secrets:       secrets,
	}
}

// Store exposes the underlying repository store to callers that already
// hold an Editor (the signing-event engine shares one).
func (e *Editor) Store() *repostore.Store {
	return e.store
}

// openOrSkeleton reads role, or returns an empty version-0 skeleton of the
// right variant when the file does not exist yet.
func (e *Editor) openOrSkeleton(role tuf.RoleName) (*tuf.Any, error) {
	md, err := e.store.OpenRole(role)
	if err != nil {
		if errors.Is(err, repostore.ErrRoleMissing) {
			return tuf.NewAny(tuf.KindForRole(role)), nil
		}
		return nil, err
	}
	return md, nil
}

// User returns the identity this editor acts as.
func (e *Editor) User() string {
	return e.user
}

// Scope is a single open edit of one role: read at Begin, mutated through
// Metadata, and either committed (version/expiry/signature bookkeeping
// applied, file written) or aborted (nothing written). A Scope must be
// finished exactly once.
type Scope struct {
	editor *Editor
	role   tuf.RoleName
	md     *tuf.Any
	before []byte
	closed bool
}

// Begin opens role for editing. An offline role that does not exist on
// disk yet begins as an empty version-0 skeleton, so a first edit can
// create it (bootstrap for root and targets, create-missing for delegated
// roles).
func (e *Editor) Begin(role tuf.RoleName) (*Scope, error) {
	if tuf.IsOnlineRole(role) {
		return nil, fmt.Errorf("%w: %s", ErrOnlineRole, role)
	}

	md, err := e.openOrSkeleton(role)
	if err != nil {
		return nil, err
	}

	before, err := md.SignedCanonical()
	if err != nil {
		return nil, err
	}

	return &Scope{editor: e, role: role, md: md, before: before}, nil
}

// Metadata returns the payload under edit. Mutations become visible to
// other readers only at Commit.
func (s *Scope) Metadata() *tuf.Any {
	return s.md
}

// Abort discards the edit. No version bump, no write.
func (s *Scope) Abort() {
	s.closed = true
}

// Commit closes the edit. If the payload is unchanged since Begin the edit
// is dropped and Commit reports false. Otherwise the version is set to
// baseline version + 1 (so a role is bumped at most once per signing event
// no matter how many scopes touch it), expiry is recomputed from
// x-expiry-period, all signatures are cleared and replaced with one
// placeholder per key the delegator expects, and the user's own key signs
// if it is locally available.
//
// While invitations to this role's delegations are open, the version is
// left alone and the user's signature is withheld: the payload is not
// final until the invited signers hold keys, and the bump happens on the
// close that resolves the last invitation.
func (s *Scope) Commit(ctx context.Context) (bool, error) {
	if s.closed {
		return false, ErrScopeClosed
	}
	s.closed = true

	after, err := s.md.SignedCanonical()
	if err != nil {
		return false, err
	}
	if bytes.Equal(s.before, after) {
		slog.Debug(fmt.Sprintf("No changes to %s, skipping write", s.role))
		return false, nil
	}

	state, err := s.editor.store.LoadEventState()
	if err != nil {
		return false, err
	}
	invitesOpen := state.HasInviteFor(s.md.DelegationNames())

	if !invitesOpen {
		baseline, ok, err := s.editor.store.BaselineVersion(s.role)
		if err != nil {
			return false, err
		}
		if !ok {
			baseline = 0
		}
		s.md.SetVersion(baseline + 1)
	}

	expiryDays := s.md.ExpiryPeriodDays()
	if expiryDays == 0 {
		expiryDays = defaultExpiryDays
	}
	s.md.SetExpires(s.editor.clock.Now().Add(time.Duration(expiryDays) * 24 * time.Hour))

	if err := s.resign(ctx, invitesOpen); err != nil {
		return false, err
	}

	slog.Debug(fmt.Sprintf("Writing %s version %d", s.role, s.md.Version()))
	if err := s.editor.store.Write(s.role, s.md); err != nil {
		return false, err
	}
	return true, nil
}

// resign replaces the signature list with one entry per expected key: a
// real signature where the user's own key can produce one, an empty
// placeholder everywhere else.
func (s *Scope) resign(ctx context.Context, invitesOpen bool) error {
	keyIDs, keys, err := s.expectedKeys()
	if err != nil {
		return err
	}

	payload, err := s.md.SignedCanonical()
	if err != nil {
		return err
	}

	sigs := make([]tuf.Signature, 0, keyIDs.Len())
	for _, keyID := range keyIDs.Contents() {
		key, ok := keys[keyID]
		if !ok {
			continue
		}

		if !invitesOpen && key.XKeyOwner == s.editor.user && s.editor.signingKeyURI != "" {
			slog.Debug(fmt.Sprintf("Signing %s with %s's key %s", s.role, s.editor.user, keyID))
			sv, err := s.editor.registry.Get(ctx, s.editor.signingKeyURI, key, s.editor.secrets)
			if err != nil {
				return err
			}
			raw, err := sv.Sign(ctx, payload)
			if err != nil {
				return err
			}
			sigs = append(sigs, tuf.Signature{KeyID: keyID, Sig: hex.EncodeToString(raw)})
			continue
		}

		sigs = append(sigs, tuf.Signature{KeyID: keyID, Sig: ""})
	}
	s.md.SetSignatures(sigs)
	return nil
}

// expectedKeys returns the keyids the delegator authorizes for this role
// and the descriptors to resolve them against. For root, the previous
// root's signers must still accept the new root, so the baseline root's
// keyids are merged in alongside the new payload's own.
func (s *Scope) expectedKeys() (*set.Set[string], map[string]*tuf.Key, error) {
	var delegator *tuf.Any
	if s.role == tuf.RoleRoot {
		delegator = s.md
	} else {
		var err error
		delegator, err = s.editor.store.OpenRole(tuf.DelegatorOf(s.role))
		if err != nil {
			return nil, nil, err
		}
	}

	role, keys, err := delegator.DelegationFor(s.role)
	if err != nil {
		return nil, nil, err
	}

	keyIDs := set.NewSetFromItems(role.KeyIDs...)
	merged := map[string]*tuf.Key{}
	for id, key := range keys {
		merged[id] = key
	}

	if s.role == tuf.RoleRoot {
		prev, ok, err := s.editor.store.OpenBaseline(tuf.RoleRoot)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			prevRole, prevKeys, err := prev.DelegationFor(tuf.RoleRoot)
			if err != nil {
				return nil, nil, err
			}
			keyIDs.Extend(set.NewSetFromItems(prevRole.KeyIDs...))
			for id, key := range prevKeys {
				if _, exists := merged[id]; !exists {
					merged[id] = key
				}
			}
		}
	}

	return keyIDs, merged, nil
}

// Edit is the convenience wrapper over Begin/Commit: apply runs against
// the open payload, and returning ErrAbortEdit from it discards the edit
// without error. Reports whether a write happened.
func (e *Editor) Edit(ctx context.Context, role tuf.RoleName, apply func(md *tuf.Any) error) (bool, error) {
	scope, err := e.Begin(role)
	if err != nil {
		return false, err
	}

	if err := apply(scope.Metadata()); err != nil {
		scope.Abort()
		if errors.Is(err, ErrAbortEdit) {
			return false, nil
		}
		return false, err
	}

	return scope.Commit(ctx)
}
