// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package signingevent

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gittuf/tuf-on-git/internal/common/set"
	"github.com/gittuf/tuf-on-git/internal/signer"
	"github.com/gittuf/tuf-on-git/internal/tuf"
)

// SigningStatus is the per-role result of the status algorithm: who is
// invited, who has signed, who is expected but missing, and whether the
// role as proposed would be acceptable to commit. Status is advisory; it
// never fails because a signature or threshold check fails — those turn
// into Valid=false with a Message.
type SigningStatus struct {
	Role      tuf.RoleName
	Invites   *set.Set[string]
	Signed    *set.Set[string]
	Missing   *set.Set[string]
	Threshold int
	Valid     bool
	Message   string
}

func (s *SigningStatus) fail(message string) {
	s.Valid = false
	if s.Message == "" {
		s.Message = message
	}
}

// Status computes role's SigningStatus against the known-good baseline.
// For root the new payload must satisfy the previous root's signers too,
// so both delegations are checked and the signer sets merged.
func (e *Engine) Status(ctx context.Context, role tuf.RoleName) (*SigningStatus, error) {
	if tuf.IsOnlineRole(role) {
		return nil, fmt.Errorf("%w: %s", ErrOnlineRole, role)
	}

	md, err := e.store.OpenRole(role)
	if err != nil {
		return nil, err
	}

	status := &SigningStatus{
		Role:    role,
		Invites: set.NewSet[string](),
		Signed:  set.NewSet[string](),
		Missing: set.NewSet[string](),
		Valid:   true,
	}

	prev, hasPrev, err := e.store.OpenBaseline(role)
	if err != nil {
		return nil, err
	}
	if hasPrev && md.Version() <= prev.Version() {
		status.fail(fmt.Sprintf("Unexpected version %d (baseline is %d)", md.Version(), prev.Version()))
	}

	e.checkExpiry(md, status)

	state, err := e.store.LoadEventState()
	if err != nil {
		return nil, err
	}
	for _, name := range md.DelegationNames() {
		for _, invitee := range state.InviteesFor(name) {
			status.Invites.Add(invitee)
		}
	}

	var delegator *tuf.Any
	if role == tuf.RoleRoot {
		delegator = md
	} else {
		delegator, err = e.store.OpenRole(tuf.DelegatorOf(role))
		if err != nil {
			return nil, err
		}
	}

	if err := e.checkDelegation(ctx, delegator, role, md, status, true); err != nil {
		return nil, err
	}

	if delegator.Kind == tuf.KindTargets {
		e.checkDelegatedShape(delegator, role, md, status)
	}

	// The previous root must still accept the new root.
	if role == tuf.RoleRoot && hasPrev {
		if err := e.checkDelegation(ctx, prev, role, md, status, false); err != nil {
			return nil, err
		}
	}

	return status, nil
}

// checkExpiry enforces the expiry invariants advisorily: the payload must
// carry a parseable expiry no further out than its own x-expiry-period.
func (e *Engine) checkExpiry(md *tuf.Any, status *SigningStatus) {
	expires, err := md.Expires()
	if err != nil {
		status.fail("Expiry is missing or unparseable")
		return
	}
	if days := md.ExpiryPeriodDays(); days > 0 {
		horizon := e.clock.Now().Add(time.Duration(days) * 24 * time.Hour)
		// Closes stamp expiry from the same clock, so allow a little slack
		// for the time between close and status.
		if expires.After(horizon.Add(time.Minute)) {
			status.fail(fmt.Sprintf("Expiry %s is further out than the %d day expiry period", expires.Format(time.RFC3339), days))
		}
	}
}

// checkDelegation fills Signed/Missing from the keys delegator authorizes
// for role and verifies the threshold is met. When primary is set the
// delegator's declared threshold is also recorded on the status.
func (e *Engine) checkDelegation(ctx context.Context, delegator *tuf.Any, role tuf.RoleName, md *tuf.Any, status *SigningStatus, primary bool) error {
	roleInfo, keys, err := delegator.DelegationFor(role)
	if err != nil {
		status.fail(err.Error())
		return nil
	}
	if primary {
		status.Threshold = roleInfo.Threshold
	}

	payload, err := md.SignedCanonical()
	if err != nil {
		return err
	}

	verified := tuf.VerifyDelegate(ctx, roleInfo, keys, payload, md.Signatures(), e.verifySig)
	for _, keyID := range roleInfo.KeyIDs {
		key, ok := keys[keyID]
		if !ok {
			continue
		}
		owner := key.XKeyOwner
		if owner == "" {
			owner = keyID
		}
		if verified.Has(keyID) {
			status.Signed.Add(owner)
		} else {
			status.Missing.Add(owner)
		}
	}

	if !tuf.MeetsThreshold(roleInfo, verified) {
		status.fail(fmt.Sprintf("Signed by %d of %d required signers", verified.Len(), roleInfo.Threshold))
	}
	return nil
}

// checkDelegatedShape enforces that a delegated role's payload stays
// inside its delegator's declaration: every target path matches one of the
// delegation's patterns, and the role does not delegate further.
func (e *Engine) checkDelegatedShape(delegator *tuf.Any, role tuf.RoleName, md *tuf.Any, status *SigningStatus) {
	d := delegator.GetDelegatedRole(role)
	if d == nil {
		status.fail(fmt.Sprintf("%s is not delegated by %s", role, tuf.DelegatorOf(role)))
		return
	}
	if md.Kind != tuf.KindTargets {
		status.fail(fmt.Sprintf("%s is not targets metadata", role))
		return
	}
	if err := md.Targets.Signed.ValidateDepth(true); err != nil {
		status.fail(err.Error())
	}
	if err := md.Targets.Signed.ValidatePaths(d.Paths); err != nil {
		status.fail(fmt.Sprintf("%s declares targets outside its delegated paths", role))
	}
}

// verifySig adapts the signer port to tuf.SignatureVerifyFunc: signatures
// are stored hex-encoded, and an empty placeholder never verifies.
func (e *Engine) verifySig(ctx context.Context, key *tuf.Key, message []byte, sigHex string) bool {
	if sigHex == "" {
		return false
	}
	raw, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return signer.VerifyKey(ctx, e.registry, key, message, raw) == nil
}
