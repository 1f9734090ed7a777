// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package tuf

import (
	"fmt"
	"slices"
)

// DelegatorOf returns the role whose keys and threshold authorize role.
// Root delegates the four top-level roles (itself included); targets
// delegates every delegated-targets role. The graph is two fixed lookup
// tables, not a general DAG.
func DelegatorOf(role RoleName) RoleName {
	switch role {
	case RoleRoot, RoleTargets, RoleSnapshot, RoleTimestamp:
		return RoleRoot
	default:
		return RoleTargets
	}
}

// IsOnlineRole reports whether role is written unattended by automation.
func IsOnlineRole(role RoleName) bool {
	return role == RoleSnapshot || role == RoleTimestamp
}

// DelegationFor returns the Role entry and the key table the delegator
// payload held by a declares for role. ErrInvalidDelegation if a does not
// delegate role.
func (a *Any) DelegationFor(role RoleName) (Role, map[string]*Key, error) {
	switch a.Kind {
	case KindRoot:
		r, ok := a.Root.Signed.Roles[role]
		if !ok {
			return Role{}, nil, fmt.Errorf("%w: root does not delegate %q", ErrInvalidDelegation, role)
		}
		return r, a.Root.Signed.Keys, nil

	case KindTargets:
		d := a.Targets.Signed.Delegations.Get(role)
		if d == nil {
			return Role{}, nil, fmt.Errorf("%w: targets does not delegate %q", ErrInvalidDelegation, role)
		}
		var keys map[string]*Key
		if a.Targets.Signed.Delegations != nil {
			keys = a.Targets.Signed.Delegations.Keys
		}
		return Role{KeyIDs: d.KeyIDs, Threshold: d.Threshold}, keys, nil

	default:
		return Role{}, nil, fmt.Errorf("%w: %q cannot delegate", ErrInvalidDelegation, role)
	}
}

// GetKey returns the descriptor for keyID from the key table held by a (a
// must be a delegator payload: root or targets-with-delegations).
func (a *Any) GetKey(keyID string) *Key {
	switch a.Kind {
	case KindRoot:
		return a.Root.Signed.Keys[keyID]
	case KindTargets:
		if a.Targets.Signed.Delegations == nil {
			return nil
		}
		return a.Targets.Signed.Delegations.Keys[keyID]
	default:
		return nil
	}
}

// AddKey authorizes key for role in the delegator payload held by a: the
// descriptor lands in the key table and its keyid in role's keyid list.
// Adding an already-listed keyid refreshes the descriptor and is not an
// error.
func (a *Any) AddKey(role RoleName, key *Key) error {
	switch a.Kind {
	case KindRoot:
		r, ok := a.Root.Signed.Roles[role]
		if !ok {
			return fmt.Errorf("%w: root does not delegate %q", ErrInvalidDelegation, role)
		}
		a.Root.Signed.Keys[key.KeyID] = key
		if !slices.Contains(r.KeyIDs, key.KeyID) {
			r.KeyIDs = append(r.KeyIDs, key.KeyID)
			slices.Sort(r.KeyIDs)
		}
		a.Root.Signed.Roles[role] = r
		return nil

	case KindTargets:
		if a.Targets.Signed.Delegations == nil {
			a.Targets.Signed.Delegations = &Delegations{Keys: map[string]*Key{}}
		}
		if a.Targets.Signed.Delegations.Keys == nil {
			a.Targets.Signed.Delegations.Keys = map[string]*Key{}
		}
		d := a.Targets.Signed.Delegations.Get(role)
		if d == nil {
			return fmt.Errorf("%w: targets does not delegate %q", ErrInvalidDelegation, role)
		}
		a.Targets.Signed.Delegations.Keys[key.KeyID] = key
		if !slices.Contains(d.KeyIDs, key.KeyID) {
			d.KeyIDs = append(d.KeyIDs, key.KeyID)
			slices.Sort(d.KeyIDs)
		}
		return nil

	default:
		return fmt.Errorf("%w: %q cannot delegate", ErrInvalidDelegation, role)
	}
}

// RevokeKey removes keyID from role's authorized keyids in the delegator
// payload held by a. The descriptor itself is dropped from the key table
// only once no role references it.
func (a *Any) RevokeKey(role RoleName, keyID string) error {
	switch a.Kind {
	case KindRoot:
		r, ok := a.Root.Signed.Roles[role]
		if !ok {
			return fmt.Errorf("%w: root does not delegate %q", ErrInvalidDelegation, role)
		}
		r.KeyIDs = slices.DeleteFunc(slices.Clone(r.KeyIDs), func(id string) bool { return id == keyID })
		a.Root.Signed.Roles[role] = r

		for _, other := range a.Root.Signed.Roles {
			if slices.Contains(other.KeyIDs, keyID) {
				return nil
			}
		}
		delete(a.Root.Signed.Keys, keyID)
		return nil

	case KindTargets:
		d := a.Targets.Signed.Delegations.Get(role)
		if d == nil {
			return fmt.Errorf("%w: targets does not delegate %q", ErrInvalidDelegation, role)
		}
		d.KeyIDs = slices.DeleteFunc(slices.Clone(d.KeyIDs), func(id string) bool { return id == keyID })

		for _, other := range a.Targets.Signed.Delegations.Roles {
			if slices.Contains(other.KeyIDs, keyID) {
				return nil
			}
		}
		delete(a.Targets.Signed.Delegations.Keys, keyID)
		return nil

	default:
		return fmt.Errorf("%w: %q cannot delegate", ErrInvalidDelegation, role)
	}
}

// GetDelegatedRole returns the delegation descriptor for roleName from a
// top-level Targets payload, or nil.
func (a *Any) GetDelegatedRole(roleName RoleName) *Delegation {
	if a.Kind != KindTargets {
		return nil
	}
	return a.Targets.Signed.Delegations.Get(roleName)
}

// DelegationNames returns the names of the roles a delegates whose signers
// are humans: for root that is root and targets (snapshot and timestamp
// are online, never invited), for targets its delegated roles.
func (a *Any) DelegationNames() []RoleName {
	switch a.Kind {
	case KindRoot:
		return []RoleName{RoleRoot, RoleTargets}
	case KindTargets:
		if a.Targets.Signed.Delegations == nil {
			return nil
		}
		names := make([]RoleName, 0, len(a.Targets.Signed.Delegations.Roles))
		for _, d := range a.Targets.Signed.Delegations.Roles {
			names = append(names, d.Name)
		}
		return names
	default:
		return nil
	}
}
