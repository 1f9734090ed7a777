// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

// Package tuf defines this repository's take on TUF metadata: Root,
// Targets, Snapshot and Timestamp payloads extended with the custom fields
// this system needs (signer identity, expiry/signing periods, online-key
// URIs), plus the JSON envelope they travel in on disk and the
// canonical-JSON form of the signed payload that signatures cover.
package tuf

import (
	"encoding/json"
	"fmt"

	"github.com/danwakefield/fnmatch"
)

// RoleName identifies one of the four top-level roles or a delegated
// targets role.
type RoleName = string

const (
	RoleRoot      RoleName = "root"
	RoleTargets   RoleName = "targets"
	RoleSnapshot  RoleName = "snapshot"
	RoleTimestamp RoleName = "timestamp"
)

// Key defines the structure for how public keys are stored in metadata.
// Recognized custom fields are promoted to named struct fields; anything
// else is preserved in Extra for a lossless round trip.
type Key struct {
	KeyID   string `json:"keyid"`
	KeyType string `json:"keytype"`
	Scheme  string `json:"scheme"`
	Public  string `json:"public"`

	// XOnlineURI is the signer URI for a snapshot/timestamp key, e.g.
	// "hsm:", "gcpkms:<id>", "sigstore:", "envvar:<NAME>".
	XOnlineURI string `json:"x-online-uri,omitempty"`
	// XKeyOwner is the identity bound to an offline key, e.g. "@alice".
	XKeyOwner string `json:"x-keyowner,omitempty"`

	// XSigstoreIssuer and XSigstoreIdentity gate verification of a
	// federated-identity (keyless) signer: Public is empty for such a key,
	// and a signature is instead accepted only if its embedded certificate
	// is within its validity window, names this issuer/identity pair, and
	// its public key verifies the signature. The certificate's chain is not
	// checked against a Fulcio root.
	XSigstoreIssuer   string `json:"x-sigstore-issuer,omitempty"`
	XSigstoreIdentity string `json:"x-sigstore-identity,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (k Key) MarshalJSON() ([]byte, error) {
	type alias Key
	return mergeExtra(alias(k), k.Extra)
}

func (k *Key) UnmarshalJSON(data []byte) error {
	type alias Key
	a := alias{}
	extra, err := splitExtra(data, &a)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadCanonicalForm, err)
	}
	*k = Key(a)
	k.Extra = extra
	return nil
}

// Role records the keyids and threshold a delegator authorizes for a role,
// plus, for the Root entries of the online roles, the x-expiry-period and
// x-signing-period the OnlineConfig configured for them.
type Role struct {
	KeyIDs    []string `json:"keyids"`
	Threshold int      `json:"threshold"`

	XExpiryPeriod  *int `json:"x-expiry-period,omitempty"`
	XSigningPeriod *int `json:"x-signing-period,omitempty"`
}

// Delegation is a single entry in a Targets role's delegations block.
type Delegation struct {
	Name        string           `json:"name"`
	KeyIDs      []string         `json:"keyids"`
	Threshold   int              `json:"threshold"`
	Paths       []string         `json:"paths"`
	Terminating bool             `json:"terminating"`
	Custom      *json.RawMessage `json:"custom,omitempty"`
}

// Matches reports whether target matches one of the delegation's path
// patterns.
func (d Delegation) Matches(target string) bool {
	for _, pattern := range d.Paths {
		if fnmatch.Match(pattern, target, 0) {
			return true
		}
	}
	return false
}

// Delegations is the ordered list of delegated-targets roles a Targets
// payload declares, plus the keys referenced by them.
type Delegations struct {
	Keys  map[string]*Key `json:"keys"`
	Roles []Delegation    `json:"roles"`
}

// Get returns the delegation named roleName, or nil if there is none.
func (d *Delegations) Get(roleName string) *Delegation {
	if d == nil {
		return nil
	}
	for i := range d.Roles {
		if d.Roles[i].Name == roleName {
			return &d.Roles[i]
		}
	}
	return nil
}
