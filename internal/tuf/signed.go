// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package tuf

import (
	"encoding/json"

	"github.com/danwakefield/fnmatch"
)

// RootSigned is the signed payload of the Root role: the mapping of
// rolename to authorized keyids/threshold for the four top-level roles,
// plus the keyid-to-descriptor table.
type RootSigned struct {
	Type    string          `json:"_type"`
	Version int             `json:"version"`
	Expires string          `json:"expires"`
	Keys    map[string]*Key `json:"keys"`
	Roles   map[string]Role `json:"roles"`

	XExpiryPeriod  int `json:"x-expiry-period"`
	XSigningPeriod int `json:"x-signing-period,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (s RootSigned) MarshalJSON() ([]byte, error) {
	type alias RootSigned
	return mergeExtra(alias(s), s.Extra)
}

func (s *RootSigned) UnmarshalJSON(data []byte) error {
	type alias RootSigned
	a := alias{}
	extra, err := splitExtra(data, &a)
	if err != nil {
		return err
	}
	*s = RootSigned(a)
	s.Extra = extra
	return nil
}

// NewRootSigned returns an empty Root payload, version 0 (the sentinel for
// "not yet closed once"). The four top-level role entries exist from the
// start, keyless with threshold 1, so delegation lookups and key additions
// work on a freshly created root.
func NewRootSigned() *RootSigned {
	roles := map[string]Role{}
	for _, role := range []RoleName{RoleRoot, RoleTargets, RoleSnapshot, RoleTimestamp} {
		roles[role] = Role{KeyIDs: []string{}, Threshold: 1}
	}
	return &RootSigned{
		Type:  RoleRoot,
		Keys:  map[string]*Key{},
		Roles: roles,
	}
}

// TargetFileInfo records a target's length and the hashes used to locate its
// copies in the published tree.
type TargetFileInfo struct {
	Length int64             `json:"length"`
	Hashes map[string]string `json:"hashes"`
}

// TargetsSigned is the signed payload of the Targets role and of any
// delegated-targets role. Delegations is non-nil only on a role that itself
// delegates; a delegated role's own payload must have a nil Delegations
// (one level of delegation, see ValidateDepth).
type TargetsSigned struct {
	Type        string                    `json:"_type"`
	Version     int                       `json:"version"`
	Expires     string                    `json:"expires"`
	Targets     map[string]TargetFileInfo `json:"targets"`
	Delegations *Delegations              `json:"delegations,omitempty"`

	XExpiryPeriod  int `json:"x-expiry-period"`
	XSigningPeriod int `json:"x-signing-period,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (s TargetsSigned) MarshalJSON() ([]byte, error) {
	type alias TargetsSigned
	return mergeExtra(alias(s), s.Extra)
}

func (s *TargetsSigned) UnmarshalJSON(data []byte) error {
	type alias TargetsSigned
	a := alias{}
	extra, err := splitExtra(data, &a)
	if err != nil {
		return err
	}
	*s = TargetsSigned(a)
	s.Extra = extra
	return nil
}

// NewTargetsSigned returns an empty Targets payload.
func NewTargetsSigned() *TargetsSigned {
	return &TargetsSigned{
		Type:    RoleTargets,
		Targets: map[string]TargetFileInfo{},
	}
}

// ValidateDepth enforces that a delegated-targets role does not itself
// declare delegations (shallow, one-level delegation only).
func (s *TargetsSigned) ValidateDepth(isDelegated bool) error {
	if isDelegated && s.Delegations != nil && len(s.Delegations.Roles) > 0 {
		return ErrDelegatedCannotDelegate
	}
	return nil
}

// ValidatePaths enforces invariant 6: every declared target path must match
// at least one of the role's own delegation patterns, as declared by its
// delegator. ownPatterns is nil for the top-level Targets role, which has no
// delegator-imposed patterns.
func (s *TargetsSigned) ValidatePaths(ownPatterns []string) error {
	if len(ownPatterns) == 0 {
		return nil
	}
	for targetPath := range s.Targets {
		matched := false
		for _, pattern := range ownPatterns {
			if fnmatch.Match(pattern, targetPath, 0) {
				matched = true
				break
			}
		}
		if !matched {
			return ErrInvalidDelegation
		}
	}
	return nil
}

// SnapshotMetaEntry is a single entry in Snapshot's meta map.
type SnapshotMetaEntry struct {
	Version int `json:"version"`
}

// SnapshotSigned is the signed payload of the Snapshot role: the version of
// every non-snapshot/timestamp metadata file.
type SnapshotSigned struct {
	Type    string                       `json:"_type"`
	Version int                          `json:"version"`
	Expires string                       `json:"expires"`
	Meta    map[string]SnapshotMetaEntry `json:"meta"`

	XExpiryPeriod  int `json:"x-expiry-period"`
	XSigningPeriod int `json:"x-signing-period,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (s SnapshotSigned) MarshalJSON() ([]byte, error) {
	type alias SnapshotSigned
	return mergeExtra(alias(s), s.Extra)
}

func (s *SnapshotSigned) UnmarshalJSON(data []byte) error {
	type alias SnapshotSigned
	a := alias{}
	extra, err := splitExtra(data, &a)
	if err != nil {
		return err
	}
	*s = SnapshotSigned(a)
	s.Extra = extra
	return nil
}

// NewSnapshotSigned returns an empty Snapshot payload.
func NewSnapshotSigned() *SnapshotSigned {
	return &SnapshotSigned{
		Type: RoleSnapshot,
		Meta: map[string]SnapshotMetaEntry{},
	}
}

// TimestampMetaFilename is the key used in Timestamp's meta map to refer to
// the current snapshot.
const TimestampMetaFilename = "snapshot.json"

// TimestampSigned is the signed payload of the Timestamp role: a single
// pointer to the current Snapshot version.
type TimestampSigned struct {
	Type    string                       `json:"_type"`
	Version int                          `json:"version"`
	Expires string                       `json:"expires"`
	Meta    map[string]SnapshotMetaEntry `json:"meta"`

	XExpiryPeriod  int `json:"x-expiry-period"`
	XSigningPeriod int `json:"x-signing-period,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (s TimestampSigned) MarshalJSON() ([]byte, error) {
	type alias TimestampSigned
	return mergeExtra(alias(s), s.Extra)
}

func (s *TimestampSigned) UnmarshalJSON(data []byte) error {
	type alias TimestampSigned
	a := alias{}
	extra, err := splitExtra(data, &a)
	if err != nil {
		return err
	}
	*s = TimestampSigned(a)
	s.Extra = extra
	return nil
}

// NewTimestampSigned returns an empty Timestamp payload.
func NewTimestampSigned() *TimestampSigned {
	return &TimestampSigned{
		Type: RoleTimestamp,
		Meta: map[string]SnapshotMetaEntry{},
	}
}

// SigningPeriodDays returns the configured signing period, falling back to
// floor(expiry/2) when absent. An explicit 0 is treated the same as an
// absent value: both mean "use the default".
func signingPeriodDays(configured, expiryPeriod int) int {
	if configured > 0 {
		return configured
	}
	return expiryPeriod / 2
}
