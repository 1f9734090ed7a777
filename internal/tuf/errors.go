// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package tuf

import "errors"

var (
	// ErrRoleMissing is returned when a required role file is absent and
	// cannot be auto-created (only snapshot and timestamp auto-create).
	ErrRoleMissing = errors.New("role metadata file is missing")

	// ErrBadCanonicalForm is returned when metadata cannot be parsed or does
	// not round-trip through canonical JSON.
	ErrBadCanonicalForm = errors.New("metadata does not round-trip through canonical JSON")

	// ErrVersionRegressed is returned when a role's version does not strictly
	// increase over the baseline.
	ErrVersionRegressed = errors.New("new version is not greater than baseline version")

	// ErrExpiryTooFar is returned when a role's expiry exceeds its configured
	// expiry period.
	ErrExpiryTooFar = errors.New("expiry exceeds the role's configured expiry period")

	// ErrInvalidDelegation is returned when delegated metadata is
	// inconsistent with its delegator's declaration.
	ErrInvalidDelegation = errors.New("delegated role metadata inconsistent with delegator")

	// ErrDelegatedCannotDelegate is returned when a delegated-targets role
	// declares its own delegations; this implementation permits only one
	// level of delegation.
	ErrDelegatedCannotDelegate = errors.New("delegated targets role must not declare further delegations")

	// ErrUnknownKind is returned when a tagged union Any has no variant set.
	ErrUnknownKind = errors.New("metadata has no recognized role variant set")
)
