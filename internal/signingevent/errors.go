// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package signingevent

import "errors"

var (
	// ErrNotASigner is returned when sign is called for a role whose
	// delegator lists no key owned by the current user.
	ErrNotASigner = errors.New("current user holds no key for this role")

	// ErrThresholdNotMet is returned when the count of verifying
	// signatures falls below the delegator's declared threshold, on paths
	// where that is fatal (online writes). Status computation reports the
	// same condition as Valid=false instead.
	ErrThresholdNotMet = errors.New("valid signatures below delegator threshold")

	// ErrUnverifiedSignature is returned when a signature fails against
	// its declared key on a path where that is fatal.
	ErrUnverifiedSignature = errors.New("signature does not verify against declared key")

	// ErrOnlineRole is returned when a signing-event operation is invoked
	// for snapshot or timestamp; those never change inside a signing event.
	// The online updater also returns it when asked to bump a role that is
	// not snapshot or timestamp.
	ErrOnlineRole = errors.New("online roles have no signing-event status")
)
