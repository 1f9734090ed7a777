// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import "errors"

var (
	// ErrUnknownKeyScheme is returned when a key's URI carries a scheme
	// (the part before the first ":") that has no registered Constructor.
	ErrUnknownKeyScheme = errors.New("no signer registered for key scheme")
	// ErrSignerBackendFailure wraps any error a concrete Constructor or
	// Signer implementation returns from the backend it talks to (a file
	// that can't be read, a KMS call that fails, an OIDC flow that is
	// cancelled).
	ErrSignerBackendFailure = errors.New("signer backend failure")
	// ErrMalformedURI is returned when a key's x-online-uri or x-keyowner
	// scheme is recognized but the remainder of the URI can't be parsed.
	ErrMalformedURI = errors.New("malformed signer URI")
)
