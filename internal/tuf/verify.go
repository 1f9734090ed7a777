// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package tuf

import (
	"context"

	"github.com/gittuf/tuf-on-git/internal/common/set"
)

// SignatureVerifyFunc checks whether sigHex is a valid signature by key over
// message. Cryptographic work is delegated to the signer port; this package
// only counts which keys verified.
type SignatureVerifyFunc func(ctx context.Context, key *Key, message []byte, sigHex string) bool

// VerifyDelegate counts, among signatures, the distinct keyids from role's
// KeyIDs (looked up in keys) whose signature verifies over signedBytes. It
// implements the metadata model's delegate-verification operation: the
// counted keyids meeting role's threshold is left to the caller, since
// different callers react to a missed threshold differently (advisory
// status vs. a fatal error).
func VerifyDelegate(ctx context.Context, role Role, keys map[string]*Key, signedBytes []byte, signatures []Signature, verify SignatureVerifyFunc) *set.Set[string] {
	authorized := set.NewSetFromItems(role.KeyIDs...)
	verified := set.NewSet[string]()

	for _, sig := range signatures {
		if !authorized.Has(sig.KeyID) {
			continue
		}
		key, ok := keys[sig.KeyID]
		if !ok {
			continue
		}
		if verify(ctx, key, signedBytes, sig.Sig) {
			verified.Add(sig.KeyID)
		}
	}

	return verified
}

// MeetsThreshold reports whether verified contains at least role.Threshold
// distinct keyids.
func MeetsThreshold(role Role, verified *set.Set[string]) bool {
	return verified.Len() >= role.Threshold
}
