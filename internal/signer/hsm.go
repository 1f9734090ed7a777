// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"context"
	"fmt"
	"strings"

	"github.com/gittuf/tuf-on-git/internal/tuf"
)

const hsmScheme = "hsm"

// NewHSMSigner implements Constructor for the "hsm:" scheme. No PKCS#11
// driver ships with this module (there is no such dependency anywhere in
// the ecosystem this module draws on); this constructor exists so the
// scheme is registered and the secret-prompt plumbing it needs is real,
// but the signing operation itself is left to a driver-specific
// Constructor a caller registers over this one with Registry.Register
// before first use.
func NewHSMSigner(ctx context.Context, uri string, _ *tuf.Key, secrets SecretProvider) (Signer, error) {
	slot, _, _ := strings.Cut(strings.TrimPrefix(uri, hsmScheme+":"), ";")

	if secrets == nil {
		return nil, fmt.Errorf("%w: hsm scheme requires a SecretProvider for the token PIN", ErrMalformedURI)
	}
	if _, err := secrets(ctx, fmt.Sprintf("PIN for PKCS#11 slot %q", slot)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignerBackendFailure, err)
	}

	return nil, fmt.Errorf("%w: no PKCS#11 driver registered for hsm scheme; register one with Registry.Register before use", ErrSignerBackendFailure)
}
