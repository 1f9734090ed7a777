// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/gittuf/tuf-on-git/internal/tuf"
)

const envvarScheme = "envvar"

// envVarSigner is an in-memory ed25519 signer whose private key comes from
// an environment variable, hex-encoded. It exists for deterministic tests
// and CI online-key rotation, not for production offline identities.
type envVarSigner struct {
	keyID   string
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// NewEnvVarSigner implements Constructor for the "envvar:<NAME>" scheme.
// descriptor may be nil; when present, its public material (if any) is
// cross-checked against the derived key so a misconfigured env var is
// caught at construction rather than at the first failed verification.
func NewEnvVarSigner(_ context.Context, uri string, descriptor *tuf.Key, _ SecretProvider) (Signer, error) {
	_, name, ok := strings.Cut(uri, ":")
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: %q missing environment variable name", ErrMalformedURI, uri)
	}

	raw := os.Getenv(name)
	if raw == "" {
		return nil, fmt.Errorf("environment variable %q is unset or empty", name)
	}

	seed, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("environment variable %q is not hex-encoded: %w", name, err)
	}

	var private ed25519.PrivateKey
	switch len(seed) {
	case ed25519.SeedSize:
		private = ed25519.NewKeyFromSeed(seed)
	case ed25519.PrivateKeySize:
		private = ed25519.PrivateKey(seed)
	default:
		return nil, fmt.Errorf("environment variable %q decodes to %d bytes, want %d (seed) or %d (expanded key)", name, len(seed), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
	public := private.Public().(ed25519.PublicKey)

	key := tuf.Key{
		KeyType:    "ed25519",
		Scheme:     "ed25519",
		Public:     hex.EncodeToString(public),
		XOnlineURI: uri,
	}
	keyID, err := tuf.ComputeKeyID(key)
	if err != nil {
		return nil, err
	}

	if descriptor != nil && descriptor.Public != "" && descriptor.Public != key.Public {
		return nil, fmt.Errorf("environment variable %q does not match the key descriptor's recorded public value", name)
	}

	return &envVarSigner{keyID: keyID, public: public, private: private}, nil
}

func (s *envVarSigner) Sign(_ context.Context, message []byte) ([]byte, error) {
	return ed25519.Sign(s.private, message), nil
}

func (s *envVarSigner) Verify(_ context.Context, sig, message []byte) error {
	if !ed25519.Verify(s.public, message, sig) {
		return fmt.Errorf("%w: ed25519 signature mismatch", ErrSignerBackendFailure)
	}
	return nil
}

func (s *envVarSigner) KeyID() string { return s.keyID }

func (s *envVarSigner) Public() *tuf.Key {
	return &tuf.Key{
		KeyID:   s.keyID,
		KeyType: "ed25519",
		Scheme:  "ed25519",
		Public:  hex.EncodeToString(s.public),
	}
}
