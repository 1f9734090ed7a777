// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

// Package signer is the cryptographic port: the only code in this module
// that touches private key material or talks to an external signing
// backend. Every other package deals exclusively in keyids and public
// descriptors (tuf.Key), and reaches a Signer only through a Registry.
package signer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gittuf/tuf-on-git/internal/tuf"
)

// Signer signs and verifies over a single key's payload. Sign returns
// ErrSignerBackendFailure (or a wrap of it) when the backend holds no
// private material for this key, e.g. a Signer constructed only to verify
// an already-applied signature.
type Signer interface {
	Sign(ctx context.Context, message []byte) ([]byte, error)
	Verify(ctx context.Context, sig, message []byte) error
	KeyID() string
	Public() *tuf.Key
}

// SecretProvider supplies a secret (a PIN, a passphrase) named by prompt,
// for backends that need one interactively. It is injected rather than
// read from a fixed environment variable or prompted on stdin directly, so
// that callers can wire it to whatever UI or vault they have.
type SecretProvider func(ctx context.Context, prompt string) (string, error)

// Constructor builds a Signer for a key whose x-online-uri is uri. descriptor
// is the key's own metadata entry, used by constructors that need public
// material already on record (an offline key's embedded public key) or
// identity-gating fields (a sigstore key's issuer/identity). secrets may be
// nil if the scheme never needs one.
type Constructor func(ctx context.Context, uri string, descriptor *tuf.Key, secrets SecretProvider) (Signer, error)

// Registry is the URI-scheme capability table: the signer port's only
// dispatch point, matching the design's "signer-URI plugin registry"
// choice over a fixed type switch, so that new backends can be added
// without touching callers.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty Registry with nothing registered.
func NewRegistry() *Registry {
	return &Registry{constructors: map[string]Constructor{}}
}

// Register binds scheme (the part of a signer URI before the first ":")
// to ctor. Registering the same scheme twice replaces the prior binding.
func (r *Registry) Register(scheme string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[scheme] = ctor
}

// Get resolves uri's scheme and constructs a Signer for descriptor. uri is
// typically a key's x-online-uri, but any "scheme:rest" string the caller
// holds works.
func (r *Registry) Get(ctx context.Context, uri string, descriptor *tuf.Key, secrets SecretProvider) (Signer, error) {
	scheme, _, _ := strings.Cut(uri, ":")

	r.mu.RLock()
	ctor, ok := r.constructors[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyScheme, scheme)
	}

	s, err := ctor(ctx, uri, descriptor, secrets)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignerBackendFailure, err)
	}
	return s, nil
}

// DefaultRegistry returns a Registry with every scheme this module ships a
// real backend for already bound: envvar, ssh, sigstore, gcpkms, azurekv,
// and a placeholder hsm entry (see hsm.go).
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(envvarScheme, NewEnvVarSigner)
	r.Register(sshScheme, NewSSHSigner)
	r.Register(sigstoreScheme, NewSigstoreSigner)
	r.Register(gcpkmsScheme, NewGCPKMSSigner)
	r.Register(azurekvScheme, NewAzureKMSSigner)
	r.Register(hsmScheme, NewHSMSigner)
	return r
}
