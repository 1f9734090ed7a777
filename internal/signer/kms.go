// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/sigstore/sigstore/pkg/signature/kms"
	_ "github.com/sigstore/sigstore/pkg/signature/kms/azure" // registers the azurekv:// provider
	_ "github.com/sigstore/sigstore/pkg/signature/kms/gcp"   // registers the gcpkms:// provider

	"github.com/gittuf/tuf-on-git/internal/tuf"
)

const (
	gcpkmsScheme  = "gcpkms"
	azurekvScheme = "azurekv"
)

// kmsSigner wraps a sigstore signature.SignerVerifier obtained from the
// generic kms.Get dispatcher, which selects the gcpkms:// or azurekv://
// provider by the resource ID's scheme prefix.
type kmsSigner struct {
	resourceID string
	sv         signature.SignerVerifier
	keyID      string
	public     *tuf.Key
}

func newKMSSigner(ctx context.Context, scheme, uri string) (Signer, error) {
	_, rest, ok := strings.Cut(uri, ":")
	if !ok || rest == "" {
		return nil, fmt.Errorf("%w: %q missing resource ID", ErrMalformedURI, uri)
	}

	resourceID := scheme + "://" + rest
	sv, err := kms.Get(ctx, resourceID, crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("resolving %s KMS key %q: %w", scheme, resourceID, err)
	}

	pub, err := sv.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("fetching public key for %q: %w", resourceID, err)
	}
	pkixBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("encoding public key for %q: %w", resourceID, err)
	}

	key := &tuf.Key{
		KeyType:    "kms",
		Scheme:     scheme,
		Public:     hex.EncodeToString(pkixBytes),
		XOnlineURI: uri,
	}
	keyID, err := tuf.ComputeKeyID(*key)
	if err != nil {
		return nil, err
	}
	key.KeyID = keyID

	return &kmsSigner{resourceID: resourceID, sv: sv, keyID: keyID, public: key}, nil
}

// NewGCPKMSSigner implements Constructor for the "gcpkms:<resource>" scheme.
func NewGCPKMSSigner(ctx context.Context, uri string, _ *tuf.Key, _ SecretProvider) (Signer, error) {
	return newKMSSigner(ctx, gcpkmsScheme, uri)
}

// NewAzureKMSSigner implements Constructor for the "azurekv:<vault>/<key>"
// scheme.
func NewAzureKMSSigner(ctx context.Context, uri string, _ *tuf.Key, _ SecretProvider) (Signer, error) {
	return newKMSSigner(ctx, azurekvScheme, uri)
}

func (s *kmsSigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	return s.sv.SignMessage(bytes.NewReader(message), signature.WithContext(ctx))
}

func (s *kmsSigner) Verify(ctx context.Context, sig, message []byte) error {
	if err := s.sv.VerifySignature(bytes.NewReader(sig), bytes.NewReader(message), signature.WithContext(ctx)); err != nil {
		return fmt.Errorf("%w: %w", ErrSignerBackendFailure, err)
	}
	return nil
}

func (s *kmsSigner) KeyID() string { return s.keyID }

func (s *kmsSigner) Public() *tuf.Key { return s.public }
