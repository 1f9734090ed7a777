// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/gittuf/tuf-on-git/internal/tuf"
)

// VerifyKey verifies sig over message against key, dispatching on the key's
// own type rather than always round-tripping through a Registry: an
// offline ed25519 or ssh key verifies directly from the public material
// already recorded in metadata, a sigstore-oidc key verifies from the
// certificate embedded in the signature itself, and only a key carrying an
// x-online-uri (an online snapshot/timestamp key backed by envvar/KMS/HSM)
// needs a live Registry lookup. This is the verification half of "the
// signer port is the only path to cryptographic operations": every caller
// reaches cryptography through this function or through a Signer it built,
// never by calling crypto/ed25519 or golang.org/x/crypto/ssh itself.
func VerifyKey(ctx context.Context, registry *Registry, key *tuf.Key, message, sig []byte) error {
	if key.XOnlineURI != "" {
		s, err := registry.Get(ctx, key.XOnlineURI, key, nil)
		if err != nil {
			return err
		}
		return s.Verify(ctx, sig, message)
	}

	switch key.KeyType {
	case "ed25519":
		pub, err := hex.DecodeString(key.Public)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: malformed ed25519 public key", ErrSignerBackendFailure)
		}
		if !ed25519.Verify(ed25519.PublicKey(pub), message, sig) {
			return fmt.Errorf("%w: ed25519 signature mismatch", ErrSignerBackendFailure)
		}
		return nil

	case "ssh":
		wire, err := hex.DecodeString(key.Public)
		if err != nil {
			return fmt.Errorf("%w: malformed ssh public key", ErrSignerBackendFailure)
		}
		public, err := ssh.ParsePublicKey(wire)
		if err != nil {
			return fmt.Errorf("%w: parsing ssh public key: %w", ErrSignerBackendFailure, err)
		}
		verifier := &sshSigner{public: public}
		return verifier.Verify(ctx, sig, message)

	case fulcioKeyType:
		verifier := &sigstoreSigner{issuer: key.XSigstoreIssuer, identity: key.XSigstoreIdentity}
		return verifier.Verify(ctx, sig, message)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownKeyScheme, key.KeyType)
	}
}
