// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os/exec"
	"strings"

	"github.com/hiddeco/sshsig"
	"golang.org/x/crypto/ssh"

	"github.com/gittuf/tuf-on-git/internal/tuf"
)

const sshScheme = "ssh"

// sigNamespace matches git's own SSH-signature namespace, so a signature
// produced here verifies the same way `git verify-commit`/`verify-tag`
// would for an ssh.signingkey-configured identity.
const sigNamespace = "git"

// sshSigner signs by shelling out to ssh-keygen against a key file on
// disk, exactly how git itself invokes the user's configured SSH signing
// key (user.signingKey / gpg.ssh.program). This keeps private key material
// out of process memory entirely.
type sshSigner struct {
	path   string
	keyID  string
	public ssh.PublicKey
}

// NewSSHSigner implements Constructor for the "ssh:<path>" scheme. path
// points at a public or private, encrypted or plaintext, rsa/ecdsa/ed25519
// key file in any format ssh-keygen accepts, mirroring how git's
// user.signingKey is configured.
func NewSSHSigner(ctx context.Context, uri string, descriptor *tuf.Key, _ SecretProvider) (Signer, error) {
	_, path, ok := strings.Cut(uri, ":")
	if !ok || path == "" {
		return nil, fmt.Errorf("%w: %q missing key path", ErrMalformedURI, uri)
	}

	public, err := publicKeyFromFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("reading public key for %q: %w", path, err)
	}

	key := sshKeyDescriptor(public, "")
	keyID, err := tuf.ComputeKeyID(*key)
	if err != nil {
		return nil, err
	}

	if descriptor != nil && descriptor.Public != "" && descriptor.Public != key.Public {
		return nil, fmt.Errorf("key at %q does not match the key descriptor's recorded public value", path)
	}

	return &sshSigner{path: path, keyID: keyID, public: public}, nil
}

func publicKeyFromFile(ctx context.Context, path string) (ssh.PublicKey, error) {
	cmd := exec.CommandContext(ctx, "ssh-keygen", "-y", "-f", path) //nolint:gosec
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ssh-keygen -y: %w", err)
	}

	public, _, _, _, err := ssh.ParseAuthorizedKey(out)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh-keygen output: %w", err)
	}
	return public, nil
}

func sshKeyDescriptor(public ssh.PublicKey, owner string) *tuf.Key {
	return &tuf.Key{
		KeyType:   "ssh",
		Scheme:    public.Type(),
		Public:    hex.EncodeToString(public.Marshal()),
		XKeyOwner: owner,
	}
}

func (s *sshSigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ssh-keygen", "-Y", "sign", "-n", sigNamespace, "-f", s.path) //nolint:gosec
	cmd.Stdin = bytes.NewReader(message)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ssh-keygen -Y sign: %w", err)
	}
	return out, nil
}

func (s *sshSigner) Verify(_ context.Context, sig, message []byte) error {
	signature, err := sshsig.Unarmor(sig)
	if err != nil {
		return fmt.Errorf("parsing ssh signature: %w", err)
	}

	// ssh-keygen hashes with sha512 regardless of the signing key's type.
	if err := sshsig.Verify(bytes.NewReader(message), signature, s.public, sshsig.HashSHA512, sigNamespace); err != nil {
		return fmt.Errorf("%w: %w", ErrSignerBackendFailure, err)
	}
	return nil
}

func (s *sshSigner) KeyID() string { return s.keyID }

func (s *sshSigner) Public() *tuf.Key {
	key := sshKeyDescriptor(s.public, "")
	key.KeyID = s.keyID
	return key
}
