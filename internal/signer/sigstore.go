// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	fulcioapi "github.com/sigstore/fulcio/pkg/api"
	"github.com/sigstore/fulcio/pkg/certificate"
	"github.com/sigstore/sigstore/pkg/cryptoutils"
	"github.com/sigstore/sigstore/pkg/oauthflow"

	"github.com/gittuf/tuf-on-git/internal/tuf"
)

const (
	sigstoreScheme = "sigstore"

	fulcioKeyType   = "sigstore-oidc"
	fulcioKeyScheme = "fulcio"

	defaultFulcioURL = "https://fulcio.sigstore.dev"
	defaultOIDCIssuer = "https://oauth2.sigstore.dev/auth"
	defaultOIDCClientID = "sigstore"

	// envAmbientIDToken lets an ambient OIDC token (e.g. one a CI system
	// already minted, such as a GitHub Actions job token) be supplied
	// without an interactive browser flow. Real ambient-credential
	// discovery (GitHub/GitLab/Buildkite provider probing, as cosign's
	// provider chain does) is not implemented; see DESIGN.md.
	envAmbientIDToken = "SIGSTORE_ID_TOKEN"
)

// sigstoreEnvelope is the wire format stored, hex-encoded, in a
// Signature's Sig field: the leaf certificate Fulcio issued for the
// ephemeral signing key, alongside the raw signature it produced. A
// genuine sigstore bundle also carries a Rekor transparency-log inclusion
// proof; this module does not verify or require one (see DESIGN.md).
type sigstoreEnvelope struct {
	CertPEM string `json:"cert"`
	Sig     string `json:"sig"`
}

// sigstoreSigner requests a short-lived Fulcio certificate for a freshly
// generated keypair and signs with it, the "keyless" signing flow. It
// talks to Fulcio directly through sigstore/fulcio's client rather than
// assembling a full Sigstore bundle, and it does not submit to or verify
// against Rekor.
type sigstoreSigner struct {
	fulcioURL string
	ambient   bool
	identity  string
	issuer    string
}

// NewSigstoreSigner implements Constructor for the "sigstore:" scheme,
// optionally "sigstore:?ambient=<bool>". descriptor, when present, records
// the issuer/identity a verifier will hold the resulting signature to; for
// a signer constructed to produce a new signature those fields are learned
// from the OIDC token instead and don't need to be pre-known.
func NewSigstoreSigner(_ context.Context, uri string, descriptor *tuf.Key, _ SecretProvider) (Signer, error) {
	ambient := false
	if _, rest, ok := strings.Cut(uri, "?"); ok {
		values, err := url.ParseQuery(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: %q has an invalid query: %w", ErrMalformedURI, uri, err)
		}
		ambient = values.Get("ambient") == "true"
	}

	s := &sigstoreSigner{fulcioURL: defaultFulcioURL, ambient: ambient}
	if descriptor != nil {
		s.issuer = descriptor.XSigstoreIssuer
		s.identity = descriptor.XSigstoreIdentity
	}
	return s, nil
}

func (s *sigstoreSigner) idToken(ctx context.Context) (*oauthflow.OIDCIDToken, error) {
	if s.ambient {
		raw := os.Getenv(envAmbientIDToken)
		if raw == "" {
			return nil, fmt.Errorf("ambient sigstore signing requested but %s is not set", envAmbientIDToken)
		}
		subject, issuer, err := parseUnverifiedIdentity(raw)
		if err != nil {
			return nil, err
		}
		return &oauthflow.OIDCIDToken{RawString: raw, Subject: subject, Issuer: issuer}, nil
	}

	return oauthflow.OIDConnect(defaultOIDCIssuer, defaultOIDCClientID, "", "", oauthflow.DefaultIDTokenGetter)
}

// parseUnverifiedIdentity pulls the subject and issuer out of an
// externally supplied OIDC token's payload without checking its signature:
// Fulcio itself verifies the token when the certificate request is signed
// with it, so a forged token only fails there, not here.
func parseUnverifiedIdentity(rawToken string) (subject, issuer string, err error) {
	parts := strings.Split(rawToken, ".")
	if len(parts) != 3 {
		return "", "", fmt.Errorf("%w: malformed OIDC token", ErrSignerBackendFailure)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", "", fmt.Errorf("%w: decoding OIDC token payload: %w", ErrSignerBackendFailure, err)
	}
	var claims struct {
		Sub string `json:"sub"`
		Iss string `json:"iss"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", "", fmt.Errorf("%w: parsing OIDC token payload: %w", ErrSignerBackendFailure, err)
	}
	subject = claims.Sub
	if claims.Email != "" {
		subject = claims.Email
	}
	return subject, claims.Iss, nil
}

func (s *sigstoreSigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	token, err := s.idToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining OIDC identity: %w", err)
	}

	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ephemeral keypair: %w", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(private.Public())
	if err != nil {
		return nil, fmt.Errorf("marshaling ephemeral public key: %w", err)
	}

	// Fulcio requires proof of possession of the private key: a signature,
	// over the token's subject, by that key.
	proofHash := sha256.Sum256([]byte(token.Subject))
	proof, err := ecdsa.SignASN1(rand.Reader, private, proofHash[:])
	if err != nil {
		return nil, fmt.Errorf("signing proof of possession: %w", err)
	}

	client := fulcioapi.NewClient(s.fulcioURL)
	resp, err := client.SigningCert(fulcioapi.CertificateRequest{
		PublicKey: fulcioapi.Key{
			Content:   pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER}),
			Algorithm: "ecdsa",
		},
		SignedEmailAddress: proof,
	}, token.RawString)
	if err != nil {
		return nil, fmt.Errorf("requesting Fulcio certificate: %w", err)
	}

	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, private, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signing payload: %w", err)
	}

	envelope := sigstoreEnvelope{
		CertPEM: base64.StdEncoding.EncodeToString(resp.CertPEM),
		Sig:     base64.StdEncoding.EncodeToString(sig),
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

func (s *sigstoreSigner) Verify(_ context.Context, sig, message []byte) error {
	var envelope sigstoreEnvelope
	if err := json.Unmarshal(sig, &envelope); err != nil {
		return fmt.Errorf("%w: signature is not a sigstore envelope: %w", ErrSignerBackendFailure, err)
	}

	certPEM, err := base64.StdEncoding.DecodeString(envelope.CertPEM)
	if err != nil {
		return fmt.Errorf("%w: decoding certificate: %w", ErrSignerBackendFailure, err)
	}
	certs, err := cryptoutils.UnmarshalCertificatesFromPEM(certPEM)
	if err != nil || len(certs) == 0 {
		return fmt.Errorf("%w: parsing certificate: %w", ErrSignerBackendFailure, err)
	}
	leaf := certs[0]

	if time.Now().After(leaf.NotAfter) || time.Now().Before(leaf.NotBefore) {
		return fmt.Errorf("%w: certificate is not currently valid", ErrSignerBackendFailure)
	}

	ext, err := certificate.ParseExtensions(leaf.Extensions)
	if err != nil {
		return fmt.Errorf("%w: reading certificate identity extensions: %w", ErrSignerBackendFailure, err)
	}
	if s.issuer != "" && ext.Issuer != s.issuer {
		return fmt.Errorf("%w: certificate issuer %q does not match expected %q", ErrSignerBackendFailure, ext.Issuer, s.issuer)
	}
	if s.identity != "" && !certificateMatchesIdentity(leaf, s.identity) {
		return fmt.Errorf("%w: certificate does not attest expected identity %q", ErrSignerBackendFailure, s.identity)
	}

	sigBytes, err := base64.StdEncoding.DecodeString(envelope.Sig)
	if err != nil {
		return fmt.Errorf("%w: decoding signature: %w", ErrSignerBackendFailure, err)
	}
	ecdsaKey, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: certificate public key is not ECDSA", ErrSignerBackendFailure)
	}
	digest := sha256.Sum256(message)
	if !ecdsa.VerifyASN1(ecdsaKey, digest[:], sigBytes) {
		return fmt.Errorf("%w: signature does not verify against certificate key", ErrSignerBackendFailure)
	}

	return nil
}

func certificateMatchesIdentity(cert *x509.Certificate, identity string) bool {
	for _, email := range cert.EmailAddresses {
		if email == identity {
			return true
		}
	}
	for _, uri := range cert.URIs {
		if uri.String() == identity {
			return true
		}
	}
	return false
}

func (s *sigstoreSigner) KeyID() string {
	sum := sha256.Sum256([]byte(s.issuer + "|" + s.identity))
	return hex.EncodeToString(sum[:])
}

// Public returns the identity-based key descriptor: a sigstore-oidc key
// carries no pre-registered public key material, only the issuer/identity
// pair a certificate must attest at verification time.
func (s *sigstoreSigner) Public() *tuf.Key {
	return &tuf.Key{
		KeyID:             s.KeyID(),
		KeyType:           fulcioKeyType,
		Scheme:            fulcioKeyScheme,
		XSigstoreIssuer:   s.issuer,
		XSigstoreIdentity: s.identity,
	}
}
