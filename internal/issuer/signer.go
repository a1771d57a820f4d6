// Package issuer turns a verification report into a signed CGA
// certificate, full and compact forms. Signing goes through an injected
// Signer so tests can use a throwaway key; placeholder signatures are
// never produced or accepted.
package issuer

import (
	"crypto/ecdsa"
	"encoding/base64"

	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/golang-jwt/jwt/v5"
)

// Signer produces detached signatures over canonical document bytes.
type Signer interface {
	Sign(data []byte) ([]byte, error)
	Algorithm() string
	KeyID() string
}

// SignatureVerifier checks a detached signature.
type SignatureVerifier interface {
	Verify(data, sig []byte) error
}

// ES256Signer signs with an ECDSA P-256 key in the JOSE raw R||S form.
type ES256Signer struct {
	key   *ecdsa.PrivateKey
	keyID string
}

// NewES256Signer wraps key under keyID.
func NewES256Signer(key *ecdsa.PrivateKey, keyID string) *ES256Signer {
	return &ES256Signer{key: key, keyID: keyID}
}

// Sign implements Signer.
func (s *ES256Signer) Sign(data []byte) ([]byte, error) {
	if s.key == nil {
		return nil, aigerr.New(aigerr.SignerUnavailable, "no signing key configured")
	}
	sig, err := jwt.SigningMethodES256.Sign(string(data), s.key)
	if err != nil {
		return nil, aigerr.Wrap(aigerr.SignerUnavailable, err, "sign certificate")
	}
	return sig, nil
}

// Algorithm implements Signer.
func (s *ES256Signer) Algorithm() string { return "ES256" }

// KeyID implements Signer.
func (s *ES256Signer) KeyID() string { return s.keyID }

// PublicKey returns the matching verification key.
func (s *ES256Signer) PublicKey() *ecdsa.PublicKey { return &s.key.PublicKey }

// ES256Verifier verifies raw R||S ECDSA P-256 signatures.
type ES256Verifier struct {
	pub *ecdsa.PublicKey
}

// NewES256Verifier wraps pub.
func NewES256Verifier(pub *ecdsa.PublicKey) *ES256Verifier {
	return &ES256Verifier{pub: pub}
}

// Verify implements SignatureVerifier.
func (v *ES256Verifier) Verify(data, sig []byte) error {
	if err := jwt.SigningMethodES256.Verify(string(data), sig, v.pub); err != nil {
		return aigerr.Wrap(aigerr.InvalidSignature, err, "certificate signature invalid")
	}
	return nil
}

// encodeSignature emits a signature value as standard base64.
func encodeSignature(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}

// DecodeSignature parses a base64 signature value.
func DecodeSignature(value string) ([]byte, error) {
	sig, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, aigerr.Wrap(aigerr.BadFormat, err, "decode signature value")
	}
	if len(sig) == 0 {
		return nil, aigerr.New(aigerr.BadFormat, "signature value is empty")
	}
	return sig, nil
}
