package token

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Status summarises the verified token's standing.
type Status string

const (
	StatusValid   Status = "VALID"
	StatusInvalid Status = "INVALID"
	StatusExpired Status = "EXPIRED"
	StatusUnknown Status = "UNKNOWN"
)

// expiryWarningWindow is how close to certificate expiry the verifier
// starts warning (non-fatal).
const expiryWarningWindow = 7 * 24 * time.Hour

// revocationTimeout bounds a revocation oracle query.
const revocationTimeout = 5 * time.Second

// VerificationResult is the outcome of verifying a token. Warnings are
// non-fatal and accompany both valid and invalid results.
type VerificationResult struct {
	Valid    bool     `json:"valid"`
	Status   Status   `json:"status"`
	Claims   *Claims  `json:"claims,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithRevocation enables revocation checks against oracle.
func WithRevocation(oracle RevocationOracle) VerifierOption {
	return func(v *Verifier) {
		v.revocation = oracle
		v.checkRevocation = oracle != nil
	}
}

// WithVerifierClock overrides the verifier's clock; used by tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// Verifier parses and verifies A2A tokens. All results are pure values;
// verification has no side effects.
type Verifier struct {
	keys            KeyResolver
	revocation      RevocationOracle
	checkRevocation bool
	now             func() time.Time
	logger          *zap.Logger
}

// NewVerifier creates a Verifier resolving signature keys through keys.
func NewVerifier(keys KeyResolver, logger *zap.Logger, opts ...VerifierOption) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Verifier{keys: keys, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs the ordered verification procedure: structure → token
// expiry → certificate expiry → signature → revocation. The first
// failure wins; later stages never run after a failure.
func (v *Verifier) Verify(ctx context.Context, tokenStr string) (*VerificationResult, error) {
	header, claims, signingInput, sig, err := decodeParts(tokenStr)
	if err != nil {
		return &VerificationResult{Valid: false, Status: StatusInvalid}, err
	}

	now := v.now().UTC()

	// Token expiry: exp == now counts as expired. No leeway.
	if claims.Expiry <= now.Unix() {
		return &VerificationResult{Valid: false, Status: StatusExpired, Claims: claims},
			aigerr.New(aigerr.TokenExpired, "token expired at %s", time.Unix(claims.Expiry, 0).UTC().Format(time.RFC3339))
	}

	// Embedded certificate expiry.
	if !claims.CGA.ExpiresAt.After(now) {
		return &VerificationResult{Valid: false, Status: StatusExpired, Claims: claims},
			aigerr.New(aigerr.CertificateExpired, "certificate %s expired at %s",
				claims.CGA.CertificateID, claims.CGA.ExpiresAt.UTC().Format(time.RFC3339))
	}

	var warnings []string
	if remaining := claims.CGA.ExpiresAt.Sub(now); remaining <= expiryWarningWindow {
		warnings = append(warnings, fmt.Sprintf("certificate %s expires in %s",
			claims.CGA.CertificateID, remaining.Round(time.Hour)))
	}

	// Signature under the key resolved from kid.
	pub, err := v.keys.ResolveKey(ctx, header.Kid)
	if err != nil {
		if kind := aigerr.KindOf(err); kind == aigerr.Cancelled || kind == aigerr.Timeout || kind == aigerr.UntrustedIssuer {
			return &VerificationResult{Valid: false, Status: StatusInvalid, Claims: claims, Warnings: warnings}, err
		}
		return &VerificationResult{Valid: false, Status: StatusInvalid, Claims: claims, Warnings: warnings},
			aigerr.Wrap(aigerr.InvalidSignature, err, "resolve key %q", header.Kid)
	}
	if err := jwt.SigningMethodES256.Verify(signingInput, sig, pub); err != nil {
		return &VerificationResult{Valid: false, Status: StatusInvalid, Claims: claims, Warnings: warnings},
			aigerr.Wrap(aigerr.InvalidSignature, err, "token signature invalid under key %q", header.Kid)
	}

	status := StatusValid
	if v.checkRevocation {
		revCtx, cancel := context.WithTimeout(ctx, revocationTimeout)
		revStatus, revErr := v.revocation.Status(revCtx, claims.CGA.CertificateID)
		cancel()
		switch {
		case revErr != nil:
			warnings = append(warnings, fmt.Sprintf("revocation check failed: %v", revErr))
			status = StatusUnknown
		case revStatus == RevocationRevoked:
			return &VerificationResult{Valid: false, Status: StatusInvalid, Claims: claims, Warnings: warnings},
				aigerr.New(aigerr.CertificateRevoked, "certificate %s has been revoked", claims.CGA.CertificateID)
		case revStatus == RevocationUnknown:
			warnings = append(warnings, fmt.Sprintf("revocation status of certificate %s is unknown", claims.CGA.CertificateID))
			status = StatusUnknown
		}
	}

	return &VerificationResult{Valid: true, Status: status, Claims: claims, Warnings: warnings}, nil
}

// Extract decodes a token's claims without verifying anything. For
// inspection only; never trust extracted claims.
func Extract(tokenStr string) (*Claims, error) {
	_, claims, _, _, err := decodeParts(tokenStr)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// decodeParts splits and structurally validates the three token parts.
func decodeParts(tokenStr string) (*Header, *Claims, string, []byte, error) {
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		return nil, nil, "", nil, aigerr.New(aigerr.BadFormat, "token has %d parts, want 3", len(parts))
	}

	headerJSON, err := b64.DecodeString(parts[0])
	if err != nil {
		return nil, nil, "", nil, aigerr.Wrap(aigerr.BadFormat, err, "decode token header")
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, nil, "", nil, aigerr.Wrap(aigerr.BadFormat, err, "parse token header")
	}
	if header.Alg != Algorithm {
		return nil, nil, "", nil, aigerr.New(aigerr.BadFormat, "token alg %q, want %s", header.Alg, Algorithm)
	}

	payloadJSON, err := b64.DecodeString(parts[1])
	if err != nil {
		return nil, nil, "", nil, aigerr.Wrap(aigerr.BadFormat, err, "decode token payload")
	}
	var claims Claims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return nil, nil, "", nil, aigerr.Wrap(aigerr.BadFormat, err, "parse token claims")
	}
	if err := claims.validate(); err != nil {
		return nil, nil, "", nil, err
	}

	sig, err := b64.DecodeString(parts[2])
	if err != nil {
		return nil, nil, "", nil, aigerr.Wrap(aigerr.BadFormat, err, "decode token signature")
	}
	if len(sig) == 0 {
		return nil, nil, "", nil, aigerr.New(aigerr.BadFormat, "token signature is empty")
	}

	return &header, &claims, parts[0] + "." + parts[1], sig, nil
}
