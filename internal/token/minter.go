package token

import (
	"crypto/ecdsa"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/aigos-io/aigos/internal/canon"
	"github.com/aigos-io/aigos/internal/cga"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// b64 is the unpadded base64url alphabet every token part uses.
var b64 = base64.RawURLEncoding

// Minter builds signed A2A tokens from a compact CGA certificate.
type Minter struct {
	key      *ecdsa.PrivateKey
	keyID    string
	validity time.Duration
	now      func() time.Time
}

// MintResult is the output of a successful mint.
type MintResult struct {
	Token     string    `json:"token"`
	Claims    *Claims   `json:"claims"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewMinter creates a Minter signing with key under keyID.
// validity defaults to one hour when zero.
func NewMinter(key *ecdsa.PrivateKey, keyID string, validity time.Duration) *Minter {
	if validity == 0 {
		validity = DefaultValiditySeconds * time.Second
	}
	return &Minter{key: key, keyID: keyID, validity: validity, now: time.Now}
}

// WithClock overrides the minter's clock; used by tests.
func (m *Minter) WithClock(now func() time.Time) *Minter {
	m.now = now
	return m
}

// MintInput carries the agent-side inputs of a mint.
type MintInput struct {
	Audience         Audience
	AssetID          string
	GoldenThreadHash string
	RiskLevel        cga.RiskLevel
	Capabilities     []string
	PolicyVersion    string
}

// Mint builds and signs a token embedding the compact certificate.
// The issuer and subject claims are both the certified agent's URN.
func (m *Minter) Mint(cert *cga.CompactCertificate, in MintInput) (*MintResult, error) {
	if m.key == nil {
		return nil, aigerr.New(aigerr.SignerUnavailable, "minter has no signing key")
	}
	if cert == nil {
		return nil, aigerr.New(aigerr.SchemaViolation, "mint requires a compact certificate")
	}
	if len(in.Audience) == 0 {
		return nil, aigerr.New(aigerr.SchemaViolation, "mint requires an audience")
	}

	now := m.now().UTC()
	exp := now.Add(m.validity)

	claims := &Claims{
		Issuer:   cert.AgentID,
		Subject:  cert.AgentID,
		Audience: in.Audience,
		Expiry:   exp.Unix(),
		IssuedAt: now.Unix(),
		JTI:      fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String()[:8]),
		CGA: CGAClaims{
			CertificateID: cert.ID,
			Level:         cert.Level,
			Issuer:        cert.Issuer,
			ExpiresAt:     cert.ExpiresAt,
			GovernanceVerified: GovernanceVerified{
				KillSwitch:       cert.Gov.KS,
				PolicyEngine:     cert.Gov.PE,
				GoldenThread:     cert.Gov.GT,
				CapabilityBounds: cert.Gov.CB,
				Telemetry:        cert.Gov.TM,
			},
			ComplianceFrameworks: append([]string{}, cert.Compliance...),
		},
		Agent: AgentClaims{
			AssetID:          in.AssetID,
			GoldenThreadHash: in.GoldenThreadHash,
			RiskLevel:        in.RiskLevel,
			Capabilities:     append([]string{}, in.Capabilities...),
			PolicyVersion:    in.PolicyVersion,
		},
	}
	if err := claims.validate(); err != nil {
		return nil, err
	}

	signed, err := m.sign(claims)
	if err != nil {
		return nil, err
	}
	return &MintResult{Token: signed, Claims: claims, ExpiresAt: exp}, nil
}

// sign serialises header and claims canonically and signs header.payload
// with ES256.
func (m *Minter) sign(claims *Claims) (string, error) {
	header := Header{Alg: Algorithm, Typ: "JWT", Kid: m.keyID}

	headerJSON, err := canon.MarshalJSON(header)
	if err != nil {
		return "", fmt.Errorf("encode token header: %w", err)
	}
	payloadJSON, err := canon.MarshalJSON(claims)
	if err != nil {
		return "", fmt.Errorf("encode token claims: %w", err)
	}

	signingInput := b64.EncodeToString(headerJSON) + "." + b64.EncodeToString(payloadJSON)
	sig, err := jwt.SigningMethodES256.Sign(signingInput, m.key)
	if err != nil {
		return "", aigerr.Wrap(aigerr.SignerUnavailable, err, "sign token")
	}
	return signingInput + "." + b64.EncodeToString(sig), nil
}

// KeyID returns the kid the minter stamps into headers.
func (m *Minter) KeyID() string { return m.keyID }

// PublicKey returns the verification key matching the minter's signer.
func (m *Minter) PublicKey() *ecdsa.PublicKey { return &m.key.PublicKey }
