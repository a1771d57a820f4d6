// Package token mints and verifies the three-part A2A bearer token that
// carries an agent's identity, its compact CGA attestation, and its
// AI-governance claims. Tokens are ES256-signed; the payload is canonical
// JSON (sorted keys, no whitespace) and every part is base64url without
// padding.
package token

import (
	"encoding/json"
	"time"

	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/aigos-io/aigos/internal/cga"
)

// Algorithm is the only signature algorithm accepted on A2A tokens.
const Algorithm = "ES256"

// DefaultValiditySeconds is the token lifetime when none is configured.
const DefaultValiditySeconds = 3600

// Audience is a JWT aud claim: a single string or an array of strings.
type Audience []string

// UnmarshalJSON accepts both the string and the string-array encodings.
func (a *Audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Audience{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*a = Audience(many)
	return nil
}

// MarshalJSON emits a bare string for single audiences.
func (a Audience) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

// GovernanceVerified mirrors the compact certificate's five governance
// booleans inside the token.
type GovernanceVerified struct {
	KillSwitch       bool `json:"kill_switch"`
	PolicyEngine     bool `json:"policy_engine"`
	GoldenThread     bool `json:"golden_thread"`
	CapabilityBounds bool `json:"capability_bounds"`
	Telemetry        bool `json:"telemetry"`
}

// OperationalHealth carries the agent's recent operational figures.
type OperationalHealth struct {
	Uptime30D       float64    `json:"uptime_30d"`
	Violations30D   int        `json:"violations_30d"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty"`
}

// CGAClaims is the certificate attestation block of the token.
type CGAClaims struct {
	CertificateID        string             `json:"certificate_id"`
	Level                cga.Level          `json:"level"`
	Issuer               string             `json:"issuer"`
	ExpiresAt            time.Time          `json:"expires_at"`
	GovernanceVerified   GovernanceVerified `json:"governance_verified"`
	ComplianceFrameworks []string           `json:"compliance_frameworks"`
	OperationalHealth    *OperationalHealth `json:"operational_health,omitempty"`
}

// AgentClaims is the agent identity block of the token.
type AgentClaims struct {
	AssetID          string        `json:"asset_id"`
	GoldenThreadHash string        `json:"golden_thread_hash"`
	RiskLevel        cga.RiskLevel `json:"risk_level"`
	Capabilities     []string      `json:"capabilities"`
	PolicyVersion    string        `json:"policy_version,omitempty"`
}

// Claims is the full A2A token claim set.
type Claims struct {
	Issuer   string      `json:"iss"`
	Subject  string      `json:"sub"`
	Audience Audience    `json:"aud"`
	Expiry   int64       `json:"exp"`
	IssuedAt int64       `json:"iat"`
	JTI      string      `json:"jti"`
	CGA      CGAClaims   `json:"cga"`
	Agent    AgentClaims `json:"agent"`
}

// Header is the JOSE header of an A2A token.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

// validate applies the structural schema checks of the claim set.
func (c *Claims) validate() error {
	switch {
	case c.Issuer == "":
		return aigerr.New(aigerr.SchemaViolation, "claims missing iss")
	case c.Subject == "":
		return aigerr.New(aigerr.SchemaViolation, "claims missing sub")
	case len(c.Audience) == 0:
		return aigerr.New(aigerr.SchemaViolation, "claims missing aud")
	case c.JTI == "":
		return aigerr.New(aigerr.SchemaViolation, "claims missing jti")
	case c.IssuedAt > c.Expiry:
		return aigerr.New(aigerr.SchemaViolation, "claims iat after exp")
	case !c.CGA.Level.Valid():
		return aigerr.New(aigerr.SchemaViolation, "claims carry unknown CGA level %q", c.CGA.Level)
	case c.Agent.RiskLevel.Ord() < 0:
		return aigerr.New(aigerr.SchemaViolation, "claims carry unknown risk level %q", c.Agent.RiskLevel)
	}
	return nil
}
