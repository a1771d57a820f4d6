package cga

import "time"

// Document framing constants shared by the full and compact certificate forms.
const (
	APIVersion      = "aigos.io/v1"
	KindFull        = "CGACertificate"
	KindCompact     = "CGACertificateCompact"
	KindTrustPolicy = "A2ATrustPolicy"
	SchemaVersion   = "1.0"
)

// AttestationStatus is the verification state of one governance control.
type AttestationStatus string

const (
	Verified      AttestationStatus = "VERIFIED"
	NotVerified   AttestationStatus = "NOT_VERIFIED"
	NotApplicable AttestationStatus = "NOT_APPLICABLE"
)

// Attestation records the status of one governance control.
type Attestation struct {
	Status     AttestationStatus `json:"status"                yaml:"status"`
	VerifiedAt *time.Time        `json:"verified_at,omitempty" yaml:"verified_at,omitempty"`
	Detail     string            `json:"detail,omitempty"      yaml:"detail,omitempty"`
}

// Metadata identifies a certificate document.
type Metadata struct {
	ID            string `json:"id"             yaml:"id"`
	Version       string `json:"version"        yaml:"version"`
	SchemaVersion string `json:"schema_version" yaml:"schema_version"`
}

// GoldenThreadRef binds the certificate to a business authorization hash.
type GoldenThreadRef struct {
	Hash      string `json:"hash"      yaml:"hash"`
	Algorithm string `json:"algorithm" yaml:"algorithm"`
}

// AgentSpec identifies the certified agent.
type AgentSpec struct {
	ID           string          `json:"id"            yaml:"id"`
	Version      string          `json:"version"       yaml:"version"`
	Organization string          `json:"organization"  yaml:"organization"`
	GoldenThread GoldenThreadRef `json:"golden_thread" yaml:"golden_thread"`
}

// RenewalPolicy controls automatic renewal ahead of expiry.
type RenewalPolicy struct {
	AutoRenew       bool `json:"auto_renew"        yaml:"auto_renew"`
	GracePeriodDays int  `json:"grace_period_days" yaml:"grace_period_days"`
}

// CertificationSpec carries the level, issuer, and validity window.
// ExpiresAt − IssuedAt always equals the level's validity in days.
type CertificationSpec struct {
	Level     Level         `json:"level"      yaml:"level"`
	Issuer    IssuerRef     `json:"issuer"     yaml:"issuer"`
	IssuedAt  time.Time     `json:"issued_at"  yaml:"issued_at"`
	ExpiresAt time.Time     `json:"expires_at" yaml:"expires_at"`
	Renewal   RenewalPolicy `json:"renewal"    yaml:"renewal"`
}

// IssuerRef identifies the certifying authority. BRONZE certificates are
// self-signed; SILVER and above carry a CA identity.
type IssuerRef struct {
	ID         string `json:"id"          yaml:"id"`
	Name       string `json:"name"        yaml:"name"`
	RequiresCA bool   `json:"requires_ca" yaml:"requires_ca"`
}

// GovernanceSpec attests the five governance controls.
type GovernanceSpec struct {
	KillSwitch       Attestation `json:"kill_switch"       yaml:"kill_switch"`
	PolicyEngine     Attestation `json:"policy_engine"     yaml:"policy_engine"`
	GoldenThread     Attestation `json:"golden_thread"     yaml:"golden_thread"`
	CapabilityBounds Attestation `json:"capability_bounds" yaml:"capability_bounds"`
	Telemetry        Attestation `json:"telemetry"         yaml:"telemetry"`
}

// ComplianceSpec lists mapped regulatory frameworks.
type ComplianceSpec struct {
	Frameworks []string `json:"frameworks,omitempty" yaml:"frameworks,omitempty"`
}

// OperationalSpec carries operational-health figures at issuance time.
type OperationalSpec struct {
	Uptime30D       float64    `json:"uptime_30d"                  yaml:"uptime_30d"`
	Violations30D   int        `json:"violations_30d"              yaml:"violations_30d"`
	LastHealthCheck *time.Time `json:"last_health_check,omitempty" yaml:"last_health_check,omitempty"`
}

// Signature is the detached signature over the canonical document bytes.
type Signature struct {
	Algorithm string `json:"algorithm" yaml:"algorithm"`
	KeyID     string `json:"key_id"    yaml:"key_id"`
	Value     string `json:"value"     yaml:"value"`
}

// CertificateSpec is the spec block of a full certificate.
type CertificateSpec struct {
	Agent         AgentSpec         `json:"agent"                  yaml:"agent"`
	Certification CertificationSpec `json:"certification"          yaml:"certification"`
	Governance    GovernanceSpec    `json:"governance"             yaml:"governance"`
	Compliance    *ComplianceSpec   `json:"compliance,omitempty"   yaml:"compliance,omitempty"`
	Security      map[string]string `json:"security,omitempty"     yaml:"security,omitempty"`
	Operational   *OperationalSpec  `json:"operational,omitempty"  yaml:"operational,omitempty"`
}

// Certificate is the full CGA certificate document.
type Certificate struct {
	APIVersion string          `json:"apiVersion" yaml:"apiVersion"`
	Kind       string          `json:"kind"       yaml:"kind"`
	Metadata   Metadata        `json:"metadata"   yaml:"metadata"`
	Spec       CertificateSpec `json:"spec"       yaml:"spec"`
	Signature  Signature       `json:"signature"  yaml:"signature"`
}

// GovernanceFlags is the five-boolean projection of GovernanceSpec used in
// the compact form. NOT_VERIFIED and NOT_APPLICABLE both project to false;
// consumers must not infer "applicable but missing" from a false flag.
type GovernanceFlags struct {
	KS bool `json:"ks" yaml:"ks"`
	PE bool `json:"pe" yaml:"pe"`
	GT bool `json:"gt" yaml:"gt"`
	CB bool `json:"cb" yaml:"cb"`
	TM bool `json:"tm" yaml:"tm"`
}

// Flags projects g onto the compact five-boolean map.
func (g GovernanceSpec) Flags() GovernanceFlags {
	return GovernanceFlags{
		KS: g.KillSwitch.Status == Verified,
		PE: g.PolicyEngine.Status == Verified,
		GT: g.GoldenThread.Status == Verified,
		CB: g.CapabilityBounds.Status == Verified,
		TM: g.Telemetry.Status == Verified,
	}
}

// CompactSignature is the compact-form signature triple.
type CompactSignature struct {
	Alg string `json:"alg" yaml:"alg"`
	Kid string `json:"kid" yaml:"kid"`
	Sig string `json:"sig" yaml:"sig"`
}

// CompactCertificate is the space-optimised projection of Certificate
// suitable for embedding in A2A tokens.
type CompactCertificate struct {
	APIVersion       string           `json:"apiVersion"           yaml:"apiVersion"`
	Kind             string           `json:"kind"                 yaml:"kind"`
	ID               string           `json:"id"                   yaml:"id"`
	AgentID          string           `json:"agent_id"             yaml:"agent_id"`
	Level            Level            `json:"level"                yaml:"level"`
	Issuer           string           `json:"issuer"               yaml:"issuer"`
	IssuedAt         time.Time        `json:"issued_at"            yaml:"issued_at"`
	ExpiresAt        time.Time        `json:"expires_at"           yaml:"expires_at"`
	GoldenThreadHash string           `json:"golden_thread_hash"   yaml:"golden_thread_hash"`
	Gov              GovernanceFlags  `json:"gov"                  yaml:"gov"`
	Compliance       []string         `json:"compliance,omitempty" yaml:"compliance,omitempty"`
	Signature        CompactSignature `json:"signature"            yaml:"signature"`
}
