// Package trust decides whether an inbound A2A request is trusted: it
// evaluates verified token claims against a trust policy of action rules,
// organization overrides, compliance requirements, and operational-health
// floors, and produces a trust score in [0,1].
package trust

import (
	"regexp"

	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/aigos-io/aigos/internal/cga"
	"gopkg.in/yaml.v3"
)

// DefaultPolicy is the fallback decision when no action rule matches.
type DefaultPolicy struct {
	RequireCGA   bool      `json:"require_cga"   yaml:"require_cga"`
	MinimumLevel cga.Level `json:"minimum_level" yaml:"minimum_level"`
}

// TrustedCA is an issuer the policy accepts certificates from.
type TrustedCA struct {
	ID         string `json:"id"          yaml:"id"`
	TrustLevel string `json:"trust_level" yaml:"trust_level"`
}

// ActionRule scopes requirements to actions matching a glob-like pattern
// ("*" and "?"). Rules are evaluated strictly in document order; the
// first match wins — authoring order is a contract visible to policy
// writers.
type ActionRule struct {
	Pattern           string    `json:"pattern"                       yaml:"pattern"`
	RequireCGA        *bool     `json:"require_cga,omitempty"         yaml:"require_cga,omitempty"`
	MinimumLevel      cga.Level `json:"minimum_level,omitempty"       yaml:"minimum_level,omitempty"`
	RequireCompliance []string  `json:"require_compliance,omitempty"  yaml:"require_compliance,omitempty"`
	MaxViolations30D  *int      `json:"max_violations_30d,omitempty"  yaml:"max_violations_30d,omitempty"`

	// compiled is set by ParsePolicy; it lives on the rule so each policy
	// snapshot carries its own compiled patterns.
	compiled *regexp.Regexp `json:"-" yaml:"-"`
}

// OrganizationRule overrides requirements for a source organization.
type OrganizationRule struct {
	ID           string    `json:"id"                      yaml:"id"`
	MinimumLevel cga.Level `json:"minimum_level,omitempty" yaml:"minimum_level,omitempty"`
	Trusted      bool      `json:"trusted"                 yaml:"trusted"`
}

// HealthPolicy sets operational-health floors.
type HealthPolicy struct {
	MinUptime30D           float64 `json:"min_uptime_30d"              yaml:"min_uptime_30d"`
	MaxViolations30D       int     `json:"max_violations_30d"          yaml:"max_violations_30d"`
	MaxHealthCheckAgeHours int     `json:"max_health_check_age_hours"  yaml:"max_health_check_age_hours"`
}

// RevocationPolicy toggles revocation checking at evaluation time.
type RevocationPolicy struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// PolicySpec is the spec block of an A2ATrustPolicy document.
type PolicySpec struct {
	Default       DefaultPolicy      `json:"default"                 yaml:"default"`
	TrustedCAs    []TrustedCA        `json:"trusted_cas"             yaml:"trusted_cas"`
	Actions       []ActionRule       `json:"actions,omitempty"       yaml:"actions,omitempty"`
	Organizations []OrganizationRule `json:"organizations,omitempty" yaml:"organizations,omitempty"`
	Revocation    *RevocationPolicy  `json:"revocation,omitempty"    yaml:"revocation,omitempty"`
	Health        *HealthPolicy      `json:"health,omitempty"        yaml:"health,omitempty"`
}

// Policy is a full A2ATrustPolicy document. Policies are loaded once and
// treated as immutable; hot swaps replace the whole snapshot.
type Policy struct {
	APIVersion string `json:"apiVersion" yaml:"apiVersion"`
	Kind       string `json:"kind"       yaml:"kind"`
	Metadata   struct {
		Name string `json:"name" yaml:"name"`
	} `json:"metadata" yaml:"metadata"`
	Spec PolicySpec `json:"spec" yaml:"spec"`
}

// ParsePolicy decodes a YAML/JSON trust-policy document and validates its
// framing and level names.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, aigerr.Wrap(aigerr.SchemaViolation, err, "parse trust policy")
	}
	if p.Kind != "" && p.Kind != cga.KindTrustPolicy {
		return nil, aigerr.New(aigerr.SchemaViolation, "trust policy kind %q, want %s", p.Kind, cga.KindTrustPolicy)
	}
	if p.Spec.Default.MinimumLevel != "" && !p.Spec.Default.MinimumLevel.Valid() {
		return nil, aigerr.New(aigerr.SchemaViolation, "default minimum level %q is not a CGA level", p.Spec.Default.MinimumLevel)
	}
	for i := range p.Spec.Actions {
		a := &p.Spec.Actions[i]
		if a.MinimumLevel != "" && !a.MinimumLevel.Valid() {
			return nil, aigerr.New(aigerr.SchemaViolation, "action %q minimum level %q is not a CGA level", a.Pattern, a.MinimumLevel)
		}
		re, err := compilePattern(a.Pattern)
		if err != nil {
			return nil, aigerr.Wrap(aigerr.SchemaViolation, err, "action pattern %q", a.Pattern)
		}
		a.compiled = re
	}
	return &p, nil
}

// trustedCA reports whether issuer appears in the trusted CA list.
func (s *PolicySpec) trustedCA(issuer string) bool {
	for _, ca := range s.TrustedCAs {
		if ca.ID == issuer {
			return true
		}
	}
	return false
}

// organization returns the override for org id, if any.
func (s *PolicySpec) organization(id string) *OrganizationRule {
	for i := range s.Organizations {
		if s.Organizations[i].ID == id {
			return &s.Organizations[i]
		}
	}
	return nil
}
