package trust

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/aigos-io/aigos/internal/cga"
	"github.com/aigos-io/aigos/internal/token"
	"go.uber.org/zap"
)

// levelScores maps a CGA level to its base trust score.
var levelScores = map[cga.Level]float64{
	cga.Bronze:   0.25,
	cga.Silver:   0.5,
	cga.Gold:     0.75,
	cga.Platinum: 1.0,
}

// noCGAScore is the trust score of an accepted request without attestation.
const noCGAScore = 0.5

// Result is a trust decision. Kind is set only on untrusted results and
// drives the A2A adapter's HTTP status mapping.
type Result struct {
	Trusted    bool        `json:"trusted"`
	Reason     string      `json:"reason,omitempty"`
	Kind       aigerr.Kind `json:"kind,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
	CGALevel   *cga.Level  `json:"cga_level,omitempty"`
	TrustScore float64     `json:"trust_score"`
}

// Request describes the inbound action being evaluated.
type Request struct {
	Action             string
	SourceOrganization string
}

// Evaluator applies a trust policy to verified claims. The active policy
// is swapped atomically so concurrent evaluations always see a complete
// snapshot.
type Evaluator struct {
	policy atomic.Pointer[Policy]
	now    func() time.Time
	logger *zap.Logger
}

// NewEvaluator creates an Evaluator over policy.
func NewEvaluator(policy *Policy, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Evaluator{now: time.Now, logger: logger}
	e.policy.Store(policy)
	return e
}

// WithClock overrides the evaluator's clock; used by tests.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// SetPolicy atomically replaces the active policy snapshot.
func (e *Evaluator) SetPolicy(policy *Policy) { e.policy.Store(policy) }

// Policy returns the active policy snapshot.
func (e *Evaluator) Policy() *Policy { return e.policy.Load() }

// Evaluate decides trust for claims (nil when the request carried no
// attestation) against req. Decision order: CGA-required, trusted
// issuer, certificate expiry, level threshold, compliance, health floors.
func (e *Evaluator) Evaluate(claims *token.Claims, req Request) *Result {
	spec := &e.policy.Load().Spec
	rule := FirstMatch(spec.Actions, req.Action)

	// 1. CGA-required.
	required := spec.Default.RequireCGA
	if rule != nil && rule.RequireCGA != nil {
		required = *rule.RequireCGA
	}
	if claims == nil {
		if required {
			return &Result{
				Trusted: false,
				Reason:  "CGA attestation required but not present",
				Kind:    aigerr.MissingToken,
			}
		}
		return &Result{
			Trusted:    true,
			Warnings:   []string{"No CGA attestation present"},
			TrustScore: noCGAScore,
		}
	}

	level := claims.CGA.Level

	// 2. Trusted issuer.
	if !spec.trustedCA(claims.CGA.Issuer) {
		return &Result{
			Trusted:  false,
			Reason:   fmt.Sprintf("Untrusted CA: %s", claims.CGA.Issuer),
			Kind:     aigerr.UntrustedIssuer,
			CGALevel: &level,
		}
	}

	// 3. Certificate expiry.
	now := e.now().UTC()
	if !claims.CGA.ExpiresAt.After(now) {
		return &Result{
			Trusted:  false,
			Reason:   fmt.Sprintf("Certificate %s expired at %s", claims.CGA.CertificateID, claims.CGA.ExpiresAt.UTC().Format(time.RFC3339)),
			Kind:     aigerr.CertificateExpired,
			CGALevel: &level,
		}
	}

	// 4. Level threshold: org override, else matched action rule, else default.
	requiredLevel := spec.Default.MinimumLevel
	if rule != nil && rule.MinimumLevel != "" {
		requiredLevel = rule.MinimumLevel
	}
	if org := spec.organization(req.SourceOrganization); org != nil {
		if !org.Trusted {
			return &Result{
				Trusted:  false,
				Reason:   fmt.Sprintf("Organization %s is not trusted", org.ID),
				Kind:     aigerr.UntrustedIssuer,
				CGALevel: &level,
			}
		}
		if org.MinimumLevel != "" {
			requiredLevel = org.MinimumLevel
		}
	}
	if requiredLevel != "" && !level.AtLeast(requiredLevel) {
		return &Result{
			Trusted:  false,
			Reason:   fmt.Sprintf("CGA level %s below required %s for action %q", level, requiredLevel, req.Action),
			Kind:     aigerr.InsufficientLevel,
			CGALevel: &level,
		}
	}

	// 5. Compliance requirements: each requirement must appear as a
	// substring of some declared framework.
	if rule != nil && len(rule.RequireCompliance) > 0 {
		var missing []string
		for _, want := range rule.RequireCompliance {
			found := false
			for _, have := range claims.CGA.ComplianceFrameworks {
				if strings.Contains(have, want) {
					found = true
					break
				}
			}
			if !found {
				missing = append(missing, want)
			}
		}
		if len(missing) > 0 {
			return &Result{
				Trusted:  false,
				Reason:   fmt.Sprintf("Missing compliance frameworks: %s", strings.Join(missing, ", ")),
				Kind:     aigerr.MissingCompliance,
				CGALevel: &level,
			}
		}
	}

	// 6. Health floors.
	var warnings []string
	health := claims.CGA.OperationalHealth
	if rule != nil && rule.MaxViolations30D != nil && health != nil &&
		health.Violations30D > *rule.MaxViolations30D {
		return &Result{
			Trusted:  false,
			Reason:   fmt.Sprintf("violations_30d %d exceeds action limit %d", health.Violations30D, *rule.MaxViolations30D),
			Kind:     aigerr.PolicyViolation,
			CGALevel: &level,
		}
	}
	if spec.Health != nil && health != nil {
		if health.Violations30D > spec.Health.MaxViolations30D {
			return &Result{
				Trusted:  false,
				Reason:   fmt.Sprintf("violations_30d %d exceeds policy limit %d", health.Violations30D, spec.Health.MaxViolations30D),
				Kind:     aigerr.PolicyViolation,
				CGALevel: &level,
			}
		}
		if health.Uptime30D < spec.Health.MinUptime30D {
			warnings = append(warnings, fmt.Sprintf("uptime_30d %.2f below floor %.2f",
				health.Uptime30D, spec.Health.MinUptime30D))
		}
		if spec.Health.MaxHealthCheckAgeHours > 0 && health.LastHealthCheck != nil {
			age := now.Sub(*health.LastHealthCheck)
			if age > time.Duration(spec.Health.MaxHealthCheckAgeHours)*time.Hour {
				warnings = append(warnings, fmt.Sprintf("last health check is %s old", age.Round(time.Hour)))
			}
		}
	}

	res := &Result{
		Trusted:    true,
		Warnings:   warnings,
		CGALevel:   &level,
		TrustScore: score(level, health),
	}
	e.logger.Debug("trust evaluation",
		zap.String("action", req.Action),
		zap.String("level", string(level)),
		zap.Float64("score", res.TrustScore))
	return res
}

// score computes the trust score for an accepted attestation:
// level base score, −0.1 for any recent violation, +0.05 for ≥99.9%
// uptime, clamped to [0,1].
func score(level cga.Level, health *token.OperationalHealth) float64 {
	s := levelScores[level]
	if health != nil {
		if health.Violations30D > 0 {
			s -= 0.1
		}
		if health.Uptime30D >= 99.9 {
			s += 0.05
		}
	}
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
