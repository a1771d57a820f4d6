package issuer

import (
	"fmt"
	"strings"
	"time"

	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/aigos-io/aigos/internal/canon"
	"github.com/aigos-io/aigos/internal/cga"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CA identifies a certifying authority for SILVER and above.
type CA struct {
	ID   string
	Name string
}

// CAResolver supplies the CA identity for levels that require one.
type CAResolver interface {
	ResolveCA(level cga.Level) (*CA, error)
}

// StaticCA is a CAResolver that always returns the same authority.
type StaticCA CA

// ResolveCA implements CAResolver.
func (s StaticCA) ResolveCA(cga.Level) (*CA, error) {
	return &CA{ID: s.ID, Name: s.Name}, nil
}

// Generator builds signed certificates from verification reports.
type Generator struct {
	organization string
	signer       Signer
	ca           CAResolver
	now          func() time.Time
	logger       *zap.Logger
}

// NewGenerator creates a Generator. organization names the self-signing
// issuer for BRONZE; ca may be nil, in which case SILVER+ generation
// fails with CAUnavailable.
func NewGenerator(organization string, signer Signer, ca CAResolver, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		organization: organization,
		signer:       signer,
		ca:           ca,
		now:          time.Now,
		logger:       logger,
	}
}

// WithClock overrides the generator's clock; used by tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces a full signed certificate from a verification report.
// The report must carry an achieved level.
func (g *Generator) Generate(report *cga.VerificationReport, agentID, agentVersion, goldenThreadHash string) (*cga.Certificate, error) {
	if report == nil || report.AchievedLevel == nil {
		return nil, aigerr.New(aigerr.NotCertifiable, "verification did not achieve any level; no certificate can be issued")
	}
	if g.signer == nil {
		return nil, aigerr.New(aigerr.SignerUnavailable, "generator has no signer")
	}

	level := *report.AchievedLevel
	props := level.Properties()
	now := g.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(time.Duration(props.ValidityDays) * 24 * time.Hour)
	if !expiresAt.After(now) {
		return nil, aigerr.New(aigerr.ClockSkew, "computed expiry %s is not in the future", expiresAt.Format(time.RFC3339))
	}

	issuerRef, err := g.resolveIssuer(level)
	if err != nil {
		return nil, err
	}

	cert := &cga.Certificate{
		APIVersion: cga.APIVersion,
		Kind:       cga.KindFull,
		Metadata: cga.Metadata{
			ID:            certificateID(now, agentID, level),
			Version:       uuid.New().String(),
			SchemaVersion: cga.SchemaVersion,
		},
		Spec: cga.CertificateSpec{
			Agent: cga.AgentSpec{
				ID:           agentID,
				Version:      agentVersion,
				Organization: g.organization,
				GoldenThread: cga.GoldenThreadRef{Hash: goldenThreadHash, Algorithm: "sha256"},
			},
			Certification: cga.CertificationSpec{
				Level:     level,
				Issuer:    *issuerRef,
				IssuedAt:  now,
				ExpiresAt: expiresAt,
				Renewal:   cga.RenewalPolicy{AutoRenew: !props.ManualReview, GracePeriodDays: 14},
			},
			Governance: governanceFromReport(report, level, now),
		},
	}
	if fw := complianceFromReport(report); len(fw) > 0 {
		cert.Spec.Compliance = &cga.ComplianceSpec{Frameworks: fw}
	}

	if err := g.signFull(cert); err != nil {
		return nil, err
	}

	g.logger.Info("certificate generated",
		zap.String("id", cert.Metadata.ID),
		zap.String("agent_id", agentID),
		zap.String("level", string(level)))
	return cert, nil
}

// Compact projects a full certificate onto its embedding form and signs
// the projection.
func (g *Generator) Compact(cert *cga.Certificate) (*cga.CompactCertificate, error) {
	if g.signer == nil {
		return nil, aigerr.New(aigerr.SignerUnavailable, "generator has no signer")
	}
	compact := &cga.CompactCertificate{
		APIVersion:       cga.APIVersion,
		Kind:             cga.KindCompact,
		ID:               cert.Metadata.ID,
		AgentID:          cert.Spec.Agent.ID,
		Level:            cert.Spec.Certification.Level,
		Issuer:           cert.Spec.Certification.Issuer.ID,
		IssuedAt:         cert.Spec.Certification.IssuedAt,
		ExpiresAt:        cert.Spec.Certification.ExpiresAt,
		GoldenThreadHash: cert.Spec.Agent.GoldenThread.Hash,
		Gov:              cert.Spec.Governance.Flags(),
	}
	if cert.Spec.Compliance != nil {
		compact.Compliance = append([]string(nil), cert.Spec.Compliance.Frameworks...)
	}

	payload, err := compactSigningBytes(compact)
	if err != nil {
		return nil, err
	}
	sig, err := g.signer.Sign(payload)
	if err != nil {
		return nil, err
	}
	compact.Signature = cga.CompactSignature{
		Alg: g.signer.Algorithm(),
		Kid: g.signer.KeyID(),
		Sig: encodeSignature(sig),
	}
	return compact, nil
}

// VerifyFull checks a full certificate's signature with verifier.
func VerifyFull(cert *cga.Certificate, verifier SignatureVerifier) error {
	sig, err := DecodeSignature(cert.Signature.Value)
	if err != nil {
		return err
	}
	payload, err := fullSigningBytes(cert)
	if err != nil {
		return err
	}
	return verifier.Verify(payload, sig)
}

// VerifyCompact checks a compact certificate's signature with verifier.
func VerifyCompact(compact *cga.CompactCertificate, verifier SignatureVerifier) error {
	sig, err := DecodeSignature(compact.Signature.Sig)
	if err != nil {
		return err
	}
	payload, err := compactSigningBytes(compact)
	if err != nil {
		return err
	}
	return verifier.Verify(payload, sig)
}

// resolveIssuer picks the issuer identity for level: self for BRONZE, CA
// resolver for everything above.
func (g *Generator) resolveIssuer(level cga.Level) (*cga.IssuerRef, error) {
	props := level.Properties()
	if !props.RequiresCA {
		return &cga.IssuerRef{ID: "self", Name: g.organization, RequiresCA: false}, nil
	}
	if g.ca == nil {
		return nil, aigerr.New(aigerr.CAUnavailable, "level %s requires a CA but no CA resolver is configured", level)
	}
	ca, err := g.ca.ResolveCA(level)
	if err != nil {
		return nil, aigerr.Wrap(aigerr.CAUnavailable, err, "resolve CA for level %s", level)
	}
	return &cga.IssuerRef{ID: ca.ID, Name: ca.Name, RequiresCA: true}, nil
}

// certificateID synthesises "cga-YYYYMMDD-<agent_tail>-<level_lower>"
// where agent_tail is the token after the last ":" in agentID.
func certificateID(now time.Time, agentID string, level cga.Level) string {
	tail := agentID
	if idx := strings.LastIndex(agentID, ":"); idx >= 0 {
		tail = agentID[idx+1:]
	}
	return fmt.Sprintf("cga-%s-%s-%s", now.Format("20060102"), tail, strings.ToLower(string(level)))
}

// checkNames for each governance attestation, in check precedence order.
var governanceChecks = map[string][]string{
	"kill_switch":       {"kill_switch.live_test", "kill_switch.endpoint_declared"},
	"policy_engine":     {"policy_engine.strict_mode"},
	"golden_thread":     {"identity.golden_thread_hash"},
	"capability_bounds": {"capability.bounds_declared"},
	"telemetry":         {"telemetry.configured"},
}

// requiredAtLevel maps each governance control to the minimum level at
// which it must be attested. Below that level an unverified control is
// NOT_APPLICABLE rather than NOT_VERIFIED.
var requiredAtLevel = map[string]cga.Level{
	"kill_switch":       cga.Bronze,
	"golden_thread":     cga.Bronze,
	"policy_engine":     cga.Silver,
	"telemetry":         cga.Silver,
	"capability_bounds": cga.Gold,
}

// governanceFromReport translates check outcomes into attestations.
func governanceFromReport(report *cga.VerificationReport, level cga.Level, now time.Time) cga.GovernanceSpec {
	attest := func(control string) cga.Attestation {
		for _, name := range governanceChecks[control] {
			if c := report.CheckByName(name); c != nil && c.Status == cga.CheckPass {
				at := now
				return cga.Attestation{Status: cga.Verified, VerifiedAt: &at, Detail: c.Message}
			}
		}
		if level.AtLeast(requiredAtLevel[control]) {
			return cga.Attestation{Status: cga.NotVerified}
		}
		return cga.Attestation{Status: cga.NotApplicable}
	}
	return cga.GovernanceSpec{
		KillSwitch:       attest("kill_switch"),
		PolicyEngine:     attest("policy_engine"),
		GoldenThread:     attest("golden_thread"),
		CapabilityBounds: attest("capability_bounds"),
		Telemetry:        attest("telemetry"),
	}
}

// complianceFromReport extracts framework names recorded as evidence of
// the compliance mapping check.
func complianceFromReport(report *cga.VerificationReport) []string {
	c := report.CheckByName("compliance.framework_mapped")
	if c == nil || c.Status != cga.CheckPass {
		return nil
	}
	if fw, ok := c.Evidence.([]string); ok {
		return append([]string(nil), fw...)
	}
	if raw, ok := c.Evidence.([]any); ok {
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// signFull signs the canonical serialisation of the certificate with the
// signature block zeroed.
func (g *Generator) signFull(cert *cga.Certificate) error {
	payload, err := fullSigningBytes(cert)
	if err != nil {
		return err
	}
	sig, err := g.signer.Sign(payload)
	if err != nil {
		return err
	}
	cert.Signature = cga.Signature{
		Algorithm: g.signer.Algorithm(),
		KeyID:     g.signer.KeyID(),
		Value:     encodeSignature(sig),
	}
	return nil
}

// fullSigningBytes serialises a full certificate deterministically with
// its signature block zeroed.
func fullSigningBytes(cert *cga.Certificate) ([]byte, error) {
	unsigned := *cert
	unsigned.Signature = cga.Signature{}
	return canon.MarshalJSON(&unsigned)
}

// compactSigningBytes serialises a compact certificate deterministically
// with its signature triple zeroed.
func compactSigningBytes(compact *cga.CompactCertificate) ([]byte, error) {
	unsigned := *compact
	unsigned.Signature = cga.CompactSignature{}
	return canon.MarshalJSON(&unsigned)
}
