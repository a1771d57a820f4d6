package token

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/aigos-io/aigos/internal/cga"
)

var mintNow = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func testCert() *cga.CompactCertificate {
	return &cga.CompactCertificate{
		APIVersion:       "aigos.io/v1",
		Kind:             cga.KindCompact,
		ID:               "CGA-2026-SILVER-0001",
		AgentID:          "urn:aigos:agent:invoice-bot",
		Level:            cga.Silver,
		Issuer:           "aigos-root-ca",
		IssuedAt:         mintNow.Add(-24 * time.Hour),
		ExpiresAt:        mintNow.Add(89 * 24 * time.Hour),
		GoldenThreadHash: "sha256:" + strings.Repeat("ab", 32),
		Gov:              cga.GovernanceFlags{KS: true, PE: true, GT: true},
		Compliance:       []string{"EU_AI_ACT_2024"},
	}
}

func testMintInput() MintInput {
	return MintInput{
		Audience:         Audience{"urn:aigos:agent:ledger-bot"},
		AssetID:          "invoice-bot",
		GoldenThreadHash: "sha256:" + strings.Repeat("ab", 32),
		RiskLevel:        cga.RiskLimited,
		Capabilities:     []string{"invoice.read"},
	}
}

func mintFixture(t *testing.T, key *ecdsa.PrivateKey) *MintResult {
	t.Helper()
	m := NewMinter(key, "kid-1", time.Hour).WithClock(func() time.Time { return mintNow })
	res, err := m.Mint(testCert(), testMintInput())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return res
}

func verifierFor(key *ecdsa.PrivateKey, at time.Time, opts ...VerifierOption) *Verifier {
	ring := &StaticKeyring{}
	ring.Add("kid-1", &key.PublicKey)
	opts = append(opts, WithVerifierClock(func() time.Time { return at }))
	return NewVerifier(ring, nil, opts...)
}

// ─── mint ────────────────────────────────────────────────────────────────────

func TestMintProducesThreePartToken(t *testing.T) {
	res := mintFixture(t, testKey(t))
	if parts := strings.Split(res.Token, "."); len(parts) != 3 {
		t.Fatalf("token has %d parts, want 3", len(parts))
	}
	if res.Claims.Issuer != "urn:aigos:agent:invoice-bot" || res.Claims.Subject != res.Claims.Issuer {
		t.Errorf("iss/sub = %q/%q, want the agent URN twice", res.Claims.Issuer, res.Claims.Subject)
	}
	if res.Claims.Expiry-res.Claims.IssuedAt != 3600 {
		t.Errorf("lifetime = %ds, want 3600", res.Claims.Expiry-res.Claims.IssuedAt)
	}
	if res.Claims.CGA.CertificateID != "CGA-2026-SILVER-0001" {
		t.Errorf("certificate id = %q", res.Claims.CGA.CertificateID)
	}
	if !res.Claims.CGA.GovernanceVerified.KillSwitch {
		t.Error("governance flags not projected into claims")
	}
}

func TestMintValidation(t *testing.T) {
	m := NewMinter(testKey(t), "kid-1", 0)
	if _, err := m.Mint(nil, testMintInput()); !aigerr.IsKind(err, aigerr.SchemaViolation) {
		t.Errorf("nil certificate err = %v", err)
	}
	in := testMintInput()
	in.Audience = nil
	if _, err := m.Mint(testCert(), in); !aigerr.IsKind(err, aigerr.SchemaViolation) {
		t.Errorf("missing audience err = %v", err)
	}
	keyless := NewMinter(nil, "kid-1", 0)
	if _, err := keyless.Mint(testCert(), testMintInput()); !aigerr.IsKind(err, aigerr.SignerUnavailable) {
		t.Errorf("keyless minter err = %v", err)
	}
}

// ─── verify ──────────────────────────────────────────────────────────────────

func TestVerifyRoundTrip(t *testing.T) {
	key := testKey(t)
	res := mintFixture(t, key)
	v := verifierFor(key, mintNow.Add(time.Minute))

	out, err := v.Verify(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !out.Valid || out.Status != StatusValid {
		t.Fatalf("result = %+v, want valid", out)
	}
	if out.Claims.JTI != res.Claims.JTI {
		t.Errorf("round-tripped JTI = %q, want %q", out.Claims.JTI, res.Claims.JTI)
	}
	if len(out.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", out.Warnings)
	}
}

func TestVerifyExpiryBoundary(t *testing.T) {
	key := testKey(t)
	res := mintFixture(t, key)

	// exp == now counts as expired; one second earlier is still valid.
	exp := time.Unix(res.Claims.Expiry, 0).UTC()
	v := verifierFor(key, exp)
	out, err := v.Verify(context.Background(), res.Token)
	if out.Status != StatusExpired || !aigerr.IsKind(err, aigerr.TokenExpired) {
		t.Errorf("at exp: status = %s, err = %v; want EXPIRED/%s", out.Status, err, aigerr.TokenExpired)
	}

	v = verifierFor(key, exp.Add(-time.Second))
	if out, err := v.Verify(context.Background(), res.Token); err != nil || !out.Valid {
		t.Errorf("just before exp: %+v, %v; want valid", out, err)
	}
}

func TestVerifyEmbeddedCertificateExpiry(t *testing.T) {
	key := testKey(t)
	m := NewMinter(key, "kid-1", 30*24*time.Hour).WithClock(func() time.Time { return mintNow })
	cert := testCert()
	cert.ExpiresAt = mintNow.Add(time.Hour)
	res, err := m.Mint(cert, testMintInput())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	v := verifierFor(key, mintNow.Add(2*time.Hour))
	out, err := v.Verify(context.Background(), res.Token)
	if out.Status != StatusExpired || !aigerr.IsKind(err, aigerr.CertificateExpired) {
		t.Errorf("status = %s, err = %v; want certificate expiry", out.Status, err)
	}
}

func TestVerifyCertificateExpiryWarningWindow(t *testing.T) {
	key := testKey(t)
	verifyAt := mintNow.Add(time.Minute)
	tests := []struct {
		name      string
		expiresAt time.Time
		wantWarn  bool
	}{
		{"inside the window", verifyAt.Add(3 * 24 * time.Hour), true},
		{"exactly seven days out", verifyAt.Add(7 * 24 * time.Hour), true},
		{"just outside the window", verifyAt.Add(7*24*time.Hour + time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMinter(key, "kid-1", time.Hour).WithClock(func() time.Time { return mintNow })
			cert := testCert()
			cert.ExpiresAt = tt.expiresAt
			res, err := m.Mint(cert, testMintInput())
			if err != nil {
				t.Fatalf("Mint: %v", err)
			}

			v := verifierFor(key, verifyAt)
			out, err := v.Verify(context.Background(), res.Token)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if !out.Valid {
				t.Fatal("near-expiry certificate should still verify")
			}
			if tt.wantWarn {
				if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0], "expires in") {
					t.Errorf("Warnings = %v, want a single expiry warning", out.Warnings)
				}
			} else if len(out.Warnings) != 0 {
				t.Errorf("Warnings = %v, want none", out.Warnings)
			}
		})
	}
}

func TestVerifyRejectsUnknownKid(t *testing.T) {
	key := testKey(t)
	res := mintFixture(t, key)

	ring := &StaticKeyring{}
	ring.Add("someone-else", &key.PublicKey)
	v := NewVerifier(ring, nil, WithVerifierClock(func() time.Time { return mintNow.Add(time.Minute) }))

	out, err := v.Verify(context.Background(), res.Token)
	if out.Valid || !aigerr.IsKind(err, aigerr.UntrustedIssuer) {
		t.Errorf("result = %+v, err = %v; want untrusted issuer", out, err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	res := mintFixture(t, testKey(t))
	other := testKey(t)
	v := verifierFor(other, mintNow.Add(time.Minute))

	out, err := v.Verify(context.Background(), res.Token)
	if out.Valid || !aigerr.IsKind(err, aigerr.InvalidSignature) {
		t.Errorf("result = %+v, err = %v; want invalid signature", out, err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	key := testKey(t)
	res := mintFixture(t, key)
	parts := strings.Split(res.Token, ".")

	// Re-encode the payload with an extra audience entry.
	doctored := b64.EncodeToString([]byte(strings.Replace(
		string(mustDecode(t, parts[1])), "ledger-bot", "attacker", 1)))
	tampered := parts[0] + "." + doctored + "." + parts[2]

	v := verifierFor(key, mintNow.Add(time.Minute))
	out, err := v.Verify(context.Background(), tampered)
	if out.Valid || !aigerr.IsKind(err, aigerr.InvalidSignature) {
		t.Errorf("result = %+v, err = %v; want invalid signature", out, err)
	}
}

func mustDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := b64.DecodeString(s)
	if err != nil {
		t.Fatalf("decode part: %v", err)
	}
	return b
}

func TestVerifyMalformedTokens(t *testing.T) {
	v := verifierFor(testKey(t), mintNow)
	for _, bad := range []string{
		"",
		"one.two",
		"a.b.c.d",
		"!!!.###.$$$",
	} {
		out, err := v.Verify(context.Background(), bad)
		if out.Status != StatusInvalid || !aigerr.IsKind(err, aigerr.BadFormat) {
			t.Errorf("Verify(%q) = %+v, %v; want BAD_FORMAT", bad, out, err)
		}
	}
}

func TestVerifyRejectsForeignAlgorithm(t *testing.T) {
	key := testKey(t)
	res := mintFixture(t, key)
	parts := strings.Split(res.Token, ".")
	header := b64.EncodeToString([]byte(`{"alg":"HS256","kid":"kid-1","typ":"JWT"}`))
	forged := header + "." + parts[1] + "." + parts[2]

	v := verifierFor(key, mintNow.Add(time.Minute))
	if _, err := v.Verify(context.Background(), forged); !aigerr.IsKind(err, aigerr.BadFormat) {
		t.Errorf("err = %v, want alg rejection as BAD_FORMAT", err)
	}
}

// ─── revocation ──────────────────────────────────────────────────────────────

type stubOracle struct {
	status RevocationStatus
	err    error
}

func (s stubOracle) Status(context.Context, string) (RevocationStatus, error) {
	return s.status, s.err
}

func TestVerifyRevocationStates(t *testing.T) {
	key := testKey(t)
	res := mintFixture(t, key)
	at := mintNow.Add(time.Minute)

	out, err := verifierFor(key, at, WithRevocation(stubOracle{status: RevocationGood})).
		Verify(context.Background(), res.Token)
	if err != nil || !out.Valid || out.Status != StatusValid {
		t.Errorf("good: %+v, %v", out, err)
	}

	out, err = verifierFor(key, at, WithRevocation(stubOracle{status: RevocationRevoked})).
		Verify(context.Background(), res.Token)
	if out.Valid || !aigerr.IsKind(err, aigerr.CertificateRevoked) {
		t.Errorf("revoked: %+v, %v; want rejection", out, err)
	}

	out, err = verifierFor(key, at, WithRevocation(stubOracle{status: RevocationUnknown})).
		Verify(context.Background(), res.Token)
	if err != nil || !out.Valid || out.Status != StatusUnknown {
		t.Errorf("unknown: %+v, %v; want valid with UNKNOWN status", out, err)
	}
	if len(out.Warnings) == 0 {
		t.Error("unknown revocation should warn")
	}
}

// ─── extract & keyring ───────────────────────────────────────────────────────

func TestExtractWithoutVerification(t *testing.T) {
	res := mintFixture(t, testKey(t))
	claims, err := Extract(res.Token)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if claims.Agent.AssetID != "invoice-bot" {
		t.Errorf("AssetID = %q", claims.Agent.AssetID)
	}
}

func TestStaticKeyringFromPEM(t *testing.T) {
	key := testKey(t)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	ring, err := NewStaticKeyring(map[string][]byte{"root": pemBytes})
	if err != nil {
		t.Fatalf("NewStaticKeyring: %v", err)
	}
	pub, err := ring.ResolveKey(context.Background(), "root")
	if err != nil {
		t.Fatalf("ResolveKey: %v", err)
	}
	if pub.X.Cmp(key.PublicKey.X) != 0 {
		t.Error("resolved key does not match the source key")
	}

	if _, err := ring.ResolveKey(context.Background(), "ghost"); !aigerr.IsKind(err, aigerr.UntrustedIssuer) {
		t.Errorf("unknown kid err = %v", err)
	}
}

func TestAudienceJSONForms(t *testing.T) {
	var a Audience
	if err := a.UnmarshalJSON([]byte(`"urn:one"`)); err != nil || len(a) != 1 {
		t.Errorf("string form: %v, %v", a, err)
	}
	if err := a.UnmarshalJSON([]byte(`["urn:one","urn:two"]`)); err != nil || len(a) != 2 {
		t.Errorf("array form: %v, %v", a, err)
	}

	single, err := Audience{"urn:one"}.MarshalJSON()
	if err != nil || string(single) != `"urn:one"` {
		t.Errorf("single marshal = %s, %v", single, err)
	}
	many, err := Audience{"a", "b"}.MarshalJSON()
	if err != nil || string(many) != `["a","b"]` {
		t.Errorf("array marshal = %s, %v", many, err)
	}
}
