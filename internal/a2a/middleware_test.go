package a2a

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/aigos-io/aigos/internal/cga"
	"github.com/aigos-io/aigos/internal/token"
	"github.com/aigos-io/aigos/internal/trust"
	"github.com/gin-gonic/gin"
)

var a2aNow = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

type a2aFixture struct {
	middleware *Middleware
	token      string
}

// newFixture wires a real minter, verifier, and evaluator around a fixed
// clock, and mints one SILVER token from the root CA.
func newFixture(t *testing.T, policyYAML string) *a2aFixture {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	minter := token.NewMinter(key, "aigos-root-ca", 0).
		WithClock(func() time.Time { return a2aNow })

	cert := &cga.CompactCertificate{
		APIVersion: "aigos.io/v1",
		Kind:       cga.KindCompact,
		ID:         "cga-20260820-invoice-bot-silver",
		AgentID:    "urn:aigos:agent:invoice-bot",
		Level:      cga.Silver,
		Issuer:     "aigos-root-ca",
		IssuedAt:   a2aNow.AddDate(0, 0, -10),
		ExpiresAt:  a2aNow.AddDate(0, 0, 80),
		Gov:        cga.GovernanceFlags{KS: true, PE: true, GT: true},
		Compliance: []string{"EU_AI_ACT_2024"},
	}
	minted, err := minter.Mint(cert, token.MintInput{
		Audience:         token.Audience{"urn:aigos:agent:ledger-svc"},
		AssetID:          "urn:aigos:asset:invoice-bot",
		GoldenThreadHash: "sha256:1111111111111111111111111111111111111111111111111111111111111111",
		RiskLevel:        cga.RiskLimited,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	keyring := &token.StaticKeyring{}
	keyring.Add("aigos-root-ca", minter.PublicKey())
	verifier := token.NewVerifier(keyring, nil,
		token.WithVerifierClock(func() time.Time { return a2aNow }))

	policy, err := trust.ParsePolicy([]byte(policyYAML))
	if err != nil {
		t.Fatalf("parse policy: %v", err)
	}
	evaluator := trust.NewEvaluator(policy, nil).
		WithClock(func() time.Time { return a2aNow })

	return &a2aFixture{
		middleware: NewMiddleware(verifier, evaluator, nil),
		token:      minted.Token,
	}
}

const openPolicy = `
apiVersion: aigos.io/v1
kind: A2ATrustPolicy
metadata:
  name: open
spec:
  default:
    require_cga: false
    minimum_level: BRONZE
  trusted_cas:
    - id: aigos-root-ca
      trust_level: FULL
  actions:
    - pattern: "DELETE.*"
      require_cga: true
    - pattern: "POST.api.v1.payments*"
      minimum_level: GOLD
`

func inbound(method, path string, headers map[string]string) Inbound {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return Inbound{Method: method, Path: path, Headers: h}
}

func TestDefaultAction(t *testing.T) {
	tests := []struct {
		method, path, want string
	}{
		{"POST", "/api/v1/payments", "POST.api.v1.payments"},
		{"GET", "/api/v1/status/", "GET.api.v1.status"},
		{"GET", "/", "GET"},
		{"DELETE", "", "DELETE"},
	}
	for _, tt := range tests {
		if got := DefaultAction(Inbound{Method: tt.method, Path: tt.path}); got != tt.want {
			t.Errorf("DefaultAction(%s %q) = %q, want %q", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestProcessWithoutTokenUsesPolicyDefault(t *testing.T) {
	f := newFixture(t, openPolicy)
	out := f.middleware.Process(context.Background(), inbound("GET", "/api/v1/status", nil))
	if !out.Allowed() {
		t.Fatalf("open default denied the request: %+v", out.Failure)
	}
	if out.Success.Claims != nil {
		t.Error("unattested request carries claims")
	}
	if got := out.Success.Trust.TrustScore; got != 0.5 {
		t.Errorf("trust score = %v, want 0.5", got)
	}
	if len(out.Success.Trust.Warnings) == 0 {
		t.Error("unattested admission carries no warning")
	}
}

func TestProcessMissingTokenOnGuardedAction(t *testing.T) {
	f := newFixture(t, openPolicy)
	out := f.middleware.Process(context.Background(), inbound("DELETE", "/api/v1/agents/x", nil))
	if out.Allowed() {
		t.Fatal("guarded action admitted without a token")
	}
	if out.Failure.Code != string(aigerr.MissingToken) {
		t.Errorf("code = %q, want %s", out.Failure.Code, aigerr.MissingToken)
	}
	if out.Failure.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", out.Failure.StatusCode)
	}
}

func TestProcessAdmitsValidToken(t *testing.T) {
	f := newFixture(t, openPolicy)
	out := f.middleware.Process(context.Background(), inbound("GET", "/api/v1/status", map[string]string{
		DefaultTokenHeader: f.token,
	}))
	if !out.Allowed() {
		t.Fatalf("valid token denied: %+v", out.Failure)
	}
	if got := out.Success.Claims.Subject; got != "urn:aigos:agent:invoice-bot" {
		t.Errorf("subject = %q", got)
	}
	if lvl := out.Success.Trust.CGALevel; lvl == nil || *lvl != cga.Silver {
		t.Errorf("CGA level = %v, want SILVER", lvl)
	}
	if got := out.Success.Trust.TrustScore; got != 0.5 {
		t.Errorf("trust score = %v, want SILVER base 0.5", got)
	}
}

func TestProcessRejectsMalformedToken(t *testing.T) {
	f := newFixture(t, openPolicy)
	out := f.middleware.Process(context.Background(), inbound("GET", "/api/v1/status", map[string]string{
		DefaultTokenHeader: "not-a-token",
	}))
	if out.Allowed() {
		t.Fatal("malformed token admitted")
	}
	if out.Failure.Code != string(aigerr.InvalidToken) {
		t.Errorf("code = %q, want %s", out.Failure.Code, aigerr.InvalidToken)
	}
	if out.Failure.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", out.Failure.StatusCode)
	}
}

func TestProcessRejectsTamperedToken(t *testing.T) {
	f := newFixture(t, openPolicy)
	parts := strings.Split(f.token, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	out := f.middleware.Process(context.Background(), inbound("GET", "/api/v1/status", map[string]string{
		DefaultTokenHeader: tampered,
	}))
	if out.Allowed() {
		t.Fatal("tampered token admitted")
	}
	if out.Failure.Code != string(aigerr.InvalidToken) {
		t.Errorf("code = %q, want %s", out.Failure.Code, aigerr.InvalidToken)
	}
}

func TestProcessEnforcesActionLevelGate(t *testing.T) {
	f := newFixture(t, openPolicy)
	out := f.middleware.Process(context.Background(), inbound("POST", "/api/v1/payments", map[string]string{
		DefaultTokenHeader: f.token,
	}))
	if out.Allowed() {
		t.Fatal("SILVER token admitted to a GOLD-gated action")
	}
	if out.Failure.Code != string(aigerr.InsufficientLevel) {
		t.Errorf("code = %q, want %s", out.Failure.Code, aigerr.InsufficientLevel)
	}
	if out.Failure.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", out.Failure.StatusCode)
	}
}

func TestProcessCustomHeaderAndAction(t *testing.T) {
	f := newFixture(t, openPolicy)
	m := NewMiddleware(f.middleware.verifier, f.middleware.evaluator, nil,
		WithTokenHeader("Authorization-Agent"),
		WithActionExtractor(func(Inbound) string { return "POST.api.v1.payments" }))

	// The token now travels in the custom header and every request maps to
	// the GOLD-gated action.
	out := m.Process(context.Background(), inbound("GET", "/whatever", map[string]string{
		"Authorization-Agent": f.token,
	}))
	if out.Allowed() {
		t.Fatal("custom action extractor was ignored")
	}
	if out.Failure.Code != string(aigerr.InsufficientLevel) {
		t.Errorf("code = %q", out.Failure.Code)
	}
}

func TestGinAdapter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t, openPolicy)

	r := gin.New()
	r.Use(f.middleware.Gin())
	r.GET("/api/v1/status", func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.JSON(http.StatusOK, gin.H{"agent": ""})
			return
		}
		res, _ := TrustFrom(c)
		c.JSON(http.StatusOK, gin.H{"agent": claims.Subject, "score": res.TrustScore})
	})
	r.DELETE("/api/v1/agents/x", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	t.Run("admitted request carries claims", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		req.Header.Set(DefaultTokenHeader, f.token)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
		}
		var body struct {
			Agent string  `json:"agent"`
			Score float64 `json:"score"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Agent != "urn:aigos:agent:invoice-bot" {
			t.Errorf("agent = %q", body.Agent)
		}
	})

	t.Run("denied request aborts with the failure body", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/agents/x", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
		var body struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Error != string(aigerr.MissingToken) {
			t.Errorf("error = %q, want %s", body.Error, aigerr.MissingToken)
		}
	})

	t.Run("unattested admission leaves no claims in context", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var body struct {
			Agent string `json:"agent"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Agent != "" {
			t.Errorf("agent = %q, want empty for unattested request", body.Agent)
		}
	})
}
