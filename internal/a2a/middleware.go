// Package a2a is the agent-to-agent admission pipeline: extract the
// bearer token from the inbound request, verify it, evaluate the trust
// policy, and emit a single allow/deny outcome. The pipeline is purely
// functional over the request; the only injected state is the verifier,
// the evaluator, and the immutable policy snapshot they hold.
package a2a

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/aigos-io/aigos/internal/token"
	"github.com/aigos-io/aigos/internal/trust"
	"go.uber.org/zap"
)

// DefaultTokenHeader carries the A2A token unless reconfigured.
const DefaultTokenHeader = "X-AIGOS-Token"

// OrganizationHeader names the caller's organization, when declared.
const OrganizationHeader = "X-AIGOS-Organization"

// Inbound is the framework-neutral view of a request.
type Inbound struct {
	Method  string
	Path    string
	Headers http.Header
}

// ActionExtractor derives the policy action string from a request.
type ActionExtractor func(in Inbound) string

// DefaultAction renders "<METHOD>.<path-dot-separated>", e.g.
// POST /api/v1/payments → "POST.api.v1.payments".
func DefaultAction(in Inbound) string {
	path := strings.Trim(in.Path, "/")
	path = strings.ReplaceAll(path, "/", ".")
	if path == "" {
		return in.Method
	}
	return in.Method + "." + path
}

// Success is an admitted request: verified claims plus the trust result.
type Success struct {
	Claims *token.Claims             `json:"claims"`
	Trust  *trust.Result             `json:"trust"`
	Token  *token.VerificationResult `json:"token,omitempty"`
}

// Failure is a denied request, ready to serialise as the error body.
type Failure struct {
	Code       string         `json:"error"`
	Message    string         `json:"message"`
	StatusCode int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
}

// Outcome is the pipeline result: exactly one of Success or Failure.
type Outcome struct {
	Success *Success
	Failure *Failure
}

// Allowed reports whether the request was admitted.
func (o *Outcome) Allowed() bool { return o.Success != nil }

// Middleware wires the token verifier and trust evaluator into a single
// admission decision.
type Middleware struct {
	verifier  *token.Verifier
	evaluator *trust.Evaluator
	header    string
	action    ActionExtractor
	logger    *zap.Logger
}

// MiddlewareOption configures a Middleware.
type MiddlewareOption func(*Middleware)

// WithTokenHeader overrides the token header name.
func WithTokenHeader(name string) MiddlewareOption {
	return func(m *Middleware) { m.header = name }
}

// WithActionExtractor overrides the action derivation.
func WithActionExtractor(fn ActionExtractor) MiddlewareOption {
	return func(m *Middleware) { m.action = fn }
}

// NewMiddleware creates the admission pipeline.
func NewMiddleware(verifier *token.Verifier, evaluator *trust.Evaluator, logger *zap.Logger, opts ...MiddlewareOption) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Middleware{
		verifier:  verifier,
		evaluator: evaluator,
		header:    DefaultTokenHeader,
		action:    DefaultAction,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Process runs the pipeline: extract token → extract action → verify →
// evaluate. A request without a token is still evaluated, so policies
// that do not require attestation can admit it.
func (m *Middleware) Process(ctx context.Context, in Inbound) *Outcome {
	action := m.action(in)
	org := in.Headers.Get(OrganizationHeader)

	var claims *token.Claims
	var tokenResult *token.VerificationResult
	if raw := in.Headers.Get(m.header); raw != "" {
		result, err := m.verifier.Verify(ctx, raw)
		if err != nil {
			m.logger.Debug("token rejected",
				zap.String("action", action),
				zap.String("kind", string(aigerr.KindOf(err))))
			return &Outcome{Failure: failureFromError(err)}
		}
		claims = result.Claims
		tokenResult = result
	}

	trustResult := m.evaluator.Evaluate(claims, trust.Request{
		Action:             action,
		SourceOrganization: org,
	})
	if !trustResult.Trusted {
		m.logger.Debug("request denied",
			zap.String("action", action),
			zap.String("reason", trustResult.Reason))
		return &Outcome{Failure: failureFromTrust(trustResult)}
	}

	if tokenResult != nil {
		trustResult.Warnings = append(trustResult.Warnings, tokenResult.Warnings...)
	}
	return &Outcome{Success: &Success{Claims: claims, Trust: trustResult, Token: tokenResult}}
}

// failureFromError maps a verification error to its wire failure.
func failureFromError(err error) *Failure {
	kind := aigerr.KindOf(err)
	code := codeFor(kind)
	f := &Failure{
		Code:       code,
		Message:    err.Error(),
		StatusCode: aigerr.HTTPStatus(kind),
	}
	var ae *aigerr.Error
	if errors.As(err, &ae) && len(ae.Details) > 0 {
		f.Details = ae.Details
	}
	return f
}

// failureFromTrust maps a denied trust result to its wire failure.
func failureFromTrust(res *trust.Result) *Failure {
	kind := res.Kind
	if kind == "" {
		kind = aigerr.PolicyViolation
	}
	return &Failure{
		Code:       codeFor(kind),
		Message:    res.Reason,
		StatusCode: aigerr.HTTPStatus(kind),
	}
}

// codeFor collapses parse and signature kinds onto the INVALID_TOKEN
// wire code; all other kinds pass through unchanged.
func codeFor(kind aigerr.Kind) string {
	switch kind {
	case aigerr.BadFormat, aigerr.BadTimestamp, aigerr.SchemaViolation, aigerr.InvalidSignature:
		return string(aigerr.InvalidToken)
	case "":
		return string(aigerr.InvalidToken)
	default:
		return string(kind)
	}
}
