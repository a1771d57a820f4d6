package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/aigos-io/aigos/internal/cga"
	"github.com/aigos-io/aigos/internal/killswitch"
	"go.uber.org/zap"
)

// Check is one registered verification check. MinLevel is the lowest
// certification level at which the check applies; a check applies to a
// target level L when MinLevel ≤ L.
type Check struct {
	Name     string
	MinLevel cga.Level
	Run      func(vc *Context) (cga.CheckResult, error)
}

// Request describes one verification run.
type Request struct {
	// AssetCardPath locates the card on disk. Ignored when Card is set.
	AssetCardPath string
	// Card is an already-parsed card, for callers that hold the document.
	Card        *AssetCard
	TargetLevel cga.Level
}

// Engine runs the registered checks against an asset card.
type Engine struct {
	checks      []Check
	signer      killswitch.CommandSigner
	policyCheck PolicyChecker
	ksTimeout   time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithKillSwitchSigner sets the signer for live-test commands.
func WithKillSwitchSigner(signer killswitch.CommandSigner) Option {
	return func(e *Engine) { e.signer = signer }
}

// WithPolicyChecker sets the live policy-engine probe.
func WithPolicyChecker(pc PolicyChecker) Option {
	return func(e *Engine) { e.policyCheck = pc }
}

// WithKillSwitchTimeout overrides the per-channel live-test timeout.
func WithKillSwitchTimeout(d time.Duration) Option {
	return func(e *Engine) { e.ksTimeout = d }
}

// WithChecks replaces the default check set.
func WithChecks(checks []Check) Option {
	return func(e *Engine) { e.checks = checks }
}

// WithEngineClock overrides the engine's clock; used by tests.
func WithEngineClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine with the default check set.
func NewEngine(logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		checks: DefaultChecks(),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register appends a check to the engine's registry.
func (e *Engine) Register(check Check) { e.checks = append(e.checks, check) }

// Verify runs every check applicable to the requested level and computes
// the achieved level. A check error or panic becomes a synthesised FAIL
// result; the run itself only errors on an invalid request.
func (e *Engine) Verify(ctx context.Context, req Request) (*cga.VerificationReport, error) {
	if !req.TargetLevel.Valid() {
		return nil, aigerr.New(aigerr.SchemaViolation, "unknown target level %q", req.TargetLevel)
	}
	if req.Card == nil && req.AssetCardPath == "" {
		return nil, aigerr.New(aigerr.SchemaViolation, "either an asset card or a card path is required")
	}

	vc := &Context{
		ctx:         ctx,
		targetLevel: req.TargetLevel,
		cardPath:    req.AssetCardPath,
		card:        req.Card,
		signer:      e.signer,
		policyCheck: e.policyCheck,
		ksTimeout:   e.ksTimeout,
	}

	report := &cga.VerificationReport{
		Timestamp:   e.now().UTC(),
		TargetLevel: req.TargetLevel,
	}
	for _, check := range e.checks {
		if !req.TargetLevel.AtLeast(check.MinLevel) {
			continue
		}
		report.Checks = append(report.Checks, e.runOne(check, vc))
	}

	if card, err := vc.LoadAssetCard(); err == nil {
		report.AgentID = card.Metadata.ID
	}
	report.AchievedLevel = achievedLevel(e.checks, report.Checks, req.TargetLevel)
	report.Summarize()

	e.logger.Info("verification complete",
		zap.String("agent_id", report.AgentID),
		zap.String("target_level", string(report.TargetLevel)),
		zap.Any("achieved_level", report.AchievedLevel),
		zap.Int("failed", report.Summary.Failed))
	return report, nil
}

// runOne executes a single check, converting errors and panics into FAIL
// results so one broken check cannot take down the run.
func (e *Engine) runOne(check Check, vc *Context) (result cga.CheckResult) {
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			result = cga.CheckResult{
				Name:    check.Name,
				Status:  cga.CheckFail,
				Message: fmt.Sprintf("check panicked: %v", r),
			}
		}
		result.DurationMS = e.now().Sub(start).Milliseconds()
	}()

	result, err := check.Run(vc)
	result.Name = check.Name
	if err != nil {
		result.Status = cga.CheckFail
		result.Message = err.Error()
	}
	return result
}

// achievedLevel returns the highest level ≤ target whose required checks
// all avoided FAIL, or nil when even the BRONZE set has a failure.
// WARN and SKIP never block a level.
func achievedLevel(registry []Check, results []cga.CheckResult, target cga.Level) *cga.Level {
	minLevel := make(map[string]cga.Level, len(registry))
	for _, c := range registry {
		minLevel[c.Name] = c.MinLevel
	}

	for i := target.Ord(); i >= 0; i-- {
		level := cga.Levels[i]
		ok := true
		for _, r := range results {
			if r.Status != cga.CheckFail {
				continue
			}
			if level.AtLeast(minLevel[r.Name]) {
				ok = false
				break
			}
		}
		if ok {
			return &level
		}
	}
	return nil
}
