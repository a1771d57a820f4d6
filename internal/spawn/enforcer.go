package spawn

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aigos-io/aigos/internal/aigerr"
	"go.uber.org/zap"
)

// DecayMode selects how a child capability set is derived from its parent.
type DecayMode string

const (
	// ModeDecay shrinks the parent set per the configured decay rules.
	// This is the default.
	ModeDecay DecayMode = "decay"
	// ModeExplicit grants only the intersection of the parent set and an
	// explicit request; unspecified fields default to empty.
	ModeExplicit DecayMode = "explicit"
	// ModeInherit copies the parent set unchanged except for depth
	// accounting. Dangerous; use sparingly.
	ModeInherit DecayMode = "inherit"
)

// GlobalMaxDepth caps the spawn tree regardless of per-agent settings.
const GlobalMaxDepth = 5

// BudgetDecay holds per-field multiplication factors applied in decay mode.
type BudgetDecay struct {
	Session       float64 `json:"max_cost_per_session" yaml:"max_cost_per_session"`
	Day           float64 `json:"max_cost_per_day"     yaml:"max_cost_per_day"`
	Month         float64 `json:"max_cost_per_month"   yaml:"max_cost_per_month"`
	TokensPerCall float64 `json:"max_tokens_per_call" yaml:"max_tokens_per_call"`
}

// DecayRules configure decay-mode behaviour and global child restrictions.
type DecayRules struct {
	// RemoveFromChildren lists tools a child never inherits in decay mode.
	RemoveFromChildren []string `json:"remove_from_children" yaml:"remove_from_children"`
	// DenyToChildren lists tools no child may request in any mode.
	DenyToChildren []string `json:"deny_to_children" yaml:"deny_to_children"`
	// BudgetDecay holds the per-field decay factors.
	BudgetDecay BudgetDecay `json:"budget_decay" yaml:"budget_decay"`
}

// DefaultDecayRules returns the default decay factors (session/day/month
// halve, tokens-per-call decays to 75%).
func DefaultDecayRules() DecayRules {
	return DecayRules{
		BudgetDecay: BudgetDecay{Session: 0.5, Day: 0.5, Month: 0.5, TokensPerCall: 0.75},
	}
}

// Violation classifies one spawn-policy breach.
type Violation struct {
	Kind    aigerr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// ValidationResult is the outcome of validating a spawn request.
// Adjusted is populated only when the enforcer runs with autoAdjust and
// the request had violations; it is a policy-correct child set.
type ValidationResult struct {
	Valid      bool           `json:"valid"`
	Violations []Violation    `json:"violations,omitempty"`
	Adjusted   *CapabilitySet `json:"adjusted,omitempty"`
}

// Enforcer validates spawn requests and derives child capability sets.
// Decay rules are replaced copy-on-write under a single coarse mutex;
// no lock is held across I/O.
type Enforcer struct {
	mu         sync.RWMutex
	rules      DecayRules
	autoAdjust bool
	logger     *zap.Logger
}

// NewEnforcer creates an Enforcer with the given rules. When autoAdjust is
// true, invalid requests additionally yield a corrected child set.
func NewEnforcer(rules DecayRules, autoAdjust bool, logger *zap.Logger) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{rules: rules, autoAdjust: autoAdjust, logger: logger}
}

// SetDecayRules atomically replaces the decay rules.
func (e *Enforcer) SetDecayRules(rules DecayRules) {
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
}

// Rules returns a snapshot of the current decay rules.
func (e *Enforcer) Rules() DecayRules {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r := e.rules
	r.RemoveFromChildren = append([]string(nil), e.rules.RemoveFromChildren...)
	r.DenyToChildren = append([]string(nil), e.rules.DenyToChildren...)
	return r
}

// depthAllowed reports whether parent may spawn at all.
func depthAllowed(parent *CapabilitySet) bool {
	cap := parent.MaxChildDepth
	if cap > GlobalMaxDepth {
		cap = GlobalMaxDepth
	}
	return parent.MaySpawnChildren && parent.GenerationDepth < cap
}

// Validate checks a spawn request against the parent's capability set.
// Every violation is reported, not just the first. With autoAdjust, a
// corrected child set is attached to invalid results.
func (e *Enforcer) Validate(parent *CapabilitySet, req SpawnRequest) *ValidationResult {
	rules := e.Rules()
	var violations []Violation

	if !depthAllowed(parent) {
		violations = append(violations, Violation{
			Kind: aigerr.DepthExceeded,
			Message: fmt.Sprintf("parent at generation %d may not spawn (max child depth %d, global max %d, may_spawn_children=%t)",
				parent.GenerationDepth, parent.MaxChildDepth, GlobalMaxDepth, parent.MaySpawnChildren),
		})
	}

	deny := make(map[string]string, len(rules.DenyToChildren)+len(rules.RemoveFromChildren))
	for _, t := range rules.RemoveFromChildren {
		deny[t] = "withheld from child agents by the decay rules"
	}
	for _, t := range rules.DenyToChildren {
		deny[t] = "globally denied to child agents"
	}
	for _, tool := range req.Tools {
		if !parent.HasTool(tool) {
			violations = append(violations, Violation{
				Kind:    aigerr.PrivilegeEscalation,
				Message: fmt.Sprintf("tool %q is not in the parent's allowed set", tool),
			})
		}
		if why, ok := deny[tool]; ok {
			violations = append(violations, Violation{
				Kind:    aigerr.PrivilegeEscalation,
				Message: fmt.Sprintf("tool %q is %s", tool, why),
			})
		}
	}
	for _, d := range req.Domains {
		if !DomainCovered(d, parent.AllowedDomains) {
			violations = append(violations, Violation{
				Kind:    aigerr.PrivilegeEscalation,
				Message: fmt.Sprintf("domain %q is not covered by any parent domain pattern", d),
			})
		}
	}
	if req.RiskLevel != nil && req.RiskLevel.Ord() > parent.RiskLevel.Ord() {
		violations = append(violations, Violation{
			Kind:    aigerr.PrivilegeEscalation,
			Message: fmt.Sprintf("requested risk level %s exceeds parent risk level %s", *req.RiskLevel, parent.RiskLevel),
		})
	}

	violations = append(violations, budgetViolations(parent.Budgets, req.Budgets)...)

	if len(violations) == 0 {
		return &ValidationResult{Valid: true}
	}

	res := &ValidationResult{Valid: false, Violations: violations}
	if e.autoAdjust {
		res.Adjusted = e.adjust(parent, req, rules)
		e.logger.Debug("spawn request auto-adjusted",
			zap.Int("violations", len(violations)),
			zap.Strings("adjusted_tools", res.Adjusted.AllowedTools))
	}
	return res
}

// budgetViolations flags every requested budget strictly greater than a
// bounded parent budget.
func budgetViolations(parent, req Budgets) []Violation {
	var out []Violation
	check := func(name string, p, r *float64) {
		if r != nil && p != nil && *r > *p {
			out = append(out, Violation{
				Kind:    aigerr.BudgetEscalation,
				Message: fmt.Sprintf("requested %s %.2f exceeds parent budget %.2f", name, *r, *p),
			})
		}
	}
	check("max_cost_per_session", parent.MaxCostPerSession, req.MaxCostPerSession)
	check("max_cost_per_day", parent.MaxCostPerDay, req.MaxCostPerDay)
	check("max_cost_per_month", parent.MaxCostPerMonth, req.MaxCostPerMonth)
	if req.MaxTokensPerCall != nil && parent.MaxTokensPerCall != nil &&
		*req.MaxTokensPerCall > *parent.MaxTokensPerCall {
		out = append(out, Violation{
			Kind: aigerr.BudgetEscalation,
			Message: fmt.Sprintf("requested max_tokens_per_call %d exceeds parent budget %d",
				*req.MaxTokensPerCall, *parent.MaxTokensPerCall),
		})
	}
	return out
}

// adjust derives a policy-correct child set from an over-reaching request:
// decay-mode shrink of the parent, with requested budgets clamped to the
// decayed ceilings.
func (e *Enforcer) adjust(parent *CapabilitySet, req SpawnRequest, rules DecayRules) *CapabilitySet {
	child := applyDecayWithRules(parent, rules)
	child.Budgets = Budgets{
		MaxCostPerSession: minFloat(child.Budgets.MaxCostPerSession, firstFloat(req.Budgets.MaxCostPerSession, child.Budgets.MaxCostPerSession)),
		MaxCostPerDay:     minFloat(child.Budgets.MaxCostPerDay, firstFloat(req.Budgets.MaxCostPerDay, child.Budgets.MaxCostPerDay)),
		MaxCostPerMonth:   minFloat(child.Budgets.MaxCostPerMonth, firstFloat(req.Budgets.MaxCostPerMonth, child.Budgets.MaxCostPerMonth)),
		MaxTokensPerCall:  minInt(child.Budgets.MaxTokensPerCall, firstInt(req.Budgets.MaxTokensPerCall, child.Budgets.MaxTokensPerCall)),
	}
	return child
}

func firstFloat(a, b *float64) *float64 {
	if a != nil {
		return a
	}
	return b
}

func firstInt(a, b *int64) *int64 {
	if a != nil {
		return a
	}
	return b
}

// ApplyDecay derives a child capability set from parent under mode.
// The explicit request is consulted only in ModeExplicit. The child's
// generation depth is always parent's + 1; MaySpawnChildren is forced
// false once the new depth reaches the cap.
func (e *Enforcer) ApplyDecay(parent *CapabilitySet, mode DecayMode, explicit *SpawnRequest) (*CapabilitySet, error) {
	rules := e.Rules()
	switch mode {
	case ModeInherit:
		child := parent.Clone()
		bumpDepth(child, parent)
		e.logger.Warn("inherit decay mode used; child capabilities equal parent",
			zap.Int("generation_depth", child.GenerationDepth))
		return child, nil

	case ModeExplicit:
		child := &CapabilitySet{
			RiskLevel:     parent.RiskLevel,
			MaxChildDepth: parent.MaxChildDepth,
			DeniedDomains: append([]string(nil), parent.DeniedDomains...),
		}
		if explicit != nil {
			child.AllowedTools = intersect(explicit.Tools, parent.AllowedTools)
			for _, d := range explicit.Domains {
				if DomainCovered(d, parent.AllowedDomains) {
					child.AllowedDomains = append(child.AllowedDomains, d)
				}
			}
			child.Budgets = Budgets{
				MaxCostPerSession: minFloat(parent.Budgets.MaxCostPerSession, explicit.Budgets.MaxCostPerSession),
				MaxCostPerDay:     minFloat(parent.Budgets.MaxCostPerDay, explicit.Budgets.MaxCostPerDay),
				MaxCostPerMonth:   minFloat(parent.Budgets.MaxCostPerMonth, explicit.Budgets.MaxCostPerMonth),
				MaxTokensPerCall:  minInt(parent.Budgets.MaxTokensPerCall, explicit.Budgets.MaxTokensPerCall),
			}
			if explicit.RiskLevel != nil && explicit.RiskLevel.Ord() <= parent.RiskLevel.Ord() {
				child.RiskLevel = *explicit.RiskLevel
			}
		}
		// MaySpawnChildren defaults to false in explicit mode.
		child.MaySpawnChildren = false
		child.GenerationDepth = parent.GenerationDepth + 1
		return child, nil

	case ModeDecay, "":
		child := applyDecayWithRules(parent, rules)
		return child, nil

	default:
		return nil, aigerr.New(aigerr.SchemaViolation, "unknown decay mode %q", mode)
	}
}

// applyDecayWithRules is the decay-mode derivation: remove configured
// tools, scale budgets, inherit denied domains, bump depth.
func applyDecayWithRules(parent *CapabilitySet, rules DecayRules) *CapabilitySet {
	remove := make(map[string]bool, len(rules.RemoveFromChildren)+len(rules.DenyToChildren))
	for _, t := range rules.RemoveFromChildren {
		remove[t] = true
	}
	for _, t := range rules.DenyToChildren {
		remove[t] = true
	}

	var tools []string
	for _, t := range parent.AllowedTools {
		if !remove[t] {
			tools = append(tools, t)
		}
	}

	bd := rules.BudgetDecay
	child := &CapabilitySet{
		AllowedTools:   tools,
		AllowedDomains: append([]string(nil), parent.AllowedDomains...),
		DeniedDomains:  append([]string(nil), parent.DeniedDomains...),
		Budgets: Budgets{
			MaxCostPerSession: scaleFloat(parent.Budgets.MaxCostPerSession, bd.Session),
			MaxCostPerDay:     scaleFloat(parent.Budgets.MaxCostPerDay, bd.Day),
			MaxCostPerMonth:   scaleFloat(parent.Budgets.MaxCostPerMonth, bd.Month),
			MaxTokensPerCall:  scaleInt(parent.Budgets.MaxTokensPerCall, bd.TokensPerCall),
		},
		RiskLevel:     parent.RiskLevel,
		MaxChildDepth: parent.MaxChildDepth,
	}
	bumpDepth(child, parent)
	return child
}

// bumpDepth sets the child depth and clears MaySpawnChildren once the new
// depth reaches the effective cap.
func bumpDepth(child, parent *CapabilitySet) {
	child.GenerationDepth = parent.GenerationDepth + 1
	cap := parent.MaxChildDepth
	if cap > GlobalMaxDepth {
		cap = GlobalMaxDepth
	}
	child.MaySpawnChildren = child.GenerationDepth < cap
}

// MergeDeniedDomains extends a child's denied set with extra entries while
// always retaining every parent denial.
func MergeDeniedDomains(child *CapabilitySet, extra []string) {
	child.DeniedDomains = unionSorted(child.DeniedDomains, extra)
	sort.Strings(child.DeniedDomains)
}
