// Package spawn enforces capability decay across the agent spawn tree: a
// child agent's capability set is always a provable subset of its parent's,
// under one of three declared modes (decay, explicit, inherit).
package spawn

import (
	"sort"
	"strings"

	"github.com/aigos-io/aigos/internal/cga"
)

// Wildcard absorbs every tool or domain when present in a parent set.
const Wildcard = "*"

// Budgets are the per-agent spend ceilings. Nil means unbounded for that
// field; a child may never exceed a bounded parent field.
type Budgets struct {
	MaxCostPerSession *float64 `json:"max_cost_per_session,omitempty" yaml:"max_cost_per_session,omitempty"`
	MaxCostPerDay     *float64 `json:"max_cost_per_day,omitempty"     yaml:"max_cost_per_day,omitempty"`
	MaxCostPerMonth   *float64 `json:"max_cost_per_month,omitempty"   yaml:"max_cost_per_month,omitempty"`
	MaxTokensPerCall  *int64   `json:"max_tokens_per_call,omitempty"  yaml:"max_tokens_per_call,omitempty"`
}

// CapabilitySet is the full permission envelope of one agent instance.
type CapabilitySet struct {
	AllowedTools     []string      `json:"allowed_tools"      yaml:"allowed_tools"`
	AllowedDomains   []string      `json:"allowed_domains"    yaml:"allowed_domains"`
	DeniedDomains    []string      `json:"denied_domains"     yaml:"denied_domains"`
	Budgets          Budgets       `json:"budgets"            yaml:"budgets"`
	MaySpawnChildren bool          `json:"may_spawn_children" yaml:"may_spawn_children"`
	RiskLevel        cga.RiskLevel `json:"risk_level"         yaml:"risk_level"`
	GenerationDepth  int           `json:"generation_depth"   yaml:"generation_depth"`
	MaxChildDepth    int           `json:"max_child_depth"    yaml:"max_child_depth"`
}

// SpawnRequest is what a parent asks for on behalf of a child. Empty
// slices mean "nothing requested"; nil budget fields mean "no budget
// requested" for that field.
type SpawnRequest struct {
	Tools     []string       `json:"tools"             yaml:"tools"`
	Domains   []string       `json:"domains"           yaml:"domains"`
	Budgets   Budgets        `json:"budgets"           yaml:"budgets"`
	RiskLevel *cga.RiskLevel `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
}

// HasTool reports whether the set grants tool, honouring the wildcard.
func (s *CapabilitySet) HasTool(tool string) bool {
	for _, t := range s.AllowedTools {
		if t == Wildcard || t == tool {
			return true
		}
	}
	return false
}

// DomainCovered reports whether domain d is covered by the pattern set P:
// "*" covers everything; an exact entry covers itself; "*.suffix" covers
// any d ending in ".suffix" or equal to the bare suffix; a wildcard d is
// covered only by the identical wildcard or "*".
func DomainCovered(d string, patterns []string) bool {
	for _, p := range patterns {
		if p == Wildcard {
			return true
		}
	}
	if strings.Contains(d, Wildcard) {
		for _, p := range patterns {
			if p == d {
				return true
			}
		}
		return false
	}
	for _, p := range patterns {
		if p == d {
			return true
		}
		if suffix, ok := strings.CutPrefix(p, "*."); ok {
			if d == suffix || strings.HasSuffix(d, "."+suffix) {
				return true
			}
		}
	}
	return false
}

// intersect returns the members of want that appear in have, preserving
// want's order. A wildcard in have admits everything.
func intersect(want, have []string) []string {
	hasWild := false
	set := make(map[string]bool, len(have))
	for _, h := range have {
		if h == Wildcard {
			hasWild = true
		}
		set[h] = true
	}
	out := make([]string, 0, len(want))
	for _, w := range want {
		if hasWild || set[w] {
			out = append(out, w)
		}
	}
	return out
}

// unionSorted merges two string sets into a sorted, deduplicated slice.
func unionSorted(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		set[s] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// minFloat returns the smaller of a bounded parent value and a requested
// value; nil parent passes the request through.
func minFloat(parent, requested *float64) *float64 {
	if requested == nil {
		return nil
	}
	if parent != nil && *parent < *requested {
		v := *parent
		return &v
	}
	v := *requested
	return &v
}

func minInt(parent, requested *int64) *int64 {
	if requested == nil {
		return nil
	}
	if parent != nil && *parent < *requested {
		v := *parent
		return &v
	}
	v := *requested
	return &v
}

func scaleFloat(v *float64, factor float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v * factor
	return &out
}

func scaleInt(v *int64, factor float64) *int64 {
	if v == nil {
		return nil
	}
	out := int64(float64(*v) * factor)
	return &out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// Clone returns a deep copy of the budget record.
func (b Budgets) Clone() Budgets {
	return Budgets{
		MaxCostPerSession: cloneFloat(b.MaxCostPerSession),
		MaxCostPerDay:     cloneFloat(b.MaxCostPerDay),
		MaxCostPerMonth:   cloneFloat(b.MaxCostPerMonth),
		MaxTokensPerCall:  cloneInt(b.MaxTokensPerCall),
	}
}

// Clone returns a deep copy of the capability set.
func (s *CapabilitySet) Clone() *CapabilitySet {
	out := *s
	out.AllowedTools = append([]string(nil), s.AllowedTools...)
	out.AllowedDomains = append([]string(nil), s.AllowedDomains...)
	out.DeniedDomains = append([]string(nil), s.DeniedDomains...)
	out.Budgets = s.Budgets.Clone()
	return &out
}
