// Package policy resolves layered governance policy documents: an
// inheritance resolver walks extends chains root-first (circular-safe),
// and a selector scores candidate policies for an asset and caches
// selections in a strict LRU.
package policy

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultAppliesTo is the implicit applies_to of a document that does not
// declare one. A child's applies_to replaces the parent's only when the
// child's differs from this default.
var defaultAppliesTo = []string{"*"}

// Rule is a single policy rule. Rules merge across the inheritance chain
// by concatenation, then sort by descending priority.
type Rule struct {
	ID       string `json:"id"       yaml:"id"`
	Action   string `json:"action"   yaml:"action"`
	Effect   string `json:"effect"   yaml:"effect"`
	Priority int    `json:"priority" yaml:"priority"`
}

// Document is one policy node in the inheritance graph.
type Document struct {
	ID      string `json:"id"                yaml:"id"`
	Extends string `json:"extends,omitempty" yaml:"extends,omitempty"`

	// AppliesTo lists asset selectors: exact ids, "*", or "prefix*".
	AppliesTo []string `json:"applies_to,omitempty" yaml:"applies_to,omitempty"`

	// RiskLevels is a match condition: the document applies when the
	// asset's risk level appears here. Empty means no condition.
	RiskLevels []string `json:"risk_levels,omitempty" yaml:"risk_levels,omitempty"`

	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Scalars merge child-wins.
	Mode             string `json:"mode,omitempty"              yaml:"mode,omitempty"`
	EnforcementLevel string `json:"enforcement_level,omitempty" yaml:"enforcement_level,omitempty"`

	Rules []Rule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// Repository is a read-only source of policy documents keyed by id.
type Repository interface {
	Get(id string) (*Document, bool)
}

// MapRepository is the trivial in-memory Repository.
type MapRepository map[string]*Document

// Get implements Repository.
func (m MapRepository) Get(id string) (*Document, bool) {
	d, ok := m[id]
	return d, ok
}

// ParseDocument decodes a YAML (or JSON, being a YAML subset) policy document.
func ParseDocument(data []byte) (*Document, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// effectiveAppliesTo returns the declared selectors or the implicit default.
func (d *Document) effectiveAppliesTo() []string {
	if len(d.AppliesTo) == 0 {
		return defaultAppliesTo
	}
	return d.AppliesTo
}

// isDefaultAppliesTo reports whether sel is exactly the implicit default.
func isDefaultAppliesTo(sel []string) bool {
	return len(sel) == 0 || (len(sel) == 1 && sel[0] == "*")
}

// merge folds child onto parent per the layered-merge rules: scalars
// child-wins, rule arrays concatenated then re-sorted by descending
// priority, set arrays unioned, applies_to replaced by the child only
// when the child declares a non-default selector.
func merge(parent, child *Document) *Document {
	out := &Document{ID: child.ID, Extends: child.Extends}

	out.Mode = parent.Mode
	if child.Mode != "" {
		out.Mode = child.Mode
	}
	out.EnforcementLevel = parent.EnforcementLevel
	if child.EnforcementLevel != "" {
		out.EnforcementLevel = child.EnforcementLevel
	}

	out.Rules = append(append([]Rule(nil), parent.Rules...), child.Rules...)
	sort.SliceStable(out.Rules, func(i, j int) bool {
		return out.Rules[i].Priority > out.Rules[j].Priority
	})

	out.Tags = unionStrings(parent.Tags, child.Tags)
	out.RiskLevels = unionStrings(parent.RiskLevels, child.RiskLevels)

	if isDefaultAppliesTo(child.AppliesTo) {
		out.AppliesTo = append([]string(nil), parent.effectiveAppliesTo()...)
	} else {
		out.AppliesTo = append([]string(nil), child.AppliesTo...)
	}
	return out
}

func unionStrings(a, b []string) []string {
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

// matchesAsset reports whether selector sel covers assetID: "*" covers
// everything, an exact entry covers itself, and "prefix*" covers any id
// with that prefix.
func matchesAsset(sel []string, assetID string) bool {
	for _, s := range sel {
		switch {
		case s == "*":
			return true
		case s == assetID:
			return true
		case len(s) > 1 && s[len(s)-1] == '*' && strings.HasPrefix(assetID, s[:len(s)-1]):
			return true
		}
	}
	return false
}

// explicitAssetMatch reports an exact (non-wildcard) selector hit.
func explicitAssetMatch(sel []string, assetID string) bool {
	for _, s := range sel {
		if s == assetID {
			return true
		}
	}
	return false
}
