// Package cga defines the Certified Governed Agent vocabulary: the tiered
// certification levels, verification report shapes, and the full and
// compact certificate documents exchanged on the wire.
package cga

import (
	"github.com/aigos-io/aigos/internal/aigerr"
)

// Level is the ordered certification tier: BRONZE < SILVER < GOLD < PLATINUM.
type Level string

const (
	Bronze   Level = "BRONZE"
	Silver   Level = "SILVER"
	Gold     Level = "GOLD"
	Platinum Level = "PLATINUM"
)

// Levels lists all levels in ascending order.
var Levels = []Level{Bronze, Silver, Gold, Platinum}

var levelOrd = map[Level]int{Bronze: 0, Silver: 1, Gold: 2, Platinum: 3}

// LevelProperties are the fixed per-level certification properties.
type LevelProperties struct {
	ValidityDays int
	RequiresCA   bool
	ManualReview bool
}

var levelProps = map[Level]LevelProperties{
	Bronze:   {ValidityDays: 30, RequiresCA: false, ManualReview: false},
	Silver:   {ValidityDays: 90, RequiresCA: true, ManualReview: false},
	Gold:     {ValidityDays: 180, RequiresCA: true, ManualReview: false},
	Platinum: {ValidityDays: 365, RequiresCA: true, ManualReview: true},
}

// ParseLevel validates a level string.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if _, ok := levelOrd[l]; !ok {
		return "", aigerr.New(aigerr.SchemaViolation, "unknown CGA level %q", s)
	}
	return l, nil
}

// Ord returns the ordinal of l (BRONZE=0 … PLATINUM=3), -1 for unknown.
func (l Level) Ord() int {
	if o, ok := levelOrd[l]; ok {
		return o
	}
	return -1
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool { return l.Ord() >= 0 }

// AtLeast reports whether l meets or exceeds required.
func (l Level) AtLeast(required Level) bool {
	return l.Valid() && required.Valid() && l.Ord() >= required.Ord()
}

// Properties returns the fixed properties of l. Zero value for unknown levels.
func (l Level) Properties() LevelProperties { return levelProps[l] }

// RiskLevel classifies an agent under the AI-governance risk taxonomy,
// ordered MINIMAL < LIMITED < HIGH < CRITICAL.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "MINIMAL"
	RiskLimited  RiskLevel = "LIMITED"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var riskOrd = map[RiskLevel]int{RiskMinimal: 0, RiskLimited: 1, RiskHigh: 2, RiskCritical: 3}

// ParseRiskLevel validates a risk level string.
func ParseRiskLevel(s string) (RiskLevel, error) {
	r := RiskLevel(s)
	if _, ok := riskOrd[r]; !ok {
		return "", aigerr.New(aigerr.SchemaViolation, "unknown risk level %q", s)
	}
	return r, nil
}

// Ord returns the ordinal of r (MINIMAL=0 … CRITICAL=3), -1 for unknown.
func (r RiskLevel) Ord() int {
	if o, ok := riskOrd[r]; ok {
		return o
	}
	return -1
}

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool { return r.Ord() >= 0 }
