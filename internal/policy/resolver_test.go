package policy

import (
	"reflect"
	"testing"

	"github.com/aigos-io/aigos/internal/aigerr"
)

func TestResolveSingleDocument(t *testing.T) {
	repo := MapRepository{
		"base": {ID: "base", Mode: "enforce", Rules: []Rule{{ID: "r1", Action: "*", Effect: "allow", Priority: 1}}},
	}
	res, err := Resolve("base", repo)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(res.Chain, []string{"base"}) {
		t.Errorf("Chain = %v, want [base]", res.Chain)
	}
	if res.Policy.Mode != "enforce" {
		t.Errorf("Mode = %q", res.Policy.Mode)
	}
}

func TestResolveMergesChainRootFirst(t *testing.T) {
	repo := MapRepository{
		"org": {
			ID:               "org",
			Mode:             "monitor",
			EnforcementLevel: "standard",
			Tags:             []string{"org"},
			Rules:            []Rule{{ID: "org-deny", Action: "payment.*", Effect: "deny", Priority: 90}},
		},
		"team": {
			ID:      "team",
			Extends: "org",
			Mode:    "enforce",
			Tags:    []string{"team"},
			Rules:   []Rule{{ID: "team-allow", Action: "GET.*", Effect: "allow", Priority: 10}},
		},
		"agent": {
			ID:        "agent",
			Extends:   "team",
			AppliesTo: []string{"agent-7"},
			Rules:     []Rule{{ID: "agent-deny", Action: "*", Effect: "deny", Priority: 100}},
		},
	}
	res, err := Resolve("agent", repo)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := []string{"org", "team", "agent"}; !reflect.DeepEqual(res.Chain, want) {
		t.Errorf("Chain = %v, want %v", res.Chain, want)
	}

	p := res.Policy
	if p.ID != "agent" {
		t.Errorf("ID = %q, want the requested id", p.ID)
	}
	if p.Extends != "" {
		t.Errorf("Extends = %q, want cleared on the merged result", p.Extends)
	}
	if p.Mode != "enforce" {
		t.Errorf("Mode = %q, want child-wins enforce", p.Mode)
	}
	if p.EnforcementLevel != "standard" {
		t.Errorf("EnforcementLevel = %q, want inherited standard", p.EnforcementLevel)
	}
	if want := []string{"org", "team"}; !reflect.DeepEqual(p.Tags, want) {
		t.Errorf("Tags = %v, want union %v", p.Tags, want)
	}
	if want := []string{"agent-7"}; !reflect.DeepEqual(p.AppliesTo, want) {
		t.Errorf("AppliesTo = %v, want leaf override %v", p.AppliesTo, want)
	}

	gotRules := make([]string, len(p.Rules))
	for i, r := range p.Rules {
		gotRules[i] = r.ID
	}
	if want := []string{"agent-deny", "org-deny", "team-allow"}; !reflect.DeepEqual(gotRules, want) {
		t.Errorf("rule order = %v, want priority-descending %v", gotRules, want)
	}
}

func TestResolveDefaultAppliesToInheritsParent(t *testing.T) {
	repo := MapRepository{
		"parent": {ID: "parent", AppliesTo: []string{"billing-*"}},
		"child":  {ID: "child", Extends: "parent"},
	}
	res, err := Resolve("child", repo)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := []string{"billing-*"}; !reflect.DeepEqual(res.Policy.AppliesTo, want) {
		t.Errorf("AppliesTo = %v, want inherited %v", res.Policy.AppliesTo, want)
	}
}

func TestResolveMissingPolicy(t *testing.T) {
	repo := MapRepository{"child": {ID: "child", Extends: "ghost"}}
	for _, id := range []string{"absent", "child"} {
		if _, err := Resolve(id, repo); !aigerr.IsKind(err, aigerr.PolicyNotFound) {
			t.Errorf("Resolve(%q) err = %v, want kind %s", id, err, aigerr.PolicyNotFound)
		}
	}
}

func TestResolveCircularInheritance(t *testing.T) {
	repo := MapRepository{
		"policy-a": {ID: "policy-a", Extends: "policy-b"},
		"policy-b": {ID: "policy-b", Extends: "policy-a"},
	}
	_, err := Resolve("policy-a", repo)
	if !aigerr.IsKind(err, aigerr.CircularInheritance) {
		t.Fatalf("err = %v, want kind %s", err, aigerr.CircularInheritance)
	}

	// Self-reference is the degenerate cycle.
	self := MapRepository{"loop": {ID: "loop", Extends: "loop"}}
	if _, err := Resolve("loop", self); !aigerr.IsKind(err, aigerr.CircularInheritance) {
		t.Errorf("self-extends err = %v, want kind %s", err, aigerr.CircularInheritance)
	}
}

func TestResolveMaxDepthExceeded(t *testing.T) {
	repo := MapRepository{}
	// Build a linear chain one document longer than the cap, with every id
	// distinct so the cycle detector stays quiet.
	prev := ""
	var leaf string
	for n := 0; n <= maxInheritanceDepth; n++ {
		id := "layer-" + string(rune('a'+n))
		repo[id] = &Document{ID: id, Extends: prev}
		prev = id
		leaf = id
	}
	_, err := Resolve(leaf, repo)
	if !aigerr.IsKind(err, aigerr.MaxDepthExceeded) {
		t.Fatalf("err = %v, want kind %s", err, aigerr.MaxDepthExceeded)
	}
}

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(`
id: finance-agents
extends: org-base
applies_to: ["finance-*"]
risk_levels: ["HIGH"]
mode: enforce
rules:
  - id: deny-wires
    action: "payment.execute"
    effect: deny
    priority: 100
`))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if doc.ID != "finance-agents" || doc.Extends != "org-base" {
		t.Errorf("parsed doc = %+v", doc)
	}
	if len(doc.Rules) != 1 || doc.Rules[0].Priority != 100 {
		t.Errorf("Rules = %+v", doc.Rules)
	}
}
