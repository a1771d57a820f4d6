package trust

import "testing"

func TestMatchAction(t *testing.T) {
	tests := []struct {
		pattern string
		action  string
		want    bool
	}{
		{"*", "anything.at.all", true},
		{"payment.*", "payment.execute", true},
		{"payment.*", "payment", false},
		{"payment.*", "repayment.execute", false},
		{"GET.*", "GET.api.v1.users", true},
		{"read.item?", "read.item7", true},
		{"read.item?", "read.item", false},
		{"read.item?", "read.item77", false},
		{"exact.match", "exact.match", true},
		{"exact.match", "exact.match.more", false},
	}
	for _, tt := range tests {
		if got := MatchAction(tt.pattern, tt.action); got != tt.want {
			t.Errorf("MatchAction(%q, %q) = %t, want %t", tt.pattern, tt.action, got, tt.want)
		}
	}
}

func TestFirstMatchHonoursDocumentOrder(t *testing.T) {
	rules := []ActionRule{
		{Pattern: "payment.*"},
		{Pattern: "payment.execute"}, // shadowed by the broader rule above
		{Pattern: "*"},
	}
	got := FirstMatch(rules, "payment.execute")
	if got == nil || got.Pattern != "payment.*" {
		t.Errorf("FirstMatch = %+v, want the first (broad) payment rule", got)
	}

	got = FirstMatch(rules, "inventory.read")
	if got == nil || got.Pattern != "*" {
		t.Errorf("FirstMatch = %+v, want the catch-all", got)
	}

	if got := FirstMatch(nil, "anything"); got != nil {
		t.Errorf("FirstMatch over no rules = %+v, want nil", got)
	}
}

// Each parsed policy snapshot carries its own compiled patterns; two
// snapshots never share matcher state.
func TestParsePolicyCompilesActionPatterns(t *testing.T) {
	doc := []byte(`
kind: A2ATrustPolicy
spec:
  actions:
    - pattern: "payment.*"
    - pattern: "read.item?"
`)
	a, err := ParsePolicy(doc)
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	b, err := ParsePolicy(doc)
	if err != nil {
		t.Fatalf("ParsePolicy: %v", err)
	}
	for i := range a.Spec.Actions {
		if a.Spec.Actions[i].compiled == nil {
			t.Fatalf("action %d has no compiled pattern", i)
		}
		if a.Spec.Actions[i].compiled == b.Spec.Actions[i].compiled {
			t.Errorf("action %d shares a compiled pattern across snapshots", i)
		}
	}
	if got := FirstMatch(a.Spec.Actions, "payment.execute"); got == nil || got.Pattern != "payment.*" {
		t.Errorf("FirstMatch = %+v, want the payment rule", got)
	}
}
