package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/aigos-io/aigos/internal/token"
)

var ledgerNow = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

func newTestLedger() *MemoryLedger {
	tick := 0
	return New().WithClock(func() time.Time {
		tick++
		return ledgerNow.Add(time.Duration(tick) * time.Second)
	})
}

func TestNewStartsWithGenesis(t *testing.T) {
	l := New()
	n, err := l.Len(context.Background())
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 1 {
		t.Fatalf("fresh ledger has %d entries, want the genesis entry only", n)
	}
	root, err := l.Root(context.Background())
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if root != GenesisHash {
		t.Errorf("genesis root = %q", root)
	}
}

func TestRecordIssuedChainsOntoTip(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	first, err := l.RecordIssued(ctx, "cga-1", "urn:aigos:agent:a", "example.com", []byte(`{"doc":1}`))
	if err != nil {
		t.Fatalf("RecordIssued: %v", err)
	}
	if first.Index != 1 || first.PrevHash != GenesisHash {
		t.Errorf("first entry = %+v", first)
	}
	if first.Event != EventIssued || first.Hash == "" {
		t.Errorf("first entry = %+v", first)
	}

	second, err := l.RecordIssued(ctx, "cga-2", "urn:aigos:agent:b", "example.com", []byte(`{"doc":2}`))
	if err != nil {
		t.Fatalf("RecordIssued: %v", err)
	}
	if second.PrevHash != first.Hash {
		t.Errorf("second.PrevHash = %q, want %q", second.PrevHash, first.Hash)
	}

	root, _ := l.Root(ctx)
	if root != second.Hash {
		t.Errorf("Root = %q, want the tip hash %q", root, second.Hash)
	}
	if err := l.Audit(ctx); err != nil {
		t.Errorf("Audit: %v", err)
	}
}

func TestHistoryFiltersByCertificate(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.RecordIssued(ctx, "cga-1", "urn:aigos:agent:a", "example.com", []byte("a")) //nolint:errcheck
	l.RecordIssued(ctx, "cga-2", "urn:aigos:agent:b", "example.com", []byte("b")) //nolint:errcheck
	l.RecordRevoked(ctx, "cga-1", "urn:aigos:agent:a", "example.com", "key leak") //nolint:errcheck

	history, err := l.History(ctx, "cga-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history has %d entries, want 2", len(history))
	}
	if history[0].Event != EventIssued || history[1].Event != EventRevoked {
		t.Errorf("history order = %s, %s", history[0].Event, history[1].Event)
	}
	if history[1].Reason != "key leak" {
		t.Errorf("revocation reason = %q", history[1].Reason)
	}
}

func TestAuditDetectsTampering(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.RecordIssued(ctx, "cga-1", "urn:aigos:agent:a", "example.com", []byte("a")) //nolint:errcheck
	l.RecordIssued(ctx, "cga-2", "urn:aigos:agent:b", "example.com", []byte("b")) //nolint:errcheck
	if err := l.Audit(ctx); err != nil {
		t.Fatalf("clean chain failed audit: %v", err)
	}

	// Rewriting history must break either the entry hash or the link to
	// the successor.
	l.entries[1].Actor = "attacker.example"
	if err := l.Audit(ctx); err == nil {
		t.Error("tampered entry passed audit")
	}
	l.entries[1].Hash = hashEntry(l.entries[1])
	if err := l.Audit(ctx); err == nil {
		t.Error("re-hashed tampered entry passed audit; successor link should break")
	}
}

func TestStatusServesAsRevocationOracle(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.RecordIssued(ctx, "cga-good", "urn:aigos:agent:a", "example.com", []byte("a"))   //nolint:errcheck
	l.RecordIssued(ctx, "cga-bad", "urn:aigos:agent:b", "example.com", []byte("b"))    //nolint:errcheck
	l.RecordRevoked(ctx, "cga-bad", "urn:aigos:agent:b", "aigos-system", "compromise") //nolint:errcheck

	tests := []struct {
		id   string
		want token.RevocationStatus
	}{
		{"cga-good", token.RevocationGood},
		{"cga-bad", token.RevocationRevoked},
		{"cga-never-seen", token.RevocationUnknown},
	}
	for _, tt := range tests {
		got, err := l.Status(ctx, tt.id)
		if err != nil {
			t.Fatalf("Status(%s): %v", tt.id, err)
		}
		if got != tt.want {
			t.Errorf("Status(%s) = %s, want %s", tt.id, got, tt.want)
		}
	}
}

func TestRevokedStaysRevoked(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.RecordIssued(ctx, "cga-1", "urn:aigos:agent:a", "example.com", []byte("a")) //nolint:errcheck
	l.RecordRevoked(ctx, "cga-1", "urn:aigos:agent:a", "aigos-system", "test")    //nolint:errcheck
	// Re-issuing under the same id does not resurrect it.
	l.RecordIssued(ctx, "cga-1", "urn:aigos:agent:a", "example.com", []byte("a2")) //nolint:errcheck

	got, err := l.Status(ctx, "cga-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got != token.RevocationRevoked {
		t.Errorf("Status after re-issue = %s, want %s", got, token.RevocationRevoked)
	}
}
