package canon

import (
	"regexp"
	"testing"

	"github.com/aigos-io/aigos/internal/aigerr"
)

func TestCanonicalSortsKeysByByteOrder(t *testing.T) {
	got, err := Canonical(Record{"ticket_id": "JIRA-1", "approved_by": "a@b.co", "approved_at": "2026-08-01T09:00:00Z"}, "approved_at")
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	want := "approved_at=2026-08-01T09:00:00Z|approved_by=a@b.co|ticket_id=JIRA-1"
	if got != want {
		t.Errorf("Canonical = %q, want %q", got, want)
	}
}

func TestCanonicalNormalizesTimestampsToUTC(t *testing.T) {
	got, err := Canonical(Record{"approved_at": "2026-08-01T11:00:00+02:00"}, "approved_at")
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	want := "approved_at=2026-08-01T09:00:00Z"
	if got != want {
		t.Errorf("Canonical = %q, want %q", got, want)
	}
}

func TestCanonicalDropsSubseconds(t *testing.T) {
	got, err := Canonical(Record{"at": "2026-08-01T09:00:00.123456Z"}, "at")
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if want := "at=2026-08-01T09:00:00Z"; got != want {
		t.Errorf("Canonical = %q, want %q", got, want)
	}
}

func TestCanonicalRejectsBadTimestamp(t *testing.T) {
	_, err := Canonical(Record{"at": "yesterday"}, "at")
	if !aigerr.IsKind(err, aigerr.BadTimestamp) {
		t.Fatalf("err = %v, want kind %s", err, aigerr.BadTimestamp)
	}
}

func TestCanonicalIsDeterministic(t *testing.T) {
	r := Record{"z": "1", "a": "2", "m": "3"}
	first, err := Canonical(r)
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	for i := 0; i < 100; i++ {
		again, err := Canonical(r)
		if err != nil {
			t.Fatalf("Canonical: %v", err)
		}
		if again != first {
			t.Fatalf("Canonical unstable: %q vs %q", again, first)
		}
	}
}

func TestHashShapeAndSensitivity(t *testing.T) {
	hashRe := regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)

	h1, err := Hash(Record{"ticket_id": "JIRA-1"})
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !hashRe.MatchString(h1) {
		t.Errorf("Hash = %q, want sha256:<64 hex>", h1)
	}

	h2, err := Hash(Record{"ticket_id": "JIRA-2"})
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 == h2 {
		t.Error("distinct records produced the same hash")
	}
}

func TestMarshalJSONSortsKeysWithoutWhitespace(t *testing.T) {
	type inner struct {
		Z int    `json:"z"`
		A string `json:"a"`
	}
	type doc struct {
		B inner  `json:"b"`
		A string `json:"a"`
	}
	got, err := MarshalJSON(doc{B: inner{Z: 7, A: "x"}, A: "y"})
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	want := `{"a":"y","b":{"a":"x","z":7}}`
	if string(got) != want {
		t.Errorf("MarshalJSON = %s, want %s", got, want)
	}
}

func TestMarshalJSONDoesNotEscapeHTML(t *testing.T) {
	got, err := MarshalJSON(map[string]string{"url": "https://a.io/x?y=1&z=<2>"})
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	want := `{"url":"https://a.io/x?y=1&z=<2>"}`
	if string(got) != want {
		t.Errorf("MarshalJSON = %s, want %s", got, want)
	}
}

func TestMarshalJSONPreservesLargeIntegers(t *testing.T) {
	got, err := MarshalJSON(map[string]int64{"exp": 1786698000})
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if want := `{"exp":1786698000}`; string(got) != want {
		t.Errorf("MarshalJSON = %s, want %s", got, want)
	}
}
