package goldenthread

import (
	"strings"
	"testing"

	"github.com/aigos-io/aigos/internal/aigerr"
)

func TestBuildSetsHashOverCanonicalForm(t *testing.T) {
	gt, err := Build("JIRA-4811", "cto@example.com", "2026-08-01T09:00:00Z")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want, err := ComputeHash(gt.Components)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if gt.Hash != want {
		t.Errorf("Hash = %q, want %q", gt.Hash, want)
	}
	if !strings.HasPrefix(gt.Hash, "sha256:") {
		t.Errorf("Hash = %q, want sha256: prefix", gt.Hash)
	}
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name       string
		ticket     string
		approvedBy string
		approvedAt string
		wantKind   aigerr.Kind
	}{
		{"empty ticket", "", "cto@example.com", "2026-08-01T09:00:00Z", aigerr.BadFormat},
		{"blank ticket", "   ", "cto@example.com", "2026-08-01T09:00:00Z", aigerr.BadFormat},
		{"not an email", "JIRA-1", "not-an-email", "2026-08-01T09:00:00Z", aigerr.BadFormat},
		{"bad timestamp", "JIRA-1", "cto@example.com", "August 1st", aigerr.BadTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.ticket, tt.approvedBy, tt.approvedAt)
			if !aigerr.IsKind(err, tt.wantKind) {
				t.Errorf("Build err = %v, want kind %s", err, tt.wantKind)
			}
		})
	}
}

func TestHashIsTimezoneInvariant(t *testing.T) {
	utc, err := ComputeHash(Components{TicketID: "JIRA-1", ApprovedBy: "a@b.co", ApprovedAt: "2026-08-01T09:00:00Z"})
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	offset, err := ComputeHash(Components{TicketID: "JIRA-1", ApprovedBy: "a@b.co", ApprovedAt: "2026-08-01T11:00:00+02:00"})
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if utc != offset {
		t.Errorf("hashes differ across timezone spellings: %s vs %s", utc, offset)
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	gt, err := Build("JIRA-4811", "cto@example.com", "2026-08-01T09:00:00Z")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	res, err := Verify(gt.Components, gt.Hash)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Verified {
		t.Errorf("Verified = false, want true; reason %q", res.MismatchReason)
	}
	if res.Computed != gt.Hash {
		t.Errorf("Computed = %q, want %q", res.Computed, gt.Hash)
	}
}

func TestVerifyDetectsTamperedComponent(t *testing.T) {
	gt, err := Build("JIRA-4811", "cto@example.com", "2026-08-01T09:00:00Z")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tampered := gt.Components
	tampered.TicketID = "JIRA-4812"

	res, err := Verify(tampered, gt.Hash)
	if !aigerr.IsKind(err, aigerr.HashMismatch) {
		t.Fatalf("err = %v, want kind %s", err, aigerr.HashMismatch)
	}
	if res == nil || res.Verified {
		t.Errorf("result = %+v, want unverified", res)
	}
}

func TestVerifyRejectsMalformedExpectedHash(t *testing.T) {
	gt, err := Build("JIRA-1", "a@b.co", "2026-08-01T09:00:00Z")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, bad := range []string{"", "deadbeef", "sha256:short", "md5:" + strings.Repeat("a", 64)} {
		if _, err := Verify(gt.Components, bad); !aigerr.IsKind(err, aigerr.BadFormat) {
			t.Errorf("Verify(%q) err = %v, want kind %s", bad, err, aigerr.BadFormat)
		}
	}
}

func TestExtractExplicitBlockWins(t *testing.T) {
	got := Extract(AssetLike{
		GoldenThread: &GoldenThread{Components: Components{
			TicketID: "JIRA-100", ApprovedBy: "cto@example.com", ApprovedAt: "2026-08-01T09:00:00Z",
		}},
		TicketID:  "JIRA-999",
		Approvals: []Approval{{ApprovedBy: "dev@example.com", Date: "2026-08-02T09:00:00Z"}},
	})
	if got == nil {
		t.Fatal("Extract returned nil")
	}
	if got.TicketID != "JIRA-100" || got.ApprovedBy != "cto@example.com" {
		t.Errorf("Extract = %+v, want explicit golden_thread block", got)
	}
}

func TestExtractPicksLatestApproval(t *testing.T) {
	got := Extract(AssetLike{
		TicketID: "JIRA-7",
		Approvals: []Approval{
			{ApprovedBy: "first@example.com", Date: "2026-07-01T09:00:00Z"},
			{ApprovedBy: "latest@example.com", Date: "2026-08-01T09:00:00Z"},
			{ApprovedBy: "broken@example.com", Date: "not a date"},
			{ApprovedBy: "middle@example.com", Date: "2026-07-15T09:00:00Z"},
		},
	})
	if got == nil {
		t.Fatal("Extract returned nil")
	}
	if got.ApprovedBy != "latest@example.com" {
		t.Errorf("ApprovedBy = %q, want latest@example.com", got.ApprovedBy)
	}
	if got.ApprovedAt != "2026-08-01T09:00:00Z" {
		t.Errorf("ApprovedAt = %q", got.ApprovedAt)
	}
}

func TestExtractReturnsNilWithoutMaterial(t *testing.T) {
	tests := []struct {
		name  string
		asset AssetLike
	}{
		{"empty", AssetLike{}},
		{"ticket without approvals", AssetLike{TicketID: "JIRA-1"}},
		{"approvals without ticket", AssetLike{Approvals: []Approval{{ApprovedBy: "a@b.co", Date: "2026-08-01T09:00:00Z"}}}},
		{"only unparseable dates", AssetLike{TicketID: "JIRA-1", Approvals: []Approval{{ApprovedBy: "a@b.co", Date: "soon"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Extract(tt.asset); got != nil {
				t.Errorf("Extract = %+v, want nil", got)
			}
		})
	}
}
