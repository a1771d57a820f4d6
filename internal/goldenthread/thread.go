// Package goldenthread binds a running agent to a signed business
// authorization: the immutable tuple (ticket, approver, approval time)
// plus the SHA-256 hash of its canonical form. The canonical→hash step
// is the one cryptographic invariant the rest of the governance chain
// leans on, so it lives here and nowhere else.
package goldenthread

import (
	"crypto/subtle"
	"regexp"
	"strings"
	"time"

	"github.com/aigos-io/aigos/internal/aigerr"
	"github.com/aigos-io/aigos/internal/canon"
)

// hashRe matches the prefixed hash form "sha256:<64 hex>".
var hashRe = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)

// emailRe is a deliberately loose shape check: local@domain.tld.
var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Components are the three hashed fields of a Golden Thread.
type Components struct {
	TicketID   string `json:"ticket_id"   yaml:"ticket_id"`
	ApprovedBy string `json:"approved_by" yaml:"approved_by"`
	ApprovedAt string `json:"approved_at" yaml:"approved_at"`
}

// GoldenThread is the full record. Hash always equals the hash of the
// canonical form of Components. Signature, when present, has the form
// "<algorithm>:<base64>".
type GoldenThread struct {
	Components `yaml:",inline"`
	Hash       string `json:"hash,omitempty"      yaml:"hash,omitempty"`
	Signature  string `json:"signature,omitempty" yaml:"signature,omitempty"`
}

// VerifyResult reports the outcome of a hash re-check.
type VerifyResult struct {
	Verified       bool   `json:"verified"`
	Computed       string `json:"computed"`
	MismatchReason string `json:"mismatch_reason,omitempty"`
}

// Canonical returns the canonical string form of c:
// approved_at=...|approved_by=...|ticket_id=... with the timestamp
// normalised to UTC.
func Canonical(c Components) (string, error) {
	return canon.Canonical(canon.Record{
		"ticket_id":   c.TicketID,
		"approved_by": c.ApprovedBy,
		"approved_at": c.ApprovedAt,
	}, "approved_at")
}

// ComputeHash returns "sha256:<hex>" over the canonical form of c.
func ComputeHash(c Components) (string, error) {
	canonical, err := Canonical(c)
	if err != nil {
		return "", err
	}
	return canon.HashBytes([]byte(canonical)), nil
}

// Build validates the components and returns a GoldenThread with its hash
// set. A new thread is a new identity; threads are never mutated.
func Build(ticketID, approvedBy, approvedAt string) (*GoldenThread, error) {
	if strings.TrimSpace(ticketID) == "" {
		return nil, aigerr.New(aigerr.BadFormat, "ticket_id must be non-empty")
	}
	if !emailRe.MatchString(approvedBy) {
		return nil, aigerr.New(aigerr.BadFormat, "approved_by %q is not an email address", approvedBy)
	}
	if _, err := time.Parse(time.RFC3339, approvedAt); err != nil {
		return nil, aigerr.Wrap(aigerr.BadTimestamp, err, "approved_at %q is not RFC 3339", approvedAt)
	}

	c := Components{TicketID: ticketID, ApprovedBy: approvedBy, ApprovedAt: approvedAt}
	hash, err := ComputeHash(c)
	if err != nil {
		return nil, err
	}
	return &GoldenThread{Components: c, Hash: hash}, nil
}

// Verify recomputes the hash of components and compares it against
// expectedHash in constant time. Either side failing the hash shape
// check is a BadFormat error; a well-formed mismatch is HashMismatch.
func Verify(components Components, expectedHash string) (*VerifyResult, error) {
	computed, err := ComputeHash(components)
	if err != nil {
		return nil, err
	}
	if !hashRe.MatchString(expectedHash) {
		return nil, aigerr.New(aigerr.BadFormat, "expected hash %q does not match sha256:<64 hex>", expectedHash)
	}
	if !hashRe.MatchString(computed) {
		return nil, aigerr.New(aigerr.BadFormat, "computed hash %q does not match sha256:<64 hex>", computed)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(expectedHash)) != 1 {
		return &VerifyResult{
			Verified:       false,
			Computed:       computed,
			MismatchReason: "golden thread hash does not match its components",
		}, aigerr.New(aigerr.HashMismatch, "golden thread hash mismatch: computed %s", computed)
	}
	return &VerifyResult{Verified: true, Computed: computed}, nil
}

// Approval is one ticket approval on an asset-like document.
type Approval struct {
	ApprovedBy string `json:"approved_by" yaml:"approved_by"`
	Date       string `json:"date"        yaml:"date"`
}

// AssetLike is the subset of an asset card the extractor understands.
// An explicit golden_thread block wins; otherwise the most recent
// approval of the linked ticket is used.
type AssetLike struct {
	GoldenThread *GoldenThread `json:"golden_thread,omitempty" yaml:"golden_thread,omitempty"`
	TicketID     string        `json:"ticket_id,omitempty"     yaml:"ticket_id,omitempty"`
	Approvals    []Approval    `json:"approvals,omitempty"     yaml:"approvals,omitempty"`
}

// Extract pulls Golden Thread components out of an asset-like document.
// Returns nil when the document carries neither an explicit thread nor a
// usable approval.
func Extract(asset AssetLike) *Components {
	if asset.GoldenThread != nil && asset.GoldenThread.TicketID != "" {
		c := asset.GoldenThread.Components
		return &c
	}
	if asset.TicketID == "" || len(asset.Approvals) == 0 {
		return nil
	}

	// Fall back to the most recent approval by date. Unparseable dates
	// sort last so a single bad row cannot shadow a good one.
	best := -1
	var bestAt time.Time
	for i, a := range asset.Approvals {
		at, err := time.Parse(time.RFC3339, a.Date)
		if err != nil {
			continue
		}
		if best == -1 || at.After(bestAt) {
			best = i
			bestAt = at
		}
	}
	if best == -1 {
		return nil
	}
	return &Components{
		TicketID:   asset.TicketID,
		ApprovedBy: asset.Approvals[best].ApprovedBy,
		ApprovedAt: asset.Approvals[best].Date,
	}
}
