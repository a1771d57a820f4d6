// Package ledger records certificate lifecycle events in an append-only
// hash chain. Each entry carries the SHA-256 of its predecessor, so any
// tampering with past issuances or revocations is detectable via Audit.
// The memory implementation doubles as the token verifier's revocation
// oracle; the postgres implementation is the durable production store.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Event classifies a certificate lifecycle transition.
type Event string

const (
	EventGenesis Event = "genesis"
	EventIssued  Event = "issued"
	EventRenewed Event = "renewed"
	EventRevoked Event = "revoked"
)

// GenesisHash anchors the chain: the genesis entry's hash is this
// constant, never a computed value.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one lifecycle record in the chain.
type Entry struct {
	Index         int       `json:"index"`
	Timestamp     time.Time `json:"timestamp"`
	CertificateID string    `json:"certificate_id"`
	AgentID       string    `json:"agent_id"`
	Event         Event     `json:"event"`
	Actor         string    `json:"actor"` // issuing org, CA id, or "aigos-system"
	Reason        string    `json:"reason,omitempty"`
	DataHash      string    `json:"data_hash"` // SHA-256 of the associated document
	PrevHash      string    `json:"prev_hash"`
	Hash          string    `json:"hash"`
}

// Ledger is the append-only certificate lifecycle log.
type Ledger interface {
	// RecordIssued appends an issuance entry; document is the signed
	// certificate whose digest anchors the entry.
	RecordIssued(ctx context.Context, certificateID, agentID, actor string, document []byte) (*Entry, error)

	// RecordRevoked appends a revocation entry. Once recorded, the
	// certificate id resolves as REVOKED forever.
	RecordRevoked(ctx context.Context, certificateID, agentID, actor, reason string) (*Entry, error)

	// History returns every entry for a certificate id, oldest first.
	History(ctx context.Context, certificateID string) ([]*Entry, error)

	// Len returns the total number of entries, genesis included.
	Len(ctx context.Context) (int, error)

	// Audit walks the whole chain and checks hash consistency.
	Audit(ctx context.Context) error

	// Root returns the hash of the chain tip.
	Root(ctx context.Context) (string, error)
}

// hashEntry computes the deterministic digest over an entry's fields.
// Never called on the genesis entry.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.CertificateID, e.AgentID, e.Event, e.Actor, e.Reason,
		e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// sha256Sum returns the hex-encoded SHA-256 digest of data.
func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
