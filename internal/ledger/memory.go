package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aigos-io/aigos/internal/token"
)

// MemoryLedger is an in-process, thread-safe Ledger. It keeps a
// revocation index alongside the chain and therefore also serves as the
// token verifier's revocation oracle.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []*Entry
	issued  map[string]bool
	revoked map[string]bool
	now     func() time.Time
}

// New creates a MemoryLedger initialised with the genesis entry.
func New() *MemoryLedger {
	l := &MemoryLedger{
		issued:  make(map[string]bool),
		revoked: make(map[string]bool),
		now:     time.Now,
	}
	l.entries = append(l.entries, &Entry{
		Index:     0,
		Timestamp: l.now().UTC(),
		Event:     EventGenesis,
		Actor:     "aigos-system",
		DataHash:  GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash,
	})
	return l
}

// WithClock overrides the ledger's clock; used by tests.
func (l *MemoryLedger) WithClock(now func() time.Time) *MemoryLedger {
	l.now = now
	return l
}

// RecordIssued implements Ledger.
func (l *MemoryLedger) RecordIssued(_ context.Context, certificateID, agentID, actor string, document []byte) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.append(certificateID, agentID, EventIssued, actor, "", sha256Sum(document))
	l.issued[certificateID] = true
	return entry, nil
}

// RecordRevoked implements Ledger.
func (l *MemoryLedger) RecordRevoked(_ context.Context, certificateID, agentID, actor, reason string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.append(certificateID, agentID, EventRevoked, actor, reason, GenesisHash)
	l.revoked[certificateID] = true
	return entry, nil
}

// append chains a new entry onto the tip. Caller holds the write lock.
func (l *MemoryLedger) append(certificateID, agentID string, event Event, actor, reason, dataHash string) *Entry {
	prev := l.entries[len(l.entries)-1]
	entry := &Entry{
		Index:         len(l.entries),
		Timestamp:     l.now().UTC(),
		CertificateID: certificateID,
		AgentID:       agentID,
		Event:         event,
		Actor:         actor,
		Reason:        reason,
		DataHash:      dataHash,
		PrevHash:      prev.Hash,
	}
	entry.Hash = hashEntry(entry)
	l.entries = append(l.entries, entry)
	return entry
}

// History implements Ledger.
func (l *MemoryLedger) History(_ context.Context, certificateID string) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Entry
	for _, e := range l.entries {
		if e.CertificateID == certificateID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Audit implements Ledger.
func (l *MemoryLedger) Audit(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return auditChain(l.entries)
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Hash, nil
}

// Status implements token.RevocationOracle. A certificate the ledger
// never saw issued is UNKNOWN rather than GOOD.
func (l *MemoryLedger) Status(_ context.Context, certificateID string) (token.RevocationStatus, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	switch {
	case l.revoked[certificateID]:
		return token.RevocationRevoked, nil
	case l.issued[certificateID]:
		return token.RevocationGood, nil
	default:
		return token.RevocationUnknown, nil
	}
}

// auditChain validates any ordered slice of entries against the chain
// invariants. Shared with the postgres implementation.
func auditChain(entries []*Entry) error {
	var prev *Entry
	for _, curr := range entries {
		if prev == nil {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			prev = curr
			continue
		}
		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
		prev = curr
	}
	return nil
}
