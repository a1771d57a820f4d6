package policy

import (
	"github.com/aigos-io/aigos/internal/aigerr"
)

// maxInheritanceDepth caps the extends chain length.
const maxInheritanceDepth = 10

// Resolved is a fully merged policy plus the chain it was built from.
type Resolved struct {
	// Policy is the merged document. Its ID is the originally requested id.
	Policy *Document
	// Chain lists the contributing documents root-first. Every entry is
	// distinct.
	Chain []string
}

// Resolve walks the extends chain of id root-first and merges each node
// onto its parent. Fails with PolicyNotFound when a referenced document is
// missing, CircularInheritance when the chain revisits a node, and
// MaxDepthExceeded past 10 levels.
func Resolve(id string, repo Repository) (*Resolved, error) {
	chain, err := inheritanceChain(id, repo)
	if err != nil {
		return nil, err
	}

	merged := chain[0]
	for _, node := range chain[1:] {
		merged = merge(merged, node)
	}

	// Preserve the originally requested identity on the merged result.
	out := *merged
	out.ID = id
	out.Extends = ""

	ids := make([]string, len(chain))
	for i, d := range chain {
		ids[i] = d.ID
	}
	return &Resolved{Policy: &out, Chain: ids}, nil
}

// inheritanceChain returns the documents from root to the requested leaf.
func inheritanceChain(id string, repo Repository) ([]*Document, error) {
	var reversed []*Document
	seen := make(map[string]bool)

	current := id
	for depth := 0; current != ""; depth++ {
		if depth >= maxInheritanceDepth {
			return nil, aigerr.New(aigerr.MaxDepthExceeded,
				"policy inheritance chain for %q exceeds %d levels", id, maxInheritanceDepth)
		}
		if seen[current] {
			return nil, aigerr.New(aigerr.CircularInheritance,
				"policy %q participates in an inheritance cycle via %q", id, current)
		}
		seen[current] = true

		doc, ok := repo.Get(current)
		if !ok {
			return nil, aigerr.New(aigerr.PolicyNotFound, "policy %q not found", current)
		}
		reversed = append(reversed, doc)
		current = doc.Extends
	}

	// reversed is leaf-first; flip to root-first.
	chain := make([]*Document, len(reversed))
	for i, d := range reversed {
		chain[len(reversed)-1-i] = d
	}
	return chain, nil
}
