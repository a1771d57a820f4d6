package policy

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Criteria describe the asset a policy is being selected for.
type Criteria struct {
	AssetID   string
	RiskLevel string
	Mode      string
	Tags      []string
	Env       string
}

// cacheKey builds the selection cache key from the criteria. Tags are
// sorted so equivalent criteria always map to the same key.
func (c Criteria) cacheKey() string {
	tags := append([]string(nil), c.Tags...)
	sort.Strings(tags)
	return strings.Join([]string{c.AssetID, c.RiskLevel, c.Mode, strings.Join(tags, ","), c.Env}, "|")
}

// Selection is the outcome of scoring candidate policies for an asset.
// Note the contrast with action-rule matching in the trust evaluator:
// selection is score-then-document-order, while action rules are strictly
// first-match in document order.
type Selection struct {
	Policy  *Document `json:"policy"`
	Score   int       `json:"score"`
	Default bool      `json:"default"`
}

// Selector scores and caches policy selections over an ordered candidate
// list. Candidates keep their authoring order so that score ties break
// deterministically in favour of the earlier document.
type Selector struct {
	candidates []*Document
	repo       Repository
	fallback   *Document
	cache      *selectionCache
	logger     *zap.Logger
}

// NewSelector creates a Selector over candidates in document order.
// fallback may be nil; cacheCapacity ≤ 0 selects the default (100).
func NewSelector(candidates []*Document, repo Repository, fallback *Document, cacheCapacity int, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		candidates: candidates,
		repo:       repo,
		fallback:   fallback,
		cache:      newSelectionCache(cacheCapacity),
		logger:     logger,
	}
}

// Select picks the highest-scoring applicable policy for the criteria,
// resolving its inheritance chain first. Ties break by document order.
// When no candidate applies the fallback is returned with Default=true.
func (s *Selector) Select(criteria Criteria) (*Selection, error) {
	key := criteria.cacheKey()
	if sel, ok := s.cache.get(key); ok {
		return sel, nil
	}

	var best *Selection
	for _, cand := range s.candidates {
		resolved, err := Resolve(cand.ID, s.repo)
		if err != nil {
			return nil, err
		}
		doc := resolved.Policy
		if !matchesAsset(doc.effectiveAppliesTo(), criteria.AssetID) {
			continue
		}
		score := scoreCandidate(doc, criteria)
		// Strict > keeps the earlier document on ties.
		if best == nil || score > best.Score {
			best = &Selection{Policy: doc, Score: score}
		}
	}

	if best == nil {
		best = &Selection{Policy: s.fallback, Default: true}
	}
	s.cache.put(key, best)

	s.logger.Debug("policy selected",
		zap.String("asset_id", criteria.AssetID),
		zap.Int("score", best.Score),
		zap.Bool("default", best.Default))
	return best, nil
}

// scoreCandidate implements the selection formula:
// 100·[explicit asset match] + 50·[risk-level condition matches] +
// 10·|tags ∩ criteria.tags| + max rule priority.
func scoreCandidate(doc *Document, criteria Criteria) int {
	score := 0
	if explicitAssetMatch(doc.effectiveAppliesTo(), criteria.AssetID) {
		score += 100
	}
	if criteria.RiskLevel != "" {
		for _, rl := range doc.RiskLevels {
			if rl == criteria.RiskLevel {
				score += 50
				break
			}
		}
	}
	if len(criteria.Tags) > 0 && len(doc.Tags) > 0 {
		want := make(map[string]bool, len(criteria.Tags))
		for _, t := range criteria.Tags {
			want[t] = true
		}
		for _, t := range doc.Tags {
			if want[t] {
				score += 10
			}
		}
	}
	maxPriority := 0
	for _, r := range doc.Rules {
		if r.Priority > maxPriority {
			maxPriority = r.Priority
		}
	}
	return score + maxPriority
}

// CacheLen exposes the number of cached selections, for metrics.
func (s *Selector) CacheLen() int { return s.cache.len() }

// InvalidateCache empties the selection cache; call after swapping the
// candidate set.
func (s *Selector) InvalidateCache() { s.cache.purge() }
