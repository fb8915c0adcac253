// Package inmem provides an in-memory implementation of claims.Store and
// claims.TopicIndex, following the mutex-guarded map-of-slices shape used by
// ledger/inmem and runlog/inmem. Intended for tests and the default
// in-process deployment; not durable.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cogateway/claims"
	"cogateway/embedding"
)

// Store implements claims.Store in memory.
type Store struct {
	mu   sync.Mutex
	rows map[string]claims.ClaimRow // by ClaimID
}

// New returns a new in-memory claim registry.
func New() *Store {
	return &Store{rows: make(map[string]claims.ClaimRow)}
}

// Upsert implements claims.Store.
func (s *Store) Upsert(_ context.Context, row claims.ClaimRow) error {
	if row.ClaimID == "" {
		return fmt.Errorf("claims: claim_id is required")
	}
	if row.TTLSeconds == 0 {
		row.TTLSeconds = int(row.Confidence.TTL().Seconds())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rows[row.ClaimID]
	if !ok {
		s.rows[row.ClaimID] = row
		return nil
	}

	merged := existing
	merged.EvidenceHandles = mergeEvidence(existing.EvidenceHandles, row.EvidenceHandles)
	if row.LastVerified.After(existing.LastVerified) {
		merged.LastVerified = row.LastVerified
		merged.Statement = row.Statement
		merged.Confidence = row.Confidence
		merged.TTLSeconds = row.TTLSeconds
		merged.Embedding = row.Embedding
	}
	s.rows[row.ClaimID] = merged
	return nil
}

func mergeEvidence(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, h := range append(append([]string{}, a...), b...) {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// GetByTopic implements claims.Store.
func (s *Store) GetByTopic(_ context.Context, topicID string, limit int) ([]claims.ClaimRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []claims.ClaimRow
	for _, row := range s.rows {
		if row.TopicID == topicID && !row.Deprecated {
			matched = append(matched, row)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].QualityComposite() > matched[j].QualityComposite()
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// MarkReused implements claims.Store.
func (s *Store) MarkReused(_ context.Context, claimID string, wasHelpful bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[claimID]
	if !ok {
		return fmt.Errorf("claims: claim %q not found", claimID)
	}
	row.TimesReused++
	if wasHelpful {
		row.TimesHelpful++
	}
	if row.TimesReused > 0 {
		row.UserFeedbackScore = float64(row.TimesHelpful) / float64(row.TimesReused)
	}
	if row.QualityComposite() < 0.30 {
		row.Deprecated = true
	}
	s.rows[claimID] = row
	return nil
}

// Get implements claims.Store.
func (s *Store) Get(_ context.Context, claimID string) (claims.ClaimRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[claimID]
	return row, ok, nil
}

// TopicIndex implements claims.TopicIndex in memory.
type TopicIndex struct {
	mu       sync.Mutex
	nodes    map[string]claims.TopicNode
	embedder embedding.Embedder
	store    *Store
}

// NewTopicIndex returns a new in-memory topic index. store is consulted for
// per-topic claim counts in SearchByQuery results.
func NewTopicIndex(embedder embedding.Embedder, store *Store) *TopicIndex {
	return &TopicIndex{
		nodes:    make(map[string]claims.TopicNode),
		embedder: embedder,
		store:    store,
	}
}

// Upsert implements claims.TopicIndex.
func (t *TopicIndex) Upsert(_ context.Context, node claims.TopicNode) error {
	if node.TopicID == "" {
		return fmt.Errorf("claims: topic_id is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[node.TopicID] = node
	return nil
}

// Get implements claims.TopicIndex.
func (t *TopicIndex) Get(_ context.Context, topicID string) (claims.TopicNode, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[topicID]
	return n, ok, nil
}

// ResolveInheritance implements claims.TopicIndex.
func (t *TopicIndex) ResolveInheritance(ctx context.Context, topicID string) (claims.TopicNode, error) {
	t.mu.Lock()
	node, ok := t.nodes[topicID]
	t.mu.Unlock()
	if !ok {
		return claims.TopicNode{}, fmt.Errorf("claims: topic %q not found", topicID)
	}

	resolved := node
	retailers := append([]string{}, node.Retailers...)
	specs := make(map[string]string, len(node.Specs))
	for k, v := range node.Specs {
		specs[k] = v
	}
	price := node.Price

	cur := node
	for cur.ParentID != "" {
		t.mu.Lock()
		parent, ok := t.nodes[cur.ParentID]
		t.mu.Unlock()
		if !ok {
			break
		}
		retailers = unionStrings(retailers, parent.Retailers)
		for k, v := range parent.Specs {
			if _, exists := specs[k]; !exists {
				specs[k] = v
			}
		}
		if !price.Set && parent.Price.Set {
			price = parent.Price
		}
		cur = parent
	}

	resolved.Retailers = retailers
	resolved.Specs = specs
	resolved.Price = price
	return resolved, nil
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := append([]string{}, a...)
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// SearchByQuery implements claims.TopicIndex.
func (t *TopicIndex) SearchByQuery(ctx context.Context, text, sessionID string, minSimilarity float64) ([]claims.TopicMatch, error) {
	queryVec, err := t.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("claims: embed query: %w", err)
	}

	t.mu.Lock()
	nodes := make([]claims.TopicNode, 0, len(t.nodes))
	for _, n := range t.nodes {
		nodes = append(nodes, n)
	}
	t.mu.Unlock()

	var matches []claims.TopicMatch
	for _, n := range nodes {
		sim := embedding.CosineSimilarity(queryVec, n.Embedding)
		if sim < minSimilarity {
			continue
		}
		count := 0
		if t.store != nil {
			rows, _ := t.store.GetByTopic(ctx, n.TopicID, 0)
			count = len(rows)
		}
		matches = append(matches, claims.TopicMatch{
			TopicID:    n.TopicID,
			TopicName:  n.TopicName,
			Similarity: sim,
			ClaimCount: count,
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	return matches, nil
}
