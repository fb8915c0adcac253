// Package mongo wires claims.Store and claims.TopicIndex to a MongoDB-backed
// client, grounded on ledger/mongo's store-wraps-client layering. Unlike the
// ledger store, the business rules (evidence merge, TTL defaulting,
// quality-driven deprecation, inheritance resolution) live here rather than
// in the client, since they require read-then-write sequencing the client
// itself doesn't perform.
package mongo

import (
	"context"
	"errors"
	"sort"

	clientsmongo "cogateway/claims/mongo/clients/mongo"
	"cogateway/claims"
	"cogateway/embedding"
)

// Store implements claims.Store by delegating persistence to the Mongo
// client while applying dedup/TTL/quality business rules here.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed claim registry using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("claims/mongo: client is required")
	}
	return &Store{client: client}, nil
}

// Upsert implements claims.Store.
func (s *Store) Upsert(ctx context.Context, row claims.ClaimRow) error {
	if row.ClaimID == "" {
		return errors.New("claims: claim_id is required")
	}
	if row.TTLSeconds == 0 {
		row.TTLSeconds = int(row.Confidence.TTL().Seconds())
	}

	existing, ok, err := s.client.GetClaim(ctx, row.ClaimID)
	if err != nil {
		return err
	}
	if !ok {
		return s.client.UpsertClaim(ctx, row)
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
	return s.client.UpsertClaim(ctx, merged)
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
func (s *Store) GetByTopic(ctx context.Context, topicID string, limit int) ([]claims.ClaimRow, error) {
	rows, err := s.client.ClaimsByTopic(ctx, topicID, 0)
	if err != nil {
		return nil, err
	}
	sortByQuality(rows)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func sortByQuality(rows []claims.ClaimRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].QualityComposite() > rows[j].QualityComposite() })
}

// MarkReused implements claims.Store.
func (s *Store) MarkReused(ctx context.Context, claimID string, wasHelpful bool) error {
	row, ok, err := s.client.GetClaim(ctx, claimID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("claims: claim not found")
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
	return s.client.UpdateClaimReuse(ctx, claimID, row)
}

// Get implements claims.Store.
func (s *Store) Get(ctx context.Context, claimID string) (claims.ClaimRow, bool, error) {
	return s.client.GetClaim(ctx, claimID)
}

// TopicIndex implements claims.TopicIndex by delegating persistence to the
// Mongo client and resolving inheritance and search in-process.
type TopicIndex struct {
	client   clientsmongo.Client
	embedder embedding.Embedder
	store    *Store
}

// NewTopicIndex builds a Mongo-backed topic index. store, if non-nil, is
// consulted for per-topic claim counts in SearchByQuery results.
func NewTopicIndex(client clientsmongo.Client, embedder embedding.Embedder, store *Store) (*TopicIndex, error) {
	if client == nil {
		return nil, errors.New("claims/mongo: client is required")
	}
	if embedder == nil {
		return nil, errors.New("claims/mongo: embedder is required")
	}
	return &TopicIndex{client: client, embedder: embedder, store: store}, nil
}

// Upsert implements claims.TopicIndex.
func (t *TopicIndex) Upsert(ctx context.Context, node claims.TopicNode) error {
	return t.client.UpsertTopic(ctx, node)
}

// Get implements claims.TopicIndex.
func (t *TopicIndex) Get(ctx context.Context, topicID string) (claims.TopicNode, bool, error) {
	return t.client.GetTopic(ctx, topicID)
}

// ResolveInheritance implements claims.TopicIndex.
func (t *TopicIndex) ResolveInheritance(ctx context.Context, topicID string) (claims.TopicNode, error) {
	node, ok, err := t.client.GetTopic(ctx, topicID)
	if err != nil {
		return claims.TopicNode{}, err
	}
	if !ok {
		return claims.TopicNode{}, errors.New("claims: topic not found")
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
		parent, ok, err := t.client.GetTopic(ctx, cur.ParentID)
		if err != nil {
			return claims.TopicNode{}, err
		}
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
		return nil, err
	}

	nodes, err := t.client.AllTopics(ctx)
	if err != nil {
		return nil, err
	}

	var matches []claims.TopicMatch
	for _, n := range nodes {
		sim := embedding.CosineSimilarity(queryVec, n.Embedding)
		if sim < minSimilarity {
			continue
		}
		count := 0
		if t.store != nil {
			rows, err := t.store.GetByTopic(ctx, n.TopicID, 0)
			if err == nil {
				count = len(rows)
			}
		}
		matches = append(matches, claims.TopicMatch{
			TopicID:    n.TopicID,
			TopicName:  n.TopicName,
			Similarity: sim,
			ClaimCount: count,
		})
	}
	sortMatchesBySimilarity(matches)
	return matches, nil
}

func sortMatchesBySimilarity(matches []claims.TopicMatch) {
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
}
