package claims

import "context"

// PriceRange bounds a topic's price expectations. Children may narrow or
// override the range inherited from ancestors.
type PriceRange struct {
	Min float64
	Max float64
	Set bool
}

// TopicNode is one node in the topic forest (C4). Each node carries its own
// embedding plus the retailer list, price range, and specs it introduces;
// inherited values are resolved on demand via ResolveInheritance.
type TopicNode struct {
	TopicID   string
	ParentID  string // empty for roots
	TopicName string
	Embedding []float32

	Retailers []string
	Price     PriceRange
	Specs     map[string]string
}

// TopicMatch is a ranked result from SearchByQuery.
type TopicMatch struct {
	TopicID    string
	TopicName  string
	Similarity float64
	ClaimCount int
}

// TopicIndex stores the topic forest and supports inheritance resolution and
// embedding-based topic search.
type TopicIndex interface {
	// Upsert inserts or replaces a topic node.
	Upsert(ctx context.Context, node TopicNode) error

	// Get fetches a topic node by ID.
	Get(ctx context.Context, topicID string) (TopicNode, bool, error)

	// ResolveInheritance walks topicID's ancestors, unioning retailers and
	// specs and preferring the most specific (nearest-descendant) price
	// range that is set.
	ResolveInheritance(ctx context.Context, topicID string) (TopicNode, error)

	// SearchByQuery embeds text and returns topics ranked by cosine
	// similarity to the query embedding, restricted to minSimilarity and
	// above, annotated with each topic's count of non-deprecated claims.
	// sessionID filters neither the topics nor the claim counts.
	SearchByQuery(ctx context.Context, text, sessionID string, minSimilarity float64) ([]TopicMatch, error)
}
