// Package mongo implements the low-level MongoDB client backing the claim
// registry and topic index, adapted from ledger/mongo/clients/mongo's client
// shape (itself adapted from features/runlog/mongo/clients/mongo) to
// claims.ClaimRow and claims.TopicNode.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"cogateway/claims"
)

type (
	// Client exposes Mongo-backed operations for claims.Store and
	// claims.TopicIndex.
	Client interface {
		Ping(ctx context.Context) error

		UpsertClaim(ctx context.Context, row claims.ClaimRow) error
		GetClaim(ctx context.Context, claimID string) (claims.ClaimRow, bool, error)
		ClaimsByTopic(ctx context.Context, topicID string, limit int) ([]claims.ClaimRow, error)
		UpdateClaimReuse(ctx context.Context, claimID string, row claims.ClaimRow) error

		UpsertTopic(ctx context.Context, node claims.TopicNode) error
		GetTopic(ctx context.Context, topicID string) (claims.TopicNode, bool, error)
		AllTopics(ctx context.Context) ([]claims.TopicNode, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client          *mongodriver.Client
		Database        string
		ClaimCollection string
		TopicCollection string
		Timeout         time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		claims  collection
		topics  collection
		timeout time.Duration
	}
)

const (
	defaultClaimCollection = "gateway_claims"
	defaultTopicCollection = "gateway_topics"
	defaultTimeout         = 5 * time.Second
)

type claimDocument struct {
	ID                string    `bson:"_id"`
	SessionID         string    `bson:"session_id"`
	TopicID           string    `bson:"topic_id"`
	ClaimType         string    `bson:"claim_type"`
	Statement         string    `bson:"statement"`
	EvidenceHandles   []string  `bson:"evidence_handles"`
	Confidence        string    `bson:"confidence"`
	Embedding         []float32 `bson:"embedding"`
	LastVerified      time.Time `bson:"last_verified"`
	TTLSeconds        int       `bson:"ttl_seconds"`
	TimesReused       int       `bson:"times_reused"`
	TimesHelpful      int       `bson:"times_helpful"`
	UserFeedbackScore float64   `bson:"user_feedback_score"`
	Deprecated        bool      `bson:"deprecated"`
	IntentAlignment   float64   `bson:"intent_alignment"`
	EvidenceStrength  float64   `bson:"evidence_strength"`
}

func toClaimDocument(row claims.ClaimRow) claimDocument {
	return claimDocument{
		ID:                row.ClaimID,
		SessionID:         row.SessionID,
		TopicID:           row.TopicID,
		ClaimType:         string(row.ClaimType),
		Statement:         row.Statement,
		EvidenceHandles:   row.EvidenceHandles,
		Confidence:        string(row.Confidence),
		Embedding:         row.Embedding,
		LastVerified:      row.LastVerified.UTC(),
		TTLSeconds:        row.TTLSeconds,
		TimesReused:       row.TimesReused,
		TimesHelpful:      row.TimesHelpful,
		UserFeedbackScore: row.UserFeedbackScore,
		Deprecated:        row.Deprecated,
		IntentAlignment:   row.IntentAlignment,
		EvidenceStrength:  row.EvidenceStrength,
	}
}

func (d claimDocument) toClaimRow() claims.ClaimRow {
	return claims.ClaimRow{
		ClaimID:           d.ID,
		SessionID:         d.SessionID,
		TopicID:           d.TopicID,
		ClaimType:         claims.ClaimType(d.ClaimType),
		Statement:         d.Statement,
		EvidenceHandles:   d.EvidenceHandles,
		Confidence:        claims.Confidence(d.Confidence),
		Embedding:         d.Embedding,
		LastVerified:      d.LastVerified,
		TTLSeconds:        d.TTLSeconds,
		TimesReused:       d.TimesReused,
		TimesHelpful:      d.TimesHelpful,
		UserFeedbackScore: d.UserFeedbackScore,
		Deprecated:        d.Deprecated,
		IntentAlignment:   d.IntentAlignment,
		EvidenceStrength:  d.EvidenceStrength,
	}
}

type topicDocument struct {
	ID        string            `bson:"_id"`
	ParentID  string            `bson:"parent_id"`
	TopicName string            `bson:"topic_name"`
	Embedding []float32         `bson:"embedding"`
	Retailers []string          `bson:"retailers"`
	PriceMin  float64           `bson:"price_min"`
	PriceMax  float64           `bson:"price_max"`
	PriceSet  bool              `bson:"price_set"`
	Specs     map[string]string `bson:"specs"`
}

func toTopicDocument(node claims.TopicNode) topicDocument {
	return topicDocument{
		ID:        node.TopicID,
		ParentID:  node.ParentID,
		TopicName: node.TopicName,
		Embedding: node.Embedding,
		Retailers: node.Retailers,
		PriceMin:  node.Price.Min,
		PriceMax:  node.Price.Max,
		PriceSet:  node.Price.Set,
		Specs:     node.Specs,
	}
}

func (d topicDocument) toTopicNode() claims.TopicNode {
	return claims.TopicNode{
		TopicID:   d.ID,
		ParentID:  d.ParentID,
		TopicName: d.TopicName,
		Embedding: d.Embedding,
		Retailers: d.Retailers,
		Price:     claims.PriceRange{Min: d.PriceMin, Max: d.PriceMax, Set: d.PriceSet},
		Specs:     d.Specs,
	}
}

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("claims/mongo: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("claims/mongo: database name is required")
	}
	claimColl := opts.ClaimCollection
	if claimColl == "" {
		claimColl = defaultClaimCollection
	}
	topicColl := opts.TopicCollection
	if topicColl == "" {
		topicColl = defaultTopicCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	claimsColl := db.Collection(claimColl)
	topicsColl := db.Collection(topicColl)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureClaimIndexes(ctx, claimsColl); err != nil {
		return nil, err
	}

	return &client{mongo: opts.Client, claims: claimsColl, topics: topicsColl, timeout: timeout}, nil
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *client) UpsertClaim(ctx context.Context, row claims.ClaimRow) error {
	if row.ClaimID == "" {
		return errors.New("claims/mongo: claim_id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := toClaimDocument(row)
	_, err := c.claims.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (c *client) GetClaim(ctx context.Context, claimID string) (claims.ClaimRow, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc claimDocument
	err := c.claims.FindOne(ctx, bson.M{"_id": claimID}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return claims.ClaimRow{}, false, nil
	}
	if err != nil {
		return claims.ClaimRow{}, false, err
	}
	return doc.toClaimRow(), true, nil
}

func (c *client) ClaimsByTopic(ctx context.Context, topicID string, limit int) ([]claims.ClaimRow, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	findOpts := options.Find()
	if limit > 0 {
		findOpts = findOpts.SetLimit(int64(limit))
	}
	cur, err := c.claims.Find(ctx, bson.M{"topic_id": topicID, "deprecated": false}, findOpts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var rows []claims.ClaimRow
	for cur.Next(ctx) {
		var doc claimDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		rows = append(rows, doc.toClaimRow())
	}
	return rows, cur.Err()
}

func (c *client) UpdateClaimReuse(ctx context.Context, claimID string, row claims.ClaimRow) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"times_reused":        row.TimesReused,
		"times_helpful":       row.TimesHelpful,
		"user_feedback_score": row.UserFeedbackScore,
		"deprecated":          row.Deprecated,
	}}
	_, err := c.claims.UpdateOne(ctx, bson.M{"_id": claimID}, update)
	return err
}

func (c *client) UpsertTopic(ctx context.Context, node claims.TopicNode) error {
	if node.TopicID == "" {
		return errors.New("claims/mongo: topic_id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := toTopicDocument(node)
	_, err := c.topics.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (c *client) GetTopic(ctx context.Context, topicID string) (claims.TopicNode, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc topicDocument
	err := c.topics.FindOne(ctx, bson.M{"_id": topicID}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return claims.TopicNode{}, false, nil
	}
	if err != nil {
		return claims.TopicNode{}, false, err
	}
	return doc.toTopicNode(), true, nil
}

func (c *client) AllTopics(ctx context.Context) ([]claims.TopicNode, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.topics.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var nodes []claims.TopicNode
	for cur.Next(ctx) {
		var doc topicDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		nodes = append(nodes, doc.toTopicNode())
	}
	return nodes, cur.Err()
}

func ensureClaimIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "topic_id", Value: 1},
			{Key: "deprecated", Value: 1},
		},
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

type collection interface {
	ReplaceOne(ctx context.Context, filter, replacement any, opts ...options.Lister[options.ReplaceOptions]) (*mongodriver.UpdateResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongodriver.SingleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongodriver.Cursor, error)
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() mongodriver.IndexView
}
