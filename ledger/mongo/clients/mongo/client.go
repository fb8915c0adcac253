// Package mongo implements the low-level MongoDB client used by the session
// ledger store, adapted from features/runlog/mongo/clients/mongo to the v2
// driver and to ledger.Event's turn-scoped shape.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"cogateway/ledger"
)

type (
	// Client exposes Mongo-backed operations for the session ledger.
	Client interface {
		Ping(ctx context.Context) error
		Append(ctx context.Context, e *ledger.Event) error
		List(ctx context.Context, turnID string, cursor string, limit int) (ledger.Page, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	eventDocument struct {
		ID        bson.ObjectID `bson:"_id,omitempty"`
		SessionID string        `bson:"session_id"`
		TurnID    string        `bson:"turn_id"`
		Type      string        `bson:"type"`
		Payload   []byte        `bson:"payload"`
		Timestamp time.Time     `bson:"timestamp"`
	}
)

const (
	defaultCollection = "gateway_ledger_events"
	defaultTimeout    = 5 * time.Second
)

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("ledger/mongo: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("ledger/mongo: database name is required")
	}
	coll := opts.Collection
	if coll == "" {
		coll = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	mcoll := opts.Client.Database(opts.Database).Collection(coll)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := ensureIndexes(ctx, mcoll); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, coll: mcoll, timeout: timeout}, nil
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Append(ctx context.Context, e *ledger.Event) error {
	if e == nil {
		return errors.New("ledger/mongo: event is required")
	}
	if e.TurnID == "" {
		return errors.New("ledger/mongo: turn_id is required")
	}
	if e.Type == "" {
		return errors.New("ledger/mongo: event type is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("ledger/mongo: timestamp is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := eventDocument{
		SessionID: e.SessionID,
		TurnID:    e.TurnID,
		Type:      string(e.Type),
		Payload:   append([]byte(nil), e.Payload...),
		Timestamp: e.Timestamp.UTC(),
	}
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return err
	}
	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return fmt.Errorf("ledger/mongo: unexpected inserted id type %T", res.InsertedID)
	}
	e.ID = oid.Hex()
	return nil
}

func (c *client) List(ctx context.Context, turnID string, cursor string, limit int) (ledger.Page, error) {
	if turnID == "" {
		return ledger.Page{}, errors.New("ledger/mongo: turn_id is required")
	}
	if limit <= 0 {
		return ledger.Page{}, errors.New("ledger/mongo: limit must be > 0")
	}

	filter := bson.M{"turn_id": turnID}
	if cursor != "" {
		oid, err := bson.ObjectIDFromHex(cursor)
		if err != nil {
			return ledger.Page{}, fmt.Errorf("ledger/mongo: invalid cursor %q: %w", cursor, err)
		}
		filter["_id"] = bson.M{"$gt": oid}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit+1)),
	)
	if err != nil {
		return ledger.Page{}, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var events []*ledger.Event
	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return ledger.Page{}, err
		}
		events = append(events, &ledger.Event{
			ID:        doc.ID.Hex(),
			SessionID: doc.SessionID,
			TurnID:    doc.TurnID,
			Type:      ledger.EventType(doc.Type),
			Payload:   append([]byte(nil), doc.Payload...),
			Timestamp: doc.Timestamp,
		})
	}
	if err := cur.Err(); err != nil {
		return ledger.Page{}, err
	}

	var next string
	if len(events) > limit {
		next = events[limit-1].ID
		events = events[:limit]
	}
	return ledger.Page{Events: events, NextCursor: next}, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "turn_id", Value: 1},
			{Key: "_id", Value: 1},
		},
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error)
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongodriver.Cursor, error)
	Indexes() mongodriver.IndexView
}
