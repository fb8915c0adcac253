// Package mongo wires ledger.Store to a MongoDB-backed client, grounded on
// features/runlog/mongo's store-wraps-client layering.
package mongo

import (
	"context"
	"errors"

	clientsmongo "cogateway/ledger/mongo/clients/mongo"
	"cogateway/ledger"
)

// Store implements ledger.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed ledger store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("ledger/mongo: client is required")
	}
	return &Store{client: client}, nil
}

// Append implements ledger.Store.
func (s *Store) Append(ctx context.Context, e *ledger.Event) error {
	return s.client.Append(ctx, e)
}

// List implements ledger.Store.
func (s *Store) List(ctx context.Context, turnID string, cursor string, limit int) (ledger.Page, error) {
	return s.client.List(ctx, turnID, cursor, limit)
}
