//go:build integration

package mongo

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"cogateway/ledger"
)

// TestClientAgainstRealMongo exercises New, Append, and List against an
// actual mongod instance started fresh via testcontainers-go's generic
// container API. Run with `go test -tags=integration ./...`; skipped
// otherwise since it needs a Docker daemon.
func TestClientAgainstRealMongo(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer func() { _ = container.Terminate(ctx) }()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017/tcp")
	require.NoError(t, err)

	uri := "mongodb://" + host + ":" + port.Port()
	mongoClient, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer func() { _ = mongoClient.Disconnect(ctx) }()

	c, err := New(Options{Client: mongoClient, Database: "cogateway_integration_test"})
	require.NoError(t, err)
	require.NoError(t, c.Ping(ctx))

	payload, err := json.Marshal(map[string]string{"query": "find a laptop"})
	require.NoError(t, err)

	require.NoError(t, c.Append(ctx, &ledger.Event{
		SessionID: "sess-1", TurnID: "turn-1", Type: ledger.EventTurnStarted,
		Payload: payload, Timestamp: time.Now(),
	}))
	require.NoError(t, c.Append(ctx, &ledger.Event{
		SessionID: "sess-1", TurnID: "turn-1", Type: ledger.EventTurnCompleted,
		Payload: payload, Timestamp: time.Now(),
	}))

	page, err := c.List(ctx, "turn-1", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.Equal(t, ledger.EventTurnStarted, page.Events[0].Type)
	require.Equal(t, ledger.EventTurnCompleted, page.Events[1].Type)
}
