//go:build integration

package redis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestNotifier_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := NewClient(ctx, startRedis(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	n := NewNotifier(client, "scoring-weights", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, n.HealthCheck(ctx))

	subCtx, subCancel := context.WithCancel(ctx)
	ch, err := n.Subscribe(subCtx)
	require.NoError(t, err)

	require.NoError(t, n.Publish(ctx, "v7"))

	select {
	case v := <-ch:
		assert.Equal(t, "v7", v)
	case <-ctx.Done():
		t.Fatal("no notification received")
	}

	subCancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, 5*time.Second, 10*time.Millisecond, "channel closes after cancel")
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := NewClient(context.Background(), "not-a-url")
	assert.Error(t, err)
}
