package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// natsImage is the server image used by integration tests
const natsImage = "nats:2.11.7-alpine"

// TestClient is a throwaway NATS server plus a client connected to it
type TestClient struct {
	Client *Client
	URL    string
}

// startServer runs natsImage and returns its client URL and a stop function
func startServer(ctx context.Context) (string, func(), error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        natsImage,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          []string{"--port", "4222", "--http_port", "8222"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/healthz").WithPort("8222/tcp"),
			).WithDeadline(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("start NATS container: %w", err)
	}
	stop := func() { _ = container.Terminate(context.Background()) }

	endpoint, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		stop()
		return "", nil, fmt.Errorf("resolve NATS endpoint: %w", err)
	}
	return endpoint, stop, nil
}

// NewTestClient starts a server, connects a client and registers cleanup with t
func NewTestClient(t testing.TB) *TestClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	url, stop, err := startServer(ctx)
	if err != nil {
		t.Fatalf("%v", err)
	}
	t.Cleanup(stop)

	client, err := NewClient(url, WithConnectTimeout(5*time.Second), WithReconnect(0, 0), WithName(t.Name()))
	if err != nil {
		t.Fatalf("create NATS client: %v", err)
	}
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect to NATS: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	return &TestClient{Client: client, URL: url}
}
