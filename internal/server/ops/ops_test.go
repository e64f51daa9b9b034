package ops

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealth_FollowsProbes(t *testing.T) {
	t.Parallel()

	srv := New(zaptest.NewLogger(t))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis, time.Second) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := healthpb.NewHealthClient(conn)

	status := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)
		return resp.GetStatus()
	}
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status())

	ok := Check{Name: "db", Probe: func(context.Context) error { return nil }}
	require.NoError(t, srv.Probe(context.Background(), time.Second, ok))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, status())

	down := Check{Name: "redis", Probe: func(context.Context) error { return errors.New("down") }}
	require.Error(t, srv.Probe(context.Background(), time.Second, ok, down))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status())
}
