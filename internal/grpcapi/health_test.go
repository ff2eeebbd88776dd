package grpcapi_test

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/Tharunya07/EMEC-AMS/internal/grpcapi"
)

type fakeConn struct {
	mu      sync.Mutex
	online  bool
	watcher func(bool)
}

func (f *fakeConn) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeConn) OnConnectivity(fn func(bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watcher = fn
}

func (f *fakeConn) flip(online bool) {
	f.mu.Lock()
	f.online = online
	fn := f.watcher
	f.mu.Unlock()
	fn(online)
}

func startHealth(t *testing.T, conn *fakeConn) healthpb.HealthClient {
	t.Helper()

	lis := bufconn.Listen(1 << 16)
	srv := grpcapi.NewServer("", conn, zap.NewNop())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return healthpb.NewHealthClient(cc)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealth_TracksConnectivity(t *testing.T) {
	conn := &fakeConn{online: false}
	client := startHealth(t, conn)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, grpcapi.SyncService))

	conn.flip(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, grpcapi.SyncService))

	conn.flip(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, grpcapi.SyncService))
}

func TestHealth_StartsOnlineWhenReachable(t *testing.T) {
	client := startHealth(t, &fakeConn{online: true})
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, grpcapi.SyncService))
}
