package grpc

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startHealthServer(t *testing.T, logger *zap.Logger) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv, _ := NewServer(logger)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)
	return lis
}

func dialer(lis *bufconn.Listener) grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func TestPool_ReusesConnection(t *testing.T) {
	lis := startHealthServer(t, zap.NewNop())
	p := NewPool()
	t.Cleanup(func() { p.Close() })

	var wg sync.WaitGroup
	conns := make([]*grpc.ClientConn, 10)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := p.GetConnection("passthrough:///bufnet", dialer(lis))
			if assert.NoError(t, err) {
				conns[i] = conn
			}
		}(i)
	}
	wg.Wait()

	for _, c := range conns[1:] {
		assert.Same(t, conns[0], c)
	}
}

func TestPool_ReconnectsAfterClose(t *testing.T) {
	lis := startHealthServer(t, zap.NewNop())
	p := NewPool()

	first, err := p.GetConnection("passthrough:///bufnet", dialer(lis))
	require.NoError(t, err)
	require.NoError(t, p.Close())

	second, err := p.GetConnection("passthrough:///bufnet", dialer(lis))
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	require.NoError(t, p.Close())
}

func TestPool_LogsCalls(t *testing.T) {
	serverCore, serverLogs := observer.New(zap.DebugLevel)
	clientCore, clientLogs := observer.New(zap.DebugLevel)
	lis := startHealthServer(t, zap.New(serverCore))

	p := NewPool(WithLogger(zap.New(clientCore)))
	t.Cleanup(func() { p.Close() })
	conn, err := p.GetConnection("passthrough:///bufnet", dialer(lis))
	require.NoError(t, err)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	require.Equal(t, 1, clientLogs.FilterMessage("grpc call").Len())
	entry := clientLogs.FilterMessage("grpc call").All()[0]
	assert.Equal(t, "/grpc.health.v1.Health/Check", entry.ContextMap()["method"])
	assert.Equal(t, 1, serverLogs.FilterMessage("grpc request").Len())
}
