package grpcserver

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func status(t *testing.T, s *Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.Health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestProbesDriveHealth(t *testing.T) {
	var dbUp atomic.Bool
	dbUp.Store(true)
	s := NewServer(map[string]Probe{
		ServiceDirectory:  dbUp.Load,
		ServiceReconciler: func() bool { return true },
	}, zerolog.Nop())

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, s, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, s, ServiceDirectory))

	dbUp.Store(false)
	s.refresh()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, s, ServiceDirectory))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, s, ServiceReconciler))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, s, ""))
}

func TestServeStopsWithContext(t *testing.T) {
	s := NewServer(nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "127.0.0.1:0", 0) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
