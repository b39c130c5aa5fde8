// Package grpcserver exposes the standard gRPC health service, reporting
// whether the directory and the reconciler are usable.
package grpcserver

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	ServiceDirectory  = "supporthub.Directory"
	ServiceReconciler = "supporthub.Reconciler"
)

// Probe reports whether a service can take requests.
type Probe func() bool

type Server struct {
	GRPC   *grpc.Server
	Health *health.Server
	Probes map[string]Probe

	log zerolog.Logger
}

func NewServer(probes map[string]Probe, log zerolog.Logger) *Server {
	hs := health.NewServer()
	gs := grpc.NewServer(grpc.UnaryInterceptor(logUnary(log)))
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{GRPC: gs, Health: hs, Probes: probes, log: log}
	s.refresh()
	return s
}

// Serve listens on addr until ctx is cancelled, polling probes every
// interval.
func (s *Server) Serve(ctx context.Context, addr string, interval time.Duration) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				s.Health.Shutdown()
				s.GRPC.GracefulStop()
				return
			case <-t.C:
				s.refresh()
			}
		}
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("grpc health listening")
	return s.GRPC.Serve(ln)
}

// refresh sets each probed service's status; the overall status ("") is
// serving only when every probe passes.
func (s *Server) refresh() {
	all := true
	for name, probe := range s.Probes {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if probe() {
			st = healthpb.HealthCheckResponse_SERVING
		} else {
			all = false
		}
		s.Health.SetServingStatus(name, st)
	}
	overall := healthpb.HealthCheckResponse_SERVING
	if !all {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.Health.SetServingStatus("", overall)
}

func logUnary(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		ev := log.Debug()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).Dur("took", time.Since(start)).Msg("grpc call")
		return resp, err
	}
}
