package probe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startProbe(t *testing.T, check CheckFunc) (*Server, healthpb.HealthClient) {
	t.Helper()

	s, err := Start(Config{Addr: "127.0.0.1:0", Check: check, Interval: 10 * time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient(s.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return s, healthpb.NewHealthClient(conn)
}

func status(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q) failed: %v", service, err)
	}
	return resp.GetStatus()
}

func TestProbeServing(t *testing.T) {
	_, client := startProbe(t, nil)

	for _, svc := range []string{"", ServiceName} {
		if got := status(t, client, svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("Check(%q) = %v, want SERVING", svc, got)
		}
	}
}

func TestProbeFollowsCheck(t *testing.T) {
	var failing atomic.Bool
	_, client := startProbe(t, func(context.Context) error {
		if failing.Load() {
			return errors.New("database unreachable")
		}
		return nil
	})

	if got := status(t, client, ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", got)
	}

	failing.Store(true)
	deadline := time.Now().Add(2 * time.Second)
	for status(t, client, ServiceName) != healthpb.HealthCheckResponse_NOT_SERVING {
		if time.Now().After(deadline) {
			t.Fatal("probe never reported NOT_SERVING")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
