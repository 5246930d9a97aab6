package server_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nupi-ai/warp/internal/eventbus"
	"github.com/nupi-ai/warp/internal/server"
	"github.com/nupi-ai/warp/internal/session"
)

type statusStub struct {
	mu sync.Mutex
	st session.Status
}

func (s *statusStub) Status() session.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

func (s *statusStub) set(connected, authenticated bool) {
	s.mu.Lock()
	s.st.Connection.Connected = connected
	s.st.Connection.Authenticated = authenticated
	s.mu.Unlock()
}

func startServer(t *testing.T, status *statusStub, bus *eventbus.Bus, opts server.Options) (*server.Server, *server.Info) {
	t.Helper()
	srv := server.New(status, bus, opts)
	info, err := srv.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, info
}

func healthClient(t *testing.T, target string) healthpb.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("check %q: %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealthFollowsTransportEvents(t *testing.T) {
	status := &statusStub{}
	bus := eventbus.New()
	_, info := startServer(t, status, bus, server.Options{HealthAddress: "127.0.0.1:0"})
	client := healthClient(t, info.HealthAddress)

	if got := check(t, client, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before connect, got %v", got)
	}

	status.set(true, false)
	bus.Emit(eventbus.SourceTransport, eventbus.ConnectedEvent{URL: "ws://example"})
	if got := check(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING after connect, got %v", got)
	}
	if got := check(t, client, "warp.transport"); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected transport SERVING, got %v", got)
	}
	if got := check(t, client, "warp.auth"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected auth NOT_SERVING, got %v", got)
	}

	status.set(true, true)
	bus.Emit(eventbus.SourceSession, eventbus.AuthenticatedEvent{})
	if got := check(t, client, "warp.auth"); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected auth SERVING, got %v", got)
	}

	status.set(false, true)
	bus.Emit(eventbus.SourceTransport, eventbus.DisconnectedEvent{})
	if got := check(t, client, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after disconnect, got %v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "warp_connected 1\n")
	})
	_, info := startServer(t, &statusStub{}, eventbus.New(), server.Options{
		MetricsAddress: "127.0.0.1:0",
		Metrics:        metrics,
	})
	if info.HealthAddress != "" {
		t.Fatalf("health listener should be disabled, got %q", info.HealthAddress)
	}

	resp, err := http.Get("http://" + info.MetricsAddress + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "warp_connected 1") {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestStartTwiceFails(t *testing.T) {
	srv, _ := startServer(t, &statusStub{}, eventbus.New(), server.Options{HealthAddress: "127.0.0.1:0"})
	if _, err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected second Start to fail")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	bus := eventbus.New()
	srv := server.New(&statusStub{}, bus, server.Options{HealthAddress: "127.0.0.1:0"})
	if _, err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if bus.Metrics().Subscriptions == 0 {
		t.Fatalf("expected health watcher subscriptions")
	}
	ctx := context.Background()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if got := bus.Metrics().Subscriptions; got != 0 {
		t.Fatalf("expected subscriptions released, got %d", got)
	}
}

func TestContextCancellationStopsServer(t *testing.T) {
	srv := server.New(&statusStub{}, eventbus.New(), server.Options{HealthAddress: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	info, err := srv.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := (&net.Dialer{Timeout: 100 * time.Millisecond}).Dial("tcp", info.HealthAddress)
		if err != nil {
			return
		}
		_ = conn.Close()
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("listener %s still accepting after cancellation", info.HealthAddress)
}

func TestUnixSocketHealth(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "warpd.sock")
	status := &statusStub{}
	status.set(true, true)
	_, info := startServer(t, status, eventbus.New(), server.Options{HealthAddress: "unix://" + socket})
	if info.HealthAddress != socket {
		t.Fatalf("unexpected address %q", info.HealthAddress)
	}

	client := healthClient(t, "unix://"+socket)
	if got := check(t, client, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", got)
	}
}
