package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nupi-ai/warp/internal/app"
	"github.com/nupi-ai/warp/internal/config"
	"github.com/nupi-ai/warp/internal/testutil"
)

func newConfigDir(t *testing.T, endpoints map[string]any) string {
	t.Helper()
	dir, _ := testutil.ConfigDir(t, config.Tree{
		"endpoints": endpoints,
		"features":  map[string]any{"custom_modules": map[string]any{"enabled": false}},
		"daemon": map[string]any{
			"reconnect": map[string]any{"initial_delay": 0.05, "max_delay": 0.2},
		},
	})
	return dir
}

func TestRunOptionsFlagsOverrideConfig(t *testing.T) {
	dir := newConfigDir(t, map[string]any{})
	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"--config-dir", dir, "--connect", "--health-address", "127.0.0.1:0"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	rt, err := app.New(context.Background(), app.Options{ConfigDir: dir})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	defer rt.Shutdown()

	opts := runOptions(cmd, rt)
	if !opts.Transport {
		t.Fatalf("--connect should enable the transport")
	}
	if opts.HealthAddress != "127.0.0.1:0" {
		t.Fatalf("unexpected health address %q", opts.HealthAddress)
	}
	if opts.MetricsAddress != "" {
		t.Fatalf("metrics address should come from config, got %q", opts.MetricsAddress)
	}
	if opts.Retry.Initial != 50*time.Millisecond {
		t.Fatalf("unexpected retry config %+v", opts.Retry)
	}
}

func TestDaemonConnectsAndStopsOnCancel(t *testing.T) {
	connected := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		connected <- r.Header.Get("User-Agent")
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	dir := newConfigDir(t, map[string]any{"websocket_base": wsURL})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config-dir", dir, "--connect", "--metrics-address", "127.0.0.1:0"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	select {
	case ua := <-connected:
		if !strings.HasPrefix(ua, "Warp-Client/") {
			t.Fatalf("unexpected handshake user agent %q", ua)
		}
	case err := <-done:
		t.Fatalf("daemon exited before connecting: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatalf("daemon did not connect")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("daemon returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("daemon did not stop after cancellation")
	}
}

func TestDaemonFailsWithoutConfig(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config-dir", t.TempDir()})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected missing default layer to be fatal")
	}
}
