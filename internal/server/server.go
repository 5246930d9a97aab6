// Package server exposes warpd's local introspection endpoints: the gRPC
// health service and a Prometheus text metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nupi-ai/warp/internal/constants"
	"github.com/nupi-ai/warp/internal/eventbus"
	"github.com/nupi-ai/warp/internal/session"
)

// StatusProvider exposes the session status projection.
type StatusProvider interface {
	Status() session.Status
}

// Options configure the listeners. An empty address disables that listener.
type Options struct {
	HealthAddress  string
	MetricsAddress string
	Metrics        http.Handler
	Logger         *zap.Logger
}

// Info reports the bound addresses.
type Info struct {
	HealthAddress  string
	MetricsAddress string
}

// Server serves health and metrics until Shutdown.
type Server struct {
	status StatusProvider
	bus    *eventbus.Bus
	opts   Options
	logger *zap.Logger

	health *health.Server
	subs   eventbus.SubscriptionGroup

	mu          sync.Mutex
	grpcServer  *grpc.Server
	httpServer  *http.Server
	listeners   []net.Listener
	socketPaths []string
	wg          sync.WaitGroup
	errCh       chan error
	stop        chan struct{}
	stopOnce    sync.Once
}

// New constructs a Server. Health status follows the transport events
// published on bus.
func New(status StatusProvider, bus *eventbus.Bus, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		status: status,
		bus:    bus,
		opts:   opts,
		logger: logger,
		health: health.NewServer(),
		stop:   make(chan struct{}),
	}
}

// Start binds the configured listeners.
func (s *Server) Start(ctx context.Context) (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errCh != nil {
		return nil, errors.New("server: already started")
	}

	info := &Info{}
	s.errCh = make(chan error, 2)

	if s.opts.HealthAddress != "" {
		ln, socket, err := listen(s.opts.HealthAddress)
		if err != nil {
			s.closeListenersLocked()
			s.errCh = nil
			return nil, fmt.Errorf("server: listen health: %w", err)
		}
		s.trackLocked(ln, socket)
		info.HealthAddress = ln.Addr().String()

		s.grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.health)
		s.watch()

		s.wg.Add(1)
		go s.serveGRPC(s.grpcServer, ln)
	}

	if s.opts.MetricsAddress != "" && s.opts.Metrics != nil {
		ln, socket, err := listen(s.opts.MetricsAddress)
		if err != nil {
			s.closeListenersLocked()
			s.errCh = nil
			if s.grpcServer != nil {
				s.grpcServer.Stop()
				s.grpcServer = nil
			}
			return nil, fmt.Errorf("server: listen metrics: %w", err)
		}
		s.trackLocked(ln, socket)
		info.MetricsAddress = ln.Addr().String()

		mux := http.NewServeMux()
		mux.Handle("/metrics", s.opts.Metrics)
		s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: constants.Duration5Seconds}

		s.wg.Add(1)
		go s.serveHTTP(s.httpServer, ln)
	}

	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.Duration5Seconds)
			defer cancel()
			_ = s.Shutdown(shutdownCtx)
		case <-s.stop:
		}
	}()

	s.logger.Info("introspection endpoints started",
		zap.String("health", info.HealthAddress), zap.String("metrics", info.MetricsAddress))
	return info, nil
}

// Errors delivers listener failures that happen after Start.
func (s *Server) Errors() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errCh
}

func (s *Server) trackLocked(ln net.Listener, socket string) {
	s.listeners = append(s.listeners, ln)
	if socket != "" {
		s.socketPaths = append(s.socketPaths, socket)
	}
}

func (s *Server) closeListenersLocked() {
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	for _, path := range s.socketPaths {
		_ = os.Remove(path)
	}
	s.listeners = nil
	s.socketPaths = nil
}

// listen parses "unix:///path", "unix:/path", "tcp://host:port" or
// "host:port".
func listen(address string) (net.Listener, string, error) {
	if path, ok := strings.CutPrefix(address, "unix://"); ok {
		return listenUnix(path)
	}
	if path, ok := strings.CutPrefix(address, "unix:"); ok {
		return listenUnix(path)
	}
	address = strings.TrimPrefix(address, "tcp://")
	ln, err := net.Listen("tcp", address)
	return ln, "", err
}

func listenUnix(path string) (net.Listener, string, error) {
	if path == "" {
		return nil, "", errors.New("empty unix socket path")
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, "", err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		return nil, "", err
	}
	return ln, path, nil
}

func (s *Server) serveGRPC(srv *grpc.Server, ln net.Listener) {
	defer s.wg.Done()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) && !errors.Is(err, net.ErrClosed) {
		s.pushError(err)
	}
}

func (s *Server) serveHTTP(srv *http.Server, ln net.Listener) {
	defer s.wg.Done()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		s.pushError(err)
	}
}

func (s *Server) pushError(err error) {
	s.logger.Error("introspection listener failed", zap.Error(err))
	s.mu.Lock()
	ch := s.errCh
	s.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

// Shutdown stops the listeners and waits for the serve goroutines. It is safe
// to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	grpcServer := s.grpcServer
	httpServer := s.httpServer
	s.grpcServer = nil
	s.httpServer = nil
	s.mu.Unlock()

	s.subs.CloseAll()
	s.health.Shutdown()

	var errs []error
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	if grpcServer != nil {
		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			grpcServer.Stop()
			<-done
		case <-time.After(constants.DaemonShutdownTimeout):
			grpcServer.Stop()
			<-done
		}
	}

	s.wg.Wait()
	s.mu.Lock()
	s.closeListenersLocked()
	s.mu.Unlock()
	return errors.Join(errs...)
}
