// Package app is the composition root: it builds every runtime component
// once from a configuration directory and owns their shutdown order.
package app

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/nupi-ai/warp/internal/config"
	"github.com/nupi-ai/warp/internal/constants"
	"github.com/nupi-ai/warp/internal/eventbus"
	"github.com/nupi-ai/warp/internal/history"
	"github.com/nupi-ai/warp/internal/logging"
	"github.com/nupi-ai/warp/internal/metrics"
	"github.com/nupi-ai/warp/internal/observability"
	"github.com/nupi-ai/warp/internal/pluginhost"
	"github.com/nupi-ai/warp/internal/server"
	"github.com/nupi-ai/warp/internal/session"
	"github.com/nupi-ai/warp/internal/transport"
	"github.com/nupi-ai/warp/internal/vault"
)

//go:embed default_config.json
var defaultConfig []byte

// DefaultConfig returns the bundled default configuration layer.
func DefaultConfig() []byte {
	out := make([]byte, len(defaultConfig))
	copy(out, defaultConfig)
	return out
}

// ErrAlreadyInitialised is returned by InitConfigDir when a default layer
// already exists.
var ErrAlreadyInitialised = errors.New("app: configuration directory already initialised")

// InitConfigDir writes the bundled default layer into dir.
func InitConfigDir(dir string) (string, error) {
	paths := config.GetPaths(dir)
	if _, err := os.Stat(paths.Default); err == nil {
		return paths.Default, ErrAlreadyInitialised
	}
	if err := paths.EnsureDir(); err != nil {
		return "", fmt.Errorf("app: create config dir: %w", err)
	}
	if err := config.WriteFileAtomic(paths.Default, defaultConfig, 0o644); err != nil {
		return "", fmt.Errorf("app: write default layer: %w", err)
	}
	return paths.Default, nil
}

// Options configure New.
type Options struct {
	// ConfigDir is resolved through config.ResolveDir.
	ConfigDir string
	// LogLevel overrides logging.level and WARP_LOG_LEVEL.
	LogLevel string
	// Logger replaces the logger built from the logging section.
	Logger *zap.Logger
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Runtime holds the constructed components.
type Runtime struct {
	Config   *config.Store
	Logger   *zap.Logger
	Bus      *eventbus.Bus
	Vault    *vault.Vault
	History  history.Recorder
	Metrics  *metrics.Collector
	Session  *session.Session
	Plugins  *pluginhost.Manager
	Events   *observability.EventCounter
	Exporter *observability.PrometheusExporter

	ownsLogger   bool
	shutdownOnce sync.Once
}

// New loads the configuration and wires the components. Nothing touches the
// network until a session operation or Run is called.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg, err := config.Load(config.ResolveDir(opts.ConfigDir))
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, Logger: opts.Logger}
	if rt.Logger == nil {
		logger, err := logging.New(logging.FromConfig(cfg, opts.LogLevel, getenv))
		if err != nil {
			return nil, err
		}
		rt.Logger = logger
		rt.ownsLogger = true
	}
	cfg.SetLogger(rt.Logger.Named("config"))
	if err := cfg.CheckEndpoints(); err != nil {
		rt.Logger.Warn("endpoint configuration problems", zap.Error(err))
	}

	rt.Bus = eventbus.New(eventbus.WithLogger(rt.Logger.Named("eventbus")))
	rt.Events = observability.NewEventCounter()
	rt.Events.Attach(rt.Bus)
	rt.Metrics = metrics.New()

	tokenFile := config.ExpandPath(cfg.GetString("authentication.token_file", constants.DefaultTokenFile))
	rt.Vault, err = vault.Open(tokenFile, cfg.Keyring(), vault.WithLogger(rt.Logger.Named("vault")))
	if err != nil {
		rt.release()
		return nil, err
	}

	rt.History, err = openHistory(ctx, cfg)
	if err != nil {
		rt.release()
		return nil, err
	}

	rt.Session, err = session.New(session.Deps{
		Config:  cfg,
		Vault:   rt.Vault,
		Bus:     rt.Bus,
		Metrics: rt.Metrics,
		History: rt.History,
		Logger:  rt.Logger.Named("session"),
	})
	if err != nil {
		rt.release()
		return nil, err
	}

	rt.Plugins = pluginhost.New(rt.Session, pluginhost.WithLogger(rt.Logger.Named("plugins")))
	rt.Session.SetModules(rt.Plugins)
	rt.Exporter = observability.NewPrometheusExporter(rt.Bus, rt.Events, rt.Session)

	rt.Logger.Debug("runtime constructed",
		zap.String("config_dir", cfg.Paths().Dir),
		zap.String("token_file", rt.Vault.Path()))
	return rt, nil
}

func openHistory(ctx context.Context, cfg *config.Store) (history.Recorder, error) {
	limit := int(cfg.GetInt("data.history_limit", constants.DefaultHistoryLimit))
	if !cfg.GetBool("features.terminal.persist_history", true) {
		return history.NewMemory(limit), nil
	}
	path := config.ExpandPath(cfg.GetString("data.history_db", constants.DefaultHistoryDB))
	store, err := history.Open(ctx, path, limit)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// LoadPlugins activates builtin and directory plugins. Individual failures
// are logged and returned joined; the runtime stays usable.
func (r *Runtime) LoadPlugins(ctx context.Context) error {
	err := r.Plugins.Load(ctx)
	if err != nil {
		r.Logger.Warn("some plugins failed to load", zap.Error(err))
	}
	return err
}

// RunOptions select the long-lived services started by Run.
type RunOptions struct {
	Transport      bool
	WatchConfig    bool
	HealthAddress  string
	MetricsAddress string
	Retry          transport.RetryConfig
}

// RunOptionsFromConfig reads the daemon section.
func RunOptionsFromConfig(cfg *config.Store) RunOptions {
	def := transport.DefaultRetryConfig()
	return RunOptions{
		Transport:      cfg.GetBool("warp_client.auto_connect", false),
		WatchConfig:    true,
		HealthAddress:  cfg.GetString("daemon.health_address", ""),
		MetricsAddress: cfg.GetString("daemon.metrics_address", ""),
		Retry: transport.RetryConfig{
			MaxAttempts: int(cfg.GetInt("daemon.reconnect.max_attempts", 0)),
			Initial:     cfg.GetDuration("daemon.reconnect.initial_delay", def.Initial),
			Max:         cfg.GetDuration("daemon.reconnect.max_delay", def.Max),
		},
	}
}

// Run starts the selected services and blocks until ctx is cancelled or one
// of them fails. The introspection server is stopped before Run returns; the
// rest of the runtime is released by Shutdown.
func (r *Runtime) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	if opts.WatchConfig && r.Config.Paths().Dir != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Config.Watch(ctx, func(config.Tree) {
				r.Bus.Emit(eventbus.SourceConfig, eventbus.ConfigReloadedEvent{Dir: r.Config.Paths().Dir})
			})
			if err != nil {
				r.Logger.Warn("configuration watcher stopped", zap.Error(err))
			}
		}()
	}

	var srv *server.Server
	if opts.HealthAddress != "" || opts.MetricsAddress != "" {
		srv = server.New(r.Session, r.Bus, server.Options{
			HealthAddress:  opts.HealthAddress,
			MetricsAddress: opts.MetricsAddress,
			Metrics:        r.Exporter,
			Logger:         r.Logger.Named("server"),
		})
		if _, err := srv.Start(ctx); err != nil {
			cancel()
			wg.Wait()
			return err
		}
		go func() {
			select {
			case err := <-srv.Errors():
				errCh <- err
			case <-ctx.Done():
			}
		}()
	}

	if opts.Transport {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Session.RunTransport(ctx, opts.Retry); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("app: transport: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		r.Logger.Error("runtime service failed", zap.Error(runErr))
	}
	cancel()

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), constants.DaemonShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.Logger.Warn("introspection server shutdown", zap.Error(err))
		}
		stop()
	}
	wg.Wait()
	return runErr
}

// Shutdown releases every component. It is safe to call more than once and
// never fails.
func (r *Runtime) Shutdown() {
	r.shutdownOnce.Do(func() {
		if r.Session != nil {
			r.Session.Disconnect()
		}
		if r.Plugins != nil {
			r.Plugins.Unload()
		}
		r.release()
	})
}

func (r *Runtime) release() {
	if r.History != nil {
		if err := r.History.Close(); err != nil {
			r.Logger.Warn("closing history", zap.Error(err))
		}
	}
	if r.Session != nil {
		r.Session.Close()
	}
	if r.Bus != nil {
		r.Bus.Shutdown()
	}
	if r.ownsLogger {
		_ = r.Logger.Sync()
	}
}
