// Package pluginhost activates plugins and grants them a narrow view of the
// session. Plugins come from the compiled-in registry and from a directory of
// JavaScript (goja) and Go (yaegi) scripts.
package pluginhost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nupi-ai/warp/internal/config"
	"github.com/nupi-ai/warp/internal/constants"
	"github.com/nupi-ai/warp/internal/eventbus"
	"github.com/nupi-ai/warp/internal/sanitize"
	"github.com/nupi-ai/warp/internal/session"
)

// Kind is the origin of a plugin.
type Kind string

const (
	KindBuiltin    Kind = "builtin"
	KindJavaScript Kind = "javascript"
	KindGo         Kind = "go"
)

var scriptKinds = map[string]Kind{
	".js": KindJavaScript,
	".go": KindGo,
}

// Plugin is an activated plugin. Handle is whatever its initializer returned.
type Plugin struct {
	Name         string
	Kind         Kind
	Path         string
	ActivationID string
	LoadedAt     time.Time
	Handle       any

	host *pluginHost
	js   *jsPlugin
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithInitTimeout bounds each script initializer. A JavaScript initializer is
// interrupted when it expires; a Go initializer cannot be, so it is abandoned
// and keeps its goroutine until it returns on its own.
func WithInitTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.initTimeout = d
		}
	}
}

// Manager owns the set of active plugins for one session.
type Manager struct {
	sess        *session.Session
	logger      *zap.Logger
	initTimeout time.Duration

	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	plugins map[string]*Plugin
}

// New returns a Manager bound to sess. Nothing is loaded until Load.
func New(sess *session.Session, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sess:        sess,
		logger:      zap.NewNop(),
		initTimeout: constants.PluginInitTimeout,
		ctx:         ctx,
		cancel:      cancel,
		plugins:     make(map[string]*Plugin),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ModulesDir resolves features.custom_modules.modules_directory.
func ModulesDir(cfg *config.Store) string {
	dir := cfg.GetString("features.custom_modules.modules_directory", constants.DefaultModulesDir)
	return config.ExpandPath(dir)
}

// Load activates every registered builtin and, when custom modules are
// enabled, every script in the modules directory. A plugin that fails to load
// is logged and skipped; the returned error joins those failures.
func (m *Manager) Load(ctx context.Context) error {
	var errs []error
	for _, name := range Registered() {
		if err := m.activateBuiltin(name); err != nil {
			errs = append(errs, err)
		}
	}

	cfg := m.sess.Config()
	if !cfg.GetBool("features.custom_modules.enabled", true) {
		m.logger.Debug("custom modules disabled")
		return errors.Join(errs...)
	}

	dir := ModulesDir(cfg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		errs = append(errs, fmt.Errorf("pluginhost: create modules directory: %w", err))
		return errors.Join(errs...)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		errs = append(errs, fmt.Errorf("pluginhost: read modules directory: %w", err))
		return errors.Join(errs...)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		fileName := entry.Name()
		if entry.IsDir() || strings.HasPrefix(fileName, "_") {
			continue
		}
		kind, ok := scriptKinds[filepath.Ext(fileName)]
		if !ok {
			continue
		}
		if err := m.activateScript(ctx, filepath.Join(dir, fileName), kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) activateBuiltin(name string) error {
	factory, ok := lookupFactory(name)
	if !ok {
		return nil
	}
	if m.has(name) {
		return nil
	}
	host := newPluginHost(m.baseContext(), m.sess, name, m.logger)
	handle, err := m.callFactory(factory, host)
	if err != nil {
		host.release()
		m.logger.Error("failed to load plugin", zap.String("plugin", name), zap.Error(err))
		return fmt.Errorf("pluginhost: %s: %w", name, err)
	}
	m.add(&Plugin{Name: name, Kind: KindBuiltin, Handle: handle, host: host})
	return nil
}

func (m *Manager) callFactory(factory Factory, host Host) (handle any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panicked: %v", r)
		}
	}()
	return factory(host)
}

func (m *Manager) activateScript(ctx context.Context, path string, kind Kind) error {
	name := sanitize.SafeSlug(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if m.has(name) {
		m.logger.Warn("duplicate plugin name; skipping", zap.String("plugin", name), zap.String("path", path))
		return nil
	}

	host := newPluginHost(m.baseContext(), m.sess, name, m.logger)
	p := &Plugin{Name: name, Kind: kind, Path: path, host: host}
	var err error
	switch kind {
	case KindJavaScript:
		p.js, p.Handle, err = loadJavaScript(path, host, m.initTimeout)
	case KindGo:
		p.Handle, err = loadGoScript(ctx, path, host, m.initTimeout)
	}
	if err != nil {
		host.release()
		m.logger.Error("failed to load plugin", zap.String("plugin", name), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("pluginhost: %s: %w", name, err)
	}
	m.add(p)
	return nil
}

// baseContext is the context plugin host calls run under; Unload cancels it.
func (m *Manager) baseContext() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ctx
}

func (m *Manager) has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.plugins[name]
	return ok
}

func (m *Manager) add(p *Plugin) {
	p.ActivationID = uuid.NewString()
	p.LoadedAt = time.Now()
	m.mu.Lock()
	m.plugins[p.Name] = p
	m.mu.Unlock()

	m.logger.Info("loaded plugin", zap.String("plugin", p.Name), zap.String("kind", string(p.Kind)),
		zap.String("activation_id", p.ActivationID))
	source := p.Path
	if source == "" {
		source = "builtin"
	}
	m.sess.Bus().Publish(eventbus.Envelope{
		Source:        eventbus.SourcePlugins,
		CorrelationID: p.ActivationID,
		Payload:       eventbus.PluginLoadedEvent{Name: p.Name, Kind: string(p.Kind), Source: source},
	})
}

// Modules returns the names of active plugins, sorted.
func (m *Manager) Modules() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Plugin returns the active plugin called name.
func (m *Manager) Plugin(name string) (*Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[name]
	return p, ok
}

// Unload releases every plugin: subscriptions are closed, script runtimes are
// stopped and in-flight host calls are cancelled. A handle with a
// Close() error method is closed as well. The manager can be loaded again.
func (m *Manager) Unload() {
	m.mu.Lock()
	m.cancel()
	m.ctx, m.cancel = context.WithCancel(context.Background())
	plugins := m.plugins
	m.plugins = make(map[string]*Plugin)
	m.mu.Unlock()

	for _, p := range plugins {
		p.host.release()
		if p.js != nil {
			p.js.close()
		}
		if closer, ok := p.Handle.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				m.logger.Warn("plugin close failed", zap.String("plugin", p.Name), zap.Error(err))
			}
		}
	}
}
