package pluginhost_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nupi-ai/warp/internal/config"
	"github.com/nupi-ai/warp/internal/eventbus"
	"github.com/nupi-ai/warp/internal/pluginhost"
	"github.com/nupi-ai/warp/internal/session"
)

type fixture struct {
	dir     string
	sess    *session.Session
	bus     *eventbus.Bus
	logs    *observer.ObservedLogs
	manager *pluginhost.Manager
}

func newFixture(t *testing.T, features map[string]any) *fixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "modules")
	custom := map[string]any{"enabled": true, "modules_directory": dir}
	for k, v := range features {
		custom[k] = v
	}
	tree := config.Tree{
		"features": map[string]any{
			"custom_modules": custom,
			"terminal":       map[string]any{"enabled": true, "shell": "/bin/sh"},
		},
		"plugin_test": map[string]any{"greeting": "hello from config"},
	}

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	bus := eventbus.New()
	sess, err := session.New(session.Deps{Config: config.New(tree), Bus: bus, Logger: logger})
	require.NoError(t, err)

	m := pluginhost.New(sess, pluginhost.WithLogger(logger), pluginhost.WithInitTimeout(2*time.Second))
	sess.SetModules(m)
	t.Cleanup(func() {
		m.Unload()
		sess.Close()
	})
	return &fixture{dir: dir, sess: sess, bus: bus, logs: logs, manager: m}
}

func (f *fixture) write(t *testing.T, name, src string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(f.dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, name), []byte(src), 0o644))
}

func (f *fixture) logged(message string) bool {
	return f.logs.FilterMessage(message).Len() > 0
}

func register(t *testing.T, name string, factory pluginhost.Factory) {
	t.Helper()
	pluginhost.Register(name, factory)
	t.Cleanup(func() { pluginhost.Unregister(name) })
}

func TestBuiltinFactoryReceivesHost(t *testing.T) {
	var gotHost pluginhost.Host
	register(t, "test-builtin", func(h pluginhost.Host) (any, error) {
		gotHost = h
		return "handle", nil
	})
	f := newFixture(t, map[string]any{"enabled": false})

	var loaded []eventbus.PluginLoadedEvent
	eventbus.SubscribeTyped(f.bus, func(ev eventbus.PluginLoadedEvent) { loaded = append(loaded, ev) })

	require.NoError(t, f.manager.Load(context.Background()))
	require.NotNil(t, gotHost)
	greeting, ok := gotHost.Config("plugin_test.greeting")
	require.True(t, ok)
	assert.Equal(t, "hello from config", greeting)

	p, ok := f.manager.Plugin("test-builtin")
	require.True(t, ok)
	assert.Equal(t, pluginhost.KindBuiltin, p.Kind)
	assert.Equal(t, "handle", p.Handle)
	assert.NotEmpty(t, p.ActivationID)

	require.Len(t, loaded, 1)
	assert.Equal(t, "test-builtin", loaded[0].Name)
	assert.Equal(t, []string{"test-builtin"}, f.sess.Status().Modules)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	register(t, "dup-plugin", func(pluginhost.Host) (any, error) { return nil, nil })
	assert.Panics(t, func() {
		pluginhost.Register("dup-plugin", func(pluginhost.Host) (any, error) { return nil, nil })
	})
	assert.Panics(t, func() { pluginhost.Register("", func(pluginhost.Host) (any, error) { return nil, nil }) })
	assert.Panics(t, func() { pluginhost.Register("nil-factory", nil) })
	assert.Contains(t, pluginhost.Registered(), "dup-plugin")
}

func TestFailingBuiltinIsSkipped(t *testing.T) {
	register(t, "broken-builtin", func(pluginhost.Host) (any, error) { return nil, errors.New("boom") })
	register(t, "panicky-builtin", func(pluginhost.Host) (any, error) { panic("kaboom") })
	register(t, "working-builtin", func(pluginhost.Host) (any, error) { return nil, nil })
	f := newFixture(t, map[string]any{"enabled": false})

	err := f.manager.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, []string{"working-builtin"}, f.manager.Modules())
}

func TestDisabledCustomModulesSkipsDirectory(t *testing.T) {
	f := newFixture(t, map[string]any{"enabled": false})
	require.NoError(t, f.manager.Load(context.Background()))
	_, err := os.Stat(f.dir)
	assert.True(t, os.IsNotExist(err), "modules directory should not be created when disabled")
	assert.Empty(t, f.manager.Modules())
}

func TestMissingModulesDirectoryIsCreated(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.manager.Load(context.Background()))
	info, err := os.Stat(f.dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestJavaScriptPluginLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "Echo Helper.js", `
function initialize(host) {
  host.subscribe("command_executed", function (ev) {
    host.log("info", "saw " + ev.data.command + " exit " + ev.data.exit_code);
  });
  console.log("initialized", host.name);
  return { greeting: host.config("plugin_test.greeting"), connected: host.status().connection.connected };
}
`)
	f.write(t, "_disabled.js", `function initialize() { throw new Error("must not load"); }`)
	f.write(t, "__init__.js", `function initialize() { throw new Error("must not load"); }`)
	f.write(t, "notes.txt", "not a plugin")

	require.NoError(t, f.manager.Load(context.Background()))
	assert.Equal(t, []string{"echo-helper"}, f.manager.Modules())

	p, ok := f.manager.Plugin("echo-helper")
	require.True(t, ok)
	assert.Equal(t, pluginhost.KindJavaScript, p.Kind)
	handle, ok := p.Handle.(map[string]any)
	require.True(t, ok, "handle type %T", p.Handle)
	assert.Equal(t, "hello from config", handle["greeting"])
	assert.Equal(t, false, handle["connected"])
	assert.True(t, f.logged("initialized echo-helper"))

	f.bus.Emit(eventbus.SourceSession, eventbus.CommandExecutedEvent{Command: "ls", ExitCode: 2})
	require.Eventually(t, func() bool { return f.logged("saw ls exit 2") }, 2*time.Second, 10*time.Millisecond)

	f.manager.Unload()
	assert.Empty(t, f.manager.Modules())
	assert.Zero(t, f.bus.Metrics().Subscriptions, "unload must release plugin subscriptions")
}

func TestJavaScriptModuleExportsEntryPoint(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "exported.js", `module.exports = { initialize: function (host) { return 42; } };`)
	require.NoError(t, f.manager.Load(context.Background()))

	p, ok := f.manager.Plugin("exported")
	require.True(t, ok)
	assert.EqualValues(t, 42, p.Handle)
}

func TestBrokenJavaScriptPluginsAreSkipped(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "syntax.js", `function initialize( {`)
	f.write(t, "noinit.js", `var x = 1;`)
	f.write(t, "throws.js", `function initialize() { throw new Error("nope"); }`)
	f.write(t, "spins.js", `function initialize() { for (;;) {} }`)
	f.write(t, "good.js", `function initialize() { return "ok"; }`)

	err := f.manager.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing initialize function")
	assert.Contains(t, err.Error(), "nope")
	assert.Equal(t, []string{"good"}, f.manager.Modules())
	assert.Zero(t, f.bus.Metrics().Subscriptions)
}

func TestGoScriptPlugin(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "greeter.go", `package main

import "strings"

func Initialize(host map[string]any) (any, error) {
	config := host["config"].(func(string) any)
	greeting, _ := config("plugin_test.greeting").(string)
	return strings.ToUpper(greeting), nil
}
`)
	f.write(t, "bare.go", `
func Initialize(host map[string]any) (any, error) {
	return host["name"], nil
}
`)
	f.write(t, "wrongpkg.go", `package other

func Initialize(host map[string]any) (any, error) { return nil, nil }
`)

	err := f.manager.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected package main")

	p, ok := f.manager.Plugin("greeter")
	require.True(t, ok)
	assert.Equal(t, pluginhost.KindGo, p.Kind)
	assert.Equal(t, "HELLO FROM CONFIG", p.Handle)

	bare, ok := f.manager.Plugin("bare")
	require.True(t, ok)
	assert.Equal(t, "bare", bare.Handle)
}

func TestGoScriptSubscribes(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "watcher.go", `package main

func Initialize(host map[string]any) (any, error) {
	subscribe := host["subscribe"].(func(string, func(map[string]any)))
	log := host["log"].(func(string, string))
	subscribe("file_downloaded", func(ev map[string]any) {
		data := ev["data"].(map[string]any)
		log("info", "downloaded "+data["file_id"].(string))
	})
	return nil, nil
}
`)
	require.NoError(t, f.manager.Load(context.Background()))
	f.bus.Emit(eventbus.SourceSession, eventbus.FileDownloadedEvent{FileID: "f-9", SavePath: "/tmp/x"})
	assert.True(t, f.logged("downloaded f-9"))
}

func TestSlowGoInitializerIsAbandoned(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "slow.go", `package main

import "time"

func Initialize(host map[string]any) (any, error) {
	time.Sleep(2500 * time.Millisecond)
	subscribe := host["subscribe"].(func(string, func(map[string]any)))
	subscribe("connected", func(map[string]any) {})
	return "late", nil
}
`)
	err := f.manager.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not finish")
	assert.True(t, f.logged("abandoning go plugin initializer; interpreter goroutine keeps running"))
	assert.Empty(t, f.manager.Modules())

	// The abandoned initializer subscribes after its host was released.
	time.Sleep(1500 * time.Millisecond)
	assert.Zero(t, f.bus.Metrics().Subscriptions)
	assert.True(t, f.logged("ignoring subscribe from released plugin"))
}

type closingHandle struct {
	mu     sync.Mutex
	closed bool
}

func (c *closingHandle) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func TestUnloadClosesHandlesAndAllowsReload(t *testing.T) {
	handle := &closingHandle{}
	var subscribed int
	register(t, "closer", func(h pluginhost.Host) (any, error) {
		h.Subscribe(eventbus.TopicConnected, func(eventbus.Envelope) { subscribed++ })
		return handle, nil
	})
	f := newFixture(t, map[string]any{"enabled": false})
	require.NoError(t, f.manager.Load(context.Background()))

	f.bus.Emit(eventbus.SourceTransport, eventbus.ConnectedEvent{URL: "ws://x"})
	require.Equal(t, 1, subscribed)

	f.manager.Unload()
	assert.True(t, handle.closed)
	f.bus.Emit(eventbus.SourceTransport, eventbus.ConnectedEvent{URL: "ws://x"})
	assert.Equal(t, 1, subscribed)

	require.NoError(t, f.manager.Load(context.Background()))
	assert.Equal(t, []string{"closer"}, f.manager.Modules())
}
