package pluginhost

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/nupi-ai/warp/internal/eventbus"
	"github.com/nupi-ai/warp/internal/session"
)

// Host is the capability surface handed to a plugin when it is activated.
// Subscriptions made through it are released when the plugin is unloaded.
type Host interface {
	Status() session.Status
	ExecuteCommand(ctx context.Context, command, workingDir string) session.CommandResult
	ChatWithAgent(ctx context.Context, message string, chatContext map[string]any) (map[string]any, error)
	SendMessage(v any) error
	Subscribe(topic eventbus.Topic, fn eventbus.Listener) *eventbus.Subscription
	Config(path string) (any, bool)
	Logger() *zap.Logger
}

// pluginHost binds a Host to one plugin.
type pluginHost struct {
	sess   *session.Session
	ctx    context.Context
	name   string
	logger *zap.Logger
	subs   eventbus.SubscriptionGroup

	mu       sync.Mutex
	released bool
}

func newPluginHost(ctx context.Context, sess *session.Session, name string, logger *zap.Logger) *pluginHost {
	return &pluginHost{
		sess:   sess,
		ctx:    ctx,
		name:   name,
		logger: logger.With(zap.String("plugin", name)),
	}
}

func (h *pluginHost) Status() session.Status { return h.sess.Status() }

func (h *pluginHost) ExecuteCommand(ctx context.Context, command, workingDir string) session.CommandResult {
	return h.sess.ExecuteCommand(ctx, command, workingDir)
}

func (h *pluginHost) ChatWithAgent(ctx context.Context, message string, chatContext map[string]any) (map[string]any, error) {
	return h.sess.ChatWithAgent(ctx, message, chatContext)
}

func (h *pluginHost) SendMessage(v any) error { return h.sess.SendMessage(v) }

// Subscribe returns nil once the host has been released.
func (h *pluginHost) Subscribe(topic eventbus.Topic, fn eventbus.Listener) *eventbus.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		h.logger.Debug("ignoring subscribe from released plugin", zap.String("topic", string(topic)))
		return nil
	}
	sub := h.sess.Bus().Subscribe(topic, fn)
	h.subs.Add(sub)
	return sub
}

func (h *pluginHost) Config(path string) (any, bool) { return h.sess.Config().Get(path) }

func (h *pluginHost) Logger() *zap.Logger { return h.logger }

// release drops every subscription the plugin made and refuses new ones.
func (h *pluginHost) release() {
	h.mu.Lock()
	h.released = true
	h.mu.Unlock()
	h.subs.CloseAll()
}

// logAt writes msg at the named level; unknown levels log at info.
func (h *pluginHost) logAt(level, msg string) {
	switch level {
	case "debug":
		h.logger.Debug(msg)
	case "warn", "warning":
		h.logger.Warn(msg)
	case "error":
		h.logger.Error(msg)
	default:
		h.logger.Info(msg)
	}
}
