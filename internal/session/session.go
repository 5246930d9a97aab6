// Package session coordinates authentication, remote requests, local command
// execution and the realtime channel for one client instance.
package session

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nupi-ai/warp/internal/config"
	"github.com/nupi-ai/warp/internal/eventbus"
	"github.com/nupi-ai/warp/internal/history"
	"github.com/nupi-ai/warp/internal/metrics"
	"github.com/nupi-ai/warp/internal/tlswarn"
	"github.com/nupi-ai/warp/internal/transport"
	"github.com/nupi-ai/warp/internal/vault"
)

// ModuleLister reports the names of loaded plugins.
type ModuleLister interface {
	Modules() []string
}

// Deps are the collaborators a Session coordinates. Config is required; the
// rest fall back to private defaults when nil.
type Deps struct {
	Config    *config.Store
	Vault     *vault.Vault
	Bus       *eventbus.Bus
	Channel   *transport.Channel
	Metrics   *metrics.Collector
	History   history.Recorder
	Logger    *zap.Logger
	Transport http.RoundTripper
}

// Session is the client runtime facade. Its methods are safe for concurrent
// use.
type Session struct {
	cfg     *config.Store
	vault   *vault.Vault
	bus     *eventbus.Bus
	channel *transport.Channel
	metrics *metrics.Collector
	history history.Recorder
	logger  *zap.Logger

	client    *http.Client
	userAgent string

	mu      sync.RWMutex
	bearer  string
	modules ModuleLister
}

// New builds a Session from deps.
func New(deps Deps) (*Session, error) {
	if deps.Config == nil {
		return nil, errors.New("session: configuration store is required")
	}
	s := &Session{
		cfg:       deps.Config,
		vault:     deps.Vault,
		bus:       deps.Bus,
		channel:   deps.Channel,
		metrics:   deps.Metrics,
		history:   deps.History,
		logger:    deps.Logger,
		client:    newHTTPClient(deps.Config),
		userAgent: UserAgent(deps.Config),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.history == nil {
		s.history = history.NewMemory(0)
	}
	if s.channel == nil {
		s.channel = transport.New(
			transport.WithBus(s.bus),
			transport.WithLogger(s.logger.Named("transport")),
			transport.WithTLSConfig(TLSConfig(s.cfg)),
			transport.WithProxy(ProxyFunc(s.cfg)),
		)
	}
	if deps.Transport != nil {
		s.client.Transport = deps.Transport
	}
	if !s.cfg.GetBool("security.certificate_validation", true) {
		tlswarn.LogInsecure(s.logger)
	}
	return s, nil
}

// SetModules installs the source of the plugin list reported by Status.
func (s *Session) SetModules(lister ModuleLister) {
	s.mu.Lock()
	s.modules = lister
	s.mu.Unlock()
}

// Config returns the configuration store.
func (s *Session) Config() *config.Store { return s.cfg }

// Bus returns the event bus, which may be nil.
func (s *Session) Bus() *eventbus.Bus { return s.bus }

// Logger returns the session logger.
func (s *Session) Logger() *zap.Logger { return s.logger }

// History returns the command history recorder.
func (s *Session) History() history.Recorder { return s.history }

func (s *Session) bearerToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bearer
}

// Credential selects the secret used by Authenticate: Secret directly, or
// the vault entry named TokenName.
type Credential struct {
	Secret    string
	TokenName string
}

func (s *Session) resolve(cred Credential) (string, error) {
	if secret := strings.TrimSpace(cred.Secret); secret != "" {
		return secret, nil
	}
	if cred.TokenName != "" && s.vault != nil {
		if secret, ok := s.vault.GetToken(cred.TokenName); ok && secret != "" {
			return secret, nil
		}
	}
	return "", ErrNoCredential
}

// Login exchanges the credential for a bearer token. On success the bearer
// is attached to later requests and the realtime handshake, the session is
// marked authenticated and an authenticated event is published.
func (s *Session) Login(ctx context.Context, cred Credential) error {
	secret, err := s.resolve(cred)
	if err != nil {
		return err
	}
	endpoint, ok := s.cfg.Endpoint("auth_endpoint")
	if !ok {
		return endpointMissing("auth_endpoint")
	}

	resp, err := s.postJSON(ctx, "authenticate", endpoint, map[string]string{"token": secret})
	if err != nil {
		return err
	}

	bearer := secret
	if token, ok := resp["access_token"].(string); ok && token != "" {
		bearer = token
	}
	s.mu.Lock()
	s.bearer = bearer
	s.mu.Unlock()
	s.channel.MarkAuthenticated(true)

	data := make(map[string]any, len(resp))
	for k, v := range resp {
		if k == "access_token" || k == "refresh_token" {
			continue
		}
		data[k] = v
	}
	s.bus.Emit(eventbus.SourceSession, eventbus.AuthenticatedEvent{Data: data})
	s.logger.Info("authentication successful", zap.String("token_name", cred.TokenName))
	return nil
}

// Authenticate is Login reporting only success. Failures are logged.
func (s *Session) Authenticate(ctx context.Context, cred Credential) bool {
	if err := s.Login(ctx, cred); err != nil {
		s.logger.Error("authentication failed", zap.String("token_name", cred.TokenName), zap.Error(err))
		return false
	}
	return true
}

func (s *Session) handshakeHeader() http.Header {
	header := http.Header{}
	header.Set("User-Agent", s.userAgent)
	if bearer := s.bearerToken(); bearer != "" {
		header.Set("Authorization", "Bearer "+bearer)
	}
	return header
}

func (s *Session) websocketURL() (string, error) {
	wsURL := strings.TrimSpace(s.cfg.GetString("endpoints.websocket_base", ""))
	if wsURL == "" {
		return "", endpointMissing("websocket_base")
	}
	return wsURL, nil
}

// Connect opens the realtime channel at endpoints.websocket_base.
func (s *Session) Connect(ctx context.Context) error {
	wsURL, err := s.websocketURL()
	if err != nil {
		return err
	}
	return s.channel.Connect(ctx, wsURL, s.handshakeHeader())
}

// RunTransport keeps the realtime channel connected until ctx is cancelled,
// reconnecting with backoff.
func (s *Session) RunTransport(ctx context.Context, retry transport.RetryConfig) error {
	wsURL, err := s.websocketURL()
	if err != nil {
		return err
	}
	return s.channel.Run(ctx, wsURL, s.handshakeHeader, retry)
}

// SendMessage writes v on the realtime channel.
func (s *Session) SendMessage(v any) error {
	if err := s.channel.Send(v); err != nil {
		s.logger.Warn("failed to send websocket message", zap.Error(err))
		return err
	}
	return nil
}

// Disconnect closes the realtime channel. It never panics and always leaves
// the session disconnected and unauthenticated.
func (s *Session) Disconnect() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during disconnect", zap.Any("panic", r))
		}
	}()
	s.channel.Disconnect()
	s.logger.Info("disconnected from remote service")
}

// Close releases idle HTTP connections.
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}

// MetricsStatus is the metrics section of Status.
type MetricsStatus struct {
	metrics.Snapshot
	SuccessRate float64 `json:"success_rate"`
}

// Status is a read-only projection of the runtime state.
type Status struct {
	Connection transport.ConnectionStatus `json:"connection"`
	Metrics    MetricsStatus              `json:"metrics"`
	Features   map[string]bool            `json:"features"`
	Endpoints  map[string]string          `json:"endpoints"`
	Modules    []string                   `json:"modules"`
	Tokens     []string                   `json:"tokens"`
}

// Status returns the current state without side effects.
func (s *Session) Status() Status {
	snap := s.metrics.Snapshot()
	st := Status{
		Connection: s.channel.Status(),
		Metrics:    MetricsStatus{Snapshot: snap, SuccessRate: snap.SuccessRate()},
		Features:   s.cfg.EnabledFeatures(),
		Endpoints:  s.cfg.Endpoints(),
		Modules:    []string{},
		Tokens:     []string{},
	}

	s.mu.RLock()
	lister := s.modules
	s.mu.RUnlock()
	if lister != nil {
		st.Modules = append(st.Modules, lister.Modules()...)
		sort.Strings(st.Modules)
	}
	if s.vault != nil {
		st.Tokens = s.vault.ListTokens()
	}
	return st
}
