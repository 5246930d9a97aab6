package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nupi-ai/warp/internal/config"
	"github.com/nupi-ai/warp/internal/constants"
	"github.com/nupi-ai/warp/internal/version"
)

const (
	maxResponseBody = 16 << 20
	maxErrorBody    = 8 << 10
)

// TLSConfig returns the client TLS settings. Certificate verification is
// disabled only when security.certificate_validation is explicitly false.
func TLSConfig(cfg *config.Store) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !cfg.GetBool("security.certificate_validation", true),
	}
}

// ProxyFunc returns the proxy selector for HTTP and websocket traffic. When
// security.proxy_support is enabled the per-scheme URLs under
// security.proxy_config are used; otherwise the environment decides.
func ProxyFunc(cfg *config.Store) func(*http.Request) (*url.URL, error) {
	if !cfg.GetBool("security.proxy_support", false) {
		return http.ProxyFromEnvironment
	}
	proxies := make(map[string]*url.URL)
	for _, scheme := range []string{"http", "https"} {
		raw := strings.TrimSpace(cfg.GetString("security.proxy_config."+scheme, ""))
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil {
			proxies[scheme] = u
		}
	}
	if len(proxies) == 0 {
		return http.ProxyFromEnvironment
	}
	return func(req *http.Request) (*url.URL, error) {
		scheme := req.URL.Scheme
		switch scheme {
		case "ws":
			scheme = "http"
		case "wss":
			scheme = "https"
		}
		return proxies[scheme], nil
	}
}

// UserAgent returns security.user_agent or the build default.
func UserAgent(cfg *config.Store) string {
	return cfg.GetString("security.user_agent", version.UserAgent())
}

func newHTTPClient(cfg *config.Store) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = TLSConfig(cfg)
	transport.Proxy = ProxyFunc(cfg)
	return &http.Client{
		Timeout:   cfg.GetDuration("endpoints.timeout", constants.HTTPRequestTimeout),
		Transport: transport,
	}
}

// prepare applies the session headers to req.
func (s *Session) prepare(req *http.Request) string {
	requestID := uuid.NewString()
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")
	if req.Header.Get("Content-Type") == "" && req.Body != nil && req.Body != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", requestID)
	if bearer := s.bearerToken(); bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return requestID
}

// send performs req and records a failure when no response arrives. The
// caller owns the response body and records the metrics for it.
func (s *Session) send(op string, req *http.Request) (*http.Response, time.Time, error) {
	requestID := s.prepare(req)
	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.RecordFailure(time.Since(start))
		s.logger.Warn("request failed", zap.String("op", op), zap.String("request_id", requestID), zap.Error(err))
		return nil, start, &RequestError{Op: op, Err: err}
	}
	s.logger.Debug("request completed", zap.String("op", op), zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode))
	return resp, start, nil
}

// doJSON performs req and decodes a JSON object from a 2xx response.
func (s *Session) doJSON(op string, req *http.Request) (map[string]any, error) {
	resp, start, err := s.send(op, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		s.metrics.Record(resp.StatusCode, time.Since(start), int64(len(body)))
		return nil, &RequestError{Op: op, StatusCode: resp.StatusCode, Err: apiError(resp, body)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	s.metrics.Record(resp.StatusCode, time.Since(start), int64(len(body)))
	if err != nil {
		return nil, &RequestError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	out := make(map[string]any)
	if len(bytes.TrimSpace(body)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &RequestError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return out, nil
}

func (s *Session) postJSON(ctx context.Context, op, endpoint string, payload any) (map[string]any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("session: %s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return s.doJSON(op, req)
}

func apiError(resp *http.Response, body []byte) error {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return errors.New(resp.Status)
	}
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			if msg := strings.TrimSpace(payload.Error); msg != "" {
				return errors.New(msg)
			}
			if msg := strings.TrimSpace(payload.Message); msg != "" {
				return errors.New(msg)
			}
		}
	}
	return errors.New(resp.Status)
}
