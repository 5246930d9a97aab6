package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nupi-ai/warp/internal/constants"
)

// RetryConfig holds backoff parameters for Run.
type RetryConfig struct {
	// MaxAttempts caps consecutive failed attempts; zero means unlimited.
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

// DefaultRetryConfig returns the reconnect defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Initial: constants.ReconnectInitialDelay,
		Max:     constants.ReconnectMaxDelay,
	}
}

func (cfg RetryConfig) normalized() RetryConfig {
	if cfg.Initial <= 0 {
		cfg.Initial = constants.ReconnectInitialDelay
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	return cfg
}

// Backoff returns the delay before the given attempt (1-based): Initial
// doubled per attempt, capped at Max.
func (cfg RetryConfig) Backoff(attempt int) time.Duration {
	cfg = cfg.normalized()
	if attempt < 1 {
		attempt = 1
	}
	delay := cfg.Initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.Max {
			return cfg.Max
		}
	}
	return delay
}

// HeaderFunc supplies handshake headers for each attempt so a refreshed
// credential is picked up.
type HeaderFunc func() http.Header

// Run keeps the channel connected to url until ctx is cancelled or the
// channel is disconnected locally. A Disconnect during backoff ends Run
// without another attempt. Failed attempts are retried with exponential
// backoff and counted in ConnectionStatus.ReconnectAttempts.
func (c *Channel) Run(ctx context.Context, url string, header HeaderFunc, cfg RetryConfig) error {
	cfg = cfg.normalized()
	stop := c.stopSignal()
	failures := 0

	for {
		if ctx.Err() != nil {
			c.Disconnect()
			return nil
		}
		select {
		case <-stop:
			c.logger.Debug("channel disconnected locally; reconnect loop stopped")
			return nil
		default:
		}

		var h http.Header
		if header != nil {
			h = header()
		}
		err := c.Connect(ctx, url, h)
		switch {
		case err == nil || errors.Is(err, ErrAlreadyConnected):
			failures = 0
			c.resetReconnectAttempts()
			l := c.current()
			if l == nil {
				break
			}
			select {
			case <-ctx.Done():
				c.Disconnect()
				return nil
			case <-stop:
				// Disconnect may have raced the dial; drop what it opened.
				c.Disconnect()
				return nil
			case <-l.done:
			}
			if l.closing.Load() {
				return nil
			}
			c.logger.Info("websocket closed; reconnecting")
		default:
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if cfg.MaxAttempts > 0 && failures > cfg.MaxAttempts {
				return ErrReconnectExhausted
			}
		}

		attempts := c.addReconnectAttempt()
		delay := cfg.Backoff(attempts)
		c.logger.Debug("waiting before reconnect", zap.Int("attempt", attempts), zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.Disconnect()
			return nil
		case <-stop:
			timer.Stop()
			c.logger.Debug("channel disconnected locally; reconnect loop stopped")
			return nil
		case <-timer.C:
		}
	}
}
