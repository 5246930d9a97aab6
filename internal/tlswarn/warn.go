// Package tlswarn emits a process-wide one-shot warning for insecure TLS.
package tlswarn

import (
	"sync"

	"go.uber.org/zap"
)

var once sync.Once

// LogInsecure logs a single warning the first time it is called. Later calls
// are no-ops, so every component that builds an insecure client may call it.
func LogInsecure(logger *zap.Logger) {
	once.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
		logger.Warn("TLS certificate and hostname verification is disabled (security.certificate_validation=false); do not use in production")
	})
}
