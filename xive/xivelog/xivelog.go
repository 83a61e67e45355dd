// Package xivelog provides rate-limited "guest error" logging: a guest
// that repeatedly pokes an invalid MMIO offset must not be able to
// flood the host log. It wraps logrus the way gVisor's
// pkg/log.RateLimitedLogger wraps its own Logger interface around a
// golang.org/x/time/rate.Limiter.
package xivelog

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// GuestErrorLogger rate-limits "guest programming error" messages:
// invalid MMIO offset/size, unknown LISN, store to a trigger-only
// page, disabled STORE_EOI, unsupported logical-server notify,
// duplicate CAM match.
type GuestErrorLogger struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	log     *logrus.Logger
}

// NewGuestErrorLogger returns a logger that emits at most one message
// per every duration, dropping the rest silently.
func NewGuestErrorLogger(log *logrus.Logger, every rate.Limit) *GuestErrorLogger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &GuestErrorLogger{
		limiter: rate.NewLimiter(every, 1),
		log:     log,
	}
}

// Warnf logs a rate-limited guest error. Args are used exactly like
// logrus's Warnf/Printf-style formatting.
func (g *GuestErrorLogger) Warnf(format string, args ...interface{}) {
	g.mu.Lock()
	allow := g.limiter.Allow()
	g.mu.Unlock()
	if !allow {
		return
	}
	g.log.WithField("component", "xive").Warnf(format, args...)
}
