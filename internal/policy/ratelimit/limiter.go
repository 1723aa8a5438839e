// Package ratelimit enforces a per-host request ceiling against the portal.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	// HostOverrides maps a hostname to its own requests-per-second ceiling.
	HostOverrides map[string]float64
}

// Limiter manages one token bucket per host.
type Limiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rps       rate.Limit
	burst     int
	overrides map[string]float64
}

// New creates a Limiter. A non-positive rate disables limiting.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	overrides := make(map[string]float64, len(cfg.HostOverrides))
	for host, rps := range cfg.HostOverrides {
		overrides[strings.ToLower(host)] = rps
	}
	return &Limiter{
		limiters:  make(map[string]*rate.Limiter),
		rps:       r,
		burst:     burst,
		overrides: overrides,
	}
}

// Wait blocks until rawURL's host has a token available or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter := l.forHost(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		r := l.rps
		if rps, found := l.overrides[host]; found && rps > 0 {
			r = rate.Limit(rps)
		}
		limiter = rate.NewLimiter(r, l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
