/*
Copyright 2023 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package limiter implements per source address request rate limiting with
// a separate, stricter tier for authentication endpoints.
package limiter

import (
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/zmb3/webterm/lib/defaults"
)

// Config defines the limiter tiers.
type Config struct {
	// Window is the accounting window shared by both tiers.
	Window time.Duration

	// MaxRequests is the global tier allowance per window.
	MaxRequests int

	// AuthMaxAttempts is the authentication tier allowance per window.
	AuthMaxAttempts int

	// AuthBlock is how long a source stays blocked after exhausting its
	// authentication allowance.
	AuthBlock time.Duration

	// Clock is used for bucket accounting.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the values of a *Config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Window == 0 {
		c.Window = defaults.RateLimitWindow
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = defaults.RateLimitMaxRequests
	}
	if c.AuthMaxAttempts == 0 {
		c.AuthMaxAttempts = defaults.AuthRateLimitMaxAttempts
	}
	if c.AuthBlock == 0 {
		c.AuthBlock = defaults.AuthRateLimitBlock
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// bucket tracks one source address in one tier.
type bucket struct {
	limiter      *rate.Limiter
	blockedUntil time.Time
	lastSeen     time.Time
}

// Limiter rejects over limit requests with a retry-after hint.
type Limiter struct {
	config Config

	mu     sync.Mutex
	global map[string]*bucket
	auth   map[string]*bucket
}

// New creates a limiter.
func New(config Config) (*Limiter, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Limiter{
		config: config,
		global: make(map[string]*bucket),
		auth:   make(map[string]*bucket),
	}, nil
}

// Allow admits or rejects a request from source against the global tier.
// When rejected, retryAfter carries the wait hint.
func (l *Limiter) Allow(source string) (retryAfter time.Duration, err error) {
	return l.allow(l.global, source, l.config.MaxRequests, 0)
}

// AllowAuth admits or rejects an authentication attempt from source. A
// source that exhausts its allowance is blocked for the configured
// duration on top of normal bucket refill.
func (l *Limiter) AllowAuth(source string) (retryAfter time.Duration, err error) {
	return l.allow(l.auth, source, l.config.AuthMaxAttempts, l.config.AuthBlock)
}

func (l *Limiter) allow(tier map[string]*bucket, source string, max int, block time.Duration) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.config.Clock.Now()

	b, ok := tier[source]
	if !ok {
		// Burst equals the full window allowance; refill spreads the
		// allowance evenly across the window.
		b = &bucket{limiter: rate.NewLimiter(rate.Every(l.config.Window/time.Duration(max)), max)}
		tier[source] = b
	}
	b.lastSeen = now

	if b.blockedUntil.After(now) {
		return b.blockedUntil.Sub(now), trace.LimitExceeded("rate limit exceeded")
	}

	if !b.limiter.AllowN(now, 1) {
		if block > 0 {
			b.blockedUntil = now.Add(block)
			return block, trace.LimitExceeded("too many authentication attempts")
		}
		reservation := b.limiter.ReserveN(now, 1)
		retryAfter := reservation.DelayFrom(now)
		reservation.CancelAt(now)
		return retryAfter, trace.LimitExceeded("rate limit exceeded")
	}
	return 0, nil
}

// Prune drops buckets that have been idle for more than two windows. The
// caller runs it periodically.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.config.Clock.Now().Add(-2 * l.config.Window)
	for _, tier := range []map[string]*bucket{l.global, l.auth} {
		for source, b := range tier {
			if b.lastSeen.Before(cutoff) && b.blockedUntil.Before(cutoff) {
				delete(tier, source)
			}
		}
	}
}
