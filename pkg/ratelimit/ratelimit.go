// Package ratelimit throttles uploads per client with token buckets.
package ratelimit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Limiter implements a token bucket rate limiter with per-key tracking
type Limiter struct {
	rate       float64 // tokens per second
	burst      int
	clients    map[string]*bucket
	mu         sync.Mutex
	logger     *logrus.Logger
	cleanupTTL time.Duration
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
	blockUntil time.Time
}

// Config holds rate limiter configuration
type Config struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
	BlockDuration     time.Duration
	CleanupInterval   time.Duration
	WhitelistedIPs    []string
	WhitelistedPaths  []string
}

// DefaultConfig returns the limits used when nothing is configured
func DefaultConfig() *Config {
	return &Config{
		Enabled:           false,
		RequestsPerSecond: 2,
		BurstSize:         10,
		BlockDuration:     time.Minute,
		CleanupInterval:   10 * time.Minute,
		WhitelistedIPs:    []string{"127.0.0.1", "::1"},
		WhitelistedPaths:  []string{"/health", "/health/live", "/health/ready", "/metrics"},
	}
}

// NewLimiter creates a limiter and starts its cleanup loop. Call Close to
// stop the loop.
func NewLimiter(rate float64, burst int, logger *logrus.Logger) *Limiter {
	l := &Limiter{
		rate:       rate,
		burst:      burst,
		clients:    make(map[string]*bucket),
		logger:     logger,
		cleanupTTL: 10 * time.Minute,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// Allow spends one token for key
func (l *Limiter) Allow(key string) bool {
	return l.AllowN(key, 1)
}

// AllowN spends n tokens for key if they are available
func (l *Limiter) AllowN(key string, n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.refill(key, now)

	if now.Before(b.blockUntil) {
		return false
	}

	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return true
	}
	return false
}

// refill must be called with mu held
func (l *Limiter) refill(key string, now time.Time) *bucket {
	b, exists := l.clients[key]
	if !exists {
		b = &bucket{tokens: float64(l.burst), lastUpdate: now}
		l.clients[key] = b
		return b
	}

	b.tokens += now.Sub(b.lastUpdate).Seconds() * l.rate
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.lastUpdate = now
	return b
}

// Block rejects key for the given duration and empties its bucket
func (l *Limiter) Block(key string, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.refill(key, now)
	b.tokens = 0
	b.blockUntil = now.Add(duration)

	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"key":         key,
			"block_until": b.blockUntil,
		}).Warn("Client blocked due to rate limit violation")
	}
}

// IsBlocked reports whether key is inside a block window
func (l *Limiter) IsBlocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.clients[key]
	return exists && l.now().Before(b.blockUntil)
}

// Tokens returns the tokens currently available to key
func (l *Limiter) Tokens(key string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.clients[key]
	if !exists {
		return float64(l.burst)
	}

	tokens := b.tokens + l.now().Sub(b.lastUpdate).Seconds()*l.rate
	if tokens > float64(l.burst) {
		tokens = float64(l.burst)
	}
	return tokens
}

// ClientCount returns the number of tracked clients
func (l *Limiter) ClientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Close stops the cleanup loop
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictStale()
		}
	}
}

// evictStale drops clients that are idle and not blocked
func (l *Limiter) evictStale() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.clients {
		if now.Sub(b.lastUpdate) > l.cleanupTTL && !now.Before(b.blockUntil) {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}
