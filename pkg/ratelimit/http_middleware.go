package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"emotion-detector/pkg/correlation"
	"emotion-detector/pkg/errors"
	"emotion-detector/pkg/metrics"
)

// HTTPMiddleware provides rate limiting for HTTP requests
type HTTPMiddleware struct {
	limiter          *Limiter
	config           *Config
	logger           *logrus.Logger
	whitelistedIPs   map[string]bool
	whitelistedNets  []*net.IPNet
	whitelistedPaths map[string]bool
}

// NewHTTPMiddleware creates a new HTTP rate limiting middleware
func NewHTTPMiddleware(config *Config, logger *logrus.Logger) *HTTPMiddleware {
	if config == nil {
		config = DefaultConfig()
	}

	m := &HTTPMiddleware{
		limiter:          NewLimiter(config.RequestsPerSecond, config.BurstSize, logger),
		config:           config,
		logger:           logger,
		whitelistedIPs:   make(map[string]bool),
		whitelistedPaths: make(map[string]bool),
	}

	for _, ip := range config.WhitelistedIPs {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			continue
		}
		if strings.Contains(ip, "/") {
			_, ipNet, err := net.ParseCIDR(ip)
			if err != nil {
				logger.WithError(err).Warnf("Invalid CIDR in whitelist: %s", ip)
				continue
			}
			m.whitelistedNets = append(m.whitelistedNets, ipNet)
		} else {
			m.whitelistedIPs[ip] = true
		}
	}

	for _, path := range config.WhitelistedPaths {
		if path = strings.TrimSpace(path); path != "" {
			m.whitelistedPaths[path] = true
		}
	}

	if config.Enabled {
		logger.WithFields(logrus.Fields{
			"rps":               config.RequestsPerSecond,
			"burst":             config.BurstSize,
			"whitelisted_ips":   len(m.whitelistedIPs) + len(m.whitelistedNets),
			"whitelisted_paths": len(m.whitelistedPaths),
		}).Info("HTTP rate limiting middleware initialized")
	}

	return m
}

// Middleware returns an HTTP middleware function that applies rate limiting
func (m *HTTPMiddleware) Middleware(next http.Handler) http.Handler {
	if !m.config.Enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := correlation.ClientIP(r)

		if m.isPathWhitelisted(r.URL.Path) || m.isIPWhitelisted(clientIP) {
			metrics.RecordRateLimitEvent("bypass")
			next.ServeHTTP(w, r)
			return
		}

		limit := strconv.FormatFloat(m.config.RequestsPerSecond, 'f', -1, 64)

		if !m.limiter.Allow(clientIP) {
			correlation.Entry(r.Context(), m.logger).WithFields(logrus.Fields{
				"path":   r.URL.Path,
				"method": r.Method,
			}).Warn("Rate limit exceeded")

			if !m.limiter.IsBlocked(clientIP) && m.config.BlockDuration > 0 {
				m.limiter.Block(clientIP, m.config.BlockDuration)
				metrics.RecordRateLimitEvent("block")
			}
			metrics.RecordRateLimitEvent("reject")

			retryAfter := int(m.config.BlockDuration.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", "0")
			errors.WriteError(w, errors.NewResourceExhausted("rate limit exceeded, please retry later",
				map[string]interface{}{"client_ip": clientIP}))
			return
		}

		w.Header().Set("X-RateLimit-Limit", limit)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(m.limiter.Tokens(clientIP))))
		metrics.RecordRateLimitEvent("allow")

		next.ServeHTTP(w, r)
	})
}

// Close releases the limiter's background loop
func (m *HTTPMiddleware) Close() {
	m.limiter.Close()
}

// Limiter returns the underlying limiter
func (m *HTTPMiddleware) Limiter() *Limiter {
	return m.limiter
}

func (m *HTTPMiddleware) isIPWhitelisted(ip string) bool {
	if m.whitelistedIPs[ip] {
		return true
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}
	for _, ipNet := range m.whitelistedNets {
		if ipNet.Contains(parsedIP) {
			return true
		}
	}
	return false
}

// isPathWhitelisted matches exact paths and prefixes written as "/prefix*"
func (m *HTTPMiddleware) isPathWhitelisted(path string) bool {
	if m.whitelistedPaths[path] {
		return true
	}
	for p := range m.whitelistedPaths {
		if prefix, ok := strings.CutSuffix(p, "*"); ok && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
