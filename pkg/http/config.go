package http

import (
	"crypto/tls"
	"time"
)

// Config holds the HTTP server configuration
type Config struct {
	// Port is the HTTP server port
	Port int

	// EnableMetrics exposes the Prometheus endpoint at /metrics
	EnableMetrics bool

	// ReadTimeout bounds reading the whole request, upload included
	ReadTimeout time.Duration

	// WriteTimeout bounds writing the response, inference included
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration

	// MaxUploadBytes caps the request body; 0 leaves it unbounded
	MaxUploadBytes int64

	// TLS enables HTTPS when non-nil
	TLS *tls.Config
}

// DefaultConfig returns default configuration for the HTTP server
func DefaultConfig() *Config {
	return &Config{
		Port:          8501,
		EnableMetrics: true,
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  2 * time.Minute,
		IdleTimeout:   60 * time.Second,
	}
}
