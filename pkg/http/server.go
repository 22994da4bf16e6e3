// Package http serves the upload page, the JSON API and the operational
// endpoints of the emotion detector.
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"emotion-detector/pkg/correlation"
	"emotion-detector/pkg/detector"
	"emotion-detector/pkg/metrics"
	"emotion-detector/pkg/model"
	"emotion-detector/pkg/util"
	"emotion-detector/pkg/version"
)

// Analyzer runs the detection pipeline on one upload
type Analyzer interface {
	Analyze(ctx context.Context, upload detector.Upload) (*detector.Report, error)
}

// ModelStatus exposes the model loader's outcome
type ModelStatus interface {
	State() model.State
	Model() (*model.Model, error)
}

// DecoderProbe reports whether the external decoder can be used
type DecoderProbe interface {
	Available(ctx context.Context) bool
	Path() string
}

// Middleware wraps a handler
type Middleware interface {
	Middleware(next http.Handler) http.Handler
}

// Dependencies are the components the server renders and drives
type Dependencies struct {
	Analyzer Analyzer
	Model    ModelStatus
	ModelDir string

	// Decoder is optional; without it the health check omits ffmpeg
	Decoder DecoderProbe

	// RateLimit is optional
	RateLimit Middleware
}

// Server represents the web server
type Server struct {
	config     *Config
	logger     *logrus.Logger
	deps       Dependencies
	httpServer *http.Server
	mux        *http.ServeMux
	pages      *pages
	startTime  time.Time
}

// NewServer creates a new HTTP server instance
func NewServer(logger *logrus.Logger, config *Config, deps Dependencies) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p, err := newPages()
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:    config,
		logger:    logger,
		deps:      deps,
		mux:       http.NewServeMux(),
		pages:     p,
		startTime: time.Now(),
	}

	s.routes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
		TLSConfig:    config.TLS,
		ErrorLog:     logrusErrorLog(logger),
	}

	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.indexHandler)
	s.mux.HandleFunc("POST /analyze", s.analyzePageHandler)
	s.mux.HandleFunc("POST /api/v1/analyze", s.analyzeAPIHandler)
	s.mux.HandleFunc("GET /api/v1/labels", s.labelsHandler)
	s.mux.HandleFunc("GET /health", s.HealthHandler)
	s.mux.HandleFunc("GET /health/live", s.LivenessHandler)
	s.mux.HandleFunc("GET /health/ready", s.ReadinessHandler)
	s.mux.HandleFunc("GET /status", s.statusHandler)
	s.mux.Handle("GET /static/", http.FileServerFS(assets))

	if s.config.EnableMetrics {
		s.mux.Handle("GET "+metrics.MetricsPath(), metrics.Handler())
		s.logger.WithField("path", metrics.MetricsPath()).Info("Prometheus metrics endpoint enabled")
	} else {
		s.logger.Info("Metrics endpoint disabled")
	}
}

// Handler returns the mux wrapped in the middleware chain, outermost first:
// correlation id, Server header, panic recovery, request metrics, then rate
// limiting. Rejected requests are still counted.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if s.deps.RateLimit != nil {
		h = s.deps.RateLimit.Middleware(h)
	}
	h = requestMetrics(s.mux, h)
	h = util.NewPanicHandler(s.logger).Middleware(h)
	h = serverHeader(h)
	return correlation.Middleware(s.logger)(h)
}

// Start serves in the background. The returned channel yields the serve
// error, if any, and is closed when the server stops.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		errCh <- fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
		close(errCh)
		return errCh
	}

	util.NewPanicHandler(s.logger).SafeGo("http-server", func() {
		defer close(errCh)
		if err := s.Serve(ln); err != nil {
			errCh <- err
		}
	})
	return errCh
}

// Serve accepts connections on ln until Shutdown is called
func (s *Server) Serve(ln net.Listener) error {
	scheme := "http"
	if s.config.TLS != nil {
		scheme = "https"
	}
	s.logger.WithFields(logrus.Fields{
		"addr":   ln.Addr().String(),
		"scheme": scheme,
	}).Info("HTTP server listening")

	var err error
	if s.config.TLS != nil {
		err = s.httpServer.ServeTLS(ln, "", "")
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("HTTP server failed")
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

func serverHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", version.ServerHeader())
		next.ServeHTTP(w, r)
	})
}
