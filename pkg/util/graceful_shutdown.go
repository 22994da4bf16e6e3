package util

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// GracefulShutdown stops registered resources in priority order
type GracefulShutdown struct {
	resources []ShutdownResource
	mu        sync.Mutex
	logger    *logrus.Logger
	timeout   time.Duration
}

// ShutdownResource is one step of the shutdown sequence
type ShutdownResource struct {
	Name     string
	Shutdown func(context.Context) error
	Priority int // lower numbers shut down first
}

// NewGracefulShutdown creates a shutdown manager. All steps share one
// deadline of timeout.
func NewGracefulShutdown(logger *logrus.Logger, timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GracefulShutdown{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a resource to be shut down
func (gs *GracefulShutdown) Register(resource ShutdownResource) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.resources = append(gs.resources, resource)
	sort.SliceStable(gs.resources, func(i, j int) bool {
		return gs.resources[i].Priority < gs.resources[j].Priority
	})

	gs.logger.WithFields(logrus.Fields{
		"resource": resource.Name,
		"priority": resource.Priority,
	}).Debug("Registered resource for graceful shutdown")
}

// RegisterFunc registers a shutdown step that ignores the deadline
func (gs *GracefulShutdown) RegisterFunc(name string, priority int, fn func() error) {
	gs.Register(ShutdownResource{
		Name:     name,
		Priority: priority,
		Shutdown: func(context.Context) error { return fn() },
	})
}

// Shutdown runs every step in order. A failing or timed out step does not
// stop later steps; all failures are joined into the returned error.
func (gs *GracefulShutdown) Shutdown(ctx context.Context) error {
	gs.mu.Lock()
	resources := append([]ShutdownResource(nil), gs.resources...)
	gs.mu.Unlock()

	gs.logger.WithField("resource_count", len(resources)).Info("Starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, gs.timeout)
	defer cancel()

	var errs []error
	for _, res := range resources {
		if err := gs.stopOne(shutdownCtx, res); err != nil {
			gs.logger.WithError(err).WithField("resource", res.Name).Error("Error shutting down resource")
			errs = append(errs, err)
			continue
		}
		gs.logger.WithField("resource", res.Name).Debug("Resource shut down")
	}

	if len(errs) > 0 {
		return stderrors.Join(errs...)
	}
	gs.logger.Info("Graceful shutdown completed")
	return nil
}

func (gs *GracefulShutdown) stopOne(ctx context.Context, res ShutdownResource) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic during shutdown of %s: %v", res.Name, r)
			}
		}()
		done <- res.Shutdown(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("shutdown %s: %w", res.Name, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown %s: %w", res.Name, ctx.Err())
	}
}
