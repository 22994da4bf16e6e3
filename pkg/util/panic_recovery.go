// Package util holds process plumbing shared by the server binaries.
package util

import (
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"emotion-detector/pkg/correlation"
	"emotion-detector/pkg/errors"
)

// PanicHandler provides centralized panic recovery and logging
type PanicHandler struct {
	logger *logrus.Logger
}

// NewPanicHandler creates a new panic handler
func NewPanicHandler(logger *logrus.Logger) *PanicHandler {
	return &PanicHandler{logger: logger}
}

// Recover must be deferred directly. It logs a panic with its stack and
// swallows it.
func (ph *PanicHandler) Recover(component string) {
	if r := recover(); r != nil {
		ph.report(component, r, logrus.Fields{})
	}
}

// SafeGo starts a goroutine whose panics are logged rather than fatal
func (ph *PanicHandler) SafeGo(component string, fn func()) {
	go func() {
		defer ph.Recover(component)
		fn()
	}()
}

// Middleware turns a panicking handler into a 500 response
func (ph *PanicHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			fields := correlation.Fields(r.Context())
			fields["path"] = r.URL.Path
			fields["method"] = r.Method
			ph.report("http", rec, fields)

			errors.WriteError(w, errors.NewInternalError("internal server error", fmt.Errorf("panic: %v", rec)))
		}()
		next.ServeHTTP(w, r)
	})
}

func (ph *PanicHandler) report(component string, value interface{}, fields logrus.Fields) {
	if ph.logger == nil {
		return
	}

	var caller string
	if pc, file, line, ok := runtime.Caller(3); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fmt.Sprintf("%s:%d %s", file, line, fn.Name())
		} else {
			caller = fmt.Sprintf("%s:%d", file, line)
		}
	}

	fields["component"] = component
	fields["panic_value"] = value
	fields["caller"] = caller
	fields["stack_trace"] = string(debug.Stack())
	ph.logger.WithFields(fields).Error("Panic recovered")
}
