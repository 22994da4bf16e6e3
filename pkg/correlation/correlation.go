// Package correlation tags every web request with an ID that follows the
// upload through decoding, inference, logs and the response headers.
package correlation

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// HTTPHeader carries the request ID in both directions
	HTTPHeader = "X-Request-ID"

	// HTTPCorrelationHeader is accepted from upstream proxies
	HTTPCorrelationHeader = "X-Correlation-ID"

	maxIncomingIDLength = 128
)

type contextKey int

const (
	requestIDKey contextKey = iota
	clientIPKey
	startTimeKey
)

// ID identifies one request
type ID string

func (id ID) String() string { return string(id) }

// IsEmpty reports whether the ID is unset
func (id ID) IsEmpty() bool { return id == "" }

// New generates a fresh request ID
func New() ID {
	return ID(uuid.NewString())
}

// Sanitize accepts an upstream ID only if it is short and printable
func Sanitize(raw string) ID {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxIncomingIDLength {
		return ""
	}
	for _, r := range raw {
		if r < 0x21 || r > 0x7e {
			return ""
		}
	}
	return ID(raw)
}

// WithID attaches a request ID to ctx
func WithID(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// FromContext returns the request ID, or an empty ID when none is attached
func FromContext(ctx context.Context) ID {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(ID)
	return id
}

// ClientIPFromContext returns the client address recorded by the middleware
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// StartTimeFromContext returns when the middleware first saw the request
func StartTimeFromContext(ctx context.Context) (time.Time, bool) {
	if ctx == nil {
		return time.Time{}, false
	}
	t, ok := ctx.Value(startTimeKey).(time.Time)
	return t, ok
}

// Fields returns the logging fields for the request carried by ctx
func Fields(ctx context.Context) logrus.Fields {
	fields := logrus.Fields{}
	if id := FromContext(ctx); !id.IsEmpty() {
		fields["request_id"] = id.String()
	}
	if ip := ClientIPFromContext(ctx); ip != "" {
		fields["client_ip"] = ip
	}
	return fields
}

// Entry returns a log entry tagged with the request fields from ctx
func Entry(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithFields(Fields(ctx))
}

// Middleware attaches a request ID, echoes it in the response and logs the
// outcome of every request.
func Middleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := Sanitize(r.Header.Get(HTTPHeader))
			if id.IsEmpty() {
				id = Sanitize(r.Header.Get(HTTPCorrelationHeader))
			}
			if id.IsEmpty() {
				id = New()
			}

			ctx := WithID(r.Context(), id)
			ctx = context.WithValue(ctx, clientIPKey, ClientIP(r))
			ctx = context.WithValue(ctx, startTimeKey, start)
			r = r.WithContext(ctx)

			w.Header().Set(HTTPHeader, id.String())

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if logger == nil {
				return
			}
			entry := logger.WithFields(Fields(ctx)).WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			switch {
			case rec.status >= 500:
				entry.Error("HTTP request completed with server error")
			case rec.status >= 400:
				entry.Warn("HTTP request completed with client error")
			default:
				entry.Debug("HTTP request completed")
			}
		})
	}
}

// ClientIP returns the originating address, preferring proxy headers
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
