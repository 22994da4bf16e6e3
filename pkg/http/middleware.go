package http

import (
	"log"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"emotion-detector/pkg/metrics"
)

// requestMetrics labels each request with its route pattern. Requests the mux
// never saw, such as rate-limited ones, are resolved against it afterwards.
func requestMetrics(mux *http.ServeMux, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			_, path = mux.Handler(r)
		}
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(path, r.Method, rec.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// logrusErrorLog routes net/http's internal errors into logrus
func logrusErrorLog(logger *logrus.Logger) *log.Logger {
	return log.New(logger.WriterLevel(logrus.WarnLevel), "", 0)
}
