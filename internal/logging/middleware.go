package logging

import (
	"net/http"
	"time"
)

// statusWriter wraps http.ResponseWriter to capture status code.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware logs every request served by the worker's HTTP endpoints
// (metrics scrapes) at debug level, tagged with the worker's run context.
func Middleware(logger *Logger, run func() *RunInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sw, r.WithContext(ContextWithStartTime(r.Context(), start)))

			l := logger
			if run != nil {
				if info := run(); info != nil {
					l = l.WithRunInfo(info)
				}
			}
			l.Debug("request served",
				"status", sw.statusCode,
				"method", r.Method,
				"path", r.URL.Path,
				"elapsed_ms", float64(time.Since(start).Microseconds())/1000.0,
			)
		})
	}
}
