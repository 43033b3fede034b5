package metrics

import (
	"net/http"
	"time"
)

// HTTPMetricsMiddleware records duration and status for every request under
// a fixed handler name, which keeps label cardinality independent of path
// parameters such as signatures.
func HTTPMetricsMiddleware(m *Metrics, handlerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			defer Timer(time.Now(), func(duration float64) {
				m.RecordHTTPRequest(handlerName, r.Method, wrapped.statusCode, duration)
			})()

			next.ServeHTTP(wrapped, r)
		})
	}
}

// responseWriter captures the status code written by the wrapped handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Flush keeps streaming responses working through the wrapper.
func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
