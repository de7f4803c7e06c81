package providers

import (
	"net/http"
	"time"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// RequestMiddleware records request metrics and writes one access log line
// per request into the category of its method.
func RequestMiddleware(metrics MetricsProviderInterface, logger Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		endpoint := r.URL.Path
		metrics.IncRequestsTotal(endpoint, sw.status)
		metrics.ObserveRequestDuration(endpoint, duration)

		logType := GetLogTypeByRequestType(r.Method)
		if sw.status >= http.StatusInternalServerError {
			logger.Errorf(logType, "%s %s -> %d in %s", r.Method, endpoint, sw.status, duration)
			return
		}
		logger.Debugf(logType, "%s %s -> %d in %s", r.Method, endpoint, sw.status, duration)
	})
}
