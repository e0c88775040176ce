package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/passwordkeyorg/mail-file-transport/internal/metrics"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps the notification stream working through the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func instrument(m metrics.APIMetrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(sw, r)
		dur := time.Since(start).Seconds()

		path := routeLabel(r.URL.Path)
		m.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path).Observe(dur)
	})
}

// routeLabel collapses monitor and attribute names so label cardinality
// stays bounded.
func routeLabel(path string) string {
	switch path {
	case "/healthz", "/v1/monitors", "/v1/messages":
		return path
	}
	rest, ok := strings.CutPrefix(path, "/v1/monitors/")
	if !ok {
		return "other"
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		return "other"
	}
	switch parts[1] {
	case "attributes":
		if len(parts) > 2 {
			return "/v1/monitors/{name}/attributes/{attr}"
		}
		return "/v1/monitors/{name}/attributes"
	case "reset":
		return "/v1/monitors/{name}/reset"
	case "notifications":
		return "/v1/monitors/{name}/notifications"
	}
	return "other"
}
