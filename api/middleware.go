package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/illenko/relicwatch/api/helpers"
	"github.com/illenko/relicwatch/metrics"
)

const (
	requestTimeout        = 30 * time.Second
	refreshRequestTimeout = 5 * time.Minute
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func withMiddleware(next http.Handler, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic recovered", "error", err, "path", r.URL.Path)
				helpers.WriteError(sw, http.StatusInternalServerError, "internal server error")
			}
			m.ObserveHTTP(r.Method, sw.status, time.Since(start))
		}()

		sw.Header().Set("Access-Control-Allow-Origin", "*")
		sw.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		sw.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			sw.WriteHeader(http.StatusOK)
			return
		}

		timeout := requestTimeout
		if r.URL.Path == "/api/cache/refresh" {
			timeout = refreshRequestTimeout
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		next.ServeHTTP(sw, r.WithContext(ctx))

		slog.Debug("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}
