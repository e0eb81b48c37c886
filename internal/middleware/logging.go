// Package middleware provides common HTTP middleware for the gateway:
// structured access logging, panic recovery, request IDs, and security
// headers.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// countingRecorder captures the status code and the number of body bytes
// written. Bytes matter here: audio responses are streams and the access
// log is the only place their size shows up.
type countingRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int64
	written    bool
}

func (cr *countingRecorder) WriteHeader(code int) {
	if !cr.written {
		cr.statusCode = code
		cr.written = true
	}
	cr.ResponseWriter.WriteHeader(code)
}

func (cr *countingRecorder) Write(b []byte) (int, error) {
	if !cr.written {
		cr.statusCode = http.StatusOK
		cr.written = true
	}
	n, err := cr.ResponseWriter.Write(b)
	cr.bytes += int64(n)
	return n, err
}

// Logging returns middleware that logs each request as structured JSON:
// method, path, mode, status, bytes, latency, client address, request ID.
// Bodies are never logged — audio bodies are binary streams and metadata
// bodies belong to the upstream.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rec := &countingRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"mode", requestMode(r),
				"status", rec.statusCode,
				"bytes", rec.bytes,
				"latency_ms", time.Since(start).Milliseconds(),
				"client_ip", r.RemoteAddr,
				"request_id", GetRequestID(r.Context()),
			)
		})
	}
}

// requestMode mirrors the router's classification for log correlation.
func requestMode(r *http.Request) string {
	if r.Method == http.MethodOptions {
		return "preflight"
	}
	if r.URL.Query().Has("target") {
		return "audio"
	}
	return "meta"
}
