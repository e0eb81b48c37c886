// Package health provides liveness and readiness probe HTTP handlers.
// Readiness checks reachability of the metadata upstream only: audio hosts
// are a client-chosen set and dialling them from the probe path would turn
// every /ready poll into a fan-out.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

const readinessCacheTTL = 5 * time.Second

// Handler provides /health and /ready endpoints.
type Handler struct {
	upstreamHost string // host:port of the metadata API
	logger       *slog.Logger

	// Cached readiness result so /ready polls do not dial the upstream
	// more than once per TTL. Protected by cacheMu.
	cacheMu      sync.RWMutex
	cachedResult []byte
	cachedStatus int
	cachedAt     time.Time
}

// New creates a health Handler probing the given metadata API base URL.
func New(apiBase string, logger *slog.Logger) *Handler {
	host := ""
	if u, err := url.Parse(apiBase); err == nil {
		host = u.Host
		if !hasPort(host) {
			switch u.Scheme {
			case "https":
				host += ":443"
			default:
				host += ":80"
			}
		}
	}
	return &Handler{upstreamHost: host, logger: logger}
}

// RegisterRoutes adds the probe routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.liveness)
	mux.HandleFunc("/ready", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	h.cacheMu.RLock()
	if h.cachedResult != nil && time.Since(h.cachedAt) < readinessCacheTTL {
		body := h.cachedResult
		status := h.cachedStatus
		h.cacheMu.RUnlock()
		writeCached(w, status, body)
		return
	}
	h.cacheMu.RUnlock()

	upstreamStatus := "ok"
	httpStatus := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", h.upstreamHost)
	cancel()
	if err != nil {
		h.logger.Warn("metadata upstream unreachable", "host", h.upstreamHost, "error", err)
		upstreamStatus = "unreachable"
		httpStatus = http.StatusServiceUnavailable
	} else {
		conn.Close()
	}

	body, _ := json.Marshal(map[string]string{
		"status":   readyWord(httpStatus),
		"upstream": upstreamStatus,
	})
	body = append(body, '\n')

	h.cacheMu.Lock()
	h.cachedResult = body
	h.cachedStatus = httpStatus
	h.cachedAt = time.Now()
	h.cacheMu.Unlock()

	writeCached(w, httpStatus, body)
}

func writeCached(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func readyWord(status int) string {
	if status == http.StatusOK {
		return "ready"
	}
	return "not ready"
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}
