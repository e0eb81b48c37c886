// Package admin provides read-only admin API endpoints for runtime inspection
// of gateway state. All endpoints are protected by IP allowlist.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/tunegate/tunegate/internal/config"
	"github.com/tunegate/tunegate/internal/ratelimit"
)

// Handler provides admin API endpoints.
type Handler struct {
	provider    ConfigProvider
	limiter     *ratelimit.Limiter
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// ConfigProvider abstracts config access for testability. The hot-reload
// Reloader satisfies it.
type ConfigProvider interface {
	Current() *config.Config
}

// New creates a new admin Handler. The allowlist CIDRs must be pre-validated
// (config validation ensures this).
func New(provider ConfigProvider, limiter *ratelimit.Limiter, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		provider:    provider,
		limiter:     limiter,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/config", h.guard(h.configHandler))
	mux.HandleFunc("/admin/hosts", h.guard(h.hostsHandler))
	mux.HandleFunc("/admin/limiters", h.guard(h.limitersHandler))
}

// guard wraps a handler with IP allowlist checking.
func (h *Handler) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
				"error": "Method Not Allowed",
			})
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Forbidden",
			})
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	cfg := h.provider.Current()

	// Shallow copy and redact secrets. Upstream.Secret is already excluded
	// from serialization by its json tag.
	redacted := *cfg
	if redacted.Auth.JWTSecret != "" {
		redacted.Auth.JWTSecret = "***"
	}

	writeJSON(w, http.StatusOK, redacted)
}

// hostStatus is the response type for /admin/hosts.
type hostStatus struct {
	Pattern   string `json:"pattern"`
	Match     string `json:"match"`
	ForceHTTP bool   `json:"force_http"`
	Referer   string `json:"referer,omitempty"`
}

func (h *Handler) hostsHandler(w http.ResponseWriter, r *http.Request) {
	hosts := h.provider.Current().AudioHosts
	statuses := make([]hostStatus, len(hosts))
	for i, host := range hosts {
		statuses[i] = hostStatus{
			Pattern:   host.Pattern,
			Match:     host.Match,
			ForceHTTP: host.ForceHTTP,
			Referer:   host.Referer,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"hosts": statuses})
}

func (h *Handler) limitersHandler(w http.ResponseWriter, r *http.Request) {
	entries := h.limiter.Snapshot()

	// Pagination: page/page_size from query params.
	pageSize := 100
	page := 0

	if ps := r.URL.Query().Get("page_size"); ps != "" {
		if v := parseInt(ps); v > 0 && v <= 1000 {
			pageSize = v
		}
	}
	if p := r.URL.Query().Get("page"); p != "" {
		if v := parseInt(p); v >= 0 {
			page = v
		}
	}

	total := len(entries)
	start := page * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries[start:end],
		"total":   total,
		"page":    page,
	})
}

func parseInt(s string) int {
	s = strings.TrimSpace(s)
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
