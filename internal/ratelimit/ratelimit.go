// Package ratelimit provides optional per-client-IP token bucket rate
// limiting. The gateway is a pass-through with no quota of its own, so the
// limiter exists to protect the upstreams from a single abusive client;
// it is disabled by default.
package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tunegate/tunegate/internal/config"
	"github.com/tunegate/tunegate/internal/metrics"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks per-client rate limiters and performs periodic cleanup
// of stale entries.
type Limiter struct {
	mu           sync.RWMutex
	enabled      bool
	clients      map[string]*client
	rate         rate.Limit
	burst        int
	trustedCIDRs []*net.IPNet
	logger       *slog.Logger
	stopCh       chan struct{}
}

var errBodyTooManyRequests = []byte("Too many requests\n")

// New creates a Limiter. trustedProxies is a list of CIDR strings whose
// X-Forwarded-For headers are trusted when resolving the client IP.
// A background goroutine cleans up stale buckets every minute.
func New(cfg config.RateLimitConfig, trustedProxies []string, logger *slog.Logger) *Limiter {
	l := &Limiter{
		enabled:      cfg.Enabled,
		clients:      make(map[string]*client),
		rate:         rate.Limit(cfg.RequestsPerSecond),
		burst:        cfg.BurstSize,
		trustedCIDRs: parseCIDRs(trustedProxies, logger),
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func parseCIDRs(cidrs []string, logger *slog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("invalid trusted proxy CIDR, skipping", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// Stop terminates the background cleanup goroutine.
func (l *Limiter) Stop() {
	close(l.stopCh)
}

// UpdateConfig hot-reloads the limiter settings. Existing buckets are
// cleared so new limits take effect immediately.
func (l *Limiter) UpdateConfig(cfg config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.enabled = cfg.Enabled
	l.rate = rate.Limit(cfg.RequestsPerSecond)
	l.burst = cfg.BurstSize
	l.clients = make(map[string]*client)
}

// Middleware returns an HTTP middleware that enforces the rate limit.
// Preflights never count against the quota: rejecting an OPTIONS request
// would break the CORS contract for a client that is otherwise in budget.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l.mu.RLock()
			enabled := l.enabled
			limit := l.rate
			l.mu.RUnlock()

			if !enabled || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ip := l.clientIP(r)
			if !l.getLimiter(ip).Allow() {
				l.logger.Warn("rate limit exceeded", "client_ip", ip, "path", r.URL.Path)
				metrics.RateLimitHits.Inc()
				w.Header().Set("Retry-After", strconv.FormatFloat(1.0/float64(limit), 'f', 0, 64))
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Header().Set("Access-Control-Allow-Origin", "*")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write(errBodyTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the real client IP. X-Forwarded-For is only trusted when
// the direct peer (RemoteAddr) is in the trusted proxies list.
func (l *Limiter) clientIP(r *http.Request) string {
	peerIP := extractIP(r.RemoteAddr)

	if len(l.trustedCIDRs) > 0 && l.isTrusted(peerIP) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Walk right-to-left, return first non-trusted IP
			parts := strings.Split(xff, ",")
			for i := len(parts) - 1; i >= 0; i-- {
				ip := strings.TrimSpace(parts[i])
				if ip != "" && !l.isTrusted(ip) {
					return ip
				}
			}
		}
	}

	return peerIP
}

func (l *Limiter) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range l.trustedCIDRs {
		if cidr.Contains(ip) {
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

// getLimiter returns or creates a rate limiter for the given client IP.
// Read-lock for existing clients (common path), write-lock only for new
// insertions. rate.Limiter is internally goroutine-safe.
func (l *Limiter) getLimiter(ip string) *rate.Limiter {
	l.mu.RLock()
	if c, exists := l.clients[ip]; exists {
		if time.Since(c.lastSeen) > time.Minute {
			l.mu.RUnlock()
			l.mu.Lock()
			c.lastSeen = time.Now()
			l.mu.Unlock()
		} else {
			l.mu.RUnlock()
		}
		return c.limiter
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if c, exists := l.clients[ip]; exists {
		c.lastSeen = time.Now()
		return c.limiter
	}

	limiter := rate.NewLimiter(l.rate, l.burst)
	l.clients[ip] = &client{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

// Entry is one client bucket in a Snapshot.
type Entry struct {
	IP       string    `json:"ip"`
	Tokens   float64   `json:"tokens"`
	LastSeen time.Time `json:"last_seen"`
}

// Snapshot returns the current client buckets for the admin API.
func (l *Limiter) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]Entry, 0, len(l.clients))
	for ip, c := range l.clients {
		entries = append(entries, Entry{
			IP:       ip,
			Tokens:   c.limiter.Tokens(),
			LastSeen: c.lastSeen,
		})
	}
	return entries
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			for ip, c := range l.clients {
				if time.Since(c.lastSeen) > 3*time.Minute {
					delete(l.clients, ip)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}
