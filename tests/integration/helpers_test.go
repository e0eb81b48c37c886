package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tunegate/tunegate/internal/audio"
	"github.com/tunegate/tunegate/internal/auth"
	"github.com/tunegate/tunegate/internal/config"
	"github.com/tunegate/tunegate/internal/gateway"
	"github.com/tunegate/tunegate/internal/meta"
	"github.com/tunegate/tunegate/internal/metrics"
	"github.com/tunegate/tunegate/internal/middleware"
	"github.com/tunegate/tunegate/internal/ratelimit"
	"github.com/tunegate/tunegate/internal/target"
)

const (
	jwtSecret = "integration-test-secret-key-32chars!!"
	jwtIssuer = "https://auth.example.com"
	jwtAud    = "tunegate"
)

func init() {
	metrics.Init()
}

// stack assembles the full middleware chain the way the main binary does,
// against the given metadata upstream and audio allow-list.
func stack(t *testing.T, cfg *config.Config, apiBase string, patterns []target.Pattern) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	upstream := cfg.Upstream
	upstream.APIBase = apiBase

	metaProxy := meta.New(upstream, nil, logger)
	audioProxy := audio.New(patterns, upstream.FallbackUserAgent, nil, logger)
	router := gateway.New(audioProxy, metaProxy)

	limiter := ratelimit.New(cfg.RateLimit, cfg.Server.TrustedProxies, logger)
	t.Cleanup(limiter.Stop)

	var handler http.Handler = router
	handler = auth.Middleware(cfg.Auth, logger)(handler)
	handler = limiter.Middleware()(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)
	return handler
}

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromBytes(nil)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

// metadataStub echoes the received query back as JSON, so parameter
// translation and signing are observable from the response body.
func metadataStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "upstream=1")
		json.NewEncoder(w).Encode(map[string]string{
			"server": q.Get("server"),
			"type":   q.Get("type"),
			"id":     q.Get("id"),
			"auth":   q.Get("auth"),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

var trackBytes = func() []byte {
	b := make([]byte, 128*1024)
	for i := range b {
		b[i] = byte(i * 31)
	}
	return b
}()

// audioStub serves a synthetic range-capable track and records the last
// request headers it saw.
func audioStub(t *testing.T) (*httptest.Server, *http.Header) {
	t.Helper()
	var seen http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Set-Cookie", "cdn=1")
		http.ServeContent(w, r, "track.mp3", time.Time{}, bytes.NewReader(trackBytes))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

// loopbackPatterns allows httptest servers (127.0.0.1) as audio targets.
func loopbackPatterns() []target.Pattern {
	return []target.Pattern{{Kind: target.KindContains, Value: "127.0.0.1"}}
}

func get(t *testing.T, h http.Handler, rawURL string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", rawURL, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func parseJSON(t *testing.T, data []byte) map[string]string {
	t.Helper()
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("parsing JSON %q: %v", string(data), err)
	}
	return m
}

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func targetURL(base string) string {
	return "/?target=" + url.QueryEscape(base+"/audio/track.mp3")
}
