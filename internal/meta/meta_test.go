package meta

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/tunegate/tunegate/internal/config"
	"github.com/tunegate/tunegate/internal/signature"
)

func testUpstream(secret string) config.UpstreamConfig {
	return config.UpstreamConfig{
		APIBase:       "https://meta.example/api",
		Secret:        secret,
		DefaultSource: "netease",
	}
}

func parseQuery(t *testing.T, rawURL string) url.Values {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	return u.Query()
}

func TestTranslate_Search(t *testing.T) {
	p := New(testUpstream("s"), nil, slog.Default())

	q := parseQuery(t, "/?"+url.Values{"types": {"search"}, "name": {"Adele"}}.Encode())
	got := parseQuery(t, p.Translate(q))

	if got.Get("type") != "search" {
		t.Errorf("type = %q, want search", got.Get("type"))
	}
	if got.Get("id") != "Adele" {
		t.Errorf("id = %q, want Adele (from name)", got.Get("id"))
	}
	if got.Get("server") != "netease" {
		t.Errorf("server = %q, want default netease", got.Get("server"))
	}
	if got.Has("auth") {
		t.Errorf("search must not carry auth, got %q", got.Get("auth"))
	}
}

func TestTranslate_SignedTypes(t *testing.T) {
	secret := "shared"
	p := New(testUpstream(secret), nil, slog.Default())
	signer := signature.New(secret)

	tests := []struct {
		types, upstreamType string
	}{
		{"url", "url"},
		{"lyric", "lrc"},
		{"pic", "pic"},
	}

	for _, tt := range tests {
		t.Run(tt.types, func(t *testing.T) {
			q := url.Values{"types": {tt.types}, "id": {"12345"}, "source": {"tencent"}}
			got := parseQuery(t, p.Translate(q))

			if got.Get("type") != tt.upstreamType {
				t.Errorf("type = %q, want %q", got.Get("type"), tt.upstreamType)
			}
			if got.Get("id") != "12345" {
				t.Errorf("id = %q, want 12345", got.Get("id"))
			}
			if got.Get("server") != "tencent" {
				t.Errorf("server = %q, want tencent", got.Get("server"))
			}
			want := signer.Sign("tencent", tt.upstreamType, "12345")
			if got.Get("auth") != want {
				t.Errorf("auth = %q, want computed %q", got.Get("auth"), want)
			}
		})
	}
}

func TestTranslate_ClientAuthPassesThrough(t *testing.T) {
	p := New(testUpstream("shared"), nil, slog.Default())

	q := url.Values{"types": {"url"}, "id": {"12345"}, "auth": {"deadbeef"}}
	got := parseQuery(t, p.Translate(q))

	if got.Get("auth") != "deadbeef" {
		t.Errorf("auth = %q, want client-supplied deadbeef", got.Get("auth"))
	}
}

func TestTranslate_MissingIDSendsEmptyKey(t *testing.T) {
	p := New(testUpstream("s"), nil, slog.Default())

	got := parseQuery(t, p.Translate(url.Values{"types": {"url"}}))

	// The upstream must receive the keys even when empty.
	if !got.Has("id") {
		t.Error("id key omitted, want present with empty value")
	}
	if got.Get("id") != "" {
		t.Errorf("id = %q, want empty", got.Get("id"))
	}
	if !got.Has("type") {
		t.Error("type key omitted")
	}
}

func TestTranslate_UnrecognizedTypesDegrades(t *testing.T) {
	p := New(testUpstream("s"), nil, slog.Default())

	got := parseQuery(t, p.Translate(url.Values{"types": {"playlist"}, "id": {"99"}}))

	if got.Has("type") || got.Has("id") {
		t.Errorf("unrecognized types must leave type/id unset, got type=%q id=%q",
			got.Get("type"), got.Get("id"))
	}
	if got.Get("server") != "netease" {
		t.Errorf("server = %q, want default", got.Get("server"))
	}
}

func TestTranslate_BaseWithExistingQuery(t *testing.T) {
	cfg := testUpstream("s")
	cfg.APIBase = "https://meta.example/api?v=2"
	p := New(cfg, nil, slog.Default())

	raw := p.Translate(url.Values{"types": {"search"}, "name": {"x"}})
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if u.Query().Get("v") != "2" {
		t.Errorf("base query lost: %q", raw)
	}
	if u.Query().Get("type") != "search" {
		t.Errorf("translated params lost: %q", raw)
	}
}

func TestServeHTTP_ForwardsBodyAndStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "upstream=secret")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"result":[]}`)
	}))
	defer upstream.Close()

	cfg := testUpstream("s")
	cfg.APIBase = upstream.URL
	p := New(cfg, nil, slog.Default())

	req := httptest.NewRequest("GET", "/?types=search&name=Adele", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Body.String() != `{"result":[]}` {
		t.Errorf("body = %q, want verbatim upstream body", rec.Body.String())
	}
	if rec.Header().Get("Set-Cookie") != "" {
		t.Error("Set-Cookie leaked through the header filter")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store fallback", rec.Header().Get("Cache-Control"))
	}
}

func TestServeHTTP_UpstreamStatusPassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	cfg := testUpstream("s")
	cfg.APIBase = upstream.URL
	p := New(cfg, nil, slog.Default())

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/?types=search&name=x", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want upstream 503 passed through", rec.Code)
	}
}

func TestServeHTTP_ForcesJSONContentType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No Content-Type set; suppress sniffing by writing header first.
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	cfg := testUpstream("s")
	cfg.APIBase = upstream.URL
	p := New(cfg, nil, slog.Default())

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/?types=search&name=x", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want forced JSON", ct)
	}
}

func TestServeHTTP_FollowsUpstreamRedirects(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"redirected":true}`)
	}))
	defer final.Close()

	redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer redirecting.Close()

	cfg := testUpstream("s")
	cfg.APIBase = redirecting.URL
	p := New(cfg, nil, slog.Default())

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/?types=search&name=x", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 after transparent redirect", rec.Code)
	}
	if rec.Body.String() != `{"redirected":true}` {
		t.Errorf("body = %q, redirect not followed", rec.Body.String())
	}
}

func TestServeHTTP_TransportFailureIs502(t *testing.T) {
	cfg := testUpstream("s")
	// Closed port: transport error, no upstream response to forward.
	cfg.APIBase = "http://127.0.0.1:1/api"
	p := New(cfg, nil, slog.Default())

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest("GET", "/?types=search&name=x", nil))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}
