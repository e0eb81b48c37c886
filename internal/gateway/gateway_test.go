package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func markerHandler(marker string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Dispatched-To", marker)
		w.WriteHeader(http.StatusOK)
	})
}

func newTestHandler() *Handler {
	return New(markerHandler("audio"), markerHandler("meta"))
}

func TestOptionsPreflight(t *testing.T) {
	h := newTestHandler()

	// Query parameters must not influence preflight handling.
	for _, path := range []string{"/", "/?target=http%3A%2F%2Fkugou.com%2Fx", "/?types=search&name=x"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("OPTIONS %s: status = %d, want 204", path, rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("OPTIONS %s: body = %q, want empty", path, rec.Body.String())
		}

		want := map[string]string{
			"Access-Control-Allow-Origin":  "*",
			"Access-Control-Allow-Methods": "GET,HEAD,OPTIONS",
			"Access-Control-Allow-Headers": "*",
			"Access-Control-Max-Age":       "86400",
		}
		for name, value := range want {
			if got := rec.Header().Get(name); got != value {
				t.Errorf("OPTIONS %s: %s = %q, want %q", path, name, got, value)
			}
		}
		if rec.Header().Get("X-Dispatched-To") != "" {
			t.Errorf("OPTIONS %s dispatched to a proxy", path)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler()

	for _, method := range []string{"POST", "PUT", "DELETE", "PATCH", "TRACE"} {
		req := httptest.NewRequest(method, "/?types=search&name=x", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: status = %d, want 405", method, rec.Code)
		}
		if rec.Body.String() != "Method not allowed\n" {
			t.Errorf("%s: body = %q", method, rec.Body.String())
		}
		if rec.Header().Get("X-Dispatched-To") != "" {
			t.Errorf("%s dispatched to a proxy", method)
		}
	}
}

func TestDispatchByTargetPresence(t *testing.T) {
	h := newTestHandler()

	tests := []struct {
		name, path, want string
	}{
		{"target present routes to audio", "/?target=http%3A%2F%2Fkugou.com%2Fx.mp3", "audio"},
		{"target overrides metadata params", "/?types=search&name=x&target=http%3A%2F%2Fkugou.com%2Fx", "audio"},
		{"empty target value still audio mode", "/?target=", "audio"},
		{"no target routes to meta", "/?types=search&name=Adele", "meta"},
		{"bare request routes to meta", "/", "meta"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if got := rec.Header().Get("X-Dispatched-To"); got != tt.want {
				t.Errorf("dispatched to %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHeadDispatches(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodHead, "/?types=url&id=1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("X-Dispatched-To") != "meta" {
		t.Error("HEAD request not dispatched")
	}
}
