// Package gateway classifies inbound requests and dispatches them to the
// audio proxy or the metadata translator. Per request it reaches exactly one
// of three terminal states: preflight response, method rejection, or a
// single upstream dispatch.
package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tunegate/tunegate/internal/httperror"
	"github.com/tunegate/tunegate/internal/metrics"
)

// Handler is the gateway's single public endpoint.
type Handler struct {
	audio http.Handler
	meta  http.Handler
}

// New creates the router over the two dispatch targets.
func New(audio, meta http.Handler) *Handler {
	return &Handler{audio: audio, meta: meta}
}

// ServeHTTP implements the request classification:
//
//	OPTIONS                  → 204 preflight, fixed CORS headers
//	method ∉ {GET,HEAD}      → 405, no upstream contact
//	`target` param present   → audio proxy
//	otherwise                → metadata translator
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method == http.MethodOptions {
		writePreflight(w)
		observe("preflight", r.Method, http.StatusNoContent, start)
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httperror.MethodNotAllowed(w)
		observe("rejected", r.Method, http.StatusMethodNotAllowed, start)
		return
	}

	mode := "meta"
	next := h.meta
	if r.URL.Query().Has("target") {
		mode = "audio"
		next = h.audio
	}

	rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	next.ServeHTTP(rec, r)
	observe(mode, r.Method, rec.statusCode, start)
}

// writePreflight answers CORS preflights without touching any upstream.
// The header set is fixed by the endpoint contract.
func writePreflight(w http.ResponseWriter) {
	head := w.Header()
	head.Set("Access-Control-Allow-Origin", "*")
	head.Set("Access-Control-Allow-Methods", "GET,HEAD,OPTIONS")
	head.Set("Access-Control-Allow-Headers", "*")
	head.Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

func observe(mode, method string, status int, start time.Time) {
	metrics.RequestsTotal.WithLabelValues(mode, method, strconv.Itoa(status)).Inc()
	metrics.RequestDuration.WithLabelValues(mode, method).Observe(time.Since(start).Seconds())
}

// statusRecorder captures the dispatched handler's status code for metrics
// while writing straight through to the client.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}
