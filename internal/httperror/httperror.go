// Package httperror centralizes the gateway's error responses. The public
// surface deliberately speaks plain text: error bodies are part of the
// endpoint contract and must stay byte-stable, so they are pre-allocated
// here rather than formatted per call site.
package httperror

import "net/http"

// Stable error bodies. Clients and monitoring match on these strings;
// do not reword them.
const (
	msgMethodNotAllowed    = "Method not allowed"
	msgInvalidTarget       = "Invalid target"
	msgUpstreamUnreachable = "Upstream unreachable"
)

var (
	bodyMethodNotAllowed    = []byte(msgMethodNotAllowed + "\n")
	bodyInvalidTarget       = []byte(msgInvalidTarget + "\n")
	bodyUpstreamUnreachable = []byte(msgUpstreamUnreachable + "\n")
)

// MethodNotAllowed writes the 405 response for methods outside GET/HEAD/OPTIONS.
// No upstream is contacted for such requests.
func MethodNotAllowed(w http.ResponseWriter) {
	write(w, http.StatusMethodNotAllowed, bodyMethodNotAllowed)
}

// InvalidTarget writes the 400 response for a rejected audio target. This is
// a security control (open-proxy prevention) and fails closed before any
// outbound call.
func InvalidTarget(w http.ResponseWriter) {
	write(w, http.StatusBadRequest, bodyInvalidTarget)
}

// UpstreamUnreachable writes the 502 response used when the transport could
// not reach the upstream at all, so there is no upstream response to forward.
func UpstreamUnreachable(w http.ResponseWriter) {
	write(w, http.StatusBadGateway, bodyUpstreamUnreachable)
}

func write(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck
}
