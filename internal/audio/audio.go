// Package audio streams bytes from allow-listed audio hosts to the client.
// It forwards Range headers for seekable playback, injects the Referer and
// User-Agent values picky hosts require, and never buffers a body in memory.
package audio

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/tunegate/tunegate/internal/headerfilter"
	"github.com/tunegate/tunegate/internal/httperror"
	"github.com/tunegate/tunegate/internal/metrics"
	"github.com/tunegate/tunegate/internal/target"
)

// responseAllow covers content negotiation and range/caching headers.
// Everything else the CDN sends stays behind the trust boundary.
var responseAllow = []string{
	"content-type",
	"content-length",
	"content-range",
	"accept-ranges",
	"cache-control",
	"expires",
	"last-modified",
	"etag",
}

// Proxy streams validated audio targets. The validator is swappable at
// runtime so config hot-reloads take effect without dropping streams.
type Proxy struct {
	validator  atomic.Pointer[target.Validator]
	client     *http.Client
	filter     *headerfilter.Filter
	fallbackUA string
	logger     *slog.Logger
}

// New creates an audio Proxy over the given allow-list patterns.
// fallbackUA is sent when the client supplied no User-Agent (hosts commonly
// reject empty agents). Pass a nil client to use http.DefaultClient.
func New(patterns []target.Pattern, fallbackUA string, client *http.Client, logger *slog.Logger) *Proxy {
	if client == nil {
		client = http.DefaultClient
	}
	p := &Proxy{
		client: client,
		filter: headerfilter.New(responseAllow, "").
			WithFixed("Access-Control-Allow-Methods", "GET,HEAD,OPTIONS").
			WithFixed("Access-Control-Expose-Headers", "Content-Range, Content-Length, Accept-Ranges"),
		fallbackUA: fallbackUA,
		logger:     logger,
	}
	p.validator.Store(target.NewValidator(patterns))
	return p
}

// UpdateHosts swaps the allow-list. In-flight streams keep the validator
// they started with; new requests see the new patterns immediately.
func (p *Proxy) UpdateHosts(patterns []target.Pattern) {
	p.validator.Store(target.NewValidator(patterns))
	p.logger.Info("audio host allow-list updated", "patterns", len(patterns))
}

// ServeHTTP validates the target and streams the upstream response through.
// The outbound request carries the inbound context: a client that
// disconnects mid-stream aborts the upstream connection instead of
// draining it.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("target")

	tgt, err := p.validator.Load().Validate(raw)
	if err != nil {
		metrics.TargetRejections.Inc()
		p.logger.Warn("audio target rejected", "target", raw, "error", err)
		httperror.InvalidTarget(w)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, tgt.URL.String(), nil)
	if err != nil {
		p.logger.Warn("building audio request", "target", raw, "error", err)
		httperror.InvalidTarget(w)
		return
	}

	ua := r.Header.Get("User-Agent")
	if ua == "" {
		ua = p.fallbackUA
	}
	req.Header.Set("User-Agent", ua)

	// Range passes through unmodified so partial-content playback works.
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}
	if tgt.Referer != "" {
		req.Header.Set("Referer", tgt.Referer)
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, r.Context().Err()) {
			// Client went away before the upstream answered; nothing to write.
			p.logger.Debug("audio request cancelled", "target", raw)
			return
		}
		metrics.UpstreamErrors.WithLabelValues("audio").Inc()
		p.logger.Warn("audio upstream unreachable", "host", tgt.URL.Host, "error", err)
		httperror.UpstreamUnreachable(w)
		return
	}
	defer resp.Body.Close()

	p.filter.Apply(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		// Almost always the client disconnecting; the deferred Close
		// releases the upstream connection.
		p.logger.Debug("audio stream aborted", "host", tgt.URL.Host, "error", err)
	}
}
