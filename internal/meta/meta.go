// Package meta translates the public query interface (types/name/id/source/
// auth) into the upstream metadata API's parameter schema (server/type/id/
// auth), signs requests that need it, and forwards the upstream response
// verbatim apart from header filtering.
package meta

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tunegate/tunegate/internal/config"
	"github.com/tunegate/tunegate/internal/headerfilter"
	"github.com/tunegate/tunegate/internal/httperror"
	"github.com/tunegate/tunegate/internal/metrics"
	"github.com/tunegate/tunegate/internal/signature"
)

// typeMap maps public `types` values to the upstream `type` parameter.
// Values outside this table leave type/id unset and the upstream applies
// its own default behavior.
var typeMap = map[string]string{
	"search": "search",
	"url":    "url",
	"lyric":  "lrc",
	"pic":    "pic",
}

// signedTypes are the upstream types that require an auth signature.
// Search is deliberately unsigned: it carries no enumerable resource id.
var signedTypes = map[string]bool{
	"url": true,
	"lrc": true,
	"pic": true,
}

// responseAllow is the header allow-list for metadata responses.
var responseAllow = []string{"content-type", "cache-control", "expires"}

// Proxy forwards metadata requests to the upstream API.
type Proxy struct {
	base          string
	signer        *signature.Signer
	defaultSource string
	client        *http.Client
	filter        *headerfilter.Filter
	logger        *slog.Logger
}

// New creates a metadata Proxy from the upstream configuration. The client
// follows redirects (default policy), so upstream redirects never surface
// to the caller. Pass nil to use http.DefaultClient.
func New(cfg config.UpstreamConfig, client *http.Client, logger *slog.Logger) *Proxy {
	if client == nil {
		client = http.DefaultClient
	}
	return &Proxy{
		base:          cfg.APIBase,
		signer:        signature.New(cfg.Secret),
		defaultSource: cfg.DefaultSource,
		client:        client,
		filter:        headerfilter.New(responseAllow, "no-store"),
		logger:        logger,
	}
}

// Translate builds the fully-formed upstream request URL for the given
// public query parameters.
//
// Mapping: search→search (id from `name`), url→url, lyric→lrc, pic→pic
// (id from `id`); missing values become empty strings, never omitted keys.
// A client-supplied `auth` passes through unmodified (the caller is trusted
// to have pre-signed); otherwise url/lrc/pic get a computed signature and
// search gets none.
func (p *Proxy) Translate(q url.Values) string {
	source := q.Get("source")
	if source == "" {
		source = p.defaultSource
	}

	params := url.Values{}
	params.Set("server", source)

	auth := q.Get("auth")

	if typ, ok := typeMap[q.Get("types")]; ok {
		var id string
		if typ == "search" {
			id = q.Get("name")
		} else {
			id = q.Get("id")
		}
		params.Set("type", typ)
		params.Set("id", id)

		if auth != "" {
			params.Set("auth", auth)
		} else if signedTypes[typ] {
			params.Set("auth", p.signer.Sign(source, typ, id))
		}
	} else if auth != "" {
		// Unrecognized intent: no type/id, but a pre-signed auth still
		// passes through for the upstream to judge.
		params.Set("auth", auth)
	}

	sep := "?"
	if strings.Contains(p.base, "?") {
		sep = "&"
	}
	return p.base + sep + params.Encode()
}

// ServeHTTP translates the request, performs the single upstream call, and
// forwards status and body verbatim. Headers pass through the response
// filter with a no-store fallback; Content-Type is forced to JSON when the
// upstream omitted it. The outbound request carries the inbound context, so
// a disconnecting client aborts the upstream call.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upstreamURL := p.Translate(r.URL.Query())

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, nil)
	if err != nil {
		p.logger.Error("building upstream request", "error", err)
		httperror.UpstreamUnreachable(w)
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("meta").Inc()
		p.logger.Warn("metadata upstream unreachable", "error", err)
		httperror.UpstreamUnreachable(w)
		return
	}
	defer resp.Body.Close()

	p.filter.Apply(w.Header(), resp.Header)
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Debug("metadata response copy aborted", "error", err)
	}
}
