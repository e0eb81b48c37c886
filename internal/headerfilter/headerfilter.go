// Package headerfilter copies response headers across the trust boundary.
// Only allow-listed header names cross; everything else (cookies, auth
// tokens, hop-by-hop headers) is dropped. This is a security control: the
// allow-list is the contract, not an optimization.
package headerfilter

import "net/http"

// Filter is a direction-specific header allow-list with a Cache-Control
// fallback. Construct once, apply per request; safe for concurrent use.
type Filter struct {
	allow        map[string]struct{} // canonical header names
	fallbackCC   string
	extraHeaders map[string]string // fixed headers set on every response
}

// New builds a Filter from an allow-list of header names and a fallback
// Cache-Control value used when the source set carries none.
func New(allow []string, fallbackCacheControl string) *Filter {
	m := make(map[string]struct{}, len(allow))
	for _, name := range allow {
		m[http.CanonicalHeaderKey(name)] = struct{}{}
	}
	return &Filter{allow: m, fallbackCC: fallbackCacheControl, extraHeaders: map[string]string{}}
}

// WithFixed registers a fixed header set on every filtered response,
// regardless of the source set. Returns the Filter for chaining during
// construction; not safe to call after the Filter is in use.
func (f *Filter) WithFixed(name, value string) *Filter {
	f.extraHeaders[http.CanonicalHeaderKey(name)] = value
	return f
}

// Apply copies allow-listed headers from src into dst, injects
// Access-Control-Allow-Origin: * and any fixed headers, and defaults
// Cache-Control to the fallback when src has none.
func (f *Filter) Apply(dst, src http.Header) {
	for name, values := range src {
		if _, ok := f.allow[http.CanonicalHeaderKey(name)]; !ok {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}

	dst.Set("Access-Control-Allow-Origin", "*")
	for name, value := range f.extraHeaders {
		dst.Set(name, value)
	}

	if f.fallbackCC != "" && src.Get("Cache-Control") == "" {
		dst.Set("Cache-Control", f.fallbackCC)
	}
}
