// Package target parses and authorizes client-supplied audio URLs. It is the
// gateway's only defense against becoming an open proxy: a target streams
// only if its hostname matches the closed pattern enumeration. Matching is
// data-driven (kind + value pairs), never free-form regexes.
package target

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrRejected is returned for any target that must not be proxied:
// malformed URL, disallowed scheme, or hostname outside the allow-list.
var ErrRejected = errors.New("target rejected")

// Kind selects how a Pattern matches a hostname.
type Kind string

const (
	// KindSubdomain matches the exact host or any subdomain, anchored with
	// a leading dot so "notkugou.com.evil.net" cannot satisfy "kugou.com".
	KindSubdomain Kind = "subdomain"

	// KindContains matches hostnames containing the value as a substring.
	KindContains Kind = "contains"
)

// Pattern is one entry of the audio host allow-list.
type Pattern struct {
	Kind      Kind
	Value     string
	ForceHTTP bool   // rewrite scheme to http; the host family does not serve https reliably
	Referer   string // fixed Referer the host family requires, empty for none
}

// Target is a validated, possibly-rewritten audio URL plus the Referer the
// matched host family requires.
type Target struct {
	URL     *url.URL
	Referer string
}

// Validator authorizes raw target strings against a pattern list.
// Immutable after construction; safe for concurrent use.
type Validator struct {
	patterns []Pattern
}

// NewValidator builds a Validator over the given allow-list.
func NewValidator(patterns []Pattern) *Validator {
	ps := make([]Pattern, len(patterns))
	copy(ps, patterns)
	return &Validator{patterns: ps}
}

// Validate parses raw and authorizes it. It fails closed: any parse error,
// non-http(s) scheme, or unmatched hostname returns ErrRejected. For host
// families marked ForceHTTP the returned URL's scheme is rewritten to http
// regardless of what the client requested.
func (v *Validator) Validate(raw string) (*Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed URL", ErrRejected)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q not allowed", ErrRejected, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrRejected)
	}

	for _, p := range v.patterns {
		if !p.matches(host) {
			continue
		}
		if p.ForceHTTP {
			u.Scheme = "http"
		}
		return &Target{URL: u, Referer: p.Referer}, nil
	}

	return nil, fmt.Errorf("%w: host %q not in allow-list", ErrRejected, host)
}

func (p Pattern) matches(host string) bool {
	value := strings.ToLower(p.Value)
	switch p.Kind {
	case KindSubdomain:
		return host == value || strings.HasSuffix(host, "."+value)
	case KindContains:
		return strings.Contains(host, value)
	}
	return false
}
