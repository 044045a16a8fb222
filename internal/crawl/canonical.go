package crawl

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// DefaultTrackingParams is the default deny-list of query parameter names
// stripped during canonicalization. Entries ending in "*" match by prefix.
var DefaultTrackingParams = []string{
	"utm_*", "gclid", "fbclid", "msclkid", "ref",
}

// Canonicalizer normalizes URLs to a canonical identity used for dedup and
// Website rows. Canonicalization is idempotent.
type Canonicalizer struct {
	exact    map[string]struct{}
	prefixes []string
}

// NewCanonicalizer builds a Canonicalizer with the given tracking-parameter
// deny-list. A nil list means DefaultTrackingParams.
func NewCanonicalizer(trackingParams []string) *Canonicalizer {
	if trackingParams == nil {
		trackingParams = DefaultTrackingParams
	}
	c := &Canonicalizer{exact: make(map[string]struct{})}
	for _, raw := range trackingParams {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if strings.HasSuffix(name, "*") {
			if prefix := strings.TrimSuffix(name, "*"); prefix != "" {
				c.prefixes = append(c.prefixes, prefix)
			}
			continue
		}
		c.exact[name] = struct{}{}
	}
	return c
}

// Canonicalize normalizes a URL: lowercases scheme and host, strips default
// ports and the fragment, collapses duplicate slashes, normalizes a bare path
// to "/", and drops tracking query parameters while preserving the order of
// the remaining ones.
func (c *Canonicalizer) Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""

	path := collapseSlashes(u.EscapedPath())
	if path == "" {
		path = "/"
	}
	if unescaped, uerr := url.PathUnescape(path); uerr == nil {
		u.Path = unescaped
		u.RawPath = path
	} else {
		u.Path = path
		u.RawPath = ""
	}

	u.RawQuery = c.filterQuery(u.RawQuery)

	return u.String(), nil
}

// filterQuery removes denied parameters from a raw query string without
// reordering or re-encoding the survivors.
func (c *Canonicalizer) filterQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" {
			continue
		}
		name := part
		if i := strings.Index(part, "="); i >= 0 {
			name = part[:i]
		}
		if decoded, err := url.QueryUnescape(name); err == nil {
			name = decoded
		}
		if c.denied(strings.ToLower(name)) {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}

func (c *Canonicalizer) denied(name string) bool {
	if _, ok := c.exact[name]; ok {
		return true
	}
	for _, prefix := range c.prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func collapseSlashes(path string) string {
	if !strings.Contains(path, "//") {
		return path
	}
	var b strings.Builder
	b.Grow(len(path))
	var prevSlash bool
	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RegistrableDomain returns the effective TLD+1 for a host, falling back to
// the lowercased host when the public suffix list cannot decide (IPs,
// localhost, single-label hosts).
func RegistrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return ""
	}
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host, "]") {
		if isDigits(host[i+1:]) {
			host = host[:i]
		}
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return etld1
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
