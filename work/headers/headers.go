package headers

import (
	"encoding/base64"
	"net/url"
	"strings"
)

// defaultUserAgent mimics a desktop browser; several CDN origins refuse the
// Go default UA outright.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// canonicalNames maps lowercase header names to the canonical spelling used
// when sanitizing caller-supplied headers.
var canonicalNames = map[string]string{
	"user-agent":      "User-Agent",
	"referer":         "Referer",
	"referrer":        "Referer",
	"origin":          "Origin",
	"accept":          "Accept",
	"accept-language": "Accept-Language",
	"range":           "Range",
	"cookie":          "Cookie",
	"authorization":   "Authorization",
}

// droppedNames are headers that must never be forwarded to an origin; they
// are owned by the transport layer and forwarding stale values breaks
// requests in ways that are miserable to diagnose.
var droppedNames = map[string]bool{
	"host":           true,
	"content-length": true,
}

// siteRule describes an origin that rejects requests without a specific
// Referer/Origin pair. Matching is a substring test on the URI host plus
// exact matches on the scraper's source/embed identifiers.
type siteRule struct {
	hostContains string
	sourceID     string
	embedID      string
	referer      string
	origin       string
}

// siteRules is the known set of origins requiring header injection. Rules
// are consulted in order; the first match wins.
var siteRules = []siteRule{
	{hostContains: "megacdn", referer: "https://megacloud.club/", origin: "https://megacloud.club"},
	{hostContains: "rabbitstream", referer: "https://rabbitstream.net/", origin: "https://rabbitstream.net"},
	{sourceID: "vidsrc", referer: "https://vidsrc.net/", origin: "https://vidsrc.net"},
	{embedID: "upcloud", referer: "https://rabbitstream.net/", origin: "https://rabbitstream.net"},
}

// NormalizeURI canonicalizes a raw playback URI by unwrapping the known
// m3u8 proxy redirection ("/m3u8-proxy?url=<encoded-target>"). The wrapped
// target is recovered by percent-decoding first and falling back to base64;
// if neither yields an http(s) URL the input is returned unchanged. The
// function is a pure string transform and idempotent: an already-unwrapped
// URI passes through untouched.
func NormalizeURI(rawURI string) string {
	if !strings.Contains(rawURI, "/m3u8-proxy") {
		return rawURI
	}

	u, err := url.Parse(rawURI)
	if err != nil {
		return rawURI
	}

	// Query() percent-decodes once; a double-encoded target needs one more
	// pass below.
	candidate := u.Query().Get("url")
	if candidate == "" {
		return rawURI
	}
	if isHTTPURL(candidate) {
		return candidate
	}

	if decoded, err := url.QueryUnescape(candidate); err == nil && isHTTPURL(decoded) {
		return decoded
	}

	// Base64 fallback: proxies disagree on alphabet and padding, so try the
	// common variants before giving up.
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := enc.DecodeString(candidate); err == nil && isHTTPURL(string(decoded)) {
			return string(decoded)
		}
	}

	return rawURI
}

// BuildHeaders produces the final request header map for a resolved source:
// browser-like defaults, then sanitized caller-supplied headers, then a
// site-specific Referer/Origin pair when the URI or scraper identifiers
// match a known rule. Every header is also duplicated under its lowercase
// key for consumers that match header names case-sensitively.
func BuildHeaders(uri, sourceID, embedID string, incoming map[string]string) map[string]string {
	out := map[string]string{
		"User-Agent":      defaultUserAgent,
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.9",
	}

	// Merge sanitized incoming headers over the defaults
	for name, value := range incoming {
		lower := strings.ToLower(name)
		if droppedNames[lower] || value == "" {
			continue
		}
		if canonical, ok := canonicalNames[lower]; ok {
			out[canonical] = value
		} else {
			out[name] = value
		}
	}

	if rule := matchSiteRule(uri, sourceID, embedID); rule != nil {
		out["Referer"] = rule.referer
		out["Origin"] = rule.origin
	}

	// Duplicate under lowercase keys for case-sensitive consumers
	for name, value := range out {
		lower := strings.ToLower(name)
		if lower != name {
			out[lower] = value
		}
	}

	return out
}

// matchSiteRule returns the first injection rule matching the URI host or
// scraper identifiers, or nil when no rule applies.
func matchSiteRule(uri, sourceID, embedID string) *siteRule {
	host := ""
	if u, err := url.Parse(uri); err == nil {
		host = u.Host
	}

	for i := range siteRules {
		rule := &siteRules[i]
		if rule.hostContains != "" && host != "" && strings.Contains(host, rule.hostContains) {
			return rule
		}
		if rule.sourceID != "" && rule.sourceID == sourceID {
			return rule
		}
		if rule.embedID != "" && rule.embedID == embedID {
			return rule
		}
	}
	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
