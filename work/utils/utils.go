package utils

import (
	"net/url"
	"strings"

	"playcore/work/config"
)

// LogURL returns either the original URL or an obfuscated version for
// logging, depending on configuration. Resolved stream URLs frequently embed
// tokens, so logs default to the obfuscated form in production setups.
func LogURL(cfg *config.Config, url string) string {
	if cfg.ObfuscateUrls {
		return ObfuscateURL(url)
	}
	return url
}

// ObfuscateURL masks the path, query and fragment of a URL while keeping the
// scheme and host visible, which is enough to identify the origin in logs.
//
// Example:
//
//	Input:  "https://cdn.example.com/v1/abc123/index.m3u8?token=xyz"
//	Output: "https://cdn.example.com/***?***"
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		// If parsing fails, just obfuscate the whole thing
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}

// ResolveURL converts a potentially relative URL to absolute form against
// the given base. Absolute URLs pass through unchanged, and any parse
// failure falls back to the raw input — a broken URL surfaces as a fetch
// error downstream, which is easier to act on than a silently dropped entry.
func ResolveURL(raw, baseURL string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return raw
	}
	rel, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	return base.ResolveReference(rel).String()
}

// SanitizeSlug lowercases a display string and collapses anything that is
// not alphanumeric into single underscores. Audio-track and caption ids are
// built from these slugs, so the output must be stable for identical input.
func SanitizeSlug(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	lastUnderscore := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	return strings.Trim(b.String(), "_")
}
