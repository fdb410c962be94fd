package headers

import (
	"encoding/base64"
	"net/url"
	"testing"
)

func TestNormalizeURI(t *testing.T) {
	target := "https://cdn.example.com/video/playlist.m3u8?token=abc"

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain uri passes through",
			in:   target,
			want: target,
		},
		{
			name: "percent encoded proxy wrap",
			in:   "https://proxy.pstream.mov/m3u8-proxy?url=" + url.QueryEscape(target),
			want: target,
		},
		{
			name: "double encoded proxy wrap",
			in:   "https://proxy.pstream.mov/m3u8-proxy?url=" + url.QueryEscape(url.QueryEscape(target)),
			want: target,
		},
		{
			name: "base64 encoded proxy wrap",
			in:   "https://proxy.pstream.mov/m3u8-proxy?url=" + base64.URLEncoding.EncodeToString([]byte(target)),
			want: target,
		},
		{
			name: "raw base64 encoded proxy wrap",
			in:   "https://proxy.pstream.mov/m3u8-proxy?url=" + base64.RawStdEncoding.EncodeToString([]byte("https://cdn.example.com/a.m3u8")),
			want: "https://cdn.example.com/a.m3u8",
		},
		{
			name: "proxy wrap without url param untouched",
			in:   "https://proxy.pstream.mov/m3u8-proxy?other=1",
			want: "https://proxy.pstream.mov/m3u8-proxy?other=1",
		},
		{
			name: "undecodable payload untouched",
			in:   "https://proxy.pstream.mov/m3u8-proxy?url=not-a-url",
			want: "https://proxy.pstream.mov/m3u8-proxy?url=not-a-url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeURI(tt.in)
			if got != tt.want {
				t.Errorf("NormalizeURI(%q) = %q, want %q", tt.in, got, tt.want)
			}
			// Unwrapping is idempotent
			if again := NormalizeURI(got); again != got {
				t.Errorf("NormalizeURI not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestBuildHeadersDefaults(t *testing.T) {
	got := BuildHeaders("https://cdn.example.com/x.m3u8", "", "", nil)

	if got["User-Agent"] == "" {
		t.Error("expected a default User-Agent")
	}
	if got["Accept"] != "*/*" {
		t.Errorf("Accept = %q, want */*", got["Accept"])
	}
	if got["Accept-Language"] == "" {
		t.Error("expected a default Accept-Language")
	}
	// Lowercase duplicates for case-sensitive consumers
	if got["user-agent"] != got["User-Agent"] {
		t.Errorf("lowercase user-agent = %q, want %q", got["user-agent"], got["User-Agent"])
	}
}

func TestBuildHeadersSanitizesIncoming(t *testing.T) {
	incoming := map[string]string{
		"referrer":       "https://example.org/",
		"Host":           "evil.example.com",
		"Content-Length": "42",
		"X-Custom":       "kept",
		"Cookie":         "",
	}
	got := BuildHeaders("https://cdn.example.com/x.m3u8", "", "", incoming)

	if got["Referer"] != "https://example.org/" {
		t.Errorf("referrer not canonicalized: Referer = %q", got["Referer"])
	}
	if _, ok := got["Host"]; ok {
		t.Error("Host must be dropped")
	}
	if _, ok := got["Content-Length"]; ok {
		t.Error("Content-Length must be dropped")
	}
	if _, ok := got["Cookie"]; ok {
		t.Error("empty header values must be dropped")
	}
	if got["X-Custom"] != "kept" {
		t.Errorf("X-Custom = %q, want kept", got["X-Custom"])
	}
}

func TestBuildHeadersSiteRules(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		sourceID    string
		embedID     string
		wantReferer string
	}{
		{
			name:        "megacdn host",
			uri:         "https://s1.megacdn.io/stream/x.m3u8",
			wantReferer: "https://megacloud.club/",
		},
		{
			name:        "vidsrc source id",
			uri:         "https://cdn.example.com/x.m3u8",
			sourceID:    "vidsrc",
			wantReferer: "https://vidsrc.net/",
		},
		{
			name:        "upcloud embed id",
			uri:         "https://cdn.example.com/x.m3u8",
			embedID:     "upcloud",
			wantReferer: "https://rabbitstream.net/",
		},
		{
			name:        "no rule leaves referer unset",
			uri:         "https://cdn.example.com/x.m3u8",
			wantReferer: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildHeaders(tt.uri, tt.sourceID, tt.embedID, nil)
			if got["Referer"] != tt.wantReferer {
				t.Errorf("Referer = %q, want %q", got["Referer"], tt.wantReferer)
			}
			if tt.wantReferer != "" && got["Origin"] == "" {
				t.Error("matching rule must also set Origin")
			}
		})
	}
}

func TestBuildHeadersIncomingBeatsDefaultsRuleBeatsIncoming(t *testing.T) {
	incoming := map[string]string{
		"User-Agent": "custom-agent/1.0",
		"Referer":    "https://somewhere.else/",
	}
	got := BuildHeaders("https://s1.megacdn.io/x.m3u8", "", "", incoming)

	if got["User-Agent"] != "custom-agent/1.0" {
		t.Errorf("incoming User-Agent should override default, got %q", got["User-Agent"])
	}
	if got["Referer"] != "https://megacloud.club/" {
		t.Errorf("site rule should override incoming Referer, got %q", got["Referer"])
	}
}
