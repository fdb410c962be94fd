package client

import (
	"net/http"
	"time"

	"playcore/work/config"
)

// HeaderSettingClient wraps http.Client so that every origin request carries
// the header set the resolver computed for its source. Origins behind
// anti-hotlinking checks reject requests without the right Referer/Origin
// pair, so headers travel with the request rather than living on the client.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// New creates a HeaderSettingClient with transport settings tuned for many
// short manifest/segment fetches against a small set of hosts.
func New(config *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout: 0, // Per-request deadlines come from contexts
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}

	return &HeaderSettingClient{
		Client: client,
		config: config,
	}
}

// Do executes the request with only the default User-Agent applied.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", hsc.config.UserAgent)
	}
	return hsc.Client.Do(req)
}

// DoWithHeaders executes the request after applying the given header map.
// Header names are set as provided; callers that need both canonical and
// lowercase forms (some origins match case-sensitively) pass both keys and
// net/http canonicalization collapses them into one wire header.
func (hsc *HeaderSettingClient) DoWithHeaders(req *http.Request, headers map[string]string) (*http.Response, error) {
	for k, v := range headers {
		if v == "" {
			continue
		}
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", hsc.config.UserAgent)
	}
	return hsc.Client.Do(req)
}
