package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"playcore/work/client"
	"playcore/work/config"
	"playcore/work/types"
)

// Options tune a single scrape call.
type Options struct {
	SourceOrder []string `json:"sourceOrder,omitempty"` // Preferred scraper sources, first wins
	DebugTag    string   `json:"debugTag,omitempty"`    // Correlation tag echoed into scraper logs
}

// StreamInfo is the transport description inside a scrape result.
type StreamInfo struct {
	Type     string                `json:"type"` // "hls" or a progressive format
	Captions []types.CaptionSource `json:"captions"`
}

// Result is the raw resolution produced by the scraping collaborator: a
// playable URI, the headers it must be fetched with, and whatever captions
// the source page exposed. The resolver normalizes this into a
// PlaybackSource.
type Result struct {
	URI      string            `json:"uri"`
	Headers  map[string]string `json:"headers"`
	Stream   StreamInfo        `json:"stream"`
	SourceID string            `json:"sourceId"`
	EmbedID  string            `json:"embedId"`
}

// payload is the wire request; movie requests omit season/episode.
type payload struct {
	Type    string `json:"type"`
	TmdbID  int    `json:"tmdbId"`
	ImdbID  string `json:"imdbId,omitempty"`
	Season  int    `json:"season,omitempty"`
	Episode int    `json:"episode,omitempty"`
	Options
}

// Scraper resolves a piece of media to a playable source. The concrete
// implementation lives behind this interface so tests and the prefetch
// cache can substitute their own.
type Scraper interface {
	Scrape(ctx context.Context, media types.Media, opts Options) (*Result, error)
}

// HTTPScraper calls the external scraping service over HTTP.
type HTTPScraper struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
}

// NewHTTPScraper creates a scraper bound to the configured endpoint.
func NewHTTPScraper(cfg *config.Config, httpClient *client.HeaderSettingClient) *HTTPScraper {
	return &HTTPScraper{cfg: cfg, httpClient: httpClient}
}

// Scrape shapes the request payload by media type (movie vs show with
// season/episode identifiers), posts it to the collaborator and decodes the
// result. Failures come back as human-readable errors suitable for
// surfacing to the caller.
func (s *HTTPScraper) Scrape(ctx context.Context, media types.Media, opts Options) (*Result, error) {
	p := payload{
		Type:    string(media.Type),
		TmdbID:  media.TmdbID,
		ImdbID:  media.ImdbID,
		Options: opts,
	}
	if media.Type == types.MediaTypeShow {
		p.Season = media.Season
		p.Episode = media.Episode
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding scrape payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ScrapeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ScrapeEndpoint+"/scrape", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("scrape failed with HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding scrape result: %w", err)
	}
	if result.URI == "" {
		return nil, fmt.Errorf("scrape returned no playable uri")
	}

	return &result, nil
}
