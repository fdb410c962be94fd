package subtitles

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"playcore/work/client"
	"playcore/work/config"
	"playcore/work/logger"
	"playcore/work/types"
	"playcore/work/utils"
)

// Provider is one public subtitle API queried by IMDB/TMDB id. Lookups are
// best-effort: a provider that is down or has nothing for the title returns
// an empty slice, never an error the caller must handle.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, media types.Media) ([]types.CaptionSource, error)
}

// Service queries the configured fallback providers in order when a
// resolved stream carries zero captions. The first provider that yields any
// results wins; a provider failure just moves on to the next one.
type Service struct {
	cfg       *config.Config
	providers []Provider
}

// NewService wires the two configured providers. A provider with an empty
// base URL is skipped entirely.
func NewService(cfg *config.Config, httpClient *client.HeaderSettingClient) *Service {
	var providers []Provider
	if cfg.SubtitleProviderA != "" {
		providers = append(providers, &wyzieProvider{cfg: cfg, httpClient: httpClient})
	}
	if cfg.SubtitleProviderB != "" {
		providers = append(providers, &subsourceProvider{cfg: cfg, httpClient: httpClient})
	}
	return &Service{cfg: cfg, providers: providers}
}

// Fallback returns caption sources for the media from the first provider
// with results. Always succeeds; an empty slice means no provider had
// anything usable.
func (s *Service) Fallback(ctx context.Context, media types.Media) []types.CaptionSource {
	for _, p := range s.providers {
		sources, err := p.Lookup(ctx, media)
		if err != nil {
			logger.Debug("subtitle provider %s failed for tmdb %d: %v", p.Name(), media.TmdbID, err)
			continue
		}
		if len(sources) > 0 {
			logger.Debug("subtitle provider %s returned %d tracks for tmdb %d", p.Name(), len(sources), media.TmdbID)
			return sources
		}
	}
	return nil
}

// wyzieProvider queries a Wyzie-style subtitle search API:
// GET {base}/search?id=<imdb>&season=&episode=, JSON array response.
type wyzieProvider struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
}

func (p *wyzieProvider) Name() string { return "wyzie" }

func (p *wyzieProvider) Lookup(ctx context.Context, media types.Media) ([]types.CaptionSource, error) {
	q := url.Values{}
	if media.ImdbID != "" {
		q.Set("id", media.ImdbID)
	} else {
		q.Set("id", strconv.Itoa(media.TmdbID))
		q.Set("source", "tmdb")
	}
	if media.Type == types.MediaTypeShow {
		q.Set("season", strconv.Itoa(media.Season))
		q.Set("episode", strconv.Itoa(media.Episode))
	}

	var rows []struct {
		ID       string `json:"id"`
		URL      string `json:"url"`
		Format   string `json:"format"`
		Language string `json:"language"`
		Display  string `json:"display"`
	}
	if err := p.getJSON(ctx, p.cfg.SubtitleProviderA+"/search?"+q.Encode(), &rows); err != nil {
		return nil, err
	}

	var sources []types.CaptionSource
	for i, row := range rows {
		if len(sources) >= p.cfg.SubtitleLimit {
			break
		}
		if row.URL == "" {
			continue
		}
		sources = append(sources, types.CaptionSource{
			ID:       captionID(p.Name(), row.ID, i),
			Format:   normalizeFormat(row.Format, row.URL),
			URL:      row.URL,
			Language: row.Language,
			Display:  row.Display,
		})
	}
	return sources, nil
}

func (p *wyzieProvider) getJSON(ctx context.Context, url string, out interface{}) error {
	return getJSON(ctx, p.cfg, p.httpClient, url, out)
}

// subsourceProvider queries a Subsource-style API:
// GET {base}/subtitles?imdb=<id>&season=&episode=, object with a "subtitles"
// array.
type subsourceProvider struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
}

func (p *subsourceProvider) Name() string { return "subsource" }

func (p *subsourceProvider) Lookup(ctx context.Context, media types.Media) ([]types.CaptionSource, error) {
	q := url.Values{}
	if media.ImdbID != "" {
		q.Set("imdb", media.ImdbID)
	} else {
		q.Set("tmdb", strconv.Itoa(media.TmdbID))
	}
	if media.Type == types.MediaTypeShow {
		q.Set("season", strconv.Itoa(media.Season))
		q.Set("episode", strconv.Itoa(media.Episode))
	}

	var payload struct {
		Subtitles []struct {
			DownloadURL string `json:"downloadUrl"`
			Lang        string `json:"lang"`
			Release     string `json:"release"`
		} `json:"subtitles"`
	}
	if err := p.getJSON(ctx, p.cfg.SubtitleProviderB+"/subtitles?"+q.Encode(), &payload); err != nil {
		return nil, err
	}

	var sources []types.CaptionSource
	for i, row := range payload.Subtitles {
		if len(sources) >= p.cfg.SubtitleLimit {
			break
		}
		if row.DownloadURL == "" {
			continue
		}
		sources = append(sources, types.CaptionSource{
			ID:       captionID(p.Name(), row.Release, i),
			Format:   normalizeFormat("", row.DownloadURL),
			URL:      row.DownloadURL,
			Language: row.Lang,
			Display:  row.Release,
		})
	}
	return sources, nil
}

func (p *subsourceProvider) getJSON(ctx context.Context, url string, out interface{}) error {
	return getJSON(ctx, p.cfg, p.httpClient, url, out)
}

// getJSON is the shared fetch-and-decode path for both providers.
func getJSON(ctx context.Context, cfg *config.Config, httpClient *client.HeaderSettingClient, url string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.SubtitleTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, utils.ObfuscateURL(url))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// captionID builds a stable id for a fallback track, unique within the
// session even when the provider repeats its own identifiers.
func captionID(provider, raw string, index int) string {
	slug := utils.SanitizeSlug(raw)
	if slug == "" {
		slug = "track"
	}
	return provider + "_" + slug + "_" + strconv.Itoa(index)
}

// normalizeFormat decides srt vs vtt from the declared format, falling back
// to the URL extension and finally to srt, the more common provider output.
func normalizeFormat(declared, url string) string {
	switch strings.ToLower(declared) {
	case "srt":
		return "srt"
	case "vtt", "webvtt":
		return "vtt"
	}
	if strings.Contains(strings.ToLower(url), ".vtt") {
		return "vtt"
	}
	return "srt"
}
