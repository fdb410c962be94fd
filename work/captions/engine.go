package captions

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/dgraph-io/ristretto/v2"

	"playcore/work/client"
	"playcore/work/config"
	"playcore/work/logger"
	"playcore/work/types"
)

// maxCaptionPayload caps how much subtitle data one fetch may read.
const maxCaptionPayload = 10 * 1024 * 1024

// Engine fetches, parses and caches caption tracks for one or more player
// sessions. Parsed cue lists are cached by caption id in a ristretto cache
// so re-selecting a track never refetches the payload; each session keeps
// its own Cursor, the Engine only owns the shared cache and fetch path.
type Engine struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
	cache      *ristretto.Cache[string, []types.CaptionCue]
}

// NewEngine creates a caption engine with a cue cache sized for a handful
// of concurrently active sessions.
func NewEngine(cfg *config.Config, httpClient *client.HeaderSettingClient) *Engine {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []types.CaptionCue]{
		NumCounters: 1000,
		MaxCost:     64 << 20,
		BufferItems: 64,
	})
	if err != nil {
		panic(err)
	}

	return &Engine{
		cfg:        cfg,
		httpClient: httpClient,
		cache:      cache,
	}
}

// Load returns the parsed cue list for a caption source, fetching and
// parsing on first use and serving from cache afterwards. The cost charged
// to the cache is the cue count, which tracks memory closely enough for
// eviction purposes.
func (e *Engine) Load(ctx context.Context, source types.CaptionSource) ([]types.CaptionCue, error) {
	if cues, found := e.cache.Get(source.ID); found {
		return cues, nil
	}

	payload, err := e.fetch(ctx, source.URL)
	if err != nil {
		return nil, fmt.Errorf("fetching caption %s: %w", source.ID, err)
	}

	cues, err := ParseCaptions(payload, source.Format)
	if err != nil {
		return nil, fmt.Errorf("parsing caption %s: %w", source.ID, err)
	}

	e.cache.Set(source.ID, cues, int64(len(cues)))
	logger.Debug("cached %d cues for caption %s (%s)", len(cues), source.ID, source.Format)
	return cues, nil
}

// fetch retrieves the raw subtitle payload with the configured timeout.
func (e *Engine) fetch(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SubtitleTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCaptionPayload))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Close releases the cue cache.
func (e *Engine) Close() {
	e.cache.Close()
}
