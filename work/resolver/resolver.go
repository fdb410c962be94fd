package resolver

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"playcore/work/cache"
	"playcore/work/config"
	"playcore/work/headers"
	"playcore/work/logger"
	"playcore/work/metrics"
	"playcore/work/scrape"
	"playcore/work/subtitles"
	"playcore/work/types"
)

// State is the resolver's lifecycle position for the current media item.
type State int

// Resolver states. Failed is terminal for the current item until the
// caller retries or switches episodes.
const (
	StateIdle State = iota
	StateResolving
	StateResolved
	StateFailed
)

// String renders the state for logs and API responses.
func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Resolver turns a media item into an active PlaybackSource: it consumes a
// prefetched scrape result when one is available, issues a fresh scrape
// otherwise, normalizes the URI and headers, and kicks off the fallback
// subtitle lookup when the stream carries no captions. One Resolver belongs
// to one player session; switching episodes re-enters Resolving with a
// fresh payload.
type Resolver struct {
	cfg        *config.Config
	scraper    scrape.Scraper
	prefetched *cache.PrefetchedResults
	subtitles  *subtitles.Service

	mu      sync.Mutex
	state   State
	lastErr error
}

// New creates a resolver over the shared collaborators.
func New(cfg *config.Config, scraper scrape.Scraper, prefetched *cache.PrefetchedResults, subs *subtitles.Service) *Resolver {
	return &Resolver{
		cfg:        cfg,
		scraper:    scraper,
		prefetched: prefetched,
		subtitles:  subs,
	}
}

// State returns the current lifecycle state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the error that moved the resolver to Failed, if any.
func (r *Resolver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Resolve produces the PlaybackSource for the media. The prefetched-result
// cache is polled first — up to the configured budget, exiting early when
// nothing is pending — then a fresh scrape is issued. On failure the
// resolver enters Failed and the error is returned for the caller to
// surface with a retry/back choice.
func (r *Resolver) Resolve(ctx context.Context, media types.Media) (*types.PlaybackSource, error) {
	r.setState(StateResolving, nil)

	result, fromPrefetch := r.pollPrefetched(ctx, media)
	if result == nil {
		var err error
		result, err = r.scraper.Scrape(ctx, media, scrape.Options{
			SourceOrder: r.cfg.SourceOrder,
			DebugTag:    fmt.Sprintf("%s-%d", media.Type, media.TmdbID),
		})
		if err != nil {
			metrics.Resolutions.WithLabelValues("failed").Inc()
			r.setState(StateFailed, err)
			return nil, err
		}
	}

	source := r.apply(result)
	if fromPrefetch {
		metrics.Resolutions.WithLabelValues("prefetched").Inc()
	} else {
		metrics.Resolutions.WithLabelValues("ok").Inc()
	}
	r.setState(StateResolved, nil)
	return source, nil
}

// FallbackCaptions performs the best-effort subtitle lookup for sources
// that resolved with zero captions. Runs in its own goroutine and hands the
// merged result to deliver; a lookup that returns nothing simply never
// calls it.
func (r *Resolver) FallbackCaptions(ctx context.Context, media types.Media, deliver func([]types.CaptionSource)) {
	go func() {
		sources := r.subtitles.Fallback(ctx, media)
		if len(sources) > 0 {
			deliver(sources)
		}
	}()
}

// pollPrefetched waits briefly for an externally produced scrape result.
// The poll runs for at most the configured budget, but gives up at the
// early-exit mark when no producer has marked the item pending — in the
// common case where nothing was prefetched this keeps session start fast.
func (r *Resolver) pollPrefetched(ctx context.Context, media types.Media) (*scrape.Result, bool) {
	if r.prefetched == nil {
		return nil, false
	}

	deadline := time.Now().Add(r.cfg.ResolvePollBudget)
	earlyExit := time.Now().Add(r.cfg.ResolvePollEarlyExit)

	for {
		if result, ok := r.prefetched.Get(media); ok {
			logger.Debug("consumed prefetched resolution for tmdb %d", media.TmdbID)
			return result, true
		}

		now := time.Now()
		if now.After(deadline) {
			return nil, false
		}
		if now.After(earlyExit) && !r.prefetched.Pending(media) {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(r.cfg.ResolvePollInterval):
		}
	}
}

// apply normalizes a raw scrape result into the session's PlaybackSource:
// proxy unwrapping, header construction and caption id assignment.
func (r *Resolver) apply(result *scrape.Result) *types.PlaybackSource {
	uri := headers.NormalizeURI(result.URI)

	kind := types.StreamKindOther
	if result.Stream.Type == "hls" {
		kind = types.StreamKindHLS
	}

	captions := make([]types.CaptionSource, 0, len(result.Stream.Captions))
	for i, c := range result.Stream.Captions {
		if c.URL == "" {
			continue
		}
		if c.ID == "" {
			c.ID = "embed_" + strconv.Itoa(i)
		}
		if c.Format == "" {
			c.Format = "vtt"
		}
		captions = append(captions, c)
	}

	return &types.PlaybackSource{
		URI:        uri,
		Headers:    headers.BuildHeaders(uri, result.SourceID, result.EmbedID, result.Headers),
		Kind:       kind,
		Captions:   captions,
		SourceID:   result.SourceID,
		EmbedID:    result.EmbedID,
		ResolvedAt: time.Now(),
	}
}

func (r *Resolver) setState(s State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	r.lastErr = err
}
