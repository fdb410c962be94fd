package prefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"

	"playcore/work/buffer"
	"playcore/work/client"
	"playcore/work/config"
	"playcore/work/logger"
	"playcore/work/manifest"
	"playcore/work/metrics"
	"playcore/work/types"
	"playcore/work/utils"
)

// Request describes one warm cycle for a session's active manifest.
type Request struct {
	ManifestURI    string            // Master or media playlist to warm from
	Headers        map[string]string // Source headers for every fetch
	StartAtSeconds float64           // Current playback position
	WindowSeconds  float64           // Forward window of segment durations to cover
	MaxSegments    int               // Hard cap on segments this cycle
	Concurrency    int               // Concurrent range requests this cycle
	CacheKey       string            // Composite manifest+quality+override key scoping the seen set
}

// Warmer issues best-effort range prefetches for upcoming HLS segments so
// the CDN and local HTTP stack are hot before the player asks for them.
// Every failure is swallowed: warming is an optimization and must never
// surface to playback. Seen-URI sets are scoped per cache key and capped,
// clearing wholesale when oversized.
type Warmer struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
	pool       *ants.Pool
	limiter    ratelimit.Limiter
	buffers    *buffer.Pool
	seen       *xsync.MapOf[string, *seenSet]
}

// seenSet tracks segment URIs already requested for one cache key.
type seenSet struct {
	mu   sync.Mutex
	uris map[string]bool
}

// NewWarmer creates a warmer over the shared worker pool. The rate limiter
// paces manifest and segment requests so warming cannot hammer an origin
// that is already straining.
func NewWarmer(cfg *config.Config, httpClient *client.HeaderSettingClient, pool *ants.Pool, buffers *buffer.Pool) *Warmer {
	return &Warmer{
		cfg:        cfg,
		httpClient: httpClient,
		pool:       pool,
		limiter:    ratelimit.New(50), // requests per second across all sessions
		buffers:    buffers,
		seen:       xsync.NewMapOf[string, *seenSet](),
	}
}

// Warm runs one prefetch cycle: fetch the manifest (resolving a master to
// its best variant first), locate the segment window for the playback
// position, and issue bounded-concurrency range requests for segments not
// yet seen. Returns an error only when the manifest itself is unusable;
// individual segment failures are tolerated and not retried.
func (w *Warmer) Warm(ctx context.Context, req Request) error {
	text, err := w.fetchText(ctx, req.ManifestURI, req.Headers)
	if err != nil {
		return fmt.Errorf("fetching manifest: %w", err)
	}

	playlistURI := req.ManifestURI
	if manifest.IsMasterPlaylist(text) {
		best := manifest.PickBestVariant(text, req.ManifestURI)
		if best == "" {
			return fmt.Errorf("master playlist has no variants")
		}
		if text, err = w.fetchText(ctx, best, req.Headers); err != nil {
			return fmt.Errorf("fetching variant playlist: %w", err)
		}
		playlistURI = best
	}

	segments := manifest.ParseMediaSegments(text, playlistURI)
	if len(segments) == 0 {
		return fmt.Errorf("playlist has no segments")
	}

	window := w.collectWindow(segments, manifest.IsVOD(text), req)
	if len(window) == 0 {
		return nil
	}

	w.prefetchBatch(ctx, window, req)
	return nil
}

// ResetKey clears the seen set for a cache key. Sessions call this when
// their manifest key changes (new source, new quality override).
func (w *Warmer) ResetKey(cacheKey string) {
	w.seen.Delete(cacheKey)
}

// collectWindow picks the segments to warm. For VOD playlists the walk
// accumulates durations up to the playback position and collects from the
// next segment forward; for live playlists only the newest tail matters,
// historical position does not. Segments already seen for this cache key
// are skipped.
func (w *Warmer) collectWindow(segments []types.Segment, vod bool, req Request) []types.Segment {
	start := 0
	if vod {
		acc := 0.0
		for start < len(segments) && acc < req.StartAtSeconds {
			acc += segments[start].Duration
			start++
		}
	} else {
		if tail := len(segments) - w.cfg.LiveTailSegments; tail > 0 {
			start = tail
		}
	}

	set := w.seenFor(req.CacheKey)

	var window []types.Segment
	covered := 0.0
	for _, seg := range segments[start:] {
		if len(window) >= req.MaxSegments || covered >= req.WindowSeconds {
			break
		}
		if seg.URI == "" || !set.add(seg.URI, w.cfg.PrefetchSeenCap) {
			metrics.PrefetchedSegments.WithLabelValues("skipped").Inc()
			continue
		}
		window = append(window, seg)
		covered += seg.Duration
	}

	return window
}

// prefetchBatch issues the range requests through the shared worker pool,
// bounded by the per-cycle concurrency.
func (w *Warmer) prefetchBatch(ctx context.Context, window []types.Segment, req Request) {
	var wg sync.WaitGroup
	slots := make(chan struct{}, req.Concurrency)

	for _, seg := range window {
		seg := seg
		slots <- struct{}{}
		wg.Add(1)

		err := w.pool.Submit(func() {
			defer func() {
				<-slots
				wg.Done()
			}()
			if err := w.prefetchSegment(ctx, seg.URI, req.Headers); err != nil {
				metrics.PrefetchedSegments.WithLabelValues("error").Inc()
				logger.Debug("prefetch failed for %s: %v", utils.LogURL(w.cfg, seg.URI), err)
				return
			}
			metrics.PrefetchedSegments.WithLabelValues("ok").Inc()
		})
		if err != nil {
			// Pool rejected the task (shutdown); undo the bookkeeping
			<-slots
			wg.Done()
		}
	}

	wg.Wait()
}

// prefetchSegment issues a single first-byte range request and drains the
// response into a pooled buffer.
func (w *Warmer) prefetchSegment(ctx context.Context, uri string, headers map[string]string) error {
	w.limiter.Take()

	ctx, cancel := context.WithTimeout(ctx, w.cfg.PrefetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := w.httpClient.DoWithHeaders(req, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	buf := w.buffers.Get()
	defer w.buffers.Put(buf)
	_, err = io.Copy(buf, resp.Body)
	return err
}

// fetchText retrieves a playlist body with the source headers.
func (w *Warmer) fetchText(ctx context.Context, uri string, headers map[string]string) (string, error) {
	w.limiter.Take()

	ctx, cancel := context.WithTimeout(ctx, w.cfg.PrefetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", err
	}

	resp, err := w.httpClient.DoWithHeaders(req, headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, utils.LogURL(w.cfg, uri))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// seenFor returns the seen set for a cache key, creating it on first use.
func (w *Warmer) seenFor(cacheKey string) *seenSet {
	set, _ := w.seen.LoadOrCompute(cacheKey, func() *seenSet {
		return &seenSet{uris: make(map[string]bool)}
	})
	return set
}

// add records a URI, clearing the whole set first when it has grown past
// the cap. Reports false when the URI was already present.
func (s *seenSet) add(uri string, cap int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.uris) > cap {
		s.uris = make(map[string]bool)
	}
	if s.uris[uri] {
		return false
	}
	s.uris[uri] = true
	return true
}
