package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"playcore/work/captions"
	"playcore/work/client"
	"playcore/work/config"
	"playcore/work/engine"
	"playcore/work/logger"
	"playcore/work/manifest"
	"playcore/work/metrics"
	"playcore/work/party"
	"playcore/work/prefetch"
	"playcore/work/progress"
	"playcore/work/quality"
	"playcore/work/resolver"
	"playcore/work/types"
	"playcore/work/utils"
)

// tickInterval is the session's heartbeat: status sampling, buffering
// detection, party publish/poll and progress observation all run on it.
const tickInterval = time.Second

// Deps bundles the shared collaborators every session draws from.
type Deps struct {
	Cfg        *config.Config
	HTTPClient *client.HeaderSettingClient
	Captions   *captions.Engine
	Warmer     *prefetch.Warmer
	Progress   progress.Store
	Party      party.Store

	// NewResolver builds a per-session resolver; injected so tests can
	// substitute a canned one.
	NewResolver func() *resolver.Resolver
}

// Session owns the full playback lifecycle for one media item on one
// device: resolution, quality switching, captions, prefetch warming,
// watch-party alignment and progress persistence. All mutating methods are
// safe for concurrent use; background work stops when Close runs.
type Session struct {
	ID        string
	ProfileID string

	cfg      *config.Config
	deps     Deps
	eng      engine.Engine
	caps     engine.Capabilities
	resolver *resolver.Resolver
	selector *quality.Selector
	cursor   *captions.Cursor
	tracker  *progress.Tracker
	sync     *party.Synchronizer // nil outside a watch party

	mu             sync.Mutex
	media          types.Media
	source         *types.PlaybackSource
	captionTracks  []types.CaptionSource
	activeCaption  string // Caption track id, "" when captions are off
	audioTracks    []types.AudioTrackOption
	terminalErr    error
	bufferingSince time.Time
	lastPosition   int64
	lastAdvance    time.Time
	overlay        bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// Snapshot is the composite state handed to API consumers.
type Snapshot struct {
	ID             string                   `json:"id"`
	State          string                   `json:"state"`
	Error          string                   `json:"error,omitempty"`
	Position       int64                    `json:"positionMillis"`
	Duration       int64                    `json:"durationMillis"`
	Playing        bool                     `json:"playing"`
	Buffering      bool                     `json:"buffering"`
	OverlayVisible bool                     `json:"overlayVisible"`
	ActiveCaption  string                   `json:"activeCaption,omitempty"`
	ActiveCue      *types.CaptionCue        `json:"activeCue,omitempty"`
	Capabilities   engine.Capabilities      `json:"capabilities"`
	QualityOptions []types.QualityOption    `json:"qualityOptions"`
	AudioTracks    []types.AudioTrackOption `json:"audioTracks"`
	Captions       []types.CaptionSource    `json:"captions"`
}

func newSession(deps Deps, profileID string, media types.Media, eng engine.Engine, sync *party.Synchronizer) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        newID(),
		ProfileID: profileID,
		cfg:       deps.Cfg,
		deps:      deps,
		eng:       eng,
		caps:      engine.ProbeCapabilities(eng),
		resolver:  deps.NewResolver(),
		selector:  quality.NewSelector(deps.Cfg, deps.HTTPClient),
		cursor:    &captions.Cursor{},
		tracker:   progress.NewTracker(deps.Cfg, deps.Progress, profileID, media),
		sync:      sync,
		media:     media,
		ctx:       ctx,
		cancel:    cancel,
	}

	s.wg.Add(2)
	go s.drainEngineErrors()
	go s.run()

	metrics.ActiveSessions.Inc()
	return s
}

// Start resolves the media, loads the engine and seeks to the saved watch
// position. Returns the resolver's error when resolution fails; the session
// stays alive so the caller can offer retry.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	media := s.media
	s.mu.Unlock()

	source, err := s.resolver.Resolve(ctx, media)
	if err != nil {
		return err
	}
	return s.install(ctx, source, media, s.progressTracker().Resume(ctx))
}

// progressTracker returns the current tracker; episode changes swap it, so
// every access goes through s.mu.
func (s *Session) progressTracker() *progress.Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker
}

// install wires a resolved source into the engine and the collaborators.
func (s *Session) install(ctx context.Context, source *types.PlaybackSource, media types.Media, resumeMillis int64) error {
	options, audio := s.describeSource(ctx, source)
	s.selector.SetSource(source.URI, source.Headers, options)

	s.mu.Lock()
	s.source = source
	s.captionTracks = source.Captions
	s.audioTracks = audio
	s.activeCaption = ""
	s.terminalErr = nil
	s.cursor.SetCues(nil)
	s.mu.Unlock()

	if len(source.Captions) == 0 {
		s.resolver.FallbackCaptions(s.ctx, media, func(found []types.CaptionSource) {
			s.mu.Lock()
			if len(s.captionTracks) == 0 {
				s.captionTracks = found
			}
			s.mu.Unlock()
		})
	}

	if err := s.eng.Load(ctx, source.URI, source.Headers); err != nil {
		return fmt.Errorf("loading source: %w", err)
	}
	if resumeMillis > 0 {
		if err := s.eng.SeekTo(resumeMillis); err != nil {
			logger.Warn("seeking to saved position: %v", err)
		}
	}
	if s.sync != nil {
		s.sync.FlushPending(s.eng)
	}
	return nil
}

// describeSource fetches the manifest for HLS sources and extracts quality
// and audio options. Non-HLS sources, and manifests that cannot be fetched,
// yield empty lists — playback proceeds without switching.
func (s *Session) describeSource(ctx context.Context, source *types.PlaybackSource) ([]types.QualityOption, []types.AudioTrackOption) {
	if source.Kind != types.StreamKindHLS {
		return nil, nil
	}

	text, err := s.fetchManifest(ctx, source.URI, source.Headers)
	if err != nil {
		logger.Warn("fetching manifest for %s: %v", utils.LogURL(s.cfg, source.URI), err)
		return nil, nil
	}
	if !manifest.IsMasterPlaylist(text) {
		return nil, nil
	}
	return manifest.ParseQualityOptions(text, source.URI), manifest.ParseAudioTracks(text)
}

// ChangeEpisode re-resolves the session onto a different item: the current
// position is persisted, the prefetch seen-set for the old source is
// dropped, and — in a party, as host — the episode pointer is published.
func (s *Session) ChangeEpisode(ctx context.Context, media types.Media) error {
	s.progressTracker().Flush(ctx)

	tracker := progress.NewTracker(s.cfg, s.deps.Progress, s.ProfileID, media)

	s.mu.Lock()
	if s.source != nil {
		s.deps.Warmer.ResetKey(s.warmKeyLocked())
	}
	s.media = media
	s.tracker = tracker
	s.mu.Unlock()

	source, err := s.resolver.Resolve(ctx, media)
	if err != nil {
		return err
	}
	if err := s.install(ctx, source, media, tracker.Resume(ctx)); err != nil {
		return err
	}
	if err := s.eng.Play(); err != nil {
		return err
	}

	if s.sync != nil {
		if err := s.sync.PublishEpisode(ctx, media); err != nil {
			logger.Warn("publishing episode change: %v", err)
		}
		return s.sync.PublishPlayback(ctx, s.eng.Status(), true)
	}
	return nil
}

// Play resumes playback and force-publishes the change to the party.
func (s *Session) Play(ctx context.Context) error {
	if err := s.eng.Play(); err != nil {
		return err
	}
	return s.publishAction(ctx)
}

// Pause halts playback, persists the position and force-publishes.
func (s *Session) Pause(ctx context.Context) error {
	if err := s.eng.Pause(); err != nil {
		return err
	}
	status := s.eng.Status()
	tracker := s.progressTracker()
	tracker.Observe(ctx, status.PositionMillis, status.DurationMillis)
	tracker.Flush(ctx)
	return s.publishAction(ctx)
}

// SeekTo jumps to a position, persists it and force-publishes.
func (s *Session) SeekTo(ctx context.Context, positionMillis int64) error {
	if err := s.eng.SeekTo(positionMillis); err != nil {
		return err
	}
	status := s.eng.Status()
	tracker := s.progressTracker()
	tracker.Observe(ctx, status.PositionMillis, status.DurationMillis)
	tracker.Flush(ctx)
	return s.publishAction(ctx)
}

func (s *Session) publishAction(ctx context.Context) error {
	if s.sync == nil {
		return nil
	}
	return s.sync.PublishPlayback(ctx, s.eng.Status(), true)
}

// SelectQuality applies a manual quality choice by option id; an empty id
// reverts to auto. Unknown ids are rejected.
func (s *Session) SelectQuality(ctx context.Context, optionID string) error {
	if optionID == "" {
		return s.selector.Select(ctx, nil, s.eng)
	}
	for _, opt := range s.selector.Options() {
		if opt.ID == optionID {
			opt := opt
			if err := s.selector.Select(ctx, &opt, s.eng); err != nil {
				return err
			}
			s.mu.Lock()
			if s.source != nil {
				s.deps.Warmer.ResetKey(s.warmKeyLocked())
			}
			s.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("unknown quality option %q", optionID)
}

// SelectCaption activates a caption track by id, fetching and parsing its
// payload on first use; an empty id turns captions off.
func (s *Session) SelectCaption(ctx context.Context, trackID string) error {
	if trackID == "" {
		s.mu.Lock()
		s.activeCaption = ""
		s.cursor.SetCues(nil)
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	var track *types.CaptionSource
	for i := range s.captionTracks {
		if s.captionTracks[i].ID == trackID {
			track = &s.captionTracks[i]
			break
		}
	}
	s.mu.Unlock()
	if track == nil {
		return fmt.Errorf("unknown caption track %q", trackID)
	}

	cues, err := s.deps.Captions.Load(ctx, *track)
	if err != nil {
		return fmt.Errorf("loading caption track %q: %w", trackID, err)
	}

	s.mu.Lock()
	s.cursor.SetCues(cues)
	s.activeCaption = trackID
	s.mu.Unlock()
	return nil
}

// Report feeds an explicit status report from the remote playback element
// into the virtual engine. Sessions driven by a local engine ignore it.
func (s *Session) Report(status engine.Status) {
	if v, ok := s.eng.(*engine.Virtual); ok {
		v.Report(status)
	}
}

// ReportError injects a playback element error from the remote side.
func (s *Session) ReportError(msg string) {
	if v, ok := s.eng.(*engine.Virtual); ok {
		v.ReportError(errors.New(msg))
	}
}

// Status assembles the composite session snapshot.
func (s *Session) Status() Snapshot {
	es := s.eng.Status()

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:             s.ID,
		State:          s.resolver.State().String(),
		Position:       es.PositionMillis,
		Duration:       es.DurationMillis,
		Playing:        es.Playing,
		Buffering:      es.Buffering,
		OverlayVisible: s.overlay,
		ActiveCaption:  s.activeCaption,
		Capabilities:   s.caps,
		QualityOptions: s.selector.Options(),
		AudioTracks:    s.audioTracks,
		Captions:       s.captionTracks,
	}
	if s.activeCaption != "" {
		snap.ActiveCue = s.cursor.Active(es.PositionMillis)
	}
	if s.terminalErr != nil {
		snap.Error = s.terminalErr.Error()
	} else if err := s.resolver.Err(); err != nil {
		snap.Error = err.Error()
	}
	return snap
}

// Close tears the session down: background work stops, the final position
// is persisted and the engine shuts down. Safe to call twice.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.progressTracker().Flush(ctx)

	if err := s.eng.Close(); err != nil {
		logger.Warn("closing engine: %v", err)
	}
	metrics.ActiveSessions.Dec()
}

// run is the session heartbeat. Each tick samples the engine, updates the
// buffering overlay, observes progress, keeps the party aligned and decides
// whether a prefetch warm cycle is due.
func (s *Session) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var lastWarm time.Time
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		status := s.eng.Status()
		s.updateOverlay(status)

		if status.Loaded {
			s.progressTracker().Observe(s.ctx, status.PositionMillis, status.DurationMillis)
		}

		if s.sync != nil {
			if s.sync.IsHost() {
				if err := s.sync.PublishPlayback(s.ctx, status, false); err != nil {
					logger.Debug("party publish: %v", err)
				}
			} else if err := s.sync.Poll(s.ctx, s.eng); err != nil {
				logger.Debug("party poll: %v", err)
			}
		}

		interval := s.cfg.PrefetchInterval
		if status.Buffering {
			interval = s.cfg.PrefetchStallInterval
		}
		// Warm only while the player needs data: playing, or stalled
		// filling buffers. A paused player holds its window.
		active := status.Playing || status.Buffering
		if status.Loaded && active && time.Since(lastWarm) >= interval {
			lastWarm = time.Now()
			s.warm(status)
		}
	}
}

// warm runs one prefetch cycle for the active HLS source.
func (s *Session) warm(status engine.Status) {
	s.mu.Lock()
	source := s.source
	var key string
	if source != nil {
		key = s.warmKeyLocked()
	}
	s.mu.Unlock()

	if source == nil || source.Kind != types.StreamKindHLS {
		return
	}

	req := prefetch.Request{
		ManifestURI:    s.selector.ActiveURI(),
		Headers:        source.Headers,
		StartAtSeconds: float64(status.PositionMillis) / 1000,
		WindowSeconds:  s.cfg.PrefetchWindow.Seconds(),
		MaxSegments:    s.cfg.PrefetchMaxSegments,
		Concurrency:    s.cfg.PrefetchConcurrency,
		CacheKey:       key,
	}
	if err := s.deps.Warmer.Warm(s.ctx, req); err != nil {
		logger.Debug("prefetch cycle: %v", err)
	}
}

// warmKeyLocked scopes the prefetch seen-set to the source plus the active
// quality override. Callers hold s.mu.
func (s *Session) warmKeyLocked() string {
	return s.source.URI + "|" + s.selector.ActiveURI()
}

// updateOverlay runs the two-stage buffering heuristic: the overlay shows
// only when buffering has persisted past the grace delay AND the position
// has not advanced within the stall window. Brief rebuffers during normal
// playback never flash the overlay.
func (s *Session) updateOverlay(status engine.Status) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if status.PositionMillis != s.lastPosition {
		s.lastPosition = status.PositionMillis
		s.lastAdvance = now
	}

	if !status.Buffering {
		s.bufferingSince = time.Time{}
		s.overlay = false
		return
	}
	if s.bufferingSince.IsZero() {
		s.bufferingSince = now
	}

	persisted := now.Sub(s.bufferingSince) >= s.cfg.BufferingPersistDelay
	stalled := s.lastAdvance.IsZero() || now.Sub(s.lastAdvance) >= s.cfg.BufferingStallWindow
	s.overlay = persisted && stalled
}

// drainEngineErrors walks the remedy ladder for every playback element
// error. An exhausted ladder leaves a terminal error on the session.
func (s *Session) drainEngineErrors() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case err, ok := <-s.eng.Errors():
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			if handleErr := s.selector.HandlePlaybackError(s.ctx, err, s.eng); handleErr != nil {
				logger.Error("playback unrecoverable: %v (original: %v)", handleErr, err)
				s.mu.Lock()
				s.terminalErr = err
				s.mu.Unlock()
			}
		}
	}
}

// fetchManifest retrieves a playlist body with the source headers.
func (s *Session) fetchManifest(ctx context.Context, uri string, headers map[string]string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PrefetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.deps.HTTPClient.DoWithHeaders(req, headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, utils.LogURL(s.cfg, uri))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// newID returns a 16-hex-character session id.
func newID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
