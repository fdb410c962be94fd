package quality

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"playcore/work/client"
	"playcore/work/config"
	"playcore/work/engine"
	"playcore/work/logger"
	"playcore/work/manifest"
	"playcore/work/metrics"
	"playcore/work/types"
	"playcore/work/utils"
)

// ErrSwitchInProgress is returned when a quality switch is requested while
// a previous preload is still in flight; switches are serialized, never
// queued.
var ErrSwitchInProgress = errors.New("quality switch already in progress")

// ErrVariantsExhausted is returned by the automatic fallback ladder once
// every known variant has been tried; there is no remaining remedy and the
// caller surfaces a terminal playback error.
var ErrVariantsExhausted = errors.New("all quality variants exhausted")

// Selector owns quality switching for one player session: manual selection
// with a preload-before-switch step, the automatic compatibility-ordered
// fallback ladder walked on playback errors, and the one-shot HTTP→HTTPS
// upgrade for cleartext blocks. The attempt ledger (tried variant URIs) is
// consulted before every retry and reset wholesale on source change.
type Selector struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient

	mu       sync.Mutex
	baseURI  string
	headers  map[string]string
	options  []types.QualityOption
	override string          // Active variant override URI, "" means auto
	tried    map[string]bool // Attempt ledger of variant URIs that already failed
	upgraded map[string]bool // URIs already given the one-shot https upgrade
	loading  bool            // Re-entry guard while a preload is in flight
}

// NewSelector creates a selector over the shared HTTP client.
func NewSelector(cfg *config.Config, httpClient *client.HeaderSettingClient) *Selector {
	return &Selector{
		cfg:        cfg,
		httpClient: httpClient,
		tried:      make(map[string]bool),
		upgraded:   make(map[string]bool),
	}
}

// SetSource installs a freshly resolved source and resets all switching
// state: the override, the attempt ledger and the upgrade set. Called on
// every episode change or re-resolution.
func (s *Selector) SetSource(baseURI string, headers map[string]string, options []types.QualityOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseURI = baseURI
	s.headers = headers
	s.options = options
	s.override = ""
	s.tried = make(map[string]bool)
	s.upgraded = make(map[string]bool)
}

// Options returns the known quality options for the active source.
func (s *Selector) Options() []types.QualityOption {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.QualityOption, len(s.options))
	copy(out, s.options)
	return out
}

// ActiveURI returns the URI the player should currently be loaded with:
// the override when one is set, otherwise the unmodified source URI.
func (s *Selector) ActiveURI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.override != "" {
		return s.override
	}
	return s.baseURI
}

// Select applies a manual quality choice. A nil option requests auto mode,
// reverting to the unmodified source URI. A concrete option is preloaded
// first — its manifest and first segment are fetched so an unplayable
// variant fails fast before the player commits — then the override is
// swapped in, the engine reloaded, and the captured position and play
// intent reapplied. Returns ErrSwitchInProgress when a preload is already
// running.
func (s *Selector) Select(ctx context.Context, option *types.QualityOption, eng engine.Engine) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return ErrSwitchInProgress
	}
	s.loading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	if option == nil {
		s.mu.Lock()
		s.override = ""
		target := s.baseURI
		headers := s.headers
		s.mu.Unlock()

		metrics.QualitySwitches.WithLabelValues("auto").Inc()
		return s.reload(ctx, eng, target, headers)
	}

	s.mu.Lock()
	headers := s.headers
	s.mu.Unlock()

	if err := s.preload(ctx, option.URI, headers); err != nil {
		return fmt.Errorf("preloading %s: %w", option.Label(), err)
	}

	s.mu.Lock()
	s.override = option.URI
	s.mu.Unlock()

	metrics.QualitySwitches.WithLabelValues("manual").Inc()
	return s.reload(ctx, eng, option.URI, headers)
}

// HandlePlaybackError runs the automatic remedy ladder for a playback
// element error. Cleartext blocks get a one-shot HTTPS upgrade of the
// active URI; anything else on an HLS source with known variants marks the
// failing URI tried and switches to the first untried variant in
// compatibility order. ErrVariantsExhausted means no remedy remains.
func (s *Selector) HandlePlaybackError(ctx context.Context, playErr error, eng engine.Engine) error {
	if isCleartextError(playErr) {
		if err := s.tryHTTPSUpgrade(ctx, eng); err == nil {
			return nil
		}
		// Fall through to the variant ladder
	}

	s.mu.Lock()
	active := s.override
	if active == "" {
		active = s.baseURI
	}
	s.tried[active] = true

	ordered := manifest.OrderForCompatibility(s.options, s.cfg.TargetHeight, s.cfg.MaxHeight)
	var next *types.QualityOption
	for i := range ordered {
		if !s.tried[ordered[i].URI] && ordered[i].URI != "" {
			next = &ordered[i]
			break
		}
	}
	headers := s.headers
	if next != nil {
		s.override = next.URI
	}
	s.mu.Unlock()

	if next == nil {
		return ErrVariantsExhausted
	}

	logger.Warn("playback error on %s, falling back to %s: %v",
		utils.LogURL(s.cfg, active), next.Label(), playErr)
	metrics.QualitySwitches.WithLabelValues("fallback").Inc()
	return s.reload(ctx, eng, next.URI, headers)
}

// tryHTTPSUpgrade upgrades the active URI from http to https exactly once
// per URI. Returns an error when the upgrade does not apply.
func (s *Selector) tryHTTPSUpgrade(ctx context.Context, eng engine.Engine) error {
	s.mu.Lock()
	active := s.override
	if active == "" {
		active = s.baseURI
	}
	if !strings.HasPrefix(active, "http://") || s.upgraded[active] {
		s.mu.Unlock()
		return fmt.Errorf("https upgrade not applicable for %s", utils.LogURL(s.cfg, active))
	}
	s.upgraded[active] = true
	upgraded := "https://" + strings.TrimPrefix(active, "http://")
	s.override = upgraded
	headers := s.headers
	s.mu.Unlock()

	logger.Info("cleartext block, upgrading to https: %s", utils.LogURL(s.cfg, upgraded))
	metrics.QualitySwitches.WithLabelValues("https_upgrade").Inc()
	return s.reload(ctx, eng, upgraded, headers)
}

// reload swaps the engine's source while preserving position and play
// intent across the swap.
func (s *Selector) reload(ctx context.Context, eng engine.Engine, uri string, headers map[string]string) error {
	status := eng.Status()

	if err := eng.Load(ctx, uri, headers); err != nil {
		return fmt.Errorf("loading %s: %w", utils.LogURL(s.cfg, uri), err)
	}

	if status.PositionMillis > 0 {
		if err := eng.SeekTo(status.PositionMillis); err != nil {
			logger.Warn("restoring position after source swap: %v", err)
		}
	}
	if status.Playing {
		return eng.Play()
	}
	return nil
}

// preload fetches the variant manifest and the first byte of its first
// segment, so a dead variant is rejected before the player is disturbed.
func (s *Selector) preload(ctx context.Context, uri string, headers map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PrefetchTimeout)
	defer cancel()

	text, err := s.fetch(ctx, uri, headers, "")
	if err != nil {
		return err
	}

	target := uri
	if manifest.IsMasterPlaylist(text) {
		if best := manifest.PickBestVariant(text, uri); best != "" {
			if text, err = s.fetch(ctx, best, headers, ""); err != nil {
				return err
			}
			target = best
		}
	}

	segments := manifest.ParseMediaSegments(text, target)
	if len(segments) == 0 {
		return fmt.Errorf("variant has no segments")
	}

	_, err = s.fetch(ctx, segments[0].URI, headers, "bytes=0-0")
	return err
}

// fetch retrieves a URL with the source headers, optionally with a Range.
func (s *Selector) fetch(ctx context.Context, uri string, headers map[string]string, byteRange string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", err
	}
	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}

	resp, err := s.httpClient.DoWithHeaders(req, headers)
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

// isCleartextError matches the Android "cleartext traffic not permitted"
// failure mode as reported through the playback element.
func isCleartextError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "cleartext")
}
