package progress

import (
	"context"
	"sync"
	"time"

	"playcore/work/config"
	"playcore/work/logger"
	"playcore/work/types"
)

// Store persists watch positions. Implemented by the database package.
type Store interface {
	SaveProgress(ctx context.Context, p types.WatchProgress) error
	GetProgress(ctx context.Context, profileID string, media types.Media) (*types.WatchProgress, error)
}

// Tracker throttles watch-progress persistence for one session. Positions
// arrive on every status tick but hit the store at most once per configured
// interval; Flush bypasses the throttle for the moments that must not be
// lost (pause, seek, episode change, session teardown).
type Tracker struct {
	cfg   *config.Config
	store Store

	mu        sync.Mutex
	profileID string
	media     types.Media
	position  int64
	duration  int64
	dirty     bool
	lastWrite time.Time
}

// NewTracker creates a tracker for one profile/media pair.
func NewTracker(cfg *config.Config, store Store, profileID string, media types.Media) *Tracker {
	return &Tracker{
		cfg:       cfg,
		store:     store,
		profileID: profileID,
		media:     media,
	}
}

// Resume returns the previously saved position for this item, zero when the
// item has never been watched or the store fails (resuming is best-effort).
func (t *Tracker) Resume(ctx context.Context) int64 {
	saved, err := t.store.GetProgress(ctx, t.profileID, t.media)
	if err != nil {
		logger.Warn("loading watch progress: %v", err)
		return 0
	}
	if saved == nil {
		return 0
	}
	return saved.PositionMillis
}

// Observe records the latest playback position and persists it when the
// write interval has elapsed.
func (t *Tracker) Observe(ctx context.Context, positionMillis, durationMillis int64) {
	t.mu.Lock()
	t.position = positionMillis
	if durationMillis > 0 {
		t.duration = durationMillis
	}
	t.dirty = true
	due := time.Since(t.lastWrite) >= t.cfg.ProgressWriteInterval
	t.mu.Unlock()

	if due {
		t.Flush(ctx)
	}
}

// Flush persists the latest observed position immediately. A tracker with
// nothing new since the last write does nothing.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return
	}
	t.dirty = false
	t.lastWrite = time.Now()
	record := types.WatchProgress{
		ProfileID:      t.profileID,
		Media:          t.media,
		PositionMillis: t.position,
		DurationMillis: t.duration,
		UpdatedAt:      time.Now(),
	}
	t.mu.Unlock()

	if err := t.store.SaveProgress(ctx, record); err != nil {
		logger.Warn("saving watch progress: %v", err)
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
	}
}
