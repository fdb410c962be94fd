package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"playcore/work/config"
	"playcore/work/types"
)

// fakeStore records saves and can be told to fail.
type fakeStore struct {
	mu    sync.Mutex
	saved []types.WatchProgress
	load  *types.WatchProgress
	fail  bool
}

func (f *fakeStore) SaveProgress(_ context.Context, p types.WatchProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("store unavailable")
	}
	f.saved = append(f.saved, p)
	return nil
}

func (f *fakeStore) GetProgress(_ context.Context, _ string, _ types.Media) (*types.WatchProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load, nil
}

func (f *fakeStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func (f *fakeStore) lastSaved() types.WatchProgress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[len(f.saved)-1]
}

var testMedia = types.Media{Type: types.MediaTypeMovie, TmdbID: 603}

func newTracker(store *fakeStore, interval time.Duration) *Tracker {
	return NewTracker(&config.Config{ProgressWriteInterval: interval}, store, "profile1", testMedia)
}

func TestObserveThrottlesWrites(t *testing.T) {
	store := &fakeStore{}
	tr := newTracker(store, time.Hour)
	ctx := context.Background()

	// First observation writes (lastWrite is zero), later ones are held back
	tr.Observe(ctx, 1000, 600_000)
	tr.Observe(ctx, 2000, 600_000)
	tr.Observe(ctx, 3000, 600_000)

	if store.saveCount() != 1 {
		t.Errorf("saves = %d, want 1 within the interval", store.saveCount())
	}
}

func TestFlushWritesLatestPosition(t *testing.T) {
	store := &fakeStore{}
	tr := newTracker(store, time.Hour)
	ctx := context.Background()

	tr.Observe(ctx, 1000, 600_000)
	tr.Observe(ctx, 90_000, 600_000)
	tr.Flush(ctx)

	if store.saveCount() != 2 {
		t.Fatalf("saves = %d, want 2", store.saveCount())
	}
	last := store.lastSaved()
	if last.PositionMillis != 90_000 {
		t.Errorf("flushed position = %d, want 90000", last.PositionMillis)
	}
	if last.ProfileID != "profile1" || last.Media.TmdbID != 603 {
		t.Errorf("flushed record = %+v", last)
	}

	// Nothing new since the flush: a second flush is a no-op
	tr.Flush(ctx)
	if store.saveCount() != 2 {
		t.Errorf("saves = %d after idle flush, want 2", store.saveCount())
	}
}

func TestFlushKeepsDirtyOnFailure(t *testing.T) {
	store := &fakeStore{fail: true}
	tr := newTracker(store, time.Hour)
	ctx := context.Background()

	tr.Observe(ctx, 5000, 0)

	// The failed write leaves the tracker dirty; a later flush retries
	store.mu.Lock()
	store.fail = false
	store.mu.Unlock()

	tr.Flush(ctx)
	if store.saveCount() != 1 {
		t.Errorf("saves = %d, want 1 retry after recovery", store.saveCount())
	}
}

func TestResume(t *testing.T) {
	store := &fakeStore{load: &types.WatchProgress{PositionMillis: 42_000}}
	tr := newTracker(store, time.Hour)

	if got := tr.Resume(context.Background()); got != 42_000 {
		t.Errorf("Resume = %d, want 42000", got)
	}

	empty := newTracker(&fakeStore{}, time.Hour)
	if got := empty.Resume(context.Background()); got != 0 {
		t.Errorf("Resume with no history = %d, want 0", got)
	}
}
