package cache

import (
	"strconv"
	"sync"
	"time"

	"playcore/work/scrape"
	"playcore/work/types"
)

// PrefetchedResults is a thread-safe, time-expiring store of scrape results
// produced ahead of playback (for example while the user is still on the
// details screen). The resolver polls it briefly on session start before
// issuing a fresh scrape; a hit saves the full resolution round-trip.
type PrefetchedResults struct {
	entries map[string]entry
	pending map[string]time.Time
	mu      sync.RWMutex
	ttl     time.Duration
}

// entry pairs a scrape result with its insertion time for expiry checks.
type entry struct {
	result    *scrape.Result
	timestamp time.Time
}

// NewPrefetchedResults creates a store whose entries expire after ttl.
func NewPrefetchedResults(ttl time.Duration) *PrefetchedResults {
	return &PrefetchedResults{
		entries: make(map[string]entry),
		pending: make(map[string]time.Time),
		ttl:     ttl,
	}
}

// key scopes prefetched results per media item; profile does not matter
// because a scrape result is profile-independent, but episodes of the same
// show resolve to different streams and must not share entries.
func key(media types.Media) string {
	k := media.Key("prefetch")
	if media.Type == types.MediaTypeShow {
		k += "_s" + strconv.Itoa(media.Season) + "e" + strconv.Itoa(media.Episode)
	}
	return k
}

// Get returns the prefetched result for the media if present and fresh.
// A hit is consumed: applying the same stale resolution to a second
// session start would bypass the scraper's source-ordering decisions.
func (pr *PrefetchedResults) Get(media types.Media) (*scrape.Result, bool) {
	k := key(media)

	pr.mu.Lock()
	defer pr.mu.Unlock()

	e, ok := pr.entries[k]
	if !ok {
		return nil, false
	}
	delete(pr.entries, k)

	if time.Since(e.timestamp) > pr.ttl {
		return nil, false
	}
	return e.result, true
}

// Put stores a prefetched result, overwriting any previous one for the
// same media.
func (pr *PrefetchedResults) Put(media types.Media, result *scrape.Result) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	k := key(media)
	pr.entries[k] = entry{result: result, timestamp: time.Now()}
	delete(pr.pending, k)
}

// MarkPending records that a prefetch for the media is in flight, so a
// resolver polling for the result knows to keep waiting instead of exiting
// early.
func (pr *PrefetchedResults) MarkPending(media types.Media) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.pending[key(media)] = time.Now()
}

// Pending reports whether a prefetch for the media is currently in flight.
// Pending markers share the entry TTL so a crashed producer cannot stall
// resolvers forever.
func (pr *PrefetchedResults) Pending(media types.Media) bool {
	pr.mu.RLock()
	defer pr.mu.RUnlock()

	started, ok := pr.pending[key(media)]
	return ok && time.Since(started) <= pr.ttl
}

// Sweep drops expired entries; callers run it periodically so abandoned
// prefetches do not accumulate.
func (pr *PrefetchedResults) Sweep() {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	now := time.Now()
	for k, e := range pr.entries {
		if now.Sub(e.timestamp) > pr.ttl {
			delete(pr.entries, k)
		}
	}
	for k, started := range pr.pending {
		if now.Sub(started) > pr.ttl {
			delete(pr.pending, k)
		}
	}
}
