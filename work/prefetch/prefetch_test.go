package prefetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"

	"playcore/work/buffer"
	"playcore/work/client"
	"playcore/work/config"
)

func testConfig() *config.Config {
	return &config.Config{
		PrefetchTimeout:  5 * time.Second,
		PrefetchSeenCap:  512,
		LiveTailSegments: 3,
		UserAgent:        "test-agent",
	}
}

// segmentCounter records range requests per segment path.
type segmentCounter struct {
	mu     sync.Mutex
	counts map[string]int
	ranges map[string]string
}

func newSegmentCounter() *segmentCounter {
	return &segmentCounter{counts: make(map[string]int), ranges: make(map[string]string)}
}

func (c *segmentCounter) record(r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[r.URL.Path]++
	c.ranges[r.URL.Path] = r.Header.Get("Range")
}

func (c *segmentCounter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.counts {
		n += v
	}
	return n
}

func (c *segmentCounter) count(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[path]
}

func vodPlaylist(n int, dur float64) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "#EXTINF:%.1f,\nseg%d.ts\n", dur, i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

func livePlaylist(n int, dur float64) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:100\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "#EXTINF:%.1f,\nseg%d.ts\n", dur, i)
	}
	return b.String()
}

func newWarmer(t *testing.T, cfg *config.Config) *Warmer {
	t.Helper()
	pool, err := ants.NewPool(8)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Release)
	return NewWarmer(cfg, client.New(cfg), pool, buffer.NewPool(4096))
}

func serve(playlist string, counter *segmentCounter) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/media.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(playlist))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".ts") {
			counter.record(r)
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte{0x47})
			return
		}
		http.NotFound(w, r)
	})
	return httptest.NewServer(mux)
}

func TestWarmCollectsWindowFromStart(t *testing.T) {
	counter := newSegmentCounter()
	srv := serve(vodPlaylist(10, 6.0), counter)
	defer srv.Close()

	w := newWarmer(t, testConfig())
	err := w.Warm(context.Background(), Request{
		ManifestURI:    srv.URL + "/media.m3u8",
		StartAtSeconds: 0,
		WindowSeconds:  30,
		MaxSegments:    12,
		Concurrency:    2,
		CacheKey:       "k1",
	})
	if err != nil {
		t.Fatalf("Warm: %v", err)
	}

	// 6s segments filling a 30s window: exactly 5 segments
	if got := counter.total(); got != 5 {
		t.Fatalf("prefetched %d segments, want 5", got)
	}
	for i := 0; i < 5; i++ {
		path := fmt.Sprintf("/seg%d.ts", i)
		if counter.count(path) != 1 {
			t.Errorf("%s fetched %d times, want 1", path, counter.count(path))
		}
		counter.mu.Lock()
		if counter.ranges[path] != "bytes=0-0" {
			t.Errorf("%s Range = %q, want bytes=0-0", path, counter.ranges[path])
		}
		counter.mu.Unlock()
	}
}

func TestWarmStartsAfterPlaybackPosition(t *testing.T) {
	counter := newSegmentCounter()
	srv := serve(vodPlaylist(10, 6.0), counter)
	defer srv.Close()

	w := newWarmer(t, testConfig())
	err := w.Warm(context.Background(), Request{
		ManifestURI:    srv.URL + "/media.m3u8",
		StartAtSeconds: 10, // inside seg1 (6s-12s); collection starts at seg2
		WindowSeconds:  30,
		MaxSegments:    12,
		Concurrency:    2,
		CacheKey:       "k1",
	})
	if err != nil {
		t.Fatalf("Warm: %v", err)
	}

	if counter.count("/seg1.ts") != 0 {
		t.Error("segment covering the playback position must not be prefetched")
	}
	for i := 2; i < 7; i++ {
		path := fmt.Sprintf("/seg%d.ts", i)
		if counter.count(path) != 1 {
			t.Errorf("%s fetched %d times, want 1", path, counter.count(path))
		}
	}
	if got := counter.total(); got != 5 {
		t.Errorf("prefetched %d segments, want 5", got)
	}
}

func TestWarmSkipsSeenSegments(t *testing.T) {
	counter := newSegmentCounter()
	srv := serve(vodPlaylist(10, 6.0), counter)
	defer srv.Close()

	w := newWarmer(t, testConfig())
	req := Request{
		ManifestURI:    srv.URL + "/media.m3u8",
		StartAtSeconds: 0,
		WindowSeconds:  30,
		MaxSegments:    12,
		Concurrency:    2,
		CacheKey:       "k1",
	}

	for i := 0; i < 2; i++ {
		if err := w.Warm(context.Background(), req); err != nil {
			t.Fatalf("Warm #%d: %v", i+1, err)
		}
	}

	for i := 0; i < 5; i++ {
		path := fmt.Sprintf("/seg%d.ts", i)
		if counter.count(path) != 1 {
			t.Errorf("%s fetched %d times across two cycles, want 1", path, counter.count(path))
		}
	}

	// A different cache key starts a fresh seen set
	req.CacheKey = "k2"
	if err := w.Warm(context.Background(), req); err != nil {
		t.Fatalf("Warm with new key: %v", err)
	}
	if counter.count("/seg0.ts") != 2 {
		t.Errorf("/seg0.ts fetched %d times, want 2 after key change", counter.count("/seg0.ts"))
	}
}

func TestWarmLiveTakesTail(t *testing.T) {
	counter := newSegmentCounter()
	srv := serve(livePlaylist(5, 6.0), counter)
	defer srv.Close()

	w := newWarmer(t, testConfig()) // LiveTailSegments = 3
	err := w.Warm(context.Background(), Request{
		ManifestURI:    srv.URL + "/media.m3u8",
		StartAtSeconds: 0,
		WindowSeconds:  300,
		MaxSegments:    50,
		Concurrency:    2,
		CacheKey:       "live",
	})
	if err != nil {
		t.Fatalf("Warm: %v", err)
	}

	if counter.count("/seg0.ts") != 0 || counter.count("/seg1.ts") != 0 {
		t.Error("live warm must not fetch segments behind the tail")
	}
	for i := 2; i < 5; i++ {
		path := fmt.Sprintf("/seg%d.ts", i)
		if counter.count(path) != 1 {
			t.Errorf("%s fetched %d times, want 1", path, counter.count(path))
		}
	}
}

func TestWarmResolvesMasterToBestVariant(t *testing.T) {
	counter := newSegmentCounter()
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n" +
			"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=854x480\n480.m3u8\n" +
			"#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1280x720\n720.m3u8\n"))
	})
	mux.HandleFunc("/720.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(vodPlaylist(3, 6.0)))
	})
	mux.HandleFunc("/480.m3u8", func(w http.ResponseWriter, r *http.Request) {
		t.Error("warm must pick the best variant, not the first")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".ts") {
			counter.record(r)
			w.WriteHeader(http.StatusPartialContent)
			return
		}
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	w := newWarmer(t, testConfig())
	err := w.Warm(context.Background(), Request{
		ManifestURI:   srv.URL + "/master.m3u8",
		WindowSeconds: 30,
		MaxSegments:   12,
		Concurrency:   2,
		CacheKey:      "m",
	})
	if err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if got := counter.total(); got != 3 {
		t.Errorf("prefetched %d segments, want 3", got)
	}
}

func TestWarmMaxSegmentsCap(t *testing.T) {
	counter := newSegmentCounter()
	srv := serve(vodPlaylist(20, 2.0), counter)
	defer srv.Close()

	w := newWarmer(t, testConfig())
	err := w.Warm(context.Background(), Request{
		ManifestURI:   srv.URL + "/media.m3u8",
		WindowSeconds: 300,
		MaxSegments:   4,
		Concurrency:   2,
		CacheKey:      "cap",
	})
	if err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if got := counter.total(); got != 4 {
		t.Errorf("prefetched %d segments, want 4 (MaxSegments cap)", got)
	}
}
