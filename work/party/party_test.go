package party

import (
	"context"
	"sync"
	"testing"
	"time"

	"playcore/work/config"
	"playcore/work/engine"
	"playcore/work/types"
)

func testConfig() *config.Config {
	return &config.Config{
		PartyPublishPlaying: 500 * time.Millisecond,
		PartyPublishPaused:  2 * time.Second,
		PartyDriftThreshold: 1500 * time.Millisecond,
		PartyEndClamp:       250 * time.Millisecond,
	}
}

// memoryStore is an in-memory Store for tests.
type memoryStore struct {
	mu       sync.Mutex
	playback map[string]types.PlaybackSnapshot
	episodes map[string]types.PartyEpisode
	chat     map[string][]types.ChatMessage
	saves    int
	nextID   int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		playback: make(map[string]types.PlaybackSnapshot),
		episodes: make(map[string]types.PartyEpisode),
		chat:     make(map[string][]types.ChatMessage),
	}
}

func (m *memoryStore) SavePlayback(_ context.Context, room string, snap types.PlaybackSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playback[room] = snap
	m.saves++
	return nil
}

func (m *memoryStore) LoadPlayback(_ context.Context, room string) (*types.PlaybackSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.playback[room]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (m *memoryStore) SaveEpisode(_ context.Context, room string, ep types.PartyEpisode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.episodes[room] = ep
	return nil
}

func (m *memoryStore) LoadEpisode(_ context.Context, room string) (*types.PartyEpisode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.episodes[room]
	if !ok {
		return nil, nil
	}
	return &ep, nil
}

func (m *memoryStore) AppendChat(_ context.Context, msg types.ChatMessage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg.ID = m.nextID
	m.chat[msg.RoomCode] = append(m.chat[msg.RoomCode], msg)
	return msg.ID, nil
}

func (m *memoryStore) ListChat(_ context.Context, room string, sinceID int64, limit int) ([]types.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ChatMessage
	for _, msg := range m.chat[room] {
		if msg.ID > sinceID {
			out = append(out, msg)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memoryStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func loadedEngine(t *testing.T, positionMillis, durationMillis int64, playing bool) *engine.Virtual {
	t.Helper()
	eng := engine.NewVirtual()
	if err := eng.Load(context.Background(), "https://cdn.example.com/x.m3u8", nil); err != nil {
		t.Fatal(err)
	}
	eng.Report(engine.Status{
		PositionMillis: positionMillis,
		DurationMillis: durationMillis,
		Playing:        playing,
		Loaded:         true,
	})
	return eng
}

func TestHostPublishThrottle(t *testing.T) {
	store := newMemoryStore()
	s := NewSynchronizer(testConfig(), store, "room1", "host", true)
	ctx := context.Background()

	status := engine.Status{PositionMillis: 1000, Playing: true, Loaded: true}
	if err := s.PublishPlayback(ctx, status, false); err != nil {
		t.Fatal(err)
	}
	// Immediately after, within the playing spacing: suppressed
	status.PositionMillis = 1100
	if err := s.PublishPlayback(ctx, status, false); err != nil {
		t.Fatal(err)
	}
	if store.saveCount() != 1 {
		t.Errorf("saves = %d, want 1 (throttled)", store.saveCount())
	}

	// Forced publishes bypass the throttle
	if err := s.PublishPlayback(ctx, status, true); err != nil {
		t.Fatal(err)
	}
	if store.saveCount() != 2 {
		t.Errorf("saves = %d, want 2 after force", store.saveCount())
	}

	// A play/pause flip publishes immediately even unforced
	status.Playing = false
	if err := s.PublishPlayback(ctx, status, false); err != nil {
		t.Fatal(err)
	}
	if store.saveCount() != 3 {
		t.Errorf("saves = %d, want 3 after state change", store.saveCount())
	}
}

func TestNonHostNeverPublishes(t *testing.T) {
	store := newMemoryStore()
	s := NewSynchronizer(testConfig(), store, "room1", "guest", false)

	if err := s.PublishPlayback(context.Background(), engine.Status{Playing: true}, true); err != nil {
		t.Fatal(err)
	}
	if store.saveCount() != 0 {
		t.Errorf("non-host published %d snapshots", store.saveCount())
	}
}

func TestApplyMonotonicity(t *testing.T) {
	s := NewSynchronizer(testConfig(), newMemoryStore(), "room1", "guest", false)
	eng := loadedEngine(t, 0, 600_000, false)

	now := time.Now().UnixMilli()
	newer := types.PlaybackSnapshot{PositionMillis: 120_000, UpdatedBy: "host", UpdatedAt: now}
	older := types.PlaybackSnapshot{PositionMillis: 30_000, UpdatedBy: "host", UpdatedAt: now - 5000}

	s.Apply(newer, eng)
	if pos := eng.Status().PositionMillis; pos < 119_000 {
		t.Fatalf("position = %d, want ~120000 after first apply", pos)
	}

	// The older snapshot arrives late and must be discarded
	s.Apply(older, eng)
	if pos := eng.Status().PositionMillis; pos < 119_000 {
		t.Errorf("position = %d, stale snapshot was applied", pos)
	}
}

func TestApplyInterleavedTimestampsEqualsIncreasingSubsequence(t *testing.T) {
	s := NewSynchronizer(testConfig(), newMemoryStore(), "room1", "guest", false)
	eng := loadedEngine(t, 0, 600_000, false)

	base := time.Now().UnixMilli()
	// Timestamps arrive out of order; only 10, 40, 50 should apply
	seq := []struct {
		offset int64
		pos    int64
	}{
		{10, 100_000},
		{5, 200_000},  // stale
		{40, 300_000},
		{20, 400_000}, // stale
		{50, 500_000},
	}
	for _, step := range seq {
		s.Apply(types.PlaybackSnapshot{
			PositionMillis: step.pos,
			UpdatedBy:      "host",
			UpdatedAt:      base + step.offset,
		}, eng)
	}

	if pos := eng.Status().PositionMillis; pos < 499_000 || pos > 501_000 {
		t.Errorf("final position = %d, want ~500000", pos)
	}
}

func TestApplyDriftGate(t *testing.T) {
	s := NewSynchronizer(testConfig(), newMemoryStore(), "room1", "guest", false)
	eng := loadedEngine(t, 100_000, 600_000, false)

	// 800ms of drift: under the 1500ms threshold, no seek
	s.Apply(types.PlaybackSnapshot{
		PositionMillis: 100_800,
		UpdatedBy:      "host",
		UpdatedAt:      time.Now().UnixMilli(),
	}, eng)
	if pos := eng.Status().PositionMillis; pos != 100_000 {
		t.Errorf("position = %d, small drift must not seek", pos)
	}

	// 10s of drift: seek
	s.Apply(types.PlaybackSnapshot{
		PositionMillis: 110_000,
		UpdatedBy:      "host",
		UpdatedAt:      time.Now().UnixMilli() + 10,
	}, eng)
	if pos := eng.Status().PositionMillis; pos < 109_000 {
		t.Errorf("position = %d, want ~110000 after seek", pos)
	}
}

func TestApplyAlignsPlayPause(t *testing.T) {
	s := NewSynchronizer(testConfig(), newMemoryStore(), "room1", "guest", false)
	eng := loadedEngine(t, 50_000, 600_000, true)

	s.Apply(types.PlaybackSnapshot{
		IsPlaying:      false,
		PositionMillis: 50_000,
		UpdatedBy:      "host",
		UpdatedAt:      time.Now().UnixMilli(),
	}, eng)
	if eng.Status().Playing {
		t.Error("engine should pause to match the snapshot")
	}

	s.Apply(types.PlaybackSnapshot{
		IsPlaying:      true,
		PositionMillis: 50_000,
		UpdatedBy:      "host",
		UpdatedAt:      time.Now().UnixMilli() + 10,
	}, eng)
	if !eng.Status().Playing {
		t.Error("engine should play to match the snapshot")
	}
}

func TestApplyClampsNearEnd(t *testing.T) {
	s := NewSynchronizer(testConfig(), newMemoryStore(), "room1", "guest", false)
	eng := loadedEngine(t, 0, 60_000, false)

	// Dead reckoning would land within the end clamp; position must stay
	// at least 250ms from the end
	s.Apply(types.PlaybackSnapshot{
		IsPlaying:      true,
		PositionMillis: 59_990,
		UpdatedBy:      "host",
		UpdatedAt:      time.Now().UnixMilli(),
	}, eng)

	pos := eng.Status().PositionMillis
	if pos > 59_800 {
		t.Errorf("position = %d, want clamped to ~59750", pos)
	}
	if pos < 59_000 {
		t.Errorf("position = %d, clamp overshot", pos)
	}
}

func TestApplyBuffersUntilLoaded(t *testing.T) {
	s := NewSynchronizer(testConfig(), newMemoryStore(), "room1", "guest", false)
	eng := engine.NewVirtual() // not loaded

	snap := types.PlaybackSnapshot{
		PositionMillis: 90_000,
		UpdatedBy:      "host",
		UpdatedAt:      time.Now().UnixMilli(),
	}
	s.Apply(snap, eng)
	if pos := eng.Status().PositionMillis; pos != 0 {
		t.Fatalf("position = %d, snapshot applied before load", pos)
	}

	if err := eng.Load(context.Background(), "https://cdn.example.com/x.m3u8", nil); err != nil {
		t.Fatal(err)
	}
	eng.Report(engine.Status{DurationMillis: 600_000, Loaded: true})

	s.FlushPending(eng)
	if pos := eng.Status().PositionMillis; pos < 89_000 {
		t.Errorf("position = %d, want ~90000 after flush", pos)
	}
}

func TestApplyIgnoresOwnSnapshots(t *testing.T) {
	s := NewSynchronizer(testConfig(), newMemoryStore(), "room1", "guest", false)
	eng := loadedEngine(t, 0, 600_000, false)

	s.Apply(types.PlaybackSnapshot{
		PositionMillis: 90_000,
		UpdatedBy:      "guest",
		UpdatedAt:      time.Now().UnixMilli(),
	}, eng)
	if pos := eng.Status().PositionMillis; pos != 0 {
		t.Errorf("position = %d, own snapshot was applied", pos)
	}
}

func TestChatRoundTrip(t *testing.T) {
	store := newMemoryStore()
	host := NewSynchronizer(testConfig(), store, "room1", "host", true)
	guest := NewSynchronizer(testConfig(), store, "room1", "guest", false)
	ctx := context.Background()

	if _, err := host.SendChat(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	msg, err := guest.SendChat(ctx, "hi there")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID == 0 {
		t.Error("SendChat must return the assigned id")
	}

	msgs, err := host.Chat(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Body != "hello" || msgs[1].Sender != "guest" {
		t.Errorf("chat history = %+v", msgs)
	}
}
