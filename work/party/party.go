package party

import (
	"context"
	"sync"
	"time"

	"playcore/work/config"
	"playcore/work/engine"
	"playcore/work/logger"
	"playcore/work/metrics"
	"playcore/work/types"
)

// Store is the shared-document backend a watch party synchronizes through.
// One participant (the host) writes playback snapshots; everyone reads them.
// Chat and the current-episode pointer ride the same backend.
type Store interface {
	// SavePlayback overwrites the room's playback snapshot.
	SavePlayback(ctx context.Context, roomCode string, snap types.PlaybackSnapshot) error

	// LoadPlayback returns the room's current snapshot, nil when none has
	// been published yet.
	LoadPlayback(ctx context.Context, roomCode string) (*types.PlaybackSnapshot, error)

	// SaveEpisode records which media the host is currently playing.
	SaveEpisode(ctx context.Context, roomCode string, ep types.PartyEpisode) error

	// LoadEpisode returns the room's current episode pointer, nil when unset.
	LoadEpisode(ctx context.Context, roomCode string) (*types.PartyEpisode, error)

	// AppendChat stores a chat message and returns its assigned id.
	AppendChat(ctx context.Context, msg types.ChatMessage) (int64, error)

	// ListChat returns messages with id greater than sinceID, ordered by
	// creation time, capped at limit.
	ListChat(ctx context.Context, roomCode string, sinceID int64, limit int) ([]types.ChatMessage, error)
}

// Synchronizer keeps one participant's playback aligned with the party's
// shared snapshot. The host publishes throttled snapshots of its own state;
// every other participant applies incoming snapshots through a drift gate so
// small clock skew never causes seek thrash. Snapshot application is strictly
// monotonic on the writer timestamp: anything at or before the last applied
// snapshot is discarded.
type Synchronizer struct {
	cfg   *config.Config
	store Store

	roomCode      string
	participantID string
	host          bool

	mu            sync.Mutex
	lastPublished time.Time
	lastState     bool // Play/pause state at the last publish
	lastApplied   int64
	pending       *types.PlaybackSnapshot
}

// NewSynchronizer creates a synchronizer for one participant in one room.
func NewSynchronizer(cfg *config.Config, store Store, roomCode, participantID string, host bool) *Synchronizer {
	return &Synchronizer{
		cfg:           cfg,
		store:         store,
		roomCode:      roomCode,
		participantID: participantID,
		host:          host,
	}
}

// IsHost reports whether this participant is the room's snapshot writer.
func (s *Synchronizer) IsHost() bool {
	return s.host
}

// PublishPlayback writes the host's playback state to the room document.
// Publishes are throttled to the configured spacing (tighter while playing,
// looser while paused); force bypasses the throttle for explicit user
// actions like seek or pause so other participants see them immediately.
// Non-hosts never publish.
func (s *Synchronizer) PublishPlayback(ctx context.Context, status engine.Status, force bool) error {
	if !s.host {
		return nil
	}

	s.mu.Lock()
	spacing := s.cfg.PartyPublishPaused
	if status.Playing {
		spacing = s.cfg.PartyPublishPlaying
	}
	stateChanged := status.Playing != s.lastState
	if !force && !stateChanged && time.Since(s.lastPublished) < spacing {
		s.mu.Unlock()
		return nil
	}
	s.lastPublished = time.Now()
	s.lastState = status.Playing
	s.mu.Unlock()

	snap := types.PlaybackSnapshot{
		IsPlaying:      status.Playing,
		PositionMillis: status.PositionMillis,
		UpdatedBy:      s.participantID,
		UpdatedAt:      time.Now().UnixMilli(),
	}

	if err := s.store.SavePlayback(ctx, s.roomCode, snap); err != nil {
		return err
	}
	metrics.PartyPublishes.Inc()
	return nil
}

// PublishEpisode records the host's episode change so other participants can
// re-resolve the same item.
func (s *Synchronizer) PublishEpisode(ctx context.Context, media types.Media) error {
	if !s.host {
		return nil
	}
	return s.store.SaveEpisode(ctx, s.roomCode, types.PartyEpisode{
		Media:     media,
		ChangedAt: time.Now().UnixMilli(),
	})
}

// Poll fetches the room's current snapshot and applies it to the engine.
// Non-host participants call this on a timer.
func (s *Synchronizer) Poll(ctx context.Context, eng engine.Engine) error {
	if s.host {
		return nil
	}
	snap, err := s.store.LoadPlayback(ctx, s.roomCode)
	if err != nil {
		return err
	}
	if snap != nil {
		s.Apply(*snap, eng)
	}
	return nil
}

// Apply aligns the local engine with a published snapshot. Snapshots from
// this participant, or not strictly newer than the last applied one, are
// discarded — out-of-order delivery must never rewind the party. When the
// engine has no source loaded yet the snapshot is buffered and replayed by
// FlushPending once loading completes.
func (s *Synchronizer) Apply(snap types.PlaybackSnapshot, eng engine.Engine) {
	if s.host || snap.UpdatedBy == s.participantID {
		return
	}

	s.mu.Lock()
	if snap.UpdatedAt <= s.lastApplied {
		s.mu.Unlock()
		metrics.PartyApplies.WithLabelValues("stale").Inc()
		return
	}

	status := eng.Status()
	if !status.Loaded {
		s.pending = &snap
		s.mu.Unlock()
		metrics.PartyApplies.WithLabelValues("buffered").Inc()
		return
	}

	s.lastApplied = snap.UpdatedAt
	s.mu.Unlock()

	s.applyTo(snap, status, eng)
}

// FlushPending replays a snapshot that arrived before the engine had a
// source. Called once loading completes.
func (s *Synchronizer) FlushPending(eng engine.Engine) {
	s.mu.Lock()
	snap := s.pending
	s.pending = nil
	s.mu.Unlock()

	if snap != nil {
		s.Apply(*snap, eng)
	}
}

// applyTo does the actual alignment: dead-reckon the host's position forward
// by the snapshot's age while playing, clamp away from the very end, seek
// only past the drift threshold, then match the play/pause state.
func (s *Synchronizer) applyTo(snap types.PlaybackSnapshot, status engine.Status, eng engine.Engine) {
	desired := snap.PositionMillis
	if snap.IsPlaying {
		if age := time.Now().UnixMilli() - snap.UpdatedAt; age > 0 {
			desired += age
		}
	}

	if status.DurationMillis > 0 {
		if limit := status.DurationMillis - s.cfg.PartyEndClamp.Milliseconds(); desired > limit {
			desired = limit
		}
	}
	if desired < 0 {
		desired = 0
	}

	drift := desired - status.PositionMillis
	if drift < 0 {
		drift = -drift
	}

	if drift > s.cfg.PartyDriftThreshold.Milliseconds() {
		if err := eng.SeekTo(desired); err != nil {
			logger.Warn("party seek failed: %v", err)
		}
		metrics.PartyApplies.WithLabelValues("seek").Inc()
	} else {
		metrics.PartyApplies.WithLabelValues("aligned").Inc()
	}

	if snap.IsPlaying && !status.Playing {
		if err := eng.Play(); err != nil {
			logger.Warn("party play failed: %v", err)
		}
	} else if !snap.IsPlaying && status.Playing {
		if err := eng.Pause(); err != nil {
			logger.Warn("party pause failed: %v", err)
		}
	}
}

// CurrentEpisode returns the room's episode pointer.
func (s *Synchronizer) CurrentEpisode(ctx context.Context) (*types.PartyEpisode, error) {
	return s.store.LoadEpisode(ctx, s.roomCode)
}

// SendChat appends a chat message for this participant.
func (s *Synchronizer) SendChat(ctx context.Context, body string) (types.ChatMessage, error) {
	msg := types.ChatMessage{
		RoomCode:  s.roomCode,
		Sender:    s.participantID,
		Body:      body,
		CreatedAt: time.Now().UnixMilli(),
	}
	id, err := s.store.AppendChat(ctx, msg)
	if err != nil {
		return types.ChatMessage{}, err
	}
	msg.ID = id
	return msg, nil
}

// Chat returns messages newer than sinceID, oldest first.
func (s *Synchronizer) Chat(ctx context.Context, sinceID int64, limit int) ([]types.ChatMessage, error) {
	return s.store.ListChat(ctx, s.roomCode, sinceID, limit)
}
