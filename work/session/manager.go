package session

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"

	"playcore/work/engine"
	"playcore/work/party"
	"playcore/work/types"
)

// Manager tracks live sessions by id. Sessions are created through Open and
// removed through Close; lookups are lock-free.
type Manager struct {
	deps     Deps
	sessions *xsync.MapOf[string, *Session]
}

// NewManager creates a manager over the shared collaborators.
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:     deps,
		sessions: xsync.NewMapOf[string, *Session](),
	}
}

// Open creates a session for a profile and media item, resolves it and
// starts playback-side background work. A failed resolution still returns
// the session (with the error) so the caller can offer retry against the
// same session id.
func (m *Manager) Open(ctx context.Context, profileID string, media types.Media, eng engine.Engine) (*Session, error) {
	s := newSession(m.deps, profileID, media, eng, nil)
	m.sessions.Store(s.ID, s)
	return s, s.Start(ctx)
}

// OpenInParty is Open for a watch-party participant: the session carries a
// synchronizer bound to the room. Non-host participants start from the
// room's episode pointer when one exists.
func (m *Manager) OpenInParty(ctx context.Context, profileID string, media types.Media, eng engine.Engine, roomCode string, host bool) (*Session, error) {
	if m.deps.Party == nil {
		return nil, fmt.Errorf("watch parties are not configured")
	}
	sync := party.NewSynchronizer(m.deps.Cfg, m.deps.Party, roomCode, profileID, host)

	if !host {
		if ep, err := sync.CurrentEpisode(ctx); err == nil && ep != nil {
			media = ep.Media
		}
	}

	s := newSession(m.deps, profileID, media, eng, sync)
	m.sessions.Store(s.ID, s)

	err := s.Start(ctx)
	if err == nil && host {
		if pubErr := sync.PublishEpisode(ctx, media); pubErr != nil {
			err = pubErr
		}
	}
	return s, err
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	return m.sessions.Load(id)
}

// Close tears a session down and forgets it.
func (m *Manager) Close(id string) bool {
	s, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return false
	}
	s.Close()
	return true
}

// CloseAll tears down every live session; used on shutdown.
func (m *Manager) CloseAll() {
	m.sessions.Range(func(id string, s *Session) bool {
		m.sessions.Delete(id)
		s.Close()
		return true
	})
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	return m.sessions.Size()
}
