package engine

import (
	"context"
	"sync"
	"time"
)

// Status is a point-in-time view of the playback element.
type Status struct {
	PositionMillis int64 // Current playback position
	DurationMillis int64 // Total duration, 0 while unknown
	Playing        bool  // Play/pause intent
	Buffering      bool  // True while the element is stalled filling buffers
	Loaded         bool  // True once a source has been loaded
}

// Engine abstracts the playback element the session drives. Implementations
// must be safe for use from the session's timer goroutines.
type Engine interface {
	// Load replaces the active source. Position resets to zero; callers
	// that need to keep their place capture it first and seek after.
	Load(ctx context.Context, uri string, headers map[string]string) error

	Play() error
	Pause() error
	SeekTo(positionMillis int64) error

	// Status reports the current playback state.
	Status() Status

	// Errors delivers playback element errors (decode failures, cleartext
	// blocks). The channel closes when the engine shuts down.
	Errors() <-chan error

	Close() error
}

// PictureInPicture is implemented by engines that can detach into a
// floating window. Probed once via interface assertion, not per call.
type PictureInPicture interface {
	EnterPictureInPicture() error
}

// Capabilities are the optional features the active engine supports,
// resolved once at session setup.
type Capabilities struct {
	PictureInPicture bool `json:"pictureInPicture"`
}

// ProbeCapabilities inspects the engine for optional interfaces. The result
// is stable for the engine's lifetime so callers cache it.
func ProbeCapabilities(e Engine) Capabilities {
	_, pip := e.(PictureInPicture)
	return Capabilities{PictureInPicture: pip}
}

// Virtual is a clock-driven Engine that mirrors a remote playback element:
// explicit status reports set its state, and between reports the position
// extrapolates against the wall clock while playing. The session layer and
// tests drive it the same way.
type Virtual struct {
	mu         sync.Mutex
	uri        string
	headers    map[string]string
	position   int64
	duration   int64
	playing    bool
	buffering  bool
	loaded     bool
	anchoredAt time.Time

	errs   chan error
	closed bool
}

// NewVirtual creates an unloaded virtual engine.
func NewVirtual() *Virtual {
	return &Virtual{errs: make(chan error, 4)}
}

// Load installs a new source and resets position.
func (v *Virtual) Load(_ context.Context, uri string, headers map[string]string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.uri = uri
	v.headers = headers
	v.position = 0
	v.playing = false
	v.buffering = false
	v.loaded = true
	v.anchoredAt = time.Now()
	return nil
}

// CurrentURI reports the loaded source URI.
func (v *Virtual) CurrentURI() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.uri
}

// Play starts advancing the position clock.
func (v *Virtual) Play() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.settleLocked()
	v.playing = true
	return nil
}

// Pause freezes the position clock.
func (v *Virtual) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.settleLocked()
	v.playing = false
	return nil
}

// SeekTo jumps to the given position.
func (v *Virtual) SeekTo(positionMillis int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if positionMillis < 0 {
		positionMillis = 0
	}
	if v.duration > 0 && positionMillis > v.duration {
		positionMillis = v.duration
	}
	v.position = positionMillis
	v.anchoredAt = time.Now()
	return nil
}

// Status returns the extrapolated playback state.
func (v *Virtual) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.settleLocked()
	return Status{
		PositionMillis: v.position,
		DurationMillis: v.duration,
		Playing:        v.playing,
		Buffering:      v.buffering,
		Loaded:         v.loaded,
	}
}

// Report overwrites the virtual state with an explicit status report from
// the real playback element.
func (v *Virtual) Report(s Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.position = s.PositionMillis
	if s.DurationMillis > 0 {
		v.duration = s.DurationMillis
	}
	v.playing = s.Playing
	v.buffering = s.Buffering
	v.anchoredAt = time.Now()
}

// ReportError injects a playback element error.
func (v *Virtual) ReportError(err error) {
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if closed {
		return
	}
	select {
	case v.errs <- err:
	default:
		// A full channel means nobody is draining errors; drop rather
		// than block the reporter
	}
}

// Errors exposes the playback error stream.
func (v *Virtual) Errors() <-chan error {
	return v.errs
}

// Close shuts the engine down and closes the error stream.
func (v *Virtual) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		v.closed = true
		close(v.errs)
	}
	return nil
}

// settleLocked folds elapsed wall time into the position while playing.
// Callers hold v.mu.
func (v *Virtual) settleLocked() {
	now := time.Now()
	if v.playing && !v.buffering && !v.anchoredAt.IsZero() {
		v.position += now.Sub(v.anchoredAt).Milliseconds()
		if v.duration > 0 && v.position > v.duration {
			v.position = v.duration
		}
	}
	v.anchoredAt = now
}
