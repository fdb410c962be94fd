package types

import (
	"strconv"
	"time"
)

// MediaType classifies the content being played so that resolution payloads,
// watch-progress keys and subtitle lookups can be shaped correctly. Movies
// resolve with a bare identifier while shows carry season/episode numbers.
type MediaType string

// Supported media type values.
const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeShow  MediaType = "show"
)

// StreamKind identifies the transport format of a resolved playback source.
// HLS sources get the full manifest/variant/prefetch treatment; anything else
// is handed to the playback engine as an opaque progressive URL.
type StreamKind string

// Stream kind constants for resolved sources.
const (
	StreamKindHLS   StreamKind = "hls"
	StreamKindOther StreamKind = "other"
)

// Media identifies one playable item (a movie, or one episode of a show)
// together with the external identifiers the scrape and subtitle
// collaborators key on. Title and Poster are display metadata only and never
// affect playback correctness.
type Media struct {
	Type    MediaType `json:"type"`              // movie or show
	TmdbID  int       `json:"tmdbId"`            // TMDB identifier (primary key for scraping)
	ImdbID  string    `json:"imdbId,omitempty"`  // IMDB identifier (subtitle lookups)
	Season  int       `json:"season,omitempty"`  // Season number, shows only
	Episode int       `json:"episode,omitempty"` // Episode number, shows only
	Title   string    `json:"title,omitempty"`   // Display title
	Poster  string    `json:"poster,omitempty"`  // Poster image URL
}

// Key returns the stable watch-progress document key for this media,
// scoped to a profile: "{profileId}_{mediaType}_{tmdbId}".
func (m Media) Key(profileID string) string {
	return profileID + "_" + string(m.Type) + "_" + strconv.Itoa(m.TmdbID)
}

// PlaybackSource is the resolved, playable description of one piece of media:
// the final URI, the request headers it must be fetched with, its transport
// kind and whatever caption tracks the resolver discovered. A source is owned
// exclusively by the player session that resolved it and is replaced
// wholesale on every episode change or manual quality override; it is never
// mutated in place.
type PlaybackSource struct {
	URI        string            // Playable URI after proxy unwrapping
	Headers    map[string]string // Headers required by the origin (UA, Referer, Origin, ...)
	Kind       StreamKind        // hls or other
	Captions   []CaptionSource   // Caption tracks discovered at resolution time
	SourceID   string            // Scraper source identifier, used for header injection rules
	EmbedID    string            // Scraper embed identifier, used for header injection rules
	ResolvedAt time.Time         // When this source was produced
}

// CaptionSource describes one subtitle track that can be selected for
// display. Immutable once discovered; the parsed cue list is cached lazily
// on first selection, keyed by ID.
type CaptionSource struct {
	ID       string `json:"id"`                 // Stable identifier within the session
	Format   string `json:"format"`             // "srt" or "vtt"
	URL      string `json:"url"`                // Where to fetch the payload
	Language string `json:"language,omitempty"` // BCP-47-ish language hint
	Display  string `json:"display,omitempty"`  // Human-readable label
}

// CaptionCue is a single timed subtitle cue. Cue lists are always sorted
// ascending by Start; a session-local cursor walks the list so that lookups
// during monotonic playback are amortized O(1).
type CaptionCue struct {
	Start int64  // Cue start, milliseconds
	End   int64  // Cue end, milliseconds
	Text  string // Display text with inline markup stripped
}

// AudioTrackOption is a read-only projection of one #EXT-X-MEDIA:TYPE=AUDIO
// line from a master manifest. IDs are derived from a sanitized slug of the
// group/language/name attributes plus the line index, so two tracks with
// identical attributes still get distinct ids.
type AudioTrackOption struct {
	ID       string `json:"id"`
	GroupID  string `json:"groupId"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
	Default  bool   `json:"default"`
}

// QualityOption is a read-only projection of one #EXT-X-STREAM-INF entry
// from a master manifest. The ID is a composite of bandwidth and resolution
// (or the URI when both are missing), which keeps it stable across re-parses
// of the same manifest text.
type QualityOption struct {
	ID        string `json:"id"`
	URI       string `json:"uri"`       // Absolute variant playlist URI
	Width     int    `json:"width"`     // 0 when the manifest carries no RESOLUTION
	Height    int    `json:"height"`    // 0 when the manifest carries no RESOLUTION
	Bandwidth int    `json:"bandwidth"` // Bits per second
	Codecs    string `json:"codecs"`    // Raw CODECS attribute value
}

// Label renders a short human-readable name for the option, preferring the
// vertical resolution and falling back to bandwidth.
func (q QualityOption) Label() string {
	if q.Height > 0 {
		return strconv.Itoa(q.Height) + "p"
	}
	if q.Bandwidth > 0 {
		return strconv.Itoa(q.Bandwidth/1000) + " kbps"
	}
	return "auto"
}

// Segment is one media-playlist entry in document order. Duration is the
// #EXTINF value in seconds, or zero when the playlist omitted it; durations
// accumulate to locate the segment nearest a target start offset.
type Segment struct {
	URI      string
	Duration float64
}

// PlaybackSnapshot is the single-writer watch-party playback document.
// The party host publishes these; every other participant treats them as
// last-write-wins keyed by UpdatedAt monotonicity, discarding any snapshot
// older than the last one it applied.
type PlaybackSnapshot struct {
	IsPlaying      bool   `json:"isPlaying"`
	PositionMillis int64  `json:"positionMillis"`
	UpdatedBy      string `json:"updatedBy"` // Participant id of the writer (the host)
	UpdatedAt      int64  `json:"updatedAt"` // Server timestamp, unix milliseconds
}

// PartyEpisode records which content the party host is currently playing so
// that non-host participants can re-resolve the same item when it changes.
type PartyEpisode struct {
	Media     Media `json:"media"`
	ChangedAt int64 `json:"changedAt"` // Unix milliseconds
}

// ChatMessage is one watch-party chat entry, served ordered by CreatedAt.
type ChatMessage struct {
	ID        int64  `json:"id"`
	RoomCode  string `json:"roomCode"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"createdAt"` // Unix milliseconds
}

// WatchProgress is the persisted per-profile playback position for one piece
// of media, mirrored to the document store on meaningful change and forced
// on session teardown.
type WatchProgress struct {
	ProfileID      string    `json:"profileId"`
	Media          Media     `json:"media"`
	PositionMillis int64     `json:"positionMillis"`
	DurationMillis int64     `json:"durationMillis"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
