package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resolutions counts playback source resolutions by outcome ("ok",
// "failed", "prefetched"). This is a counter and only increases.
var Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "playcore_resolutions_total",
	Help: "Playback source resolutions by outcome",
}, []string{"outcome"})

// PrefetchedSegments counts segments warmed by the prefetcher, labeled by
// result ("ok", "error", "skipped").
var PrefetchedSegments = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "playcore_prefetched_segments_total",
	Help: "Segments warmed by the prefetcher",
}, []string{"result"})

// QualitySwitches counts quality changes by trigger ("manual", "fallback",
// "https_upgrade", "auto").
var QualitySwitches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "playcore_quality_switches_total",
	Help: "Quality switches by trigger",
}, []string{"trigger"})

// CaptionParses counts caption payload parses by format and result.
var CaptionParses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "playcore_caption_parses_total",
	Help: "Caption payload parses",
}, []string{"format", "result"})

// PartyPublishes counts watch-party snapshot publishes by the host.
var PartyPublishes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "playcore_party_publishes_total",
	Help: "Watch-party snapshot publishes",
})

// PartyApplies counts snapshot applications on non-host participants,
// labeled by action ("seek", "aligned", "stale", "buffered").
var PartyApplies = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "playcore_party_applies_total",
	Help: "Watch-party snapshot applications",
}, []string{"action"})

// ActiveSessions tracks the number of live player sessions.
var ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "playcore_active_sessions",
	Help: "Number of active player sessions",
})
