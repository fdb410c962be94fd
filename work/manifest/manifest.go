package manifest

import (
	"sort"
	"strconv"
	"strings"

	"github.com/grafana/regexp"
	"github.com/grafov/m3u8"

	"playcore/work/logger"
	"playcore/work/types"
	"playcore/work/utils"
)

// resolutionRe matches the WIDTHxHEIGHT form of the RESOLUTION attribute.
var resolutionRe = regexp.MustCompile(`^(\d+)[xX](\d+)$`)

// IsMasterPlaylist reports whether the content is an HLS master playlist,
// identified by the presence of #EXT-X-STREAM-INF variant entries.
func IsMasterPlaylist(content string) bool {
	return strings.Contains(content, "#EXT-X-STREAM-INF")
}

// IsMediaPlaylist reports whether the content is an HLS media playlist,
// identified by segment (#EXTINF) or target-duration tags.
func IsMediaPlaylist(content string) bool {
	return strings.Contains(content, "#EXTINF") || strings.Contains(content, "#EXT-X-TARGETDURATION")
}

// IsVOD reports whether a media playlist is complete (VOD) rather than a
// live window, identified by the #EXT-X-ENDLIST marker.
func IsVOD(content string) bool {
	return strings.Contains(content, "#EXT-X-ENDLIST")
}

// ParseAudioTracks scans master playlist text for #EXT-X-MEDIA audio
// entries and projects them into selectable track options. Each option gets
// a stable id derived from a sanitized slug of its group, language and name
// attributes plus the entry's ordinal, so two tracks with identical
// attributes still produce distinct ids and the same text always re-parses
// to the same ids.
//
// This path is always hand-parsed: the id scheme depends on entry ordinals,
// which library decoders do not preserve.
func ParseAudioTracks(manifestText string) []types.AudioTrackOption {
	var tracks []types.AudioTrackOption

	index := 0
	for _, raw := range strings.Split(manifestText, "\n") {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, "#EXT-X-MEDIA:") {
			continue
		}

		attrs := parseAttributeList(strings.TrimPrefix(line, "#EXT-X-MEDIA:"))
		if !strings.EqualFold(attrs["TYPE"], "AUDIO") {
			continue
		}

		group := attrs["GROUP-ID"]
		name := attrs["NAME"]
		lang := attrs["LANGUAGE"]

		slug := utils.SanitizeSlug(group + "_" + lang + "_" + name)
		if slug == "" {
			slug = "audio"
		}

		tracks = append(tracks, types.AudioTrackOption{
			ID:       slug + "_" + strconv.Itoa(index),
			GroupID:  group,
			Name:     name,
			Language: lang,
			Default:  strings.EqualFold(attrs["DEFAULT"], "YES"),
		})
		index++
	}

	return tracks
}

// ParseQualityOptions extracts the quality variants of a master playlist,
// resolving each variant URI against baseURL and sorting the result
// descending by resolution height with bandwidth as tie-break, so the
// nominal best variant is always first. Parsing goes through grafov/m3u8
// first and falls back to a line parser when the decoder rejects the text —
// real-world scraped manifests are frequently out of spec in ways the strict
// decoder refuses.
func ParseQualityOptions(manifestText, baseURL string) []types.QualityOption {
	options := parseQualityGrafov(manifestText, baseURL)
	if options == nil {
		options = parseQualityFallback(manifestText, baseURL)
	}

	sort.SliceStable(options, func(i, j int) bool {
		if options[i].Height != options[j].Height {
			return options[i].Height > options[j].Height
		}
		return options[i].Bandwidth > options[j].Bandwidth
	})

	return options
}

// parseQualityGrafov decodes the text with grafov/m3u8 and projects master
// variants into quality options. Returns nil when the decoder fails or the
// text is not a master playlist, signaling the caller to use the fallback.
func parseQualityGrafov(manifestText, baseURL string) []types.QualityOption {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(manifestText), true)
	if err != nil || listType != m3u8.MASTER {
		return nil
	}

	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok {
		return nil
	}

	var options []types.QualityOption
	for _, variant := range master.Variants {
		if variant == nil || variant.URI == "" {
			continue
		}

		opt := types.QualityOption{
			URI:       utils.ResolveURL(variant.URI, baseURL),
			Bandwidth: int(variant.Bandwidth),
			Codecs:    variant.Codecs,
		}
		opt.Width, opt.Height = parseResolution(variant.Resolution)
		opt.ID = qualityID(opt)
		options = append(options, opt)
	}

	return options
}

// parseQualityFallback walks #EXT-X-STREAM-INF / URI line pairs by hand.
func parseQualityFallback(manifestText, baseURL string) []types.QualityOption {
	var options []types.QualityOption
	var pending *types.QualityOption

	for _, raw := range strings.Split(manifestText, "\n") {
		line := strings.TrimSpace(raw)

		if strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			attrs := parseAttributeList(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))

			opt := types.QualityOption{Codecs: attrs["CODECS"]}
			if bw, err := strconv.Atoi(attrs["BANDWIDTH"]); err == nil {
				opt.Bandwidth = bw
			}
			opt.Width, opt.Height = parseResolution(attrs["RESOLUTION"])
			pending = &opt
			continue
		}

		// The URI for a variant is the next non-comment line
		if pending != nil && line != "" && !strings.HasPrefix(line, "#") {
			pending.URI = utils.ResolveURL(line, baseURL)
			pending.ID = qualityID(*pending)
			options = append(options, *pending)
			pending = nil
		}
	}

	return options
}

// PickBestVariant selects the variant URI with the greatest height (then
// bandwidth) from master playlist text, for prefetch purposes. Returns ""
// when no variant can be extracted.
func PickBestVariant(masterText, baseURL string) string {
	options := ParseQualityOptions(masterText, baseURL)
	if len(options) == 0 {
		return ""
	}
	// Options are already sorted best-first
	return options[0].URI
}

// ParseMediaSegments walks #EXTINF / URI line pairs of a media playlist in
// document order, resolving each segment URI against baseURL. Durations are
// the #EXTINF seconds values; a missing or malformed duration yields zero
// rather than dropping the segment. grafov/m3u8 is tried first, with the
// same fallback policy as ParseQualityOptions.
func ParseMediaSegments(playlistText, baseURL string) []types.Segment {
	if segments := parseSegmentsGrafov(playlistText, baseURL); segments != nil {
		return segments
	}

	var segments []types.Segment
	pendingDuration := 0.0
	havePending := false

	for _, raw := range strings.Split(playlistText, "\n") {
		line := strings.TrimSpace(raw)

		if strings.HasPrefix(line, "#EXTINF:") {
			spec := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(spec, ","); idx >= 0 {
				spec = spec[:idx]
			}
			if d, err := strconv.ParseFloat(strings.TrimSpace(spec), 64); err == nil {
				pendingDuration = d
			} else {
				pendingDuration = 0
			}
			havePending = true
			continue
		}

		if havePending && line != "" && !strings.HasPrefix(line, "#") {
			segments = append(segments, types.Segment{
				URI:      utils.ResolveURL(line, baseURL),
				Duration: pendingDuration,
			})
			pendingDuration = 0
			havePending = false
		}
	}

	return segments
}

// parseSegmentsGrafov decodes media playlist segments with grafov/m3u8.
// Returns nil when decoding fails or the text is not a media playlist.
func parseSegmentsGrafov(playlistText, baseURL string) []types.Segment {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(playlistText), true)
	if err != nil || listType != m3u8.MEDIA {
		return nil
	}

	media, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok {
		return nil
	}

	var segments []types.Segment
	for _, seg := range media.Segments {
		if seg == nil || seg.URI == "" {
			continue
		}
		segments = append(segments, types.Segment{
			URI:      utils.ResolveURL(seg.URI, baseURL),
			Duration: seg.Duration,
		})
	}

	if len(segments) == 0 {
		logger.Debug("grafov decoded a media playlist with no usable segments, using fallback parser")
		return nil
	}
	return segments
}

// parseAttributeList tokenizes an HLS attribute list (the comma-separated
// KEY=VALUE form used by #EXT-X-MEDIA and #EXT-X-STREAM-INF) into a map.
// Commas inside quoted values do not split attributes, and surrounding
// quotes are stripped from values.
func parseAttributeList(params string) map[string]string {
	attrs := make(map[string]string)

	var key, value strings.Builder
	inQuotes := false
	inValue := false

	flush := func() {
		k := strings.TrimSpace(key.String())
		if k != "" {
			attrs[k] = strings.Trim(value.String(), "\"")
		}
		key.Reset()
		value.Reset()
		inValue = false
	}

	for _, r := range params {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			if inValue {
				value.WriteRune(r)
			}
		case r == '=' && !inQuotes && !inValue:
			inValue = true
		case r == ',' && !inQuotes:
			flush()
		default:
			if inValue {
				value.WriteRune(r)
			} else {
				key.WriteRune(r)
			}
		}
	}
	flush()

	return attrs
}

// parseResolution splits a WIDTHxHEIGHT attribute value, returning zeros
// when the value is missing or malformed.
func parseResolution(res string) (width, height int) {
	m := resolutionRe.FindStringSubmatch(strings.TrimSpace(res))
	if m == nil {
		return 0, 0
	}
	width, _ = strconv.Atoi(m[1])
	height, _ = strconv.Atoi(m[2])
	return width, height
}

// qualityID builds the stable composite id for a variant: bandwidth plus
// resolution when available, otherwise the URI. Re-parsing the same
// manifest text always reproduces the same ids.
func qualityID(opt types.QualityOption) string {
	if opt.Bandwidth > 0 || opt.Height > 0 {
		return strconv.Itoa(opt.Bandwidth) + "_" + strconv.Itoa(opt.Width) + "x" + strconv.Itoa(opt.Height)
	}
	return opt.URI
}
