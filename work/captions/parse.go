package captions

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/grafana/regexp"

	"playcore/work/metrics"
	"playcore/work/types"
)

var (
	// tagRe strips inline markup (<b>, <i>, <c.classname>, closing tags)
	// from cue text.
	tagRe = regexp.MustCompile(`<[^>]*>`)

	// timestampRe validates one timestamp token: optional hours and minutes,
	// seconds, and a dot- or comma-separated millisecond field.
	timestampRe = regexp.MustCompile(`^(?:(\d{1,3}):)?(?:(\d{1,2}):)?(\d{1,2})[.,](\d{1,3})$`)
)

// ParseCaptions parses an SRT or VTT payload into a cue list sorted
// ascending by start time. Both formats reduce to the same block grammar:
// blank-line-delimited blocks, an optional numeric sequence line, a timing
// line containing "-->", then text lines. Cues whose text is empty after
// markup stripping are discarded. format is "srt" or "vtt" and only affects
// header handling; the timing grammar accepts both dot and comma millisecond
// separators regardless.
func ParseCaptions(payload string, format string) ([]types.CaptionCue, error) {
	text := strings.TrimPrefix(payload, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	if strings.EqualFold(format, "vtt") {
		// The WEBVTT header line may carry trailing metadata; drop the whole
		// line, plus any header blocks before the first blank line
		if strings.HasPrefix(text, "WEBVTT") {
			if idx := strings.Index(text, "\n"); idx >= 0 {
				text = text[idx+1:]
			} else {
				text = ""
			}
		}
	}

	var cues []types.CaptionCue
	for _, block := range splitBlocks(text) {
		cue, ok := parseBlock(block)
		if ok {
			cues = append(cues, cue)
		}
	}

	sort.SliceStable(cues, func(i, j int) bool {
		return cues[i].Start < cues[j].Start
	})

	if len(cues) == 0 {
		metrics.CaptionParses.WithLabelValues(strings.ToLower(format), "empty").Inc()
		return nil, fmt.Errorf("no cues found in %s payload", format)
	}

	metrics.CaptionParses.WithLabelValues(strings.ToLower(format), "ok").Inc()
	return cues, nil
}

// splitBlocks divides the payload into blank-line-delimited cue blocks.
func splitBlocks(text string) [][]string {
	var blocks [][]string
	var current []string

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			if len(current) > 0 {
				blocks = append(blocks, current)
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}

	return blocks
}

// parseBlock extracts one cue from a block: an optional leading numeric
// sequence line is discarded, the timing line must contain "-->", and the
// remaining lines become the cue text with markup stripped.
func parseBlock(lines []string) (types.CaptionCue, bool) {
	// Discard a leading bare sequence index (SRT, and some VTT emitters)
	if len(lines) > 1 && isNumeric(lines[0]) && strings.Contains(lines[1], "-->") {
		lines = lines[1:]
	}

	if len(lines) == 0 || !strings.Contains(lines[0], "-->") {
		return types.CaptionCue{}, false
	}

	parts := strings.SplitN(lines[0], "-->", 2)
	start, okStart := parseTimestamp(parts[0])
	// VTT cue settings may trail the end timestamp; the first token is the
	// timestamp itself
	endField := strings.Fields(strings.TrimSpace(parts[1]))
	if len(endField) == 0 {
		return types.CaptionCue{}, false
	}
	end, okEnd := parseTimestamp(endField[0])
	if !okStart || !okEnd {
		return types.CaptionCue{}, false
	}

	var textLines []string
	for _, line := range lines[1:] {
		clean := strings.TrimSpace(tagRe.ReplaceAllString(line, ""))
		if clean != "" {
			textLines = append(textLines, clean)
		}
	}
	if len(textLines) == 0 {
		return types.CaptionCue{}, false
	}

	return types.CaptionCue{
		Start: start,
		End:   end,
		Text:  strings.Join(textLines, "\n"),
	}, true
}

// parseTimestamp converts "HH:MM:SS.mmm", "MM:SS.mmm" or "SS,mmm" (dot or
// comma) to milliseconds. The regex leaves hours/minutes groups empty when
// absent; a two-field form is minutes:seconds, not hours:seconds.
func parseTimestamp(raw string) (int64, bool) {
	m := timestampRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, false
	}

	hours, minutes := m[1], m[2]
	if hours != "" && minutes == "" {
		// Only one colon present: the leading field is minutes
		hours, minutes = "", hours
	}

	h := atoi(hours)
	min := atoi(minutes)
	sec := atoi(m[3])

	// Millisecond field may be 1-3 digits; right-pad to milliseconds
	frac := m[4]
	for len(frac) < 3 {
		frac += "0"
	}
	ms := atoi(frac)

	return int64(h)*3600_000 + int64(min)*60_000 + int64(sec)*1000 + int64(ms), true
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
