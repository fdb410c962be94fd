package captions

import (
	"playcore/work/types"
)

// Cursor tracks the active cue within a sorted cue list as playback
// position advances. The index only moves as far as the position moved
// since the last lookup, so monotonic playback converges in amortized O(1);
// a seek degrades to a linear walk from the old index, which is accepted
// rather than special-cased.
type Cursor struct {
	cues []types.CaptionCue
	idx  int
}

// SetCues installs a new cue list (already sorted ascending by start) and
// resets the index. A nil list clears the cursor entirely, which is how
// selecting captions "off" is expressed.
func (c *Cursor) SetCues(cues []types.CaptionCue) {
	c.cues = cues
	c.idx = 0
}

// Len reports the number of cues installed.
func (c *Cursor) Len() int {
	return len(c.cues)
}

// Active returns the cue covering positionMs, or nil when the position
// falls between cues or outside the list. The cursor first walks backward
// while the position precedes the cue under it, then forward while the
// position is past the cue's end.
func (c *Cursor) Active(positionMs int64) *types.CaptionCue {
	if len(c.cues) == 0 {
		return nil
	}

	for c.idx > 0 && positionMs < c.cues[c.idx].Start {
		c.idx--
	}
	for c.idx < len(c.cues)-1 && positionMs > c.cues[c.idx].End {
		c.idx++
	}

	cue := &c.cues[c.idx]
	if positionMs >= cue.Start && positionMs <= cue.End {
		return cue
	}
	return nil
}
