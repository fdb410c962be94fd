package manifest

import (
	"sort"
	"strings"

	"playcore/work/types"
)

// Codec family ranks for compatibility ordering. H.264-class codecs decode
// everywhere; HEVC and Dolby Vision fail on enough constrained devices that
// they are always tried last, and an unrecognized codec sits in between.
const (
	codecRankH264    = 0
	codecRankUnknown = 1
	codecRankHEVC    = 2
)

// CodecRank classifies a CODECS attribute value into a compatibility rank
// (lower is safer). The attribute may list several codecs; the video codec
// prefix decides the rank.
func CodecRank(codecs string) int {
	c := strings.ToLower(codecs)
	switch {
	case strings.Contains(c, "avc1"), strings.Contains(c, "avc3"), strings.Contains(c, "h264"):
		return codecRankH264
	case strings.Contains(c, "hvc1"), strings.Contains(c, "hev1"),
		strings.Contains(c, "dvh1"), strings.Contains(c, "dvhe"), strings.Contains(c, "hevc"):
		return codecRankHEVC
	default:
		return codecRankUnknown
	}
}

// OrderForCompatibility returns a copy of options ranked by how likely each
// variant is to actually play: codec family first, then absolute distance of
// the vertical resolution from targetHeight — with anything above maxHeight
// penalized heavily — then ascending bandwidth as tie-break. The resulting
// order is the fallback sequence walked automatically after a playback error
// on the current variant.
func OrderForCompatibility(options []types.QualityOption, targetHeight, maxHeight int) []types.QualityOption {
	ordered := make([]types.QualityOption, len(options))
	copy(ordered, options)

	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := CodecRank(ordered[i].Codecs), CodecRank(ordered[j].Codecs)
		if ri != rj {
			return ri < rj
		}

		di := heightDistance(ordered[i].Height, targetHeight, maxHeight)
		dj := heightDistance(ordered[j].Height, targetHeight, maxHeight)
		if di != dj {
			return di < dj
		}

		return ordered[i].Bandwidth < ordered[j].Bandwidth
	})

	return ordered
}

// heightDistance scores how far a variant's height sits from the target.
// Heights above the hard cap get a large constant penalty on top of their
// distance so they sort after every in-cap option of the same codec rank.
func heightDistance(height, targetHeight, maxHeight int) int {
	d := height - targetHeight
	if d < 0 {
		d = -d
	}
	if height > maxHeight {
		d += 1 << 20
	}
	return d
}
