package manifest

import (
	"testing"

	"playcore/work/types"
)

const masterFixture = `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="English",LANGUAGE="en",DEFAULT=YES,URI="audio/en.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="Français",LANGUAGE="fr",DEFAULT=NO,URI="audio/fr.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=854x480,CODECS="avc1.4d401f,mp4a.40.2"
480/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1280x720,CODECS="avc1.640028,mp4a.40.2"
720/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080,CODECS="hvc1.2.4.L120.b0,mp4a.40.2"
1080/index.m3u8
`

const mediaFixture = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXTINF:6.0,
seg0.ts
#EXTINF:6.0,
seg1.ts
#EXTINF:4.5,
seg2.ts
#EXT-X-ENDLIST
`

func TestPlaylistClassification(t *testing.T) {
	if !IsMasterPlaylist(masterFixture) {
		t.Error("master fixture not recognized as master")
	}
	if IsMasterPlaylist(mediaFixture) {
		t.Error("media fixture misrecognized as master")
	}
	if !IsMediaPlaylist(mediaFixture) {
		t.Error("media fixture not recognized as media")
	}
	if !IsVOD(mediaFixture) {
		t.Error("ENDLIST playlist not recognized as VOD")
	}
	if IsVOD(masterFixture) {
		t.Error("master fixture misrecognized as VOD")
	}
}

func TestParseQualityOptions(t *testing.T) {
	options := ParseQualityOptions(masterFixture, "https://cdn.example.com/show/master.m3u8")
	if len(options) != 3 {
		t.Fatalf("got %d options, want 3", len(options))
	}

	// Sorted best-first by height
	wantHeights := []int{1080, 720, 480}
	for i, h := range wantHeights {
		if options[i].Height != h {
			t.Errorf("options[%d].Height = %d, want %d", i, options[i].Height, h)
		}
	}

	if options[0].URI != "https://cdn.example.com/show/1080/index.m3u8" {
		t.Errorf("variant URI not resolved against base: %q", options[0].URI)
	}
	// Quoted CODECS values contain commas and must survive intact
	if options[1].Codecs != "avc1.640028,mp4a.40.2" {
		t.Errorf("Codecs = %q, want full quoted value", options[1].Codecs)
	}

	// Same text re-parses to the same ids
	again := ParseQualityOptions(masterFixture, "https://cdn.example.com/show/master.m3u8")
	for i := range options {
		if options[i].ID != again[i].ID {
			t.Errorf("id not stable across re-parse: %q vs %q", options[i].ID, again[i].ID)
		}
	}
}

func TestPickBestVariant(t *testing.T) {
	got := PickBestVariant(masterFixture, "https://cdn.example.com/show/master.m3u8")
	want := "https://cdn.example.com/show/1080/index.m3u8"
	if got != want {
		t.Errorf("PickBestVariant = %q, want %q", got, want)
	}
	if PickBestVariant(mediaFixture, "https://cdn.example.com/x.m3u8") != "" {
		t.Error("media playlist should yield no best variant")
	}
}

func TestParseAudioTracks(t *testing.T) {
	tracks := ParseAudioTracks(masterFixture)
	if len(tracks) != 2 {
		t.Fatalf("got %d tracks, want 2", len(tracks))
	}

	if tracks[0].ID != "aud_en_english_0" {
		t.Errorf("tracks[0].ID = %q, want aud_en_english_0", tracks[0].ID)
	}
	if !tracks[0].Default {
		t.Error("English track should be default")
	}
	if tracks[1].Language != "fr" {
		t.Errorf("tracks[1].Language = %q, want fr", tracks[1].Language)
	}
	if tracks[0].ID == tracks[1].ID {
		t.Error("track ids must be distinct")
	}
}

func TestParseAudioTracksDuplicateAttributes(t *testing.T) {
	text := `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="a",NAME="Main",LANGUAGE="en"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="a",NAME="Main",LANGUAGE="en"
`
	tracks := ParseAudioTracks(text)
	if len(tracks) != 2 {
		t.Fatalf("got %d tracks, want 2", len(tracks))
	}
	if tracks[0].ID == tracks[1].ID {
		t.Errorf("identical attributes must still yield distinct ids, both %q", tracks[0].ID)
	}
}

func TestParseMediaSegments(t *testing.T) {
	segments := ParseMediaSegments(mediaFixture, "https://cdn.example.com/show/720/index.m3u8")
	if len(segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(segments))
	}
	if segments[0].URI != "https://cdn.example.com/show/720/seg0.ts" {
		t.Errorf("segment URI not resolved: %q", segments[0].URI)
	}
	if segments[2].Duration != 4.5 {
		t.Errorf("segments[2].Duration = %v, want 4.5", segments[2].Duration)
	}
}

func TestParseAttributeList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		key  string
		want string
	}{
		{"simple", "BANDWIDTH=800000", "BANDWIDTH", "800000"},
		{"quoted with comma", `CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=854x480`, "CODECS", "avc1.4d401f,mp4a.40.2"},
		{"second key after quoted value", `CODECS="a,b",RESOLUTION=854x480`, "RESOLUTION", "854x480"},
		{"unquoted value", "RESOLUTION=1920x1080", "RESOLUTION", "1920x1080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := parseAttributeList(tt.in)
			if got := attrs[tt.key]; got != tt.want {
				t.Errorf("attrs[%q] = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestCodecRank(t *testing.T) {
	tests := []struct {
		codecs string
		want   int
	}{
		{"avc1.640028,mp4a.40.2", codecRankH264},
		{"avc3.4d401f", codecRankH264},
		{"hvc1.2.4.L120.b0", codecRankHEVC},
		{"hev1.1.6.L93.B0", codecRankHEVC},
		{"dvh1.05.06", codecRankHEVC},
		{"", codecRankUnknown},
		{"vp09.00.10.08", codecRankUnknown},
	}

	for _, tt := range tests {
		if got := CodecRank(tt.codecs); got != tt.want {
			t.Errorf("CodecRank(%q) = %d, want %d", tt.codecs, got, tt.want)
		}
	}
}

func TestOrderForCompatibility(t *testing.T) {
	a := types.QualityOption{ID: "A", URI: "a", Height: 1080, Bandwidth: 5_000_000, Codecs: "hvc1.2.4.L120.b0"}
	b := types.QualityOption{ID: "B", URI: "b", Height: 720, Bandwidth: 2_000_000, Codecs: "avc1.640028"}
	c := types.QualityOption{ID: "C", URI: "c", Height: 480, Bandwidth: 800_000, Codecs: "avc1.4d401f"}

	ordered := OrderForCompatibility([]types.QualityOption{a, b, c}, 720, 1080)

	want := []string{"B", "C", "A"}
	for i, id := range want {
		if ordered[i].ID != id {
			t.Fatalf("order = %v, want %v", ids(ordered), want)
		}
	}
}

func TestOrderForCompatibilityCapPenalty(t *testing.T) {
	over := types.QualityOption{ID: "4k", URI: "u4k", Height: 2160, Bandwidth: 12_000_000, Codecs: "avc1"}
	low := types.QualityOption{ID: "360", URI: "u360", Height: 360, Bandwidth: 500_000, Codecs: "avc1"}

	ordered := OrderForCompatibility([]types.QualityOption{over, low}, 720, 1080)
	if ordered[0].ID != "360" {
		t.Errorf("variant above the cap must sort after in-cap options, got %v", ids(ordered))
	}
}

func ids(options []types.QualityOption) []string {
	out := make([]string, len(options))
	for i, o := range options {
		out[i] = o.ID
	}
	return out
}
