package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"playcore/work/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestProgressRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	media := types.Media{Type: types.MediaTypeShow, TmdbID: 1399, ImdbID: "tt0944947", Season: 1, Episode: 3, Title: "Thrones"}
	record := types.WatchProgress{
		ProfileID:      "p1",
		Media:          media,
		PositionMillis: 123_456,
		DurationMillis: 3_600_000,
		UpdatedAt:      time.Now(),
	}

	if err := db.SaveProgress(ctx, record); err != nil {
		t.Fatalf("SaveProgress: %v", err)
	}

	got, err := db.GetProgress(ctx, "p1", media)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if got == nil {
		t.Fatal("GetProgress returned nil for a saved item")
	}
	if got.PositionMillis != 123_456 || got.Media.Season != 1 || got.Media.Episode != 3 {
		t.Errorf("loaded = %+v", got)
	}

	// Upsert: a second save for the same key updates in place
	record.PositionMillis = 200_000
	if err := db.SaveProgress(ctx, record); err != nil {
		t.Fatalf("second SaveProgress: %v", err)
	}
	got, err = db.GetProgress(ctx, "p1", media)
	if err != nil {
		t.Fatal(err)
	}
	if got.PositionMillis != 200_000 {
		t.Errorf("position after upsert = %d, want 200000", got.PositionMillis)
	}

	items, err := db.ListProgress(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("ListProgress: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("ListProgress returned %d items, want 1 (upsert collapsed)", len(items))
	}

	if err := db.DeleteProgress(ctx, "p1", media); err != nil {
		t.Fatalf("DeleteProgress: %v", err)
	}
	got, err = db.GetProgress(ctx, "p1", media)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("progress still present after delete")
	}
}

func TestProgressIsolatedPerProfile(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	media := types.Media{Type: types.MediaTypeMovie, TmdbID: 603}

	if err := db.SaveProgress(ctx, types.WatchProgress{ProfileID: "p1", Media: media, PositionMillis: 10, UpdatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetProgress(ctx, "p2", media)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("profile p2 must not see p1's progress")
	}
}

func TestPartyRoomLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.CreateRoom(ctx, "ABCD", "host1"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := db.CreateRoom(ctx, "ABCD", "host2"); err == nil {
		t.Error("duplicate room code must fail")
	}

	room, err := db.GetRoom(ctx, "ABCD")
	if err != nil {
		t.Fatal(err)
	}
	if room == nil || room.HostID != "host1" {
		t.Fatalf("GetRoom = %+v", room)
	}

	// No snapshot published yet
	snap, err := db.LoadPlayback(ctx, "ABCD")
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Errorf("LoadPlayback before publish = %+v, want nil", snap)
	}

	want := types.PlaybackSnapshot{IsPlaying: true, PositionMillis: 42_000, UpdatedBy: "host1", UpdatedAt: time.Now().UnixMilli()}
	if err := db.SavePlayback(ctx, "ABCD", want); err != nil {
		t.Fatalf("SavePlayback: %v", err)
	}
	snap, err = db.LoadPlayback(ctx, "ABCD")
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil || *snap != want {
		t.Errorf("LoadPlayback = %+v, want %+v", snap, want)
	}

	if err := db.SavePlayback(ctx, "NOPE", want); err == nil {
		t.Error("SavePlayback to an unknown room must fail")
	}

	episode := types.PartyEpisode{
		Media:     types.Media{Type: types.MediaTypeShow, TmdbID: 1399, Season: 2, Episode: 1},
		ChangedAt: time.Now().UnixMilli(),
	}
	if err := db.SaveEpisode(ctx, "ABCD", episode); err != nil {
		t.Fatalf("SaveEpisode: %v", err)
	}
	gotEp, err := db.LoadEpisode(ctx, "ABCD")
	if err != nil {
		t.Fatal(err)
	}
	if gotEp == nil || gotEp.Media.Season != 2 || gotEp.Media.Episode != 1 {
		t.Errorf("LoadEpisode = %+v", gotEp)
	}

	if err := db.DeleteRoom(ctx, "ABCD"); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	room, err = db.GetRoom(ctx, "ABCD")
	if err != nil {
		t.Fatal(err)
	}
	if room != nil {
		t.Error("room still present after delete")
	}
}

func TestChatOrdering(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.CreateRoom(ctx, "ROOM", "host1"); err != nil {
		t.Fatal(err)
	}

	base := time.Now().UnixMilli()
	var lastID int64
	for i, body := range []string{"first", "second", "third"} {
		id, err := db.AppendChat(ctx, types.ChatMessage{
			RoomCode:  "ROOM",
			Sender:    "host1",
			Body:      body,
			CreatedAt: base + int64(i),
		})
		if err != nil {
			t.Fatalf("AppendChat: %v", err)
		}
		if id <= lastID {
			t.Errorf("ids not increasing: %d after %d", id, lastID)
		}
		lastID = id
	}

	msgs, err := db.ListChat(ctx, "ROOM", 0, 10)
	if err != nil {
		t.Fatalf("ListChat: %v", err)
	}
	if len(msgs) != 3 || msgs[0].Body != "first" || msgs[2].Body != "third" {
		t.Errorf("ListChat = %+v", msgs)
	}

	// Incremental fetch from the last seen id
	newer, err := db.ListChat(ctx, "ROOM", msgs[1].ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(newer) != 1 || newer[0].Body != "third" {
		t.Errorf("incremental ListChat = %+v", newer)
	}
}
