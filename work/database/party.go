package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"playcore/work/types"
)

// PartyRoom is one watch-party room record.
type PartyRoom struct {
	RoomCode  string
	HostID    string
	CreatedAt time.Time
}

// CreateRoom registers a watch-party room with its host. Creating an
// existing room code fails so two hosts can never share one room.
func (db *DB) CreateRoom(ctx context.Context, roomCode, hostID string) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO party_rooms (room_code, host_id) VALUES (?, ?)",
		roomCode, hostID)
	if err != nil {
		return fmt.Errorf("failed to create party room: %w", err)
	}
	return nil
}

// GetRoom returns a room record, nil when the code is unknown.
func (db *DB) GetRoom(ctx context.Context, roomCode string) (*PartyRoom, error) {
	var room PartyRoom
	err := db.QueryRowContext(ctx,
		"SELECT room_code, host_id, created_at FROM party_rooms WHERE room_code = ?",
		roomCode).Scan(&room.RoomCode, &room.HostID, &room.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load party room: %w", err)
	}
	return &room, nil
}

// DeleteRoom removes a room and, via cascade, its chat history.
func (db *DB) DeleteRoom(ctx context.Context, roomCode string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM party_rooms WHERE room_code = ?", roomCode)
	if err != nil {
		return fmt.Errorf("failed to delete party room: %w", err)
	}
	return nil
}

// SavePlayback overwrites the room's playback snapshot.
func (db *DB) SavePlayback(ctx context.Context, roomCode string, snap types.PlaybackSnapshot) error {
	playing := 0
	if snap.IsPlaying {
		playing = 1
	}
	res, err := db.ExecContext(ctx, `
		UPDATE party_rooms
		SET is_playing = ?, position_millis = ?, updated_by = ?, updated_at = ?
		WHERE room_code = ?`,
		playing, snap.PositionMillis, snap.UpdatedBy, snap.UpdatedAt, roomCode)
	if err != nil {
		return fmt.Errorf("failed to save playback snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("unknown party room %q", roomCode)
	}
	return nil
}

// LoadPlayback returns the room's current snapshot, nil when nothing has
// been published yet.
func (db *DB) LoadPlayback(ctx context.Context, roomCode string) (*types.PlaybackSnapshot, error) {
	var (
		snap    types.PlaybackSnapshot
		playing int
	)
	err := db.QueryRowContext(ctx, `
		SELECT is_playing, position_millis, updated_by, updated_at
		FROM party_rooms WHERE room_code = ?`,
		roomCode).Scan(&playing, &snap.PositionMillis, &snap.UpdatedBy, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load playback snapshot: %w", err)
	}
	if snap.UpdatedAt == 0 {
		return nil, nil
	}
	snap.IsPlaying = playing != 0
	return &snap, nil
}

// SaveEpisode records the media the host is currently playing.
func (db *DB) SaveEpisode(ctx context.Context, roomCode string, ep types.PartyEpisode) error {
	mediaJSON, err := json.Marshal(ep.Media)
	if err != nil {
		return fmt.Errorf("failed to marshal episode media: %w", err)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE party_rooms SET episode_json = ?, episode_changed_at = ?
		WHERE room_code = ?`,
		string(mediaJSON), ep.ChangedAt, roomCode)
	if err != nil {
		return fmt.Errorf("failed to save party episode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("unknown party room %q", roomCode)
	}
	return nil
}

// LoadEpisode returns the room's current episode pointer, nil when unset.
func (db *DB) LoadEpisode(ctx context.Context, roomCode string) (*types.PartyEpisode, error) {
	var (
		mediaJSON string
		changedAt int64
	)
	err := db.QueryRowContext(ctx,
		"SELECT episode_json, episode_changed_at FROM party_rooms WHERE room_code = ?",
		roomCode).Scan(&mediaJSON, &changedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load party episode: %w", err)
	}
	if mediaJSON == "" {
		return nil, nil
	}

	var ep types.PartyEpisode
	if err := json.Unmarshal([]byte(mediaJSON), &ep.Media); err != nil {
		return nil, fmt.Errorf("failed to unmarshal episode media: %w", err)
	}
	ep.ChangedAt = changedAt
	return &ep, nil
}

// AppendChat stores a chat message and returns its assigned id.
func (db *DB) AppendChat(ctx context.Context, msg types.ChatMessage) (int64, error) {
	res, err := db.ExecContext(ctx,
		"INSERT INTO party_chat (room_code, sender, body, created_at) VALUES (?, ?, ?, ?)",
		msg.RoomCode, msg.Sender, msg.Body, msg.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to append chat message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read chat message id: %w", err)
	}
	return id, nil
}

// ListChat returns messages with id greater than sinceID, oldest first.
func (db *DB) ListChat(ctx context.Context, roomCode string, sinceID int64, limit int) ([]types.ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, room_code, sender, body, created_at
		FROM party_chat
		WHERE room_code = ? AND id > ?
		ORDER BY created_at, id
		LIMIT ?`,
		roomCode, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	var out []types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.RoomCode, &msg.Sender, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}
