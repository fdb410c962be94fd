package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"playcore/work/types"
)

// SaveProgress upserts the watch position for one profile/media pair. The
// row key is the media's stable progress key so repeated writes for the same
// item collapse into one row.
func (db *DB) SaveProgress(ctx context.Context, p types.WatchProgress) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO watch_progress (
			key, profile_id, media_type, tmdb_id, imdb_id, season, episode,
			title, poster, position_millis, duration_millis, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			position_millis = excluded.position_millis,
			duration_millis = excluded.duration_millis,
			title           = excluded.title,
			poster          = excluded.poster,
			updated_at      = excluded.updated_at`,
		p.Media.Key(p.ProfileID), p.ProfileID, string(p.Media.Type), p.Media.TmdbID,
		p.Media.ImdbID, p.Media.Season, p.Media.Episode, p.Media.Title, p.Media.Poster,
		p.PositionMillis, p.DurationMillis, p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save watch progress: %w", err)
	}
	return nil
}

// GetProgress returns the saved position for one profile/media pair, or nil
// when the item has never been watched.
func (db *DB) GetProgress(ctx context.Context, profileID string, media types.Media) (*types.WatchProgress, error) {
	row := db.QueryRowContext(ctx, `
		SELECT profile_id, media_type, tmdb_id, imdb_id, season, episode,
		       title, poster, position_millis, duration_millis, updated_at
		FROM watch_progress WHERE key = ?`,
		media.Key(profileID))

	p, err := scanProgress(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load watch progress: %w", err)
	}
	return p, nil
}

// ListProgress returns a profile's most recently updated items, newest first.
func (db *DB) ListProgress(ctx context.Context, profileID string, limit int) ([]types.WatchProgress, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT profile_id, media_type, tmdb_id, imdb_id, season, episode,
		       title, poster, position_millis, duration_millis, updated_at
		FROM watch_progress
		WHERE profile_id = ?
		ORDER BY updated_at DESC
		LIMIT ?`,
		profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list watch progress: %w", err)
	}
	defer rows.Close()

	var out []types.WatchProgress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watch progress: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// DeleteProgress removes the saved position for one profile/media pair.
func (db *DB) DeleteProgress(ctx context.Context, profileID string, media types.Media) error {
	_, err := db.ExecContext(ctx, "DELETE FROM watch_progress WHERE key = ?", media.Key(profileID))
	if err != nil {
		return fmt.Errorf("failed to delete watch progress: %w", err)
	}
	return nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProgress(s scanner) (*types.WatchProgress, error) {
	var (
		p         types.WatchProgress
		mediaType string
		updatedAt time.Time
	)
	err := s.Scan(&p.ProfileID, &mediaType, &p.Media.TmdbID, &p.Media.ImdbID,
		&p.Media.Season, &p.Media.Episode, &p.Media.Title, &p.Media.Poster,
		&p.PositionMillis, &p.DurationMillis, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Media.Type = types.MediaType(mediaType)
	p.UpdatedAt = updatedAt
	return &p, nil
}
