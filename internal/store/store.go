/*
Copyright (C) 2026 jkjh8

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store is the repository collaborator over the three logical
// collections: media files, playlists, and persisted settings.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkjh8/vp-app/internal/models"
)

var (
	// ErrFileNotFound marks a lookup miss in the files collection.
	ErrFileNotFound = errors.New("file not found")
	// ErrPlaylistNotFound marks a lookup miss in the playlists collection.
	ErrPlaylistNotFound = errors.New("playlist not found")
)

// Store wraps the gorm handle for the three collections.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates the repository.
func New(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger.With().Str("component", "store").Logger()}
}

// Files returns all media files ordered by number.
func (s *Store) Files(ctx context.Context) ([]models.MediaFile, error) {
	var files []models.MediaFile
	if err := s.db.WithContext(ctx).Order("number").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	return files, nil
}

// FileByNumber resolves the short protocol id to a file.
func (s *Store) FileByNumber(ctx context.Context, number int) (*models.MediaFile, error) {
	var file models.MediaFile
	err := s.db.WithContext(ctx).Where("number = ?", number).First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query file %d: %w", number, err)
	}
	return &file, nil
}

// FileByUUID resolves an engine-reported uuid to a file.
func (s *Store) FileByUUID(ctx context.Context, id string) (*models.MediaFile, error) {
	var file models.MediaFile
	err := s.db.WithContext(ctx).Where("uuid = ?", id).First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query file %s: %w", id, err)
	}
	return &file, nil
}

// InsertFile stores a new media file, assigning identities when absent.
func (s *Store) InsertFile(ctx context.Context, file *models.MediaFile) error {
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	if file.UUID == "" {
		file.UUID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(file).Error; err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// RemoveFile deletes a media file by uuid.
func (s *Store) RemoveFile(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("uuid = ?", id).Delete(&models.MediaFile{}).Error; err != nil {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// Playlists returns all playlists ordered by number.
func (s *Store) Playlists(ctx context.Context) ([]models.Playlist, error) {
	var lists []models.Playlist
	if err := s.db.WithContext(ctx).Order("number").Find(&lists).Error; err != nil {
		return nil, fmt.Errorf("query playlists: %w", err)
	}
	return lists, nil
}

// PlaylistByNumber resolves the short protocol id to a playlist.
func (s *Store) PlaylistByNumber(ctx context.Context, number int) (*models.Playlist, error) {
	var list models.Playlist
	err := s.db.WithContext(ctx).Where("number = ?", number).First(&list).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlaylistNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query playlist %d: %w", number, err)
	}
	return &list, nil
}

// InsertPlaylist stores a new playlist.
func (s *Store) InsertPlaylist(ctx context.Context, list *models.Playlist) error {
	if list.ID == "" {
		list.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(list).Error; err != nil {
		return fmt.Errorf("insert playlist: %w", err)
	}
	return nil
}

// UpdatePlaylistTracks replaces the track uuid list of a playlist.
func (s *Store) UpdatePlaylistTracks(ctx context.Context, id string, trackIDs []string) error {
	res := s.db.WithContext(ctx).Model(&models.Playlist{}).
		Where("id = ?", id).
		Update("track_ids", trackIDs)
	if res.Error != nil {
		return fmt.Errorf("update playlist tracks: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPlaylistNotFound
	}
	return nil
}

// RemovePlaylist deletes a playlist.
func (s *Store) RemovePlaylist(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Playlist{}).Error; err != nil {
		return fmt.Errorf("remove playlist: %w", err)
	}
	return nil
}

// ResolveTracks maps a playlist's track uuids to file documents, skipping
// uuids that no longer resolve. The order of the uuid list is preserved.
func (s *Store) ResolveTracks(ctx context.Context, list *models.Playlist) ([]models.MediaFile, error) {
	tracks := make([]models.MediaFile, 0, len(list.TrackIDs))
	for _, id := range list.TrackIDs {
		file, err := s.FileByUUID(ctx, id)
		if errors.Is(err, ErrFileNotFound) {
			s.logger.Warn().Str("playlist", list.ID).Str("uuid", id).Msg("playlist track missing, skipping")
			continue
		}
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, *file)
	}
	return tracks, nil
}

// Setting returns one settings row by type, or nil when absent.
func (s *Store) Setting(ctx context.Context, typ string) (*models.Setting, error) {
	var row models.Setting
	err := s.db.WithContext(ctx).Where("type = ?", typ).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query setting %s: %w", typ, err)
	}
	return &row, nil
}

// Settings returns all persisted settings rows.
func (s *Store) Settings(ctx context.Context) ([]models.Setting, error) {
	var rows []models.Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	return rows, nil
}

// SaveSetting upserts one settings row by type.
func (s *Store) SaveSetting(ctx context.Context, typ string, value map[string]any) error {
	row := models.Setting{
		ID:    uuid.NewString(),
		Type:  typ,
		Value: value,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "type"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save setting %s: %w", typ, err)
	}
	return nil
}
