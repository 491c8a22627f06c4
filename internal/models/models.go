/*
Copyright (C) 2026 jkjh8

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// MediaFile is a playable asset known to the controller. Number is the
// short id used by the line protocols (playid,<number>); UUID is the
// stable identity referenced from playlists and engine events.
type MediaFile struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	UUID      string    `gorm:"uniqueIndex" json:"uuid"`
	Number    int       `gorm:"uniqueIndex" json:"number"`
	Name      string    `gorm:"index" json:"name"`
	Path      string    `json:"path"`
	Type      string    `gorm:"type:varchar(16)" json:"type"`
	IsImage   bool      `json:"isImage"`
	Duration  int64     `json:"duration"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Doc returns the file as a pStatus track document.
func (f MediaFile) Doc() map[string]any {
	return map[string]any{
		"id":       f.ID,
		"uuid":     f.UUID,
		"number":   float64(f.Number),
		"name":     f.Name,
		"path":     f.Path,
		"type":     f.Type,
		"isImage":  f.IsImage,
		"duration": float64(f.Duration),
	}
}

// Playlist is an ordered list of media file UUIDs.
type Playlist struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Number    int       `gorm:"uniqueIndex" json:"number"`
	Name      string    `gorm:"index" json:"name"`
	TrackIDs  []string  `gorm:"type:jsonb;serializer:json" json:"trackIds"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Setting is one persisted configuration row, keyed by type the way the
// status collection stores them (image_time, background, repeat, logo, ...).
type Setting struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	Type      string         `gorm:"uniqueIndex" json:"type"`
	Value     map[string]any `gorm:"type:jsonb;serializer:json" json:"value"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
