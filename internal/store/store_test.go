package store

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jkjh8/vp-app/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.MediaFile{}, &models.Playlist{}, &models.Setting{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db, zerolog.Nop())
}

func TestFileLookups(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	file := &models.MediaFile{Number: 42, Name: "intro", Path: "/media/intro.mp4", Type: "video"}
	if err := s.InsertFile(ctx, file); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if file.UUID == "" {
		t.Fatal("insert did not assign a uuid")
	}

	byNumber, err := s.FileByNumber(ctx, 42)
	if err != nil {
		t.Fatalf("by number: %v", err)
	}
	if byNumber.Path != "/media/intro.mp4" {
		t.Fatalf("path = %q", byNumber.Path)
	}

	byUUID, err := s.FileByUUID(ctx, file.UUID)
	if err != nil {
		t.Fatalf("by uuid: %v", err)
	}
	if byUUID.Number != 42 {
		t.Fatalf("number = %d", byUUID.Number)
	}

	if _, err := s.FileByNumber(ctx, 999); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("missing file error = %v", err)
	}
}

func TestResolveTracksSkipsMissing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := &models.MediaFile{Number: 1, Name: "a", Path: "/m/a.mp4"}
	b := &models.MediaFile{Number: 2, Name: "b", Path: "/m/b.mp4"}
	for _, f := range []*models.MediaFile{a, b} {
		if err := s.InsertFile(ctx, f); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	list := &models.Playlist{Number: 1, Name: "show", TrackIDs: []string{a.UUID, "gone", b.UUID}}
	if err := s.InsertPlaylist(ctx, list); err != nil {
		t.Fatalf("insert playlist: %v", err)
	}

	tracks, err := s.ResolveTracks(ctx, list)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("len = %d, want 2", len(tracks))
	}
	if tracks[0].Name != "a" || tracks[1].Name != "b" {
		t.Fatalf("order broken: %v", tracks)
	}
}

func TestUpdatePlaylistTracks(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	list := &models.Playlist{Number: 3, Name: "loop", TrackIDs: []string{"x"}}
	if err := s.InsertPlaylist(ctx, list); err != nil {
		t.Fatalf("insert playlist: %v", err)
	}
	if err := s.UpdatePlaylistTracks(ctx, list.ID, []string{"y", "z"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.PlaylistByNumber(ctx, 3)
	if err != nil {
		t.Fatalf("by number: %v", err)
	}
	if len(got.TrackIDs) != 2 || got.TrackIDs[0] != "y" {
		t.Fatalf("track ids = %v", got.TrackIDs)
	}

	if err := s.UpdatePlaylistTracks(ctx, "missing", nil); !errors.Is(err, ErrPlaylistNotFound) {
		t.Fatalf("missing playlist error = %v", err)
	}
}

func TestSettingUpsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SaveSetting(ctx, "background", map[string]any{"value": "black"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveSetting(ctx, "background", map[string]any{"value": "blue"}); err != nil {
		t.Fatalf("save again: %v", err)
	}

	row, err := s.Setting(ctx, "background")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row == nil || row.Value["value"] != "blue" {
		t.Fatalf("row = %+v", row)
	}

	rows, err := s.Settings(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("upsert created duplicate rows: %d", len(rows))
	}

	missing, err := s.Setting(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing setting: %v %v", missing, err)
	}
}
