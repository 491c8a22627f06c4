package control

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jkjh8/vp-app/internal/engine"
	"github.com/jkjh8/vp-app/internal/models"
	"github.com/jkjh8/vp-app/internal/state"
	"github.com/jkjh8/vp-app/internal/store"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []engine.Command
}

func (f *fakeSender) Send(cmd engine.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeSender) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		out = append(out, c.Name)
	}
	return out
}

type fakePub struct {
	mu        sync.Mutex
	published []string
}

func (f *fakePub) Publish(key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, key)
}

type fakeRepo struct {
	files     map[int]*models.MediaFile
	playlists map[int]*models.Playlist
	resolved  []models.MediaFile
	settings  map[string]map[string]any
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		files:     make(map[int]*models.MediaFile),
		playlists: make(map[int]*models.Playlist),
		settings:  make(map[string]map[string]any),
	}
}

func (f *fakeRepo) FileByNumber(_ context.Context, number int) (*models.MediaFile, error) {
	file, ok := f.files[number]
	if !ok {
		return nil, store.ErrFileNotFound
	}
	return file, nil
}

func (f *fakeRepo) PlaylistByNumber(_ context.Context, number int) (*models.Playlist, error) {
	list, ok := f.playlists[number]
	if !ok {
		return nil, store.ErrPlaylistNotFound
	}
	return list, nil
}

func (f *fakeRepo) ResolveTracks(_ context.Context, _ *models.Playlist) ([]models.MediaFile, error) {
	return f.resolved, nil
}

func (f *fakeRepo) SaveSetting(_ context.Context, typ string, value map[string]any) error {
	f.settings[typ] = value
	return nil
}

func newTestHandlers(t *testing.T) (*Handlers, *state.Store, *fakeSender, *fakePub, *fakeRepo) {
	t.Helper()
	st := state.New(state.Ports{})
	sender := &fakeSender{}
	pub := &fakePub{}
	repo := newFakeRepo()
	h := New(st, repo, sender, pub, zerolog.Nop())
	return h, st, sender, pub, repo
}

func TestDispatchPlayIDRepliesWithPath(t *testing.T) {
	h, _, sender, _, repo := newTestHandlers(t)
	repo.files[42] = &models.MediaFile{UUID: "u42", Number: 42, Name: "intro", Path: "/media/intro.mp4"}

	reply, err := h.Dispatch(context.Background(), "playid", []string{"42"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !strings.Contains(reply, "/media/intro.mp4") {
		t.Fatalf("reply = %q, want file path", reply)
	}
	if len(sender.sent) != 1 || sender.sent[0].Name != "playid" {
		t.Fatalf("commands = %v", sender.names())
	}
}

func TestDispatchPlayIDUnknownFile(t *testing.T) {
	h, _, sender, _, _ := newTestHandlers(t)

	_, err := h.Dispatch(context.Background(), "playid", []string{"99"})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if len(sender.sent) != 0 {
		t.Fatalf("commands dispatched for missing file: %v", sender.names())
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	h, _, _, _, _ := newTestHandlers(t)

	_, err := h.Dispatch(context.Background(), "teleport", nil)
	if err == nil || !strings.Contains(err.Error(), "teleport") {
		t.Fatalf("err = %v", err)
	}
}

func TestDispatchBadArgument(t *testing.T) {
	h, _, sender, _, _ := newTestHandlers(t)

	if _, err := h.Dispatch(context.Background(), "playid", []string{"seven"}); err == nil {
		t.Fatal("expected error for non-numeric argument")
	}
	if _, err := h.Dispatch(context.Background(), "set_time", nil); err == nil {
		t.Fatal("expected error for missing argument")
	}
	if _, err := h.Dispatch(context.Background(), "volume", []string{"120"}); err == nil {
		t.Fatal("expected error for out-of-range volume")
	}
	if len(sender.sent) != 0 {
		t.Fatalf("commands dispatched on bad input: %v", sender.names())
	}
}

func TestDispatchTransportCommands(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"play", "play"},
		{"play,1", "play"},
		{"pause", "pause"},
		{"stop", "stop"},
		{"stop_all", "stop_all"},
		{"set_time,15000", "set_time"},
		{"set_background,blue", "background_color"},
		{"set_fullscreen,true", "set_fullscreen"},
		{"show_logo,1", "show_logo"},
		{"logo_size,320,240", "logo_size"},
		{"set_image_time,15", "image_time"},
		{"playlist_mode,on", "playlist_mode"},
		{"volume,55", "volume"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			h, _, sender, _, _ := newTestHandlers(t)
			name, args := ParseCommand(tt.line)

			reply, err := h.Dispatch(context.Background(), name, args)
			if err != nil {
				t.Fatalf("dispatch: %v", err)
			}
			if reply != "OK" {
				t.Fatalf("reply = %q", reply)
			}
			if len(sender.sent) != 1 || sender.sent[0].Name != tt.want {
				t.Fatalf("commands = %v, want [%s]", sender.names(), tt.want)
			}
		})
	}
}

func TestSetRepeatValidation(t *testing.T) {
	h, st, sender, _, repo := newTestHandlers(t)

	if err := h.SetRepeat(context.Background(), "sideways"); err == nil {
		t.Fatal("invalid mode accepted")
	}
	if err := h.SetRepeat(context.Background(), "all"); err != nil {
		t.Fatalf("valid mode rejected: %v", err)
	}
	if st.Repeat() != state.RepeatAll {
		t.Fatalf("repeat = %s", st.Repeat())
	}
	if repo.settings["repeat"]["value"] != "all" {
		t.Fatalf("repeat not persisted: %v", repo.settings)
	}
	// Repeat is policy-local; no engine command.
	if len(sender.sent) != 0 {
		t.Fatalf("commands = %v", sender.names())
	}
}

func TestNextClampsAtLastTrack(t *testing.T) {
	h, st, sender, _, _ := newTestHandlers(t)
	st.Merge(map[string]any{
		"playlistMode":       true,
		"tracks":             []any{map[string]any{}, map[string]any{}},
		"playlistTrackIndex": float64(1),
	})

	if err := h.Next(context.Background()); err != nil {
		t.Fatalf("next: %v", err)
	}
	if st.PlaylistTrackIndex() != 1 {
		t.Fatalf("index = %d, want clamped 1", st.PlaylistTrackIndex())
	}
	if sender.sent[0].Name != "playlist_play" || sender.sent[0].Payload["index"] != 1 {
		t.Fatalf("command = %+v", sender.sent[0])
	}
}

func TestPreviousRestartThreshold(t *testing.T) {
	tests := []struct {
		name    string
		elapsed float64
		want    int
	}{
		{"just started goes back", 4999, 0},
		{"past threshold restarts", 5000, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, st, sender, _, _ := newTestHandlers(t)
			st.Merge(map[string]any{
				"playlistMode":       true,
				"tracks":             []any{map[string]any{}, map[string]any{}, map[string]any{}},
				"playlistTrackIndex": float64(1),
			})
			st.MergePlayer(0, map[string]any{"time": tt.elapsed})

			if err := h.Previous(context.Background()); err != nil {
				t.Fatalf("previous: %v", err)
			}
			if got := sender.sent[0].Payload["index"]; got != tt.want {
				t.Fatalf("target = %v, want %d", got, tt.want)
			}
		})
	}
}

func TestPlaylistPlayLoadsTracksAndStarts(t *testing.T) {
	h, st, sender, pub, repo := newTestHandlers(t)
	repo.playlists[3] = &models.Playlist{ID: "pl-3", Number: 3, Name: "evening", TrackIDs: []string{"a", "b"}}
	repo.resolved = []models.MediaFile{
		{UUID: "a", Number: 1, Name: "one", Path: "/m/one.mp4"},
		{UUID: "b", Number: 2, Name: "two", Path: "/m/two.mp4"},
	}

	if err := h.PlaylistPlay(context.Background(), 3); err != nil {
		t.Fatalf("playlist_play: %v", err)
	}

	if st.Get("currentPlaylistId") != "pl-3" {
		t.Fatalf("currentPlaylistId = %v", st.Get("currentPlaylistId"))
	}
	if !st.PlaylistMode() || st.TrackCount() != 2 || st.PlaylistTrackIndex() != 0 {
		t.Fatalf("state = mode:%v count:%d index:%d",
			st.PlaylistMode(), st.TrackCount(), st.PlaylistTrackIndex())
	}
	want := []string{"set_tracks", "playlist_mode", "playlist_play"}
	got := sender.names()
	if len(got) != len(want) {
		t.Fatalf("commands = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("commands = %v, want %v", got, want)
		}
	}
	if len(pub.published) == 0 {
		t.Fatal("no broadcast for playlist load")
	}
}

func TestSetLogoPersistsWholeBlock(t *testing.T) {
	h, st, _, _, repo := newTestHandlers(t)

	if err := h.SetLogo(context.Background(), "/media/logo.png"); err != nil {
		t.Fatalf("set_logo: %v", err)
	}
	logo := st.Get("logo").(map[string]any)
	if logo["file"] != "/media/logo.png" {
		t.Fatalf("logo = %v", logo)
	}
	saved := repo.settings["logo"]
	if saved["file"] != "/media/logo.png" {
		t.Fatalf("persisted logo = %v", saved)
	}
	// Sibling fields survive the partial update.
	if _, ok := saved["show"]; !ok {
		t.Fatalf("persisted logo lost siblings: %v", saved)
	}
}

func TestParseCommand(t *testing.T) {
	name, args := ParseCommand("PlayID,42")
	if name != "playid" || len(args) != 1 || args[0] != "42" {
		t.Fatalf("parsed %q %v", name, args)
	}
	name, args = ParseCommand("pause")
	if name != "pause" || len(args) != 0 {
		t.Fatalf("parsed %q %v", name, args)
	}
}

func TestDispatchSetMediaRepliesWithPath(t *testing.T) {
	h, st, sender, _, repo := newTestHandlers(t)
	repo.files[7] = &models.MediaFile{UUID: "u7", Number: 7, Name: "loop", Path: "/media/loop.mp4"}

	reply, err := h.Dispatch(context.Background(), "set_media", []string{"7"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if reply != "/media/loop.mp4" {
		t.Fatalf("reply = %q, want file path", reply)
	}
	if len(sender.sent) != 1 || sender.sent[0].Name != "set_media" {
		t.Fatalf("commands = %v", sender.names())
	}

	players := st.Get("players").([]any)
	current := players[0].(map[string]any)["currentFile"].(map[string]any)
	if current["path"] != "/media/loop.mp4" {
		t.Fatalf("currentFile = %v", current)
	}
}

func TestConcurrentNextAdvancesOncePerCall(t *testing.T) {
	h, st, sender, _, _ := newTestHandlers(t)
	st.Merge(map[string]any{"playlistMode": true, "tracks": tracksOf(20)})

	const callers = 10
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			if err := h.Next(context.Background()); err != nil {
				t.Errorf("next: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := st.PlaylistTrackIndex(); got != callers {
		t.Fatalf("playlistTrackIndex = %d, want %d", got, callers)
	}

	// Serialized calls each advance from the previous result, so the
	// targets are 1..callers with no duplicates.
	seen := make(map[int]bool)
	sender.mu.Lock()
	defer sender.mu.Unlock()
	for _, cmd := range sender.sent {
		if cmd.Name != "playlist_play" {
			t.Fatalf("unexpected command %s", cmd.Name)
		}
		target := cmd.Payload["index"].(int)
		if seen[target] {
			t.Fatalf("lost update: playlist_play(%d) sent twice", target)
		}
		seen[target] = true
	}
	if len(seen) != callers {
		t.Fatalf("targets = %d, want %d", len(seen), callers)
	}
}

func tracksOf(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = map[string]any{}
	}
	return out
}
