package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jkjh8/vp-app/internal/broadcast"
	"github.com/jkjh8/vp-app/internal/control"
	"github.com/jkjh8/vp-app/internal/engine"
	"github.com/jkjh8/vp-app/internal/events"
	"github.com/jkjh8/vp-app/internal/logbuffer"
	"github.com/jkjh8/vp-app/internal/models"
	"github.com/jkjh8/vp-app/internal/state"
	"github.com/jkjh8/vp-app/internal/store"
)

type fakeSender struct {
	sent []engine.Command
}

func (f *fakeSender) Send(cmd engine.Command) error {
	f.sent = append(f.sent, cmd)
	return nil
}

type testEnv struct {
	api    *API
	store  *store.Store
	state  *state.Store
	sender *fakeSender
	srv    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.MediaFile{}, &models.Playlist{}, &models.Setting{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := store.New(db, zerolog.Nop())

	st := state.New(state.Ports{})
	sender := &fakeSender{}
	bus := events.NewBus()
	caster := broadcast.New(bus, zerolog.Nop())
	handlers := control.New(st, repo, sender, caster, zerolog.Nop())

	a := New(st, repo, handlers, bus, logbuffer.New(64), zerolog.Nop())
	r := chi.NewRouter()
	a.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{api: a, store: repo, state: st, sender: sender, srv: srv}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	resp, err := http.Post(e.srv.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestHealthAndStatus(t *testing.T) {
	env := newTestEnv(t)

	if resp := env.get(t, "/api/v1/health"); resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	resp := env.get(t, "/api/v1/status")
	doc := decode[map[string]any](t, resp)
	if doc["background"] != "black" {
		t.Fatalf("status doc = %v", doc)
	}
	if _, ok := doc["players"]; !ok {
		t.Fatal("status doc missing players")
	}
}

func TestPlayIDEndpoint(t *testing.T) {
	env := newTestEnv(t)
	file := &models.MediaFile{Number: 42, Name: "intro", Path: "/media/intro.mp4", Type: "video"}
	if err := env.store.InsertFile(context.Background(), file); err != nil {
		t.Fatalf("insert: %v", err)
	}

	resp := env.post(t, "/api/v1/player/playid", map[string]any{"number": 42})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	doc := decode[map[string]any](t, resp)
	if doc["path"] != "/media/intro.mp4" {
		t.Fatalf("doc = %v", doc)
	}
	if len(env.sender.sent) != 1 || env.sender.sent[0].Name != "playid" {
		t.Fatalf("engine commands = %v", env.sender.sent)
	}

	if resp := env.post(t, "/api/v1/player/playid", map[string]any{"number": 99}); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing file status = %d", resp.StatusCode)
	}
}

func TestTransportEndpoints(t *testing.T) {
	env := newTestEnv(t)

	if resp := env.post(t, "/api/v1/player/pause", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("pause status = %d", resp.StatusCode)
	}
	if resp := env.post(t, "/api/v1/player/stop", map[string]any{"idx": 1}); resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	if resp := env.post(t, "/api/v1/display/background", map[string]any{"color": "blue"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("background status = %d", resp.StatusCode)
	}

	if env.state.Get("background") != "blue" {
		t.Fatalf("background = %v", env.state.Get("background"))
	}
	names := []string{}
	for _, c := range env.sender.sent {
		names = append(names, c.Name)
	}
	want := []string{"pause", "stop", "background_color"}
	if len(names) != len(want) {
		t.Fatalf("commands = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("commands = %v, want %v", names, want)
		}
	}
}

func TestRepeatEndpointValidation(t *testing.T) {
	env := newTestEnv(t)

	if resp := env.post(t, "/api/v1/player/repeat", map[string]any{"mode": "all"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("valid mode status = %d", resp.StatusCode)
	}
	if resp := env.post(t, "/api/v1/player/repeat", map[string]any{"mode": "bogus"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid mode status = %d", resp.StatusCode)
	}
	if env.state.Repeat() != state.RepeatAll {
		t.Fatalf("repeat = %s", env.state.Repeat())
	}
}

func TestFilesCRUD(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/v1/files/", map[string]any{
		"number": 7, "path": "/media/ad.mp4", "type": "video",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	created := decode[models.MediaFile](t, resp)
	if created.UUID == "" {
		t.Fatal("created file has no uuid")
	}
	// Name defaults to the basename.
	if created.Name != "ad.mp4" {
		t.Fatalf("name = %q", created.Name)
	}

	listResp := env.get(t, "/api/v1/files/")
	files := decode[[]models.MediaFile](t, listResp)
	if len(files) != 1 {
		t.Fatalf("files = %v", files)
	}

	if resp := env.post(t, "/api/v1/files/", map[string]any{"number": 8}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing path status = %d", resp.StatusCode)
	}
}

func TestPlaylistFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	one := &models.MediaFile{Number: 1, Name: "one", Path: "/m/one.mp4"}
	two := &models.MediaFile{Number: 2, Name: "two", Path: "/m/two.mp4"}
	for _, f := range []*models.MediaFile{one, two} {
		if err := env.store.InsertFile(ctx, f); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	resp := env.post(t, "/api/v1/playlists/", map[string]any{
		"number": 3, "name": "evening", "trackIds": []string{one.UUID, two.UUID},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	if resp := env.post(t, "/api/v1/playlists/play", map[string]any{"number": 3}); resp.StatusCode != http.StatusOK {
		t.Fatalf("play status = %d", resp.StatusCode)
	}
	if !env.state.PlaylistMode() || env.state.TrackCount() != 2 {
		t.Fatalf("state = mode:%v count:%d", env.state.PlaylistMode(), env.state.TrackCount())
	}

	current := decode[map[string]any](t, env.get(t, "/api/v1/playlists/current"))
	if tracks, ok := current["tracks"].([]any); !ok || len(tracks) != 2 {
		t.Fatalf("current = %v", current)
	}

	if resp := env.post(t, "/api/v1/playlists/play", map[string]any{"number": 9}); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing playlist status = %d", resp.StatusCode)
	}
}

func TestLogsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.api.logBuffer.Add(logbuffer.LogEntry{Level: "info", Component: "engine", Message: "started"})

	resp := env.get(t, "/api/v1/logs/?component=engine")
	entries := decode[[]logbuffer.LogEntry](t, resp)
	if len(entries) != 1 || entries[0].Message != "started" {
		t.Fatalf("entries = %v", entries)
	}

	if resp := env.get(t, "/api/v1/logs/?limit=nope"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", resp.StatusCode)
	}
}
