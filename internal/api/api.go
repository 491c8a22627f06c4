/*
Copyright (C) 2026 jkjh8

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP control surface: REST endpoints over the
// same command handlers the TCP/UDP adapters use, library management
// for files and playlists, and the WebSocket state feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/jkjh8/vp-app/internal/control"
	"github.com/jkjh8/vp-app/internal/events"
	"github.com/jkjh8/vp-app/internal/logbuffer"
	"github.com/jkjh8/vp-app/internal/models"
	"github.com/jkjh8/vp-app/internal/state"
	"github.com/jkjh8/vp-app/internal/store"
	"github.com/jkjh8/vp-app/internal/telemetry"
)

// API exposes HTTP handlers.
type API struct {
	state     *state.Store
	store     *store.Store
	handlers  *control.Handlers
	bus       *events.Bus
	logBuffer *logbuffer.Buffer
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(st *state.Store, repo *store.Store, handlers *control.Handlers, bus *events.Bus, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		state:     st,
		store:     repo,
		handlers:  handlers,
		bus:       bus,
		logBuffer: logBuf,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/status", a.handleStatus)

		r.Route("/player", func(r chi.Router) {
			r.Post("/playid", a.handlePlayID)
			r.Post("/play", a.handlePlay)
			r.Post("/pause", a.command("pause", func(_ context.Context, _ map[string]any) error {
				return a.handlers.Pause()
			}))
			r.Post("/stop", a.handleStop)
			r.Post("/stop_all", a.command("stop_all", func(_ context.Context, _ map[string]any) error {
				return a.handlers.StopAll()
			}))
			r.Post("/next", a.command("next", func(ctx context.Context, _ map[string]any) error {
				return a.handlers.Next(ctx)
			}))
			r.Post("/previous", a.command("previous", func(ctx context.Context, _ map[string]any) error {
				return a.handlers.Previous(ctx)
			}))
			r.Post("/time", a.command("set_time", func(_ context.Context, body map[string]any) error {
				return a.handlers.SetTime(int64(numField(body, "time")))
			}))
			r.Post("/fullscreen", a.command("set_fullscreen", func(ctx context.Context, body map[string]any) error {
				return a.handlers.SetFullscreen(ctx, boolField(body, "value"))
			}))
			r.Post("/volume", a.command("volume", func(ctx context.Context, body map[string]any) error {
				return a.handlers.SetVolume(ctx, int(numField(body, "volume")))
			}))
			r.Post("/repeat", a.handleRepeat)
		})

		r.Route("/display", func(r chi.Router) {
			r.Post("/background", a.command("set_background", func(ctx context.Context, body map[string]any) error {
				return a.handlers.SetBackground(ctx, strField(body, "color"))
			}))
			r.Post("/logo", a.command("set_logo", func(ctx context.Context, body map[string]any) error {
				return a.handlers.SetLogo(ctx, strField(body, "file"))
			}))
			r.Post("/logo/show", a.command("show_logo", func(ctx context.Context, body map[string]any) error {
				return a.handlers.ShowLogo(ctx, boolField(body, "value"))
			}))
			r.Post("/logo/size", a.command("logo_size", func(ctx context.Context, body map[string]any) error {
				return a.handlers.SetLogoSize(ctx,
					int(numField(body, "width")), int(numField(body, "height")))
			}))
			r.Post("/image-time", a.command("set_image_time", func(ctx context.Context, body map[string]any) error {
				return a.handlers.SetImageTime(ctx, int(numField(body, "time")))
			}))
			r.Post("/audio-device", a.command("set_audio_device", func(ctx context.Context, body map[string]any) error {
				return a.handlers.SetAudioDevice(ctx, strField(body, "device"))
			}))
		})

		r.Route("/files", func(r chi.Router) {
			r.Get("/", a.handleFilesList)
			r.Post("/", a.handleFilesCreate)
			r.Delete("/{fileID}", a.handleFilesDelete)
		})

		r.Route("/playlists", func(r chi.Router) {
			r.Get("/", a.handlePlaylistsList)
			r.Post("/", a.handlePlaylistsCreate)
			r.Get("/current", a.handlePlaylistCurrent)
			r.Post("/play", a.handlePlaylistPlay)
			r.Post("/mode", a.command("playlist_mode", func(ctx context.Context, body map[string]any) error {
				return a.handlers.SetPlaylistMode(ctx, boolField(body, "value"))
			}))
			r.Put("/{playlistID}/tracks", a.handlePlaylistTracks)
			r.Delete("/{playlistID}", a.handlePlaylistsDelete)
		})

		r.Get("/settings", a.handleSettingsList)

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", a.handleLogs)
			r.Delete("/", a.handleLogsClear)
		})

		r.Get("/ws", a.handleWebSocket)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.state.Read())
}

// command wraps the decode / dispatch / reply pattern shared by the
// effect-only player and display endpoints.
func (a *API) command(name string, run func(ctx context.Context, body map[string]any) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_json")
				return
			}
		}
		telemetry.CommandsTotal.WithLabelValues("http", name).Inc()
		if err := run(r.Context(), body); err != nil {
			a.logger.Warn().Err(err).Str("command", name).Msg("command failed")
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
	}
}

func (a *API) handlePlayID(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Number int `json:"number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	telemetry.CommandsTotal.WithLabelValues("http", "playid").Inc()

	file, err := a.handlers.PlayID(r.Context(), req.Number)
	if errors.Is(err, store.ErrFileNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Int("number", req.Number).Msg("playid failed")
		writeError(w, http.StatusInternalServerError, "playid_failed")
		return
	}
	writeJSON(w, http.StatusOK, file.Doc())
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	a.command("play", func(_ context.Context, body map[string]any) error {
		idx := -1
		if v, ok := body["idx"]; ok {
			idx = int(toNum(v))
		}
		return a.handlers.Play(idx)
	})(w, r)
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	a.command("stop", func(_ context.Context, body map[string]any) error {
		idx := -1
		if v, ok := body["idx"]; ok {
			idx = int(toNum(v))
		}
		return a.handlers.Stop(idx)
	})(w, r)
}

func (a *API) handleRepeat(w http.ResponseWriter, r *http.Request) {
	a.command("set_repeat", func(ctx context.Context, body map[string]any) error {
		return a.handlers.SetRepeat(ctx, strField(body, "mode"))
	})(w, r)
}

func (a *API) handleFilesList(w http.ResponseWriter, r *http.Request) {
	files, err := a.store.Files(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list files failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (a *API) handleFilesCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Number   int    `json:"number"`
		Name     string `json:"name"`
		Path     string `json:"path"`
		Type     string `json:"type"`
		IsImage  bool   `json:"isImage"`
		Duration int64  `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path_required")
		return
	}
	if req.Name == "" {
		req.Name = req.Path[strings.LastIndex(req.Path, "/")+1:]
	}

	file := models.MediaFile{
		Number:   req.Number,
		Name:     req.Name,
		Path:     req.Path,
		Type:     req.Type,
		IsImage:  req.IsImage,
		Duration: req.Duration,
	}
	if err := a.store.InsertFile(r.Context(), &file); err != nil {
		a.logger.Error().Err(err).Str("path", req.Path).Msg("insert file failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

func (a *API) handleFilesDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.store.RemoveFile(r.Context(), chi.URLParam(r, "fileID")); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (a *API) handlePlaylistsList(w http.ResponseWriter, r *http.Request) {
	lists, err := a.store.Playlists(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list playlists failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, lists)
}

func (a *API) handlePlaylistsCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Number   int      `json:"number"`
		Name     string   `json:"name"`
		TrackIDs []string `json:"trackIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}

	list := models.Playlist{
		Number:   req.Number,
		Name:     req.Name,
		TrackIDs: req.TrackIDs,
	}
	if err := a.store.InsertPlaylist(r.Context(), &list); err != nil {
		a.logger.Error().Err(err).Str("name", req.Name).Msg("insert playlist failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusCreated, list)
}

// handlePlaylistCurrent reports the loaded playlist with its resolved
// tracks, same shape as the playlist_get TCP command.
func (a *API) handlePlaylistCurrent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.handlers.PlaylistGet())
}

func (a *API) handlePlaylistPlay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Number int `json:"number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	telemetry.CommandsTotal.WithLabelValues("http", "playlist_play").Inc()

	err := a.handlers.PlaylistPlay(r.Context(), req.Number)
	if errors.Is(err, store.ErrPlaylistNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Int("number", req.Number).Msg("playlist play failed")
		writeError(w, http.StatusInternalServerError, "playlist_play_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (a *API) handlePlaylistTracks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TrackIDs []string `json:"trackIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	err := a.store.UpdatePlaylistTracks(r.Context(), chi.URLParam(r, "playlistID"), req.TrackIDs)
	if errors.Is(err, store.ErrPlaylistNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (a *API) handlePlaylistsDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.store.RemovePlaylist(r.Context(), chi.URLParam(r, "playlistID")); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (a *API) handleSettingsList(w http.ResponseWriter, r *http.Request) {
	settings, err := a.store.Settings(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list settings failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "log_buffer_disabled"})
		return
	}
	params := logbuffer.QueryParams{
		Level:     r.URL.Query().Get("level"),
		Component: r.URL.Query().Get("component"),
		Search:    r.URL.Query().Get("search"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		params.Limit = n
	}
	writeJSON(w, http.StatusOK, a.logBuffer.Query(params))
}

func (a *API) handleLogsClear(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer != nil {
		a.logBuffer.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func strField(body map[string]any, key string) string {
	v, _ := body[key].(string)
	return v
}

func boolField(body map[string]any, key string) bool {
	v, _ := body[key].(bool)
	return v
}

func numField(body map[string]any, key string) float64 {
	return toNum(body[key])
}

func toNum(v any) float64 {
	f, _ := v.(float64)
	return f
}
