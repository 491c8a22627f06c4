/*
Copyright (C) 2026 jkjh8

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package control is the command surface shared by every transport
// adapter. TCP, UDP, HTTP, and WebSocket input all converge on the same
// handlers; the handlers are the only place pStatus is written
// optimistically ahead of engine confirmation.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jkjh8/vp-app/internal/engine"
	"github.com/jkjh8/vp-app/internal/models"
	"github.com/jkjh8/vp-app/internal/playlist"
	"github.com/jkjh8/vp-app/internal/state"
)

// ErrUnknownCommand marks a textual command with no matching handler.
// Adapters format it as a reply; it is never fatal to the connection.
var ErrUnknownCommand = errors.New("unknown command")

// Sender delivers commands to the playback engine.
type Sender interface {
	Send(cmd engine.Command) error
}

// Publisher fans state deltas out to connected observers.
type Publisher interface {
	Publish(key string, value any)
}

// Repository is the slice of the store the command surface needs.
type Repository interface {
	FileByNumber(ctx context.Context, number int) (*models.MediaFile, error)
	PlaylistByNumber(ctx context.Context, number int) (*models.Playlist, error)
	ResolveTracks(ctx context.Context, list *models.Playlist) ([]models.MediaFile, error)
	SaveSetting(ctx context.Context, typ string, value map[string]any) error
}

// Handlers executes playback commands: optimistic state write, setting
// persistence, engine dispatch, broadcast, in that order. A handler
// finishes all of its writes before returning so a racing engine event
// never observes a half-updated document.
//
// Every command runs to completion under mu, so read-compute-write
// sequences from concurrent transports cannot interleave. The event
// ingest path serializes on the same mutex through Locker.
type Handlers struct {
	state  *state.Store
	repo   Repository
	engine Sender
	pub    Publisher
	logger zerolog.Logger

	mu sync.Mutex
}

// Locker exposes the command mutex so engine event handling runs on the
// same logical thread of control as the transports.
func (h *Handlers) Locker() sync.Locker {
	return &h.mu
}

// New creates the command surface.
func New(st *state.Store, repo Repository, sender Sender, pub Publisher, logger zerolog.Logger) *Handlers {
	return &Handlers{
		state:  st,
		repo:   repo,
		engine: sender,
		pub:    pub,
		logger: logger.With().Str("component", "control").Logger(),
	}
}

// PlayID looks a file up by its number and plays it on the active
// player. The resolved file is returned so textual adapters can reply
// with its path.
func (h *Handlers) PlayID(ctx context.Context, number int) (*models.MediaFile, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	file, err := h.repo.FileByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	doc := file.Doc()
	active := h.state.ActivePlayerID()
	if h.state.MergePlayer(active, map[string]any{"currentFile": doc}) {
		h.pub.Publish("players", h.state.Get("players"))
	}
	return file, h.engine.Send(engine.PlayID(doc))
}

// Play starts playback on slot idx; a negative idx targets the active
// player.
func (h *Handlers) Play(idx int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if idx < 0 {
		idx = h.state.ActivePlayerID()
	}
	return h.engine.Send(engine.Play(idx))
}

func (h *Handlers) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.Send(engine.Pause())
}

// Stop stops slot idx; a negative idx targets the active player.
func (h *Handlers) Stop(idx int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if idx < 0 {
		idx = h.state.ActivePlayerID()
	}
	return h.engine.Send(engine.Stop(idx))
}

func (h *Handlers) StopAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.Send(engine.StopAll())
}

func (h *Handlers) SetTime(ms int64) error {
	if ms < 0 {
		return fmt.Errorf("negative time %d", ms)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.Send(engine.SetTime(ms))
}

// Next advances the playlist index. In playlist mode the target is
// computed locally, clamped at the last slot; outside playlist mode the
// engine handles its own single-file next.
func (h *Handlers) Next(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.state.PlaylistMode() {
		return h.engine.Send(engine.Next())
	}
	target := playlist.NextIndex(h.state.PlaylistTrackIndex(), h.state.TrackCount())
	h.publishChanged(h.state.Merge(map[string]any{"playlistTrackIndex": float64(target)}))
	return h.engine.Send(engine.PlaylistPlay(target))
}

// Previous moves back one slot when the current track just started, or
// restarts the current track once playback has run past the threshold.
func (h *Handlers) Previous(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.state.PlaylistMode() {
		return h.engine.Send(engine.Previous())
	}
	elapsed := h.state.PlayerTimeMs(h.state.ActivePlayerID())
	target := playlist.PreviousIndex(h.state.PlaylistTrackIndex(), elapsed)
	h.publishChanged(h.state.Merge(map[string]any{"playlistTrackIndex": float64(target)}))
	return h.engine.Send(engine.PlaylistPlay(target))
}

// PlaylistPlay loads the playlist with the given number, resolves its
// tracks, and starts playback from the first slot.
func (h *Handlers) PlaylistPlay(ctx context.Context, number int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	list, err := h.repo.PlaylistByNumber(ctx, number)
	if err != nil {
		return err
	}
	files, err := h.repo.ResolveTracks(ctx, list)
	if err != nil {
		return err
	}
	tracks := make([]any, 0, len(files))
	for _, f := range files {
		tracks = append(tracks, f.Doc())
	}

	h.publishChanged(h.state.Merge(map[string]any{
		"currentPlaylistId":  list.ID,
		"playlistMode":       true,
		"tracks":             tracks,
		"playlistTrackIndex": float64(0),
	}))
	h.persist(ctx, "playlist", map[string]any{"id": list.ID})

	if err := h.engine.Send(engine.SetTracks(tracks)); err != nil {
		return err
	}
	if err := h.engine.Send(engine.PlaylistMode(true)); err != nil {
		return err
	}
	return h.engine.Send(engine.PlaylistPlay(0))
}

// PlaylistGet reports the loaded playlist: id, index, and tracks.
func (h *Handlers) PlaylistGet() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return map[string]any{
		"currentPlaylistId":  h.state.Get("currentPlaylistId"),
		"playlistTrackIndex": h.state.Get("playlistTrackIndex"),
		"playlistMode":       h.state.Get("playlistMode"),
		"tracks":             h.state.Get("tracks"),
	}
}

func (h *Handlers) SetPlaylistMode(ctx context.Context, on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishChanged(h.state.Merge(map[string]any{"playlistMode": on}))
	h.persist(ctx, "playlist_mode", map[string]any{"value": on})
	return h.engine.Send(engine.PlaylistMode(on))
}

// SetRepeat changes the end-of-track policy. Repeat is consumed locally
// by the event ingest path, so no engine command is involved.
func (h *Handlers) SetRepeat(ctx context.Context, mode string) error {
	if !state.ValidRepeat(mode) {
		return fmt.Errorf("invalid repeat mode %q", mode)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishChanged(h.state.Merge(map[string]any{"repeat": mode}))
	h.persist(ctx, "repeat", map[string]any{"value": mode})
	return nil
}

func (h *Handlers) SetFullscreen(ctx context.Context, on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.MergePlayer(h.state.ActivePlayerID(), map[string]any{"fullscreen": on}) {
		h.pub.Publish("players", h.state.Get("players"))
	}
	h.persist(ctx, "fullscreen", map[string]any{"value": on})
	return h.engine.Send(engine.SetFullscreen(on))
}

func (h *Handlers) SetLogo(ctx context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishChanged(h.state.Merge(map[string]any{"logo": map[string]any{"file": path}}))
	h.persistLogo(ctx)
	return h.engine.Send(engine.LogoFile(path))
}

func (h *Handlers) ShowLogo(ctx context.Context, show bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishChanged(h.state.Merge(map[string]any{"logo": map[string]any{"show": show}}))
	h.persistLogo(ctx)
	return h.engine.Send(engine.ShowLogo(show))
}

func (h *Handlers) SetLogoSize(ctx context.Context, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid logo size %dx%d", width, height)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishChanged(h.state.Merge(map[string]any{
		"logo": map[string]any{"width": float64(width), "height": float64(height)},
	}))
	h.persistLogo(ctx)
	return h.engine.Send(engine.LogoSize(width, height))
}

func (h *Handlers) SetBackground(ctx context.Context, color string) error {
	if color == "" {
		return errors.New("empty background color")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishChanged(h.state.Merge(map[string]any{"background": color}))
	h.persist(ctx, "background", map[string]any{"value": color})
	return h.engine.Send(engine.BackgroundColor(color))
}

func (h *Handlers) SetAudioDevice(ctx context.Context, device string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishChanged(h.state.Merge(map[string]any{
		"device": map[string]any{"audiodevice": device},
	}))
	h.persist(ctx, "audio_device", map[string]any{"value": device})
	return h.engine.Send(engine.SetAudioDevice(device))
}

func (h *Handlers) SetImageTime(ctx context.Context, seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("invalid image time %d", seconds)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishChanged(h.state.Merge(map[string]any{"imageTime": float64(seconds)}))
	h.persist(ctx, "image_time", map[string]any{"value": float64(seconds)})
	return h.engine.Send(engine.ImageTime(seconds))
}

// SetVolume adjusts the active player's volume. The player slot is not
// written here; the engine echoes the applied level back through
// player_data.
func (h *Handlers) SetVolume(ctx context.Context, level int) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("volume %d out of range", level)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine.Send(engine.Volume(level))
}

// SetMedia loads a file onto the active player without starting
// playback.
func (h *Handlers) SetMedia(ctx context.Context, number int) (*models.MediaFile, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	file, err := h.repo.FileByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	doc := file.Doc()
	if h.state.MergePlayer(h.state.ActivePlayerID(), map[string]any{"currentFile": doc}) {
		h.pub.Publish("players", h.state.Get("players"))
	}
	return file, h.engine.Send(engine.SetMedia(doc))
}

// Dispatch maps one textual command to its handler. The reply is a
// single line: "OK" for effect-only commands, a computed value where the
// protocol defines one. Argument errors come back as errors, not panics,
// so the connection survives bad input.
func (h *Handlers) Dispatch(ctx context.Context, name string, args []string) (string, error) {
	switch name {
	case "playid":
		number, err := intArg(args, 0)
		if err != nil {
			return "", err
		}
		file, err := h.PlayID(ctx, number)
		if err != nil {
			return "", err
		}
		return file.Path, nil
	case "set_media":
		number, err := intArg(args, 0)
		if err != nil {
			return "", err
		}
		file, err := h.SetMedia(ctx, number)
		if err != nil {
			return "", err
		}
		return file.Path, nil
	case "play":
		return ok(h.Play(optIntArg(args, 0, -1)))
	case "pause":
		return ok(h.Pause())
	case "stop":
		return ok(h.Stop(optIntArg(args, 0, -1)))
	case "stop_all":
		return ok(h.StopAll())
	case "next":
		return ok(h.Next(ctx))
	case "previous":
		return ok(h.Previous(ctx))
	case "set_time":
		ms, err := intArg(args, 0)
		if err != nil {
			return "", err
		}
		return ok(h.SetTime(int64(ms)))
	case "set_fullscreen":
		on, err := boolArg(args, 0)
		if err != nil {
			return "", err
		}
		return ok(h.SetFullscreen(ctx, on))
	case "set_logo":
		if len(args) == 0 || args[0] == "" {
			return "", errors.New("set_logo requires a file path")
		}
		return ok(h.SetLogo(ctx, args[0]))
	case "show_logo":
		show, err := boolArg(args, 0)
		if err != nil {
			return "", err
		}
		return ok(h.ShowLogo(ctx, show))
	case "logo_size":
		width, err := intArg(args, 0)
		if err != nil {
			return "", err
		}
		height, err := intArg(args, 1)
		if err != nil {
			return "", err
		}
		return ok(h.SetLogoSize(ctx, width, height))
	case "set_background":
		if len(args) == 0 {
			return "", errors.New("set_background requires a color")
		}
		return ok(h.SetBackground(ctx, args[0]))
	case "set_audio_device":
		if len(args) == 0 {
			return "", errors.New("set_audio_device requires a device name")
		}
		// Device names may themselves contain commas.
		return ok(h.SetAudioDevice(ctx, strings.Join(args, ",")))
	case "set_repeat":
		if len(args) == 0 {
			return "", errors.New("set_repeat requires a mode")
		}
		return ok(h.SetRepeat(ctx, args[0]))
	case "playlist_mode":
		on, err := boolArg(args, 0)
		if err != nil {
			return "", err
		}
		return ok(h.SetPlaylistMode(ctx, on))
	case "playlist_play":
		number, err := intArg(args, 0)
		if err != nil {
			return "", err
		}
		return ok(h.PlaylistPlay(ctx, number))
	case "playlist_get":
		body, err := json.Marshal(h.PlaylistGet())
		if err != nil {
			return "", err
		}
		return string(body), nil
	case "set_image_time":
		seconds, err := intArg(args, 0)
		if err != nil {
			return "", err
		}
		return ok(h.SetImageTime(ctx, seconds))
	case "volume":
		level, err := intArg(args, 0)
		if err != nil {
			return "", err
		}
		return ok(h.SetVolume(ctx, level))
	case "status":
		body, err := json.Marshal(h.state.Read())
		if err != nil {
			return "", err
		}
		return string(body), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
}

func (h *Handlers) publishChanged(keys []string) {
	for _, key := range keys {
		h.pub.Publish(key, h.state.Get(key))
	}
}

func (h *Handlers) persist(ctx context.Context, typ string, value map[string]any) {
	if err := h.repo.SaveSetting(ctx, typ, value); err != nil {
		h.logger.Error().Err(err).Str("setting", typ).Msg("persist failed")
	}
}

// persistLogo saves the whole logo block so a partial change (file,
// show, size) never loses the sibling fields.
func (h *Handlers) persistLogo(ctx context.Context) {
	logo, ok := h.state.Get("logo").(map[string]any)
	if !ok {
		return
	}
	h.persist(ctx, "logo", logo)
}

func ok(err error) (string, error) {
	if err != nil {
		return "", err
	}
	return "OK", nil
}

func intArg(args []string, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	n, err := strconv.Atoi(strings.TrimSpace(args[i]))
	if err != nil {
		return 0, fmt.Errorf("argument %d is not a number: %q", i+1, args[i])
	}
	return n, nil
}

func optIntArg(args []string, i, fallback int) int {
	n, err := intArg(args, i)
	if err != nil {
		return fallback
	}
	return n
}

func boolArg(args []string, i int) (bool, error) {
	if i >= len(args) {
		return false, fmt.Errorf("missing argument %d", i+1)
	}
	switch strings.ToLower(strings.TrimSpace(args[i])) {
	case "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no":
		return false, nil
	}
	return false, fmt.Errorf("argument %d is not a boolean: %q", i+1, args[i])
}
