/*
Copyright (C) 2026 jkjh8

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ingest routes parsed engine events into state updates,
// broadcasts, and follow-up engine commands. It owns the end-of-track
// policy state machine and duplicate suppression.
package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jkjh8/vp-app/internal/engine"
	"github.com/jkjh8/vp-app/internal/models"
	"github.com/jkjh8/vp-app/internal/playlist"
	"github.com/jkjh8/vp-app/internal/state"
	"github.com/jkjh8/vp-app/internal/store"
	"github.com/jkjh8/vp-app/internal/telemetry"
)

// Sender delivers commands to the playback engine.
type Sender interface {
	Send(cmd engine.Command) error
}

// Publisher fans state deltas out to connected observers.
type Publisher interface {
	Publish(key string, value any)
}

// Repository is the slice of the store the ingest path needs.
type Repository interface {
	FileByUUID(ctx context.Context, id string) (*models.MediaFile, error)
	SaveSetting(ctx context.Context, typ string, value map[string]any) error
}

// endKey is the dedup key for end_reached events. Suppression compares
// only against the immediately preceding accepted event, tolerating
// exactly one retransmission.
type endKey struct {
	trackIndex int
	playerID   int
}

// Ingestor consumes engine output lines.
type Ingestor struct {
	state  *state.Store
	repo   Repository
	engine Sender
	pub    Publisher
	mu     sync.Locker
	logger zerolog.Logger

	lastEnd *endKey
}

// New creates the ingestor. locker is the command surface's dispatch
// mutex: event handling and command handling take turns on it, so the
// policy decisions here always see a document no handler is mid-update
// on.
func New(st *state.Store, repo Repository, sender Sender, pub Publisher, locker sync.Locker, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		state:  st,
		repo:   repo,
		engine: sender,
		pub:    pub,
		mu:     locker,
		logger: logger.With().Str("component", "ingest").Logger(),
	}
}

// HandleLine processes one complete engine output line. Lines are handed
// in stream order; each is processed to completion under the shared
// dispatch lock, so a racing command handler can never observe a
// half-updated index.
func (in *Ingestor) HandleLine(ctx context.Context, line string) {
	ev, err := Parse([]byte(line))
	if err != nil {
		in.logger.Error().Err(err).Str("line", line).Msg("engine line skipped")
		return
	}
	telemetry.EngineEventsTotal.WithLabelValues(string(ev.Type)).Inc()

	in.mu.Lock()
	defer in.mu.Unlock()

	switch ev.Type {
	case EventInfo:
		in.handleInfo(ev.Info)
	case EventEndReached:
		in.handleEndReached(ev.EndReached)
	case EventMediaChanged:
		in.handleMediaChanged(ctx, ev.MediaChanged)
	case EventPlayerData:
		in.handlePlayerData(ev.PlayerData)
	case EventAudioDevices:
		in.publishChanged(in.state.Merge(map[string]any{
			"device": map[string]any{"audiodevices": ev.AudioDevices.Devices},
		}))
	case EventSetBackground:
		in.handleSetBackground(ctx, ev.Background)
	case EventSetFullscreen:
		in.handleSetFullscreen(ctx, ev.Fullscreen)
	case EventSetImageTime:
		in.handleSetImageTime(ctx, ev.ImageTime)
	case EventPlaylistSet:
		in.handlePlaylistSet(ev.PlaylistSet)
	case EventCurrentTrack:
		in.handleCurrentTrack(ctx, ev.CurrentTrack)
	case EventError:
		in.logger.Error().Interface("data", ev.Error).Msg("engine error")
	case EventMessage:
		if msg, ok := ev.Message.(string); ok {
			in.logger.Info().Str("message", msg).Msg("engine message")
		} else {
			in.logger.Warn().Interface("data", ev.Message).Msg("non-string engine message")
		}
	default:
		in.logger.Warn().Str("type", ev.Tag).RawJSON("raw", ev.Raw).Msg("unknown event type")
	}
}

// handleInfo merges the bulk status heartbeat wholesale into the state
// document and echoes the raw payload to observers.
func (in *Ingestor) handleInfo(payload map[string]any) {
	in.publishChanged(in.state.Merge(payload))
	in.pub.Publish("player", payload)
}

// handleEndReached runs the end-of-track policy.
//
//	repeat      playlistMode  last track   action
//	none        false         -            stop(active)
//	none        true          no           next
//	none        true          yes          stop_all, set_track_index(0)
//	all         false         -            stop(active), next
//	all         true          -            next (engine wraps)
//	single      any           -            stop(active)
//	repeat_one  any           -            stop(active), play(active)
func (in *Ingestor) handleEndReached(ev *EndReached) {
	key := endKey{trackIndex: ev.PlaylistTrackIndex, playerID: ev.ActivePlayerID}
	if in.lastEnd != nil && *in.lastEnd == key {
		// The engine occasionally double-fires this event.
		telemetry.EngineEventsDropped.WithLabelValues(string(EventEndReached)).Inc()
		in.logger.Debug().Int("index", key.trackIndex).Int("player", key.playerID).
			Msg("duplicate end_reached dropped")
		return
	}
	in.lastEnd = &key

	in.publishChanged(in.state.Merge(map[string]any{
		"playlistTrackIndex": float64(ev.PlaylistTrackIndex),
		"activePlayerId":     float64(ev.ActivePlayerID),
	}))

	repeat := in.state.Repeat()
	playlistMode := in.state.PlaylistMode()
	last := playlist.IsLast(ev.PlaylistTrackIndex, in.state.TrackCount())
	idx := ev.ActivePlayerID

	switch {
	case repeat == state.RepeatOne:
		in.send(engine.Stop(idx), engine.Play(idx))
	case repeat == state.RepeatSingle:
		in.send(engine.Stop(idx))
	case repeat == state.RepeatAll && playlistMode:
		// Wrapping past the last index happens inside the engine.
		in.send(engine.Next())
	case repeat == state.RepeatAll:
		// Restart the same single file.
		in.send(engine.Stop(idx), engine.Next())
	case playlistMode && !last:
		in.send(engine.Next())
	case playlistMode:
		in.send(engine.StopAll(), engine.SetTrackIndex(0))
	default:
		in.send(engine.Stop(idx))
	}
}

// handleMediaChanged resolves the new media and advances the playlist
// index. The uuid resolves against the repository first so an event that
// also carries an index keeps the full file metadata; a report matching
// the stored index is a duplicate from an engine restart/seek race and
// is dropped.
func (in *Ingestor) handleMediaChanged(ctx context.Context, ev *MediaChanged) {
	var doc map[string]any
	if ev.UUID != "" {
		file, err := in.repo.FileByUUID(ctx, ev.UUID)
		switch {
		case errors.Is(err, store.ErrFileNotFound):
			in.logger.Warn().Str("uuid", ev.UUID).Msg("media_changed for unknown file")
		case err != nil:
			in.logger.Error().Err(err).Str("uuid", ev.UUID).Msg("media_changed lookup failed")
		default:
			doc = file.Doc()
		}
	}

	if ev.PlaylistTrackIndex != nil {
		reported := *ev.PlaylistTrackIndex
		if reported == in.state.PlaylistTrackIndex() {
			telemetry.EngineEventsDropped.WithLabelValues(string(EventMediaChanged)).Inc()
			in.logger.Debug().Int("index", reported).Msg("duplicate media_changed dropped")
			return
		}
		idx := playlist.Clamp(reported, in.state.TrackCount())
		changed := in.state.Merge(map[string]any{"playlistTrackIndex": float64(idx)})
		if doc == nil {
			if track, ok := in.state.Track(idx).(map[string]any); ok {
				doc = track
			}
		}
		if doc != nil {
			in.state.MergePlayer(ev.Idx, map[string]any{"currentFile": doc})
			changed = append(changed, "players")
		}
		in.publishChanged(changed)
		return
	}

	if doc == nil {
		return
	}
	if in.state.MergePlayer(ev.Idx, map[string]any{"currentFile": doc}) {
		in.pub.Publish("players", in.state.Get("players"))
	}
}

func (in *Ingestor) handlePlayerData(ev *PlayerData) {
	if in.state.MergePlayer(ev.ID, ev.Fields) {
		in.pub.Publish("players", in.state.Get("players"))
	}
}

// Engine-initiated configuration changes (hotkeys) mirror back into the
// document, persist, and broadcast. A later engine event wins over any
// optimistic local write by recency.

func (in *Ingestor) handleSetBackground(ctx context.Context, ev *Background) {
	in.publishChanged(in.state.Merge(map[string]any{"background": ev.Color}))
	in.persist(ctx, "background", map[string]any{"value": ev.Color})
}

func (in *Ingestor) handleSetFullscreen(ctx context.Context, ev *Fullscreen) {
	idx := in.state.ActivePlayerID()
	if ev.Idx != nil {
		idx = *ev.Idx
	}
	if in.state.MergePlayer(idx, map[string]any{"fullscreen": ev.Fullscreen}) {
		in.pub.Publish("players", in.state.Get("players"))
	}
	in.persist(ctx, "fullscreen", map[string]any{"value": ev.Fullscreen})
}

func (in *Ingestor) handleSetImageTime(ctx context.Context, ev *ImageTimeChange) {
	in.publishChanged(in.state.Merge(map[string]any{"imageTime": float64(ev.Time)}))
	in.persist(ctx, "image_time", map[string]any{"value": float64(ev.Time)})
}

func (in *Ingestor) handlePlaylistSet(ev *PlaylistSet) {
	idx := playlist.Clamp(ev.Index, in.state.TrackCount())
	in.publishChanged(in.state.Merge(map[string]any{"playlistTrackIndex": float64(idx)}))
}

func (in *Ingestor) handleCurrentTrack(ctx context.Context, ev *CurrentTrack) {
	idx := playlist.Clamp(ev.Index, in.state.TrackCount())
	changed := in.state.Merge(map[string]any{"playlistTrackIndex": float64(idx)})

	var doc map[string]any
	if ev.UUID != "" {
		file, err := in.repo.FileByUUID(ctx, ev.UUID)
		if err != nil {
			in.logger.Warn().Err(err).Str("uuid", ev.UUID).Msg("current_track lookup failed")
		} else {
			doc = file.Doc()
		}
	}
	if doc == nil {
		if track, ok := in.state.Track(idx).(map[string]any); ok {
			doc = track
		}
	}
	if doc != nil && in.state.MergePlayer(in.state.ActivePlayerID(), map[string]any{"currentFile": doc}) {
		changed = append(changed, "players")
	}
	in.publishChanged(changed)
}

func (in *Ingestor) send(cmds ...engine.Command) {
	for _, cmd := range cmds {
		if err := in.engine.Send(cmd); err != nil {
			in.logger.Warn().Err(err).Str("command", cmd.Name).Msg("policy command dropped")
		}
	}
}

func (in *Ingestor) publishChanged(keys []string) {
	for _, key := range keys {
		in.pub.Publish(key, in.state.Get(key))
	}
}

func (in *Ingestor) persist(ctx context.Context, typ string, value map[string]any) {
	if err := in.repo.SaveSetting(ctx, typ, value); err != nil {
		in.logger.Error().Err(err).Str("setting", typ).Msg("persist failed")
	}
}
