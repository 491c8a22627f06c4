/*
Copyright (C) 2026 jkjh8

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/jkjh8/vp-app/internal/events"
	"github.com/jkjh8/vp-app/internal/telemetry"
)

// wsFrame is one outbound WebSocket message: the event name plus its
// payload. "pStatus" carries full or partial state deltas, "player" the
// raw engine echo.
type wsFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// wsCommand is one inbound control frame. Frames mirror the textual
// protocol: a type tag plus flat named arguments.
type wsCommand map[string]any

// handleWebSocket upgrades the connection, pushes a full state snapshot
// as a baseline, then relays bus events out and command frames in.
func (a *API) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.WebSocketConnections.Inc()
	defer telemetry.WebSocketConnections.Dec()

	ctx := r.Context()
	a.logger.Debug().Str("remote", r.RemoteAddr).Msg("websocket connected")

	// Late joiners get the whole document once; deltas follow.
	if err := a.sendFrame(ctx, conn, wsFrame{Type: "pStatus", Data: a.state.Read()}); err != nil {
		a.logger.Debug().Err(err).Msg("snapshot push failed")
		return
	}

	statusCh := a.bus.Subscribe(events.EventStatus)
	playerCh := a.bus.Subscribe(events.EventPlayer)
	messageCh := a.bus.Subscribe(events.EventMessage)
	defer func() {
		a.bus.Unsubscribe(events.EventStatus, statusCh)
		a.bus.Unsubscribe(events.EventPlayer, playerCh)
		a.bus.Unsubscribe(events.EventMessage, messageCh)
	}()

	done := make(chan struct{})
	commandCh := make(chan wsCommand, 16)

	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ws.CloseStatus(err) != ws.StatusNormalClosure {
					a.logger.Debug().Err(err).Msg("websocket read ended")
				}
				return
			}
			var cmd wsCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				a.logger.Warn().Err(err).Msg("invalid websocket frame")
				continue
			}
			select {
			case commandCh <- cmd:
			default:
				a.logger.Warn().Msg("command channel full, dropping frame")
			}
		}
	}()

	pingTicker := time.NewTicker(15 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "shutting down")
			return
		case <-done:
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return
		case <-pingTicker.C:
			if err := conn.Ping(ctx); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case payload := <-statusCh:
			if err := a.sendFrame(ctx, conn, wsFrame{Type: "pStatus", Data: payload}); err != nil {
				return
			}
		case payload := <-playerCh:
			if err := a.sendFrame(ctx, conn, wsFrame{Type: "player", Data: payload}); err != nil {
				return
			}
		case payload := <-messageCh:
			if err := a.sendFrame(ctx, conn, wsFrame{Type: "message", Data: payload}); err != nil {
				return
			}
		case cmd := <-commandCh:
			a.runWSCommand(ctx, conn, cmd)
		}
	}
}

func (a *API) sendFrame(ctx context.Context, conn *ws.Conn, frame wsFrame) error {
	body, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, body)
}

// runWSCommand maps one inbound frame onto the shared command surface.
// Failures go back to this client only; state fan-out happens through
// the broadcaster like every other source.
func (a *API) runWSCommand(ctx context.Context, conn *ws.Conn, cmd wsCommand) {
	tag, _ := cmd["type"].(string)
	if tag == "" {
		a.logger.Warn().Interface("frame", cmd).Msg("frame without type")
		return
	}
	telemetry.CommandsTotal.WithLabelValues("ws", tag).Inc()

	var err error
	switch tag {
	case "playid":
		_, err = a.handlers.PlayID(ctx, int(toNum(cmd["number"])))
	case "play":
		idx := -1
		if v, ok := cmd["idx"]; ok {
			idx = int(toNum(v))
		}
		err = a.handlers.Play(idx)
	case "pause":
		err = a.handlers.Pause()
	case "stop":
		idx := -1
		if v, ok := cmd["idx"]; ok {
			idx = int(toNum(v))
		}
		err = a.handlers.Stop(idx)
	case "stop_all":
		err = a.handlers.StopAll()
	case "next":
		err = a.handlers.Next(ctx)
	case "previous":
		err = a.handlers.Previous(ctx)
	case "set_time":
		err = a.handlers.SetTime(int64(toNum(cmd["time"])))
	case "set_fullscreen":
		err = a.handlers.SetFullscreen(ctx, boolField(cmd, "value"))
	case "set_logo":
		err = a.handlers.SetLogo(ctx, strField(cmd, "file"))
	case "show_logo":
		err = a.handlers.ShowLogo(ctx, boolField(cmd, "value"))
	case "logo_size":
		err = a.handlers.SetLogoSize(ctx, int(toNum(cmd["width"])), int(toNum(cmd["height"])))
	case "set_background":
		err = a.handlers.SetBackground(ctx, strField(cmd, "color"))
	case "set_audio_device":
		err = a.handlers.SetAudioDevice(ctx, strField(cmd, "device"))
	case "set_repeat":
		err = a.handlers.SetRepeat(ctx, strField(cmd, "mode"))
	case "playlist_mode":
		err = a.handlers.SetPlaylistMode(ctx, boolField(cmd, "value"))
	case "playlist_play":
		err = a.handlers.PlaylistPlay(ctx, int(toNum(cmd["number"])))
	case "set_image_time":
		err = a.handlers.SetImageTime(ctx, int(toNum(cmd["time"])))
	case "volume":
		err = a.handlers.SetVolume(ctx, int(toNum(cmd["volume"])))
	case "set_media":
		_, err = a.handlers.SetMedia(ctx, int(toNum(cmd["number"])))
	default:
		a.logger.Warn().Str("type", tag).Msg("unknown websocket command")
		a.sendFrame(ctx, conn, wsFrame{Type: "error", Data: map[string]string{
			"command": tag, "error": "unknown command",
		}})
		return
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("type", tag).Msg("websocket command failed")
		a.sendFrame(ctx, conn, wsFrame{Type: "error", Data: map[string]string{
			"command": tag, "error": err.Error(),
		}})
	}
}
