package ingest

import (
	"encoding/json"
	"fmt"
)

// EventType tags one parsed engine event.
type EventType string

const (
	EventInfo          EventType = "info"
	EventError         EventType = "error"
	EventPlayerData    EventType = "player_data"
	EventMediaChanged  EventType = "media_changed"
	EventEndReached    EventType = "end_reached"
	EventAudioDevices  EventType = "audiodevices"
	EventSetBackground EventType = "set_background"
	EventSetFullscreen EventType = "set_fullscreen"
	EventSetImageTime  EventType = "set_image_time"
	EventPlaylistSet   EventType = "playlist_set"
	EventCurrentTrack  EventType = "current_track"
	EventMessage       EventType = "message"
	// EventUnknown carries the raw payload of an unrecognized tag for
	// logging; unknown tags are never fatal.
	EventUnknown EventType = "unknown"
)

// Event is the tagged union parsed from one line of engine output.
// Exactly one payload field matching the type is set. Transient; it
// exists only for the duration of one dispatch.
type Event struct {
	Type EventType
	// Tag is the wire tag as received, kept for logging unknown types.
	Tag string
	Raw json.RawMessage

	Info         map[string]any
	Error        map[string]any
	PlayerData   *PlayerData
	MediaChanged *MediaChanged
	EndReached   *EndReached
	AudioDevices *AudioDevices
	Background   *Background
	Fullscreen   *Fullscreen
	ImageTime    *ImageTimeChange
	PlaylistSet  *PlaylistSet
	CurrentTrack *CurrentTrack
	Message      any
}

// PlayerData carries per-slot status fields reported by the engine.
type PlayerData struct {
	ID     int
	Fields map[string]any
}

// MediaChanged reports that a player slot switched media.
type MediaChanged struct {
	Idx                int    `json:"idx"`
	UUID               string `json:"uuid"`
	PlaylistTrackIndex *int   `json:"playlistTrackIndex"`
}

// EndReached reports that the current track finished.
type EndReached struct {
	PlaylistTrackIndex int `json:"playlistTrackIndex"`
	ActivePlayerID     int `json:"activePlayerId"`
}

// AudioDevices carries the engine's reported output device set.
type AudioDevices struct {
	Devices []any `json:"devices"`
}

// Background mirrors an engine-initiated background change.
type Background struct {
	Color string `json:"color"`
}

// Fullscreen mirrors an engine-initiated fullscreen toggle (hotkeys).
type Fullscreen struct {
	Idx        *int `json:"idx"`
	Fullscreen bool `json:"fullscreen"`
}

// ImageTimeChange mirrors an engine-initiated image display time change.
type ImageTimeChange struct {
	Time int `json:"time"`
}

// PlaylistSet acknowledges a playlist assignment inside the engine.
type PlaylistSet struct {
	Index int `json:"index"`
}

// CurrentTrack reports the engine's notion of the current playlist slot.
type CurrentTrack struct {
	Index int    `json:"index"`
	UUID  string `json:"uuid"`
}

// rawLine is the wire shape of one inbound line.
type rawLine struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// nestedEvent is the inner shape used when the engine wraps player events
// under type "event" with the concrete name in data.event.
type nestedEvent struct {
	Event string `json:"event"`
}

// Parse decodes one engine output line into a typed event. A JSON error
// is returned to the caller so the offending line can be logged and
// skipped without stopping the stream.
func Parse(line []byte) (*Event, error) {
	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("malformed engine line: %w", err)
	}

	tag := raw.Type
	data := raw.Data

	// Player events may arrive wrapped: {"type":"event","data":{"event":...}}.
	if tag == "event" && len(data) > 0 {
		var inner nestedEvent
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("malformed nested event: %w", err)
		}
		tag = inner.Event
	}

	ev := &Event{Type: EventType(tag), Tag: tag, Raw: data}
	switch ev.Type {
	case EventInfo:
		if err := json.Unmarshal(data, &ev.Info); err != nil {
			return nil, fmt.Errorf("info payload: %w", err)
		}
	case EventError:
		// The engine sends either {"message": ...} or a bare string.
		if err := json.Unmarshal(data, &ev.Error); err != nil {
			ev.Error = map[string]any{"message": string(data)}
		}
	case EventPlayerData:
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("player_data payload: %w", err)
		}
		pd := &PlayerData{Fields: fields}
		if id, ok := fields["id"].(float64); ok {
			pd.ID = int(id)
			delete(fields, "id")
		}
		ev.PlayerData = pd
	case EventMediaChanged:
		ev.MediaChanged = &MediaChanged{}
		if err := json.Unmarshal(data, ev.MediaChanged); err != nil {
			return nil, fmt.Errorf("media_changed payload: %w", err)
		}
	case EventEndReached:
		ev.EndReached = &EndReached{}
		if err := json.Unmarshal(data, ev.EndReached); err != nil {
			return nil, fmt.Errorf("end_reached payload: %w", err)
		}
	case EventAudioDevices:
		ev.AudioDevices = &AudioDevices{}
		if err := json.Unmarshal(data, ev.AudioDevices); err != nil {
			return nil, fmt.Errorf("audiodevices payload: %w", err)
		}
	case EventSetBackground:
		ev.Background = &Background{}
		if err := json.Unmarshal(data, ev.Background); err != nil {
			return nil, fmt.Errorf("set_background payload: %w", err)
		}
	case EventSetFullscreen:
		ev.Fullscreen = &Fullscreen{}
		if err := json.Unmarshal(data, ev.Fullscreen); err != nil {
			return nil, fmt.Errorf("set_fullscreen payload: %w", err)
		}
	case EventSetImageTime:
		ev.ImageTime = &ImageTimeChange{}
		if err := json.Unmarshal(data, ev.ImageTime); err != nil {
			return nil, fmt.Errorf("set_image_time payload: %w", err)
		}
	case EventPlaylistSet:
		ev.PlaylistSet = &PlaylistSet{}
		if err := json.Unmarshal(data, ev.PlaylistSet); err != nil {
			return nil, fmt.Errorf("playlist_set payload: %w", err)
		}
	case EventCurrentTrack:
		ev.CurrentTrack = &CurrentTrack{}
		if err := json.Unmarshal(data, ev.CurrentTrack); err != nil {
			return nil, fmt.Errorf("current_track payload: %w", err)
		}
	case EventMessage:
		if len(data) > 0 {
			_ = json.Unmarshal(data, &ev.Message)
		}
	default:
		ev.Type = EventUnknown
		ev.Raw = line
	}
	return ev, nil
}
