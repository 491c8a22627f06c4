package engine

import (
	"encoding/json"
	"fmt"
)

// Command is one fire-and-forget instruction for the playback engine.
// It marshals to a single flat JSON object {"command": name, ...payload};
// payload keys with nil values are omitted so the wire format stays
// minimal. There is no reply correlation: any apparent response arrives
// later as an independent event.
type Command struct {
	Name    string
	Payload map[string]any
}

// MarshalJSON flattens the payload next to the command tag.
func (c Command) MarshalJSON() ([]byte, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("command without a name")
	}
	obj := make(map[string]any, len(c.Payload)+1)
	for k, v := range c.Payload {
		if v == nil {
			continue
		}
		obj[k] = v
	}
	obj["command"] = c.Name
	return json.Marshal(obj)
}

// Constructors for the command vocabulary. Each payload shape is fixed.

func Play(idx int) Command  { return Command{Name: "play", Payload: map[string]any{"idx": idx}} }
func Pause() Command        { return Command{Name: "pause"} }
func Stop(idx int) Command  { return Command{Name: "stop", Payload: map[string]any{"idx": idx}} }
func StopAll() Command      { return Command{Name: "stop_all"} }
func Next() Command         { return Command{Name: "next"} }
func Previous() Command     { return Command{Name: "previous"} }

func PlayID(file map[string]any) Command {
	return Command{Name: "playid", Payload: map[string]any{"file": file}}
}

func SetMedia(file map[string]any) Command {
	return Command{Name: "set_media", Payload: map[string]any{"file": file}}
}

func SetTime(ms int64) Command {
	return Command{Name: "set_time", Payload: map[string]any{"time": ms}}
}

func SetFullscreen(on bool) Command {
	return Command{Name: "set_fullscreen", Payload: map[string]any{"fullscreen": on}}
}

func LogoFile(path string) Command {
	return Command{Name: "logo_file", Payload: map[string]any{"file": path}}
}

func ShowLogo(show bool) Command {
	return Command{Name: "show_logo", Payload: map[string]any{"show": show}}
}

func LogoSize(width, height int) Command {
	return Command{Name: "logo_size", Payload: map[string]any{"width": width, "height": height}}
}

func BackgroundColor(color string) Command {
	return Command{Name: "background_color", Payload: map[string]any{"color": color}}
}

func SetAudioDevice(device string) Command {
	return Command{Name: "set_audio_device", Payload: map[string]any{"device": device}}
}

func GetAudioDevices() Command { return Command{Name: "get_audio_devices"} }

func Volume(level int) Command {
	return Command{Name: "volume", Payload: map[string]any{"volume": level}}
}

func ImageTime(seconds int) Command {
	return Command{Name: "image_time", Payload: map[string]any{"time": seconds}}
}

func PlaylistMode(on bool) Command {
	return Command{Name: "playlist_mode", Payload: map[string]any{"value": on}}
}

func PlaylistPlay(index int) Command {
	return Command{Name: "playlist_play", Payload: map[string]any{"index": index}}
}

func SetTracks(tracks []any) Command {
	return Command{Name: "set_tracks", Payload: map[string]any{"tracks": tracks}}
}

func SetTrackIndex(index int) Command {
	return Command{Name: "set_track_index", Payload: map[string]any{"index": index}}
}

// Initialize carries the persisted state document to a freshly started
// engine so its display configuration matches the controller's.
func Initialize(pstatus map[string]any) Command {
	return Command{Name: "initialize", Payload: map[string]any{"pstatus": pstatus}}
}
