// Package state owns the shared playback state document (pStatus).
//
// Every subsystem reads the same document; all writes funnel through Merge
// so callers can build minimal broadcast deltas from the returned key set.
package state

import (
	"reflect"
	"sync"
)

// PlayerSlots is the number of player slots mirrored from the engine.
const PlayerSlots = 2

// RepeatMode governs behavior on track completion.
type RepeatMode string

const (
	RepeatNone   RepeatMode = "none"
	RepeatAll    RepeatMode = "all"
	RepeatSingle RepeatMode = "single"
	RepeatOne    RepeatMode = "repeat_one"
)

// ValidRepeat reports whether s names a known repeat mode.
func ValidRepeat(s string) bool {
	switch RepeatMode(s) {
	case RepeatNone, RepeatAll, RepeatSingle, RepeatOne:
		return true
	}
	return false
}

// Ports holds the control-surface listen ports. Read once at startup,
// immutable thereafter.
type Ports struct {
	HTTP int `json:"http"`
	TCP  int `json:"tcp"`
	UDP  int `json:"udp"`
}

// nestedKeys are the top-level keys whose object values merge one level
// deep rather than being replaced wholesale.
var nestedKeys = map[string]bool{
	"device": true,
	"logo":   true,
}

// Store holds the single mutable pStatus document for the process.
type Store struct {
	mu   sync.RWMutex
	data map[string]any
}

// emptySlot returns the initial per-slot engine status mirror.
func emptySlot() map[string]any {
	return map[string]any{
		"event":       "",
		"buffering":   float64(0),
		"currentFile": nil,
		"filename":    "",
		"volume":      float64(100),
		"speed":       1.0,
		"duration":    float64(0),
		"time":        float64(0),
		"position":    0.0,
		"fullscreen":  false,
		"playing":     false,
		"isImage":     false,
	}
}

// New constructs the document with its startup defaults. The settings
// bootstrap merges persisted configuration on top of this before the
// engine starts.
func New(ports Ports) *Store {
	players := make([]any, PlayerSlots)
	for i := range players {
		players[i] = emptySlot()
	}
	return &Store{
		data: map[string]any{
			"activePlayerId":     float64(0),
			"playlistMode":       false,
			"repeat":             string(RepeatNone),
			"currentPlaylistId":  "",
			"playlistTrackIndex": float64(0),
			"tracks":             []any{},
			"players":            players,
			"device": map[string]any{
				"audiodevice":  "",
				"audiodevices": []any{},
			},
			"logo": map[string]any{
				"name":   "",
				"show":   false,
				"file":   "",
				"width":  float64(0),
				"height": float64(0),
				"x":      float64(0),
				"y":      float64(0),
			},
			"background": "black",
			"imageTime":  float64(10),
			"ports": map[string]any{
				"http": float64(ports.HTTP),
				"tcp":  float64(ports.TCP),
				"udp":  float64(ports.UDP),
			},
		},
	}
}

// Read returns a deep copy of the document.
func (s *Store) Read() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(s.data).(map[string]any)
}

// Get returns a deep copy of one top-level key, or nil if absent.
func (s *Store) Get(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil
	}
	return deepCopy(v)
}

// Merge applies a shallow-per-key overwrite of partial onto the document
// and returns exactly the top-level keys whose values changed. Object
// values under "device" and "logo" merge one level deep; "players" merges
// per slot, one level deep. No validation happens here — callers enforce
// invariants before merging.
func (s *Store) Merge(partial map[string]any) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for key, incoming := range partial {
		switch {
		case nestedKeys[key]:
			if s.mergeNested(key, incoming) {
				changed = append(changed, key)
			}
		case key == "players":
			if s.mergePlayers(incoming) {
				changed = append(changed, key)
			}
		default:
			if !reflect.DeepEqual(s.data[key], incoming) {
				s.data[key] = deepCopy(incoming)
				changed = append(changed, key)
			}
		}
	}
	return changed
}

// MergePlayer merges reported fields into one player slot and reports
// whether anything changed. Out-of-range ids are ignored.
func (s *Store) MergePlayer(id int, fields map[string]any) bool {
	if id < 0 || id >= PlayerSlots {
		return false
	}
	slots := make([]any, PlayerSlots)
	for i := range slots {
		if i == id {
			slots[i] = fields
		} else {
			slots[i] = map[string]any{}
		}
	}
	return len(s.Merge(map[string]any{"players": slots})) > 0
}

func (s *Store) mergeNested(key string, incoming any) bool {
	in, ok := incoming.(map[string]any)
	if !ok {
		if reflect.DeepEqual(s.data[key], incoming) {
			return false
		}
		s.data[key] = deepCopy(incoming)
		return true
	}
	cur, ok := s.data[key].(map[string]any)
	if !ok {
		cur = map[string]any{}
		s.data[key] = cur
	}
	changed := false
	for k, v := range in {
		if !reflect.DeepEqual(cur[k], v) {
			cur[k] = deepCopy(v)
			changed = true
		}
	}
	return changed
}

func (s *Store) mergePlayers(incoming any) bool {
	in, ok := incoming.([]any)
	if !ok {
		return false
	}
	cur, ok := s.data["players"].([]any)
	if !ok {
		return false
	}
	changed := false
	for i := 0; i < len(in) && i < len(cur); i++ {
		fields, ok := in[i].(map[string]any)
		if !ok || len(fields) == 0 {
			continue
		}
		slot, ok := cur[i].(map[string]any)
		if !ok {
			slot = map[string]any{}
			cur[i] = slot
		}
		for k, v := range fields {
			if !reflect.DeepEqual(slot[k], v) {
				slot[k] = deepCopy(v)
				changed = true
			}
		}
	}
	return changed
}

// Typed accessors used by the ingest and command paths. All return
// copies; numeric document values are float64 per encoding/json.

// ActivePlayerID returns the index of the authoritative player slot.
func (s *Store) ActivePlayerID() int { return s.intVal("activePlayerId") }

// PlaylistTrackIndex returns the 0-based position within the track list.
func (s *Store) PlaylistTrackIndex() int { return s.intVal("playlistTrackIndex") }

// PlaylistMode reports whether playback is playlist-driven.
func (s *Store) PlaylistMode() bool { return s.boolVal("playlistMode") }

// Repeat returns the current repeat mode.
func (s *Store) Repeat() RepeatMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, _ := s.data["repeat"].(string)
	return RepeatMode(v)
}

// Tracks returns a copy of the resolved track list.
func (s *Store) Tracks() []any {
	v, _ := s.Get("tracks").([]any)
	return v
}

// TrackCount returns the length of the resolved track list.
func (s *Store) TrackCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, _ := s.data["tracks"].([]any)
	return len(v)
}

// Track returns a copy of the track at index i, or nil when out of bounds.
func (s *Store) Track(i int) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tracks, _ := s.data["tracks"].([]any)
	if i < 0 || i >= len(tracks) {
		return nil
	}
	return deepCopy(tracks[i])
}

// PlayerTimeMs returns the last engine-reported position of slot id in
// milliseconds.
func (s *Store) PlayerTimeMs(id int) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	players, _ := s.data["players"].([]any)
	if id < 0 || id >= len(players) {
		return 0
	}
	slot, _ := players[id].(map[string]any)
	return int64(toFloat(slot["time"]))
}

func (s *Store) intVal(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(toFloat(s.data[key]))
}

func (s *Store) boolVal(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, _ := s.data[key].(bool)
	return v
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
