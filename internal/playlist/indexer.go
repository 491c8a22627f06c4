// Package playlist provides the index arithmetic shared by the event
// ingest path and the command handlers.
package playlist

// RestartThresholdMs is the elapsed-playback cutoff for the previous
// control: below it, previous moves back one track; at or above it,
// previous restarts the current track, matching physical transport
// controls.
const RestartThresholdMs = 5000

// NextIndex advances current within [0, length). The bound is clamped,
// never wrapped; wrapping under repeat=all in playlist mode is the
// engine's contract, not computed here.
func NextIndex(current, length int) int {
	if length <= 0 {
		return 0
	}
	next := current + 1
	if next >= length {
		next = length - 1
	}
	if next < 0 {
		next = 0
	}
	return next
}

// PreviousIndex returns the target index for a previous command given
// the elapsed playback time of the current track. Clamped at 0.
func PreviousIndex(current int, elapsedMs int64) int {
	if elapsedMs < RestartThresholdMs {
		current--
	}
	if current < 0 {
		current = 0
	}
	return current
}

// Clamp bounds i to [0, length). A non-positive length yields 0.
func Clamp(i, length int) int {
	if length <= 0 || i < 0 {
		return 0
	}
	if i >= length {
		return length - 1
	}
	return i
}

// IsLast reports whether current is the final index of a list of the
// given length.
func IsLast(current, length int) bool {
	return length > 0 && current == length-1
}
