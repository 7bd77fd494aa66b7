package playback

import (
	"encoding/json"
	"math"
)

// CommandType names an inbound widget control.
type CommandType string

const (
	CommandPauseResume     CommandType = "pause_resume_playback"
	CommandRestartPrevious CommandType = "restart_play_previous_track"
	CommandNext            CommandType = "play_next_track"
	CommandSeek            CommandType = "seek_to"
)

// Command is a control message sent by a widget client. Position is kept raw
// so that a non-numeric value can be coerced instead of failing the decode.
type Command struct {
	Type     CommandType     `json:"type"`
	Position json.RawMessage `json:"position,omitempty"`
}

// PositionMs returns the requested seek position in milliseconds. Missing or
// non-numeric positions yield 0; negative ones are clamped to 0.
func (c Command) PositionMs() int {
	if len(c.Position) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(c.Position, &f); err != nil {
		return 0
	}
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}
