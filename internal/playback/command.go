// Package playback carries the command and event vocabulary between the
// coordinator and a connected player, plus the controller that enforces the
// behavioral contracts of the control surface. Nothing in here knows about
// torrents or persistence.
package playback

// Action identifies a player command.
type Action string

const (
	ActionPlay      Action = "play"
	ActionPause     Action = "pause"
	ActionSeek      Action = "seek"
	ActionSetVolume Action = "set_volume"
	ActionSetMuted  Action = "set_muted"
	ActionSetRate   Action = "set_rate"
	// ActionLoad points the player at a stream source, optionally restoring
	// a position once the source is playable again.
	ActionLoad Action = "load"
)

// Command is one instruction pushed to the player over the session command
// stream. Only the fields relevant to the action are set.
type Command struct {
	Action   Action   `json:"action"`
	Seconds  *float64 `json:"seconds,omitempty"`
	Volume   *float64 `json:"volume,omitempty"`
	Muted    *bool    `json:"muted,omitempty"`
	Rate     *float64 `json:"rate,omitempty"`
	Source   string   `json:"source,omitempty"`
	ResumeAt *float64 `json:"resume_at,omitempty"`
}

// Sink receives commands bound for the player.
type Sink interface {
	Send(cmd Command)
}

// EventType identifies a player report.
type EventType string

const (
	EventTimeUpdate      EventType = "timeupdate"
	EventBufferedChange  EventType = "bufferedchange"
	EventCanPlay         EventType = "canplay"
	EventEnded           EventType = "ended"
	EventAutoplayBlocked EventType = "autoplayblocked"
	EventError           EventType = "error"
)

// Event is one report from the player. timeupdate carries time and duration,
// bufferedchange carries buffered, error carries kind/message/recoverable.
type Event struct {
	Type        EventType `json:"type"`
	Time        float64   `json:"time,omitempty"`
	Duration    *float64  `json:"duration,omitempty"`
	Buffered    float64   `json:"buffered,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	Message     string    `json:"message,omitempty"`
	Recoverable *bool     `json:"recoverable,omitempty"`
}
