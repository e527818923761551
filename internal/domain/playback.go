package domain

// PlaybackErrorKind is the structured classification a player reports with a
// playback error. The recovery supervisor consults it instead of matching on
// message text.
type PlaybackErrorKind string

const (
	PlaybackErrorNetwork     PlaybackErrorKind = "network"
	PlaybackErrorDecode      PlaybackErrorKind = "decode"
	PlaybackErrorUnsupported PlaybackErrorKind = "unsupported"
	PlaybackErrorUnknown     PlaybackErrorKind = "unknown"
)

// PlaybackError carries a player-reported failure. Recoverable is the
// player's own hint; the supervisor combines it with download completeness to
// decide between a transparent retry and a fatal surface.
type PlaybackError struct {
	Kind        PlaybackErrorKind
	Message     string
	Recoverable bool
}

func (e *PlaybackError) Error() string {
	if e.Message == "" {
		return "playback error (" + string(e.Kind) + ")"
	}
	return e.Message
}
