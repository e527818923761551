package playback

import "sync"

// DefaultAudibleVolume is the level restored by an unmute when no audible
// volume was ever set.
const DefaultAudibleVolume = 1.0

// Adapter is the playback control surface a session drives. Implementations
// deliver the intent to an actual player.
type Adapter interface {
	Play()
	Pause()
	Seek(seconds float64)
	SetVolume(volume float64)
	SetMuted(muted bool)
	SetPlaybackRate(rate float64)
	Load(source string, resumeAt float64)
}

// Controller implements Adapter by emitting commands into a sink, enforcing
// the contracts the player side is not trusted with: seeks clamp to the known
// duration, volume zero implies muted, and unmuting at volume zero restores
// the last audible level.
type Controller struct {
	mu          sync.Mutex
	sink        Sink
	cursor      *Cursor
	volume      float64
	lastAudible float64
	muted       bool
}

func NewController(sink Sink, cursor *Cursor) *Controller {
	return &Controller{
		sink:        sink,
		cursor:      cursor,
		volume:      DefaultAudibleVolume,
		lastAudible: DefaultAudibleVolume,
	}
}

func (c *Controller) Play() {
	c.sink.Send(Command{Action: ActionPlay})
}

func (c *Controller) Pause() {
	c.sink.Send(Command{Action: ActionPause})
}

// Seek clamps the target to [0, duration]. With no known duration only the
// lower bound applies.
func (c *Controller) Seek(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	if _, duration := c.cursor.Position(); duration != nil && seconds > *duration {
		seconds = *duration
	}
	c.sink.Send(Command{Action: ActionSeek, Seconds: &seconds})
}

// SetVolume clamps to [0, 1]. Volume zero mutes; a positive volume is
// remembered as the level a later unmute restores.
func (c *Controller) SetVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}

	c.mu.Lock()
	c.volume = volume
	cmd := Command{Action: ActionSetVolume, Volume: &volume}
	if volume == 0 {
		c.muted = true
		muted := true
		cmd.Muted = &muted
	} else {
		c.lastAudible = volume
	}
	c.mu.Unlock()

	c.sink.Send(cmd)
}

// SetMuted unmutes by restoring the last audible volume when the current one
// is zero, otherwise the player would stay silent with muted=false.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	c.muted = muted
	cmd := Command{Action: ActionSetMuted, Muted: &muted}
	if !muted && c.volume == 0 {
		restored := c.lastAudible
		if restored <= 0 {
			restored = DefaultAudibleVolume
		}
		c.volume = restored
		cmd.Volume = &restored
	}
	c.mu.Unlock()

	c.sink.Send(cmd)
}

// SetPlaybackRate ignores non-positive rates.
func (c *Controller) SetPlaybackRate(rate float64) {
	if rate <= 0 {
		return
	}
	c.sink.Send(Command{Action: ActionSetRate, Rate: &rate})
}

// Load points the player at a stream source. resumeAt > 0 asks the player to
// seek there once the new source is playable.
func (c *Controller) Load(source string, resumeAt float64) {
	cmd := Command{Action: ActionLoad, Source: source}
	if resumeAt > 0 {
		cmd.ResumeAt = &resumeAt
	}
	c.sink.Send(cmd)
}

// Volume returns the current volume and muted state.
func (c *Controller) Volume() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume, c.muted
}

var _ Adapter = (*Controller)(nil)
