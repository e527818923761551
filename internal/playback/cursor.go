package playback

import "sync"

// Cursor tracks the live playback position of one session. Event intake
// writes it on every timeupdate, the save loop and the recovery supervisor
// read it from their own goroutines.
type Cursor struct {
	mu       sync.Mutex
	time     float64
	duration *float64
	buffered float64
}

func NewCursor() *Cursor {
	return &Cursor{}
}

// Update records the latest observed position. A nil or non-positive duration
// leaves the previously known duration in place, players report junk durations
// while the media element is still loading metadata.
func (c *Cursor) Update(time float64, duration *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time >= 0 {
		c.time = time
	}
	if duration != nil && *duration > 0 {
		d := *duration
		c.duration = &d
	}
}

// UpdateBuffered records the seconds of media buffered ahead of the cursor.
func (c *Cursor) UpdateBuffered(buffered float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if buffered >= 0 {
		c.buffered = buffered
	}
}

// Position returns the latest time and, when known, duration.
func (c *Cursor) Position() (float64, *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.duration == nil {
		return c.time, nil
	}
	d := *c.duration
	return c.time, &d
}

// Buffered returns the latest buffered seconds.
func (c *Cursor) Buffered() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}
