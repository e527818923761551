// Package recovery decides what a player error means while the underlying
// download is still running. A stall with data missing is usually the player
// outrunning the pieces on disk, so it earns a quiet delayed reload; the same
// error on a complete download means the file itself is bad and is surfaced.
package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"streamwatch/internal/domain"
	"streamwatch/internal/sched"
)

const (
	// DefaultRetryDelay is the pause before a recovery reload, long enough
	// for the engine to fetch the missing pieces the player tripped on.
	DefaultRetryDelay = 3 * time.Second
	// DefaultMaxRetries bounds reloads per stall burst.
	DefaultMaxRetries = 1
)

// Outcome is the supervisor's verdict on one playback error.
type Outcome string

const (
	OutcomeRetrying Outcome = "retrying"
	OutcomeFatal    Outcome = "fatal"
)

// Hooks connect a supervisor to its session.
type Hooks struct {
	// Progress returns the latest overall download progress and whether any
	// observation exists. Unknown counts as incomplete.
	Progress func() (float64, bool)
	// Retry fires once the delay elapses; implementations reload the stream
	// from the last playback position.
	Retry func(ctx context.Context)
	// Fatal surfaces an unrecoverable playback failure.
	Fatal func(perr *domain.PlaybackError)
}

// Options tune a supervisor. Zero values fall back to the package defaults.
type Options struct {
	RetryDelay time.Duration
	MaxRetries int
}

// Supervisor classifies playback errors for one session and owns the retry
// timer between a stall and its reload.
type Supervisor struct {
	log   *logrus.Entry
	hooks Hooks
	delay time.Duration
	max   int

	mu      sync.Mutex
	used    int
	waiting bool
	closed  bool
	timer   *sched.Task
}

func New(hooks Hooks, opts Options, log *logrus.Entry) *Supervisor {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Supervisor{
		log:   log,
		hooks: hooks,
		delay: opts.RetryDelay,
		max:   opts.MaxRetries,
	}
}

// OnPlaybackError classifies the error and either schedules a reload or
// surfaces it through the fatal hook. During the reload delay the session
// should report buffering, not an error.
func (s *Supervisor) OnPlaybackError(ctx context.Context, perr *domain.PlaybackError) Outcome {
	if perr == nil {
		perr = &domain.PlaybackError{Kind: domain.PlaybackErrorUnknown, Recoverable: true}
	}

	var progress float64
	var known bool
	if s.hooks.Progress != nil {
		progress, known = s.hooks.Progress()
	}
	complete := known && progress >= 100

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return OutcomeFatal
	}

	transient := !complete &&
		perr.Kind != domain.PlaybackErrorUnsupported &&
		perr.Recoverable &&
		s.used < s.max

	if !transient {
		s.waiting = false
		s.mu.Unlock()

		s.log.WithFields(logrus.Fields{
			"kind":              string(perr.Kind),
			"download_progress": progress,
		}).Errorf("playback failed: %s", perr.Error())
		if s.hooks.Fatal != nil {
			s.hooks.Fatal(perr)
		}
		return OutcomeFatal
	}

	if s.waiting {
		// a reload is already pending, let it run
		s.mu.Unlock()
		return OutcomeRetrying
	}

	s.used++
	s.waiting = true
	timer := sched.NewTimer("recovery-retry", s.delay, func(tctx context.Context) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.waiting = false
		s.mu.Unlock()

		if s.hooks.Retry != nil {
			s.hooks.Retry(tctx)
		}
	})
	s.timer = timer
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"kind":              string(perr.Kind),
		"download_progress": progress,
	}).Infof("playback stalled on incomplete download, reloading in %s", s.delay)

	timer.Start(ctx)
	return OutcomeRetrying
}

// OnTimeUpdate marks playback as healthy again; a stall burst ends when the
// player makes progress, restoring the retry budget.
func (s *Supervisor) OnTimeUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.waiting {
		s.used = 0
	}
}

// Waiting reports whether a reload is pending.
func (s *Supervisor) Waiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

// Close cancels any pending reload. Safe to call repeatedly.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	timer := s.timer
	s.mu.Unlock()

	if timer != nil {
		timer.Cancel()
	}
}
