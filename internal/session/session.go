// Package session owns live playback sessions: one per viewer and title,
// holding the readiness gate, the live cursor, the debounced save loop, the
// resume prompt and the recovery supervisor together, and feeding commands to
// the connected player.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"streamwatch/internal/domain"
	"streamwatch/internal/engine"
	"streamwatch/internal/gate"
	"streamwatch/internal/metrics"
	"streamwatch/internal/playback"
	"streamwatch/internal/recovery"
	"streamwatch/internal/sched"
	"streamwatch/internal/service"
)

const (
	// DefaultSaveInterval is how often the periodic save task persists the
	// cursor while the player is running.
	DefaultSaveInterval = 30 * time.Second
	// DefaultSaveDebounce is the minimum spacing between successful saves;
	// only forced saves may go under it.
	DefaultSaveDebounce = 5 * time.Second
	// DefaultMinSaveSeconds keeps accidental plays out of the store: nothing
	// is persisted before this position.
	DefaultMinSaveSeconds = 5.0
	// DefaultResumeTimeout is how long the resume prompt waits for a choice
	// before resuming from the stored position on its own.
	DefaultResumeTimeout = 10 * time.Second

	commandBuffer = 16
	saveTimeout   = 5 * time.Second
)

// ErrCommandStreamBusy is returned when a second consumer tries to attach to
// a session's command stream.
var ErrCommandStreamBusy = errors.New("command stream already attached")

// PlaybackState is the coarse player state a session reports. Waiting and
// buffering are states here, never errors.
type PlaybackState string

const (
	StateWaiting   PlaybackState = "waiting"
	StateLoading   PlaybackState = "loading"
	StatePaused    PlaybackState = "paused"
	StatePlaying   PlaybackState = "playing"
	StateBuffering PlaybackState = "buffering"
	StateEnded     PlaybackState = "ended"
	StateFailed    PlaybackState = "failed"
)

// ResumePrompt describes a pending offer to continue from stored progress.
type ResumePrompt struct {
	Position   float64
	Percentage float64
	OfferedAt  time.Time
}

// Snapshot is a point-in-time view of a session for API payloads.
type Snapshot struct {
	ID              string
	TorrentID       string
	MovieID         string
	State           PlaybackState
	Gate            gate.Snapshot
	Resume          *ResumePrompt
	AutoplayBlocked bool
	StreamURL       string
	Position        float64
	Duration        *float64
	Buffered        float64
	FatalError      *domain.PlaybackError
	CreatedAt       time.Time
	LastEventAt     time.Time
}

// Options tune a session. Zero values fall back to the package defaults.
type Options struct {
	Gate           gate.Options
	Recovery       recovery.Options
	SaveInterval   time.Duration
	SaveDebounce   time.Duration
	MinSaveSeconds float64
	ResumeTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.SaveInterval <= 0 {
		o.SaveInterval = DefaultSaveInterval
	}
	if o.SaveDebounce <= 0 {
		o.SaveDebounce = DefaultSaveDebounce
	}
	if o.MinSaveSeconds <= 0 {
		o.MinSaveSeconds = DefaultMinSaveSeconds
	}
	if o.ResumeTimeout <= 0 {
		o.ResumeTimeout = DefaultResumeTimeout
	}
	return o
}

// Session coordinates one viewer watching one progressively downloaded title.
type Session struct {
	ID        string
	UserID    int64
	TorrentID string
	MovieID   string
	Quality   string

	client   engine.Client
	progress service.ProgressService
	gate     *gate.Gate
	cursor   *playback.Cursor
	ctrl     *playback.Controller
	sup      *recovery.Supervisor
	log      *logrus.Entry
	opts     Options

	saveTask     *sched.Task
	saveInFlight atomic.Bool

	mu               sync.Mutex
	state            PlaybackState
	fatalErr         *domain.PlaybackError
	resume           *ResumePrompt
	resumeTimer      *sched.Task
	resumeResolved   bool
	canplaySeen      bool
	autoplayPlanned  bool
	autoplayDone     bool
	autoplayBlocked  bool
	loaded           bool
	progressID       string
	lastSaveAt       time.Time
	lastSavedPos     float64
	lastEventAt      time.Time
	createdAt        time.Time
	closed           bool
	commandsAttached bool
	runCtx           context.Context
	commands         chan playback.Command
	done             chan struct{}
}

// New builds a session; Start must be called to begin gating and saving.
func New(client engine.Client, progress service.ProgressService, userID int64, torrentID, movieID, quality string, autoplay bool, opts Options, log *logrus.Logger) *Session {
	opts = opts.withDefaults()

	s := &Session{
		ID:              uuid.New().String(),
		UserID:          userID,
		TorrentID:       torrentID,
		MovieID:         movieID,
		Quality:         quality,
		client:          client,
		progress:        progress,
		opts:            opts,
		state:           StateWaiting,
		autoplayPlanned: autoplay,
		createdAt:       time.Now(),
		lastEventAt:     time.Now(),
		commands:        make(chan playback.Command, commandBuffer),
		done:            make(chan struct{}),
	}
	s.log = log.WithField("session_id", s.ID).WithField("torrent_id", torrentID)
	s.cursor = playback.NewCursor()
	s.ctrl = playback.NewController(s, s.cursor)
	s.gate = gate.New(client, torrentID, opts.Gate, log)
	s.sup = recovery.New(recovery.Hooks{
		Progress: s.gate.Progress,
		Retry:    s.reloadStream,
		Fatal:    s.failPlayback,
	}, opts.Recovery, s.log)
	s.saveTask = sched.NewInterval("progress-save", opts.SaveInterval, false, func(ctx context.Context) {
		s.save(ctx, false, false)
	})
	return s
}

// Start launches the gate poll, the periodic save task and the goroutine
// reacting to the readiness grant.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.runCtx != nil {
		s.mu.Unlock()
		return
	}
	s.runCtx = ctx
	s.mu.Unlock()

	s.gate.Start(ctx)
	s.saveTask.Start(ctx)

	go func() {
		select {
		case <-s.gate.Ready():
			s.onReady(ctx)
		case <-s.done:
		case <-ctx.Done():
		}
	}()

	s.log.WithField("movie_id", s.MovieID).Info("session started")
}

// Send implements playback.Sink; commands flow to the connected player. A
// full buffer drops the command rather than blocking intake.
func (s *Session) Send(cmd playback.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.commands <- cmd:
	default:
		s.log.WithField("action", string(cmd.Action)).Warn("command buffer full, dropping command")
	}
}

// AcquireCommands hands the command stream to a single consumer. The release
// function must be called when the consumer disconnects.
func (s *Session) AcquireCommands() (<-chan playback.Command, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, domain.ErrSessionNotFound
	}
	if s.commandsAttached {
		return nil, nil, ErrCommandStreamBusy
	}
	s.commandsAttached = true
	s.lastEventAt = time.Now()

	release := func() {
		s.mu.Lock()
		s.commandsAttached = false
		s.mu.Unlock()
	}
	return s.commands, release, nil
}

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Controller exposes the playback control surface for the control endpoint.
func (s *Session) Controller() playback.Adapter {
	return s.ctrl
}

// ForceReady grants readiness ahead of the download threshold.
func (s *Session) ForceReady() error {
	return s.gate.ForceReady()
}

// RetryInfo clears a readiness timeout and refetches streaming info.
func (s *Session) RetryInfo() {
	s.touch()
	s.gate.RetryInfo()
}

// onReady runs once, on the first readiness grant.
func (s *Session) onReady(ctx context.Context) {
	snap := s.gate.Snapshot()
	if snap.State == gate.StateForcedReady {
		metrics.CountGateReady("forced")
	} else {
		metrics.CountGateReady("earned")
	}

	// sequential download order matters from here on, not completion speed
	go func() {
		if err := s.client.PrioritizeStreaming(ctx, s.TorrentID); err != nil {
			s.log.WithError(err).Warn("streaming prioritization failed")
		}
	}()

	stored, err := s.progress.LookupForPlayback(ctx, s.UserID, s.TorrentID, s.MovieID)
	if err != nil {
		s.log.WithError(err).Warn("watch progress lookup failed, starting from the beginning")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if stored != nil {
		s.progressID = stored.ID
	}
	if stored != nil && s.progress.ShouldOfferResume(stored) {
		s.resume = &ResumePrompt{
			Position:   stored.CurrentTime,
			Percentage: stored.Percentage,
			OfferedAt:  time.Now(),
		}
		s.resumeTimer = sched.NewTimer("resume-timeout", s.opts.ResumeTimeout, func(context.Context) {
			s.resolveResume(true, "timeout")
		})
		s.resumeTimer.Start(ctx)
		metrics.CountResume("offered")
	} else {
		s.resumeResolved = true
	}
	s.state = StateLoading
	s.loaded = true
	s.mu.Unlock()

	s.ctrl.Load(s.client.StreamURL(s.TorrentID, s.Quality), 0)
	s.log.Info("stream attached to player")
}

// ResolveResume applies the viewer's resume choice: accept seeks to the
// stored position, decline starts from the beginning. Without a pending
// prompt this is a no-op.
func (s *Session) ResolveResume(accept bool) {
	s.touch()
	outcome := "declined"
	if accept {
		outcome = "accepted"
	}
	s.resolveResume(accept, outcome)
}

func (s *Session) resolveResume(accept bool, outcome string) {
	s.mu.Lock()
	if s.closed || s.resume == nil {
		s.mu.Unlock()
		return
	}
	prompt := s.resume
	s.resume = nil
	s.resumeResolved = true
	timer := s.resumeTimer
	s.resumeTimer = nil
	s.mu.Unlock()

	if timer != nil && outcome != "timeout" {
		timer.Cancel()
	}
	metrics.CountResume(outcome)

	if accept {
		s.ctrl.Seek(prompt.Position)
		s.log.WithField("position", prompt.Position).Info("resuming from stored position")
	} else {
		s.ctrl.Seek(0)
		s.log.Info("resume declined, starting over")
	}
	s.maybeAutoplay()
}

func (s *Session) maybeAutoplay() {
	s.mu.Lock()
	attempt := s.canplaySeen && s.resumeResolved && s.autoplayPlanned &&
		!s.autoplayDone && s.fatalErr == nil && !s.closed
	if attempt {
		s.autoplayDone = true
	}
	s.mu.Unlock()

	if attempt {
		s.ctrl.Play()
	}
}

// HandleEvent ingests one player report. The hot path (timeupdate) only moves
// the cursor; persistence happens on the save task's schedule.
func (s *Session) HandleEvent(ev playback.Event) {
	s.touch()

	switch ev.Type {
	case playback.EventTimeUpdate:
		s.cursor.Update(ev.Time, ev.Duration)
		s.sup.OnTimeUpdate()
		s.mu.Lock()
		if s.state != StateEnded && s.state != StateFailed && !s.sup.Waiting() {
			s.state = StatePlaying
		}
		s.mu.Unlock()

	case playback.EventBufferedChange:
		s.cursor.UpdateBuffered(ev.Buffered)

	case playback.EventCanPlay:
		s.mu.Lock()
		s.canplaySeen = true
		if s.state == StateLoading {
			s.state = StatePaused
		}
		s.mu.Unlock()
		s.maybeAutoplay()

	case playback.EventEnded:
		s.mu.Lock()
		s.state = StateEnded
		ctx := s.runCtx
		s.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		s.save(ctx, true, true)

	case playback.EventAutoplayBlocked:
		s.mu.Lock()
		s.autoplayBlocked = true
		if s.state == StateLoading || s.state == StatePlaying {
			s.state = StatePaused
		}
		s.mu.Unlock()
		s.log.Info("autoplay blocked by the player, waiting for user gesture")

	case playback.EventError:
		perr := &domain.PlaybackError{
			Kind:        parseErrorKind(ev.Kind),
			Message:     ev.Message,
			Recoverable: ev.Recoverable == nil || *ev.Recoverable,
		}
		s.mu.Lock()
		ctx := s.runCtx
		s.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		if s.sup.OnPlaybackError(ctx, perr) == recovery.OutcomeRetrying {
			s.mu.Lock()
			s.state = StateBuffering
			s.mu.Unlock()
		}

	default:
		s.log.WithField("type", string(ev.Type)).Warn("ignoring unknown player event")
	}
}

// reloadStream is the recovery supervisor's retry hook: point the player back
// at the stream and restore the last observed position.
func (s *Session) reloadStream(context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	pos, _ := s.cursor.Position()
	metrics.RecoveryReloads.Inc()
	s.ctrl.Load(s.client.StreamURL(s.TorrentID, s.Quality), pos)
	s.log.WithField("position", pos).Info("reloading stream after stall")
}

// failPlayback is the recovery supervisor's fatal hook.
func (s *Session) failPlayback(perr *domain.PlaybackError) {
	s.mu.Lock()
	s.fatalErr = perr
	s.state = StateFailed
	s.mu.Unlock()
	metrics.PlaybackFatals.Inc()
}

// save persists the cursor. forced skips the debounce and unchanged-position
// guards; ended additionally writes the exact completion values. Failures are
// logged and swallowed, a missed save never interrupts playback.
func (s *Session) save(ctx context.Context, forced, ended bool) {
	if !s.saveInFlight.CompareAndSwap(false, true) {
		metrics.CountSave("skipped")
		return
	}
	defer s.saveInFlight.Store(false)

	pos, duration := s.cursor.Position()

	if !ended {
		if pos < s.opts.MinSaveSeconds {
			metrics.CountSave("skipped")
			return
		}
		s.mu.Lock()
		lastAt, lastPos := s.lastSaveAt, s.lastSavedPos
		s.mu.Unlock()
		if !forced {
			if !lastAt.IsZero() && time.Since(lastAt) < s.opts.SaveDebounce {
				metrics.CountSave("skipped")
				return
			}
			if pos == lastPos {
				metrics.CountSave("skipped")
				return
			}
		}
	}

	s.mu.Lock()
	progressID := s.progressID
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	rec, err := s.progress.Record(cctx, s.UserID, progressID, service.ProgressSample{
		MovieID:     s.MovieID,
		TorrentID:   s.TorrentID,
		CurrentTime: pos,
		Duration:    duration,
		Ended:       ended,
	})
	if err != nil {
		s.log.WithError(err).Warn("watch progress save failed")
		metrics.CountSave("error")
		return
	}

	s.mu.Lock()
	s.progressID = rec.ID
	s.lastSaveAt = time.Now()
	s.lastSavedPos = rec.CurrentTime
	s.mu.Unlock()
	metrics.CountSave("ok")
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() Snapshot {
	pos, duration := s.cursor.Position()
	gateSnap := s.gate.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.state
	if s.sup.Waiting() {
		state = StateBuffering
	}

	var streamURL string
	if s.loaded {
		streamURL = s.client.StreamURL(s.TorrentID, s.Quality)
	}

	return Snapshot{
		ID:              s.ID,
		TorrentID:       s.TorrentID,
		MovieID:         s.MovieID,
		State:           state,
		Gate:            gateSnap,
		Resume:          s.resume,
		AutoplayBlocked: s.autoplayBlocked,
		StreamURL:       streamURL,
		Position:        pos,
		Duration:        duration,
		Buffered:        s.cursor.Buffered(),
		FatalError:      s.fatalErr,
		CreatedAt:       s.createdAt,
		LastEventAt:     s.lastEventAt,
	}
}

// LastEventAt reports the last player contact, used by the idle janitor.
func (s *Session) LastEventAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventAt
}

// Close tears the session down: every timer is cancelled in one sweep, then
// the final position is saved best effort.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	resumeTimer := s.resumeTimer
	s.resumeTimer = nil
	ended := s.state == StateEnded
	s.mu.Unlock()

	s.gate.Close()
	s.saveTask.Cancel()
	if resumeTimer != nil {
		resumeTimer.Cancel()
	}
	s.sup.Close()

	if !ended {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		s.save(ctx, true, false)
		cancel()
	}

	s.mu.Lock()
	close(s.done)
	close(s.commands)
	s.mu.Unlock()

	metrics.SessionsActive.Dec()
	s.log.Info("session closed")
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastEventAt = time.Now()
	s.mu.Unlock()
}

func parseErrorKind(kind string) domain.PlaybackErrorKind {
	switch k := domain.PlaybackErrorKind(kind); k {
	case domain.PlaybackErrorNetwork, domain.PlaybackErrorDecode, domain.PlaybackErrorUnsupported:
		return k
	default:
		return domain.PlaybackErrorUnknown
	}
}

var _ playback.Sink = (*Session)(nil)
