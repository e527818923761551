// Package gate decides when a progressively downloaded title has enough data
// on disk to start playing, and keeps the decision fresh while the download
// runs. Readiness is monotonic for the life of a gate: once granted, a
// slowing or rearranged download never takes it back.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"streamwatch/internal/domain"
	"streamwatch/internal/engine"
	"streamwatch/internal/metrics"
	"streamwatch/internal/sched"
)

const (
	// DefaultMinReadyProgress is the overall completion percentage required
	// before playback starts; below it the container header is unlikely to
	// be on disk yet.
	DefaultMinReadyProgress = 5.0
	// DefaultPollInterval is how often the engine is asked for fresh state.
	DefaultPollInterval = 5 * time.Second
	// DefaultInfoRetries is how many consecutive streaming info failures are
	// tolerated before the gate reports a readiness timeout.
	DefaultInfoRetries = 3
)

// State is the lifecycle position of a gate.
type State string

const (
	StateInit        State = "init"
	StateChecking    State = "checking_status"
	StateWaiting     State = "waiting"
	StateReady       State = "ready"
	StateForcedReady State = "forced_ready"
	StateNotFound    State = "not_found"
)

// Snapshot is a point-in-time view of a gate for API payloads.
type Snapshot struct {
	State     State
	Status    *domain.DownloadStatus
	Info      *domain.StreamingInfo
	Err       error
	UpdatedAt time.Time
}

// Options tune a gate. Zero values fall back to the package defaults.
type Options struct {
	MinReadyProgress float64
	PollInterval     time.Duration
	InfoRetries      int
}

// Gate polls one download and grants readiness when it becomes streamable.
type Gate struct {
	client engine.Client
	id     string
	log    *logrus.Entry

	minProgress float64
	infoRetries int
	poll        *sched.Task

	mu            sync.Mutex
	state         State
	status        *domain.DownloadStatus
	info          *domain.StreamingInfo
	err           error
	updatedAt     time.Time
	infoFailures  int
	infoSuspended bool
	started       bool
	closed        bool
	runCtx        context.Context
	readyCh       chan struct{}
	readyClosed   bool
}

func New(client engine.Client, downloadID string, opts Options, log *logrus.Logger) *Gate {
	if opts.MinReadyProgress <= 0 {
		opts.MinReadyProgress = DefaultMinReadyProgress
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.InfoRetries <= 0 {
		opts.InfoRetries = DefaultInfoRetries
	}

	g := &Gate{
		client:      client,
		id:          downloadID,
		log:         log.WithField("download_id", downloadID),
		minProgress: opts.MinReadyProgress,
		infoRetries: opts.InfoRetries,
		state:       StateInit,
		readyCh:     make(chan struct{}),
	}
	g.poll = sched.NewInterval("gate-poll", opts.PollInterval, true, g.tick)
	return g
}

// EvaluateReadiness reports whether a download can be streamed from: the
// engine must be actively fetching or already holding the data, and enough
// must be on disk for the container header to exist.
func EvaluateReadiness(status *domain.DownloadStatus, minProgress float64) bool {
	if status == nil {
		return false
	}
	switch status.State {
	case domain.DownloadStateActive, domain.DownloadStateMetadata,
		domain.DownloadStateFinished, domain.DownloadStateSeeding:
	default:
		return false
	}
	return status.Progress >= minProgress
}

// Start launches the poll loop. The first check fires immediately.
func (g *Gate) Start(ctx context.Context) {
	g.mu.Lock()
	if g.started || g.closed {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.runCtx = ctx
	g.mu.Unlock()

	g.poll.Start(ctx)
}

// Close stops the poll loop. Idempotent.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	g.poll.Cancel()
}

// Ready is closed the first time the gate grants readiness, whether earned
// or forced.
func (g *Gate) Ready() <-chan struct{} {
	return g.readyCh
}

// ForceReady grants readiness immediately, skipping the progress check. The
// caller accepts that playback may stall. Fails only when the download is
// already known to not exist.
func (g *Gate) ForceReady() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateNotFound:
		return domain.ErrDownloadNotFound
	case StateReady, StateForcedReady:
		return nil
	default:
		g.log.Info("readiness forced by user")
		g.becomeReadyLocked(StateForcedReady)
		return nil
	}
}

// RetryInfo clears a readiness timeout and kicks an immediate streaming info
// fetch instead of waiting for the next poll tick.
func (g *Gate) RetryInfo() {
	g.mu.Lock()
	g.infoFailures = 0
	g.infoSuspended = false
	if errors.Is(g.err, domain.ErrReadinessTimeout) {
		g.err = nil
	}
	ctx := g.runCtx
	closed := g.closed
	g.mu.Unlock()

	if ctx != nil && !closed {
		go g.refreshInfo(ctx)
	}
}

// Snapshot returns the current view of the gate.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		State:     g.state,
		Status:    g.status,
		Info:      g.info,
		Err:       g.err,
		UpdatedAt: g.updatedAt,
	}
}

// Progress returns the latest overall download progress and whether one has
// been observed at all. The recovery supervisor uses this to tell a stalled
// download apart from a broken file.
func (g *Gate) Progress() (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == nil {
		return 0, false
	}
	return g.status.Progress, true
}

func (g *Gate) tick(ctx context.Context) {
	g.mu.Lock()
	if g.closed || g.state == StateNotFound {
		g.mu.Unlock()
		return
	}
	if g.state == StateInit {
		g.state = StateChecking
		g.updatedAt = time.Now()
	}
	g.mu.Unlock()

	g.checkStatus(ctx)

	g.mu.Lock()
	ready := g.state == StateReady || g.state == StateForcedReady
	suspended := g.infoSuspended
	g.mu.Unlock()

	if ready && !suspended {
		g.refreshInfo(ctx)
	}
}

func (g *Gate) checkStatus(ctx context.Context) {
	status, err := g.client.Status(ctx, g.id)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.updatedAt = time.Now()

	if err != nil {
		if errors.Is(err, domain.ErrDownloadNotFound) && !g.readyLocked() {
			g.state = StateNotFound
			g.err = err
			g.log.Warn("download not found, closing gate")
			go g.poll.Cancel()
			return
		}
		// transport trouble, keep the current state and try again next tick
		metrics.EnginePollErrors.Inc()
		g.log.WithError(err).Warn("download status check failed")
		return
	}

	g.status = status
	if g.readyLocked() {
		return
	}
	if EvaluateReadiness(status, g.minProgress) {
		g.log.WithField("progress", status.Progress).Info("download is streamable")
		g.becomeReadyLocked(StateReady)
	} else {
		g.state = StateWaiting
	}
}

func (g *Gate) refreshInfo(ctx context.Context) {
	info, err := g.client.StreamingInfo(ctx, g.id)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.updatedAt = time.Now()

	if err != nil {
		metrics.EnginePollErrors.Inc()
		if g.info != nil {
			// stats go stale but the known video file stays usable
			g.log.WithError(err).Warn("streaming info refresh failed")
			return
		}
		g.infoFailures++
		g.log.WithError(err).Warnf("streaming info fetch failed (%d/%d)", g.infoFailures, g.infoRetries)
		if g.infoFailures >= g.infoRetries {
			g.infoSuspended = true
			g.err = domain.ErrReadinessTimeout
			g.log.Warn("suspending streaming info refresh until a retry is requested")
		}
		return
	}

	g.infoFailures = 0
	g.info = info
	if errors.Is(g.err, domain.ErrReadinessTimeout) {
		g.err = nil
	}
}

func (g *Gate) readyLocked() bool {
	return g.state == StateReady || g.state == StateForcedReady
}

func (g *Gate) becomeReadyLocked(s State) {
	g.state = s
	g.updatedAt = time.Now()
	if !g.readyClosed {
		g.readyClosed = true
		close(g.readyCh)
	}
}
