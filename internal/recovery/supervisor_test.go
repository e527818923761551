package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamwatch/internal/domain"
)

type hookRecorder struct {
	mu      sync.Mutex
	retries int
	fatals  []*domain.PlaybackError
}

func (h *hookRecorder) retryCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.retries
}

func (h *hookRecorder) fatalCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fatals)
}

func newTestSupervisor(progress float64, known bool, opts Options) (*Supervisor, *hookRecorder) {
	rec := &hookRecorder{}
	hooks := Hooks{
		Progress: func() (float64, bool) { return progress, known },
		Retry: func(ctx context.Context) {
			rec.mu.Lock()
			rec.retries++
			rec.mu.Unlock()
		},
		Fatal: func(perr *domain.PlaybackError) {
			rec.mu.Lock()
			rec.fatals = append(rec.fatals, perr)
			rec.mu.Unlock()
		},
	}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(hooks, opts, log.WithField("session_id", "test")), rec
}

func networkStall() *domain.PlaybackError {
	return &domain.PlaybackError{Kind: domain.PlaybackErrorNetwork, Message: "stalled", Recoverable: true}
}

func TestTransientStallSchedulesReload(t *testing.T) {
	s, rec := newTestSupervisor(40, true, Options{RetryDelay: 20 * time.Millisecond})
	defer s.Close()

	out := s.OnPlaybackError(context.Background(), networkStall())
	assert.Equal(t, OutcomeRetrying, out)
	assert.True(t, s.Waiting())
	assert.Equal(t, 0, rec.retryCount())

	require.Eventually(t, func() bool {
		return rec.retryCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, s.Waiting())
	assert.Equal(t, 0, rec.fatalCount())
}

func TestCompleteDownloadFailsFast(t *testing.T) {
	s, rec := newTestSupervisor(100, true, Options{RetryDelay: 20 * time.Millisecond})
	defer s.Close()

	out := s.OnPlaybackError(context.Background(), networkStall())
	assert.Equal(t, OutcomeFatal, out)
	assert.Equal(t, 1, rec.fatalCount())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, rec.retryCount())
}

func TestUnsupportedMediaIsAlwaysFatal(t *testing.T) {
	s, rec := newTestSupervisor(40, true, Options{RetryDelay: 20 * time.Millisecond})
	defer s.Close()

	out := s.OnPlaybackError(context.Background(), &domain.PlaybackError{
		Kind:        domain.PlaybackErrorUnsupported,
		Message:     "codec not supported",
		Recoverable: true,
	})
	assert.Equal(t, OutcomeFatal, out)
	assert.Equal(t, 1, rec.fatalCount())
}

func TestPlayerSaysUnrecoverableIsFatal(t *testing.T) {
	s, rec := newTestSupervisor(40, true, Options{RetryDelay: 20 * time.Millisecond})
	defer s.Close()

	out := s.OnPlaybackError(context.Background(), &domain.PlaybackError{
		Kind:        domain.PlaybackErrorDecode,
		Recoverable: false,
	})
	assert.Equal(t, OutcomeFatal, out)
	assert.Equal(t, 1, rec.fatalCount())
}

func TestUnknownProgressCountsAsIncomplete(t *testing.T) {
	s, rec := newTestSupervisor(0, false, Options{RetryDelay: 20 * time.Millisecond})
	defer s.Close()

	out := s.OnPlaybackError(context.Background(), networkStall())
	assert.Equal(t, OutcomeRetrying, out)
	require.Eventually(t, func() bool {
		return rec.retryCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRetryBudgetExhaustionIsFatal(t *testing.T) {
	s, rec := newTestSupervisor(40, true, Options{RetryDelay: 10 * time.Millisecond, MaxRetries: 1})
	defer s.Close()

	out := s.OnPlaybackError(context.Background(), networkStall())
	require.Equal(t, OutcomeRetrying, out)
	require.Eventually(t, func() bool {
		return rec.retryCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// the reload did not help and no healthy playback happened in between
	out = s.OnPlaybackError(context.Background(), networkStall())
	assert.Equal(t, OutcomeFatal, out)
	assert.Equal(t, 1, rec.fatalCount())
}

func TestHealthyPlaybackRestoresRetryBudget(t *testing.T) {
	s, rec := newTestSupervisor(40, true, Options{RetryDelay: 10 * time.Millisecond, MaxRetries: 1})
	defer s.Close()

	require.Equal(t, OutcomeRetrying, s.OnPlaybackError(context.Background(), networkStall()))
	require.Eventually(t, func() bool {
		return rec.retryCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// player resumed and made progress, so the next stall is a fresh burst
	s.OnTimeUpdate()

	assert.Equal(t, OutcomeRetrying, s.OnPlaybackError(context.Background(), networkStall()))
	require.Eventually(t, func() bool {
		return rec.retryCount() == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, rec.fatalCount())
}

func TestDuplicateErrorsWhileWaitingDoNotStackTimers(t *testing.T) {
	s, rec := newTestSupervisor(40, true, Options{RetryDelay: 30 * time.Millisecond, MaxRetries: 3})
	defer s.Close()

	require.Equal(t, OutcomeRetrying, s.OnPlaybackError(context.Background(), networkStall()))
	require.Equal(t, OutcomeRetrying, s.OnPlaybackError(context.Background(), networkStall()))
	require.Equal(t, OutcomeRetrying, s.OnPlaybackError(context.Background(), networkStall()))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.retryCount())
}

func TestCloseCancelsPendingReload(t *testing.T) {
	s, rec := newTestSupervisor(40, true, Options{RetryDelay: 30 * time.Millisecond})

	require.Equal(t, OutcomeRetrying, s.OnPlaybackError(context.Background(), networkStall()))
	s.Close()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, rec.retryCount())
}

func TestTimeUpdateDuringWaitKeepsBudgetSpent(t *testing.T) {
	s, _ := newTestSupervisor(40, true, Options{RetryDelay: 50 * time.Millisecond, MaxRetries: 1})
	defer s.Close()

	require.Equal(t, OutcomeRetrying, s.OnPlaybackError(context.Background(), networkStall()))
	s.OnTimeUpdate()
	assert.True(t, s.Waiting())
}
