package session

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
	"streamwatch/internal/service"
)

const (
	// DefaultIdleTimeout is how long a session may go without player contact
	// before the janitor reclaims it.
	DefaultIdleTimeout = 2 * time.Hour

	janitorInterval = 5 * time.Minute
)

// CreateRequest carries what a client needs to open a session.
type CreateRequest struct {
	TorrentID string
	MovieID   string
	Quality   string
	Autoplay  bool
}

// Manager owns every live session: creation, lookup scoped to the owning
// user, idle collection and shutdown.
type Manager struct {
	client      engine.Client
	progress    service.ProgressService
	opts        Options
	idleTimeout time.Duration
	log         *logrus.Logger
	janitor     *sched.Task

	mu       sync.Mutex
	sessions map[string]*Session
	runCtx   context.Context
	closed   bool
}

func NewManager(client engine.Client, progress service.ProgressService, opts Options, idleTimeout time.Duration, log *logrus.Logger) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	m := &Manager{
		client:      client,
		progress:    progress,
		opts:        opts,
		idleTimeout: idleTimeout,
		log:         log,
		sessions:    make(map[string]*Session),
	}
	m.janitor = sched.NewInterval("session-janitor", janitorInterval, false, m.sweep)
	return m
}

// Start begins idle collection. ctx bounds the lifetime of every session the
// manager creates afterwards.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	m.janitor.Start(ctx)
}

// Create opens a session for the user and starts its gate immediately.
func (m *Manager) Create(userID int64, req CreateRequest) (*Session, error) {
	if req.TorrentID == "" {
		return nil, errors.New("torrent id is required")
	}
	if req.MovieID == "" {
		return nil, errors.New("movie id is required")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("session manager is shut down")
	}
	ctx := m.runCtx
	m.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s := New(m.client, m.progress, userID, req.TorrentID, req.MovieID, req.Quality, req.Autoplay, m.opts, m.log)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	s.Start(ctx)
	metrics.SessionsStarted.Inc()
	metrics.SessionsActive.Inc()
	return s, nil
}

// Get returns the user's session or domain.ErrSessionNotFound. Sessions are
// private to their creator.
func (m *Manager) Get(id string, userID int64) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok || s.UserID != userID {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// Remove tears the session down and forgets it.
func (m *Manager) Remove(id string, userID int64) error {
	s, err := m.Get(id, userID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	s.Close()
	return nil
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// sweep closes sessions whose players have gone quiet.
func (m *Manager) sweep(context.Context) {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastEventAt().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.log.WithField("session_id", s.ID).Info("closing idle session")
		s.Close()
	}
}

// Shutdown closes every session, saving final positions, and stops the
// janitor. Used on server exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	remaining := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		remaining = append(remaining, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	m.janitor.Cancel()
	for _, s := range remaining {
		s.Close()
	}
	if len(remaining) > 0 {
		m.log.Infof("closed %d session(s) on shutdown", len(remaining))
	}
}
