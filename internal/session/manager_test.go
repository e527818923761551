package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamwatch/internal/domain"
)

func newTestManager(t *testing.T, idleTimeout time.Duration) *Manager {
	t.Helper()
	mgr := NewManager(readyEngine(), &stubProgress{}, testOptions(), idleTimeout, quietLogger())
	mgr.Start(context.Background())
	t.Cleanup(mgr.Shutdown)
	return mgr
}

func TestManagerScopesSessionsToOwner(t *testing.T) {
	mgr := newTestManager(t, time.Hour)

	s, err := mgr.Create(1, CreateRequest{TorrentID: "t1", MovieID: "m1"})
	require.NoError(t, err)

	got, err := mgr.Get(s.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	_, err = mgr.Get(s.ID, 2)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, mgr.Remove(s.ID, 2), domain.ErrSessionNotFound)

	require.NoError(t, mgr.Remove(s.ID, 1))
	_, err = mgr.Get(s.ID, 1)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	select {
	case <-s.Done():
	default:
		t.Fatal("session not closed after removal")
	}
}

func TestManagerValidatesCreateRequest(t *testing.T) {
	mgr := newTestManager(t, time.Hour)

	_, err := mgr.Create(1, CreateRequest{MovieID: "m1"})
	assert.Error(t, err)

	_, err = mgr.Create(1, CreateRequest{TorrentID: "t1"})
	assert.Error(t, err)
}

func TestManagerShutdownClosesEverything(t *testing.T) {
	mgr := newTestManager(t, time.Hour)

	a, err := mgr.Create(1, CreateRequest{TorrentID: "t1", MovieID: "m1"})
	require.NoError(t, err)
	b, err := mgr.Create(2, CreateRequest{TorrentID: "t2", MovieID: "m2"})
	require.NoError(t, err)
	require.Equal(t, 2, mgr.Count())

	mgr.Shutdown()

	assert.Equal(t, 0, mgr.Count())
	select {
	case <-a.Done():
	default:
		t.Fatal("first session still open after shutdown")
	}
	select {
	case <-b.Done():
	default:
		t.Fatal("second session still open after shutdown")
	}

	_, err = mgr.Create(1, CreateRequest{TorrentID: "t3", MovieID: "m3"})
	assert.Error(t, err)
}

func TestManagerSweepReclaimsIdleSessions(t *testing.T) {
	mgr := newTestManager(t, 10*time.Millisecond)

	s, err := mgr.Create(1, CreateRequest{TorrentID: "t1", MovieID: "m1"})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	mgr.sweep(context.Background())

	assert.Equal(t, 0, mgr.Count())
	select {
	case <-s.Done():
	default:
		t.Fatal("idle session not closed by the sweep")
	}
}
