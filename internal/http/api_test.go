package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamwatch/internal/domain"
	"streamwatch/internal/engine"
	"streamwatch/internal/playback"
	"streamwatch/internal/repository/sqlite"
	"streamwatch/internal/service"
	"streamwatch/internal/session"
)

const testRegisterSecret = "let-me-in"

// fakeEngine is an in-memory engine.Client for handler tests.
type fakeEngine struct {
	mu          sync.Mutex
	statuses    map[string]*domain.DownloadStatus
	infos       map[string]*domain.StreamingInfo
	prioritized []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		statuses: make(map[string]*domain.DownloadStatus),
		infos:    make(map[string]*domain.StreamingInfo),
	}
}

func (f *fakeEngine) setStatus(id string, status *domain.DownloadStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
}

func (f *fakeEngine) setInfo(id string, info *domain.StreamingInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos[id] = info
}

func (f *fakeEngine) Status(_ context.Context, id string) (*domain.DownloadStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.statuses[id]; ok {
		dup := *status
		return &dup, nil
	}
	return nil, domain.ErrDownloadNotFound
}

func (f *fakeEngine) StreamingInfo(_ context.Context, id string) (*domain.StreamingInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.infos[id]; ok {
		dup := *info
		return &dup, nil
	}
	if _, ok := f.statuses[id]; ok {
		return nil, domain.ErrStreamingNotReady
	}
	return nil, domain.ErrDownloadNotFound
}

func (f *fakeEngine) StreamURL(id, quality string) string {
	url := "/api/stream/" + id
	if quality != "" {
		url += "?quality=" + quality
	}
	return url
}

func (f *fakeEngine) PrioritizeStreaming(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prioritized = append(f.prioritized, id)
	return nil
}

func (f *fakeEngine) prioritizedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prioritized...)
}

var _ engine.Client = (*fakeEngine)(nil)

type testServer struct {
	router   *gin.Engine
	eng      *fakeEngine
	sessions *session.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	usersRepo := sqlite.NewUserRepository(db)
	require.NoError(t, usersRepo.Init(ctx))
	progressRepo := sqlite.NewWatchProgressRepository(db)
	require.NoError(t, progressRepo.Init(ctx))

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	users := service.NewUserService(usersRepo, testRegisterSecret)
	progress := service.NewProgressService(progressRepo, 0, 0)

	eng := newFakeEngine()
	sessions := session.NewManager(eng, progress, session.Options{}, time.Hour, log)
	sessions.Start(ctx)
	t.Cleanup(sessions.Shutdown)

	h := NewHandler(users, progress, eng, nil, sessions, "test-secret", time.Hour, log)
	router := gin.New()
	h.RegisterRoutes(router)

	return &testServer{router: router, eng: eng, sessions: sessions}
}

// closeNotifyRecorder adds the http.CloseNotifier method that gin's
// Context.Stream requires; httptest.ResponseRecorder does not implement it.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyRecorder) CloseNotify() <-chan bool { return r.closed }

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(&closeNotifyRecorder{ResponseRecorder: rec, closed: make(chan bool, 1)}, req)
	return rec
}

func (ts *testServer) register(t *testing.T, username string) (string, int64) {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"username":        username,
		"password":        "hunter2hunter2",
		"register_secret": testRegisterSecret,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Token string       `json:"token"`
		User  UserResponse `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	require.NotZero(t, resp.User.ID)
	return resp.Token, resp.User.ID
}

func (ts *testServer) createSession(t *testing.T, token, torrentID, movieID string) string {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/api/sessions", token, gin.H{
		"torrent_id": torrentID,
		"movie_id":   movieID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

// waitingStatus keeps the readiness gate below its progress threshold so
// session state changes only through the endpoints under test.
func waitingStatus(id string) *domain.DownloadStatus {
	return &domain.DownloadStatus{
		ID:       id,
		State:    domain.DownloadStateActive,
		Progress: 2,
		NumPeers: 3,
	}
}

func TestHealthRoute(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)

	token, uid := ts.register(t, "alice")
	assert.NotEmpty(t, token)
	assert.EqualValues(t, 1, uid)

	rec := ts.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"username": "alice",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Token string       `json:"token"`
		User  UserResponse `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "alice", resp.User.Username)

	rec = ts.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"username": "alice",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"username":        "bob",
		"password":        "short",
		"register_secret": testRegisterSecret,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"username":        "bob",
		"password":        "hunter2hunter2",
		"register_secret": "not-the-secret",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	ts.register(t, "bob")
	rec = ts.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"username":        "bob",
		"password":        "hunter2hunter2",
		"register_secret": testRegisterSecret,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.register(t, "alice")

	rec := ts.do(t, http.MethodGet, "/api/progress/recent", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/progress/recent", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// media and SSE endpoints pass the token as a query parameter
	rec = ts.do(t, http.MethodGet, "/api/progress/recent?token="+token, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/progress/recent", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMe(t *testing.T) {
	ts := newTestServer(t)
	token, uid := ts.register(t, "carol")

	rec := ts.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var user UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, uid, user.ID)
	assert.Equal(t, "carol", user.Username)
}

func TestProgressFlow(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.register(t, "alice")

	rec := ts.do(t, http.MethodPost, "/api/progress", token, gin.H{
		"movie_id":     "movie-1",
		"torrent_id":   "torrent-1",
		"current_time": 600.0,
		"duration":     3600.0,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var saved ProgressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.NotEmpty(t, saved.ID)
	assert.InDelta(t, 16.67, saved.Percentage, 0.01)
	assert.False(t, saved.Completed)

	// update in place through the id route
	rec = ts.do(t, http.MethodPut, "/api/progress/"+saved.ID, token, gin.H{
		"movie_id":     "movie-1",
		"current_time": 1800.0,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated ProgressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, saved.ID, updated.ID)
	assert.Equal(t, 1800.0, updated.CurrentTime)
	assert.InDelta(t, 50.0, updated.Percentage, 0.01)

	rec = ts.do(t, http.MethodGet, "/api/progress/movie/movie-1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/progress/torrent/torrent-1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/progress", token, gin.H{
		"movie_id":     "movie-2",
		"current_time": 90.0,
		"duration":     5400.0,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/progress/recent", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var recent []ProgressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recent))
	assert.Len(t, recent, 2)

	rec = ts.do(t, http.MethodDelete, "/api/progress/"+saved.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/progress/movie/movie-1", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressEndedMarksCompleted(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.register(t, "alice")

	rec := ts.do(t, http.MethodPost, "/api/progress", token, gin.H{
		"movie_id":     "movie-1",
		"current_time": 3590.0,
		"duration":     3600.0,
		"ended":        true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var saved ProgressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.True(t, saved.Completed)
	assert.Equal(t, 100.0, saved.Percentage)
	assert.Equal(t, 3600.0, saved.CurrentTime)
}

func TestProgressValidation(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.register(t, "alice")

	rec := ts.do(t, http.MethodPost, "/api/progress", token, gin.H{
		"current_time": 10.0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/progress/recent?limit=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/progress/nope", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadStatusWireShape(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.register(t, "alice")

	eta := int64(120)
	ts.eng.setStatus("tor-1", &domain.DownloadStatus{
		ID:           "tor-1",
		State:        domain.DownloadStateActive,
		Progress:     41.5,
		DownloadRate: 2 << 20,
		NumPeers:     7,
		ETASeconds:   &eta,
	})

	rec := ts.do(t, http.MethodGet, "/api/downloads/tor-1/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// engine.RemoteClient decodes these exact keys when chained to a remote
	// coordinator, so the names are part of the wire contract
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	for _, key := range []string{"id", "state", "progress", "download_rate", "num_peers", "eta"} {
		assert.Contains(t, payload, key)
	}
	assert.Equal(t, "downloading", payload["state"])
	assert.Equal(t, 41.5, payload["progress"])

	rec = ts.do(t, http.MethodGet, "/api/downloads/unknown/status", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamingInfoRoute(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.register(t, "alice")

	ts.eng.setStatus("tor-1", waitingStatus("tor-1"))

	rec := ts.do(t, http.MethodGet, "/api/downloads/tor-1/streaming-info", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.eng.setInfo("tor-1", &domain.StreamingInfo{
		State:    domain.DownloadStateActive,
		Progress: 41.5,
		VideoFile: &domain.VideoFile{
			Name:       "movie.mkv",
			Size:       1 << 30,
			Downloaded: 1 << 29,
			Progress:   50,
			MimeType:   "video/x-matroska",
		},
	})

	rec = ts.do(t, http.MethodGet, "/api/downloads/tor-1/streaming-info", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp StreamingInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.VideoFile)
	assert.Equal(t, "movie.mkv", resp.VideoFile.Name)
	assert.Equal(t, "video/x-matroska", resp.VideoFile.MimeType)
}

func TestEmbeddedOnlyGuard(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.register(t, "alice")

	// the test server runs without an embedded engine, as in remote mode
	rec := ts.do(t, http.MethodPost, "/api/downloads", token, gin.H{"magnet": "magnet:?xt=urn:btih:x"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/downloads/tor-1/pause", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/stream/tor-1?token="+token, "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.register(t, "alice")
	ts.eng.setStatus("tor-1", waitingStatus("tor-1"))

	rec := ts.do(t, http.MethodPost, "/api/sessions", token, gin.H{
		"torrent_id": "tor-1",
		"movie_id":   "movie-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "tor-1", created.TorrentID)
	assert.Equal(t, "movie-1", created.MovieID)

	rec = ts.do(t, http.MethodPost, "/api/sessions/"+created.ID+"/events", token, gin.H{
		"type":     "timeupdate",
		"time":     42.5,
		"duration": 3600.0,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/sessions/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 42.5, snap.Position)
	require.NotNil(t, snap.Duration)
	assert.Equal(t, 3600.0, *snap.Duration)

	rec = ts.do(t, http.MethodDelete, "/api/sessions/"+created.ID, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/sessions/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionValidation(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.register(t, "alice")

	rec := ts.do(t, http.MethodPost, "/api/sessions", token, gin.H{"torrent_id": "tor-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/sessions/nope", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.eng.setStatus("tor-1", waitingStatus("tor-1"))
	id := ts.createSession(t, token, "tor-1", "movie-1")

	rec = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/events", token, gin.H{"time": 10.0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// sessions are private to their creator
	otherToken, _ := ts.register(t, "mallory")
	rec = ts.do(t, http.MethodGet, "/api/sessions/"+id, otherToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionControl(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.register(t, "alice")
	ts.eng.setStatus("tor-1", waitingStatus("tor-1"))
	id := ts.createSession(t, token, "tor-1", "movie-1")

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/control", token, gin.H{"action": "play"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/control", token, gin.H{"action": "seek"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/control", token, gin.H{"action": "seek", "value": 120.0})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/control", token, gin.H{"action": "set_muted", "value": 1.0})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/control", token, gin.H{"action": "rewind"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveResumeValidation(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.register(t, "alice")
	ts.eng.setStatus("tor-1", waitingStatus("tor-1"))
	id := ts.createSession(t, token, "tor-1", "movie-1")

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/resume", token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// no prompt pending, resolving is a no-op that still returns the snapshot
	rec = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/resume", token, gin.H{"accept": false})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestForceReadyAndRetryInfo(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.register(t, "alice")
	ts.eng.setStatus("tor-1", waitingStatus("tor-1"))
	id := ts.createSession(t, token, "tor-1", "movie-1")

	rec := ts.do(t, http.MethodPost, "/api/sessions/"+id+"/force-ready", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var snap SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "forced_ready", snap.Gate.State)

	// the readiness grant kicks off sequential-download prioritization
	assert.Eventually(t, func() bool {
		ids := ts.eng.prioritizedIDs()
		return len(ids) == 1 && ids[0] == "tor-1"
	}, time.Second, 10*time.Millisecond)

	rec = ts.do(t, http.MethodPost, "/api/sessions/"+id+"/retry-info", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionCommandStream(t *testing.T) {
	ts := newTestServer(t)
	token, uid := ts.register(t, "alice")
	ts.eng.setStatus("tor-1", waitingStatus("tor-1"))
	id := ts.createSession(t, token, "tor-1", "movie-1")

	sess, err := ts.sessions.Get(id, uid)
	require.NoError(t, err)

	sess.Send(playback.Command{Action: playback.ActionPlay})

	// closing the session ends the stream; the buffered command is still
	// delivered first
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = ts.sessions.Remove(id, uid)
	}()

	rec := ts.do(t, http.MethodGet, "/api/sessions/"+id+"/commands?token="+token, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "event:command")
	assert.Contains(t, body, `"action":"play"`)
}

func TestSessionCommandStreamBusy(t *testing.T) {
	ts := newTestServer(t)
	token, uid := ts.register(t, "alice")
	ts.eng.setStatus("tor-1", waitingStatus("tor-1"))
	id := ts.createSession(t, token, "tor-1", "movie-1")

	sess, err := ts.sessions.Get(id, uid)
	require.NoError(t, err)

	_, release, err := sess.AcquireCommands()
	require.NoError(t, err)
	defer release()

	rec := ts.do(t, http.MethodGet, "/api/sessions/"+id+"/commands", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
