package http

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"streamwatch/internal/domain"
	"streamwatch/internal/gate"
	"streamwatch/internal/playback"
	"streamwatch/internal/session"
)

type GateResponse struct {
	State         string                  `json:"state"`
	Status        *DownloadStatusResponse `json:"status,omitempty"`
	StreamingInfo *StreamingInfoResponse  `json:"streaming_info,omitempty"`
	Error         string                  `json:"error,omitempty"`
	UpdatedAt     string                  `json:"updated_at"`
}

type ResumePromptResponse struct {
	Position   float64 `json:"position"`
	Percentage float64 `json:"percentage"`
	OfferedAt  string  `json:"offered_at"`
}

type PlaybackErrorResponse struct {
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

type SessionResponse struct {
	ID              string                 `json:"id"`
	TorrentID       string                 `json:"torrent_id"`
	MovieID         string                 `json:"movie_id"`
	State           string                 `json:"state"`
	Gate            GateResponse           `json:"gate"`
	Resume          *ResumePromptResponse  `json:"resume,omitempty"`
	AutoplayBlocked bool                   `json:"autoplay_blocked"`
	StreamURL       string                 `json:"stream_url,omitempty"`
	Position        float64                `json:"position"`
	Duration        *float64               `json:"duration,omitempty"`
	Buffered        float64                `json:"buffered"`
	FatalError      *PlaybackErrorResponse `json:"fatal_error,omitempty"`
	CreatedAt       string                 `json:"created_at"`
	LastEventAt     string                 `json:"last_event_at"`
}

func gateToResponse(g gate.Snapshot) GateResponse {
	resp := GateResponse{
		State:     string(g.State),
		UpdatedAt: g.UpdatedAt.Format(time.RFC3339),
	}
	if g.Status != nil {
		v := statusToResponse(g.Status)
		resp.Status = &v
	}
	if g.Info != nil {
		v := streamingInfoToResponse(g.Info)
		resp.StreamingInfo = &v
	}
	if g.Err != nil {
		resp.Error = g.Err.Error()
	}
	return resp
}

func playbackErrorToResponse(perr *domain.PlaybackError) *PlaybackErrorResponse {
	if perr == nil {
		return nil
	}
	return &PlaybackErrorResponse{
		Kind:        string(perr.Kind),
		Message:     perr.Message,
		Recoverable: perr.Recoverable,
	}
}

func snapshotToResponse(snap session.Snapshot) SessionResponse {
	resp := SessionResponse{
		ID:              snap.ID,
		TorrentID:       snap.TorrentID,
		MovieID:         snap.MovieID,
		State:           string(snap.State),
		Gate:            gateToResponse(snap.Gate),
		AutoplayBlocked: snap.AutoplayBlocked,
		StreamURL:       snap.StreamURL,
		Position:        snap.Position,
		Duration:        snap.Duration,
		Buffered:        snap.Buffered,
		FatalError:      playbackErrorToResponse(snap.FatalError),
		CreatedAt:       snap.CreatedAt.Format(time.RFC3339),
		LastEventAt:     snap.LastEventAt.Format(time.RFC3339),
	}
	if snap.Resume != nil {
		resp.Resume = &ResumePromptResponse{
			Position:   snap.Resume.Position,
			Percentage: snap.Resume.Percentage,
			OfferedAt:  snap.Resume.OfferedAt.Format(time.RFC3339),
		}
	}
	return resp
}

type createSessionRequest struct {
	TorrentID string `json:"torrent_id" binding:"required"`
	MovieID   string `json:"movie_id" binding:"required"`
	Quality   string `json:"quality"`
	Autoplay  bool   `json:"autoplay"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.sessions.Create(userID(c), session.CreateRequest{
		TorrentID: req.TorrentID,
		MovieID:   req.MovieID,
		Quality:   req.Quality,
		Autoplay:  req.Autoplay,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snapshotToResponse(sess.Snapshot()))
}

// session resolves the :id route param to a live session owned by the caller.
func (h *Handler) session(c *gin.Context) (*session.Session, bool) {
	sess, err := h.sessions.Get(c.Param("id"), userID(c))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return sess, true
}

func (h *Handler) getSession(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snapshotToResponse(sess.Snapshot()))
}

func (h *Handler) deleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.Remove(id, userID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *Handler) sessionEvents(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var ev playback.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if ev.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event type is required"})
		return
	}

	sess.HandleEvent(ev)
	c.Status(http.StatusNoContent)
}

// sessionCommands streams player commands over SSE. One consumer per session;
// a second subscriber gets 409 until the first disconnects.
func (h *Handler) sessionCommands(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	commands, release, err := sess.AcquireCommands()
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer release()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case cmd, open := <-commands:
			if !open {
				return false
			}
			c.SSEvent("command", cmd)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *Handler) forceReady(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := sess.ForceReady(); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshotToResponse(sess.Snapshot()))
}

type resolveResumeRequest struct {
	Accept *bool `json:"accept" binding:"required"`
}

func (h *Handler) resolveResume(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req resolveResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess.ResolveResume(*req.Accept)
	c.JSON(http.StatusOK, snapshotToResponse(sess.Snapshot()))
}

func (h *Handler) retryInfo(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	sess.RetryInfo()
	c.JSON(http.StatusOK, snapshotToResponse(sess.Snapshot()))
}

// controlRequest carries one player control action. value is the number the
// action needs: seconds for seek, level for set_volume, rate for set_rate,
// and 0/1 for set_muted.
type controlRequest struct {
	Action string   `json:"action" binding:"required"`
	Value  *float64 `json:"value"`
}

func (h *Handler) controlSession(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctrl := sess.Controller()
	switch playback.Action(req.Action) {
	case playback.ActionPlay:
		ctrl.Play()
	case playback.ActionPause:
		ctrl.Pause()
	case playback.ActionSeek:
		if req.Value == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "seek requires a value"})
			return
		}
		ctrl.Seek(*req.Value)
	case playback.ActionSetVolume:
		if req.Value == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "set_volume requires a value"})
			return
		}
		ctrl.SetVolume(*req.Value)
	case playback.ActionSetMuted:
		ctrl.SetMuted(req.Value != nil && *req.Value != 0)
	case playback.ActionSetRate:
		if req.Value == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "set_rate requires a value"})
			return
		}
		ctrl.SetPlaybackRate(*req.Value)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action " + req.Action})
		return
	}

	c.JSON(http.StatusOK, snapshotToResponse(sess.Snapshot()))
}
