package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"streamwatch/internal/domain"
	"streamwatch/internal/service"
)

type ProgressResponse struct {
	ID            string   `json:"id"`
	MovieID       string   `json:"movie_id"`
	TorrentID     string   `json:"torrent_id,omitempty"`
	CurrentTime   float64  `json:"current_time"`
	Duration      *float64 `json:"duration,omitempty"`
	Percentage    float64  `json:"percentage"`
	Completed     bool     `json:"completed"`
	LastWatchedAt string   `json:"last_watched_at"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

func progressToResponse(p domain.WatchProgress) ProgressResponse {
	return ProgressResponse{
		ID:            p.ID,
		MovieID:       p.MovieID,
		TorrentID:     p.TorrentID,
		CurrentTime:   p.CurrentTime,
		Duration:      p.Duration,
		Percentage:    p.Percentage,
		Completed:     p.Completed,
		LastWatchedAt: p.LastWatchedAt.Format(time.RFC3339),
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     p.UpdatedAt.Format(time.RFC3339),
	}
}

// saveProgressRequest is one position sample. Percentage and completion are
// recomputed server side, never read from the request.
type saveProgressRequest struct {
	MovieID     string   `json:"movie_id" binding:"required"`
	TorrentID   string   `json:"torrent_id"`
	CurrentTime float64  `json:"current_time"`
	Duration    *float64 `json:"duration"`
	Ended       bool     `json:"ended"`
}

func (h *Handler) saveProgress(c *gin.Context) {
	h.recordProgress(c, "")
}

func (h *Handler) updateProgress(c *gin.Context) {
	h.recordProgress(c, c.Param("id"))
}

func (h *Handler) recordProgress(c *gin.Context, progressID string) {
	var req saveProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stored, err := h.progress.Record(c.Request.Context(), userID(c), progressID, service.ProgressSample{
		MovieID:     req.MovieID,
		TorrentID:   req.TorrentID,
		CurrentTime: req.CurrentTime,
		Duration:    req.Duration,
		Ended:       req.Ended,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progressToResponse(*stored))
}

func (h *Handler) progressByMovie(c *gin.Context) {
	p, err := h.progress.GetByMovie(c.Request.Context(), userID(c), c.Param("movieId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progressToResponse(*p))
}

func (h *Handler) progressByTorrent(c *gin.Context) {
	p, err := h.progress.GetByTorrent(c.Request.Context(), userID(c), c.Param("torrentId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progressToResponse(*p))
}

func (h *Handler) recentProgress(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	items, err := h.progress.Recent(c.Request.Context(), userID(c), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := make([]ProgressResponse, len(items))
	for i := range items {
		resp[i] = progressToResponse(items[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) deleteProgress(c *gin.Context) {
	id := c.Param("id")
	if err := h.progress.Delete(c.Request.Context(), userID(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
