package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"streamwatch/internal/domain"
)

type DownloadResponse struct {
	ID              string  `json:"id"`
	Magnet          string  `json:"magnet"`
	Name            string  `json:"name"`
	Paused          bool    `json:"paused"`
	AddedAt         string  `json:"added_at"`
	UpdatedAt       string  `json:"updated_at"`
	ArchivedAt      *string `json:"archived_at,omitempty"`
	ArchiveLocation string  `json:"archive_location,omitempty"`
}

// DownloadStatusResponse and StreamingInfoResponse are the engine wire
// shapes; engine.RemoteClient decodes exactly these fields.
type DownloadStatusResponse struct {
	ID           string  `json:"id"`
	State        string  `json:"state"`
	Progress     float64 `json:"progress"`
	DownloadRate int64   `json:"download_rate"`
	NumPeers     int     `json:"num_peers"`
	ETASeconds   *int64  `json:"eta,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

type VideoFileResponse struct {
	Name       string  `json:"name"`
	Size       int64   `json:"size"`
	Downloaded int64   `json:"downloaded"`
	Progress   float64 `json:"progress"`
	MimeType   string  `json:"mime_type"`
}

type StreamingInfoResponse struct {
	State     string             `json:"state"`
	Progress  float64            `json:"progress"`
	VideoFile *VideoFileResponse `json:"video_file,omitempty"`
}

func downloadToResponse(d domain.Download) DownloadResponse {
	resp := DownloadResponse{
		ID:              d.ID,
		Magnet:          d.MagnetURI,
		Name:            d.Name,
		Paused:          d.Paused,
		AddedAt:         d.AddedAt.Format(time.RFC3339),
		UpdatedAt:       d.UpdatedAt.Format(time.RFC3339),
		ArchiveLocation: d.ArchiveLocation,
	}
	if d.ArchivedAt != nil {
		v := d.ArchivedAt.Format(time.RFC3339)
		resp.ArchivedAt = &v
	}
	return resp
}

func statusToResponse(status *domain.DownloadStatus) DownloadStatusResponse {
	return DownloadStatusResponse{
		ID:           status.ID,
		State:        string(status.State),
		Progress:     status.Progress,
		DownloadRate: status.DownloadRate,
		NumPeers:     status.NumPeers,
		ETASeconds:   status.ETASeconds,
		ErrorMessage: status.ErrorMessage,
	}
}

func streamingInfoToResponse(info *domain.StreamingInfo) StreamingInfoResponse {
	resp := StreamingInfoResponse{
		State:    string(info.State),
		Progress: info.Progress,
	}
	if info.VideoFile != nil {
		resp.VideoFile = &VideoFileResponse{
			Name:       info.VideoFile.Name,
			Size:       info.VideoFile.Size,
			Downloaded: info.VideoFile.Downloaded,
			Progress:   info.VideoFile.Progress,
			MimeType:   info.VideoFile.MimeType,
		}
	}
	return resp
}

type addDownloadRequest struct {
	Magnet string `json:"magnet" binding:"required"`
}

func (h *Handler) addDownload(c *gin.Context) {
	if !h.embeddedOnly(c) {
		return
	}

	var req addDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := h.engine.Add(c.Request.Context(), req.Magnet)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, downloadToResponse(*d))
}

func (h *Handler) listDownloads(c *gin.Context) {
	if !h.embeddedOnly(c) {
		return
	}

	downloads, err := h.engine.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := make([]DownloadResponse, len(downloads))
	for i := range downloads {
		resp[i] = downloadToResponse(downloads[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) downloadStatus(c *gin.Context) {
	status, err := h.client.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusToResponse(status))
}

func (h *Handler) streamingInfo(c *gin.Context) {
	info, err := h.client.StreamingInfo(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, streamingInfoToResponse(info))
}

func (h *Handler) prioritizeDownload(c *gin.Context) {
	if err := h.client.PrioritizeStreaming(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prioritized": c.Param("id")})
}

func (h *Handler) pauseDownload(c *gin.Context) {
	if !h.embeddedOnly(c) {
		return
	}
	if err := h.engine.Pause(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": c.Param("id")})
}

func (h *Handler) resumeDownload(c *gin.Context) {
	if !h.embeddedOnly(c) {
		return
	}
	if err := h.engine.Resume(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resumed": c.Param("id")})
}

func (h *Handler) deleteDownload(c *gin.Context) {
	if !h.embeddedOnly(c) {
		return
	}

	deleteArchive, err := strconv.ParseBool(c.DefaultQuery("delete_archive", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag delete_archive"})
		return
	}

	id := c.Param("id")
	if err := h.engine.Remove(c.Request.Context(), id, deleteArchive); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// streamVideo serves the primary video file. Live downloads range-stream from
// the torrent; archived ones redirect to a presigned object URL.
func (h *Handler) streamVideo(c *gin.Context) {
	if !h.embeddedOnly(c) {
		return
	}

	id := c.Param("id")
	quality := c.Query("quality")

	archiveURL, err := h.engine.ArchiveStreamURL(c.Request.Context(), id, quality)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if archiveURL != "" {
		c.Redirect(http.StatusFound, archiveURL)
		return
	}

	stream, err := h.engine.OpenVideo(c.Request.Context(), id, quality)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer stream.Reader.Close()

	c.Header("Content-Type", stream.MimeType)
	http.ServeContent(c.Writer, c.Request, stream.Name, time.Time{}, stream.Reader)
}
