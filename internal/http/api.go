// Package http wires the REST and SSE surface to the domain services: auth,
// watch progress, the download engine, and live playback sessions.
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"streamwatch/internal/domain"
	"streamwatch/internal/downloader"
	"streamwatch/internal/engine"
	"streamwatch/internal/service"
	"streamwatch/internal/session"
)

// Handler wires HTTP routes to domain services. engine is nil when this
// instance coordinates against a remote engine; the download admin and local
// stream routes then answer 503.
type Handler struct {
	users     service.UserService
	progress  service.ProgressService
	client    engine.Client
	engine    *downloader.Engine
	sessions  *session.Manager
	jwtSecret []byte
	tokenTTL  time.Duration
	log       *logrus.Logger
}

func NewHandler(
	users service.UserService,
	progress service.ProgressService,
	client engine.Client,
	eng *downloader.Engine,
	sessions *session.Manager,
	jwtSecret string,
	tokenTTL time.Duration,
	log *logrus.Logger,
) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{
		users:     users,
		progress:  progress,
		client:    client,
		engine:    eng,
		sessions:  sessions,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		log:       log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/auth/register", h.register)
		api.POST("/auth/login", h.login)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusAccepted, gin.H{"ok": "ok"})
		})
	}

	authed := api.Group("")
	authed.Use(h.authRequired())
	{
		authed.GET("/auth/me", h.me)

		authed.GET("/progress/recent", h.recentProgress)
		authed.GET("/progress/movie/:movieId", h.progressByMovie)
		authed.GET("/progress/torrent/:torrentId", h.progressByTorrent)
		authed.POST("/progress", h.saveProgress)
		authed.PUT("/progress/:id", h.updateProgress)
		authed.DELETE("/progress/:id", h.deleteProgress)

		authed.POST("/downloads", h.addDownload)
		authed.GET("/downloads", h.listDownloads)
		authed.GET("/downloads/:id/status", h.downloadStatus)
		authed.GET("/downloads/:id/streaming-info", h.streamingInfo)
		authed.POST("/downloads/:id/prioritize", h.prioritizeDownload)
		authed.POST("/downloads/:id/pause", h.pauseDownload)
		authed.POST("/downloads/:id/resume", h.resumeDownload)
		authed.DELETE("/downloads/:id", h.deleteDownload)

		authed.GET("/stream/:id", h.streamVideo)

		authed.POST("/sessions", h.createSession)
		authed.GET("/sessions/:id", h.getSession)
		authed.DELETE("/sessions/:id", h.deleteSession)
		authed.POST("/sessions/:id/events", h.sessionEvents)
		authed.GET("/sessions/:id/commands", h.sessionCommands)
		authed.POST("/sessions/:id/force-ready", h.forceReady)
		authed.POST("/sessions/:id/resume", h.resolveResume)
		authed.POST("/sessions/:id/retry-info", h.retryInfo)
		authed.POST("/sessions/:id/control", h.controlSession)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// respondError maps domain sentinels to status codes. Not-found flavors stay
// 404 so a remote coordinator chained onto this instance maps them back to
// the same sentinels.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrDownloadNotFound),
		errors.Is(err, domain.ErrProgressNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrStreamingNotReady):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrInvalidRegistrationPassword):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrUserExists):
		status = http.StatusConflict
	case errors.Is(err, session.ErrCommandStreamBusy):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.log.WithField("path", c.FullPath()).Warnf("request failed: %v", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) embeddedOnly(c *gin.Context) bool {
	if h.engine != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "embedded engine not configured"})
	return false
}
