package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"project_wainbox/internal/infrastructure"
	"project_wainbox/internal/interfaces"
	"project_wainbox/internal/usecases"
)

// Services groups what the HTTP layer calls into
type Services struct {
	Ingestion   *usecases.IngestionService
	Connections *usecases.ConnectionService
	Inbox       *usecases.InboxService
	Outbound    *usecases.OutboundService
	Storage     interfaces.BlobStorage
	Diagnostics *infrastructure.WebhookDiagnostics
}

type Handler struct {
	Services
	log *slog.Logger
}

func NewHandler(svc Services, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Services: svc, log: log.With(slog.String("service", "http"))}
}

func SetupRoutes(r *gin.Engine, svc Services, middleware *Middleware, log *slog.Logger) {
	h := NewHandler(svc, log)

	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(10 << 20))
	r.Use(middleware.CORSMiddleware())

	// Public routes
	r.GET("/healthz", h.Health)
	r.GET("/media/:name", h.ServeMedia)

	webhook := r.Group("/webhook")
	webhook.Use(middleware.WebhookAuth())
	{
		webhook.POST("", h.HandleWebhook)
		webhook.POST("/:event", h.HandleWebhook)
	}

	// Operator API
	api := r.Group("/api")
	api.Use(middleware.AuthRequired())
	api.Use(middleware.RateLimitPerTenant(10, 20))
	{
		api.GET("/connections", h.ListConnections)
		api.POST("/connections", h.CreateConnection)
		api.DELETE("/connections/:id", h.DeleteConnection)
		api.GET("/connections/:id/qr", h.ConnectionQRCode)
		api.POST("/connections/:id/refresh", h.RefreshConnection)
		api.GET("/connections/:id/conversations", h.ListConversations)

		api.GET("/conversations/:id/messages", h.ListMessages)
		api.POST("/conversations/:id/messages", h.SendMessage)
		api.POST("/conversations/:id/read", h.MarkRead)
		api.GET("/conversations/:id/presence", h.Presence)

		api.GET("/diagnostics/webhooks", h.WebhookDiagnostics)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleWebhook acknowledges every well-formed delivery. Processing errors
// are recorded in diagnostics; answering non-2xx would make the gateway
// retry the same event forever.
func (h *Handler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}
	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	// The gateway may hang up early; the delivery is processed to the end anyway
	ctx := context.WithoutCancel(c.Request.Context())
	res := h.Ingestion.HandleWebhook(ctx, body, c.Param("event"))

	if h.Diagnostics != nil {
		rec := infrastructure.WebhookRecord{
			At:         time.Now().UTC(),
			Event:      res.Event,
			Instance:   res.Instance,
			Processed:  res.Processed,
			Ignored:    res.Ignored,
			Duplicates: res.Duplicates,
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		h.Diagnostics.Record(rec)
	}
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

func (h *Handler) ServeMedia(c *gin.Context) {
	name := c.Param("name")
	if !ValidBlobName(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	rc, err := h.Storage.Open(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Cache-Control", "private, max-age=86400")
	c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}

func (h *Handler) WebhookDiagnostics(c *gin.Context) {
	if h.Diagnostics == nil {
		c.JSON(http.StatusOK, gin.H{"total": 0, "recent": []infrastructure.WebhookRecord{}})
		return
	}
	recent, total := h.Diagnostics.Snapshot()
	c.JSON(http.StatusOK, gin.H{"total": total, "recent": recent})
}

// writeError maps usecase errors onto HTTP answers
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecases.ErrConnectionNotFound), errors.Is(err, usecases.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, usecases.ErrInstanceTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, usecases.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, usecases.ErrSendThrottled):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, infrastructure.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Gateway unavailable"})
	default:
		h.log.Error("request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
