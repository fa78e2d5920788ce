package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"project_wainbox/internal/entities"
	"project_wainbox/internal/usecases"
)

func (h *Handler) ListConnections(c *gin.Context) {
	conns, err := h.Connections.List(c.Request.Context(), tenantID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if conns == nil {
		conns = []entities.Connection{}
	}
	c.JSON(http.StatusOK, conns)
}

func (h *Handler) CreateConnection(c *gin.Context) {
	var req usecases.CreateConnectionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	req.InstanceName = strings.TrimSpace(req.InstanceName)
	if !ValidInstanceName(req.InstanceName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid instance name"})
		return
	}

	conn, err := h.Connections.Create(c.Request.Context(), tenantID(c), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conn)
}

func (h *Handler) DeleteConnection(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return
	}
	if err := h.Connections.Delete(c.Request.Context(), tenantID(c), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ConnectionQRCode starts pairing and returns the QR code as PNG
func (h *Handler) ConnectionQRCode(c *gin.Context) {
	conn, ok := h.ownedConnection(c)
	if !ok {
		return
	}
	if conn.Status == entities.ConnectionConnected {
		c.JSON(http.StatusOK, gin.H{"status": "connected"})
		return
	}

	code, err := h.Connections.PairingCode(c.Request.Context(), conn)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if code == "" {
		c.JSON(http.StatusAccepted, gin.H{"status": "QR code not yet available"})
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate QR code"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) RefreshConnection(c *gin.Context) {
	conn, ok := h.ownedConnection(c)
	if !ok {
		return
	}
	status, err := h.Connections.Refresh(c.Request.Context(), conn)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": conn.ID, "status": status})
}

func (h *Handler) ownedConnection(c *gin.Context) (*entities.Connection, bool) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return nil, false
	}
	conn, err := h.Connections.Get(c.Request.Context(), tenantID(c), id)
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return conn, true
}
