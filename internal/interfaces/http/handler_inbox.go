package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"project_wainbox/internal/entities"
)

func (h *Handler) ListConversations(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	convs, err := h.Inbox.ListConversations(c.Request.Context(), tenantID(c), id, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if convs == nil {
		convs = []entities.Conversation{}
	}
	c.JSON(http.StatusOK, convs)
}

func (h *Handler) ListMessages(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	before, _ := strconv.ParseInt(c.Query("before"), 10, 64)

	msgs, err := h.Inbox.ListMessages(c.Request.Context(), tenantID(c), id, limit, before)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []entities.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) SendMessage(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return
	}
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	text := SanitizeString(req.Text)
	if len(text) > MaxMessageLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message too long"})
		return
	}

	conv, conn, err := h.Inbox.GetConversation(c.Request.Context(), tenantID(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	msg, err := h.Outbound.SendText(c.Request.Context(), conn, conv, text)
	if err != nil {
		if msg != nil {
			// Stored but not delivered; the row carries the failed status
			c.JSON(http.StatusBadGateway, gin.H{"error": "Gateway unavailable", "message": msg})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) MarkRead(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return
	}
	if err := h.Inbox.MarkRead(c.Request.Context(), tenantID(c), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

func (h *Handler) Presence(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return
	}
	typing, err := h.Inbox.Typing(c.Request.Context(), tenantID(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id, "is_typing": typing})
}
