package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"groupchat-service/internal/chat"
	"groupchat-service/internal/models"
	"groupchat-service/internal/telemetry"
)

// MessageHandler posts messages into groups over REST; the websocket
// SEND_MESSAGE event goes through the same service.
type MessageHandler struct {
	service *chat.Service
	audit   *telemetry.AuditEmitter
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(service *chat.Service, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{service: service, audit: audit}
}

// PostGroupMessage persists, broadcasts and (asynchronously) AI-evaluates a
// group message.
func (h *MessageHandler) PostGroupMessage(c *gin.Context) {
	groupID, err := strconv.Atoi(c.Param("group_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}

	var req struct {
		Content   string `json:"content" binding:"required"`
		ReplyToID *int   `json:"reply_to_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sender := models.User{ID: c.GetInt("userID"), Username: c.GetString("username")}
	msg, err := h.service.SendUserMessage(c.Request.Context(), groupID, sender, req.Content, req.ReplyToID)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrNotMember):
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return
	case errors.Is(err, chat.ErrEmptyContent), errors.Is(err, chat.ErrInvalidReply):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	default:
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	h.emitAudit(c, "INFO", "Group message sent")
	c.JSON(http.StatusCreated, msg)
}

func (h *MessageHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
