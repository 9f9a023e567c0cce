package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"groupchat-service/internal/auth"
	"groupchat-service/internal/chat"
	"groupchat-service/internal/models"
	"groupchat-service/internal/observability"
	"groupchat-service/internal/repositories"
)

const handshakeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	HandshakeTimeout: handshakeTimeout,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// Handler owns the websocket endpoint: it authenticates the connection,
// registers it with the hub and runs the inbound event loop.
type Handler struct {
	hub     *Hub
	service *chat.Service
	groups  repositories.GroupRepository
	tokens  *auth.TokenManager
}

// NewHandler constructs a websocket Handler.
func NewHandler(hub *Hub, service *chat.Service, groups repositories.GroupRepository, tokens *auth.TokenManager) *Handler {
	return &Handler{hub: hub, service: service, groups: groups, tokens: tokens}
}

// Handle upgrades the connection, installs the handle in the hub and starts
// the read loop.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("groupchat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token != "" {
		// strip the bearer prefix if present
		if len(token) > 7 && (token[:7] == "Bearer " || token[:7] == "bearer ") {
			token = token[7:]
		}
	} else {
		token = c.Query("token")
	}

	claims, err := h.tokens.Validate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	sender := NewConnSender(conn)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      claims.UserID,
		Username:    claims.Username,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.Connect(claims.UserID, sender)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(ctx, "ws_events.connect", lifecycleEnvelope("ws_connect", info, ""))

	user := models.User{ID: claims.UserID, Username: claims.Username}

	// The request context dies when this handler returns; the read loop
	// outlives it, so keep the trace and values but drop the cancellation.
	go h.readLoop(context.WithoutCancel(ctx), conn, sender, user, info)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sender Sender, user models.User, info ConnInfo) {
	var closeReason string
	defer func() {
		h.hub.DisconnectHandle(user.ID, sender)
		conn.Close()
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		_ = observability.PublishEvent(ctx, "ws_events.disconnect", lifecycleEnvelope("ws_disconnect", info, closeReason))
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				_ = observability.PublishEvent(ctx, "ws_events.error", lifecycleEnvelope("ws_error", info, closeReason))
			}
			return
		}

		var event models.InboundEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			h.sendError(sender, "malformed event")
			continue
		}
		h.dispatch(ctx, sender, user, event)
	}
}

func (h *Handler) dispatch(ctx context.Context, sender Sender, user models.User, event models.InboundEvent) {
	switch event.Type {
	case models.EventSendMessage:
		h.handleSend(ctx, sender, user, event)
	case models.EventWatchGroup:
		h.handleWatch(ctx, sender, user, event)
	case models.EventUnwatchGroup:
		if event.GroupID == 0 {
			h.sendError(sender, "missing group_id")
			return
		}
		h.hub.Unwatch(user.ID, event.GroupID)
		h.sendEvent(sender, models.OutboundEvent{Type: models.EventUnwatched, GroupID: event.GroupID})
	case models.EventPing:
		h.sendEvent(sender, models.OutboundEvent{Type: models.EventPong})
	default:
		h.sendError(sender, "unknown event type: "+event.Type)
	}
	observability.IncWSEvent("inbound_" + event.Type)
}

func (h *Handler) handleSend(ctx context.Context, sender Sender, user models.User, event models.InboundEvent) {
	if event.GroupID == 0 || event.Content == "" {
		h.sendError(sender, "missing group_id or content")
		return
	}

	_, err := h.service.SendUserMessage(ctx, event.GroupID, user, event.Content, event.ReplyToID)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrNotMember):
		h.sendError(sender, "not a member of this group")
	case errors.Is(err, chat.ErrEmptyContent):
		h.sendError(sender, "message content is empty")
	case errors.Is(err, chat.ErrInvalidReply):
		h.sendError(sender, "invalid reply target")
	default:
		log.Printf("ws send message: %v", err)
		h.sendError(sender, "could not send message")
	}
}

func (h *Handler) handleWatch(ctx context.Context, sender Sender, user models.User, event models.InboundEvent) {
	if event.GroupID == 0 {
		h.sendError(sender, "missing group_id")
		return
	}

	member, err := h.groups.IsMember(ctx, event.GroupID, user.ID)
	if err != nil {
		log.Printf("ws watch membership check: %v", err)
		h.sendError(sender, "could not verify membership")
		return
	}
	if !member {
		h.sendError(sender, "not a member of this group")
		return
	}

	h.hub.Watch(user.ID, event.GroupID)
	h.sendEvent(sender, models.OutboundEvent{Type: models.EventWatched, GroupID: event.GroupID})
}

func (h *Handler) sendError(sender Sender, reason string) {
	h.sendEvent(sender, models.OutboundEvent{Type: models.EventError, Reason: reason})
}

func (h *Handler) sendEvent(sender Sender, event models.OutboundEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws event marshal error: %v", err)
		return
	}
	if err := sender.Send(payload); err != nil {
		log.Printf("ws event write error: %v", err)
	}
}

func lifecycleEnvelope(name string, info ConnInfo, reason string) observability.EventEnvelope {
	return observability.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       name,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"username":  info.Username,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}
}
