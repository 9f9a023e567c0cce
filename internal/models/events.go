package models

// Inbound websocket event types.
const (
	EventSendMessage  = "SEND_MESSAGE"
	EventWatchGroup   = "WATCH_GROUP"
	EventUnwatchGroup = "UNWATCH_GROUP"
	EventPing         = "PING"
)

// Outbound websocket event types.
const (
	EventNewMessage = "NEW_MESSAGE"
	EventWatched    = "WATCHED"
	EventUnwatched  = "UNWATCHED"
	EventPong       = "PONG"
	EventError      = "ERROR"
)

// InboundEvent is a client-to-server websocket frame.
type InboundEvent struct {
	Type      string `json:"type"`
	GroupID   int    `json:"group_id,omitempty"`
	Content   string `json:"content,omitempty"`
	ReplyToID *int   `json:"reply_to_id,omitempty"`
}

// OutboundEvent is a server-to-client websocket frame.
type OutboundEvent struct {
	Type    string   `json:"type"`
	GroupID int      `json:"group_id,omitempty"`
	Message *Message `json:"message,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}
