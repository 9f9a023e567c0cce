package models

import "time"

// MessageKind is the closed set of message author kinds.
type MessageKind string

const (
	MessageKindUser   MessageKind = "USER"
	MessageKindAI     MessageKind = "AI"
	MessageKindSystem MessageKind = "SYSTEM"
)

// Message represents a message in a group. SenderID is nil for AI- and
// SYSTEM-kind messages. ReplyToID, when set, references an earlier message
// in the same group.
type Message struct {
	ID         int         `db:"id" json:"id"`
	GroupID    int         `db:"group_id" json:"group_id"`
	SenderID   *int        `db:"sender_id" json:"sender_id,omitempty"`
	SenderName string      `db:"sender_name" json:"sender_name,omitempty"`
	Content    string      `db:"content" json:"content"`
	Kind       MessageKind `db:"kind" json:"kind"`
	ReplyToID  *int        `db:"reply_to_id" json:"reply_to_id,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}
