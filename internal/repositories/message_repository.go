package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"groupchat-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository is the durable message store for groups.
type MessageRepository interface {
	Create(ctx context.Context, msg models.Message) (models.Message, error)
	WindowedRead(ctx context.Context, groupID int, since time.Time, limit int) ([]models.Message, error)
	FindByID(ctx context.Context, messageID int) (models.Message, error)
	ListGroupMessages(ctx context.Context, groupID int, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed implementation.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create persists a message; id and created_at are assigned by the database.
func (r *MessageRepo) Create(ctx context.Context, msg models.Message) (models.Message, error) {
	var saved models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (group_id, sender_id, sender_name, content, kind, reply_to_id)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING id, group_id, sender_id, sender_name, content, kind, reply_to_id, created_at`,
		msg.GroupID, msg.SenderID, msg.SenderName, msg.Content, msg.Kind, msg.ReplyToID).
		StructScan(&saved)
	return saved, err
}

// WindowedRead returns the most recent messages in the group created at or
// after since, capped at limit, in chronological order.
func (r *MessageRepo) WindowedRead(ctx context.Context, groupID int, since time.Time, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT * FROM (
            SELECT id, group_id, sender_id, sender_name, content, kind, reply_to_id, created_at
            FROM messages WHERE group_id=$1 AND created_at >= $2
            ORDER BY created_at DESC LIMIT $3
         ) recent ORDER BY created_at ASC`,
		groupID, since, limit)
	return msgs, err
}

// FindByID fetches a single message.
func (r *MessageRepo) FindByID(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT id, group_id, sender_id, sender_name, content, kind, reply_to_id, created_at
         FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListGroupMessages returns the most recent messages in chronological order.
func (r *MessageRepo) ListGroupMessages(ctx context.Context, groupID int, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT * FROM (
            SELECT id, group_id, sender_id, sender_name, content, kind, reply_to_id, created_at
            FROM messages WHERE group_id=$1 ORDER BY created_at DESC LIMIT $2
         ) recent ORDER BY created_at ASC`,
		groupID, limit)
	return msgs, err
}
