package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"groupchat-service/internal/models"
	"groupchat-service/internal/repositories"
)

var (
	ErrNotMember    = errors.New("sender is not a group member")
	ErrEmptyContent = errors.New("message content is empty")
	ErrInvalidReply = errors.New("reply target does not exist in this group")
)

// AIQueue schedules a committed message for trigger evaluation.
type AIQueue interface {
	Enqueue(msg models.Message)
}

// Broadcaster fans a persisted message out to live watchers.
type Broadcaster interface {
	BroadcastNewMessage(groupID int, msg models.Message)
}

// Service is the message send path: membership check, persist, broadcast,
// then hand off to the AI pipeline. Send returns once persistence and
// broadcast are done; the AI pipeline never blocks it.
type Service struct {
	messages repositories.MessageRepository
	groups   repositories.GroupRepository
	hub      Broadcaster
	ai       AIQueue
}

// NewService constructs the send service. ai may be nil to disable the
// assistant entirely.
func NewService(messages repositories.MessageRepository, groups repositories.GroupRepository, hub Broadcaster, ai AIQueue) *Service {
	return &Service{messages: messages, groups: groups, hub: hub, ai: ai}
}

// SendUserMessage validates, persists and broadcasts a USER message, then
// enqueues it for AI trigger evaluation.
func (s *Service) SendUserMessage(ctx context.Context, groupID int, sender models.User, content string, replyToID *int) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyContent
	}

	member, err := s.groups.IsMember(ctx, groupID, sender.ID)
	if err != nil {
		return models.Message{}, fmt.Errorf("membership check: %w", err)
	}
	if !member {
		return models.Message{}, ErrNotMember
	}

	if replyToID != nil {
		target, err := s.messages.FindByID(ctx, *replyToID)
		if err != nil || target.GroupID != groupID {
			return models.Message{}, ErrInvalidReply
		}
	}

	senderID := sender.ID
	saved, err := s.messages.Create(ctx, models.Message{
		GroupID:    groupID,
		SenderID:   &senderID,
		SenderName: sender.Username,
		Content:    content,
		Kind:       models.MessageKindUser,
		ReplyToID:  replyToID,
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("persist message: %w", err)
	}

	s.hub.BroadcastNewMessage(groupID, saved)

	if s.ai != nil {
		s.ai.Enqueue(saved)
	}
	return saved, nil
}

// SendSystemMessage persists and broadcasts a SYSTEM notice. System messages
// never reach the AI pipeline.
func (s *Service) SendSystemMessage(ctx context.Context, groupID int, content string) (models.Message, error) {
	saved, err := s.messages.Create(ctx, models.Message{
		GroupID: groupID,
		Content: content,
		Kind:    models.MessageKindSystem,
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("persist system message: %w", err)
	}

	s.hub.BroadcastNewMessage(groupID, saved)
	return saved, nil
}
