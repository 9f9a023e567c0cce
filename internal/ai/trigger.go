package ai

import (
	"regexp"
	"strings"

	"groupchat-service/internal/models"
)

// IntentMarker replaces an "@ai" mention when a message is rendered for the
// assistant. The mention is replaced, not deleted, so the transcript keeps
// the fact that the user addressed the assistant.
const IntentMarker = "[ask-ai]"

var mentionPattern = regexp.MustCompile(`@[Aa][Ii]\b`)

// ContainsMention reports whether content carries a whole-word "@ai" mention.
func ContainsMention(content string) bool {
	return mentionPattern.MatchString(content)
}

// ShouldTrigger decides whether the assistant should respond to msg. replyTo
// is the message msg quotes, when any.
func ShouldTrigger(msg *models.Message, replyTo *models.Message) bool {
	if msg == nil || msg.Kind != models.MessageKindUser {
		return false
	}
	if ContainsMention(msg.Content) {
		return true
	}
	if replyTo != nil && replyTo.Kind == models.MessageKindAI {
		return true
	}
	return false
}

// ExtractUserIntent rewrites every "@ai" mention as the intent marker and
// trims surrounding whitespace.
func ExtractUserIntent(content string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(content, IntentMarker))
}
