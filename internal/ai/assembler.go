package ai

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"groupchat-service/internal/models"
)

// Role tags a transcript entry for the generative backend.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one transcript line handed to the generative backend. Entries are
// transient; they are built per trigger and never stored.
type Entry struct {
	Role    Role
	Content string
}

// MessageStore is the slice of the message repository the assembler needs.
type MessageStore interface {
	WindowedRead(ctx context.Context, groupID int, since time.Time, limit int) ([]models.Message, error)
	FindByID(ctx context.Context, messageID int) (models.Message, error)
}

const (
	defaultWindow      = 30 * time.Minute
	defaultMaxMessages = 50
	defaultPersona     = "Nova"

	unknownSender  = "Unknown"
	noMembers      = "none"
	maxNameLen     = 20
	maxQuoteLen    = 50
	quoteEllipsis  = "..."
	followUpMarker = "[follow-up]"

	compOpenMarker  = "Quoted historical context: the following assistant messages are referenced in the conversation below but fall outside the live window."
	compCloseMarker = "End of quoted context. The live conversation window follows."
)

const systemPromptTemplate = `You are %s, a friendly and concise AI assistant taking part in a small group chat. Keep replies short, warm and conversational, suited to a group setting. If you are not sure of an answer, say so honestly.

You are invoked in two ways: a message containing the %s marker addresses you directly, or a user replies to one of your earlier messages. A quoted reply is shown with a [quoted-ai: "..."] annotation. When a message carries both a [quoted-ai: "..."] annotation and a %s marker, the content after %s: is the question to answer; the quoted content is context only, never the question itself.

Do not repeat content you already said. Never prefix your own reply with a speaker name, and never fabricate another speaker's line.

Members active in this conversation: %s`

// Assembler builds the bounded, annotated transcript for one trigger
// message. Window and MaxMessages are plain fields so tests can set them
// directly.
type Assembler struct {
	store MessageStore

	Window      time.Duration
	MaxMessages int
	Persona     string
}

// NewAssembler constructs an Assembler with default bounds.
func NewAssembler(store MessageStore) *Assembler {
	return &Assembler{
		store:       store,
		Window:      defaultWindow,
		MaxMessages: defaultMaxMessages,
		Persona:     defaultPersona,
	}
}

// BuildContext assembles the transcript for a trigger message:
// system prompt, optional compensation block for quoted assistant messages
// that fell outside the window, then the windowed conversation in
// chronological order. An empty window is not an error.
func (a *Assembler) BuildContext(ctx context.Context, groupID int, trigger models.Message) ([]Entry, error) {
	since := time.Now().Add(-a.Window)
	working, err := a.store.WindowedRead(ctx, groupID, since, a.MaxMessages)
	if err != nil {
		return nil, fmt.Errorf("windowed read: %w", err)
	}

	// The trigger may sit exactly on the window boundary or lag behind
	// persistence; make sure it is present exactly once.
	present := false
	for _, m := range working {
		if m.ID == trigger.ID {
			present = true
			break
		}
	}
	if !present {
		working = append(working, trigger)
	}

	byID := make(map[int]models.Message, len(working))
	for _, m := range working {
		byID[m.ID] = m
	}

	compensated := a.compensate(ctx, working, byID)
	for _, m := range compensated {
		byID[m.ID] = m
	}

	entries := make([]Entry, 0, len(working)+len(compensated)+3)
	entries = append(entries, Entry{Role: RoleSystem, Content: a.systemPrompt(activeMembers(working))})

	if len(compensated) > 0 {
		entries = append(entries, Entry{Role: RoleSystem, Content: compOpenMarker})
		for _, m := range compensated {
			entries = append(entries, Entry{Role: RoleAssistant, Content: m.Content})
		}
		entries = append(entries, Entry{Role: RoleSystem, Content: compCloseMarker})
	}

	for _, m := range working {
		switch m.Kind {
		case models.MessageKindAI:
			entries = append(entries, Entry{Role: RoleAssistant, Content: m.Content})
		case models.MessageKindUser:
			entries = append(entries, Entry{Role: RoleUser, Content: renderUserMessage(m, byID)})
		case models.MessageKindSystem:
			// system notices never reach the backend
		}
	}

	return entries, nil
}

// compensate collects, once each, the assistant messages quoted inside the
// working list whose originals fell outside the window.
func (a *Assembler) compensate(ctx context.Context, working []models.Message, byID map[int]models.Message) []models.Message {
	var missing []int
	seen := map[int]struct{}{}
	for _, m := range working {
		if m.ReplyToID == nil {
			continue
		}
		id := *m.ReplyToID
		if _, inWindow := byID[id]; inWindow {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		missing = append(missing, id)
	}

	var compensated []models.Message
	for _, id := range missing {
		original, err := a.store.FindByID(ctx, id)
		if err != nil {
			log.Printf("context compensation: message %d unavailable: %v", id, err)
			continue
		}
		if original.Kind != models.MessageKindAI {
			continue
		}
		compensated = append(compensated, original)
	}
	return compensated
}

func (a *Assembler) systemPrompt(members []string) string {
	joined := noMembers
	if len(members) > 0 {
		joined = strings.Join(members, ", ")
	}
	persona := a.Persona
	if persona == "" {
		persona = defaultPersona
	}
	return fmt.Sprintf(systemPromptTemplate, persona, IntentMarker, followUpMarker, followUpMarker, joined)
}

// activeMembers extracts the sanitized display names of USER-kind senders in
// first-appearance order, deduplicated.
func activeMembers(working []models.Message) []string {
	var names []string
	seen := map[string]struct{}{}
	for _, m := range working {
		if m.Kind != models.MessageKindUser {
			continue
		}
		name := sanitizeName(m.SenderName)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// sanitizeName strips CR/LF and caps length, so a hostile display name
// cannot inject lines or oversized text into the prompt.
func sanitizeName(name string) string {
	name = strings.NewReplacer("\r", "", "\n", "").Replace(name)
	runes := []rune(name)
	if len(runes) > maxNameLen {
		name = string(runes[:maxNameLen])
	}
	return name
}

func renderUserMessage(m models.Message, byID map[int]models.Message) string {
	name := sanitizeName(m.SenderName)
	if name == "" {
		name = unknownSender
	}
	intent := ExtractUserIntent(m.Content)

	if m.ReplyToID != nil {
		if quoted, ok := byID[*m.ReplyToID]; ok && quoted.Kind == models.MessageKindAI {
			return fmt.Sprintf("%s [quoted-ai: %q] %s: %s", name, truncateQuote(quoted.Content), followUpMarker, intent)
		}
	}
	return name + ": " + intent
}

func truncateQuote(content string) string {
	runes := []rune(content)
	if len(runes) <= maxQuoteLen {
		return content
	}
	return string(runes[:maxQuoteLen]) + quoteEllipsis
}
