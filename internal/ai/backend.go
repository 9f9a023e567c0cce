package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// Backend is the generative collaborator: it turns an ordered transcript
// into a reply, or fails with a backend error.
type Backend interface {
	Complete(ctx context.Context, transcript []Entry) (string, error)
}

// BackendConfig parameterizes the chat-completions backend.
type BackendConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// ChatBackend calls an OpenAI-compatible chat-completions endpoint.
type ChatBackend struct {
	model       llms.Model
	maxTokens   int
	temperature float64
	timeout     time.Duration
}

// NewChatBackend builds the backend client. The API key may be empty; calls
// will then fail and the dispatcher falls back to the apology message.
func NewChatBackend(cfg BackendConfig) (*ChatBackend, error) {
	model, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("init chat backend: %w", err)
	}
	return &ChatBackend{
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}, nil
}

// Complete sends the transcript and returns the reply text. The call is
// bounded by the backend timeout; a timeout is reported like any other
// backend failure.
func (b *ChatBackend) Complete(ctx context.Context, transcript []Entry) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	content := make([]llms.MessageContent, 0, len(transcript))
	for _, entry := range transcript {
		content = append(content, llms.TextParts(chatMessageType(entry.Role), entry.Content))
	}

	resp, err := b.model.GenerateContent(ctx, content,
		llms.WithMaxTokens(b.maxTokens),
		llms.WithTemperature(b.temperature),
	)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", errors.New("chat completion: empty response")
	}
	return resp.Choices[0].Content, nil
}

func chatMessageType(role Role) schema.ChatMessageType {
	switch role {
	case RoleAssistant:
		return schema.ChatMessageTypeAI
	case RoleSystem:
		return schema.ChatMessageTypeSystem
	default:
		return schema.ChatMessageTypeHuman
	}
}
