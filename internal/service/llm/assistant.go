// Package llm proxies chat requests to an OpenAI-compatible endpoint and
// keeps short per-conversation history in memory.
package llm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/qgao233/virtual-avatar-agent/internal/observability/logging"
)

// maxHistory bounds the retained messages per conversation (user +
// assistant turns); older turns are evicted pairwise.
const maxHistory = 20

// Config holds the chat backend parameters.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
}

// Reply is the assistant's answer for one turn.
type Reply struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// chatClient is the slice of the OpenAI client the assistant uses; tests
// substitute a fake.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Assistant keeps conversations and talks to the model.
type Assistant struct {
	client chatClient
	cfg    Config

	mu            sync.Mutex
	conversations map[string][]openai.ChatCompletionMessage

	log zerolog.Logger
}

// New creates an assistant against the configured endpoint.
func New(cfg Config) *Assistant {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return newWithClient(openai.NewClientWithConfig(clientCfg), cfg)
}

func newWithClient(client chatClient, cfg Config) *Assistant {
	return &Assistant{
		client:        client,
		cfg:           cfg,
		conversations: make(map[string][]openai.ChatCompletionMessage),
		log:           logging.WithComponent("llm"),
	}
}

// Chat sends one user message. An empty conversationID starts a new
// conversation; the returned reply carries the ID for follow-up turns.
func (a *Assistant) Chat(ctx context.Context, conversationID, message string) (Reply, error) {
	if conversationID == "" {
		conversationID = newConversationID()
	}

	a.mu.Lock()
	history := append([]openai.ChatCompletionMessage(nil), a.conversations[conversationID]...)
	a.mu.Unlock()

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if a.cfg.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: a.cfg.SystemPrompt,
		})
	}
	messages = append(messages, history...)
	userMsg := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	}
	messages = append(messages, userMsg)

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    a.cfg.Model,
		Messages: messages,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, fmt.Errorf("chat completion returned no choices")
	}
	answer := resp.Choices[0].Message

	a.mu.Lock()
	turns := append(a.conversations[conversationID], userMsg, answer)
	if len(turns) > maxHistory {
		turns = turns[len(turns)-maxHistory:]
	}
	a.conversations[conversationID] = turns
	a.mu.Unlock()

	a.log.Debug().
		Str("conversationId", conversationID).
		Int("historyLen", len(turns)).
		Msg("Chat turn completed")

	return Reply{ConversationID: conversationID, Text: answer.Content}, nil
}

// Reset forgets a conversation.
func (a *Assistant) Reset(conversationID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.conversations, conversationID)
}

func newConversationID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// rand.Read on a sane platform does not fail; fall back to a
		// fixed marker rather than crash.
		return "conv_00000000"
	}
	return "conv_" + hex.EncodeToString(b[:])
}
