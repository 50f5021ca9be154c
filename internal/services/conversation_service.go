package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

const defaultHistorySize = 6

const conversationSystemMessage = "You are a concise, friendly assistant in a team chat. " +
	"Answer in the language the user wrote in."

// Turn is one recorded line of a conversation.
type Turn struct {
	Role    string
	Content string
}

// ConversationService keeps a short rolling history per conversation key and
// answers messages that no workflow handled.
type ConversationService struct {
	llm   LLMClient
	limit int

	mu      sync.Mutex
	history map[string][]Turn
}

// NewConversationService creates a new ConversationService keeping the last
// limit turns per key.
func NewConversationService(llm LLMClient, limit int) *ConversationService {
	if limit <= 0 {
		limit = defaultHistorySize
	}
	return &ConversationService{
		llm:     llm,
		limit:   limit,
		history: make(map[string][]Turn),
	}
}

// Record appends a turn to the history of key.
func (s *ConversationService) Record(key, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := append(s.history[key], Turn{Role: role, Content: content})
	if len(turns) > s.limit {
		turns = turns[len(turns)-s.limit:]
	}
	s.history[key] = turns
}

// Recent renders the recorded turns of key as a plain-text block, or "" when
// there is none.
func (s *ConversationService) Recent(key string) string {
	s.mu.Lock()
	turns := append([]Turn(nil), s.history[key]...)
	s.mu.Unlock()

	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Reply answers content as generic conversation, using the recent history of
// key as context.
func (s *ConversationService) Reply(ctx context.Context, key, content string) (string, error) {
	prompt := content
	if recent := s.Recent(key); recent != "" {
		prompt = "Conversation so far:\n" + recent + "\n\nUser: " + content
	}
	completion, err := s.llm.Complete(ctx, prompt, CompletionOptions{
		SystemMessage: conversationSystemMessage,
		Temperature:   0.7,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(completion.Content), nil
}
