package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"knowledgebase/internal/ai"
	"knowledgebase/internal/model"
	"knowledgebase/internal/repository"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageEnqueue       = errors.New("message enqueue failed")
)

const conversationSystemPrompt = "You are a knowledge-base assistant. Use the provided context to answer. If the context is not sufficient, say so instead of guessing."

// AsyncMessagePublisher hands messages off for asynchronous persistence.
type AsyncMessagePublisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

type ChatInput struct {
	SessionID string
	Question  string
	TopK      int
}

type ChatResult struct {
	SessionID string         `json:"session_id"`
	Answer    string         `json:"answer"`
	Sources   []SearchResult `json:"sources,omitempty"`
}

// ConversationService runs multi-turn retrieval chat. Messages are not
// written to Postgres inline; they go through the publisher and are
// persisted by the background worker.
type ConversationService struct {
	convRepo    *repository.ConversationRepository
	messageRepo *repository.MessageRepository
	retriever   *HybridRetriever
	llm         LanguageModel
	publisher   AsyncMessagePublisher
	maxContext  int
	logger      *slog.Logger
}

func NewConversationService(
	convRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	retriever *HybridRetriever,
	llm LanguageModel,
	publisher AsyncMessagePublisher,
	maxContext int,
	logger *slog.Logger,
) *ConversationService {
	if maxContext <= 0 {
		maxContext = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationService{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		retriever:   retriever,
		llm:         llm,
		publisher:   publisher,
		maxContext:  maxContext,
		logger:      logger,
	}
}

// Chat answers one turn. A missing session id starts a new conversation
// titled after the first question.
func (s *ConversationService) Chat(ctx context.Context, input ChatInput) (*ChatResult, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, ErrQuestionEmpty
	}

	conv, err := s.getOrCreateConversation(ctx, input.SessionID, question)
	if err != nil {
		return nil, err
	}

	history, err := s.messageRepo.ListByConversationID(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	if len(history) > s.maxContext {
		history = history[len(history)-s.maxContext:]
	}

	embedding, err := s.llm.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	results, err := s.retriever.Retrieve(ctx, question, embedding, RetrieveOptions{TopK: input.TopK})
	if err != nil {
		return nil, err
	}

	contextBlock := buildContextBlock(results)
	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{
		Role:    "system",
		Content: conversationSystemPrompt + "\n\nContext:\n" + contextBlock,
	})
	for _, m := range history {
		role := m.Role
		if role == "" {
			role = "user"
		}
		messages = append(messages, ai.ChatMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, ai.ChatMessage{Role: "user", Content: question})

	answer, err := s.llm.Complete(ctx, messages)
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)

	if s.publisher == nil {
		return nil, ErrMessageEnqueue
	}
	userMessage := model.Message{
		ConversationID: conv.ID,
		Role:           "user",
		Content:        question,
	}
	assistantMessage := model.Message{
		ConversationID:  conv.ID,
		Role:            "assistant",
		Content:         answer,
		Context:         contextBlock,
		RetrievedChunks: encodeSources(results),
	}
	if err := s.publisher.Publish(ctx, userMessage); err != nil {
		return nil, ErrMessageEnqueue
	}
	if err := s.publisher.Publish(ctx, assistantMessage); err != nil {
		return nil, ErrMessageEnqueue
	}

	conv.MessageCount += 2
	if err := s.convRepo.Update(ctx, conv); err != nil {
		s.logger.Warn("update conversation failed", "session_id", conv.SessionID, "error", err)
	}

	return &ChatResult{
		SessionID: conv.SessionID,
		Answer:    answer,
		Sources:   results,
	}, nil
}

func (s *ConversationService) getOrCreateConversation(ctx context.Context, sessionID, question string) (*model.Conversation, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID != "" {
		conv, err := s.convRepo.GetBySessionID(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if conv != nil {
			return conv, nil
		}
	} else {
		sessionID = uuid.NewString()
	}

	conv := &model.Conversation{
		SessionID: sessionID,
		Title:     conversationTitle(question),
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *ConversationService) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	return s.convRepo.List(ctx)
}

func (s *ConversationService) GetMessages(ctx context.Context, sessionID string) ([]model.Message, error) {
	conv, err := s.convRepo.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	return s.messageRepo.ListByConversationID(ctx, conv.ID)
}

func (s *ConversationService) DeleteConversation(ctx context.Context, sessionID string) error {
	conv, err := s.convRepo.GetBySessionID(ctx, sessionID)
	if err != nil {
		return err
	}
	if conv == nil {
		return ErrConversationNotFound
	}
	return s.convRepo.DeleteBySessionID(ctx, sessionID)
}

func buildContextBlock(results []SearchResult) string {
	if len(results) == 0 {
		return "(no relevant context found)"
	}
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		sb.WriteString(r.Chunk.Content)
	}
	return sb.String()
}

// encodeSources stores a compact reference to the retrieval hits next to
// the assistant message.
func encodeSources(results []SearchResult) string {
	type ref struct {
		ChunkID    uint    `json:"chunk_id"`
		DocumentID uint    `json:"document_id"`
		Score      float64 `json:"score"`
		Source     string  `json:"source"`
	}
	refs := make([]ref, len(results))
	for i, r := range results {
		refs[i] = ref{
			ChunkID:    r.Chunk.ID,
			DocumentID: r.Chunk.DocumentID,
			Score:      r.Score,
			Source:     r.Source,
		}
	}
	payload, err := json.Marshal(refs)
	if err != nil {
		return ""
	}
	return string(payload)
}

func conversationTitle(question string) string {
	const maxTitle = 50
	runes := []rune(question)
	if len(runes) <= maxTitle {
		return question
	}
	return string(runes[:maxTitle]) + "..."
}
