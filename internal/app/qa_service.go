package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"knowledgebase/internal/ai"
)

var ErrQuestionEmpty = errors.New("question is empty")

const qaSystemPrompt = "You are a knowledge-base assistant. Answer the user's question based only on the provided context. If the context does not contain enough information, say so. Do not make up facts."

// AnswerStore memoizes generated answers per question.
type AnswerStore interface {
	Get(ctx context.Context, question string) (string, bool, error)
	Set(ctx context.Context, question, answer string) error
}

// LanguageModel embeds queries and generates completions.
type LanguageModel interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
}

// QAResult carries the answer plus the retrieval hits it was grounded on.
// Sources is empty on a cache hit.
type QAResult struct {
	Answer  string         `json:"answer"`
	Sources []SearchResult `json:"sources,omitempty"`
	Cached  bool           `json:"cached"`
}

// QAService answers one-shot questions: retrieve relevant chunks, prompt
// the model with them, cache the answer.
type QAService struct {
	retriever *HybridRetriever
	llm       LanguageModel
	answers   AnswerStore
	logger    *slog.Logger
}

func NewQAService(retriever *HybridRetriever, llm LanguageModel, answers AnswerStore, logger *slog.Logger) *QAService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QAService{
		retriever: retriever,
		llm:       llm,
		answers:   answers,
		logger:    logger,
	}
}

func (s *QAService) Answer(ctx context.Context, question string, opts RetrieveOptions) (*QAResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrQuestionEmpty
	}

	if s.answers != nil {
		if cached, hit, err := s.answers.Get(ctx, question); err == nil && hit {
			return &QAResult{Answer: cached, Cached: true}, nil
		} else if err != nil {
			s.logger.Warn("answer cache read failed", "error", err)
		}
	}

	embedding, err := s.llm.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	results, err := s.retriever.Retrieve(ctx, question, embedding, opts)
	if err != nil {
		return nil, err
	}

	messages := []ai.ChatMessage{
		{Role: "system", Content: qaSystemPrompt},
		{Role: "user", Content: buildQAPrompt(question, results)},
	}
	answer, err := s.llm.Complete(ctx, messages)
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)

	if s.answers != nil {
		if err := s.answers.Set(ctx, question, answer); err != nil {
			s.logger.Warn("answer cache write failed", "error", err)
		}
	}

	return &QAResult{Answer: answer, Sources: results}, nil
}

func buildQAPrompt(question string, results []SearchResult) string {
	var sb strings.Builder
	sb.WriteString("Context:\n")
	if len(results) == 0 {
		sb.WriteString("(no relevant context found)\n")
	}
	for _, r := range results {
		sb.WriteString("---\n")
		sb.WriteString(r.Chunk.Content)
		sb.WriteByte('\n')
	}
	sb.WriteString("---\n\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}
