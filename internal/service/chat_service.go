package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragdesk/internal/ai"
	"github.com/xxxsen/ragdesk/internal/model"
	appErr "github.com/xxxsen/ragdesk/internal/pkg/errors"
)

const maxHistoryLimit = 200

type AnswerResult struct {
	SessionID string
	Answer    model.Answer
	Raw       string
}

type ChatService struct {
	assembler         *ContextAssembler
	generator         ai.IGenerator
	history           ConversationStore
	defaultCollection string
}

func NewChatService(assembler *ContextAssembler, generator ai.IGenerator, history ConversationStore, defaultCollection string) *ChatService {
	return &ChatService{
		assembler:         assembler,
		generator:         generator,
		history:           history,
		defaultCollection: defaultCollection,
	}
}

// Answer handles a support ticket made of a subject and a mail body.
func (s *ChatService) Answer(ctx context.Context, subject string, body string, sessionID string, collectionName string) (*AnswerResult, error) {
	query := subject + "\n" + body
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: subject and mail body are empty", appErr.ErrInvalid)
	}
	if collectionName == "" {
		collectionName = s.defaultCollection
	}
	return s.ask(ctx, query, sessionID, collectionName, AnswerTemplate)
}

// Chat answers a free form question against the default collection.
func (s *ChatService) Chat(ctx context.Context, query string, sessionID string) (*AnswerResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", appErr.ErrInvalid)
	}
	return s.ask(ctx, query, sessionID, s.defaultCollection, ChatTemplate)
}

func (s *ChatService) History(ctx context.Context, sessionID string, limit int) ([]model.ConversationMessage, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", appErr.ErrInvalid)
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.history.ListBySession(ctx, sessionID, limit)
}

func (s *ChatService) ask(ctx context.Context, query string, sessionID string, collectionName string, tpl PromptTemplate) (*AnswerResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", appErr.ErrInvalid)
	}
	if strings.TrimSpace(collectionName) == "" {
		return nil, fmt.Errorf("%w: collection name is required", appErr.ErrInvalid)
	}
	logger := logutil.GetLogger(ctx).With(
		zap.String("session_id", sessionID),
		zap.String("collection", collectionName),
		zap.String("template", tpl.Name),
	)

	assembled := s.assembler.BuildContext(ctx, query, sessionID, collectionName, tpl)
	raw, err := s.generator.Generate(ctx, assembled.Prompt, assembled.History)
	if err != nil {
		logger.Error("generate answer failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", appErr.ErrUpstreamUnavailable, err)
	}
	raw = strings.TrimSpace(raw)
	answer := ai.NormalizeAnswer(raw)

	if err := s.history.AppendUser(ctx, sessionID, query); err != nil {
		logger.Error("append user message failed", zap.Error(err))
	}
	if err := s.history.AppendAssistant(ctx, sessionID, raw); err != nil {
		logger.Error("append assistant message failed", zap.Error(err))
	}
	return &AnswerResult{SessionID: sessionID, Answer: answer, Raw: raw}, nil
}
