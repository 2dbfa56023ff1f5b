package service

import (
	"context"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragdesk/internal/model"
)

const (
	DefaultHistoryQueries = 3
	DefaultHistoryWindow  = 5
	DefaultTopK           = 3
)

type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, collectionName string, topK int) []string
}

type AssemblerConfig struct {
	HistoryQueries int
	HistoryWindow  int
	TopK           int
}

// AssembledContext is everything the generator needs for one turn.
type AssembledContext struct {
	Prompt         string
	Context        string
	RetrievalQuery string
	History        []model.Message
}

type ContextAssembler struct {
	retriever ContextRetriever
	history   ConversationStore
	extractor ContextExtractor
	cfg       AssemblerConfig
}

func NewContextAssembler(retriever ContextRetriever, history ConversationStore, extractor ContextExtractor, cfg AssemblerConfig) *ContextAssembler {
	if cfg.HistoryQueries < 0 {
		cfg.HistoryQueries = DefaultHistoryQueries
	}
	if cfg.HistoryWindow < 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if extractor == nil {
		extractor = MarkerExtractor{}
	}
	return &ContextAssembler{retriever: retriever, history: history, extractor: extractor, cfg: cfg}
}

// BuildContext reads the session, retrieves supporting chunks and renders
// the prompt. History read failures degrade to an empty history.
func (a *ContextAssembler) BuildContext(ctx context.Context, query string, sessionID string, collectionName string, tpl PromptTemplate) *AssembledContext {
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sessionID))

	previous, err := a.history.ReadRecentByRole(ctx, sessionID, model.RoleHuman, a.cfg.HistoryQueries)
	if err != nil {
		logger.Error("read previous queries failed", zap.Error(err))
		previous = nil
	}
	parts := make([]string, 0, len(previous)+1)
	for _, m := range previous {
		parts = append(parts, m.Content)
	}
	parts = append(parts, query)
	retrievalQuery := strings.Join(parts, " ")

	chunks := a.retriever.Retrieve(ctx, retrievalQuery, collectionName, a.cfg.TopK)
	extracted := a.extractor.Extract(strings.Join(chunks, "\n\n"))

	window, err := a.history.ReadRecent(ctx, sessionID, a.cfg.HistoryWindow)
	if err != nil {
		logger.Error("read conversation window failed", zap.Error(err))
		window = nil
	}
	history := make([]model.Message, 0, len(window)+1)
	history = append(history, window...)
	history = append(history, model.Message{Role: model.RoleHuman, Content: query})

	logger.Debug("context assembled",
		zap.Int("previous_queries", len(previous)),
		zap.Int("chunks", len(chunks)),
		zap.Int("history", len(history)),
	)
	return &AssembledContext{
		Prompt:         tpl.Render(extracted, query),
		Context:        extracted,
		RetrievalQuery: retrievalQuery,
		History:        history,
	}
}
