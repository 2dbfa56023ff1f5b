package service

import (
	"context"

	"github.com/xxxsen/ragdesk/internal/model"
)

// Embedder returns an empty vector when no embedding is available.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

type ConversationStore interface {
	AppendUser(ctx context.Context, sessionID string, text string) error
	AppendAssistant(ctx context.Context, sessionID string, text string) error
	ReadRecent(ctx context.Context, sessionID string, n int) ([]model.Message, error)
	ReadRecentByRole(ctx context.Context, sessionID string, role model.Role, n int) ([]model.Message, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]model.ConversationMessage, error)
}
