package service

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragdesk/internal/vectorstore"
)

type Retriever struct {
	embedder Embedder
	store    vectorstore.Store
}

func NewRetriever(embedder Embedder, store vectorstore.Store) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns up to topK chunk texts, most similar first. It never
// fails: store errors are logged and yield an empty result. A failed query
// embedding is still sent to the store as an empty vector.
func (r *Retriever) Retrieve(ctx context.Context, query string, collectionName string, topK int) []string {
	logger := logutil.GetLogger(ctx).With(zap.String("collection", collectionName))
	if topK <= 0 {
		return []string{}
	}
	collection, found, err := r.store.GetCollection(ctx, collectionName)
	if err != nil {
		logger.Error("lookup collection failed", zap.Error(err))
		return []string{}
	}
	if !found {
		logger.Warn("collection not found, nothing to retrieve")
		return []string{}
	}
	vec := r.embedder.Embed(ctx, query)
	if len(vec) == 0 {
		logger.Warn("query embedding is empty, querying with degenerate vector")
	}
	hits, err := collection.Query(ctx, vec, topK)
	if err != nil {
		logger.Error("query collection failed", zap.Error(err))
		return []string{}
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Document)
		if len(out) == topK {
			break
		}
	}
	logger.Debug("retrieved chunks", zap.Int("count", len(out)))
	return out
}
