package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragdesk/internal/ai"
	"github.com/xxxsen/ragdesk/internal/model"
	appErr "github.com/xxxsen/ragdesk/internal/pkg/errors"
	"github.com/xxxsen/ragdesk/internal/vectorstore"
)

type IngestService struct {
	splitter *ai.Splitter
	embedder Embedder
	store    vectorstore.Store
}

func NewIngestService(splitter *ai.Splitter, embedder Embedder, store vectorstore.Store) *IngestService {
	return &IngestService{splitter: splitter, embedder: embedder, store: store}
}

// Ingest splits text, embeds every chunk and upserts it into the collection.
// A chunk that cannot be embedded or stored is logged and skipped; only blank
// input and an unusable collection fail the call.
func (s *IngestService) Ingest(ctx context.Context, text string, collectionName string) (*model.IngestStats, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("collection", collectionName))
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: document text is empty", appErr.ErrInvalid)
	}
	if strings.TrimSpace(collectionName) == "" {
		return nil, fmt.Errorf("%w: collection name is required", appErr.ErrInvalid)
	}
	start := time.Now()
	chunks := s.splitter.Split(text)
	stats := &model.IngestStats{Collection: collectionName, ChunksTotal: len(chunks)}
	for _, c := range chunks {
		stats.TotalChars += utf8.RuneCountInString(c.Text)
	}

	collection, err := vectorstore.GetOrCreateCollection(ctx, s.store, collectionName)
	if err != nil {
		logger.Error("open collection failed", zap.Error(err))
		return nil, err
	}

	for _, c := range chunks {
		vec := s.embedder.Embed(ctx, c.Text)
		if len(vec) == 0 {
			logger.Warn("skip chunk without embedding", zap.String("chunk_id", c.ID))
			stats.ChunksSkipped++
			continue
		}
		record := vectorstore.Record{
			ID:        c.ID,
			Document:  c.Text,
			Metadata:  map[string]string{vectorstore.MetaSource: c.ID},
			Embedding: vec,
		}
		if err := vectorstore.Upsert(ctx, collection, []vectorstore.Record{record}); err != nil {
			logger.Error("upsert chunk failed", zap.String("chunk_id", c.ID), zap.Error(err))
			stats.ChunksSkipped++
			continue
		}
		stats.ChunksProcessed++
		stats.TotalCharsStored += utf8.RuneCountInString(c.Text)
	}
	if n, err := collection.Count(ctx); err != nil {
		logger.Warn("count collection records failed", zap.Error(err))
	} else {
		stats.CollectionRecords = n
	}
	logger.Info("ingest finished",
		zap.Int("chunks_total", stats.ChunksTotal),
		zap.Int("chunks_processed", stats.ChunksProcessed),
		zap.Int("chunks_skipped", stats.ChunksSkipped),
		zap.Int("collection_records", stats.CollectionRecords),
		zap.Duration("cost", time.Since(start)),
	)
	return stats, nil
}
