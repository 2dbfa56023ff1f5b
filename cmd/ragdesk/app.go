package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragdesk/internal/ai"
	"github.com/xxxsen/ragdesk/internal/config"
	"github.com/xxxsen/ragdesk/internal/db"
	"github.com/xxxsen/ragdesk/internal/embedcache"
	"github.com/xxxsen/ragdesk/internal/filestore"
	"github.com/xxxsen/ragdesk/internal/repo"
	"github.com/xxxsen/ragdesk/internal/service"
	"github.com/xxxsen/ragdesk/internal/vectorstore"
)

// app holds every long lived component built from one config.
type app struct {
	cfg            *config.Config
	db             *sql.DB
	vectors        vectorstore.Store
	archive        filestore.Store
	conversations  *repo.ConversationRepo
	embeddingCache *repo.EmbeddingCacheRepo
	ingest         *service.IngestService
	chat           *service.ChatService
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logutil.GetLogger(ctx)
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn, cfg.Database.Driver); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	a := &app{
		cfg:            cfg,
		db:             conn,
		conversations:  repo.NewConversationRepo(conn, cfg.Database.Driver),
		embeddingCache: repo.NewEmbeddingCacheRepo(conn, cfg.Database.Driver),
	}

	vectors, err := vectorstore.New(ctx, cfg.VectorStore.Type, vectorStoreArgs(cfg))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	a.vectors = vectors

	if cfg.FileStore.Enabled {
		archive, err := filestore.New(ctx, cfg.FileStore)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init file store: %w", err)
		}
		a.archive = archive
	}

	embedProvider, err := ai.NewEmbedProvider(cfg.Embedding.Provider, cfg.Embedding.Data)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init embedding provider: %w", err)
	}
	var embedder ai.IEmbedder = ai.NewEmbedder(embedProvider, cfg.Embedding.Model)
	if cfg.Embedding.DBCache {
		embedder = embedcache.WrapDBCacheToEmbedder(embedder, a.embeddingCache)
	}
	embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.Embedding.CacheSize, time.Duration(cfg.Embedding.CacheTTL)*time.Second)
	embeddings := ai.NewEmbeddingClient(embedder, cfg.Embedding.TaskType, time.Duration(cfg.Embedding.Timeout)*time.Second)

	genProvider, err := ai.NewProvider(cfg.Generator.Provider, cfg.Generator.Data)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init generator provider: %w", err)
	}
	generator := ai.NewGenerator(genProvider, ai.GeneratorConfig{
		Model:   cfg.Generator.Model,
		Timeout: time.Duration(cfg.Generator.Timeout) * time.Second,
		Options: ai.GenerateOptions{
			MaxTokens:   cfg.Generator.MaxTokens,
			Temperature: cfg.Generator.Temperature,
			Stop:        cfg.Generator.Stop,
		},
	})

	splitter := ai.NewSplitter(ai.WithChunkSize(cfg.RAG.ChunkSize), ai.WithOverlap(cfg.RAG.ChunkOverlap))
	a.ingest = service.NewIngestService(splitter, embeddings, vectors)
	retriever := service.NewRetriever(embeddings, vectors)
	extractor, err := service.NewContextExtractor(cfg.RAG.Extractor)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init context extractor: %w", err)
	}
	assembler := service.NewContextAssembler(retriever, a.conversations, extractor, service.AssemblerConfig{
		HistoryQueries: cfg.RAG.HistoryQueries,
		HistoryWindow:  cfg.RAG.HistoryWindow,
		TopK:           cfg.RAG.TopK,
	})
	a.chat = service.NewChatService(assembler, generator, a.conversations, cfg.RAG.DefaultCollection)

	logger.Info("components ready",
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("vector_store", cfg.VectorStore.Type),
		zap.String("embedding", cfg.Embedding.Provider+"/"+cfg.Embedding.Model),
		zap.String("generator", cfg.Generator.Provider+"/"+cfg.Generator.Model),
		zap.Bool("archive", a.archive != nil),
	)
	return a, nil
}

// vectorStoreArgs lets a pgvector store share the main postgres database
// when no dsn of its own is configured.
func vectorStoreArgs(cfg *config.Config) map[string]interface{} {
	args := map[string]interface{}{}
	for k, v := range cfg.VectorStore.Data {
		args[k] = v
	}
	if cfg.VectorStore.Type == "pgvector" && cfg.Database.Driver == "postgres" {
		if _, ok := args["dsn"]; !ok {
			args["dsn"] = db.PostgresDSN(cfg.Database)
		}
	}
	return args
}

func (a *app) Close() {
	if a.vectors != nil {
		_ = a.vectors.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
