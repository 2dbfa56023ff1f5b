package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/ragdesk/internal/config"
	"github.com/xxxsen/ragdesk/internal/docparse"
	"github.com/xxxsen/ragdesk/internal/handler"
	"github.com/xxxsen/ragdesk/internal/job"
	"github.com/xxxsen/ragdesk/internal/middleware"
	"github.com/xxxsen/ragdesk/internal/schedule"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "ragdesk",
		Short: "ragdesk support ticket assistant",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run ragdesk server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	var (
		ingestCollection string
		ingestFile       string
		ingestText       string
	)
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "ingest a document into a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runIngest(cmd, cfg, ingestCollection, ingestFile, ingestText)
		},
	}
	ingestCmd.Flags().StringVar(&ingestCollection, "collection", "", "target collection, defaults to rag.default_collection")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "document to ingest")
	ingestCmd.Flags().StringVar(&ingestText, "text", "", "raw text to ingest")

	var (
		askSession    string
		askCollection string
		askSubject    string
		askBody       string
	)
	askCmd := &cobra.Command{
		Use:   "ask",
		Short: "answer one ticket from the command line",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runAsk(cmd, cfg, askSession, askCollection, askSubject, askBody)
		},
	}
	askCmd.Flags().StringVar(&askSession, "session", "cli", "conversation session id")
	askCmd.Flags().StringVar(&askCollection, "collection", "", "collection to search, defaults to rag.default_collection")
	askCmd.Flags().StringVar(&askSubject, "subject", "", "ticket subject")
	askCmd.Flags().StringVar(&askBody, "body", "", "ticket mail body")

	rootCmd.AddCommand(runCmd, ingestCmd, askCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.Log.File,
		cfg.Log.Level,
		cfg.Log.FileCount,
		cfg.Log.FileSize,
		cfg.Log.KeepDays,
		cfg.Log.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func runServer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(a.embeddingCache, cfg.Jobs.EmbeddingCacheCleanup.MaxAgeDays), cfg.Jobs.EmbeddingCacheCleanup.Spec); err != nil {
		return fmt.Errorf("schedule embedding cache cleanup: %w", err)
	}
	if err := scheduler.AddJob(job.NewConversationRetentionJob(a.conversations, cfg.Jobs.ConversationRetention.MaxAgeDays), cfg.Jobs.ConversationRetention.Spec); err != nil {
		return fmt.Errorf("schedule conversation retention: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	deps := handler.RouterDeps{
		RAG:       handler.NewRAGHandler(a.ingest, a.chat, a.archive, cfg.RAG.DefaultCollection, int64(cfg.RAG.MaxUploadMB)*1024*1024),
		RateLimit: time.Duration(cfg.RateLimit) * time.Millisecond,
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.AccessLog(),
			middleware.CORS(cfg.CORS),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

func runIngest(cmd *cobra.Command, cfg *config.Config, collection, file, text string) error {
	ctx := cmd.Context()
	if (file == "") == (text == "") {
		return fmt.Errorf("exactly one of --file or --text is required")
	}
	if collection == "" {
		collection = cfg.RAG.DefaultCollection
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		text, err = docparse.Extract(file, data)
		if err != nil {
			return err
		}
	}
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	stats, err := a.ingest.Ingest(ctx, text, collection)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "collection=%s chunks=%d processed=%d skipped=%d chars=%d records=%d\n",
		stats.Collection, stats.ChunksTotal, stats.ChunksProcessed, stats.ChunksSkipped, stats.TotalChars, stats.CollectionRecords)
	return nil
}

func runAsk(cmd *cobra.Command, cfg *config.Config, session, collection, subject, body string) error {
	ctx := cmd.Context()
	if strings.TrimSpace(subject+body) == "" {
		return fmt.Errorf("--subject or --body is required")
	}
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	res, err := a.chat.Answer(ctx, subject, body, session, collection)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "solution: %s\n", res.Answer.Solution)
	fmt.Fprintf(out, "disposition: %s\n", res.Answer.Disposition)
	fmt.Fprintf(out, "sub disposition: %s\n", res.Answer.SubDisposition)
	fmt.Fprintf(out, "priority: %s\n", res.Answer.Priority)
	return nil
}
