package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragdesk/internal/model"
)

type IGenerator interface {
	Generate(ctx context.Context, system string, history []model.Message) (string, error)
}

type GeneratorConfig struct {
	Model   string
	Timeout time.Duration
	Options GenerateOptions
}

// Generator issues one generation attempt per call. The request is detached
// from the caller's cancellation and bounded by its own timeout.
type Generator struct {
	provider IGenerateProvider
	cfg      GeneratorConfig
}

func NewGenerator(p IGenerateProvider, cfg GeneratorConfig) *Generator {
	return &Generator{provider: p, cfg: cfg}
}

func (g *Generator) Generate(ctx context.Context, system string, history []model.Message) (string, error) {
	if g == nil || g.provider == nil {
		return "", ErrUnavailable
	}
	ctx = context.WithoutCancel(ctx)
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := g.provider.Generate(ctx, g.cfg.Model, &GenerateRequest{
		System:   system,
		Messages: history,
		Options:  g.cfg.Options,
	})
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", g.provider.Name(), err)
	}
	text := strings.TrimSpace(resp)
	logger := logutil.GetLogger(ctx).With(
		zap.String("provider", g.provider.Name()),
		zap.String("model", g.cfg.Model),
		zap.Duration("cost", time.Since(start)),
	)
	// empty output is left to the normalizer, which answers with the apology
	if text == "" {
		logger.Warn("generation returned empty text")
		return "", nil
	}
	logger.Debug("generation finished")
	return text, nil
}

// EmbeddingClient turns every embedding failure into an empty vector so
// callers only ever deal with the empty-vector sentinel.
type EmbeddingClient struct {
	embedder IEmbedder
	taskType string
	timeout  time.Duration
}

func NewEmbeddingClient(e IEmbedder, taskType string, timeout time.Duration) *EmbeddingClient {
	return &EmbeddingClient{embedder: e, taskType: taskType, timeout: timeout}
}

func (c *EmbeddingClient) Embed(ctx context.Context, text string) []float32 {
	logger := logutil.GetLogger(ctx)
	if c == nil || c.embedder == nil {
		logger.Error("embedder not configured")
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	vec, err := c.embedder.Embed(ctx, text, c.taskType)
	if err != nil {
		logger.Error("embed text failed", zap.String("model", c.embedder.ModelName()), zap.Int("text_len", len(text)), zap.Error(err))
		return nil
	}
	if len(vec) == 0 {
		logger.Warn("embedding result is empty", zap.String("model", c.embedder.ModelName()))
		return nil
	}
	return vec
}

func (c *EmbeddingClient) ModelName() string {
	if c == nil || c.embedder == nil {
		return ""
	}
	return c.embedder.ModelName()
}
