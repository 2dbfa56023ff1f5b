package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Expirer deletes rows created before a cutoff.
type Expirer interface {
	DeleteBefore(ctx context.Context, cutoff int64) (int64, error)
}

// EmbeddingCacheCleanupJob drops cached embeddings older than maxAgeDays.
// The cache stores unix seconds.
type EmbeddingCacheCleanupJob struct {
	repo       Expirer
	maxAgeDays int
	now        func() time.Time
}

func NewEmbeddingCacheCleanupJob(repo Expirer, maxAgeDays int) *EmbeddingCacheCleanupJob {
	return &EmbeddingCacheCleanupJob{repo: repo, maxAgeDays: maxAgeDays, now: time.Now}
}

func (j *EmbeddingCacheCleanupJob) Name() string {
	return "embedding_cache_cleanup"
}

func (j *EmbeddingCacheCleanupJob) Run(ctx context.Context) error {
	if j.repo == nil {
		return nil
	}
	cutoff := j.now().Add(-maxAge(j.maxAgeDays, 30)).Unix()
	n, err := j.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("embedding cache cleaned", zap.Int64("deleted", n))
	return nil
}

// ConversationRetentionJob removes conversation messages older than
// maxAgeDays. Message timestamps are unix millis.
type ConversationRetentionJob struct {
	repo       Expirer
	maxAgeDays int
	now        func() time.Time
}

func NewConversationRetentionJob(repo Expirer, maxAgeDays int) *ConversationRetentionJob {
	return &ConversationRetentionJob{repo: repo, maxAgeDays: maxAgeDays, now: time.Now}
}

func (j *ConversationRetentionJob) Name() string {
	return "conversation_retention"
}

func (j *ConversationRetentionJob) Run(ctx context.Context) error {
	if j.repo == nil {
		return nil
	}
	cutoff := j.now().Add(-maxAge(j.maxAgeDays, 90)).UnixMilli()
	n, err := j.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("conversation history trimmed", zap.Int64("deleted", n))
	return nil
}

func maxAge(days int, fallback int) time.Duration {
	if days <= 0 {
		days = fallback
	}
	return time.Duration(days) * 24 * time.Hour
}
