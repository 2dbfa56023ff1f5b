package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

var (
	ErrCollectionExists = errors.New("collection already exists")
	ErrRecordExists     = errors.New("record already exists")
	ErrEmptyEmbedding   = errors.New("record has empty embedding")
)

const MetaSource = "source"

type Record struct {
	ID        string
	Document  string
	Metadata  map[string]string
	Embedding []float32
}

type Hit struct {
	ID       string
	Document string
	Metadata map[string]string
	Score    float32
}

type Collection interface {
	Name() string
	// ExistingIDs reports which of ids are already stored.
	ExistingIDs(ctx context.Context, ids []string) ([]string, error)
	Delete(ctx context.Context, ids []string) error
	Add(ctx context.Context, records []Record) error
	// Query returns at most topK hits, most similar first.
	Query(ctx context.Context, vector []float32, topK int) ([]Hit, error)
	Count(ctx context.Context) (int, error)
}

type Store interface {
	GetCollection(ctx context.Context, name string) (Collection, bool, error)
	CreateCollection(ctx context.Context, name string) (Collection, error)
	Close() error
}

// GetOrCreateCollection is safe to race: losing a concurrent create is
// treated as success and the winner's collection is returned.
func GetOrCreateCollection(ctx context.Context, s Store, name string) (Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	c, found, err := s.GetCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get collection %s: %w", name, err)
	}
	if found {
		return c, nil
	}
	c, err = s.CreateCollection(ctx, name)
	if err == nil {
		logutil.GetLogger(ctx).Info("collection created", zap.String("collection", name))
		return c, nil
	}
	if !errors.Is(err, ErrCollectionExists) {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}
	c, found, err = s.GetCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get collection %s: %w", name, err)
	}
	if !found {
		return nil, fmt.Errorf("collection %s vanished after create", name)
	}
	return c, nil
}

// Upsert replaces records by id: stored records sharing an id are deleted
// before the new ones are added.
func Upsert(ctx context.Context, c Collection, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyEmbedding, r.ID)
		}
		ids = append(ids, r.ID)
	}
	existing, err := c.ExistingIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("list existing ids: %w", err)
	}
	if len(existing) > 0 {
		if err := c.Delete(ctx, existing); err != nil {
			return fmt.Errorf("delete existing ids: %w", err)
		}
	}
	err = c.Add(ctx, records)
	if !errors.Is(err, ErrRecordExists) {
		return err
	}
	// another writer slipped in between delete and add
	logutil.GetLogger(ctx).Warn("upsert raced with another writer, replacing",
		zap.String("collection", c.Name()), zap.Strings("ids", ids))
	if err := c.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete raced ids: %w", err)
	}
	return c.Add(ctx, records)
}

type Factory func(ctx context.Context, args interface{}) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(ctx context.Context, typ string, args interface{}) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(typ))
	if key == "" {
		return nil, fmt.Errorf("vector_store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported vector store type: %s", typ)
	}
	return factory(ctx, args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode vector store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode vector store config: %w", err)
	}
	return nil
}
