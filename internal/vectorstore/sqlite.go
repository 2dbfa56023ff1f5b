package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/ragdesk/internal/db"
	"github.com/xxxsen/ragdesk/internal/pkg/dbutil"
)

const (
	sqliteCollectionTable = "vector_collections"
	sqliteRecordTable     = "vector_records"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS vector_collections (
		name TEXT PRIMARY KEY,
		ctime INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS vector_records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		record_id TEXT NOT NULL,
		document TEXT NOT NULL,
		metadata TEXT NOT NULL,
		embedding BLOB NOT NULL,
		UNIQUE (collection, record_id)
	)`,
}

type sqliteConfig struct {
	Path string `json:"path"`
}

// sqliteStore keeps vectors as JSON blobs and ranks them by brute-force
// cosine similarity. It is meant for single node deployments and tests.
type sqliteStore struct {
	db *sql.DB
}

func createSQLiteStore(ctx context.Context, args interface{}) (Store, error) {
	cfg := &sqliteConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		cfg.Path = "./data/vectors.db"
	}
	conn, err := db.OpenSQLite(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite vector store: %w", err)
	}
	s, err := NewSQLiteStore(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLiteStore(ctx context.Context, conn *sql.DB) (Store, error) {
	for _, q := range sqliteSchema {
		if _, err := conn.ExecContext(ctx, q); err != nil {
			return nil, fmt.Errorf("init sqlite vector schema: %w", err)
		}
	}
	return &sqliteStore{db: conn}, nil
}

func (s *sqliteStore) GetCollection(ctx context.Context, name string) (Collection, bool, error) {
	sqlStr, args, err := builder.BuildSelect(sqliteCollectionTable, map[string]interface{}{"name": name}, []string{"name"})
	if err != nil {
		return nil, false, err
	}
	var got string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&got); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &sqliteCollection{db: s.db, name: got}, true, nil
}

func (s *sqliteStore) CreateCollection(ctx context.Context, name string) (Collection, error) {
	sqlStr, args, err := builder.BuildInsert(sqliteCollectionTable, []map[string]interface{}{{
		"name":  name,
		"ctime": time.Now().Unix(),
	}})
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return nil, ErrCollectionExists
		}
		return nil, err
	}
	return &sqliteCollection{db: s.db, name: name}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

type sqliteCollection struct {
	db   *sql.DB
	name string
}

func (c *sqliteCollection) Name() string {
	return c.name
}

func (c *sqliteCollection) ExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	where := map[string]interface{}{
		"collection":   c.name,
		"record_id in": toInterfaces(ids),
	}
	sqlStr, args, err := builder.BuildSelect(sqliteRecordTable, where, []string{"record_id"})
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (c *sqliteCollection) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	sqlStr, args, err := builder.BuildDelete(sqliteRecordTable, map[string]interface{}{
		"collection":   c.name,
		"record_id in": toInterfaces(ids),
	})
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (c *sqliteCollection) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	data := make([]map[string]interface{}, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyEmbedding, r.ID)
		}
		meta, err := json.Marshal(nonNilMeta(r.Metadata))
		if err != nil {
			return err
		}
		blob, err := json.Marshal(r.Embedding)
		if err != nil {
			return err
		}
		data = append(data, map[string]interface{}{
			"collection": c.name,
			"record_id":  r.ID,
			"document":   r.Document,
			"metadata":   string(meta),
			"embedding":  blob,
		})
	}
	sqlStr, args, err := builder.BuildInsert(sqliteRecordTable, data)
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return ErrRecordExists
		}
		return err
	}
	return nil
}

// Query scores every record of the collection. A vector whose length does not
// match a record (the empty vector included) scores 0 against it, so a
// degenerate query returns the first topK records in insertion order.
func (c *sqliteCollection) Query(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return []Hit{}, nil
	}
	where := map[string]interface{}{
		"collection": c.name,
		"_orderby":   "seq asc",
	}
	sqlStr, args, err := builder.BuildSelect(sqliteRecordTable, where, []string{"record_id", "document", "metadata", "embedding"})
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	hits := make([]Hit, 0)
	for rows.Next() {
		var (
			hit  Hit
			meta string
			blob []byte
			emb  []float32
		)
		if err := rows.Scan(&hit.ID, &hit.Document, &meta, &blob); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(blob, &emb); err != nil {
			return nil, fmt.Errorf("decode embedding of %s: %w", hit.ID, err)
		}
		if err := json.Unmarshal([]byte(meta), &hit.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", hit.ID, err)
		}
		hit.Score = cosineSimilarity(vector, emb)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (c *sqliteCollection) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM vector_records WHERE collection = ?`, c.name).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func toInterfaces(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func nonNilMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func init() {
	Register("sqlite", createSQLiteStore)
}
