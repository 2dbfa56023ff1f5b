package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/ragdesk/internal/db"
	"github.com/xxxsen/ragdesk/internal/pkg/dbutil"
)

var pgSchema = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS vector_collections (
		name TEXT PRIMARY KEY,
		ctime BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS vector_records (
		seq BIGSERIAL PRIMARY KEY,
		collection TEXT NOT NULL,
		record_id TEXT NOT NULL,
		document TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		embedding vector NOT NULL,
		UNIQUE (collection, record_id)
	)`,
}

type pgConfig struct {
	DSN string `json:"dsn"`
}

type pgStore struct {
	db *sql.DB
}

func createPGStore(ctx context.Context, args interface{}) (Store, error) {
	cfg := &pgConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pgvector dsn is required")
	}
	conn, err := db.OpenPostgres(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open pgvector store: %w", err)
	}
	s, err := NewPGStore(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func NewPGStore(ctx context.Context, conn *sql.DB) (Store, error) {
	for _, q := range pgSchema {
		if _, err := conn.ExecContext(ctx, q); err != nil {
			return nil, fmt.Errorf("init pgvector schema: %w", err)
		}
	}
	return &pgStore{db: conn}, nil
}

func (s *pgStore) GetCollection(ctx context.Context, name string) (Collection, bool, error) {
	var got string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM vector_collections WHERE name = $1`, name).Scan(&got)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &pgCollection{db: s.db, name: got}, true, nil
}

func (s *pgStore) CreateCollection(ctx context.Context, name string) (Collection, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO vector_collections (name, ctime) VALUES ($1, $2)`, name, time.Now().Unix())
	if err != nil {
		if dbutil.IsConflict(err) {
			return nil, ErrCollectionExists
		}
		return nil, err
	}
	return &pgCollection{db: s.db, name: name}, nil
}

func (s *pgStore) Close() error {
	return s.db.Close()
}

type pgCollection struct {
	db   *sql.DB
	name string
}

func (c *pgCollection) Name() string {
	return c.name
}

func (c *pgCollection) ExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT record_id FROM vector_records WHERE collection = $1 AND record_id = ANY($2)`,
		c.name, pq.Array(ids))
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

func (c *pgCollection) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM vector_records WHERE collection = $1 AND record_id = ANY($2)`,
		c.name, pq.Array(ids))
	return err
}

func (c *pgCollection) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, r := range records {
		if len(r.Embedding) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyEmbedding, r.ID)
		}
		meta, err := json.Marshal(nonNilMeta(r.Metadata))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO vector_records (collection, record_id, document, metadata, embedding) VALUES ($1, $2, $3, $4, $5)`,
			c.name, r.ID, r.Document, string(meta), pgvector.NewVector(r.Embedding))
		if err != nil {
			if dbutil.IsConflict(err) {
				return ErrRecordExists
			}
			return err
		}
	}
	return tx.Commit()
}

// Query ranks by cosine distance. postgres rejects an empty or mismatched
// vector, which surfaces as an error to the caller.
func (c *pgCollection) Query(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return []Hit{}, nil
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT record_id, document, metadata, 1 - (embedding <=> $2) AS score
		FROM vector_records
		WHERE collection = $1
		ORDER BY embedding <=> $2, seq
		LIMIT $3
	`, c.name, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	hits := make([]Hit, 0, topK)
	for rows.Next() {
		var (
			hit   Hit
			meta  []byte
			score float64
		)
		if err := rows.Scan(&hit.ID, &hit.Document, &meta, &score); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &hit.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", hit.ID, err)
		}
		hit.Score = float32(score)
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (c *pgCollection) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM vector_records WHERE collection = $1`, c.name).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func init() {
	Register("pgvector", createPGStore)
}
