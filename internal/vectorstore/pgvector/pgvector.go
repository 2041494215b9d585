// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Package pgvector implements the vector store contract on PostgreSQL with
// the pgvector extension. Unlike the other backends it answers
// ListDocuments from its own table, so the listing stays correct even when
// the tracker file is lost.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/loam-dev/loam/internal/config"
	"github.com/loam-dev/loam/internal/embed"
	"github.com/loam-dev/loam/internal/vectorstore"
	loamerr "github.com/loam-dev/loam/pkg/errors"
)

var _ vectorstore.Store = (*Store)(nil)

// pool is the slice of pgxpool.Pool the store uses.
type pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Close()
}

// Store talks to one pgvector-backed table.
type Store struct {
	pool      pool
	table     string
	threshold float64
	embedder  embed.Embedder
	tracker   *vectorstore.Tracker
}

// New connects, optionally creates the extension, and ensures the table and
// its ivfflat cosine index exist.
func New(ctx context.Context, cfg config.PgvectorConfig, defaultThreshold float64, embedder embed.Embedder, tracker *vectorstore.Tracker) (*Store, error) {
	if cfg.ConnectionString == "" {
		return nil, loamerr.New(loamerr.CodeConfigMissingCredential, "pgvector backend requires vector.pgvector.connection_string")
	}

	p, err := pgxpool.New(ctx, cfg.ConnectionString)
	if err != nil {
		return nil, loamerr.Errorf(loamerr.CodeStoreSetupFailure, "connecting to postgres: %w", err)
	}

	s := &Store{
		pool:      p,
		table:     pgx.Identifier{cfg.Table}.Sanitize(),
		threshold: defaultThreshold,
		embedder:  embedder,
		tracker:   tracker,
	}
	if err := s.ensureSchema(ctx, cfg); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context, cfg config.PgvectorConfig) error {
	if cfg.CreateExtension {
		if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return loamerr.Errorf(loamerr.CodeStoreSetupFailure, "creating vector extension: %w", err)
		}
	}

	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		content TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		embedding VECTOR(%d) NOT NULL
	)`, s.table, cfg.Dimension)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return loamerr.Errorf(loamerr.CodeStoreSetupFailure, "creating pgvector table: %w", err)
	}

	indexName := pgx.Identifier{cfg.Table + "_embedding_idx"}.Sanitize()
	createIndex := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)",
		indexName, s.table)
	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		return loamerr.Errorf(loamerr.CodeStoreSetupFailure, "creating pgvector index: %w", err)
	}
	return nil
}

// AddChunks inserts all rows in one batch.
func (s *Store) AddChunks(ctx context.Context, chunks []vectorstore.Chunk, documentID string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}
	vectors, err := s.embedder.Embed(ctx, contents)
	if err != nil {
		return 0, loamerr.Wrap(err, loamerr.CodeStoreAddFailure, "embedding chunks")
	}

	insert := fmt.Sprintf(
		"INSERT INTO %s (content, metadata, embedding) VALUES ($1, $2, $3::vector)", s.table)

	batch := &pgx.Batch{}
	for i, c := range chunks {
		metadata, err := json.Marshal(vectorstore.StampDocumentID(c.Metadata, documentID))
		if err != nil {
			return 0, loamerr.Errorf(loamerr.CodeStoreAddFailure, "encoding chunk metadata: %w", err)
		}
		batch.Queue(insert, c.Content, metadata, vectorLiteral(vectors[i]))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return 0, loamerr.Errorf(loamerr.CodeStoreAddFailure, "inserting pgvector rows: %w", err)
		}
	}

	if err := s.tracker.Add(documentID); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Search orders by cosine distance; similarity is 1 − distance/2.
func (s *Store) Search(ctx context.Context, query string, topK int, threshold *float64) ([]vectorstore.SearchResult, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeStoreSearchFailure, "embedding query")
	}

	sql := fmt.Sprintf(
		"SELECT content, metadata, embedding <=> $1::vector AS distance FROM %s ORDER BY distance LIMIT $2",
		s.table)
	rows, err := s.pool.Query(ctx, sql, vectorLiteral(vectors[0]), topK)
	if err != nil {
		return nil, loamerr.Errorf(loamerr.CodeStoreSearchFailure, "querying pgvector: %w", err)
	}
	defer rows.Close()

	minThreshold := vectorstore.ResolveThreshold(threshold, s.threshold)
	results := make([]vectorstore.SearchResult, 0, topK)
	for rows.Next() {
		var (
			content  string
			metaJSON []byte
			distance float64
		)
		if err := rows.Scan(&content, &metaJSON, &distance); err != nil {
			return nil, loamerr.Errorf(loamerr.CodeStoreSearchFailure, "scanning pgvector row: %w", err)
		}
		similarity := vectorstore.CosineDistanceSimilarity(distance)
		if similarity < minThreshold {
			continue
		}
		var metadata map[string]any
		if err := json.Unmarshal(metaJSON, &metadata); err != nil {
			return nil, loamerr.Errorf(loamerr.CodeStoreSearchFailure, "decoding row metadata: %w", err)
		}
		results = append(results, vectorstore.SearchResult{
			Content:    content,
			Metadata:   metadata,
			Distance:   distance,
			Similarity: similarity,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, loamerr.Errorf(loamerr.CodeStoreSearchFailure, "reading pgvector rows: %w", err)
	}
	return results, nil
}

// DeleteByDocumentID removes rows matching the metadata document id.
func (s *Store) DeleteByDocumentID(ctx context.Context, documentID string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE metadata->>'%s' = $1",
		s.table, vectorstore.MetadataDocumentID)
	if _, err := s.pool.Exec(ctx, sql, documentID); err != nil {
		return loamerr.Errorf(loamerr.CodeStoreDeleteFailure, "deleting pgvector rows: %w", err)
	}
	return s.tracker.Remove(documentID)
}

// ListDocuments answers from the table itself via a DISTINCT scan.
func (s *Store) ListDocuments(ctx context.Context) ([]string, error) {
	sql := fmt.Sprintf("SELECT DISTINCT metadata->>'%s' FROM %s ORDER BY 1",
		vectorstore.MetadataDocumentID, s.table)
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, loamerr.Errorf(loamerr.CodeStoreListFailure, "listing pgvector documents: %w", err)
	}
	defer rows.Close()

	docs := make([]string, 0)
	for rows.Next() {
		var id *string
		if err := rows.Scan(&id); err != nil {
			return nil, loamerr.Errorf(loamerr.CodeStoreListFailure, "scanning document id: %w", err)
		}
		if id != nil && *id != "" {
			docs = append(docs, *id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, loamerr.Errorf(loamerr.CodeStoreListFailure, "reading document ids: %w", err)
	}
	return docs, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// vectorLiteral renders a pgvector input literal, e.g. "[0.1,0.2,0.3]".
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, val := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(val), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
