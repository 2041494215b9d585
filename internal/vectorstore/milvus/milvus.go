// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Package milvus implements the vector store contract against the Milvus
// RESTful v2 API. Collections are quick-created with dynamic fields, so
// chunk metadata rides along without a declared schema.
package milvus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loam-dev/loam/internal/config"
	"github.com/loam-dev/loam/internal/embed"
	"github.com/loam-dev/loam/internal/vectorstore"
	loamerr "github.com/loam-dev/loam/pkg/errors"
)

var _ vectorstore.Store = (*Store)(nil)

// Store talks to one Milvus collection.
type Store struct {
	baseURL    string
	authToken  string
	collection string
	dimension  int
	indexType  string
	nlist      int
	nprobe     int
	threshold  float64
	embedder   embed.Embedder
	tracker    *vectorstore.Tracker
	client     *http.Client
}

// New ensures the collection exists and returns a ready store.
func New(ctx context.Context, cfg config.MilvusConfig, defaultThreshold float64, embedder embed.Embedder, tracker *vectorstore.Tracker) (*Store, error) {
	s := &Store{
		baseURL:    cfg.URI,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		indexType:  cfg.IndexType,
		nlist:      cfg.NList,
		nprobe:     cfg.NProbe,
		threshold:  defaultThreshold,
		embedder:   embedder,
		tracker:    tracker,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	if cfg.User != "" {
		s.authToken = cfg.User + ":" + cfg.Password
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

type milvusResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (r *milvusResponse) ok() bool {
	return r.Code == 0 || r.Code == 200
}

func (s *Store) ensureCollection(ctx context.Context) error {
	resp, err := s.post(ctx, "/v2/vectordb/collections/has", map[string]any{
		"collectionName": s.collection,
	})
	if err != nil {
		return loamerr.Wrap(err, loamerr.CodeStoreSetupFailure, "checking milvus collection")
	}
	if !resp.ok() {
		return loamerr.Errorf(loamerr.CodeStoreSetupFailure, "checking milvus collection: %s", resp.Message)
	}

	var has struct {
		Has bool `json:"has"`
	}
	if err := json.Unmarshal(resp.Data, &has); err != nil {
		return loamerr.Errorf(loamerr.CodeStoreSetupFailure, "decoding milvus has response: %w", err)
	}
	if has.Has {
		return nil
	}

	create := map[string]any{
		"collectionName": s.collection,
		"dimension":      s.dimension,
		"metricType":     "COSINE",
	}
	if s.indexType != "" {
		indexParams := map[string]any{}
		if s.nlist > 0 {
			indexParams["nlist"] = s.nlist
		}
		create["indexParams"] = []map[string]any{{
			"fieldName":  "vector",
			"indexName":  "vector_index",
			"metricType": "COSINE",
			"indexType":  s.indexType,
			"params":     indexParams,
		}}
	}
	resp, err = s.post(ctx, "/v2/vectordb/collections/create", create)
	if err != nil {
		return loamerr.Wrap(err, loamerr.CodeStoreSetupFailure, "creating milvus collection")
	}
	if !resp.ok() {
		return loamerr.Errorf(loamerr.CodeStoreSetupFailure, "creating milvus collection: %s", resp.Message)
	}
	return nil
}

// AddChunks inserts one entity per chunk; metadata keys become dynamic
// fields.
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

	rows := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		row := vectorstore.StampDocumentID(c.Metadata, documentID)
		row["content"] = c.Content
		row["vector"] = vectors[i]
		rows[i] = row
	}

	resp, err := s.post(ctx, "/v2/vectordb/entities/insert", map[string]any{
		"collectionName": s.collection,
		"data":           rows,
	})
	if err != nil {
		return 0, loamerr.Wrap(err, loamerr.CodeStoreAddFailure, "inserting milvus entities")
	}
	if !resp.ok() {
		return 0, loamerr.Errorf(loamerr.CodeStoreAddFailure, "inserting milvus entities: %s", resp.Message)
	}

	if err := s.tracker.Add(documentID); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Search runs an ANN search; similarity is 1 − distance, clamped.
func (s *Store) Search(ctx context.Context, query string, topK int, threshold *float64) ([]vectorstore.SearchResult, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeStoreSearchFailure, "embedding query")
	}

	search := map[string]any{
		"collectionName": s.collection,
		"data":           [][]float32{vectors[0]},
		"annsField":      "vector",
		"limit":          topK,
		"outputFields":   []string{"*"},
	}
	if s.nprobe > 0 {
		search["searchParams"] = map[string]any{
			"params": map[string]any{"nprobe": s.nprobe},
		}
	}
	resp, err := s.post(ctx, "/v2/vectordb/entities/search", search)
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeStoreSearchFailure, "searching milvus")
	}
	if !resp.ok() {
		return nil, loamerr.Errorf(loamerr.CodeStoreSearchFailure, "searching milvus: %s", resp.Message)
	}

	var hits []map[string]any
	if err := json.Unmarshal(resp.Data, &hits); err != nil {
		return nil, loamerr.Errorf(loamerr.CodeStoreSearchFailure, "decoding milvus search response: %w", err)
	}

	minThreshold := vectorstore.ResolveThreshold(threshold, s.threshold)
	results := make([]vectorstore.SearchResult, 0, len(hits))
	for _, hit := range hits {
		distance, _ := hit["distance"].(float64)
		similarity := vectorstore.ClampSimilarity(1 - distance)
		if similarity < minThreshold {
			continue
		}
		content, _ := hit["content"].(string)
		metadata := make(map[string]any)
		for k, v := range hit {
			switch k {
			case "content", "distance", "vector", "id":
				continue
			}
			metadata[k] = v
		}
		results = append(results, vectorstore.SearchResult{
			Content:    content,
			Metadata:   metadata,
			Distance:   distance,
			Similarity: similarity,
		})
	}
	return results, nil
}

// DeleteByDocumentID deletes by filter expression. Single quotes in the id
// are escaped so the expression stays well-formed.
func (s *Store) DeleteByDocumentID(ctx context.Context, documentID string) error {
	escaped := strings.ReplaceAll(documentID, `'`, `\'`)
	resp, err := s.post(ctx, "/v2/vectordb/entities/delete", map[string]any{
		"collectionName": s.collection,
		"filter":         fmt.Sprintf("%s == '%s'", vectorstore.MetadataDocumentID, escaped),
	})
	if err != nil {
		return loamerr.Wrap(err, loamerr.CodeStoreDeleteFailure, "deleting milvus entities")
	}
	if !resp.ok() {
		return loamerr.Errorf(loamerr.CodeStoreDeleteFailure, "deleting milvus entities: %s", resp.Message)
	}
	return s.tracker.Remove(documentID)
}

func (s *Store) ListDocuments(_ context.Context) ([]string, error) {
	return s.tracker.List(), nil
}

func (s *Store) Close() error { return nil }

func (s *Store) post(ctx context.Context, path string, body any) (*milvusResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	}

	var parsed milvusResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &parsed, nil
}
