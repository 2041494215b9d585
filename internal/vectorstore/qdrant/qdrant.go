// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Package qdrant implements the vector store contract against the Qdrant
// HTTP API. Qdrant reports cosine similarity scores directly, so no distance
// conversion is needed beyond clamping.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/loam-dev/loam/internal/config"
	"github.com/loam-dev/loam/internal/embed"
	"github.com/loam-dev/loam/internal/vectorstore"
	loamerr "github.com/loam-dev/loam/pkg/errors"
)

var _ vectorstore.Store = (*Store)(nil)

// Store talks to one Qdrant collection.
type Store struct {
	baseURL    string
	apiKey     string
	collection string
	dimension  int
	threshold  float64
	embedder   embed.Embedder
	tracker    *vectorstore.Tracker
	client     *http.Client
}

// New ensures the collection exists and returns a ready store.
func New(ctx context.Context, cfg config.QdrantConfig, defaultThreshold float64, embedder embed.Embedder, tracker *vectorstore.Tracker) (*Store, error) {
	s := &Store{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		threshold:  defaultThreshold,
		embedder:   embedder,
		tracker:    tracker,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type scoredPoint struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func (s *Store) ensureCollection(ctx context.Context) error {
	status, _, err := s.do(ctx, http.MethodGet, "/collections/"+s.collection, nil)
	if err != nil {
		return loamerr.Wrap(err, loamerr.CodeStoreSetupFailure, "checking qdrant collection")
	}
	if status == http.StatusOK {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	status, respBody, err := s.do(ctx, http.MethodPut, "/collections/"+s.collection, body)
	if err != nil {
		return loamerr.Wrap(err, loamerr.CodeStoreSetupFailure, "creating qdrant collection")
	}
	if status != http.StatusOK {
		return loamerr.Errorf(loamerr.CodeStoreSetupFailure, "creating qdrant collection: status %d: %s", status, respBody)
	}
	return nil
}

// AddChunks upserts one point per chunk under a random UUID.
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

	points := make([]point, len(chunks))
	for i, c := range chunks {
		payload := vectorstore.StampDocumentID(c.Metadata, documentID)
		payload["content"] = c.Content
		points[i] = point{
			ID:      uuid.NewString(),
			Vector:  vectors[i],
			Payload: payload,
		}
	}

	status, respBody, err := s.do(ctx, http.MethodPut, "/collections/"+s.collection+"/points?wait=true", map[string]any{"points": points})
	if err != nil {
		return 0, loamerr.Wrap(err, loamerr.CodeStoreAddFailure, "upserting qdrant points")
	}
	if status != http.StatusOK {
		return 0, loamerr.Errorf(loamerr.CodeStoreAddFailure, "upserting qdrant points: status %d: %s", status, respBody)
	}

	if err := s.tracker.Add(documentID); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Search lets Qdrant apply the score threshold server-side.
func (s *Store) Search(ctx context.Context, query string, topK int, threshold *float64) ([]vectorstore.SearchResult, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeStoreSearchFailure, "embedding query")
	}

	body := map[string]any{
		"vector":          vectors[0],
		"limit":           topK,
		"with_payload":    true,
		"score_threshold": vectorstore.ResolveThreshold(threshold, s.threshold),
	}
	status, respBody, err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/search", body)
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeStoreSearchFailure, "searching qdrant")
	}
	if status != http.StatusOK {
		return nil, loamerr.Errorf(loamerr.CodeStoreSearchFailure, "searching qdrant: status %d: %s", status, respBody)
	}

	var parsed struct {
		Result []scoredPoint `json:"result"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, loamerr.Errorf(loamerr.CodeStoreSearchFailure, "decoding qdrant search response: %w", err)
	}

	results := make([]vectorstore.SearchResult, 0, len(parsed.Result))
	for _, p := range parsed.Result {
		content, _ := p.Payload["content"].(string)
		metadata := make(map[string]any, len(p.Payload))
		for k, v := range p.Payload {
			if k == "content" {
				continue
			}
			metadata[k] = v
		}
		results = append(results, vectorstore.SearchResult{
			Content:    content,
			Metadata:   metadata,
			Distance:   1 - p.Score,
			Similarity: vectorstore.ClampSimilarity(p.Score),
		})
	}
	return results, nil
}

// DeleteByDocumentID issues a filtered delete on the document id payload key.
func (s *Store) DeleteByDocumentID(ctx context.Context, documentID string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{
					"key":   vectorstore.MetadataDocumentID,
					"match": map[string]any{"value": documentID},
				},
			},
		},
	}
	status, respBody, err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/delete?wait=true", body)
	if err != nil {
		return loamerr.Wrap(err, loamerr.CodeStoreDeleteFailure, "deleting qdrant points")
	}
	if status != http.StatusOK {
		return loamerr.Errorf(loamerr.CodeStoreDeleteFailure, "deleting qdrant points: status %d: %s", status, respBody)
	}
	return s.tracker.Remove(documentID)
}

func (s *Store) ListDocuments(_ context.Context) ([]string, error) {
	return s.tracker.List(), nil
}

func (s *Store) Close() error { return nil }

func (s *Store) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
