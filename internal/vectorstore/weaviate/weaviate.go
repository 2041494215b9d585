// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Package weaviate implements the vector store contract against the Weaviate
// REST and GraphQL APIs. Objects carry a fixed property schema (content,
// document_id, source, page); search uses nearVector with vectorizer "none".
package weaviate

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

// Store talks to one Weaviate class.
type Store struct {
	baseURL   string
	apiKey    string
	class     string
	threshold float64
	embedder  embed.Embedder
	tracker   *vectorstore.Tracker
	client    *http.Client
}

// New ensures the class exists and returns a ready store. Weaviate requires
// capitalized class names; the configured collection name is normalized.
func New(ctx context.Context, cfg config.WeaviateConfig, defaultThreshold float64, embedder embed.Embedder, tracker *vectorstore.Tracker) (*Store, error) {
	s := &Store{
		baseURL:   cfg.URL,
		apiKey:    cfg.APIKey,
		class:     capitalize(cfg.Collection),
		threshold: defaultThreshold,
		embedder:  embedder,
		tracker:   tracker,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	if err := s.ensureClass(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func capitalize(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func (s *Store) ensureClass(ctx context.Context) error {
	status, _, err := s.do(ctx, http.MethodGet, "/v1/schema/"+s.class, nil)
	if err != nil {
		return loamerr.Wrap(err, loamerr.CodeStoreSetupFailure, "checking weaviate class")
	}
	if status == http.StatusOK {
		return nil
	}

	body := map[string]any{
		"class":      s.class,
		"vectorizer": "none",
		"properties": []map[string]any{
			{"name": "content", "dataType": []string{"text"}},
			{"name": vectorstore.MetadataDocumentID, "dataType": []string{"text"}},
			{"name": "source", "dataType": []string{"text"}},
			{"name": "page", "dataType": []string{"int"}},
		},
	}
	status, respBody, err := s.do(ctx, http.MethodPost, "/v1/schema", body)
	if err != nil {
		return loamerr.Wrap(err, loamerr.CodeStoreSetupFailure, "creating weaviate class")
	}
	if status != http.StatusOK {
		return loamerr.Errorf(loamerr.CodeStoreSetupFailure, "creating weaviate class: status %d: %s", status, respBody)
	}
	return nil
}

// AddChunks batches objects with precomputed vectors.
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

	objects := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		metadata := vectorstore.StampDocumentID(c.Metadata, documentID)
		properties := map[string]any{
			"content":                     c.Content,
			vectorstore.MetadataDocumentID: metadata[vectorstore.MetadataDocumentID],
		}
		if v, ok := metadata["source"]; ok {
			properties["source"] = v
		}
		if v, ok := metadata["page"]; ok {
			properties["page"] = v
		}
		objects[i] = map[string]any{
			"class":      s.class,
			"vector":     vectors[i],
			"properties": properties,
		}
	}

	status, respBody, err := s.do(ctx, http.MethodPost, "/v1/batch/objects", map[string]any{"objects": objects})
	if err != nil {
		return 0, loamerr.Wrap(err, loamerr.CodeStoreAddFailure, "batching weaviate objects")
	}
	if status != http.StatusOK {
		return 0, loamerr.Errorf(loamerr.CodeStoreAddFailure, "batching weaviate objects: status %d: %s", status, respBody)
	}

	if err := s.tracker.Add(documentID); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Search runs a GraphQL nearVector query. Weaviate reports cosine distance;
// similarity is 1 − distance, clamped.
func (s *Store) Search(ctx context.Context, query string, topK int, threshold *float64) ([]vectorstore.SearchResult, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeStoreSearchFailure, "embedding query")
	}

	vecJSON, err := json.Marshal(vectors[0])
	if err != nil {
		return nil, loamerr.Errorf(loamerr.CodeStoreSearchFailure, "encoding query vector: %w", err)
	}

	gql := fmt.Sprintf(`{
  Get {
    %s(nearVector: {vector: %s}, limit: %d) {
      content
      document_id
      source
      page
      _additional { distance }
    }
  }
}`, s.class, vecJSON, topK)

	status, respBody, err := s.do(ctx, http.MethodPost, "/v1/graphql", map[string]any{"query": gql})
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeStoreSearchFailure, "querying weaviate")
	}
	if status != http.StatusOK {
		return nil, loamerr.Errorf(loamerr.CodeStoreSearchFailure, "querying weaviate: status %d: %s", status, respBody)
	}

	var parsed struct {
		Data   map[string]map[string][]weaviateObject `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, loamerr.Errorf(loamerr.CodeStoreSearchFailure, "decoding weaviate response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, loamerr.Errorf(loamerr.CodeStoreSearchFailure, "querying weaviate: %s", parsed.Errors[0].Message)
	}

	objects := parsed.Data["Get"][s.class]
	minThreshold := vectorstore.ResolveThreshold(threshold, s.threshold)

	results := make([]vectorstore.SearchResult, 0, len(objects))
	for _, obj := range objects {
		similarity := vectorstore.ClampSimilarity(1 - obj.Additional.Distance)
		if similarity < minThreshold {
			continue
		}
		metadata := map[string]any{
			vectorstore.MetadataDocumentID: obj.DocumentID,
		}
		if obj.Source != "" {
			metadata["source"] = obj.Source
		}
		if obj.Page != 0 {
			metadata["page"] = obj.Page
		}
		results = append(results, vectorstore.SearchResult{
			Content:    obj.Content,
			Metadata:   metadata,
			Distance:   obj.Additional.Distance,
			Similarity: similarity,
		})
	}
	return results, nil
}

type weaviateObject struct {
	Content    string `json:"content"`
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	Page       int    `json:"page"`
	Additional struct {
		Distance float64 `json:"distance"`
	} `json:"_additional"`
}

// DeleteByDocumentID runs a batch delete matching the document id property.
func (s *Store) DeleteByDocumentID(ctx context.Context, documentID string) error {
	body := map[string]any{
		"match": map[string]any{
			"class": s.class,
			"where": map[string]any{
				"path":      []string{vectorstore.MetadataDocumentID},
				"operator":  "Equal",
				"valueText": documentID,
			},
		},
	}
	status, respBody, err := s.do(ctx, http.MethodDelete, "/v1/batch/objects", body)
	if err != nil {
		return loamerr.Wrap(err, loamerr.CodeStoreDeleteFailure, "deleting weaviate objects")
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return loamerr.Errorf(loamerr.CodeStoreDeleteFailure, "deleting weaviate objects: status %d: %s", status, respBody)
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
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
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
