// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Package chroma implements the vector store contract against the Chroma v2
// HTTP API. Chroma reports cosine distances; similarity is 1 − distance/2.
package chroma

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

// Store talks to one Chroma collection, resolved to its server-side id at
// construction time.
type Store struct {
	baseURL      string
	tenant       string
	database     string
	collectionID string
	threshold    float64
	embedder     embed.Embedder
	tracker      *vectorstore.Tracker
	client       *http.Client
}

// New resolves (or creates) the collection and returns a ready store.
func New(ctx context.Context, cfg config.ChromaConfig, defaultThreshold float64, embedder embed.Embedder, tracker *vectorstore.Tracker) (*Store, error) {
	s := &Store{
		baseURL:   cfg.URL,
		tenant:    cfg.Tenant,
		database:  cfg.Database,
		threshold: defaultThreshold,
		embedder:  embedder,
		tracker:   tracker,
		client:    &http.Client{Timeout: 30 * time.Second},
	}

	body := map[string]any{
		"name":          cfg.Collection,
		"get_or_create": true,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
	}
	status, respBody, err := s.do(ctx, http.MethodPost, s.collectionsPath(), body)
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeStoreSetupFailure, "creating chroma collection")
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, loamerr.Errorf(loamerr.CodeStoreSetupFailure, "creating chroma collection: status %d: %s", status, respBody)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil || created.ID == "" {
		return nil, loamerr.Errorf(loamerr.CodeStoreSetupFailure, "decoding chroma collection response: %s", respBody)
	}
	s.collectionID = created.ID
	return s, nil
}

func (s *Store) collectionsPath() string {
	return fmt.Sprintf("/api/v2/tenants/%s/databases/%s/collections", s.tenant, s.database)
}

func (s *Store) collectionPath(suffix string) string {
	return s.collectionsPath() + "/" + s.collectionID + "/" + suffix
}

// AddChunks writes ids, embeddings, documents, and metadatas in one call.
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

	ids := make([]string, len(chunks))
	metadatas := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		ids[i] = uuid.NewString()
		metadatas[i] = vectorstore.StampDocumentID(c.Metadata, documentID)
	}

	body := map[string]any{
		"ids":        ids,
		"embeddings": vectors,
		"documents":  contents,
		"metadatas":  metadatas,
	}
	status, respBody, err := s.do(ctx, http.MethodPost, s.collectionPath("add"), body)
	if err != nil {
		return 0, loamerr.Wrap(err, loamerr.CodeStoreAddFailure, "adding chroma embeddings")
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return 0, loamerr.Errorf(loamerr.CodeStoreAddFailure, "adding chroma embeddings: status %d: %s", status, respBody)
	}

	if err := s.tracker.Add(documentID); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Search overfetches so that threshold filtering still leaves topK
// candidates, and falls back to the closest hits when the threshold filters
// everything out.
func (s *Store) Search(ctx context.Context, query string, topK int, threshold *float64) ([]vectorstore.SearchResult, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeStoreSearchFailure, "embedding query")
	}

	fetchK := 2 * topK
	if fetchK < 20 {
		fetchK = 20
	}

	body := map[string]any{
		"query_embeddings": [][]float32{vectors[0]},
		"n_results":        fetchK,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	status, respBody, err := s.do(ctx, http.MethodPost, s.collectionPath("query"), body)
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeStoreSearchFailure, "querying chroma")
	}
	if status != http.StatusOK {
		return nil, loamerr.Errorf(loamerr.CodeStoreSearchFailure, "querying chroma: status %d: %s", status, respBody)
	}

	var parsed struct {
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float64        `json:"distances"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, loamerr.Errorf(loamerr.CodeStoreSearchFailure, "decoding chroma query response: %w", err)
	}
	if len(parsed.Documents) == 0 {
		return []vectorstore.SearchResult{}, nil
	}

	var candidates []vectorstore.SearchResult
	for i, doc := range parsed.Documents[0] {
		var metadata map[string]any
		if len(parsed.Metadatas) > 0 && i < len(parsed.Metadatas[0]) {
			metadata = parsed.Metadatas[0][i]
		}
		var distance float64
		if len(parsed.Distances) > 0 && i < len(parsed.Distances[0]) {
			distance = parsed.Distances[0][i]
		}
		candidates = append(candidates, vectorstore.SearchResult{
			Content:    doc,
			Metadata:   metadata,
			Distance:   distance,
			Similarity: vectorstore.CosineDistanceSimilarity(distance),
		})
		if len(candidates) >= fetchK {
			break
		}
	}

	minThreshold := vectorstore.ResolveThreshold(threshold, s.threshold)
	results := make([]vectorstore.SearchResult, 0, topK)
	for _, c := range candidates {
		if c.Similarity >= minThreshold {
			results = append(results, c)
			if len(results) >= topK {
				break
			}
		}
	}
	if len(results) == 0 && len(candidates) > 0 {
		if len(candidates) > topK {
			candidates = candidates[:topK]
		}
		return candidates, nil
	}
	return results, nil
}

// DeleteByDocumentID deletes via a metadata where-filter.
func (s *Store) DeleteByDocumentID(ctx context.Context, documentID string) error {
	body := map[string]any{
		"where": map[string]any{vectorstore.MetadataDocumentID: documentID},
	}
	status, respBody, err := s.do(ctx, http.MethodPost, s.collectionPath("delete"), body)
	if err != nil {
		return loamerr.Wrap(err, loamerr.CodeStoreDeleteFailure, "deleting chroma embeddings")
	}
	if status != http.StatusOK {
		return loamerr.Errorf(loamerr.CodeStoreDeleteFailure, "deleting chroma embeddings: status %d: %s", status, respBody)
	}
	return s.tracker.Remove(documentID)
}

func (s *Store) ListDocuments(_ context.Context) ([]string, error) {
	return s.tracker.List(), nil
}

func (s *Store) Close() error { return nil }

func (s *Store) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
