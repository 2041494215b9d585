// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Package pinecone implements the vector store contract against the Pinecone
// serverless API. Vector ids are prefixed with the document id so deletion
// can list by prefix; serverless indexes reject metadata-filter deletes.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loam-dev/loam/internal/config"
	"github.com/loam-dev/loam/internal/embed"
	"github.com/loam-dev/loam/internal/vectorstore"
	loamerr "github.com/loam-dev/loam/pkg/errors"
)

var _ vectorstore.Store = (*Store)(nil)

// Store talks to one Pinecone index through its control and data planes.
type Store struct {
	apiKey    string
	index     string
	namespace string
	hostURL   string
	threshold float64
	embedder  embed.Embedder
	tracker   *vectorstore.Tracker
	client    *http.Client
}

// New resolves the index host, creating a serverless index when absent, and
// waits for it to become ready.
func New(ctx context.Context, cfg config.PineconeConfig, defaultThreshold float64, embedder embed.Embedder, tracker *vectorstore.Tracker) (*Store, error) {
	if cfg.APIKey == "" {
		return nil, loamerr.New(loamerr.CodeConfigMissingCredential, "pinecone backend requires vector.pinecone.api_key")
	}

	s := &Store{
		apiKey:    cfg.APIKey,
		index:     cfg.Index,
		namespace: cfg.Namespace,
		threshold: defaultThreshold,
		embedder:  embedder,
		tracker:   tracker,
		client:    &http.Client{Timeout: 30 * time.Second},
	}

	host, err := s.ensureIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	s.hostURL = host
	return s, nil
}

type indexDescription struct {
	Host   string `json:"host"`
	Status struct {
		Ready bool `json:"ready"`
	} `json:"status"`
}

func (s *Store) ensureIndex(ctx context.Context, cfg config.PineconeConfig) (string, error) {
	indexURL := cfg.ControllerURL + "/indexes/" + url.PathEscape(cfg.Index)

	status, respBody, err := s.request(ctx, http.MethodGet, indexURL, nil)
	if err != nil {
		return "", loamerr.Wrap(err, loamerr.CodeStoreSetupFailure, "describing pinecone index")
	}

	if status == http.StatusNotFound {
		body := map[string]any{
			"name":      cfg.Index,
			"dimension": cfg.Dimension,
			"metric":    cfg.Metric,
			"spec": map[string]any{
				"serverless": map[string]any{
					"cloud":  cfg.Cloud,
					"region": cfg.Region,
				},
			},
		}
		createStatus, createBody, err := s.request(ctx, http.MethodPost, cfg.ControllerURL+"/indexes", body)
		if err != nil {
			return "", loamerr.Wrap(err, loamerr.CodeStoreSetupFailure, "creating pinecone index")
		}
		if createStatus != http.StatusCreated && createStatus != http.StatusOK {
			return "", loamerr.Errorf(loamerr.CodeStoreSetupFailure, "creating pinecone index: status %d: %s", createStatus, createBody)
		}
	} else if status != http.StatusOK {
		return "", loamerr.Errorf(loamerr.CodeStoreSetupFailure, "describing pinecone index: status %d: %s", status, respBody)
	}

	// A fresh serverless index takes a few seconds to come up.
	for attempt := 0; attempt < 30; attempt++ {
		status, respBody, err = s.request(ctx, http.MethodGet, indexURL, nil)
		if err != nil {
			return "", loamerr.Wrap(err, loamerr.CodeStoreSetupFailure, "describing pinecone index")
		}
		if status == http.StatusOK {
			var desc indexDescription
			if err := json.Unmarshal(respBody, &desc); err != nil {
				return "", loamerr.Errorf(loamerr.CodeStoreSetupFailure, "decoding pinecone index description: %w", err)
			}
			if desc.Status.Ready {
				return desc.Host, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", loamerr.Wrap(ctx.Err(), loamerr.CodeStoreSetupFailure, "waiting for pinecone index")
		case <-time.After(time.Second):
		}
	}
	return "", loamerr.New(loamerr.CodeStoreSetupFailure, "pinecone index never became ready")
}

type pineconeVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata"`
}

// AddChunks upserts vectors whose ids carry the document id prefix.
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

	idPrefix := documentID
	if idPrefix == "" {
		idPrefix = vectorstore.DefaultDocumentID
	}

	upsert := make([]pineconeVector, len(chunks))
	for i, c := range chunks {
		metadata := vectorstore.StampDocumentID(c.Metadata, documentID)
		metadata["content"] = c.Content
		upsert[i] = pineconeVector{
			ID:       fmt.Sprintf("%s_%d_%s", idPrefix, i, uuid.NewString()[:8]),
			Values:   vectors[i],
			Metadata: metadata,
		}
	}

	body := map[string]any{"vectors": upsert, "namespace": s.namespace}
	status, respBody, err := s.request(ctx, http.MethodPost, s.hostURL+"/vectors/upsert", body)
	if err != nil {
		return 0, loamerr.Wrap(err, loamerr.CodeStoreAddFailure, "upserting pinecone vectors")
	}
	if status != http.StatusOK {
		return 0, loamerr.Errorf(loamerr.CodeStoreAddFailure, "upserting pinecone vectors: status %d: %s", status, respBody)
	}

	if err := s.tracker.Add(documentID); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Search queries with includeMetadata; Pinecone cosine scores pass through.
func (s *Store) Search(ctx context.Context, query string, topK int, threshold *float64) ([]vectorstore.SearchResult, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeStoreSearchFailure, "embedding query")
	}

	body := map[string]any{
		"vector":          vectors[0],
		"topK":            topK,
		"namespace":       s.namespace,
		"includeMetadata": true,
	}
	status, respBody, err := s.request(ctx, http.MethodPost, s.hostURL+"/query", body)
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeStoreSearchFailure, "querying pinecone")
	}
	if status != http.StatusOK {
		return nil, loamerr.Errorf(loamerr.CodeStoreSearchFailure, "querying pinecone: status %d: %s", status, respBody)
	}

	var parsed struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float64        `json:"score"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, loamerr.Errorf(loamerr.CodeStoreSearchFailure, "decoding pinecone query response: %w", err)
	}

	minThreshold := vectorstore.ResolveThreshold(threshold, s.threshold)
	results := make([]vectorstore.SearchResult, 0, len(parsed.Matches))
	for _, m := range parsed.Matches {
		similarity := vectorstore.ClampSimilarity(m.Score)
		if similarity < minThreshold {
			continue
		}
		content, _ := m.Metadata["content"].(string)
		metadata := make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			if k == "content" {
				continue
			}
			metadata[k] = v
		}
		results = append(results, vectorstore.SearchResult{
			Content:    content,
			Metadata:   metadata,
			Distance:   1 - m.Score,
			Similarity: similarity,
		})
	}
	return results, nil
}

// DeleteByDocumentID lists vector ids by the document prefix, page by page,
// and deletes them in batches.
func (s *Store) DeleteByDocumentID(ctx context.Context, documentID string) error {
	prefix := documentID
	if prefix == "" {
		prefix = vectorstore.DefaultDocumentID
	}

	token := ""
	for {
		listURL := fmt.Sprintf("%s/vectors/list?namespace=%s&prefix=%s",
			s.hostURL, url.QueryEscape(s.namespace), url.QueryEscape(prefix+"_"))
		if token != "" {
			listURL += "&paginationToken=" + url.QueryEscape(token)
		}

		status, respBody, err := s.request(ctx, http.MethodGet, listURL, nil)
		if err != nil {
			return loamerr.Wrap(err, loamerr.CodeStoreDeleteFailure, "listing pinecone vectors")
		}
		if status != http.StatusOK {
			return loamerr.Errorf(loamerr.CodeStoreDeleteFailure, "listing pinecone vectors: status %d: %s", status, respBody)
		}

		var parsed struct {
			Vectors []struct {
				ID string `json:"id"`
			} `json:"vectors"`
			Pagination struct {
				Next string `json:"next"`
			} `json:"pagination"`
		}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return loamerr.Errorf(loamerr.CodeStoreDeleteFailure, "decoding pinecone list response: %w", err)
		}
		if len(parsed.Vectors) == 0 {
			break
		}

		ids := make([]string, len(parsed.Vectors))
		for i, v := range parsed.Vectors {
			ids[i] = v.ID
		}
		body := map[string]any{"ids": ids, "namespace": s.namespace}
		status, respBody, err = s.request(ctx, http.MethodPost, s.hostURL+"/vectors/delete", body)
		if err != nil {
			return loamerr.Wrap(err, loamerr.CodeStoreDeleteFailure, "deleting pinecone vectors")
		}
		if status != http.StatusOK {
			return loamerr.Errorf(loamerr.CodeStoreDeleteFailure, "deleting pinecone vectors: status %d: %s", status, respBody)
		}

		token = parsed.Pagination.Next
		if token == "" {
			break
		}
	}

	return s.tracker.Remove(documentID)
}

func (s *Store) ListDocuments(_ context.Context) ([]string, error) {
	return s.tracker.List(), nil
}

func (s *Store) Close() error { return nil }

func (s *Store) request(ctx context.Context, method, fullURL string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", s.apiKey)

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
