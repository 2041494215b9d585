// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Package vectorstore defines the uniform contract over heterogeneous vector
// backends and the document tracker that keeps a backend-independent view of
// what is indexed. One conforming implementation exists per backend
// technology under the subpackages; the factory selects and constructs the
// configured one at startup.
package vectorstore

import "context"

// MetadataDocumentID is the metadata key correlating chunks indexed together.
const MetadataDocumentID = "document_id"

// DefaultDocumentID is stamped into chunk metadata when no document id is
// supplied by the caller.
const DefaultDocumentID = "unknown"

// Chunk is the unit of retrievable text plus its provenance metadata
// (at minimum "source", optionally "page"). Immutable once created; the
// backend stores its own embedded copy.
type Chunk struct {
	Content  string
	Metadata map[string]any
}

// SearchResult is one nearest-neighbor hit. Distance keeps the backend's
// native value; Similarity is the normalized score in [0, 1] where 1 means
// identical, comparable across backends. The cross-backend normalization is
// a best-effort approximation, not a guaranteed identical ranking.
type SearchResult struct {
	Content    string
	Metadata   map[string]any
	Distance   float64
	Similarity float64
}

// Source identifies where a result came from.
type Source struct {
	Source string `json:"source"`
	Page   int    `json:"page,omitempty"`
}

// Store is the capability contract every vector backend implements.
//
// AddChunks embeds the chunk contents in one batch, writes vectors plus
// metadata (including the document id) to the backend, and registers the
// document with the tracker. An empty chunk list returns 0 without writes.
// Re-indexing the same document id appends; it does not deduplicate.
//
// Search embeds the query, runs nearest-neighbor search, converts the native
// distance to a normalized similarity, and filters by threshold (nil means
// the configured default). At most topK results, closest first; an empty
// index yields an empty slice.
//
// DeleteByDocumentID removes every chunk whose metadata carries the id, then
// unregisters it from the tracker. Idempotent.
//
// ListDocuments returns the sorted tracked document ids; backends with an
// efficient native distinct-value lookup may answer from their own storage
// instead.
type Store interface {
	AddChunks(ctx context.Context, chunks []Chunk, documentID string) (int, error)
	Search(ctx context.Context, query string, topK int, threshold *float64) ([]SearchResult, error)
	DeleteByDocumentID(ctx context.Context, documentID string) error
	ListDocuments(ctx context.Context) ([]string, error)
	Close() error
}

// StampDocumentID returns a copy of the chunk metadata with the document id
// set, defaulting to DefaultDocumentID when the id is empty.
func StampDocumentID(metadata map[string]any, documentID string) map[string]any {
	if documentID == "" {
		documentID = DefaultDocumentID
	}
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out[MetadataDocumentID] = documentID
	return out
}

// ClampSimilarity bounds a similarity to [0, 1].
func ClampSimilarity(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// CosineDistanceSimilarity converts a cosine distance in [0, 2] to a
// similarity in [0, 1]: 1 − distance/2, with out-of-range distances clamped.
func CosineDistanceSimilarity(distance float64) float64 {
	if distance < 0 {
		return 1
	}
	if distance > 2 {
		return 0
	}
	return 1 - distance/2
}

// ResolveThreshold picks the per-call threshold when given, otherwise the
// backend's configured default.
func ResolveThreshold(threshold *float64, configured float64) float64 {
	if threshold != nil {
		return *threshold
	}
	return configured
}

// SourcesOf extracts {source, page} provenance pairs from results, in order.
func SourcesOf(results []SearchResult) []Source {
	sources := make([]Source, 0, len(results))
	for _, r := range results {
		src := Source{}
		if v, ok := r.Metadata["source"].(string); ok {
			src.Source = v
		}
		switch p := r.Metadata["page"].(type) {
		case int:
			src.Page = p
		case int64:
			src.Page = int(p)
		case float64:
			src.Page = int(p)
		}
		sources = append(sources, src)
	}
	return sources
}
