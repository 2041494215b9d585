// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Package local implements the embedded vector backend: an HNSW graph
// persisted to an index file plus a JSON metadata map keyed by internal
// vector id. It is the zero-config default backend.
package local

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/renameio"
	"github.com/loam-dev/loam/internal/config"
	"github.com/loam-dev/loam/internal/embed"
	"github.com/loam-dev/loam/internal/vectorstore"
	loamerr "github.com/loam-dev/loam/pkg/errors"
)

// Compile-time interface check.
var _ vectorstore.Store = (*Store)(nil)

// record is one vector's payload in the metadata file.
type record struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Store is the embedded on-disk backend. Index and metadata files are shared
// mutable resources: every read-modify-write cycle holds the mutex, since
// concurrent AddChunks/DeleteByDocumentID would otherwise lose updates when
// both files are rewritten.
type Store struct {
	mu       sync.RWMutex
	graph    *hnsw.Graph[uint64]
	records  map[uint64]record
	nextKey  uint64
	embedder embed.Embedder
	tracker  *vectorstore.Tracker

	indexPath    string
	metadataPath string
	dimension    int
	threshold    float64
}

// New opens (or creates) the local index. A missing or corrupt metadata file
// is treated as an empty index, logged, never fatal.
func New(cfg config.LocalConfig, defaultThreshold float64, embedder embed.Embedder, tracker *vectorstore.Tracker) (*Store, error) {
	for _, p := range []string{cfg.IndexPath, cfg.MetadataPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, loamerr.Errorf(loamerr.CodeStoreSetupFailure, "creating index directory: %w", err)
		}
	}

	s := &Store{
		graph:        newGraph(),
		records:      make(map[uint64]record),
		embedder:     embedder,
		tracker:      tracker,
		indexPath:    cfg.IndexPath,
		metadataPath: cfg.MetadataPath,
		dimension:    cfg.Dimension,
		threshold:    defaultThreshold,
	}

	s.load()
	return s, nil
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return g
}

// AddChunks embeds the batch, inserts vectors under freshly assigned keys,
// persists both files, and registers the document.
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

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range chunks {
		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.records[key] = record{
			Content:  c.Content,
			Metadata: vectorstore.StampDocumentID(c.Metadata, documentID),
		}
	}

	if err := s.persist(); err != nil {
		return 0, err
	}

	if err := s.tracker.Add(documentID); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Search returns at most topK results, closest first. When the threshold
// filters out every candidate, the closest topK unfiltered results are
// returned instead so the generation stage always receives some context.
func (s *Store) Search(ctx context.Context, query string, topK int, threshold *float64) ([]vectorstore.SearchResult, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeStoreSearchFailure, "embedding query")
	}
	q := make([]float32, len(vectors[0]))
	copy(q, vectors[0])
	normalizeInPlace(q)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return []vectorstore.SearchResult{}, nil
	}

	// Lazily deleted nodes stay in the graph without a record; overfetch by
	// the orphan count so topK live candidates survive the skip below.
	orphans := s.graph.Len() - len(s.records)
	nodes := s.graph.Search(q, topK+orphans)

	minThreshold := vectorstore.ResolveThreshold(threshold, s.threshold)

	var candidates []vectorstore.SearchResult
	for _, node := range nodes {
		rec, ok := s.records[node.Key]
		if !ok {
			continue
		}
		distance := float64(s.graph.Distance(q, node.Value))
		candidates = append(candidates, vectorstore.SearchResult{
			Content:    rec.Content,
			Metadata:   rec.Metadata,
			Distance:   distance,
			Similarity: localSimilarity(distance),
		})
		if len(candidates) >= topK {
			break
		}
	}

	results := make([]vectorstore.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if c.Similarity >= minThreshold {
			results = append(results, c)
		}
	}
	if len(results) == 0 {
		return candidates, nil
	}
	return results, nil
}

// DeleteByDocumentID drops every record carrying the id (the graph nodes are
// lazily deleted) and unregisters the document. Idempotent.
func (s *Store) DeleteByDocumentID(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	for key, rec := range s.records {
		if rec.Metadata[vectorstore.MetadataDocumentID] == documentID {
			delete(s.records, key)
			removed = true
		}
	}

	if removed {
		if err := s.persist(); err != nil {
			return err
		}
	}

	return s.tracker.Remove(documentID)
}

// ListDocuments delegates to the tracker.
func (s *Store) ListDocuments(_ context.Context) ([]string, error) {
	return s.tracker.List(), nil
}

// Close is a no-op; every mutation persists synchronously.
func (s *Store) Close() error { return nil }

// localSimilarity converts an HNSW cosine distance in [0, 2] to a
// normalized similarity.
func localSimilarity(distance float64) float64 {
	return vectorstore.CosineDistanceSimilarity(distance)
}

func (s *Store) persist() error {
	entries := make(map[string]record, len(s.records))
	for key, rec := range s.records {
		entries[strconv.FormatUint(key, 10)] = rec
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return loamerr.Errorf(loamerr.CodeStoreAddFailure, "encoding index metadata: %w", err)
	}
	if err := renameio.WriteFile(s.metadataPath, data, 0o644); err != nil {
		return loamerr.Errorf(loamerr.CodeStoreAddFailure, "writing index metadata: %w", err)
	}

	tmpPath := s.indexPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return loamerr.Errorf(loamerr.CodeStoreAddFailure, "creating index file: %w", err)
	}
	if err := s.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return loamerr.Errorf(loamerr.CodeStoreAddFailure, "exporting index: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return loamerr.Errorf(loamerr.CodeStoreAddFailure, "closing index file: %w", err)
	}
	if err := os.Rename(tmpPath, s.indexPath); err != nil {
		_ = os.Remove(tmpPath)
		return loamerr.Errorf(loamerr.CodeStoreAddFailure, "replacing index file: %w", err)
	}
	return nil
}

// load restores persisted state. Any failure resets to an empty index; the
// tracker may then over-report documents, which only affects listing, not
// stored data elsewhere.
func (s *Store) load() {
	data, err := os.ReadFile(s.metadataPath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("reading index metadata, starting empty", "path", s.metadataPath, "error", err)
		}
		return
	}

	var entries map[string]record
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Warn("index metadata corrupt, starting empty", "path", s.metadataPath, "error", err)
		return
	}

	f, err := os.Open(s.indexPath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("opening index file, starting empty", "path", s.indexPath, "error", err)
		}
		return
	}
	defer func() { _ = f.Close() }()

	// Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(f)); err != nil {
		slog.Warn("importing index file, starting empty", "path", s.indexPath, "error", err)
		s.graph = newGraph()
		return
	}

	for keyStr, rec := range entries {
		key, err := strconv.ParseUint(keyStr, 10, 64)
		if err != nil {
			slog.Warn("skipping metadata entry with invalid key", "key", keyStr)
			continue
		}
		s.records[key] = rec
		if key >= s.nextKey {
			s.nextKey = key + 1
		}
	}
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
