// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package local_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/loam-dev/loam/internal/config"
	"github.com/loam-dev/loam/internal/embed"
	"github.com/loam-dev/loam/internal/vectorstore"
	"github.com/loam-dev/loam/internal/vectorstore/local"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, dir string) *local.Store {
	t.Helper()

	embedder, err := embed.New(config.EmbeddingConfig{Provider: "local", Dimension: 128})
	require.NoError(t, err)

	tracker, err := vectorstore.NewTracker(filepath.Join(dir, "tracker.json"))
	require.NoError(t, err)

	store, err := local.New(config.LocalConfig{
		IndexPath:    filepath.Join(dir, "index.hnsw"),
		MetadataPath: filepath.Join(dir, "index.json"),
		Dimension:    128,
	}, 0.0, embedder, tracker)
	require.NoError(t, err)

	return store
}

func TestSearchEmptyIndex(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	results, err := store.Search(context.Background(), "anything", 5, nil)
	require.NoError(t, err)
	require.NotNil(t, results)
	require.Empty(t, results)
}

func TestAddAndSearch(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()

	n, err := store.AddChunks(ctx, []vectorstore.Chunk{
		{Content: "the sky is blue on a clear day", Metadata: map[string]any{"source": "sky.md"}},
		{Content: "grass is green in the spring", Metadata: map[string]any{"source": "grass.md"}},
		{Content: "bread rises because of yeast", Metadata: map[string]any{"source": "bread.md"}},
	}, "nature.md")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	results, err := store.Search(ctx, "what color is the sky", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Contains(t, results[0].Content, "sky")
	require.Equal(t, "nature.md", results[0].Metadata[vectorstore.MetadataDocumentID])
	require.GreaterOrEqual(t, results[0].Similarity, results[1].Similarity)
	require.InDelta(t, 1.0, results[0].Similarity, 1.0)
}

func TestAddEmptyBatch(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	n, err := store.AddChunks(context.Background(), nil, "doc.md")
	require.NoError(t, err)
	require.Zero(t, n)

	docs, err := store.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestSearchFallsBackToClosest(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()

	_, err := store.AddChunks(ctx, []vectorstore.Chunk{
		{Content: "quarterly revenue grew eight percent"},
	}, "report.md")
	require.NoError(t, err)

	// A threshold no result can pass still yields the closest candidates.
	impossible := 1.1
	results, err := store.Search(ctx, "completely unrelated zebra query", 3, &impossible)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Contains(t, results[0].Content, "revenue")
}

func TestDeleteByDocumentID(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()

	_, err := store.AddChunks(ctx, []vectorstore.Chunk{
		{Content: "alpha document first chunk"},
		{Content: "alpha document second chunk"},
	}, "alpha.md")
	require.NoError(t, err)
	_, err = store.AddChunks(ctx, []vectorstore.Chunk{
		{Content: "beta document only chunk"},
	}, "beta.md")
	require.NoError(t, err)

	require.NoError(t, store.DeleteByDocumentID(ctx, "alpha.md"))

	docs, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"beta.md"}, docs)

	results, err := store.Search(ctx, "alpha document", 5, nil)
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, "alpha.md", r.Metadata[vectorstore.MetadataDocumentID])
	}

	// Deleting an absent document is a no-op.
	require.NoError(t, store.DeleteByDocumentID(ctx, "alpha.md"))
}

func TestReopenRestoresState(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := newTestStore(t, dir)
	_, err := store.AddChunks(ctx, []vectorstore.Chunk{
		{Content: "persistence survives a restart"},
	}, "notes.md")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened := newTestStore(t, dir)
	results, err := reopened.Search(ctx, "restart persistence", 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Contains(t, results[0].Content, "restart")

	docs, err := reopened.ListDocuments(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"notes.md"}, docs)
}

func TestDefaultDocumentID(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()

	_, err := store.AddChunks(ctx, []vectorstore.Chunk{{Content: "untitled snippet"}}, "")
	require.NoError(t, err)

	results, err := store.Search(ctx, "untitled snippet", 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, vectorstore.DefaultDocumentID, results[0].Metadata[vectorstore.MetadataDocumentID])
}
