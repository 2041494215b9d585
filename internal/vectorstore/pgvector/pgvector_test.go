// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package pgvector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/loam-dev/loam/internal/config"
	"github.com/loam-dev/loam/internal/embed"
	"github.com/loam-dev/loam/internal/vectorstore"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[0.5,-1,0.25]", vectorLiteral([]float32{0.5, -1, 0.25}))
	assert.Equal(t, "[]", vectorLiteral(nil))
}

// newMockStore builds a Store over a pgxmock pool, skipping New so no real
// connection is made.
func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	embedder, err := embed.New(config.EmbeddingConfig{Provider: "local", Dimension: 32})
	require.NoError(t, err)

	tracker, err := vectorstore.NewTracker(filepath.Join(t.TempDir(), "tracker.json"))
	require.NoError(t, err)

	return &Store{
		pool:      mock,
		table:     pgx.Identifier{"loam_docs"}.Sanitize(),
		threshold: 0.5,
		embedder:  embedder,
		tracker:   tracker,
	}, mock
}

func TestAddChunksBatchInsert(t *testing.T) {
	store, mock := newMockStore(t)

	batch := mock.ExpectBatch()
	batch.ExpectExec("INSERT INTO").
		WithArgs("hello", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	batch.ExpectExec("INSERT INTO").
		WithArgs("world", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := store.AddChunks(context.Background(), []vectorstore.Chunk{
		{Content: "hello", Metadata: map[string]any{"source": "a.md"}},
		{Content: "world"},
	}, "a.md")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []string{"a.md"}, store.tracker.List())
}

func TestSearchFiltersByThreshold(t *testing.T) {
	store, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{"content", "metadata", "distance"}).
		AddRow("close", []byte(`{"document_id":"a.md","source":"a.md"}`), 0.2).
		AddRow("far", []byte(`{"document_id":"b.md"}`), 1.6)
	mock.ExpectQuery("SELECT content, metadata").
		WithArgs(pgxmock.AnyArg(), 5).
		WillReturnRows(rows)

	results, err := store.Search(context.Background(), "query", 5, nil)
	require.NoError(t, err)

	// 1 − 0.2/2 = 0.9 passes the 0.5 default; 1 − 1.6/2 = 0.2 does not.
	require.Len(t, results, 1)
	assert.Equal(t, "close", results[0].Content)
	assert.InDelta(t, 0.9, results[0].Similarity, 1e-9)
	assert.Equal(t, "a.md", results[0].Metadata["source"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByDocumentID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM").
		WithArgs("a.md").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, store.DeleteByDocumentID(context.Background(), "a.md"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDocumentsDistinct(t *testing.T) {
	store, mock := newMockStore(t)

	a, b := "a.md", "b.md"
	rows := pgxmock.NewRows([]string{"document_id"}).
		AddRow(&a).
		AddRow(&b).
		AddRow((*string)(nil))
	mock.ExpectQuery("SELECT DISTINCT").WillReturnRows(rows)

	docs, err := store.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.md"}, docs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
