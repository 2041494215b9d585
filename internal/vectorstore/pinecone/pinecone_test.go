// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package pinecone_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loam-dev/loam/internal/config"
	"github.com/loam-dev/loam/internal/embed"
	"github.com/loam-dev/loam/internal/vectorstore"
	"github.com/loam-dev/loam/internal/vectorstore/pinecone"
	loamerr "github.com/loam-dev/loam/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePinecone serves both control plane and data plane from one server;
// describe responses point the data-plane host back at the server itself.
type fakePinecone struct {
	exists     bool
	created    bool
	hostURL    string
	upsertBody map[string]any
	queryBody  map[string]any
	deletedIDs []string
	listedIDs  []string
	matches    []map[string]any
}

func (f *fakePinecone) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /indexes/docs", func(w http.ResponseWriter, _ *http.Request) {
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"host":   f.hostURL,
			"status": map[string]any{"ready": true},
		})
	})
	mux.HandleFunc("POST /indexes", func(w http.ResponseWriter, _ *http.Request) {
		f.exists = true
		f.created = true
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /vectors/upsert", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.upsertBody)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /query", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.queryBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"matches": f.matches})
	})
	mux.HandleFunc("GET /vectors/list", func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		vectors := make([]map[string]any, 0)
		for _, id := range f.listedIDs {
			if strings.HasPrefix(id, prefix) {
				vectors = append(vectors, map[string]any{"id": id})
			}
		}
		f.listedIDs = nil
		_ = json.NewEncoder(w).Encode(map[string]any{"vectors": vectors})
	})
	mux.HandleFunc("POST /vectors/delete", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs []string `json:"ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.deletedIDs = append(f.deletedIDs, body.IDs...)
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newTestStore(t *testing.T, fake *fakePinecone) *pinecone.Store {
	t.Helper()

	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	fake.hostURL = srv.URL

	embedder, err := embed.New(config.EmbeddingConfig{Provider: "local", Dimension: 32})
	require.NoError(t, err)

	tracker, err := vectorstore.NewTracker(filepath.Join(t.TempDir(), "tracker.json"))
	require.NoError(t, err)

	store, err := pinecone.New(context.Background(), config.PineconeConfig{
		APIKey:        "pc-test",
		Index:         "docs",
		Namespace:     "default",
		Dimension:     32,
		Metric:        "cosine",
		Cloud:         "aws",
		Region:        "us-east-1",
		ControllerURL: srv.URL,
	}, 0.5, embedder, tracker)
	require.NoError(t, err)
	return store
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := pinecone.New(context.Background(), config.PineconeConfig{}, 0.5, nil, nil)
	require.Error(t, err)
	assert.True(t, loamerr.HasCode(err, loamerr.CodeConfigMissingCredential))
}

func TestNewCreatesMissingIndex(t *testing.T) {
	fake := &fakePinecone{}
	newTestStore(t, fake)
	assert.True(t, fake.created)
}

func TestAddChunksPrefixesIDs(t *testing.T) {
	fake := &fakePinecone{exists: true}
	store := newTestStore(t, fake)

	n, err := store.AddChunks(context.Background(), []vectorstore.Chunk{
		{Content: "alpha", Metadata: map[string]any{"source": "a.md"}},
		{Content: "beta", Metadata: map[string]any{"source": "a.md"}},
	}, "a.md")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	vectors := fake.upsertBody["vectors"].([]any)
	require.Len(t, vectors, 2)
	first := vectors[0].(map[string]any)
	assert.True(t, strings.HasPrefix(first["id"].(string), "a.md_0_"))

	meta := first["metadata"].(map[string]any)
	assert.Equal(t, "alpha", meta["content"])
	assert.Equal(t, "a.md", meta[vectorstore.MetadataDocumentID])
	assert.Equal(t, "default", fake.upsertBody["namespace"])
}

func TestSearchFiltersByScore(t *testing.T) {
	fake := &fakePinecone{
		exists: true,
		matches: []map[string]any{
			{"id": "a.md_0_x", "score": 0.91, "metadata": map[string]any{"content": "close", "source": "a.md"}},
			{"id": "b.md_0_y", "score": 0.2, "metadata": map[string]any{"content": "far", "source": "b.md"}},
		},
	}
	store := newTestStore(t, fake)

	results, err := store.Search(context.Background(), "query", 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "close", results[0].Content)
	assert.NotContains(t, results[0].Metadata, "content")
	assert.InDelta(t, 0.91, results[0].Similarity, 1e-9)

	assert.EqualValues(t, 5, fake.queryBody["topK"])
	assert.Equal(t, true, fake.queryBody["includeMetadata"])
}

func TestDeleteByDocumentIDListsByPrefix(t *testing.T) {
	fake := &fakePinecone{
		exists:    true,
		listedIDs: []string{"a.md_0_x", "a.md_1_y", "b.md_0_z"},
	}
	store := newTestStore(t, fake)

	_, err := store.AddChunks(context.Background(), []vectorstore.Chunk{{Content: "x"}}, "a.md")
	require.NoError(t, err)

	require.NoError(t, store.DeleteByDocumentID(context.Background(), "a.md"))
	assert.ElementsMatch(t, []string{"a.md_0_x", "a.md_1_y"}, fake.deletedIDs)

	docs, err := store.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}
