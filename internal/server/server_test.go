// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/loam-dev/loam/internal/ingest"
	"github.com/loam-dev/loam/internal/leads"
	"github.com/loam-dev/loam/internal/rag"
	"github.com/loam-dev/loam/internal/server"
	"github.com/loam-dev/loam/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChain answers every question the same way.
type fakeChain struct {
	answer    string
	fragments []string
	err       error
}

func (f *fakeChain) Query(_ context.Context, _ string) (*rag.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &rag.Response{
		Answer:  f.answer,
		Sources: []vectorstore.Source{{Source: "doc.md"}},
	}, nil
}

func (f *fakeChain) QueryStream(_ context.Context, _ string) (<-chan string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan string)
	go func() {
		defer close(out)
		for _, frag := range f.fragments {
			out <- frag
		}
	}()
	return out, nil
}

// memStore is an in-memory vectorstore.Store double.
type memStore struct {
	chunks map[string][]vectorstore.Chunk
}

func newMemStore() *memStore {
	return &memStore{chunks: make(map[string][]vectorstore.Chunk)}
}

func (m *memStore) AddChunks(_ context.Context, chunks []vectorstore.Chunk, documentID string) (int, error) {
	m.chunks[documentID] = append(m.chunks[documentID], chunks...)
	return len(chunks), nil
}

func (m *memStore) Search(_ context.Context, _ string, _ int, _ *float64) ([]vectorstore.SearchResult, error) {
	return nil, nil
}

func (m *memStore) DeleteByDocumentID(_ context.Context, documentID string) error {
	delete(m.chunks, documentID)
	return nil
}

func (m *memStore) ListDocuments(_ context.Context) ([]string, error) {
	docs := make([]string, 0, len(m.chunks))
	for id := range m.chunks {
		docs = append(docs, id)
	}
	sort.Strings(docs)
	return docs, nil
}

func (m *memStore) Close() error { return nil }

type testEnv struct {
	handler   http.Handler
	store     *memStore
	uploadDir string
}

func newTestEnv(t *testing.T, chain server.Answerer) *testEnv {
	t.Helper()

	dir := t.TempDir()
	store := newMemStore()

	leadStore, err := leads.Open(filepath.Join(dir, "leads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = leadStore.Close() })

	uploadDir := filepath.Join(dir, "uploads")
	srv, err := server.New(server.Config{
		ListenAddr:  "127.0.0.1:0",
		CORSOrigins: []string{"*"},
		UploadDir:   uploadDir,
	}, server.Dependencies{
		Chain:    chain,
		Store:    store,
		Pipeline: ingest.NewPipeline(1000, 200),
		Leads:    leadStore,
	})
	require.NoError(t, err)

	return &testEnv{handler: srv.Handler(), store: store, uploadDir: uploadDir}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) upload(t *testing.T, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &fakeChain{})

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// huma decorates response bodies with a $schema link, so assert on the
	// status key rather than the exact body.
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestChat(t *testing.T) {
	env := newTestEnv(t, &fakeChain{answer: "blue"})

	w := env.do(t, http.MethodPost, "/api/v1/chat", map[string]string{"question": "sky color?"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Answer  string               `json:"answer"`
		Sources []vectorstore.Source `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "blue", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "doc.md", resp.Sources[0].Source)
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t, &fakeChain{})

	w := env.do(t, http.MethodPost, "/api/v1/chat", map[string]string{"question": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestChatStream(t *testing.T) {
	env := newTestEnv(t, &fakeChain{fragments: []string{"The sky ", "is blue."}})

	w := env.do(t, http.MethodPost, "/api/v1/chat/stream", map[string]string{"question": "sky?"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "The sky is blue.", w.Body.String())
}

func TestChatStreamValidation(t *testing.T) {
	env := newTestEnv(t, &fakeChain{})

	w := env.do(t, http.MethodPost, "/api/v1/chat/stream", map[string]string{"question": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestUploadMarkdown(t *testing.T) {
	env := newTestEnv(t, &fakeChain{})

	w := env.upload(t, "notes.md", "# Notes\n\nThe sky is blue.")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		DocumentID    string `json:"document_id"`
		Source        string `json:"source"`
		ChunksIndexed int    `json:"chunks_indexed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasSuffix(resp.DocumentID, ".md"))
	assert.Equal(t, "notes.md", resp.Source)
	assert.Equal(t, 1, resp.ChunksIndexed)

	// The file was stored under the document id, and the store was updated.
	_, err := os.Stat(filepath.Join(env.uploadDir, resp.DocumentID))
	require.NoError(t, err)
	assert.Len(t, env.store.chunks[resp.DocumentID], 1)
	assert.Equal(t, "notes.md", env.store.chunks[resp.DocumentID][0].Metadata["source"])
}

func TestUploadUnsupportedType(t *testing.T) {
	env := newTestEnv(t, &fakeChain{})

	w := env.upload(t, "data.csv", "a,b,c")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, env.store.chunks)
}

func TestUploadMissingFile(t *testing.T) {
	env := newTestEnv(t, &fakeChain{})

	w := env.do(t, http.MethodPost, "/api/v1/documents/upload", map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestListAndDeleteDocuments(t *testing.T) {
	env := newTestEnv(t, &fakeChain{})

	w := env.upload(t, "notes.md", "The sky is blue.")
	require.Equal(t, http.StatusOK, w.Code)
	var uploaded struct {
		DocumentID string `json:"document_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &uploaded))

	w = env.do(t, http.MethodGet, "/api/v1/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Documents []string `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Equal(t, []string{uploaded.DocumentID}, listed.Documents)

	w = env.do(t, http.MethodDelete, "/api/v1/documents/"+uploaded.DocumentID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, err := os.Stat(filepath.Join(env.uploadDir, uploaded.DocumentID))
	assert.True(t, os.IsNotExist(err))

	w = env.do(t, http.MethodGet, "/api/v1/documents", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Empty(t, listed.Documents)
}

func TestDeleteDocumentRejectsPathTraversal(t *testing.T) {
	env := newTestEnv(t, &fakeChain{})

	w := env.do(t, http.MethodDelete, "/api/v1/documents/..%2Fleads.db", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestLeadsRoutes(t *testing.T) {
	env := newTestEnv(t, &fakeChain{})

	w := env.do(t, http.MethodPost, "/api/v1/leads", map[string]string{
		"email":   "jo@example.com",
		"name":    "Jo",
		"company": "Acme",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/v1/leads", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Leads []leads.Lead `json:"leads"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Leads, 1)
	assert.Equal(t, "jo@example.com", listed.Leads[0].Email)

	w = env.do(t, http.MethodGet, "/api/v1/leads/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "jo@example.com")
}

func TestLeadValidation(t *testing.T) {
	env := newTestEnv(t, &fakeChain{})

	w := env.do(t, http.MethodPost, "/api/v1/leads", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
