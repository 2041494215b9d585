// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package vectorstore_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/loam-dev/loam/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) *vectorstore.Tracker {
	t.Helper()
	tr, err := vectorstore.NewTracker(filepath.Join(t.TempDir(), "vector_documents.json"))
	require.NoError(t, err)
	return tr
}

func TestTrackerAddRemoveList(t *testing.T) {
	tr := newTestTracker(t)

	require.NoError(t, tr.Add("b"))
	require.NoError(t, tr.Add("a"))
	require.NoError(t, tr.Add("c"))

	assert.Equal(t, []string{"a", "b", "c"}, tr.List())

	require.NoError(t, tr.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, tr.List())
}

func TestTrackerIdempotence(t *testing.T) {
	tr := newTestTracker(t)

	require.NoError(t, tr.Add("a"))
	require.NoError(t, tr.Add("a"))
	require.NoError(t, tr.Remove("b"))

	assert.Equal(t, []string{"a"}, tr.List())
}

func TestTrackerEmptyIDIsNoOp(t *testing.T) {
	tr := newTestTracker(t)

	require.NoError(t, tr.Add(""))
	require.NoError(t, tr.Remove(""))
	assert.Empty(t, tr.List())
}

func TestTrackerSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vector_documents.json")

	tr, err := vectorstore.NewTracker(path)
	require.NoError(t, err)
	require.NoError(t, tr.Add("doc-1"))
	require.NoError(t, tr.Add("doc-2"))

	reopened, err := vectorstore.NewTracker(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1", "doc-2"}, reopened.List())
}

func TestTrackerCorruptFileTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vector_documents.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	tr, err := vectorstore.NewTracker(path)
	require.NoError(t, err)
	assert.Empty(t, tr.List())

	// Mutations still work after recovering from corruption.
	require.NoError(t, tr.Add("fresh"))
	assert.Equal(t, []string{"fresh"}, tr.List())
}

func TestTrackerConcurrentMutation(t *testing.T) {
	tr := newTestTracker(t)

	var wg sync.WaitGroup
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, tr.Add(id))
		}(id)
	}
	wg.Wait()

	assert.Equal(t, ids, tr.List())
}
