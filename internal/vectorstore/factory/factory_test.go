// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package factory_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/loam-dev/loam/internal/config"
	"github.com/loam-dev/loam/internal/embed"
	"github.com/loam-dev/loam/internal/vectorstore/factory"
	"github.com/loam-dev/loam/internal/vectorstore/local"
	loamerr "github.com/loam-dev/loam/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Retrieval: config.RetrievalConfig{TopK: 8, SimilarityThreshold: 0.5},
		Tracker:   config.TrackerConfig{Path: filepath.Join(dir, "tracker.json")},
		Vector: config.VectorConfig{
			Provider: "local",
			Local: config.LocalConfig{
				IndexPath:    filepath.Join(dir, "index.hnsw"),
				MetadataPath: filepath.Join(dir, "index.json"),
				Dimension:    32,
			},
		},
	}
}

func testEmbedder(t *testing.T) embed.Embedder {
	t.Helper()
	embedder, err := embed.New(config.EmbeddingConfig{Provider: "local", Dimension: 32})
	require.NoError(t, err)
	return embedder
}

func TestNewLocalBackend(t *testing.T) {
	store, err := factory.New(context.Background(), baseConfig(t), testEmbedder(t))
	require.NoError(t, err)
	assert.IsType(t, &local.Store{}, store)
}

func TestUnknownProviderFallsBackToLocal(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Vector.Provider = "duckdb"

	store, err := factory.New(context.Background(), cfg, testEmbedder(t))
	require.NoError(t, err)
	assert.IsType(t, &local.Store{}, store)
}

func TestUnusableTrackerPathFails(t *testing.T) {
	cfg := baseConfig(t)
	// The parent of the tracker path is a regular file, so the tracker
	// directory cannot be created.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	cfg.Tracker.Path = filepath.Join(blocker, "tracker.json")

	_, err := factory.New(context.Background(), cfg, testEmbedder(t))
	require.Error(t, err)
	assert.True(t, loamerr.HasCode(err, loamerr.CodeTrackerPersistFailure))
}

func TestPineconeWithoutKeyFails(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Vector.Provider = "pinecone"

	_, err := factory.New(context.Background(), cfg, testEmbedder(t))
	require.Error(t, err)
	assert.True(t, loamerr.HasCode(err, loamerr.CodeConfigMissingCredential))
}

func TestPgvectorWithoutConnectionStringFails(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Vector.Provider = "pgvector"

	_, err := factory.New(context.Background(), cfg, testEmbedder(t))
	require.Error(t, err)
	assert.True(t, loamerr.HasCode(err, loamerr.CodeConfigMissingCredential))
}
