// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Package factory constructs the configured vector store backend.
package factory

import (
	"context"
	"log/slog"

	"github.com/loam-dev/loam/internal/config"
	"github.com/loam-dev/loam/internal/embed"
	"github.com/loam-dev/loam/internal/vectorstore"
	"github.com/loam-dev/loam/internal/vectorstore/chroma"
	"github.com/loam-dev/loam/internal/vectorstore/local"
	"github.com/loam-dev/loam/internal/vectorstore/milvus"
	"github.com/loam-dev/loam/internal/vectorstore/pgvector"
	"github.com/loam-dev/loam/internal/vectorstore/pinecone"
	"github.com/loam-dev/loam/internal/vectorstore/qdrant"
	"github.com/loam-dev/loam/internal/vectorstore/weaviate"
)

// New builds the backend selected by vector.provider. An unknown provider
// falls back to the embedded local backend with a warning rather than
// failing startup; missing credentials for an explicitly selected backend
// are still an error.
func New(ctx context.Context, cfg *config.Config, embedder embed.Embedder) (vectorstore.Store, error) {
	tracker, err := vectorstore.NewTracker(cfg.Tracker.Path)
	if err != nil {
		return nil, err
	}
	threshold := cfg.Retrieval.SimilarityThreshold

	switch cfg.Vector.Provider {
	case "local":
		return local.New(cfg.Vector.Local, threshold, embedder, tracker)
	case "chroma":
		return chroma.New(ctx, cfg.Vector.Chroma, threshold, embedder, tracker)
	case "qdrant":
		return qdrant.New(ctx, cfg.Vector.Qdrant, threshold, embedder, tracker)
	case "weaviate":
		return weaviate.New(ctx, cfg.Vector.Weaviate, threshold, embedder, tracker)
	case "pinecone":
		return pinecone.New(ctx, cfg.Vector.Pinecone, threshold, embedder, tracker)
	case "milvus":
		return milvus.New(ctx, cfg.Vector.Milvus, threshold, embedder, tracker)
	case "pgvector":
		return pgvector.New(ctx, cfg.Vector.Pgvector, threshold, embedder, tracker)
	default:
		slog.Warn("unknown vector provider, using local backend", "provider", cfg.Vector.Provider)
		return local.New(cfg.Vector.Local, threshold, embedder, tracker)
	}
}
