// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Package embed converts text into fixed-dimension vectors for similarity
// search. The provider is chosen once at startup and shared by reference
// with every vector backend; construction fails fast when the selected
// provider's prerequisites are missing.
package embed

import (
	"context"
	"strings"

	"github.com/loam-dev/loam/internal/config"
	loamerr "github.com/loam-dev/loam/pkg/errors"
)

// Embedder turns texts into vectors of identical length, one per input,
// preserving order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// New constructs the configured embedding provider. This is the only place
// provider selection happens; callers receive the instance by reference.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "local":
		return newLocalEmbedder(cfg.Dimension), nil
	case "openai":
		return newOpenAIEmbedder(cfg)
	default:
		return nil, loamerr.Errorf(loamerr.CodeEmbedProviderUnsupported,
			"unsupported embedding provider %q (expected local or openai)", cfg.Provider)
	}
}
