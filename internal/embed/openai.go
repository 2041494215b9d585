// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package embed

import (
	"context"

	"github.com/loam-dev/loam/internal/config"
	loamerr "github.com/loam-dev/loam/pkg/errors"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openaiEmbedder calls the OpenAI Embeddings API.
type openaiEmbedder struct {
	client    openaisdk.Client
	model     string
	dimension int
}

// newOpenAIEmbedder fails when the API key is missing; this is a startup
// error, never retried.
func newOpenAIEmbedder(cfg config.EmbeddingConfig, opts ...option.RequestOption) (*openaiEmbedder, error) {
	if cfg.OpenAIKey == "" {
		return nil, loamerr.New(loamerr.CodeConfigMissingCredential,
			"embedding.openai_api_key is required for the openai embedding provider")
	}

	model := cfg.OpenAIModel
	if model == "" {
		model = "text-embedding-3-small"
	}

	clientOpts := append([]option.RequestOption{option.WithAPIKey(cfg.OpenAIKey)}, opts...)

	return &openaiEmbedder{
		client:    openaisdk.NewClient(clientOpts...),
		model:     model,
		dimension: cfg.Dimension,
	}, nil
}

func (e *openaiEmbedder) Dimension() int { return e.dimension }

func (e *openaiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openaisdk.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, loamerr.Errorf(loamerr.CodeEmbedUpstreamFailure, "requesting embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, loamerr.Errorf(loamerr.CodeEmbedResponseInvalid,
			"embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, item := range resp.Data {
		vec := make([]float32, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}
