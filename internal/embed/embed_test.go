// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package embed

import (
	"context"
	"math"
	"testing"

	"github.com/loam-dev/loam/internal/config"
	loamerr "github.com/loam-dev/loam/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToLocal(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: "", Dimension: 64})
	require.NoError(t, err)
	assert.Equal(t, 64, e.Dimension())
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(config.EmbeddingConfig{Provider: "tfhub"})
	require.Error(t, err)
	assert.Equal(t, loamerr.CodeEmbedProviderUnsupported, loamerr.CodeOf(err))
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	_, err := New(config.EmbeddingConfig{Provider: "openai", Dimension: 1536})
	require.Error(t, err)
	assert.Equal(t, loamerr.CodeConfigMissingCredential, loamerr.CodeOf(err))
}

func TestLocalEmbedderShape(t *testing.T) {
	e := newLocalEmbedder(128)
	vecs, err := e.Embed(context.Background(), []string{"the sky is blue", "grass is green", ""})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 128)
	}
}

func TestLocalEmbedderDeterministic(t *testing.T) {
	e := newLocalEmbedder(256)
	a, err := e.Embed(context.Background(), []string{"retrieval augmented generation"})
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), []string{"retrieval augmented generation"})
	require.NoError(t, err)
	assert.Equal(t, a[0], b[0])
}

func TestLocalEmbedderUnitNorm(t *testing.T) {
	e := newLocalEmbedder(384)
	vecs, err := e.Embed(context.Background(), []string{"The sky is blue."})
	require.NoError(t, err)

	var sumSquares float64
	for _, v := range vecs[0] {
		sumSquares += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-5)
}

func TestLocalEmbedderOverlapBeatsDisjoint(t *testing.T) {
	e := newLocalEmbedder(384)
	vecs, err := e.Embed(context.Background(), []string{
		"what color is the sky?",
		"The sky is blue.",
		"quarterly revenue grew eight percent",
	})
	require.NoError(t, err)

	related := dot(vecs[0], vecs[1])
	unrelated := dot(vecs[0], vecs[2])
	assert.Greater(t, related, unrelated)
	assert.Greater(t, related, float32(0))
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
