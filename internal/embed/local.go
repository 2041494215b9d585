// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// localEmbedder is a deterministic feature-hashing bag-of-words embedder.
// It needs no model weights or network access: each token is hashed into
// one of Dimension buckets and the resulting count vector is unit-normalized,
// so cosine similarity reflects token overlap. Quality is far below a learned
// model, but behavior is reproducible, which the default local deployment
// and the test suite rely on.
type localEmbedder struct {
	dimension int
}

func newLocalEmbedder(dimension int) *localEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &localEmbedder{dimension: dimension}
}

func (e *localEmbedder) Dimension() int { return e.dimension }

func (e *localEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embedOne(text)
	}
	return vectors, nil
}

func (e *localEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dimension)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum32()
		bucket := int(sum % uint32(e.dimension))
		// Sign hashing keeps colliding tokens from always reinforcing.
		if sum&0x80000000 != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}
	normalize(vec)
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] *= inv
	}
}
