// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Package rag composes retrieval and generation into the answer chain.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loam-dev/loam/internal/generate"
	"github.com/loam-dev/loam/internal/vectorstore"
	loamerr "github.com/loam-dev/loam/pkg/errors"
)

// noKnowledgeAnswer is returned when retrieval finds nothing at all.
const noKnowledgeAnswer = "I don't have any documents in my knowledge base " +
	"that relate to your question yet. Upload some documents and I'll be " +
	"happy to answer questions about them."

// excerptLimit bounds the raw excerpt included in degraded answers.
const excerptLimit = 500

const promptTemplate = `You are a helpful assistant answering questions from a private document collection.
Use only the context below. If the context does not contain the answer, say you don't know.

Context:
%s

Question: %s

Answer:`

// Response is one answered question.
type Response struct {
	Answer        string               `json:"answer"`
	Sources       []vectorstore.Source `json:"sources"`
	ContextChunks []string             `json:"-"`
}

// Chain wires a vector store to a generation client.
type Chain struct {
	store vectorstore.Store
	gen   generate.Client
	topK  int
}

// New builds a chain with the configured default result count.
func New(store vectorstore.Store, gen generate.Client, topK int) *Chain {
	return &Chain{store: store, gen: gen, topK: topK}
}

// Query retrieves context and generates an answer. Retrieval failures are
// errors; generation failures degrade to an answer built from the retrieved
// context so the caller always gets something useful.
func (c *Chain) Query(ctx context.Context, question string) (*Response, error) {
	results, err := c.store.Search(ctx, question, c.topK, nil)
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeStoreSearchFailure, "retrieving context")
	}
	if len(results) == 0 {
		return &Response{Answer: noKnowledgeAnswer, Sources: []vectorstore.Source{}}, nil
	}

	resp := &Response{
		Sources:       vectorstore.SourcesOf(results),
		ContextChunks: contextChunks(results),
	}

	answer, err := c.gen.Generate(ctx, c.prompt(question, results))
	if err != nil {
		slog.Warn("generation failed, returning degraded answer", "error", err)
		resp.Answer = c.degradedAnswer(err, results)
		return resp, nil
	}
	resp.Answer = strings.TrimSpace(answer)
	return resp, nil
}

// QueryStream retrieves context, then streams answer fragments on the
// returned channel. A mid-stream generation failure yields one terminal
// message on the channel instead of an error.
func (c *Chain) QueryStream(ctx context.Context, question string) (<-chan string, error) {
	results, err := c.store.Search(ctx, question, c.topK, nil)
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeStoreSearchFailure, "retrieving context")
	}

	out := make(chan string)
	go func() {
		defer close(out)

		if len(results) == 0 {
			select {
			case out <- noKnowledgeAnswer:
			case <-ctx.Done():
			}
			return
		}

		err := c.gen.GenerateStream(ctx, c.prompt(question, results), func(chunk string) error {
			select {
			case out <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			slog.Warn("streaming generation failed", "error", err)
			select {
			case out <- "\n\n" + c.degradedAnswer(err, results):
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (c *Chain) prompt(question string, results []vectorstore.SearchResult) string {
	return fmt.Sprintf(promptTemplate, strings.Join(contextChunks(results), "\n\n---\n\n"), question)
}

// contextChunks renders one labeled block per result, e.g.
// "[Source 1: notes.md (page 3)]\n<content>".
func contextChunks(results []vectorstore.SearchResult) []string {
	chunks := make([]string, 0, len(results))
	for i, r := range results {
		source, _ := r.Metadata["source"].(string)
		if source == "" {
			source = "unknown"
		}
		label := fmt.Sprintf("[Source %d: %s", i+1, source)
		if page := pageOf(r.Metadata); page > 0 {
			label += fmt.Sprintf(" (page %d)", page)
		}
		label += "]"
		chunks = append(chunks, label+"\n"+r.Content)
	}
	return chunks
}

func pageOf(metadata map[string]any) int {
	switch p := metadata["page"].(type) {
	case int:
		return p
	case int64:
		return int(p)
	case float64:
		return int(p)
	}
	return 0
}

// degradedAnswer explains why generation failed and falls back to the most
// relevant retrieved passage.
func (c *Chain) degradedAnswer(err error, results []vectorstore.SearchResult) string {
	var hint string
	switch status := generate.StatusCode(err); {
	case status == http.StatusUnauthorized:
		hint = "The configured Ollama API key was rejected. Check ollama.api_key."
	case status == http.StatusNotFound:
		hint = "The configured model is not available. Pull it first or pick another model."
	case c.gen.Cloud():
		hint = "The Ollama Cloud service could not be reached."
	default:
		hint = "The local Ollama daemon could not be reached. Is it running?"
	}

	excerpt := []rune(results[0].Content)
	truncated := false
	if len(excerpt) > excerptLimit {
		excerpt = excerpt[:excerptLimit]
		truncated = true
	}
	passage := string(excerpt)
	if truncated {
		passage += "..."
	}

	return fmt.Sprintf(
		"I couldn't generate an answer right now. %s\n\nHere is the most relevant passage I found:\n\n%s",
		hint, passage)
}
