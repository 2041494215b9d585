// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Package generate wraps the Ollama API for answer generation. With an API
// key configured the client targets Ollama Cloud; otherwise it talks to a
// local daemon.
package generate

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/loam-dev/loam/internal/config"
	loamerr "github.com/loam-dev/loam/pkg/errors"
	"github.com/ollama/ollama/api"
)

// CloudBaseURL is where generation runs when an API key is configured.
const CloudBaseURL = "https://ollama.com"

// Client produces model completions for a prompt.
type Client interface {
	// Generate returns the full completion.
	Generate(ctx context.Context, prompt string) (string, error)
	// GenerateStream invokes fn for each completion fragment, in order.
	GenerateStream(ctx context.Context, prompt string, fn func(chunk string) error) error
	// Cloud reports whether the client targets a hosted endpoint.
	Cloud() bool
}

var _ Client = (*Ollama)(nil)

// Ollama is the api-backed Client.
type Ollama struct {
	client *api.Client
	model  string
	cloud  bool
}

// New builds the client from config. An API key switches the base URL to
// Ollama Cloud unless the operator pointed it somewhere else explicitly.
func New(cfg config.OllamaConfig) (*Ollama, error) {
	baseURL := cfg.BaseURL
	cloud := cfg.APIKey != ""
	if cloud && strings.Contains(baseURL, "localhost") {
		baseURL = CloudBaseURL
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, loamerr.Errorf(loamerr.CodeConfigValidateInvalidValue, "parsing ollama base url: %w", err)
	}

	httpClient := http.DefaultClient
	if cloud {
		httpClient = &http.Client{Transport: &authTransport{apiKey: cfg.APIKey}}
	}

	return &Ollama{
		client: api.NewClient(u, httpClient),
		model:  cfg.Model,
		cloud:  cloud,
	}, nil
}

type authTransport struct {
	apiKey string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+t.apiKey)
	return http.DefaultTransport.RoundTrip(cloned)
}

func (o *Ollama) Cloud() bool { return o.cloud }

// Generate collects a non-streamed completion.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	var b strings.Builder
	err := o.client.Generate(ctx, &api.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: &stream,
	}, func(resp api.GenerateResponse) error {
		b.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", loamerr.Wrap(err, loamerr.CodeGenerateUpstreamFailure, "generating completion")
	}
	return b.String(), nil
}

// GenerateStream forwards completion fragments as they arrive.
func (o *Ollama) GenerateStream(ctx context.Context, prompt string, fn func(chunk string) error) error {
	stream := true
	err := o.client.Generate(ctx, &api.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: &stream,
	}, func(resp api.GenerateResponse) error {
		if resp.Response == "" {
			return nil
		}
		return fn(resp.Response)
	})
	if err != nil {
		return loamerr.Wrap(err, loamerr.CodeGenerateUpstreamFailure, "streaming completion")
	}
	return nil
}

// StatusCode extracts the upstream HTTP status from a generation error, or 0
// when the failure was not an HTTP-level one.
func StatusCode(err error) int {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
