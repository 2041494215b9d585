// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/loam-dev/loam/internal/config"
	"github.com/loam-dev/loam/internal/embed"
	"github.com/loam-dev/loam/internal/generate"
	"github.com/loam-dev/loam/internal/ingest"
	"github.com/loam-dev/loam/internal/leads"
	"github.com/loam-dev/loam/internal/rag"
	"github.com/loam-dev/loam/internal/server"
	"github.com/loam-dev/loam/internal/vectorstore"
	"github.com/loam-dev/loam/internal/vectorstore/factory"
	loamerr "github.com/loam-dev/loam/pkg/errors"
)

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	Server   *server.Server
	Store    vectorstore.Store
	Leads    *leads.Store
	Chain    *rag.Chain
	Pipeline *ingest.Pipeline
}

// WireApp creates all subsystems and wires them together. The embedder is
// constructed once and shared by the store so index and query vectors always
// come from the same model.
func WireApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, loamerr.Errorf(loamerr.CodeCLISetupFailure, "creating data directory: %w", err)
	}

	embedder, err := embed.New(cfg.Embedding)
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeCLISetupFailure, "creating embedder")
	}

	store, err := factory.New(ctx, cfg, embedder)
	if err != nil {
		return nil, loamerr.Wrap(err, loamerr.CodeCLISetupFailure, "creating vector store")
	}

	gen, err := generate.New(cfg.Ollama)
	if err != nil {
		_ = store.Close()
		return nil, loamerr.Wrap(err, loamerr.CodeCLISetupFailure, "creating generation client")
	}
	if gen.Cloud() {
		slog.Info("generation targets ollama cloud", "model", cfg.Ollama.Model)
	} else {
		slog.Info("generation targets local ollama", "model", cfg.Ollama.Model, "base_url", cfg.Ollama.BaseURL)
	}

	chain := rag.New(store, gen, cfg.Retrieval.TopK)
	pipeline := ingest.NewPipeline(cfg.Chunking.Size, cfg.Chunking.Overlap)

	leadStore, err := leads.Open(cfg.Leads.Path)
	if err != nil {
		_ = store.Close()
		return nil, loamerr.Wrap(err, loamerr.CodeCLISetupFailure, "opening leads store")
	}

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		CORSOrigins: cfg.Server.CORSOrigins,
		UploadDir:   cfg.UploadDir,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
			Burst:             cfg.Server.RateLimit.Burst,
		},
	}, server.Dependencies{
		Chain:    chain,
		Store:    store,
		Pipeline: pipeline,
		Leads:    leadStore,
	})
	if err != nil {
		_ = store.Close()
		_ = leadStore.Close()
		return nil, loamerr.Wrap(err, loamerr.CodeCLISetupFailure, "creating server")
	}

	return &App{
		Server:   srv,
		Store:    store,
		Leads:    leadStore,
		Chain:    chain,
		Pipeline: pipeline,
	}, nil
}

// Close releases all held resources.
func (a *App) Close() {
	if err := a.Store.Close(); err != nil {
		slog.Warn("closing vector store", "error", err)
	}
	if err := a.Leads.Close(); err != nil {
		slog.Warn("closing leads store", "error", err)
	}
}
