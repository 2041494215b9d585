// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package main

import (
	"fmt"
	"path/filepath"

	"github.com/loam-dev/loam/internal/embed"
	"github.com/loam-dev/loam/internal/ingest"
	"github.com/loam-dev/loam/internal/vectorstore/factory"
	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Index documents from the command line",
		Long:  "Parse, chunk, embed, and index one or more .pdf/.md files. The file name becomes the document id.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runIngest,
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx := cmd.Context()

	embedder, err := embed.New(cfg.Embedding)
	if err != nil {
		return err
	}
	store, err := factory.New(ctx, cfg, embedder)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	pipeline := ingest.NewPipeline(cfg.Chunking.Size, cfg.Chunking.Overlap)

	for _, path := range args {
		name := filepath.Base(path)

		chunks, err := pipeline.ProcessFile(path, name)
		if err != nil {
			return fmt.Errorf("processing %s: %w", path, err)
		}

		n, err := store.AddChunks(ctx, chunks, name)
		if err != nil {
			return fmt.Errorf("indexing %s: %w", path, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "indexed %s (%d chunks)\n", name, n)
	}
	return nil
}
