// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

// Command openapi-gen writes the OpenAPI spec that huma derives from the
// server's route registrations.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loam-dev/loam/internal/ingest"
	"github.com/loam-dev/loam/internal/server"
	loamerr "github.com/loam-dev/loam/pkg/errors"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec creates a server with all routes registered and extracts the
// OpenAPI document. Dependencies stay nil; handlers are never invoked.
func generateSpec() ([]byte, error) {
	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
	}, server.Dependencies{
		Pipeline: ingest.NewPipeline(1000, 200),
	})
	if err != nil {
		return nil, loamerr.Errorf(loamerr.CodeCLISetupFailure, "creating server: %w", err)
	}

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}
