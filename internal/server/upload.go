// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package server

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/loam-dev/loam/internal/ingest"
	loamerr "github.com/loam-dev/loam/pkg/errors"
)

// maxUploadBytes bounds a single uploaded document.
const maxUploadBytes = 50 << 20

func (s *Server) registerUploadRoute() {
	s.router.Post("/api/v1/documents/upload", s.handleUpload)

	// Multipart handling bypasses huma; the OpenAPI entry is added manually.
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "upload-document",
		Method:      http.MethodPost,
		Path:        "/api/v1/documents/upload",
		Summary:     "Upload and index a document",
		Description: "Accepts a multipart form with a single \"file\" field (.pdf, .md, .markdown).",
		Tags:        []string{"documents"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"multipart/form-data": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"file"},
						Properties: map[string]*huma.Schema{
							"file": {
								Type:   "string",
								Format: "binary",
							},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {Description: "Document indexed"},
			"422": {Description: "Missing file or unsupported format"},
		},
	})
}

type uploadResponse struct {
	DocumentID    string `json:"document_id"`
	Source        string `json:"source"`
	ChunksIndexed int    `json:"chunks_indexed"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "multipart form must carry a \"file\" field")
		return
	}
	defer func() { _ = file.Close() }()

	originalName := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(originalName))
	if !ingest.SupportedExt(ext) {
		writeError(w, http.StatusUnprocessableEntity, "unsupported file type; upload .pdf, .md, or .markdown")
		return
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "preparing upload directory")
		return
	}

	// The stored name doubles as the document id.
	documentID := uuid.NewString() + ext
	storedPath := filepath.Join(s.cfg.UploadDir, documentID)

	dst, err := os.Create(storedPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storing uploaded file")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		_ = dst.Close()
		_ = os.Remove(storedPath)
		writeError(w, http.StatusInternalServerError, "storing uploaded file")
		return
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(storedPath)
		writeError(w, http.StatusInternalServerError, "storing uploaded file")
		return
	}

	chunks, err := s.deps.Pipeline.ProcessFile(storedPath, originalName)
	if err != nil {
		_ = os.Remove(storedPath)
		writeError(w, loamerr.HTTPStatus(err), err.Error())
		return
	}

	n, err := s.deps.Store.AddChunks(r.Context(), chunks, documentID)
	if err != nil {
		_ = os.Remove(storedPath)
		writeError(w, loamerr.HTTPStatus(err), "indexing document failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(uploadResponse{
		DocumentID:    documentID,
		Source:        originalName,
		ChunksIndexed: n,
	})
}

func (s *Server) registerLeadsExportRoute() {
	s.router.Get("/api/v1/leads/export", s.handleLeadsExport)

	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "export-leads",
		Method:      http.MethodGet,
		Path:        "/api/v1/leads/export",
		Summary:     "Export leads as CSV",
		Tags:        []string{"leads"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "CSV export",
				Content: map[string]*huma.MediaType{
					"text/csv": {Schema: &huma.Schema{Type: "string"}},
				},
			},
		},
	})
}

func (s *Server) handleLeadsExport(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Leads.ExportCSV(r.Context())
	if err != nil {
		writeError(w, loamerr.HTTPStatus(err), "exporting leads failed")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="leads.csv"`)
	_, _ = w.Write([]byte(out))
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
