// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package server

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/loam-dev/loam/internal/leads"
	"github.com/loam-dev/loam/internal/vectorstore"
	loamerr "github.com/loam-dev/loam/pkg/errors"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/api/v1/chat",
		Summary:     "Ask a question",
		Tags:        []string{"chat"},
	}, s.handleChat)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/api/v1/documents",
		Summary:     "List indexed documents",
		Tags:        []string{"documents"},
	}, s.handleListDocuments)

	huma.Register(s.api, huma.Operation{
		OperationID: "delete-document",
		Method:      http.MethodDelete,
		Path:        "/api/v1/documents/{id}",
		Summary:     "Delete a document and its chunks",
		Tags:        []string{"documents"},
	}, s.handleDeleteDocument)

	huma.Register(s.api, huma.Operation{
		OperationID: "create-lead",
		Method:      http.MethodPost,
		Path:        "/api/v1/leads",
		Summary:     "Capture a lead",
		Tags:        []string{"leads"},
	}, s.handleCreateLead)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-leads",
		Method:      http.MethodGet,
		Path:        "/api/v1/leads",
		Summary:     "List captured leads",
		Tags:        []string{"leads"},
	}, s.handleListLeads)
}

// apiError maps an internal error onto the right HTTP status.
func apiError(err error) error {
	return huma.NewError(loamerr.HTTPStatus(err), err.Error())
}

// --- Request/Response types for huma ---

type chatInput struct {
	Body struct {
		Question string `json:"question" minLength:"1" doc:"Question to answer"`
	}
}

type chatOutput struct {
	Body struct {
		Answer  string               `json:"answer" doc:"Generated answer"`
		Sources []vectorstore.Source `json:"sources" doc:"Provenance of the retrieved context"`
	}
}

type listDocumentsOutput struct {
	Body struct {
		Documents []string `json:"documents" doc:"Indexed document ids"`
	}
}

type deleteDocumentInput struct {
	ID string `path:"id" doc:"Document id"`
}

type deleteDocumentOutput struct {
	Body struct {
		Status string `json:"status" example:"deleted"`
	}
}

type createLeadInput struct {
	Body struct {
		Email   string `json:"email" minLength:"1" doc:"Contact email"`
		Name    string `json:"name,omitempty" doc:"Contact name"`
		Company string `json:"company,omitempty" doc:"Company name"`
	}
}

type createLeadOutput struct {
	Body struct {
		ID int64 `json:"id" doc:"Lead id"`
	}
}

type listLeadsOutput struct {
	Body struct {
		Leads []leads.Lead `json:"leads"`
	}
}

// --- Handlers ---

func (s *Server) handleChat(ctx context.Context, input *chatInput) (*chatOutput, error) {
	resp, err := s.deps.Chain.Query(ctx, input.Body.Question)
	if err != nil {
		return nil, apiError(err)
	}
	out := &chatOutput{}
	out.Body.Answer = resp.Answer
	out.Body.Sources = resp.Sources
	return out, nil
}

func (s *Server) handleListDocuments(ctx context.Context, _ *struct{}) (*listDocumentsOutput, error) {
	docs, err := s.deps.Store.ListDocuments(ctx)
	if err != nil {
		return nil, apiError(err)
	}
	out := &listDocumentsOutput{}
	out.Body.Documents = docs
	return out, nil
}

func (s *Server) handleDeleteDocument(ctx context.Context, input *deleteDocumentInput) (*deleteDocumentOutput, error) {
	// The id names a file under the upload dir; reject anything that could
	// escape it, before and after percent-decoding.
	id, err := url.PathUnescape(input.ID)
	if err != nil || id == "" || filepath.Base(id) != id {
		return nil, huma.Error422UnprocessableEntity("invalid document id")
	}

	if err := s.deps.Store.DeleteByDocumentID(ctx, id); err != nil {
		return nil, apiError(err)
	}

	// The uploaded file shares its name with the document id; removing a
	// never-uploaded id is fine.
	if err := os.Remove(filepath.Join(s.cfg.UploadDir, id)); err != nil && !os.IsNotExist(err) {
		return nil, huma.Error500InternalServerError("removing uploaded file", err)
	}

	out := &deleteDocumentOutput{}
	out.Body.Status = "deleted"
	return out, nil
}

func (s *Server) handleCreateLead(ctx context.Context, input *createLeadInput) (*createLeadOutput, error) {
	id, err := s.deps.Leads.Add(ctx, input.Body.Email, input.Body.Name, input.Body.Company)
	if err != nil {
		return nil, apiError(err)
	}
	out := &createLeadOutput{}
	out.Body.ID = id
	return out, nil
}

func (s *Server) handleListLeads(ctx context.Context, _ *struct{}) (*listLeadsOutput, error) {
	all, err := s.deps.Leads.All(ctx)
	if err != nil {
		return nil, apiError(err)
	}
	out := &listLeadsOutput{}
	out.Body.Leads = all
	return out, nil
}
