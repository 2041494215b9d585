// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package server

import (
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// chatStreamRequest is the request body for the streaming chat endpoint.
type chatStreamRequest struct {
	Question string `json:"question"`
}

func (s *Server) registerStreamRoute() {
	s.router.Post("/api/v1/chat/stream", s.handleChatStream)

	// The streaming handler needs raw http.ResponseWriter access for
	// incremental flushing, so it bypasses huma; the OpenAPI entry is added
	// manually for documentation.
	minQuestionLen := 1
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "chat-stream",
		Method:      http.MethodPost,
		Path:        "/api/v1/chat/stream",
		Summary:     "Ask a question, streaming the answer",
		Description: "Returns the answer as incremental text/plain fragments.",
		Tags:        []string{"chat"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"question"},
						Properties: map[string]*huma.Schema{
							"question": {
								Type:        "string",
								MinLength:   &minQuestionLen,
								Description: "Question to answer",
							},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Incremental answer fragments",
				Content: map[string]*huma.MediaType{
					"text/plain": {
						Schema: &huma.Schema{Type: "string"},
					},
				},
			},
			"422": {Description: "Validation error (missing question)"},
		},
	})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		http.Error(w, `{"error":"question is required"}`, http.StatusUnprocessableEntity)
		return
	}

	out, err := s.deps.Chain.QueryStream(r.Context(), req.Question)
	if err != nil {
		http.Error(w, `{"error":"retrieval failed"}`, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	flusher, _ := w.(http.Flusher)
	for chunk := range out {
		if _, err := w.Write([]byte(chunk)); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
