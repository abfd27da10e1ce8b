package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/solvenia/kbcore/internal/api"
	"github.com/solvenia/kbcore/internal/service"
)

type RetrievalService interface {
	Retrieve(ctx context.Context, query string, limit int) []*service.ChunkMatch
}

type AskHandler struct {
	svc RetrievalService
}

func NewAskHandler(svc RetrievalService) *AskHandler {
	return &AskHandler{svc: svc}
}

type AskRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type AskResultResponse struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt string            `json:"created_at"`
	Score     float64           `json:"score"`
}

type AskResponse struct {
	Results []*AskResultResponse `json:"results"`
}

func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit < 0 {
		api.Error(w, http.StatusBadRequest, "invalid limit")
		return
	}

	matches := h.svc.Retrieve(r.Context(), req.Query, req.Limit)

	results := make([]*AskResultResponse, 0, len(matches))
	for _, m := range matches {
		results = append(results, &AskResultResponse{
			ID:        m.Chunk.ID,
			Content:   m.Chunk.Content,
			Source:    m.Chunk.Source,
			Metadata:  m.Chunk.Metadata,
			CreatedAt: m.Chunk.CreatedAt.UTC().Format(time.RFC3339),
			Score:     m.Score,
		})
	}

	api.Success(w, http.StatusOK, AskResponse{Results: results})
}
