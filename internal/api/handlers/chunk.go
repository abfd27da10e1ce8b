package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/solvenia/kbcore/internal/api"
	"github.com/solvenia/kbcore/internal/domain"
	"github.com/solvenia/kbcore/internal/service"
)

type KnowledgeService interface {
	Submit(ctx context.Context, input service.SubmitInput) (*domain.KnowledgeChunk, error)
	Exists(ctx context.Context, hash string) (bool, error)
	Clear(ctx context.Context, source string) (int, error)
	ListChunks(ctx context.Context, input service.ListChunksInput) (*service.ListChunksOutput, error)
}

type ChunkHandler struct {
	svc KnowledgeService
}

func NewChunkHandler(svc KnowledgeService) *ChunkHandler {
	return &ChunkHandler{svc: svc}
}

type SubmitChunkRequest struct {
	Content   string            `json:"content"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata"`
	Embedding []float32         `json:"embedding"`
}

type ChunkResponse struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt string            `json:"created_at"`
}

func chunkToResponse(c *domain.KnowledgeChunk) *ChunkResponse {
	return &ChunkResponse{
		ID:        c.ID,
		Content:   c.Content,
		Source:    c.Source,
		Metadata:  c.Metadata,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *ChunkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req SubmitChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Content == "" {
		api.Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Source == "" {
		api.Error(w, http.StatusBadRequest, "source is required")
		return
	}

	chunk, err := h.svc.Submit(r.Context(), service.SubmitInput{
		Content:   req.Content,
		Source:    req.Source,
		Metadata:  req.Metadata,
		Embedding: req.Embedding,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, chunkToResponse(chunk))
}

func (h *ChunkHandler) Exists(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		api.Error(w, http.StatusBadRequest, "hash is required")
		return
	}

	exists, err := h.svc.Exists(r.Context(), hash)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (h *ChunkHandler) Clear(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		api.Error(w, http.StatusBadRequest, "source is required")
		return
	}

	deleted, err := h.svc.Clear(r.Context(), source)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]int{"deleted": deleted})
}

type ListChunksResponse struct {
	Items   []*ChunkResponse `json:"items"`
	Cursor  string           `json:"cursor,omitempty"`
	HasMore bool             `json:"has_more"`
}

func (h *ChunkHandler) List(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		api.Error(w, http.StatusBadRequest, "source is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	out, err := h.svc.ListChunks(r.Context(), service.ListChunksInput{
		Source: source,
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*ChunkResponse, 0, len(out.Items))
	for _, c := range out.Items {
		items = append(items, chunkToResponse(c))
	}

	api.Success(w, http.StatusOK, ListChunksResponse{
		Items:   items,
		Cursor:  out.Cursor,
		HasMore: out.HasMore,
	})
}
