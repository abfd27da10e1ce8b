package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/solvenia/kbcore/internal/domain"
	"github.com/solvenia/kbcore/internal/pagination"
	"github.com/solvenia/kbcore/internal/telemetry"
)

// ChunkRepositoryInterface defines the repository interface for chunk persistence
type ChunkRepositoryInterface interface {
	Insert(ctx context.Context, chunk *domain.KnowledgeChunk) error
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	DeleteBySource(ctx context.Context, source string) (int, error)
	ListBySource(ctx context.Context, source string, cursor *pagination.Cursor, limit int) (*ChunkPageResult, error)
}

type ChunkPageResult struct {
	Items      []*domain.KnowledgeChunk
	NextCursor string
	HasMore    bool
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// KnowledgeService handles business logic for stored knowledge chunks
type KnowledgeService struct {
	repo       ChunkRepositoryInterface
	uuidGen    UUIDGenerator
	dimensions int
}

// NewKnowledgeService creates a new KnowledgeService instance. dimensions is
// the embedding width every stored chunk must carry.
func NewKnowledgeService(repo ChunkRepositoryInterface, dimensions int) *KnowledgeService {
	return &KnowledgeService{
		repo:       repo,
		uuidGen:    &DefaultUUIDGenerator{},
		dimensions: dimensions,
	}
}

// NewKnowledgeServiceWithUUIDGen creates a new KnowledgeService with custom UUID generator (for testing)
func NewKnowledgeServiceWithUUIDGen(repo ChunkRepositoryInterface, dimensions int, uuidGen UUIDGenerator) *KnowledgeService {
	return &KnowledgeService{
		repo:       repo,
		uuidGen:    uuidGen,
		dimensions: dimensions,
	}
}

// SubmitInput represents the input for storing a knowledge chunk
type SubmitInput struct {
	Content   string
	Source    string
	Metadata  map[string]string
	Embedding []float32
}

type ListChunksInput struct {
	Source string
	Cursor string
	Limit  int
}

type ListChunksOutput struct {
	Items   []*domain.KnowledgeChunk
	Cursor  string
	HasMore bool
}

// Submit validates and stores one knowledge chunk. The content hash in the
// metadata must match the content, and the embedding must match the
// configured dimensions. A chunk whose hash is already stored returns
// domain.ErrChunkAlreadyExists.
func (s *KnowledgeService) Submit(ctx context.Context, input SubmitInput) (*domain.KnowledgeChunk, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Submit", telemetry.SpanAttributes{
		Source:    input.Source,
		Operation: "submit",
	})
	defer span.End()

	chunk := &domain.KnowledgeChunk{
		ID:        s.uuidGen.NewString(),
		Content:   input.Content,
		Source:    input.Source,
		Metadata:  input.Metadata,
		Embedding: input.Embedding,
		CreatedAt: time.Now().UTC(),
	}

	if err := domain.ValidateChunk(chunk); err != nil {
		return nil, err
	}

	if len(chunk.Embedding) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "embedding is required")
	}
	if err := domain.ValidateEmbeddingDimensions(chunk.Embedding, s.dimensions); err != nil {
		return nil, err
	}

	if err := s.repo.Insert(ctx, chunk); err != nil {
		return nil, err
	}

	return chunk, nil
}

// Exists reports whether a chunk with the given content hash is stored.
func (s *KnowledgeService) Exists(ctx context.Context, hash string) (bool, error) {
	if hash == "" {
		return false, domain.ErrMissingContentHash
	}
	return s.repo.ExistsByHash(ctx, hash)
}

// Clear removes every chunk ingested from one source and returns the count.
func (s *KnowledgeService) Clear(ctx context.Context, source string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Clear", telemetry.SpanAttributes{
		Source:    source,
		Operation: "clear",
	})
	defer span.End()

	if source == "" {
		return 0, domain.NewDomainError(domain.ErrCodeValidation, "source is required")
	}
	return s.repo.DeleteBySource(ctx, source)
}

// ListChunks returns one page of chunks for a source, newest first.
func (s *KnowledgeService) ListChunks(ctx context.Context, input ListChunksInput) (*ListChunksOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.ListChunks", telemetry.SpanAttributes{
		Source:    input.Source,
		Operation: "list",
	})
	defer span.End()

	if input.Source == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "source is required")
	}

	cursor, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "invalid cursor")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	result, err := s.repo.ListBySource(ctx, input.Source, cursor, limit)
	if err != nil {
		return nil, err
	}

	return &ListChunksOutput{
		Items:   result.Items,
		Cursor:  result.NextCursor,
		HasMore: result.HasMore,
	}, nil
}
