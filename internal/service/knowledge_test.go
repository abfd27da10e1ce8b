package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/solvenia/kbcore/internal/domain"
	"github.com/solvenia/kbcore/internal/pagination"
)

// MockChunkRepository is a mock implementation of ChunkRepositoryInterface
type MockChunkRepository struct {
	mock.Mock
}

func (m *MockChunkRepository) Insert(ctx context.Context, chunk *domain.KnowledgeChunk) error {
	args := m.Called(ctx, chunk)
	return args.Error(0)
}

func (m *MockChunkRepository) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	args := m.Called(ctx, hash)
	return args.Bool(0), args.Error(1)
}

func (m *MockChunkRepository) DeleteBySource(ctx context.Context, source string) (int, error) {
	args := m.Called(ctx, source)
	return args.Int(0), args.Error(1)
}

func (m *MockChunkRepository) ListBySource(ctx context.Context, source string, cursor *pagination.Cursor, limit int) (*ChunkPageResult, error) {
	args := m.Called(ctx, source, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChunkPageResult), args.Error(1)
}

// MockUUIDGenerator is a mock implementation of UUIDGenerator
type MockUUIDGenerator struct {
	uuids     []string
	callCount int
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{uuids: uuids}
}

func (m *MockUUIDGenerator) NewString() string {
	if m.callCount < len(m.uuids) {
		id := m.uuids[m.callCount]
		m.callCount++
		return id
	}
	return "default-uuid"
}

const testDimensions = 8

func validSubmitInput() SubmitInput {
	content := "La distancia de seguridad debe aumentarse con lluvia o niebla."
	return SubmitInput{
		Content:   content,
		Source:    "manual.pdf",
		Metadata:  map[string]string{domain.MetadataHashKey: domain.HashContent(content)},
		Embedding: make([]float32, testDimensions),
	}
}

func TestKnowledgeService_Submit_Success(t *testing.T) {
	mockRepo := new(MockChunkRepository)
	svc := NewKnowledgeServiceWithUUIDGen(mockRepo, testDimensions, NewMockUUIDGenerator("chunk-1"))

	mockRepo.On("Insert", mock.Anything, mock.MatchedBy(func(c *domain.KnowledgeChunk) bool {
		return c.ID == "chunk-1" && c.Source == "manual.pdf" && !c.CreatedAt.IsZero()
	})).Return(nil)

	input := validSubmitInput()
	chunk, err := svc.Submit(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, "chunk-1", chunk.ID)
	assert.Equal(t, input.Content, chunk.Content)
	assert.Equal(t, input.Metadata[domain.MetadataHashKey], chunk.ContentHash())
	mockRepo.AssertExpectations(t)
}

func TestKnowledgeService_Submit_MissingHash(t *testing.T) {
	mockRepo := new(MockChunkRepository)
	svc := NewKnowledgeService(mockRepo, testDimensions)

	input := validSubmitInput()
	input.Metadata = nil

	_, err := svc.Submit(context.Background(), input)

	assert.ErrorIs(t, err, domain.ErrMissingContentHash)
	mockRepo.AssertNotCalled(t, "Insert")
}

func TestKnowledgeService_Submit_HashMismatch(t *testing.T) {
	mockRepo := new(MockChunkRepository)
	svc := NewKnowledgeService(mockRepo, testDimensions)

	input := validSubmitInput()
	input.Metadata[domain.MetadataHashKey] = domain.HashContent("otro contenido")

	_, err := svc.Submit(context.Background(), input)

	require.Error(t, err)
	var derr *domain.DomainError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, domain.ErrCodeValidation, derr.Code)
	mockRepo.AssertNotCalled(t, "Insert")
}

func TestKnowledgeService_Submit_MissingEmbedding(t *testing.T) {
	mockRepo := new(MockChunkRepository)
	svc := NewKnowledgeService(mockRepo, testDimensions)

	input := validSubmitInput()
	input.Embedding = nil

	_, err := svc.Submit(context.Background(), input)

	require.Error(t, err)
	var derr *domain.DomainError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, domain.ErrCodeValidation, derr.Code)
}

func TestKnowledgeService_Submit_WrongDimensions(t *testing.T) {
	mockRepo := new(MockChunkRepository)
	svc := NewKnowledgeService(mockRepo, testDimensions)

	input := validSubmitInput()
	input.Embedding = make([]float32, testDimensions+1)

	_, err := svc.Submit(context.Background(), input)

	require.Error(t, err)
	var derr *domain.DomainError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, domain.ErrCodeConfiguration, derr.Code)
	mockRepo.AssertNotCalled(t, "Insert")
}

func TestKnowledgeService_Submit_Duplicate(t *testing.T) {
	mockRepo := new(MockChunkRepository)
	svc := NewKnowledgeService(mockRepo, testDimensions)

	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(domain.ErrChunkAlreadyExists)

	_, err := svc.Submit(context.Background(), validSubmitInput())

	assert.True(t, domain.IsDuplicate(err))
}

func TestKnowledgeService_Exists(t *testing.T) {
	mockRepo := new(MockChunkRepository)
	svc := NewKnowledgeService(mockRepo, testDimensions)

	mockRepo.On("ExistsByHash", mock.Anything, "hash-a").Return(true, nil)

	exists, err := svc.Exists(context.Background(), "hash-a")

	require.NoError(t, err)
	assert.True(t, exists)
}

func TestKnowledgeService_Exists_EmptyHash(t *testing.T) {
	mockRepo := new(MockChunkRepository)
	svc := NewKnowledgeService(mockRepo, testDimensions)

	_, err := svc.Exists(context.Background(), "")

	assert.ErrorIs(t, err, domain.ErrMissingContentHash)
	mockRepo.AssertNotCalled(t, "ExistsByHash")
}

func TestKnowledgeService_Clear(t *testing.T) {
	mockRepo := new(MockChunkRepository)
	svc := NewKnowledgeService(mockRepo, testDimensions)

	mockRepo.On("DeleteBySource", mock.Anything, "manual.pdf").Return(17, nil)

	deleted, err := svc.Clear(context.Background(), "manual.pdf")

	require.NoError(t, err)
	assert.Equal(t, 17, deleted)
}

func TestKnowledgeService_Clear_EmptySource(t *testing.T) {
	mockRepo := new(MockChunkRepository)
	svc := NewKnowledgeService(mockRepo, testDimensions)

	_, err := svc.Clear(context.Background(), "")

	require.Error(t, err)
	var derr *domain.DomainError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, domain.ErrCodeValidation, derr.Code)
	mockRepo.AssertNotCalled(t, "DeleteBySource")
}

func TestKnowledgeService_ListChunks(t *testing.T) {
	mockRepo := new(MockChunkRepository)
	svc := NewKnowledgeService(mockRepo, testDimensions)

	items := []*domain.KnowledgeChunk{
		{ID: "chunk-1", Source: "manual.pdf", CreatedAt: time.Now().UTC()},
	}
	mockRepo.On("ListBySource", mock.Anything, "manual.pdf", (*pagination.Cursor)(nil), 20).
		Return(&ChunkPageResult{Items: items, NextCursor: "next", HasMore: true}, nil)

	out, err := svc.ListChunks(context.Background(), ListChunksInput{Source: "manual.pdf"})

	require.NoError(t, err)
	assert.Equal(t, items, out.Items)
	assert.Equal(t, "next", out.Cursor)
	assert.True(t, out.HasMore)
}

func TestKnowledgeService_ListChunks_InvalidCursor(t *testing.T) {
	mockRepo := new(MockChunkRepository)
	svc := NewKnowledgeService(mockRepo, testDimensions)

	_, err := svc.ListChunks(context.Background(), ListChunksInput{Source: "manual.pdf", Cursor: "not-base64!!"})

	require.Error(t, err)
	var derr *domain.DomainError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, domain.ErrCodeValidation, derr.Code)
}

func TestKnowledgeService_ListChunks_CursorPassedThrough(t *testing.T) {
	mockRepo := new(MockChunkRepository)
	svc := NewKnowledgeService(mockRepo, testDimensions)

	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	cursor := pagination.EncodeCursor("chunk-9", ts)
	mockRepo.On("ListBySource", mock.Anything, "manual.pdf", mock.MatchedBy(func(c *pagination.Cursor) bool {
		return c != nil && c.LastID == "chunk-9" && c.Timestamp.Equal(ts)
	}), 50).Return(&ChunkPageResult{}, nil)

	_, err := svc.ListChunks(context.Background(), ListChunksInput{Source: "manual.pdf", Cursor: cursor, Limit: 50})

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}
