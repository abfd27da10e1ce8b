package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvenia/kbcore/internal/domain"
	"github.com/solvenia/kbcore/internal/normalize"
)

const (
	paraSpeed    = "El límite de velocidad en zona urbana es de cuarenta kilómetros por hora, salvo señalización expresa que indique un valor distinto para ese tramo."
	paraDistance = "La distancia de seguridad con el vehículo precedente debe aumentarse con lluvia, niebla o calzada deslizante para permitir una frenada segura."
	paraAlcohol  = "La tasa máxima de alcohol permitida para conductores noveles es inferior a la general y su incumplimiento conlleva la retirada de puntos del permiso."
)

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []ChunkPayload
	errFor   map[string]error
}

func (f *fakeSubmitter) SubmitChunk(ctx context.Context, payload ChunkPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errFor[payload.Content]; ok {
		return err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeSubmitter) sources() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.payloads))
	for _, p := range f.payloads {
		out = append(out, p.Source)
	}
	return out
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, 4), nil
}

type fakeArchiver struct {
	mu     sync.Mutex
	bodies map[string][]byte
	err    error
}

func (f *fakeArchiver) ArchiveDocument(ctx context.Context, source string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.bodies == nil {
		f.bodies = make(map[string][]byte)
	}
	f.bodies[source] = body
	return nil
}

func testPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BatchSize:  4,
		BatchPause: time.Millisecond,
		Chunking:   normalize.DefaultChunkConfig(),
	}
}

func TestIngestDocument_SavesValidChunks(t *testing.T) {
	store := &fakeSubmitter{}
	checker := &fakeChecker{exists: map[string]bool{}}
	embedder := &fakeEmbedder{}
	pipeline := NewPipeline(store, checker, embedder, testPipelineConfig())

	raw := paraSpeed + "\n\n" + paraDistance
	result, err := pipeline.IngestDocument(context.Background(), "manual.pdf", raw)

	require.NoError(t, err)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, result.Saved, len(store.payloads))
	require.NotEmpty(t, store.payloads)

	for _, p := range store.payloads {
		assert.Equal(t, "manual.pdf", p.Source)
		assert.Equal(t, domain.HashContent(p.Content), p.Metadata[domain.MetadataHashKey])
		assert.NotEmpty(t, p.Embedding)
		assert.NotContains(t, p.Content, "\n")
	}
}

func TestIngestDocument_SecondRunIsSkipped(t *testing.T) {
	store := &fakeSubmitter{}
	checker := &fakeChecker{exists: map[string]bool{}}
	embedder := &fakeEmbedder{}
	pipeline := NewPipeline(store, checker, embedder, testPipelineConfig())

	raw := paraSpeed + "\n\n" + paraDistance
	first, err := pipeline.IngestDocument(context.Background(), "manual.pdf", raw)
	require.NoError(t, err)
	require.Positive(t, first.Saved)

	second, err := pipeline.IngestDocument(context.Background(), "manual.pdf", raw)
	require.NoError(t, err)
	assert.Zero(t, second.Saved)
	assert.Equal(t, first.Saved, second.Skipped)
	assert.Len(t, store.payloads, first.Saved)
}

func TestIngestDocument_StoredContentIsSkipped(t *testing.T) {
	flat := normalize.FlattenChunk(paraSpeed)
	checker := &fakeChecker{exists: map[string]bool{domain.HashContent(flat): true}}
	store := &fakeSubmitter{}
	embedder := &fakeEmbedder{}
	pipeline := NewPipeline(store, checker, embedder, testPipelineConfig())

	result, err := pipeline.IngestDocument(context.Background(), "manual.pdf", paraSpeed)

	require.NoError(t, err)
	assert.Zero(t, result.Saved)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, embedder.calls, "duplicates must not be embedded")
}

func TestIngestDocument_ConflictCountsAsSkipped(t *testing.T) {
	flat := normalize.FlattenChunk(paraSpeed)
	store := &fakeSubmitter{errFor: map[string]error{flat: domain.ErrChunkAlreadyExists}}
	checker := &fakeChecker{exists: map[string]bool{}}
	pipeline := NewPipeline(store, checker, &fakeEmbedder{}, testPipelineConfig())

	result, err := pipeline.IngestDocument(context.Background(), "manual.pdf", paraSpeed)

	require.NoError(t, err)
	assert.Zero(t, result.Saved)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Failed)
}

func TestIngestDocument_OneFailureDoesNotAbortBatch(t *testing.T) {
	flat := normalize.FlattenChunk(paraDistance)
	deliveryErr := errors.New("delivery failed")
	store := &fakeSubmitter{errFor: map[string]error{flat: deliveryErr}}
	checker := &fakeChecker{exists: map[string]bool{}}
	cfg := testPipelineConfig()
	// Windows shorter than two paragraphs so each paragraph is its own chunk.
	cfg.Chunking = normalize.ChunkConfig{MaxChars: 200, MinChars: 50, Overlap: 0}
	pipeline := NewPipeline(store, checker, &fakeEmbedder{}, cfg)

	raw := paraSpeed + "\n\n" + paraDistance + "\n\n" + paraAlcohol
	result, err := pipeline.IngestDocument(context.Background(), "manual.pdf", raw)

	require.NoError(t, err)
	assert.Equal(t, 2, result.Saved)
	assert.Equal(t, 1, result.Failed)
	assert.ErrorIs(t, result.FirstErr, deliveryErr)
}

func TestIngestDocument_EmbeddingFailureCountsAsFailed(t *testing.T) {
	store := &fakeSubmitter{}
	checker := &fakeChecker{exists: map[string]bool{}}
	embedder := &fakeEmbedder{err: errors.New("upstream unavailable")}
	pipeline := NewPipeline(store, checker, embedder, testPipelineConfig())

	result, err := pipeline.IngestDocument(context.Background(), "manual.pdf", paraSpeed)

	require.NoError(t, err)
	assert.Zero(t, result.Saved)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, store.payloads)
}

func TestIngestDocument_ArchivesRawDocument(t *testing.T) {
	archive := &fakeArchiver{}
	store := &fakeSubmitter{}
	checker := &fakeChecker{exists: map[string]bool{}}
	pipeline := NewPipelineWithArchiver(store, checker, &fakeEmbedder{}, archive, testPipelineConfig())

	_, err := pipeline.IngestDocument(context.Background(), "manual.pdf", paraSpeed)

	require.NoError(t, err)
	assert.Equal(t, []byte(paraSpeed), archive.bodies["manual.pdf"])
}

func TestIngestDocument_ArchiveFailureDoesNotBlockIngestion(t *testing.T) {
	archive := &fakeArchiver{err: errors.New("bucket unavailable")}
	store := &fakeSubmitter{}
	checker := &fakeChecker{exists: map[string]bool{}}
	pipeline := NewPipelineWithArchiver(store, checker, &fakeEmbedder{}, archive, testPipelineConfig())

	result, err := pipeline.IngestDocument(context.Background(), "manual.pdf", paraSpeed)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)
}

func TestIngestDocument_CancelledContext(t *testing.T) {
	store := &fakeSubmitter{}
	checker := &fakeChecker{exists: map[string]bool{}}
	pipeline := NewPipeline(store, checker, &fakeEmbedder{}, PipelineConfig{
		BatchSize:  1,
		BatchPause: time.Hour,
		Chunking:   normalize.DefaultChunkConfig(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	raw := paraSpeed + "\n\n" + paraDistance
	_, err := pipeline.IngestDocument(ctx, "manual.pdf", raw)
	assert.Error(t, err)
}

func TestIngestEntry_ValidText(t *testing.T) {
	store := &fakeSubmitter{}
	checker := &fakeChecker{exists: map[string]bool{}}
	pipeline := NewPipeline(store, checker, &fakeEmbedder{}, testPipelineConfig())

	text := "¿Cuál es el límite de velocidad en autopista? El límite general en autopista es de ciento veinte kilómetros por hora para turismos."
	result, err := pipeline.IngestEntry(context.Background(), "faq", text)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Saved)
	require.Len(t, store.payloads, 1)
	assert.Equal(t, "faq", store.payloads[0].Source)
}

func TestIngestEntry_TooShortIsFiltered(t *testing.T) {
	store := &fakeSubmitter{}
	checker := &fakeChecker{exists: map[string]bool{}}
	embedder := &fakeEmbedder{}
	pipeline := NewPipeline(store, checker, embedder, testPipelineConfig())

	result, err := pipeline.IngestEntry(context.Background(), "faq", "Muy corto.")

	require.NoError(t, err)
	assert.Zero(t, result.Saved)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, embedder.calls)
}

func TestIngestDocument_LargeDocumentRunsInBatches(t *testing.T) {
	store := &fakeSubmitter{}
	checker := &fakeChecker{exists: map[string]bool{}}
	pipeline := NewPipeline(store, checker, &fakeEmbedder{}, PipelineConfig{
		BatchSize:  2,
		BatchPause: time.Millisecond,
		Chunking:   normalize.ChunkConfig{MaxChars: 200, MinChars: 50, Overlap: 0, MaxChunks: 100},
	})

	paras := []string{paraSpeed, paraDistance, paraAlcohol, paraSpeed + " Además, los tramos escolares reducen el límite a treinta."}
	raw := strings.Join(paras, "\n\n")
	result, err := pipeline.IngestDocument(context.Background(), "manual.pdf", raw)

	require.NoError(t, err)
	assert.Positive(t, result.Saved)
	assert.Equal(t, result.Saved, len(store.sources()))
}
