package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/solvenia/kbcore/internal/domain"
	"github.com/solvenia/kbcore/internal/normalize"
)

// EmbeddingClient maps text to a fixed-dimension vector.
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// StoreSubmitter delivers a chunk payload to the store.
type StoreSubmitter interface {
	SubmitChunk(ctx context.Context, payload ChunkPayload) error
}

// Archiver stores the raw source document before chunking.
type Archiver interface {
	ArchiveDocument(ctx context.Context, source string, body []byte) error
}

// PipelineConfig controls batching and chunking for ingestion runs.
type PipelineConfig struct {
	BatchSize  int
	BatchPause time.Duration
	Chunking   normalize.ChunkConfig
}

// DefaultPipelineConfig provides sane defaults for ingestion.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BatchSize:  8,
		BatchPause: time.Second,
		Chunking:   normalize.DefaultChunkConfig(),
	}
}

// Result reports the outcome of an ingestion run. Each chunk succeeds, is
// skipped (filtered or duplicate), or fails independently; the first error
// is retained for diagnostics while processing continues.
type Result struct {
	mu       sync.Mutex
	Saved    int
	Skipped  int
	Failed   int
	FirstErr error
}

func (r *Result) save() {
	r.mu.Lock()
	r.Saved++
	r.mu.Unlock()
}

func (r *Result) skip() {
	r.mu.Lock()
	r.Skipped++
	r.mu.Unlock()
}

func (r *Result) fail(err error) {
	r.mu.Lock()
	r.Failed++
	if r.FirstErr == nil {
		r.FirstErr = err
	}
	r.mu.Unlock()
}

// Pipeline runs the write path: normalize, chunk, filter, deduplicate,
// embed, deliver. Items within a batch run concurrently and independently;
// a pause between batches respects upstream rate limits.
type Pipeline struct {
	store    StoreSubmitter
	dedup    *Deduplicator
	embedder EmbeddingClient
	archive  Archiver
	cfg      PipelineConfig
	limiter  *rate.Limiter
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(store StoreSubmitter, checker ExistenceChecker, embedder EmbeddingClient, cfg PipelineConfig) *Pipeline {
	return NewPipelineWithArchiver(store, checker, embedder, nil, cfg)
}

// NewPipelineWithArchiver creates an ingestion pipeline that archives raw
// documents before chunking. archive may be nil.
func NewPipelineWithArchiver(store StoreSubmitter, checker ExistenceChecker, embedder EmbeddingClient, archive Archiver, cfg PipelineConfig) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultPipelineConfig().BatchSize
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = DefaultPipelineConfig().BatchPause
	}
	if cfg.Chunking.MaxChars <= 0 {
		cfg.Chunking = normalize.DefaultChunkConfig()
	}
	return &Pipeline{
		store:    store,
		dedup:    NewDeduplicator(checker),
		embedder: embedder,
		archive:  archive,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Every(cfg.BatchPause), 1),
	}
}

// IngestDocument cleans and chunks a raw document, then processes the
// chunks in concurrent batches. Partial failure is expected: the returned
// Result counts saved, skipped, and failed chunks independently. The only
// returned error is context cancellation.
func (p *Pipeline) IngestDocument(ctx context.Context, source, raw string) (*Result, error) {
	if p.archive != nil {
		// Best-effort: a failed archive never blocks ingestion.
		if err := p.archive.ArchiveDocument(ctx, source, []byte(raw)); err != nil {
			log.Printf("ingest: archiving %s failed: %v", source, err)
		}
	}

	cleaned := normalize.CleanRawText(raw)
	chunks := normalize.SplitChunks(cleaned, p.cfg.Chunking)

	result := &Result{}
	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		if err := p.limiter.Wait(ctx); err != nil {
			return result, err
		}

		end := start + p.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		var wg sync.WaitGroup
		for _, chunk := range chunks[start:end] {
			wg.Add(1)
			go func(chunk string) {
				defer wg.Done()
				p.processChunk(ctx, source, chunk, result)
			}(chunk)
		}
		wg.Wait()
	}

	return result, nil
}

// IngestEntry processes one pre-bounded text (e.g. a Q&A pair) through the
// same filter/dedup/embed/deliver path without document chunking.
func (p *Pipeline) IngestEntry(ctx context.Context, source, text string) (*Result, error) {
	result := &Result{}
	p.processChunk(ctx, source, normalize.CleanRawText(text), result)
	return result, nil
}

func (p *Pipeline) processChunk(ctx context.Context, source, chunk string, result *Result) {
	flat := normalize.FlattenChunk(chunk)
	if !normalize.IsValidChunk(flat) {
		result.skip()
		return
	}

	hash := domain.HashContent(flat)
	if p.dedup.IsDuplicate(ctx, hash) {
		result.skip()
		return
	}

	embedding, err := p.embedder.GenerateEmbedding(ctx, flat)
	if err != nil {
		log.Printf("ingest: embedding failed for %s: %v", shortHash(hash), err)
		result.fail(err)
		return
	}

	payload := ChunkPayload{
		Content:   flat,
		Source:    source,
		Metadata:  map[string]string{domain.MetadataHashKey: hash},
		Embedding: embedding,
	}
	if err := p.store.SubmitChunk(ctx, payload); err != nil {
		if domain.IsDuplicate(err) {
			result.skip()
			return
		}
		log.Printf("ingest: delivery failed for %s: %v", shortHash(hash), err)
		result.fail(err)
		return
	}

	result.save()
}
