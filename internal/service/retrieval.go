package service

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/solvenia/kbcore/internal/domain"
	"github.com/solvenia/kbcore/internal/telemetry"
)

const (
	defaultCandidateMultiplier = 4
	defaultMinCandidates       = 20
	defaultMaxCandidates       = 200
)

// ChunkMatch is one retrieved chunk with its relevance score.
type ChunkMatch struct {
	Chunk *domain.KnowledgeChunk
	Score float64
}

// SearchRepository defines the repository interface for retrieval queries.
// Both methods return candidates ordered by descending score.
type SearchRepository interface {
	SearchSemantic(ctx context.Context, embedding []float32, limit int) ([]*ChunkMatch, error)
	SearchLexical(ctx context.Context, query string, limit int) ([]*ChunkMatch, error)
}

// RetrievalConfig controls ranking and result size.
type RetrievalConfig struct {
	// Alpha weights the semantic score in hybrid fusion; the lexical score
	// gets the remaining 1-Alpha.
	Alpha float64
	// TopK is the result count when the caller does not specify one.
	TopK int
	// Timeout bounds one whole retrieval round trip, embedding included.
	// Zero means the caller's context deadline applies alone.
	Timeout time.Duration
}

// DefaultRetrievalConfig provides sane defaults for retrieval.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Alpha: 0.6,
		TopK:  5,
	}
}

// RetrievalService answers queries against the stored chunks. It fuses
// semantic and lexical rankings and degrades rather than fails: if the
// lexical leg errors it falls back to semantic-only, and if the semantic
// leg (or embedding) errors it returns no results. Callers always get a
// usable, possibly empty, slice.
type RetrievalService struct {
	repo     SearchRepository
	embedder EmbeddingClient
	cfg      RetrievalConfig
}

// NewRetrievalService creates a RetrievalService.
func NewRetrievalService(repo SearchRepository, embedder EmbeddingClient, cfg RetrievalConfig) *RetrievalService {
	if cfg.Alpha < 0 || cfg.Alpha > 1 {
		cfg.Alpha = DefaultRetrievalConfig().Alpha
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultRetrievalConfig().TopK
	}
	return &RetrievalService{
		repo:     repo,
		embedder: embedder,
		cfg:      cfg,
	}
}

// Retrieve returns the top chunks for a query, best first. Failures inside
// the retrieval path are captured and logged, never returned: a bot asking
// a question gets an empty result set, not an error page.
func (s *RetrievalService) Retrieve(ctx context.Context, query string, limit int) []*ChunkMatch {
	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Retrieve", telemetry.SpanAttributes{
		Query:     query,
		Operation: "retrieve",
	})
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return []*ChunkMatch{}
	}
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	if limit <= 0 {
		limit = s.cfg.TopK
	}

	candidateLimit := limit * defaultCandidateMultiplier
	if candidateLimit < defaultMinCandidates {
		candidateLimit = defaultMinCandidates
	}
	if candidateLimit > defaultMaxCandidates {
		candidateLimit = defaultMaxCandidates
	}

	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		log.Printf("retrieval: embedding query failed: %v", err)
		telemetry.CaptureError(ctx, err)
		return []*ChunkMatch{}
	}

	semantic, err := s.repo.SearchSemantic(ctx, embedding, candidateLimit)
	if err != nil {
		log.Printf("retrieval: semantic search failed: %v", err)
		telemetry.CaptureError(ctx, err)
		return []*ChunkMatch{}
	}

	lexical, err := s.repo.SearchLexical(ctx, query, candidateLimit)
	if err != nil {
		log.Printf("retrieval: lexical search failed, degrading to semantic only: %v", err)
		telemetry.CaptureError(ctx, err)
		return truncate(sortMatches(semantic), limit)
	}

	return truncate(fuseMatches(semantic, lexical, s.cfg.Alpha), limit)
}

type fusionCandidate struct {
	chunk    *domain.KnowledgeChunk
	semantic float64
	lexical  float64
}

// fuseMatches combines both rankings into one score per chunk. Semantic
// scores are already similarities in [0,1]; lexical rank scores are
// unbounded, so they are normalized against the best lexical score of this
// query before weighting. A chunk found by only one leg keeps a zero score
// for the other.
func fuseMatches(semantic, lexical []*ChunkMatch, alpha float64) []*ChunkMatch {
	candidates := make(map[string]*fusionCandidate)
	add := func(list []*ChunkMatch, isSemantic bool) {
		for _, m := range list {
			if m == nil || m.Chunk == nil {
				continue
			}
			cand, ok := candidates[m.Chunk.ID]
			if !ok {
				cand = &fusionCandidate{chunk: m.Chunk}
				candidates[m.Chunk.ID] = cand
			}
			if isSemantic {
				cand.semantic = m.Score
			} else {
				cand.lexical = m.Score
			}
		}
	}
	add(semantic, true)
	add(lexical, false)

	maxLexical := 0.0
	for _, m := range lexical {
		if m != nil && m.Score > maxLexical {
			maxLexical = m.Score
		}
	}

	out := make([]*ChunkMatch, 0, len(candidates))
	for _, cand := range candidates {
		lexNorm := 0.0
		if maxLexical > 0 {
			lexNorm = cand.lexical / maxLexical
		}
		out = append(out, &ChunkMatch{
			Chunk: cand.chunk,
			Score: alpha*cand.semantic + (1-alpha)*lexNorm,
		})
	}
	return sortMatches(out)
}

// sortMatches orders by descending score, breaking ties by chunk ID so
// rankings are stable across runs.
func sortMatches(matches []*ChunkMatch) []*ChunkMatch {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Chunk.ID < matches[j].Chunk.ID
	})
	return matches
}

func truncate(matches []*ChunkMatch, limit int) []*ChunkMatch {
	if matches == nil {
		return []*ChunkMatch{}
	}
	if len(matches) > limit {
		return matches[:limit]
	}
	return matches
}
