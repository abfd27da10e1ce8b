package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/solvenia/kbcore/internal/domain"
	"github.com/solvenia/kbcore/internal/pagination"
	"github.com/solvenia/kbcore/internal/service"
)

const uniqueViolationCode = "23505"

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ChunkRepository handles persistence and retrieval of knowledge chunks.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// Insert stores one chunk. The unique index on content_hash is the final
// dedup backstop: a hash collision with a stored chunk maps to
// domain.ErrChunkAlreadyExists.
func (r *ChunkRepository) Insert(ctx context.Context, c *domain.KnowledgeChunk) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO chunks (id, content, source, metadata, content_hash, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Content, c.Source, c.Metadata, c.ContentHash(), pgvector.NewVector(c.Embedding), c.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return domain.ErrChunkAlreadyExists
		}
		return err
	}
	return nil
}

func (r *ChunkRepository) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chunks WHERE content_hash = $1)`,
		hash,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *ChunkRepository) DeleteBySource(ctx context.Context, source string) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM chunks WHERE source = $1`, source)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *ChunkRepository) ListBySource(ctx context.Context, source string, cursor *pagination.Cursor, limit int) (*service.ChunkPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, content, source, metadata, created_at
			 FROM chunks
			 WHERE source = $1 AND (created_at, id) < ($2, $3)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $4`,
			source, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, content, source, metadata, created_at
			 FROM chunks
			 WHERE source = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			source, limit+1,
		)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanChunkRows(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.CreatedAt)
	}

	return &service.ChunkPageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// SearchSemantic ranks chunks by cosine similarity to the query embedding.
// The <=> operator returns cosine distance, so score = 1 - distance lands
// in [0,1] with 1 meaning identical direction.
func (r *ChunkRepository) SearchSemantic(ctx context.Context, embedding []float32, limit int) ([]*service.ChunkMatch, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, content, source, metadata, created_at,
		        1 - (embedding <=> $1) AS score
		 FROM chunks
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(embedding), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMatchRows(rows)
}

// SearchLexical ranks chunks by full-text relevance against the raw query.
func (r *ChunkRepository) SearchLexical(ctx context.Context, query string, limit int) ([]*service.ChunkMatch, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, content, source, metadata, created_at,
		        ts_rank_cd(search_text, plainto_tsquery('spanish', $1)) AS score
		 FROM chunks
		 WHERE search_text @@ plainto_tsquery('spanish', $1)
		 ORDER BY score DESC
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMatchRows(rows)
}

func scanChunkRows(rows pgx.Rows) ([]*domain.KnowledgeChunk, error) {
	var results []*domain.KnowledgeChunk
	for rows.Next() {
		var c domain.KnowledgeChunk
		if err := rows.Scan(&c.ID, &c.Content, &c.Source, &c.Metadata, &c.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, &c)
	}
	return results, rows.Err()
}

func scanMatchRows(rows pgx.Rows) ([]*service.ChunkMatch, error) {
	var results []*service.ChunkMatch
	for rows.Next() {
		var c domain.KnowledgeChunk
		var score float64
		if err := rows.Scan(&c.ID, &c.Content, &c.Source, &c.Metadata, &c.CreatedAt, &score); err != nil {
			return nil, err
		}
		results = append(results, &service.ChunkMatch{Chunk: &c, Score: score})
	}
	return results, rows.Err()
}
