package domain

import (
	"fmt"
	"time"
)

// MetadataHashKey is the metadata entry that carries the content hash.
const MetadataHashKey = "content_hash"

// KnowledgeChunk is the atomic unit of storage and retrieval.
// A chunk is immutable once written; it is only ever removed by a
// bulk clear of its source.
type KnowledgeChunk struct {
	ID        string
	Content   string
	Source    string
	Metadata  map[string]string
	Embedding []float32
	CreatedAt time.Time
}

// ContentHash returns the hash recorded in the chunk metadata.
func (c *KnowledgeChunk) ContentHash() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata[MetadataHashKey]
}

// ValidateChunk validates a KnowledgeChunk before persistence.
// The metadata hash must match the actual content so the dedup
// identity and the stored record can never drift apart.
func ValidateChunk(c *KnowledgeChunk) error {
	if c == nil {
		return NewDomainError(ErrCodeValidation, "chunk cannot be nil")
	}
	if c.Content == "" {
		return NewDomainError(ErrCodeValidation, "chunk content is required")
	}
	if c.Source == "" {
		return NewDomainError(ErrCodeValidation, "chunk source is required")
	}
	hash := c.ContentHash()
	if hash == "" {
		return ErrMissingContentHash
	}
	if hash != HashContent(c.Content) {
		return NewDomainError(ErrCodeValidation, "content_hash does not match content")
	}
	return nil
}

// ValidateEmbeddingDimensions rejects vectors whose size does not match
// the configured model dimension. A mismatch means the embedding model
// changed underneath the index and must fail loudly, never be padded
// or truncated.
func ValidateEmbeddingDimensions(embedding []float32, want int) error {
	if len(embedding) == 0 {
		return nil
	}
	if want > 0 && len(embedding) != want {
		return NewDomainError(ErrCodeConfiguration,
			fmt.Sprintf("embedding dimension mismatch: got %d, want %d", len(embedding), want))
	}
	return nil
}
