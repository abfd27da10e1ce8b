package service

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/solvenia/kbcore/internal/domain"
)

// StaticKeyValidator checks presented API keys against a fixed set loaded
// from configuration. The store runs as a private backend for one bot, so
// key management stays in the environment rather than the database.
type StaticKeyValidator struct {
	keys []string
}

// NewStaticKeyValidator creates a validator for the given keys. Empty
// entries are dropped.
func NewStaticKeyValidator(keys []string) *StaticKeyValidator {
	cleaned := make([]string, 0, len(keys))
	for _, key := range keys {
		if k := strings.TrimSpace(key); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	return &StaticKeyValidator{keys: cleaned}
}

// ValidateAPIKey returns nil when the token matches a configured key.
// Comparison is constant time per key.
func (v *StaticKeyValidator) ValidateAPIKey(ctx context.Context, token string) error {
	if token == "" || len(v.keys) == 0 {
		return domain.ErrInvalidAPIKey
	}
	for _, key := range v.keys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			return nil
		}
	}
	return domain.ErrInvalidAPIKey
}
