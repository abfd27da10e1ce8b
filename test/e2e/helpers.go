//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/solvenia/kbcore/internal/api/handlers"
	"github.com/solvenia/kbcore/internal/domain"
	"github.com/solvenia/kbcore/internal/repository"
	"github.com/solvenia/kbcore/internal/server"
	"github.com/solvenia/kbcore/internal/service"
	"github.com/solvenia/kbcore/internal/testutil"
)

const (
	testAPIKey    = "kbc_e2e_test_key"
	embeddingDims = 1536
)

// TestEnv holds all resources needed for end to end tests
type TestEnv struct {
	T          *testing.T
	Ctx        context.Context
	Pool       *pgxpool.Pool
	ServerURL  string
	HTTPClient *http.Client
}

// stubEmbedder produces deterministic unit vectors so semantic similarity
// is exact: texts sharing a topic keyword land on the same axis.
type stubEmbedder struct{}

func (stubEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	axis := 0
	switch {
	case strings.Contains(lower, "velocidad"):
		axis = 1
	case strings.Contains(lower, "alcohol"):
		axis = 2
	case strings.Contains(lower, "peaton") || strings.Contains(lower, "peatón"):
		axis = 3
	}

	embedding := make([]float32, embeddingDims)
	embedding[axis] = 1
	return embedding, nil
}

// SetupTestEnv starts a Postgres container, runs migrations and serves the
// full router over an in-process HTTP server.
func SetupTestEnv(t *testing.T) *TestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../db/migrations")

	chunkRepo := repository.NewChunkRepository(pool)
	knowledgeSvc := service.NewKnowledgeService(chunkRepo, embeddingDims)
	authValidator := service.NewStaticKeyValidator([]string{testAPIKey})

	cache := service.NewQueryEmbeddingCache(stubEmbedder{}, service.DefaultCacheConfig())
	retrievalSvc := service.NewRetrievalService(chunkRepo, cache, service.DefaultRetrievalConfig())

	router := server.NewRouter(server.RouterConfig{
		AuthValidator: authValidator,
		ChunkHandler:  handlers.NewChunkHandler(knowledgeSvc),
		AskHandler:    handlers.NewAskHandler(retrievalSvc),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		pool.Close()
		_ = pgC.Terminate(context.Background())
	})

	return &TestEnv{
		T:          t,
		Ctx:        ctx,
		Pool:       pool,
		ServerURL:  srv.URL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Embed runs the stub embedder for test payload construction.
func (e *TestEnv) Embed(text string) []float32 {
	embedding, _ := stubEmbedder{}.GenerateEmbedding(e.Ctx, text)
	return embedding
}

// Do issues an authenticated request against the test server and decodes the
// JSON envelope.
func (e *TestEnv) Do(method, path string, body interface{}) (int, map[string]interface{}) {
	e.T.Helper()
	return e.doWithKey(method, path, body, testAPIKey)
}

// DoUnauthenticated issues a request without an Authorization header.
func (e *TestEnv) DoUnauthenticated(method, path string, body interface{}) (int, map[string]interface{}) {
	e.T.Helper()
	return e.doWithKey(method, path, body, "")
}

func (e *TestEnv) doWithKey(method, path string, body interface{}, apiKey string) (int, map[string]interface{}) {
	e.T.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			e.T.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(e.Ctx, method, e.ServerURL+path, reader)
	if err != nil {
		e.T.Fatalf("failed to build request: %v", err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		e.T.Fatalf("request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		e.T.Fatalf("failed to read response body: %v", err)
	}

	var envelope map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil {
			e.T.Fatalf("invalid JSON response %q: %v", string(raw), err)
		}
	}

	return resp.StatusCode, envelope
}

// Data extracts the data object from a response envelope.
func Data(t *testing.T, envelope map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, ok := envelope["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no data object: %v", envelope)
	}
	return data
}

// ChunkBody builds a valid submission payload for the given content.
func (e *TestEnv) ChunkBody(content, source string) map[string]interface{} {
	return map[string]interface{}{
		"content":   content,
		"source":    source,
		"metadata":  map[string]string{"content_hash": domain.HashContent(content)},
		"embedding": e.Embed(content),
	}
}
