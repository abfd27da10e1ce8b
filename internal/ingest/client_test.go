package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solvenia/kbcore/internal/domain"
)

func testPayload() ChunkPayload {
	return ChunkPayload{
		Content:  "contenido de prueba",
		Source:   "manual.pdf",
		Metadata: map[string]string{domain.MetadataHashKey: domain.HashContent("contenido de prueba")},
	}
}

func newTestClient(url string) *StoreClient {
	return NewStoreClient(StoreClientConfig{
		BaseURL:     url,
		APIKey:      "test-key",
		MaxAttempts: 6,
		BackoffBase: time.Millisecond,
		JitterMax:   0,
	})
}

func TestSubmitChunk_Success(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		assert.Equal(t, "/chunks", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"abc"}}`))
	}))
	defer server.Close()

	err := newTestClient(server.URL).SubmitChunk(context.Background(), testPayload())

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestSubmitChunk_RetryableFailureExhaustsAttempts(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"database down"}`))
	}))
	defer server.Close()

	err := newTestClient(server.URL).SubmitChunk(context.Background(), testPayload())

	require.Error(t, err)
	assert.Equal(t, 6, attempts)

	var derr *domain.DomainError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, domain.ErrCodeTransientUpstream, derr.Code)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "database down", apiErr.Message)
}

func TestSubmitChunk_TooManyRequestsIsRetryable(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	err := newTestClient(server.URL).SubmitChunk(context.Background(), testPayload())

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestSubmitChunk_NonRetryableStatusIsTerminal(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"content is required"}`))
	}))
	defer server.Close()

	err := newTestClient(server.URL).SubmitChunk(context.Background(), testPayload())

	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestSubmitChunk_ConflictMapsToDuplicate(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"knowledge chunk already exists"}`))
	}))
	defer server.Close()

	err := newTestClient(server.URL).SubmitChunk(context.Background(), testPayload())

	assert.Equal(t, 1, attempts)
	assert.True(t, domain.IsDuplicate(err))
}

func TestSubmitChunk_BackoffDelaysNonDecreasing(t *testing.T) {
	base := 15 * time.Millisecond
	var mu sync.Mutex
	var stamps []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewStoreClient(StoreClientConfig{
		BaseURL:     server.URL,
		MaxAttempts: 4,
		BackoffBase: base,
		JitterMax:   0,
	})
	err := client.SubmitChunk(context.Background(), testPayload())
	require.Error(t, err)
	require.Len(t, stamps, 4)

	// Delay before attempt n+1 is base*n, so each gap has a growing floor.
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		assert.GreaterOrEqual(t, gap, time.Duration(i)*base)
	}
}

func TestSubmitChunk_NetworkFailureIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := newTestClient(url).SubmitChunk(context.Background(), testPayload())

	require.Error(t, err)
	var derr *domain.DomainError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, domain.ErrCodeTransientUpstream, derr.Code)
}

func TestSubmitChunk_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewStoreClient(StoreClientConfig{
		BaseURL:     server.URL,
		MaxAttempts: 6,
		BackoffBase: time.Minute,
		JitterMax:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := client.SubmitChunk(ctx, testPayload())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChunkExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chunks/exists", r.URL.Path)
		assert.Equal(t, "abc123", r.URL.Query().Get("hash"))
		w.Write([]byte(`{"data":{"exists":true}}`))
	}))
	defer server.Close()

	exists, err := newTestClient(server.URL).ChunkExists(context.Background(), "abc123")

	require.NoError(t, err)
	assert.True(t, exists)
}

func TestChunkExists_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).ChunkExists(context.Background(), "abc123")
	require.Error(t, err)
}

func TestClearSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "manual.pdf", r.URL.Query().Get("source"))
		w.Write([]byte(`{"data":{"deleted":12}}`))
	}))
	defer server.Close()

	deleted, err := newTestClient(server.URL).ClearSource(context.Background(), "manual.pdf")

	require.NoError(t, err)
	assert.Equal(t, 12, deleted)
}

func TestAsk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ask", r.URL.Path)
		w.Write([]byte(`{"data":{"results":[{"id":"1","content":"Límite 40 km/h","source":"manual.pdf"}]}}`))
	}))
	defer server.Close()

	results, err := newTestClient(server.URL).Ask(context.Background(), "velocidad", 5)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Límite 40 km/h", results[0].Content)
}
