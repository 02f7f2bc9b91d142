package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bfsujason/llm-corpus-annotation/pkg/config"
	"github.com/bfsujason/llm-corpus-annotation/pkg/metrics"
	pkgredis "github.com/bfsujason/llm-corpus-annotation/pkg/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// fakeProvider serves /v1/embeddings with vector [len(text), i] and fails
// the first `failures` requests with status.
func fakeProvider(t *testing.T, failures int, status int) (*httptest.Server, *atomic.Int32, *[]int) {
	t.Helper()
	var calls atomic.Int32
	var mu sync.Mutex
	var batchSizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if int(n) <= failures {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"provider unhappy","type":"server_error"}}`)
			return
		}
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-v4", req.Model)
		mu.Lock()
		batchSizes = append(batchSizes, len(req.Input))
		mu.Unlock()

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		// Reverse order on the wire; the client must reorder by index.
		for i, text := range req.Input {
			data[len(req.Input)-1-i] = item{Object: "embedding", Embedding: []float32{float32(len(text)), float32(i)}, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &batchSizes
}

func testConfig(url string) config.EmbeddingConfig {
	return config.EmbeddingConfig{
		BaseURL:      url + "/v1",
		APIKey:       "test-key",
		Model:        "text-embedding-v4",
		BatchSize:    2,
		Timeout:      5 * time.Second,
		MaxAttempts:  3,
		FailureLimit: 5,
	}
}

func newTestClient(t *testing.T, cfg config.EmbeddingConfig, m *metrics.Metrics) *Client {
	t.Helper()
	c, err := NewClient(cfg, m)
	require.NoError(t, err)
	c.retry.InitialDelay = time.Millisecond
	return c
}

func TestClientBatchesAndOrders(t *testing.T) {
	srv, calls, sizes := fakeProvider(t, 0, 0)
	m := metrics.New(prometheus.NewRegistry())
	c := newTestClient(t, testConfig(srv.URL), m)

	vecs, err := c.Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	for i, v := range vecs {
		assert.Equal(t, float64(i+1), v[0])
	}
	assert.Equal(t, []float64{3, 0}, vecs[2])
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []int{2, 2, 1}, *sizes)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EmbeddingRequestsTotal.WithLabelValues("ok")))
}

func TestClientRetriesServerErrors(t *testing.T) {
	srv, calls, _ := fakeProvider(t, 2, http.StatusServiceUnavailable)
	c := newTestClient(t, testConfig(srv.URL), nil)

	vecs, err := c.Embed(context.Background(), []string{"one"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryBadRequest(t *testing.T) {
	srv, calls, _ := fakeProvider(t, 10, http.StatusBadRequest)
	c := newTestClient(t, testConfig(srv.URL), nil)

	_, err := c.Embed(context.Background(), []string{"one"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewClientRequiresKey(t *testing.T) {
	cfg := testConfig("http://localhost")
	cfg.APIKey = ""
	_, err := NewClient(cfg, nil)
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

// mapStore is an in-memory Store with redis-compatible misses.
type mapStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
}

func newMapStore() *mapStore { return &mapStore{data: map[string][]byte{}} }

func (s *mapStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, errors.New("connection refused")
	}
	v, ok := s.data[key]
	if !ok {
		return nil, pkgredis.Nil
	}
	return v, nil
}

func (s *mapStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

type countingEmbedder struct {
	texts [][]string
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	e.texts = append(e.texts, texts)
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = []float64{float64(len(t))}
	}
	return out, nil
}

func TestCacheServesHitsAndEncodesMisses(t *testing.T) {
	next := &countingEmbedder{}
	store := newMapStore()
	m := metrics.New(prometheus.NewRegistry())
	cache := NewCache(next, store, "text-embedding-v4", time.Hour, m)

	vecs, err := cache.Embed(context.Background(), []string{"a", "bb", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}, {2}, {1}}, vecs)
	assert.Equal(t, [][]string{{"a", "bb"}}, next.texts, "duplicates are encoded once")

	vecs, err = cache.Embed(context.Background(), []string{"bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{2}, {3}}, vecs)
	assert.Equal(t, []string{"ccc"}, next.texts[1])

	hits, misses := cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(4), misses)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmbeddingCacheHitsTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.EmbeddingCacheMissesTotal))
}

func TestCacheKeysAreModelScoped(t *testing.T) {
	store := newMapStore()
	a := NewCache(&countingEmbedder{}, store, "model-a", 0, nil)
	b := NewCache(&countingEmbedder{}, store, "model-b", 0, nil)
	assert.NotEqual(t, a.buildKey("text"), b.buildKey("text"))
}

type shortEmbedder struct{}

func (shortEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	return [][]float64{{1}}, nil
}

func TestCacheRejectsShortBatch(t *testing.T) {
	store := newMapStore()
	cache := NewCache(shortEmbedder{}, store, "m", 0, nil)

	vecs, err := cache.Embed(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 vectors for 3 texts")
	assert.Nil(t, vecs)
	assert.Empty(t, store.data, "nothing is cached from a short batch")
}

func TestCacheDegradesWhenStoreFails(t *testing.T) {
	next := &countingEmbedder{}
	store := newMapStore()
	store.failGet = true
	cache := NewCache(next, store, "m", 0, nil)

	vecs, err := cache.Embed(context.Background(), []string{"abc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{3}}, vecs)
}
