package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bfsujason/llm-corpus-annotation/pkg/metrics"
	pkgredis "github.com/bfsujason/llm-corpus-annotation/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "emb:"

// Store is the key-value surface the cache needs. *pkgredis.Client
// satisfies it; a missing key must return pkgredis.Nil.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache is an Embedder that serves vectors from a Store and sends only the
// missing texts to the wrapped Embedder. Store failures degrade to misses.
type Cache struct {
	next    Embedder
	store   Store
	model   string
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewCache wraps next. Keys are scoped by model so switching models never
// serves stale vectors. m may be nil.
func NewCache(next Embedder, store Store, model string, ttl time.Duration, m *metrics.Metrics) *Cache {
	return &Cache{
		next:    next,
		store:   store,
		model:   model,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "embedding-cache"),
	}
}

func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	keys := make([]string, len(texts))

	var missing []string
	missingIdx := map[string][]int{}
	for i, text := range texts {
		keys[i] = c.buildKey(text)
		if vec, ok := c.get(ctx, keys[i]); ok {
			out[i] = vec
			continue
		}
		if _, seen := missingIdx[text]; !seen {
			missing = append(missing, text)
		}
		missingIdx[text] = append(missingIdx[text], i)
	}
	c.record(len(texts)-countIdx(missingIdx), countIdx(missingIdx))
	if len(missing) == 0 {
		return out, nil
	}

	val, err, shared := c.group.Do(c.batchKey(missing), func() (any, error) {
		vecs, err := c.next.Embed(ctx, missing)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(missing) {
			return nil, fmt.Errorf("embedding returned %d vectors for %d texts", len(vecs), len(missing))
		}
		for i, text := range missing {
			c.set(ctx, c.buildKey(text), vecs[i])
		}
		return vecs, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("shared in-flight embedding batch", "texts", len(missing))
	}
	for i, vec := range val.([][]float64) {
		for _, idx := range missingIdx[missing[i]] {
			out[idx] = vec
		}
	}
	return out, nil
}

// Stats returns per-text hit and miss counts since creation.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) get(ctx context.Context, key string) ([]float64, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var vec []float64
	if err := json.Unmarshal(data, &vec); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return vec, true
}

func (c *Cache) set(ctx context.Context, key string, vec []float64) {
	data, err := json.Marshal(vec)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func (c *Cache) record(hits, misses int) {
	c.hits.Add(int64(hits))
	c.misses.Add(int64(misses))
	if c.metrics != nil {
		c.metrics.EmbeddingCacheHitsTotal.Add(float64(hits))
		c.metrics.EmbeddingCacheMissesTotal.Add(float64(misses))
	}
}

func (c *Cache) buildKey(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return keyPrefix + hex.EncodeToString(sum[:16])
}

func (c *Cache) batchKey(texts []string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + strings.Join(texts, "\x00")))
	return hex.EncodeToString(sum[:])
}

func countIdx(m map[string][]int) int {
	n := 0
	for _, idx := range m {
		n += len(idx)
	}
	return n
}
