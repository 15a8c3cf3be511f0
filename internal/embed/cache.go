package embed

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"litgraph/internal/util"
)

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
}

// Store is the persistent cache tier, keyed (model id, content hash).
type Store interface {
	Get(ctx context.Context, modelID, contentHash string) ([]float32, bool, error)
	Put(ctx context.Context, modelID, contentHash string, vec []float32) error
}

// Cache memoizes embeddings keyed on (model id, content hash). Lookups walk
// an in-memory LRU, then the persistent store, then the wrapped embedder.
// Concurrent requests for the same key collapse to a single upstream call;
// a failed upstream call leaves no cache entry behind.
type Cache struct {
	next   Embedder
	mem    *expirable.LRU[string, []float32]
	store  Store
	group  singleflight.Group
	logger *zap.Logger
}

const batchConcurrency = 8

func NewCache(next Embedder, size int, ttl time.Duration, store Store, logger *zap.Logger) *Cache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		next:   next,
		mem:    expirable.NewLRU[string, []float32](size, nil, ttl),
		store:  store,
		logger: logger,
	}
}

func (c *Cache) ModelID() string {
	return c.next.ModelID()
}

// Embed resolves a batch through EmbedOne with bounded concurrency, so the
// per-key single-flight guarantee holds for bulk ingestion as well.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := c.EmbedOne(gctx, text)
			if err != nil {
				return err
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Cache) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	modelID := c.next.ModelID()
	hash := util.SHA256Hex([]byte(text))
	key := "embed:" + modelID + ":" + hash

	if vec, ok := c.mem.Get(key); ok {
		return cloneVec(vec), nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if vec, ok := c.mem.Get(key); ok {
			return vec, nil
		}
		if c.store != nil {
			vec, ok, err := c.store.Get(ctx, modelID, hash)
			if err != nil {
				c.logger.Warn("embedding store read failed", zap.Error(err))
			} else if ok {
				c.logger.Debug("embedding cache hit (store)", zap.String("model", modelID))
				c.mem.Add(key, cloneVec(vec))
				return vec, nil
			}
		}
		out, err := c.next.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(out) != 1 || len(out[0]) == 0 {
			return nil, fmt.Errorf("embedder returned %d vectors for one input", len(out))
		}
		vec := out[0]
		c.mem.Add(key, cloneVec(vec))
		if c.store != nil {
			if err := c.store.Put(ctx, modelID, hash, vec); err != nil {
				c.logger.Warn("embedding store write failed", zap.Error(err))
			}
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneVec(v.([]float32)), nil
}

func cloneVec(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
