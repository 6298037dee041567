package embed

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of memoized vectors.
const DefaultCacheSize = 4096

// Cached memoizes an encoder's output by text. Reviews repeat phrasings
// heavily, so most candidates after the first few days are cache hits.
type Cached struct {
	enc   Encoder
	cache *lru.Cache[string, []float32]
}

// NewCached wraps enc with an LRU of size entries.
func NewCached(enc Encoder, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embedding: create cache: %w", err)
	}
	return &Cached{enc: enc, cache: cache}, nil
}

func (c *Cached) Dims() int    { return c.enc.Dims() }
func (c *Cached) Name() string { return c.enc.Name() }

func (c *Cached) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec, ok := c.cache.Get(text); ok {
			out[i] = cloneVector(vec)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.enc.Encode(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding: %s returned %d vectors for %d inputs", c.enc.Name(), len(vecs), len(missTexts))
	}
	for j, idx := range missIdx {
		c.cache.Add(missTexts[j], cloneVector(vecs[j]))
		out[idx] = vecs[j]
	}
	return out, nil
}

// Len reports the number of cached vectors.
func (c *Cached) Len() int { return c.cache.Len() }

func cloneVector(vec []float32) []float32 {
	if vec == nil {
		return nil
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
