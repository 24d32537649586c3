package embedder

import (
	"crypto/sha256"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when NewCache is given a non-positive size
const DefaultCacheSize = 10000

// Cache is an LRU of vectors keyed by model and text. Lookups and stores
// copy the vector so callers never share backing arrays with the cache.
type Cache struct {
	lru *lru.Cache[[32]byte, []float32]
}

// NewCache creates a cache holding up to size vectors
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	l, _ := lru.New[[32]byte, []float32](size)
	return &Cache{lru: l}
}

func cacheKey(model, text string) [32]byte {
	return sha256.Sum256([]byte(model + "\x00" + text))
}

// Lookup returns the vector stored for text under model
func (c *Cache) Lookup(model, text string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	vec, ok := c.lru.Get(cacheKey(model, text))
	if !ok {
		return nil, false
	}
	return append([]float32(nil), vec...), true
}

// Store records vec as the embedding of text under model
func (c *Cache) Store(model, text string, vec []float32) {
	if c == nil {
		return
	}
	c.lru.Add(cacheKey(model, text), append([]float32(nil), vec...))
}

// Len returns the number of cached vectors
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// embedCached answers texts from the cache and calls fetch once with the
// misses, in their original order. Duplicate texts in one batch are fetched
// once.
func embedCached(c *Cache, model string, texts []string, fetch func([]string) ([][]float32, error)) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	pending := make(map[string][]int)
	for i, text := range texts {
		if vec, ok := c.Lookup(model, text); ok {
			out[i] = vec
			continue
		}
		if _, seen := pending[text]; !seen {
			missing = append(missing, text)
		}
		pending[text] = append(pending[text], i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := fetch(missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(vecs), len(missing))
	}
	for j, text := range missing {
		c.Store(model, text, vecs[j])
		for n, i := range pending[text] {
			if n == 0 {
				out[i] = vecs[j]
			} else {
				out[i] = append([]float32(nil), vecs[j]...)
			}
		}
	}
	return out, nil
}
