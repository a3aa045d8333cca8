package entity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultExtractionCacheSize is the number of extracted texts kept.
const DefaultExtractionCacheSize = 256

// CachedExtractor wraps a ContentExtractor with an LRU keyed by content hash
// and mime type. Re-indexing an unchanged attachment skips extraction.
// Failures are not cached.
type CachedExtractor struct {
	inner ContentExtractor
	cache *lru.Cache[string, string]
}

// NewCachedExtractor wraps inner. A non-positive size selects the default.
func NewCachedExtractor(inner ContentExtractor, size int) *CachedExtractor {
	if size <= 0 {
		size = DefaultExtractionCacheSize
	}
	cache, _ := lru.New[string, string](size)
	return &CachedExtractor{inner: inner, cache: cache}
}

func cacheKey(content []byte, mimeType string) string {
	h := sha256.New()
	h.Write(content)
	h.Write([]byte{0})
	h.Write([]byte(mimeType))
	return hex.EncodeToString(h.Sum(nil))
}

// Extract implements ContentExtractor.
func (c *CachedExtractor) Extract(ctx context.Context, content []byte, mimeType string) (string, error) {
	key := cacheKey(content, mimeType)
	if text, ok := c.cache.Get(key); ok {
		return text, nil
	}

	text, err := c.inner.Extract(ctx, content, mimeType)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, text)
	return text, nil
}

// Len returns the number of cached entries.
func (c *CachedExtractor) Len() int {
	return c.cache.Len()
}
