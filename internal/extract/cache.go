package extract

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sells-group/auction-intake/internal/ocr"
)

const defaultCacheEntries = 256

// TextCache memoizes a text source per path so classification and
// extraction of the same document only pay for text extraction once.
// Concurrent requests for the same path share one extraction.
type TextCache struct {
	source ocr.Extractor
	max    int
	group  singleflight.Group

	mu      sync.Mutex
	entries map[string]string
	order   []string
}

// NewTextCache wraps source. maxEntries <= 0 uses a default bound; the
// oldest entry is evicted first.
func NewTextCache(source ocr.Extractor, maxEntries int) *TextCache {
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	return &TextCache{
		source:  source,
		max:     maxEntries,
		entries: make(map[string]string),
	}
}

// Text returns the normalized text for path.
func (c *TextCache) Text(ctx context.Context, path string) (string, error) {
	c.mu.Lock()
	text, ok := c.entries[path]
	c.mu.Unlock()
	if ok {
		return text, nil
	}

	v, err, _ := c.group.Do(path, func() (any, error) {
		raw, err := c.source.ExtractText(ctx, path)
		if err != nil {
			return "", err
		}
		text := Normalize(raw)
		c.put(path, text)
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *TextCache) put(path, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[path]; ok {
		return
	}
	if len(c.order) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[path] = text
	c.order = append(c.order, path)
}

// Invalidate drops path from the cache.
func (c *TextCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[path]; !ok {
		return
	}
	delete(c.entries, path)
	for i, p := range c.order {
		if p == path {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of cached documents.
func (c *TextCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
