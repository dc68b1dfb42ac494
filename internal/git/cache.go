package git

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/thiagokokada/gitctx/internal/metrics"
)

// blobCache memoizes classified historical reads keyed by commit and path.
// Working tree reads never go through it.
type blobCache struct {
	entries *lru.Cache[string, ReadResult]
}

func newBlobCache(size int) (*blobCache, error) {
	entries, err := lru.New[string, ReadResult](size)
	if err != nil {
		return nil, fmt.Errorf("blob cache: %w", err)
	}
	return &blobCache{entries: entries}, nil
}

func blobCacheKey(commit, p string) string {
	return commit + ":" + p
}

func (c *blobCache) get(key string) (ReadResult, bool) {
	res, ok := c.entries.Get(key)
	if !ok {
		metrics.BlobCacheMiss()
		return res, false
	}
	metrics.BlobCacheHit()
	return detach(res), true
}

func (c *blobCache) add(key string, res ReadResult) {
	c.entries.Add(key, detach(res))
}

// detach copies Text so a caller writing through it cannot reach the entry.
func detach(res ReadResult) ReadResult {
	if res.Text != nil {
		text := *res.Text
		res.Text = &text
	}
	return res
}

func (c *blobCache) len() int { return c.entries.Len() }

func (c *blobCache) purge() { c.entries.Purge() }
