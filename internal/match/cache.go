package match

import (
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"
)

// Index reads repeat heavily within a lane, so classifications are memoized
// per distinct index string. Entries never need to expire within a run.
const cacheTTL = 24 * time.Hour

// Cached memoizes a Matcher in a bounded LRU. It returns exactly what the
// wrapped Matcher returns and is safe for concurrent use. Call Stop when done.
type Cached struct {
	inner     *Matcher
	cache     *ccache.Cache[Result]
	closeOnce sync.Once
}

var _ Classifier = (*Cached)(nil)

func NewCached(inner *Matcher, maxEntries int64) *Cached {
	return &Cached{
		inner: inner,
		cache: ccache.New(ccache.Configure[Result]().MaxSize(maxEntries)),
	}
}

func (c *Cached) Classify(index []byte) (Result, error) {
	n := c.inner.table.Len()
	if len(index) < n {
		return c.inner.Classify(index)
	}
	key := string(index[:n])
	if item := c.cache.Get(key); item != nil && !item.Expired() {
		return item.Value(), nil
	}
	res, err := c.inner.Classify(index)
	if err != nil {
		return res, err
	}
	c.cache.Set(key, res, cacheTTL)
	return res, nil
}

// Stop releases the cache's background worker.
func (c *Cached) Stop() {
	c.closeOnce.Do(func() {
		c.cache.Stop()
	})
}
