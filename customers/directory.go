// Package customers provides a caching invoice.CustomerDirectory.
package customers

import (
	"context"
	"time"

	goCache "github.com/patrickmn/go-cache"

	"github.com/warp/invoice-engine/invoice"
)

// DefaultTTL is how long a resolved customer is reused.
const DefaultTTL = 5 * time.Minute

// CachedDirectory wraps a CustomerDirectory with a TTL cache so a generation
// run resolves each customer once. Misses are not cached.
type CachedDirectory struct {
	next  invoice.CustomerDirectory
	cache *goCache.Cache
}

func NewCachedDirectory(next invoice.CustomerDirectory, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedDirectory{
		next:  next,
		cache: goCache.New(ttl, 2*ttl),
	}
}

// Get returns a copy of the cached customer, loading it on a miss.
func (d *CachedDirectory) Get(ctx context.Context, id invoice.CustomerID) (*invoice.Customer, error) {
	if v, ok := d.cache.Get(string(id)); ok {
		c := v.(invoice.Customer)
		return &c, nil
	}
	c, err := d.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d.cache.SetDefault(string(id), *c)
	out := *c
	return &out, nil
}

// Invalidate drops id after the customer record changed.
func (d *CachedDirectory) Invalidate(id invoice.CustomerID) {
	d.cache.Delete(string(id))
}

// Flush drops every entry.
func (d *CachedDirectory) Flush() {
	d.cache.Flush()
}
