package cache

import (
	"log/slog"

	"github.com/dgraph-io/ristretto/v2"
)

type Options struct {
	// 最大缓存主机数
	MaxEntries int64 `yaml:"max-entries" default:"10000"`
	// 写缓存数量
	BufferItems int64 `yaml:"buffer-items" default:"64"`
}

// Cache maps a hostname to its Record. Entries are only removed by an
// explicit Delete or, once MaxEntries is reached, by ristretto's eviction
// policy; expiry is left to the caller.
type Cache struct {
	opts  *Options
	cache *ristretto.Cache[string, *Record]
}

func New(opts *Options) (*Cache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *Record]{
		NumCounters:        opts.MaxEntries * 10, // ristretto recommends 10x the number of items.
		MaxCost:            opts.MaxEntries,      // every record costs 1.
		BufferItems:        opts.BufferItems,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{
		opts:  opts,
		cache: cache,
	}, nil
}

func (c *Cache) Get(host string) (*Record, bool) {
	return c.cache.Get(host)
}

// Put replaces any record stored for host. It reports false when rec is nil
// or ristretto dropped the write.
func (c *Cache) Put(host string, rec *Record) bool {
	if rec == nil {
		return false
	}
	ok := c.cache.Set(host, rec, 1)
	// Set is buffered; make the record visible to the next Get.
	c.cache.Wait()
	if !ok {
		slog.Warn("dns cache set failed", "host", host)
	}
	return ok
}

func (c *Cache) Delete(host string) {
	c.cache.Del(host)
}

func (c *Cache) Close() {
	slog.Debug("dns cache close")
	c.cache.Close()
}
