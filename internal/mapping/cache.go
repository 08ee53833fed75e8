package mapping

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"sealedmsg/internal/domain"
)

const DefaultCacheSize = 1024

// Cache is a bounded, least-recently-used map of short hash to record. It is
// safe for concurrent use.
type Cache struct {
	entries *lru.Cache[string, domain.MappingRecord]
}

func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, domain.MappingRecord](size)
	if err != nil {
		panic(err)
	}
	return &Cache{entries: c}
}

func (c *Cache) Get(shortHash string) (domain.MappingRecord, bool) {
	return c.entries.Get(shortHash)
}

func (c *Cache) Put(rec domain.MappingRecord) {
	c.entries.Add(rec.ShortHash, rec)
}

func (c *Cache) Len() int { return c.entries.Len() }
