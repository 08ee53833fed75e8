// Package mapping resolves short hashes to full content addresses.
//
// Resolution walks four tiers in order and stops at the first hit: the local
// cache, the mapping service, a direct blob probe at the short hash itself and
// finally a metadata search over recent blobs. Every tier is optional and a
// failing tier only moves resolution to the next one. Hits are written back to
// the cache and the mapping service so repeated lookups converge on the cache.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sealedmsg/internal/blob"
	"sealedmsg/internal/domain"
	"sealedmsg/internal/observability/metrics"
)

const DefaultSearchLimit = 50

// Backend is the mapping service. GetMapping returns nil, nil when the
// service has no record.
type Backend interface {
	PutMapping(ctx context.Context, rec domain.MappingRecord) error
	GetMapping(ctx context.Context, shortHash string) (*domain.MappingRecord, error)
}

// Prober checks whether a blob exists under a name.
type Prober interface {
	Exists(ctx context.Context, name string) bool
}

// Searcher finds a blob by attribute among recently written blobs.
type Searcher interface {
	FindByAttribute(ctx context.Context, key, value string, limit int) (string, error)
}

type Resolver struct {
	cache       *Cache
	backend     Backend
	prober      Prober
	searcher    Searcher
	searchLimit int
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Resolver)

func WithCache(c *Cache) Option        { return func(r *Resolver) { r.cache = c } }
func WithBackend(b Backend) Option     { return func(r *Resolver) { r.backend = b } }
func WithProber(p Prober) Option       { return func(r *Resolver) { r.prober = p } }
func WithSearcher(s Searcher) Option   { return func(r *Resolver) { r.searcher = s } }
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}
func WithSearchLimit(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.searchLimit = n
		}
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		searchLimit: DefaultSearchLimit,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = NewCache(DefaultCacheSize)
	}
	return r
}

// Publish records shortHash -> fullHash locally and upserts it to the mapping
// service. Only validation failures are returned; the upsert is best effort.
func (r *Resolver) Publish(ctx context.Context, rec domain.MappingRecord) error {
	if !ValidShortHash(rec.ShortHash) {
		return domain.ErrInvalidShortHash
	}
	if rec.FullHash == "" {
		return fmt.Errorf("%w: empty full hash", domain.ErrValidation)
	}
	rec.UpdatedAt = r.now().UTC()
	r.cache.Put(rec)
	r.upsert(ctx, rec)
	return nil
}

// Resolve returns the full address for shortHash and whether any tier knew it.
func (r *Resolver) Resolve(ctx context.Context, shortHash string) (string, bool) {
	if !ValidShortHash(shortHash) {
		r.record("invalid")
		return "", false
	}
	if rec, ok := r.cache.Get(shortHash); ok {
		r.record("cache")
		return rec.FullHash, true
	}
	if rec := r.fromBackend(ctx, shortHash); rec != nil {
		r.record("backend")
		r.cache.Put(*rec)
		return rec.FullHash, true
	}
	if r.prober != nil && ctx.Err() == nil && r.prober.Exists(ctx, shortHash) {
		r.record("probe")
		r.writeBack(ctx, domain.MappingRecord{ShortHash: shortHash, FullHash: shortHash})
		return shortHash, true
	}
	if addr := r.search(ctx, shortHash); addr != "" {
		r.record("search")
		r.writeBack(ctx, domain.MappingRecord{ShortHash: shortHash, FullHash: addr})
		return addr, true
	}
	r.record("miss")
	r.logger.Info("short hash unresolved", "short_hash", shortHash)
	return "", false
}

// Known reports whether the cache or the mapping service already has a record
// for shortHash.
func (r *Resolver) Known(ctx context.Context, shortHash string) bool {
	if _, ok := r.cache.Get(shortHash); ok {
		return true
	}
	return r.fromBackend(ctx, shortHash) != nil
}

func (r *Resolver) fromBackend(ctx context.Context, shortHash string) *domain.MappingRecord {
	if r.backend == nil || ctx.Err() != nil {
		return nil
	}
	rec, err := r.backend.GetMapping(ctx, shortHash)
	if err != nil {
		r.logger.Warn("mapping lookup failed", "short_hash", shortHash, "error", err)
		return nil
	}
	if rec == nil || rec.FullHash == "" {
		return nil
	}
	return rec
}

func (r *Resolver) search(ctx context.Context, shortHash string) string {
	if r.searcher == nil || ctx.Err() != nil {
		return ""
	}
	addr, err := r.searcher.FindByAttribute(ctx, blob.AttrShortHash, shortHash, r.searchLimit)
	if err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			r.logger.Warn("metadata search failed", "short_hash", shortHash, "error", err)
		}
		return ""
	}
	return addr
}

func (r *Resolver) writeBack(ctx context.Context, rec domain.MappingRecord) {
	rec.UpdatedAt = r.now().UTC()
	r.cache.Put(rec)
	r.upsert(ctx, rec)
}

func (r *Resolver) upsert(ctx context.Context, rec domain.MappingRecord) {
	if r.backend == nil {
		return
	}
	if err := r.backend.PutMapping(ctx, rec); err != nil {
		r.logger.Warn("mapping upsert failed", "short_hash", rec.ShortHash, "error", err)
	}
}

func (r *Resolver) record(tier string) {
	metrics.MappingResolutionsTotal.WithLabelValues(tier).Inc()
}
