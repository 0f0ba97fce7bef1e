package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MbohBless/data-test/internal/observability"
)

// Provider serves schema snapshots from a TTL cache, refreshing through
// the introspector on miss. Concurrent refreshes of the same source are
// collapsed into a single fetch; the losers share its result.
type Provider struct {
	log          *slog.Logger
	introspector Introspector
	cache        *ttlcache.Cache[string, Snapshot]
	flight       singleflight.Group

	mu       sync.RWMutex
	lastGood map[string]Snapshot
}

func NewProvider(logger *slog.Logger, introspector Introspector, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, Snapshot](ttl),
		ttlcache.WithDisableTouchOnHit[string, Snapshot](),
	)
	go cache.Start()
	return &Provider{
		log:          logger,
		introspector: introspector,
		cache:        cache,
		lastGood:     map[string]Snapshot{},
	}
}

// Snapshot returns the cached snapshot unless it expired or forceRefresh
// is set. A failed refresh falls back to the last good snapshot, marked
// stale; with no fallback it reports ErrUnavailable.
func (p *Provider) Snapshot(ctx context.Context, forceRefresh bool) (Snapshot, error) {
	key := p.introspector.SourceID()

	if !forceRefresh {
		if item := p.cache.Get(key); item != nil {
			observability.IncrementSchemaCacheLookup("hit")
			snapshot := item.Value()
			snapshot.Cached = true
			return snapshot, nil
		}
	}
	observability.IncrementSchemaCacheLookup("miss")

	value, err, _ := p.flight.Do(key, func() (any, error) {
		snapshot, err := p.introspector.Introspect(ctx)
		if err != nil {
			p.mu.RLock()
			fallback, ok := p.lastGood[key]
			p.mu.RUnlock()
			if !ok {
				return Snapshot{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			if p.log != nil {
				p.log.WarnContext(ctx, "schema refresh failed, serving stale snapshot",
					slog.String("source", key),
					slog.Time("fetched_at", fallback.FetchedAt),
					slog.Any("error", err),
				)
			}
			observability.IncrementSchemaCacheLookup("stale")
			fallback.Stale = true
			fallback.Cached = true
			return fallback, nil
		}

		p.cache.Set(key, snapshot, ttlcache.DefaultTTL)
		p.mu.Lock()
		p.lastGood[key] = snapshot
		p.mu.Unlock()
		return snapshot, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return value.(Snapshot), nil
}

// Invalidate drops the cached snapshot for the provider's source.
func (p *Provider) Invalidate() {
	p.cache.Delete(p.introspector.SourceID())
}

func (p *Provider) Close() {
	p.cache.Stop()
}
