// internal/resolver/resolver.go
package resolver

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xanthous9/intentflow/api/schemas"
	"github.com/xanthous9/intentflow/internal/observability"
)

// DefaultConfidence is assigned when a strategy matches but does not score
// its own candidates.
const DefaultConfidence = 0.9

const maxAlternatives = 3

// PageContext carries the page inputs strategies may consult. Snapshot, when
// present, lets strategies answer without touching the live page.
type PageContext struct {
	Page     schemas.PageDriver
	Snapshot *schemas.PerceptionSnapshot
}

// URL returns the page URL, preferring the snapshot over a live round trip.
func (p *PageContext) URL(ctx context.Context) string {
	if p == nil {
		return ""
	}
	if p.Snapshot != nil && p.Snapshot.PageURL != "" {
		return p.Snapshot.PageURL
	}
	if p.Page != nil {
		if url, err := p.Page.CurrentURL(ctx); err == nil {
			return url
		}
	}
	return ""
}

// Strategy is one way of locating an element. Implementations return their
// candidates best first; an empty slice with a nil error means "no match",
// which sends the resolver on to the next strategy.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, intent schemas.ElementIntent, pctx *PageContext) ([]schemas.PerceptionElement, error)
}

type registeredStrategy struct {
	priority int
	strategy Strategy
}

// Resolver turns element descriptions into live page elements by walking an
// ordered chain of strategies, cheapest first, stopping at the first match.
// Results are cached per page URL with a short TTL.
type Resolver struct {
	logger  *zap.Logger
	cache   *Cache
	metrics *observability.Metrics

	mu         sync.RWMutex
	strategies []registeredStrategy
}

func New(cache *Cache, metrics *observability.Metrics, logger *zap.Logger) *Resolver {
	return &Resolver{
		logger:  logger.Named("resolver"),
		cache:   cache,
		metrics: metrics,
	}
}

// RegisterStrategy adds a strategy at the given priority. Lower priority runs
// earlier. Registration order breaks ties.
func (r *Resolver) RegisterStrategy(s Strategy, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = append(r.strategies, registeredStrategy{priority: priority, strategy: s})
	sort.SliceStable(r.strategies, func(i, j int) bool {
		return r.strategies[i].priority < r.strategies[j].priority
	})
}

// Resolve walks the strategy chain for the described element. A strategy
// error is logged and skipped, never fatal. Chain exhaustion returns
// (nil, nil): "not found" is an action-level concern, raised only by
// handlers that actually needed the target.
func (r *Resolver) Resolve(ctx context.Context, intent schemas.ElementIntent, pctx *PageContext) (*schemas.ResolvedElement, error) {
	pageURL := pctx.URL(ctx)
	key := CacheKey(pageURL, intent.Description, intent.ElementType)

	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			r.metrics.ObserveCache(true)
			r.logger.Debug("Resolution cache hit", zap.String("description", intent.Description))
			return cached, nil
		}
		r.metrics.ObserveCache(false)
	}

	r.mu.RLock()
	chain := make([]registeredStrategy, len(r.strategies))
	copy(chain, r.strategies)
	r.mu.RUnlock()

	for _, reg := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		candidates, err := reg.strategy.Resolve(ctx, intent, pctx)
		elapsed := time.Since(start)

		if err != nil {
			// A broken strategy must not break the chain.
			r.logger.Debug("Resolution strategy errored, trying next",
				zap.String("strategy", reg.strategy.Name()),
				zap.String("description", intent.Description),
				zap.Error(err),
			)
			continue
		}
		if len(candidates) == 0 {
			continue
		}

		if intent.Index > 0 && intent.Index < len(candidates) {
			candidates[0], candidates[intent.Index] = candidates[intent.Index], candidates[0]
		}

		resolved := wrapCandidates(candidates, reg.strategy.Name(), elapsed)
		r.metrics.ObserveResolution(reg.strategy.Name(), elapsed)
		if r.cache != nil {
			r.cache.Put(key, resolved)
		}
		r.logger.Info("Element resolved",
			zap.String("strategy", reg.strategy.Name()),
			zap.String("description", intent.Description),
			zap.String("selector", resolved.Selector()),
			zap.Float64("confidence", resolved.Confidence),
			zap.Duration("took", elapsed),
		)
		return resolved, nil
	}

	r.logger.Debug("All resolution strategies exhausted",
		zap.String("description", intent.Description),
		zap.Int("strategies", len(chain)),
	)
	return nil, nil
}

// InvalidatePage drops cached resolutions for the URL after a mutating
// action changes the page.
func (r *Resolver) InvalidatePage(pageURL string) {
	if r.cache != nil {
		r.cache.Invalidate(pageURL)
	}
}

// Close stops the cache janitor.
func (r *Resolver) Close() {
	if r.cache != nil {
		r.cache.Stop()
	}
}

func wrapCandidates(candidates []schemas.PerceptionElement, strategy string, elapsed time.Duration) *schemas.ResolvedElement {
	best := candidates[0]
	confidence := best.Confidence
	if confidence <= 0 {
		confidence = DefaultConfidence
	}
	alts := candidates[1:]
	if len(alts) > maxAlternatives {
		alts = alts[:maxAlternatives]
	}
	return &schemas.ResolvedElement{
		Element:        best,
		Confidence:     confidence,
		Strategy:       strategy,
		ResolutionTime: elapsed,
		Alternatives:   alts,
	}
}
