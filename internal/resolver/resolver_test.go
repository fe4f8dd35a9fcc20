// internal/resolver/resolver_test.go
package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xanthous9/intentflow/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubStrategy returns canned candidates and counts its invocations.
type stubStrategy struct {
	name     string
	elements []schemas.PerceptionElement
	err      error
	calls    int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Resolve(context.Context, schemas.ElementIntent, *PageContext) ([]schemas.PerceptionElement, error) {
	s.calls++
	return s.elements, s.err
}

func buttonElement(selector string) []schemas.PerceptionElement {
	return []schemas.PerceptionElement{{
		ID: "el-1", Type: "button", Selector: selector, Text: "Go", IsVisible: true,
	}}
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	cache := NewCache(5*time.Second, 100, zap.NewNop())
	t.Cleanup(cache.Stop)
	return New(cache, nil, zap.NewNop())
}

func TestResolveShortCircuitsOnFirstMatch(t *testing.T) {
	r := newTestResolver(t)
	first := &stubStrategy{name: "heuristic", elements: buttonElement("#go")}
	second := &stubStrategy{name: "dom", elements: buttonElement("#other")}
	r.RegisterStrategy(first, 10)
	r.RegisterStrategy(second, 20)

	resolved, err := r.Resolve(context.Background(), schemas.ElementIntent{Description: "go button"}, &PageContext{})
	require.NoError(t, err)
	assert.Equal(t, "#go", resolved.Selector())
	assert.Equal(t, "heuristic", resolved.Strategy)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls, "later strategies must not run after a match")
}

func TestResolveRunsInPriorityOrder(t *testing.T) {
	r := newTestResolver(t)
	late := &stubStrategy{name: "vision", elements: buttonElement("#vision")}
	early := &stubStrategy{name: "heuristic", elements: buttonElement("#heuristic")}
	// Registered out of order; priority decides.
	r.RegisterStrategy(late, 40)
	r.RegisterStrategy(early, 10)

	resolved, err := r.Resolve(context.Background(), schemas.ElementIntent{Description: "x"}, &PageContext{})
	require.NoError(t, err)
	assert.Equal(t, "heuristic", resolved.Strategy)
}

func TestResolveSkipsErroringStrategy(t *testing.T) {
	r := newTestResolver(t)
	broken := &stubStrategy{name: "heuristic", err: errors.New("timeout talking to page")}
	working := &stubStrategy{name: "dom", elements: buttonElement("#found")}
	r.RegisterStrategy(broken, 10)
	r.RegisterStrategy(working, 20)

	resolved, err := r.Resolve(context.Background(), schemas.ElementIntent{Description: "x"}, &PageContext{})
	require.NoError(t, err)
	assert.Equal(t, "dom", resolved.Strategy)
	assert.Equal(t, 1, broken.calls)
}

func TestResolveExhaustionIsNotAnError(t *testing.T) {
	r := newTestResolver(t)
	first := &stubStrategy{name: "heuristic"}
	second := &stubStrategy{name: "dom"}
	r.RegisterStrategy(first, 10)
	r.RegisterStrategy(second, 20)

	resolved, err := r.Resolve(context.Background(), schemas.ElementIntent{Description: "ghost"}, &PageContext{})
	require.NoError(t, err)
	assert.Nil(t, resolved)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestResolveDefaultsConfidence(t *testing.T) {
	r := newTestResolver(t)
	r.RegisterStrategy(&stubStrategy{name: "heuristic", elements: []schemas.PerceptionElement{
		{Type: "button", Selector: "#a"}, // no confidence scored
	}}, 10)

	resolved, err := r.Resolve(context.Background(), schemas.ElementIntent{Description: "x"}, &PageContext{})
	require.NoError(t, err)
	assert.InDelta(t, DefaultConfidence, resolved.Confidence, 1e-9)
}

func TestResolveCachesWithinTTL(t *testing.T) {
	r := newTestResolver(t)
	strat := &stubStrategy{name: "heuristic", elements: buttonElement("#q")}
	r.RegisterStrategy(strat, 10)

	pctx := &PageContext{Snapshot: &schemas.PerceptionSnapshot{PageURL: "https://example.com"}}
	intent := schemas.ElementIntent{Description: "search box", ElementType: "input"}

	first, err := r.Resolve(context.Background(), intent, pctx)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), intent, pctx)
	require.NoError(t, err)

	assert.Equal(t, 1, strat.calls, "second lookup must come from cache")
	assert.Same(t, first, second)
}

func TestResolveAlternativesCapped(t *testing.T) {
	many := make([]schemas.PerceptionElement, 6)
	for i := range many {
		many[i] = schemas.PerceptionElement{Type: "link", Selector: "#l", Confidence: 0.7}
	}
	r := newTestResolver(t)
	r.RegisterStrategy(&stubStrategy{name: "dom", elements: many}, 10)

	resolved, err := r.Resolve(context.Background(), schemas.ElementIntent{Description: "x"}, &PageContext{})
	require.NoError(t, err)
	assert.Len(t, resolved.Alternatives, 3)
}

func TestInvalidatePageDropsOnlyThatURL(t *testing.T) {
	cache := NewCache(time.Minute, 100, zap.NewNop())
	t.Cleanup(cache.Stop)

	el := &schemas.ResolvedElement{Strategy: "heuristic"}
	cache.Put(CacheKey("https://a.test", "login", "button"), el)
	cache.Put(CacheKey("https://b.test", "login", "button"), el)

	r := New(cache, nil, zap.NewNop())
	r.InvalidatePage("https://a.test")

	_, ok := cache.Get(CacheKey("https://a.test", "login", "button"))
	assert.False(t, ok)
	_, ok = cache.Get(CacheKey("https://b.test", "login", "button"))
	assert.True(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	cache := NewCache(20*time.Millisecond, 100, zap.NewNop())
	t.Cleanup(cache.Stop)

	cache.Put("k", &schemas.ResolvedElement{})
	_, ok := cache.Get("k")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = cache.Get("k")
	assert.False(t, ok, "entry past its TTL must miss")
}

func TestCacheEvictsOldestBatchWhenFull(t *testing.T) {
	cache := NewCache(time.Minute, 10, zap.NewNop())
	t.Cleanup(cache.Stop)

	for i := 0; i < 11; i++ {
		cache.Put(CacheKey("u", "desc", string(rune('a'+i))), &schemas.ResolvedElement{})
	}

	// One over capacity evicts a fifth of the cache, oldest first.
	assert.Equal(t, 9, cache.Len())
	_, ok := cache.Get(CacheKey("u", "desc", "a"))
	assert.False(t, ok, "oldest entry is evicted first")
	_, ok = cache.Get(CacheKey("u", "desc", "k"))
	assert.True(t, ok, "newest entry survives eviction")
}
