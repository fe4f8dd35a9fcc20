// internal/llmclient/router_test.go
package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xanthous9/intentflow/api/schemas"
)

// fakeLLM records the requests it receives and replies with a canned string.
type fakeLLM struct {
	name     string
	requests []schemas.GenerationRequest
	reply    string
	err      error
	closed   bool
}

func (f *fakeLLM) Generate(_ context.Context, req schemas.GenerationRequest) (string, error) {
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func (f *fakeLLM) Close() error {
	f.closed = true
	return nil
}

func TestNewLLMRouterRequiresBothTiers(t *testing.T) {
	_, err := NewLLMRouter(zap.NewNop(), nil, &fakeLLM{})
	assert.Error(t, err)

	_, err = NewLLMRouter(zap.NewNop(), &fakeLLM{}, nil)
	assert.Error(t, err)
}

func TestRouterRoutesByTier(t *testing.T) {
	fast := &fakeLLM{name: "fast", reply: "fast-reply"}
	powerful := &fakeLLM{name: "powerful", reply: "powerful-reply"}
	router, err := NewLLMRouter(zap.NewNop(), fast, powerful)
	require.NoError(t, err)

	out, err := router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierFast, UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "fast-reply", out)
	assert.Len(t, fast.requests, 1)
	assert.Empty(t, powerful.requests)

	out, err = router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierPowerful})
	require.NoError(t, err)
	assert.Equal(t, "powerful-reply", out)
	assert.Len(t, powerful.requests, 1)
}

func TestRouterDefaultsToPowerful(t *testing.T) {
	fast := &fakeLLM{reply: "fast-reply"}
	powerful := &fakeLLM{reply: "powerful-reply"}
	router, err := NewLLMRouter(zap.NewNop(), fast, powerful)
	require.NoError(t, err)

	out, err := router.Generate(context.Background(), schemas.GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "powerful-reply", out)
	assert.Empty(t, fast.requests)
}

func TestRouterPropagatesClientError(t *testing.T) {
	boom := errors.New("model unavailable")
	fast := &fakeLLM{err: boom}
	router, err := NewLLMRouter(zap.NewNop(), fast, &fakeLLM{})
	require.NoError(t, err)

	_, err = router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierFast})
	assert.ErrorIs(t, err, boom)
}

func TestRouterCloseClosesEachClientOnce(t *testing.T) {
	shared := &fakeLLM{}
	router, err := NewLLMRouter(zap.NewNop(), shared, shared)
	require.NoError(t, err)

	require.NoError(t, router.Close())
	assert.True(t, shared.closed)
}
