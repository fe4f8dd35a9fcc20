// internal/orchestrator/context.go
package orchestrator

import (
	"context"
	"sync/atomic"

	"github.com/xanthous9/intentflow/api/schemas"
	"github.com/xanthous9/intentflow/internal/resolver"
)

// PerceptionRefresher re-captures the page's element inventory. Implemented
// by the DOM perception provider; optional.
type PerceptionRefresher interface {
	Snapshot(ctx context.Context) (*schemas.PerceptionSnapshot, error)
}

// ExecutionContext is the shared state for one ExecuteIntent call. It is
// read-only for concurrently running actions; only the orchestrator mutates
// it, between scheduling generations. Token bookkeeping is atomic so
// parallel read-only actions may report usage.
type ExecutionContext struct {
	Page            schemas.PageDriver
	Perception      *schemas.PerceptionSnapshot
	Vision          schemas.VisionModel
	Refresher       PerceptionRefresher
	CurrentIntentID string

	tokensUsed atomic.Int64
}

// AddTokens records model-token consumption attributed to this intent.
func (e *ExecutionContext) AddTokens(n int) {
	if n > 0 {
		e.tokensUsed.Add(int64(n))
	}
}

// TokensUsed returns the total recorded so far.
func (e *ExecutionContext) TokensUsed() int {
	return int(e.tokensUsed.Load())
}

// PageContext adapts the execution context for the resolver.
func (e *ExecutionContext) PageContext() *resolver.PageContext {
	return &resolver.PageContext{Page: e.Page, Snapshot: e.Perception}
}
