// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xanthous9/intentflow/api/schemas"
	"github.com/xanthous9/intentflow/internal/config"
	"github.com/xanthous9/intentflow/internal/intent"
	"github.com/xanthous9/intentflow/internal/observability"
	"github.com/xanthous9/intentflow/internal/resolver"
)

// DefaultRetryBackoff is the base of the linear retry backoff: the k-th
// retry waits k times this long.
const DefaultRetryBackoff = 500 * time.Millisecond

// elementBoundTypes are the action types whose element_intent parameter is
// resolved lazily, right before the handler runs.
var elementBoundTypes = map[schemas.ActionType]struct{}{
	schemas.ActionClick:     {},
	schemas.ActionInputText: {},
	schemas.ActionHover:     {},
	schemas.ActionSelect:    {},
}

// Orchestrator executes intents: it builds the action plan, schedules it in
// dependency generations, resolves targets lazily, retries failures, and
// verifies success criteria. Action failures are recorded, never thrown; an
// ExecutionResult is always produced.
type Orchestrator struct {
	logger   *zap.Logger
	resolver *resolver.Resolver
	mapper   *intent.Mapper
	metrics  *observability.Metrics
	cfg      config.OrchestratorConfig

	mu        sync.RWMutex
	handlers  map[schemas.ActionType]Handler
	custom    map[string]Handler
	verifiers map[string]Verifier
}

func New(res *resolver.Resolver, mapper *intent.Mapper, metrics *observability.Metrics, cfg config.OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	return &Orchestrator{
		logger:    logger.Named("orchestrator"),
		resolver:  res,
		mapper:    mapper,
		metrics:   metrics,
		cfg:       cfg,
		handlers:  defaultHandlers(),
		custom:    make(map[string]Handler),
		verifiers: make(map[string]Verifier),
	}
}

// RegisterHandler overrides or adds the handler for an action type.
func (o *Orchestrator) RegisterHandler(t schemas.ActionType, h Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[t] = h
}

// RegisterCustomAction registers a named handler reachable through actions
// of type custom with a matching custom_name parameter.
func (o *Orchestrator) RegisterCustomAction(name string, h Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.custom[name] = h
}

// RegisterVerifier registers a named custom success-criterion check.
func (o *Orchestrator) RegisterVerifier(name string, v Verifier) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verifiers[name] = v
}

// ExecuteIntent runs the intent to completion and reports what happened.
// The returned error is non-nil only for plan-level failures (dependency
// cycles, duplicate IDs); action failures are data in the result.
func (o *Orchestrator) ExecuteIntent(ctx context.Context, in *schemas.Intent, ectx *ExecutionContext) (*schemas.ExecutionResult, error) {
	start := time.Now()
	in.Status = schemas.IntentInProgress
	in.Attempts++
	ectx.CurrentIntentID = in.ID

	result := &schemas.ExecutionResult{IntentID: in.ID}

	plan, err := BuildPlan(in, o.mapper)
	if err != nil {
		return o.abort(in, result, start, err), err
	}
	groups, err := ParallelGroups(plan)
	if err != nil {
		return o.abort(in, result, start, err), err
	}
	o.logger.Info("Execution plan built",
		zap.String("intent_id", in.ID),
		zap.Int("actions", plan.Size()),
		zap.Int("groups", len(groups)),
	)

	results := make(map[string]*schemas.ActionResult, plan.Size())
	for _, group := range groups {
		o.runGroup(ctx, plan, group, ectx, results)
		if o.groupMutated(plan, group) {
			o.refreshPerception(ctx, ectx)
		}
		if ctx.Err() != nil {
			break
		}
	}

	for _, id := range plan.Order {
		if r, ok := results[id]; ok {
			result.ActionsTaken = append(result.ActionsTaken, *r)
			if !r.Success && r.Error != "" {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", id, r.Error))
			}
		}
	}
	if err := ctx.Err(); err != nil && len(results) < plan.Size() {
		result.Errors = append(result.Errors,
			fmt.Sprintf("execution interrupted with %d of %d actions run: %v", len(results), plan.Size(), err))
	}

	result.SubIntentResults = aggregateSubIntents(in, plan, results)
	result.CriteriaMet = o.checkCriteria(ctx, in, ectx)
	result.TokensUsed = ectx.TokensUsed()
	result.Duration = time.Since(start)
	result.Success = overallSuccess(in, result)

	if result.Success {
		in.Status = schemas.IntentCompleted
	} else {
		in.Status = schemas.IntentFailed
		in.LastError = result.FirstError()
	}
	o.logger.Info("Intent execution finished",
		zap.String("intent_id", in.ID),
		zap.Bool("success", result.Success),
		zap.Duration("duration", result.Duration),
		zap.Int("actions", len(result.ActionsTaken)),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (o *Orchestrator) abort(in *schemas.Intent, result *schemas.ExecutionResult, start time.Time, err error) *schemas.ExecutionResult {
	in.Status = schemas.IntentFailed
	in.LastError = err.Error()
	result.Errors = append(result.Errors, err.Error())
	result.Duration = time.Since(start)
	o.logger.Error("Intent aborted before execution", zap.String("intent_id", in.ID), zap.Error(err))
	return result
}

// runGroup executes one scheduling group. Multi-action groups fan out and
// join; a sibling's failure never cancels the others.
func (o *Orchestrator) runGroup(ctx context.Context, plan *schemas.ExecutionPlan, group []string, ectx *ExecutionContext, results map[string]*schemas.ActionResult) {
	if len(group) == 1 {
		results[group[0]] = o.runAction(ctx, plan.Actions[group[0]], ectx)
		return
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range group {
		action := plan.Actions[id]
		g.Go(func() error {
			r := o.runAction(gctx, action, ectx)
			mu.Lock()
			results[action.ID] = r
			mu.Unlock()
			return nil // failures are recorded, not propagated
		})
	}
	_ = g.Wait()
}

// runAction resolves the target if needed, dispatches the handler, and
// retries failed attempts with linear backoff.
func (o *Orchestrator) runAction(ctx context.Context, action *schemas.Action, ectx *ExecutionContext) *schemas.ActionResult {
	start := time.Now()
	result := &schemas.ActionResult{ActionID: action.ID}

	handler, err := o.lookupHandler(action)
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		o.metrics.ObserveAction(string(action.Type), false, 0)
		return result
	}

	retryCount := action.RetryCount
	if retryCount < 0 {
		retryCount = o.cfg.RetryCount
	}
	timeout := action.Timeout
	if timeout <= 0 {
		timeout = o.cfg.ActionTimeout
	}

	var lastErr error
	attemptsMade := 0
	for attempt := 0; attempt <= retryCount; attempt++ {
		if attempt > 0 && !o.backoff(ctx, attempt) {
			break
		}
		attemptsMade = attempt

		o.resolveTarget(ctx, action, ectx)

		attemptCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		data, err := handler(attemptCtx, action, ectx)
		if cancel != nil {
			if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				err = schemas.NewCodedError(schemas.CodeTimeout,
					fmt.Sprintf("action %q timed out after %s", action.ID, timeout)).WithCause(err)
			}
			cancel()
		}

		if err == nil {
			result.Success = true
			result.ResultData = data
			result.RetriesUsed = attempt
			result.Duration = time.Since(start)
			o.metrics.ObserveAction(string(action.Type), true, attempt)
			return result
		}

		lastErr = err
		o.logger.Warn("Action attempt failed",
			zap.String("action_id", action.ID),
			zap.String("type", string(action.Type)),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if ctx.Err() != nil || !schemas.IsRetryable(err) {
			break
		}
	}

	result.Error = lastErr.Error()
	result.RetriesUsed = attemptsMade
	result.Duration = time.Since(start)
	o.metrics.ObserveAction(string(action.Type), false, attemptsMade)
	return result
}

// backoff sleeps base x attempt (linear), honoring cancellation.
func (o *Orchestrator) backoff(ctx context.Context, attempt int) bool {
	timer := time.NewTimer(time.Duration(attempt) * o.cfg.RetryBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// resolveTarget performs lazy element resolution for element-bound actions.
// Resolution coming up empty is logged and left to the handler: some
// handlers can still act on an explicit selector parameter.
func (o *Orchestrator) resolveTarget(ctx context.Context, action *schemas.Action, ectx *ExecutionContext) {
	if action.Target != nil || o.resolver == nil {
		return
	}
	if _, bound := elementBoundTypes[action.Type]; !bound {
		return
	}
	ei := action.ElementIntentParam()
	if ei == nil {
		return
	}
	resolved, err := o.resolver.Resolve(ctx, *ei, ectx.PageContext())
	if err != nil {
		o.logger.Debug("Target resolution errored", zap.String("action_id", action.ID), zap.Error(err))
		return
	}
	if resolved == nil {
		o.logger.Debug("Target resolution found nothing",
			zap.String("action_id", action.ID),
			zap.String("description", ei.Description),
		)
		return
	}
	action.Target = resolved
}

func (o *Orchestrator) lookupHandler(action *schemas.Action) (Handler, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if action.Type == schemas.ActionCustom {
		name := action.StringParam("custom_name")
		h, ok := o.custom[name]
		if !ok {
			return nil, schemas.NewCodedError(schemas.CodeInternal,
				fmt.Sprintf("no custom action registered as %q", name)).WithRetryable(false)
		}
		return h, nil
	}
	h, ok := o.handlers[action.Type]
	if !ok {
		return nil, schemas.NewCodedError(schemas.CodeInternal,
			fmt.Sprintf("no handler for action type %q", action.Type)).WithRetryable(false)
	}
	return h, nil
}

func (o *Orchestrator) groupMutated(plan *schemas.ExecutionPlan, group []string) bool {
	for _, id := range group {
		if plan.Actions[id].Type.IsStateMutating() {
			return true
		}
	}
	return false
}

// refreshPerception invalidates cached resolutions and, when configured,
// re-snapshots the page after a mutating group so later generations resolve
// against current state.
func (o *Orchestrator) refreshPerception(ctx context.Context, ectx *ExecutionContext) {
	if ectx.Perception != nil && o.resolver != nil {
		o.resolver.InvalidatePage(ectx.Perception.PageURL)
	}
	if !o.cfg.RefreshPerception || ectx.Refresher == nil || ctx.Err() != nil {
		return
	}
	snap, err := ectx.Refresher.Snapshot(ctx)
	if err != nil {
		o.logger.Debug("Perception refresh failed", zap.Error(err))
		return
	}
	ectx.Perception = snap
}

// aggregateSubIntents rolls per-action outcomes up to their owning
// sub-intent via the plan's action mapping. A sub-intent succeeded only if
// every action planned for it ran and succeeded; a planned action with no
// result (interrupted execution) counts as a failure.
func aggregateSubIntents(in *schemas.Intent, plan *schemas.ExecutionPlan, results map[string]*schemas.ActionResult) map[string]bool {
	if len(in.SubIntents) == 0 {
		return nil
	}
	out := make(map[string]bool, len(in.SubIntents))
	for _, sub := range in.SubIntents {
		ok := true
		for _, id := range plan.SubIntentActions[sub.ID] {
			if r, ran := results[id]; !ran || !r.Success {
				ok = false
				break
			}
		}
		out[sub.ID] = ok
	}
	return out
}

// overallSuccess requires every non-optional sub-intent to have succeeded
// and every evaluated criterion to be met.
func overallSuccess(in *schemas.Intent, result *schemas.ExecutionResult) bool {
	for _, sub := range in.SubIntents {
		if sub.Optional {
			continue
		}
		if ok, present := result.SubIntentResults[sub.ID]; present && !ok {
			return false
		}
	}
	for _, met := range result.CriteriaMet {
		if !met {
			return false
		}
	}
	return true
}
