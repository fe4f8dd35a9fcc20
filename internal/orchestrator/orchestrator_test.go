// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xanthous9/intentflow/api/schemas"
	"github.com/xanthous9/intentflow/internal/config"
	"github.com/xanthous9/intentflow/internal/intent"
	"github.com/xanthous9/intentflow/internal/resolver"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakePage is an in-memory PageDriver that records calls and can be scripted
// to fail.
type fakePage struct {
	mu         sync.Mutex
	calls      []string
	currentURL string
	bodyText   string
	elements   map[string][]schemas.PerceptionElement
	failures   map[string]int // method:selector -> remaining failures
}

func newFakePage() *fakePage {
	return &fakePage{
		currentURL: "https://start.test/",
		elements:   make(map[string][]schemas.PerceptionElement),
		failures:   make(map[string]int),
	}
}

func (f *fakePage) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakePage) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePage) failNext(key string, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key] = times
}

func (f *fakePage) shouldFail(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[key] > 0 {
		f.failures[key]--
		return true
	}
	return false
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.record("navigate:" + url)
	if f.shouldFail("navigate") {
		return errors.New("net::ERR_CONNECTION_RESET")
	}
	f.mu.Lock()
	f.currentURL = url
	f.mu.Unlock()
	return nil
}

func (f *fakePage) Click(_ context.Context, selector string) error {
	f.record("click:" + selector)
	if f.shouldFail("click:" + selector) {
		return errors.New("element detached")
	}
	return nil
}

func (f *fakePage) ClickPoint(_ context.Context, x, y float64) error {
	f.record(fmt.Sprintf("clickpoint:%.0f,%.0f", x, y))
	return nil
}

func (f *fakePage) Type(_ context.Context, selector, text string, _ bool) error {
	f.record("type:" + selector + ":" + text)
	return nil
}

func (f *fakePage) Hover(_ context.Context, selector string) error {
	f.record("hover:" + selector)
	return nil
}

func (f *fakePage) SelectOption(_ context.Context, selector, value string) error {
	f.record("select:" + selector + ":" + value)
	return nil
}

func (f *fakePage) ScrollBy(_ context.Context, dx, dy float64) error {
	f.record(fmt.Sprintf("scroll:%.0f,%.0f", dx, dy))
	return nil
}

func (f *fakePage) Screenshot(context.Context) ([]byte, error) {
	f.record("screenshot")
	return []byte{0x89, 0x50, 0x4e, 0x47}, nil
}

func (f *fakePage) EvaluateScript(_ context.Context, script string, _ any) error {
	f.record("script")
	return nil
}

func (f *fakePage) WaitForSelector(_ context.Context, selector string) error {
	f.record("waitfor:" + selector)
	if f.shouldFail("waitfor:" + selector) {
		return errors.New("wait timed out")
	}
	return nil
}

func (f *fakePage) TextContent(_ context.Context, selector string) (string, error) {
	f.record("text:" + selector)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodyText, nil
}

func (f *fakePage) QueryAll(_ context.Context, selector string) ([]schemas.PerceptionElement, error) {
	f.record("query:" + selector)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.elements[selector], nil
}

func (f *fakePage) PressKey(_ context.Context, key string) error {
	f.record("key:" + key)
	return nil
}

func (f *fakePage) DragAndDrop(_ context.Context, x1, y1, x2, y2 float64) error {
	f.record("drag")
	return nil
}

func (f *fakePage) SetFileInput(_ context.Context, selector string, paths []string) error {
	f.record(fmt.Sprintf("upload:%s:%d", selector, len(paths)))
	return nil
}

func (f *fakePage) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentURL, nil
}

func (f *fakePage) PageHTML(context.Context) (string, error) { return "<html></html>", nil }

func (f *fakePage) Close(context.Context) error { return nil }

var _ schemas.PageDriver = (*fakePage)(nil)

func fastConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		ActionTimeout: 5 * time.Second,
		RetryCount:    3,
		RetryBackoff:  time.Millisecond,
	}
}

func newTestOrchestrator(t *testing.T, withResolver bool) (*Orchestrator, *fakePage, *ExecutionContext) {
	t.Helper()
	page := newFakePage()

	var res *resolver.Resolver
	if withResolver {
		cache := resolver.NewCache(5*time.Second, 100, zap.NewNop())
		t.Cleanup(cache.Stop)
		res = resolver.New(cache, nil, zap.NewNop())
		res.RegisterStrategy(resolver.NewHeuristicStrategy(zap.NewNop()), 10)
	}

	o := New(res, intent.NewMapper(zap.NewNop()), nil, fastConfig(), zap.NewNop())
	ectx := &ExecutionContext{Page: page}
	return o, page, ectx
}

func searchIntent() *schemas.Intent {
	in := schemas.NewIntent("go to shop.test then search for boots", schemas.IntentComposite)
	in.SubIntents = []schemas.SubIntent{
		{
			ID: "step_1", Type: schemas.IntentNavigation, Description: "go to shop.test",
			Parameters: []schemas.IntentParameter{{Name: "url", Value: "shop.test"}},
		},
		{
			ID: "step_2", Type: schemas.IntentSearch, Description: "search for boots",
			Parameters:   []schemas.IntentParameter{{Name: "query", Value: "boots"}},
			Dependencies: []string{"step_1"},
		},
	}
	return in
}

func TestExecuteIntentNavigateThenSearch(t *testing.T) {
	o, page, ectx := newTestOrchestrator(t, true)
	page.elements[`input[type="search"]`] = []schemas.PerceptionElement{
		{Type: "input", Selector: "#q", IsVisible: true},
	}

	in := searchIntent()
	result, err := o.ExecuteIntent(context.Background(), in, ectx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, schemas.IntentCompleted, in.Status)
	assert.Len(t, result.ActionsTaken, 3)
	assert.True(t, result.SubIntentResults["step_1"])
	assert.True(t, result.SubIntentResults["step_2"])

	calls := page.callLog()
	require.NotEmpty(t, calls)
	assert.Equal(t, "navigate:https://shop.test", calls[0], "navigation strictly precedes the search")
	assert.Contains(t, calls, "type:#q:boots")
	assert.Contains(t, calls, "key:Enter")
}

func TestExecuteIntentRetriesWithLinearBackoffThenSucceeds(t *testing.T) {
	o, page, ectx := newTestOrchestrator(t, false)
	page.failNext("navigate", 2)

	in := schemas.NewIntent("go to a.test", schemas.IntentNavigation)
	in.SubIntents = []schemas.SubIntent{{
		ID: "step_1", Type: schemas.IntentNavigation,
		Parameters: []schemas.IntentParameter{{Name: "url", Value: "a.test"}},
	}}

	result, err := o.ExecuteIntent(context.Background(), in, ectx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.ActionsTaken, 1)
	assert.Equal(t, 2, result.ActionsTaken[0].RetriesUsed, "two failed attempts before success")
}

func TestExecuteIntentRetryBudgetExhausted(t *testing.T) {
	o, page, ectx := newTestOrchestrator(t, false)
	page.failNext("navigate", 10)

	in := schemas.NewIntent("go to a.test", schemas.IntentNavigation)
	in.SubIntents = []schemas.SubIntent{{
		ID: "step_1", Type: schemas.IntentNavigation,
		Parameters: []schemas.IntentParameter{{Name: "url", Value: "a.test"}},
	}}

	result, err := o.ExecuteIntent(context.Background(), in, ectx)
	require.NoError(t, err, "action failure is data, not an error")
	assert.False(t, result.Success)
	assert.Equal(t, schemas.IntentFailed, in.Status)
	require.Len(t, result.ActionsTaken, 1)

	r := result.ActionsTaken[0]
	assert.False(t, r.Success)
	assert.Equal(t, 3, r.RetriesUsed, "full retry budget consumed")
	assert.Contains(t, result.FirstError(), "step_1_nav")
	assert.False(t, result.SubIntentResults["step_1"])
}

func TestExecuteIntentCancellationMidPlanFailsUnexecutedSubIntents(t *testing.T) {
	o, _, ectx := newTestOrchestrator(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first navigation succeeds but pulls the plug on the caller's
	// context, so the dependent sub-intent never runs.
	calls := 0
	o.RegisterHandler(schemas.ActionNavigate, func(context.Context, *schemas.Action, *ExecutionContext) (map[string]any, error) {
		calls++
		cancel()
		return nil, nil
	})

	in := schemas.NewIntent("go to a.test then go to b.test", schemas.IntentComposite)
	in.SubIntents = []schemas.SubIntent{
		{ID: "step_1", Type: schemas.IntentNavigation,
			Parameters: []schemas.IntentParameter{{Name: "url", Value: "a.test"}}},
		{ID: "step_2", Type: schemas.IntentNavigation,
			Parameters:   []schemas.IntentParameter{{Name: "url", Value: "b.test"}},
			Dependencies: []string{"step_1"}},
	}

	result, err := o.ExecuteIntent(ctx, in, ectx)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "execution stops at the group boundary")
	assert.Len(t, result.ActionsTaken, 1)
	assert.True(t, result.SubIntentResults["step_1"])
	assert.False(t, result.SubIntentResults["step_2"], "an unexecuted sub-intent did not succeed")
	assert.False(t, result.Success)
	assert.Equal(t, schemas.IntentFailed, in.Status)
	assert.Contains(t, result.FirstError(), "interrupted")
}

func TestRunActionNonRetryableReportsZeroRetries(t *testing.T) {
	o, _, ectx := newTestOrchestrator(t, false)
	o.RegisterHandler(schemas.ActionNavigate, func(context.Context, *schemas.Action, *ExecutionContext) (map[string]any, error) {
		return nil, schemas.NewCodedError(schemas.CodeExecution, "bad request").WithRetryable(false)
	})

	a := schemas.NewAction("n_nav", schemas.ActionNavigate, map[string]any{"url": "https://a.test"})
	r := o.runAction(context.Background(), a, ectx)
	assert.False(t, r.Success)
	assert.Zero(t, r.RetriesUsed, "one attempt, no retries")
}

func TestSubIntentAttributionWithPrefixSharingIDs(t *testing.T) {
	in := schemas.NewIntent("prefix clash", schemas.IntentComposite)
	in.SubIntents = []schemas.SubIntent{{ID: "a"}, {ID: "a_b"}}

	plan := schemas.NewExecutionPlan(in.ID)
	plan.AddAction(schemas.NewAction("a_click", schemas.ActionClick, nil))
	plan.AddAction(schemas.NewAction("a_b_click", schemas.ActionClick, nil))
	plan.SubIntentActions["a"] = []string{"a_click"}
	plan.SubIntentActions["a_b"] = []string{"a_b_click"}

	results := map[string]*schemas.ActionResult{
		"a_click":   {ActionID: "a_click", Success: true},
		"a_b_click": {ActionID: "a_b_click", Success: false},
	}

	out := aggregateSubIntents(in, plan, results)
	assert.True(t, out["a"], "sibling's failure must not bleed into a prefix-sharing ID")
	assert.False(t, out["a_b"])
}

func TestExecuteIntentCycleProducesNoActions(t *testing.T) {
	o, _, ectx := newTestOrchestrator(t, false)

	in := schemas.NewIntent("cyclic", schemas.IntentComposite)
	in.SubIntents = []schemas.SubIntent{
		{ID: "step_1", Type: schemas.IntentNavigation, Description: "go to a.test", Dependencies: []string{"step_2"}},
		{ID: "step_2", Type: schemas.IntentNavigation, Description: "go to b.test", Dependencies: []string{"step_1"}},
	}

	result, err := o.ExecuteIntent(context.Background(), in, ectx)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrDependencyCycle)
	assert.Empty(t, result.ActionsTaken, "nothing executes on a cyclic plan")
	assert.Equal(t, schemas.IntentFailed, in.Status)
}

func TestExecuteIntentNonRetryableErrorStopsEarly(t *testing.T) {
	o, _, ectx := newTestOrchestrator(t, false)

	in := schemas.NewIntent("broken", schemas.IntentComposite)
	in.SubIntents = []schemas.SubIntent{{ID: "step_1", Type: schemas.IntentNavigation, Description: "nav without url or address"}}
	// Description yields no URL -> mapper emits nothing; force an action with
	// a handler-rejected parameter set instead.
	in.SubIntents[0].Parameters = []schemas.IntentParameter{{Name: "url", Value: "a.test"}}

	calls := 0
	o.RegisterHandler(schemas.ActionNavigate, func(context.Context, *schemas.Action, *ExecutionContext) (map[string]any, error) {
		calls++
		return nil, schemas.NewCodedError(schemas.CodeExecution, "bad request").WithRetryable(false)
	})

	result, err := o.ExecuteIntent(context.Background(), in, ectx)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, calls, "non-retryable failures must not be retried")
}

func TestCustomActionDispatch(t *testing.T) {
	o, _, ectx := newTestOrchestrator(t, false)
	o.RegisterCustomAction("accept_cookies", func(context.Context, *schemas.Action, *ExecutionContext) (map[string]any, error) {
		return map[string]any{"accepted": true}, nil
	})

	known := schemas.NewAction("c_custom", schemas.ActionCustom, map[string]any{"custom_name": "accept_cookies"})
	r := o.runAction(context.Background(), known, ectx)
	require.True(t, r.Success)
	assert.Equal(t, true, r.ResultData["accepted"])

	unknown := schemas.NewAction("c_missing", schemas.ActionCustom, map[string]any{"custom_name": "no_such_thing"})
	r = o.runAction(context.Background(), unknown, ectx)
	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "no_such_thing")
}

func TestExecuteIntentVerifiesCriteria(t *testing.T) {
	o, page, ectx := newTestOrchestrator(t, false)
	page.bodyText = "Order confirmed! Thank you."

	in := schemas.NewIntent("go to shop.test/confirm", schemas.IntentNavigation)
	in.SubIntents = []schemas.SubIntent{{
		ID: "step_1", Type: schemas.IntentNavigation,
		Parameters: []schemas.IntentParameter{{Name: "url", Value: "shop.test/confirm"}},
	}}
	in.SuccessCriteria = []schemas.SuccessCriteria{
		{Type: "url_matches", Expected: "contains:confirm"},
		{Type: "text_present", Expected: "order confirmed"},
	}

	result, err := o.ExecuteIntent(context.Background(), in, ectx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.CriteriaMet["url_matches_confirm"])
	assert.True(t, result.CriteriaMet["text_present_order_confirmed"])
}

func TestExecuteIntentUnmetCriterionFailsIntent(t *testing.T) {
	o, page, ectx := newTestOrchestrator(t, false)
	page.bodyText = "Payment declined."

	in := schemas.NewIntent("go to shop.test/confirm", schemas.IntentNavigation)
	in.SubIntents = []schemas.SubIntent{{
		ID: "step_1", Type: schemas.IntentNavigation,
		Parameters: []schemas.IntentParameter{{Name: "url", Value: "shop.test/confirm"}},
	}}
	in.SuccessCriteria = []schemas.SuccessCriteria{
		{Type: "text_present", Expected: "order confirmed"},
	}

	result, err := o.ExecuteIntent(context.Background(), in, ectx)
	require.NoError(t, err)
	assert.False(t, result.Success, "all actions passed but the criterion failed")
	assert.False(t, result.CriteriaMet["text_present_order_confirmed"])
	assert.True(t, result.SubIntentResults["step_1"])
}

func TestExecuteIntentOptionalSubIntentFailureDoesNotGate(t *testing.T) {
	o, page, ectx := newTestOrchestrator(t, false)
	page.failNext("click:#banner", 10)

	in := schemas.NewIntent("dismiss banner then navigate", schemas.IntentComposite)
	in.SubIntents = []schemas.SubIntent{
		{ID: "step_1", Type: schemas.IntentInteraction, Description: "click the banner", Optional: true},
		{ID: "step_2", Type: schemas.IntentNavigation,
			Parameters:   []schemas.IntentParameter{{Name: "url", Value: "a.test"}},
			Dependencies: []string{"step_1"}},
	}
	// Give the optional click a concrete selector so it reaches the page.
	o.RegisterHandler(schemas.ActionClick, func(ctx context.Context, a *schemas.Action, e *ExecutionContext) (map[string]any, error) {
		return nil, e.Page.Click(ctx, "#banner")
	})

	result, err := o.ExecuteIntent(context.Background(), in, ectx)
	require.NoError(t, err)
	assert.False(t, result.SubIntentResults["step_1"])
	assert.True(t, result.SubIntentResults["step_2"])
	assert.True(t, result.Success, "optional sub-intent failure does not gate success")
}

func TestRunActionLazyResolutionPopulatesTarget(t *testing.T) {
	o, page, ectx := newTestOrchestrator(t, true)
	page.elements[`input[type="password"]`] = []schemas.PerceptionElement{
		{Type: "input", Selector: "#pw", IsVisible: true},
	}

	action := schemas.NewAction("a_type", schemas.ActionInputText, map[string]any{
		"text": "hunter2",
		"element_intent": &schemas.ElementIntent{
			Description: "password field",
			ElementType: "input",
		},
	})

	r := o.runAction(context.Background(), action, ectx)
	assert.True(t, r.Success)
	require.NotNil(t, action.Target)
	assert.Equal(t, "#pw", action.Target.Selector())
	assert.Contains(t, page.callLog(), "type:#pw:hunter2")
}

func TestRunActionResolutionMissStillInvokesHandler(t *testing.T) {
	o, _, ectx := newTestOrchestrator(t, true)

	action := schemas.NewAction("a_click", schemas.ActionClick, map[string]any{
		"element_intent": &schemas.ElementIntent{Description: "nothing resolvable here"},
	})
	action.RetryCount = 0

	r := o.runAction(context.Background(), action, ectx)
	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "no resolved target")
}

func TestMutatingActionsDoNotOverlap(t *testing.T) {
	o, _, ectx := newTestOrchestrator(t, false)

	var mu sync.Mutex
	active, maxActive := 0, 0
	o.RegisterHandler(schemas.ActionClick, func(context.Context, *schemas.Action, *ExecutionContext) (map[string]any, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil, nil
	})

	in := schemas.NewIntent("many clicks", schemas.IntentComposite)
	for i := 0; i < 4; i++ {
		in.SubIntents = append(in.SubIntents, schemas.SubIntent{
			ID:          fmt.Sprintf("step_%d", i+1),
			Type:        schemas.IntentInteraction,
			Description: fmt.Sprintf("click thing %d", i),
		})
	}

	result, err := o.ExecuteIntent(context.Background(), in, ectx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, maxActive, "state-mutating actions must be serialized")
}
