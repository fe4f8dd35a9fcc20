// File: api/schemas/action.go
package schemas

import (
	"time"
)

// ActionType enumerates the concrete browser operations the orchestrator can
// dispatch. New types are added through handler registration, not by editing
// the scheduler.
type ActionType string

const (
	ActionClick         ActionType = "click"          // Click an element or point.
	ActionInputText     ActionType = "type"           // Type text into an element.
	ActionSelect        ActionType = "select"         // Choose an option from a select.
	ActionHover         ActionType = "hover"          // Move the pointer over an element.
	ActionScroll        ActionType = "scroll"         // Scroll the viewport.
	ActionWait          ActionType = "wait"           // Pause for a duration or condition.
	ActionNavigate      ActionType = "navigate"       // Load a URL.
	ActionScreenshot    ActionType = "screenshot"     // Capture the current viewport.
	ActionExtract       ActionType = "extract"        // Read text or attributes off the page.
	ActionExecuteScript ActionType = "execute_script" // Evaluate JavaScript.
	ActionKeyboard      ActionType = "keyboard"       // Press a key or chord.
	ActionDrag          ActionType = "drag"           // Drag from one point to another.
	ActionUpload        ActionType = "upload"         // Set files on a file input.
	ActionCustom        ActionType = "custom"         // Application-registered handler.
)

// mutatingActionTypes are the types that can change page state. Any action of
// one of these types is scheduled on its own sequential step, because a page
// mutation can invalidate sibling actions' targets.
var mutatingActionTypes = map[ActionType]struct{}{
	ActionClick:         {},
	ActionInputText:     {},
	ActionSelect:        {},
	ActionNavigate:      {},
	ActionExecuteScript: {},
	ActionDrag:          {},
}

// IsStateMutating reports whether the action type can change page state.
func (t ActionType) IsStateMutating() bool {
	_, ok := mutatingActionTypes[t]
	return ok
}

// Default execution knobs applied by NewAction.
const (
	DefaultActionTimeout = 30 * time.Second
	DefaultRetryCount    = 3
)

// Action is one concrete browser operation derived from a sub-intent.
// Target stays nil until the orchestrator resolves it, exactly once,
// immediately before the action executes.
type Action struct {
	ID           string           `json:"id"`
	Type         ActionType       `json:"type"`
	Target       *ResolvedElement `json:"target,omitempty"`
	Parameters   map[string]any   `json:"parameters,omitempty"`
	Dependencies []string         `json:"dependencies,omitempty"`
	CanParallel  bool             `json:"can_parallel"`
	Timeout      time.Duration    `json:"timeout"`
	RetryCount   int              `json:"retry_count"`
}

// NewAction builds an action with the default timeout and retry budget.
// Actions start parallel-eligible; the scheduler still isolates any
// state-mutating type regardless of this flag.
func NewAction(id string, typ ActionType, params map[string]any) *Action {
	if params == nil {
		params = map[string]any{}
	}
	return &Action{
		ID:          id,
		Type:        typ,
		Parameters:  params,
		CanParallel: true,
		Timeout:     DefaultActionTimeout,
		RetryCount:  DefaultRetryCount,
	}
}

// StringParam returns the named parameter coerced to a string, or "".
func (a *Action) StringParam(name string) string {
	v, _ := a.Parameters[name].(string)
	return v
}

// BoolParam returns the named parameter coerced to a bool, or false.
func (a *Action) BoolParam(name string) bool {
	v, _ := a.Parameters[name].(bool)
	return v
}

// ElementIntentParam returns the embedded element description, or nil when
// the action does not target an element.
func (a *Action) ElementIntentParam() *ElementIntent {
	v, _ := a.Parameters["element_intent"].(*ElementIntent)
	return v
}

// ActionResult records the outcome of executing one action. Immutable once
// produced; aggregated into the intent's ExecutionResult.
type ActionResult struct {
	ActionID    string         `json:"action_id"`
	Success     bool           `json:"success"`
	Duration    time.Duration  `json:"duration"`
	ResultData  map[string]any `json:"result_data,omitempty"`
	Error       string         `json:"error,omitempty"`
	RetriesUsed int            `json:"retries_used"`
}

// ExecutionPlan owns every action for one intent plus the dependency edges
// between them. Edges map a prerequisite action ID to the IDs that must wait
// for it. The graph is validated acyclic at construction and never mutated
// afterward.
type ExecutionPlan struct {
	IntentID string              `json:"intent_id"`
	Actions  map[string]*Action  `json:"actions"`
	Edges    map[string][]string `json:"edges"`
	Order    []string            `json:"order"` // insertion order, for deterministic scheduling
	// SubIntentActions maps each sub-intent ID to the IDs of the actions
	// planned for it, in execution order. Result aggregation relies on this
	// rather than on ID naming conventions.
	SubIntentActions map[string][]string `json:"sub_intent_actions,omitempty"`
}

// NewExecutionPlan returns an empty plan for the given intent.
func NewExecutionPlan(intentID string) *ExecutionPlan {
	return &ExecutionPlan{
		IntentID:         intentID,
		Actions:          make(map[string]*Action),
		Edges:            make(map[string][]string),
		SubIntentActions: make(map[string][]string),
	}
}

// AddAction registers an action in the plan. The caller guarantees ID
// uniqueness; duplicates are rejected by the plan builder before this point.
func (p *ExecutionPlan) AddAction(a *Action) {
	p.Actions[a.ID] = a
	p.Order = append(p.Order, a.ID)
}

// AddEdge records that dependent must not start before prerequisite
// completes. Both IDs must already be present in the plan.
func (p *ExecutionPlan) AddEdge(prerequisite, dependent string) {
	p.Edges[prerequisite] = append(p.Edges[prerequisite], dependent)
}

// Size returns the number of actions in the plan.
func (p *ExecutionPlan) Size() int { return len(p.Actions) }
