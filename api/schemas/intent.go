// File: api/schemas/intent.go
package schemas

import (
	"time"

	"github.com/google/uuid"
)

// IntentType classifies the high-level goal of an automation request.
type IntentType string

const (
	IntentNavigation     IntentType = "navigation"     // Go to a URL or page.
	IntentFormFill       IntentType = "form_fill"      // Populate one or more form fields.
	IntentAuthentication IntentType = "authentication" // Log in or sign up.
	IntentSearch         IntentType = "search"         // Enter a query and submit it.
	IntentInteraction    IntentType = "interaction"    // Click, type, or otherwise manipulate an element.
	IntentExtraction     IntentType = "extraction"     // Read data off the page.
	IntentVerification   IntentType = "verification"   // Confirm an expected page state.
	IntentComposite      IntentType = "composite"      // Multiple goals combined.
	IntentCustom         IntentType = "custom"         // Application-registered behavior.
)

// IntentPriority orders intents when several compete for execution.
type IntentPriority string

const (
	PriorityCritical IntentPriority = "critical"
	PriorityHigh     IntentPriority = "high"
	PriorityMedium   IntentPriority = "medium"
	PriorityLow      IntentPriority = "low"
)

// IntentStatus tracks an intent through its lifecycle. Only the orchestrator
// transitions status; every other component treats intents as read-only.
type IntentStatus string

const (
	IntentPending    IntentStatus = "pending"
	IntentInProgress IntentStatus = "in_progress"
	IntentCompleted  IntentStatus = "completed"
	IntentFailed     IntentStatus = "failed"
)

// IntentParameter is a single named input to an intent or sub-intent.
// Sensitive parameters (passwords, tokens) must never be logged verbatim.
type IntentParameter struct {
	Name      string `json:"name"`
	Value     any    `json:"value"`
	Type      string `json:"type"`      // string, number, boolean, list, map
	Required  bool   `json:"required"`
	Sensitive bool   `json:"sensitive"`
}

// IntentConstraint bounds how an intent may be executed (e.g. max duration,
// domain allowlist). Constraints are advisory to handlers, binding to callers.
type IntentConstraint struct {
	Type        string `json:"type"`
	Value       any    `json:"value"`
	Description string `json:"description,omitempty"`
}

// SuccessCriteria declares one post-execution check. The Expected value may
// carry a "contains:" or "regex:" prefix to select the match mode; otherwise
// the comparison is exact.
type SuccessCriteria struct {
	Type        string        `json:"type"` // url_matches, element_visible, text_present, element_count, visual_match, custom
	Expected    any           `json:"expected"`
	Description string        `json:"description,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// SubIntent is one decomposed step of an intent. Dependencies reference other
// sub-intent IDs within the same intent. SubIntents are immutable once built.
type SubIntent struct {
	ID           string            `json:"id"`
	Description  string            `json:"description"`
	Type         IntentType        `json:"type"`
	Parameters   []IntentParameter `json:"parameters,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Optional     bool              `json:"optional,omitempty"`
}

// Parameter returns the value of the named parameter, or nil when absent.
func (s *SubIntent) Parameter(name string) any {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p.Value
		}
	}
	return nil
}

// StringParameter returns the named parameter coerced to a string, or "" when
// absent or not a string.
func (s *SubIntent) StringParameter(name string) string {
	v, _ := s.Parameter(name).(string)
	return v
}

// Intent is the structured representation of "what the user wants",
// decomposed into ordered sub-intents by the intent analyzer.
type Intent struct {
	ID              string             `json:"id"`
	TaskDescription string             `json:"task_description"`
	Type            IntentType         `json:"type"`
	Priority        IntentPriority     `json:"priority"`
	PrimaryGoal     string             `json:"primary_goal"`
	SubIntents      []SubIntent        `json:"sub_intents,omitempty"`
	Parameters      []IntentParameter  `json:"parameters,omitempty"`
	Constraints     []IntentConstraint `json:"constraints,omitempty"`
	SuccessCriteria []SuccessCriteria  `json:"success_criteria,omitempty"`
	Context         map[string]any     `json:"context,omitempty"`
	Status          IntentStatus       `json:"status"`
	Attempts        int                `json:"attempts"`
	LastError       string             `json:"last_error,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// NewIntent constructs a pending intent with a fresh ID.
func NewIntent(task string, typ IntentType) *Intent {
	return &Intent{
		ID:              uuid.New().String(),
		TaskDescription: task,
		Type:            typ,
		Priority:        PriorityMedium,
		Status:          IntentPending,
		CreatedAt:       time.Now(),
	}
}

// Parameter returns the value of the named intent-level parameter, or nil.
func (i *Intent) Parameter(name string) any {
	for _, p := range i.Parameters {
		if p.Name == name {
			return p.Value
		}
	}
	return nil
}

// StringParameter returns the named parameter coerced to a string, or "".
func (i *Intent) StringParameter(name string) string {
	v, _ := i.Parameter(name).(string)
	return v
}

// ElementIntent describes a target element in user terms, plus any structural
// hints the caller already knows. The resolver turns this into a live element.
type ElementIntent struct {
	Description        string            `json:"description"`
	ElementType        string            `json:"element_type,omitempty"` // button, input, link, select, ...
	TestID             string            `json:"test_id,omitempty"`
	AriaLabel          string            `json:"aria_label,omitempty"`
	CSSSelector        string            `json:"css_selector,omitempty"`
	XPath              string            `json:"xpath,omitempty"`
	TextContent        string            `json:"text_content,omitempty"`
	NearElement        string            `json:"near_element,omitempty"`
	ProximityThreshold int               `json:"proximity_threshold,omitempty"`
	IncludeDisabled    bool              `json:"include_disabled,omitempty"`
	VisibleOnly        bool              `json:"visible_only,omitempty"`
	Attributes         map[string]string `json:"attributes,omitempty"`
	Index              int               `json:"index,omitempty"` // 0-based pick among multiple matches
}

// ExecutionResult is the terminal artifact of executing one intent. It is
// always produced, even on failure; errors are data here, not panics.
type ExecutionResult struct {
	IntentID         string          `json:"intent_id"`
	Success          bool            `json:"success"`
	SubIntentResults map[string]bool `json:"sub_intent_results,omitempty"`
	ActionsTaken     []ActionResult  `json:"actions_taken,omitempty"`
	Duration         time.Duration   `json:"duration"`
	TokensUsed       int             `json:"tokens_used,omitempty"`
	CriteriaMet      map[string]bool `json:"criteria_met,omitempty"`
	Errors           []string        `json:"errors,omitempty"`
}

// FirstError returns the headline failure reason, or "" when none.
func (r *ExecutionResult) FirstError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0]
}
