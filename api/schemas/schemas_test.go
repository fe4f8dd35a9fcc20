// File: api/schemas/schemas_test.go
package schemas

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Action Type Classification --

func TestActionTypeIsStateMutating(t *testing.T) {
	mutating := []ActionType{ActionClick, ActionInputText, ActionSelect, ActionNavigate, ActionExecuteScript, ActionDrag}
	for _, at := range mutating {
		assert.True(t, at.IsStateMutating(), "%s must be state-mutating", at)
	}

	readOnly := []ActionType{ActionExtract, ActionScreenshot, ActionWait, ActionHover, ActionScroll, ActionKeyboard}
	for _, at := range readOnly {
		assert.False(t, at.IsStateMutating(), "%s must not be state-mutating", at)
	}
}

func TestNewActionDefaults(t *testing.T) {
	a := NewAction("sub1_click", ActionClick, nil)

	assert.Equal(t, "sub1_click", a.ID)
	assert.Equal(t, ActionClick, a.Type)
	assert.True(t, a.CanParallel)
	assert.Equal(t, DefaultActionTimeout, a.Timeout)
	assert.Equal(t, DefaultRetryCount, a.RetryCount)
	assert.NotNil(t, a.Parameters, "parameters map must be usable without a nil check")
	assert.Nil(t, a.Target, "target stays empty until resolution")
}

func TestActionParameterAccessors(t *testing.T) {
	ei := &ElementIntent{Description: "login button", ElementType: "button"}
	a := NewAction("s_click", ActionClick, map[string]any{
		"element_intent": ei,
		"clear_first":    true,
		"text":           "hello",
	})

	assert.Equal(t, "hello", a.StringParam("text"))
	assert.Equal(t, "", a.StringParam("missing"))
	assert.True(t, a.BoolParam("clear_first"))
	assert.False(t, a.BoolParam("missing"))
	require.NotNil(t, a.ElementIntentParam())
	assert.Equal(t, "login button", a.ElementIntentParam().Description)
}

// -- Geometry --

func TestBoundingBoxMath(t *testing.T) {
	b := BoundingBox{X: 10, Y: 20, Width: 100, Height: 40}

	assert.Equal(t, 60.0, b.CenterX())
	assert.Equal(t, 40.0, b.CenterY())
	assert.Equal(t, 4000.0, b.Area())
	assert.True(t, b.ContainsPoint(10, 20))
	assert.True(t, b.ContainsPoint(110, 60))
	assert.False(t, b.ContainsPoint(9.9, 20))
	assert.False(t, b.ContainsPoint(60, 61))
}

func TestResolvedElementClickPoint(t *testing.T) {
	withBox := &ResolvedElement{Element: PerceptionElement{
		Selector:    "#go",
		BoundingBox: &BoundingBox{X: 0, Y: 0, Width: 50, Height: 20},
	}}
	x, y, ok := withBox.ClickPoint()
	require.True(t, ok)
	assert.Equal(t, 25.0, x)
	assert.Equal(t, 10.0, y)

	noBox := &ResolvedElement{Element: PerceptionElement{Selector: "#go"}}
	_, _, ok = noBox.ClickPoint()
	assert.False(t, ok)

	zeroBox := &ResolvedElement{Element: PerceptionElement{BoundingBox: &BoundingBox{}}}
	_, _, ok = zeroBox.ClickPoint()
	assert.False(t, ok, "degenerate boxes are not clickable")
}

func TestResolvedElementSelectorFallsBackToXPath(t *testing.T) {
	r := &ResolvedElement{Element: PerceptionElement{XPath: "//button[1]"}}
	assert.Equal(t, "//button[1]", r.Selector())

	r.Element.Selector = "#btn"
	assert.Equal(t, "#btn", r.Selector())
}

// -- Fingerprints --

func TestPerceptionElementFingerprint(t *testing.T) {
	a := PerceptionElement{Type: "button", Selector: "#go", Text: "Go"}
	b := PerceptionElement{Type: "button", Selector: "#go", Text: "Go"}
	c := PerceptionElement{Type: "button", Selector: "#stop", Text: "Stop"}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "identical traits yield identical IDs")
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Regexp(t, `^el-[0-9a-f]{16}$`, a.Fingerprint())
}

// -- Intent helpers --

func TestIntentAndSubIntentParameters(t *testing.T) {
	intent := NewIntent("log in to the portal", IntentAuthentication)
	intent.Parameters = []IntentParameter{
		{Name: "username", Value: "ada", Type: "string"},
		{Name: "password", Value: "s3cret", Type: "string", Sensitive: true},
	}

	assert.Equal(t, "ada", intent.StringParameter("username"))
	assert.Equal(t, "", intent.StringParameter("absent"))
	assert.NotEmpty(t, intent.ID)
	assert.Equal(t, IntentPending, intent.Status)

	sub := SubIntent{ID: "s1", Parameters: []IntentParameter{{Name: "url", Value: "https://x.test"}}}
	assert.Equal(t, "https://x.test", sub.StringParameter("url"))
	assert.Nil(t, sub.Parameter("absent"))
}

// -- Execution Plan container --

func TestExecutionPlanAccounting(t *testing.T) {
	p := NewExecutionPlan("intent-1")
	p.AddAction(NewAction("a", ActionNavigate, nil))
	p.AddAction(NewAction("b", ActionClick, nil))
	p.AddEdge("a", "b")

	assert.Equal(t, 2, p.Size())
	assert.Equal(t, []string{"a", "b"}, p.Order)

	want := map[string][]string{"a": {"b"}}
	if diff := cmp.Diff(want, p.Edges); diff != "" {
		t.Errorf("edge map mismatch (-want +got):\n%s", diff)
	}
}

// -- Coded errors --

func TestCodedErrorWrapping(t *testing.T) {
	cause := fmt.Errorf("selector vanished: %w", ErrElementNotFound)
	err := NewCodedError(CodeResolution, "resolve target").WithCause(cause).WithRetryable(false)

	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, CodeResolution, GetCode(err))
	assert.Contains(t, err.Error(), "RESOLUTION_FAILED")
	assert.Contains(t, err.Error(), "selector vanished")
}

func TestIsRetryableDefaultsTrueForPlainErrors(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("transient chaos")))
	assert.Equal(t, CodeInternal, GetCode(errors.New("plain")))
}

func TestExecutionResultFirstError(t *testing.T) {
	r := &ExecutionResult{IntentID: "i1", Duration: time.Second}
	assert.Equal(t, "", r.FirstError())

	r.Errors = []string{"boom", "later"}
	assert.Equal(t, "boom", r.FirstError())
}
