// internal/orchestrator/verification_test.go
package orchestrator

import (
	"context"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xanthous9/intentflow/api/schemas"
	"github.com/xanthous9/intentflow/internal/config"
	"github.com/xanthous9/intentflow/internal/intent"
)

func verificationFixture(t *testing.T) (*Orchestrator, *fakePage, *ExecutionContext) {
	t.Helper()
	page := newFakePage()
	o := New(nil, intent.NewMapper(zap.NewNop()), nil, config.OrchestratorConfig{}, zap.NewNop())
	return o, page, &ExecutionContext{Page: page}
}

func checkSingle(t *testing.T, o *Orchestrator, ectx *ExecutionContext, c schemas.SuccessCriteria) (string, bool) {
	t.Helper()
	in := schemas.NewIntent("verify", schemas.IntentVerification)
	in.SuccessCriteria = []schemas.SuccessCriteria{c}
	out := o.checkCriteria(context.Background(), in, ectx)
	require.Len(t, out, 1)
	for k, v := range out {
		return k, v
	}
	return "", false
}

func TestURLMatchesModes(t *testing.T) {
	o, page, ectx := verificationFixture(t)
	page.currentURL = "https://shop.test/orders/42/confirmation"

	key, met := checkSingle(t, o, ectx, schemas.SuccessCriteria{Type: "url_matches", Expected: "contains:confirmation"})
	assert.True(t, met)
	assert.Equal(t, "url_matches_confirmation", key)

	_, met = checkSingle(t, o, ectx, schemas.SuccessCriteria{Type: "url_matches", Expected: `regex:/orders/\d+/`})
	assert.True(t, met)

	_, met = checkSingle(t, o, ectx, schemas.SuccessCriteria{Type: "url_matches", Expected: "https://shop.test/orders/42/confirmation"})
	assert.True(t, met, "exact comparison without a prefix")

	_, met = checkSingle(t, o, ectx, schemas.SuccessCriteria{Type: "url_matches", Expected: "contains:cart"})
	assert.False(t, met)

	_, met = checkSingle(t, o, ectx, schemas.SuccessCriteria{Type: "url_matches", Expected: "regex:([invalid"})
	assert.False(t, met, "a bad pattern is an unmet criterion, not a crash")
}

func TestTextPresentListRequiresAll(t *testing.T) {
	o, page, ectx := verificationFixture(t)
	page.bodyText = "Welcome back, Ada. Your order shipped."

	_, met := checkSingle(t, o, ectx, schemas.SuccessCriteria{Type: "text_present", Expected: []any{"welcome back", "order shipped"}})
	assert.True(t, met)

	_, met = checkSingle(t, o, ectx, schemas.SuccessCriteria{Type: "text_present", Expected: []any{"welcome back", "tracking number"}})
	assert.False(t, met, "every listed string must appear")
}

func TestElementVisibleCriterion(t *testing.T) {
	o, page, ectx := verificationFixture(t)

	_, met := checkSingle(t, o, ectx, schemas.SuccessCriteria{Type: "element_visible", Expected: "#receipt"})
	assert.True(t, met)

	page.failNext("waitfor:#missing", 1)
	_, met = checkSingle(t, o, ectx, schemas.SuccessCriteria{Type: "element_visible", Expected: "#missing"})
	assert.False(t, met)
}

func TestElementCountOperators(t *testing.T) {
	o, page, ectx := verificationFixture(t)
	page.elements[".result"] = []schemas.PerceptionElement{
		{Type: "link"}, {Type: "link"}, {Type: "link"},
	}

	cases := []struct {
		operator string
		count    int
		want     bool
	}{
		{"equals", 3, true},
		{"equals", 2, false},
		{"greater_than", 2, true},
		{"less_than", 4, true},
		{"at_least", 3, true},
		{"at_most", 2, false},
	}
	for _, tc := range cases {
		_, met := checkSingle(t, o, ectx, schemas.SuccessCriteria{
			Type: "element_count",
			Expected: map[string]any{
				"selector": ".result",
				"operator": tc.operator,
				"count":    tc.count,
			},
		})
		assert.Equal(t, tc.want, met, "%s %d", tc.operator, tc.count)
	}
}

func TestVisualMatchThreshold(t *testing.T) {
	o, _, ectx := verificationFixture(t)

	ectx.Vision = &fixedConfidenceVision{confidence: 0.92}
	_, met := checkSingle(t, o, ectx, schemas.SuccessCriteria{Type: "visual_match", Expected: "a green success banner"})
	assert.True(t, met)

	ectx.Vision = &fixedConfidenceVision{confidence: 0.5}
	_, met = checkSingle(t, o, ectx, schemas.SuccessCriteria{Type: "visual_match", Expected: "a green success banner"})
	assert.False(t, met, "confidence below 0.8 does not pass")

	ectx.Vision = nil
	_, met = checkSingle(t, o, ectx, schemas.SuccessCriteria{Type: "visual_match", Expected: "anything"})
	assert.False(t, met, "no vision model means the criterion cannot pass")
}

type fixedConfidenceVision struct {
	confidence float64
}

func (v *fixedConfidenceVision) FindElement(context.Context, []byte, string) (*schemas.PerceptionElement, error) {
	return &schemas.PerceptionElement{Type: "banner", Confidence: v.confidence}, nil
}

func TestCustomVerifier(t *testing.T) {
	o, _, ectx := verificationFixture(t)
	o.RegisterVerifier("cart_is_empty", func(context.Context, any, *ExecutionContext) (bool, error) {
		return true, nil
	})

	_, met := checkSingle(t, o, ectx, schemas.SuccessCriteria{
		Type: "custom", Description: "cart_is_empty", Expected: "cart_is_empty",
	})
	assert.True(t, met)

	_, met = checkSingle(t, o, ectx, schemas.SuccessCriteria{
		Type: "custom", Description: "never_registered", Expected: "never_registered",
	})
	assert.False(t, met)
}

func TestCriteriaKeyConvention(t *testing.T) {
	assert.Equal(t, "url_matches_confirm", criteriaKey("url_matches", "contains:confirm"))
	assert.Equal(t, "text_present_order_confirmed", criteriaKey("text_present", "order confirmed"))
	assert.Equal(t, "element_visible", criteriaKey("element_visible", ""))
}

func TestCriteriaKeySanitizesBeforeTruncating(t *testing.T) {
	// Non-ASCII runes collapse to underscores before the length cap, so the
	// cap can never land inside a multi-byte sequence.
	assert.Equal(t, "text_present_caf", criteriaKey("text_present", "café"))

	long := criteriaKey("text_present", "ご注文ありがとうございます your order number is 0123456789 and more")
	assert.True(t, utf8.ValidString(long))
	assert.LessOrEqual(t, len(long), len("text_present_")+40)
}
