// internal/orchestrator/verification.go
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xanthous9/intentflow/api/schemas"
)

// visualMatchThreshold is the minimum vision-model confidence for a
// visual_match criterion to pass.
const visualMatchThreshold = 0.8

// defaultCriteriaTimeout bounds a single criterion check when the criterion
// does not bring its own timeout.
const defaultCriteriaTimeout = 5 * time.Second

// Verifier evaluates one custom success criterion.
type Verifier func(ctx context.Context, expected any, ectx *ExecutionContext) (bool, error)

// checkCriteria evaluates every success criterion and returns the outcome
// map keyed by criteriaKey. Check errors count as "not met", never abort.
func (o *Orchestrator) checkCriteria(ctx context.Context, in *schemas.Intent, ectx *ExecutionContext) map[string]bool {
	if len(in.SuccessCriteria) == 0 {
		return nil
	}
	out := make(map[string]bool, len(in.SuccessCriteria))
	for _, c := range in.SuccessCriteria {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = defaultCriteriaTimeout
		}
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		met, err := o.checkOne(checkCtx, c, ectx)
		cancel()
		if err != nil {
			o.logger.Debug("Criterion check errored",
				zap.String("type", c.Type),
				zap.Error(err),
			)
			met = false
		}
		out[criteriaKey(c.Type, c.Expected)] = met
	}
	return out
}

func (o *Orchestrator) checkOne(ctx context.Context, c schemas.SuccessCriteria, ectx *ExecutionContext) (bool, error) {
	switch c.Type {
	case "url_matches":
		return checkURLMatches(ctx, c.Expected, ectx)
	case "text_present":
		return checkTextPresent(ctx, c.Expected, ectx)
	case "element_visible":
		return checkElementVisible(ctx, c.Expected, ectx)
	case "element_count":
		return checkElementCount(ctx, c.Expected, ectx)
	case "visual_match":
		return checkVisualMatch(ctx, c.Expected, ectx)
	case "custom":
		return o.checkCustom(ctx, c, ectx)
	default:
		return false, fmt.Errorf("unknown criterion type %q", c.Type)
	}
}

// checkURLMatches compares the current URL against the expectation. A
// "contains:" prefix selects substring match, "regex:" a pattern match;
// anything else is an exact prefix-free comparison.
func checkURLMatches(ctx context.Context, expected any, ectx *ExecutionContext) (bool, error) {
	want, ok := expected.(string)
	if !ok {
		return false, fmt.Errorf("url_matches expects a string, got %T", expected)
	}
	current, err := ectx.Page.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	switch {
	case strings.HasPrefix(want, "contains:"):
		return strings.Contains(current, strings.TrimPrefix(want, "contains:")), nil
	case strings.HasPrefix(want, "regex:"):
		re, err := regexp.Compile(strings.TrimPrefix(want, "regex:"))
		if err != nil {
			return false, fmt.Errorf("url_matches regex: %w", err)
		}
		return re.MatchString(current), nil
	default:
		return current == want, nil
	}
}

// checkTextPresent verifies that the expected string (or every string in an
// expected list) appears in the page body text.
func checkTextPresent(ctx context.Context, expected any, ectx *ExecutionContext) (bool, error) {
	body, err := ectx.Page.TextContent(ctx, "body")
	if err != nil {
		return false, err
	}
	lowered := strings.ToLower(body)
	switch want := expected.(type) {
	case string:
		return strings.Contains(lowered, strings.ToLower(want)), nil
	case []string:
		for _, s := range want {
			if !strings.Contains(lowered, strings.ToLower(s)) {
				return false, nil
			}
		}
		return true, nil
	case []any:
		for _, item := range want {
			s, ok := item.(string)
			if !ok {
				return false, fmt.Errorf("text_present list holds %T, want string", item)
			}
			if !strings.Contains(lowered, strings.ToLower(s)) {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("text_present expects a string or list, got %T", expected)
	}
}

func checkElementVisible(ctx context.Context, expected any, ectx *ExecutionContext) (bool, error) {
	selector, ok := expected.(string)
	if !ok {
		return false, fmt.Errorf("element_visible expects a selector string, got %T", expected)
	}
	if err := ectx.Page.WaitForSelector(ctx, selector); err != nil {
		return false, nil // absence is a failed criterion, not an engine error
	}
	return true, nil
}

// checkElementCount expects a map {selector, operator, count} with operator
// one of equals, greater_than, less_than, at_least, at_most.
func checkElementCount(ctx context.Context, expected any, ectx *ExecutionContext) (bool, error) {
	spec, ok := expected.(map[string]any)
	if !ok {
		return false, fmt.Errorf("element_count expects a map, got %T", expected)
	}
	selector, _ := spec["selector"].(string)
	if selector == "" {
		return false, fmt.Errorf("element_count requires a selector")
	}
	operator, _ := spec["operator"].(string)
	if operator == "" {
		operator = "equals"
	}
	want := 0
	switch v := spec["count"].(type) {
	case int:
		want = v
	case float64:
		want = int(v)
	default:
		return false, fmt.Errorf("element_count requires a numeric count")
	}

	elements, err := ectx.Page.QueryAll(ctx, selector)
	if err != nil {
		return false, err
	}
	got := len(elements)
	switch operator {
	case "equals":
		return got == want, nil
	case "greater_than":
		return got > want, nil
	case "less_than":
		return got < want, nil
	case "at_least":
		return got >= want, nil
	case "at_most":
		return got <= want, nil
	default:
		return false, fmt.Errorf("unknown element_count operator %q", operator)
	}
}

func checkVisualMatch(ctx context.Context, expected any, ectx *ExecutionContext) (bool, error) {
	description, ok := expected.(string)
	if !ok {
		return false, fmt.Errorf("visual_match expects a description string, got %T", expected)
	}
	if ectx.Vision == nil {
		return false, fmt.Errorf("no vision model configured")
	}
	shot, err := ectx.Page.Screenshot(ctx)
	if err != nil {
		return false, err
	}
	el, err := ectx.Vision.FindElement(ctx, shot, description)
	if err != nil {
		return false, err
	}
	return el != nil && el.Confidence >= visualMatchThreshold, nil
}

func (o *Orchestrator) checkCustom(ctx context.Context, c schemas.SuccessCriteria, ectx *ExecutionContext) (bool, error) {
	name := c.Description
	if name == "" {
		name, _ = c.Expected.(string)
	}
	o.mu.RLock()
	verifier, ok := o.verifiers[name]
	o.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("no custom verifier registered as %q", name)
	}
	return verifier(ctx, c.Expected, ectx)
}

// nonKeyChars collapses anything that would make criterion keys awkward to
// address in the result map.
var nonKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// criteriaKey derives the CriteriaMet map key: the criterion type plus the
// expected value with any match-mode prefix stripped, e.g. expected
// "contains:confirm" under url_matches becomes "url_matches_confirm".
func criteriaKey(ctype string, expected any) string {
	val := fmt.Sprintf("%v", expected)
	val = strings.TrimPrefix(val, "contains:")
	val = strings.TrimPrefix(val, "regex:")
	val = nonKeyChars.ReplaceAllString(val, "_")
	val = strings.Trim(val, "_")
	if len(val) > 40 {
		val = val[:40]
	}
	if val == "" {
		return ctype
	}
	return ctype + "_" + val
}
