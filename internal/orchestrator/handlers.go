// internal/orchestrator/handlers.go
package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xanthous9/intentflow/api/schemas"
)

// Handler executes one action against the page. The returned map becomes the
// ActionResult's ResultData.
type Handler func(ctx context.Context, action *schemas.Action, ectx *ExecutionContext) (map[string]any, error)

// scrollDeltas maps scroll directions to viewport deltas.
var scrollDeltas = map[string][2]float64{
	"down":  {0, 600},
	"up":    {0, -600},
	"right": {600, 0},
	"left":  {-600, 0},
}

func defaultHandlers() map[schemas.ActionType]Handler {
	return map[schemas.ActionType]Handler{
		schemas.ActionNavigate:      handleNavigate,
		schemas.ActionClick:         handleClick,
		schemas.ActionInputText:     handleType,
		schemas.ActionSelect:        handleSelect,
		schemas.ActionHover:         handleHover,
		schemas.ActionScroll:        handleScroll,
		schemas.ActionWait:          handleWait,
		schemas.ActionScreenshot:    handleScreenshot,
		schemas.ActionExtract:       handleExtract,
		schemas.ActionExecuteScript: handleExecuteScript,
		schemas.ActionKeyboard:      handleKeyboard,
		schemas.ActionDrag:          handleDrag,
		schemas.ActionUpload:        handleUpload,
	}
}

// targetSelector produces the locator an element-bound handler acts on:
// the resolved target first, then an explicit selector parameter.
func targetSelector(action *schemas.Action) (string, error) {
	if action.Target != nil {
		if sel := action.Target.Selector(); sel != "" {
			return sel, nil
		}
	}
	if sel := action.StringParam("selector"); sel != "" {
		return sel, nil
	}
	return "", schemas.NewCodedError(schemas.CodeResolution,
		fmt.Sprintf("action %q has no resolved target or selector", action.ID)).
		WithCause(schemas.ErrElementNotFound)
}

func handleNavigate(ctx context.Context, action *schemas.Action, ectx *ExecutionContext) (map[string]any, error) {
	url := action.StringParam("url")
	if url == "" {
		return nil, schemas.NewCodedError(schemas.CodeExecution, "navigate requires a url parameter").WithRetryable(false)
	}
	if err := ectx.Page.Navigate(ctx, url); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}
	return map[string]any{"url": url}, nil
}

func handleClick(ctx context.Context, action *schemas.Action, ectx *ExecutionContext) (map[string]any, error) {
	selector, err := targetSelector(action)
	if err != nil {
		// A vision-resolved target may carry coordinates but no locator.
		if action.Target != nil {
			if x, y, ok := action.Target.ClickPoint(); ok {
				if perr := ectx.Page.ClickPoint(ctx, x, y); perr != nil {
					return nil, fmt.Errorf("click at (%.0f, %.0f): %w", x, y, perr)
				}
				return map[string]any{"clicked_at": []float64{x, y}}, nil
			}
		}
		return nil, err
	}
	if err := ectx.Page.Click(ctx, selector); err != nil {
		return nil, fmt.Errorf("click %s: %w", selector, err)
	}
	return map[string]any{"selector": selector}, nil
}

func handleType(ctx context.Context, action *schemas.Action, ectx *ExecutionContext) (map[string]any, error) {
	selector, err := targetSelector(action)
	if err != nil {
		return nil, err
	}
	text := action.StringParam("text")
	if err := ectx.Page.Type(ctx, selector, text, action.BoolParam("clear_first")); err != nil {
		return nil, fmt.Errorf("type into %s: %w", selector, err)
	}
	data := map[string]any{"selector": selector, "chars": len(text)}
	if !action.BoolParam("sensitive") {
		data["text"] = text
	}
	return data, nil
}

func handleSelect(ctx context.Context, action *schemas.Action, ectx *ExecutionContext) (map[string]any, error) {
	selector, err := targetSelector(action)
	if err != nil {
		return nil, err
	}
	value := action.StringParam("value")
	if value == "" {
		value = action.StringParam("option")
	}
	if err := ectx.Page.SelectOption(ctx, selector, value); err != nil {
		return nil, fmt.Errorf("select %q in %s: %w", value, selector, err)
	}
	return map[string]any{"selector": selector, "value": value}, nil
}

func handleHover(ctx context.Context, action *schemas.Action, ectx *ExecutionContext) (map[string]any, error) {
	selector, err := targetSelector(action)
	if err != nil {
		return nil, err
	}
	if err := ectx.Page.Hover(ctx, selector); err != nil {
		return nil, fmt.Errorf("hover %s: %w", selector, err)
	}
	return map[string]any{"selector": selector}, nil
}

func handleScroll(ctx context.Context, action *schemas.Action, ectx *ExecutionContext) (map[string]any, error) {
	direction := strings.ToLower(action.StringParam("direction"))
	switch direction {
	case "top":
		if err := ectx.Page.EvaluateScript(ctx, "window.scrollTo(0, 0)", nil); err != nil {
			return nil, err
		}
		return map[string]any{"direction": direction}, nil
	case "bottom":
		if err := ectx.Page.EvaluateScript(ctx, "window.scrollTo(0, document.body.scrollHeight)", nil); err != nil {
			return nil, err
		}
		return map[string]any{"direction": direction}, nil
	}

	dx, dy := floatParam(action, "dx"), floatParam(action, "dy")
	if delta, ok := scrollDeltas[direction]; ok {
		dx, dy = delta[0], delta[1]
	}
	if dx == 0 && dy == 0 {
		dy = scrollDeltas["down"][1]
	}
	if err := ectx.Page.ScrollBy(ctx, dx, dy); err != nil {
		return nil, fmt.Errorf("scroll by (%.0f, %.0f): %w", dx, dy, err)
	}
	return map[string]any{"dx": dx, "dy": dy}, nil
}

func handleWait(ctx context.Context, action *schemas.Action, ectx *ExecutionContext) (map[string]any, error) {
	if selector := action.StringParam("selector"); selector != "" {
		if err := ectx.Page.WaitForSelector(ctx, selector); err != nil {
			return nil, fmt.Errorf("wait for %s: %w", selector, err)
		}
		return map[string]any{"selector": selector}, nil
	}

	d := durationParam(action, "duration", time.Second)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return map[string]any{"waited": d.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func handleScreenshot(ctx context.Context, action *schemas.Action, ectx *ExecutionContext) (map[string]any, error) {
	shot, err := ectx.Page.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return map[string]any{
		"bytes":      len(shot),
		"png_base64": base64.StdEncoding.EncodeToString(shot),
	}, nil
}

func handleExtract(ctx context.Context, action *schemas.Action, ectx *ExecutionContext) (map[string]any, error) {
	selector := action.StringParam("selector")
	if selector == "" && action.Target != nil {
		selector = action.Target.Selector()
	}
	if selector != "" {
		elements, err := ectx.Page.QueryAll(ctx, selector)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", selector, err)
		}
		texts := make([]string, 0, len(elements))
		for _, el := range elements {
			if el.Text != "" {
				texts = append(texts, el.Text)
			}
		}
		return map[string]any{"selector": selector, "count": len(elements), "texts": texts}, nil
	}

	body, err := ectx.Page.TextContent(ctx, "body")
	if err != nil {
		return nil, fmt.Errorf("extract page text: %w", err)
	}
	return map[string]any{"text": body}, nil
}

func handleExecuteScript(ctx context.Context, action *schemas.Action, ectx *ExecutionContext) (map[string]any, error) {
	script := action.StringParam("script")
	if script == "" {
		return nil, schemas.NewCodedError(schemas.CodeExecution, "execute_script requires a script parameter").WithRetryable(false)
	}
	var out any
	if err := ectx.Page.EvaluateScript(ctx, script, &out); err != nil {
		return nil, fmt.Errorf("execute script: %w", err)
	}
	return map[string]any{"result": out}, nil
}

func handleKeyboard(ctx context.Context, action *schemas.Action, ectx *ExecutionContext) (map[string]any, error) {
	key := action.StringParam("key")
	if key == "" {
		return nil, schemas.NewCodedError(schemas.CodeExecution, "keyboard requires a key parameter").WithRetryable(false)
	}
	if err := ectx.Page.PressKey(ctx, key); err != nil {
		return nil, fmt.Errorf("press %q: %w", key, err)
	}
	return map[string]any{"key": key}, nil
}

func handleDrag(ctx context.Context, action *schemas.Action, ectx *ExecutionContext) (map[string]any, error) {
	fromX, fromY := floatParam(action, "from_x"), floatParam(action, "from_y")
	if action.Target != nil {
		if x, y, ok := action.Target.ClickPoint(); ok {
			fromX, fromY = x, y
		}
	}
	toX, toY := floatParam(action, "to_x"), floatParam(action, "to_y")
	if err := ectx.Page.DragAndDrop(ctx, fromX, fromY, toX, toY); err != nil {
		return nil, fmt.Errorf("drag (%.0f, %.0f) -> (%.0f, %.0f): %w", fromX, fromY, toX, toY, err)
	}
	return map[string]any{"from": []float64{fromX, fromY}, "to": []float64{toX, toY}}, nil
}

func handleUpload(ctx context.Context, action *schemas.Action, ectx *ExecutionContext) (map[string]any, error) {
	selector, err := targetSelector(action)
	if err != nil {
		return nil, err
	}
	paths := stringSliceParam(action, "paths")
	if len(paths) == 0 {
		paths = stringSliceParam(action, "files")
	}
	if len(paths) == 0 {
		return nil, schemas.NewCodedError(schemas.CodeExecution, "upload requires a paths parameter").WithRetryable(false)
	}
	if err := ectx.Page.SetFileInput(ctx, selector, paths); err != nil {
		return nil, fmt.Errorf("upload to %s: %w", selector, err)
	}
	return map[string]any{"selector": selector, "files": len(paths)}, nil
}

func floatParam(action *schemas.Action, name string) float64 {
	switch v := action.Parameters[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

func durationParam(action *schemas.Action, name string, fallback time.Duration) time.Duration {
	switch v := action.Parameters[name].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case float64:
		return time.Duration(v * float64(time.Second))
	case int:
		return time.Duration(v) * time.Second
	}
	return fallback
}

func stringSliceParam(action *schemas.Action, name string) []string {
	switch v := action.Parameters[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}
