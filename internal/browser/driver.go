// internal/browser/driver.go
package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xanthous9/intentflow/api/schemas"
	"github.com/xanthous9/intentflow/internal/config"
)

// Driver drives one browser tab over CDP and implements schemas.PageDriver.
// The tab context is long-lived; each operation is additionally bounded by
// the caller's context.
type Driver struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// run executes chromedp actions on the tab context while honoring the
// caller's cancellation and deadline.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, opCancel := context.WithCancel(d.ctx)
	defer opCancel()

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-ctx.Done():
			opCancel()
		case <-watchdogDone:
		}
	}()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads the URL and waits for the document body to be ready.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	navCtx := ctx
	if d.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, d.cfg.NavigationTimeout)
		defer cancel()
	}
	d.logger.Debug("Navigating", zap.String("url", url))
	return d.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (d *Driver) Click(ctx context.Context, selector string) error {
	return d.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (d *Driver) ClickPoint(ctx context.Context, x, y float64) error {
	return d.run(ctx, chromedp.MouseClickXY(x, y))
}

func (d *Driver) Type(ctx context.Context, selector, text string, clearFirst bool) error {
	actions := []chromedp.Action{
		chromedp.WaitVisible(selector, chromedp.ByQuery),
	}
	if clearFirst {
		actions = append(actions, chromedp.Clear(selector, chromedp.ByQuery))
	}
	actions = append(actions, chromedp.SendKeys(selector, text, chromedp.ByQuery))
	return d.run(ctx, actions...)
}

// Hover dispatches a mouse-move to the element's center. CDP has no native
// hover primitive.
func (d *Driver) Hover(ctx context.Context, selector string) error {
	var box schemas.BoundingBox
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return null;
		el.scrollIntoView({block: 'center', inline: 'center'});
		const r = el.getBoundingClientRect();
		return {x: r.x, y: r.y, width: r.width, height: r.height};
	})()`, selector)
	if err := d.run(ctx, chromedp.Evaluate(script, &box)); err != nil {
		return fmt.Errorf("hover target %q: %w", selector, err)
	}
	if box.Area() == 0 {
		return fmt.Errorf("hover target %q has no visible box", selector)
	}
	return d.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		return input.DispatchMouseEvent(input.MouseMoved, box.CenterX(), box.CenterY()).Do(c)
	}))
}

func (d *Driver) SelectOption(ctx context.Context, selector, value string) error {
	return d.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, value, chromedp.ByQuery),
	)
}

func (d *Driver) ScrollBy(ctx context.Context, dx, dy float64) error {
	script := fmt.Sprintf("window.scrollBy(%f, %f)", dx, dy)
	return d.run(ctx, chromedp.Evaluate(script, nil))
}

func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *Driver) EvaluateScript(ctx context.Context, script string, out any) error {
	return d.run(ctx, chromedp.Evaluate(script, out))
}

func (d *Driver) WaitForSelector(ctx context.Context, selector string) error {
	return d.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (d *Driver) TextContent(ctx context.Context, selector string) (string, error) {
	var text string
	if err := d.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// QueryAll lists the elements matching the CSS selector with enough metadata
// for resolution and verification to work from.
func (d *Driver) QueryAll(ctx context.Context, selector string) ([]schemas.PerceptionElement, error) {
	script := fmt.Sprintf(queryAllJS, selector)
	var elements []schemas.PerceptionElement
	if err := d.run(ctx, chromedp.Evaluate(script, &elements)); err != nil {
		return nil, err
	}
	for i := range elements {
		elements[i].ID = elements[i].Fingerprint()
	}
	return elements, nil
}

func (d *Driver) PressKey(ctx context.Context, key string) error {
	return d.run(ctx, chromedp.KeyEvent(mapKey(key)))
}

// DragAndDrop synthesizes a press-move-release sequence between two points.
func (d *Driver) DragAndDrop(ctx context.Context, fromX, fromY, toX, toY float64) error {
	return d.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		press := input.DispatchMouseEvent(input.MousePressed, fromX, fromY).
			WithButton(input.Left).WithClickCount(1)
		if err := press.Do(c); err != nil {
			return err
		}
		// Intermediate move so drag handlers see motion, not a teleport.
		midX, midY := (fromX+toX)/2, (fromY+toY)/2
		for _, p := range [][2]float64{{midX, midY}, {toX, toY}} {
			move := input.DispatchMouseEvent(input.MouseMoved, p[0], p[1]).
				WithButton(input.Left)
			if err := move.Do(c); err != nil {
				return err
			}
		}
		release := input.DispatchMouseEvent(input.MouseReleased, toX, toY).
			WithButton(input.Left).WithClickCount(1)
		return release.Do(c)
	}))
}

func (d *Driver) SetFileInput(ctx context.Context, selector string, paths []string) error {
	return d.run(ctx, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery))
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (d *Driver) PageHTML(ctx context.Context) (string, error) {
	var html string
	if err := d.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Close releases the tab. The manager also cancels on shutdown; cancelling
// twice is harmless.
func (d *Driver) Close(ctx context.Context) error {
	d.cancel()
	return nil
}

// mapKey translates a friendly key name into the rune sequence chromedp's
// keyboard layer expects.
func mapKey(key string) string {
	switch strings.ToLower(key) {
	case "enter", "return":
		return kb.Enter
	case "tab":
		return kb.Tab
	case "escape", "esc":
		return kb.Escape
	case "backspace":
		return kb.Backspace
	case "delete":
		return kb.Delete
	case "arrowup", "up":
		return kb.ArrowUp
	case "arrowdown", "down":
		return kb.ArrowDown
	case "arrowleft", "left":
		return kb.ArrowLeft
	case "arrowright", "right":
		return kb.ArrowRight
	case "pageup":
		return kb.PageUp
	case "pagedown":
		return kb.PageDown
	case "home":
		return kb.Home
	case "end":
		return kb.End
	default:
		return key
	}
}

// queryAllJS serializes every match of a CSS selector. The selector is
// substituted with %q so quotes inside it stay escaped.
const queryAllJS = `(() => {
	const bestSelector = (el) => {
		if (el.id) return '#' + CSS.escape(el.id);
		const tag = el.tagName.toLowerCase();
		for (const attr of ['name', 'data-testid', 'aria-label']) {
			const v = el.getAttribute(attr);
			if (v) return tag + '[' + attr + '="' + v.replace(/"/g, '\\"') + '"]';
		}
		const parent = el.parentElement;
		if (!parent) return tag;
		const siblings = Array.from(parent.children).filter(c => c.tagName === el.tagName);
		if (siblings.length === 1) return tag;
		return tag + ':nth-of-type(' + (siblings.indexOf(el) + 1) + ')';
	};
	const interactiveTags = new Set(['a', 'button', 'input', 'select', 'textarea', 'option', 'label']);
	const kindOf = (el, tag) => {
		if (tag !== 'input') return tag;
		const t = (el.getAttribute('type') || 'text').toLowerCase();
		return (t === 'submit' || t === 'button') ? 'button' : 'input';
	};
	return Array.from(document.querySelectorAll(%q)).map(el => {
		const r = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		const attrs = {};
		for (const a of el.attributes) attrs[a.name] = a.value;
		const tag = el.tagName.toLowerCase();
		return {
			type: kindOf(el, tag),
			selector: bestSelector(el),
			text: (el.innerText || el.value || '').trim().slice(0, 200),
			attributes: attrs,
			role: el.getAttribute('role') || '',
			label: el.getAttribute('aria-label') || '',
			bounding_box: {x: r.x, y: r.y, width: r.width, height: r.height},
			is_visible: r.width > 0 && r.height > 0 && style.visibility !== 'hidden' && style.display !== 'none',
			is_interactive: interactiveTags.has(tag) || el.hasAttribute('onclick') || el.getAttribute('role') === 'button',
			is_disabled: el.disabled === true || el.getAttribute('aria-disabled') === 'true',
			confidence: 1.0
		};
	});
})()`

var _ schemas.PageDriver = (*Driver)(nil)
