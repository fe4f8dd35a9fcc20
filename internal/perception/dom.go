// internal/perception/dom.go
package perception

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xanthous9/intentflow/api/schemas"
)

// DefaultMaxElements caps how many page elements a single scan returns.
const DefaultMaxElements = 50

// extractInteractiveJS inventories the page's interactive elements. The
// selector list covers the standard actionable tags plus ARIA widgets and
// anything with a click handler.
const extractInteractiveJS = `(() => {
	const selectors = ['a[href]', 'button', 'input', 'select', 'textarea',
		'[role="button"]', '[role="link"]', '[role="textbox"]', '[role="combobox"]',
		'[onclick]', '[tabindex]'];
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
	const kindOf = (el, tag) => {
		if (tag !== 'input') return tag === 'a' ? 'link' : tag;
		const t = (el.getAttribute('type') || 'text').toLowerCase();
		return (t === 'submit' || t === 'button') ? 'button' : 'input';
	};
	const seen = new Set();
	const out = [];
	for (const sel of selectors) {
		for (const el of document.querySelectorAll(sel)) {
			if (seen.has(el)) continue;
			seen.add(el);
			const r = el.getBoundingClientRect();
			const style = window.getComputedStyle(el);
			const visible = r.width > 0 && r.height > 0 &&
				style.visibility !== 'hidden' && style.display !== 'none';
			if (!visible) continue;
			const attrs = {};
			for (const a of el.attributes) attrs[a.name] = a.value;
			const tag = el.tagName.toLowerCase();
			out.push({
				type: kindOf(el, tag),
				selector: bestSelector(el),
				text: (el.innerText || el.value || el.getAttribute('placeholder') || '').trim().slice(0, 200),
				attributes: attrs,
				role: el.getAttribute('role') || '',
				label: el.getAttribute('aria-label') || '',
				bounding_box: {x: r.x, y: r.y, width: r.width, height: r.height},
				is_visible: true,
				is_interactive: true,
				is_disabled: el.disabled === true || el.getAttribute('aria-disabled') === 'true',
				confidence: 1.0
			});
		}
	}
	return out;
})()`

// DOMProvider discovers elements by scanning the live page through the
// driver. It is the cheapest live modality and the first the resolver's
// strategies lean on.
type DOMProvider struct {
	page        schemas.PageDriver
	maxElements int
	logger      *zap.Logger
}

func NewDOMProvider(page schemas.PageDriver, maxElements int, logger *zap.Logger) *DOMProvider {
	if maxElements <= 0 {
		maxElements = DefaultMaxElements
	}
	return &DOMProvider{
		page:        page,
		maxElements: maxElements,
		logger:      logger.Named("perception.dom"),
	}
}

func (p *DOMProvider) Name() string { return "dom" }

// FindElements scans the page and ranks the inventory against the query.
func (p *DOMProvider) FindElements(ctx context.Context, query schemas.PerceptionQuery) ([]schemas.PerceptionElement, error) {
	elements, err := p.scan(ctx)
	if err != nil {
		return nil, err
	}
	ranked := Rank(elements, query)
	if len(ranked) > p.maxElements {
		ranked = ranked[:p.maxElements]
	}
	p.logger.Debug("DOM scan ranked",
		zap.Int("scanned", len(elements)),
		zap.Int("matched", len(ranked)),
		zap.String("description", query.Description),
	)
	return ranked, nil
}

// Snapshot captures the full interactive-element inventory along with the
// page URL, for sharing across concurrently scheduled actions.
func (p *DOMProvider) Snapshot(ctx context.Context) (*schemas.PerceptionSnapshot, error) {
	elements, err := p.scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(elements) > p.maxElements {
		elements = elements[:p.maxElements]
	}
	url, err := p.page.CurrentURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot current URL: %w", err)
	}
	return &schemas.PerceptionSnapshot{
		PageURL:    url,
		Elements:   elements,
		CapturedAt: time.Now(),
	}, nil
}

func (p *DOMProvider) scan(ctx context.Context) ([]schemas.PerceptionElement, error) {
	var elements []schemas.PerceptionElement
	if err := p.page.EvaluateScript(ctx, extractInteractiveJS, &elements); err != nil {
		return nil, fmt.Errorf("dom element scan: %w", err)
	}
	for i := range elements {
		elements[i].ID = elements[i].Fingerprint()
	}
	return elements, nil
}

var _ schemas.PerceptionProvider = (*DOMProvider)(nil)
