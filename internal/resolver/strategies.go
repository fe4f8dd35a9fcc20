// internal/resolver/strategies.go
package resolver

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xanthous9/intentflow/api/schemas"
	"github.com/xanthous9/intentflow/internal/perception"
)

// heuristicPatterns maps description keywords to the selectors that almost
// always locate that kind of element. Ordered by specificity.
var heuristicPatterns = []struct {
	keywords  []string
	selectors []string
}{
	{
		keywords: []string{"username", "user name", "email", "login field"},
		selectors: []string{
			`input[name="username"]`, `input[name="email"]`, `input[type="email"]`,
			`#username`, `#email`, `input[name="login"]`, `input[autocomplete="username"]`,
		},
	},
	{
		keywords: []string{"password"},
		selectors: []string{
			`input[type="password"]`, `input[name="password"]`, `#password`,
		},
	},
	{
		keywords: []string{"search"},
		selectors: []string{
			`input[type="search"]`, `input[name="q"]`, `input[name="query"]`,
			`input[name="search"]`, `#search`, `input[placeholder*="earch"]`,
		},
	},
	{
		keywords: []string{"submit", "login button", "sign in", "log in", "continue"},
		selectors: []string{
			`button[type="submit"]`, `input[type="submit"]`, `#login-btn`, `#submit`,
		},
	},
}

// HeuristicStrategy resolves from structural hints and well-known selector
// patterns without any model call. It is the cheapest strategy and runs
// first.
type HeuristicStrategy struct {
	logger *zap.Logger
}

func NewHeuristicStrategy(logger *zap.Logger) *HeuristicStrategy {
	return &HeuristicStrategy{logger: logger.Named("strategy.heuristic")}
}

func (s *HeuristicStrategy) Name() string { return "heuristic" }

func (s *HeuristicStrategy) Resolve(ctx context.Context, intent schemas.ElementIntent, pctx *PageContext) ([]schemas.PerceptionElement, error) {
	for _, selector := range s.candidateSelectors(intent) {
		els, err := s.query(ctx, selector, pctx)
		if err != nil {
			continue
		}
		for i := range els {
			if !els[i].IsVisible && intent.VisibleOnly {
				continue
			}
			if els[i].IsDisabled && !intent.IncludeDisabled {
				continue
			}
			return els[i : i+1], nil
		}
	}
	return nil, nil
}

// candidateSelectors orders explicit hints before keyword patterns: a caller
// who already knows a selector should win immediately.
func (s *HeuristicStrategy) candidateSelectors(intent schemas.ElementIntent) []string {
	var out []string
	if intent.CSSSelector != "" {
		out = append(out, intent.CSSSelector)
	}
	if intent.TestID != "" {
		out = append(out, fmt.Sprintf(`[data-testid=%q]`, intent.TestID))
	}
	if intent.AriaLabel != "" {
		out = append(out, fmt.Sprintf(`[aria-label=%q]`, intent.AriaLabel))
	}
	desc := strings.ToLower(intent.Description)
	for _, pattern := range heuristicPatterns {
		for _, kw := range pattern.keywords {
			if strings.Contains(desc, kw) {
				out = append(out, pattern.selectors...)
				break
			}
		}
	}
	return out
}

func (s *HeuristicStrategy) query(ctx context.Context, selector string, pctx *PageContext) ([]schemas.PerceptionElement, error) {
	if pctx.Page != nil {
		return pctx.Page.QueryAll(ctx, selector)
	}
	if pctx.Snapshot != nil {
		return matchSnapshotSelector(selector, pctx.Snapshot.Elements), nil
	}
	return nil, nil
}

// matchSnapshotSelector evaluates the simple selector shapes the heuristic
// table emits (#id, tag, tag[attr="val"], [attr="val"]) against an already
// captured inventory.
func matchSnapshotSelector(selector string, elements []schemas.PerceptionElement) []schemas.PerceptionElement {
	tag, attrKey, attrVal, id, ok := parseSimpleSelector(selector)
	if !ok {
		// Fall back to exact selector equality for anything fancier.
		var out []schemas.PerceptionElement
		for _, el := range elements {
			if el.Selector == selector {
				out = append(out, el)
			}
		}
		return out
	}

	var out []schemas.PerceptionElement
	for _, el := range elements {
		if id != "" && el.Attributes["id"] != id {
			continue
		}
		if tag != "" && !tagMatches(el, tag) {
			continue
		}
		if attrKey != "" && el.Attributes[attrKey] != attrVal {
			continue
		}
		out = append(out, el)
	}
	return out
}

func tagMatches(el schemas.PerceptionElement, tag string) bool {
	if el.Type == tag {
		return true
	}
	// Inventory kinds normalize tags: a -> link, input[submit] -> button.
	switch tag {
	case "a":
		return el.Type == "link"
	case "input":
		return el.Type == "input" || el.Type == "button"
	case "button":
		return el.Type == "button"
	}
	return false
}

func parseSimpleSelector(selector string) (tag, attrKey, attrVal, id string, ok bool) {
	if strings.HasPrefix(selector, "#") {
		rest := selector[1:]
		if !strings.ContainsAny(rest, " >[:.") {
			return "", "", "", rest, true
		}
		return "", "", "", "", false
	}
	open := strings.Index(selector, "[")
	if open == -1 {
		if selector != "" && !strings.ContainsAny(selector, " >:.") {
			return selector, "", "", "", true
		}
		return "", "", "", "", false
	}
	if !strings.HasSuffix(selector, "]") {
		return "", "", "", "", false
	}
	tag = selector[:open]
	inner := selector[open+1 : len(selector)-1]
	eq := strings.Index(inner, "=")
	if eq == -1 || strings.Contains(inner, "*") || strings.Contains(inner, "^") {
		return "", "", "", "", false
	}
	attrKey = inner[:eq]
	attrVal = strings.Trim(inner[eq+1:], `"'`)
	return tag, attrKey, attrVal, "", true
}

// DOMStrategy ranks the perceived element inventory against the description.
// It prefers the shared snapshot when one is available and only then falls
// back to a live provider scan.
type DOMStrategy struct {
	provider schemas.PerceptionProvider
	logger   *zap.Logger
}

func NewDOMStrategy(provider schemas.PerceptionProvider, logger *zap.Logger) *DOMStrategy {
	return &DOMStrategy{provider: provider, logger: logger.Named("strategy.dom")}
}

func (s *DOMStrategy) Name() string { return "dom" }

func (s *DOMStrategy) Resolve(ctx context.Context, intent schemas.ElementIntent, pctx *PageContext) ([]schemas.PerceptionElement, error) {
	query := schemas.PerceptionQuery{
		Description:         intent.Description,
		ElementType:         intent.ElementType,
		Attributes:          intent.Attributes,
		ConfidenceThreshold: 0.5,
	}

	if pctx.Snapshot != nil && len(pctx.Snapshot.Elements) > 0 {
		if ranked := perception.Rank(pctx.Snapshot.Elements, query); len(ranked) > 0 {
			return ranked, nil
		}
	}
	if s.provider == nil {
		return nil, nil
	}
	return s.provider.FindElements(ctx, query)
}

// VisionStrategy locates elements from a screenshot. Most expensive, last in
// the chain, and only registered when a vision model is configured.
type VisionStrategy struct {
	model  schemas.VisionModel
	logger *zap.Logger
}

func NewVisionStrategy(model schemas.VisionModel, logger *zap.Logger) *VisionStrategy {
	return &VisionStrategy{model: model, logger: logger.Named("strategy.vision")}
}

func (s *VisionStrategy) Name() string { return "vision" }

func (s *VisionStrategy) Resolve(ctx context.Context, intent schemas.ElementIntent, pctx *PageContext) ([]schemas.PerceptionElement, error) {
	if s.model == nil || pctx.Page == nil {
		return nil, nil
	}
	shot, err := pctx.Page.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("vision screenshot: %w", err)
	}
	el, err := s.model.FindElement(ctx, shot, intent.Description)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, nil
	}
	if el.ID == "" {
		el.ID = el.Fingerprint()
	}
	return []schemas.PerceptionElement{*el}, nil
}
