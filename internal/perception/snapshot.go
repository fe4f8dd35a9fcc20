// internal/perception/snapshot.go
package perception

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/xanthous9/intentflow/api/schemas"
)

// interactiveTags are the tags the static walker treats as actionable.
var interactiveTags = map[string]bool{
	"a": true, "button": true, "input": true,
	"select": true, "textarea": true,
}

// StaticProvider answers perception queries from a parsed HTML document
// instead of a live page. It backs offline resolution (cached page HTML)
// and test fixtures; it never sees layout, so bounding boxes are absent.
type StaticProvider struct {
	pageURL  string
	elements []schemas.PerceptionElement
}

// NewStaticProvider parses the document and builds the element inventory.
func NewStaticProvider(pageHTML, pageURL string) (*StaticProvider, error) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("parse page HTML: %w", err)
	}
	p := &StaticProvider{pageURL: pageURL}
	p.walk(doc)
	return p, nil
}

func (p *StaticProvider) Name() string { return "static" }

func (p *StaticProvider) FindElements(_ context.Context, query schemas.PerceptionQuery) ([]schemas.PerceptionElement, error) {
	return Rank(p.elements, query), nil
}

// Snapshot exposes the full parsed inventory.
func (p *StaticProvider) Snapshot() *schemas.PerceptionSnapshot {
	return &schemas.PerceptionSnapshot{
		PageURL:    p.pageURL,
		Elements:   p.elements,
		CapturedAt: time.Now(),
	}
}

func (p *StaticProvider) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		if el, ok := p.buildElement(n); ok {
			p.elements = append(p.elements, el)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.walk(c)
	}
}

func (p *StaticProvider) buildElement(n *html.Node) (schemas.PerceptionElement, bool) {
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}

	interactive := interactiveTags[n.Data] || attrs["onclick"] != "" ||
		attrs["role"] == "button" || attrs["role"] == "link"
	if !interactive {
		return schemas.PerceptionElement{}, false
	}
	if n.Data == "input" && attrs["type"] == "hidden" {
		return schemas.PerceptionElement{}, false
	}

	el := schemas.PerceptionElement{
		Type:          elementKind(n.Data, attrs),
		Selector:      buildSelector(n, attrs),
		Text:          nodeText(n, attrs),
		Attributes:    attrs,
		Role:          attrs["role"],
		Label:         attrs["aria-label"],
		IsVisible:     true, // Static parsing cannot see CSS; assume visible.
		IsInteractive: true,
		IsDisabled:    hasAttr(attrs, "disabled") || attrs["aria-disabled"] == "true",
	}
	el.ID = el.Fingerprint()
	return el, true
}

func elementKind(tag string, attrs map[string]string) string {
	switch tag {
	case "a":
		return "link"
	case "input":
		switch strings.ToLower(attrs["type"]) {
		case "submit", "button":
			return "button"
		default:
			return "input"
		}
	default:
		return tag
	}
}

func buildSelector(n *html.Node, attrs map[string]string) string {
	if id := attrs["id"]; id != "" {
		return "#" + id
	}
	for _, attr := range []string{"name", "data-testid", "aria-label"} {
		if v := attrs[attr]; v != "" {
			return fmt.Sprintf("%s[%s=%q]", n.Data, attr, v)
		}
	}
	// Position among same-tag siblings as the fallback locator.
	if n.Parent != nil {
		idx, total := 0, 0
		for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == n.Data {
				total++
				if c == n {
					idx = total
				}
			}
		}
		if total > 1 {
			return fmt.Sprintf("%s:nth-of-type(%d)", n.Data, idx)
		}
	}
	return n.Data
}

func nodeText(n *html.Node, attrs map[string]string) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	text := strings.Join(strings.Fields(sb.String()), " ")
	if text == "" {
		if v := attrs["value"]; v != "" {
			text = v
		} else if ph := attrs["placeholder"]; ph != "" {
			text = ph
		}
	}
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func hasAttr(attrs map[string]string, key string) bool {
	_, ok := attrs[key]
	return ok
}

var _ schemas.PerceptionProvider = (*StaticProvider)(nil)
