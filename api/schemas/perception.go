// File: api/schemas/perception.go
package schemas

import (
	"fmt"
	"hash/fnv"
	"time"
)

// BoundingBox is an element's position and size in CSS pixels, relative to
// the viewport origin.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CenterX returns the horizontal center of the box.
func (b BoundingBox) CenterX() float64 { return b.X + b.Width/2 }

// CenterY returns the vertical center of the box.
func (b BoundingBox) CenterY() float64 { return b.Y + b.Height/2 }

// Area returns the box area in square pixels.
func (b BoundingBox) Area() float64 { return b.Width * b.Height }

// ContainsPoint reports whether the point lies inside the box.
func (b BoundingBox) ContainsPoint(x, y float64) bool {
	return x >= b.X && x <= b.X+b.Width && y >= b.Y && y <= b.Y+b.Height
}

// PerceptionElement is semantic element data produced by a perception
// provider (DOM scan, accessibility walk, vision model). The resolver ranks
// and wraps these; it never mutates them.
type PerceptionElement struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"` // button, input, link, select, text, ...
	Confidence    float64           `json:"confidence"`
	Selector      string            `json:"selector,omitempty"`
	XPath         string            `json:"xpath,omitempty"`
	Text          string            `json:"text,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Role          string            `json:"role,omitempty"`
	Label         string            `json:"label,omitempty"`
	BoundingBox   *BoundingBox      `json:"bounding_box,omitempty"`
	IsVisible     bool              `json:"is_visible"`
	IsInteractive bool              `json:"is_interactive"`
	IsDisabled    bool              `json:"is_disabled"`
}

// Fingerprint derives a stable ID from the element's identifying traits.
// FNV-64a keeps IDs consistent across repeated scans of an unchanged page.
func (e *PerceptionElement) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s", e.Type, e.Selector, e.Text)
	return fmt.Sprintf("el-%016x", h.Sum64())
}

// PerceptionQuery narrows a FindElements call to a provider.
type PerceptionQuery struct {
	Description         string            `json:"description,omitempty"`
	ElementType         string            `json:"element_type,omitempty"`
	Attributes          map[string]string `json:"attributes,omitempty"`
	ConfidenceThreshold float64           `json:"confidence_threshold,omitempty"`
}

// PerceptionSnapshot is the already-gathered element inventory for the
// current page, shared read-only across concurrently scheduled actions.
// Only the orchestrator refreshes it, between scheduling generations.
type PerceptionSnapshot struct {
	PageURL    string              `json:"page_url"`
	Elements   []PerceptionElement `json:"elements,omitempty"`
	CapturedAt time.Time           `json:"captured_at"`
}

// ResolvedElement is the outcome of element resolution: the chosen page
// element plus confidence and provenance metadata. Read-only after creation.
type ResolvedElement struct {
	Element        PerceptionElement   `json:"element"`
	Confidence     float64             `json:"confidence"`
	Strategy       string              `json:"strategy"`
	ResolutionTime time.Duration       `json:"resolution_time"`
	Alternatives   []PerceptionElement `json:"alternatives,omitempty"`
}

// Selector returns the most actionable locator for the element.
func (r *ResolvedElement) Selector() string {
	if r.Element.Selector != "" {
		return r.Element.Selector
	}
	return r.Element.XPath
}

// Bounds returns the element's bounding box, or nil when unknown.
func (r *ResolvedElement) Bounds() *BoundingBox { return r.Element.BoundingBox }

// ClickPoint returns viewport coordinates suitable for a pointer action, and
// whether such a point is known.
func (r *ResolvedElement) ClickPoint() (x, y float64, ok bool) {
	if r.Element.BoundingBox == nil || r.Element.BoundingBox.Area() == 0 {
		return 0, 0, false
	}
	return r.Element.BoundingBox.CenterX(), r.Element.BoundingBox.CenterY(), true
}
