// File: api/schemas/interfaces.go
package schemas

import (
	"context"
)

// -- Page Driver --

// PageDriver is the abstract browser-control capability the engine acts
// through. Implementations own the transport (CDP, remote grid, fake);
// the engine never touches a browser directly.
type PageDriver interface {
	Navigate(ctx context.Context, url string) error                               // Loads a URL and waits for the page to settle.
	Click(ctx context.Context, selector string) error                             // Clicks the element matching the selector.
	ClickPoint(ctx context.Context, x, y float64) error                           // Clicks at viewport coordinates.
	Type(ctx context.Context, selector, text string, clearFirst bool) error       // Types text into an element.
	Hover(ctx context.Context, selector string) error                             // Moves the pointer over an element.
	SelectOption(ctx context.Context, selector, value string) error               // Chooses an option in a select element.
	ScrollBy(ctx context.Context, dx, dy float64) error                           // Scrolls the viewport by a delta.
	Screenshot(ctx context.Context) ([]byte, error)                               // Captures the viewport as PNG bytes.
	EvaluateScript(ctx context.Context, script string, out any) error             // Evaluates JavaScript, decoding the result into out.
	WaitForSelector(ctx context.Context, selector string) error                   // Blocks until the selector is present and visible.
	TextContent(ctx context.Context, selector string) (string, error)             // Returns an element's text content.
	QueryAll(ctx context.Context, selector string) ([]PerceptionElement, error)   // Lists elements matching the selector.
	PressKey(ctx context.Context, key string) error                               // Presses a key or chord (e.g. "Enter").
	DragAndDrop(ctx context.Context, fromX, fromY, toX, toY float64) error        // Drags between two viewport points.
	SetFileInput(ctx context.Context, selector string, paths []string) error      // Sets files on a file input element.
	CurrentURL(ctx context.Context) (string, error)                               // Returns the page's current URL.
	PageHTML(ctx context.Context) (string, error)                                 // Returns the serialized document.
	Close(ctx context.Context) error                                              // Releases the underlying tab/session.
}

// -- Perception --

// PerceptionProvider exposes one modality of element discovery (DOM scan,
// accessibility walk, vision). The resolver's strategies call into zero or
// more providers; providers never act on the page.
type PerceptionProvider interface {
	// FindElements returns candidate elements for the query, best first.
	// An empty slice with a nil error means "nothing matched".
	FindElements(ctx context.Context, query PerceptionQuery) ([]PerceptionElement, error)
	// Name identifies the modality for logging and metrics.
	Name() string
}

// VisionModel locates elements from pixels. Consumed by the vision-assisted
// resolution strategy and the visual_match verification check.
type VisionModel interface {
	// FindElement locates the described element in the screenshot, or
	// returns (nil, nil) when it cannot.
	FindElement(ctx context.Context, screenshot []byte, description string) (*PerceptionElement, error)
}

// -- LLM Client --

// ModelTier selects a large language model by a preference for speed versus
// capability.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, cheaper model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable model.
)

// GenerationOptions tunes one text-generation call.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`
	TopK            int     `json:"top_k"`
}

// GenerationRequest encapsulates a complete request to the LLM.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient abstracts a large language model provider.
type LLMClient interface {
	// Generate produces a text completion for the request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases provider resources.
	Close() error
}
