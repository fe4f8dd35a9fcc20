// internal/llmclient/vision.go
package llmclient

import (
	"context"
	"fmt"
	"regexp"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xanthous9/intentflow/api/schemas"
	"github.com/xanthous9/intentflow/internal/config"
)

var visionJSON = jsoniter.ConfigCompatibleWithStandardLibrary

var visionBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

const visionSystemPrompt = `You locate UI elements in screenshots of web pages.
Given a screenshot and a description, respond with ONLY a JSON object:
{"found": bool, "type": "button|link|input|...", "text": "visible label", "x": int, "y": int, "width": int, "height": int, "confidence": 0.0-1.0}
x and y are the element's top-left corner in CSS pixels. If the element is not
visible, respond with {"found": false}.`

type visionReply struct {
	Found      bool    `json:"found"`
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
}

// GeminiVision implements schemas.VisionModel with a multimodal Gemini call.
type GeminiVision struct {
	client *genai.Client
	config config.LLMModelConfig
	logger *zap.Logger
}

// NewGeminiVision initializes the vision locator. It reuses the powerful-tier
// model settings since screenshot grounding needs the larger model.
func NewGeminiVision(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiVision, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required; set INTENTFLOW_LLM_API_KEY")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiVision{
		client: client,
		config: cfg,
		logger: logger.Named("llm_client.vision"),
	}, nil
}

// FindElement asks the model to locate the described element in the
// screenshot. A miss is (nil, nil), not an error.
func (v *GeminiVision) FindElement(ctx context.Context, screenshot []byte, description string) (*schemas.PerceptionElement, error) {
	if len(screenshot) == 0 {
		return nil, fmt.Errorf("empty screenshot")
	}

	callCtx := ctx
	if v.config.APITimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, v.config.APITimeout)
		defer cancel()
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(screenshot, "image/png"),
			genai.NewPartFromText(fmt.Sprintf("Locate this element: %s", description)),
		}, genai.RoleUser),
	}
	genCfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(0.1)),
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(visionSystemPrompt, genai.RoleUser),
	}

	resp, err := v.client.Models.GenerateContent(callCtx, v.config.Model, contents, genCfg)
	if err != nil {
		return nil, fmt.Errorf("vision locate call failed: %w", err)
	}

	reply, err := parseVisionReply(resp.Text())
	if err != nil {
		v.logger.Debug("Unparseable vision reply", zap.Error(err))
		return nil, err
	}
	if !reply.Found {
		return nil, nil
	}

	el := &schemas.PerceptionElement{
		Type:          reply.Type,
		Text:          reply.Text,
		Confidence:    reply.Confidence,
		IsVisible:     true,
		IsInteractive: true,
	}
	if reply.Width > 0 && reply.Height > 0 {
		el.BoundingBox = &schemas.BoundingBox{X: reply.X, Y: reply.Y, Width: reply.Width, Height: reply.Height}
	}
	el.ID = el.Fingerprint()
	return el, nil
}

func parseVisionReply(raw string) (*visionReply, error) {
	payload := raw
	if m := visionBlockRegex.FindStringSubmatch(raw); len(m) > 1 {
		payload = m[1]
	}
	var reply visionReply
	if err := visionJSON.UnmarshalFromString(payload, &reply); err != nil {
		return nil, fmt.Errorf("decode vision reply: %w", err)
	}
	return &reply, nil
}

var _ schemas.VisionModel = (*GeminiVision)(nil)
