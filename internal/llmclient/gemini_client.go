// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xanthous9/intentflow/api/schemas"
	"github.com/xanthous9/intentflow/internal/config"
)

// GeminiClient implements schemas.LLMClient over the Google Gemini API.
type GeminiClient struct {
	client *genai.Client
	config config.LLMModelConfig
	logger *zap.Logger
}

// NewGeminiClient initializes the client for one model tier.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required; set INTENTFLOW_LLM_API_KEY")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model name is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: cfg,
		logger: logger.Named("llm_client.gemini"),
	}, nil
}

// Generate sends the prompts to the Gemini API and returns the generated
// content, retrying transient failures with exponential backoff.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	genCfg := c.buildGenerationConfig(req)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var responseContent string

	operation := func() error {
		callCtx := ctx
		if c.config.APITimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.config.APITimeout)
			defer cancel()
		}

		startTime := time.Now()
		resp, err := c.client.Models.GenerateContent(callCtx, c.config.Model, genai.Text(req.UserPrompt), genCfg)
		duration := time.Since(startTime)

		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(fmt.Errorf("gemini request aborted: %w", ctx.Err()))
			}
			c.logger.Warn("Transient error during LLM request, retrying...", zap.Error(err))
			return fmt.Errorf("gemini generate call failed: %w", err)
		}

		text := resp.Text()
		if text == "" {
			// Safety blocks and empty candidates do not get better on retry.
			return backoff.Permanent(fmt.Errorf("gemini API returned no usable candidates"))
		}

		fields := []zap.Field{zap.Duration("duration", duration)}
		if usage := resp.UsageMetadata; usage != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", usage.PromptTokenCount),
				zap.Int32("completion_tokens", usage.CandidatesTokenCount),
				zap.Int32("total_tokens", usage.TotalTokenCount),
			)
		}
		c.logger.Info("LLM generation complete (Gemini)", fields...)

		responseContent = text
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return responseContent, nil
}

// Close releases provider resources. The genai HTTP client holds none.
func (c *GeminiClient) Close() error { return nil }

func (c *GeminiClient) buildGenerationConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	genCfg := &genai.GenerateContentConfig{}

	temperature := req.Options.Temperature
	if temperature == 0 {
		temperature = c.config.Temperature
	}
	genCfg.Temperature = genai.Ptr(float32(temperature))

	topP := req.Options.TopP
	if topP == 0 {
		topP = c.config.TopP
	}
	if topP > 0 {
		genCfg.TopP = genai.Ptr(float32(topP))
	}

	topK := req.Options.TopK
	if topK == 0 {
		topK = c.config.TopK
	}
	if topK > 0 {
		genCfg.TopK = genai.Ptr(float32(topK))
	}

	if c.config.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	if req.Options.ForceJSONFormat {
		genCfg.ResponseMIMEType = "application/json"
	}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	return genCfg
}

var _ schemas.LLMClient = (*GeminiClient)(nil)
