// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xanthous9/intentflow/api/schemas"
	"github.com/xanthous9/intentflow/internal/config"
)

// NewClient builds the tiered LLM client stack from configuration: one client
// per tier behind a router.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		fast, err := NewGeminiClient(ctx, cfg.Fast, logger)
		if err != nil {
			return nil, fmt.Errorf("fast tier: %w", err)
		}
		powerful, err := NewGeminiClient(ctx, cfg.Powerful, logger)
		if err != nil {
			return nil, fmt.Errorf("powerful tier: %w", err)
		}
		return NewLLMRouter(logger, fast, powerful)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}
