// internal/resolver/llm_finder.go
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	tiktoken "github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xanthous9/intentflow/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonBlockRegex extracts a JSON payload from a markdown code fence, which
// models emit even when asked for bare JSON.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

const llmFinderSystemPrompt = `You are an expert at locating elements on web pages.
Given a numbered list of page elements and a description of a target element,
pick the element that best matches the description.
Respond with ONLY a JSON object of this exact shape:
{"index": <element number, or -1 if none match>, "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}`

// llmFinderResponse is the strict reply contract.
type llmFinderResponse struct {
	Index      int     `json:"index"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// LLMStrategy asks a language model to pick the target from the element
// inventory. Calls are rate limited and token budgeted; when the budget is
// tight the inventory is truncated rather than the call skipped.
type LLMStrategy struct {
	llm         schemas.LLMClient
	provider    schemas.PerceptionProvider
	limiter     *rate.Limiter
	encoder     *tiktoken.Tiktoken
	tokenBudget int
	maxElements int
	logger      *zap.Logger
}

// NewLLMStrategy builds the strategy. rateLimit is calls per second.
func NewLLMStrategy(llm schemas.LLMClient, provider schemas.PerceptionProvider, rateLimit float64, burst, tokenBudget, maxElements int, logger *zap.Logger) (*LLMStrategy, error) {
	if llm == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load token encoder: %w", err)
	}
	if rateLimit <= 0 {
		rateLimit = 1
	}
	if burst <= 0 {
		burst = 1
	}
	if maxElements <= 0 {
		maxElements = 50
	}
	return &LLMStrategy{
		llm:         llm,
		provider:    provider,
		limiter:     rate.NewLimiter(rate.Limit(rateLimit), burst),
		encoder:     encoder,
		tokenBudget: tokenBudget,
		maxElements: maxElements,
		logger:      logger.Named("strategy.llm"),
	}, nil
}

func (s *LLMStrategy) Name() string { return "llm" }

func (s *LLMStrategy) Resolve(ctx context.Context, intent schemas.ElementIntent, pctx *PageContext) ([]schemas.PerceptionElement, error) {
	inventory, err := s.inventory(ctx, pctx)
	if err != nil {
		return nil, err
	}
	if len(inventory) == 0 {
		return nil, nil
	}
	if len(inventory) > s.maxElements {
		inventory = inventory[:s.maxElements]
	}

	prompt := s.buildPrompt(intent, inventory)
	if s.tokenBudget > 0 {
		for len(s.encoder.Encode(prompt, nil, nil)) > s.tokenBudget && len(inventory) > 5 {
			inventory = inventory[:len(inventory)/2]
			prompt = s.buildPrompt(intent, inventory)
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	raw, err := s.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: llmFinderSystemPrompt,
		UserPrompt:   prompt,
		Tier:         schemas.TierFast,
		Options: schemas.GenerationOptions{
			Temperature:     0.1,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm element finder: %w", err)
	}

	resp, err := parseFinderResponse(raw)
	if err != nil {
		return nil, err
	}
	if resp.Index < 0 || resp.Index >= len(inventory) {
		s.logger.Debug("LLM found no matching element",
			zap.Int("index", resp.Index),
			zap.String("reasoning", resp.Reasoning),
		)
		return nil, nil
	}

	chosen := inventory[resp.Index]
	if resp.Confidence > 0 {
		chosen.Confidence = resp.Confidence
	}
	// The inventory may predate a page mutation; confirm the pick is live.
	if pctx.Page != nil && chosen.Selector != "" {
		live, err := pctx.Page.QueryAll(ctx, chosen.Selector)
		if err == nil && len(live) == 0 {
			s.logger.Debug("LLM pick no longer present on page", zap.String("selector", chosen.Selector))
			return nil, nil
		}
	}
	s.logger.Debug("LLM picked element",
		zap.Int("index", resp.Index),
		zap.String("selector", chosen.Selector),
		zap.Float64("confidence", resp.Confidence),
		zap.String("reasoning", resp.Reasoning),
	)
	return []schemas.PerceptionElement{chosen}, nil
}

func (s *LLMStrategy) inventory(ctx context.Context, pctx *PageContext) ([]schemas.PerceptionElement, error) {
	if pctx.Snapshot != nil && len(pctx.Snapshot.Elements) > 0 {
		return pctx.Snapshot.Elements, nil
	}
	if s.provider == nil {
		return nil, nil
	}
	// Unfiltered query: the model does the matching, not the ranker.
	return s.provider.FindElements(ctx, schemas.PerceptionQuery{})
}

func (s *LLMStrategy) buildPrompt(intent schemas.ElementIntent, inventory []schemas.PerceptionElement) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Target element: %s\n", intent.Description)
	if intent.ElementType != "" {
		fmt.Fprintf(&sb, "Expected element type: %s\n", intent.ElementType)
	}
	sb.WriteString("\nPage elements:\n")
	for i, el := range inventory {
		fmt.Fprintf(&sb, "%d. <%s>", i, el.Type)
		if el.Text != "" {
			fmt.Fprintf(&sb, " text=%q", truncate(el.Text, 80))
		}
		if el.Label != "" {
			fmt.Fprintf(&sb, " label=%q", el.Label)
		}
		for _, attr := range []string{"name", "placeholder", "type", "href", "value"} {
			if v := el.Attributes[attr]; v != "" {
				fmt.Fprintf(&sb, " %s=%q", attr, truncate(v, 60))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func parseFinderResponse(raw string) (*llmFinderResponse, error) {
	payload := strings.TrimSpace(raw)
	if m := jsonBlockRegex.FindStringSubmatch(payload); len(m) == 2 {
		payload = m[1]
	}
	var resp llmFinderResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, fmt.Errorf("unparseable finder response: %w", err)
	}
	return &resp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
