// internal/intent/analyzer.go
package intent

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xanthous9/intentflow/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonBlockRegex strips the markdown fence models wrap JSON in.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

const decomposeSystemPrompt = `You decompose browser automation tasks into structured intents.
Respond with ONLY a JSON object of this exact shape:
{
  "type": "navigation|form_fill|authentication|search|interaction|extraction|verification|composite",
  "primary_goal": "<one sentence>",
  "sub_intents": [
    {
      "id": "step_1",
      "description": "<what this step does>",
      "type": "<same enum as above>",
      "parameters": {"url": "...", "query": "...", "text": "..."},
      "dependencies": ["step_ids this step waits for"]
    }
  ],
  "success_criteria": [
    {"type": "url_matches|text_present|element_visible", "expected": "..."}
  ]
}
Use only parameters the task actually provides. Steps that can start
immediately have empty dependencies.`

// decomposedIntent is the LLM reply contract.
type decomposedIntent struct {
	Type            string              `json:"type"`
	PrimaryGoal     string              `json:"primary_goal"`
	SubIntents      []decomposedSub     `json:"sub_intents"`
	SuccessCriteria []decomposedCriteria `json:"success_criteria"`
}

type decomposedSub struct {
	ID           string         `json:"id"`
	Description  string         `json:"description"`
	Type         string         `json:"type"`
	Parameters   map[string]any `json:"parameters"`
	Dependencies []string       `json:"dependencies"`
}

type decomposedCriteria struct {
	Type     string `json:"type"`
	Expected any    `json:"expected"`
}

// Analyzer turns a free-text task into a structured Intent. Cheap keyword
// patterns answer single-step tasks locally; everything else goes through
// the LLM, with a degraded single-step fallback when that fails.
type Analyzer struct {
	llm    schemas.LLMClient
	logger *zap.Logger
}

func NewAnalyzer(llm schemas.LLMClient, logger *zap.Logger) *Analyzer {
	return &Analyzer{llm: llm, logger: logger.Named("intent.analyzer")}
}

// Analyze builds the intent for a task. contextData is carried through to
// Intent.Context untouched.
func (a *Analyzer) Analyze(ctx context.Context, task string, contextData map[string]any) (*schemas.Intent, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, fmt.Errorf("empty task description")
	}

	if p := MatchQuickPattern(task); p != nil {
		a.logger.Debug("Quick pattern matched", zap.String("type", string(p.IntentType)))
		return a.quickIntent(task, p, contextData), nil
	}

	if a.llm == nil {
		a.logger.Debug("No LLM configured; using fallback intent")
		return a.fallbackIntent(task, contextData), nil
	}

	intent, err := a.decompose(ctx, task, contextData)
	if err != nil {
		a.logger.Warn("LLM decomposition failed; degrading to single-step intent", zap.Error(err))
		return a.fallbackIntent(task, contextData), nil
	}
	return intent, nil
}

func (a *Analyzer) quickIntent(task string, p *IntentPattern, contextData map[string]any) *schemas.Intent {
	intent := schemas.NewIntent(task, p.IntentType)
	intent.Priority = p.Priority
	intent.PrimaryGoal = task
	intent.Context = contextData

	sub := schemas.SubIntent{
		ID:          "step_1",
		Description: task,
		Type:        p.IntentType,
	}
	switch p.IntentType {
	case schemas.IntentNavigation:
		if url := urlRegex.FindString(task); url != "" {
			sub.Parameters = append(sub.Parameters, schemas.IntentParameter{
				Name: "url", Value: EnsureScheme(url), Type: "string", Required: true,
			})
		}
	case schemas.IntentSearch:
		if q := ExtractSearchQuery(task); q != "" {
			sub.Parameters = append(sub.Parameters, schemas.IntentParameter{
				Name: "query", Value: q, Type: "string", Required: true,
			})
		}
	}
	intent.SubIntents = []schemas.SubIntent{sub}
	return intent
}

func (a *Analyzer) fallbackIntent(task string, contextData map[string]any) *schemas.Intent {
	intent := schemas.NewIntent(task, schemas.IntentInteraction)
	intent.PrimaryGoal = task
	intent.Context = contextData
	intent.SubIntents = []schemas.SubIntent{{
		ID:          "step_1",
		Description: task,
		Type:        schemas.IntentInteraction,
	}}
	return intent
}

func (a *Analyzer) decompose(ctx context.Context, task string, contextData map[string]any) (*schemas.Intent, error) {
	raw, err := a.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: decomposeSystemPrompt,
		UserPrompt:   fmt.Sprintf("Task: %s", task),
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     0.2,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decomposition call: %w", err)
	}

	payload := strings.TrimSpace(raw)
	if m := jsonBlockRegex.FindStringSubmatch(payload); len(m) == 2 {
		payload = m[1]
	}
	var dec decomposedIntent
	if err := json.Unmarshal([]byte(payload), &dec); err != nil {
		return nil, fmt.Errorf("unparseable decomposition: %w", err)
	}
	if len(dec.SubIntents) == 0 {
		return nil, fmt.Errorf("decomposition produced no sub-intents")
	}

	intent := schemas.NewIntent(task, normalizeIntentType(dec.Type))
	intent.PrimaryGoal = dec.PrimaryGoal
	intent.Context = contextData

	known := make(map[string]bool, len(dec.SubIntents))
	for _, s := range dec.SubIntents {
		known[s.ID] = true
	}
	for i, s := range dec.SubIntents {
		id := s.ID
		if id == "" {
			id = fmt.Sprintf("step_%d", i+1)
		}
		sub := schemas.SubIntent{
			ID:          id,
			Description: s.Description,
			Type:        normalizeIntentType(s.Type),
		}
		for _, dep := range s.Dependencies {
			if known[dep] && dep != id {
				sub.Dependencies = append(sub.Dependencies, dep)
			}
		}
		sub.Parameters = toParameters(s.Parameters)
		intent.SubIntents = append(intent.SubIntents, sub)
	}

	for _, c := range dec.SuccessCriteria {
		if c.Type == "" {
			continue
		}
		intent.SuccessCriteria = append(intent.SuccessCriteria, schemas.SuccessCriteria{
			Type:     c.Type,
			Expected: c.Expected,
		})
	}
	return intent, nil
}

var validIntentTypes = map[schemas.IntentType]bool{
	schemas.IntentNavigation:     true,
	schemas.IntentFormFill:       true,
	schemas.IntentAuthentication: true,
	schemas.IntentSearch:         true,
	schemas.IntentInteraction:    true,
	schemas.IntentExtraction:     true,
	schemas.IntentVerification:   true,
	schemas.IntentComposite:      true,
	schemas.IntentCustom:         true,
}

func normalizeIntentType(raw string) schemas.IntentType {
	t := schemas.IntentType(strings.ToLower(strings.TrimSpace(raw)))
	if validIntentTypes[t] {
		return t
	}
	return schemas.IntentInteraction
}

var sensitiveParamRegex = regexp.MustCompile(`(?i)password|secret|token|api_?key`)

func toParameters(params map[string]any) []schemas.IntentParameter {
	if len(params) == 0 {
		return nil
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	// Deterministic parameter order keeps plans reproducible.
	sort.Strings(names)
	out := make([]schemas.IntentParameter, 0, len(names))
	for _, name := range names {
		value := params[name]
		out = append(out, schemas.IntentParameter{
			Name:      name,
			Value:     value,
			Type:      paramType(value),
			Sensitive: sensitiveParamRegex.MatchString(name),
		})
	}
	return out
}

func paramType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "map"
	default:
		return "string"
	}
}
